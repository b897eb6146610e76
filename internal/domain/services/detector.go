package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"corrlab/internal/domain/models"
	"corrlab/pkg/logger"
)

// detectionLockKey scopes the single-writer critical section for all
// campaign-mutating operations.
const detectionLockKey = "campaign-detection"

// DetectorConfig holds campaign detection policy
type DetectorConfig struct {
	CampaignDetectionThreshold float64
	CampaignMergeThreshold     float64
	InactivityWindow           time.Duration
	RecentEdgeBias             float64
	LockTTL                    time.Duration
}

// Detector groups correlated flows into campaigns, updates existing
// campaigns incrementally, and auto-merges near-duplicate campaigns.
// Campaign mutation is serialized through the Locker; reads elsewhere
// proceed against last-committed state without blocking.
type Detector struct {
	campaigns    CampaignStore
	correlations CorrelationStore
	flows        FlowSource
	matcher      *Matcher
	locker       Locker
	events       EventPublisher
	logger       *logger.Logger

	threshold       float64
	mergeThreshold  float64
	inactivityAfter time.Duration
	recentEdgeBias  float64
	lockTTL         time.Duration
}

// NewDetector creates a new Detector. events may be nil.
func NewDetector(campaigns CampaignStore, correlations CorrelationStore, flows FlowSource, matcher *Matcher, locker Locker, events EventPublisher, cfg DetectorConfig, log *logger.Logger) *Detector {
	if cfg.CampaignDetectionThreshold <= 0 {
		cfg.CampaignDetectionThreshold = 0.65
	}
	if cfg.CampaignMergeThreshold <= 0 {
		cfg.CampaignMergeThreshold = 0.85
	}
	if cfg.InactivityWindow <= 0 {
		cfg.InactivityWindow = 30 * 24 * time.Hour
	}
	if cfg.RecentEdgeBias < 0 {
		cfg.RecentEdgeBias = 0.1
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * time.Minute
	}
	return &Detector{
		campaigns:       campaigns,
		correlations:    correlations,
		flows:           flows,
		matcher:         matcher,
		locker:          locker,
		events:          events,
		logger:          log.WithComponent("detector"),
		threshold:       cfg.CampaignDetectionThreshold,
		mergeThreshold:  cfg.CampaignMergeThreshold,
		inactivityAfter: cfg.InactivityWindow,
		recentEdgeBias:  cfg.RecentEdgeBias,
		lockTTL:         cfg.LockTTL,
	}
}

// DetectCampaigns clusters correlated flows into campaigns. Flows
// connect when their correlation score reaches the detection threshold;
// connected components of two or more flows become campaigns. Flows
// touching an existing open campaign are incorporated into it rather
// than fragmenting into a new one.
func (d *Detector) DetectCampaigns(ctx context.Context) (*models.DetectionOutcome, error) {
	release, err := d.locker.Acquire(ctx, detectionLockKey, d.lockTTL)
	if err != nil {
		return nil, err
	}
	defer release()

	edges, err := d.correlations.Query(ctx, d.threshold, nil)
	if err != nil {
		return nil, &models.PersistenceError{Op: "query correlations", Err: err}
	}

	components := connectedComponents(edges)

	open, err := d.campaigns.List(ctx, models.CampaignStatusActive, models.CampaignStatusMonitoring)
	if err != nil {
		return nil, &models.PersistenceError{Op: "list campaigns", Err: err}
	}

	outcome := &models.DetectionOutcome{}
	updated := make(map[uuid.UUID]*models.Campaign)

	for _, members := range components {
		target := pickIncorporationTarget(open, members)
		if target != nil {
			changed, err := d.incorporate(ctx, target, members)
			if err != nil {
				return nil, err
			}
			if changed {
				updated[target.ID] = target
			}
			continue
		}

		if len(members) < 2 {
			continue
		}
		campaign, err := d.createCampaign(ctx, members)
		if err != nil {
			return nil, err
		}
		outcome.NewCampaigns = append(outcome.NewCampaigns, campaign)
		open = append(open, campaign)
	}

	for _, c := range updated {
		outcome.UpdatedCampaigns = append(outcome.UpdatedCampaigns, c)
	}
	sort.Slice(outcome.UpdatedCampaigns, func(i, j int) bool {
		return outcome.UpdatedCampaigns[i].ID.String() < outcome.UpdatedCampaigns[j].ID.String()
	})

	if err := d.autoMerge(ctx); err != nil {
		return nil, err
	}
	if err := d.sweepInactive(ctx); err != nil {
		return nil, err
	}

	d.logger.Info().
		Int("components", len(components)).
		Int("new_campaigns", len(outcome.NewCampaigns)).
		Int("updated_campaigns", len(outcome.UpdatedCampaigns)).
		Msg("campaign detection complete")

	return outcome, nil
}

// MergeCampaigns merges the source campaign into the target: the target
// absorbs all flows, indicators, and TTPs, while the source is archived
// with a back-reference. Serialized against concurrent detector runs.
func (d *Detector) MergeCampaigns(ctx context.Context, sourceID, targetID uuid.UUID, reason string) (*models.Campaign, error) {
	if sourceID == targetID {
		return nil, &models.ValidationError{Field: "campaign_ids", Reason: "cannot merge a campaign into itself"}
	}

	release, err := d.locker.Acquire(ctx, detectionLockKey, d.lockTTL)
	if err != nil {
		return nil, err
	}
	defer release()

	return d.mergeLocked(ctx, sourceID, targetID, reason)
}

func (d *Detector) mergeLocked(ctx context.Context, sourceID, targetID uuid.UUID, reason string) (*models.Campaign, error) {
	source, err := d.campaigns.GetByID(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	target, err := d.campaigns.GetByID(ctx, targetID)
	if err != nil {
		return nil, err
	}

	if source.Status == models.CampaignStatusArchived {
		return nil, &models.ValidationError{Field: "source_id", Reason: "campaign is already archived"}
	}
	if target.Status == models.CampaignStatusArchived {
		return nil, &models.ValidationError{Field: "target_id", Reason: "cannot merge into an archived campaign"}
	}

	target.RelatedFlows = unionStrings(target.RelatedFlows, source.RelatedFlows)
	target.Tags = unionStrings(target.Tags, source.Tags)
	if target.SuspectedActor == "" {
		target.SuspectedActor = source.SuspectedActor
	}
	if err := d.refresh(ctx, target); err != nil {
		return nil, err
	}
	if err := d.campaigns.Update(ctx, target); err != nil {
		return nil, err
	}

	if reason == "" {
		reason = "merged by operator"
	}
	if err := d.appendEvent(ctx, target.ID, models.TimelineEventCampaignMerged,
		fmt.Sprintf("absorbed campaign %s: %s", source.ID, reason),
		map[string]any{"merged_campaign_id": source.ID.String(), "reason": reason},
	); err != nil {
		return nil, err
	}

	source.Status = models.CampaignStatusArchived
	source.MergedInto = &target.ID
	if err := d.campaigns.Update(ctx, source); err != nil {
		return nil, err
	}
	if err := d.appendEvent(ctx, source.ID, models.TimelineEventStatusChanged,
		fmt.Sprintf("archived by merge into campaign %s", target.ID),
		map[string]any{"merged_into": target.ID.String()},
	); err != nil {
		return nil, err
	}

	if d.events != nil {
		d.events.PublishCampaignMerged(ctx, target, source)
	}

	d.logger.Info().
		Str("source", source.ID.String()).
		Str("target", target.ID.String()).
		Msg("campaigns merged")

	return target, nil
}

// UpdateStatus applies an explicit lifecycle transition, validating the
// campaign state machine.
func (d *Detector) UpdateStatus(ctx context.Context, id uuid.UUID, status models.CampaignStatus) (*models.Campaign, error) {
	release, err := d.locker.Acquire(ctx, detectionLockKey, d.lockTTL)
	if err != nil {
		return nil, err
	}
	defer release()

	campaign, err := d.campaigns.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !campaign.Status.CanTransitionTo(status) {
		return nil, &models.ValidationError{
			Field:  "status",
			Reason: fmt.Sprintf("cannot transition from %s to %s", campaign.Status, status),
		}
	}

	previous := campaign.Status
	campaign.Status = status
	if err := d.campaigns.Update(ctx, campaign); err != nil {
		return nil, err
	}
	if err := d.appendEvent(ctx, campaign.ID, models.TimelineEventStatusChanged,
		fmt.Sprintf("status changed from %s to %s", previous, status),
		map[string]any{"from": string(previous), "to": string(status)},
	); err != nil {
		return nil, err
	}

	if d.events != nil {
		d.events.PublishCampaignUpdated(ctx, campaign)
	}
	return campaign, nil
}

// incorporate adds any component members missing from the campaign.
func (d *Detector) incorporate(ctx context.Context, campaign *models.Campaign, members []string) (bool, error) {
	var missing []string
	for _, id := range members {
		if !campaign.ContainsFlow(id) {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return false, nil
	}

	campaign.RelatedFlows = unionStrings(campaign.RelatedFlows, missing)
	if err := d.refresh(ctx, campaign); err != nil {
		return false, err
	}
	if campaign.Status == models.CampaignStatusMonitoring {
		// New activity reopens a monitoring campaign.
		campaign.Status = models.CampaignStatusActive
	}
	if err := d.campaigns.Update(ctx, campaign); err != nil {
		return false, err
	}

	for _, flowID := range missing {
		if err := d.appendEvent(ctx, campaign.ID, models.TimelineEventNewFlowAdded,
			fmt.Sprintf("flow %s incorporated into campaign", flowID),
			map[string]any{"flow_id": flowID},
		); err != nil {
			return false, err
		}
	}

	if d.events != nil {
		d.events.PublishCampaignUpdated(ctx, campaign)
	}
	return true, nil
}

func (d *Detector) createCampaign(ctx context.Context, members []string) (*models.Campaign, error) {
	now := time.Now()
	campaign := &models.Campaign{
		ID:           uuid.New(),
		Status:       models.CampaignStatusActive,
		RelatedFlows: unionStrings(nil, members),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	campaign.Name = "campaign-" + campaign.ID.String()[:8]

	if err := d.refresh(ctx, campaign); err != nil {
		return nil, err
	}
	if err := d.campaigns.Create(ctx, campaign); err != nil {
		return nil, err
	}

	if err := d.appendEvent(ctx, campaign.ID, models.TimelineEventCampaignCreated,
		fmt.Sprintf("campaign created from %d correlated flows", len(campaign.RelatedFlows)),
		map[string]any{"flow_ids": campaign.RelatedFlows},
	); err != nil {
		return nil, err
	}

	if d.events != nil {
		d.events.PublishCampaignDetected(ctx, campaign)
	}

	d.logger.Info().
		Str("campaign_id", campaign.ID.String()).
		Int("flows", len(campaign.RelatedFlows)).
		Msg("new campaign detected")

	return campaign, nil
}

// refresh recomputes everything derived from membership: the seen
// range (widen only), shared TTP/IOC unions, confidence, severity, and
// the per-campaign occurrence aggregates.
func (d *Detector) refresh(ctx context.Context, campaign *models.Campaign) error {
	flows, err := d.flows.ListFlows(ctx, campaign.RelatedFlows)
	if err != nil {
		return &models.PersistenceError{Op: "list campaign flows", Err: err}
	}

	ttps := make(map[string]struct{})
	var allIOCs []models.IOC
	for _, f := range flows {
		for _, t := range f.TTPs {
			ttps[t] = struct{}{}
		}
		allIOCs = append(allIOCs, f.IOCs...)

		if campaign.FirstSeen.IsZero() || f.DetectedAt.Before(campaign.FirstSeen) {
			campaign.FirstSeen = f.DetectedAt
		}
		if f.DetectedAt.After(campaign.LastSeen) {
			campaign.LastSeen = f.DetectedAt
		}
	}

	campaign.SharedTTPs = make([]string, 0, len(ttps))
	for t := range ttps {
		campaign.SharedTTPs = append(campaign.SharedTTPs, t)
	}
	sort.Strings(campaign.SharedTTPs)

	campaign.SharedIOCs = d.matcher.Deduplicate(allIOCs)
	sort.Slice(campaign.SharedIOCs, func(i, j int) bool {
		if campaign.SharedIOCs[i].Type != campaign.SharedIOCs[j].Type {
			return campaign.SharedIOCs[i].Type < campaign.SharedIOCs[j].Type
		}
		return campaign.SharedIOCs[i].Value < campaign.SharedIOCs[j].Value
	})
	campaign.IndicatorsCount = len(campaign.SharedIOCs)

	confidence, err := d.internalEdgeConfidence(ctx, campaign.RelatedFlows)
	if err != nil {
		return err
	}
	campaign.ConfidenceScore = confidence
	campaign.Severity = deriveSeverity(confidence, len(campaign.RelatedFlows))
	campaign.UpdatedAt = time.Now()

	indicators, campaignTTPs := buildAggregates(campaign.ID, flows, d.matcher)
	if err := d.campaigns.ReplaceAggregates(ctx, campaign.ID, indicators, campaignTTPs); err != nil {
		return &models.PersistenceError{Op: "replace campaign aggregates", Err: err}
	}

	return nil
}

// internalEdgeConfidence is the mean of the correlation edges among
// members, weighted toward the most recently updated edges.
func (d *Detector) internalEdgeConfidence(ctx context.Context, members []string) (float64, error) {
	if len(members) < 2 {
		return 0, nil
	}
	edges, err := d.correlations.Query(ctx, 0, members)
	if err != nil {
		return 0, &models.PersistenceError{Op: "query internal edges", Err: err}
	}

	memberSet := make(map[string]struct{}, len(members))
	for _, id := range members {
		memberSet[id] = struct{}{}
	}
	var internal []*models.ThreatCorrelation
	for _, e := range edges {
		if _, ok1 := memberSet[e.FlowID1]; !ok1 {
			continue
		}
		if _, ok2 := memberSet[e.FlowID2]; !ok2 {
			continue
		}
		internal = append(internal, e)
	}
	if len(internal) == 0 {
		return 0, nil
	}

	sort.Slice(internal, func(i, j int) bool {
		if !internal[i].UpdatedAt.Equal(internal[j].UpdatedAt) {
			return internal[i].UpdatedAt.Before(internal[j].UpdatedAt)
		}
		return internal[i].Key().String() < internal[j].Key().String()
	})

	var weightedSum, totalWeight float64
	for i, e := range internal {
		w := 1.0 + d.recentEdgeBias*float64(i)
		weightedSum += w * e.Score
		totalWeight += w
	}
	return clamp(weightedSum/totalWeight, 0, 1), nil
}

// autoMerge collapses near-duplicate open campaigns: similarity is the
// Jaccard overlap of the combined TTP and IOC sets, with a bonus when
// both campaigns attribute the same actor. The newer campaign merges
// into the older one.
func (d *Detector) autoMerge(ctx context.Context) error {
	for {
		open, err := d.campaigns.List(ctx, models.CampaignStatusActive, models.CampaignStatusMonitoring)
		if err != nil {
			return &models.PersistenceError{Op: "list campaigns", Err: err}
		}
		sort.Slice(open, func(i, j int) bool { return open[i].FirstSeen.Before(open[j].FirstSeen) })

		merged := false
		for i := 0; i < len(open) && !merged; i++ {
			for j := i + 1; j < len(open); j++ {
				if campaignSimilarity(open[i], open[j]) < d.mergeThreshold {
					continue
				}
				// open[i] is older; it survives.
				if _, err := d.mergeLocked(ctx, open[j].ID, open[i].ID, "auto-merged: near-duplicate campaign"); err != nil {
					return err
				}
				merged = true
				break
			}
		}
		if !merged {
			return nil
		}
	}
}

// sweepInactive moves active campaigns with no new flows inside the
// inactivity window to monitoring.
func (d *Detector) sweepInactive(ctx context.Context) error {
	active, err := d.campaigns.List(ctx, models.CampaignStatusActive)
	if err != nil {
		return &models.PersistenceError{Op: "list campaigns", Err: err}
	}

	cutoff := time.Now().Add(-d.inactivityAfter)
	for _, c := range active {
		if c.LastSeen.After(cutoff) {
			continue
		}
		c.Status = models.CampaignStatusMonitoring
		if err := d.campaigns.Update(ctx, c); err != nil {
			return err
		}
		if err := d.appendEvent(ctx, c.ID, models.TimelineEventStatusChanged,
			fmt.Sprintf("no new flows since %s, moved to monitoring", c.LastSeen.Format(time.RFC3339)),
			map[string]any{"from": "active", "to": "monitoring"},
		); err != nil {
			return err
		}
	}
	return nil
}

func (d *Detector) appendEvent(ctx context.Context, campaignID uuid.UUID, eventType models.TimelineEventType, description string, metadata map[string]any) error {
	event := &models.CampaignTimelineEvent{
		ID:             uuid.New(),
		CampaignID:     campaignID,
		EventType:      eventType,
		EventTimestamp: time.Now(),
		Description:    description,
		Metadata:       metadata,
		CreatedAt:      time.Now(),
	}
	if err := d.campaigns.AppendTimelineEvent(ctx, event); err != nil {
		return &models.PersistenceError{Op: "append timeline event", Err: err}
	}
	return nil
}

// pickIncorporationTarget returns the open campaign already containing
// a component member, preferring the oldest when several match.
// Existing campaigns take priority over new-campaign creation to avoid
// fragmentation.
func pickIncorporationTarget(open []*models.Campaign, members []string) *models.Campaign {
	var target *models.Campaign
	for _, c := range open {
		for _, id := range members {
			if c.ContainsFlow(id) {
				if target == nil || c.FirstSeen.Before(target.FirstSeen) {
					target = c
				}
				break
			}
		}
	}
	return target
}

// campaignSimilarity is the Jaccard similarity over the union of shared
// TTPs and IOC values, plus a 0.1 bonus when both campaigns suspect the
// same actor.
func campaignSimilarity(a, b *models.Campaign) float64 {
	sim := jaccard(campaignTraits(a), campaignTraits(b))
	if a.SuspectedActor != "" && a.SuspectedActor == b.SuspectedActor {
		sim += 0.1
	}
	return clamp(sim, 0, 1)
}

func campaignTraits(c *models.Campaign) []string {
	traits := make([]string, 0, len(c.SharedTTPs)+len(c.SharedIOCs))
	for _, t := range c.SharedTTPs {
		traits = append(traits, "ttp:"+t)
	}
	for _, ioc := range c.SharedIOCs {
		traits = append(traits, "ioc:"+string(ioc.Type)+":"+ioc.Value)
	}
	return traits
}

func deriveSeverity(confidence float64, flowCount int) models.Severity {
	switch {
	case confidence >= 0.85 && flowCount >= 5:
		return models.SeverityCritical
	case confidence >= 0.75:
		return models.SeverityHigh
	case confidence >= 0.5:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

// buildAggregates recomputes the derived per-campaign occurrence
// records from member flows.
func buildAggregates(campaignID uuid.UUID, flows []*models.AttackFlow, matcher *Matcher) ([]models.CampaignIndicator, []models.CampaignTTP) {
	indicatorIndex := make(map[string]*models.CampaignIndicator)
	ttpIndex := make(map[string]*models.CampaignTTP)

	for _, f := range flows {
		seenInFlow := make(map[string]struct{})
		for _, ioc := range f.IOCs {
			value := matcher.Normalize(ioc.Value, ioc.Type)
			key := string(ioc.Type) + ":" + value
			if _, dup := seenInFlow[key]; dup {
				continue
			}
			seenInFlow[key] = struct{}{}

			rec, ok := indicatorIndex[key]
			if !ok {
				rec = &models.CampaignIndicator{
					CampaignID: campaignID,
					Type:       ioc.Type,
					Value:      value,
					FirstSeen:  f.DetectedAt,
					LastSeen:   f.DetectedAt,
				}
				indicatorIndex[key] = rec
			}
			rec.OccurrenceCount++
			rec.SourceFlows = append(rec.SourceFlows, f.ID)
			if f.DetectedAt.Before(rec.FirstSeen) {
				rec.FirstSeen = f.DetectedAt
			}
			if f.DetectedAt.After(rec.LastSeen) {
				rec.LastSeen = f.DetectedAt
			}
		}

		ttpSeen := make(map[string]struct{})
		for _, t := range f.TTPs {
			if _, dup := ttpSeen[t]; dup {
				continue
			}
			ttpSeen[t] = struct{}{}

			rec, ok := ttpIndex[t]
			if !ok {
				rec = &models.CampaignTTP{
					CampaignID: campaignID,
					TTP:        t,
					FirstSeen:  f.DetectedAt,
					LastSeen:   f.DetectedAt,
				}
				ttpIndex[t] = rec
			}
			rec.OccurrenceCount++
			rec.SourceFlows = append(rec.SourceFlows, f.ID)
			if f.DetectedAt.Before(rec.FirstSeen) {
				rec.FirstSeen = f.DetectedAt
			}
			if f.DetectedAt.After(rec.LastSeen) {
				rec.LastSeen = f.DetectedAt
			}
		}
	}

	indicators := make([]models.CampaignIndicator, 0, len(indicatorIndex))
	for _, rec := range indicatorIndex {
		sort.Strings(rec.SourceFlows)
		indicators = append(indicators, *rec)
	}
	sort.Slice(indicators, func(i, j int) bool {
		if indicators[i].Type != indicators[j].Type {
			return indicators[i].Type < indicators[j].Type
		}
		return indicators[i].Value < indicators[j].Value
	})

	campaignTTPs := make([]models.CampaignTTP, 0, len(ttpIndex))
	for _, rec := range ttpIndex {
		sort.Strings(rec.SourceFlows)
		campaignTTPs = append(campaignTTPs, *rec)
	}
	sort.Slice(campaignTTPs, func(i, j int) bool { return campaignTTPs[i].TTP < campaignTTPs[j].TTP })

	return indicators, campaignTTPs
}

// connectedComponents unions flows joined by qualifying correlation
// edges and returns the member lists, each sorted, ordered by their
// smallest member for deterministic processing.
func connectedComponents(edges []*models.ThreatCorrelation) [][]string {
	uf := newUnionFind()
	for _, e := range edges {
		uf.union(e.FlowID1, e.FlowID2)
	}

	byRoot := make(map[string][]string)
	for id := range uf.parent {
		root := uf.find(id)
		byRoot[root] = append(byRoot[root], id)
	}

	components := make([][]string, 0, len(byRoot))
	for _, members := range byRoot {
		sort.Strings(members)
		components = append(components, members)
	}
	sort.Slice(components, func(i, j int) bool { return components[i][0] < components[j][0] })
	return components
}

// unionFind with path compression and union by size.
type unionFind struct {
	parent map[string]string
	size   map[string]int
}

func newUnionFind() *unionFind {
	return &unionFind{parent: make(map[string]string), size: make(map[string]int)}
}

func (u *unionFind) find(x string) string {
	if _, ok := u.parent[x]; !ok {
		u.parent[x] = x
		u.size[x] = 1
	}
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

func (u *unionFind) union(a, b string) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if u.size[ra] < u.size[rb] {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
	u.size[ra] += u.size[rb]
}

// unionStrings merges two string sets into a sorted, deduplicated
// slice.
func unionStrings(a, b []string) []string {
	set := make(map[string]struct{}, len(a)+len(b))
	for _, v := range a {
		set[v] = struct{}{}
	}
	for _, v := range b {
		set[v] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
