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

// similarCampaignThreshold is the minimum TTP-set Jaccard overlap for a
// campaign to appear in the similar-campaigns section of a report.
const similarCampaignThreshold = 0.5

// Reporter produces campaign timelines and structured campaign
// reports. Both are derived views: nothing the reporter emits is
// written back.
type Reporter struct {
	campaigns CampaignStore
	flows     FlowSource
	matcher   *Matcher
	gaps      GapProvider
	logger    *logger.Logger
}

// NewReporter creates a new Reporter. gaps may be nil; recommendations
// then fall back to campaign severity.
func NewReporter(campaigns CampaignStore, flows FlowSource, matcher *Matcher, gaps GapProvider, log *logger.Logger) *Reporter {
	return &Reporter{
		campaigns: campaigns,
		flows:     flows,
		matcher:   matcher,
		gaps:      gaps,
		logger:    log.WithComponent("reporter"),
	}
}

// Timeline merges the persisted campaign lifecycle events with derived
// observations (indicator and TTP first appearances, flow detections)
// into one chronological sequence. Events sharing a timestamp order
// lifecycle first, then indicators, then flows.
func (r *Reporter) Timeline(ctx context.Context, campaignID uuid.UUID) (*models.CampaignTimeline, error) {
	campaign, err := r.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	events, err := r.campaigns.ListTimelineEvents(ctx, campaignID)
	if err != nil {
		return nil, &models.PersistenceError{Op: "list timeline events", Err: err}
	}

	flows, err := r.flows.ListFlows(ctx, campaign.RelatedFlows)
	if err != nil {
		return nil, &models.PersistenceError{Op: "list campaign flows", Err: err}
	}
	events = append(events, r.derivedEvents(campaign, flows)...)

	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].EventTimestamp.Equal(events[j].EventTimestamp) {
			return events[i].EventTimestamp.Before(events[j].EventTimestamp)
		}
		return events[i].EventType.Priority() < events[j].EventType.Priority()
	})

	return &models.CampaignTimeline{
		CampaignID:  campaignID,
		Events:      events,
		GeneratedAt: time.Now(),
	}, nil
}

// GenerateReport assembles the structured report for a campaign.
func (r *Reporter) GenerateReport(ctx context.Context, campaignID uuid.UUID) (*models.CampaignReport, error) {
	campaign, err := r.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	flows, err := r.flows.ListFlows(ctx, campaign.RelatedFlows)
	if err != nil {
		return nil, &models.PersistenceError{Op: "list campaign flows", Err: err}
	}

	similar, err := r.similarCampaigns(ctx, campaign)
	if err != nil {
		return nil, err
	}

	report := &models.CampaignReport{
		CampaignID:   campaign.ID,
		CampaignName: campaign.Name,
		ExecutiveSummary: models.ExecutiveSummary{
			FlowCount:       len(campaign.RelatedFlows),
			IndicatorsCount: campaign.IndicatorsCount,
			TTPCount:        len(campaign.SharedTTPs),
			Confidence:      campaign.ConfidenceScore,
			Severity:        campaign.Severity,
			Status:          campaign.Status,
			FirstSeen:       campaign.FirstSeen,
			LastSeen:        campaign.LastSeen,
		},
		DetailedAnalysis: models.DetailedAnalysis{
			DominantTactics: dominantTactics(flows),
			AffectedAssets:  affectedAssets(flows),
		},
		ThreatIntelligence: models.ThreatIntelligence{
			SuspectedActor:        campaign.SuspectedActor,
			AttributionConfidence: attributionConfidence(campaign),
			SimilarCampaigns:      similar,
		},
		Recommendations: r.recommendations(ctx, campaign),
		GeneratedAt:     time.Now(),
	}

	r.logger.Debug().
		Str("campaign_id", campaign.ID.String()).
		Int("flows", len(flows)).
		Msg("campaign report generated")

	return report, nil
}

// derivedEvents synthesizes observations not stored in the lifecycle
// log: the first appearance of each indicator and technique, and each
// member flow's detection.
func (r *Reporter) derivedEvents(campaign *models.Campaign, flows []*models.AttackFlow) []models.CampaignTimelineEvent {
	var events []models.CampaignTimelineEvent

	indicatorFirst := make(map[string]time.Time)
	indicatorLabel := make(map[string]string)
	ttpFirst := make(map[string]time.Time)

	for _, f := range flows {
		events = append(events, models.CampaignTimelineEvent{
			ID:             uuid.New(),
			CampaignID:     campaign.ID,
			EventType:      models.TimelineEventFlowDetected,
			EventTimestamp: f.DetectedAt,
			Description:    fmt.Sprintf("flow %s detected", f.ID),
			Metadata:       map[string]any{"flow_id": f.ID},
			CreatedAt:      time.Now(),
		})

		for _, ioc := range f.IOCs {
			value := r.matcher.Normalize(ioc.Value, ioc.Type)
			key := string(ioc.Type) + ":" + value
			if first, ok := indicatorFirst[key]; !ok || f.DetectedAt.Before(first) {
				indicatorFirst[key] = f.DetectedAt
				indicatorLabel[key] = value
			}
		}
		for _, ttp := range f.TTPs {
			if first, ok := ttpFirst[ttp]; !ok || f.DetectedAt.Before(first) {
				ttpFirst[ttp] = f.DetectedAt
			}
		}
	}

	indicatorKeys := make([]string, 0, len(indicatorFirst))
	for key := range indicatorFirst {
		indicatorKeys = append(indicatorKeys, key)
	}
	sort.Strings(indicatorKeys)
	for _, key := range indicatorKeys {
		events = append(events, models.CampaignTimelineEvent{
			ID:             uuid.New(),
			CampaignID:     campaign.ID,
			EventType:      models.TimelineEventIndicatorFirstSeen,
			EventTimestamp: indicatorFirst[key],
			Description:    fmt.Sprintf("indicator %s first observed", indicatorLabel[key]),
			Metadata:       map[string]any{"indicator": key},
			CreatedAt:      time.Now(),
		})
	}

	ttps := make([]string, 0, len(ttpFirst))
	for ttp := range ttpFirst {
		ttps = append(ttps, ttp)
	}
	sort.Strings(ttps)
	for _, ttp := range ttps {
		events = append(events, models.CampaignTimelineEvent{
			ID:             uuid.New(),
			CampaignID:     campaign.ID,
			EventType:      models.TimelineEventTTPFirstObserved,
			EventTimestamp: ttpFirst[ttp],
			Description:    fmt.Sprintf("technique %s first observed", ttp),
			Metadata:       map[string]any{"ttp": ttp},
			CreatedAt:      time.Now(),
		})
	}

	return events
}

// similarCampaigns finds non-archived campaigns whose shared TTP set
// overlaps this one at or above the similarity threshold, ordered by
// similarity descending with name as tie-break.
func (r *Reporter) similarCampaigns(ctx context.Context, campaign *models.Campaign) ([]models.SimilarCampaign, error) {
	all, err := r.campaigns.List(ctx,
		models.CampaignStatusActive, models.CampaignStatusMonitoring, models.CampaignStatusResolved)
	if err != nil {
		return nil, &models.PersistenceError{Op: "list campaigns", Err: err}
	}

	var similar []models.SimilarCampaign
	for _, other := range all {
		if other.ID == campaign.ID {
			continue
		}
		sim := jaccard(campaign.SharedTTPs, other.SharedTTPs)
		if sim < similarCampaignThreshold {
			continue
		}
		similar = append(similar, models.SimilarCampaign{
			CampaignID: other.ID,
			Name:       other.Name,
			Similarity: sim,
		})
	}
	sort.Slice(similar, func(i, j int) bool {
		if similar[i].Similarity != similar[j].Similarity {
			return similar[i].Similarity > similar[j].Similarity
		}
		return similar[i].Name < similar[j].Name
	})
	return similar, nil
}

// recommendations produces the three response tiers. With a gap
// provider wired, the unresolved gap severity drives the immediate
// tier; otherwise campaign severity does.
func (r *Reporter) recommendations(ctx context.Context, campaign *models.Campaign) models.Recommendations {
	severity := campaign.Severity
	if r.gaps != nil {
		if gapSeverity, err := r.gaps.UnresolvedGapSeverity(ctx, campaign.ID); err == nil {
			severity = maxSeverity(severity, gapSeverity)
		} else {
			r.logger.Warn().Err(err).Str("campaign_id", campaign.ID.String()).Msg("gap severity lookup failed")
		}
	}

	rec := models.Recommendations{}
	switch severity {
	case models.SeverityCritical:
		rec.Immediate = []string{
			"isolate affected assets from the network",
			"block all campaign indicators at perimeter and endpoint",
			"initiate incident response and preserve forensic evidence",
		}
	case models.SeverityHigh:
		rec.Immediate = []string{
			"block campaign indicators at perimeter and endpoint",
			"review authentication logs for affected assets",
		}
	case models.SeverityMedium:
		rec.Immediate = []string{
			"add campaign indicators to watchlists",
			"increase monitoring on affected assets",
		}
	default:
		rec.Immediate = []string{"add campaign indicators to watchlists"}
	}

	rec.ShortTerm = []string{
		"hunt for the campaign's techniques across the estate",
		"validate detection coverage for the observed TTPs",
	}
	if campaign.SuspectedActor != "" {
		rec.ShortTerm = append(rec.ShortTerm,
			fmt.Sprintf("review threat intelligence on %s for likely next moves", campaign.SuspectedActor))
	}

	rec.LongTerm = []string{
		"close detection gaps surfaced by this campaign",
		"feed confirmed indicators back into enrichment sources",
	}
	return rec
}

// dominantTactics ranks techniques by occurrence across member flows,
// most frequent first, ties broken lexicographically.
func dominantTactics(flows []*models.AttackFlow) []models.TacticFrequency {
	counts := make(map[string]int)
	for _, f := range flows {
		seen := make(map[string]struct{})
		for _, ttp := range f.TTPs {
			if _, dup := seen[ttp]; dup {
				continue
			}
			seen[ttp] = struct{}{}
			counts[ttp]++
		}
	}

	tactics := make([]models.TacticFrequency, 0, len(counts))
	for ttp, count := range counts {
		tactics = append(tactics, models.TacticFrequency{TTP: ttp, Count: count})
	}
	sort.Slice(tactics, func(i, j int) bool {
		if tactics[i].Count != tactics[j].Count {
			return tactics[i].Count > tactics[j].Count
		}
		return tactics[i].TTP < tactics[j].TTP
	})
	return tactics
}

func affectedAssets(flows []*models.AttackFlow) []string {
	var assets []string
	for _, f := range flows {
		assets = unionStrings(assets, f.Assets)
	}
	return assets
}

// attributionConfidence discounts the campaign confidence when no actor
// is attributed.
func attributionConfidence(campaign *models.Campaign) float64 {
	if campaign.SuspectedActor == "" {
		return 0
	}
	return campaign.ConfidenceScore
}

func maxSeverity(a, b models.Severity) models.Severity {
	rank := map[models.Severity]int{
		models.SeverityLow:      0,
		models.SeverityMedium:   1,
		models.SeverityHigh:     2,
		models.SeverityCritical: 3,
	}
	if rank[b] > rank[a] {
		return b
	}
	return a
}
