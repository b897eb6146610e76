package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"corrlab/internal/domain/models"
	"corrlab/pkg/logger"
)

// AnalyzerConfig holds batch analysis settings
type AnalyzerConfig struct {
	TopCorrelations int
	Workers         int
}

// Analyzer drives pairwise correlation scoring across a batch of flows,
// filters by the persistence floor, and upserts qualifying
// correlations. Pair scoring is embarrassingly parallel: each pair
// depends only on two immutable flow snapshots, so pairs are fanned out
// to a worker pool and collected before persistence.
type Analyzer struct {
	flows     FlowSource
	store     CorrelationStore
	campaigns OpenCampaignFinder
	scorer    *Scorer
	detector  CampaignDetector
	events    EventPublisher
	logger    *logger.Logger

	topN    int
	workers int
}

// NewAnalyzer creates a new Analyzer. campaigns, detector, and events
// may be nil; without a detector analysis persists correlations but
// does not re-cluster campaigns.
func NewAnalyzer(flows FlowSource, store CorrelationStore, campaigns OpenCampaignFinder, scorer *Scorer, detector CampaignDetector, events EventPublisher, cfg AnalyzerConfig, log *logger.Logger) *Analyzer {
	if cfg.TopCorrelations <= 0 {
		cfg.TopCorrelations = 10
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	return &Analyzer{
		flows:     flows,
		store:     store,
		campaigns: campaigns,
		scorer:    scorer,
		detector:  detector,
		events:    events,
		logger:    log.WithComponent("analyzer"),
		topN:      cfg.TopCorrelations,
		workers:   cfg.Workers,
	}
}

type flowPair struct {
	a, b *models.AttackFlow
}

// Analyze recomputes all pairs for the given flows, or for the whole
// corpus when flowIDs is nil. Per-pair computation errors are counted
// and skipped; only store-level failures abort the batch, and even then
// the already-computed results are returned with Partial set.
func (a *Analyzer) Analyze(ctx context.Context, flowIDs []string) (*models.CorrelationResult, error) {
	if err := validateFlowIDs(flowIDs); err != nil {
		return nil, err
	}

	started := time.Now()

	flows, skipped, err := a.fetchFlows(ctx, flowIDs)
	if err != nil {
		return nil, err
	}

	pairs := allPairs(flows)
	return a.run(ctx, flows, pairs, skipped, started)
}

// AnalyzeIncremental scores one newly ingested flow against all
// existing flows: O(n) instead of O(n^2), the steady-state ingestion
// path.
func (a *Analyzer) AnalyzeIncremental(ctx context.Context, newFlowID string) (*models.CorrelationResult, error) {
	if newFlowID == "" {
		return nil, &models.ValidationError{Field: "flow_id", Reason: "flow ID is empty"}
	}

	started := time.Now()

	newFlow, err := a.flows.GetFlow(ctx, newFlowID)
	if err != nil {
		return nil, err
	}

	existing, err := a.flows.ListFlows(ctx, nil)
	if err != nil {
		return nil, &models.PersistenceError{Op: "list flows", Err: err}
	}

	flows := []*models.AttackFlow{newFlow}
	var pairs []flowPair
	for _, f := range existing {
		if f.ID == newFlow.ID {
			continue
		}
		flows = append(flows, f)
		pairs = append(pairs, flowPair{a: newFlow, b: f})
	}
	sortPairs(pairs)

	return a.run(ctx, flows, pairs, nil, started)
}

// Matrix builds a symmetric score grid over the given flows (or the
// whole corpus) from persisted correlations at or above minScore.
func (a *Analyzer) Matrix(ctx context.Context, flowIDs []string, minScore float64) (*models.CorrelationMatrix, error) {
	if minScore < 0 || minScore > 1 {
		return nil, &models.ValidationError{Field: "min_score", Reason: "must be within [0,1]"}
	}
	if err := validateFlowIDs(flowIDs); err != nil {
		return nil, err
	}

	if flowIDs == nil {
		flows, err := a.flows.ListFlows(ctx, nil)
		if err != nil {
			return nil, &models.PersistenceError{Op: "list flows", Err: err}
		}
		for _, f := range flows {
			flowIDs = append(flowIDs, f.ID)
		}
	}
	sort.Strings(flowIDs)

	correlations, err := a.store.Query(ctx, minScore, flowIDs)
	if err != nil {
		return nil, &models.PersistenceError{Op: "query correlations", Err: err}
	}

	index := make(map[string]int, len(flowIDs))
	for i, id := range flowIDs {
		index[id] = i
	}

	scores := make([][]float64, len(flowIDs))
	for i := range scores {
		scores[i] = make([]float64, len(flowIDs))
		scores[i][i] = 1.0
	}
	for _, corr := range correlations {
		i, ok1 := index[corr.FlowID1]
		j, ok2 := index[corr.FlowID2]
		if !ok1 || !ok2 {
			continue
		}
		scores[i][j] = corr.Score
		scores[j][i] = corr.Score
	}

	return &models.CorrelationMatrix{FlowIDs: flowIDs, Scores: scores}, nil
}

func (a *Analyzer) fetchFlows(ctx context.Context, flowIDs []string) ([]*models.AttackFlow, []models.SkippedPair, error) {
	if flowIDs == nil {
		flows, err := a.flows.ListFlows(ctx, nil)
		if err != nil {
			return nil, nil, &models.PersistenceError{Op: "list flows", Err: err}
		}
		sortFlows(flows)
		return flows, nil, nil
	}

	var (
		flows   []*models.AttackFlow
		skipped []models.SkippedPair
	)
	for _, id := range flowIDs {
		flow, err := a.flows.GetFlow(ctx, id)
		if err != nil {
			var notFound *models.NotFoundError
			if errors.As(err, &notFound) {
				return nil, nil, err
			}
			// Timed-out or otherwise unavailable flows are a
			// partial failure, not fatal for the batch.
			a.logger.Warn().Err(err).Str("flow_id", id).Msg("skipping unavailable flow")
			skipped = append(skipped, models.SkippedPair{FlowID1: id, Reason: err.Error()})
			continue
		}
		flows = append(flows, flow)
	}
	sortFlows(flows)
	return flows, skipped, nil
}

func (a *Analyzer) run(ctx context.Context, flows []*models.AttackFlow, pairs []flowPair, skipped []models.SkippedPair, started time.Time) (*models.CorrelationResult, error) {
	scores, skippedPairs, err := a.scorePairs(ctx, pairs)
	if err != nil {
		return nil, err
	}
	skipped = append(skipped, skippedPairs...)

	now := time.Now()
	openMemo := make(map[string]bool)
	var qualifying []*models.ThreatCorrelation
	for _, ps := range scores {
		if ps.Overall < a.scorer.MinCorrelationScore() {
			continue
		}
		ps.Recommendation = a.recommend(ctx, ps, openMemo)
		key := models.NewPairKey(ps.FlowID1, ps.FlowID2)
		qualifying = append(qualifying, &models.ThreatCorrelation{
			FlowID1:          key.Low,
			FlowID2:          key.High,
			Score:            ps.Overall,
			Type:             ps.Type,
			SharedIndicators: ps.SharedIndicators,
			Recommendation:   ps.Recommendation,
			DetectedAt:       now,
			UpdatedAt:        now,
		})
	}
	sort.Slice(qualifying, func(i, j int) bool {
		return qualifying[i].Key().String() < qualifying[j].Key().String()
	})

	result := &models.CorrelationResult{
		TotalFlowsAnalyzed: len(flows),
		GeneratedAt:        now,
	}

	persisted := make([]*models.ThreatCorrelation, 0, len(qualifying))
	for i, corr := range qualifying {
		if err := a.store.Upsert(ctx, corr); err != nil {
			// Store unavailable: abort the remainder, return what
			// was computed with an explicit partial flag.
			a.logger.Error().Err(err).Str("pair", corr.Key().String()).Msg("correlation upsert failed, aborting batch")
			for _, rest := range qualifying[i:] {
				skipped = append(skipped, models.SkippedPair{
					FlowID1: rest.FlowID1,
					FlowID2: rest.FlowID2,
					Reason:  "persistence failed: " + err.Error(),
				})
			}
			result.Partial = true
			break
		}
		persisted = append(persisted, corr)
		if a.events != nil {
			a.events.PublishCorrelationFound(ctx, corr)
		}
	}

	result.Correlations = persisted
	result.CorrelationsFound = len(persisted)
	result.SkippedPairs = skipped
	if len(skipped) > 0 {
		result.Partial = true
	}
	if len(persisted) > 0 {
		var sum float64
		for _, c := range persisted {
			sum += c.Score
		}
		result.AverageScore = sum / float64(len(persisted))
	}
	result.TopCorrelations = topCorrelations(persisted, a.topN)

	if len(persisted) > 0 && a.detector != nil {
		outcome, err := a.detector.DetectCampaigns(ctx)
		if err != nil {
			// The correlations are already committed; a failed detection
			// pass can be retried through the campaign detect endpoint.
			a.logger.Warn().Err(err).Msg("campaign detection after analysis failed")
		} else {
			result.CampaignDetection = outcome
		}
	}

	result.ProcessingTime = time.Since(started)

	a.logger.Info().
		Int("flows", len(flows)).
		Int("pairs", len(pairs)).
		Int("correlations", len(persisted)).
		Int("skipped", len(skipped)).
		Dur("duration", result.ProcessingTime).
		Msg("correlation analysis complete")

	return result, nil
}

// recommend labels a qualifying pair with its follow-up action. A pair
// below the campaign threshold still maps to add_to_existing when
// either flow already belongs to an open campaign.
func (a *Analyzer) recommend(ctx context.Context, ps *models.PairScore, memo map[string]bool) models.Recommendation {
	hasOpenMatch := false
	if ps.Overall < a.scorer.CampaignDetectionThreshold() && a.campaigns != nil {
		hasOpenMatch = a.inOpenCampaign(ctx, ps.FlowID1, memo) || a.inOpenCampaign(ctx, ps.FlowID2, memo)
	}
	return a.scorer.Recommend(ps.Overall, hasOpenMatch)
}

// inOpenCampaign memoizes open-campaign membership per flow for the
// duration of one run, so a batch makes at most one store lookup per
// distinct flow.
func (a *Analyzer) inOpenCampaign(ctx context.Context, flowID string, memo map[string]bool) bool {
	if v, ok := memo[flowID]; ok {
		return v
	}
	open, err := a.campaigns.FindOpenCampaignsContaining(ctx, flowID)
	if err != nil {
		a.logger.Warn().Err(err).Str("flow_id", flowID).Msg("open campaign lookup failed")
		memo[flowID] = false
		return false
	}
	memo[flowID] = len(open) > 0
	return memo[flowID]
}

// scorePairs fans pairs out to the worker pool. Each worker writes only
// its own result slots, so no locking is needed beyond the job channel.
func (a *Analyzer) scorePairs(ctx context.Context, pairs []flowPair) ([]*models.PairScore, []models.SkippedPair, error) {
	if len(pairs) == 0 {
		return nil, nil, nil
	}

	workers := a.workers
	if workers > len(pairs) {
		workers = len(pairs)
	}

	scores := make([]*models.PairScore, len(pairs))
	errs := make([]error, len(pairs))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				scores[i], errs[i] = a.scorer.Score(pairs[i].a, pairs[i].b)
			}
		}()
	}

	// Pair-granularity cancellation checkpoint: stop handing out work
	// once the caller gives up. Persistence is idempotent, so a retried
	// job only recomputes cheap comparisons.
	var cancelled bool
dispatch:
	for i := range pairs {
		select {
		case jobs <- i:
		case <-ctx.Done():
			cancelled = true
			break dispatch
		}
	}
	close(jobs)
	wg.Wait()

	if cancelled {
		return nil, nil, ctx.Err()
	}

	var (
		ok      []*models.PairScore
		skipped []models.SkippedPair
	)
	for i := range pairs {
		if errs[i] != nil {
			var comp *models.ComputationError
			if errors.As(errs[i], &comp) {
				a.logger.Warn().Err(errs[i]).
					Str("flow_id_1", pairs[i].a.ID).
					Str("flow_id_2", pairs[i].b.ID).
					Msg("skipping pair with malformed flow data")
				skipped = append(skipped, models.SkippedPair{
					FlowID1: pairs[i].a.ID,
					FlowID2: pairs[i].b.ID,
					Reason:  errs[i].Error(),
				})
				continue
			}
			return nil, nil, errs[i]
		}
		ok = append(ok, scores[i])
	}
	return ok, skipped, nil
}

func validateFlowIDs(flowIDs []string) error {
	seen := make(map[string]struct{}, len(flowIDs))
	for _, id := range flowIDs {
		if id == "" {
			return &models.ValidationError{Field: "flow_ids", Reason: "contains an empty flow ID"}
		}
		if _, dup := seen[id]; dup {
			return &models.ValidationError{Field: "flow_ids", Reason: "contains duplicate flow ID " + id}
		}
		seen[id] = struct{}{}
	}
	return nil
}

func allPairs(flows []*models.AttackFlow) []flowPair {
	var pairs []flowPair
	for i := 0; i < len(flows); i++ {
		for j := i + 1; j < len(flows); j++ {
			pairs = append(pairs, flowPair{a: flows[i], b: flows[j]})
		}
	}
	return pairs
}

func sortFlows(flows []*models.AttackFlow) {
	sort.Slice(flows, func(i, j int) bool { return flows[i].ID < flows[j].ID })
}

func sortPairs(pairs []flowPair) {
	sort.Slice(pairs, func(i, j int) bool {
		ki := models.NewPairKey(pairs[i].a.ID, pairs[i].b.ID)
		kj := models.NewPairKey(pairs[j].a.ID, pairs[j].b.ID)
		return ki.String() < kj.String()
	})
}

// topCorrelations returns the N highest-scoring correlations; ties
// break by earliest detection then by the smaller pair key so output is
// deterministic.
func topCorrelations(correlations []*models.ThreatCorrelation, n int) []*models.ThreatCorrelation {
	top := make([]*models.ThreatCorrelation, len(correlations))
	copy(top, correlations)
	sort.Slice(top, func(i, j int) bool {
		if top[i].Score != top[j].Score {
			return top[i].Score > top[j].Score
		}
		if !top[i].DetectedAt.Equal(top[j].DetectedAt) {
			return top[i].DetectedAt.Before(top[j].DetectedAt)
		}
		return top[i].Key().String() < top[j].Key().String()
	})
	if len(top) > n {
		top = top[:n]
	}
	return top
}
