package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"corrlab/internal/domain/models"
	"corrlab/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Level: "error", Format: "json"})
}

// fakeFlowSource serves flows from an in-memory map.
type fakeFlowSource struct {
	mu    sync.Mutex
	flows map[string]*models.AttackFlow
	// ids listed here fail with a transient error instead of returning.
	unavailable map[string]struct{}
}

func newFakeFlowSource(flows ...*models.AttackFlow) *fakeFlowSource {
	s := &fakeFlowSource{
		flows:       make(map[string]*models.AttackFlow),
		unavailable: make(map[string]struct{}),
	}
	for _, f := range flows {
		s.flows[f.ID] = f
	}
	return s
}

func (s *fakeFlowSource) GetFlow(_ context.Context, id string) (*models.AttackFlow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, down := s.unavailable[id]; down {
		return nil, errors.New("flow source timeout")
	}
	f, ok := s.flows[id]
	if !ok {
		return nil, &models.NotFoundError{Resource: "flow", ID: id}
	}
	return f, nil
}

func (s *fakeFlowSource) ListFlows(_ context.Context, ids []string) ([]*models.AttackFlow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.AttackFlow
	if ids == nil {
		for _, f := range s.flows {
			out = append(out, f)
		}
	} else {
		for _, id := range ids {
			if f, ok := s.flows[id]; ok {
				out = append(out, f)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// fakeCorrelationStore keys correlations by their canonical pair key.
type fakeCorrelationStore struct {
	mu       sync.Mutex
	rows     map[models.PairKey]*models.ThreatCorrelation
	failNext error
	upserts  int
}

func newFakeCorrelationStore() *fakeCorrelationStore {
	return &fakeCorrelationStore{rows: make(map[models.PairKey]*models.ThreatCorrelation)}
}

func (s *fakeCorrelationStore) Upsert(_ context.Context, corr *models.ThreatCorrelation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return err
	}
	s.upserts++
	key := corr.Key()
	if existing, ok := s.rows[key]; ok {
		// Preserve first detection on re-analysis.
		corr.DetectedAt = existing.DetectedAt
	}
	clone := *corr
	s.rows[key] = &clone
	return nil
}

func (s *fakeCorrelationStore) Get(_ context.Context, flowID1, flowID2 string) (*models.ThreatCorrelation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := models.NewPairKey(flowID1, flowID2)
	corr, ok := s.rows[key]
	if !ok {
		return nil, &models.NotFoundError{Resource: "correlation", ID: key.String()}
	}
	clone := *corr
	return &clone, nil
}

func (s *fakeCorrelationStore) Query(_ context.Context, minScore float64, flowIDs []string) ([]*models.ThreatCorrelation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var idSet map[string]struct{}
	if flowIDs != nil {
		idSet = make(map[string]struct{}, len(flowIDs))
		for _, id := range flowIDs {
			idSet[id] = struct{}{}
		}
	}

	var out []*models.ThreatCorrelation
	for _, corr := range s.rows {
		if corr.Score < minScore {
			continue
		}
		if idSet != nil {
			_, ok1 := idSet[corr.FlowID1]
			_, ok2 := idSet[corr.FlowID2]
			if !ok1 && !ok2 {
				continue
			}
		}
		clone := *corr
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key().String() < out[j].Key().String() })
	return out, nil
}

func (s *fakeCorrelationStore) seed(flowID1, flowID2 string, score float64, updatedAt time.Time) {
	key := models.NewPairKey(flowID1, flowID2)
	s.rows[key] = &models.ThreatCorrelation{
		FlowID1:    key.Low,
		FlowID2:    key.High,
		Score:      score,
		Type:       models.CorrelationTypeMultiFactor,
		DetectedAt: updatedAt,
		UpdatedAt:  updatedAt,
	}
}

// fakeCampaignStore keeps campaigns, timeline events, and aggregates in
// memory with the same optimistic-versioning contract as the real
// repository.
type fakeCampaignStore struct {
	mu         sync.Mutex
	campaigns  map[uuid.UUID]*models.Campaign
	events     map[uuid.UUID][]models.CampaignTimelineEvent
	indicators map[uuid.UUID][]models.CampaignIndicator
	ttps       map[uuid.UUID][]models.CampaignTTP
}

func newFakeCampaignStore() *fakeCampaignStore {
	return &fakeCampaignStore{
		campaigns:  make(map[uuid.UUID]*models.Campaign),
		events:     make(map[uuid.UUID][]models.CampaignTimelineEvent),
		indicators: make(map[uuid.UUID][]models.CampaignIndicator),
		ttps:       make(map[uuid.UUID][]models.CampaignTTP),
	}
}

func (s *fakeCampaignStore) Create(_ context.Context, c *models.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.campaigns[c.ID]; exists {
		return &models.ConflictError{Resource: "campaign", ID: c.ID.String(), Reason: "already exists"}
	}
	c.Version = 1
	clone := cloneCampaign(c)
	s.campaigns[c.ID] = clone
	return nil
}

func (s *fakeCampaignStore) Update(_ context.Context, c *models.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.campaigns[c.ID]
	if !ok {
		return &models.NotFoundError{Resource: "campaign", ID: c.ID.String()}
	}
	if stored.Version != c.Version {
		return &models.ConflictError{Resource: "campaign", ID: c.ID.String(), Reason: "version mismatch"}
	}
	c.Version++
	s.campaigns[c.ID] = cloneCampaign(c)
	return nil
}

func (s *fakeCampaignStore) GetByID(_ context.Context, id uuid.UUID) (*models.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return nil, &models.NotFoundError{Resource: "campaign", ID: id.String()}
	}
	return cloneCampaign(c), nil
}

func (s *fakeCampaignStore) List(_ context.Context, statuses ...models.CampaignStatus) ([]*models.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Campaign
	for _, c := range s.campaigns {
		if len(statuses) > 0 {
			match := false
			for _, st := range statuses {
				if c.Status == st {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		out = append(out, cloneCampaign(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (s *fakeCampaignStore) FindOpenCampaignsContaining(ctx context.Context, flowID string) ([]*models.Campaign, error) {
	open, err := s.List(ctx, models.CampaignStatusActive, models.CampaignStatusMonitoring)
	if err != nil {
		return nil, err
	}
	var out []*models.Campaign
	for _, c := range open {
		if c.ContainsFlow(flowID) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *fakeCampaignStore) AppendTimelineEvent(_ context.Context, event *models.CampaignTimelineEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.CampaignID] = append(s.events[event.CampaignID], *event)
	return nil
}

func (s *fakeCampaignStore) ListTimelineEvents(_ context.Context, campaignID uuid.UUID) ([]models.CampaignTimelineEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := make([]models.CampaignTimelineEvent, len(s.events[campaignID]))
	copy(events, s.events[campaignID])
	return events, nil
}

func (s *fakeCampaignStore) ReplaceAggregates(_ context.Context, campaignID uuid.UUID, indicators []models.CampaignIndicator, ttps []models.CampaignTTP) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indicators[campaignID] = indicators
	s.ttps[campaignID] = ttps
	return nil
}

func (s *fakeCampaignStore) eventTypes(campaignID uuid.UUID) []models.TimelineEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	var types []models.TimelineEventType
	for _, e := range s.events[campaignID] {
		types = append(types, e.EventType)
	}
	return types
}

func cloneCampaign(c *models.Campaign) *models.Campaign {
	clone := *c
	clone.RelatedFlows = append([]string(nil), c.RelatedFlows...)
	clone.SharedTTPs = append([]string(nil), c.SharedTTPs...)
	clone.SharedIOCs = append([]models.IOC(nil), c.SharedIOCs...)
	clone.Tags = append([]string(nil), c.Tags...)
	if c.MergedInto != nil {
		id := *c.MergedInto
		clone.MergedInto = &id
	}
	return &clone
}

// noopLocker grants every acquisition immediately.
type noopLocker struct {
	acquisitions int
}

func (l *noopLocker) Acquire(context.Context, string, time.Duration) (func(), error) {
	l.acquisitions++
	return func() {}, nil
}

// capturePublisher records every published event.
type capturePublisher struct {
	mu           sync.Mutex
	correlations []*models.ThreatCorrelation
	detected     []*models.Campaign
	updated      []*models.Campaign
	merged       [][2]*models.Campaign
}

func (p *capturePublisher) PublishCorrelationFound(_ context.Context, corr *models.ThreatCorrelation) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.correlations = append(p.correlations, corr)
}

func (p *capturePublisher) PublishCampaignDetected(_ context.Context, c *models.Campaign) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.detected = append(p.detected, c)
}

func (p *capturePublisher) PublishCampaignUpdated(_ context.Context, c *models.Campaign) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updated = append(p.updated, c)
}

func (p *capturePublisher) PublishCampaignMerged(_ context.Context, survivor, archived *models.Campaign) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.merged = append(p.merged, [2]*models.Campaign{survivor, archived})
}
