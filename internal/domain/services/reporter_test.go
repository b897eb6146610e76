package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"corrlab/internal/domain/models"
)

type fakeGapProvider struct {
	severity models.Severity
	err      error
}

func (g *fakeGapProvider) UnresolvedGapSeverity(context.Context, uuid.UUID) (models.Severity, error) {
	return g.severity, g.err
}

func reporterFixture(t *testing.T, gaps GapProvider) (*Reporter, *fakeCampaignStore, *models.Campaign) {
	t.Helper()
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	flows := newFakeFlowSource(
		&models.AttackFlow{
			ID:         "flow-a",
			Name:       "initial access",
			IOCs:       []models.IOC{{Type: models.IOCTypeDomain, Value: "Evil.COM"}},
			TTPs:       []string{"T1059", "T1071"},
			Assets:     []string{"host-1", "host-2"},
			DetectedAt: base,
		},
		&models.AttackFlow{
			ID:         "flow-b",
			Name:       "persistence",
			IOCs:       []models.IOC{{Type: models.IOCTypeDomain, Value: "evil.com"}},
			TTPs:       []string{"T1059"},
			Assets:     []string{"host-2", "host-3"},
			DetectedAt: base.Add(6 * time.Hour),
		},
	)

	campaigns := newFakeCampaignStore()
	campaign := &models.Campaign{
		ID:              uuid.New(),
		Name:            "camp-under-test",
		Status:          models.CampaignStatusActive,
		Severity:        models.SeverityMedium,
		ConfidenceScore: 0.72,
		RelatedFlows:    []string{"flow-a", "flow-b"},
		SharedTTPs:      []string{"T1059", "T1071"},
		IndicatorsCount: 1,
		FirstSeen:       base,
		LastSeen:        base.Add(6 * time.Hour),
	}
	require.NoError(t, campaigns.Create(context.Background(), campaign))

	reporter := NewReporter(campaigns, flows, newTestMatcher(), gaps, testLogger())
	return reporter, campaigns, campaign
}

func TestTimelineOrdering(t *testing.T) {
	reporter, campaigns, campaign := reporterFixture(t, nil)
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	// A persisted lifecycle event at the exact moment flow-a was
	// detected: same timestamp, lifecycle must sort first.
	require.NoError(t, campaigns.AppendTimelineEvent(context.Background(), &models.CampaignTimelineEvent{
		ID:             uuid.New(),
		CampaignID:     campaign.ID,
		EventType:      models.TimelineEventCampaignCreated,
		EventTimestamp: base,
		Description:    "campaign created",
	}))

	timeline, err := reporter.Timeline(context.Background(), campaign.ID)
	require.NoError(t, err)
	require.NotEmpty(t, timeline.Events)

	for i := 1; i < len(timeline.Events); i++ {
		prev, curr := timeline.Events[i-1], timeline.Events[i]
		if prev.EventTimestamp.Equal(curr.EventTimestamp) {
			assert.LessOrEqual(t, prev.EventType.Priority(), curr.EventType.Priority(),
				"same-timestamp events order lifecycle, indicator, flow")
		} else {
			assert.True(t, prev.EventTimestamp.Before(curr.EventTimestamp))
		}
	}

	assert.Equal(t, models.TimelineEventCampaignCreated, timeline.Events[0].EventType)

	var types []models.TimelineEventType
	for _, e := range timeline.Events {
		types = append(types, e.EventType)
	}
	assert.Contains(t, types, models.TimelineEventFlowDetected)
	assert.Contains(t, types, models.TimelineEventIndicatorFirstSeen)
	assert.Contains(t, types, models.TimelineEventTTPFirstObserved)
}

func TestTimelineNormalizesIndicators(t *testing.T) {
	reporter, _, campaign := reporterFixture(t, nil)

	timeline, err := reporter.Timeline(context.Background(), campaign.ID)
	require.NoError(t, err)

	// Evil.COM and evil.com are the same indicator; only one first-seen
	// event may appear.
	count := 0
	for _, e := range timeline.Events {
		if e.EventType == models.TimelineEventIndicatorFirstSeen {
			count++
			assert.Contains(t, e.Description, "evil.com")
		}
	}
	assert.Equal(t, 1, count)
}

func TestGenerateReport(t *testing.T) {
	reporter, campaigns, campaign := reporterFixture(t, nil)

	similar := &models.Campaign{
		ID:         uuid.New(),
		Name:       "sibling",
		Status:     models.CampaignStatusResolved,
		SharedTTPs: []string{"T1059", "T1071"},
	}
	unrelated := &models.Campaign{
		ID:         uuid.New(),
		Name:       "noise",
		Status:     models.CampaignStatusActive,
		SharedTTPs: []string{"T1595"},
	}
	archived := &models.Campaign{
		ID:         uuid.New(),
		Name:       "history",
		Status:     models.CampaignStatusArchived,
		SharedTTPs: []string{"T1059", "T1071"},
	}
	for _, c := range []*models.Campaign{similar, unrelated, archived} {
		require.NoError(t, campaigns.Create(context.Background(), c))
	}

	report, err := reporter.GenerateReport(context.Background(), campaign.ID)
	require.NoError(t, err)

	assert.Equal(t, campaign.ID, report.CampaignID)
	assert.Equal(t, 2, report.ExecutiveSummary.FlowCount)
	assert.Equal(t, 2, report.ExecutiveSummary.TTPCount)
	assert.Equal(t, 0.72, report.ExecutiveSummary.Confidence)
	assert.Equal(t, models.SeverityMedium, report.ExecutiveSummary.Severity)

	// T1059 occurs in both flows, T1071 in one.
	require.Len(t, report.DetailedAnalysis.DominantTactics, 2)
	assert.Equal(t, models.TacticFrequency{TTP: "T1059", Count: 2}, report.DetailedAnalysis.DominantTactics[0])
	assert.Equal(t, models.TacticFrequency{TTP: "T1071", Count: 1}, report.DetailedAnalysis.DominantTactics[1])

	assert.Equal(t, []string{"host-1", "host-2", "host-3"}, report.DetailedAnalysis.AffectedAssets)

	require.Len(t, report.ThreatIntelligence.SimilarCampaigns, 1, "archived and low-overlap campaigns are excluded")
	assert.Equal(t, "sibling", report.ThreatIntelligence.SimilarCampaigns[0].Name)
	assert.InDelta(t, 1.0, report.ThreatIntelligence.SimilarCampaigns[0].Similarity, 1e-9)

	assert.Zero(t, report.ThreatIntelligence.AttributionConfidence, "no actor means no attribution confidence")
	assert.NotEmpty(t, report.Recommendations.Immediate)
	assert.NotEmpty(t, report.Recommendations.ShortTerm)
	assert.NotEmpty(t, report.Recommendations.LongTerm)
}

func TestGenerateReportGapSeverityRaisesRecommendations(t *testing.T) {
	reporter, _, campaign := reporterFixture(t, &fakeGapProvider{severity: models.SeverityCritical})

	report, err := reporter.GenerateReport(context.Background(), campaign.ID)
	require.NoError(t, err)

	assert.Contains(t, report.Recommendations.Immediate, "isolate affected assets from the network",
		"critical unresolved gaps escalate the immediate tier")
}

func TestGenerateReportDominantTacticsTieOrder(t *testing.T) {
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	flows := newFakeFlowSource(
		// T1105 repeated within one flow still counts once.
		&models.AttackFlow{ID: "flow-a", TTPs: []string{"T1105", "T1105", "T1003"}, DetectedAt: base},
	)
	campaigns := newFakeCampaignStore()
	campaign := &models.Campaign{
		ID:           uuid.New(),
		Status:       models.CampaignStatusActive,
		RelatedFlows: []string{"flow-a"},
	}
	require.NoError(t, campaigns.Create(context.Background(), campaign))
	reporter := NewReporter(campaigns, flows, newTestMatcher(), nil, testLogger())

	report, err := reporter.GenerateReport(context.Background(), campaign.ID)
	require.NoError(t, err)

	require.Len(t, report.DetailedAnalysis.DominantTactics, 2)
	assert.Equal(t, "T1003", report.DetailedAnalysis.DominantTactics[0].TTP, "equal counts order lexicographically")
	assert.Equal(t, 1, report.DetailedAnalysis.DominantTactics[0].Count)
}

func TestReportUnknownCampaign(t *testing.T) {
	reporter, _, _ := reporterFixture(t, nil)

	var notFound *models.NotFoundError
	_, err := reporter.GenerateReport(context.Background(), uuid.New())
	require.ErrorAs(t, err, &notFound)

	_, err = reporter.Timeline(context.Background(), uuid.New())
	require.ErrorAs(t, err, &notFound)
}
