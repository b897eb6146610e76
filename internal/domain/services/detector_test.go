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

type detectorFixture struct {
	detector  *Detector
	flows     *fakeFlowSource
	store     *fakeCorrelationStore
	campaigns *fakeCampaignStore
	events    *capturePublisher
	locker    *noopLocker
}

func newDetectorFixture(t *testing.T, flows ...*models.AttackFlow) *detectorFixture {
	t.Helper()
	f := &detectorFixture{
		flows:     newFakeFlowSource(flows...),
		store:     newFakeCorrelationStore(),
		campaigns: newFakeCampaignStore(),
		events:    &capturePublisher{},
		locker:    &noopLocker{},
	}
	f.detector = NewDetector(f.campaigns, f.store, f.flows, newTestMatcher(), f.locker, f.events, DetectorConfig{
		CampaignDetectionThreshold: 0.65,
		CampaignMergeThreshold:     0.85,
		InactivityWindow:           30 * 24 * time.Hour,
		RecentEdgeBias:             0.1,
	}, testLogger())
	return f
}

func campaignFlows(base time.Time) []*models.AttackFlow {
	shared := models.IOC{Type: models.IOCTypeHash, Value: "deadbeef"}
	return []*models.AttackFlow{
		{ID: "flow-a", Name: "stage one", IOCs: []models.IOC{shared}, TTPs: []string{"T1059"}, DetectedAt: base},
		{ID: "flow-b", Name: "stage two", IOCs: []models.IOC{shared}, TTPs: []string{"T1071"}, DetectedAt: base.Add(6 * time.Hour)},
		{ID: "flow-c", Name: "stage three", IOCs: []models.IOC{shared}, TTPs: []string{"T1105"}, DetectedAt: base.Add(12 * time.Hour)},
	}
}

func TestDetectCampaignsClustersTransitively(t *testing.T) {
	base := time.Now().Add(-24 * time.Hour)
	f := newDetectorFixture(t, campaignFlows(base)...)

	// A-B and B-C qualify; A-C does not. All three still form one
	// campaign through transitive connectivity.
	f.store.seed("flow-a", "flow-b", 0.8, base)
	f.store.seed("flow-b", "flow-c", 0.7, base)

	outcome, err := f.detector.DetectCampaigns(context.Background())
	require.NoError(t, err)

	require.Len(t, outcome.NewCampaigns, 1)
	c := outcome.NewCampaigns[0]
	assert.Equal(t, []string{"flow-a", "flow-b", "flow-c"}, c.RelatedFlows)
	assert.Equal(t, models.CampaignStatusActive, c.Status)
	assert.Equal(t, []string{"T1059", "T1071", "T1105"}, c.SharedTTPs)
	assert.Equal(t, 1, c.IndicatorsCount, "shared hash deduplicates to one indicator")
	assert.Equal(t, base, c.FirstSeen)
	assert.Equal(t, base.Add(12*time.Hour), c.LastSeen)
	assert.Greater(t, c.ConfidenceScore, 0.65)
	assert.NotEmpty(t, c.Name)

	types := f.campaigns.eventTypes(c.ID)
	assert.Contains(t, types, models.TimelineEventCampaignCreated)
	assert.Len(t, f.events.detected, 1)
	assert.GreaterOrEqual(t, f.locker.acquisitions, 1)
}

func TestDetectCampaignsIgnoresSingletons(t *testing.T) {
	base := time.Now().Add(-24 * time.Hour)
	f := newDetectorFixture(t, campaignFlows(base)...)
	// No qualifying edges at all.
	f.store.seed("flow-a", "flow-b", 0.4, base)

	outcome, err := f.detector.DetectCampaigns(context.Background())
	require.NoError(t, err)
	assert.Empty(t, outcome.NewCampaigns)
	assert.Empty(t, outcome.UpdatedCampaigns)
}

func TestDetectCampaignsIncorporatesIntoExisting(t *testing.T) {
	base := time.Now().Add(-48 * time.Hour)
	flows := campaignFlows(base)
	f := newDetectorFixture(t, flows...)

	f.store.seed("flow-a", "flow-b", 0.8, base)
	outcome, err := f.detector.DetectCampaigns(context.Background())
	require.NoError(t, err)
	require.Len(t, outcome.NewCampaigns, 1)
	existing := outcome.NewCampaigns[0]

	// A new edge connects flow-c to the component.
	f.store.seed("flow-b", "flow-c", 0.75, base.Add(12*time.Hour))
	outcome, err = f.detector.DetectCampaigns(context.Background())
	require.NoError(t, err)

	assert.Empty(t, outcome.NewCampaigns, "growth must not fragment into a new campaign")
	require.Len(t, outcome.UpdatedCampaigns, 1)
	updated := outcome.UpdatedCampaigns[0]
	assert.Equal(t, existing.ID, updated.ID)
	assert.Equal(t, []string{"flow-a", "flow-b", "flow-c"}, updated.RelatedFlows)

	types := f.campaigns.eventTypes(existing.ID)
	assert.Contains(t, types, models.TimelineEventNewFlowAdded)
}

func TestDetectCampaignsReopensMonitoringCampaign(t *testing.T) {
	base := time.Now().Add(-48 * time.Hour)
	f := newDetectorFixture(t, campaignFlows(base)...)

	f.store.seed("flow-a", "flow-b", 0.8, base)
	outcome, err := f.detector.DetectCampaigns(context.Background())
	require.NoError(t, err)
	campaign := outcome.NewCampaigns[0]

	_, err = f.detector.UpdateStatus(context.Background(), campaign.ID, models.CampaignStatusMonitoring)
	require.NoError(t, err)

	f.store.seed("flow-b", "flow-c", 0.75, base.Add(12*time.Hour))
	_, err = f.detector.DetectCampaigns(context.Background())
	require.NoError(t, err)

	reloaded, err := f.campaigns.GetByID(context.Background(), campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignStatusActive, reloaded.Status, "new activity reopens a monitoring campaign")
}

func TestDetectCampaignsSweepsInactive(t *testing.T) {
	// Flows detected well beyond the inactivity window.
	base := time.Now().Add(-90 * 24 * time.Hour)
	f := newDetectorFixture(t, campaignFlows(base)...)
	f.store.seed("flow-a", "flow-b", 0.8, base)

	outcome, err := f.detector.DetectCampaigns(context.Background())
	require.NoError(t, err)
	require.Len(t, outcome.NewCampaigns, 1)

	reloaded, err := f.campaigns.GetByID(context.Background(), outcome.NewCampaigns[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignStatusMonitoring, reloaded.Status,
		"stale campaigns move to monitoring in the same sweep")
}

func TestDetectCampaignsAutoMergesNearDuplicates(t *testing.T) {
	now := time.Now()
	shared := models.IOC{Type: models.IOCTypeHash, Value: "deadbeef"}
	flows := []*models.AttackFlow{
		{ID: "flow-a", IOCs: []models.IOC{shared}, TTPs: []string{"T1059"}, DetectedAt: now.Add(-72 * time.Hour)},
		{ID: "flow-b", IOCs: []models.IOC{shared}, TTPs: []string{"T1059"}, DetectedAt: now.Add(-70 * time.Hour)},
		{ID: "flow-c", IOCs: []models.IOC{shared}, TTPs: []string{"T1059"}, DetectedAt: now.Add(-24 * time.Hour)},
		{ID: "flow-d", IOCs: []models.IOC{shared}, TTPs: []string{"T1059"}, DetectedAt: now.Add(-22 * time.Hour)},
	}
	f := newDetectorFixture(t, flows...)

	// Two disjoint components with identical traits.
	f.store.seed("flow-a", "flow-b", 0.8, now.Add(-70*time.Hour))
	f.store.seed("flow-c", "flow-d", 0.8, now.Add(-22*time.Hour))

	outcome, err := f.detector.DetectCampaigns(context.Background())
	require.NoError(t, err)
	require.Len(t, outcome.NewCampaigns, 2)

	all, err := f.campaigns.List(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 2)

	var survivor, archived *models.Campaign
	for _, c := range all {
		if c.Status == models.CampaignStatusArchived {
			archived = c
		} else {
			survivor = c
		}
	}
	require.NotNil(t, survivor, "one campaign survives the auto-merge")
	require.NotNil(t, archived, "the near-duplicate is archived")

	assert.Equal(t, []string{"flow-a", "flow-b", "flow-c", "flow-d"}, survivor.RelatedFlows)
	assert.True(t, survivor.FirstSeen.Before(archived.FirstSeen) || survivor.FirstSeen.Equal(archived.FirstSeen),
		"the older campaign survives")
	require.NotNil(t, archived.MergedInto)
	assert.Equal(t, survivor.ID, *archived.MergedInto)
	assert.NotEmpty(t, f.events.merged)
}

func TestMergeCampaigns(t *testing.T) {
	base := time.Now().Add(-48 * time.Hour)
	f := newDetectorFixture(t, campaignFlows(base)...)

	f.store.seed("flow-a", "flow-b", 0.8, base)
	outcome, err := f.detector.DetectCampaigns(context.Background())
	require.NoError(t, err)
	target := outcome.NewCampaigns[0]

	source := &models.Campaign{
		ID:             uuid.New(),
		Name:           "manual-cluster",
		Status:         models.CampaignStatusActive,
		RelatedFlows:   []string{"flow-c"},
		SuspectedActor: "FIN-TEST",
		Tags:           []string{"ransomware"},
		FirstSeen:      base.Add(12 * time.Hour),
		LastSeen:       base.Add(12 * time.Hour),
	}
	require.NoError(t, f.campaigns.Create(context.Background(), source))

	merged, err := f.detector.MergeCampaigns(context.Background(), source.ID, target.ID, "same infrastructure")
	require.NoError(t, err)

	assert.Equal(t, target.ID, merged.ID)
	assert.Equal(t, []string{"flow-a", "flow-b", "flow-c"}, merged.RelatedFlows)
	assert.Equal(t, "FIN-TEST", merged.SuspectedActor, "actor attribution migrates to the target")
	assert.Contains(t, merged.Tags, "ransomware")

	archivedSource, err := f.campaigns.GetByID(context.Background(), source.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignStatusArchived, archivedSource.Status)
	require.NotNil(t, archivedSource.MergedInto)
	assert.Equal(t, target.ID, *archivedSource.MergedInto)

	types := f.campaigns.eventTypes(target.ID)
	assert.Contains(t, types, models.TimelineEventCampaignMerged)
	require.Len(t, f.events.merged, 1)
	assert.Equal(t, target.ID, f.events.merged[0][0].ID)
	assert.Equal(t, source.ID, f.events.merged[0][1].ID)
}

func TestMergeCampaignsValidation(t *testing.T) {
	base := time.Now().Add(-48 * time.Hour)
	f := newDetectorFixture(t, campaignFlows(base)...)

	archived := &models.Campaign{ID: uuid.New(), Status: models.CampaignStatusArchived, RelatedFlows: []string{"flow-a"}}
	active := &models.Campaign{ID: uuid.New(), Status: models.CampaignStatusActive, RelatedFlows: []string{"flow-b"}}
	require.NoError(t, f.campaigns.Create(context.Background(), archived))
	require.NoError(t, f.campaigns.Create(context.Background(), active))

	var validation *models.ValidationError

	_, err := f.detector.MergeCampaigns(context.Background(), active.ID, active.ID, "")
	assert.ErrorAs(t, err, &validation, "self-merge is rejected")

	_, err = f.detector.MergeCampaigns(context.Background(), archived.ID, active.ID, "")
	assert.ErrorAs(t, err, &validation, "archived source is rejected")

	_, err = f.detector.MergeCampaigns(context.Background(), active.ID, archived.ID, "")
	assert.ErrorAs(t, err, &validation, "archived target is rejected")

	var notFound *models.NotFoundError
	_, err = f.detector.MergeCampaigns(context.Background(), uuid.New(), active.ID, "")
	assert.ErrorAs(t, err, &notFound)
}

func TestUpdateStatusStateMachine(t *testing.T) {
	base := time.Now().Add(-48 * time.Hour)
	f := newDetectorFixture(t, campaignFlows(base)...)

	f.store.seed("flow-a", "flow-b", 0.8, base)
	outcome, err := f.detector.DetectCampaigns(context.Background())
	require.NoError(t, err)
	campaign := outcome.NewCampaigns[0]

	// active -> resolved -> archived is legal.
	_, err = f.detector.UpdateStatus(context.Background(), campaign.ID, models.CampaignStatusResolved)
	require.NoError(t, err)
	_, err = f.detector.UpdateStatus(context.Background(), campaign.ID, models.CampaignStatusArchived)
	require.NoError(t, err)

	// Archived is terminal.
	var validation *models.ValidationError
	_, err = f.detector.UpdateStatus(context.Background(), campaign.ID, models.CampaignStatusActive)
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "status", validation.Field)
}

func TestConnectedComponentsDeterminism(t *testing.T) {
	edges := []*models.ThreatCorrelation{
		{FlowID1: "flow-d", FlowID2: "flow-e"},
		{FlowID1: "flow-b", FlowID2: "flow-a"},
		{FlowID1: "flow-a", FlowID2: "flow-c"},
	}

	components := connectedComponents(edges)
	require.Len(t, components, 2)
	assert.Equal(t, []string{"flow-a", "flow-b", "flow-c"}, components[0])
	assert.Equal(t, []string{"flow-d", "flow-e"}, components[1])
}
