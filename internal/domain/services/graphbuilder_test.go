package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"corrlab/internal/domain/models"
)

type captureExporter struct {
	graphs []*models.ThreatGraph
	err    error
}

func (e *captureExporter) Export(_ context.Context, g *models.ThreatGraph) error {
	e.graphs = append(e.graphs, g)
	return e.err
}

func graphFixture(t *testing.T) (*GraphBuilder, *fakeCampaignStore, *captureExporter) {
	t.Helper()
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	shared := models.IOC{Type: models.IOCTypeHash, Value: "deadbeef", Confidence: 0.9}

	flows := newFakeFlowSource(
		&models.AttackFlow{ID: "flow-a", Name: "alpha", IOCs: []models.IOC{shared}, TTPs: []string{"T1059"}, DetectedAt: base},
		&models.AttackFlow{ID: "flow-b", Name: "beta", IOCs: []models.IOC{shared}, TTPs: []string{"T1071"}, DetectedAt: base.Add(time.Hour)},
		&models.AttackFlow{ID: "flow-c", Name: "gamma", IOCs: nil, TTPs: []string{"T1595"}, DetectedAt: base.Add(2 * time.Hour)},
	)

	store := newFakeCorrelationStore()
	store.seed("flow-b", "flow-a", 0.8, base)
	store.seed("flow-a", "flow-c", 0.4, base)

	campaigns := newFakeCampaignStore()
	exporter := &captureExporter{}
	return NewGraphBuilder(flows, store, campaigns, exporter, testLogger()), campaigns, exporter
}

func TestBuildCorpusGraph(t *testing.T) {
	gb, campaigns, exporter := graphFixture(t)

	campaign := &models.Campaign{
		ID:             uuid.New(),
		Name:           "camp-1",
		Status:         models.CampaignStatusActive,
		RelatedFlows:   []string{"flow-a", "flow-b"},
		SharedTTPs:     []string{"T1059", "T1071"},
		SharedIOCs:     []models.IOC{{Type: models.IOCTypeHash, Value: "deadbeef", Confidence: 0.9}},
		SuspectedActor: "FIN-TEST",
	}
	require.NoError(t, campaigns.Create(context.Background(), campaign))
	archived := &models.Campaign{ID: uuid.New(), Name: "old", Status: models.CampaignStatusArchived}
	require.NoError(t, campaigns.Create(context.Background(), archived))

	graph, err := gb.BuildCorpusGraph(context.Background(), 0.5)
	require.NoError(t, err)

	byID := make(map[string]models.GraphNode)
	for _, n := range graph.Nodes {
		byID[n.ID] = n
	}

	// The shared hash appears in two flows and the campaign but is one
	// node.
	assert.Contains(t, byID, "ioc:hash:deadbeef")
	assert.Contains(t, byID, "flow:flow-a")
	assert.Contains(t, byID, "actor:FIN-TEST")
	assert.Contains(t, byID, "campaign:"+campaign.ID.String())
	assert.NotContains(t, byID, "campaign:"+archived.ID.String(), "archived campaigns are excluded")

	var correlationEdges, membershipEdges []models.GraphEdge
	for _, e := range graph.Edges {
		switch e.Type {
		case models.GraphEdgeCorrelation:
			correlationEdges = append(correlationEdges, e)
		case models.GraphEdgeMembership:
			membershipEdges = append(membershipEdges, e)
		}
	}

	require.Len(t, correlationEdges, 1, "the 0.4 edge is below min_score")
	assert.Equal(t, "flow:flow-a", correlationEdges[0].Source, "endpoints normalize to canonical order")
	assert.Equal(t, "flow:flow-b", correlationEdges[0].Target)
	assert.Equal(t, 0.8, correlationEdges[0].Weight)
	assert.Len(t, membershipEdges, 2)

	require.Len(t, exporter.graphs, 1, "built graphs mirror to the exporter")
}

func TestBuildCorpusGraphDeterministic(t *testing.T) {
	gb, _, _ := graphFixture(t)

	g1, err := gb.BuildCorpusGraph(context.Background(), 0)
	require.NoError(t, err)
	g2, err := gb.BuildCorpusGraph(context.Background(), 0)
	require.NoError(t, err)

	assert.Equal(t, g1.Nodes, g2.Nodes)
	assert.Equal(t, g1.Edges, g2.Edges)
}

func TestBuildCampaignGraphScopesToMembers(t *testing.T) {
	gb, campaigns, _ := graphFixture(t)

	campaign := &models.Campaign{
		ID:           uuid.New(),
		Name:         "camp-1",
		Status:       models.CampaignStatusActive,
		RelatedFlows: []string{"flow-a", "flow-b"},
	}
	require.NoError(t, campaigns.Create(context.Background(), campaign))

	graph, err := gb.BuildCampaignGraph(context.Background(), campaign.ID, 0)
	require.NoError(t, err)

	for _, n := range graph.Nodes {
		assert.NotEqual(t, "flow:flow-c", n.ID, "non-member flows stay out of the campaign graph")
	}
	for _, e := range graph.Edges {
		if e.Type == models.GraphEdgeCorrelation {
			assert.NotContains(t, e.Source, "flow-c")
			assert.NotContains(t, e.Target, "flow-c")
		}
	}
}

func TestBuildCampaignGraphValidation(t *testing.T) {
	gb, _, _ := graphFixture(t)

	var validation *models.ValidationError
	_, err := gb.BuildCampaignGraph(context.Background(), uuid.New(), 1.5)
	require.ErrorAs(t, err, &validation)

	var notFound *models.NotFoundError
	_, err = gb.BuildCampaignGraph(context.Background(), uuid.New(), 0.5)
	require.ErrorAs(t, err, &notFound)
}

func TestGraphExportFailureIsNotFatal(t *testing.T) {
	gb, _, exporter := graphFixture(t)
	exporter.err = errors.New("neo4j unavailable")

	graph, err := gb.BuildCorpusGraph(context.Background(), 0)
	require.NoError(t, err, "the in-memory graph is authoritative; export is best effort")
	assert.NotEmpty(t, graph.Nodes)
}
