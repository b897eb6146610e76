package services

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"corrlab/internal/domain/models"
	"corrlab/pkg/logger"
)

// GraphExporter mirrors a built graph into an external graph store.
// Export failures are logged, not propagated: the in-memory graph is
// the authoritative response.
type GraphExporter interface {
	Export(ctx context.Context, graph *models.ThreatGraph) error
}

// GraphBuilder assembles the derived threat graph from flows,
// correlations, and campaigns. Graphs are rebuilt on demand and never
// stored as authoritative state.
type GraphBuilder struct {
	flows        FlowSource
	correlations CorrelationStore
	campaigns    CampaignStore
	exporter     GraphExporter
	logger       *logger.Logger
}

// NewGraphBuilder creates a new GraphBuilder. exporter may be nil.
func NewGraphBuilder(flows FlowSource, correlations CorrelationStore, campaigns CampaignStore, exporter GraphExporter, log *logger.Logger) *GraphBuilder {
	return &GraphBuilder{
		flows:        flows,
		correlations: correlations,
		campaigns:    campaigns,
		exporter:     exporter,
		logger:       log.WithComponent("graphbuilder"),
	}
}

// BuildCampaignGraph builds the graph scoped to one campaign: its
// member flows, their IOCs and TTPs, the suspected actor, and the
// correlation edges among members at or above minScore.
func (g *GraphBuilder) BuildCampaignGraph(ctx context.Context, campaignID uuid.UUID, minScore float64) (*models.ThreatGraph, error) {
	if minScore < 0 || minScore > 1 {
		return nil, &models.ValidationError{Field: "min_score", Reason: "must be in [0, 1]"}
	}

	campaign, err := g.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	flows, err := g.flows.ListFlows(ctx, campaign.RelatedFlows)
	if err != nil {
		return nil, &models.PersistenceError{Op: "list campaign flows", Err: err}
	}
	edges, err := g.correlations.Query(ctx, minScore, campaign.RelatedFlows)
	if err != nil {
		return nil, &models.PersistenceError{Op: "query correlations", Err: err}
	}

	b := newGraphAssembler()
	b.addCampaign(campaign)
	memberSet := make(map[string]struct{}, len(campaign.RelatedFlows))
	for _, id := range campaign.RelatedFlows {
		memberSet[id] = struct{}{}
	}
	for _, f := range flows {
		b.addFlow(f)
		b.addMembership(campaign, f.ID)
	}
	for _, e := range edges {
		if _, ok := memberSet[e.FlowID1]; !ok {
			continue
		}
		if _, ok := memberSet[e.FlowID2]; !ok {
			continue
		}
		b.addCorrelation(e)
	}

	graph := b.finish()
	g.export(ctx, graph)
	return graph, nil
}

// BuildCorpusGraph builds the graph over the whole corpus: every flow,
// every correlation edge at or above minScore, and every non-archived
// campaign with its membership and shared-trait edges.
func (g *GraphBuilder) BuildCorpusGraph(ctx context.Context, minScore float64) (*models.ThreatGraph, error) {
	if minScore < 0 || minScore > 1 {
		return nil, &models.ValidationError{Field: "min_score", Reason: "must be in [0, 1]"}
	}

	flows, err := g.flows.ListFlows(ctx, nil)
	if err != nil {
		return nil, &models.PersistenceError{Op: "list flows", Err: err}
	}
	edges, err := g.correlations.Query(ctx, minScore, nil)
	if err != nil {
		return nil, &models.PersistenceError{Op: "query correlations", Err: err}
	}
	campaigns, err := g.campaigns.List(ctx,
		models.CampaignStatusActive, models.CampaignStatusMonitoring, models.CampaignStatusResolved)
	if err != nil {
		return nil, &models.PersistenceError{Op: "list campaigns", Err: err}
	}

	b := newGraphAssembler()
	for _, f := range flows {
		b.addFlow(f)
	}
	for _, e := range edges {
		b.addCorrelation(e)
	}
	for _, c := range campaigns {
		b.addCampaign(c)
		for _, flowID := range c.RelatedFlows {
			b.addMembership(c, flowID)
		}
	}

	graph := b.finish()
	g.export(ctx, graph)
	return graph, nil
}

func (g *GraphBuilder) export(ctx context.Context, graph *models.ThreatGraph) {
	if g.exporter == nil {
		return
	}
	if err := g.exporter.Export(ctx, graph); err != nil {
		g.logger.Warn().Err(err).Msg("graph export failed")
	}
}

// graphAssembler deduplicates nodes by ID and edges by the
// (source, target, type) triple. Correlation edges are undirected, so
// their endpoints are normalized to canonical order before keying.
type graphAssembler struct {
	nodes     map[string]models.GraphNode
	nodeOrder []string
	edges     map[string]models.GraphEdge
	edgeOrder []string
}

func newGraphAssembler() *graphAssembler {
	return &graphAssembler{
		nodes: make(map[string]models.GraphNode),
		edges: make(map[string]models.GraphEdge),
	}
}

func flowNodeID(flowID string) string            { return "flow:" + flowID }
func iocNodeID(ioc models.IOC) string            { return "ioc:" + string(ioc.Type) + ":" + ioc.Value }
func ttpNodeID(ttp string) string                { return "ttp:" + ttp }
func actorNodeID(actor string) string            { return "actor:" + actor }
func campaignNodeID(campaignID uuid.UUID) string { return "campaign:" + campaignID.String() }

func (b *graphAssembler) addNode(n models.GraphNode) {
	if _, ok := b.nodes[n.ID]; ok {
		return
	}
	b.nodes[n.ID] = n
	b.nodeOrder = append(b.nodeOrder, n.ID)
}

func (b *graphAssembler) addEdge(e models.GraphEdge) {
	key := e.Source + "|" + e.Target + "|" + string(e.Type)
	if _, ok := b.edges[key]; ok {
		return
	}
	e.ID = key
	b.edges[key] = e
	b.edgeOrder = append(b.edgeOrder, key)
}

func (b *graphAssembler) addFlow(f *models.AttackFlow) {
	fid := flowNodeID(f.ID)
	b.addNode(models.GraphNode{
		ID:    fid,
		Type:  models.GraphNodeFlow,
		Label: f.Name,
		Properties: map[string]any{
			"detected_at": f.DetectedAt,
			"ioc_count":   len(f.IOCs),
			"ttp_count":   len(f.TTPs),
		},
	})
	for _, ioc := range f.IOCs {
		iid := iocNodeID(ioc)
		b.addNode(models.GraphNode{
			ID:    iid,
			Type:  models.GraphNodeIOC,
			Label: ioc.Value,
			Properties: map[string]any{
				"ioc_type":   string(ioc.Type),
				"confidence": ioc.Confidence,
			},
		})
		b.addEdge(models.GraphEdge{Source: fid, Target: iid, Type: models.GraphEdgeShares, Weight: 1.0, Label: "observed"})
	}
	for _, ttp := range f.TTPs {
		tid := ttpNodeID(ttp)
		b.addNode(models.GraphNode{ID: tid, Type: models.GraphNodeTTP, Label: ttp})
		b.addEdge(models.GraphEdge{Source: fid, Target: tid, Type: models.GraphEdgeShares, Weight: 1.0, Label: "uses"})
	}
}

// addCorrelation adds an undirected flow-flow edge; endpoints are put
// in canonical order so A-B and B-A collapse to one edge.
func (b *graphAssembler) addCorrelation(e *models.ThreatCorrelation) {
	key := models.NewPairKey(e.FlowID1, e.FlowID2)
	b.addEdge(models.GraphEdge{
		Source: flowNodeID(key.Low),
		Target: flowNodeID(key.High),
		Type:   models.GraphEdgeCorrelation,
		Weight: e.Score,
		Label:  string(e.Type),
	})
}

func (b *graphAssembler) addCampaign(c *models.Campaign) {
	cid := campaignNodeID(c.ID)
	b.addNode(models.GraphNode{
		ID:    cid,
		Type:  models.GraphNodeCampaign,
		Label: c.Name,
		Properties: map[string]any{
			"status":     string(c.Status),
			"severity":   string(c.Severity),
			"confidence": c.ConfidenceScore,
			"flow_count": len(c.RelatedFlows),
		},
	})
	for _, ioc := range c.SharedIOCs {
		iid := iocNodeID(ioc)
		b.addNode(models.GraphNode{
			ID:    iid,
			Type:  models.GraphNodeIOC,
			Label: ioc.Value,
			Properties: map[string]any{
				"ioc_type":   string(ioc.Type),
				"confidence": ioc.Confidence,
			},
		})
		b.addEdge(models.GraphEdge{Source: cid, Target: iid, Type: models.GraphEdgeShares, Weight: 1.0, Label: "shares"})
	}
	for _, ttp := range c.SharedTTPs {
		tid := ttpNodeID(ttp)
		b.addNode(models.GraphNode{ID: tid, Type: models.GraphNodeTTP, Label: ttp})
		b.addEdge(models.GraphEdge{Source: cid, Target: tid, Type: models.GraphEdgeShares, Weight: 1.0, Label: "shares"})
	}
	if c.SuspectedActor != "" {
		aid := actorNodeID(c.SuspectedActor)
		b.addNode(models.GraphNode{ID: aid, Type: models.GraphNodeActor, Label: c.SuspectedActor})
		b.addEdge(models.GraphEdge{Source: cid, Target: aid, Type: models.GraphEdgeShares, Weight: 1.0, Label: "attributed"})
	}
}

func (b *graphAssembler) addMembership(c *models.Campaign, flowID string) {
	b.addEdge(models.GraphEdge{
		Source: flowNodeID(flowID),
		Target: campaignNodeID(c.ID),
		Type:   models.GraphEdgeMembership,
		Weight: 1.0,
		Label:  "member",
	})
}

// finish produces the graph with deterministic ordering: nodes and
// edges sorted by ID.
func (b *graphAssembler) finish() *models.ThreatGraph {
	nodes := make([]models.GraphNode, 0, len(b.nodes))
	for _, id := range b.nodeOrder {
		nodes = append(nodes, b.nodes[id])
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })

	edges := make([]models.GraphEdge, 0, len(b.edges))
	for _, key := range b.edgeOrder {
		edges = append(edges, b.edges[key])
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].ID < edges[j].ID })

	return &models.ThreatGraph{
		Nodes:       nodes,
		Edges:       edges,
		GeneratedAt: time.Now(),
	}
}
