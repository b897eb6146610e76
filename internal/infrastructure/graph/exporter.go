package graph

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"corrlab/internal/domain/models"
	"corrlab/pkg/logger"
)

// Exporter mirrors built threat graphs into Neo4j for ad-hoc Cypher
// exploration. The mirror is best-effort: the in-memory graph returned
// to callers stays authoritative.
type Exporter struct {
	client *Neo4jClient
	logger *logger.Logger
}

// NewExporter creates a new graph exporter
func NewExporter(client *Neo4jClient, log *logger.Logger) *Exporter {
	return &Exporter{
		client: client,
		logger: log.WithComponent("graph-exporter"),
	}
}

var nodeLabels = map[models.GraphNodeType]string{
	models.GraphNodeFlow:     "Flow",
	models.GraphNodeIOC:      "IOC",
	models.GraphNodeTTP:      "TTP",
	models.GraphNodeActor:    "Actor",
	models.GraphNodeCampaign: "Campaign",
}

var edgeRelations = map[models.GraphEdgeType]string{
	models.GraphEdgeCorrelation: "CORRELATED_WITH",
	models.GraphEdgeMembership:  "MEMBER_OF",
	models.GraphEdgeShares:      "SHARES",
}

// Export upserts the graph's nodes and edges with UNWIND MERGE batches,
// one batch per node label and per relationship type.
func (e *Exporter) Export(ctx context.Context, graph *models.ThreatGraph) error {
	nodesByLabel := make(map[string][]map[string]any)
	for _, n := range graph.Nodes {
		label, ok := nodeLabels[n.Type]
		if !ok {
			continue
		}
		nodesByLabel[label] = append(nodesByLabel[label], map[string]any{
			"id":    n.ID,
			"label": n.Label,
			"props": encodeProps(n.Properties),
		})
	}

	edgesByRelation := make(map[string][]map[string]any)
	for _, edge := range graph.Edges {
		relation, ok := edgeRelations[edge.Type]
		if !ok {
			continue
		}
		edgesByRelation[relation] = append(edgesByRelation[relation], map[string]any{
			"source": edge.Source,
			"target": edge.Target,
			"weight": edge.Weight,
			"label":  edge.Label,
		})
	}

	_, err := e.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for label, batch := range nodesByLabel {
			cypher := fmt.Sprintf(`
				UNWIND $batch AS row
				MERGE (n:%s {id: row.id})
				SET n.label = row.label, n.props = row.props`, label)
			if _, err := tx.Run(ctx, cypher, map[string]any{"batch": batch}); err != nil {
				return nil, fmt.Errorf("failed to merge %s nodes: %w", label, err)
			}
		}
		for relation, batch := range edgesByRelation {
			cypher := fmt.Sprintf(`
				UNWIND $batch AS row
				MATCH (a {id: row.source})
				MATCH (b {id: row.target})
				MERGE (a)-[r:%s]->(b)
				SET r.weight = row.weight, r.label = row.label`, relation)
			if _, err := tx.Run(ctx, cypher, map[string]any{"batch": batch}); err != nil {
				return nil, fmt.Errorf("failed to merge %s relationships: %w", relation, err)
			}
		}
		return nil, nil
	})
	if err != nil {
		return err
	}

	e.logger.Debug().
		Int("nodes", len(graph.Nodes)).
		Int("edges", len(graph.Edges)).
		Msg("graph mirrored to Neo4j")
	return nil
}

// encodeProps flattens arbitrary node properties to a JSON string,
// since Neo4j properties cannot hold nested maps.
func encodeProps(props map[string]any) string {
	if len(props) == 0 {
		return ""
	}
	data, err := json.Marshal(props)
	if err != nil {
		return ""
	}
	return string(data)
}
