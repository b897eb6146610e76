package models

import "time"

// GraphNodeType represents types of nodes in the threat graph
type GraphNodeType string

const (
	GraphNodeFlow     GraphNodeType = "flow"
	GraphNodeIOC      GraphNodeType = "ioc"
	GraphNodeTTP      GraphNodeType = "ttp"
	GraphNodeActor    GraphNodeType = "actor"
	GraphNodeCampaign GraphNodeType = "campaign"
)

// GraphEdgeType represents types of edges in the threat graph
type GraphEdgeType string

const (
	// flow - flow, weight = correlation score
	GraphEdgeCorrelation GraphEdgeType = "correlation"
	// flow - campaign, weight 1.0
	GraphEdgeMembership GraphEdgeType = "membership"
	// campaign - ioc / campaign - ttp / campaign - actor
	GraphEdgeShares GraphEdgeType = "shares"
)

// GraphNode is a node in the derived threat graph.
type GraphNode struct {
	ID         string         `json:"id"`
	Type       GraphNodeType  `json:"type"`
	Label      string         `json:"label"`
	Properties map[string]any `json:"properties,omitempty"`
}

// GraphEdge is an edge in the derived threat graph.
type GraphEdge struct {
	ID     string        `json:"id"`
	Source string        `json:"source"`
	Target string        `json:"target"`
	Type   GraphEdgeType `json:"type"`
	Weight float64       `json:"weight"`
	Label  string        `json:"label,omitempty"`
}

// ThreatGraph is a derived, read-only node/edge view over flows, IOCs,
// TTPs, actors, and campaigns. It is rebuilt on demand and never
// persisted as authoritative state.
type ThreatGraph struct {
	Nodes       []GraphNode `json:"nodes"`
	Edges       []GraphEdge `json:"edges"`
	GeneratedAt time.Time   `json:"generated_at"`
}
