package models

import (
	"time"

	"github.com/google/uuid"
)

// CampaignStatus represents the lifecycle state of a campaign
type CampaignStatus string

const (
	CampaignStatusActive     CampaignStatus = "active"
	CampaignStatusMonitoring CampaignStatus = "monitoring"
	CampaignStatusResolved   CampaignStatus = "resolved"
	CampaignStatusArchived   CampaignStatus = "archived"
)

// IsOpen reports whether the campaign can still incorporate flows.
func (s CampaignStatus) IsOpen() bool {
	return s == CampaignStatusActive || s == CampaignStatusMonitoring
}

// CanTransitionTo validates the campaign state machine:
// active -> monitoring -> resolved -> archived, with active/monitoring
// also able to archive directly (merge or explicit archive). Archived
// is terminal.
func (s CampaignStatus) CanTransitionTo(next CampaignStatus) bool {
	if s == next {
		return false
	}
	switch s {
	case CampaignStatusActive:
		return next == CampaignStatusMonitoring || next == CampaignStatusResolved || next == CampaignStatusArchived
	case CampaignStatusMonitoring:
		return next == CampaignStatusActive || next == CampaignStatusResolved || next == CampaignStatusArchived
	case CampaignStatusResolved:
		return next == CampaignStatusArchived
	case CampaignStatusArchived:
		return false
	}
	return false
}

// Severity represents the campaign severity level
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Campaign is a cluster of flows believed to originate from the same
// intrusion or actor. FirstSeen/LastSeen only ever widen; RelatedFlows
// only grows except when the campaign is archived by merge, in which
// case its data migrates to the merge target.
type Campaign struct {
	ID              uuid.UUID      `json:"id" db:"id"`
	Name            string         `json:"name" db:"name"`
	ConfidenceScore float64        `json:"confidence_score" db:"confidence_score"`
	Status          CampaignStatus `json:"status" db:"status"`
	Severity        Severity       `json:"severity" db:"severity"`
	FirstSeen       time.Time      `json:"first_seen" db:"first_seen"`
	LastSeen        time.Time      `json:"last_seen" db:"last_seen"`
	RelatedFlows    []string       `json:"related_flows" db:"related_flows"`
	SharedTTPs      []string       `json:"shared_ttps" db:"shared_ttps"`
	SharedIOCs      []IOC          `json:"shared_iocs" db:"shared_iocs"`
	SuspectedActor  string         `json:"suspected_actor,omitempty" db:"suspected_actor"`
	IndicatorsCount int            `json:"indicators_count" db:"indicators_count"`
	Tags            []string       `json:"tags,omitempty" db:"tags"`

	// Set when the campaign is archived by merging into another one.
	MergedInto *uuid.UUID `json:"merged_into,omitempty" db:"merged_into"`

	// Optimistic concurrency control; bumped on every update.
	Version int64 `json:"version" db:"version"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ContainsFlow reports whether the flow is already a campaign member.
func (c *Campaign) ContainsFlow(flowID string) bool {
	for _, id := range c.RelatedFlows {
		if id == flowID {
			return true
		}
	}
	return false
}

// CampaignIndicator is a derived per-campaign IOC occurrence record,
// recomputed whenever membership changes.
type CampaignIndicator struct {
	CampaignID      uuid.UUID `json:"campaign_id" db:"campaign_id"`
	Type            IOCType   `json:"type" db:"ioc_type"`
	Value           string    `json:"value" db:"ioc_value"`
	OccurrenceCount int       `json:"occurrence_count" db:"occurrence_count"`
	SourceFlows     []string  `json:"source_flows" db:"source_flows"`
	FirstSeen       time.Time `json:"first_seen" db:"first_seen"`
	LastSeen        time.Time `json:"last_seen" db:"last_seen"`
}

// CampaignTTP is a derived per-campaign technique occurrence record,
// recomputed whenever membership changes.
type CampaignTTP struct {
	CampaignID      uuid.UUID `json:"campaign_id" db:"campaign_id"`
	TTP             string    `json:"ttp" db:"ttp"`
	OccurrenceCount int       `json:"occurrence_count" db:"occurrence_count"`
	SourceFlows     []string  `json:"source_flows" db:"source_flows"`
	FirstSeen       time.Time `json:"first_seen" db:"first_seen"`
	LastSeen        time.Time `json:"last_seen" db:"last_seen"`
}

// TimelineEventType classifies campaign timeline events
type TimelineEventType string

const (
	TimelineEventCampaignCreated    TimelineEventType = "campaign_created"
	TimelineEventNewFlowAdded       TimelineEventType = "new_flow_added"
	TimelineEventCampaignMerged     TimelineEventType = "campaign_merged"
	TimelineEventStatusChanged      TimelineEventType = "status_changed"
	TimelineEventIndicatorFirstSeen TimelineEventType = "indicator_first_seen"
	TimelineEventTTPFirstObserved   TimelineEventType = "ttp_first_observed"
	TimelineEventFlowDetected       TimelineEventType = "flow_detected"
)

// Priority orders events with identical timestamps: lifecycle events
// before indicator events before flow events.
func (t TimelineEventType) Priority() int {
	switch t {
	case TimelineEventCampaignCreated, TimelineEventNewFlowAdded,
		TimelineEventCampaignMerged, TimelineEventStatusChanged:
		return 0
	case TimelineEventIndicatorFirstSeen, TimelineEventTTPFirstObserved:
		return 1
	default:
		return 2
	}
}

// CampaignTimelineEvent is one entry in the append-only campaign audit
// trail. Events are never mutated or deleted.
type CampaignTimelineEvent struct {
	ID             uuid.UUID         `json:"id" db:"id"`
	CampaignID     uuid.UUID         `json:"campaign_id" db:"campaign_id"`
	EventType      TimelineEventType `json:"event_type" db:"event_type"`
	EventTimestamp time.Time         `json:"event_timestamp" db:"event_timestamp"`
	Description    string            `json:"description" db:"description"`
	Metadata       map[string]any    `json:"metadata,omitempty" db:"metadata"`
	CreatedAt      time.Time         `json:"created_at" db:"created_at"`
}

// DetectionOutcome is the result of one campaign detection run.
type DetectionOutcome struct {
	NewCampaigns     []*Campaign `json:"new_campaigns"`
	UpdatedCampaigns []*Campaign `json:"updated_campaigns"`
}
