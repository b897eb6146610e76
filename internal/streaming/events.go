package streaming

import (
	"time"

	"github.com/google/uuid"

	"corrlab/internal/domain/models"
)

// EventType represents the type of engine event
type EventType string

const (
	EventTypeCorrelationFound EventType = "correlation_found"
	EventTypeCampaignDetected EventType = "campaign_detected"
	EventTypeCampaignUpdated  EventType = "campaign_updated"
	EventTypeCampaignMerged   EventType = "campaign_merged"
)

// EngineEvent is a real-time engine lifecycle event.
type EngineEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	// Correlation details
	FlowID1          string  `json:"flow_id_1,omitempty"`
	FlowID2          string  `json:"flow_id_2,omitempty"`
	CorrelationScore float64 `json:"correlation_score,omitempty"`
	CorrelationType  string  `json:"correlation_type,omitempty"`

	// Campaign details
	CampaignID       string          `json:"campaign_id,omitempty"`
	CampaignName     string          `json:"campaign_name,omitempty"`
	CampaignStatus   string          `json:"campaign_status,omitempty"`
	Severity         models.Severity `json:"severity,omitempty"`
	Confidence       float64         `json:"confidence,omitempty"`
	FlowCount        int             `json:"flow_count,omitempty"`
	MergedCampaignID string          `json:"merged_campaign_id,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// NewCorrelationEvent creates an event from a persisted correlation
func NewCorrelationEvent(corr *models.ThreatCorrelation) *EngineEvent {
	return &EngineEvent{
		ID:               uuid.New().String(),
		Type:             EventTypeCorrelationFound,
		Timestamp:        time.Now(),
		FlowID1:          corr.FlowID1,
		FlowID2:          corr.FlowID2,
		CorrelationScore: corr.Score,
		CorrelationType:  string(corr.Type),
	}
}

// NewCampaignEvent creates a campaign lifecycle event
func NewCampaignEvent(eventType EventType, c *models.Campaign) *EngineEvent {
	return &EngineEvent{
		ID:             uuid.New().String(),
		Type:           eventType,
		Timestamp:      time.Now(),
		CampaignID:     c.ID.String(),
		CampaignName:   c.Name,
		CampaignStatus: string(c.Status),
		Severity:       c.Severity,
		Confidence:     c.ConfidenceScore,
		FlowCount:      len(c.RelatedFlows),
	}
}

// Subscription holds a client's event filter preferences
type Subscription struct {
	// Filter by event types (empty = all)
	Types []EventType `json:"types,omitempty"`

	// Filter by minimum campaign severity (empty = all)
	MinSeverity models.Severity `json:"min_severity,omitempty"`

	// Filter by campaigns (empty = all)
	CampaignIDs []string `json:"campaign_ids,omitempty"`
}

// Matches checks if an event passes the subscription filters
func (s *Subscription) Matches(event *EngineEvent) bool {
	if len(s.Types) > 0 {
		found := false
		for _, t := range s.Types {
			if t == event.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if s.MinSeverity != "" && event.Severity != "" {
		severityOrder := map[models.Severity]int{
			models.SeverityLow:      1,
			models.SeverityMedium:   2,
			models.SeverityHigh:     3,
			models.SeverityCritical: 4,
		}
		if severityOrder[event.Severity] < severityOrder[s.MinSeverity] {
			return false
		}
	}

	if len(s.CampaignIDs) > 0 {
		found := false
		for _, id := range s.CampaignIDs {
			if id == event.CampaignID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	return true
}
