package models

import (
	"time"

	"github.com/google/uuid"
)

// CampaignTimeline is the merged chronological narrative for a
// campaign: lifecycle events, indicator/TTP first-seen events, and flow
// detections in one ordered sequence.
type CampaignTimeline struct {
	CampaignID  uuid.UUID               `json:"campaign_id"`
	Events      []CampaignTimelineEvent `json:"events"`
	GeneratedAt time.Time               `json:"generated_at"`
}

// TacticFrequency records how often a technique occurred across the
// campaign's member flows.
type TacticFrequency struct {
	TTP   string `json:"ttp"`
	Count int    `json:"count"`
}

// SimilarCampaign references a campaign whose shared TTP set overlaps
// the reported campaign at Jaccard similarity >= 0.5.
type SimilarCampaign struct {
	CampaignID uuid.UUID `json:"campaign_id"`
	Name       string    `json:"name"`
	Similarity float64   `json:"similarity"`
}

// ExecutiveSummary condenses the campaign's headline numbers.
type ExecutiveSummary struct {
	FlowCount       int            `json:"flow_count"`
	IndicatorsCount int            `json:"indicators_count"`
	TTPCount        int            `json:"ttp_count"`
	Confidence      float64        `json:"confidence"`
	Severity        Severity       `json:"severity"`
	Status          CampaignStatus `json:"status"`
	FirstSeen       time.Time      `json:"first_seen"`
	LastSeen        time.Time      `json:"last_seen"`
}

// DetailedAnalysis holds the per-campaign analytical breakdown.
type DetailedAnalysis struct {
	DominantTactics []TacticFrequency `json:"dominant_tactics"`
	AffectedAssets  []string          `json:"affected_assets"`
}

// ThreatIntelligence holds attribution and related-campaign context.
type ThreatIntelligence struct {
	SuspectedActor        string            `json:"suspected_actor,omitempty"`
	AttributionConfidence float64           `json:"attribution_confidence"`
	SimilarCampaigns      []SimilarCampaign `json:"similar_campaigns,omitempty"`
}

// Recommendations are three-tier response actions.
type Recommendations struct {
	Immediate []string `json:"immediate"`
	ShortTerm []string `json:"short_term"`
	LongTerm  []string `json:"long_term"`
}

// CampaignReport is the structured report for one campaign.
type CampaignReport struct {
	CampaignID         uuid.UUID          `json:"campaign_id"`
	CampaignName       string             `json:"campaign_name"`
	ExecutiveSummary   ExecutiveSummary   `json:"executive_summary"`
	DetailedAnalysis   DetailedAnalysis   `json:"detailed_analysis"`
	ThreatIntelligence ThreatIntelligence `json:"threat_intelligence"`
	Recommendations    Recommendations    `json:"recommendations"`
	GeneratedAt        time.Time          `json:"generated_at"`
}
