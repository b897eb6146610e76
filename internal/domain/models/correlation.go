package models

import (
	"fmt"
	"math"
	"time"
)

// CorrelationType identifies which factor dominated a correlation
type CorrelationType string

const (
	CorrelationTypeIOC            CorrelationType = "ioc_overlap"
	CorrelationTypeTTP            CorrelationType = "ttp_similarity"
	CorrelationTypeTemporal       CorrelationType = "temporal"
	CorrelationTypeInfrastructure CorrelationType = "infrastructure"
	CorrelationTypeMultiFactor    CorrelationType = "multi_factor"
)

// Recommendation is the suggested follow-up action for a scored pair
type Recommendation string

const (
	RecommendationCreateCampaign Recommendation = "create_campaign"
	RecommendationAddToExisting  Recommendation = "add_to_existing"
	RecommendationNoAction       Recommendation = "no_action"
)

// PairKey is the unordered key identifying a flow pair. Low is always
// the lexicographically smaller flow ID so (A,B) and (B,A) map to the
// same key.
type PairKey struct {
	Low  string
	High string
}

// NewPairKey builds the canonical key for two flow IDs.
func NewPairKey(flowID1, flowID2 string) PairKey {
	if flowID1 <= flowID2 {
		return PairKey{Low: flowID1, High: flowID2}
	}
	return PairKey{Low: flowID2, High: flowID1}
}

// String renders the key as "low|high".
func (k PairKey) String() string {
	return k.Low + "|" + k.High
}

// ThreatCorrelation is a persisted correlation between two flows.
// Recommendation is derived per analysis run and never persisted.
type ThreatCorrelation struct {
	FlowID1          string          `json:"flow_id_1" db:"flow_id_low"`
	FlowID2          string          `json:"flow_id_2" db:"flow_id_high"`
	Score            float64         `json:"correlation_score" db:"score"`
	Type             CorrelationType `json:"correlation_type" db:"correlation_type"`
	SharedIndicators []string        `json:"shared_indicators" db:"shared_indicators"`
	Recommendation   Recommendation  `json:"recommendation,omitempty" db:"-"`
	DetectedAt       time.Time       `json:"detected_at" db:"detected_at"`
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
}

// Key returns the unordered pair key for this correlation.
func (c *ThreatCorrelation) Key() PairKey {
	return NewPairKey(c.FlowID1, c.FlowID2)
}

// ScoringWeights configure the four correlation factors. The weights
// must sum to 1.0 (within 1e-6).
type ScoringWeights struct {
	IOCMatch       float64 `json:"ioc_match_weight" mapstructure:"ioc_match"`
	TTPMatch       float64 `json:"ttp_match_weight" mapstructure:"ttp_match"`
	Temporal       float64 `json:"temporal_weight" mapstructure:"temporal"`
	Infrastructure float64 `json:"infrastructure_weight" mapstructure:"infrastructure"`
}

// DefaultScoringWeights returns the default factor weights.
func DefaultScoringWeights() ScoringWeights {
	return ScoringWeights{
		IOCMatch:       0.5,
		TTPMatch:       0.2,
		Temporal:       0.2,
		Infrastructure: 0.1,
	}
}

// Validate checks that the weights sum to 1.0.
func (w ScoringWeights) Validate() error {
	sum := w.IOCMatch + w.TTPMatch + w.Temporal + w.Infrastructure
	if math.Abs(sum-1.0) > 1e-6 {
		return &ValidationError{
			Field:  "weights",
			Reason: fmt.Sprintf("factor weights must sum to 1.0, got %.6f", sum),
		}
	}
	return nil
}

// PairScore holds the component and overall scores for one flow pair.
type PairScore struct {
	FlowID1             string          `json:"flow_id_1"`
	FlowID2             string          `json:"flow_id_2"`
	IOCOverlap          float64         `json:"ioc_overlap"`
	TTPSimilarity       float64         `json:"ttp_similarity"`
	TemporalProximity   float64         `json:"temporal_proximity"`
	InfrastructureScore float64         `json:"infrastructure_score"`
	Overall             float64         `json:"overall"`
	Type                CorrelationType `json:"correlation_type"`
	SharedIndicators    []string        `json:"shared_indicators"`
	Recommendation      Recommendation  `json:"recommendation"`
}

// SkippedPair records a flow pair that could not be scored or persisted.
type SkippedPair struct {
	FlowID1 string `json:"flow_id_1"`
	FlowID2 string `json:"flow_id_2"`
	Reason  string `json:"reason"`
}

// CorrelationResult is the outcome of a correlation analysis run.
// CampaignDetection carries the campaign detection pass that runs after
// new correlations are persisted; it is nil when nothing was persisted.
type CorrelationResult struct {
	Correlations       []*ThreatCorrelation `json:"correlations"`
	TotalFlowsAnalyzed int                  `json:"total_flows_analyzed"`
	CorrelationsFound  int                  `json:"correlations_found"`
	AverageScore       float64              `json:"average_score"`
	TopCorrelations    []*ThreatCorrelation `json:"top_correlations"`
	CampaignDetection  *DetectionOutcome    `json:"campaign_detection,omitempty"`
	Partial            bool                 `json:"partial"`
	SkippedPairs       []SkippedPair        `json:"skipped_pairs,omitempty"`
	ProcessingTime     time.Duration        `json:"processing_time"`
	GeneratedAt        time.Time            `json:"generated_at"`
}

// CorrelationMatrix is a symmetric n x n grid of pair scores for
// visualization. Scores[i][j] is the score between FlowIDs[i] and
// FlowIDs[j]; the diagonal is 1.0.
type CorrelationMatrix struct {
	FlowIDs []string    `json:"flow_ids"`
	Scores  [][]float64 `json:"scores"`
}
