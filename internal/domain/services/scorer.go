package services

import (
	"math"
	"sort"

	"corrlab/internal/domain/models"
	"corrlab/pkg/logger"
)

// ScorerConfig holds correlation scoring policy
type ScorerConfig struct {
	Weights                    models.ScoringWeights
	MaxTemporalDistanceHours   float64
	CampaignDetectionThreshold float64
	MinCorrelationScore        float64
}

// Scorer combines four weighted factor scores into one correlation
// score for a flow pair. Scoring is symmetric: Score(A,B) and
// Score(B,A) are bit-identical.
type Scorer struct {
	weights           models.ScoringWeights
	maxTemporalHours  float64
	campaignThreshold float64
	minScore          float64
	matcher           *Matcher
	logger            *logger.Logger
}

// NewScorer creates a new Scorer. It rejects weight configurations
// whose sum deviates from 1.0 by more than 1e-6.
func NewScorer(cfg ScorerConfig, matcher *Matcher, log *logger.Logger) (*Scorer, error) {
	if err := cfg.Weights.Validate(); err != nil {
		return nil, err
	}
	if cfg.MaxTemporalDistanceHours <= 0 {
		cfg.MaxTemporalDistanceHours = 168
	}
	if cfg.CampaignDetectionThreshold <= 0 {
		cfg.CampaignDetectionThreshold = 0.65
	}
	if cfg.MinCorrelationScore <= 0 {
		cfg.MinCorrelationScore = 0.3
	}
	return &Scorer{
		weights:           cfg.Weights,
		maxTemporalHours:  cfg.MaxTemporalDistanceHours,
		campaignThreshold: cfg.CampaignDetectionThreshold,
		minScore:          cfg.MinCorrelationScore,
		matcher:           matcher,
		logger:            log.WithComponent("scorer"),
	}, nil
}

// CampaignDetectionThreshold returns the configured threshold above
// which a pair is strong enough to seed a campaign.
func (s *Scorer) CampaignDetectionThreshold() float64 {
	return s.campaignThreshold
}

// MinCorrelationScore returns the configured persistence floor.
func (s *Scorer) MinCorrelationScore() float64 {
	return s.minScore
}

// Score computes the correlation score for a flow pair.
func (s *Scorer) Score(f1, f2 *models.AttackFlow) (*models.PairScore, error) {
	if f1 == nil || f2 == nil {
		return nil, &models.ValidationError{Field: "flows", Reason: "both flows are required"}
	}
	if err := validateFlow(f1); err != nil {
		return nil, err
	}
	if err := validateFlow(f2); err != nil {
		return nil, err
	}

	iocOverlap := s.matcher.WeightedIOCScore(f1.IOCs, f2.IOCs)
	ttpSimilarity := jaccard(f1.TTPs, f2.TTPs)
	temporal := s.temporalProximity(f1, f2)
	infra := s.matcher.InfrastructureScore(f1.IOCs, f2.IOCs)

	overall := clamp(
		s.weights.IOCMatch*iocOverlap+
			s.weights.TTPMatch*ttpSimilarity+
			s.weights.Temporal*temporal+
			s.weights.Infrastructure*infra,
		0, 1)

	return &models.PairScore{
		FlowID1:             f1.ID,
		FlowID2:             f2.ID,
		IOCOverlap:          iocOverlap,
		TTPSimilarity:       ttpSimilarity,
		TemporalProximity:   temporal,
		InfrastructureScore: infra,
		Overall:             overall,
		Type:                s.correlationType(iocOverlap, ttpSimilarity, temporal, infra),
		SharedIndicators:    s.matcher.SharedIndicators(f1.IOCs, f2.IOCs),
	}, nil
}

// Recommend derives the follow-up action for a scored pair.
// hasOpenCampaignMatch indicates the pair correlates above the
// persistence floor with a member of an open campaign.
func (s *Scorer) Recommend(overall float64, hasOpenCampaignMatch bool) models.Recommendation {
	switch {
	case overall >= s.campaignThreshold:
		return models.RecommendationCreateCampaign
	case hasOpenCampaignMatch:
		return models.RecommendationAddToExisting
	default:
		return models.RecommendationNoAction
	}
}

// temporalProximity decays linearly from 1.0 at zero distance to 0 at
// maxTemporalDistance.
func (s *Scorer) temporalProximity(f1, f2 *models.AttackFlow) float64 {
	hours := math.Abs(f1.DetectedAt.Sub(f2.DetectedAt).Hours())
	if hours >= s.maxTemporalHours {
		return 0
	}
	return clamp(1.0-hours/s.maxTemporalHours, 0, 1)
}

// correlationType labels the pair with the factor carrying the largest
// weighted contribution. When the top two contributions are within
// 0.05 of each other the label is multi_factor.
func (s *Scorer) correlationType(ioc, ttp, temporal, infra float64) models.CorrelationType {
	contributions := []struct {
		t models.CorrelationType
		v float64
	}{
		{models.CorrelationTypeIOC, s.weights.IOCMatch * ioc},
		{models.CorrelationTypeTTP, s.weights.TTPMatch * ttp},
		{models.CorrelationTypeTemporal, s.weights.Temporal * temporal},
		{models.CorrelationTypeInfrastructure, s.weights.Infrastructure * infra},
	}

	sort.SliceStable(contributions, func(i, j int) bool {
		return contributions[i].v > contributions[j].v
	})

	if contributions[0].v-contributions[1].v < 0.05 {
		return models.CorrelationTypeMultiFactor
	}
	return contributions[0].t
}

func validateFlow(f *models.AttackFlow) error {
	if f.ID == "" {
		return &models.ValidationError{Field: "flow.id", Reason: "flow ID is empty"}
	}
	for _, ioc := range f.IOCs {
		if !ioc.Type.Valid() {
			return &models.ComputationError{FlowID: f.ID, Err: &models.ValidationError{
				Field:  "ioc.type",
				Reason: "unsupported IOC type " + string(ioc.Type),
			}}
		}
		if ioc.Value == "" {
			return &models.ComputationError{FlowID: f.ID, Err: &models.ValidationError{
				Field:  "ioc.value",
				Reason: "empty IOC value",
			}}
		}
	}
	return nil
}

// jaccard computes |intersection| / |union| of two string sets.
func jaccard(set1, set2 []string) float64 {
	if len(set1) == 0 && len(set2) == 0 {
		return 0
	}

	s1 := make(map[string]struct{}, len(set1))
	for _, v := range set1 {
		s1[v] = struct{}{}
	}
	s2 := make(map[string]struct{}, len(set2))
	for _, v := range set2 {
		s2[v] = struct{}{}
	}

	intersection := 0
	for v := range s1 {
		if _, ok := s2[v]; ok {
			intersection++
		}
	}
	union := len(s1) + len(s2) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
