package services

import (
	"sync"
	"time"
)

// EngineStats tracks cumulative engine counters. Safe for concurrent
// use.
type EngineStats struct {
	mu sync.Mutex

	analysisRuns      int64
	pairsScored       int64
	pairsSkipped      int64
	correlationsFound int64
	campaignsCreated  int64
	campaignsUpdated  int64
	campaignsMerged   int64
	lastAnalysisAt    time.Time
	lastDetectionAt   time.Time
}

// EngineStatsSnapshot is a point-in-time copy of the counters.
type EngineStatsSnapshot struct {
	AnalysisRuns      int64     `json:"analysis_runs"`
	PairsScored       int64     `json:"pairs_scored"`
	PairsSkipped      int64     `json:"pairs_skipped"`
	CorrelationsFound int64     `json:"correlations_found"`
	CampaignsCreated  int64     `json:"campaigns_created"`
	CampaignsUpdated  int64     `json:"campaigns_updated"`
	CampaignsMerged   int64     `json:"campaigns_merged"`
	LastAnalysisAt    time.Time `json:"last_analysis_at,omitzero"`
	LastDetectionAt   time.Time `json:"last_detection_at,omitzero"`
}

func NewEngineStats() *EngineStats {
	return &EngineStats{}
}

// RecordAnalysis records one analysis run.
func (s *EngineStats) RecordAnalysis(pairsScored, pairsSkipped, correlationsFound int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analysisRuns++
	s.pairsScored += int64(pairsScored)
	s.pairsSkipped += int64(pairsSkipped)
	s.correlationsFound += int64(correlationsFound)
	s.lastAnalysisAt = time.Now()
}

// RecordDetection records one campaign detection run.
func (s *EngineStats) RecordDetection(created, updated int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.campaignsCreated += int64(created)
	s.campaignsUpdated += int64(updated)
	s.lastDetectionAt = time.Now()
}

// RecordMerge records one campaign merge.
func (s *EngineStats) RecordMerge() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.campaignsMerged++
}

// Snapshot returns a copy of the current counters.
func (s *EngineStats) Snapshot() EngineStatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return EngineStatsSnapshot{
		AnalysisRuns:      s.analysisRuns,
		PairsScored:       s.pairsScored,
		PairsSkipped:      s.pairsSkipped,
		CorrelationsFound: s.correlationsFound,
		CampaignsCreated:  s.campaignsCreated,
		CampaignsUpdated:  s.campaignsUpdated,
		CampaignsMerged:   s.campaignsMerged,
		LastAnalysisAt:    s.lastAnalysisAt,
		LastDetectionAt:   s.lastDetectionAt,
	}
}
