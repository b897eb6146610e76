package services

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEngineStatsSnapshot(t *testing.T) {
	stats := NewEngineStats()

	stats.RecordAnalysis(10, 2, 3)
	stats.RecordAnalysis(5, 0, 1)
	stats.RecordDetection(2, 1)
	stats.RecordMerge()

	snap := stats.Snapshot()
	assert.Equal(t, int64(2), snap.AnalysisRuns)
	assert.Equal(t, int64(15), snap.PairsScored)
	assert.Equal(t, int64(2), snap.PairsSkipped)
	assert.Equal(t, int64(4), snap.CorrelationsFound)
	assert.Equal(t, int64(2), snap.CampaignsCreated)
	assert.Equal(t, int64(1), snap.CampaignsUpdated)
	assert.Equal(t, int64(1), snap.CampaignsMerged)
	assert.False(t, snap.LastAnalysisAt.IsZero())
	assert.False(t, snap.LastDetectionAt.IsZero())
}

func TestEngineStatsConcurrentAccess(t *testing.T) {
	stats := NewEngineStats()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stats.RecordAnalysis(1, 0, 1)
			stats.RecordMerge()
			_ = stats.Snapshot()
		}()
	}
	wg.Wait()

	snap := stats.Snapshot()
	assert.Equal(t, int64(50), snap.AnalysisRuns)
	assert.Equal(t, int64(50), snap.CampaignsMerged)
}
