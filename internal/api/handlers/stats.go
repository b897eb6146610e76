package handlers

import (
	"net/http"

	"corrlab/internal/domain/services"
	"corrlab/pkg/logger"
)

// StatsHandler exposes engine counters
type StatsHandler struct {
	stats  *services.EngineStats
	logger *logger.Logger
}

// NewStatsHandler creates a new StatsHandler
func NewStatsHandler(stats *services.EngineStats, log *logger.Logger) *StatsHandler {
	return &StatsHandler{
		stats:  stats,
		logger: log.WithComponent("stats"),
	}
}

// Get handles GET /api/v1/stats
func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.stats.Snapshot())
}
