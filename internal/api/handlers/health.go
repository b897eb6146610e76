package handlers

import (
	"net/http"
	"time"

	"corrlab/internal/infrastructure/cache"
	"corrlab/internal/infrastructure/database"
	"corrlab/pkg/logger"
)

// HealthHandler handles health and readiness probes
type HealthHandler struct {
	db     *database.PostgresDB
	cache  *cache.RedisCache
	logger *logger.Logger
}

// NewHealthHandler creates a new HealthHandler
func NewHealthHandler(db *database.PostgresDB, c *cache.RedisCache, log *logger.Logger) *HealthHandler {
	return &HealthHandler{
		db:     db,
		cache:  c,
		logger: log.WithComponent("health"),
	}
}

// Check handles GET /health
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}

// Ready handles GET /ready, probing the backing stores
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	healthy := true

	if h.db != nil {
		if err := h.db.Ping(r.Context()); err != nil {
			checks["postgres"] = err.Error()
			healthy = false
		} else {
			checks["postgres"] = "ok"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			checks["redis"] = err.Error()
			healthy = false
		} else {
			checks["redis"] = "ok"
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, map[string]any{
		"ready":  healthy,
		"checks": checks,
	})
}
