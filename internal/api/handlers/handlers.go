package handlers

import (
	"corrlab/internal/domain/services"
	"corrlab/internal/infrastructure/cache"
	"corrlab/internal/infrastructure/database"
	"corrlab/pkg/logger"
)

// Handlers holds all API handlers
type Handlers struct {
	Health      *HealthHandler
	Stats       *StatsHandler
	Correlation *CorrelationHandler
	Campaigns   *CampaignsHandler
	Graph       *GraphHandler
}

// Dependencies holds dependencies for handlers
type Dependencies struct {
	Analyzer     *services.Analyzer
	Detector     *services.Detector
	GraphBuilder *services.GraphBuilder
	Reporter     *services.Reporter
	Stats        *services.EngineStats
	Campaigns    services.CampaignStore
	DB           *database.PostgresDB
	Cache        *cache.RedisCache
	Logger       *logger.Logger
}

// NewHandlers creates all handlers
func NewHandlers(deps Dependencies) *Handlers {
	return &Handlers{
		Health:      NewHealthHandler(deps.DB, deps.Cache, deps.Logger),
		Stats:       NewStatsHandler(deps.Stats, deps.Logger),
		Correlation: NewCorrelationHandler(deps.Analyzer, deps.Stats, deps.Cache, deps.Logger),
		Campaigns:   NewCampaignsHandler(deps.Detector, deps.GraphBuilder, deps.Reporter, deps.Stats, deps.Campaigns, deps.Logger),
		Graph:       NewGraphHandler(deps.GraphBuilder, deps.Logger),
	}
}
