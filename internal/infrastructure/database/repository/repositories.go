package repository

import (
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repositories bundles all persistence repositories
type Repositories struct {
	Flows        *FlowRepository
	Correlations *CorrelationRepository
	Campaigns    *CampaignRepository
}

// New creates all repositories sharing one connection pool
func New(pool *pgxpool.Pool, flowFetchTimeout time.Duration) *Repositories {
	return &Repositories{
		Flows:        NewFlowRepository(pool, flowFetchTimeout),
		Correlations: NewCorrelationRepository(pool),
		Campaigns:    NewCampaignRepository(pool),
	}
}
