package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"corrlab/internal/domain/models"
)

// FlowRepository reads attack flows written by the upstream detection
// pipeline. The correlation engine never mutates flows.
type FlowRepository struct {
	pool         *pgxpool.Pool
	fetchTimeout time.Duration
}

// NewFlowRepository creates a new flow repository. fetchTimeout bounds
// each read; zero disables the bound.
func NewFlowRepository(pool *pgxpool.Pool, fetchTimeout time.Duration) *FlowRepository {
	return &FlowRepository{pool: pool, fetchTimeout: fetchTimeout}
}

func (r *FlowRepository) fetchContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.fetchTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.fetchTimeout)
}

const flowColumns = "id, name, iocs, ttps, assets, detected_at"

// GetFlow retrieves a single flow by ID
func (r *FlowRepository) GetFlow(ctx context.Context, id string) (*models.AttackFlow, error) {
	query := `SELECT ` + flowColumns + ` FROM attack_flows WHERE id = $1`

	ctx, cancel := r.fetchContext(ctx)
	defer cancel()

	f, err := scanFlow(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, &models.NotFoundError{Resource: "flow", ID: id}
		}
		return nil, fmt.Errorf("failed to get flow: %w", err)
	}
	return f, nil
}

// ListFlows retrieves the given flows, or every flow when ids is nil.
func (r *FlowRepository) ListFlows(ctx context.Context, ids []string) ([]*models.AttackFlow, error) {
	query := `SELECT ` + flowColumns + ` FROM attack_flows`
	args := []any{}
	if ids != nil {
		query += ` WHERE id = ANY($1)`
		args = append(args, ids)
	}
	query += ` ORDER BY detected_at, id`

	ctx, cancel := r.fetchContext(ctx)
	defer cancel()

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list flows: %w", err)
	}
	defer rows.Close()

	var flows []*models.AttackFlow
	for rows.Next() {
		f, err := scanFlow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan flow row: %w", err)
		}
		flows = append(flows, f)
	}
	return flows, rows.Err()
}

func scanFlow(row pgx.Row) (*models.AttackFlow, error) {
	f := &models.AttackFlow{}
	var iocsJSON []byte

	if err := row.Scan(&f.ID, &f.Name, &iocsJSON, &f.TTPs, &f.Assets, &f.DetectedAt); err != nil {
		return nil, err
	}
	if len(iocsJSON) > 0 {
		if err := json.Unmarshal(iocsJSON, &f.IOCs); err != nil {
			return nil, fmt.Errorf("failed to decode flow iocs: %w", err)
		}
	}
	return f, nil
}
