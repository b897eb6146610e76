package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"corrlab/internal/domain/models"
)

// CorrelationRepository persists pairwise flow correlations keyed by
// the unordered flow pair.
type CorrelationRepository struct {
	pool *pgxpool.Pool
}

// NewCorrelationRepository creates a new correlation repository
func NewCorrelationRepository(pool *pgxpool.Pool) *CorrelationRepository {
	return &CorrelationRepository{pool: pool}
}

// Upsert inserts or updates the correlation for a flow pair. The row is
// keyed by the canonical (low, high) pair so re-analysis updates in
// place; the original detected_at is preserved.
func (r *CorrelationRepository) Upsert(ctx context.Context, corr *models.ThreatCorrelation) error {
	key := corr.Key()

	query := `
		INSERT INTO threat_correlations (
			flow_id_low, flow_id_high, score, correlation_type,
			shared_indicators, detected_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (flow_id_low, flow_id_high) DO UPDATE SET
			score = EXCLUDED.score,
			correlation_type = EXCLUDED.correlation_type,
			shared_indicators = EXCLUDED.shared_indicators,
			updated_at = EXCLUDED.updated_at`

	_, err := r.pool.Exec(ctx, query,
		key.Low, key.High, corr.Score, corr.Type,
		corr.SharedIndicators, corr.DetectedAt, corr.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert correlation: %w", err)
	}
	return nil
}

// Get retrieves the correlation for a flow pair in either order.
func (r *CorrelationRepository) Get(ctx context.Context, flowID1, flowID2 string) (*models.ThreatCorrelation, error) {
	key := models.NewPairKey(flowID1, flowID2)

	query := `
		SELECT flow_id_low, flow_id_high, score, correlation_type,
			   shared_indicators, detected_at, updated_at
		FROM threat_correlations
		WHERE flow_id_low = $1 AND flow_id_high = $2`

	c, err := scanCorrelation(r.pool.QueryRow(ctx, query, key.Low, key.High))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, &models.NotFoundError{Resource: "correlation", ID: key.String()}
		}
		return nil, fmt.Errorf("failed to get correlation: %w", err)
	}
	return c, nil
}

// Query returns correlations with score >= minScore; when flowIDs is
// non-nil only pairs touching one of those flows are returned.
func (r *CorrelationRepository) Query(ctx context.Context, minScore float64, flowIDs []string) ([]*models.ThreatCorrelation, error) {
	query := `
		SELECT flow_id_low, flow_id_high, score, correlation_type,
			   shared_indicators, detected_at, updated_at
		FROM threat_correlations
		WHERE score >= $1`
	args := []any{minScore}

	if flowIDs != nil {
		query += ` AND (flow_id_low = ANY($2) OR flow_id_high = ANY($2))`
		args = append(args, flowIDs)
	}
	query += ` ORDER BY flow_id_low, flow_id_high`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query correlations: %w", err)
	}
	defer rows.Close()

	var correlations []*models.ThreatCorrelation
	for rows.Next() {
		c, err := scanCorrelation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan correlation row: %w", err)
		}
		correlations = append(correlations, c)
	}
	return correlations, rows.Err()
}

func scanCorrelation(row pgx.Row) (*models.ThreatCorrelation, error) {
	c := &models.ThreatCorrelation{}
	err := row.Scan(
		&c.FlowID1, &c.FlowID2, &c.Score, &c.Type,
		&c.SharedIndicators, &c.DetectedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}
