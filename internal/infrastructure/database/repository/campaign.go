package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"corrlab/internal/domain/models"
)

// CampaignRepository handles campaign persistence with optimistic
// concurrency on updates.
type CampaignRepository struct {
	pool *pgxpool.Pool
}

// NewCampaignRepository creates a new campaign repository
func NewCampaignRepository(pool *pgxpool.Pool) *CampaignRepository {
	return &CampaignRepository{pool: pool}
}

const campaignColumns = `
	id, name, confidence_score, status, severity, first_seen, last_seen,
	related_flows, shared_ttps, shared_iocs, suspected_actor,
	indicators_count, tags, merged_into, version, created_at, updated_at`

// Create inserts a new campaign at version 1
func (r *CampaignRepository) Create(ctx context.Context, c *models.Campaign) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now
	c.Version = 1

	iocsJSON, err := json.Marshal(c.SharedIOCs)
	if err != nil {
		return fmt.Errorf("failed to encode shared iocs: %w", err)
	}

	query := `
		INSERT INTO campaigns (
			id, name, confidence_score, status, severity, first_seen, last_seen,
			related_flows, shared_ttps, shared_iocs, suspected_actor,
			indicators_count, tags, merged_into, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	_, err = r.pool.Exec(ctx, query,
		c.ID, c.Name, c.ConfidenceScore, c.Status, c.Severity, c.FirstSeen, c.LastSeen,
		c.RelatedFlows, c.SharedTTPs, iocsJSON, nullableString(c.SuspectedActor),
		c.IndicatorsCount, c.Tags, c.MergedInto, c.Version, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}
	return nil
}

// Update writes a campaign with optimistic concurrency: the write only
// lands when the stored version still matches the version the caller
// read. On success the campaign's version is bumped in place.
func (r *CampaignRepository) Update(ctx context.Context, c *models.Campaign) error {
	c.UpdatedAt = time.Now()

	iocsJSON, err := json.Marshal(c.SharedIOCs)
	if err != nil {
		return fmt.Errorf("failed to encode shared iocs: %w", err)
	}

	query := `
		UPDATE campaigns SET
			name = $2, confidence_score = $3, status = $4, severity = $5,
			first_seen = $6, last_seen = $7, related_flows = $8,
			shared_ttps = $9, shared_iocs = $10, suspected_actor = $11,
			indicators_count = $12, tags = $13, merged_into = $14,
			version = version + 1, updated_at = $15
		WHERE id = $1 AND version = $16`

	tag, err := r.pool.Exec(ctx, query,
		c.ID, c.Name, c.ConfidenceScore, c.Status, c.Severity,
		c.FirstSeen, c.LastSeen, c.RelatedFlows,
		c.SharedTTPs, iocsJSON, nullableString(c.SuspectedActor),
		c.IndicatorsCount, c.Tags, c.MergedInto,
		c.UpdatedAt, c.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update campaign: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &models.ConflictError{Resource: "campaign", ID: c.ID.String()}
	}

	c.Version++
	return nil
}

// GetByID retrieves a campaign by ID
func (r *CampaignRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = $1`

	c, err := scanCampaign(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, &models.NotFoundError{Resource: "campaign", ID: id.String()}
		}
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}
	return c, nil
}

// List retrieves campaigns filtered by status; no statuses means all.
func (r *CampaignRepository) List(ctx context.Context, statuses ...models.CampaignStatus) ([]*models.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns`
	args := []any{}

	if len(statuses) > 0 {
		values := make([]string, len(statuses))
		for i, s := range statuses {
			values[i] = string(s)
		}
		query += ` WHERE status = ANY($1)`
		args = append(args, values)
	}
	query += ` ORDER BY first_seen, id`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}
	defer rows.Close()

	var campaigns []*models.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan campaign row: %w", err)
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

// FindOpenCampaignsContaining returns open campaigns that already
// include the given flow.
func (r *CampaignRepository) FindOpenCampaignsContaining(ctx context.Context, flowID string) ([]*models.Campaign, error) {
	query := `SELECT ` + campaignColumns + `
		FROM campaigns
		WHERE status IN ('active', 'monitoring') AND $1 = ANY(related_flows)
		ORDER BY first_seen, id`

	rows, err := r.pool.Query(ctx, query, flowID)
	if err != nil {
		return nil, fmt.Errorf("failed to find campaigns containing flow: %w", err)
	}
	defer rows.Close()

	var campaigns []*models.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan campaign row: %w", err)
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

// ReplaceAggregates swaps the derived indicator/TTP occurrence records
// for a campaign in one transaction.
func (r *CampaignRepository) ReplaceAggregates(ctx context.Context, campaignID uuid.UUID, indicators []models.CampaignIndicator, ttps []models.CampaignTTP) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM campaign_indicators WHERE campaign_id = $1`, campaignID); err != nil {
		return fmt.Errorf("failed to clear campaign indicators: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM campaign_ttps WHERE campaign_id = $1`, campaignID); err != nil {
		return fmt.Errorf("failed to clear campaign ttps: %w", err)
	}

	for _, ind := range indicators {
		_, err := tx.Exec(ctx, `
			INSERT INTO campaign_indicators (
				campaign_id, ioc_type, ioc_value, occurrence_count,
				source_flows, first_seen, last_seen
			) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			campaignID, ind.Type, ind.Value, ind.OccurrenceCount,
			ind.SourceFlows, ind.FirstSeen, ind.LastSeen,
		)
		if err != nil {
			return fmt.Errorf("failed to insert campaign indicator: %w", err)
		}
	}
	for _, t := range ttps {
		_, err := tx.Exec(ctx, `
			INSERT INTO campaign_ttps (
				campaign_id, ttp, occurrence_count, source_flows,
				first_seen, last_seen
			) VALUES ($1, $2, $3, $4, $5, $6)`,
			campaignID, t.TTP, t.OccurrenceCount, t.SourceFlows,
			t.FirstSeen, t.LastSeen,
		)
		if err != nil {
			return fmt.Errorf("failed to insert campaign ttp: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit aggregates: %w", err)
	}
	return nil
}

func scanCampaign(row pgx.Row) (*models.Campaign, error) {
	c := &models.Campaign{}
	var iocsJSON []byte
	var actor *string

	err := row.Scan(
		&c.ID, &c.Name, &c.ConfidenceScore, &c.Status, &c.Severity,
		&c.FirstSeen, &c.LastSeen, &c.RelatedFlows, &c.SharedTTPs,
		&iocsJSON, &actor, &c.IndicatorsCount, &c.Tags, &c.MergedInto,
		&c.Version, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(iocsJSON) > 0 {
		if err := json.Unmarshal(iocsJSON, &c.SharedIOCs); err != nil {
			return nil, fmt.Errorf("failed to decode shared iocs: %w", err)
		}
	}
	if actor != nil {
		c.SuspectedActor = *actor
	}
	return c, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
