package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"corrlab/internal/domain/models"
)

// AppendTimelineEvent inserts one event into the append-only campaign
// timeline. Events are never updated or deleted.
func (r *CampaignRepository) AppendTimelineEvent(ctx context.Context, event *models.CampaignTimelineEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	metadataJSON, err := json.Marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode event metadata: %w", err)
	}

	query := `
		INSERT INTO campaign_timeline_events (
			id, campaign_id, event_type, event_timestamp, description,
			metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err = r.pool.Exec(ctx, query,
		event.ID, event.CampaignID, event.EventType, event.EventTimestamp,
		event.Description, metadataJSON, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append timeline event: %w", err)
	}
	return nil
}

// ListTimelineEvents returns the persisted lifecycle events for a
// campaign in chronological order.
func (r *CampaignRepository) ListTimelineEvents(ctx context.Context, campaignID uuid.UUID) ([]models.CampaignTimelineEvent, error) {
	query := `
		SELECT id, campaign_id, event_type, event_timestamp, description,
			   metadata, created_at
		FROM campaign_timeline_events
		WHERE campaign_id = $1
		ORDER BY event_timestamp, created_at`

	rows, err := r.pool.Query(ctx, query, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to list timeline events: %w", err)
	}
	defer rows.Close()

	var events []models.CampaignTimelineEvent
	for rows.Next() {
		var e models.CampaignTimelineEvent
		var metadataJSON []byte

		err := rows.Scan(
			&e.ID, &e.CampaignID, &e.EventType, &e.EventTimestamp,
			&e.Description, &metadataJSON, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan timeline event: %w", err)
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode event metadata: %w", err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
