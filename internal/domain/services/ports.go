package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"corrlab/internal/domain/models"
)

// FlowSource provides read-only access to captured attack flows. The
// engine never mutates flows.
type FlowSource interface {
	// GetFlow returns a single flow or a NotFoundError.
	GetFlow(ctx context.Context, id string) (*models.AttackFlow, error)
	// ListFlows returns the given flows, or every flow when ids is nil.
	ListFlows(ctx context.Context, ids []string) ([]*models.AttackFlow, error)
}

// CorrelationStore persists pairwise correlations. Upsert is keyed by
// the unordered flow pair, so re-running analysis never creates
// duplicate rows.
type CorrelationStore interface {
	Upsert(ctx context.Context, corr *models.ThreatCorrelation) error
	Get(ctx context.Context, flowID1, flowID2 string) (*models.ThreatCorrelation, error)
	// Query returns correlations with score >= minScore; when flowIDs is
	// non-nil only pairs touching one of those flows are returned.
	Query(ctx context.Context, minScore float64, flowIDs []string) ([]*models.ThreatCorrelation, error)
}

// CampaignStore owns campaign state and the append-only timeline.
type CampaignStore interface {
	Create(ctx context.Context, c *models.Campaign) error
	// Update applies optimistic concurrency; it returns a ConflictError
	// when the stored version does not match.
	Update(ctx context.Context, c *models.Campaign) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Campaign, error)
	// List returns campaigns filtered by status; no statuses means all.
	List(ctx context.Context, statuses ...models.CampaignStatus) ([]*models.Campaign, error)
	FindOpenCampaignsContaining(ctx context.Context, flowID string) ([]*models.Campaign, error)
	AppendTimelineEvent(ctx context.Context, event *models.CampaignTimelineEvent) error
	ListTimelineEvents(ctx context.Context, campaignID uuid.UUID) ([]models.CampaignTimelineEvent, error)
	// ReplaceAggregates swaps the derived indicator/TTP occurrence
	// records for a campaign after membership changes.
	ReplaceAggregates(ctx context.Context, campaignID uuid.UUID, indicators []models.CampaignIndicator, ttps []models.CampaignTTP) error
}

// OpenCampaignFinder reports the open campaigns that already contain a
// flow. The analyzer uses it to shape per-pair recommendations without
// depending on the full campaign store.
type OpenCampaignFinder interface {
	FindOpenCampaignsContaining(ctx context.Context, flowID string) ([]*models.Campaign, error)
}

// CampaignDetector re-clusters persisted correlations into campaigns.
// Analysis triggers a detection run after persisting new correlations.
type CampaignDetector interface {
	DetectCampaigns(ctx context.Context) (*models.DetectionOutcome, error)
}

// Locker serializes campaign-mutating operations. Acquire blocks until
// the lock is held or the context expires and returns a release func.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// EventPublisher receives engine lifecycle events for real-time
// distribution. Implementations must not block.
type EventPublisher interface {
	PublishCorrelationFound(ctx context.Context, corr *models.ThreatCorrelation)
	PublishCampaignDetected(ctx context.Context, c *models.Campaign)
	PublishCampaignUpdated(ctx context.Context, c *models.Campaign)
	PublishCampaignMerged(ctx context.Context, survivor, archived *models.Campaign)
}

// GapProvider is an optional external collaborator reporting the
// severity of unresolved defensive gaps for a campaign, used to shape
// report recommendations.
type GapProvider interface {
	UnresolvedGapSeverity(ctx context.Context, campaignID uuid.UUID) (models.Severity, error)
}
