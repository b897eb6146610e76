package streaming

import (
	"context"

	"corrlab/internal/domain/models"
)

// Publisher adapts the event bus to the engine's publishing interface.
// All methods are fire-and-forget and never block the caller. Delivery
// to WebSocket clients happens through the hub's bus subscription, not
// through the publisher.
type Publisher struct {
	bus *EventBus
}

// NewPublisher creates a new Publisher.
func NewPublisher(bus *EventBus) *Publisher {
	return &Publisher{bus: bus}
}

func (p *Publisher) publish(ctx context.Context, event *EngineEvent) {
	if p.bus != nil {
		p.bus.Publish(ctx, event)
	}
}

// PublishCorrelationFound announces a newly persisted correlation
func (p *Publisher) PublishCorrelationFound(ctx context.Context, corr *models.ThreatCorrelation) {
	p.publish(ctx, NewCorrelationEvent(corr))
}

// PublishCampaignDetected announces a newly created campaign
func (p *Publisher) PublishCampaignDetected(ctx context.Context, c *models.Campaign) {
	p.publish(ctx, NewCampaignEvent(EventTypeCampaignDetected, c))
}

// PublishCampaignUpdated announces membership or status changes
func (p *Publisher) PublishCampaignUpdated(ctx context.Context, c *models.Campaign) {
	p.publish(ctx, NewCampaignEvent(EventTypeCampaignUpdated, c))
}

// PublishCampaignMerged announces a campaign merge
func (p *Publisher) PublishCampaignMerged(ctx context.Context, survivor, archived *models.Campaign) {
	event := NewCampaignEvent(EventTypeCampaignMerged, survivor)
	event.MergedCampaignID = archived.ID.String()
	p.publish(ctx, event)
}
