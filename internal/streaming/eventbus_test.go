package streaming

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"corrlab/internal/domain/models"
	"corrlab/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Level: "error", Format: "json"})
}

func TestEventBusDeliversToSubscribers(t *testing.T) {
	bus := NewEventBus(nil, testLogger())
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, unsubscribe := bus.Subscribe(ctx, nil)
	defer unsubscribe()
	require.Equal(t, 1, bus.SubscriberCount())

	sent := NewCampaignEvent(EventTypeCampaignDetected, &models.Campaign{ID: uuid.New(), Name: "camp"})
	bus.Publish(ctx, sent)

	select {
	case got := <-ch:
		assert.Equal(t, sent.ID, got.ID)
		assert.Equal(t, EventTypeCampaignDetected, got.Type)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestEventBusUnsubscribeClosesChannel(t *testing.T) {
	bus := NewEventBus(nil, testLogger())
	ch, unsubscribe := bus.Subscribe(context.Background(), nil)

	unsubscribe()

	_, open := <-ch
	assert.False(t, open)
	assert.Zero(t, bus.SubscriberCount())
}

func TestEventBusCloseIsIdempotent(t *testing.T) {
	bus := NewEventBus(nil, testLogger())
	ch, _ := bus.Subscribe(context.Background(), nil)

	// The bus is the single owner of streaming shutdown; closing it
	// twice must not panic or double-close subscriber channels.
	bus.Close()
	bus.Close()

	_, open := <-ch
	assert.False(t, open)
	assert.Zero(t, bus.SubscriberCount())
}

func TestPublisherRoutesThroughBus(t *testing.T) {
	bus := NewEventBus(nil, testLogger())
	defer bus.Close()

	ch, unsubscribe := bus.Subscribe(context.Background(), nil)
	defer unsubscribe()

	pub := NewPublisher(bus)
	pub.PublishCorrelationFound(context.Background(), &models.ThreatCorrelation{
		FlowID1: "flow-a",
		FlowID2: "flow-b",
		Score:   0.8,
		Type:    models.CorrelationTypeIOC,
	})

	select {
	case got := <-ch:
		assert.Equal(t, EventTypeCorrelationFound, got.Type)
		assert.Equal(t, "flow-a", got.FlowID1)
		assert.Equal(t, 0.8, got.CorrelationScore)
	case <-time.After(time.Second):
		t.Fatal("publisher event never reached the bus")
	}
}

func TestWebSocketHubRelaysBusEvents(t *testing.T) {
	bus := NewEventBus(nil, testLogger())
	defer bus.Close()

	hub := NewWebSocketHub(testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.RelayEvents(ctx, bus)

	require.Eventually(t, func() bool { return bus.SubscriberCount() == 1 },
		time.Second, 10*time.Millisecond, "relay never subscribed to the bus")

	sent := NewCampaignEvent(EventTypeCampaignUpdated, &models.Campaign{ID: uuid.New(), Name: "camp"})
	bus.Publish(context.Background(), sent)

	select {
	case got := <-hub.broadcast:
		assert.Equal(t, sent.ID, got.ID)
		assert.Equal(t, EventTypeCampaignUpdated, got.Type)
	case <-time.After(time.Second):
		t.Fatal("event never relayed to the hub")
	}
}
