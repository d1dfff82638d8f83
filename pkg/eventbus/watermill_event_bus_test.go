package eventbus_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesworks/mescore/pkg/channels/gochannel"
	"github.com/mesworks/mescore/pkg/eventbus"
	"github.com/mesworks/mescore/pkg/events"
)

func newTestBus(t *testing.T) *eventbus.WatermillEventBus {
	t.Helper()

	pub, sub, err := gochannel.CreateTestChannel(watermill.NewSlogLogger(slog.Default()))
	require.NoError(t, err)

	return eventbus.NewWatermillEventBus(pub, sub)
}

func TestPublishAndSubscribe(t *testing.T) {
	t.Parallel()

	bus := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan any, 1)

	bus.Handle(events.SessionLoggedInEvent, func(_ context.Context, event any) error {
		received <- event

		return nil
	})

	require.NoError(t, bus.Subscribe(ctx))

	err := bus.Publish(ctx, "sess-1", events.SessionLoggedIn{
		BaseEvent: events.BaseEvent{
			ID:        bus.GenerateID(),
			Type:      events.SessionLoggedInEvent,
			Timestamp: time.Now().UTC(),
		},
		SessionID:     "sess-1",
		WorkstationID: "ws-1",
		Username:      "alice",
	})
	require.NoError(t, err)

	select {
	case event := <-received:
		loggedIn, ok := event.(*events.SessionLoggedIn)
		require.True(t, ok)
		assert.Equal(t, "sess-1", loggedIn.SessionID)
		assert.Equal(t, "alice", loggedIn.Username)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestUnhandledEventTypesAreAcked(t *testing.T) {
	t.Parallel()

	bus := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan any, 2)

	bus.Handle(events.OrderCompletedEvent, func(_ context.Context, event any) error {
		received <- event

		return nil
	})

	require.NoError(t, bus.Subscribe(ctx))

	// No handler for this one; it must be acknowledged and skipped.
	require.NoError(t, bus.Publish(ctx, "ord-1", events.OrderCancelled{
		BaseEvent: events.BaseEvent{ID: bus.GenerateID(), Type: events.OrderCancelledEvent, Timestamp: time.Now().UTC()},
		OrderID:   "ord-1",
	}))

	require.NoError(t, bus.Publish(ctx, "ord-1", events.OrderCompleted{
		BaseEvent:   events.BaseEvent{ID: bus.GenerateID(), Type: events.OrderCompletedEvent, Timestamp: time.Now().UTC()},
		OrderID:     "ord-1",
		CompletedBy: "alice",
		CompletedAt: time.Now().UTC(),
	}))

	select {
	case event := <-received:
		completed, ok := event.(*events.OrderCompleted)
		require.True(t, ok)
		assert.Equal(t, "ord-1", completed.OrderID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}
