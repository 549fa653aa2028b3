package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestMemoryBusDeliversToCollectionSubscribers(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()

	leads, cancelLeads, err := bus.Subscribe(context.Background(), CollectionLeads)
	require.NoError(t, err)
	defer cancelLeads()
	clients, cancelClients, err := bus.Subscribe(context.Background(), CollectionClients)
	require.NoError(t, err)
	defer cancelClients()

	ev := NewEvent(CollectionLeads, Added, "lead-1", "user-1", map[string]string{"name": "Asha"})
	require.NoError(t, bus.Publish(context.Background(), ev))

	got := receive(t, leads)
	assert.Equal(t, "lead-1", got.ID)
	assert.Equal(t, Added, got.Type)

	var doc map[string]string
	require.NoError(t, json.Unmarshal(got.Data, &doc))
	assert.Equal(t, "Asha", doc["name"])

	select {
	case <-clients:
		t.Fatal("clients subscriber received a leads event")
	default:
	}
}

func TestMemoryBusCancelClosesChannel(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _, err := bus.Subscribe(ctx, CollectionLeads)
	require.NoError(t, err)

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)

	// Publishing after unsubscribe must not panic
	assert.NoError(t, bus.Publish(context.Background(), NewEvent(CollectionLeads, Removed, "x", "u", nil)))
}

func TestMemoryBusDropsForSlowSubscriber(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()

	ch, cancel, err := bus.Subscribe(context.Background(), CollectionActivities)
	require.NoError(t, err)
	defer cancel()

	for i := 0; i < subscriberBuffer+10; i++ {
		require.NoError(t, bus.Publish(context.Background(), NewEvent(CollectionActivities, Added, "a", "u", nil)))
	}
	assert.Len(t, ch, subscriberBuffer)
}

func TestKnownCollection(t *testing.T) {
	assert.True(t, KnownCollection("sipReminders"))
	assert.False(t, KnownCollection("portfolios"))
}
