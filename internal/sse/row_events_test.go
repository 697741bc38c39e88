package sse

import (
	"context"
	"testing"
	"time"

	"rifa-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustRowEvent(t *testing.T, table, event string) models.RowEvent {
	t.Helper()
	e, err := models.NewRowEvent(table, event, nil, models.Ticket{TicketNumber: 1, Status: models.TicketPending})
	require.NoError(t, err)
	return e
}

func TestSubscribeReceivesMatchingEvents(t *testing.T) {
	emitter := NewRowEventEmitter()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := emitter.Subscribe(ctx, models.TableTickets, models.EventAll)
	event := mustRowEvent(t, models.TableTickets, models.EventUpdate)
	emitter.Emit(event)

	select {
	case got := <-ch:
		assert.Equal(t, models.TableTickets, got.Table)
		assert.Equal(t, models.EventUpdate, got.Event)
	case <-time.After(time.Second):
		t.Fatal("expected an event")
	}
}

func TestSubscribeFiltersByEventType(t *testing.T) {
	emitter := NewRowEventEmitter()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inserts := emitter.Subscribe(ctx, models.TableOrders, models.EventInsert)
	emitter.Emit(mustRowEvent(t, models.TableOrders, models.EventUpdate))
	emitter.Emit(mustRowEvent(t, models.TableOrders, models.EventInsert))

	got := <-inserts
	assert.Equal(t, models.EventInsert, got.Event)
	assert.Empty(t, inserts, "the update must have been filtered out")
}

func TestEventsDoNotCrossTables(t *testing.T) {
	emitter := NewRowEventEmitter()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	orders := emitter.Subscribe(ctx, models.TableOrders, models.EventAll)
	emitter.Emit(mustRowEvent(t, models.TableTickets, models.EventUpdate))

	assert.Empty(t, orders)
}

func TestCancelUnsubscribesAndClosesChannel(t *testing.T) {
	emitter := NewRowEventEmitter()
	ctx, cancel := context.WithCancel(context.Background())

	ch := emitter.Subscribe(ctx, models.TableTickets, models.EventAll)
	require.Equal(t, 1, emitter.SubscriberCount(models.TableTickets))

	cancel()
	select {
	case _, open := <-ch:
		assert.False(t, open, "channel should be closed after cancel")
	case <-time.After(time.Second):
		t.Fatal("channel never closed")
	}
	assert.Equal(t, 0, emitter.SubscriberCount(models.TableTickets))
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	emitter := NewRowEventEmitter()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := emitter.Subscribe(ctx, models.TableTickets, models.EventAll)
	event := mustRowEvent(t, models.TableTickets, models.EventUpdate)

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Overfill the buffer without anyone draining it
		for i := 0; i < 100; i++ {
			emitter.Emit(event)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked on a slow subscriber")
	}
	assert.Equal(t, 32, len(ch))
}
