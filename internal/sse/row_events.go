package sse

import (
	"context"
	"sync"

	"rifa-service/internal/models"
)

type subscriber struct {
	ch     chan models.RowEvent
	filter string // insert, update or *
}

// RowEventEmitter fans ticket and order row changes out to subscribed
// browser sessions. Subscriptions are keyed by table name with an event
// filter; delivery is non-blocking, so a client that stops draining its
// channel misses events instead of stalling the writers.
type RowEventEmitter struct {
	mu          sync.RWMutex
	subscribers map[string][]*subscriber // key: table name
}

func NewRowEventEmitter() *RowEventEmitter {
	return &RowEventEmitter{
		subscribers: make(map[string][]*subscriber),
	}
}

// Subscribe registers for row changes on a table. filter is one of
// "insert", "update" or "*". The returned channel closes when ctx is
// cancelled; nothing is delivered after that.
func (e *RowEventEmitter) Subscribe(ctx context.Context, table, filter string) chan models.RowEvent {
	if filter == "" {
		filter = models.EventAll
	}
	sub := &subscriber{
		ch:     make(chan models.RowEvent, 32),
		filter: filter,
	}

	e.mu.Lock()
	e.subscribers[table] = append(e.subscribers[table], sub)
	e.mu.Unlock()

	// Remove the subscriber when the client disconnects
	go func() {
		<-ctx.Done()
		e.remove(table, sub)
	}()

	return sub.ch
}

// Emit delivers one row event to every matching subscriber of its table.
func (e *RowEventEmitter) Emit(event models.RowEvent) {
	e.mu.RLock()
	subs := e.subscribers[event.Table]
	e.mu.RUnlock()

	for _, sub := range subs {
		if sub.filter != models.EventAll && sub.filter != event.Event {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			// Buffer full, drop for this client
		}
	}
}

func (e *RowEventEmitter) remove(table string, target *subscriber) {
	e.mu.Lock()
	defer e.mu.Unlock()

	subs := e.subscribers[table]
	for i, sub := range subs {
		if sub == target {
			e.subscribers[table] = append(subs[:i], subs[i+1:]...)
			close(sub.ch)
			break
		}
	}
	if len(e.subscribers[table]) == 0 {
		delete(e.subscribers, table)
	}
}

// SubscriberCount returns how many clients are subscribed to a table.
func (e *RowEventEmitter) SubscriberCount(table string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subscribers[table])
}
