package models

import (
	"encoding/json"
	"time"
)

// Row-change event types delivered over the realtime stream.
const (
	EventInsert = "insert"
	EventUpdate = "update"
	EventAll    = "*"
)

// Table names carried on row events.
const (
	TableTickets = "tickets"
	TableOrders  = "orders"
)

// RowEvent is one row change fanned out to subscribed browser sessions.
// Old is empty for inserts. Consumers apply a last-write-wins merge keyed
// by the row's primary key, so cross-row ordering does not matter.
type RowEvent struct {
	Table     string          `json:"table"`
	Event     string          `json:"event"`
	Old       json.RawMessage `json:"old,omitempty"`
	New       json.RawMessage `json:"new"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewRowEvent marshals the old and new row snapshots into a RowEvent.
// A nil oldRow produces an insert-style event with no old snapshot.
func NewRowEvent(table, event string, oldRow, newRow interface{}) (RowEvent, error) {
	e := RowEvent{
		Table:     table,
		Event:     event,
		Timestamp: time.Now().UTC(),
	}
	if oldRow != nil {
		raw, err := json.Marshal(oldRow)
		if err != nil {
			return RowEvent{}, err
		}
		e.Old = raw
	}
	raw, err := json.Marshal(newRow)
	if err != nil {
		return RowEvent{}, err
	}
	e.New = raw
	return e, nil
}

// OrderEventDto is the payload published to Kafka on every order lifecycle
// transition, for downstream consumers (receipts, analytics).
type OrderEventDto struct {
	OrderID       string    `json:"order_id"`
	OrderNumber   string    `json:"order_number"`
	Status        string    `json:"status"`
	CustomerEmail string    `json:"customer_email"`
	TotalAmount   float64   `json:"total_amount"`
	TicketNumbers []int     `json:"ticket_numbers"`
	OccurredAt    time.Time `json:"occurred_at"`
}
