package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Ticket statuses. Every one of the 500 rows is always in exactly one of
// these; the grid renders directly off this column.
const (
	TicketAvailable = "available"
	TicketPending   = "pending"
	TicketSold      = "sold"
)

type Ticket struct {
	bun.BaseModel `bun:"table:tickets,alias:t"`

	TicketNumber int        `bun:"ticket_number,pk" json:"ticket_number"`
	Status       string     `bun:"status,notnull" json:"status"`
	PendingAt    *time.Time `bun:"pending_at,nullzero" json:"pending_at,omitempty"`
}

// TicketStats is the aggregate shown on the landing page and the admin
// dashboard. Available+Pending+Sold always equals Total.
type TicketStats struct {
	Available int `json:"available"`
	Pending   int `json:"pending"`
	Sold      int `json:"sold"`
	Total     int `json:"total"`
}
