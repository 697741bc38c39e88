package models

import (
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

// Order statuses. Completed and cancelled are terminal: no code path ever
// transitions an order out of them.
const (
	OrderPending  = "pending"
	OrderAwaiting = "awaiting_verification"
	OrderComplete = "completed"
	OrderCancel   = "cancelled"
)

type Order struct {
	bun.BaseModel `bun:"table:orders,alias:o"`

	ID                string     `bun:"id,pk" json:"id"`
	OrderNumber       string     `bun:"order_number,notnull" json:"order_number"`
	CustomerName      string     `bun:"customer_name" json:"customer_name"`
	CustomerEmail     string     `bun:"customer_email,notnull" json:"customer_email"`
	CustomerPhone     string     `bun:"customer_phone" json:"customer_phone"`
	TotalAmount       float64    `bun:"total_amount,notnull" json:"total_amount"`
	Status            string     `bun:"status,notnull" json:"status"`
	ConfirmationToken string     `bun:"confirmation_token,notnull" json:"confirmation_token,omitempty"`
	UserConfirmedAt   *time.Time `bun:"user_confirmed_at,nullzero" json:"user_confirmed_at,omitempty"`
	CreatedAt         time.Time  `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`

	Items []OrderItem `bun:"rel:has-many,join:id=order_id" json:"order_items,omitempty"`
}

// OrderItem links a ticket number to its order. Price is the unit price at
// the moment of purchase so later price changes never touch existing orders.
type OrderItem struct {
	bun.BaseModel `bun:"table:order_items,alias:oi"`

	ID           int64   `bun:"id,pk,autoincrement" json:"-"`
	OrderID      string  `bun:"order_id,notnull" json:"order_id"`
	TicketNumber int     `bun:"ticket_number,notnull" json:"ticket_number"`
	Price        float64 `bun:"price,notnull" json:"price"`
}

// TicketNumbers returns the ticket numbers of the order's items.
func (o *Order) TicketNumbers() []int {
	numbers := make([]int, 0, len(o.Items))
	for _, item := range o.Items {
		numbers = append(numbers, item.TicketNumber)
	}
	return numbers
}

// IsTerminal reports whether the order may never change status again.
func (o *Order) IsTerminal() bool {
	return o.Status == OrderComplete || o.Status == OrderCancel
}

// NewOrderNumber builds the human-readable order label shown to buyers and
// admins, e.g. ORD-1717171717171. Display only; age computations use
// created_at.
func NewOrderNumber(now time.Time) string {
	return fmt.Sprintf("ORD-%d", now.UnixMilli())
}

// OrderRequest is the reservation payload from the checkout form.
type OrderRequest struct {
	CustomerName  string `json:"customer_name"`
	CustomerEmail string `json:"customer_email"`
	CustomerPhone string `json:"customer_phone"`
	TicketNumbers []int  `json:"ticket_numbers"`
}
