package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"rifa-service/internal/models"

	"github.com/uptrace/bun"
)

// ErrTicketsUnavailable is returned by ReserveOrder when the conditional
// ticket claim touched fewer rows than requested, meaning at least one
// selected ticket was no longer available at write time. The surrounding
// transaction has been rolled back when this is returned.
var ErrTicketsUnavailable = errors.New("one or more tickets are no longer available")

// ErrNoEligibleRows is returned when a conditional status transition
// matched zero rows: the entity moved to another state between the caller's
// read and this write.
var ErrNoEligibleRows = errors.New("no rows in an eligible status")

type DB struct {
	Bun *bun.DB
}

// ---------------- TICKETS ----------------

// ListTickets returns all ticket rows ordered by ticket number, the shape
// the grid renders from.
func (d *DB) ListTickets(ctx context.Context) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := d.Bun.NewSelect().
		Model(&tickets).
		Order("ticket_number ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return tickets, nil
}

// TicketStats counts tickets per status. Numbers for statuses with no rows
// are zero; total is always the configured ticket count.
func (d *DB) TicketStats(ctx context.Context, total int) (models.TicketStats, error) {
	var rows []struct {
		Status string `bun:"status"`
		Count  int    `bun:"count"`
	}
	err := d.Bun.NewSelect().
		Model((*models.Ticket)(nil)).
		ColumnExpr("status").
		ColumnExpr("count(*) AS count").
		Group("status").
		Scan(ctx, &rows)
	if err != nil {
		return models.TicketStats{}, err
	}

	stats := models.TicketStats{Total: total}
	for _, row := range rows {
		switch row.Status {
		case models.TicketAvailable:
			stats.Available = row.Count
		case models.TicketPending:
			stats.Pending = row.Count
		case models.TicketSold:
			stats.Sold = row.Count
		}
	}
	return stats, nil
}

// ---------------- ORDERS ----------------

// GetOrderWithItems fetches one order and its items. Returns sql.ErrNoRows
// when the id is unknown.
func (d *DB) GetOrderWithItems(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := d.Bun.NewSelect().
		Model(&order).
		Relation("Items").
		Where("o.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByIDAndToken fetches an order only when both the id and the
// confirmation token match, so callers cannot learn whether the id alone
// exists.
func (d *DB) GetOrderByIDAndToken(ctx context.Context, id, token string) (*models.Order, error) {
	var order models.Order
	err := d.Bun.NewSelect().
		Model(&order).
		Where("o.id = ?", id).
		Where("o.confirmation_token = ?", token).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// ListOrders returns all orders with their items, newest first, for the
// admin reconciliation queue.
func (d *DB) ListOrders(ctx context.Context) ([]models.Order, error) {
	var orders []models.Order
	err := d.Bun.NewSelect().
		Model(&orders).
		Relation("Items").
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// ReserveOrder inserts the order with its items and claims the selected
// tickets, all inside one transaction. The claim is a conditional bulk
// update guarded by a rows-affected check: if any selected ticket is not
// available at write time the whole transaction rolls back and
// ErrTicketsUnavailable is returned, leaving no partial writes behind.
func (d *DB) ReserveOrder(ctx context.Context, order *models.Order, now time.Time) error {
	return d.Bun.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(order).Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewInsert().Model(&order.Items).Exec(ctx); err != nil {
			return err
		}

		numbers := order.TicketNumbers()
		res, err := tx.NewUpdate().
			Model((*models.Ticket)(nil)).
			Set("status = ?", models.TicketPending).
			Set("pending_at = ?", now).
			Where("ticket_number IN (?)", bun.In(numbers)).
			Where("status = ?", models.TicketAvailable).
			Exec(ctx)
		if err != nil {
			return err
		}
		claimed, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if claimed != int64(len(numbers)) {
			return ErrTicketsUnavailable
		}
		return nil
	})
}

// MarkUserConfirmed flips a pending order to awaiting_verification and
// stamps user_confirmed_at. Ticket rows are never touched here. Returns
// ErrNoEligibleRows when the order is no longer pending.
func (d *DB) MarkUserConfirmed(ctx context.Context, orderID string, now time.Time) error {
	res, err := d.Bun.NewUpdate().
		Model((*models.Order)(nil)).
		Set("status = ?", models.OrderAwaiting).
		Set("user_confirmed_at = ?", now).
		Where("id = ?", orderID).
		Where("status = ?", models.OrderPending).
		Exec(ctx)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNoEligibleRows
	}
	return nil
}

// CompleteOrder finalizes a sale: the order becomes completed and its
// tickets become sold, in one transaction. The order update is conditional
// on the current status still being pending or awaiting_verification; a
// concurrent transition rolls everything back with ErrNoEligibleRows.
// Returns the number of tickets marked sold.
func (d *DB) CompleteOrder(ctx context.Context, order *models.Order) (int, error) {
	return d.transitionOrder(ctx, order, models.OrderComplete, models.TicketSold)
}

// CancelOrder rejects or cancels an order: the order becomes cancelled and
// its tickets return to available. Same transactional guarantees as
// CompleteOrder. Returns the number of tickets released.
func (d *DB) CancelOrder(ctx context.Context, order *models.Order) (int, error) {
	return d.transitionOrder(ctx, order, models.OrderCancel, models.TicketAvailable)
}

func (d *DB) transitionOrder(ctx context.Context, order *models.Order, orderStatus, ticketStatus string) (int, error) {
	var affected int
	err := d.Bun.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*models.Order)(nil)).
			Set("status = ?", orderStatus).
			Where("id = ?", order.ID).
			Where("status IN (?)", bun.In([]string{models.OrderPending, models.OrderAwaiting})).
			Exec(ctx)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNoEligibleRows
		}

		numbers := order.TicketNumbers()
		if len(numbers) == 0 {
			return nil
		}
		res, err = tx.NewUpdate().
			Model((*models.Ticket)(nil)).
			Set("status = ?", ticketStatus).
			Set("pending_at = NULL").
			Where("ticket_number IN (?)", bun.In(numbers)).
			Where("status = ?", models.TicketPending).
			Exec(ctx)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		if err != nil {
			return err
		}
		affected = int(n)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

// ---------------- EXPIRY SWEEP ----------------

// ExpiredPendingOrders lists pending orders created before the cutoff,
// items included. Age comes from created_at, never from the order number.
func (d *DB) ExpiredPendingOrders(ctx context.Context, cutoff time.Time) ([]models.Order, error) {
	var orders []models.Order
	err := d.Bun.NewSelect().
		Model(&orders).
		Relation("Items").
		Where("o.status = ?", models.OrderPending).
		Where("o.created_at < ?", cutoff).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// ReleaseExpired releases the given tickets and cancels the given orders in
// one transaction. Tickets are updated first; if that fails nothing is
// committed, so an order is never cancelled while its tickets stay pending.
// Returns how many tickets were released and how many orders cancelled.
func (d *DB) ReleaseExpired(ctx context.Context, ticketNumbers []int, orderIDs []string) (int, int, error) {
	var released, cancelled int64
	err := d.Bun.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if len(ticketNumbers) > 0 {
			res, err := tx.NewUpdate().
				Model((*models.Ticket)(nil)).
				Set("status = ?", models.TicketAvailable).
				Set("pending_at = NULL").
				Where("ticket_number IN (?)", bun.In(ticketNumbers)).
				Where("status = ?", models.TicketPending).
				Exec(ctx)
			if err != nil {
				return err
			}
			released, err = res.RowsAffected()
			if err != nil {
				return err
			}
		}

		res, err := tx.NewUpdate().
			Model((*models.Order)(nil)).
			Set("status = ?", models.OrderCancel).
			Where("id IN (?)", bun.In(orderIDs)).
			Where("status = ?", models.OrderPending).
			Exec(ctx)
		if err != nil {
			return err
		}
		cancelled, err = res.RowsAffected()
		if err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return int(released), int(cancelled), nil
}
