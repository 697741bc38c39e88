package raffle

import (
	"context"
	"fmt"
	"time"

	"rifa-service/internal/models"
)

// SweepLock elects one instance to run a scheduled sweep pass. Acquire
// returning false means another instance won; that pass is skipped.
type SweepLock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// SweepResult reports what one sweep pass did: Cleaned counts tickets put
// back on sale, Orders counts reservations cancelled.
type SweepResult struct {
	Cleaned int `json:"cleaned"`
	Orders  int `json:"orders"`
}

// Sweep releases every reservation older than the configured TTL: the
// expired orders' tickets go back to available and the orders themselves
// to cancelled, in one transaction. It is idempotent and safe to run
// concurrently; both bulk updates are conditional on the current status,
// so a racing sweep or admin action simply wins and this pass counts zero
// for those rows. Finding nothing to do is a zero-count success, never an
// error.
func (s *Service) Sweep(ctx context.Context) (SweepResult, error) {
	cutoff := s.now().UTC().Add(-s.Config.ReservationTTL)

	expired, err := s.DB.ExpiredPendingOrders(ctx, cutoff)
	if err != nil {
		return SweepResult{}, fmt.Errorf("list expired orders: %w", err)
	}
	if len(expired) == 0 {
		return SweepResult{}, nil
	}

	orderIDs := make([]string, 0, len(expired))
	ticketNumbers := make([]int, 0, len(expired))
	for i := range expired {
		orderIDs = append(orderIDs, expired[i].ID)
		ticketNumbers = append(ticketNumbers, expired[i].TicketNumbers()...)
	}

	released, cancelled, err := s.DB.ReleaseExpired(ctx, ticketNumbers, orderIDs)
	if err != nil {
		return SweepResult{}, fmt.Errorf("release expired reservations: %w", err)
	}

	s.logger.LogSweep(released, cancelled)
	for i := range expired {
		order := &expired[i]
		prev := order.Status
		order.Status = models.OrderCancel
		s.emitTicketEvents(order.TicketNumbers(), models.TicketPending, models.TicketAvailable, nil)
		s.emitOrderEvent(models.EventUpdate, prev, order)
		s.publishOrderEvent(s.Topics.OrderExpired, order)
	}

	return SweepResult{Cleaned: released, Orders: cancelled}, nil
}

// RunSweeper fires Sweep on a fixed interval until the context is
// cancelled. The external scheduler hitting the cleanup endpoint remains
// the authority; this ticker only tightens the window between a
// reservation lapsing and its tickets reappearing. When sweepLock is
// non-nil only the instance that wins it runs the pass.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration, sweepLock SweepLock) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx, sweepLock)
		}
	}
}

func (s *Service) sweepOnce(ctx context.Context, sweepLock SweepLock) {
	if sweepLock != nil {
		ok, err := sweepLock.Acquire(ctx)
		if err != nil {
			s.logger.Error("SWEEP", fmt.Sprintf("sweep lock acquire failed: %v", err))
			return
		}
		if !ok {
			return
		}
		defer func() {
			if err := sweepLock.Release(ctx); err != nil {
				s.logger.Error("SWEEP", fmt.Sprintf("sweep lock release failed: %v", err))
			}
		}()
	}

	if _, err := s.Sweep(ctx); err != nil {
		s.logger.Error("SWEEP", fmt.Sprintf("scheduled sweep failed: %v", err))
	}
}
