package raffle

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"time"

	"rifa-service/internal/config"
	"rifa-service/internal/logger"
	"rifa-service/internal/models"
	"rifa-service/internal/raffle/db"

	"github.com/google/uuid"
)

type DBLayer interface {
	ListTickets(ctx context.Context) ([]models.Ticket, error)
	TicketStats(ctx context.Context, total int) (models.TicketStats, error)
	GetOrderWithItems(ctx context.Context, id string) (*models.Order, error)
	GetOrderByIDAndToken(ctx context.Context, id, token string) (*models.Order, error)
	ListOrders(ctx context.Context) ([]models.Order, error)
	ReserveOrder(ctx context.Context, order *models.Order, now time.Time) error
	MarkUserConfirmed(ctx context.Context, orderID string, now time.Time) error
	CompleteOrder(ctx context.Context, order *models.Order) (int, error)
	CancelOrder(ctx context.Context, order *models.Order) (int, error)
	ExpiredPendingOrders(ctx context.Context, cutoff time.Time) ([]models.Order, error)
	ReleaseExpired(ctx context.Context, ticketNumbers []int, orderIDs []string) (int, int, error)
}

type KafkaPublisher interface {
	PublishOrderEvent(topic string, event models.OrderEventDto) error
}

type RealtimeEmitter interface {
	Emit(event models.RowEvent)
}

// Service owns every ticket and order status transition. All concurrency
// control lives in the store's conditional writes; the service never trusts
// a status it read earlier in the same request to still hold at write time.
type Service struct {
	DB       DBLayer
	Kafka    KafkaPublisher
	Realtime RealtimeEmitter
	Config   config.RaffleConfig
	Topics   config.TopicConfig

	logger *logger.Logger
	now    func() time.Time
}

func NewService(dbLayer DBLayer, kafka KafkaPublisher, realtime RealtimeEmitter, cfg config.RaffleConfig, topics config.TopicConfig, log *logger.Logger) *Service {
	return &Service{
		DB:       dbLayer,
		Kafka:    kafka,
		Realtime: realtime,
		Config:   cfg,
		Topics:   topics,
		logger:   log,
		now:      time.Now,
	}
}

var emailPattern = regexp.MustCompile(`^\S+@\S+\.\S+$`)
var phonePattern = regexp.MustCompile(`^\+?[0-9][0-9 \-]{6,}$`)

// ---------------- READS ----------------

func (s *Service) Tickets(ctx context.Context) ([]models.Ticket, error) {
	return s.DB.ListTickets(ctx)
}

func (s *Service) Stats(ctx context.Context) (models.TicketStats, error) {
	return s.DB.TicketStats(ctx, s.Config.TotalTickets)
}

func (s *Service) Orders(ctx context.Context) ([]models.Order, error) {
	return s.DB.ListOrders(ctx)
}

// ---------------- RESERVATION ----------------

// Reserve creates a pending order for the selected tickets. Order, items
// and the ticket claim commit in one transaction; when any selected ticket
// is already taken the whole reservation fails with a ConflictError and no
// row is left modified. The returned order carries the confirmation token
// the buyer needs for the later "I paid" step.
func (s *Service) Reserve(ctx context.Context, req models.OrderRequest) (*models.Order, error) {
	numbers, err := s.validateRequest(req)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	order := &models.Order{
		ID:                uuid.NewString(),
		OrderNumber:       models.NewOrderNumber(now),
		CustomerName:      req.CustomerName,
		CustomerEmail:     req.CustomerEmail,
		CustomerPhone:     req.CustomerPhone,
		TotalAmount:       float64(len(numbers)) * s.Config.TicketPrice,
		Status:            models.OrderPending,
		ConfirmationToken: uuid.NewString(),
		CreatedAt:         now,
	}
	for _, n := range numbers {
		order.Items = append(order.Items, models.OrderItem{
			OrderID:      order.ID,
			TicketNumber: n,
			Price:        s.Config.TicketPrice,
		})
	}

	if err := s.DB.ReserveOrder(ctx, order, now); err != nil {
		if errors.Is(err, db.ErrTicketsUnavailable) {
			s.logger.LogOrder("RESERVE", order.OrderNumber, "rejected, selection no longer available")
			return nil, newConflict("one or more selected tickets are no longer available")
		}
		return nil, fmt.Errorf("reserve order: %w", err)
	}

	s.logger.LogOrder("RESERVE", order.OrderNumber, fmt.Sprintf("%d tickets held for %s", len(numbers), order.CustomerEmail))
	s.emitTicketEvents(numbers, models.TicketAvailable, models.TicketPending, &now)
	s.emitOrderEvent(models.EventInsert, "", order)
	s.publishOrderEvent(s.Topics.OrderCreated, order)
	return order, nil
}

func (s *Service) validateRequest(req models.OrderRequest) ([]int, error) {
	if len(req.TicketNumbers) == 0 {
		return nil, &ValidationError{Msg: "at least one ticket number is required"}
	}
	if !emailPattern.MatchString(req.CustomerEmail) {
		return nil, &ValidationError{Msg: "a valid email address is required"}
	}
	if req.CustomerPhone != "" && !phonePattern.MatchString(req.CustomerPhone) {
		return nil, &ValidationError{Msg: "a valid phone number is required"}
	}

	seen := make(map[int]struct{}, len(req.TicketNumbers))
	numbers := make([]int, 0, len(req.TicketNumbers))
	for _, n := range req.TicketNumbers {
		if n < 1 || n > s.Config.TotalTickets {
			return nil, &ValidationError{Msg: fmt.Sprintf("ticket number %d is out of range", n)}
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)
	return numbers, nil
}

// ---------------- BUYER CONFIRMATION ----------------

// UserConfirmPayment records the buyer's "I paid" claim, moving a pending
// order to awaiting_verification. The id+token pair is checked in a single
// lookup so a wrong token and an unknown order are indistinguishable to the
// caller. Tickets are never touched here.
func (s *Service) UserConfirmPayment(ctx context.Context, orderID, token string) (*models.Order, error) {
	if orderID == "" || token == "" {
		return nil, ErrInvalidToken
	}

	order, err := s.DB.GetOrderByIDAndToken(ctx, orderID, token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.LogSecurity("USER_CONFIRM", fmt.Sprintf("invalid order/token pair for order id %q", orderID))
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("load order: %w", err)
	}
	if order.Status != models.OrderPending {
		return nil, &ConflictError{
			Msg:    fmt.Sprintf("order is already %s", order.Status),
			Status: order.Status,
		}
	}

	now := s.now().UTC()
	if err := s.DB.MarkUserConfirmed(ctx, orderID, now); err != nil {
		if errors.Is(err, db.ErrNoEligibleRows) {
			return nil, s.freshStatusConflict(ctx, order)
		}
		return nil, fmt.Errorf("mark user confirmed: %w", err)
	}

	order.Status = models.OrderAwaiting
	order.UserConfirmedAt = &now
	s.logger.LogOrder("USER_CONFIRM", order.OrderNumber, "buyer reported payment sent")
	s.emitOrderEvent(models.EventUpdate, models.OrderPending, order)
	s.publishOrderEvent(s.Topics.OrderAwaiting, order)
	return order, nil
}

// ---------------- ADMIN RECONCILIATION ----------------

// ConfirmPayment finalizes a sale after the admin has matched the incoming
// SINPE transfer to the order. The order must still be pending or
// awaiting_verification. Returns the order and how many tickets were
// marked sold.
func (s *Service) ConfirmPayment(ctx context.Context, orderID string) (*models.Order, int, error) {
	order, err := s.eligibleOrder(ctx, orderID, "confirm")
	if err != nil {
		return nil, 0, err
	}

	confirmed, err := s.DB.CompleteOrder(ctx, order)
	if err != nil {
		if errors.Is(err, db.ErrNoEligibleRows) {
			return nil, 0, s.freshStatusConflict(ctx, order)
		}
		return nil, 0, fmt.Errorf("complete order: %w", err)
	}

	prev := order.Status
	order.Status = models.OrderComplete
	s.logger.LogOrder("CONFIRM", order.OrderNumber, fmt.Sprintf("payment confirmed, %d tickets sold", confirmed))
	s.emitTicketEvents(order.TicketNumbers(), models.TicketPending, models.TicketSold, nil)
	s.emitOrderEvent(models.EventUpdate, prev, order)
	s.publishOrderEvent(s.Topics.OrderCompleted, order)
	return order, confirmed, nil
}

// CancelOrder rejects a payment claim or abandons an order: the order is
// cancelled and its tickets go back on sale. Same eligibility rules as
// ConfirmPayment. Returns the order and how many tickets were released.
func (s *Service) CancelOrder(ctx context.Context, orderID string) (*models.Order, int, error) {
	order, err := s.eligibleOrder(ctx, orderID, "cancel")
	if err != nil {
		return nil, 0, err
	}

	released, err := s.DB.CancelOrder(ctx, order)
	if err != nil {
		if errors.Is(err, db.ErrNoEligibleRows) {
			return nil, 0, s.freshStatusConflict(ctx, order)
		}
		return nil, 0, fmt.Errorf("cancel order: %w", err)
	}

	prev := order.Status
	order.Status = models.OrderCancel
	s.logger.LogOrder("CANCEL", order.OrderNumber, fmt.Sprintf("order cancelled, %d tickets released", released))
	s.emitTicketEvents(order.TicketNumbers(), models.TicketPending, models.TicketAvailable, nil)
	s.emitOrderEvent(models.EventUpdate, prev, order)
	s.publishOrderEvent(s.Topics.OrderCancelled, order)
	return order, released, nil
}

func (s *Service) eligibleOrder(ctx context.Context, orderID, action string) (*models.Order, error) {
	if orderID == "" {
		return nil, &ValidationError{Msg: "order id is required"}
	}
	order, err := s.DB.GetOrderWithItems(ctx, orderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load order: %w", err)
	}
	if order.Status != models.OrderPending && order.Status != models.OrderAwaiting {
		return nil, &ConflictError{
			Msg:    fmt.Sprintf("cannot %s order with status: %s", action, order.Status),
			Status: order.Status,
		}
	}
	return order, nil
}

// freshStatusConflict re-reads the order after a conditional write matched
// zero rows, so the conflict names the status that actually won the race.
func (s *Service) freshStatusConflict(ctx context.Context, order *models.Order) error {
	status := order.Status
	if fresh, err := s.DB.GetOrderWithItems(ctx, order.ID); err == nil {
		status = fresh.Status
	}
	return &ConflictError{
		Msg:    fmt.Sprintf("order is already %s", status),
		Status: status,
	}
}

// ---------------- EVENTS ----------------

func (s *Service) emitTicketEvents(numbers []int, oldStatus, newStatus string, pendingAt *time.Time) {
	if s.Realtime == nil {
		return
	}
	for _, n := range numbers {
		oldRow := models.Ticket{TicketNumber: n, Status: oldStatus}
		newRow := models.Ticket{TicketNumber: n, Status: newStatus, PendingAt: pendingAt}
		event, err := models.NewRowEvent(models.TableTickets, models.EventUpdate, oldRow, newRow)
		if err != nil {
			s.logger.Error("REALTIME", fmt.Sprintf("failed to build ticket event: %v", err))
			continue
		}
		s.Realtime.Emit(event)
	}
}

func (s *Service) emitOrderEvent(eventType, oldStatus string, order *models.Order) {
	if s.Realtime == nil {
		return
	}
	// Snapshots go to every subscribed browser; the confirmation token is
	// a secret between the service and the buyer, so it never rides along.
	newRow := *order
	newRow.ConfirmationToken = ""
	newRow.Items = order.Items

	var oldRow interface{}
	if eventType == models.EventUpdate {
		prev := newRow
		prev.Status = oldStatus
		oldRow = prev
	}
	event, err := models.NewRowEvent(models.TableOrders, eventType, oldRow, newRow)
	if err != nil {
		s.logger.Error("REALTIME", fmt.Sprintf("failed to build order event: %v", err))
		return
	}
	s.Realtime.Emit(event)
}

func (s *Service) publishOrderEvent(topic string, order *models.Order) {
	if s.Kafka == nil {
		return
	}
	event := models.OrderEventDto{
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		Status:        order.Status,
		CustomerEmail: order.CustomerEmail,
		TotalAmount:   order.TotalAmount,
		TicketNumbers: order.TicketNumbers(),
		OccurredAt:    s.now().UTC(),
	}
	if err := s.Kafka.PublishOrderEvent(topic, event); err != nil {
		// Kafka is a side channel; the state machine already committed.
		s.logger.Error("KAFKA", fmt.Sprintf("failed to publish %s for %s: %v", topic, order.OrderNumber, err))
	}
}
