package raffle

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"rifa-service/internal/config"
	"rifa-service/internal/logger"
	"rifa-service/internal/models"
	"rifa-service/internal/raffle/db"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockDB struct {
	mock.Mock
}

func (m *mockDB) ListTickets(ctx context.Context) ([]models.Ticket, error) {
	args := m.Called(ctx)
	return args.Get(0).([]models.Ticket), args.Error(1)
}

func (m *mockDB) TicketStats(ctx context.Context, total int) (models.TicketStats, error) {
	args := m.Called(ctx, total)
	return args.Get(0).(models.TicketStats), args.Error(1)
}

func (m *mockDB) GetOrderWithItems(ctx context.Context, id string) (*models.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

func (m *mockDB) GetOrderByIDAndToken(ctx context.Context, id, token string) (*models.Order, error) {
	args := m.Called(ctx, id, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

func (m *mockDB) ListOrders(ctx context.Context) ([]models.Order, error) {
	args := m.Called(ctx)
	return args.Get(0).([]models.Order), args.Error(1)
}

func (m *mockDB) ReserveOrder(ctx context.Context, order *models.Order, now time.Time) error {
	args := m.Called(ctx, order, now)
	return args.Error(0)
}

func (m *mockDB) MarkUserConfirmed(ctx context.Context, orderID string, now time.Time) error {
	args := m.Called(ctx, orderID, now)
	return args.Error(0)
}

func (m *mockDB) CompleteOrder(ctx context.Context, order *models.Order) (int, error) {
	args := m.Called(ctx, order)
	return args.Int(0), args.Error(1)
}

func (m *mockDB) CancelOrder(ctx context.Context, order *models.Order) (int, error) {
	args := m.Called(ctx, order)
	return args.Int(0), args.Error(1)
}

func (m *mockDB) ExpiredPendingOrders(ctx context.Context, cutoff time.Time) ([]models.Order, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).([]models.Order), args.Error(1)
}

func (m *mockDB) ReleaseExpired(ctx context.Context, ticketNumbers []int, orderIDs []string) (int, int, error) {
	args := m.Called(ctx, ticketNumbers, orderIDs)
	return args.Int(0), args.Int(1), args.Error(2)
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []models.RowEvent
}

func (r *recordingEmitter) Emit(event models.RowEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingEmitter) byTable(table string) []models.RowEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.RowEvent
	for _, e := range r.events {
		if e.Table == table {
			out = append(out, e)
		}
	}
	return out
}

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
	events []models.OrderEventDto
}

func (r *recordingPublisher) PublishOrderEvent(topic string, event models.OrderEventDto) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = append(r.topics, topic)
	r.events = append(r.events, event)
	return nil
}

var testTopics = config.TopicConfig{
	OrderCreated:   "raffle.order.created",
	OrderAwaiting:  "raffle.order.awaiting",
	OrderCompleted: "raffle.order.completed",
	OrderCancelled: "raffle.order.cancelled",
	OrderExpired:   "raffle.order.expired",
}

func newTestService(t *testing.T, store *mockDB) (*Service, *recordingEmitter, *recordingPublisher) {
	t.Helper()
	emitter := &recordingEmitter{}
	publisher := &recordingPublisher{}
	cfg := config.RaffleConfig{
		TotalTickets:   500,
		TicketPrice:    20,
		ReservationTTL: 10 * time.Minute,
	}
	svc := NewService(store, publisher, emitter, cfg, testTopics, logger.NewLogger())
	return svc, emitter, publisher
}

func validRequest(numbers ...int) models.OrderRequest {
	return models.OrderRequest{
		CustomerName:  "Maria Jimenez",
		CustomerEmail: "maria@example.com",
		CustomerPhone: "8888-1234",
		TicketNumbers: numbers,
	}
}

func TestReserveBuildsPendingOrder(t *testing.T) {
	store := &mockDB{}
	svc, emitter, publisher := newTestService(t, store)

	var captured *models.Order
	store.On("ReserveOrder", mock.Anything, mock.AnythingOfType("*models.Order"), mock.AnythingOfType("time.Time")).
		Run(func(args mock.Arguments) { captured = args.Get(1).(*models.Order) }).
		Return(nil)

	order, err := svc.Reserve(context.Background(), validRequest(42, 7, 42))
	require.NoError(t, err)

	require.NotNil(t, captured)
	assert.Equal(t, models.OrderPending, order.Status)
	assert.NotEmpty(t, order.ID)
	assert.NotEmpty(t, order.ConfirmationToken)
	assert.Regexp(t, `^ORD-\d+$`, order.OrderNumber)
	// Duplicates collapse and the selection is sorted
	assert.Equal(t, []int{7, 42}, order.TicketNumbers())
	assert.Equal(t, 40.0, order.TotalAmount)
	for _, item := range order.Items {
		assert.Equal(t, 20.0, item.Price)
	}

	// One realtime event per ticket plus the order insert
	assert.Len(t, emitter.byTable(models.TableTickets), 2)
	require.Len(t, emitter.byTable(models.TableOrders), 1)
	assert.Equal(t, []string{testTopics.OrderCreated}, publisher.topics)
	store.AssertExpectations(t)
}

func TestReserveValidation(t *testing.T) {
	store := &mockDB{}
	svc, _, _ := newTestService(t, store)
	ctx := context.Background()

	cases := []struct {
		name string
		req  models.OrderRequest
	}{
		{"no tickets", validRequest()},
		{"out of range low", validRequest(0)},
		{"out of range high", validRequest(501)},
		{"bad email", models.OrderRequest{CustomerEmail: "not-an-email", TicketNumbers: []int{1}}},
		{"bad phone", models.OrderRequest{CustomerEmail: "a@b.cr", CustomerPhone: "abc", TicketNumbers: []int{1}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Reserve(ctx, tc.req)
			assert.True(t, IsValidation(err), "expected validation error, got %v", err)
		})
	}
	// Nothing reached the store
	store.AssertNotCalled(t, "ReserveOrder", mock.Anything, mock.Anything, mock.Anything)
}

func TestReserveConflictWhenTicketsTaken(t *testing.T) {
	store := &mockDB{}
	svc, emitter, publisher := newTestService(t, store)

	store.On("ReserveOrder", mock.Anything, mock.Anything, mock.Anything).
		Return(db.ErrTicketsUnavailable)

	_, err := svc.Reserve(context.Background(), validRequest(13))
	assert.True(t, IsConflict(err))
	assert.Empty(t, emitter.events)
	assert.Empty(t, publisher.topics)
}

func TestUserConfirmPayment(t *testing.T) {
	store := &mockDB{}
	svc, emitter, publisher := newTestService(t, store)

	order := &models.Order{
		ID:                "o-1",
		OrderNumber:       "ORD-1700000000000",
		Status:            models.OrderPending,
		ConfirmationToken: "secret",
	}
	store.On("GetOrderByIDAndToken", mock.Anything, "o-1", "secret").Return(order, nil)
	store.On("MarkUserConfirmed", mock.Anything, "o-1", mock.AnythingOfType("time.Time")).Return(nil)

	updated, err := svc.UserConfirmPayment(context.Background(), "o-1", "secret")
	require.NoError(t, err)
	assert.Equal(t, models.OrderAwaiting, updated.Status)
	require.NotNil(t, updated.UserConfirmedAt)

	// Tickets stay untouched; only the order changes
	assert.Empty(t, emitter.byTable(models.TableTickets))
	assert.Len(t, emitter.byTable(models.TableOrders), 1)
	assert.Equal(t, []string{testTopics.OrderAwaiting}, publisher.topics)
}

func TestUserConfirmPaymentWrongTokenAndUnknownOrderLookAlike(t *testing.T) {
	store := &mockDB{}
	svc, _, _ := newTestService(t, store)
	ctx := context.Background()

	store.On("GetOrderByIDAndToken", mock.Anything, "o-1", "wrong").Return(nil, sql.ErrNoRows)
	store.On("GetOrderByIDAndToken", mock.Anything, "missing", "whatever").Return(nil, sql.ErrNoRows)

	_, errWrongToken := svc.UserConfirmPayment(ctx, "o-1", "wrong")
	_, errUnknown := svc.UserConfirmPayment(ctx, "missing", "whatever")

	// Both fold into the same error so callers cannot probe for order ids
	assert.ErrorIs(t, errWrongToken, ErrInvalidToken)
	assert.ErrorIs(t, errUnknown, ErrInvalidToken)
	assert.Equal(t, errWrongToken, errUnknown)

	store.AssertNotCalled(t, "MarkUserConfirmed", mock.Anything, mock.Anything, mock.Anything)
}

func TestUserConfirmPaymentAlreadyAwaiting(t *testing.T) {
	store := &mockDB{}
	svc, _, _ := newTestService(t, store)

	order := &models.Order{ID: "o-1", Status: models.OrderAwaiting, ConfirmationToken: "secret"}
	store.On("GetOrderByIDAndToken", mock.Anything, "o-1", "secret").Return(order, nil)

	_, err := svc.UserConfirmPayment(context.Background(), "o-1", "secret")
	assert.True(t, IsConflict(err))
	store.AssertNotCalled(t, "MarkUserConfirmed", mock.Anything, mock.Anything, mock.Anything)
}

func pendingOrder(id string, numbers ...int) *models.Order {
	order := &models.Order{
		ID:          id,
		OrderNumber: "ORD-1700000000000",
		Status:      models.OrderPending,
	}
	for _, n := range numbers {
		order.Items = append(order.Items, models.OrderItem{OrderID: id, TicketNumber: n, Price: 20})
	}
	return order
}

func TestConfirmPayment(t *testing.T) {
	store := &mockDB{}
	svc, emitter, publisher := newTestService(t, store)

	order := pendingOrder("o-1", 5, 12)
	store.On("GetOrderWithItems", mock.Anything, "o-1").Return(order, nil)
	store.On("CompleteOrder", mock.Anything, order).Return(2, nil)

	confirmed, count, err := svc.ConfirmPayment(context.Background(), "o-1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderComplete, confirmed.Status)
	assert.Equal(t, 2, count)

	assert.Len(t, emitter.byTable(models.TableTickets), 2)
	assert.Equal(t, []string{testTopics.OrderCompleted}, publisher.topics)
}

func TestConfirmPaymentTerminalOrderIsConflict(t *testing.T) {
	store := &mockDB{}
	svc, _, _ := newTestService(t, store)

	done := &models.Order{ID: "o-1", Status: models.OrderComplete}
	store.On("GetOrderWithItems", mock.Anything, "o-1").Return(done, nil)

	_, _, err := svc.ConfirmPayment(context.Background(), "o-1")
	assert.True(t, IsConflict(err))
	store.AssertNotCalled(t, "CompleteOrder", mock.Anything, mock.Anything)
}

func TestConfirmPaymentUnknownOrder(t *testing.T) {
	store := &mockDB{}
	svc, _, _ := newTestService(t, store)

	store.On("GetOrderWithItems", mock.Anything, "nope").Return(nil, sql.ErrNoRows)

	_, _, err := svc.ConfirmPayment(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConfirmPaymentLosesRaceToSweep(t *testing.T) {
	store := &mockDB{}
	svc, _, publisher := newTestService(t, store)

	order := pendingOrder("o-1", 5)
	store.On("GetOrderWithItems", mock.Anything, "o-1").Return(order, nil).Once()
	store.On("CompleteOrder", mock.Anything, order).Return(0, db.ErrNoEligibleRows)
	// Re-read after the conditional write matched nothing
	cancelled := &models.Order{ID: "o-1", Status: models.OrderCancel}
	store.On("GetOrderWithItems", mock.Anything, "o-1").Return(cancelled, nil)

	_, _, err := svc.ConfirmPayment(context.Background(), "o-1")
	require.True(t, IsConflict(err))
	assert.Contains(t, err.Error(), models.OrderCancel)
	assert.Empty(t, publisher.topics)
}

func TestCancelOrderReleases(t *testing.T) {
	store := &mockDB{}
	svc, emitter, publisher := newTestService(t, store)

	order := pendingOrder("o-1", 3)
	store.On("GetOrderWithItems", mock.Anything, "o-1").Return(order, nil)
	store.On("CancelOrder", mock.Anything, order).Return(1, nil)

	cancelled, released, err := svc.CancelOrder(context.Background(), "o-1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderCancel, cancelled.Status)
	assert.Equal(t, 1, released)
	assert.Len(t, emitter.byTable(models.TableTickets), 1)
	assert.Equal(t, []string{testTopics.OrderCancelled}, publisher.topics)
}

func TestSweepReleasesOnlyStaleOrders(t *testing.T) {
	store := &mockDB{}
	svc, emitter, publisher := newTestService(t, store)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }

	stale := *pendingOrder("o-stale", 5, 12)
	stale.CreatedAt = base.Add(-11 * time.Minute)

	store.On("ExpiredPendingOrders", mock.Anything, base.Add(-10*time.Minute)).
		Return([]models.Order{stale}, nil)
	store.On("ReleaseExpired", mock.Anything, []int{5, 12}, []string{"o-stale"}).
		Return(2, 1, nil)

	result, err := svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Cleaned: 2, Orders: 1}, result)

	assert.Len(t, emitter.byTable(models.TableTickets), 2)
	assert.Len(t, emitter.byTable(models.TableOrders), 1)
	assert.Equal(t, []string{testTopics.OrderExpired}, publisher.topics)
	store.AssertExpectations(t)
}

func TestSweepNothingToDo(t *testing.T) {
	store := &mockDB{}
	svc, emitter, _ := newTestService(t, store)

	store.On("ExpiredPendingOrders", mock.Anything, mock.Anything).
		Return([]models.Order{}, nil)

	result, err := svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepResult{}, result)
	assert.Empty(t, emitter.events)
	store.AssertNotCalled(t, "ReleaseExpired", mock.Anything, mock.Anything, mock.Anything)
}

func TestOrderEventsNeverCarryConfirmationToken(t *testing.T) {
	store := &mockDB{}
	svc, emitter, _ := newTestService(t, store)

	store.On("ReserveOrder", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	order, err := svc.Reserve(context.Background(), validRequest(1))
	require.NoError(t, err)
	require.NotEmpty(t, order.ConfirmationToken)

	events := emitter.byTable(models.TableOrders)
	require.Len(t, events, 1)
	assert.NotContains(t, string(events[0].New), order.ConfirmationToken)
	assert.NotContains(t, string(events[0].New), "confirmation_token")
}
