package saga

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/rmartins/orderflow-backend/internal/inventory"
	"github.com/rmartins/orderflow-backend/internal/orders"
	"github.com/rmartins/orderflow-backend/pkg/db/models"
	"github.com/rmartins/orderflow-backend/pkg/enums"
	"github.com/rmartins/orderflow-backend/pkg/logger"
	"github.com/rmartins/orderflow-backend/pkg/outbox"
	"github.com/rmartins/orderflow-backend/pkg/outbox/payloads"
	"github.com/rmartins/orderflow-backend/pkg/pagination"
)

type stubTxRunner struct{}

func (stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(&gorm.DB{})
}

type stubOrders struct {
	orders  map[uuid.UUID]*models.Order
	findErr error
}

func newStubOrders() *stubOrders {
	return &stubOrders{orders: map[uuid.UUID]*models.Order{}}
}

func (s *stubOrders) WithTx(tx *gorm.DB) orders.Repository { return s }

func (s *stubOrders) Create(ctx context.Context, order *models.Order) error {
	s.orders[order.ID] = order
	return nil
}

func (s *stubOrders) FindByID(ctx context.Context, tenantID string, id uuid.UUID) (*models.Order, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	if order, ok := s.orders[id]; ok && order.TenantID == tenantID {
		return order, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *stubOrders) List(ctx context.Context, tenantID string, status enums.OrderStatus, cursor *pagination.Cursor, limit int) ([]models.Order, error) {
	return nil, nil
}

func (s *stubOrders) TransitionStatus(ctx context.Context, id uuid.UUID, from, to enums.OrderStatus) (bool, error) {
	order, ok := s.orders[id]
	if !ok || order.Status != from {
		return false, nil
	}
	order.Status = to
	return true, nil
}

type movement struct {
	kind  string
	lines []inventory.Line
}

type stubInventory struct {
	movements  []movement
	reserveErr error
	consumeErr error
}

func (s *stubInventory) List(ctx context.Context, input inventory.ListInput) ([]models.InventoryItem, string, error) {
	return nil, "", nil
}

func (s *stubInventory) Adjust(ctx context.Context, input inventory.AdjustInput) (*models.InventoryAdjustment, error) {
	return nil, nil
}

func (s *stubInventory) ListAdjustments(ctx context.Context, tenantID, sku string, limit int) ([]models.InventoryAdjustment, error) {
	return nil, nil
}

func (s *stubInventory) ReserveLines(ctx context.Context, tx *gorm.DB, tenantID string, lines []inventory.Line) error {
	if s.reserveErr != nil {
		return s.reserveErr
	}
	s.movements = append(s.movements, movement{kind: "reserve", lines: lines})
	return nil
}

func (s *stubInventory) ReleaseLines(ctx context.Context, tx *gorm.DB, tenantID string, lines []inventory.Line) error {
	s.movements = append(s.movements, movement{kind: "release", lines: lines})
	return nil
}

func (s *stubInventory) ConsumeLines(ctx context.Context, tx *gorm.DB, tenantID string, lines []inventory.Line) error {
	if s.consumeErr != nil {
		return s.consumeErr
	}
	s.movements = append(s.movements, movement{kind: "consume", lines: lines})
	return nil
}

type stubOutbox struct {
	events []outbox.DomainEvent
	err    error
}

func (s *stubOutbox) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

type sagaFixture struct {
	handlers  *Handlers
	orders    *stubOrders
	inventory *stubInventory
	outbox    *stubOutbox
}

func newSagaFixture(t *testing.T) *sagaFixture {
	t.Helper()
	repo := newStubOrders()
	inv := &stubInventory{}
	ob := &stubOutbox{}
	logg := logger.New(logger.Options{ServiceName: "saga-test", Output: io.Discard})
	handlers, err := NewHandlers(repo, inv, ob, stubTxRunner{}, logg, "BRL")
	if err != nil {
		t.Fatalf("new handlers: %v", err)
	}
	return &sagaFixture{handlers: handlers, orders: repo, inventory: inv, outbox: ob}
}

func (f *sagaFixture) seedOrder(status enums.OrderStatus) *models.Order {
	order := &models.Order{
		ID:       uuid.New(),
		TenantID: "acme",
		Status:   status,
		Items: []models.OrderItem{
			{SKU: "SKU-1", Qty: 2, Price: decimal.NewFromFloat(10.50)},
			{SKU: "SKU-2", Qty: 1, Price: decimal.NewFromFloat(4.00)},
		},
	}
	f.orders.orders[order.ID] = order
	return order
}

func eventFor(t *testing.T, eventType enums.OutboxEventType, data any) Event {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return Event{
		Type:     eventType,
		TenantID: "acme",
		Envelope: outbox.PayloadEnvelope{Version: 1, Data: raw},
	}
}

func TestOrderCreatedReservesStock(t *testing.T) {
	f := newSagaFixture(t)
	order := f.seedOrder(enums.OrderStatusCreated)

	evt := eventFor(t, enums.EventOrderCreated, payloads.OrderCreatedEvent{OrderID: order.ID})
	if got := f.handlers.HandleOrderCreated(context.Background(), evt); got != OutcomeAck {
		t.Fatalf("expected ack, got %s", got)
	}
	if order.Status != enums.OrderStatusReserved {
		t.Fatalf("expected RESERVED, got %s", order.Status)
	}
	if len(f.inventory.movements) != 1 || f.inventory.movements[0].kind != "reserve" {
		t.Fatalf("expected one reserve movement, got %+v", f.inventory.movements)
	}
	if len(f.outbox.events) != 1 || f.outbox.events[0].EventType != enums.EventStockReserved {
		t.Fatalf("expected stock.reserved event, got %+v", f.outbox.events)
	}
}

func TestOrderCreatedInsufficientStockCancels(t *testing.T) {
	f := newSagaFixture(t)
	order := f.seedOrder(enums.OrderStatusCreated)
	f.inventory.reserveErr = inventory.ErrInsufficientStock

	evt := eventFor(t, enums.EventOrderCreated, payloads.OrderCreatedEvent{OrderID: order.ID})
	if got := f.handlers.HandleOrderCreated(context.Background(), evt); got != OutcomeAck {
		t.Fatalf("expected ack, got %s", got)
	}
	if order.Status != enums.OrderStatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", order.Status)
	}
	if len(f.inventory.movements) != 0 {
		t.Fatalf("inventory must stay untouched, got %+v", f.inventory.movements)
	}
	if len(f.outbox.events) != 1 || f.outbox.events[0].EventType != enums.EventOrderCancelled {
		t.Fatalf("expected order.cancelled event, got %+v", f.outbox.events)
	}
	var data payloads.OrderCancelledEvent
	raw, _ := json.Marshal(f.outbox.events[0].Data)
	if err := json.Unmarshal(raw, &data); err != nil {
		t.Fatalf("unmarshal cancel payload: %v", err)
	}
	if data.Reason != "insufficient stock" {
		t.Fatalf("expected insufficient stock reason, got %q", data.Reason)
	}
}

func TestOrderCreatedRedeliveryIsNoop(t *testing.T) {
	f := newSagaFixture(t)
	order := f.seedOrder(enums.OrderStatusReserved)

	evt := eventFor(t, enums.EventOrderCreated, payloads.OrderCreatedEvent{OrderID: order.ID})
	if got := f.handlers.HandleOrderCreated(context.Background(), evt); got != OutcomeAck {
		t.Fatalf("expected ack, got %s", got)
	}
	if len(f.inventory.movements) != 0 || len(f.outbox.events) != 0 {
		t.Fatalf("redelivery must not reserve again")
	}
}

func TestOrderCreatedMalformedPayloadAcks(t *testing.T) {
	f := newSagaFixture(t)

	evt := Event{
		Type:     enums.EventOrderCreated,
		TenantID: "acme",
		Envelope: outbox.PayloadEnvelope{Version: 1, Data: json.RawMessage(`{"order_id":`)},
	}
	if got := f.handlers.HandleOrderCreated(context.Background(), evt); got != OutcomeAck {
		t.Fatalf("malformed payload must ack, got %s", got)
	}
}

func TestOrderCreatedUnknownOrderAcks(t *testing.T) {
	f := newSagaFixture(t)

	evt := eventFor(t, enums.EventOrderCreated, payloads.OrderCreatedEvent{OrderID: uuid.New()})
	if got := f.handlers.HandleOrderCreated(context.Background(), evt); got != OutcomeAck {
		t.Fatalf("unknown order must ack, got %s", got)
	}
}

func TestOrderCreatedStoreFailureRetries(t *testing.T) {
	f := newSagaFixture(t)
	f.orders.findErr = errors.New("connection reset")

	evt := eventFor(t, enums.EventOrderCreated, payloads.OrderCreatedEvent{OrderID: uuid.New()})
	if got := f.handlers.HandleOrderCreated(context.Background(), evt); got != OutcomeRetry {
		t.Fatalf("store failure must retry, got %s", got)
	}
}

func TestOrderCancelledReleasesReservation(t *testing.T) {
	f := newSagaFixture(t)
	order := f.seedOrder(enums.OrderStatusReserved)

	evt := eventFor(t, enums.EventOrderCancelled, payloads.OrderCancelledEvent{OrderID: order.ID})
	if got := f.handlers.HandleOrderCancelled(context.Background(), evt); got != OutcomeAck {
		t.Fatalf("expected ack, got %s", got)
	}
	if order.Status != enums.OrderStatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", order.Status)
	}
	if len(f.inventory.movements) != 1 || f.inventory.movements[0].kind != "release" {
		t.Fatalf("expected release movement, got %+v", f.inventory.movements)
	}
}

func TestOrderCancelledFromCreatedSkipsInventory(t *testing.T) {
	f := newSagaFixture(t)
	order := f.seedOrder(enums.OrderStatusCreated)

	evt := eventFor(t, enums.EventOrderCancelled, payloads.OrderCancelledEvent{OrderID: order.ID})
	if got := f.handlers.HandleOrderCancelled(context.Background(), evt); got != OutcomeAck {
		t.Fatalf("expected ack, got %s", got)
	}
	if order.Status != enums.OrderStatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", order.Status)
	}
	if len(f.inventory.movements) != 0 {
		t.Fatalf("no reservation to release, got %+v", f.inventory.movements)
	}
}

func TestOrderCancelledAlreadyCancelledAcks(t *testing.T) {
	f := newSagaFixture(t)
	order := f.seedOrder(enums.OrderStatusCancelled)

	evt := eventFor(t, enums.EventOrderCancelled, payloads.OrderCancelledEvent{OrderID: order.ID})
	if got := f.handlers.HandleOrderCancelled(context.Background(), evt); got != OutcomeAck {
		t.Fatalf("expected ack, got %s", got)
	}
	if len(f.inventory.movements) != 0 {
		t.Fatalf("repeated cancel must not touch inventory")
	}
}

func TestOrderConfirmedConsumesAndRequestsCharge(t *testing.T) {
	f := newSagaFixture(t)
	order := f.seedOrder(enums.OrderStatusReserved)

	evt := eventFor(t, enums.EventOrderConfirmed, payloads.OrderConfirmedEvent{OrderID: order.ID})
	if got := f.handlers.HandleOrderConfirmed(context.Background(), evt); got != OutcomeAck {
		t.Fatalf("expected ack, got %s", got)
	}
	if order.Status != enums.OrderStatusConfirmed {
		t.Fatalf("expected CONFIRMED, got %s", order.Status)
	}
	if len(f.inventory.movements) != 1 || f.inventory.movements[0].kind != "consume" {
		t.Fatalf("expected consume movement, got %+v", f.inventory.movements)
	}
	if len(f.outbox.events) != 1 || f.outbox.events[0].EventType != enums.EventPaymentChargeRequested {
		t.Fatalf("expected payment.charge_requested, got %+v", f.outbox.events)
	}

	var data payloads.PaymentChargeRequestedEvent
	raw, _ := json.Marshal(f.outbox.events[0].Data)
	if err := json.Unmarshal(raw, &data); err != nil {
		t.Fatalf("unmarshal charge payload: %v", err)
	}
	// 2 x 10.50 + 1 x 4.00
	if !data.Amount.Equal(decimal.NewFromFloat(25.00)) {
		t.Fatalf("expected total 25.00, got %s", data.Amount)
	}
	if data.Currency != "BRL" {
		t.Fatalf("expected BRL, got %q", data.Currency)
	}
}

func TestOrderConfirmedNotReservedAcks(t *testing.T) {
	f := newSagaFixture(t)
	order := f.seedOrder(enums.OrderStatusConfirmed)

	evt := eventFor(t, enums.EventOrderConfirmed, payloads.OrderConfirmedEvent{OrderID: order.ID})
	if got := f.handlers.HandleOrderConfirmed(context.Background(), evt); got != OutcomeAck {
		t.Fatalf("expected ack, got %s", got)
	}
	if len(f.inventory.movements) != 0 || len(f.outbox.events) != 0 {
		t.Fatalf("redelivered confirm must be a no-op")
	}
}

func TestPaymentSettledMarksPaid(t *testing.T) {
	f := newSagaFixture(t)
	order := f.seedOrder(enums.OrderStatusConfirmed)

	evt := eventFor(t, enums.EventPaymentSettled, Settlement{OrderID: order.ID})
	if got := f.handlers.HandlePaymentSettled(context.Background(), evt); got != OutcomeAck {
		t.Fatalf("expected ack, got %s", got)
	}
	if order.Status != enums.OrderStatusPaid {
		t.Fatalf("expected PAID, got %s", order.Status)
	}
}

func TestPaymentSettledNotConfirmedAcks(t *testing.T) {
	f := newSagaFixture(t)
	order := f.seedOrder(enums.OrderStatusReserved)

	evt := eventFor(t, enums.EventPaymentSettled, Settlement{OrderID: order.ID})
	if got := f.handlers.HandlePaymentSettled(context.Background(), evt); got != OutcomeAck {
		t.Fatalf("expected ack, got %s", got)
	}
	if order.Status != enums.OrderStatusReserved {
		t.Fatalf("status must not change, got %s", order.Status)
	}
}
