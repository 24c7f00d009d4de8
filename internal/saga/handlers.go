package saga

import (
	"context"
	"encoding/json"
	"errors"
	"time"

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
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// errSuperseded aborts a transaction when the status CAS loses to a
// concurrent delivery; the event is then a no-op.
var errSuperseded = errors.New("transition already applied")

// Handlers owns the fulfillment state machine. Every handler runs one
// transaction and re-checks the order status inside it, so redelivered
// events degrade to no-ops instead of double-applying.
type Handlers struct {
	orders    orders.Repository
	inventory inventory.Service
	outbox    outboxPublisher
	tx        txRunner
	logg      *logger.Logger
	currency  string
}

// NewHandlers builds the saga handler set.
func NewHandlers(ordersRepo orders.Repository, inv inventory.Service, ob outboxPublisher, tx txRunner, logg *logger.Logger, currency string) (*Handlers, error) {
	if ordersRepo == nil {
		return nil, errors.New("orders repository is required")
	}
	if inv == nil {
		return nil, errors.New("inventory service is required")
	}
	if ob == nil {
		return nil, errors.New("outbox publisher is required")
	}
	if tx == nil {
		return nil, errors.New("transaction runner is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	if currency == "" {
		currency = "BRL"
	}
	return &Handlers{
		orders:    ordersRepo,
		inventory: inv,
		outbox:    ob,
		tx:        tx,
		logg:      logg,
		currency:  currency,
	}, nil
}

// Register wires the handlers onto the domain and payments consumers.
func (h *Handlers) Register(domain, payments *Consumer) {
	if domain != nil {
		domain.Handle(enums.EventOrderCreated, h.HandleOrderCreated)
		domain.Handle(enums.EventOrderCancelled, h.HandleOrderCancelled)
		domain.Handle(enums.EventOrderConfirmed, h.HandleOrderConfirmed)
	}
	if payments != nil {
		payments.Handle(enums.EventPaymentSettled, h.HandlePaymentSettled)
	}
}

// HandleOrderCreated reserves stock for a new order. The availability check
// is all-or-nothing: one short line cancels the order and leaves inventory
// untouched.
func (h *Handlers) HandleOrderCreated(ctx context.Context, evt Event) Outcome {
	var data payloads.OrderCreatedEvent
	if err := json.Unmarshal(evt.Envelope.Data, &data); err != nil {
		h.logg.Error(ctx, "malformed order.created payload", err)
		return OutcomeAck
	}

	order, outcome := h.loadOrder(ctx, evt.TenantID, data.OrderID)
	if order == nil {
		return outcome
	}
	if order.Status != enums.OrderStatusCreated {
		h.logg.Info(ctx, "order already past CREATED, skipping reservation")
		return OutcomeAck
	}

	lines := linesFromItems(order.Items)
	err := h.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := h.inventory.ReserveLines(ctx, tx, evt.TenantID, lines); err != nil {
			return err
		}
		ok, err := h.orders.WithTx(tx).TransitionStatus(ctx, order.ID, enums.OrderStatusCreated, enums.OrderStatusReserved)
		if err != nil {
			return err
		}
		if !ok {
			return errSuperseded
		}
		return h.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventStockReserved,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			TenantID:      evt.TenantID,
			CorrelationID: evt.CorrelationID,
			Data: payloads.StockReservedEvent{
				OrderID: order.ID,
				Items:   itemsToPayload(order.Items),
			},
		})
	})
	switch {
	case err == nil:
		h.logg.Info(ctx, "stock reserved for order")
		return OutcomeAck
	case errors.Is(err, errSuperseded):
		return OutcomeAck
	case errors.Is(err, inventory.ErrInsufficientStock):
		return h.cancelForInsufficientStock(ctx, evt, order)
	default:
		h.logg.Error(ctx, "order.created handling failed", err)
		return OutcomeRetry
	}
}

func (h *Handlers) cancelForInsufficientStock(ctx context.Context, evt Event, order *models.Order) Outcome {
	err := h.tx.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := h.orders.WithTx(tx).TransitionStatus(ctx, order.ID, enums.OrderStatusCreated, enums.OrderStatusCancelled)
		if err != nil {
			return err
		}
		if !ok {
			return errSuperseded
		}
		return h.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCancelled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			TenantID:      evt.TenantID,
			CorrelationID: evt.CorrelationID,
			Data: payloads.OrderCancelledEvent{
				OrderID:     order.ID,
				Reason:      "insufficient stock",
				CancelledAt: time.Now().UTC(),
			},
		})
	})
	switch {
	case err == nil:
		h.logg.Warn(ctx, "order cancelled: insufficient stock")
		return OutcomeAck
	case errors.Is(err, errSuperseded):
		return OutcomeAck
	default:
		h.logg.Error(ctx, "compensating cancel failed", err)
		return OutcomeRetry
	}
}

// HandleOrderCancelled reverses an active reservation and finalizes the
// cancellation.
func (h *Handlers) HandleOrderCancelled(ctx context.Context, evt Event) Outcome {
	var data payloads.OrderCancelledEvent
	if err := json.Unmarshal(evt.Envelope.Data, &data); err != nil {
		h.logg.Error(ctx, "malformed order.cancelled payload", err)
		return OutcomeAck
	}

	order, outcome := h.loadOrder(ctx, evt.TenantID, data.OrderID)
	if order == nil {
		return outcome
	}
	if order.Status == enums.OrderStatusCancelled {
		return OutcomeAck
	}
	if order.Status == enums.OrderStatusPaid {
		h.logg.Warn(ctx, "ignoring cancel for paid order")
		return OutcomeAck
	}

	from := order.Status
	err := h.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if from == enums.OrderStatusReserved {
			if err := h.inventory.ReleaseLines(ctx, tx, evt.TenantID, linesFromItems(order.Items)); err != nil {
				return err
			}
		}
		ok, err := h.orders.WithTx(tx).TransitionStatus(ctx, order.ID, from, enums.OrderStatusCancelled)
		if err != nil {
			return err
		}
		if !ok {
			return errSuperseded
		}
		return nil
	})
	switch {
	case err == nil:
		h.logg.Info(ctx, "order cancelled")
		return OutcomeAck
	case errors.Is(err, errSuperseded):
		return OutcomeAck
	default:
		h.logg.Error(ctx, "order.cancelled handling failed", err)
		return OutcomeRetry
	}
}

// HandleOrderConfirmed commits the reservation, computes the order total
// and asks the payment provider to charge it.
func (h *Handlers) HandleOrderConfirmed(ctx context.Context, evt Event) Outcome {
	var data payloads.OrderConfirmedEvent
	if err := json.Unmarshal(evt.Envelope.Data, &data); err != nil {
		h.logg.Error(ctx, "malformed order.confirmed payload", err)
		return OutcomeAck
	}

	order, outcome := h.loadOrder(ctx, evt.TenantID, data.OrderID)
	if order == nil {
		return outcome
	}
	if order.Status != enums.OrderStatusReserved {
		h.logg.Info(ctx, "order not RESERVED, skipping confirmation")
		return OutcomeAck
	}

	total := orderTotal(order.Items)
	err := h.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := h.inventory.ConsumeLines(ctx, tx, evt.TenantID, linesFromItems(order.Items)); err != nil {
			return err
		}
		ok, err := h.orders.WithTx(tx).TransitionStatus(ctx, order.ID, enums.OrderStatusReserved, enums.OrderStatusConfirmed)
		if err != nil {
			return err
		}
		if !ok {
			return errSuperseded
		}
		return h.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentChargeRequested,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			TenantID:      evt.TenantID,
			CorrelationID: evt.CorrelationID,
			Data: payloads.PaymentChargeRequestedEvent{
				OrderID:  order.ID,
				Amount:   total,
				Currency: h.currency,
			},
		})
	})
	switch {
	case err == nil:
		h.logg.Info(h.logg.WithField(ctx, "total", total.String()), "order confirmed, charge requested")
		return OutcomeAck
	case errors.Is(err, errSuperseded):
		return OutcomeAck
	default:
		h.logg.Error(ctx, "order.confirmed handling failed", err)
		return OutcomeRetry
	}
}

// HandlePaymentSettled closes the saga once the provider reports payment.
func (h *Handlers) HandlePaymentSettled(ctx context.Context, evt Event) Outcome {
	var data Settlement
	if err := json.Unmarshal(evt.Envelope.Data, &data); err != nil {
		h.logg.Error(ctx, "malformed settlement payload", err)
		return OutcomeAck
	}

	order, outcome := h.loadOrder(ctx, evt.TenantID, data.OrderID)
	if order == nil {
		return outcome
	}
	if order.Status != enums.OrderStatusConfirmed {
		h.logg.Info(ctx, "order not CONFIRMED, ignoring settlement")
		return OutcomeAck
	}

	err := h.tx.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := h.orders.WithTx(tx).TransitionStatus(ctx, order.ID, enums.OrderStatusConfirmed, enums.OrderStatusPaid)
		if err != nil {
			return err
		}
		if !ok {
			return errSuperseded
		}
		return nil
	})
	switch {
	case err == nil:
		h.logg.Info(ctx, "order paid")
		return OutcomeAck
	case errors.Is(err, errSuperseded):
		return OutcomeAck
	default:
		h.logg.Error(ctx, "payment.settled handling failed", err)
		return OutcomeRetry
	}
}

// loadOrder resolves the event's order. A missing order acks; a store
// failure retries.
func (h *Handlers) loadOrder(ctx context.Context, tenantID string, orderID uuid.UUID) (*models.Order, Outcome) {
	order, err := h.orders.FindByID(ctx, tenantID, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			h.logg.Warn(ctx, "order referenced by event not found")
			return nil, OutcomeAck
		}
		h.logg.Error(ctx, "order lookup failed", err)
		return nil, OutcomeRetry
	}
	return order, OutcomeAck
}

func linesFromItems(items []models.OrderItem) []inventory.Line {
	lines := make([]inventory.Line, 0, len(items))
	for _, item := range items {
		lines = append(lines, inventory.Line{SKU: item.SKU, Qty: item.Qty})
	}
	return lines
}

func itemsToPayload(items []models.OrderItem) []payloads.OrderLine {
	out := make([]payloads.OrderLine, 0, len(items))
	for _, item := range items {
		out = append(out, payloads.OrderLine{SKU: item.SKU, Qty: item.Qty, Price: item.Price})
	}
	return out
}

func orderTotal(items []models.OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Qty))))
	}
	return total
}
