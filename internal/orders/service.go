package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rmartins/orderflow-backend/internal/audit"
	"github.com/rmartins/orderflow-backend/pkg/db/models"
	"github.com/rmartins/orderflow-backend/pkg/enums"
	pkgerrors "github.com/rmartins/orderflow-backend/pkg/errors"
	"github.com/rmartins/orderflow-backend/pkg/outbox"
	"github.com/rmartins/orderflow-backend/pkg/outbox/payloads"
	"github.com/rmartins/orderflow-backend/pkg/pagination"
	"github.com/rmartins/orderflow-backend/pkg/redis"
)

const (
	opCreateOrder  = "create-order"
	opConfirmOrder = "confirm-order"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type auditRecorder interface {
	Record(ctx context.Context, tx *gorm.DB, entry audit.Entry) error
}

// Service defines the order lifecycle operations exposed over the API.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Order, bool, error)
	Confirm(ctx context.Context, input ActionInput) error
	Cancel(ctx context.Context, input ActionInput) error
	Get(ctx context.Context, tenantID string, id uuid.UUID) (*models.Order, error)
	List(ctx context.Context, input ListInput) ([]models.Order, string, error)
}

type service struct {
	repo   Repository
	tx     txRunner
	outbox outboxPublisher
	audit  auditRecorder
	cache  redis.IdempotencyStore
	ttl    time.Duration
}

// NewService builds an order service with the required dependencies.
func NewService(repo Repository, tx txRunner, ob outboxPublisher, auditRec auditRecorder, cache redis.IdempotencyStore, idempotencyTTL time.Duration) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if ob == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if cache == nil {
		return nil, fmt.Errorf("idempotency store required")
	}
	if idempotencyTTL <= 0 {
		idempotencyTTL = 24 * time.Hour
	}
	return &service{
		repo:   repo,
		tx:     tx,
		outbox: ob,
		audit:  auditRec,
		cache:  cache,
		ttl:    idempotencyTTL,
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.Order, bool, error) {
	if input.TenantID == "" {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "tenant id required")
	}
	if input.CustomerID == "" {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "customer id required")
	}
	if input.IdempotencyKey == "" {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "idempotency key required")
	}
	if len(input.Items) == 0 {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "order must contain at least one item")
	}
	for _, item := range input.Items {
		if item.SKU == "" {
			return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "item sku required")
		}
		if item.Qty <= 0 {
			return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "item qty must be positive")
		}
		if item.Price.IsNegative() {
			return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "item price must not be negative")
		}
	}

	cacheKey := s.cache.IdempotencyKey(input.TenantID, opCreateOrder, input.IdempotencyKey)
	if cached, err := s.cache.Get(ctx, cacheKey); err == nil && cached != "" {
		// The cached value is the serialized response from the first
		// execution; a duplicate create returns it verbatim, not the
		// order's current state.
		var replay models.Order
		if unmarshalErr := json.Unmarshal([]byte(cached), &replay); unmarshalErr != nil {
			return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, unmarshalErr, "corrupt idempotency record")
		}
		return &replay, true, nil
	} else if err != nil && err != redis.Nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "idempotency lookup")
	}

	items := make([]models.OrderItem, 0, len(input.Items))
	lines := make([]payloads.OrderLine, 0, len(input.Items))
	for _, item := range input.Items {
		items = append(items, models.OrderItem{
			SKU:   item.SKU,
			Qty:   item.Qty,
			Price: item.Price,
		})
		lines = append(lines, payloads.OrderLine{
			SKU:   item.SKU,
			Qty:   item.Qty,
			Price: item.Price,
		})
	}

	order := models.Order{
		TenantID:   input.TenantID,
		CustomerID: input.CustomerID,
		Status:     enums.OrderStatusCreated,
		Items:      items,
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.Create(ctx, &order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}

		event := outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			TenantID:      input.TenantID,
			CorrelationID: input.CorrelationID,
			Data: payloads.OrderCreatedEvent{
				OrderID:    order.ID,
				CustomerID: input.CustomerID,
				Items:      lines,
			},
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue order.created")
		}

		return s.recordAudit(ctx, tx, input.TenantID, input.ActorSub, "order.create", order.ID, input.CorrelationID, nil)
	})
	if err != nil {
		return nil, false, err
	}

	// Best effort; a crash between commit and here leaves a retry window,
	// which the original system accepts.
	if snapshot, err := json.Marshal(order); err == nil {
		_, _ = s.cache.SetNX(ctx, cacheKey, string(snapshot), s.ttl)
	}
	return &order, false, nil
}

func (s *service) Confirm(ctx context.Context, input ActionInput) error {
	if err := validateAction(input); err != nil {
		return err
	}
	if input.IdempotencyKey == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "idempotency key required")
	}

	cacheKey := s.cache.IdempotencyKey(input.TenantID, opConfirmOrder, input.IdempotencyKey)
	if cached, err := s.cache.Get(ctx, cacheKey); err == nil && cached != "" {
		return nil
	} else if err != nil && err != redis.Nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "idempotency lookup")
	}

	order, err := s.Get(ctx, input.TenantID, input.OrderID)
	if err != nil {
		return err
	}
	if order.Status != enums.OrderStatusReserved {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "only reserved orders can be confirmed").
			WithDetails(map[string]any{"status": order.Status})
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		event := outbox.DomainEvent{
			EventType:     enums.EventOrderConfirmed,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			TenantID:      input.TenantID,
			CorrelationID: input.CorrelationID,
			Data:          payloads.OrderConfirmedEvent{OrderID: order.ID},
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue order.confirmed")
		}
		return s.recordAudit(ctx, tx, input.TenantID, input.ActorSub, "order.confirm", order.ID, input.CorrelationID, nil)
	})
	if err != nil {
		return err
	}

	_, _ = s.cache.SetNX(ctx, cacheKey, order.ID.String(), s.ttl)
	return nil
}

func (s *service) Cancel(ctx context.Context, input ActionInput) error {
	if err := validateAction(input); err != nil {
		return err
	}

	order, err := s.Get(ctx, input.TenantID, input.OrderID)
	if err != nil {
		return err
	}
	switch order.Status {
	case enums.OrderStatusCancelled:
		// Repeated cancels are a no-op.
		return nil
	case enums.OrderStatusCreated, enums.OrderStatusReserved:
	default:
		return pkgerrors.New(pkgerrors.CodeStateConflict, "order can no longer be cancelled").
			WithDetails(map[string]any{"status": order.Status})
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		event := outbox.DomainEvent{
			EventType:     enums.EventOrderCancelled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			TenantID:      input.TenantID,
			CorrelationID: input.CorrelationID,
			Data: payloads.OrderCancelledEvent{
				OrderID:     order.ID,
				Reason:      input.Reason,
				CancelledAt: time.Now().UTC(),
			},
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue order.cancelled")
		}
		detail := map[string]any{"reason": input.Reason}
		return s.recordAudit(ctx, tx, input.TenantID, input.ActorSub, "order.cancel", order.ID, input.CorrelationID, detail)
	})
}

func (s *service) Get(ctx context.Context, tenantID string, id uuid.UUID) (*models.Order, error) {
	if tenantID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id required")
	}
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.repo.FindByID(ctx, tenantID, id)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

func (s *service) List(ctx context.Context, input ListInput) ([]models.Order, string, error) {
	if input.TenantID == "" {
		return nil, "", pkgerrors.New(pkgerrors.CodeValidation, "tenant id required")
	}
	if input.Status != "" && !input.Status.IsValid() {
		return nil, "", pkgerrors.New(pkgerrors.CodeValidation, "invalid status filter")
	}

	cursor, err := pagination.ParseCursor(input.Params.Cursor)
	if err != nil {
		return nil, "", pkgerrors.New(pkgerrors.CodeValidation, "invalid cursor")
	}
	limit := pagination.NormalizeLimit(input.Params.Limit)

	rows, err := s.repo.List(ctx, input.TenantID, input.Status, cursor, limit+1)
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}

	next := ""
	if len(rows) > limit {
		rows = rows[:limit]
		last := rows[len(rows)-1]
		next = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return rows, next, nil
}

func (s *service) recordAudit(ctx context.Context, tx *gorm.DB, tenantID, actorSub, action string, orderID uuid.UUID, correlationID string, detail map[string]any) error {
	if s.audit == nil {
		return nil
	}
	entry := audit.Entry{
		TenantID:      tenantID,
		ActorSub:      actorSub,
		Action:        action,
		Target:        orderID.String(),
		Detail:        detail,
		CorrelationID: correlationID,
	}
	if err := s.audit.Record(ctx, tx, entry); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record audit entry")
	}
	return nil
}

func validateAction(input ActionInput) error {
	if input.TenantID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "tenant id required")
	}
	if input.OrderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	return nil
}
