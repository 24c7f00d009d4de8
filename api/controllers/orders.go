package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rmartins/orderflow-backend/api/middleware"
	"github.com/rmartins/orderflow-backend/api/responses"
	"github.com/rmartins/orderflow-backend/api/validators"
	internalorders "github.com/rmartins/orderflow-backend/internal/orders"
	"github.com/rmartins/orderflow-backend/pkg/db/models"
	"github.com/rmartins/orderflow-backend/pkg/enums"
	pkgerrors "github.com/rmartins/orderflow-backend/pkg/errors"
	"github.com/rmartins/orderflow-backend/pkg/logger"
	"github.com/rmartins/orderflow-backend/pkg/pagination"
)

const idempotencyKeyHeader = "Idempotency-Key"

type createOrderRequest struct {
	CustomerID string             `json:"customer_id" validate:"required"`
	Items      []orderLineRequest `json:"items" validate:"required,min=1,dive"`
}

type orderLineRequest struct {
	SKU   string          `json:"sku" validate:"required"`
	Qty   int             `json:"qty" validate:"required,gt=0"`
	Price decimal.Decimal `json:"price" validate:"required"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason,omitempty" validate:"max=500"`
}

type orderLineResponse struct {
	SKU   string          `json:"sku"`
	Qty   int             `json:"qty"`
	Price decimal.Decimal `json:"price"`
}

type orderResponse struct {
	ID         uuid.UUID           `json:"id"`
	CustomerID string              `json:"customer_id"`
	Status     enums.OrderStatus   `json:"status"`
	Items      []orderLineResponse `json:"items"`
	CreatedAt  time.Time           `json:"created_at"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

type orderListResponse struct {
	Orders     []orderResponse `json:"orders"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

func toOrderResponse(order *models.Order) orderResponse {
	items := make([]orderLineResponse, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderLineResponse{SKU: item.SKU, Qty: item.Qty, Price: item.Price})
	}
	return orderResponse{
		ID:         order.ID,
		CustomerID: order.CustomerID,
		Status:     order.Status,
		Items:      items,
		CreatedAt:  order.CreatedAt,
		UpdatedAt:  order.UpdatedAt,
	}
}

// CreateOrder accepts a new order and queues the order.created event. The
// saga worker performs the reservation asynchronously.
func CreateOrder(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, _ := middleware.PrincipalFromContext(r.Context())

		var body createOrderRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items := make([]internalorders.LineInput, 0, len(body.Items))
		for _, line := range body.Items {
			items = append(items, internalorders.LineInput{SKU: line.SKU, Qty: line.Qty, Price: line.Price})
		}

		order, replayed, err := svc.Create(r.Context(), internalorders.CreateInput{
			TenantID:       principal.TenantID,
			CustomerID:     body.CustomerID,
			Items:          items,
			ActorSub:       principal.Subject,
			CorrelationID:  middleware.CorrelationIDFromContext(r.Context()),
			IdempotencyKey: strings.TrimSpace(r.Header.Get(idempotencyKeyHeader)),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status := http.StatusCreated
		if replayed {
			status = http.StatusOK
		}
		responses.WriteSuccessStatus(w, status, toOrderResponse(order))
	}
}

// ConfirmOrder emits order.confirmed for a reserved order.
func ConfirmOrder(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, _ := middleware.PrincipalFromContext(r.Context())

		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.Confirm(r.Context(), internalorders.ActionInput{
			TenantID:       principal.TenantID,
			OrderID:        orderID,
			ActorSub:       principal.Subject,
			CorrelationID:  middleware.CorrelationIDFromContext(r.Context()),
			IdempotencyKey: strings.TrimSpace(r.Header.Get(idempotencyKeyHeader)),
		}); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusAccepted, map[string]string{"status": "confirmation requested"})
	}
}

// CancelOrder emits order.cancelled; the saga worker reverses any active
// reservation.
func CancelOrder(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, _ := middleware.PrincipalFromContext(r.Context())

		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body cancelOrderRequest
		if r.ContentLength > 0 {
			if err := validators.DecodeJSONBody(r, &body); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		if err := svc.Cancel(r.Context(), internalorders.ActionInput{
			TenantID:       principal.TenantID,
			OrderID:        orderID,
			ActorSub:       principal.Subject,
			CorrelationID:  middleware.CorrelationIDFromContext(r.Context()),
			IdempotencyKey: strings.TrimSpace(r.Header.Get(idempotencyKeyHeader)),
			Reason:         body.Reason,
		}); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusAccepted, map[string]string{"status": "cancellation requested"})
	}
}

// GetOrder returns one order with its line items.
func GetOrder(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, _ := middleware.PrincipalFromContext(r.Context())

		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.Get(r.Context(), principal.TenantID, orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, toOrderResponse(order))
	}
}

// ListOrders returns a cursor page of the tenant's orders.
func ListOrders(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, _ := middleware.PrincipalFromContext(r.Context())

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var status enums.OrderStatus
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			status, err = enums.ParseOrderStatus(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter"))
				return
			}
		}

		orders, nextCursor, err := svc.List(r.Context(), internalorders.ListInput{
			TenantID: principal.TenantID,
			Status:   status,
			Params: pagination.Params{
				Limit:  limit,
				Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
			},
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out := orderListResponse{Orders: make([]orderResponse, 0, len(orders)), NextCursor: nextCursor}
		for i := range orders {
			out.Orders = append(out.Orders, toOrderResponse(&orders[i]))
		}
		responses.WriteSuccess(w, out)
	}
}

func parseOrderID(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "orderId"))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	orderID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order id")
	}
	return orderID, nil
}
