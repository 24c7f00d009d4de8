package orders

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rmartins/orderflow-backend/pkg/enums"
	"github.com/rmartins/orderflow-backend/pkg/pagination"
)

// LineInput is one requested order line.
type LineInput struct {
	SKU   string          `json:"sku"`
	Qty   int             `json:"qty"`
	Price decimal.Decimal `json:"price"`
}

// CreateInput carries everything needed to open an order.
type CreateInput struct {
	TenantID       string
	CustomerID     string
	Items          []LineInput
	ActorSub       string
	CorrelationID  string
	IdempotencyKey string
}

// ActionInput identifies an order for confirm/cancel operations.
type ActionInput struct {
	TenantID       string
	OrderID        uuid.UUID
	ActorSub       string
	CorrelationID  string
	IdempotencyKey string
	Reason         string
}

// ListInput filters the order listing.
type ListInput struct {
	TenantID string
	Status   enums.OrderStatus
	Params   pagination.Params
}
