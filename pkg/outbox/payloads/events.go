package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderLine is the shared line-item shape carried by order events.
type OrderLine struct {
	SKU   string          `json:"sku"`
	Qty   int             `json:"qty"`
	Price decimal.Decimal `json:"price"`
}

// OrderCreatedEvent starts the fulfillment saga for a new order.
type OrderCreatedEvent struct {
	OrderID    uuid.UUID   `json:"order_id"`
	CustomerID string      `json:"customer_id"`
	Items      []OrderLine `json:"items"`
}

// StockReservedEvent reports that every line of an order was reserved.
type StockReservedEvent struct {
	OrderID uuid.UUID   `json:"order_id"`
	Items   []OrderLine `json:"items"`
}

// OrderConfirmedEvent signals that a reserved order was accepted.
type OrderConfirmedEvent struct {
	OrderID uuid.UUID `json:"order_id"`
}

// OrderCancelledEvent is emitted when an order is cancelled, whether by the
// caller or as compensation for a failed reservation.
type OrderCancelledEvent struct {
	OrderID     uuid.UUID `json:"order_id"`
	Reason      string    `json:"reason,omitempty"`
	CancelledAt time.Time `json:"cancelled_at"`
}

// PaymentChargeRequestedEvent asks the payment provider to charge the
// confirmed order total.
type PaymentChargeRequestedEvent struct {
	OrderID  uuid.UUID       `json:"order_id"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}
