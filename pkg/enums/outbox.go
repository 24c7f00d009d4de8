package enums

import "fmt"

// OutboxStatus maps to the outbox_status enum in Postgres. Pending rows are
// the only ones the dispatcher will ever pick up; sent and dead are terminal.
type OutboxStatus string

const (
	OutboxStatusPending OutboxStatus = "pending"
	OutboxStatusSent    OutboxStatus = "sent"
	OutboxStatusDead    OutboxStatus = "dead"
)

// IsTerminal reports whether the status admits no further transitions.
func (s OutboxStatus) IsTerminal() bool {
	return s == OutboxStatusSent || s == OutboxStatusDead
}

// ParseOutboxStatus converts raw input into OutboxStatus.
func ParseOutboxStatus(value string) (OutboxStatus, error) {
	switch OutboxStatus(value) {
	case OutboxStatusPending, OutboxStatusSent, OutboxStatusDead:
		return OutboxStatus(value), nil
	}
	return "", fmt.Errorf("invalid outbox status %q", value)
}

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateOrder     OutboxAggregateType = "Order"
	AggregateInventory OutboxAggregateType = "InventoryItem"
)

// OutboxEventType is the routing key published with each domain event.
type OutboxEventType string

const (
	EventOrderCreated           OutboxEventType = "order.created"
	EventOrderConfirmed         OutboxEventType = "order.confirmed"
	EventOrderCancelled         OutboxEventType = "order.cancelled"
	EventStockReserved          OutboxEventType = "stock.reserved"
	EventPaymentChargeRequested OutboxEventType = "payment.charge_requested"

	// EventPaymentSettled is consumed from the externally-owned payments
	// topic; it is never written to our outbox.
	EventPaymentSettled OutboxEventType = "payment.settled"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOrderCreated,
	EventOrderConfirmed,
	EventOrderCancelled,
	EventStockReserved,
	EventPaymentChargeRequested,
}

// IsValid reports whether the value is an event type this service emits.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
