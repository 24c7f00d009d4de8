package saga

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/rmartins/orderflow-backend/pkg/enums"
	"github.com/rmartins/orderflow-backend/pkg/outbox"
)

// settlementMessage is the payment provider's wire schema: a flat JSON body
// with the tenant riding both in the body and in routing headers. It does
// not use our envelope, so it is normalized before dispatch.
type settlementMessage struct {
	OrderID       string `json:"orderId"`
	TenantID      string `json:"tenantId"`
	CorrelationID string `json:"correlationId"`
}

// Settlement is the normalized payment.settled payload handlers consume.
type Settlement struct {
	OrderID uuid.UUID `json:"order_id"`
}

// DecodePaymentMessage normalizes a provider settlement notification into
// the same Event shape domain events use.
func DecodePaymentMessage(msg *pubsub.Message) (Event, error) {
	evt := Event{
		Type:      enums.EventPaymentSettled,
		MessageID: msg.ID,
	}

	var body settlementMessage
	if err := json.Unmarshal(msg.Data, &body); err != nil {
		return evt, fmt.Errorf("decode settlement: %w", err)
	}

	evt.TenantID = body.TenantID
	if evt.TenantID == "" {
		evt.TenantID = msg.Attributes["X-Tenant-Id"]
	}
	if evt.TenantID == "" {
		return evt, errors.New("settlement missing tenant id")
	}

	evt.CorrelationID = body.CorrelationID
	if evt.CorrelationID == "" {
		evt.CorrelationID = msg.Attributes["X-Correlation-Id"]
	}

	orderID, err := uuid.Parse(body.OrderID)
	if err != nil {
		return evt, fmt.Errorf("settlement order id: %w", err)
	}

	data, err := json.Marshal(Settlement{OrderID: orderID})
	if err != nil {
		return evt, err
	}
	evt.Envelope = outbox.PayloadEnvelope{
		Version:       1,
		EventID:       msg.ID,
		OccurredAt:    time.Now().UTC(),
		CorrelationID: evt.CorrelationID,
		Data:          data,
	}
	return evt, nil
}
