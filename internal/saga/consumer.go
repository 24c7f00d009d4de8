package saga

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"

	"github.com/rmartins/orderflow-backend/pkg/enums"
	"github.com/rmartins/orderflow-backend/pkg/logger"
	"github.com/rmartins/orderflow-backend/pkg/metrics"
	"github.com/rmartins/orderflow-backend/pkg/outbox"
	pspkg "github.com/rmartins/orderflow-backend/pkg/pubsub"
)

// Outcome is a handler's explicit verdict on a delivery.
type Outcome int

const (
	// OutcomeAck removes the message; the event was applied or is a
	// recognized no-op.
	OutcomeAck Outcome = iota
	// OutcomeRetry asks the broker to redeliver after a transient failure.
	OutcomeRetry
	// OutcomeDeadLetter refuses the message permanently. With Pub/Sub this
	// is a nack; the subscription's dead-letter policy forwards the message
	// once delivery attempts run out.
	OutcomeDeadLetter
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRetry:
		return "retry"
	case OutcomeDeadLetter:
		return "dead-letter"
	default:
		return "ack"
	}
}

// Event is a decoded delivery handed to a handler.
type Event struct {
	Type          enums.OutboxEventType
	TenantID      string
	CorrelationID string
	MessageID     string
	Envelope      outbox.PayloadEnvelope
}

// HandlerFunc applies one event and reports the delivery outcome.
type HandlerFunc func(ctx context.Context, evt Event) Outcome

// Decoder turns a raw broker message into an Event. The domain decoder
// reads our own envelope; the payments decoder normalizes the foreign
// provider schema.
type Decoder func(msg *pubsub.Message) (Event, error)

// Consumer pulls messages from one subscription and dispatches them to
// handlers keyed by event type.
type Consumer struct {
	subscription *pubsub.Subscriber
	handlers     map[enums.OutboxEventType]HandlerFunc
	decode       Decoder
	logg         *logger.Logger
	sink         metrics.Sink
}

// NewConsumer builds a consumer for our own domain event envelope.
func NewConsumer(subscription *pubsub.Subscriber, logg *logger.Logger, sink metrics.Sink) (*Consumer, error) {
	return newConsumer(subscription, logg, sink, DecodeDomainMessage)
}

// NewPaymentsConsumer builds a consumer for the externally-owned payments
// topic, normalizing its payload schema before dispatch.
func NewPaymentsConsumer(subscription *pubsub.Subscriber, logg *logger.Logger, sink metrics.Sink) (*Consumer, error) {
	return newConsumer(subscription, logg, sink, DecodePaymentMessage)
}

func newConsumer(subscription *pubsub.Subscriber, logg *logger.Logger, sink metrics.Sink, decode Decoder) (*Consumer, error) {
	if subscription == nil {
		return nil, errors.New("subscription is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	if sink == nil {
		sink = metrics.NopSink{}
	}
	return &Consumer{
		subscription: subscription,
		handlers:     map[enums.OutboxEventType]HandlerFunc{},
		decode:       decode,
		logg:         logg,
		sink:         sink,
	}, nil
}

// Handle registers a handler for an event type.
func (c *Consumer) Handle(eventType enums.OutboxEventType, fn HandlerFunc) {
	c.handlers[eventType] = fn
}

// Run processes messages until the context is canceled or the subscription errors.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		outcome := c.process(ctx, msg)
		if outcome == OutcomeAck {
			msg.Ack()
			return
		}
		msg.Nack()
	})
}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) Outcome {
	evt, err := c.decode(msg)
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": msg.ID,
		"event_type": string(evt.Type),
		"tenant_id":  evt.TenantID,
	})
	if evt.CorrelationID != "" {
		logCtx = c.logg.WithCorrelationID(logCtx, evt.CorrelationID)
	}
	if err != nil {
		// Malformed deliveries can never succeed; drop them rather than
		// spinning on redelivery.
		c.logg.Error(logCtx, "dropping undecodable message", err)
		c.count(evt.Type, OutcomeAck)
		return OutcomeAck
	}

	handler, ok := c.handlers[evt.Type]
	if !ok {
		c.logg.Info(logCtx, "no handler for event type, skipping")
		c.count(evt.Type, OutcomeAck)
		return OutcomeAck
	}

	outcome := handler(logCtx, evt)
	c.count(evt.Type, outcome)
	return outcome
}

func (c *Consumer) count(eventType enums.OutboxEventType, outcome Outcome) {
	c.sink.Inc(metrics.SagaEventsTotal, map[string]string{
		"event_type": string(eventType),
		"outcome":    outcome.String(),
	})
}

// DecodeDomainMessage reads a message published by our dispatcher: the body
// is a PayloadEnvelope, the event type and tenant ride as attributes.
func DecodeDomainMessage(msg *pubsub.Message) (Event, error) {
	evt := Event{
		Type:          enums.OutboxEventType(msg.Attributes[pspkg.AttrEventType]),
		TenantID:      msg.Attributes[pspkg.AttrTenantID],
		CorrelationID: msg.Attributes[pspkg.AttrCorrelationID],
		MessageID:     msg.ID,
	}
	if strings.TrimSpace(string(evt.Type)) == "" {
		return evt, errors.New("missing event_type attribute")
	}
	if evt.TenantID == "" {
		return evt, errors.New("missing tenant_id attribute")
	}
	if err := json.Unmarshal(msg.Data, &evt.Envelope); err != nil {
		return evt, err
	}
	if evt.CorrelationID == "" {
		evt.CorrelationID = evt.Envelope.CorrelationID
	}
	return evt, nil
}
