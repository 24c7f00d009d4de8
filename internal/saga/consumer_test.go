package saga

import (
	"context"
	"encoding/json"
	"io"
	"testing"

	pubsub "cloud.google.com/go/pubsub/v2"

	"github.com/rmartins/orderflow-backend/pkg/enums"
	"github.com/rmartins/orderflow-backend/pkg/logger"
	"github.com/rmartins/orderflow-backend/pkg/metrics"
	"github.com/rmartins/orderflow-backend/pkg/outbox"
	pspkg "github.com/rmartins/orderflow-backend/pkg/pubsub"
)

func testConsumer(t *testing.T) *Consumer {
	t.Helper()
	return &Consumer{
		handlers: map[enums.OutboxEventType]HandlerFunc{},
		decode:   DecodeDomainMessage,
		logg:     logger.New(logger.Options{ServiceName: "consumer-test", Output: io.Discard}),
		sink:     metrics.NopSink{},
	}
}

func domainMessage(t *testing.T, eventType enums.OutboxEventType, envelope outbox.PayloadEnvelope) *pubsub.Message {
	t.Helper()
	body, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return &pubsub.Message{
		ID:   "m-1",
		Data: body,
		Attributes: map[string]string{
			pspkg.AttrEventType: string(eventType),
			pspkg.AttrTenantID:  "acme",
		},
	}
}

func TestProcessDispatchesToHandler(t *testing.T) {
	c := testConsumer(t)
	var got Event
	c.Handle(enums.EventOrderCreated, func(ctx context.Context, evt Event) Outcome {
		got = evt
		return OutcomeAck
	})

	msg := domainMessage(t, enums.EventOrderCreated, outbox.PayloadEnvelope{
		Version:       1,
		EventID:       "evt-1",
		CorrelationID: "corr-1",
		Data:          json.RawMessage(`{}`),
	})
	if outcome := c.process(context.Background(), msg); outcome != OutcomeAck {
		t.Fatalf("expected ack, got %s", outcome)
	}
	if got.Type != enums.EventOrderCreated || got.TenantID != "acme" {
		t.Fatalf("handler saw wrong event: %+v", got)
	}
	if got.CorrelationID != "corr-1" {
		t.Fatalf("expected correlation from envelope, got %q", got.CorrelationID)
	}
}

func TestProcessPropagatesRetry(t *testing.T) {
	c := testConsumer(t)
	c.Handle(enums.EventOrderCreated, func(ctx context.Context, evt Event) Outcome {
		return OutcomeRetry
	})

	msg := domainMessage(t, enums.EventOrderCreated, outbox.PayloadEnvelope{Version: 1, Data: json.RawMessage(`{}`)})
	if outcome := c.process(context.Background(), msg); outcome != OutcomeRetry {
		t.Fatalf("expected retry, got %s", outcome)
	}
}

func TestProcessAcksUndecodableMessage(t *testing.T) {
	c := testConsumer(t)
	c.Handle(enums.EventOrderCreated, func(ctx context.Context, evt Event) Outcome {
		t.Fatalf("handler must not run for undecodable messages")
		return OutcomeRetry
	})

	msg := &pubsub.Message{ID: "m-bad", Data: []byte(`{}`)}
	if outcome := c.process(context.Background(), msg); outcome != OutcomeAck {
		t.Fatalf("undecodable message must ack, got %s", outcome)
	}
}

func TestProcessAcksUnhandledEventType(t *testing.T) {
	c := testConsumer(t)

	msg := domainMessage(t, enums.EventStockReserved, outbox.PayloadEnvelope{Version: 1, Data: json.RawMessage(`{}`)})
	if outcome := c.process(context.Background(), msg); outcome != OutcomeAck {
		t.Fatalf("unhandled event type must ack, got %s", outcome)
	}
}
