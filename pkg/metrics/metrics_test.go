package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusSinkCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := NewPrometheus("orderflow", reg)

	sink.Inc(OutboxDispatchedTotal, map[string]string{"event_type": "order.created"})
	sink.Inc(OutboxDispatchedTotal, map[string]string{"event_type": "order.created"})
	sink.Add(OutboxFailedTotal, 3, map[string]string{"event_type": "stock.reserved"})

	dispatched := testutil.ToFloat64(sink.counters[OutboxDispatchedTotal].WithLabelValues("order.created"))
	if dispatched != 2 {
		t.Fatalf("expected 2 dispatched, got %v", dispatched)
	}
	failed := testutil.ToFloat64(sink.counters[OutboxFailedTotal].WithLabelValues("stock.reserved"))
	if failed != 3 {
		t.Fatalf("expected 3 failed, got %v", failed)
	}
}

func TestPrometheusSinkGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := NewPrometheus("orderflow", reg)

	sink.Set(OutboxPendingBacklog, 17, nil)
	sink.Set(BreakerState, 2, map[string]string{"breaker": "publisher"})

	backlog := testutil.ToFloat64(sink.gauges[OutboxPendingBacklog].WithLabelValues())
	if backlog != 17 {
		t.Fatalf("expected backlog 17, got %v", backlog)
	}
	state := testutil.ToFloat64(sink.gauges[BreakerState].WithLabelValues("publisher"))
	if state != 2 {
		t.Fatalf("expected state 2, got %v", state)
	}
}

func TestUnknownMetricIsDropped(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := NewPrometheus("orderflow", reg)

	sink.Inc("no_such_metric", nil)
	sink.Set("no_such_metric", 1, nil)
}
