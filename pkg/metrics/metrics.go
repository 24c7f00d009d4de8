package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names shared across binaries.
const (
	OutboxDispatchedTotal = "outbox_dispatched_total"
	OutboxFailedTotal     = "outbox_failed_total"
	OutboxDeadTotal       = "outbox_dead_total"
	OutboxPendingBacklog  = "outbox_pending_backlog"
	BreakerCallsTotal     = "breaker_calls_total"
	BreakerState          = "breaker_state"
	SagaEventsTotal       = "saga_events_total"
	RateLimitRejected     = "ratelimit_rejections_total"
	HTTPRequestsTotal     = "http_requests_total"
)

// Sink receives counter increments and gauge updates. Components depend on
// this interface rather than a process-global registry so tests can observe
// emissions without scraping.
type Sink interface {
	Inc(name string, labels map[string]string)
	Add(name string, value float64, labels map[string]string)
	Set(name string, value float64, labels map[string]string)
}

// NopSink discards every emission.
type NopSink struct{}

func (NopSink) Inc(string, map[string]string)          {}
func (NopSink) Add(string, float64, map[string]string) {}
func (NopSink) Set(string, float64, map[string]string) {}

type metricSpec struct {
	help   string
	labels []string
}

var counterSpecs = map[string]metricSpec{
	OutboxDispatchedTotal: {help: "Outbox events published to the broker.", labels: []string{"event_type"}},
	OutboxFailedTotal:     {help: "Outbox publish attempts that failed.", labels: []string{"event_type"}},
	OutboxDeadTotal:       {help: "Outbox events moved to the dead status.", labels: []string{"event_type"}},
	BreakerCallsTotal:     {help: "Circuit breaker call outcomes.", labels: []string{"breaker", "result"}},
	SagaEventsTotal:       {help: "Consumed saga events by outcome.", labels: []string{"event_type", "outcome"}},
	RateLimitRejected:     {help: "Requests rejected by the token bucket.", labels: []string{"class"}},
	HTTPRequestsTotal:     {help: "Handled HTTP requests.", labels: []string{"method", "route", "status"}},
}

var gaugeSpecs = map[string]metricSpec{
	OutboxPendingBacklog: {help: "Pending outbox rows at the last poll.", labels: nil},
	BreakerState:         {help: "Circuit breaker state (0 closed, 1 half-open, 2 open).", labels: []string{"breaker"}},
}

// PrometheusSink registers one vector per known metric name and fans
// emissions into them. Unknown names are dropped.
type PrometheusSink struct {
	counters map[string]*prometheus.CounterVec
	gauges   map[string]*prometheus.GaugeVec
	specs    map[string]metricSpec
}

// NewPrometheus builds a sink bound to the given registerer.
func NewPrometheus(namespace string, reg prometheus.Registerer) *PrometheusSink {
	sink := &PrometheusSink{
		counters: make(map[string]*prometheus.CounterVec, len(counterSpecs)),
		gauges:   make(map[string]*prometheus.GaugeVec, len(gaugeSpecs)),
		specs:    make(map[string]metricSpec, len(counterSpecs)+len(gaugeSpecs)),
	}
	for name, spec := range counterSpecs {
		vec := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      spec.help,
		}, spec.labels)
		reg.MustRegister(vec)
		sink.counters[name] = vec
		sink.specs[name] = spec
	}
	for name, spec := range gaugeSpecs {
		vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      spec.help,
		}, spec.labels)
		reg.MustRegister(vec)
		sink.gauges[name] = vec
		sink.specs[name] = spec
	}
	return sink
}

func (s *PrometheusSink) labelValues(name string, labels map[string]string) prometheus.Labels {
	spec, ok := s.specs[name]
	if !ok {
		return nil
	}
	out := make(prometheus.Labels, len(spec.labels))
	for _, key := range spec.labels {
		out[key] = labels[key]
	}
	return out
}

func (s *PrometheusSink) Inc(name string, labels map[string]string) {
	s.Add(name, 1, labels)
}

func (s *PrometheusSink) Add(name string, value float64, labels map[string]string) {
	vec, ok := s.counters[name]
	if !ok {
		return
	}
	vec.With(s.labelValues(name, labels)).Add(value)
}

func (s *PrometheusSink) Set(name string, value float64, labels map[string]string) {
	vec, ok := s.gauges[name]
	if !ok {
		return
	}
	vec.With(s.labelValues(name, labels)).Set(value)
}
