package breaker

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/rmartins/orderflow-backend/pkg/config"
	"github.com/rmartins/orderflow-backend/pkg/metrics"
)

// ErrOpen is returned when the breaker rejects a call without running it.
var ErrOpen = errors.New("circuit breaker open")

// ErrCallTimeout is returned when the wrapped call exceeds the per-call budget.
var ErrCallTimeout = errors.New("call timed out")

// State mirrors the underlying breaker state.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

// Breaker guards an unreliable downstream with a per-call timeout and
// failure-ratio tripping. Rejected calls return ErrOpen immediately.
type Breaker struct {
	name        string
	cb          *gobreaker.CircuitBreaker
	callTimeout time.Duration
	sink        metrics.Sink
}

// New builds a named breaker. It trips when at least cfg.MinRequests calls
// were observed in the rolling interval and the failure ratio reaches
// cfg.FailureRatio, and probes again after cfg.ResetTimeout.
func New(name string, cfg config.BreakerConfig, sink metrics.Sink) *Breaker {
	if sink == nil {
		sink = metrics.NopSink{}
	}
	b := &Breaker{
		name:        name,
		callTimeout: cfg.CallTimeout,
		sink:        sink,
	}
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     name,
		Interval: cfg.Interval,
		Timeout:  cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < uint32(cfg.MinRequests) {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= cfg.FailureRatio
		},
		OnStateChange: func(_ string, _ gobreaker.State, to gobreaker.State) {
			sink.Set(metrics.BreakerState, stateValue(to), map[string]string{"breaker": name})
		},
	})
	return b
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// State reports the current breaker state.
func (b *Breaker) State() State {
	switch b.cb.State() {
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	case gobreaker.StateOpen:
		return StateOpen
	default:
		return StateClosed
	}
}

// Do runs fn under the breaker with the per-call timeout applied to its
// context. A timed-out call counts as a failure.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	b.count("attempt")
	_, err := b.cb.Execute(func() (interface{}, error) {
		callCtx := ctx
		if b.callTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, b.callTimeout)
			defer cancel()
		}
		if err := fn(callCtx); err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
				b.count("timeout")
				return nil, ErrCallTimeout
			}
			return nil, err
		}
		return nil, nil
	})
	switch {
	case err == nil:
		b.count("success")
		return nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		b.count("rejected")
		return ErrOpen
	default:
		b.count("failure")
		return err
	}
}

// DoWithFallback runs fn under the breaker and, when the call fails or is
// rejected, runs fallback with the original error.
func (b *Breaker) DoWithFallback(ctx context.Context, fn func(context.Context) error, fallback func(context.Context, error) error) error {
	err := b.Do(ctx, fn)
	if err == nil || fallback == nil {
		return err
	}
	b.count("fallback")
	return fallback(ctx, err)
}

func (b *Breaker) count(result string) {
	b.sink.Inc(metrics.BreakerCallsTotal, map[string]string{"breaker": b.name, "result": result})
}
