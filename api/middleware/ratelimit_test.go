package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rmartins/orderflow-backend/pkg/metrics"
	"github.com/rmartins/orderflow-backend/pkg/ratelimit"
)

type stubLimiter struct {
	decision ratelimit.Decision
	err      error
	tenant   string
	class    ratelimit.Class
}

func (s *stubLimiter) Consume(ctx context.Context, tenantID, subject string, class ratelimit.Class) (ratelimit.Decision, error) {
	s.tenant = tenantID
	s.class = class
	return s.decision, s.err
}

func TestRateLimitAllowsAndSetsHeaders(t *testing.T) {
	limiter := &stubLimiter{decision: ratelimit.Decision{Allowed: true, Remaining: 41, Limit: 60}}
	handler := RateLimit(limiter, ratelimit.ClassWrite, metrics.NopSink{}, testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, principalRequest(""))

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if limiter.tenant != "acme" || limiter.class != ratelimit.ClassWrite {
		t.Fatalf("limiter saw tenant=%q class=%q", limiter.tenant, limiter.class)
	}
	if rec.Header().Get("X-RateLimit-Limit") != "60" || rec.Header().Get("X-RateLimit-Remaining") != "41" {
		t.Fatalf("unexpected rate limit headers: %v", rec.Header())
	}
}

func TestRateLimitRejectsWithRetryAfter(t *testing.T) {
	limiter := &stubLimiter{decision: ratelimit.Decision{Allowed: false, Remaining: 0, Limit: 60, RetryAfter: time.Second}}
	handler := RateLimit(limiter, ratelimit.ClassWrite, metrics.NopSink{}, testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler must not run when throttled")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, principalRequest(""))

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "1" {
		t.Fatalf("expected Retry-After 1, got %q", rec.Header().Get("Retry-After"))
	}
}

func TestRateLimitNilLimiterPassesThrough(t *testing.T) {
	handler := RateLimit(nil, ratelimit.ClassRead, metrics.NopSink{}, testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
}
