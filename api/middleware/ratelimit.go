package middleware

import (
	"context"
	"net/http"
	"strconv"

	"github.com/rmartins/orderflow-backend/api/responses"
	pkgerrors "github.com/rmartins/orderflow-backend/pkg/errors"
	"github.com/rmartins/orderflow-backend/pkg/logger"
	"github.com/rmartins/orderflow-backend/pkg/metrics"
	"github.com/rmartins/orderflow-backend/pkg/ratelimit"
)

type rateConsumer interface {
	Consume(ctx context.Context, tenantID, subject string, class ratelimit.Class) (ratelimit.Decision, error)
}

// RateLimit enforces the per-tenant token bucket for one traffic class.
func RateLimit(limiter rateConsumer, class ratelimit.Class, sink metrics.Sink, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		if sink == nil {
			sink = metrics.NopSink{}
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFromContext(r.Context())
			if !ok {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing principal"))
				return
			}

			decision, err := limiter.Consume(r.Context(), principal.TenantID, principal.Subject, class)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rate limiting"))
				return
			}

			if decision.Limit > 0 {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
				w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
			}

			if !decision.Allowed {
				sink.Inc(metrics.RateLimitRejected, map[string]string{
					"class": string(class),
				})
				retryAfter := int(decision.RetryAfter.Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeRateLimit, "rate limit exceeded"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
