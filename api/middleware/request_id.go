package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/rmartins/orderflow-backend/pkg/logger"
)

const (
	requestIDHeader     = "X-Request-Id"
	correlationIDHeader = "X-Correlation-Id"
)

const ctxCorrelationID contextKey = "correlation_id"

// RequestID assigns a request id and carries the caller's correlation id
// (or mints one) through the context and response headers.
func RequestID(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get(requestIDHeader)
			if reqID == "" {
				reqID = uuid.NewString()
			}
			corrID := r.Header.Get(correlationIDHeader)
			if corrID == "" {
				corrID = uuid.NewString()
			}

			w.Header().Set(requestIDHeader, reqID)
			w.Header().Set(correlationIDHeader, corrID)

			ctx := context.WithValue(r.Context(), ctxCorrelationID, corrID)
			if logg != nil {
				ctx = logg.WithRequestID(ctx, reqID)
				ctx = logg.WithCorrelationID(ctx, corrID)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CorrelationIDFromContext returns the correlation id seeded by RequestID.
func CorrelationIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxCorrelationID).(string); ok {
		return v
	}
	return ""
}
