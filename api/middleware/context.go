package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/rmartins/orderflow-backend/api/responses"
	pkgerrors "github.com/rmartins/orderflow-backend/pkg/errors"
	"github.com/rmartins/orderflow-backend/pkg/logger"
)

const (
	tenantHeader      = "X-Tenant-Id"
	subjectHeader     = "X-Subject"
	permissionsHeader = "X-Permissions"
)

type contextKey string

const ctxPrincipal contextKey = "principal"

// Principal is the verified caller identity forwarded by the gateway. The
// gateway terminates authentication; this service trusts its headers.
type Principal struct {
	TenantID    string
	Subject     string
	Permissions []string
}

// HasPermission reports whether the principal carries the named permission.
func (p Principal) HasPermission(perm string) bool {
	for _, candidate := range p.Permissions {
		if candidate == perm {
			return true
		}
	}
	return false
}

// PrincipalFromContext returns the principal seeded by PrincipalContext.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	p, ok := ctx.Value(ctxPrincipal).(Principal)
	return p, ok
}

// WithPrincipal injects a principal into the context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxPrincipal, p)
}

// PrincipalContext lifts the gateway identity headers into the request
// context, rejecting requests that arrive without tenant or subject.
func PrincipalContext(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantID := strings.TrimSpace(r.Header.Get(tenantHeader))
			if tenantID == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing tenant"))
				return
			}
			subject := strings.TrimSpace(r.Header.Get(subjectHeader))
			if subject == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing subject"))
				return
			}

			principal := Principal{
				TenantID:    tenantID,
				Subject:     subject,
				Permissions: splitPermissions(r.Header.Get(permissionsHeader)),
			}

			ctx := WithPrincipal(r.Context(), principal)
			if logg != nil {
				ctx = logg.WithTenantID(ctx, tenantID)
				ctx = logg.WithSubject(ctx, subject)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func splitPermissions(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
