package middleware

import (
	"net/http"

	"github.com/rmartins/orderflow-backend/api/responses"
	pkgerrors "github.com/rmartins/orderflow-backend/pkg/errors"
	"github.com/rmartins/orderflow-backend/pkg/logger"
)

// Predicate inspects the request principal and returns nil to allow the
// request or an error to deny it.
type Predicate func(r *http.Request, principal Principal) error

// Access runs predicates in order; the first denial short-circuits the
// chain and is written to the caller.
func Access(logg *logger.Logger, predicates ...Predicate) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFromContext(r.Context())
			if !ok {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing principal"))
				return
			}
			for _, predicate := range predicates {
				if err := predicate(r, principal); err != nil {
					responses.WriteError(r.Context(), logg, w, err)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequirePermission denies principals lacking the named permission.
func RequirePermission(perm string) Predicate {
	return func(_ *http.Request, principal Principal) error {
		if !principal.HasPermission(perm) {
			return pkgerrors.New(pkgerrors.CodeForbidden, "permission required").WithDetails(map[string]any{"permission": perm})
		}
		return nil
	}
}
