package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rmartins/orderflow-backend/api/controllers"
	"github.com/rmartins/orderflow-backend/api/middleware"
	"github.com/rmartins/orderflow-backend/internal/inventory"
	internalorders "github.com/rmartins/orderflow-backend/internal/orders"
	"github.com/rmartins/orderflow-backend/pkg/config"
	"github.com/rmartins/orderflow-backend/pkg/logger"
	"github.com/rmartins/orderflow-backend/pkg/metrics"
	"github.com/rmartins/orderflow-backend/pkg/ratelimit"
)

const (
	PermOrdersRead     = "orders:read"
	PermOrdersWrite    = "orders:write"
	PermInventoryRead  = "inventory:read"
	PermInventoryWrite = "inventory:write"
	PermOutboxAdmin    = "outbox:admin"
)

type rateConsumer interface {
	Consume(ctx context.Context, tenantID, subject string, class ratelimit.Class) (ratelimit.Decision, error)
}

// Deps bundles everything the router needs.
type Deps struct {
	DB       controllers.Pinger
	Redis    controllers.Pinger
	Broker   controllers.Pinger
	Limiter  rateConsumer
	Outbox   controllers.OutboxAdmin
	Orders   internalorders.Service
	Stock    inventory.Service
	Sink     metrics.Sink
	Registry *prometheus.Registry
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, controllers.ReadinessDeps(deps.DB, deps.Redis, deps.Broker)))
	})

	if deps.Registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))
	}

	readLimit := middleware.RateLimit(deps.Limiter, ratelimit.ClassRead, deps.Sink, logg)
	writeLimit := middleware.RateLimit(deps.Limiter, ratelimit.ClassWrite, deps.Sink, logg)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.PrincipalContext(logg))

		r.Route("/orders", func(r chi.Router) {
			r.With(writeLimit, middleware.Access(logg, middleware.RequirePermission(PermOrdersWrite))).
				Post("/", controllers.CreateOrder(deps.Orders, logg))
			r.With(readLimit, middleware.Access(logg, middleware.RequirePermission(PermOrdersRead))).
				Get("/", controllers.ListOrders(deps.Orders, logg))
			r.With(readLimit, middleware.Access(logg, middleware.RequirePermission(PermOrdersRead))).
				Get("/{orderId}", controllers.GetOrder(deps.Orders, logg))
			r.With(writeLimit, middleware.Access(logg, middleware.RequirePermission(PermOrdersWrite))).
				Post("/{orderId}/confirm", controllers.ConfirmOrder(deps.Orders, logg))
			r.With(writeLimit, middleware.Access(logg, middleware.RequirePermission(PermOrdersWrite))).
				Post("/{orderId}/cancel", controllers.CancelOrder(deps.Orders, logg))
		})

		r.Route("/inventory", func(r chi.Router) {
			r.With(readLimit, middleware.Access(logg, middleware.RequirePermission(PermInventoryRead))).
				Get("/", controllers.ListInventory(deps.Stock, logg))
			r.With(readLimit, middleware.Access(logg, middleware.RequirePermission(PermInventoryRead))).
				Get("/adjustments", controllers.ListAdjustments(deps.Stock, logg))
			r.With(writeLimit, middleware.Access(logg, middleware.RequirePermission(PermInventoryWrite))).
				Post("/adjustments", controllers.AdjustInventory(deps.Stock, logg))
		})

		r.Route("/outbox", func(r chi.Router) {
			r.With(readLimit, middleware.Access(logg, middleware.RequirePermission(PermOutboxAdmin))).
				Get("/events", controllers.ListOutboxEvents(deps.Outbox, logg))
			r.With(writeLimit, middleware.Access(logg, middleware.RequirePermission(PermOutboxAdmin))).
				Post("/events/{eventId}/requeue", controllers.RequeueOutboxEvent(deps.Outbox, logg))
		})
	})

	return r
}
