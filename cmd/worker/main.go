package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/rmartins/orderflow-backend/internal/audit"
	"github.com/rmartins/orderflow-backend/internal/inventory"
	internalorders "github.com/rmartins/orderflow-backend/internal/orders"
	"github.com/rmartins/orderflow-backend/internal/saga"
	"github.com/rmartins/orderflow-backend/pkg/config"
	"github.com/rmartins/orderflow-backend/pkg/db"
	"github.com/rmartins/orderflow-backend/pkg/logger"
	"github.com/rmartins/orderflow-backend/pkg/metrics"
	"github.com/rmartins/orderflow-backend/pkg/migrate"
	"github.com/rmartins/orderflow-backend/pkg/outbox"
	"github.com/rmartins/orderflow-backend/pkg/pubsub"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "worker"

	logg = logger.New(logger.Options{
		ServiceName: "worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	pubsubClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap pubsub", err)
		os.Exit(1)
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing pubsub client", err)
		}
	}()

	registry := prometheus.NewRegistry()
	sink := metrics.NewPrometheus("orderflow", registry)

	outboxRepo := outbox.NewRepository(dbClient.DB(), outbox.PolicyFromConfig(cfg.Outbox))
	outboxSvc := outbox.NewService(outboxRepo, logg)
	auditRec := audit.NewRecorder(logg)

	inventorySvc, err := inventory.NewService(inventory.NewRepository(dbClient.DB()), dbClient, auditRec)
	if err != nil {
		logg.Error(context.Background(), "failed to create inventory service", err)
		os.Exit(1)
	}

	handlers, err := saga.NewHandlers(
		internalorders.NewRepository(dbClient.DB()),
		inventorySvc,
		outboxSvc,
		dbClient,
		logg,
		cfg.Orders.Currency,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create saga handlers", err)
		os.Exit(1)
	}

	ordersConsumer, err := saga.NewConsumer(pubsubClient.OrdersSubscription(), logg, sink)
	if err != nil {
		logg.Error(context.Background(), "failed to create orders consumer", err)
		os.Exit(1)
	}
	paymentsConsumer, err := saga.NewPaymentsConsumer(pubsubClient.PaymentsSubscription(), logg, sink)
	if err != nil {
		logg.Error(context.Background(), "failed to create payments consumer", err)
		os.Exit(1)
	}
	handlers.Register(ordersConsumer, paymentsConsumer)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": "worker",
	})
	logg.Info(ctx, "starting saga worker")

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return ordersConsumer.Run(groupCtx)
	})
	group.Go(func() error {
		return paymentsConsumer.Run(groupCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "saga worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "saga worker shutting down gracefully")
}
