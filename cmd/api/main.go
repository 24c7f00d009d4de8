package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rmartins/orderflow-backend/api/routes"
	"github.com/rmartins/orderflow-backend/internal/audit"
	"github.com/rmartins/orderflow-backend/internal/inventory"
	internalorders "github.com/rmartins/orderflow-backend/internal/orders"
	"github.com/rmartins/orderflow-backend/pkg/config"
	"github.com/rmartins/orderflow-backend/pkg/db"
	"github.com/rmartins/orderflow-backend/pkg/logger"
	"github.com/rmartins/orderflow-backend/pkg/metrics"
	"github.com/rmartins/orderflow-backend/pkg/migrate"
	"github.com/rmartins/orderflow-backend/pkg/outbox"
	"github.com/rmartins/orderflow-backend/pkg/pubsub"
	"github.com/rmartins/orderflow-backend/pkg/ratelimit"
	"github.com/rmartins/orderflow-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

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

	limiter, err := ratelimit.New(redisClient.Scripter(), redisClient, cfg.RateLimit)
	if err != nil {
		logg.Error(context.Background(), "failed to build rate limiter", err)
		os.Exit(1)
	}

	outboxRepo := outbox.NewRepository(dbClient.DB(), outbox.PolicyFromConfig(cfg.Outbox))
	outboxSvc := outbox.NewService(outboxRepo, logg)
	auditRec := audit.NewRecorder(logg)

	ordersRepo := internalorders.NewRepository(dbClient.DB())
	ordersSvc, err := internalorders.NewService(ordersRepo, dbClient, outboxSvc, auditRec, redisClient, cfg.Orders.IdempotencyTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
	}

	inventoryRepo := inventory.NewRepository(dbClient.DB())
	inventorySvc, err := inventory.NewService(inventoryRepo, dbClient, auditRec)
	if err != nil {
		logg.Error(context.Background(), "failed to create inventory service", err)
		os.Exit(1)
	}

	handler := routes.NewRouter(cfg, logg, routes.Deps{
		DB:       dbClient,
		Redis:    redisClient,
		Broker:   pubsubClient,
		Limiter:  limiter,
		Outbox:   outboxRepo,
		Orders:   ordersSvc,
		Stock:    inventorySvc,
		Sink:     sink,
		Registry: registry,
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	go func() {
		<-shutdownCtx.Done()
		timeoutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(timeoutCtx); err != nil {
			logg.Error(ctx, "graceful shutdown failed", err)
		}
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "api server shut down")
}
