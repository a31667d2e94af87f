package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"

	"github.com/uberoi/giftledger/internal/allocation"
	"github.com/uberoi/giftledger/internal/auth"
	"github.com/uberoi/giftledger/internal/config"
	"github.com/uberoi/giftledger/internal/db"
	"github.com/uberoi/giftledger/internal/events"
	"github.com/uberoi/giftledger/internal/gifts"
	"github.com/uberoi/giftledger/internal/kyc"
	"github.com/uberoi/giftledger/internal/ledger"
	"github.com/uberoi/giftledger/internal/models"
	"github.com/uberoi/giftledger/internal/notify"
	"github.com/uberoi/giftledger/internal/pricing"
	"github.com/uberoi/giftledger/internal/router"
	"github.com/uberoi/giftledger/internal/scheduler"
	"github.com/uberoi/giftledger/internal/withdrawals"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Cannot reach PostgreSQL (connection refused or invalid). Ensure Postgres is running, e.g. docker-compose up -d", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	slog.Info("Connected to PostgreSQL database successfully!")

	if err := db.Migrate(ctx, pool); err != nil {
		slog.Error("Schema migration failed", "error", err)
		os.Exit(1)
	}

	// River migrations back the notification queue.
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("River migrate up failed. If the error is 'connection refused', start PostgreSQL first", "error", err)
		os.Exit(1)
	}
	slog.Info("River migrations applied")

	workers := river.NewWorkers()
	river.AddWorker(workers, notify.NewNotificationWorker(cfg.NotifyWebhookURL))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 10},
		},
		Workers: workers,
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}
	notifier := notify.NewDispatcher(riverClient, logger)

	oracle, publisher := buildOracle(cfg, logger)

	// Ledger and feature services
	ledgerRepo := ledger.NewRepository(pool)
	ledgerSvc := ledger.NewService(ledgerRepo)

	eventRepo := events.NewRepository(pool)
	eventSvc := events.NewService(eventRepo)

	giftRepo := gifts.NewRepository(pool)
	giftSvc := gifts.NewService(giftRepo, ledgerSvc, eventSvc, notifier, cfg.AutoAllocateDelay, logger)

	engine := allocation.NewEngine(ledgerSvc, giftRepo, oracle, logger)
	bridge := gifts.NewBridge(giftRepo, ledgerSvc, engine, cfg.AutoAllocateRetry, logger)

	kycRepo := kyc.NewRepository(pool)

	withdrawalRepo := withdrawals.NewRepository(pool)
	withdrawalController := withdrawals.NewController(withdrawalRepo, eventSvc, ledgerSvc, kycRepo, logger)
	withdrawalWorkflow := withdrawals.NewWorkflow(withdrawalRepo, ledgerSvc, notifier, logger)

	authRepo := auth.NewRepository(pool)
	authSvc := auth.NewService(authRepo, cfg.JWTSecret)

	handler := router.New(router.Handlers{
		Auth:        auth.NewHandler(authSvc, giftSvc, logger),
		Gifts:       gifts.NewHandler(giftSvc, logger),
		Ledger:      ledger.NewHandler(ledgerSvc, logger),
		Allocation:  allocation.NewHandler(engine, logger),
		Events:      events.NewHandler(eventSvc, logger),
		Withdrawals: withdrawals.NewHandler(withdrawalController, withdrawalWorkflow, logger),
		KYC:         kyc.NewHandler(kycRepo, logger),
		Pricing:     pricing.NewHandler(oracle, publisher, logger),
	}, authSvc)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(handler)

	// Start River client (delivers notifications)
	riverCtx, stopRiver := context.WithCancel(ctx)
	defer stopRiver()
	go func() {
		if err := riverClient.Start(riverCtx); err != nil && riverCtx.Err() == nil {
			slog.Error("River client stopped", "error", err)
		}
	}()

	sched := scheduler.New(bridge, giftRepo, cfg.GiftExpiry, logger)
	if err := sched.Start(ctx, cfg.SweepSchedule); err != nil {
		slog.Error("Scheduler start failed", "error", err)
		os.Exit(1)
	}
	defer sched.Stop()

	srv := &http.Server{
		Addr:    "0.0.0.0:" + cfg.Port,
		Handler: corsHandler,
	}
	go func() {
		slog.Info("Starting HTTP server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown failed", "error", err)
	}
	if err := riverClient.Stop(shutdownCtx); err != nil {
		slog.Error("River shutdown failed", "error", err)
	}
}

// buildOracle seeds the static oracle from config and layers redis on top
// when an address is configured.
func buildOracle(cfg *config.Config, logger *slog.Logger) (pricing.Oracle, pricing.Publisher) {
	prices := map[string]decimal.Decimal{}
	if p, err := decimal.NewFromString(cfg.GoldPriceINR); err == nil {
		prices[models.TargetGold] = p
	}
	if p, err := decimal.NewFromString(cfg.StockPriceINR); err == nil {
		prices[models.TargetStock] = p
	}
	static := pricing.NewStaticOracle(prices)
	if cfg.RedisAddr == "" {
		return static, static
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	logger.Info("Using redis price oracle", "addr", cfg.RedisAddr)
	ro := pricing.NewRedisOracle(client, static)
	return ro, ro
}
