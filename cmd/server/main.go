package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/pitchside/pitchside/internal"
	"github.com/pitchside/pitchside/internal/billing"
	"github.com/pitchside/pitchside/internal/domain"
	"github.com/pitchside/pitchside/internal/events"
	"github.com/pitchside/pitchside/internal/handler/admin"
	"github.com/pitchside/pitchside/internal/handler/api"
	"github.com/pitchside/pitchside/internal/handler/webhook"
	"github.com/pitchside/pitchside/internal/middleware"
	"github.com/pitchside/pitchside/internal/router"
	"github.com/pitchside/pitchside/internal/routes"
	"github.com/pitchside/pitchside/internal/service"
	"github.com/pitchside/pitchside/internal/store"
	"github.com/pitchside/pitchside/internal/telemetry"
	"github.com/pitchside/pitchside/internal/worker"
)

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Money amounts serialize as JSON numbers, not strings.
	decimal.MarshalJSONWithoutQuotes = true

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Run migrations over database/sql; the application itself uses pgx.
	logger.Info("Running database migrations...")
	sqlDB, err := sql.Open("pgx", cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	if err := internal.RunMigrations(sqlDB); err != nil {
		sqlDB.Close()
		return fmt.Errorf("migration failed: %w", err)
	}
	sqlDB.Close()
	logger.Info("Database migrations completed")

	// Initialize pgx connection pool
	pool, err := store.Connect(ctx, cfg.DatabaseUrl)
	if err != nil {
		return err
	}
	defer pool.Close()
	st := store.New(pool)
	logger.Info("Database connection established")

	// Billing providers. Each configured provider serves both outbound
	// subscription calls and inbound webhooks at /webhooks/{name}.
	providers := make(map[string]billing.Provider)
	if cfg.GoCardless.AccessToken != "" {
		gc := billing.NewGoCardlessProvider(cfg.GoCardless.AccessToken, cfg.GoCardless.WebhookSecret, cfg.GoCardless.Sandbox)
		providers[gc.Name()] = gc
		logger.Info("GoCardless provider initialized", "sandbox", cfg.GoCardless.Sandbox)
	}
	if cfg.Stripe.SecretKey != "" {
		sp := billing.NewStripeProvider(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret, cfg.Stripe.ProductID)
		providers[sp.Name()] = sp
		logger.Info("Stripe provider initialized")
	}
	if len(providers) == 0 {
		logger.Warn("no billing providers configured; subscriptions cannot sync")
	}

	// Event publisher
	var publisher events.Publisher = events.NoopPublisher{}
	if cfg.NATS.URL != "" {
		natsPublisher, err := events.NewNATSPublisher(cfg.NATS.URL, logger)
		if err != nil {
			return fmt.Errorf("nats connection failed: %w", err)
		}
		defer natsPublisher.Close()
		publisher = natsPublisher
		logger.Info("NATS publisher initialized", "url", cfg.NATS.URL)
	} else {
		logger.Warn("NATS_URL not set; billing events will be dropped")
	}

	// Business metrics
	metrics := telemetry.NewBusinessMetrics("pitchside")

	// Services
	resolver := service.NewMandateResolver(st, logger)
	invoiceService := service.NewInvoiceService(st, st, publisher, st, metrics, logger, service.RetryConfig{
		MaxAttempts: int(cfg.Invoices.NumberMaxAttempts),
		MinDelay:    cfg.Invoices.NumberMinDelay,
		MaxDelay:    cfg.Invoices.NumberMaxDelay,
	})
	subscriptionService := service.NewSubscriptionService(st, resolver, providers, st, publisher, st, metrics, logger, cfg.Currency)
	webhookProcessor := service.NewWebhookProcessor(st, subscriptionService, providers, publisher, st, metrics, logger)

	// Background workers
	executions := service.NewWorkerExecutionService(st, metrics, logger, cfg.Workers.RunTimeout)
	executions.Register(worker.NewSubscriptionSyncWorker(st, subscriptionService, logger, int32(cfg.Workers.BatchSize)))
	executions.Register(worker.NewNotificationRetryWorker(st, publisher, logger, int32(cfg.Workers.BatchSize)))

	runner := worker.NewRunner(executions, []worker.Schedule{
		{WorkerName: domain.WorkerSubscriptionSync, Interval: cfg.Workers.SyncInterval},
		{WorkerName: domain.WorkerNotificationRetry, Interval: cfg.Workers.RetryInterval},
	}, logger)
	runner.Start(ctx)

	// ==========================================================================
	// Build route dependencies
	// ==========================================================================

	apiDeps := routes.APIDeps{
		InvoiceHandler:      api.NewInvoiceHandler(invoiceService),
		SubscriptionHandler: api.NewSubscriptionHandler(subscriptionService),
	}
	adminDeps := routes.AdminDeps{
		WorkerHandler:      admin.NewWorkerHandler(executions),
		DiagnosticsHandler: admin.NewDiagnosticsHandler(subscriptionService),
	}
	webhookDeps := routes.WebhookDeps{
		Handler: webhook.NewHandler(webhookProcessor),
	}

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	httpMetrics := middleware.NewMetrics("pitchside")

	r := router.New(
		middleware.Recover,
		middleware.RequestID,
		httpMetrics.Middleware,
		middleware.WithClientIP(),
		middleware.WithRequestLogger(logger),
		router.Logger(logger),
	)

	// Metrics endpoint (protect via firewall in production)
	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		httpMetrics.Handler().ServeHTTP(w, req)
	})

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		if err := pool.Ping(req.Context()); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	routes.RegisterAPIRoutes(r, apiDeps)
	routes.RegisterAdminRoutes(r, adminDeps)
	routes.RegisterWebhookRoutes(r, webhookDeps)

	// ==========================================================================
	// Start server
	// ==========================================================================

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting billing server", "address", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
