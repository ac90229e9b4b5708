package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"timetrack/internal/api/v1/router"
	"timetrack/internal/config"
	"timetrack/internal/database"
	"timetrack/internal/logger"
	"timetrack/internal/metrics"
	"timetrack/internal/payment"
	"timetrack/internal/pgmq"
	"timetrack/internal/pubsub"
	"timetrack/internal/realtime"
	"timetrack/internal/repository"
	"timetrack/internal/secrets"
	"timetrack/internal/service"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// @title Timetrack Billing API
// @version 1.0
// @description Subscription checkout, verification and billing history
// @host localhost:8080
// @BasePath /v1
// @Schemes http https

func main() {
	logger := logger.New()

	// 1. Load configuration
	if err := godotenv.Load(); err != nil {
		logger.Warn().Msg("Warning: no .env file found")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Msgf("Error loading config: %v", err)
	}
	logger.Info().Str("environment", cfg.Environment).Msg("App environment loaded")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Databases
	db, err := database.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	pool, err := database.NewPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create listen pool")
	}
	defer pool.Close()

	// 3. Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// 4. Payment provider
	stripeKey, err := secrets.StripeSecretKey(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to resolve Stripe secret key")
	}
	provider := payment.NewStripeProvider(stripeKey, cfg.StripeWebhookSecret, payment.BreakerConfig{
		Enabled:   cfg.ProviderBreakerEnabled,
		Failures:  cfg.ProviderBreakerFailures,
		OpenDelay: cfg.ProviderBreakerOpenDelay,
	}, m, logger)

	// 5. Repositories & services
	subRepo := repository.NewSubscriptionRepo(db)
	customerRepo := repository.NewCustomerRepo(db)

	opts := []service.BillingOption{service.WithBillingMetrics(m)}
	if cfg.PubSubEnabled() {
		publisher, err := pubsub.NewPublisher(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to create Pub/Sub publisher")
		}
		defer publisher.Close()
		opts = append(opts, service.WithEventPublisher(publisher))
	} else {
		logger.Info().Msg("GCP_PROJECT_ID not set; subscription events are not published")
	}
	billingSvc := service.NewBillingService(cfg, subRepo, customerRepo, provider, logger, opts...)
	webhookSvc := service.NewWebhookService(provider, pgmq.New(db), cfg.ReconcileQueueName, m, logger)

	// 6. Change notifications
	listener := realtime.NewListener(pool, cfg.NotifyChannel, logger)
	go listener.Run(ctx)

	// 7. Router
	r := router.New(cfg, router.Dependencies{
		Billing:  billingSvc,
		Webhooks: webhookSvc,
		Changes:  listener,
		Metrics:  m,
		Ready:    func(r *http.Request) error { return db.PingContext(r.Context()) },
	}, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Msgf("Server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Msgf("Listen: %s", err)
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("Shutdown signal received, exiting...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
		os.Exit(1)
	}
	logger.Info().Msg("Server shut down gracefully")
}
