package main

import (
	"context"
	"flag"
	"net/http"
	"os/signal"
	"syscall"

	"timetrack/internal/config"
	"timetrack/internal/database"
	"timetrack/internal/logger"
	"timetrack/internal/metrics"
	"timetrack/internal/orchestrator/reconcile"
	"timetrack/internal/pgmq"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	// Parse mode flag
	mode := flag.String("mode", "", "Orchestrator mode: reconcile")
	metricsAddr := flag.String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	flag.Parse()

	// Initialize logger
	logger := logger.New()

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		logger.Warn().Msg("Warning: no .env file found")
	}

	// Load config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Msgf("Error loading config: %v", err)
	}

	// Set up context with graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize DB connection
	db, err := database.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	// Initialize PGMQ client
	pgmqClient := pgmq.New(db)
	logger.Info().Msg("PGMQ client initialized")

	m := metrics.New(prometheus.NewRegistry())
	if *metricsAddr != "" {
		go func() {
			if err := http.ListenAndServe(*metricsAddr, m.Handler()); err != nil {
				logger.Error().Err(err).Msg("Metrics server stopped")
			}
		}()
	}

	// Dispatch to the selected orchestrator
	var runErr error
	switch *mode {
	case "reconcile":
		billing, closeFn := newBillingService(ctx, cfg, db, m, logger)
		defer closeFn()
		runErr = reconcile.Run(ctx, logger, pgmqClient, billing, reconcile.Config{
			Queue:           cfg.ReconcileQueueName,
			DeadLetterQueue: cfg.ReconcileDeadLetterQueueName,
			VisibilitySec:   cfg.ReconcileVisibilitySec,
			PollTimeoutSec:  cfg.ReconcilePollTimeoutSec,
			MaxMessages:     cfg.ReconcilePollMaxMsg,
			MaxAttempts:     cfg.ReconcileMaxAttempts,
		}, m)
	default:
		logger.Fatal().Msgf("Invalid mode: %s", *mode)
	}

	if runErr != nil {
		logger.Fatal().Msgf("%s orchestrator failed: %v", *mode, runErr)
	}

	logger.Info().Msgf("%s orchestrator stopped gracefully", *mode)
}
