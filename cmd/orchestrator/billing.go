package main

import (
	"context"
	"database/sql"

	"timetrack/internal/config"
	"timetrack/internal/metrics"
	"timetrack/internal/payment"
	"timetrack/internal/pubsub"
	"timetrack/internal/repository"
	"timetrack/internal/secrets"
	"timetrack/internal/service"

	"github.com/rs/zerolog"
)

// newBillingService wires the billing service the reconcile worker writes through.
func newBillingService(ctx context.Context, cfg *config.Config, db *sql.DB, m *metrics.Metrics, logger zerolog.Logger) (service.BillingService, func()) {
	stripeKey, err := secrets.StripeSecretKey(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to resolve Stripe secret key")
	}
	provider := payment.NewStripeProvider(stripeKey, cfg.StripeWebhookSecret, payment.BreakerConfig{
		Enabled:   cfg.ProviderBreakerEnabled,
		Failures:  cfg.ProviderBreakerFailures,
		OpenDelay: cfg.ProviderBreakerOpenDelay,
	}, m, logger)

	opts := []service.BillingOption{service.WithBillingMetrics(m)}
	closeFn := func() {}
	if cfg.PubSubEnabled() {
		publisher, err := pubsub.NewPublisher(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to create Pub/Sub publisher")
		}
		opts = append(opts, service.WithEventPublisher(publisher))
		closeFn = func() { publisher.Close() }
	}
	return service.NewBillingService(cfg, repository.NewSubscriptionRepo(db), repository.NewCustomerRepo(db), provider, logger, opts...), closeFn
}
