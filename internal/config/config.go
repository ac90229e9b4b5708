package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// Local & Github Secrets (Fill up for local development)
	DBConnectionString string `envconfig:"DB_CONNECTION_STRING" required:"true"`
	JWTSecret          string `envconfig:"SUPABASE_JWT_SECRET" required:"true"`
	Environment        string `envconfig:"ENV" default:"development"`
	Port               string `envconfig:"PORT" default:"8080"`
	AppBaseURL         string `envconfig:"APP_BASE_URL" default:"http://localhost:5173"`

	// Session-mode connection for LISTEN; defaults to DB_CONNECTION_STRING
	DBListenConnectionString string `envconfig:"DB_LISTEN_CONNECTION_STRING"`

	// Stripe. The secret key may come from Secret Manager when STRIPE_SECRET_KEY_SECRET is set.
	StripeSecretKey       string `envconfig:"STRIPE_SECRET_KEY"`
	StripeSecretKeySecret string `envconfig:"STRIPE_SECRET_KEY_SECRET"`
	StripeWebhookSecret   string `envconfig:"STRIPE_WEBHOOK_SECRET"`
	StripePriceMonthly    string `envconfig:"STRIPE_PRICE_MONTHLY" required:"true"`
	StripePriceYearly     string `envconfig:"STRIPE_PRICE_YEARLY" required:"true"`
	StripePriceFreeTrial  string `envconfig:"STRIPE_PRICE_FREE_TRIAL"`
	StripeProductMonthly  string `envconfig:"STRIPE_PRODUCT_MONTHLY"`
	StripeProductYearly   string `envconfig:"STRIPE_PRODUCT_YEARLY"`
	TrialPeriodDays       int64  `envconfig:"TRIAL_PERIOD_DAYS" default:"7"`
	BillingHistoryLimit   int64  `envconfig:"BILLING_HISTORY_LIMIT" default:"24"`

	// Secret Manager endpoint override, e.g. a regional endpoint
	SecretManagerEndpoint string `envconfig:"SECRET_MANAGER_ENDPOINT"`

	// Circuit breaker around Stripe calls
	ProviderBreakerEnabled   bool          `envconfig:"PROVIDER_BREAKER_ENABLED" default:"true"`
	ProviderBreakerFailures  uint32        `envconfig:"PROVIDER_BREAKER_FAILURES" default:"5"`
	ProviderBreakerOpenDelay time.Duration `envconfig:"PROVIDER_BREAKER_OPEN_DELAY" default:"30s"`

	// Subscription change events
	GCPProjectID            string `envconfig:"GCP_PROJECT_ID"`
	PubSubEmulatorHost      string `envconfig:"PUBSUB_EMULATOR_HOST"`
	PubSubSubscriptionTopic string `envconfig:"PUBSUB_SUBSCRIPTION_TOPIC" default:"subscription-events"`

	// Change notifications
	NotifyChannel string `envconfig:"SUBSCRIPTION_NOTIFY_CHANNEL" default:"subscription_changes"`

	// Reconcile orchestrator settings
	ReconcileQueueName           string `envconfig:"RECONCILE_QUEUE_NAME" default:"subscription_reconcile"`
	ReconcileDeadLetterQueueName string `envconfig:"RECONCILE_DEAD_LETTER_QUEUE_NAME" default:"subscription_reconcile_dlq"`
	ReconcileVisibilitySec       int    `envconfig:"RECONCILE_VISIBILITY_SEC" default:"60"`
	ReconcilePollTimeoutSec      int    `envconfig:"RECONCILE_POLL_TIMEOUT_SEC" default:"30"`
	ReconcilePollMaxMsg          int    `envconfig:"RECONCILE_POLL_MAX_MSG" default:"10"`
	ReconcileMaxAttempts         int    `envconfig:"RECONCILE_MAX_ATTEMPTS" default:"5"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if cfg.StripeSecretKey == "" && cfg.StripeSecretKeySecret == "" {
		return nil, fmt.Errorf("one of STRIPE_SECRET_KEY or STRIPE_SECRET_KEY_SECRET is required")
	}
	return &cfg, nil
}

// FreeTrialPrice returns the price used for trial checkouts. Trials bill the monthly
// price once the trial ends unless a dedicated trial price is configured.
func (c *Config) FreeTrialPrice() string {
	if c.StripePriceFreeTrial != "" {
		return c.StripePriceFreeTrial
	}
	return c.StripePriceMonthly
}

// PubSubEnabled reports whether subscription events should be published.
func (c *Config) PubSubEnabled() bool {
	return c.GCPProjectID != "" || c.PubSubEmulatorHost != ""
}
