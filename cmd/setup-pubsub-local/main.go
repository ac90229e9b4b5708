package main

import (
	"context"
	"time"

	"timetrack/internal/config"
	"timetrack/internal/logger"
	"timetrack/internal/pubsub"

	"github.com/joho/godotenv"
)

// Creates the subscription event topic, and a pull subscription to inspect
// it, on the local Pub/Sub emulator.
func main() {
	logger := logger.New()

	if err := godotenv.Load(); err != nil {
		logger.Warn().Msg("No .env file found, relying on system environment variables.")
	}
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Msgf("Failed to load config: %v", err)
	}
	if cfg.PubSubEmulatorHost == "" {
		logger.Fatal().Msg("PUBSUB_EMULATOR_HOST must be set for local environment.")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pub, err := pubsub.NewPublisher(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create Pub/Sub client")
	}
	defer pub.Close()

	topic := cfg.PubSubSubscriptionTopic
	if err := pub.EnsureTopic(ctx, topic, topic+"-local-sub"); err != nil {
		logger.Fatal().Err(err).Msg("Failed to create Pub/Sub resources")
	}
	logger.Info().Str("topic", topic).Str("subscription", topic+"-local-sub").Msg("Pub/Sub setup for local environment complete")
}
