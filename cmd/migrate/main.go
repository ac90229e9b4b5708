package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"timetrack/internal/config"
	"timetrack/internal/database"
	"timetrack/internal/logger"
	"timetrack/internal/migrations"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// migrateConfig is the subset of the service config migrations need, so the
// schema can be applied before Stripe or Pub/Sub settings exist.
type migrateConfig struct {
	DBConnectionString string `envconfig:"DB_CONNECTION_STRING" required:"true"`
	Environment        string `envconfig:"ENV" default:"development"`
}

func main() {
	action := flag.String("action", "up", "Migration action: up|down|version")
	steps := flag.Int("steps", 1, "Number of migrations to roll back with -action=down")
	flag.Parse()

	logger := logger.New()

	if err := godotenv.Load(); err != nil {
		logger.Warn().Msg("Warning: no .env file found")
	}
	var mc migrateConfig
	if err := envconfig.Process("", &mc); err != nil {
		logger.Fatal().Msgf("Error loading config: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := database.Open(ctx, &config.Config{DBConnectionString: mc.DBConnectionString, Environment: mc.Environment}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	mg, err := migrations.New(db, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialise migrations")
	}

	switch *action {
	case "up":
		err = mg.Up()
	case "down":
		err = mg.Down(*steps)
	case "version":
		var v uint
		v, err = mg.Version()
		if err == nil {
			logger.Info().Uint("version", v).Msg("Current schema version")
		}
	default:
		logger.Fatal().Msgf("Invalid action: %s", *action)
	}
	if err != nil {
		logger.Fatal().Err(err).Msgf("Migration %s failed", *action)
	}
}
