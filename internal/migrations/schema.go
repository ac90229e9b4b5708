// Package migrations applies the embedded database schema.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog"
)

// sqlFS contains the embedded SQL migration files.
//
//go:embed sql/*.sql
var sqlFS embed.FS

// Migrator wraps a migrate instance bound to db.
type Migrator struct {
	m      *migrate.Migrate
	logger zerolog.Logger
}

func New(db *sql.DB, logger zerolog.Logger) (*Migrator, error) {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("migrations: create postgres driver: %w", err)
	}
	sourceDriver, err := iofs.New(sqlFS, "sql")
	if err != nil {
		return nil, fmt.Errorf("migrations: open embedded migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("migrations: init migrate instance: %w", err)
	}
	return &Migrator{m: m, logger: logger.With().Str("component", "migrations").Logger()}, nil
}

// Up applies all pending migrations. Up on a current schema is a no-op.
func (mg *Migrator) Up() error {
	before, _ := mg.Version()
	if err := mg.m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			mg.logger.Info().Uint("version", before).Msg("No new migrations to apply; database is up to date")
			return nil
		}
		return fmt.Errorf("migrations: apply: %w", err)
	}
	after, _ := mg.Version()
	mg.logger.Info().Uint("from", before).Uint("to", after).Msg("Applied migrations")
	return nil
}

// Down rolls back steps migrations.
func (mg *Migrator) Down(steps int) error {
	if steps <= 0 {
		return fmt.Errorf("migrations: steps must be positive, got %d", steps)
	}
	if err := mg.m.Steps(-steps); err != nil {
		return fmt.Errorf("migrations: roll back %d: %w", steps, err)
	}
	v, _ := mg.Version()
	mg.logger.Info().Int("steps", steps).Uint("version", v).Msg("Rolled back migrations")
	return nil
}

// Version returns the current schema version, 0 on a fresh database.
func (mg *Migrator) Version() (uint, error) {
	v, dirty, err := mg.m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("migrations: read version: %w", err)
	case dirty:
		return v, fmt.Errorf("migrations: version %d is dirty", v)
	}
	return v, nil
}

// Up applies all pending migrations on db.
func Up(db *sql.DB, logger zerolog.Logger) error {
	mg, err := New(db, logger)
	if err != nil {
		return err
	}
	return mg.Up()
}
