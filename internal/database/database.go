// Package database opens the Postgres handles shared by the binaries.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"timetrack/internal/config"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
)

// Open returns a pinged database/sql handle on the pgx driver.
func Open(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*sql.DB, error) {
	db, err := sql.Open("pgx", DSN(cfg.DBConnectionString, cfg.Environment))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	// Set reasonable connection pool limits
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxIdleTime(5 * time.Minute)

	logger.Info().Str("db_port", portFromDSN(cfg.DBConnectionString)).Msg("Database connection successful")
	return db, nil
}

// NewPool returns a pgx pool for LISTEN. LISTEN needs a session, which a
// transaction pooler cannot give, so DB_LISTEN_CONNECTION_STRING may point
// at a direct or session-mode connection.
func NewPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	dsn := cfg.DBListenConnectionString
	if dsn == "" {
		dsn = cfg.DBConnectionString
	}
	pool, err := pgxpool.New(ctx, sslDefault(dsn, cfg.Environment))
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pgx pool: %w", err)
	}
	return pool, nil
}

// DSN adjusts the connection string for the environment. Local development
// runs without SSL; elsewhere a transaction pooler such as pgbouncer sits in
// front of the database, so server-side prepared statements are avoided.
func DSN(dsn, env string) string {
	dsn = sslDefault(dsn, env)
	if env != "development" && !strings.Contains(dsn, "default_query_exec_mode") {
		dsn += separator(dsn) + "default_query_exec_mode=simple_protocol"
	}
	return dsn
}

func sslDefault(dsn, env string) string {
	if env == "development" && !strings.Contains(dsn, "sslmode") {
		dsn += separator(dsn) + "sslmode=disable"
	}
	return dsn
}

func separator(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		if strings.Contains(dsn, "?") {
			return "&"
		}
		return "?"
	}
	return " "
}

// portFromDSN extracts the port of a URL-style DSN for startup logs.
func portFromDSN(dsn string) string {
	parts := strings.Split(dsn, ":")
	for i, part := range parts {
		if strings.Contains(part, "@") && len(parts) > i+1 {
			return strings.SplitN(parts[i+1], "/", 2)[0]
		}
	}
	return "not_found"
}
