// Package duckdb keeps the split manifest in DuckDB.
package duckdb

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"
	"github.com/rs/zerolog"

	"github.com/M2oDA-Lab/roq/pkg/errors"
)

// Config holds the manifest database settings.
type Config struct {
	// DSN is a database file path; empty opens an in-memory database.
	DSN                string        `json:"dsn" mapstructure:"dsn"`
	MaxOpenConnections int           `json:"max_open_connections" mapstructure:"max_open_connections"`
	MaxIdleConnections int           `json:"max_idle_connections" mapstructure:"max_idle_connections"`
	ConnMaxLifetime    time.Duration `json:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnectionTimeout  time.Duration `json:"connection_timeout" mapstructure:"connection_timeout"`
}

// DefaultConfig returns settings for a single-writer manifest.
func DefaultConfig(dsn string) Config {
	return Config{
		DSN:                dsn,
		MaxOpenConnections: 4,
		MaxIdleConnections: 2,
		ConnMaxLifetime:    30 * time.Minute,
		ConnectionTimeout:  10 * time.Second,
	}
}

// Open opens and pings the database.
func Open(ctx context.Context, cfg Config, logger zerolog.Logger) (*sql.DB, error) {
	db, err := sql.Open("duckdb", cfg.DSN)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeStorage, "failed to open duckdb")
	}

	if cfg.MaxOpenConnections > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConnections)
	}
	if cfg.MaxIdleConnections > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConnections)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx := ctx
	if cfg.ConnectionTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.ConnectionTimeout)
		defer cancel()
	}
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, errors.CodeStorage, "failed to ping duckdb")
	}

	dsn := cfg.DSN
	if dsn == "" {
		dsn = ":memory:"
	}
	logger.Debug().Str("dsn", dsn).Int("max_open", cfg.MaxOpenConnections).Msg("Opened manifest database")
	return db, nil
}
