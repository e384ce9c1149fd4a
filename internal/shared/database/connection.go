package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"regions-server/internal/shared/config"

	"github.com/avast/retry-go/v4"
	_ "github.com/lib/pq"
)

const (
	connectAttempts = 5
	connectDelay    = 500 * time.Millisecond
)

type DB struct {
	*sql.DB
}

type Tx struct {
	*sql.Tx
}

// Executor is satisfied by both *DB and *Tx so repositories can run
// the same statements inside or outside a transaction.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (db *DB) BeginTxContext(ctx context.Context) (*Tx, error) {
	tx, err := db.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, Translate("failed to begin transaction", err)
	}
	return &Tx{tx}, nil
}

// Connect opens the pool and waits for the server to answer a ping, retrying
// with backoff while it starts up.
func Connect(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*DB, error) {
	logger = logger.With("component", "database", "operation", "connect")

	logger.Info("Connecting to database",
		"host", cfg.Host,
		"port", cfg.Port,
		"user", cfg.User,
		"database", cfg.Name,
		"sslmode", cfg.SSLMode,
		"max_open_conns", cfg.MaxOpenConns,
		"max_idle_conns", cfg.MaxIdleConns,
	)

	sqlDB, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		logger.Error("Failed to open database connection", "error", err)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	err = retry.Do(
		func() error { return sqlDB.PingContext(ctx) },
		retry.Context(ctx),
		retry.Attempts(connectAttempts),
		retry.Delay(connectDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("Database not reachable yet, retrying", "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		logger.Error("Failed to ping database", "error", err)
		if closeErr := sqlDB.Close(); closeErr != nil {
			logger.Error("Failed to close database after ping failure", "close_error", closeErr)
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Database connection established", "host", cfg.Host, "database", cfg.Name)
	return &DB{sqlDB}, nil
}
