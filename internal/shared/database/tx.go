package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
)

// WithTx runs fn inside a transaction. The transaction commits only when fn
// returns nil and is rolled back on error or panic; the connection is
// released on every exit path.
func (db *DB) WithTx(ctx context.Context, fn func(tx *Tx) error) (err error) {
	logger := slog.With("component", "database", "operation", "with_tx")

	tx, err := db.BeginTxContext(ctx)
	if err != nil {
		return err
	}

	committed := false
	defer func() {
		if p := recover(); p != nil {
			rollback(tx, logger)
			panic(p)
		}
		if !committed {
			rollback(tx, logger)
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		logger.Error("Failed to commit transaction", "error", err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}

func rollback(tx *Tx, logger *slog.Logger) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		logger.Error("Failed to rollback transaction", "error", err)
	}
}
