// Package postgres implements store.Store on PostgreSQL through lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"regions-server/internal/shared/database"
	"regions-server/internal/store"
)

type Store struct {
	db     *database.DB
	tx     *database.Tx
	logger *slog.Logger
}

var _ store.Store = (*Store)(nil)

func New(db *database.DB, logger *slog.Logger) *Store {
	logger.Debug("Initializing postgres store")
	return &Store{
		db:     db,
		logger: logger,
	}
}

func (s *Store) getExecutor() database.Executor {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

func (s *Store) Concurrent() bool {
	return s.tx == nil
}

func (s *Store) WithTx(ctx context.Context, fn func(tx store.Store) error) error {
	if s.tx != nil {
		return fn(s)
	}
	return s.db.WithTx(ctx, func(tx *database.Tx) error {
		return fn(&Store{db: s.db, tx: tx, logger: s.logger})
	})
}

// withSavepoint runs fn under a savepoint when the store is bound to a
// transaction, so a failed statement leaves the transaction usable. Outside a
// transaction fn runs as is.
func (s *Store) withSavepoint(ctx context.Context, name string, fn func() error) error {
	if s.tx == nil {
		return fn()
	}

	if _, err := s.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return err
	}
	if err := fn(); err != nil {
		if _, rbErr := s.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			s.logger.Error("Failed to roll back to savepoint", "savepoint", name, "error", rbErr)
		}
		return err
	}
	_, err := s.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name)
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func nullableTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
