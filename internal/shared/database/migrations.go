package database

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strings"
)

// RunMigrations applies every *.sql file in migrations, in lexical order,
// skipping versions already recorded in schema_migrations.
func (db *DB) RunMigrations(ctx context.Context, migrations fs.FS) error {
	logger := slog.With("component", "migrations")
	logger.Info("Starting database migrations")

	if err := db.createMigrationsTable(ctx); err != nil {
		logger.Error("Failed to create migrations table", "error", err)
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	files, err := MigrationFiles(migrations)
	if err != nil {
		logger.Error("Failed to get migration files", "error", err)
		return fmt.Errorf("failed to get migration files: %w", err)
	}

	logger.Info("Found migration files", "count", len(files))

	for _, file := range files {
		if err := db.runMigration(ctx, migrations, file); err != nil {
			logger.Error("Failed to run migration", "migration", file, "error", err)
			return fmt.Errorf("failed to run migration %s: %w", file, err)
		}
	}

	logger.Info("All migrations completed successfully")
	return nil
}

func (db *DB) createMigrationsTable(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version VARCHAR(255) PRIMARY KEY,
		applied_at TIMESTAMPTZ DEFAULT NOW()
	)`

	_, err := db.ExecContext(ctx, query)
	return err
}

// MigrationFiles lists the migration files of a directory in apply order
func MigrationFiles(migrations fs.FS) ([]string, error) {
	var files []string

	err := fs.WalkDir(migrations, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(p, ".sql") {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}

func (db *DB) runMigration(ctx context.Context, migrations fs.FS, file string) error {
	version := path.Base(file)
	logger := slog.With(
		"component", "migrations",
		"operation", "run_migration",
		"migration", version,
	)

	var exists bool
	err := db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)", version).Scan(&exists)
	if err != nil {
		return err
	}

	if exists {
		logger.Debug("Migration already applied, skipping")
		return nil
	}

	content, err := fs.ReadFile(migrations, file)
	if err != nil {
		return err
	}

	logger.Info("Running migration", "size_bytes", len(content))

	return db.WithTx(ctx, func(tx *Tx) error {
		if _, err := tx.ExecContext(ctx, string(content)); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", version)
		return err
	})
}
