// Package app wires the stores, caches and services of one process from
// configuration. Both the HTTP server and the operator CLI build on it.
package app

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"regions-server/internal/region"
	"regions-server/internal/resource"
	"regions-server/internal/scan"
	"regions-server/internal/shared/config"
	"regions-server/internal/shared/database"
	"regions-server/internal/shared/redis"
	"regions-server/internal/store"
	"regions-server/internal/store/memstore"
	"regions-server/internal/store/postgres"
	"regions-server/migrations"
)

type App struct {
	Config    *config.Config
	DB        *database.DB
	Redis     *redis.Client
	Store     store.Store
	Cache     region.Cache
	Lifecycle *resource.Service
	Regions   *region.Service
	Scans     *scan.Service
	logger    *slog.Logger
}

// New connects the configured store and cache. Postgres connections are
// opened but not migrated; call Migrate for that.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{Config: cfg, logger: logger}

	switch cfg.Store.Driver {
	case config.StoreDriverMemory:
		logger.Warn("Using in-memory store, data is lost on exit")
		a.Store = memstore.New(logger.With("component", "memstore"))
	case config.StoreDriverPostgres:
		db, err := database.Connect(ctx, cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		a.DB = db
		a.Store = postgres.New(db, logger.With("component", "postgres_store"))
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Store.Driver)
	}

	rdb, err := redis.Connect(ctx, cfg.Redis)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Redis = rdb
	if rdb != nil {
		a.Cache = region.NewRedisCache(rdb, cfg.World.RegionCacheTTL, logger)
	} else {
		a.Cache = region.NewMemoryCache(cfg.World.RegionCacheTTL)
	}

	if err := a.buildServices(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// NewWithStore wires the services over an existing store with a process-local cache
func NewWithStore(cfg *config.Config, st store.Store, logger *slog.Logger) (*App, error) {
	a := &App{
		Config: cfg,
		Store:  st,
		Cache:  region.NewMemoryCache(cfg.World.RegionCacheTTL),
		logger: logger,
	}
	if err := a.buildServices(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) buildServices() error {
	world := a.Config.World

	catalog, err := resource.NewCatalog(world.ResourceNames)
	if err != nil {
		return err
	}

	a.Lifecycle = resource.NewService(a.Store, catalog, resource.SettingsFromConfig(world),
		a.logger, resource.WithCacheInvalidator(a.Cache))
	a.Regions = region.NewService(a.Store, a.Lifecycle, region.SettingsFromConfig(world),
		a.logger, region.WithCache(a.Cache))
	a.Scans = scan.NewService(a.Regions, a.Store, scan.SettingsFromConfig(world), a.logger)
	return nil
}

// Migrate applies the schema. It is a no-op for the in-memory store.
func (a *App) Migrate(ctx context.Context) error {
	if a.DB == nil {
		a.logger.Info("No database configured, skipping migrations")
		return nil
	}

	var files fs.FS = migrations.FS
	if path := a.Config.Database.MigrationsPath; path != "" {
		files = os.DirFS(path)
	}
	return a.DB.RunMigrations(ctx, files)
}

func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.logger.Error("Failed to close Redis connection", "error", err)
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.logger.Error("Failed to close database connection", "error", err)
		}
	}
}
