package resource

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"regions-server/internal/metrics"
	"regions-server/internal/models"
	"regions-server/internal/shared/config"
	"regions-server/internal/shared/errors"
	"regions-server/internal/spatial"
	"regions-server/internal/store"

	"golang.org/x/sync/errgroup"
)

// Settings are the population and staleness parameters of the lifecycle
type Settings struct {
	ResourceResolution int
	ResourcesPerRegion int
	Quantity           int
	ResetInterval      time.Duration
	Concurrency        int
}

func SettingsFromConfig(world config.WorldConfig) Settings {
	return Settings{
		ResourceResolution: world.ResourceResolution,
		ResourcesPerRegion: world.ResourcesPerRegion,
		Quantity:           world.ResourceQuantity,
		ResetInterval:      world.ResetInterval,
		Concurrency:        world.CreateConcurrency,
	}
}

// CacheInvalidator drops cached copies of regions whose state changed
type CacheInvalidator interface {
	Invalidate(ctx context.Context, cells ...string)
}

type Option func(*Service)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithRand makes sampling and naming reproducible
func WithRand(r *rand.Rand) Option {
	return func(s *Service) { s.rng = r }
}

func WithCacheInvalidator(inv CacheInvalidator) Option {
	return func(s *Service) { s.invalidator = inv }
}

// Service populates regions with resources and regenerates them when stale
type Service struct {
	store       store.Store
	catalog     Catalog
	settings    Settings
	now         func() time.Time
	rngMu       sync.Mutex
	rng         *rand.Rand
	invalidator CacheInvalidator
	logger      *slog.Logger
}

func NewService(st store.Store, catalog Catalog, settings Settings, logger *slog.Logger, opts ...Option) *Service {
	logger.Debug("Initializing resource service",
		"resource_resolution", settings.ResourceResolution,
		"resources_per_region", settings.ResourcesPerRegion,
		"reset_interval", settings.ResetInterval,
	)

	if settings.Concurrency <= 0 {
		settings.Concurrency = 1
	}

	s := &Service{
		store:    st,
		catalog:  catalog,
		settings: settings,
		now:      time.Now,
		rng:      rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Settings() Settings {
	return s.settings
}

// Populate places quantity resources in distinct child cells of the region at
// childResolution. Inserts run in parallel and a failed insert is dropped: the
// result carries the created resources and the cells that failed.
func (s *Service) Populate(ctx context.Context, region models.Region, quantity, childResolution int) (models.PopulateResult, error) {
	return s.populate(ctx, s.store, region, quantity, childResolution, false)
}

// PopulateDefault populates a region with the configured count and resolution
func (s *Service) PopulateDefault(ctx context.Context, region models.Region) (models.PopulateResult, error) {
	return s.Populate(ctx, region, s.settings.ResourcesPerRegion, s.settings.ResourceResolution)
}

// PopulateNew populates a region inserted in the open transaction tx with the
// configured count and resolution. Failed inserts are dropped as in Populate.
func (s *Service) PopulateNew(ctx context.Context, tx store.Store, region models.Region) (models.PopulateResult, error) {
	return s.populate(ctx, tx, region, s.settings.ResourcesPerRegion, s.settings.ResourceResolution, false)
}

// populate inserts in parallel on a concurrent store and sequentially on a
// transaction-bound one. A strict populate stops at the first failed insert
// so the caller can roll back; otherwise failed cells are collected.
func (s *Service) populate(ctx context.Context, st store.Store, region models.Region, quantity, childResolution int, strict bool) (models.PopulateResult, error) {
	logger := s.logger.With(
		"component", "resource_service",
		"operation", "populate",
		"region_id", region.ID,
		"cell_index", region.CellIndex,
		"quantity", quantity,
	)

	result := models.PopulateResult{Resources: []models.Resource{}}
	if quantity <= 0 {
		return result, nil
	}

	children, err := spatial.Children(region.CellIndex, childResolution)
	if err != nil {
		return result, err
	}

	if quantity > len(children) {
		logger.Warn("Requested more resources than child cells, clamping", "children", len(children))
	}
	plans := s.plan(region, s.sample(children, quantity))

	created := make([]*models.Resource, len(plans))
	if st.Concurrent() {
		var g errgroup.Group
		g.SetLimit(s.settings.Concurrency)
		for i, plan := range plans {
			g.Go(func() error {
				resource, err := st.InsertResource(ctx, plan)
				if err != nil {
					logger.Warn("Dropping resource after failed insert", "cell_index", plan.CellIndex, "error", err)
					return nil
				}
				created[i] = resource
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i, plan := range plans {
			resource, err := st.InsertResource(ctx, plan)
			if err != nil {
				if strict {
					logger.Error("Failed to create resource", "cell_index", plan.CellIndex, "error", err)
					return result, err
				}
				if ctx.Err() != nil {
					break
				}
				logger.Warn("Dropping resource after failed insert", "cell_index", plan.CellIndex, "error", err)
				continue
			}
			created[i] = resource
		}
	}

	for i, resource := range created {
		if resource == nil {
			result.FailedCells = append(result.FailedCells, plans[i].CellIndex)
			continue
		}
		result.Resources = append(result.Resources, *resource)
	}

	metrics.ResourcesCreatedTotal.Add(float64(len(result.Resources)))
	metrics.ResourcePopulateFailuresTotal.Add(float64(len(result.FailedCells)))

	if err := ctx.Err(); err != nil {
		return result, errors.WrapTimeout("resource population cancelled", err)
	}

	logger.Debug("Region populated", "created", len(result.Resources), "failed", len(result.FailedCells))
	return result, nil
}

// sample draws n distinct cells; n is clamped to the number of cells
func (s *Service) sample(cells []string, n int) []string {
	if n > len(cells) {
		n = len(cells)
	}
	pool := append([]string(nil), cells...)

	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	for i := 0; i < n; i++ {
		j := i + s.rng.IntN(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	return pool[:n]
}

func (s *Service) plan(region models.Region, cells []string) []models.NewResource {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()

	plans := make([]models.NewResource, len(cells))
	for i, cell := range cells {
		plans[i] = models.NewResource{
			Name:              s.catalog.pick(s.rng),
			RegionID:          region.ID,
			CellIndex:         cell,
			QuantityInitial:   s.settings.Quantity,
			QuantityRemaining: s.settings.Quantity,
		}
	}
	return plans
}

// IsStale reports whether the region has no deadline or its deadline has passed
func (s *Service) IsStale(region models.Region) bool {
	return isStaleAt(region, s.now())
}

func isStaleAt(region models.Region, now time.Time) bool {
	return region.StaleAt == nil || !now.Before(*region.StaleAt)
}

// Refresh regenerates the region's resources when it has none or is stale
// and always stamps last_refreshed_at. Every write happens in one
// transaction; on failure nothing changes and a transaction error is returned.
func (s *Service) Refresh(ctx context.Context, region models.Region) (*models.Region, error) {
	logger := s.logger.With(
		"component", "resource_service",
		"operation", "refresh",
		"region_id", region.ID,
	)

	var refreshed *models.Region
	regenerated := false

	err := s.store.WithTx(ctx, func(tx store.Store) error {
		current, err := tx.LockRegion(ctx, region.ID)
		if err != nil {
			return err
		}

		count, err := tx.CountResourcesByRegion(ctx, current.ID)
		if err != nil {
			return err
		}

		now := s.now()
		var staleAt *time.Time
		if count == 0 || isStaleAt(*current, now) {
			deleted, err := tx.DeleteResourcesByRegion(ctx, current.ID)
			if err != nil {
				return err
			}
			result, err := s.populate(ctx, tx, *current, s.settings.ResourcesPerRegion, s.settings.ResourceResolution, true)
			if err != nil {
				return err
			}
			next := now.Add(s.settings.ResetInterval)
			staleAt = &next
			regenerated = true
			logger.Debug("Resources regenerated", "deleted", deleted, "created", len(result.Resources))
		}

		refreshed, err = tx.UpdateRegionTimestamps(ctx, current.ID, now, staleAt)
		return err
	})
	if err != nil {
		metrics.RefreshesTotal.WithLabelValues(metrics.OutcomeRolledBack).Inc()
		if errors.Is(err, errors.ErrorTypeNotFound) {
			return nil, err
		}
		logger.Error("Region refresh rolled back", "error", err)
		return nil, errors.WrapTransaction(fmt.Sprintf("refresh of region %d rolled back", region.ID), err)
	}

	if s.invalidator != nil {
		s.invalidator.Invalidate(ctx, refreshed.CellIndex)
	}

	if regenerated {
		metrics.RefreshesTotal.WithLabelValues(metrics.OutcomeRegenerated).Inc()
		logger.Info("Region refreshed with new resources", "stale_at", refreshed.StaleAt)
	} else {
		metrics.RefreshesTotal.WithLabelValues(metrics.OutcomeTouched).Inc()
		logger.Debug("Region refreshed, resources still fresh")
	}
	return refreshed, nil
}

// RefreshByID refreshes the region with the given id. The row is reloaded
// under lock, so nothing but the id is needed.
func (s *Service) RefreshByID(ctx context.Context, id int) (*models.Region, error) {
	return s.Refresh(ctx, models.Region{ID: id})
}

// SweepSummary reports the outcome of a stale sweep
type SweepSummary struct {
	Refreshed []int          `json:"refreshed"`
	Failed    map[int]string `json:"failed,omitempty"`
}

// RefreshStale refreshes up to limit regions whose deadline has passed or
// that hold no resources. A failed region is recorded and the sweep continues.
func (s *Service) RefreshStale(ctx context.Context, limit int) (SweepSummary, error) {
	logger := s.logger.With("component", "resource_service", "operation", "refresh_stale", "limit", limit)

	summary := SweepSummary{Refreshed: []int{}, Failed: map[int]string{}}
	if limit <= 0 {
		return summary, errors.Validationf("stale sweep limit must be positive, got %d", limit)
	}

	regions, err := s.store.ListStaleRegions(ctx, s.now(), limit)
	if err != nil {
		return summary, err
	}
	logger.Info("Refreshing stale regions", "count", len(regions))

	for _, region := range regions {
		if err := ctx.Err(); err != nil {
			return summary, errors.WrapTimeout("stale sweep cancelled", err)
		}
		if _, err := s.Refresh(ctx, region); err != nil {
			summary.Failed[region.ID] = err.Error()
			continue
		}
		summary.Refreshed = append(summary.Refreshed, region.ID)
	}

	logger.Info("Stale sweep finished", "refreshed", len(summary.Refreshed), "failed", len(summary.Failed))
	return summary, nil
}
