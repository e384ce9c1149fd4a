package region

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"regions-server/internal/metrics"
	"regions-server/internal/models"
	"regions-server/internal/shared/config"
	"regions-server/internal/shared/errors"
	"regions-server/internal/spatial"
	"regions-server/internal/store"

	"github.com/avast/retry-go/v4"
	"golang.org/x/sync/errgroup"
)

// Populator seeds a region inserted in the open transaction tx with its
// initial resources
type Populator interface {
	PopulateNew(ctx context.Context, tx store.Store, region models.Region) (models.PopulateResult, error)
}

type Settings struct {
	RegionResolution int
	ResetInterval    time.Duration
	Concurrency      int
	// RefetchAttempts bounds the reads of a region that another creator won.
	RefetchAttempts uint
	RefetchDelay    time.Duration
}

func SettingsFromConfig(world config.WorldConfig) Settings {
	return Settings{
		RegionResolution: world.RegionResolution,
		ResetInterval:    world.ResetInterval,
		Concurrency:      world.CreateConcurrency,
		RefetchAttempts:  3,
		RefetchDelay:     20 * time.Millisecond,
	}
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithCache(cache Cache) Option {
	return func(s *Service) { s.cache = cache }
}

// Resolution is the outcome of resolving a set of cells
type Resolution struct {
	Regions map[string]models.Region
	// Created lists the cells whose region this call inserted, sorted.
	Created []string
}

type Service struct {
	store     store.Store
	populator Populator
	cache     Cache
	settings  Settings
	now       func() time.Time
	logger    *slog.Logger
}

func NewService(st store.Store, populator Populator, settings Settings, logger *slog.Logger, opts ...Option) *Service {
	if settings.Concurrency <= 0 {
		settings.Concurrency = 1
	}
	if settings.RefetchAttempts == 0 {
		settings.RefetchAttempts = 1
	}

	s := &Service{
		store:     st,
		populator: populator,
		cache:     NopCache{},
		settings:  settings,
		now:       time.Now,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ResolveOrCreate returns exactly one region per distinct input cell, creating
// and populating the regions that do not exist yet. It never returns a
// partial mapping.
func (s *Service) ResolveOrCreate(ctx context.Context, cells []string) (map[string]models.Region, error) {
	resolution, err := s.Resolve(ctx, cells)
	if err != nil {
		return nil, err
	}
	return resolution.Regions, nil
}

// Resolve is ResolveOrCreate that also reports which regions it created
func (s *Service) Resolve(ctx context.Context, cells []string) (*Resolution, error) {
	logger := s.logger.With(
		"component", "region_service",
		"operation", "resolve",
		"cell_count", len(cells),
	)

	unique := dedupe(cells)
	for _, cell := range unique {
		if err := spatial.ValidateCell(cell, s.settings.RegionResolution); err != nil {
			return nil, err
		}
	}

	resolution := &Resolution{
		Regions: make(map[string]models.Region, len(unique)),
		Created: []string{},
	}
	if len(unique) == 0 {
		return resolution, nil
	}

	for cell, region := range s.cache.GetMany(ctx, unique) {
		resolution.Regions[cell] = region
	}

	uncached := missingFrom(unique, resolution.Regions)
	if len(uncached) > 0 {
		existing, err := s.store.GetRegionsByCells(ctx, uncached)
		if err != nil {
			if ctx.Err() != nil {
				return nil, errors.WrapTimeout("region lookup timed out", ctx.Err())
			}
			logger.Error("Failed to load existing regions", "error", err)
			return nil, err
		}
		for _, region := range existing {
			resolution.Regions[region.CellIndex] = region
		}
		s.cache.SetMany(ctx, existing)
	}

	missing := missingFrom(unique, resolution.Regions)
	if len(missing) > 0 {
		logger.Debug("Creating missing regions", "missing", len(missing))

		created, err := s.createAll(ctx, missing)
		if err != nil {
			return nil, err
		}

		var fresh []models.Region
		for _, outcome := range created {
			if outcome.region == nil {
				continue
			}
			resolution.Regions[outcome.region.CellIndex] = *outcome.region
			fresh = append(fresh, *outcome.region)
			if outcome.inserted {
				resolution.Created = append(resolution.Created, outcome.region.CellIndex)
			}
		}
		sort.Strings(resolution.Created)
		s.cache.SetMany(ctx, fresh)
	}

	if len(resolution.Regions) != len(unique) {
		failed := missingFrom(unique, resolution.Regions)
		logger.Error("Region resolution incomplete", "resolved", len(resolution.Regions), "failed_cells", failed)
		return nil, errors.CountMismatchf("resolved %d of %d regions, unresolved cells: %s",
			len(resolution.Regions), len(unique), strings.Join(failed, ", "))
	}

	logger.Debug("Regions resolved", "regions", len(resolution.Regions), "created", len(resolution.Created))
	return resolution, nil
}

type createOutcome struct {
	region   *models.Region
	inserted bool
}

// createAll creates regions in parallel. A failed cell is left empty in the
// result; only an ended context aborts the batch.
func (s *Service) createAll(ctx context.Context, cells []string) ([]createOutcome, error) {
	outcomes := make([]createOutcome, len(cells))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.settings.Concurrency)
	for i, cell := range cells {
		g.Go(func() error {
			region, inserted, err := s.CreateRegion(gctx, cell)
			if err != nil {
				if gctx.Err() != nil {
					return err
				}
				metrics.RegionCreateFailuresTotal.Inc()
				s.logger.Warn("Failed to create region",
					"component", "region_service",
					"cell_index", cell,
					"error", err,
				)
				return nil
			}
			outcomes[i] = createOutcome{region: region, inserted: inserted}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, errors.WrapTimeout("region creation timed out", ctxErr)
		}
		return nil, err
	}
	return outcomes, nil
}

// CreateRegion inserts the region for cell and populates it in one
// transaction, so no other reader sees the region before its resources. When
// another creator inserted the cell first, the winner's region is returned
// with inserted set to false and nothing is populated.
func (s *Service) CreateRegion(ctx context.Context, cell string) (*models.Region, bool, error) {
	logger := s.logger.With(
		"component", "region_service",
		"operation", "create_region",
		"cell_index", cell,
	)

	if err := spatial.ValidateCell(cell, s.settings.RegionResolution); err != nil {
		return nil, false, err
	}

	var region *models.Region
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		now := s.now()
		inserted, err := tx.InsertRegion(ctx, models.NewRegion{
			CellIndex: cell,
			CreatedAt: now,
			StaleAt:   now.Add(s.settings.ResetInterval),
		})
		if err != nil {
			return err
		}

		result, err := s.populator.PopulateNew(ctx, tx, *inserted)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			// the region stands without resources; the stale sweep regenerates them
			logger.Warn("Failed to populate new region", "region_id", inserted.ID, "error", err)
		} else if len(result.FailedCells) > 0 {
			logger.Warn("New region partially populated",
				"region_id", inserted.ID,
				"created", len(result.Resources),
				"failed_cells", result.FailedCells,
			)
		}

		region = inserted
		return nil
	})
	if err != nil {
		if !errors.Is(err, errors.ErrorTypeConflict) {
			return nil, false, err
		}
		metrics.RegionCreateConflictsTotal.Inc()
		logger.Debug("Region created concurrently, loading winner")
		winner, err := s.refetch(ctx, cell)
		if err != nil {
			return nil, false, err
		}
		return winner, false, nil
	}

	metrics.RegionsCreatedTotal.Inc()
	logger.Info("Region created", "region_id", region.ID)
	return region, true, nil
}

func (s *Service) refetch(ctx context.Context, cell string) (*models.Region, error) {
	var winner *models.Region
	err := retry.Do(
		func() error {
			region, err := s.store.GetRegionByCell(ctx, cell)
			if err != nil {
				return err
			}
			winner = region
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(s.settings.RefetchAttempts),
		retry.Delay(s.settings.RefetchDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, errors.ErrorTypeNotFound)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load region for %s after conflict: %w", cell, err)
	}
	return winner, nil
}

// GetRegion returns a region with its current resources
func (s *Service) GetRegion(ctx context.Context, id int) (*models.RegionWithResources, error) {
	region, err := s.store.GetRegionByID(ctx, id)
	if err != nil {
		return nil, err
	}

	resources, err := s.store.ListResourcesByRegions(ctx, []int{region.ID})
	if err != nil {
		return nil, err
	}
	if resources == nil {
		resources = []models.Resource{}
	}

	return &models.RegionWithResources{Region: *region, Resources: resources}, nil
}

func dedupe(cells []string) []string {
	seen := make(map[string]bool, len(cells))
	unique := make([]string, 0, len(cells))
	for _, cell := range cells {
		if seen[cell] {
			continue
		}
		seen[cell] = true
		unique = append(unique, cell)
	}
	return unique
}

func missingFrom(cells []string, found map[string]models.Region) []string {
	var missing []string
	for _, cell := range cells {
		if _, ok := found[cell]; !ok {
			missing = append(missing, cell)
		}
	}
	return missing
}
