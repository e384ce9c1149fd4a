package scan

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"regions-server/internal/metrics"
	"regions-server/internal/models"
	"regions-server/internal/region"
	"regions-server/internal/shared/config"
	"regions-server/internal/shared/errors"
	"regions-server/internal/spatial"
	"regions-server/internal/store"

	"github.com/google/uuid"
)

// RegionResolver maps cells to their regions, creating the missing ones
type RegionResolver interface {
	Resolve(ctx context.Context, cells []string) (*region.Resolution, error)
}

type Settings struct {
	RegionResolution   int
	RingDistance       int
	InteractionRadiusM float64
	Timeout            time.Duration
}

func SettingsFromConfig(world config.WorldConfig) Settings {
	return Settings{
		RegionResolution:   world.RegionResolution,
		RingDistance:       world.ScanRingDistance,
		InteractionRadiusM: world.InteractionRadiusM,
		Timeout:            world.ScanTimeout,
	}
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

type Service struct {
	resolver  RegionResolver
	resources store.ResourceRepository
	settings  Settings
	now       func() time.Time
	newID     func() string
	logger    *slog.Logger
}

func NewService(resolver RegionResolver, resources store.ResourceRepository, settings Settings, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		resolver:  resolver,
		resources: resources,
		settings:  settings,
		now:       time.Now,
		newID:     uuid.NewString,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scan resolves the regions around a coordinate, creating the ones nobody
// has scanned yet, and reports every resource in them with its distance from
// the caller. Stale regions are reported as they are.
func (s *Service) Scan(ctx context.Context, coord models.Coordinate) (*models.ScanResult, error) {
	started := time.Now()
	scanID := s.newID()
	logger := s.logger.With(
		"component", "scan_service",
		"operation", "scan",
		"scan_id", scanID,
	)

	result, err := s.scan(ctx, scanID, coord, logger)
	metrics.ScanDurationMs.Observe(float64(time.Since(started).Milliseconds()))

	switch {
	case err == nil:
		metrics.ScansTotal.WithLabelValues(metrics.OutcomeOK).Inc()
	case errors.Is(err, errors.ErrorTypeTimeout):
		metrics.ScansTotal.WithLabelValues(metrics.OutcomeTimeout).Inc()
		logger.Warn("Scan timed out", "error", err)
	default:
		metrics.ScansTotal.WithLabelValues(metrics.OutcomeError).Inc()
		logger.Error("Scan failed", "error", err)
	}
	return result, err
}

func (s *Service) scan(ctx context.Context, scanID string, coord models.Coordinate, logger *slog.Logger) (*models.ScanResult, error) {
	center, err := spatial.CellForCoordinate(coord, s.settings.RegionResolution)
	if err != nil {
		return nil, err
	}

	cells, err := spatial.Neighborhood(center, s.settings.RingDistance)
	if err != nil {
		return nil, err
	}
	logger.Debug("Scanning neighborhood", "cell_index", center, "cells", len(cells))

	if s.settings.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.settings.Timeout)
		defer cancel()
	}

	resolution, err := s.resolver.Resolve(ctx, cells)
	if err != nil {
		return nil, timeoutOr(ctx, "scan timed out resolving regions", err)
	}

	regions := make([]models.Region, 0, len(cells))
	ids := make([]int, 0, len(cells))
	for _, cell := range cells {
		r := resolution.Regions[cell]
		regions = append(regions, r)
		ids = append(ids, r.ID)
	}

	resources, err := s.resources.ListResourcesByRegions(ctx, ids)
	if err != nil {
		return nil, timeoutOr(ctx, "scan timed out loading resources", err)
	}

	scanned, err := s.measure(coord, resources)
	if err != nil {
		return nil, err
	}

	logger.Info("Scan completed",
		"cell_index", center,
		"regions", len(regions),
		"regions_created", len(resolution.Created),
		"resources", len(scanned),
	)

	return &models.ScanResult{
		ScanID:         scanID,
		Coordinate:     coord,
		CellIndex:      center,
		Regions:        regions,
		Resources:      scanned,
		RegionsCreated: len(resolution.Created),
		ScannedAt:      s.now(),
	}, nil
}

// measure attaches the distance to each resource's cell centre, nearest first
func (s *Service) measure(from models.Coordinate, resources []models.Resource) ([]models.ScannedResource, error) {
	scanned := make([]models.ScannedResource, 0, len(resources))
	for _, r := range resources {
		at, err := spatial.CellCenter(r.CellIndex)
		if err != nil {
			return nil, err
		}
		distance := spatial.DistanceMeters(from, at)
		scanned = append(scanned, models.ScannedResource{
			Resource:         r,
			DistanceFromUser: distance,
			UserCanInteract:  distance <= s.settings.InteractionRadiusM,
		})
	}

	sort.SliceStable(scanned, func(i, j int) bool {
		if scanned[i].DistanceFromUser != scanned[j].DistanceFromUser {
			return scanned[i].DistanceFromUser < scanned[j].DistanceFromUser
		}
		return scanned[i].ID < scanned[j].ID
	})
	return scanned, nil
}

func timeoutOr(ctx context.Context, message string, err error) error {
	if errors.Is(err, errors.ErrorTypeTimeout) {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return errors.WrapTimeout(message, ctxErr)
	}
	return err
}
