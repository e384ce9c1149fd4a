// Package store defines the persistence contract the region and resource
// services run against. Implementations translate driver failures into the
// application error taxonomy before returning.
package store

import (
	"context"
	"time"

	"regions-server/internal/models"
	"regions-server/internal/shared/errors"
	"regions-server/internal/spatial"
)

type RegionRepository interface {
	GetRegionsByCells(ctx context.Context, cells []string) ([]models.Region, error)
	GetRegionByCell(ctx context.Context, cell string) (*models.Region, error)
	GetRegionByID(ctx context.Context, id int) (*models.Region, error)
	// LockRegion loads a region and holds it against concurrent refreshes
	// until the surrounding transaction ends.
	LockRegion(ctx context.Context, id int) (*models.Region, error)
	// InsertRegion returns a conflict error when the cell already has a region.
	InsertRegion(ctx context.Context, region models.NewRegion) (*models.Region, error)
	UpdateRegionTimestamps(ctx context.Context, id int, lastRefreshedAt time.Time, staleAt *time.Time) (*models.Region, error)
	// ListStaleRegions returns regions whose deadline is not after now or that
	// hold no resources, by id. A limit <= 0 returns them all.
	ListStaleRegions(ctx context.Context, now time.Time, limit int) ([]models.Region, error)
	CountRegions(ctx context.Context) (int, error)
}

type ResourceRepository interface {
	InsertResource(ctx context.Context, resource models.NewResource) (*models.Resource, error)
	ListResourcesByRegions(ctx context.Context, regionIDs []int) ([]models.Resource, error)
	CountResourcesByRegion(ctx context.Context, regionID int) (int, error)
	DeleteResourcesByRegion(ctx context.Context, regionID int) (int, error)
}

// Store is the full persistence surface. WithTx runs fn against a Store
// bound to one transaction: every write fn makes commits together or not at
// all. Calling WithTx on a transactional Store reuses the open transaction.
type Store interface {
	RegionRepository
	ResourceRepository
	WithTx(ctx context.Context, fn func(tx Store) error) error
	// Concurrent reports whether the Store may be used from several
	// goroutines at once. Transaction-bound stores are not.
	Concurrent() bool
}

// ValidateNewRegion checks a region before it is inserted
func ValidateNewRegion(region models.NewRegion) error {
	if !spatial.IsValid(region.CellIndex) {
		return errors.Validationf("invalid region cell index %q", region.CellIndex)
	}
	if region.CreatedAt.IsZero() {
		return errors.Validation("region created_at is required")
	}
	if region.StaleAt.Before(region.CreatedAt) {
		return errors.Validation("region stale_at must not precede created_at")
	}
	return nil
}

// ValidateNewResource checks a resource before it is inserted
func ValidateNewResource(resource models.NewResource) error {
	if resource.Name == "" {
		return errors.Validation("resource name is required")
	}
	if resource.RegionID <= 0 {
		return errors.Validationf("invalid region id %d", resource.RegionID)
	}
	if !spatial.IsValid(resource.CellIndex) {
		return errors.Validationf("invalid resource cell index %q", resource.CellIndex)
	}
	if resource.QuantityInitial < 0 || resource.QuantityRemaining < 0 || resource.QuantityRemaining > resource.QuantityInitial {
		return errors.Validationf("resource quantity %d/%d violates 0 <= remaining <= initial",
			resource.QuantityRemaining, resource.QuantityInitial)
	}
	return nil
}
