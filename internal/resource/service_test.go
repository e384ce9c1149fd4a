package resource

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"regions-server/internal/models"
	"regions-server/internal/shared/config"
	"regions-server/internal/shared/errors"
	"regions-server/internal/shared/logger"
	"regions-server/internal/spatial"
	"regions-server/internal/store"
	"regions-server/internal/store/memstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const regionCell = "89283082837ffff"

// faultyStore fails selected calls so rollback paths can be exercised
type faultyStore struct {
	store.Store
	mu           *sync.Mutex
	inserts      *int
	failInsertAt int
	failUpdate   bool
}

func newFaultyStore(inner store.Store) *faultyStore {
	return &faultyStore{Store: inner, mu: &sync.Mutex{}, inserts: new(int)}
}

func (f *faultyStore) InsertResource(ctx context.Context, r models.NewResource) (*models.Resource, error) {
	f.mu.Lock()
	*f.inserts++
	n := *f.inserts
	f.mu.Unlock()
	if n == f.failInsertAt {
		return nil, errors.WrapInternal("injected failure", fmt.Errorf("insert %d failed", n))
	}
	return f.Store.InsertResource(ctx, r)
}

func (f *faultyStore) UpdateRegionTimestamps(ctx context.Context, id int, last time.Time, staleAt *time.Time) (*models.Region, error) {
	if f.failUpdate {
		return nil, errors.WrapInternal("injected failure", fmt.Errorf("update failed"))
	}
	return f.Store.UpdateRegionTimestamps(ctx, id, last, staleAt)
}

func (f *faultyStore) WithTx(ctx context.Context, fn func(tx store.Store) error) error {
	return f.Store.WithTx(ctx, func(tx store.Store) error {
		return fn(&faultyStore{Store: tx, mu: f.mu, inserts: f.inserts, failInsertAt: f.failInsertAt, failUpdate: f.failUpdate})
	})
}

type recordingInvalidator struct {
	mu    sync.Mutex
	cells []string
}

func (r *recordingInvalidator) Invalidate(ctx context.Context, cells ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cells = append(r.cells, cells...)
}

type fixture struct {
	ctx     context.Context
	mem     *memstore.Store
	now     time.Time
	catalog Catalog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	catalog, err := NewCatalog(config.DefaultResourceNames)
	require.NoError(t, err)
	return &fixture{
		ctx:     context.Background(),
		mem:     memstore.New(logger.Discard()),
		now:     time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC),
		catalog: catalog,
	}
}

func (f *fixture) service(st store.Store, opts ...Option) *Service {
	settings := SettingsFromConfig(config.DefaultWorldConfig())
	opts = append([]Option{WithClock(func() time.Time { return f.now }), WithRand(rand.New(rand.NewPCG(1, 2)))}, opts...)
	return NewService(st, f.catalog, settings, logger.Discard(), opts...)
}

func (f *fixture) region(t *testing.T, cell string, createdAt time.Time) models.Region {
	t.Helper()
	region, err := f.mem.InsertRegion(f.ctx, models.NewRegion{
		CellIndex: cell,
		CreatedAt: createdAt,
		StaleAt:   createdAt.Add(72 * time.Hour),
	})
	require.NoError(t, err)
	return *region
}

func (f *fixture) resources(t *testing.T, regionID int) []models.Resource {
	t.Helper()
	resources, err := f.mem.ListResourcesByRegions(f.ctx, []int{regionID})
	require.NoError(t, err)
	return resources
}

func resourceIDs(resources []models.Resource) []int {
	ids := make([]int, len(resources))
	for i, r := range resources {
		ids[i] = r.ID
	}
	return ids
}

func TestPopulate(t *testing.T) {
	f := newFixture(t)
	svc := f.service(f.mem)
	region := f.region(t, regionCell, f.now)

	result, err := svc.Populate(f.ctx, region, 3, 11)
	require.NoError(t, err)
	require.Len(t, result.Resources, 3)
	assert.Empty(t, result.FailedCells)

	cells := map[string]bool{}
	for _, r := range result.Resources {
		assert.Equal(t, region.ID, r.RegionID)
		assert.True(t, spatial.IsDescendant(r.CellIndex, region.CellIndex), r.CellIndex)
		require.NoError(t, spatial.ValidateCell(r.CellIndex, 11))
		assert.Equal(t, 100, r.QuantityInitial)
		assert.Equal(t, 100, r.QuantityRemaining)
		assert.True(t, f.catalog.Contains(r.Name), r.Name)
		assert.False(t, cells[r.CellIndex], "cells are sampled without replacement")
		cells[r.CellIndex] = true
	}

	assert.Len(t, f.resources(t, region.ID), 3)
}

func TestPopulateClampsToChildCount(t *testing.T) {
	f := newFixture(t)
	svc := f.service(f.mem)
	region := f.region(t, regionCell, f.now)

	result, err := svc.Populate(f.ctx, region, 60, 11)
	require.NoError(t, err)
	assert.Len(t, result.Resources, 49)

	cells := map[string]bool{}
	for _, r := range result.Resources {
		cells[r.CellIndex] = true
	}
	assert.Len(t, cells, 49)
}

func TestPopulateToleratesFailedInserts(t *testing.T) {
	f := newFixture(t)
	faulty := newFaultyStore(f.mem)
	faulty.failInsertAt = 2
	svc := f.service(faulty)
	region := f.region(t, regionCell, f.now)

	result, err := svc.Populate(f.ctx, region, 3, 11)
	require.NoError(t, err)
	assert.Len(t, result.Resources, 2)
	require.Len(t, result.FailedCells, 1)
	assert.True(t, spatial.IsDescendant(result.FailedCells[0], regionCell))

	assert.Len(t, f.resources(t, region.ID), 2)
}

func TestPopulateRejectsInvalidRegionCell(t *testing.T) {
	f := newFixture(t)
	svc := f.service(f.mem)

	result, err := svc.Populate(f.ctx, models.Region{ID: 1, CellIndex: "abcd"}, 3, 11)
	assert.True(t, errors.Is(err, errors.ErrorTypeValidation))
	assert.Empty(t, result.Resources)
}

func TestPopulateZeroQuantity(t *testing.T) {
	f := newFixture(t)
	svc := f.service(f.mem)
	region := f.region(t, regionCell, f.now)

	result, err := svc.Populate(f.ctx, region, 0, 11)
	require.NoError(t, err)
	assert.Empty(t, result.Resources)
}

func TestSampleIsReproducibleWithSeed(t *testing.T) {
	f := newFixture(t)
	children, err := spatial.Children(regionCell, 11)
	require.NoError(t, err)

	a := f.service(f.mem).sample(children, 5)
	b := f.service(f.mem).sample(children, 5)
	assert.Equal(t, a, b)
}

func TestIsStale(t *testing.T) {
	f := newFixture(t)
	svc := f.service(f.mem)

	past := f.now.Add(-time.Minute)
	future := f.now.Add(time.Minute)
	exact := f.now

	assert.True(t, svc.IsStale(models.Region{}))
	assert.True(t, svc.IsStale(models.Region{StaleAt: &past}))
	assert.True(t, svc.IsStale(models.Region{StaleAt: &exact}))
	assert.False(t, svc.IsStale(models.Region{StaleAt: &future}))
}

func TestRefreshStaleRegionRegenerates(t *testing.T) {
	f := newFixture(t)
	inv := &recordingInvalidator{}
	svc := f.service(f.mem, WithCacheInvalidator(inv))

	region := f.region(t, regionCell, f.now.Add(-96*time.Hour))
	_, err := svc.Populate(f.ctx, region, 3, 11)
	require.NoError(t, err)
	before := resourceIDs(f.resources(t, region.ID))
	require.True(t, svc.IsStale(region))

	refreshed, err := svc.Refresh(f.ctx, region)
	require.NoError(t, err)

	after := resourceIDs(f.resources(t, region.ID))
	assert.Len(t, after, 3)
	for _, id := range after {
		assert.NotContains(t, before, id)
	}

	require.NotNil(t, refreshed.StaleAt)
	assert.WithinDuration(t, f.now.Add(72*time.Hour), *refreshed.StaleAt, time.Minute)
	require.NotNil(t, refreshed.LastRefreshedAt)
	assert.True(t, refreshed.LastRefreshedAt.Equal(f.now))
	assert.Equal(t, []string{regionCell}, inv.cells)
}

func TestRefreshFreshRegionOnlyStamps(t *testing.T) {
	f := newFixture(t)
	svc := f.service(f.mem)

	region := f.region(t, regionCell, f.now)
	_, err := svc.Populate(f.ctx, region, 3, 11)
	require.NoError(t, err)
	before := f.resources(t, region.ID)

	refreshed, err := svc.Refresh(f.ctx, region)
	require.NoError(t, err)

	assert.Equal(t, before, f.resources(t, region.ID))
	assert.True(t, refreshed.StaleAt.Equal(*region.StaleAt))
	require.NotNil(t, refreshed.LastRefreshedAt)
}

func TestRefreshEmptyRegionRegenerates(t *testing.T) {
	f := newFixture(t)
	svc := f.service(f.mem)
	region := f.region(t, regionCell, f.now)

	refreshed, err := svc.Refresh(f.ctx, region)
	require.NoError(t, err)
	assert.Len(t, f.resources(t, region.ID), 3)
	assert.WithinDuration(t, f.now.Add(72*time.Hour), *refreshed.StaleAt, time.Minute)
}

func TestRefreshIsAtomic(t *testing.T) {
	tests := []struct {
		name   string
		inject func(*faultyStore)
	}{
		{"insert fails mid population", func(fs *faultyStore) { fs.failInsertAt = 5 }},
		{"timestamp update fails", func(fs *faultyStore) { fs.failUpdate = true }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			region := f.region(t, regionCell, f.now.Add(-96*time.Hour))
			_, err := f.service(f.mem).Populate(f.ctx, region, 3, 11)
			require.NoError(t, err)

			beforeRegion, err := f.mem.GetRegionByID(f.ctx, region.ID)
			require.NoError(t, err)
			beforeResources := f.resources(t, region.ID)

			// inserts 1-3 were the initial population above on the plain store
			faulty := newFaultyStore(f.mem)
			*faulty.inserts = 3
			tt.inject(faulty)

			refreshed, err := f.service(faulty).Refresh(f.ctx, region)
			require.Error(t, err)
			assert.Nil(t, refreshed)
			assert.True(t, errors.Is(err, errors.ErrorTypeTransaction))

			afterRegion, err := f.mem.GetRegionByID(f.ctx, region.ID)
			require.NoError(t, err)
			assert.Equal(t, beforeRegion, afterRegion)
			assert.Equal(t, beforeResources, f.resources(t, region.ID))
		})
	}
}

func TestRefreshUnknownRegion(t *testing.T) {
	f := newFixture(t)
	svc := f.service(f.mem)

	_, err := svc.Refresh(f.ctx, models.Region{ID: 42, CellIndex: regionCell})
	assert.True(t, errors.Is(err, errors.ErrorTypeNotFound))
}

func TestRefreshStaleSweep(t *testing.T) {
	f := newFixture(t)
	svc := f.service(f.mem)

	stale := f.region(t, regionCell, f.now.Add(-96*time.Hour))
	fresh := f.region(t, "89283082833ffff", f.now)
	_, err := svc.PopulateDefault(f.ctx, fresh)
	require.NoError(t, err)
	freshResources := f.resources(t, fresh.ID)

	summary, err := svc.RefreshStale(f.ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []int{stale.ID}, summary.Refreshed)
	assert.Empty(t, summary.Failed)

	assert.Len(t, f.resources(t, stale.ID), 3)
	assert.Equal(t, freshResources, f.resources(t, fresh.ID))

	again, err := svc.RefreshStale(f.ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, again.Refreshed)
}

func TestRefreshStaleRepopulatesEmptyRegions(t *testing.T) {
	f := newFixture(t)
	svc := f.service(f.mem)

	empty := f.region(t, regionCell, f.now)

	summary, err := svc.RefreshStale(f.ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []int{empty.ID}, summary.Refreshed)
	assert.Len(t, f.resources(t, empty.ID), 3)

	reloaded, err := f.mem.GetRegionByID(f.ctx, empty.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.StaleAt.Equal(f.now.Add(72*time.Hour)))
}

func TestRefreshStaleRejectsNonPositiveLimit(t *testing.T) {
	f := newFixture(t)
	svc := f.service(f.mem)
	f.region(t, regionCell, f.now.Add(-96*time.Hour))

	for _, limit := range []int{0, -3} {
		summary, err := svc.RefreshStale(f.ctx, limit)
		assert.True(t, errors.Is(err, errors.ErrorTypeValidation), "limit %d: %v", limit, err)
		assert.Empty(t, summary.Refreshed)
	}
}

func TestPopulateNewToleratesFailedInsertsInTransaction(t *testing.T) {
	f := newFixture(t)
	faulty := newFaultyStore(f.mem)
	faulty.failInsertAt = 2
	svc := f.service(faulty)
	region := f.region(t, regionCell, f.now)

	var result models.PopulateResult
	err := faulty.WithTx(f.ctx, func(tx store.Store) error {
		var err error
		result, err = svc.PopulateNew(f.ctx, tx, region)
		return err
	})
	require.NoError(t, err)
	assert.Len(t, result.Resources, 2)
	require.Len(t, result.FailedCells, 1)

	assert.Len(t, f.resources(t, region.ID), 2)
}

func TestNewCatalog(t *testing.T) {
	_, err := NewCatalog(nil)
	assert.True(t, errors.Is(err, errors.ErrorTypeValidation))

	_, err = NewCatalog([]string{"Wood", " "})
	assert.True(t, errors.Is(err, errors.ErrorTypeValidation))

	catalog, err := NewCatalog([]string{" Wood ", "Stone"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Wood", "Stone"}, catalog.Names())

	names := catalog.Names()
	names[0] = "Gold"
	assert.Equal(t, "Wood", catalog.Names()[0], "catalog is immutable")
}
