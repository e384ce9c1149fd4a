package postgres_test

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"testing"
	"time"

	"regions-server/internal/models"
	"regions-server/internal/region"
	"regions-server/internal/resource"
	"regions-server/internal/shared/config"
	"regions-server/internal/shared/database"
	"regions-server/internal/shared/errors"
	"regions-server/internal/shared/logger"
	"regions-server/internal/spatial"
	"regions-server/internal/store"
	"regions-server/internal/store/postgres"
	"regions-server/migrations"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const regionCell = "89283082837ffff"

// openStore connects to TEST_DATABASE_URL, applies the schema and empties
// the tables. Tests using it are skipped when the variable is unset.
func openStore(t *testing.T) *postgres.Store {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	sqlDB, err := sql.Open("postgres", url)
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db := &database.DB{DB: sqlDB}
	require.NoError(t, db.RunMigrations(ctx, migrations.FS))
	_, err = db.ExecContext(ctx, `TRUNCATE resources, regions RESTART IDENTITY CASCADE`)
	require.NoError(t, err)

	return postgres.New(db, logger.Discard())
}

func newRegion(cell string) models.NewRegion {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return models.NewRegion{CellIndex: cell, CreatedAt: now, StaleAt: now.Add(72 * time.Hour)}
}

func TestInsertRegionConflict(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	created, err := s.InsertRegion(ctx, newRegion(regionCell))
	require.NoError(t, err)
	assert.Nil(t, created.LastRefreshedAt)

	_, err = s.InsertRegion(ctx, newRegion(regionCell))
	assert.True(t, errors.Is(err, errors.ErrorTypeConflict))

	found, err := s.GetRegionByCell(ctx, regionCell)
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)

	_, err = s.GetRegionByID(ctx, created.ID+100)
	assert.True(t, errors.Is(err, errors.ErrorTypeNotFound))
}

func TestInsertResourceForMissingRegion(t *testing.T) {
	s := openStore(t)

	_, err := s.InsertResource(context.Background(), models.NewResource{
		Name: "Wood", RegionID: 999, CellIndex: "8b283082834bfff", QuantityInitial: 100, QuantityRemaining: 100,
	})
	assert.True(t, errors.Is(err, errors.ErrorTypeNotFound), "got %v", err)
}

func TestWithTxRollsBack(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	created, err := s.InsertRegion(ctx, newRegion(regionCell))
	require.NoError(t, err)

	err = s.WithTx(ctx, func(tx store.Store) error {
		assert.False(t, tx.Concurrent())
		if _, err := tx.InsertResource(ctx, models.NewResource{
			Name: "Wood", RegionID: created.ID, CellIndex: "8b283082834bfff", QuantityInitial: 100, QuantityRemaining: 100,
		}); err != nil {
			return err
		}
		return errors.Conflictf("forced rollback")
	})
	require.Error(t, err)

	count, err := s.CountResourcesByRegion(ctx, created.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestFailedInsertKeepsTransactionUsable(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	created, err := s.InsertRegion(ctx, newRegion(regionCell))
	require.NoError(t, err)

	err = s.WithTx(ctx, func(tx store.Store) error {
		_, err := tx.InsertResource(ctx, models.NewResource{
			Name: "Wood", RegionID: created.ID + 100, CellIndex: "8b283082834bfff", QuantityInitial: 100, QuantityRemaining: 100,
		})
		assert.True(t, errors.Is(err, errors.ErrorTypeNotFound), "got %v", err)

		_, err = tx.InsertResource(ctx, models.NewResource{
			Name: "Stone", RegionID: created.ID, CellIndex: "8b283082834bfff", QuantityInitial: 100, QuantityRemaining: 100,
		})
		return err
	})
	require.NoError(t, err)

	count, err := s.CountResourcesByRegion(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestListStaleRegionsIncludesEmptyRegions(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	empty, err := s.InsertRegion(ctx, newRegion(regionCell))
	require.NoError(t, err)
	stocked, err := s.InsertRegion(ctx, newRegion("89283082833ffff"))
	require.NoError(t, err)
	_, err = s.InsertResource(ctx, models.NewResource{
		Name: "Wood", RegionID: stocked.ID, CellIndex: "8b283082834bfff", QuantityInitial: 100, QuantityRemaining: 100,
	})
	require.NoError(t, err)

	for _, limit := range []int{0, 10} {
		listed, err := s.ListStaleRegions(ctx, time.Now(), limit)
		require.NoError(t, err)
		require.Len(t, listed, 1, "limit %d", limit)
		assert.Equal(t, empty.ID, listed[0].ID)
	}
}

func TestConcurrentResolutionAgainstPostgres(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	world := config.DefaultWorldConfig()

	catalog, err := resource.NewCatalog(world.ResourceNames)
	require.NoError(t, err)
	lifecycle := resource.NewService(s, catalog, resource.SettingsFromConfig(world), logger.Discard())
	regions := region.NewService(s, lifecycle, region.SettingsFromConfig(world), logger.Discard())

	cells, err := spatial.Neighborhood(regionCell, 1)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	populated := make([]int, 4)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resolved, err := regions.ResolveOrCreate(ctx, cells)
			if err != nil {
				errs[i] = err
				return
			}
			ids := make([]int, 0, len(resolved))
			for _, r := range resolved {
				ids = append(ids, r.ID)
			}
			resources, err := s.ListResourcesByRegions(ctx, ids)
			errs[i] = err
			populated[i] = len(resources)
		}()
	}
	wg.Wait()
	for i, err := range errs {
		require.NoError(t, err)
		assert.Equal(t, 21, populated[i], "caller %d saw unpopulated regions", i)
	}

	count, err := s.CountRegions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, count)

	resolved, err := regions.ResolveOrCreate(ctx, cells)
	require.NoError(t, err)
	ids := make([]int, 0, len(resolved))
	for _, r := range resolved {
		ids = append(ids, r.ID)
	}
	resources, err := s.ListResourcesByRegions(ctx, ids)
	require.NoError(t, err)
	assert.Len(t, resources, 21)
}

func TestRefreshRegeneratesInOneTransaction(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	world := config.DefaultWorldConfig()

	past := time.Now().Add(-96 * time.Hour).UTC()
	stale, err := s.InsertRegion(ctx, models.NewRegion{CellIndex: regionCell, CreatedAt: past, StaleAt: past.Add(72 * time.Hour)})
	require.NoError(t, err)

	catalog, err := resource.NewCatalog(world.ResourceNames)
	require.NoError(t, err)
	lifecycle := resource.NewService(s, catalog, resource.SettingsFromConfig(world), logger.Discard())

	refreshed, err := lifecycle.Refresh(ctx, *stale)
	require.NoError(t, err)
	require.NotNil(t, refreshed.LastRefreshedAt)
	assert.True(t, refreshed.StaleAt.After(time.Now()))

	count, err := s.CountResourcesByRegion(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	listed, err := s.ListStaleRegions(ctx, time.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, listed)
}
