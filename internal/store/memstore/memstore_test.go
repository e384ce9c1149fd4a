package memstore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"regions-server/internal/models"
	"regions-server/internal/shared/errors"
	"regions-server/internal/shared/logger"
	"regions-server/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	regionCell   = "89283082837ffff"
	resourceCell = "8b283082834bfff"
)

func newRegion(cell string, now time.Time) models.NewRegion {
	return models.NewRegion{CellIndex: cell, CreatedAt: now, StaleAt: now.Add(72 * time.Hour)}
}

func TestInsertRegionUniqueCell(t *testing.T) {
	ctx := context.Background()
	s := New(logger.Discard())
	now := time.Now()

	created, err := s.InsertRegion(ctx, newRegion(regionCell, now))
	require.NoError(t, err)
	assert.Equal(t, 1, created.ID)
	require.NotNil(t, created.StaleAt)
	assert.Nil(t, created.LastRefreshedAt)

	_, err = s.InsertRegion(ctx, newRegion(regionCell, now))
	assert.True(t, errors.Is(err, errors.ErrorTypeConflict))

	count, err := s.CountRegions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestConcurrentInsertRegionSingleWinner(t *testing.T) {
	ctx := context.Background()
	s := New(logger.Discard())
	now := time.Now()

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, conflicts := 0, 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.InsertRegion(ctx, newRegion(regionCell, now))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
			} else if errors.Is(err, errors.ErrorTypeConflict) {
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, 15, conflicts)
}

func TestInsertRegionValidation(t *testing.T) {
	ctx := context.Background()
	s := New(logger.Discard())

	_, err := s.InsertRegion(ctx, newRegion("abcd", time.Now()))
	assert.True(t, errors.Is(err, errors.ErrorTypeValidation))

	count, err := s.CountRegions(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestInsertResourceValidation(t *testing.T) {
	ctx := context.Background()
	s := New(logger.Discard())
	region, err := s.InsertRegion(ctx, newRegion(regionCell, time.Now()))
	require.NoError(t, err)

	_, err = s.InsertResource(ctx, models.NewResource{Name: "Wood", RegionID: region.ID, CellIndex: resourceCell, QuantityInitial: 100, QuantityRemaining: 101})
	assert.True(t, errors.Is(err, errors.ErrorTypeValidation))

	_, err = s.InsertResource(ctx, models.NewResource{Name: "Wood", RegionID: 99, CellIndex: resourceCell, QuantityInitial: 100, QuantityRemaining: 100})
	assert.True(t, errors.Is(err, errors.ErrorTypeNotFound))

	res, err := s.InsertResource(ctx, models.NewResource{Name: "Wood", RegionID: region.ID, CellIndex: resourceCell, QuantityInitial: 100, QuantityRemaining: 100})
	require.NoError(t, err)
	assert.Equal(t, region.ID, res.RegionID)
}

func TestWithTxRollback(t *testing.T) {
	ctx := context.Background()
	s := New(logger.Discard())
	region, err := s.InsertRegion(ctx, newRegion(regionCell, time.Now()))
	require.NoError(t, err)
	_, err = s.InsertResource(ctx, models.NewResource{Name: "Stone", RegionID: region.ID, CellIndex: resourceCell, QuantityInitial: 100, QuantityRemaining: 100})
	require.NoError(t, err)

	boom := fmt.Errorf("boom")
	err = s.WithTx(ctx, func(tx store.Store) error {
		assert.False(t, tx.Concurrent())
		deleted, err := tx.DeleteResourcesByRegion(ctx, region.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, deleted)
		_, err = tx.UpdateRegionTimestamps(ctx, region.ID, time.Now(), nil)
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	resources, err := s.ListResourcesByRegions(ctx, []int{region.ID})
	require.NoError(t, err)
	assert.Len(t, resources, 1)

	reloaded, err := s.GetRegionByID(ctx, region.ID)
	require.NoError(t, err)
	assert.Nil(t, reloaded.LastRefreshedAt)
}

func TestWithTxCommit(t *testing.T) {
	ctx := context.Background()
	s := New(logger.Discard())
	region, err := s.InsertRegion(ctx, newRegion(regionCell, time.Now()))
	require.NoError(t, err)

	err = s.WithTx(ctx, func(tx store.Store) error {
		_, err := tx.InsertResource(ctx, models.NewResource{Name: "Clay", RegionID: region.ID, CellIndex: resourceCell, QuantityInitial: 100, QuantityRemaining: 100})
		if err != nil {
			return err
		}
		// nested transactions join the outer one
		return tx.WithTx(ctx, func(inner store.Store) error {
			_, err := inner.UpdateRegionTimestamps(ctx, region.ID, time.Now(), nil)
			return err
		})
	})
	require.NoError(t, err)

	count, err := s.CountResourcesByRegion(ctx, region.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	reloaded, err := s.GetRegionByID(ctx, region.ID)
	require.NoError(t, err)
	assert.NotNil(t, reloaded.LastRefreshedAt)
}

func TestListStaleRegions(t *testing.T) {
	ctx := context.Background()
	s := New(logger.Discard())
	now := time.Now()

	past := now.Add(-96 * time.Hour)
	stale, err := s.InsertRegion(ctx, models.NewRegion{CellIndex: regionCell, CreatedAt: past, StaleAt: past.Add(72 * time.Hour)})
	require.NoError(t, err)
	stocked, err := s.InsertRegion(ctx, newRegion("89283082833ffff", now))
	require.NoError(t, err)
	_, err = s.InsertResource(ctx, models.NewResource{Name: "Wood", RegionID: stocked.ID, CellIndex: resourceCell, QuantityInitial: 100, QuantityRemaining: 100})
	require.NoError(t, err)

	regions, err := s.ListStaleRegions(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, regions, 1)
	assert.Equal(t, stale.ID, regions[0].ID)
}

func TestListStaleRegionsIncludesEmptyRegions(t *testing.T) {
	ctx := context.Background()
	s := New(logger.Discard())
	now := time.Now()

	empty, err := s.InsertRegion(ctx, newRegion(regionCell, now))
	require.NoError(t, err)
	second, err := s.InsertRegion(ctx, newRegion("89283082833ffff", now))
	require.NoError(t, err)

	for _, limit := range []int{0, -1, 5} {
		regions, err := s.ListStaleRegions(ctx, now, limit)
		require.NoError(t, err)
		require.Len(t, regions, 2, "limit %d", limit)
		assert.Equal(t, empty.ID, regions[0].ID)
		assert.Equal(t, second.ID, regions[1].ID)
	}

	regions, err := s.ListStaleRegions(ctx, now, 1)
	require.NoError(t, err)
	require.Len(t, regions, 1)
	assert.Equal(t, empty.ID, regions[0].ID)
}

func TestReturnedRegionsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := New(logger.Discard())
	region, err := s.InsertRegion(ctx, newRegion(regionCell, time.Now()))
	require.NoError(t, err)

	*region.StaleAt = time.Time{}

	reloaded, err := s.GetRegionByCell(ctx, regionCell)
	require.NoError(t, err)
	assert.False(t, reloaded.StaleAt.IsZero())
}
