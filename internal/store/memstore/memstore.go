// Package memstore is an in-memory implementation of store.Store. Transactions
// work on a copy of the state that replaces the live state on commit, so a
// failed transaction leaves nothing behind.
package memstore

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"regions-server/internal/models"
	"regions-server/internal/shared/errors"
	"regions-server/internal/store"
)

type state struct {
	nextRegionID   int
	nextResourceID int
	regions        map[int]models.Region
	regionsByCell  map[string]int
	resources      map[int]models.Resource
}

func newState() *state {
	return &state{
		nextRegionID:   1,
		nextResourceID: 1,
		regions:        make(map[int]models.Region),
		regionsByCell:  make(map[string]int),
		resources:      make(map[int]models.Resource),
	}
}

func (s *state) clone() *state {
	c := &state{
		nextRegionID:   s.nextRegionID,
		nextResourceID: s.nextResourceID,
		regions:        make(map[int]models.Region, len(s.regions)),
		regionsByCell:  make(map[string]int, len(s.regionsByCell)),
		resources:      make(map[int]models.Resource, len(s.resources)),
	}
	for id, r := range s.regions {
		c.regions[id] = copyRegion(r)
	}
	for cell, id := range s.regionsByCell {
		c.regionsByCell[cell] = id
	}
	for id, r := range s.resources {
		c.resources[id] = r
	}
	return c
}

type root struct {
	mu    sync.Mutex
	state *state
	now   func() time.Time
}

type txState struct {
	mu    sync.Mutex
	state *state
}

type Store struct {
	root   *root
	tx     *txState
	logger *slog.Logger
}

var _ store.Store = (*Store)(nil)

func New(logger *slog.Logger) *Store {
	logger.Debug("Initializing in-memory store")
	return &Store{
		root:   &root{state: newState(), now: time.Now},
		logger: logger,
	}
}

func (s *Store) view(fn func(st *state) error) error {
	if s.tx != nil {
		s.tx.mu.Lock()
		defer s.tx.mu.Unlock()
		return fn(s.tx.state)
	}
	s.root.mu.Lock()
	defer s.root.mu.Unlock()
	return fn(s.root.state)
}

func (s *Store) Concurrent() bool {
	return s.tx == nil
}

func (s *Store) WithTx(ctx context.Context, fn func(tx store.Store) error) error {
	if s.tx != nil {
		return fn(s)
	}

	s.root.mu.Lock()
	defer s.root.mu.Unlock()

	txStore := &Store{
		root:   s.root,
		tx:     &txState{state: s.root.state.clone()},
		logger: s.logger,
	}

	if err := fn(txStore); err != nil {
		s.logger.Debug("Transaction rolled back", "error", err)
		return err
	}
	if err := ctx.Err(); err != nil {
		return errors.WrapTimeout("transaction context ended before commit", err)
	}

	s.root.state = txStore.tx.state
	return nil
}

func copyRegion(r models.Region) models.Region {
	if r.LastRefreshedAt != nil {
		t := *r.LastRefreshedAt
		r.LastRefreshedAt = &t
	}
	if r.StaleAt != nil {
		t := *r.StaleAt
		r.StaleAt = &t
	}
	return r
}

func (s *Store) GetRegionsByCells(ctx context.Context, cells []string) ([]models.Region, error) {
	var regions []models.Region
	err := s.view(func(st *state) error {
		seen := make(map[int]bool, len(cells))
		for _, cell := range cells {
			id, ok := st.regionsByCell[cell]
			if !ok || seen[id] {
				continue
			}
			seen[id] = true
			regions = append(regions, copyRegion(st.regions[id]))
		}
		return nil
	})
	sort.Slice(regions, func(i, j int) bool { return regions[i].ID < regions[j].ID })
	return regions, err
}

func (s *Store) GetRegionByCell(ctx context.Context, cell string) (*models.Region, error) {
	var region models.Region
	err := s.view(func(st *state) error {
		id, ok := st.regionsByCell[cell]
		if !ok {
			return errors.NotFoundf("region for cell %s not found", cell)
		}
		region = copyRegion(st.regions[id])
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &region, nil
}

func (s *Store) GetRegionByID(ctx context.Context, id int) (*models.Region, error) {
	var region models.Region
	err := s.view(func(st *state) error {
		r, ok := st.regions[id]
		if !ok {
			return errors.NotFoundf("region %d not found", id)
		}
		region = copyRegion(r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &region, nil
}

// LockRegion is GetRegionByID: transactions already hold the store-wide lock.
func (s *Store) LockRegion(ctx context.Context, id int) (*models.Region, error) {
	return s.GetRegionByID(ctx, id)
}

func (s *Store) InsertRegion(ctx context.Context, region models.NewRegion) (*models.Region, error) {
	if err := store.ValidateNewRegion(region); err != nil {
		return nil, err
	}

	var created models.Region
	err := s.view(func(st *state) error {
		if _, exists := st.regionsByCell[region.CellIndex]; exists {
			return errors.Conflictf("region for cell %s already exists", region.CellIndex)
		}
		staleAt := region.StaleAt
		created = models.Region{
			ID:        st.nextRegionID,
			CellIndex: region.CellIndex,
			CreatedAt: region.CreatedAt,
			StaleAt:   &staleAt,
		}
		st.nextRegionID++
		st.regions[created.ID] = created
		st.regionsByCell[created.CellIndex] = created.ID
		created = copyRegion(created)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

func (s *Store) UpdateRegionTimestamps(ctx context.Context, id int, lastRefreshedAt time.Time, staleAt *time.Time) (*models.Region, error) {
	var updated models.Region
	err := s.view(func(st *state) error {
		r, ok := st.regions[id]
		if !ok {
			return errors.NotFoundf("region %d not found", id)
		}
		refreshed := lastRefreshedAt
		r.LastRefreshedAt = &refreshed
		if staleAt != nil {
			next := *staleAt
			r.StaleAt = &next
		}
		st.regions[id] = r
		updated = copyRegion(r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (s *Store) ListStaleRegions(ctx context.Context, now time.Time, limit int) ([]models.Region, error) {
	var regions []models.Region
	err := s.view(func(st *state) error {
		stocked := make(map[int]bool, len(st.regions))
		for _, res := range st.resources {
			stocked[res.RegionID] = true
		}
		for _, r := range st.regions {
			if r.StaleAt == nil || !now.Before(*r.StaleAt) || !stocked[r.ID] {
				regions = append(regions, copyRegion(r))
			}
		}
		return nil
	})
	sort.Slice(regions, func(i, j int) bool { return regions[i].ID < regions[j].ID })
	if limit > 0 && len(regions) > limit {
		regions = regions[:limit]
	}
	return regions, err
}

func (s *Store) CountRegions(ctx context.Context) (int, error) {
	var count int
	err := s.view(func(st *state) error {
		count = len(st.regions)
		return nil
	})
	return count, err
}

func (s *Store) InsertResource(ctx context.Context, resource models.NewResource) (*models.Resource, error) {
	if err := store.ValidateNewResource(resource); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.WrapTimeout("insert resource cancelled", err)
	}

	var created models.Resource
	err := s.view(func(st *state) error {
		if _, ok := st.regions[resource.RegionID]; !ok {
			return errors.NotFoundf("region %d not found", resource.RegionID)
		}
		created = models.Resource{
			ID:                st.nextResourceID,
			Name:              resource.Name,
			RegionID:          resource.RegionID,
			CellIndex:         resource.CellIndex,
			QuantityInitial:   resource.QuantityInitial,
			QuantityRemaining: resource.QuantityRemaining,
			CreatedAt:         s.root.now(),
		}
		st.nextResourceID++
		st.resources[created.ID] = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

func (s *Store) ListResourcesByRegions(ctx context.Context, regionIDs []int) ([]models.Resource, error) {
	wanted := make(map[int]bool, len(regionIDs))
	for _, id := range regionIDs {
		wanted[id] = true
	}

	var resources []models.Resource
	err := s.view(func(st *state) error {
		for _, r := range st.resources {
			if wanted[r.RegionID] {
				resources = append(resources, r)
			}
		}
		return nil
	})
	sort.Slice(resources, func(i, j int) bool {
		if resources[i].RegionID != resources[j].RegionID {
			return resources[i].RegionID < resources[j].RegionID
		}
		return resources[i].ID < resources[j].ID
	})
	return resources, err
}

func (s *Store) CountResourcesByRegion(ctx context.Context, regionID int) (int, error) {
	var count int
	err := s.view(func(st *state) error {
		for _, r := range st.resources {
			if r.RegionID == regionID {
				count++
			}
		}
		return nil
	})
	return count, err
}

func (s *Store) DeleteResourcesByRegion(ctx context.Context, regionID int) (int, error) {
	var deleted int
	err := s.view(func(st *state) error {
		if _, ok := st.regions[regionID]; !ok {
			return errors.NotFoundf("region %d not found", regionID)
		}
		for id, r := range st.resources {
			if r.RegionID == regionID {
				delete(st.resources, id)
				deleted++
			}
		}
		return nil
	})
	return deleted, err
}
