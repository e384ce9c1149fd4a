package postgres

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"regions-server/internal/models"
	"regions-server/internal/shared/database"
	"regions-server/internal/shared/errors"
	"regions-server/internal/store"

	"github.com/lib/pq"
)

const regionColumns = `id, cell_index, created_at, last_refreshed_at, stale_at`

func scanRegion(row rowScanner) (*models.Region, error) {
	var region models.Region
	var lastRefreshedAt, staleAt sql.NullTime
	if err := row.Scan(&region.ID, &region.CellIndex, &region.CreatedAt, &lastRefreshedAt, &staleAt); err != nil {
		return nil, err
	}
	region.LastRefreshedAt = nullableTime(lastRefreshedAt)
	region.StaleAt = nullableTime(staleAt)
	return &region, nil
}

func (s *Store) GetRegionsByCells(ctx context.Context, cells []string) ([]models.Region, error) {
	if len(cells) == 0 {
		return []models.Region{}, nil
	}

	logger := s.logger.With(
		"component", "region_repository",
		"operation", "get_regions_by_cells",
		"count", len(cells),
	)
	logger.Debug("Getting regions by cell index")

	query := `SELECT ` + regionColumns + ` FROM regions WHERE cell_index = ANY($1) ORDER BY id`

	rows, err := s.getExecutor().QueryContext(ctx, query, pq.Array(cells))
	if err != nil {
		logger.Error("Failed to query regions", "error", err)
		return nil, database.Translate("failed to query regions", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			logger.Error("Failed to close rows", "error", err)
		}
	}()

	var regions []models.Region
	for rows.Next() {
		region, err := scanRegion(rows)
		if err != nil {
			logger.Error("Failed to scan region row", "error", err)
			return nil, database.Translate("failed to scan region", err)
		}
		regions = append(regions, *region)
	}

	if err := rows.Err(); err != nil {
		logger.Error("Error during rows iteration", "error", err)
		return nil, database.Translate("error iterating regions", err)
	}

	logger.Debug("Regions retrieved", "found", len(regions))
	return regions, nil
}

func (s *Store) GetRegionByCell(ctx context.Context, cell string) (*models.Region, error) {
	query := `SELECT ` + regionColumns + ` FROM regions WHERE cell_index = $1`

	region, err := scanRegion(s.getExecutor().QueryRowContext(ctx, query, cell))
	if err != nil {
		return nil, database.Translate("region for cell "+cell+" not found", err)
	}
	return region, nil
}

func (s *Store) GetRegionByID(ctx context.Context, id int) (*models.Region, error) {
	query := `SELECT ` + regionColumns + ` FROM regions WHERE id = $1`

	region, err := scanRegion(s.getExecutor().QueryRowContext(ctx, query, id))
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFoundf("region %d not found", id)
		}
		return nil, database.Translate("failed to get region", err)
	}
	return region, nil
}

func (s *Store) LockRegion(ctx context.Context, id int) (*models.Region, error) {
	query := `SELECT ` + regionColumns + ` FROM regions WHERE id = $1 FOR UPDATE`

	region, err := scanRegion(s.getExecutor().QueryRowContext(ctx, query, id))
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFoundf("region %d not found", id)
		}
		return nil, database.Translate("failed to lock region", err)
	}
	return region, nil
}

// InsertRegion relies on the unique cell_index constraint: when another
// writer already owns the cell nothing is inserted and a conflict is returned.
func (s *Store) InsertRegion(ctx context.Context, newRegion models.NewRegion) (*models.Region, error) {
	if err := store.ValidateNewRegion(newRegion); err != nil {
		return nil, err
	}

	logger := s.logger.With(
		"component", "region_repository",
		"operation", "insert_region",
		"cell_index", newRegion.CellIndex,
	)
	logger.Debug("Creating region")

	query := `
		INSERT INTO regions (cell_index, created_at, stale_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (cell_index) DO NOTHING
		RETURNING ` + regionColumns

	region, err := scanRegion(s.getExecutor().QueryRowContext(ctx, query, newRegion.CellIndex, newRegion.CreatedAt, newRegion.StaleAt))
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			logger.Debug("Region already exists for cell")
			return nil, errors.Conflictf("region for cell %s already exists", newRegion.CellIndex)
		}
		logger.Error("Failed to create region", "error", err)
		return nil, database.Translate("failed to create region", err)
	}

	logger.Debug("Region created successfully", "region_id", region.ID)
	return region, nil
}

func (s *Store) UpdateRegionTimestamps(ctx context.Context, id int, lastRefreshedAt time.Time, staleAt *time.Time) (*models.Region, error) {
	query := `
		UPDATE regions
		SET last_refreshed_at = $2, stale_at = COALESCE($3, stale_at)
		WHERE id = $1
		RETURNING ` + regionColumns

	var stale sql.NullTime
	if staleAt != nil {
		stale = sql.NullTime{Time: *staleAt, Valid: true}
	}

	region, err := scanRegion(s.getExecutor().QueryRowContext(ctx, query, id, lastRefreshedAt, stale))
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFoundf("region %d not found", id)
		}
		s.logger.Error("Failed to update region timestamps", "region_id", id, "error", err)
		return nil, database.Translate("failed to update region timestamps", err)
	}
	return region, nil
}

func (s *Store) ListStaleRegions(ctx context.Context, now time.Time, limit int) ([]models.Region, error) {
	logger := s.logger.With("component", "region_repository", "operation", "list_stale_regions", "limit", limit)

	query := `
		SELECT ` + regionColumns + `
		FROM regions
		WHERE stale_at IS NULL OR stale_at <= $1
			OR NOT EXISTS (SELECT 1 FROM resources WHERE resources.region_id = regions.id)
		ORDER BY id
		LIMIT $2`

	// LIMIT NULL is no limit
	maxRows := sql.NullInt64{Int64: int64(limit), Valid: limit > 0}

	rows, err := s.getExecutor().QueryContext(ctx, query, now, maxRows)
	if err != nil {
		logger.Error("Failed to query stale regions", "error", err)
		return nil, database.Translate("failed to query stale regions", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			logger.Error("Failed to close rows", "error", err)
		}
	}()

	var regions []models.Region
	for rows.Next() {
		region, err := scanRegion(rows)
		if err != nil {
			return nil, database.Translate("failed to scan region", err)
		}
		regions = append(regions, *region)
	}
	if err := rows.Err(); err != nil {
		return nil, database.Translate("error iterating stale regions", err)
	}

	logger.Debug("Stale regions retrieved", "count", len(regions))
	return regions, nil
}

func (s *Store) CountRegions(ctx context.Context) (int, error) {
	var count int
	if err := s.getExecutor().QueryRowContext(ctx, `SELECT COUNT(*) FROM regions`).Scan(&count); err != nil {
		return 0, database.Translate("failed to count regions", err)
	}
	return count, nil
}
