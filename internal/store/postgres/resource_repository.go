package postgres

import (
	"context"

	"regions-server/internal/models"
	"regions-server/internal/shared/database"
	"regions-server/internal/store"

	"github.com/lib/pq"
)

const resourceColumns = `id, name, region_id, cell_index, quantity_initial, quantity_remaining, created_at`

func scanResource(row rowScanner) (*models.Resource, error) {
	var resource models.Resource
	err := row.Scan(
		&resource.ID,
		&resource.Name,
		&resource.RegionID,
		&resource.CellIndex,
		&resource.QuantityInitial,
		&resource.QuantityRemaining,
		&resource.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &resource, nil
}

func (s *Store) InsertResource(ctx context.Context, newResource models.NewResource) (*models.Resource, error) {
	if err := store.ValidateNewResource(newResource); err != nil {
		return nil, err
	}

	logger := s.logger.With(
		"component", "resource_repository",
		"operation", "insert_resource",
		"region_id", newResource.RegionID,
		"cell_index", newResource.CellIndex,
	)

	query := `
		INSERT INTO resources (name, region_id, cell_index, quantity_initial, quantity_remaining)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + resourceColumns

	var resource *models.Resource
	err := s.withSavepoint(ctx, "insert_resource", func() error {
		var err error
		resource, err = scanResource(s.getExecutor().QueryRowContext(ctx, query,
			newResource.Name,
			newResource.RegionID,
			newResource.CellIndex,
			newResource.QuantityInitial,
			newResource.QuantityRemaining,
		))
		return err
	})
	if err != nil {
		logger.Error("Failed to create resource", "error", err)
		return nil, database.Translate("failed to create resource", err)
	}

	logger.Debug("Resource created successfully", "resource_id", resource.ID, "name", resource.Name)
	return resource, nil
}

func (s *Store) ListResourcesByRegions(ctx context.Context, regionIDs []int) ([]models.Resource, error) {
	if len(regionIDs) == 0 {
		return []models.Resource{}, nil
	}

	logger := s.logger.With(
		"component", "resource_repository",
		"operation", "list_resources_by_regions",
		"regions", len(regionIDs),
	)

	ids := make(pq.Int64Array, len(regionIDs))
	for i, id := range regionIDs {
		ids[i] = int64(id)
	}

	query := `SELECT ` + resourceColumns + ` FROM resources WHERE region_id = ANY($1) ORDER BY region_id, id`

	rows, err := s.getExecutor().QueryContext(ctx, query, ids)
	if err != nil {
		logger.Error("Failed to query resources", "error", err)
		return nil, database.Translate("failed to query resources", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			logger.Error("Failed to close rows", "error", err)
		}
	}()

	var resources []models.Resource
	for rows.Next() {
		resource, err := scanResource(rows)
		if err != nil {
			logger.Error("Failed to scan resource row", "error", err)
			return nil, database.Translate("failed to scan resource", err)
		}
		resources = append(resources, *resource)
	}

	if err := rows.Err(); err != nil {
		logger.Error("Error during rows iteration", "error", err)
		return nil, database.Translate("error iterating resources", err)
	}

	logger.Debug("Resources retrieved", "count", len(resources))
	return resources, nil
}

func (s *Store) CountResourcesByRegion(ctx context.Context, regionID int) (int, error) {
	var count int
	err := s.getExecutor().QueryRowContext(ctx, `SELECT COUNT(*) FROM resources WHERE region_id = $1`, regionID).Scan(&count)
	if err != nil {
		return 0, database.Translate("failed to count resources", err)
	}
	return count, nil
}

func (s *Store) DeleteResourcesByRegion(ctx context.Context, regionID int) (int, error) {
	logger := s.logger.With("component", "resource_repository", "operation", "delete_resources_by_region", "region_id", regionID)

	result, err := s.getExecutor().ExecContext(ctx, `DELETE FROM resources WHERE region_id = $1`, regionID)
	if err != nil {
		logger.Error("Failed to delete resources", "error", err)
		return 0, database.Translate("failed to delete resources", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, database.Translate("failed to read deleted resource count", err)
	}

	logger.Debug("Resources deleted", "count", deleted)
	return int(deleted), nil
}
