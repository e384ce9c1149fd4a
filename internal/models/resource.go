package models

import (
	"time"
)

// Resource is a harvestable item placed in a fine grid cell inside a region
type Resource struct {
	ID                int       `json:"id"`
	Name              string    `json:"name"`
	RegionID          int       `json:"region_id"`
	CellIndex         string    `json:"cell_index"`
	QuantityInitial   int       `json:"quantity_initial"`
	QuantityRemaining int       `json:"quantity_remaining"`
	CreatedAt         time.Time `json:"created_at"`
}

type NewResource struct {
	Name              string
	RegionID          int
	CellIndex         string
	QuantityInitial   int
	QuantityRemaining int
}

// PopulateResult lists the resources a population pass created and the
// sampled cells whose creation failed.
type PopulateResult struct {
	Resources   []Resource `json:"resources"`
	FailedCells []string   `json:"failed_cells,omitempty"`
}
