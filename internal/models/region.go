package models

import "time"

// Region is the persisted record of one grid cell at the region resolution
type Region struct {
	ID              int        `json:"id"`
	CellIndex       string     `json:"cell_index"`
	CreatedAt       time.Time  `json:"created_at"`
	LastRefreshedAt *time.Time `json:"last_refreshed_at"`
	StaleAt         *time.Time `json:"stale_at"`
}

// NewRegion carries the values of a region about to be inserted
type NewRegion struct {
	CellIndex string
	CreatedAt time.Time
	StaleAt   time.Time
}

// RegionWithResources is a region together with the resources it owns
type RegionWithResources struct {
	Region
	Resources []Resource `json:"resources"`
}
