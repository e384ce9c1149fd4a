package models

import "time"

// Coordinate is a WGS84 latitude/longitude pair in degrees
type Coordinate struct {
	Lat float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lng float64 `json:"lng" validate:"gte=-180,lte=180"`
}

type ScannedResource struct {
	Resource
	DistanceFromUser float64 `json:"distance_from_user"`
	UserCanInteract  bool    `json:"user_can_interact"`
}

// ScanResult is the ephemeral outcome of one scan and is never persisted
type ScanResult struct {
	ScanID         string            `json:"scan_id"`
	Coordinate     Coordinate        `json:"coordinate"`
	CellIndex      string            `json:"cell_index"`
	Regions        []Region          `json:"regions"`
	Resources      []ScannedResource `json:"resources"`
	RegionsCreated int               `json:"regions_created"`
	ScannedAt      time.Time         `json:"scanned_at"`
}
