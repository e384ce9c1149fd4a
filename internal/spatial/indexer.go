// Package spatial converts coordinates to hexagonal grid cells and walks the
// grid's adjacency and parent/child relationships. It keeps no state.
package spatial

import (
	"sort"
	"strconv"
	"sync"

	"regions-server/internal/models"
	"regions-server/internal/shared/errors"

	"github.com/go-playground/validator/v10"
	"github.com/uber/h3-go/v4"
)

const (
	MinResolution = 0
	MaxResolution = 15
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func coordinateValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ValidateCoordinate rejects latitudes outside [-90, 90] and longitudes outside [-180, 180]
func ValidateCoordinate(coord models.Coordinate) error {
	if err := coordinateValidator().Struct(coord); err != nil {
		return errors.WrapValidation("coordinate out of range", err)
	}
	return nil
}

func validateResolution(resolution int) error {
	if resolution < MinResolution || resolution > MaxResolution {
		return errors.Validationf("resolution %d outside [%d, %d]", resolution, MinResolution, MaxResolution)
	}
	return nil
}

// CellForCoordinate returns the cell containing the coordinate at the given resolution
func CellForCoordinate(coord models.Coordinate, resolution int) (string, error) {
	if err := ValidateCoordinate(coord); err != nil {
		return "", err
	}
	if err := validateResolution(resolution); err != nil {
		return "", err
	}

	cell, err := h3.LatLngToCell(h3.NewLatLng(coord.Lat, coord.Lng), resolution)
	if err != nil {
		return "", errors.WrapValidation("coordinate cannot be indexed", err)
	}
	return cell.String(), nil
}

// IsValid reports whether s is the canonical string form of a valid cell
func IsValid(s string) bool {
	_, ok := parseCell(s)
	return ok
}

func parseCell(s string) (h3.Cell, bool) {
	if s == "" || len(s) > 16 {
		return 0, false
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, false
	}
	cell := h3.Cell(v)
	if !cell.IsValid() || cell.String() != s {
		return 0, false
	}
	return cell, true
}

func cellFromString(s string) (h3.Cell, error) {
	cell, ok := parseCell(s)
	if !ok {
		return 0, errors.Validationf("invalid cell index %q", s)
	}
	return cell, nil
}

// ValidateCell checks that s is a valid cell at exactly the given resolution
func ValidateCell(s string, resolution int) error {
	cell, err := cellFromString(s)
	if err != nil {
		return err
	}
	if cell.Resolution() != resolution {
		return errors.Validationf("cell %s has resolution %d, expected %d", s, cell.Resolution(), resolution)
	}
	return nil
}

// Resolution returns the resolution encoded in a cell
func Resolution(s string) (int, error) {
	cell, err := cellFromString(s)
	if err != nil {
		return 0, err
	}
	return cell.Resolution(), nil
}

// Neighborhood returns the cell and every cell within ringDistance hops,
// without duplicates, centre first.
func Neighborhood(s string, ringDistance int) ([]string, error) {
	cell, err := cellFromString(s)
	if err != nil {
		return nil, err
	}
	if ringDistance < 0 {
		return nil, errors.Validationf("ring distance %d must not be negative", ringDistance)
	}

	disk, err := h3.GridDisk(cell, ringDistance)
	if err != nil {
		return nil, errors.WrapValidation("cannot compute neighborhood", err)
	}

	cells := make([]string, 0, len(disk))
	seen := make(map[h3.Cell]struct{}, len(disk))
	cells = append(cells, cell.String())
	seen[cell] = struct{}{}
	for _, c := range disk {
		if c == 0 {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		cells = append(cells, c.String())
	}
	return cells, nil
}

// Children returns every cell at finerResolution nested in s, sorted so the
// order is stable across calls.
func Children(s string, finerResolution int) ([]string, error) {
	cell, err := cellFromString(s)
	if err != nil {
		return nil, err
	}
	if err := validateResolution(finerResolution); err != nil {
		return nil, err
	}
	if finerResolution < cell.Resolution() {
		return nil, errors.Validationf("resolution %d is coarser than cell %s", finerResolution, s)
	}

	children, err := cell.Children(finerResolution)
	if err != nil {
		return nil, errors.WrapValidation("cannot compute children", err)
	}

	out := make([]string, len(children))
	for i, c := range children {
		out[i] = c.String()
	}
	sort.Strings(out)
	return out, nil
}

// IsDescendant reports whether child is a valid cell nested inside parent
func IsDescendant(child, parent string) bool {
	c, ok := parseCell(child)
	if !ok {
		return false
	}
	p, ok := parseCell(parent)
	if !ok {
		return false
	}
	if c.Resolution() < p.Resolution() {
		return false
	}
	ancestor, err := c.Parent(p.Resolution())
	if err != nil {
		return false
	}
	return ancestor == p
}

// CellCenter returns the centroid of a cell
func CellCenter(s string) (models.Coordinate, error) {
	cell, err := cellFromString(s)
	if err != nil {
		return models.Coordinate{}, err
	}
	ll, err := h3.CellToLatLng(cell)
	if err != nil {
		return models.Coordinate{}, errors.WrapValidation("cannot compute cell center", err)
	}
	return models.Coordinate{Lat: ll.Lat, Lng: ll.Lng}, nil
}

// DistanceMeters is the great-circle distance between two coordinates
func DistanceMeters(a, b models.Coordinate) float64 {
	return h3.GreatCircleDistanceM(h3.NewLatLng(a.Lat, a.Lng), h3.NewLatLng(b.Lat, b.Lng))
}
