package resource

import (
	"math/rand/v2"
	"strings"

	"regions-server/internal/shared/errors"
)

// Catalog is the immutable list of names a resource can be given
type Catalog struct {
	names []string
}

func NewCatalog(names []string) (Catalog, error) {
	cleaned := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			return Catalog{}, errors.Validation("resource catalog contains an empty name")
		}
		cleaned = append(cleaned, name)
	}
	if len(cleaned) == 0 {
		return Catalog{}, errors.Validation("resource catalog is empty")
	}
	return Catalog{names: cleaned}, nil
}

// Names returns a copy of the catalog entries
func (c Catalog) Names() []string {
	return append([]string(nil), c.names...)
}

func (c Catalog) Len() int {
	return len(c.names)
}

func (c Catalog) Contains(name string) bool {
	for _, n := range c.names {
		if n == name {
			return true
		}
	}
	return false
}

func (c Catalog) pick(r *rand.Rand) string {
	return c.names[r.IntN(len(c.names))]
}
