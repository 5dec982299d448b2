package evaluator

import (
	"fmt"
	"sync"
	"time"
)

var locations sync.Map

// LoadLocation resolves an IANA zone id, defaulting to UTC when empty.
// Resolved zones are cached for the life of the process.
func LoadLocation(id string) (*time.Location, error) {
	if id == "" || id == "UTC" {
		return time.UTC, nil
	}
	if loc, ok := locations.Load(id); ok {
		return loc.(*time.Location), nil
	}
	loc, err := time.LoadLocation(id)
	if err != nil {
		return nil, fmt.Errorf("failed to load time zone %q: %w", id, err)
	}
	locations.Store(id, loc)
	return loc, nil
}
