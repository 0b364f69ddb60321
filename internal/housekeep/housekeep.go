// Package housekeep implements the prebuild housekeeper (spec §4.10):
// a retention policy over the prebuild cache directory, run exactly
// once at scope exit.
package housekeep

import (
	"time"

	"github.com/scidev/fab/internal/prebuild"
)

// Policy is the housekeeping configuration spec §6 names: an empty
// OlderThan means "delete everything this run did not access"; a
// non-zero OlderThan means "delete by age regardless of access"
// (spec §4.10).
type Policy struct {
	OlderThan time.Duration
}

// Run sweeps the cache according to p, returning the count of entries
// deleted.
func Run(cache *prebuild.Cache, p Policy) (int, error) {
	keep := cache.Accessed()
	return cache.Sweep(keep, p.OlderThan)
}
