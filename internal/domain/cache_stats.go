package domain

import (
	"errors"
	"time"
)

// ErrStorageUnavailable is returned when the durable store cannot be opened,
// or when it is used after having been closed.
var ErrStorageUnavailable = errors.New("storage unavailable")

// CacheStats summarizes the occupancy of the cache.
// The values are derived from the stored records and are never authoritative on their own.
type CacheStats struct {
	TotalSize   int64     `json:"totalSize"`
	EntryCount  int       `json:"entryCount"`
	LastCleanup time.Time `json:"lastCleanup"`
}
