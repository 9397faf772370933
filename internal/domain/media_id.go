package domain

import (
	"errors"

	"github.com/google/uuid"
)

// ErrNoMediaID is returned when a media ID is required but not provided.
var ErrNoMediaID = errors.New("no media ID")

// MediaID is an alias for BlobID used to identify media records.
// A record's payload is stored under the same id in blob storage.
type MediaID = BlobID

// NewMediaID returns a fresh, time-ordered media id (UUIDv7).
// Ids are never reused, including after the record has been deleted.
func NewMediaID() MediaID {
	return MediaID(uuid.Must(uuid.NewV7()).String())
}
