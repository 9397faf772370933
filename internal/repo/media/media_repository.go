package media

import (
	"context"

	"github.com/mkrupp/mediacache/internal/domain"
)

// Filter narrows metadata listings. The zero value matches every record.
type Filter struct {
	// Uploaded, if set, only matches records with the given upload status.
	Uploaded *bool
}

// UploadStatus returns a Filter matching records with the given upload status.
func UploadStatus(uploaded bool) Filter {
	return Filter{Uploaded: &uploaded}
}

// Repository defines the durable store for media records.
//
// Operations on the same id are serialized: a Put, Update or Delete of a record
// completes before the next operation on that id begins. Operations on distinct
// ids may run concurrently. Listings are ordered by timestamp, oldest first.
type Repository interface {
	// Put inserts a new record. The payload and the metadata are written such
	// that either the full record exists afterwards or nothing does.
	// Returns an error wrapping domain.ErrDuplicateKey if the id is taken.
	Put(ctx context.Context, record *domain.MediaRecord) error

	// Get returns the record with the given id.
	// A missing id is reported as (nil, false, nil), never as an error.
	Get(ctx context.Context, id domain.MediaID) (*domain.MediaRecord, bool, error)

	// GetAll returns all records.
	GetAll(ctx context.Context) ([]*domain.MediaRecord, error)

	// GetByUploadStatus returns all records whose upload flag equals uploaded.
	GetByUploadStatus(ctx context.Context, uploaded bool) ([]*domain.MediaRecord, error)

	// ListMeta returns the metadata of all records matching filter, without payloads.
	ListMeta(ctx context.Context, filter Filter) ([]domain.MediaMeta, error)

	// Update stores the upload status of meta.ID. Only Uploaded and UploadURL are
	// mutable, and Uploaded may only change from false to true. Returns an error
	// wrapping domain.ErrMediaNotFound or domain.ErrUploadFlagRegression.
	Update(ctx context.Context, meta domain.MediaMeta) error

	// Delete removes the record with the given id. Deleting a missing id is not an error.
	Delete(ctx context.Context, id domain.MediaID) error

	// Clear removes all records.
	Clear(ctx context.Context) error

	// Stats aggregates total payload size and entry count over all records.
	// LastCleanup is left zero.
	Stats(ctx context.Context) (domain.CacheStats, error)

	// SaveStats persists a stats snapshot next to the records.
	SaveStats(ctx context.Context, stats domain.CacheStats) error

	// LoadStats returns the last persisted stats snapshot, if any.
	LoadStats(ctx context.Context) (domain.CacheStats, bool, error)

	// Close releases the underlying resources.
	Close() error
}

// RepositoryFactory is a function that creates and opens a new Repository instance.
type RepositoryFactory func(ctx context.Context) (Repository, error)
