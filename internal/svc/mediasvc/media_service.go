package mediasvc

import (
	"context"

	"github.com/mkrupp/mediacache/internal/domain"
)

// MediaService is the operation surface of the offline media cache.
// Application code depends on this interface only.
type MediaService interface {
	// Open opens the underlying store. Calling it is optional: every other
	// operation opens the store on first use.
	Open(ctx context.Context) error

	// Close releases the store. Every operation fails with
	// domain.ErrStorageUnavailable afterwards.
	Close() error

	// Save stores data as a new record and returns its id. The capacity
	// ceilings are enforced right after the insert; a save is never rejected
	// for being too large.
	Save(ctx context.Context, filename string, data []byte, opts ...SaveOption) (domain.MediaID, error)

	// Get returns the record with the given id, or (nil, false, nil) if there is none.
	Get(ctx context.Context, id domain.MediaID) (*domain.MediaRecord, bool, error)

	// GetAll returns all records, oldest first.
	GetAll(ctx context.Context) ([]*domain.MediaRecord, error)

	// GetUnuploaded returns all records not yet confirmed by remote storage, oldest first.
	GetUnuploaded(ctx context.Context) ([]*domain.MediaRecord, error)

	// List returns the metadata of all records, optionally filtered by upload status.
	List(ctx context.Context, uploaded *bool) ([]domain.MediaMeta, error)

	// MarkUploaded flags the record as uploaded to uploadURL.
	// Marking a missing record is a no-op.
	MarkUploaded(ctx context.Context, id domain.MediaID, uploadURL string) error

	// Delete removes the record. Deleting a missing record is a no-op.
	Delete(ctx context.Context, id domain.MediaID) error

	// Stats returns the current occupancy of the cache.
	Stats(ctx context.Context) (domain.CacheStats, error)

	// Cleanup enforces the capacity ceilings and returns the number of evicted records.
	Cleanup(ctx context.Context) (int, error)

	// Clear removes all records.
	Clear(ctx context.Context) error

	// SyncPending uploads every record pending at call time through upload.
	// Per-record failures are counted, never returned.
	SyncPending(ctx context.Context, upload domain.UploadFunc, onProgress domain.ProgressFunc) (domain.SyncResult, error)
}

// Compressor shrinks payloads before they are stored.
type Compressor interface {
	// Compress returns the compressed payload and its MIME type. Payloads it
	// cannot handle are reported with domain.ErrImageTypeNotSupported.
	Compress(ctx context.Context, data []byte, mimeType string) ([]byte, string, error)
}
