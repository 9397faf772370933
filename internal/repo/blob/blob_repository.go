package blob

import (
	"context"

	"github.com/mkrupp/mediacache/internal/domain"
)

// Repository defines the interface for blob storage operations.
type Repository interface {
	// Exists checks if a blob with the given ID exists.
	Exists(ctx context.Context, id domain.BlobID) bool

	// Store persists a blob in the repository, replacing any blob with the same ID.
	// Readers never observe a partially written blob.
	Store(ctx context.Context, blob *domain.Blob) error

	// Fetch retrieves a blob by its ID.
	// Returns an error wrapping domain.ErrBlobNotFound if no such blob exists.
	Fetch(ctx context.Context, id domain.BlobID) (*domain.Blob, error)

	// Delete removes the blob with the given ID.
	// Deleting a missing blob is not an error.
	Delete(ctx context.Context, id domain.BlobID) error

	// List returns the IDs of all stored blobs in no particular order.
	List(ctx context.Context) ([]domain.BlobID, error)

	// Clear removes all blobs.
	Clear(ctx context.Context) error
}

// RepositoryFactory is a function that creates a new Repository instance.
// Parameters:
// - name: subdirectory name for the repository
// - ext: file extension for stored blobs
// Returns an error if initialization fails.
type RepositoryFactory func(
	ctx context.Context,
	name string,
	ext string,
) (Repository, error)
