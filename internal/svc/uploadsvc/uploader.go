package uploadsvc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mkrupp/mediacache/internal/domain"
)

// Uploader backends.
const (
	BackendNone  = "none"
	BackendMinIO = "minio"
	BackendHTTP  = "http"
)

// ErrUnknownBackend is returned for an unsupported uploader backend.
var ErrUnknownBackend = errors.New("unknown uploader backend")

// Uploader pushes payloads to remote storage.
type Uploader interface {
	// Upload stores data under filename and returns the URL it can be fetched from.
	// Uploading the same filename again must be safe.
	Upload(ctx context.Context, data []byte, filename string) (string, error)
}

// UploaderConfig selects and configures the remote storage backend.
type UploaderConfig struct {
	// Backend is one of "none", "minio" or "http"
	Backend string `env:"BACKEND" default:"none"`

	MinIO MinIOUploaderConfig `envPrefix:"MINIO_"`
	HTTP  HTTPUploaderConfig  `envPrefix:"HTTP_"`
}

// NewUploader creates the Uploader selected by cfg.
// For the "none" backend it returns a nil Uploader.
func NewUploader(ctx context.Context, cfg UploaderConfig) (Uploader, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", BackendNone:
		return nil, nil //nolint:nilnil
	case BackendMinIO:
		uploader, err := NewMinIOUploader(ctx, cfg.MinIO)
		if err != nil {
			return nil, fmt.Errorf("new minio uploader: %w", err)
		}

		return uploader, nil
	case BackendHTTP:
		return NewHTTPUploader(cfg.HTTP, nil), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}

// UploadFunc adapts uploader to the upload capability of the media cache.
// A nil uploader yields a nil function.
func UploadFunc(uploader Uploader) domain.UploadFunc {
	if uploader == nil {
		return nil
	}

	return uploader.Upload
}
