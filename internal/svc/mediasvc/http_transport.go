package mediasvc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/mkrupp/mediacache/internal/domain"
	"github.com/mkrupp/mediacache/internal/infra/logging"
	http_ "github.com/mkrupp/mediacache/internal/infra/transport/http"
)

// HTTPTransportConfig contains configuration parameters for the HTTP transport layer.
type HTTPTransportConfig struct {
	http_.HTTPTransportConfig

	// MultipartFileName is the form field name for captured media.
	// Default is "upload".
	MultipartFileName string `env:"MULTIPART_FILE_NAME" default:"upload"`

	// URLFileIDParam is the URL parameter name for media IDs.
	// Default is "media_id".
	URLFileIDParam string `env:"URL_FILE_ID_PARAM" default:"media_id"`

	// URLUploadedParam is the query parameter filtering listings by upload status.
	// Default is "uploaded".
	URLUploadedParam string `env:"URL_UPLOADED_PARAM" default:"uploaded"`

	// ContentDispositionDownload controls whether payloads are served with download headers.
	// Default is false.
	ContentDispositionDownload bool `env:"CONTENT_DISPOSITION_DOWNLOAD" default:"false"`

	// MultipartFormMaxMemory is the maximum allowed memory for multipart form uploads.
	// Default is 10MB.
	MultipartFormMaxMemory int64 `env:"MULTIPART_FORM_MAX_SIZE" default:"10485760"`
}

var (
	ErrNoMultipartFiles = errors.New("no multipart files")
	ErrSyncDisabled     = errors.New("sync disabled")
)

// SavedMedia is the response entry for a captured file.
type SavedMedia struct {
	ID       domain.MediaID `json:"id"`
	Filename string         `json:"filename"`
}

// CleanupResult is the response of a cleanup request.
type CleanupResult struct {
	Evicted int `json:"evicted"`
}

// HTTPTransport exposes a MediaService over HTTP.
type HTTPTransport struct {
	svc    MediaService
	upload domain.UploadFunc
	log    logging.Logger
	cfg    HTTPTransportConfig
	mux    *http.ServeMux
}

var _ http_.HTTPTransport = (*HTTPTransport)(nil)

// NewHTTPTransport creates a new HTTPTransport for svc.
// Sync requests push pending media through upload; if upload is nil they are rejected.
func NewHTTPTransport(svc MediaService, upload domain.UploadFunc, cfg HTTPTransportConfig) *HTTPTransport {
	ht := &HTTPTransport{
		svc:    svc,
		upload: upload,
		log:    logging.GetLogger("svc.mediasvc.http_transport"),
		cfg:    cfg,
		mux:    http.NewServeMux(),
	}

	ht.mux.HandleFunc("POST /media", ht.HandleSave)
	ht.mux.HandleFunc("GET /media", ht.HandleList)
	ht.mux.HandleFunc(fmt.Sprintf("GET /media/{%s}", cfg.URLFileIDParam), ht.HandleDownload)
	ht.mux.HandleFunc(fmt.Sprintf("DELETE /media/{%s}", cfg.URLFileIDParam), ht.HandleDelete)
	ht.mux.HandleFunc("GET /stats", ht.HandleStats)
	ht.mux.HandleFunc("POST /cleanup", ht.HandleCleanup)
	ht.mux.HandleFunc("POST /sync", ht.HandleSync)

	return ht
}

// ServeHTTP implements http.Handler and dispatches to the media cache endpoints:
// - POST /media: capture media from a multipart form
// - GET /media: list metadata, optionally filtered by upload status
// - GET /media/{media-id}: download a payload
// - DELETE /media/{media-id}: delete a record
// - GET /stats, POST /cleanup, POST /sync: cache maintenance.
func (ht *HTTPTransport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ht.mux.ServeHTTP(w, r)
}

// HandleSave stores every file of a multipart form.
func (ht *HTTPTransport) HandleSave(w http.ResponseWriter, r *http.Request) {
	_ = ht.handleSave(w, r)
}

func (ht *HTTPTransport) handleSave(w http.ResponseWriter, r *http.Request) (err error) {
	log := ht.log.With(logging.Group("http", "method", r.Method, "url", r.URL.String()))

	defer func(ctx context.Context) {
		if err != nil {
			log.ErrorContext(ctx, "media save failed", "error", err)
		} else {
			log.DebugContext(ctx, "media saved")
		}
	}(r.Context())

	if err := r.ParseMultipartForm(ht.cfg.MultipartFormMaxMemory); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)

		return fmt.Errorf("parse multipart form: %w", err)
	}

	var files []*multipart.FileHeader
	if r.MultipartForm != nil {
		files = r.MultipartForm.File[ht.cfg.MultipartFileName]
	}

	if len(files) == 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)

		return ErrNoMultipartFiles
	}

	saved := make([]SavedMedia, 0, len(files))

	for _, fileHeader := range files {
		id, err := ht.saveFile(r.Context(), fileHeader)
		if err != nil {
			writeError(w, err)

			return fmt.Errorf("save %s: %w", fileHeader.Filename, err)
		}

		saved = append(saved, SavedMedia{ID: id, Filename: fileHeader.Filename})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)

	if err := json.NewEncoder(w).Encode(saved); err != nil {
		return fmt.Errorf("encode response: %w", err)
	}

	return nil
}

func (ht *HTTPTransport) saveFile(ctx context.Context, fileHeader *multipart.FileHeader) (domain.MediaID, error) {
	file, err := fileHeader.Open()
	if err != nil {
		return "", fmt.Errorf("open: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return "", fmt.Errorf("read: %w", err)
	}

	var opts []SaveOption
	if ctype := fileHeader.Header.Get("Content-Type"); ctype != "" && ctype != defaultMIMEType {
		opts = append(opts, WithMIMEType(ctype))
	}

	return ht.svc.Save(ctx, fileHeader.Filename, data, opts...) //nolint:wrapcheck
}

// HandleList returns the metadata of the cached media.
func (ht *HTTPTransport) HandleList(w http.ResponseWriter, r *http.Request) {
	_ = ht.handleList(w, r)
}

func (ht *HTTPTransport) handleList(w http.ResponseWriter, r *http.Request) (err error) {
	log := ht.log.With(logging.Group("http", "method", r.Method, "url", r.URL.String()))

	defer func(ctx context.Context) {
		if err != nil {
			log.ErrorContext(ctx, "media list failed", "error", err)
		}
	}(r.Context())

	var uploaded *bool

	if value := r.URL.Query().Get(ht.cfg.URLUploadedParam); value != "" {
		b, err := strconv.ParseBool(value)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)

			return fmt.Errorf("parse %s: %w", ht.cfg.URLUploadedParam, err)
		}

		uploaded = &b
	}

	metas, err := ht.svc.List(r.Context(), uploaded)
	if err != nil {
		writeError(w, err)

		return fmt.Errorf("list: %w", err)
	}

	return writeJSON(w, metas)
}

// HandleDownload writes the payload of a record.
func (ht *HTTPTransport) HandleDownload(w http.ResponseWriter, r *http.Request) {
	_ = ht.handleDownload(w, r)
}

func (ht *HTTPTransport) handleDownload(w http.ResponseWriter, r *http.Request) (err error) {
	log := ht.log.With(logging.Group("http", "method", r.Method, "url", r.URL.String()))

	defer func(ctx context.Context) {
		if err != nil {
			log.ErrorContext(ctx, "media download failed", "error", err)
		} else {
			log.DebugContext(ctx, "media downloaded")
		}
	}(r.Context())

	mediaID := domain.MediaID(r.PathValue(ht.cfg.URLFileIDParam))
	if mediaID == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)

		return domain.ErrNoMediaID
	}

	record, ok, err := ht.svc.Get(r.Context(), mediaID)
	if err != nil {
		writeError(w, err)

		return fmt.Errorf("get: %w", err)
	} else if !ok {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)

		return fmt.Errorf("%w: %s", domain.ErrMediaNotFound, mediaID)
	}

	if ht.cfg.ContentDispositionDownload {
		w.Header().Set("Content-Disposition", "attachment; filename="+strconv.Quote(record.Meta.Filename))
	}

	w.Header().Set("Content-Type", record.Meta.MIMEType)
	http.ServeContent(w, r, record.Meta.Filename, record.Meta.Timestamp, record.Reader())

	return nil
}

// HandleDelete deletes a record. Deleting a missing record succeeds.
func (ht *HTTPTransport) HandleDelete(w http.ResponseWriter, r *http.Request) {
	_ = ht.handleDelete(w, r)
}

func (ht *HTTPTransport) handleDelete(w http.ResponseWriter, r *http.Request) (err error) {
	log := ht.log.With(logging.Group("http", "method", r.Method, "url", r.URL.String()))

	defer func(ctx context.Context) {
		if err != nil {
			log.ErrorContext(ctx, "media delete failed", "error", err)
		} else {
			log.DebugContext(ctx, "media deleted")
		}
	}(r.Context())

	mediaID := domain.MediaID(r.PathValue(ht.cfg.URLFileIDParam))
	if mediaID == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)

		return domain.ErrNoMediaID
	}

	if err := ht.svc.Delete(r.Context(), mediaID); err != nil {
		writeError(w, err)

		return fmt.Errorf("delete: %w", err)
	}

	w.WriteHeader(http.StatusNoContent)

	return nil
}

// HandleStats returns the cache occupancy.
func (ht *HTTPTransport) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := ht.svc.Stats(r.Context())
	if err != nil {
		ht.log.ErrorContext(r.Context(), "stats failed", "error", err)
		writeError(w, err)

		return
	}

	_ = writeJSON(w, stats)
}

// HandleCleanup enforces the capacity ceilings.
func (ht *HTTPTransport) HandleCleanup(w http.ResponseWriter, r *http.Request) {
	evicted, err := ht.svc.Cleanup(r.Context())
	if err != nil {
		ht.log.ErrorContext(r.Context(), "cleanup failed", "error", err)
		writeError(w, err)

		return
	}

	_ = writeJSON(w, CleanupResult{Evicted: evicted})
}

// HandleSync runs a sync pass and returns its result.
func (ht *HTTPTransport) HandleSync(w http.ResponseWriter, r *http.Request) {
	_ = ht.handleSync(w, r)
}

func (ht *HTTPTransport) handleSync(w http.ResponseWriter, r *http.Request) (err error) {
	log := ht.log.With(logging.Group("http", "method", r.Method, "url", r.URL.String()))

	defer func(ctx context.Context) {
		if err != nil {
			log.ErrorContext(ctx, "sync failed", "error", err)
		}
	}(r.Context())

	if ht.upload == nil {
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)

		return ErrSyncDisabled
	}

	result, err := ht.svc.SyncPending(r.Context(), ht.upload, nil)
	if err != nil {
		writeError(w, err)

		return fmt.Errorf("sync pending: %w", err)
	}

	return writeJSON(w, result)
}

func writeJSON(w http.ResponseWriter, v any) error {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(v); err != nil {
		return fmt.Errorf("encode response: %w", err)
	}

	return nil
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, domain.ErrStorageUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrMediaNotFound), errors.Is(err, domain.ErrBlobNotFound):
		status = http.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}

	http.Error(w, http.StatusText(status), status)
}
