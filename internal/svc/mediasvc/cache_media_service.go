package mediasvc

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mkrupp/mediacache/internal/domain"
	"github.com/mkrupp/mediacache/internal/infra/logging"
	"github.com/mkrupp/mediacache/internal/repo/media"
)

const defaultMIMEType = "application/octet-stream"

// Option configures a CacheMediaService.
type Option func(*CacheMediaService)

// WithClock sets the time source for record timestamps and cleanup times.
func WithClock(clock func() time.Time) Option {
	return func(s *CacheMediaService) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithCompressor makes Save compress payloads before storing them.
func WithCompressor(compressor Compressor) Option {
	return func(s *CacheMediaService) {
		s.compressor = compressor
	}
}

// WithMetrics makes the service report to metrics.
func WithMetrics(metrics *Metrics) Option {
	return func(s *CacheMediaService) {
		s.metrics = metrics
	}
}

// SaveOption overrides the metadata Save derives for a record.
type SaveOption func(*saveOptions)

type saveOptions struct {
	mimeType     string
	originalSize int64
	timestamp    time.Time
}

// WithMIMEType sets the MIME type instead of detecting it.
func WithMIMEType(mimeType string) SaveOption {
	return func(o *saveOptions) {
		o.mimeType = mimeType
	}
}

// WithOriginalSize records the size of the payload before the caller compressed it.
func WithOriginalSize(size int64) SaveOption {
	return func(o *saveOptions) {
		o.originalSize = size
	}
}

// WithTimestamp sets the creation time instead of the current time.
func WithTimestamp(t time.Time) SaveOption {
	return func(o *saveOptions) {
		o.timestamp = t
	}
}

// cacheState is everything that exists only while the store is open.
type cacheState struct {
	repo       media.Repository
	governor   *CapacityGovernor
	reconciler *SyncReconciler
}

// CacheMediaService implements MediaService on top of a media.Repository.
//
// The repository is opened by Open or lazily by the first operation. Concurrent
// first uses share a single open. A failed open is not remembered, so the next
// operation tries again. Close waits for running operations and is final.
type CacheMediaService struct {
	factory    media.RepositoryFactory
	cfg        MediaConfig
	clock      func() time.Time
	compressor Compressor
	metrics    *Metrics
	log        logging.Logger

	opening singleflight.Group

	mu       sync.RWMutex
	state    *cacheState
	closed   bool
	inflight sync.WaitGroup
}

var _ MediaService = (*CacheMediaService)(nil)

// NewCacheMediaService creates a CacheMediaService that opens its repository through factory.
func NewCacheMediaService(factory media.RepositoryFactory, cfg MediaConfig, opts ...Option) *CacheMediaService {
	s := &CacheMediaService{
		factory: factory,
		cfg:     cfg,
		clock:   time.Now,
		log:     logging.GetLogger("svc.mediasvc.cache_media_service"),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Open implements MediaService.Open.
func (s *CacheMediaService) Open(ctx context.Context) error {
	_, err, _ := s.opening.Do("open", func() (any, error) {
		return nil, s.open(ctx)
	})

	return err //nolint:wrapcheck
}

func (s *CacheMediaService) open(ctx context.Context) (err error) {
	s.mu.RLock()
	closed, opened := s.closed, s.state != nil
	s.mu.RUnlock()

	switch {
	case closed:
		return fmt.Errorf("%w: closed", domain.ErrStorageUnavailable)
	case opened:
		return nil
	}

	defer func() {
		if err != nil {
			s.log.ErrorContext(ctx, "open cache failed", "error", err)
		} else {
			s.log.InfoContext(ctx, "cache opened")
		}
	}()

	// The open is shared by every waiting caller, so it must not be
	// cancelled by whichever of them happened to start it.
	ctx = context.WithoutCancel(ctx)

	if s.cfg.OpenTimeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, s.cfg.OpenTimeout)
		defer cancel()
	}

	repo, err := s.factory(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStorageUnavailable, err)
	}

	state := &cacheState{
		repo:       repo,
		governor:   NewCapacityGovernor(repo, s.cfg, s.clock, s.metrics),
		reconciler: NewSyncReconciler(repo, s.metrics),
	}

	if stats, ok, err := repo.LoadStats(ctx); err != nil {
		s.log.WarnContext(ctx, "load stats failed", "error", err)
	} else if ok {
		state.governor.restoreLastCleanup(stats.LastCleanup)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = repo.Close()

		return fmt.Errorf("%w: closed", domain.ErrStorageUnavailable)
	}
	s.state = state
	s.mu.Unlock()

	s.refreshStats(ctx, state)

	return nil
}

// Close implements MediaService.Close.
func (s *CacheMediaService) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()

		return nil
	}

	s.closed = true
	state := s.state
	s.state = nil
	s.mu.Unlock()

	s.inflight.Wait()

	if state == nil {
		return nil
	}

	if err := state.repo.Close(); err != nil {
		return fmt.Errorf("close repository: %w", err)
	}

	s.log.Info("cache closed")

	return nil
}

// acquire returns the open state, opening it if needed. The caller must call
// release once the operation is done.
func (s *CacheMediaService) acquire(ctx context.Context) (state *cacheState, release func(), err error) {
	for {
		s.mu.RLock()

		if s.closed {
			s.mu.RUnlock()

			return nil, nil, fmt.Errorf("%w: closed", domain.ErrStorageUnavailable)
		}

		if s.state != nil {
			state = s.state
			s.inflight.Add(1)
			s.mu.RUnlock()

			return state, s.inflight.Done, nil
		}

		s.mu.RUnlock()

		if err := s.Open(ctx); err != nil {
			return nil, nil, err
		}
	}
}

// Save implements MediaService.Save.
func (s *CacheMediaService) Save(
	ctx context.Context,
	filename string,
	data []byte,
	opts ...SaveOption,
) (id domain.MediaID, err error) {
	log := s.log.With(logging.Group("media", "filename", filename, "size", len(data)))

	defer func() {
		if err != nil {
			log.ErrorContext(ctx, "media save failed", "error", err)
		} else {
			log.DebugContext(ctx, "media saved", "id", id)
		}
	}()

	state, release, err := s.acquire(ctx)
	if err != nil {
		return "", err
	}
	defer release()

	var o saveOptions
	for _, opt := range opts {
		opt(&o)
	}

	meta := domain.MediaMeta{ //nolint:exhaustruct
		ID:           domain.NewMediaID(),
		Filename:     filename,
		OriginalSize: o.originalSize,
		Timestamp:    o.timestamp,
		MIMEType:     o.mimeType,
	}

	if meta.Timestamp.IsZero() {
		meta.Timestamp = s.clock()
	}

	if meta.MIMEType == "" {
		meta.MIMEType = detectMIMEType(filename, data)
	}

	payload := s.compress(ctx, &meta, data)

	if err := state.repo.Put(ctx, domain.NewMediaRecord(meta, payload)); err != nil {
		return "", fmt.Errorf("put: %w", err)
	}

	// The record is stored. A failing cleanup must not turn the save into a failure.
	if _, err := state.governor.Enforce(ctx, meta.ID); err != nil {
		log.WarnContext(ctx, "cleanup after save failed", "error", err)
	}

	s.refreshStats(ctx, state)

	return meta.ID, nil
}

// compress returns the payload to store for data, updating meta if it was compressed.
func (s *CacheMediaService) compress(ctx context.Context, meta *domain.MediaMeta, data []byte) []byte {
	if s.compressor == nil {
		return data
	}

	compressed, mimeType, err := s.compressor.Compress(ctx, data, meta.MIMEType)

	switch {
	case errors.Is(err, domain.ErrImageTypeNotSupported):
		return data
	case err != nil:
		s.log.WarnContext(ctx, "compress failed, storing original", "error", err)

		return data
	case len(compressed) >= len(data):
		return data
	}

	if meta.OriginalSize <= 0 {
		meta.OriginalSize = int64(len(data))
	}

	if mimeType != meta.MIMEType {
		meta.Filename = withExtension(meta.Filename, mimeType)
		meta.MIMEType = mimeType
	}

	return compressed
}

// Get implements MediaService.Get.
func (s *CacheMediaService) Get(ctx context.Context, id domain.MediaID) (*domain.MediaRecord, bool, error) {
	state, release, err := s.acquire(ctx)
	if err != nil {
		return nil, false, err
	}
	defer release()

	record, ok, err := state.repo.Get(ctx, id)
	if err != nil {
		return nil, false, fmt.Errorf("get: %w", err)
	}

	return record, ok, nil
}

// GetAll implements MediaService.GetAll.
func (s *CacheMediaService) GetAll(ctx context.Context) ([]*domain.MediaRecord, error) {
	state, release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	records, err := state.repo.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("get all: %w", err)
	}

	return records, nil
}

// GetUnuploaded implements MediaService.GetUnuploaded.
func (s *CacheMediaService) GetUnuploaded(ctx context.Context) ([]*domain.MediaRecord, error) {
	state, release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	records, err := state.repo.GetByUploadStatus(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("get by upload status: %w", err)
	}

	return records, nil
}

// List implements MediaService.List.
func (s *CacheMediaService) List(ctx context.Context, uploaded *bool) ([]domain.MediaMeta, error) {
	state, release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	metas, err := state.repo.ListMeta(ctx, media.Filter{Uploaded: uploaded})
	if err != nil {
		return nil, fmt.Errorf("list meta: %w", err)
	}

	return metas, nil
}

// MarkUploaded implements MediaService.MarkUploaded.
func (s *CacheMediaService) MarkUploaded(ctx context.Context, id domain.MediaID, uploadURL string) error {
	state, release, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	err = state.repo.Update(ctx, domain.MediaMeta{ //nolint:exhaustruct
		ID:        id,
		Uploaded:  true,
		UploadURL: uploadURL,
	})
	if err != nil && !errors.Is(err, domain.ErrMediaNotFound) {
		return fmt.Errorf("update: %w", err)
	}

	return nil
}

// Delete implements MediaService.Delete.
func (s *CacheMediaService) Delete(ctx context.Context, id domain.MediaID) error {
	state, release, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := state.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete: %w", err)
	}

	s.refreshStats(ctx, state)

	return nil
}

// Stats implements MediaService.Stats.
func (s *CacheMediaService) Stats(ctx context.Context) (domain.CacheStats, error) {
	state, release, err := s.acquire(ctx)
	if err != nil {
		return domain.CacheStats{}, err
	}
	defer release()

	stats, err := state.repo.Stats(ctx)
	if err != nil {
		return domain.CacheStats{}, fmt.Errorf("stats: %w", err)
	}

	stats.LastCleanup = state.governor.LastCleanup()

	return stats, nil
}

// Cleanup implements MediaService.Cleanup.
func (s *CacheMediaService) Cleanup(ctx context.Context) (int, error) {
	state, release, err := s.acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	evicted, err := state.governor.Enforce(ctx)
	if err != nil {
		return evicted, fmt.Errorf("enforce: %w", err)
	}

	s.refreshStats(ctx, state)

	return evicted, nil
}

// Clear implements MediaService.Clear.
func (s *CacheMediaService) Clear(ctx context.Context) error {
	state, release, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := state.repo.Clear(ctx); err != nil {
		return fmt.Errorf("clear: %w", err)
	}

	s.refreshStats(ctx, state)

	return nil
}

// SyncPending implements MediaService.SyncPending.
func (s *CacheMediaService) SyncPending(
	ctx context.Context,
	upload domain.UploadFunc,
	onProgress domain.ProgressFunc,
) (domain.SyncResult, error) {
	state, release, err := s.acquire(ctx)
	if err != nil {
		return domain.SyncResult{}, err
	}
	defer release()

	result, err := state.reconciler.SyncPending(ctx, upload, onProgress)
	if err != nil {
		return result, fmt.Errorf("sync pending: %w", err)
	}

	return result, nil
}

// refreshStats recomputes the stats and persists them. Failures are only logged.
func (s *CacheMediaService) refreshStats(ctx context.Context, state *cacheState) {
	stats, err := state.repo.Stats(ctx)
	if err != nil {
		s.log.WarnContext(ctx, "compute stats failed", "error", err)

		return
	}

	stats.LastCleanup = state.governor.LastCleanup()
	s.metrics.observeStats(stats)

	if err := state.repo.SaveStats(ctx, stats); err != nil {
		s.log.WarnContext(ctx, "save stats failed", "error", err)
	}
}

// detectMIMEType guesses the MIME type from the file extension, then from the content.
// preferredExtensions pins the extension of types with several registered ones.
var preferredExtensions = map[string]string{
	"image/jpeg": ".jpg",
}

// withExtension replaces the extension of filename with one matching mimeType.
// The filename is kept when the type has no known extension.
func withExtension(filename, mimeType string) string {
	ext, ok := preferredExtensions[mimeType]
	if !ok {
		exts, err := mime.ExtensionsByType(mimeType)
		if err != nil || len(exts) == 0 {
			return filename
		}

		ext = exts[0]
	}

	return strings.TrimSuffix(filename, filepath.Ext(filename)) + ext
}

func detectMIMEType(filename string, data []byte) string {
	if mimeType := mime.TypeByExtension(filepath.Ext(filename)); mimeType != "" {
		return mimeType
	}

	if len(data) == 0 {
		return defaultMIMEType
	}

	return http.DetectContentType(data)
}
