package mediasvc

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/mkrupp/mediacache/internal/domain"
	"github.com/mkrupp/mediacache/internal/infra/logging"
	"github.com/mkrupp/mediacache/internal/repo/media"
)

var (
	// ErrNoUploadFunc is returned by SyncPending when no upload function is given.
	ErrNoUploadFunc = errors.New("no upload function")

	// ErrUploadPanicked is reported when the upload function panics.
	ErrUploadPanicked = errors.New("upload panicked")
)

type syncOutcome int

const (
	syncSuccess syncOutcome = iota
	syncFailed
	syncSkipped
)

// SyncReconciler pushes pending records to remote storage and marks them uploaded.
//
// A pass works on a snapshot of the records pending when it starts and uploads
// them one at a time in snapshot order. A failing record stays pending and
// never aborts the pass. Passes are serialized, so a record has at most one
// upload in flight.
type SyncReconciler struct {
	repo    media.Repository
	metrics *Metrics
	log     logging.Logger

	mu sync.Mutex
}

// NewSyncReconciler creates a SyncReconciler for repo.
func NewSyncReconciler(repo media.Repository, metrics *Metrics) *SyncReconciler {
	return &SyncReconciler{
		repo:    repo,
		metrics: metrics,
		log:     logging.GetLogger("svc.mediasvc.sync_reconciler"),
	}
}

// SyncPending uploads every pending record through upload and reports progress
// through onProgress, which may be nil.
//
// Upload failures are counted, never returned. The returned error is either the
// failure to read the pending snapshot or the cancellation of ctx, in which case
// the counts cover the records attempted so far.
func (s *SyncReconciler) SyncPending(
	ctx context.Context,
	upload domain.UploadFunc,
	onProgress domain.ProgressFunc,
) (result domain.SyncResult, err error) {
	if upload == nil {
		return result, ErrNoUploadFunc
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()

	defer func() {
		s.metrics.observeSync(result, time.Since(start).Seconds())

		if err != nil {
			s.log.ErrorContext(ctx, "sync failed", "error", err, logging.Group("sync",
				"success", result.Success, "failed", result.Failed, "skipped", result.Skipped))
		} else {
			s.log.InfoContext(ctx, "sync done", logging.Group("sync",
				"success", result.Success, "failed", result.Failed, "skipped", result.Skipped))
		}
	}()

	pending, err := s.repo.ListMeta(ctx, media.UploadStatus(false))
	if err != nil {
		return result, fmt.Errorf("snapshot pending: %w", err)
	}

	total := len(pending)

	for i, meta := range pending {
		if err := ctx.Err(); err != nil {
			return result, err //nolint:wrapcheck
		}

		switch s.syncOne(ctx, meta.ID, upload) {
		case syncSuccess:
			result.Success++
		case syncFailed:
			result.Failed++
		case syncSkipped:
			result.Skipped++
		}

		if onProgress != nil {
			onProgress(i+1, total)
		}
	}

	return result, nil
}

func (s *SyncReconciler) syncOne(ctx context.Context, id domain.MediaID, upload domain.UploadFunc) syncOutcome {
	log := s.log.With(logging.Group("media", "id", id))

	record, ok, err := s.repo.Get(ctx, id)
	if err != nil {
		log.WarnContext(ctx, "load pending media failed", "error", err)

		return syncFailed
	}

	if !ok || record.Meta.Uploaded {
		log.DebugContext(ctx, "media no longer pending")

		return syncSkipped
	}

	url, err := callUpload(ctx, upload, record)
	if err != nil {
		log.WarnContext(ctx, "media upload failed", "error", fmt.Errorf("%w: %w", domain.ErrUploadFailed, err))

		return syncFailed
	}

	meta := record.Meta
	meta.Uploaded = true
	meta.UploadURL = url

	if err := s.repo.Update(ctx, meta); err != nil {
		if errors.Is(err, domain.ErrMediaNotFound) {
			log.DebugContext(ctx, "media removed during upload", "url", url)

			return syncSkipped
		}

		log.WarnContext(ctx, "confirm upload failed", "error", err)

		return syncFailed
	}

	log.DebugContext(ctx, "media uploaded", "url", url)

	return syncSuccess
}

// callUpload runs upload and turns a panic into an error.
func callUpload(ctx context.Context, upload domain.UploadFunc, record *domain.MediaRecord) (url string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v\n%s", ErrUploadPanicked, p, debug.Stack())
		}
	}()

	return upload(ctx, record.Data, record.Meta.Filename)
}
