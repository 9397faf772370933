package mediasvc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mkrupp/mediacache/internal/domain"
	context_ "github.com/mkrupp/mediacache/internal/infra/context"
	"github.com/mkrupp/mediacache/internal/infra/logging"
)

// ErrInvalidInterval is returned for a non-positive sync interval.
var ErrInvalidInterval = errors.New("invalid sync interval")

// RunSyncLoop runs a sync pass right away and then once per interval until ctx is done.
// Failed passes are logged and retried on the next tick.
func RunSyncLoop(ctx context.Context, svc MediaService, upload domain.UploadFunc, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidInterval, interval)
	}

	if upload == nil {
		return ErrNoUploadFunc
	}

	log := logging.GetLogger("svc.mediasvc.sync_loop").With("interval", interval.String())
	log.InfoContext(ctx, "sync loop started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		passCtx := context_.WithNewTraceID(ctx)

		_, err := svc.SyncPending(passCtx, upload, nil)
		if err != nil && ctx.Err() == nil {
			log.ErrorContext(passCtx, "sync pass failed", "error", err)
		}

		select {
		case <-ctx.Done():
			log.InfoContext(ctx, "sync loop stopped")

			return nil
		case <-ticker.C:
		}
	}
}
