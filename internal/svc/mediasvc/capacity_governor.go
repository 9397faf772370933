package mediasvc

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/mkrupp/mediacache/internal/domain"
	"github.com/mkrupp/mediacache/internal/infra/logging"
	"github.com/mkrupp/mediacache/internal/repo/media"
)

// CapacityGovernor keeps the repository within the configured size and entry ceilings.
//
// Once either ceiling is exceeded, records are evicted oldest first until both
// totals are at or below HysteresisRatio times their ceiling. Uploaded records go
// first. If that is not enough and EvictPending is set, the oldest records are
// evicted regardless of upload status, again only until the target is reached.
// The newest record and the records passed to Enforce are never evicted, so a
// save always survives its own cleanup.
type CapacityGovernor struct {
	repo    media.Repository
	cfg     MediaConfig
	clock   func() time.Time
	metrics *Metrics
	log     logging.Logger

	mu          sync.Mutex
	lastCleanup time.Time
}

// NewCapacityGovernor creates a CapacityGovernor for repo.
func NewCapacityGovernor(repo media.Repository, cfg MediaConfig, clock func() time.Time, metrics *Metrics) *CapacityGovernor {
	if clock == nil {
		clock = time.Now
	}

	return &CapacityGovernor{
		repo:    repo,
		cfg:     cfg,
		clock:   clock,
		metrics: metrics,
		log:     logging.GetLogger("svc.mediasvc.capacity_governor"),
	}
}

// LastCleanup returns the time of the last completed Enforce call.
func (g *CapacityGovernor) LastCleanup() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.lastCleanup
}

// restoreLastCleanup seeds LastCleanup from a persisted snapshot.
func (g *CapacityGovernor) restoreLastCleanup(t time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if t.After(g.lastCleanup) {
		g.lastCleanup = t
	}
}

// Enforce evicts records until the repository is back within bounds and
// returns the number of evicted records. The records in keep are never evicted.
// Records added while Enforce runs are left for the next call.
func (g *CapacityGovernor) Enforce(ctx context.Context, keep ...domain.MediaID) (evicted int, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	log := g.log

	defer func() {
		if err != nil {
			log.ErrorContext(ctx, "cleanup failed", "error", err, "evicted", evicted)
		} else if evicted > 0 {
			log.InfoContext(ctx, "cleanup done", "evicted", evicted)
		}
	}()

	metas, err := g.repo.ListMeta(ctx, media.Filter{})
	if err != nil {
		return 0, fmt.Errorf("list meta: %w", err)
	}

	g.lastCleanup = g.clock()

	e := newEviction(metas)
	log = log.With(logging.Group("cache", "size", e.totalSize, "entries", e.entryCount))

	if len(metas) == 0 || !g.cfg.exceeded(e.totalSize, e.entryCount) {
		return 0, nil
	}

	slices.SortStableFunc(metas, compareAge)

	// The last record is the newest and is never a candidate.
	candidates := slices.DeleteFunc(metas[:len(metas)-1], func(meta domain.MediaMeta) bool {
		return slices.Contains(keep, meta.ID)
	})

	n, err := g.evictUploaded(ctx, e, candidates)
	evicted += n
	g.metrics.addEvictions(passUploaded, n)

	if err != nil {
		return evicted, err
	}

	if !g.overTarget(e) {
		return evicted, nil
	}

	if !g.cfg.EvictPending {
		log.WarnContext(ctx, "cache above target, pending records are not evictable")

		return evicted, nil
	}

	n, err = g.evictForced(ctx, e, candidates)
	evicted += n
	g.metrics.addEvictions(passForced, n)

	if err != nil {
		return evicted, err
	}

	if g.overTarget(e) {
		log.WarnContext(ctx, "cache above target, nothing left to evict")
	}

	return evicted, nil
}

// evictUploaded evicts uploaded records, oldest first, until the target is reached.
func (g *CapacityGovernor) evictUploaded(ctx context.Context, e *eviction, candidates []domain.MediaMeta) (int, error) {
	var n int

	for _, meta := range candidates {
		if !g.overTarget(e) {
			break
		}

		if !meta.Uploaded {
			continue
		}

		if err := g.evict(ctx, e, meta); err != nil {
			return n, err
		}

		n++
	}

	return n, nil
}

// evictForced evicts the oldest remaining records regardless of upload status
// until the target is reached.
func (g *CapacityGovernor) evictForced(ctx context.Context, e *eviction, candidates []domain.MediaMeta) (int, error) {
	var n int

	for _, meta := range candidates {
		if !g.overTarget(e) {
			break
		}

		if e.evicted[meta.ID] {
			continue
		}

		if err := g.evict(ctx, e, meta); err != nil {
			return n, err
		}

		n++
	}

	return n, nil
}

func (g *CapacityGovernor) evict(ctx context.Context, e *eviction, meta domain.MediaMeta) error {
	if err := ctx.Err(); err != nil {
		return err //nolint:wrapcheck
	}

	if err := g.repo.Delete(ctx, meta.ID); err != nil {
		return fmt.Errorf("evict %s: %w", meta.ID, err)
	}

	e.evicted[meta.ID] = true
	e.totalSize -= meta.CompressedSize
	e.entryCount--

	g.log.DebugContext(ctx, "media evicted", logging.Group("media",
		"id", meta.ID,
		"size", meta.CompressedSize,
		"uploaded", meta.Uploaded,
	))

	return nil
}

func (g *CapacityGovernor) overTarget(e *eviction) bool {
	return e.totalSize > g.cfg.targetSize() || e.entryCount > g.cfg.targetEntries()
}

// eviction tracks the running totals of a single Enforce call.
type eviction struct {
	totalSize  int64
	entryCount int
	evicted    map[domain.MediaID]bool
}

func newEviction(metas []domain.MediaMeta) *eviction {
	e := &eviction{
		entryCount: len(metas),
		evicted:    make(map[domain.MediaID]bool),
	}

	for _, meta := range metas {
		e.totalSize += meta.CompressedSize
	}

	return e
}

// compareAge orders records oldest first, breaking timestamp ties by id.
func compareAge(a, b domain.MediaMeta) int {
	if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
		return c
	}

	return strings.Compare(string(a.ID), string(b.ID))
}
