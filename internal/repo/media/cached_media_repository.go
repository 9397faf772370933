package media

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/mkrupp/mediacache/internal/domain"
)

// CachedMediaRepositoryConfig holds configuration for the in-memory record cache.
type CachedMediaRepositoryConfig struct {
	// Size is the maximum number of records kept in memory; 0 disables the cache
	Size int `env:"SIZE" default:"32"`

	// TTL bounds how long a record stays cached
	TTL time.Duration `env:"TTL" default:"5m"`
}

// CachedMediaRepository decorates a Repository with a bounded LRU of recently
// read records. Every mutation invalidates the affected entries.
type CachedMediaRepository struct {
	Repository

	cache *expirable.LRU[domain.MediaID, *domain.MediaRecord]

	// version is bumped by every mutation so that a Get racing with an
	// Update or Delete never caches the record it read before the mutation.
	mu      sync.Mutex
	version uint64
}

var _ Repository = (*CachedMediaRepository)(nil)

// CachedMediaRepositoryFactory wraps the repositories produced by factory in a
// CachedMediaRepository. If caching is disabled the factory is returned unchanged.
func CachedMediaRepositoryFactory(cfg CachedMediaRepositoryConfig, factory RepositoryFactory) RepositoryFactory {
	if cfg.Size <= 0 {
		return factory
	}

	return func(ctx context.Context) (Repository, error) {
		inner, err := factory(ctx)
		if err != nil {
			return nil, err
		}

		return NewCachedMediaRepository(inner, cfg), nil
	}
}

// NewCachedMediaRepository creates a CachedMediaRepository around inner.
func NewCachedMediaRepository(inner Repository, cfg CachedMediaRepositoryConfig) *CachedMediaRepository {
	return &CachedMediaRepository{
		Repository: inner,
		cache:      expirable.NewLRU[domain.MediaID, *domain.MediaRecord](cfg.Size, nil, cfg.TTL),
	}
}

// Get implements Repository.Get, serving from memory when possible.
func (r *CachedMediaRepository) Get(ctx context.Context, id domain.MediaID) (*domain.MediaRecord, bool, error) {
	if record, ok := r.cache.Get(id); ok {
		return copyRecord(record), true, nil
	}

	r.mu.Lock()
	version := r.version
	r.mu.Unlock()

	record, ok, err := r.Repository.Get(ctx, id)
	if err != nil || !ok {
		return record, ok, err //nolint:wrapcheck
	}

	r.mu.Lock()
	if r.version == version {
		r.cache.Add(id, record)
	}
	r.mu.Unlock()

	return copyRecord(record), true, nil
}

// Update implements Repository.Update.
func (r *CachedMediaRepository) Update(ctx context.Context, meta domain.MediaMeta) error {
	defer r.invalidate(meta.ID)

	if err := r.Repository.Update(ctx, meta); err != nil {
		return fmt.Errorf("update: %w", err)
	}

	return nil
}

// Delete implements Repository.Delete.
func (r *CachedMediaRepository) Delete(ctx context.Context, id domain.MediaID) error {
	defer r.invalidate(id)

	if err := r.Repository.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete: %w", err)
	}

	return nil
}

// Clear implements Repository.Clear.
func (r *CachedMediaRepository) Clear(ctx context.Context) error {
	defer r.invalidate()

	if err := r.Repository.Clear(ctx); err != nil {
		return fmt.Errorf("clear: %w", err)
	}

	return nil
}

// Close implements Repository.Close.
func (r *CachedMediaRepository) Close() error {
	r.invalidate()

	if err := r.Repository.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}

	return nil
}

// invalidate drops the given ids, or everything if none are given.
func (r *CachedMediaRepository) invalidate(ids ...domain.MediaID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.version++

	if len(ids) == 0 {
		r.cache.Purge()

		return
	}

	for _, id := range ids {
		r.cache.Remove(id)
	}
}

// copyRecord returns a shallow copy so callers cannot alter cached metadata.
// Payload bytes are shared and must be treated as immutable.
func copyRecord(record *domain.MediaRecord) *domain.MediaRecord {
	clone := *record

	return &clone
}
