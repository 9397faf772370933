package media_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkrupp/mediacache/internal/domain"
	"github.com/mkrupp/mediacache/internal/repo/blob"
	"github.com/mkrupp/mediacache/internal/repo/media"
)

type testStore struct {
	repo  *media.SQLiteMediaRepository
	blobs *blob.FileSystemRepository
	cfg   media.SQLiteMediaRepositoryConfig
	dir   string
}

func setupSQLiteTestRepo(t *testing.T) *testStore {
	t.Helper()

	dir := t.TempDir()

	blobs, err := blob.NewFileSystemBlobRepository(context.Background(), "media", "bin", blob.FileSystemBlobRepositoryConfig{
		Basedir: filepath.Join(dir, "blob"),
	})
	require.NoError(t, err)

	cfg := media.SQLiteMediaRepositoryConfig{
		DatabasePath: filepath.Join(dir, "media.db"),
		BusyTimeout:  5 * time.Second,
	}

	repo, err := media.NewSQLiteMediaRepository(context.Background(), cfg, blobs)
	require.NoError(t, err)

	t.Cleanup(func() { _ = repo.Close() })

	return &testStore{repo: repo, blobs: blobs, cfg: cfg, dir: dir}
}

func newTestRecord(filename string, data []byte, ts time.Time) *domain.MediaRecord {
	return domain.NewMediaRecord(domain.MediaMeta{
		ID:        domain.NewMediaID(),
		Filename:  filename,
		Timestamp: ts,
		MIMEType:  "image/jpeg",
	}, data)
}

func TestSQLiteMediaRepository_PutGet(t *testing.T) {
	t.Parallel()

	store := setupSQLiteTestRepo(t)
	ctx := context.Background()
	now := time.Now()

	record := newTestRecord("tasting.jpg", []byte("jpeg bytes"), now)
	require.NoError(t, store.repo.Put(ctx, record))

	got, ok, err := store.repo.Get(ctx, record.ID())
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, record.Data, got.Data)
	assert.Equal(t, "tasting.jpg", got.Meta.Filename)
	assert.Equal(t, "image/jpeg", got.Meta.MIMEType)
	assert.Equal(t, int64(10), got.Meta.CompressedSize)
	assert.False(t, got.Meta.Uploaded)
	assert.True(t, now.Equal(got.Meta.Timestamp), "timestamp %v != %v", got.Meta.Timestamp, now)

	t.Run("rejects duplicate id", func(t *testing.T) {
		t.Parallel()

		duplicate := domain.NewMediaRecord(domain.MediaMeta{ID: record.ID(), Filename: "other.jpg"}, []byte("other"))

		err := store.repo.Put(ctx, duplicate)
		require.ErrorIs(t, err, domain.ErrDuplicateKey)

		got, ok, err := store.repo.Get(ctx, record.ID())
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, record.Data, got.Data, "original payload must survive a rejected insert")
	})

	t.Run("reports missing id without error", func(t *testing.T) {
		t.Parallel()

		got, ok, err := store.repo.Get(ctx, domain.NewMediaID())
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, got)
	})

	t.Run("rejects record without id", func(t *testing.T) {
		t.Parallel()

		err := store.repo.Put(ctx, domain.NewMediaRecord(domain.MediaMeta{}, []byte("x")))
		require.ErrorIs(t, err, domain.ErrNoMediaID)
	})
}

func TestSQLiteMediaRepository_Update(t *testing.T) {
	t.Parallel()

	store := setupSQLiteTestRepo(t)
	ctx := context.Background()

	record := newTestRecord("note.m4a", []byte("audio"), time.Now())
	require.NoError(t, store.repo.Put(ctx, record))

	tests := []struct {
		name       string
		meta       domain.MediaMeta
		wantErr    error
		wantURL    string
		wantUpload bool
	}{
		{
			name:       "ignores pending to pending",
			meta:       domain.MediaMeta{ID: record.ID(), Uploaded: false},
			wantUpload: false,
		},
		{
			name:       "marks uploaded",
			meta:       domain.MediaMeta{ID: record.ID(), Uploaded: true, UploadURL: "https://cdn.example/a"},
			wantURL:    "https://cdn.example/a",
			wantUpload: true,
		},
		{
			name:       "keeps first upload url",
			meta:       domain.MediaMeta{ID: record.ID(), Uploaded: true, UploadURL: "https://cdn.example/b"},
			wantURL:    "https://cdn.example/a",
			wantUpload: true,
		},
		{
			name:       "rejects reset of upload flag",
			meta:       domain.MediaMeta{ID: record.ID(), Uploaded: false},
			wantErr:    domain.ErrUploadFlagRegression,
			wantURL:    "https://cdn.example/a",
			wantUpload: true,
		},
	}

	// subtests run in order, each builds on the previous state
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.repo.Update(ctx, tt.meta)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}

			got, ok, err := store.repo.Get(ctx, record.ID())
			require.NoError(t, err)
			require.True(t, ok)

			assert.Equal(t, tt.wantUpload, got.Meta.Uploaded)
			assert.Equal(t, tt.wantURL, got.Meta.UploadURL)
			assert.Equal(t, record.Data, got.Data)
		})
	}

	t.Run("reports missing id", func(t *testing.T) {
		err := store.repo.Update(ctx, domain.MediaMeta{ID: domain.NewMediaID(), Uploaded: true})
		require.ErrorIs(t, err, domain.ErrMediaNotFound)
	})
}

func TestSQLiteMediaRepository_Delete(t *testing.T) {
	t.Parallel()

	store := setupSQLiteTestRepo(t)
	ctx := context.Background()

	record := newTestRecord("glass.png", []byte("png"), time.Now())
	require.NoError(t, store.repo.Put(ctx, record))

	for i := range 2 {
		require.NoError(t, store.repo.Delete(ctx, record.ID()), "delete #%d", i+1)

		_, ok, err := store.repo.Get(ctx, record.ID())
		require.NoError(t, err)
		assert.False(t, ok)
		assert.False(t, store.blobs.Exists(ctx, record.ID()), "payload must be removed")
	}

	require.NoError(t, store.repo.Delete(ctx, domain.NewMediaID()))
}

func TestSQLiteMediaRepository_Listing(t *testing.T) {
	t.Parallel()

	store := setupSQLiteTestRepo(t)
	ctx := context.Background()
	base := time.Now()

	// inserted out of order, listed oldest first
	offsets := []int{3, 1, 4, 2}
	records := make(map[int]*domain.MediaRecord)

	for _, offset := range offsets {
		record := newTestRecord(fmt.Sprintf("%d.jpg", offset), []byte{byte(offset)}, base.Add(time.Duration(offset)*time.Second))
		require.NoError(t, store.repo.Put(ctx, record))

		records[offset] = record
	}

	require.NoError(t, store.repo.Update(ctx, domain.MediaMeta{ID: records[2].ID(), Uploaded: true, UploadURL: "u2"}))
	require.NoError(t, store.repo.Update(ctx, domain.MediaMeta{ID: records[4].ID(), Uploaded: true, UploadURL: "u4"}))

	metas, err := store.repo.ListMeta(ctx, media.Filter{})
	require.NoError(t, err)
	require.Len(t, metas, 4)

	for i, meta := range metas {
		assert.Equal(t, records[i+1].ID(), meta.ID)
	}

	pending, err := store.repo.GetByUploadStatus(ctx, false)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, records[1].ID(), pending[0].ID())
	assert.Equal(t, records[3].ID(), pending[1].ID())

	uploaded, err := store.repo.ListMeta(ctx, media.UploadStatus(true))
	require.NoError(t, err)
	require.Len(t, uploaded, 2)
	assert.Equal(t, "u2", uploaded[0].UploadURL)
	assert.Equal(t, "u4", uploaded[1].UploadURL)

	all, err := store.repo.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestSQLiteMediaRepository_StatsAndClear(t *testing.T) {
	t.Parallel()

	store := setupSQLiteTestRepo(t)
	ctx := context.Background()

	stats, err := store.repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.CacheStats{}, stats)

	_, ok, err := store.repo.LoadStats(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	for _, size := range []int{100, 200, 300} {
		require.NoError(t, store.repo.Put(ctx, newTestRecord("x.bin", make([]byte, size), time.Now())))
	}

	stats, err = store.repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(600), stats.TotalSize)
	assert.Equal(t, 3, stats.EntryCount)

	stats.LastCleanup = time.Now()
	require.NoError(t, store.repo.SaveStats(ctx, stats))

	loaded, ok, err := store.repo.LoadStats(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, stats.TotalSize, loaded.TotalSize)
	assert.Equal(t, stats.EntryCount, loaded.EntryCount)
	assert.True(t, stats.LastCleanup.Equal(loaded.LastCleanup))

	require.NoError(t, store.repo.Clear(ctx))

	stats, err = store.repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.TotalSize)
	assert.Equal(t, 0, stats.EntryCount)

	ids, err := store.blobs.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestSQLiteMediaRepository_CorruptPayload(t *testing.T) {
	t.Parallel()

	store := setupSQLiteTestRepo(t)
	ctx := context.Background()

	record := newTestRecord("cork.jpg", []byte("intact"), time.Now())
	require.NoError(t, store.repo.Put(ctx, record))
	require.NoError(t, store.blobs.Store(ctx, domain.NewBlob(record.ID(), []byte("broken"))))

	_, _, err := store.repo.Get(ctx, record.ID())
	require.ErrorIs(t, err, domain.ErrBlobCorrupt)

	require.NoError(t, store.blobs.Delete(ctx, record.ID()))

	_, _, err = store.repo.Get(ctx, record.ID())
	require.ErrorIs(t, err, domain.ErrBlobNotFound)
}

func TestSQLiteMediaRepository_PrunesOrphansOnOpen(t *testing.T) {
	t.Parallel()

	store := setupSQLiteTestRepo(t)
	ctx := context.Background()

	kept := newTestRecord("kept.jpg", []byte("kept"), time.Now())
	require.NoError(t, store.repo.Put(ctx, kept))

	orphan := domain.NewMediaID()
	require.NoError(t, store.blobs.Store(ctx, domain.NewBlob(orphan, []byte("orphan"))))
	require.NoError(t, store.repo.Close())

	reopened, err := media.NewSQLiteMediaRepository(ctx, store.cfg, store.blobs)
	require.NoError(t, err)

	t.Cleanup(func() { _ = reopened.Close() })

	assert.False(t, store.blobs.Exists(ctx, orphan))

	got, ok, err := reopened.Get(ctx, kept.ID())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, kept.Data, got.Data)
}

type failingBlobRepository struct {
	blob.Repository

	storeErr error
}

func (r *failingBlobRepository) Store(ctx context.Context, b *domain.Blob) error {
	if r.storeErr != nil {
		return r.storeErr
	}

	return r.Repository.Store(ctx, b) //nolint:wrapcheck
}

func TestSQLiteMediaRepository_PutIsAtomic(t *testing.T) {
	t.Parallel()

	store := setupSQLiteTestRepo(t)
	ctx := context.Background()

	failing := &failingBlobRepository{Repository: store.blobs, storeErr: errors.New("disk full")}
	cfg := store.cfg
	cfg.DatabasePath = filepath.Join(store.dir, "atomic.db")

	repo, err := media.NewSQLiteMediaRepository(ctx, cfg, failing)
	require.NoError(t, err)

	t.Cleanup(func() { _ = repo.Close() })

	record := newTestRecord("lost.jpg", []byte("never stored"), time.Now())
	require.Error(t, repo.Put(ctx, record))

	_, ok, err := repo.Get(ctx, record.ID())
	require.NoError(t, err)
	assert.False(t, ok)

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.EntryCount)
}

func TestSQLiteMediaRepository_ConcurrentPut(t *testing.T) {
	t.Parallel()

	store := setupSQLiteTestRepo(t)
	ctx := context.Background()

	const workers = 16

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
		shared    = newTestRecord("shared.jpg", []byte("shared"), time.Now())
	)

	for i := range workers {
		wg.Add(2)

		go func() {
			defer wg.Done()

			record := newTestRecord(fmt.Sprintf("%d.jpg", i), bytes.Repeat([]byte{byte(i)}, 64), time.Now())
			assert.NoError(t, store.repo.Put(ctx, record))
		}()

		go func() {
			defer wg.Done()

			if err := store.repo.Put(ctx, shared); err == nil {
				succeeded.Add(1)
			} else {
				assert.ErrorIs(t, err, domain.ErrDuplicateKey)
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, int32(1), succeeded.Load())

	stats, err := store.repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, workers+1, stats.EntryCount)
}
