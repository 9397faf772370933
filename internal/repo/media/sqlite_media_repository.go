package media

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/mkrupp/mediacache/internal/domain"
	"github.com/mkrupp/mediacache/internal/infra/logging"
	"github.com/mkrupp/mediacache/internal/repo/blob"
)

const (
	payloadSubdir = "media"
	payloadExt    = "bin"
)

// SQLiteMediaRepositoryConfig holds configuration for the SQLite media repository.
type SQLiteMediaRepositoryConfig struct {
	// DatabasePath is the filesystem path to the SQLite database file
	DatabasePath string `env:"DATABASE_PATH" default:"var/storage/mediacache.db"`

	// BusyTimeout is how long a connection waits for a locked database
	BusyTimeout time.Duration `env:"BUSY_TIMEOUT" default:"5s"`
}

// SQLiteMediaRepository implements Repository with metadata in SQLite and
// payloads in a blob.Repository. The payload is always written before the
// metadata row and removed after it, so a row never points at a missing payload.
type SQLiteMediaRepository struct {
	db        *sql.DB
	blobs     blob.Repository
	log       logging.Logger
	keys      *keyLock
	clearLock *sync.RWMutex // held exclusively by Clear, shared by everything else
	writeLock *sync.Mutex   // go-sqlite does not support concurrent writes
}

var _ Repository = (*SQLiteMediaRepository)(nil)

// SQLiteMediaRepositoryFactory creates a factory function that returns a new SQLiteMediaRepository
// storing its payloads in a repository obtained from blobFactory.
func SQLiteMediaRepositoryFactory(cfg SQLiteMediaRepositoryConfig, blobFactory blob.RepositoryFactory) RepositoryFactory {
	return func(ctx context.Context) (Repository, error) {
		blobs, err := blobFactory(ctx, payloadSubdir, payloadExt)
		if err != nil {
			return nil, fmt.Errorf("new payload repository: %w", err)
		}

		return NewSQLiteMediaRepository(ctx, cfg, blobs)
	}
}

// NewSQLiteMediaRepository opens the database, creates the schema if needed and
// removes payloads left behind by interrupted writes or deletes.
func NewSQLiteMediaRepository(
	ctx context.Context,
	cfg SQLiteMediaRepositoryConfig,
	blobs blob.Repository,
) (repo *SQLiteMediaRepository, err error) {
	log := logging.GetLogger("repo.media.sqlite_media_repository").With(
		logging.Group("db", "path", cfg.DatabasePath),
	)

	defer func() {
		if err != nil {
			log.ErrorContext(ctx, "open repository failed", "error", err)
		} else {
			log.DebugContext(ctx, "repository opened")
		}
	}()

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o750); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)",
		cfg.DatabasePath, cfg.BusyTimeout.Milliseconds(),
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := initializeDB(ctx, db); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("initialize db: %w", err)
	}

	db.SetConnMaxLifetime(5 * time.Minute)

	repo = &SQLiteMediaRepository{
		db:        db,
		blobs:     blobs,
		log:       log,
		keys:      newKeyLock(),
		clearLock: new(sync.RWMutex),
		writeLock: new(sync.Mutex),
	}

	if err := repo.pruneOrphans(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("prune orphans: %w", err)
	}

	return repo, nil
}

func initializeDB(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS media (
			id              TEXT    PRIMARY KEY,
			filename        TEXT    NOT NULL,
			original_size   INTEGER NOT NULL,
			compressed_size INTEGER NOT NULL,
			timestamp       INTEGER NOT NULL,
			mime_type       TEXT    NOT NULL,
			uploaded        INTEGER NOT NULL DEFAULT 0,
			upload_url      TEXT    NOT NULL DEFAULT '',
			checksum        TEXT    NOT NULL
		);
		CREATE INDEX IF NOT EXISTS media_timestamp_idx ON media (timestamp);
		CREATE INDEX IF NOT EXISTS media_uploaded_idx ON media (uploaded);
		CREATE TABLE IF NOT EXISTS cache_stats (
			id           INTEGER PRIMARY KEY CHECK (id = 1),
			total_size   INTEGER NOT NULL,
			entry_count  INTEGER NOT NULL,
			last_cleanup INTEGER NOT NULL
		);
	`); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	return nil
}

const selectMetaColumns = `
	SELECT id, filename, original_size, compressed_size, timestamp, mime_type, uploaded, upload_url, checksum
	FROM media`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMeta(row rowScanner) (domain.MediaMeta, error) {
	var (
		meta      domain.MediaMeta
		timestamp int64
	)

	if err := row.Scan(
		&meta.ID,
		&meta.Filename,
		&meta.OriginalSize,
		&meta.CompressedSize,
		&timestamp,
		&meta.MIMEType,
		&meta.Uploaded,
		&meta.UploadURL,
		&meta.Checksum,
	); err != nil {
		return domain.MediaMeta{}, err //nolint:wrapcheck
	}

	meta.Timestamp = time.Unix(0, timestamp)

	return meta, nil
}

// Put implements Repository.Put.
func (r *SQLiteMediaRepository) Put(ctx context.Context, record *domain.MediaRecord) (err error) {
	if record == nil || record.Meta.ID == "" {
		return domain.ErrNoMediaID
	}

	log := r.log.With(logging.Group("media",
		"id", record.Meta.ID,
		"size", record.Meta.CompressedSize,
		"type", record.Meta.MIMEType,
	))

	defer func() {
		if err != nil {
			log.ErrorContext(ctx, "media put failed", "error", err)
		} else {
			log.DebugContext(ctx, "media put")
		}
	}()

	r.clearLock.RLock()
	defer r.clearLock.RUnlock()

	unlock := r.keys.Lock(record.Meta.ID)
	defer unlock()

	if _, ok, err := r.getMeta(ctx, record.Meta.ID); err != nil {
		return fmt.Errorf("check existing: %w", err)
	} else if ok {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateKey, record.Meta.ID)
	}

	if err := r.blobs.Store(ctx, record.AsBlob()); err != nil {
		return fmt.Errorf("store payload: %w", err)
	}

	if err := r.insertMeta(ctx, record.Meta); err != nil {
		if !errors.Is(err, domain.ErrDuplicateKey) {
			if delErr := r.blobs.Delete(context.WithoutCancel(ctx), record.Meta.ID); delErr != nil {
				log.WarnContext(ctx, "payload rollback failed", "error", delErr)
			}
		}

		return fmt.Errorf("insert meta: %w", err)
	}

	return nil
}

func (r *SQLiteMediaRepository) insertMeta(ctx context.Context, meta domain.MediaMeta) error {
	r.writeLock.Lock()
	defer r.writeLock.Unlock()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO media (id, filename, original_size, compressed_size, timestamp, mime_type, uploaded, upload_url, checksum)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		meta.ID,
		meta.Filename,
		meta.OriginalSize,
		meta.CompressedSize,
		meta.Timestamp.UnixNano(),
		meta.MIMEType,
		meta.Uploaded,
		meta.UploadURL,
		meta.Checksum,
	)
	if err != nil {
		var liteErr *sqlite.Error
		if errors.As(err, &liteErr) {
			switch liteErr.Code() {
			case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
				err = errors.Join(domain.ErrDuplicateKey, err)
			default:
			}
		}

		return err
	}

	return nil
}

// Get implements Repository.Get.
func (r *SQLiteMediaRepository) Get(ctx context.Context, id domain.MediaID) (*domain.MediaRecord, bool, error) {
	r.clearLock.RLock()
	defer r.clearLock.RUnlock()

	unlock := r.keys.RLock(id)
	defer unlock()

	meta, ok, err := r.getMeta(ctx, id)
	if err != nil {
		return nil, false, fmt.Errorf("get meta: %w", err)
	} else if !ok {
		return nil, false, nil
	}

	record, err := r.loadPayload(ctx, meta)
	if err != nil {
		return nil, false, fmt.Errorf("load payload: %w", err)
	}

	return record, true, nil
}

func (r *SQLiteMediaRepository) getMeta(ctx context.Context, id domain.MediaID) (domain.MediaMeta, bool, error) {
	meta, err := scanMeta(r.db.QueryRowContext(ctx, selectMetaColumns+` WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.MediaMeta{}, false, nil
		}

		return domain.MediaMeta{}, false, fmt.Errorf("query meta: %w", err)
	}

	return meta, true, nil
}

func (r *SQLiteMediaRepository) loadPayload(ctx context.Context, meta domain.MediaMeta) (*domain.MediaRecord, error) {
	payload, err := r.blobs.Fetch(ctx, meta.ID)
	if err != nil {
		return nil, fmt.Errorf("fetch payload: %w", err)
	}

	record := &domain.MediaRecord{Meta: meta, Data: payload.Bytes()}

	if err := record.Verify(); err != nil {
		r.log.ErrorContext(ctx, "payload verification failed", logging.Group("media", "id", meta.ID), "error", err)

		return nil, fmt.Errorf("verify payload: %w", err)
	}

	return record, nil
}

// GetAll implements Repository.GetAll.
func (r *SQLiteMediaRepository) GetAll(ctx context.Context) ([]*domain.MediaRecord, error) {
	return r.getRecords(ctx, Filter{})
}

// GetByUploadStatus implements Repository.GetByUploadStatus.
func (r *SQLiteMediaRepository) GetByUploadStatus(ctx context.Context, uploaded bool) ([]*domain.MediaRecord, error) {
	return r.getRecords(ctx, UploadStatus(uploaded))
}

// getRecords lists the matching metadata first and loads each payload under
// its key lock. Records deleted in between are left out.
func (r *SQLiteMediaRepository) getRecords(ctx context.Context, filter Filter) ([]*domain.MediaRecord, error) {
	metas, err := r.ListMeta(ctx, filter)
	if err != nil {
		return nil, err
	}

	records := make([]*domain.MediaRecord, 0, len(metas))

	for _, meta := range metas {
		record, ok, err := r.Get(ctx, meta.ID)
		if err != nil {
			return nil, fmt.Errorf("get %s: %w", meta.ID, err)
		} else if !ok {
			continue
		}

		if filter.Uploaded != nil && record.Meta.Uploaded != *filter.Uploaded {
			continue
		}

		records = append(records, record)
	}

	return records, nil
}

// ListMeta implements Repository.ListMeta.
func (r *SQLiteMediaRepository) ListMeta(ctx context.Context, filter Filter) (metas []domain.MediaMeta, err error) {
	query := selectMetaColumns
	args := []any{}

	if filter.Uploaded != nil {
		query += ` WHERE uploaded = ?`
		args = append(args, *filter.Uploaded)
	}

	query += ` ORDER BY timestamp, id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query meta: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		meta, err := scanMeta(rows)
		if err != nil {
			return nil, fmt.Errorf("scan meta: %w", err)
		}

		metas = append(metas, meta)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate meta: %w", err)
	}

	return metas, nil
}

// Update implements Repository.Update.
func (r *SQLiteMediaRepository) Update(ctx context.Context, meta domain.MediaMeta) (err error) {
	log := r.log.With(logging.Group("media", "id", meta.ID, "uploaded", meta.Uploaded))

	defer func() {
		if err != nil {
			log.ErrorContext(ctx, "media update failed", "error", err)
		} else {
			log.DebugContext(ctx, "media updated")
		}
	}()

	r.clearLock.RLock()
	defer r.clearLock.RUnlock()

	unlock := r.keys.Lock(meta.ID)
	defer unlock()

	current, ok, err := r.getMeta(ctx, meta.ID)
	if err != nil {
		return fmt.Errorf("get meta: %w", err)
	} else if !ok {
		return fmt.Errorf("%w: %s", domain.ErrMediaNotFound, meta.ID)
	}

	switch {
	case current.Uploaded && !meta.Uploaded:
		return fmt.Errorf("%w: %s", domain.ErrUploadFlagRegression, meta.ID)
	case current.Uploaded, !meta.Uploaded:
		return nil
	}

	r.writeLock.Lock()
	defer r.writeLock.Unlock()

	if _, err := r.db.ExecContext(ctx,
		`UPDATE media SET uploaded = 1, upload_url = ? WHERE id = ? AND uploaded = 0`,
		meta.UploadURL,
		meta.ID,
	); err != nil {
		return fmt.Errorf("update meta: %w", err)
	}

	return nil
}

// Delete implements Repository.Delete.
func (r *SQLiteMediaRepository) Delete(ctx context.Context, id domain.MediaID) (err error) {
	log := r.log.With(logging.Group("media", "id", id))

	defer func() {
		if err != nil {
			log.ErrorContext(ctx, "media delete failed", "error", err)
		} else {
			log.DebugContext(ctx, "media deleted")
		}
	}()

	r.clearLock.RLock()
	defer r.clearLock.RUnlock()

	unlock := r.keys.Lock(id)
	defer unlock()

	if err := r.deleteMeta(ctx, id); err != nil {
		return fmt.Errorf("delete meta: %w", err)
	}

	if err := r.blobs.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete payload: %w", err)
	}

	return nil
}

func (r *SQLiteMediaRepository) deleteMeta(ctx context.Context, id domain.MediaID) error {
	r.writeLock.Lock()
	defer r.writeLock.Unlock()

	if _, err := r.db.ExecContext(ctx, `DELETE FROM media WHERE id = ?`, id); err != nil {
		return err //nolint:wrapcheck
	}

	return nil
}

// Clear implements Repository.Clear.
func (r *SQLiteMediaRepository) Clear(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			r.log.ErrorContext(ctx, "media clear failed", "error", err)
		} else {
			r.log.InfoContext(ctx, "media cleared")
		}
	}()

	r.clearLock.Lock()
	defer r.clearLock.Unlock()

	r.writeLock.Lock()
	_, err = r.db.ExecContext(ctx, `DELETE FROM media`)
	r.writeLock.Unlock()

	if err != nil {
		return fmt.Errorf("delete meta: %w", err)
	}

	if err := r.blobs.Clear(ctx); err != nil {
		return fmt.Errorf("clear payloads: %w", err)
	}

	return nil
}

// Stats implements Repository.Stats.
func (r *SQLiteMediaRepository) Stats(ctx context.Context) (domain.CacheStats, error) {
	var stats domain.CacheStats

	if err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(compressed_size), 0), COUNT(*) FROM media`,
	).Scan(&stats.TotalSize, &stats.EntryCount); err != nil {
		return domain.CacheStats{}, fmt.Errorf("query stats: %w", err)
	}

	return stats, nil
}

// SaveStats implements Repository.SaveStats.
func (r *SQLiteMediaRepository) SaveStats(ctx context.Context, stats domain.CacheStats) error {
	r.writeLock.Lock()
	defer r.writeLock.Unlock()

	var lastCleanup int64
	if !stats.LastCleanup.IsZero() {
		lastCleanup = stats.LastCleanup.UnixNano()
	}

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO cache_stats (id, total_size, entry_count, last_cleanup) VALUES (1, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			total_size = excluded.total_size,
			entry_count = excluded.entry_count,
			last_cleanup = excluded.last_cleanup`,
		stats.TotalSize,
		stats.EntryCount,
		lastCleanup,
	); err != nil {
		return fmt.Errorf("upsert stats: %w", err)
	}

	return nil
}

// LoadStats implements Repository.LoadStats.
func (r *SQLiteMediaRepository) LoadStats(ctx context.Context) (domain.CacheStats, bool, error) {
	var (
		stats       domain.CacheStats
		lastCleanup int64
	)

	err := r.db.QueryRowContext(ctx,
		`SELECT total_size, entry_count, last_cleanup FROM cache_stats WHERE id = 1`,
	).Scan(&stats.TotalSize, &stats.EntryCount, &lastCleanup)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.CacheStats{}, false, nil
		}

		return domain.CacheStats{}, false, fmt.Errorf("query stats: %w", err)
	}

	if lastCleanup != 0 {
		stats.LastCleanup = time.Unix(0, lastCleanup)
	}

	return stats, true, nil
}

// Close implements Repository.Close by closing the database connection.
func (r *SQLiteMediaRepository) Close() error {
	if err := r.db.Close(); err != nil {
		return fmt.Errorf("close db: %w", err)
	}

	return nil
}

// pruneOrphans removes payloads that have no metadata row.
func (r *SQLiteMediaRepository) pruneOrphans(ctx context.Context) error {
	ids, err := r.blobs.List(ctx)
	if err != nil {
		return fmt.Errorf("list payloads: %w", err)
	}

	var pruned int

	for _, id := range ids {
		if _, ok, err := r.getMeta(ctx, id); err != nil {
			return fmt.Errorf("get meta: %w", err)
		} else if ok {
			continue
		}

		if err := r.blobs.Delete(ctx, id); err != nil {
			return fmt.Errorf("delete payload: %w", err)
		}

		pruned++
	}

	if pruned > 0 {
		r.log.WarnContext(ctx, "pruned orphaned payloads", "count", pruned)
	}

	return nil
}
