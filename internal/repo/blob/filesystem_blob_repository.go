package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/mkrupp/mediacache/internal/domain"
	"github.com/mkrupp/mediacache/internal/infra/logging"
)

// ErrInvalidBlobID is returned for ids that cannot be mapped to a file name.
var ErrInvalidBlobID = errors.New("invalid blob id")

const (
	dirPrefixLength = 2 // 16^2 = 256 directories per level
	dirPrefixDepth  = 2 // taken from the end of the id, where UUIDv7 ids are random
	tempFileSuffix  = ".tmp"
)

// FileSystemBlobRepositoryConfig holds configuration for the filesystem-based blob repository.
type FileSystemBlobRepositoryConfig struct {
	// Basedir is the root directory for blob storage
	Basedir string `env:"BASEDIR" default:"var/storage/blob"`

	// Compression selects the at-rest codec ("none" or "zstd")
	Compression string `env:"COMPRESSION" default:"none"`
}

// FileSystemBlobRepositoryFactory creates a factory function that returns a new FileSystemRepository.
// The factory function implements the RepositoryFactory type.
func FileSystemBlobRepositoryFactory(cfg FileSystemBlobRepositoryConfig) RepositoryFactory {
	return func(
		ctx context.Context,
		subdir string,
		ext string,
	) (Repository, error) {
		return NewFileSystemBlobRepository(ctx, subdir, ext, cfg)
	}
}

// NewFileSystemBlobRepository creates a new FileSystemRepository with the given parameters:
// - subdir: subdirectory name for organizing blobs
// - ext: file extension for blob files
// - cfg: repository configuration
// Leftover temporary files from interrupted writes are removed.
// Returns an error if initialization fails.
func NewFileSystemBlobRepository(
	ctx context.Context,
	subdir string,
	ext string,
	cfg FileSystemBlobRepositoryConfig,
) (*FileSystemRepository, error) {
	codec, err := newCodec(cfg.Compression)
	if err != nil {
		return nil, fmt.Errorf("new codec: %w", err)
	}

	if codec.Ext() != "" {
		ext += "." + codec.Ext()
	}

	log := logging.GetLogger("repo.blob.filesystem_repository").With(
		logging.Group("repo",
			"basedir", cfg.Basedir,
			"subdir", subdir,
			"ext", ext,
		),
	)

	repo := &FileSystemRepository{
		root:  filepath.Join(cfg.Basedir, subdir),
		ext:   ext,
		codec: codec,
		log:   log,
	}

	if err := repo.initStorage(ctx); err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}

	return repo, nil
}

// FileSystemRepository implements Repository using the local filesystem.
// Blobs are spread over a shallow directory hierarchy and replaced atomically
// through a temporary file and rename.
type FileSystemRepository struct {
	root  string
	ext   string
	codec codec
	log   logging.Logger
}

var _ Repository = (*FileSystemRepository)(nil)

func (fsRepo *FileSystemRepository) Exists(ctx context.Context, id domain.BlobID) bool {
	filename, err := fsRepo.GetFilename(id)
	if err != nil {
		return false
	}

	_, err = os.Stat(filename)

	return err == nil
}

func (fsRepo *FileSystemRepository) Store(ctx context.Context, blob *domain.Blob) error {
	if err := fsRepo.storeBlob(ctx, blob); err != nil {
		return fmt.Errorf("store blob: %w", err)
	}

	return nil
}

func (fsRepo *FileSystemRepository) Fetch(ctx context.Context, id domain.BlobID) (*domain.Blob, error) {
	blob, err := fsRepo.fetchBlob(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetch blob: %w", err)
	}

	return blob, nil
}

func (fsRepo *FileSystemRepository) Delete(ctx context.Context, id domain.BlobID) error {
	if err := fsRepo.deleteBlob(ctx, id); err != nil {
		return fmt.Errorf("delete blob: %w", err)
	}

	return nil
}

func (fsRepo *FileSystemRepository) List(ctx context.Context) ([]domain.BlobID, error) {
	ids, err := fsRepo.listBlobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list blobs: %w", err)
	}

	return ids, nil
}

func (fsRepo *FileSystemRepository) Clear(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			fsRepo.log.ErrorContext(ctx, "blob clear failed", "error", err)
		} else {
			fsRepo.log.DebugContext(ctx, "blobs cleared")
		}
	}()

	if err := os.RemoveAll(fsRepo.root); err != nil {
		return fmt.Errorf("remove all: %w", err)
	}

	if err := os.MkdirAll(fsRepo.root, 0o755); err != nil {
		return fmt.Errorf("mkdir all: %w", err)
	}

	return nil
}

// GetFilename returns the full filesystem path for a blob with the given ID.
func (fsRepo *FileSystemRepository) GetFilename(id domain.BlobID) (string, error) {
	basename := string(id)

	if basename == "" || strings.HasPrefix(basename, ".") || strings.ContainsAny(basename, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidBlobID, basename)
	}

	// Pad short ids with zeros so that every id yields a full set of prefixes:
	//   <root>/c7/a2/0195f0a4-2c1e-7c3d-9f4e-5b6a8d13a2c7.bin
	padded := basename
	if minLength := dirPrefixLength * dirPrefixDepth; len(padded) < minLength {
		padded = strings.Repeat("0", minLength-len(padded)) + padded
	}

	parts := []string{fsRepo.root}

	for i := range dirPrefixDepth {
		end := len(padded) - i*dirPrefixLength
		parts = append(parts, padded[end-dirPrefixLength:end])
	}

	return filepath.Join(append(parts, basename+"."+fsRepo.ext)...), nil
}

func (fsRepo *FileSystemRepository) initStorage(ctx context.Context) (err error) {
	var pruned int

	defer func() {
		if err != nil {
			fsRepo.log.ErrorContext(ctx, "init storage failed", "error", err)
		} else {
			fsRepo.log.DebugContext(ctx, "init storage", "pruned_temp_files", pruned)
		}
	}()

	if err := os.MkdirAll(fsRepo.root, 0o755); err != nil {
		return fmt.Errorf("mkdir all: %w", err)
	}

	err = filepath.WalkDir(fsRepo.root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil || entry.IsDir() || !strings.HasSuffix(entry.Name(), tempFileSuffix) {
			return err
		}

		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove temp file: %w", err)
		}

		pruned++

		return nil
	})
	if err != nil {
		return fmt.Errorf("prune temp files: %w", err)
	}

	return nil
}

func (fsRepo *FileSystemRepository) storeBlob(ctx context.Context, blob *domain.Blob) (err error) {
	log := fsRepo.log.With(logging.Group("blob", "id", blob.ID, "size", blob.Size()))

	defer func() {
		if err != nil {
			log.ErrorContext(ctx, "blob store failed", "error", err)
		} else {
			log.DebugContext(ctx, "blob stored")
		}
	}()

	filename, err := fsRepo.GetFilename(blob.ID)
	if err != nil {
		return err
	}

	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir all: %w", err)
	}

	file, err := os.CreateTemp(dir, "."+filepath.Base(filename)+".*"+tempFileSuffix)
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}

	defer func() {
		if err != nil {
			_ = file.Close()
			_ = os.Remove(file.Name())
		}
	}()

	if _, err := file.Write(fsRepo.codec.Encode(blob.Body)); err != nil {
		return fmt.Errorf("write: %w", err)
	}

	if err := file.Sync(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}

	if err := file.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}

	if err := os.Rename(file.Name(), filename); err != nil {
		return fmt.Errorf("rename: %w", err)
	}

	if err := syncDir(dir); err != nil {
		return fmt.Errorf("sync dir: %w", err)
	}

	return nil
}

// syncDir flushes the directory entry of a completed rename to disk.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err //nolint:wrapcheck
	}

	if err := d.Sync(); err != nil {
		_ = d.Close()

		return err //nolint:wrapcheck
	}

	return d.Close() //nolint:wrapcheck
}

func (fsRepo *FileSystemRepository) fetchBlob(
	ctx context.Context,
	blobID domain.BlobID,
) (blob *domain.Blob, err error) {
	log := fsRepo.log.With(logging.Group("blob", "id", blobID))

	defer func() {
		switch {
		case errors.Is(err, domain.ErrBlobNotFound):
			log.DebugContext(ctx, "blob not found")
		case err != nil:
			log.ErrorContext(ctx, "blob fetch failed", "error", err)
		default:
			log.DebugContext(ctx, "blob fetched", "size", blob.Size())
		}
	}()

	filename, err := fsRepo.GetFilename(blobID)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			err = errors.Join(domain.ErrBlobNotFound, err)
		}

		return nil, fmt.Errorf("read: %w", err)
	}

	body, err := fsRepo.codec.Decode(data)
	if err != nil {
		return nil, errors.Join(domain.ErrBlobCorrupt, err)
	}

	return domain.NewBlob(blobID, body), nil
}

func (fsRepo *FileSystemRepository) deleteBlob(ctx context.Context, id domain.BlobID) (err error) {
	log := fsRepo.log.With(logging.Group("blob", "id", id))

	defer func() {
		if err != nil {
			log.ErrorContext(ctx, "blob delete failed", "error", err)
		} else {
			log.DebugContext(ctx, "blob deleted")
		}
	}()

	filename, err := fsRepo.GetFilename(id)
	if err != nil {
		return err
	}

	if err := os.Remove(filename); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove: %w", err)
	}

	return nil
}

func (fsRepo *FileSystemRepository) listBlobs(ctx context.Context) (ids []domain.BlobID, err error) {
	suffix := "." + fsRepo.ext

	err = filepath.WalkDir(fsRepo.root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, suffix) {
			return nil
		}

		ids = append(ids, domain.BlobID(strings.TrimSuffix(name, suffix)))

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk: %w", err)
	}

	return ids, nil
}
