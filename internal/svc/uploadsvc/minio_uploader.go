package uploadsvc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/mkrupp/mediacache/internal/infra/logging"
)

// ErrNoBucket is returned when no bucket is configured.
var ErrNoBucket = errors.New("no bucket configured")

// MinIOUploaderConfig holds configuration for uploads to MinIO or any S3 compatible store.
type MinIOUploaderConfig struct {
	// Endpoint is the host:port of the object store
	Endpoint string `env:"ENDPOINT" default:"localhost:9000"`

	AccessKeyID     string `env:"ACCESS_KEY_ID" default:""`
	SecretAccessKey string `env:"SECRET_ACCESS_KEY" default:""`

	// Bucket is created on start if it does not exist
	Bucket string `env:"BUCKET" default:"mediacache"`
	Region string `env:"REGION" default:""`

	// Secure enables TLS
	Secure bool `env:"SECURE" default:"false"`

	// KeyPrefix is prepended to the filename to build the object key
	KeyPrefix string `env:"KEY_PREFIX" default:"media/"`

	// PresignExpiry makes Upload return presigned URLs valid for the given duration.
	// 0 returns plain object URLs.
	PresignExpiry time.Duration `env:"PRESIGN_EXPIRY" default:"0s"`
}

// MinIOUploader implements Uploader on top of a MinIO bucket.
// The object key only depends on the filename, so a retried upload overwrites
// the previous attempt instead of duplicating it.
type MinIOUploader struct {
	client *minio.Client
	cfg    MinIOUploaderConfig
	log    logging.Logger
}

var _ Uploader = (*MinIOUploader)(nil)

// NewMinIOUploader connects to the object store and creates the bucket if needed.
func NewMinIOUploader(ctx context.Context, cfg MinIOUploaderConfig) (*MinIOUploader, error) {
	if cfg.Bucket == "" {
		return nil, ErrNoBucket
	}

	log := logging.GetLogger("svc.uploadsvc.minio_uploader").With(
		logging.Group("minio", "endpoint", cfg.Endpoint, "bucket", cfg.Bucket),
	)

	client, err := minio.New(cfg.Endpoint, &minio.Options{ //nolint:exhaustruct
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.Secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("new client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}

	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil { //nolint:exhaustruct
			return nil, fmt.Errorf("make bucket: %w", err)
		}

		log.InfoContext(ctx, "bucket created")
	}

	return &MinIOUploader{
		client: client,
		cfg:    cfg,
		log:    log,
	}, nil
}

// Upload implements Uploader.Upload.
func (u *MinIOUploader) Upload(ctx context.Context, data []byte, filename string) (location string, err error) {
	key := u.objectKey(filename)
	log := u.log.With(logging.Group("object", "key", key, "size", len(data)))

	defer func() {
		if err != nil {
			log.WarnContext(ctx, "object upload failed", "error", err)
		} else {
			log.DebugContext(ctx, "object uploaded")
		}
	}()

	info, err := u.client.PutObject(ctx, u.cfg.Bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: http.DetectContentType(data)}) //nolint:exhaustruct
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}

	if u.cfg.PresignExpiry > 0 {
		presigned, err := u.client.PresignedGetObject(ctx, u.cfg.Bucket, info.Key, u.cfg.PresignExpiry, url.Values{})
		if err != nil {
			return "", fmt.Errorf("presign: %w", err)
		}

		return presigned.String(), nil
	}

	return u.client.EndpointURL().JoinPath(u.cfg.Bucket, info.Key).String(), nil
}

func (u *MinIOUploader) objectKey(filename string) string {
	return u.cfg.KeyPrefix + path.Base(filename)
}
