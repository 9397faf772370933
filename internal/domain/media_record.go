package domain

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrMediaNotFound is returned when no record exists for the requested id.
	ErrMediaNotFound = errors.New("media not found")

	// ErrDuplicateKey is returned when a record with the same id already exists.
	ErrDuplicateKey = errors.New("duplicate media id")

	// ErrUploadFlagRegression is returned when an update would reset the upload flag
	// of a record that has already been uploaded.
	ErrUploadFlagRegression = errors.New("upload flag cannot be reset")
)

// MediaRecord is a stored payload together with its metadata.
// It is the atomic unit of the cache: either all of it exists or none of it does.
type MediaRecord struct {
	Meta MediaMeta
	Data []byte
}

// NewMediaRecord creates a record for data, deriving the stored size and checksum.
// If meta.OriginalSize is not set it defaults to the payload size.
func NewMediaRecord(meta MediaMeta, data []byte) *MediaRecord {
	meta.CompressedSize = int64(len(data))
	meta.Checksum = Checksum(data)

	if meta.OriginalSize <= 0 {
		meta.OriginalSize = meta.CompressedSize
	}

	return &MediaRecord{
		Meta: meta,
		Data: data,
	}
}

// ID returns the record's unique identifier.
func (r *MediaRecord) ID() MediaID {
	return r.Meta.ID
}

// Reader returns a seekable reader over the record's payload.
func (r *MediaRecord) Reader() io.ReadSeeker {
	return bytes.NewReader(r.Data)
}

// AsBlob converts the record's payload to a Blob keyed by the record id.
func (r *MediaRecord) AsBlob() *Blob {
	return NewBlob(r.Meta.ID, r.Data)
}

// Verify checks that the payload matches the recorded checksum and size.
func (r *MediaRecord) Verify() error {
	if size := int64(len(r.Data)); size != r.Meta.CompressedSize {
		return fmt.Errorf("%w: size %d, expected %d", ErrBlobCorrupt, size, r.Meta.CompressedSize)
	}

	if sum := Checksum(r.Data); sum != r.Meta.Checksum {
		return fmt.Errorf("%w: checksum %s, expected %s", ErrBlobCorrupt, sum, r.Meta.Checksum)
	}

	return nil
}
