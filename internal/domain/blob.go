package domain

import "errors"

var (
	// ErrBlobNotFound is returned when no payload is stored under the requested id.
	ErrBlobNotFound = errors.New("blob not found")

	// ErrBlobCorrupt is returned when a stored payload does not match its recorded checksum.
	ErrBlobCorrupt = errors.New("blob corrupt")
)

// Blob represents a binary large object with an identifier and content.
type Blob struct {
	ID   BlobID
	Body []byte
}

// NewBlob creates a new Blob with the given ID and content.
func NewBlob(id BlobID, body []byte) *Blob {
	return &Blob{
		ID:   id,
		Body: body,
	}
}

// Size returns the size of the blob's content in bytes.
func (blob *Blob) Size() int64 {
	return int64(len(blob.Body))
}

// Bytes returns the blob's content as a byte slice.
func (blob *Blob) Bytes() []byte {
	return blob.Body
}
