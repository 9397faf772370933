package domain

// BlobID is a string-based identifier for blob objects.
// Payload blobs share the id of the media record they belong to.
type BlobID string

// String returns the string representation of the BlobID.
func (id BlobID) String() string {
	return string(id)
}
