package domain

import (
	"crypto/sha256"
	"time"

	"github.com/mkrupp/mediacache/internal/util/encoding"
)

// MediaMeta contains the metadata of a cached media record.
type MediaMeta struct {
	ID             MediaID   `json:"id"`             // Unique identifier
	Filename       string    `json:"filename"`       // Caller-supplied filename
	OriginalSize   int64     `json:"originalSize"`   // Size before compression in bytes
	CompressedSize int64     `json:"compressedSize"` // Size of the stored payload in bytes
	Timestamp      time.Time `json:"timestamp"`      // Creation time, orders eviction
	MIMEType       string    `json:"mimeType"`       // MIME type
	Uploaded       bool      `json:"uploaded"`       // Confirmed in remote storage
	UploadURL      string    `json:"uploadUrl,omitempty"`
	Checksum       string    `json:"checksum"` // SHA-256 of the payload (Crockford Base32)
}

// Checksum returns the Crockford Base32 encoded SHA-256 hash of data.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)

	return encoding.EncodeCrockfordB32LC(sum[:])
}
