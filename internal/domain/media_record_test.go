package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/mkrupp/mediacache/internal/domain"
)

func TestNewMediaRecord(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		meta         domain.MediaMeta
		data         []byte
		wantOriginal int64
	}{
		{
			name:         "defaults original size to payload size",
			meta:         domain.MediaMeta{ID: "a", Filename: "a.jpg"},
			data:         []byte("payload"),
			wantOriginal: 7,
		},
		{
			name:         "keeps explicit original size",
			meta:         domain.MediaMeta{ID: "b", Filename: "b.jpg", OriginalSize: 1024},
			data:         []byte("small"),
			wantOriginal: 1024,
		},
		{
			name:         "handles empty payload",
			meta:         domain.MediaMeta{ID: "c", Filename: "c.bin"},
			data:         []byte{},
			wantOriginal: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			record := domain.NewMediaRecord(tt.meta, tt.data)

			if record.Meta.CompressedSize != int64(len(tt.data)) {
				t.Errorf("CompressedSize = %d, want %d", record.Meta.CompressedSize, len(tt.data))
			}

			if record.Meta.OriginalSize != tt.wantOriginal {
				t.Errorf("OriginalSize = %d, want %d", record.Meta.OriginalSize, tt.wantOriginal)
			}

			if record.Meta.Checksum != domain.Checksum(tt.data) {
				t.Errorf("Checksum = %q, want %q", record.Meta.Checksum, domain.Checksum(tt.data))
			}

			if err := record.Verify(); err != nil {
				t.Errorf("Verify() error = %v", err)
			}
		})
	}
}

func TestMediaRecord_Verify(t *testing.T) {
	t.Parallel()

	record := domain.NewMediaRecord(domain.MediaMeta{ID: "x", Timestamp: time.Now()}, []byte("original"))

	tampered := *record
	tampered.Data = []byte("origina1")

	if err := tampered.Verify(); !errors.Is(err, domain.ErrBlobCorrupt) {
		t.Errorf("Verify() error = %v, want %v", err, domain.ErrBlobCorrupt)
	}

	truncated := *record
	truncated.Data = []byte("orig")

	if err := truncated.Verify(); !errors.Is(err, domain.ErrBlobCorrupt) {
		t.Errorf("Verify() error = %v, want %v", err, domain.ErrBlobCorrupt)
	}
}

func TestNewMediaID(t *testing.T) {
	t.Parallel()

	seen := make(map[domain.MediaID]struct{})

	for range 1000 {
		id := domain.NewMediaID()
		if _, ok := seen[id]; ok {
			t.Fatalf("duplicate id %q", id)
		}

		seen[id] = struct{}{}
	}
}
