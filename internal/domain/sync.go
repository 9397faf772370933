package domain

import (
	"context"
	"errors"
)

// ErrUploadFailed wraps failures reported by an upload capability.
var ErrUploadFailed = errors.New("upload failed")

// UploadFunc pushes a payload to remote storage and returns its remote URL.
// It must be safe to call again for the same payload after a failure.
type UploadFunc func(ctx context.Context, data []byte, filename string) (string, error)

// ProgressFunc is called after each record of a sync pass with the 1-based
// position of the record and the size of the pass.
type ProgressFunc func(done, total int)

// SyncResult holds the outcome of a sync pass.
type SyncResult struct {
	Success int `json:"success"`
	Failed  int `json:"failed"`
	// Skipped counts records that disappeared or were uploaded elsewhere
	// between the snapshot and their turn.
	Skipped int `json:"skipped"`
}
