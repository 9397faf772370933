package logging

import (
	"log/slog"
)

// NewNopLogger creates a logger that discards all output.
// Returned by GetLogger while logging is unconfigured or set to "discard".
func NewNopLogger() Logger {
	return slog.New(slog.DiscardHandler)
}
