package logging

import (
	"context"
	"log/slog"
)

// FilteringHandler applies the global and per-logger minimum levels to a
// wrapped handler that does not know about logger names (e.g. slog.JSONHandler).
type FilteringHandler struct {
	// Level is the minimum level for loggers without an override
	Level slog.Level
	// PkgLevels maps dotted logger names to minimum log levels
	PkgLevels map[string]slog.Level

	h    slog.Handler
	name string
}

var _ slog.Handler = (*FilteringHandler)(nil)

// Handle implements slog.Handler.
func (h *FilteringHandler) Handle(ctx context.Context, r slog.Record) error {
	//nolint:wrapcheck
	return h.h.Handle(ctx, r)
}

// WithAttrs implements slog.Handler.WithAttrs.
func (h *FilteringHandler) WithAttrs(attrs []slog.Attr) Handler {
	name := h.name

	for _, attr := range attrs {
		if attr.Key == LoggerKey {
			name = attr.Value.String()
		}
	}

	return &FilteringHandler{
		Level:     h.Level,
		PkgLevels: h.PkgLevels,
		h:         h.h.WithAttrs(attrs),
		name:      name,
	}
}

// WithGroup implements slog.Handler.WithGroup.
func (h *FilteringHandler) WithGroup(name string) Handler {
	return &FilteringHandler{
		Level:     h.Level,
		PkgLevels: h.PkgLevels,
		h:         h.h.WithGroup(name),
		name:      h.name,
	}
}

// Enabled implements slog.Handler.Enabled.
func (h *FilteringHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= levelFor(h.name, h.PkgLevels, h.Level)
}
