package context

import (
	"context"

	"github.com/google/uuid"

	"github.com/mkrupp/mediacache/internal/util/encoding"
)

const contextKeyTraceID = contextKey("traceID")

// NewTraceID returns a new time-ordered trace id, Crockford Base32 encoded.
func NewTraceID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return ""
	}

	return encoding.EncodeCrockfordB32LC(id[:])
}

// TraceIDFromContext extracts the trace ID from the context.
// Returns the trace ID and true if present, or empty string and false if not present.
func TraceIDFromContext(ctx context.Context) (string, bool) {
	traceID, ok := ctx.Value(contextKeyTraceID).(string)

	return traceID, ok
}

// WithTraceID creates a new context with the given trace ID value.
// Sync passes and HTTP requests carry one so their log lines can be correlated.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, contextKeyTraceID, traceID)
}

// WithNewTraceID is a shorthand for WithTraceID(ctx, NewTraceID()).
func WithNewTraceID(ctx context.Context) context.Context {
	return WithTraceID(ctx, NewTraceID())
}
