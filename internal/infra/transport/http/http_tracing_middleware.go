package http

import (
	"net/http"

	context_ "github.com/mkrupp/mediacache/internal/infra/context"
)

const TraceIDHeader = "X-Request-ID"

// TracingMiddleware creates middleware that adds request tracing.
// It uses the X-Request-ID header if present, otherwise generates a new trace id.
// The trace ID is added to the request context and echoed in the response.
func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(TraceIDHeader)
		if traceID == "" {
			traceID = context_.NewTraceID()
		}

		w.Header().Set(TraceIDHeader, traceID)

		next.ServeHTTP(w, r.WithContext(context_.WithTraceID(r.Context(), traceID)))
	})
}
