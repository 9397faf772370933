package http_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	context_ "github.com/mkrupp/mediacache/internal/infra/context"
	"github.com/mkrupp/mediacache/internal/infra/logging"
	http_ "github.com/mkrupp/mediacache/internal/infra/transport/http"
)

func TestHandler_Tracing(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		requestID string
	}{
		{name: "propagates incoming request id", requestID: "incoming-id"},
		{name: "generates missing request id", requestID: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var seen string

			handler := http_.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen, _ = context_.TraceIDFromContext(r.Context())
			}), logging.NewNopLogger())

			req := httptest.NewRequest(http.MethodGet, "/stats", nil)
			if tt.requestID != "" {
				req.Header.Set(http_.TraceIDHeader, tt.requestID)
			}

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			require.NotEmpty(t, seen)
			assert.Equal(t, seen, rec.Header().Get(http_.TraceIDHeader))

			if tt.requestID != "" {
				assert.Equal(t, tt.requestID, seen)
			}
		})
	}
}

func TestHandler_Rescueing(t *testing.T) {
	t.Parallel()

	handler := http_.Handler(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}), logging.NewNopLogger())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sync", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
