package http

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/mkrupp/mediacache/internal/infra/logging"
)

// RescueingMiddleware creates middleware that recovers from panics in HTTP handlers.
// The panic and its stack are logged and the client receives a 500.
func RescueingMiddleware(next http.Handler, log logging.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			p := recover()
			if p == nil {
				return
			}

			if p == http.ErrAbortHandler { //nolint:errorlint,err113
				panic(p)
			}

			log.ErrorContext(r.Context(), "request panic", slog.Group("http",
				"uri", r.RequestURI,
				"method", r.Method,
			), slog.Group("error",
				"panic", p,
				"stack", string(debug.Stack()),
			))

			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}()

		next.ServeHTTP(w, r)
	})
}
