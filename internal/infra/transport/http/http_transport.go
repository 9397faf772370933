package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/mkrupp/mediacache/internal/infra/logging"
)

// HTTPTransportConfig contains configuration parameters for HTTP servers.
type HTTPTransportConfig struct {
	// ServerAddr is the network address to listen on
	ServerAddr string `env:"SERVER_ADDR" default:"127.0.0.1:8080"`

	// ReadHeaderTimeout bounds reading request headers
	ReadHeaderTimeout time.Duration `env:"READ_HEADER_TIMEOUT" default:"5s"`

	// ReadTimeout bounds reading a whole request, including captured media bodies
	ReadTimeout time.Duration `env:"READ_TIMEOUT" default:"60s"`

	// WriteTimeout bounds writing a response; sync passes answer only when done
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT" default:"10m"`

	// ShutdownTimeout bounds the graceful shutdown once the context is done
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// HTTPTransport defines the interface for HTTP handlers that can serve requests.
type HTTPTransport interface {
	http.Handler
}

// Handler wraps handler with the standard middleware chain: tracing, logging and
// panic recovery.
func Handler(handler HTTPTransport, log logging.Logger) http.Handler {
	handler = RescueingMiddleware(handler, log)
	handler = LoggingMiddleware(handler, log)
	handler = TracingMiddleware(handler)

	return handler
}

// ListenAndServe starts an HTTP server with the given handler and configuration.
// It blocks until ctx is done, then shuts the server down gracefully.
// Returns an error if the server fails to start or encounters an error while running.
func ListenAndServe(ctx context.Context, handler HTTPTransport, cfg HTTPTransportConfig) (err error) {
	log := logging.GetLogger("infra.transport.http").With(logging.Group("http", "addr", cfg.ServerAddr))

	//nolint:exhaustruct
	server := &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           Handler(handler, log),
		ErrorLog:          logging.GetLogLogger(log, logging.LevelError),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	sock, err := net.Listen("tcp", cfg.ServerAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.WarnContext(ctx, "shutdown failed", "error", err)
			_ = server.Close()
		}
	})
	defer stop()

	log.InfoContext(ctx, "listening")

	if err := server.Serve(sock); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}

	return nil
}
