package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/mkrupp/mediacache/internal/domain"
	"github.com/mkrupp/mediacache/internal/infra/config"
	context_ "github.com/mkrupp/mediacache/internal/infra/context"
	"github.com/mkrupp/mediacache/internal/infra/logging"
	http_ "github.com/mkrupp/mediacache/internal/infra/transport/http"
	"github.com/mkrupp/mediacache/internal/repo/blob"
	"github.com/mkrupp/mediacache/internal/repo/media"
	"github.com/mkrupp/mediacache/internal/svc/imagesvc"
	"github.com/mkrupp/mediacache/internal/svc/mediasvc"
	"github.com/mkrupp/mediacache/internal/svc/uploadsvc"
)

const (
	appName = "mediacache"
	svcName = "mediacached"
)

type Config struct {
	config.EnvConfig

	Log       logging.LoggerConfig                `envPrefix:"LOG_"`
	Media     mediasvc.MediaConfig                `envPrefix:"MEDIA_"`
	MediaHTTP mediasvc.HTTPTransportConfig        `envPrefix:"MEDIA_HTTP_"`
	SQLite    media.SQLiteMediaRepositoryConfig   `envPrefix:"SQLITE_"`
	Cache     media.CachedMediaRepositoryConfig   `envPrefix:"CACHE_"`
	Blob      blob.FileSystemBlobRepositoryConfig `envPrefix:"BLOB_"`
	Image     imagesvc.ImageConfig                `envPrefix:"IMAGE_"`
	Uploader  uploadsvc.UploaderConfig            `envPrefix:"UPLOADER_"`

	// SyncInterval is the time between two scheduled sync passes
	SyncInterval time.Duration `env:"SYNC_INTERVAL" default:"5m"`
}

type Flags struct {
	Once   bool
	NoHTTP bool
}

func main() {
	var (
		cfg   Config
		flags Flags
		ctx   = context.Background()

		configPrefix = strings.ToUpper(strings.Join([]string{appName, svcName}, "_"))
		loggerName   = strings.ToLower(strings.Join([]string{appName, svcName}, "."))
	)

	fs := pflag.NewFlagSet(svcName, pflag.ExitOnError)
	fs.BoolVar(&flags.Once, "once", false, "run a single sync pass and cleanup, then exit")
	fs.BoolVar(&flags.NoHTTP, "no-http", false, "do not serve the HTTP API")

	if err := fs.Parse(os.Args[1:]); err != nil {
		panic(err)
	}

	if err := config.Parse(ctx, &cfg, configPrefix); err != nil {
		panic(err)
	}

	logging.Configure(ctx, cfg.Log, loggerName)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, flags); err != nil {
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg Config, flags Flags) (err error) {
	log := logging.GetLogger("cmd.mediacached")

	defer func() {
		if err != nil {
			log.ErrorContext(ctx, "error", "err", err)
		} else {
			log.InfoContext(ctx, "shutdown")
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}), //nolint:exhaustruct
	)

	opts := []mediasvc.Option{mediasvc.WithMetrics(mediasvc.NewMetrics(registry))}

	if cfg.Image.Enabled {
		compressor, err := imagesvc.NewImageCompressor(cfg.Image)
		if err != nil {
			return fmt.Errorf("new image compressor: %w", err)
		}

		opts = append(opts, mediasvc.WithCompressor(compressor))
	}

	repoFactory := media.CachedMediaRepositoryFactory(cfg.Cache,
		media.SQLiteMediaRepositoryFactory(cfg.SQLite, blob.FileSystemBlobRepositoryFactory(cfg.Blob)),
	)

	mediaSvc := mediasvc.NewCacheMediaService(repoFactory, cfg.Media, opts...)
	defer func() {
		err = errors.Join(err, mediaSvc.Close())
	}()

	if err := mediaSvc.Open(ctx); err != nil {
		return fmt.Errorf("open media service: %w", err)
	}

	uploader, err := uploadsvc.NewUploader(ctx, cfg.Uploader)
	if err != nil {
		return fmt.Errorf("new uploader: %w", err)
	}

	upload := uploadsvc.UploadFunc(uploader)

	if flags.Once {
		return runOnce(ctx, mediaSvc, upload)
	}

	group, ctx := errgroup.WithContext(ctx)

	if upload != nil {
		group.Go(func() error {
			return mediasvc.RunSyncLoop(ctx, mediaSvc, upload, cfg.SyncInterval)
		})
	} else {
		log.WarnContext(ctx, "no uploader configured, sync disabled")
	}

	if !flags.NoHTTP {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})) //nolint:exhaustruct
		mux.Handle("/", mediasvc.NewHTTPTransport(mediaSvc, upload, cfg.MediaHTTP))

		group.Go(func() error {
			return http_.ListenAndServe(ctx, mux, cfg.MediaHTTP.HTTPTransportConfig)
		})
	}

	group.Go(func() error {
		<-ctx.Done()

		return nil
	})

	if err := group.Wait(); err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	return nil
}

// runOnce runs a cleanup and, if an uploader is configured, a single sync pass.
func runOnce(ctx context.Context, svc mediasvc.MediaService, upload domain.UploadFunc) error {
	ctx = context_.WithNewTraceID(ctx)
	log := logging.GetLogger("cmd.mediacached")

	evicted, err := svc.Cleanup(ctx)
	if err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}

	if upload == nil {
		log.InfoContext(ctx, "cleanup done, no uploader configured", "evicted", evicted)

		return nil
	}

	result, err := svc.SyncPending(ctx, upload, func(done, total int) {
		log.DebugContext(ctx, "sync progress", "done", done, "total", total)
	})
	if err != nil {
		return fmt.Errorf("sync pending: %w", err)
	}

	log.InfoContext(ctx, "sync done",
		"evicted", evicted,
		logging.Group("sync", "success", result.Success, "failed", result.Failed, "skipped", result.Skipped),
	)

	return nil
}
