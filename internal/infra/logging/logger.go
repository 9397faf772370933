package logging

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Constants for log levels that match slog.Level values.
const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// LoggerKey is the attribute key holding the dotted logger name, e.g. "repo.media.sqlite".
const LoggerKey = "logger"

// Type aliases for commonly used slog types.
type (
	Logger  = *slog.Logger
	Handler = slog.Handler
	Level   = slog.Level
)

//nolint:gochecknoglobals
var logLevelStrToLevel = map[string]Level{
	"debug": LevelDebug,
	"info":  LevelInfo,
	"warn":  LevelWarn,
	"error": LevelError,
}

// LoggerConfig holds configuration parameters for logging.
type LoggerConfig struct {
	// AppName is the application identifier added to all log entries
	AppName string

	// Output specifies where logs are written ("stdout", "stderr", "discard" or a file path)
	Output string `env:"OUTPUT" default:"stderr"`

	// Level sets the minimum log level ("debug", "info", "warn", "error")
	Level string `env:"LEVEL" default:"info"`

	// Filter specifies logger-level overrides ("repo.media:debug,svc:warn")
	Filter string `env:"FILTER" default:""`

	// JSON enables JSON-formatted output instead of human-readable console output
	JSON bool `env:"JSON" default:"false"`

	OutputHandle io.Writer
}

//nolint:gochecknoglobals
var (
	Group      = slog.Group
	GroupValue = slog.GroupValue

	config     LoggerConfig
	configLock sync.Mutex
)

// Configure sets up global logging configuration for the application.
// Loggers created before the call keep writing to the previous output.
func Configure(ctx context.Context, cfg LoggerConfig, appName string) {
	configure(cfg, appName)

	GetLogger("infra.logging").With(Group("config",
		"appName", appName,
		"output", cfg.Output,
		"level", cfg.Level,
		"filter", cfg.Filter,
		"json", cfg.JSON,
	)).DebugContext(ctx, "logging configured")
}

func configure(cfg LoggerConfig, appName string) {
	configLock.Lock()
	defer configLock.Unlock()

	config = cfg
	config.AppName = appName

	if cfg.OutputHandle == nil {
		switch cfg.Output {
		case "", "discard":
			config.OutputHandle = io.Discard
		case "stdout":
			config.OutputHandle = os.Stdout
		case "stderr":
			config.OutputHandle = os.Stderr
		default:
			file, err := os.OpenFile(cfg.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
			if err != nil {
				panic(fmt.Errorf("open log file: %w", err))
			}

			config.OutputHandle = file
		}
	}

	slog.SetLogLoggerLevel(parseLogLevel(config.Level, LevelInfo))
}

// GetLogLogger creates a standard library *log.Logger that writes through a slog.Logger.
// Used for http.Server.ErrorLog.
func GetLogLogger(logger Logger, level Level) *log.Logger {
	handler := logger.With("stdlog", true).Handler()

	return slog.NewLogLogger(handler, level)
}

// GetLogger creates a new logger with the given dotted name using the global configuration.
// The name is attached under LoggerKey and is what Filter overrides match against.
func GetLogger(name string) Logger {
	configLock.Lock()
	cfg := config
	configLock.Unlock()

	output := cfg.OutputHandle
	if output == nil || output == io.Discard {
		return NewNopLogger()
	}

	level := parseLogLevel(cfg.Level, LevelInfo)

	var handler slog.Handler

	if cfg.JSON {
		//nolint:exhaustruct
		handler = &FilteringHandler{
			h: slog.NewJSONHandler(output, &slog.HandlerOptions{
				AddSource: true,
				Level:     LevelDebug,
			}),
			Level:     level,
			PkgLevels: cfg.getPkgLevels(),
			name:      name,
		}
	} else {
		//nolint:exhaustruct
		handler = &ConsoleHandler{
			Output:    output,
			Level:     level,
			PkgLevels: cfg.getPkgLevels(),
		}
	}

	logger := slog.New(NewTracingHandler(handler))

	if cfg.AppName != "" {
		logger = logger.With("app", cfg.AppName)
	}

	return logger.With(LoggerKey, name)
}

func (cfg LoggerConfig) getPkgLevels() map[string]slog.Level {
	levels := make(map[string]slog.Level)

	for _, pkgLevel := range strings.Split(cfg.Filter, ",") {
		parts := strings.Split(strings.TrimSpace(pkgLevel), ":")
		if len(parts) != 2 {
			continue
		}

		levels[parts[0]] = parseLogLevel(parts[1], LevelDebug)
	}

	return levels
}

func parseLogLevel(levelStr string, fallback Level) Level {
	levelStr = strings.TrimSpace(levelStr)
	levelStr = strings.ToLower(levelStr)

	level, ok := logLevelStrToLevel[levelStr]
	if !ok {
		return fallback
	}

	return level
}

// levelFor resolves the minimum level for the logger called name, walking
// from the most to the least specific dotted prefix before falling back.
func levelFor(name string, pkgLevels map[string]slog.Level, fallback slog.Level) slog.Level {
	for key := name; key != ""; {
		if level, ok := pkgLevels[key]; ok {
			return level
		}

		idx := strings.LastIndex(key, ".")
		if idx < 0 {
			break
		}

		key = key[:idx]
	}

	return fallback
}
