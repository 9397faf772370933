package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"sync"
)

const (
	ansiCodeReset     = "\033[0m"
	ansiCodeRed       = "\033[31m"
	ansiCodeGreen     = "\033[32m"
	ansiCodeYellow    = "\033[33m"
	ansiCodeCyan      = "\033[36m"
	ansiCodeGray      = "\033[90m"
	ansiCodeUnderline = "\033[4m"
)

const (
	ansiCodeDebug = ansiCodeCyan
	ansiCodeInfo  = ansiCodeGreen
	ansiCodeWarn  = ansiCodeYellow
	ansiCodeError = ansiCodeRed
)

//nolint:gochecknoglobals
var ansiCodeMap = map[slog.Level]string{
	slog.LevelDebug: ansiCodeDebug,
	slog.LevelInfo:  ansiCodeInfo,
	slog.LevelWarn:  ansiCodeWarn,
	slog.LevelError: ansiCodeError,
}

// ConsoleHandler implements slog.Handler to format log records with ansiCodes
// and human-readable output suitable for development environments.
type ConsoleHandler struct {
	// Output is the destination for log output (typically os.Stdout or os.Stderr)
	Output io.Writer
	// Level is the minimum level for loggers without an override
	Level slog.Level
	// PkgLevels maps dotted logger names to minimum log levels
	PkgLevels map[string]slog.Level

	attrs  []slog.Attr
	groups []string
	name   string
	mu     *sync.Mutex
}

var _ slog.Handler = (*ConsoleHandler)(nil)

// Handle implements slog.Handler by formatting the log record with ansiCodes,
// timestamps, and source file information.
func (h *ConsoleHandler) Handle(ctx context.Context, r slog.Record) error {
	attrs := make([]slog.Attr, 0, r.NumAttrs()+len(h.attrs))

	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, a)

		return true
	})

	attrs = append(attrs, h.attrs...)

	var line strings.Builder

	line.WriteString(ansiCodeGray + r.Time.Format("15:04:05.000000") + ansiCodeReset)
	line.WriteString(" " + ansiCodeMap[r.Level] + "[" + r.Level.String() + "]" + ansiCodeReset)
	line.WriteString(" " + r.Message)

	var prefix string

	if len(h.groups) > 0 {
		prefix = strings.Join(h.groups, ".") + "."
	}

	if len(attrs) > 0 {
		line.WriteString(" " + ansiCodeGray + "|" + ansiCodeReset)
		h.renderAttrs(&line, prefix, attrs)
	}

	if r.PC != 0 {
		frames := runtime.CallersFrames([]uintptr{r.PC})
		frame, _ := frames.Next()
		fn := strings.Split(frame.Function, string(os.PathSeparator))

		line.WriteString("\n-> " + ansiCodeGray + fn[len(fn)-1] + "()")
		line.WriteString(" in " + ansiCodeUnderline + frame.File + ":" + strconv.Itoa(frame.Line) + ansiCodeReset)
	}

	if h.mu != nil {
		h.mu.Lock()
		defer h.mu.Unlock()
	}

	if _, err := fmt.Fprintln(h.Output, line.String()); err != nil {
		return fmt.Errorf("write log line: %w", err)
	}

	return nil
}

func (h *ConsoleHandler) renderAttrs(out *strings.Builder, prefix string, attrs []slog.Attr) {
	for _, attr := range attrs {
		if attr.Value.Kind() == slog.KindGroup {
			h.renderAttrs(out, prefix+attr.Key+".", attr.Value.Group())

			continue
		}

		out.WriteString(" " + prefix + attr.Key)
		out.WriteString("=" + ansiCodeGray + attr.Value.String() + ansiCodeReset)
	}
}

// WithAttrs implements slog.Handler.WithAttrs.
func (h *ConsoleHandler) WithAttrs(attrs []slog.Attr) Handler {
	clone := h.clone()
	clone.attrs = append(slices.Clip(h.attrs), attrs...)

	for _, attr := range attrs {
		if attr.Key == LoggerKey && len(h.groups) == 0 {
			clone.name = attr.Value.String()
		}
	}

	return clone
}

// WithGroup implements slog.Handler.WithGroup.
func (h *ConsoleHandler) WithGroup(name string) Handler {
	clone := h.clone()
	clone.groups = append(slices.Clip(h.groups), name)

	return clone
}

// Enabled implements slog.Handler.Enabled.
func (h *ConsoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= levelFor(h.name, h.PkgLevels, h.Level)
}

func (h *ConsoleHandler) clone() *ConsoleHandler {
	mu := h.mu
	if mu == nil {
		mu = new(sync.Mutex)
	}

	return &ConsoleHandler{
		Output:    h.Output,
		Level:     h.Level,
		PkgLevels: h.PkgLevels,
		attrs:     h.attrs,
		groups:    h.groups,
		name:      h.name,
		mu:        mu,
	}
}
