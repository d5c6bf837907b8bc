package logger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
)

const scopeName = "GuideMemory"

// SetLogger installs the default slog logger. With otelLogs every record is
// also emitted through the global OpenTelemetry logger provider.
func SetLogger(level string, otelLogs bool) {
	slog.SetDefault(slog.New(newHandler(os.Stdout, level, otelLogs)))
}

func newHandler(w io.Writer, level string, otelLogs bool) slog.Handler {
	var provider otellog.LoggerProvider
	if otelLogs {
		provider = global.GetLoggerProvider()
	}
	return handlerFor(w, parseLevel(level), provider)
}

// handlerFor writes text to w and, when provider is set, bridges the same
// records to OpenTelemetry at the same level.
func handlerFor(w io.Writer, level slog.Level, provider otellog.LoggerProvider) slog.Handler {
	var h slog.Handler = slog.NewTextHandler(w, returnOpts(level))
	if provider != nil {
		bridge := otelslog.NewHandler(scopeName, otelslog.WithLoggerProvider(provider))
		h = fanout{h, leveled{Handler: bridge, level: level}}
	}
	return h
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func returnOpts(level slog.Level) *slog.HandlerOptions {
	return &slog.HandlerOptions{
		Level:     level,
		AddSource: true,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.String("time", a.Value.Time().Format("15:04:05"))
			}
			if a.Key == slog.SourceKey {
				source, _ := a.Value.Any().(*slog.Source)
				if source != nil {
					return slog.String("src", filepath.Base(source.File)+":"+strconv.Itoa(source.Line))
				}
			}
			return a
		},
	}
}

type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, l slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var err error
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			err = errors.Join(err, h.Handle(ctx, r.Clone()))
		}
	}
	return err
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}

// leveled applies the configured minimum level to a handler that has none.
type leveled struct {
	slog.Handler
	level slog.Level
}

func (l leveled) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= l.level && l.Handler.Enabled(ctx, level)
}

func (l leveled) WithAttrs(attrs []slog.Attr) slog.Handler {
	return leveled{Handler: l.Handler.WithAttrs(attrs), level: l.level}
}

func (l leveled) WithGroup(name string) slog.Handler {
	return leveled{Handler: l.Handler.WithGroup(name), level: l.level}
}
