// Package logger holds the process-wide slog logger and the request-scoped
// values (request id, pipeline stage) that get attached to log lines.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

type ctxKey struct{ name string }

var (
	requestIDKey = ctxKey{"request_id"}
	stageKey     = ctxKey{"stage"}
)

var current atomic.Pointer[slog.Logger]

// Options configures the process logger.
type Options struct {
	// Level is debug, info, warn or error. Anything else means info.
	Level string
	// Format is "json" or "text".
	Format string
	// Output defaults to stderr.
	Output io.Writer
}

// Init builds the process logger from opts and installs it as the slog
// default. Calling it again replaces the previous logger.
func Init(opts Options) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	handlerOpts := &slog.HandlerOptions{Level: parseLevel(opts.Level)}

	var h slog.Handler
	if strings.EqualFold(opts.Format, "json") {
		h = slog.NewJSONHandler(out, handlerOpts)
	} else {
		h = slog.NewTextHandler(out, handlerOpts)
	}

	l := slog.New(h)
	current.Store(l)
	slog.SetDefault(l)
	return l
}

func parseLevel(s string) slog.Level {
	if strings.EqualFold(s, "warning") {
		return slog.LevelWarn
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// Default returns the logger installed by Init, or slog.Default before that.
func Default() *slog.Logger {
	if l := current.Load(); l != nil {
		return l
	}
	return slog.Default()
}

// WithContext returns Default with the request id and stage from ctx attached.
func WithContext(ctx context.Context) *slog.Logger {
	l := Default()
	if id := RequestID(ctx); id != "" {
		l = l.With("request_id", id)
	}
	if st := Stage(ctx); st != "" {
		l = l.With("stage", st)
	}
	return l
}

func SetRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// SetStage records which pipeline step (ocr, prompt, generate, detect, chat)
// is running.
func SetStage(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, stageKey, stage)
}

func Stage(ctx context.Context) string {
	st, _ := ctx.Value(stageKey).(string)
	return st
}

func Info(msg string, args ...any) { Default().Info(msg, args...) }
