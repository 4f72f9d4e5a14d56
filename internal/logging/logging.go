// Package logging is a context-carried slog logger. Attributes added with
// WithAttrs travel with the context and are emitted on every record.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

type ctxAttrsKey struct{}

var (
	mu   sync.RWMutex
	base = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
)

// Setup replaces the process logger. level is one of debug, info, warn, error.
func Setup(w io.Writer, level string) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: parseLevel(level)}))
	mu.Lock()
	base = logger
	mu.Unlock()
	slog.SetDefault(logger)
	return logger
}

func Logger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

func WithAttrs(ctx context.Context, attrs ...slog.Attr) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(attrs) == 0 {
		return ctx
	}
	current := Attrs(ctx)
	next := make([]slog.Attr, 0, len(current)+len(attrs))
	next = append(next, current...)
	next = append(next, attrs...)
	return context.WithValue(ctx, ctxAttrsKey{}, next)
}

func Attrs(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	attrs, _ := ctx.Value(ctxAttrsKey{}).([]slog.Attr)
	return attrs
}

func Debug(ctx context.Context, msg string, attrs ...slog.Attr) {
	emit(ctx, slog.LevelDebug, msg, attrs...)
}

func Info(ctx context.Context, msg string, attrs ...slog.Attr) {
	emit(ctx, slog.LevelInfo, msg, attrs...)
}

func Warn(ctx context.Context, msg string, attrs ...slog.Attr) {
	emit(ctx, slog.LevelWarn, msg, attrs...)
}

func Error(ctx context.Context, msg string, attrs ...slog.Attr) {
	emit(ctx, slog.LevelError, msg, attrs...)
}

func emit(ctx context.Context, level slog.Level, msg string, attrs ...slog.Attr) {
	if ctx == nil {
		ctx = context.Background()
	}
	scoped := Attrs(ctx)
	all := make([]slog.Attr, 0, len(scoped)+len(attrs))
	all = append(all, scoped...)
	all = append(all, attrs...)
	Logger().LogAttrs(ctx, level, msg, all...)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
