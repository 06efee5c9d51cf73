// Package logger configures the process-wide slog logger and carries
// per-chunk attributes through a context so that stage code can log with
// consistent keys (stage, chunk, artifact).
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

type ctxKey string

const (
	stageKey ctxKey = "stage"
	chunkKey ctxKey = "chunk"
)

// Config holds logger configuration.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json, text
}

// Init installs the default slog logger writing to stderr.
func Init(cfg Config) {
	InitWriter(os.Stderr, cfg)
}

// InitWriter installs the default slog logger writing to w.
func InitWriter(w io.Writer, cfg Config) {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// ParseLevel maps a level name onto slog.Level. Unknown names yield info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// WithStage returns a context tagged with the pipeline stage name.
func WithStage(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, stageKey, stage)
}

// WithChunk returns a context tagged with a chunk index.
func WithChunk(ctx context.Context, index int) context.Context {
	return context.WithValue(ctx, chunkKey, index)
}

// FromContext returns the default logger enriched with the stage and chunk
// values stored in ctx.
func FromContext(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if ctx == nil {
		return l
	}
	if stage, ok := ctx.Value(stageKey).(string); ok && stage != "" {
		l = l.With("stage", stage)
	}
	if idx, ok := ctx.Value(chunkKey).(int); ok {
		l = l.With("chunk", idx)
	}
	return l
}
