package vango

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with vango-specific helpers so operations log
// consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a Logger with the given handler.
// If handler is nil, a text handler to stderr at Info level is used.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewJSONLogger creates a Logger emitting JSON to stderr.
func NewJSONLogger(level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))}
}

// NewTextLogger creates a Logger emitting human-readable text to stderr.
func NewTextLogger(level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))}
}

// NoopLogger creates a Logger that discards all output.
func NoopLogger() *Logger {
	return &Logger{Logger: slog.New(slog.DiscardHandler)}
}

// LogInsert logs one insert outcome.
func (l *Logger) LogInsert(ctx context.Context, id string, dimension int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "insert failed", "id", id, "dimension", dimension, "error", err)
	} else {
		l.DebugContext(ctx, "insert buffered", "id", id, "dimension", dimension)
	}
}

// LogBatchInsert logs a batch insert outcome.
func (l *Logger) LogBatchInsert(ctx context.Context, count, failed int) {
	if failed > 0 {
		l.WarnContext(ctx, "batch insert completed with failures",
			"total", count,
			"failed", failed,
			"success", count-failed,
		)
	} else {
		l.InfoContext(ctx, "batch insert completed", "count", count)
	}
}

// LogSearch logs a search outcome.
func (l *Logger) LogSearch(ctx context.Context, k, found int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "search failed", "k", k, "error", err)
	} else {
		l.DebugContext(ctx, "search completed", "k", k, "results", found)
	}
}

// LogTrain logs a compressor training outcome.
func (l *Logger) LogTrain(ctx context.Context, samples int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "compressor training failed", "samples", samples, "error", err)
	} else {
		l.InfoContext(ctx, "compressor trained", "samples", samples)
	}
}

// LogCheckpoint logs a checkpoint outcome.
func (l *Logger) LogCheckpoint(ctx context.Context, path string, count int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "checkpoint failed", "path", path, "error", err)
	} else {
		l.InfoContext(ctx, "checkpoint saved", "path", path, "count", count)
	}
}

// LogRecovery logs a snapshot recovery outcome.
func (l *Logger) LogRecovery(ctx context.Context, count int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "recovery failed", "error", err)
	} else {
		l.InfoContext(ctx, "recovery completed", "count", count)
	}
}
