package ecp

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with index-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithBuildID adds a build id field to the logger.
func (l *Logger) WithBuildID(id string) *Logger {
	return &Logger{
		Logger: l.Logger.With("build_id", id),
	}
}

// WithK adds a k (neighbor count) field to the logger.
func (l *Logger) WithK(k int) *Logger {
	return &Logger{
		Logger: l.Logger.With("k", k),
	}
}

// WithDimension adds a dimension field to the logger.
func (l *Logger) WithDimension(dim int) *Logger {
	return &Logger{
		Logger: l.Logger.With("dimension", dim),
	}
}

// LogPhase logs the end of a build phase.
func (l *Logger) LogPhase(ctx context.Context, phase string, duration time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "build phase failed",
			"phase", phase,
			"duration", duration,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "build phase completed",
			"phase", phase,
			"duration", duration,
		)
	}
}

// LogTree logs the shape of a built or loaded tree.
func (l *Logger) LogTree(ctx context.Context, levels, nodeSize, totalClusters, totalItems int) {
	l.InfoContext(ctx, "tree ready",
		"levels", levels,
		"node_size", nodeSize,
		"clusters", totalClusters,
		"items", totalItems,
	)
}

// LogCommit logs a committed manifest version.
func (l *Logger) LogCommit(ctx context.Context, version uint64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "commit failed",
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "commit completed",
			"version", version,
		)
	}
}

// LogSearch logs a search operation.
func (l *Logger) LogSearch(ctx context.Context, k, budget, resultsFound int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "search failed",
			"k", k,
			"budget", budget,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "search completed",
			"k", k,
			"budget", budget,
			"results", resultsFound,
		)
	}
}
