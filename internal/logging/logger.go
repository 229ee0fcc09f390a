// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: Copyright The LanceDB Authors

// Package logging wraps slog with the field names used across lancedb.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with table-oriented helpers.
type Logger struct {
	*slog.Logger
}

// New wraps l, or returns the default logger when l is nil.
func New(l *slog.Logger) *Logger {
	if l == nil {
		return Default()
	}
	return &Logger{Logger: l}
}

// Default logs warnings and errors as text to stderr.
func Default() *Logger {
	return NewTextLogger(os.Stderr, slog.LevelWarn)
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(w io.Writer, level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
func NewJSONLogger(w io.Writer, level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))}
}

// NoopLogger discards all output.
func NoopLogger() *Logger {
	return NewTextLogger(io.Discard, slog.Level(1000))
}

// WithTable tags every record with the table name.
func (l *Logger) WithTable(name string) *Logger {
	return &Logger{Logger: l.Logger.With("table", name)}
}

// LogMutation logs a committed (or failed) mutation.
func (l *Logger) LogMutation(ctx context.Context, op string, version int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "mutation failed", "op", op, "error", err)
		return
	}
	l.DebugContext(ctx, "mutation committed", "op", op, "version", version)
}

// LogQuery logs an executed query.
func (l *Logger) LogQuery(ctx context.Context, kind string, rows int, elapsed time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "query failed", "kind", kind, "error", err)
		return
	}
	l.DebugContext(ctx, "query completed", "kind", kind, "rows", rows, "elapsed", elapsed)
}

// LogOptimize logs the outcome of an optimize run.
func (l *Logger) LogOptimize(ctx context.Context, versionsPruned, fragmentsRemoved, fragmentsAdded int, bytesRemoved int64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "optimize failed", "error", err)
		return
	}
	l.InfoContext(ctx, "optimize completed",
		"versions_pruned", versionsPruned,
		"fragments_removed", fragmentsRemoved,
		"fragments_added", fragmentsAdded,
		"bytes_removed", bytesRemoved,
	)
}

// LogRequest logs a remote HTTP round trip.
func (l *Logger) LogRequest(ctx context.Context, method, path string, status int, elapsed time.Duration, err error) {
	if err != nil {
		l.WarnContext(ctx, "request failed", "method", method, "path", path, "status", status, "error", err)
		return
	}
	l.DebugContext(ctx, "request completed", "method", method, "path", path, "status", status, "elapsed", elapsed)
}
