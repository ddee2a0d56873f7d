// Package log defines the public logging interface the runtime and its
// collaborators depend on, so that a caller can supply any backing
// implementation (structured, no-op, test capture, ...).
package log

import (
	"context"
	"log/slog"
)

// Logger is the logging contract used throughout the runtime. It mirrors
// the small, level-based surface the rest of the codebase expects,
// independent of the concrete backing implementation.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})

	// Log emits a message at an explicit slog.Level with structured attrs.
	Log(level slog.Level, msg string, args ...interface{})

	// LogCtx emits a message carrying a context, so handlers can attach
	// context-scoped data (e.g. trace/span IDs).
	LogCtx(ctx context.Context, level slog.Level, msg string, args ...interface{})

	// With returns a child logger with the given structured attributes
	// attached to every subsequent record.
	With(args ...interface{}) Logger
}
