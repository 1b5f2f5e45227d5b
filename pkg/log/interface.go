// Package log provides a structured logging interface for WebEnsemble.
//
// The Logger interface mirrors the method set of log/slog so that callers are
// not tied to a backend. The default backend is zerolog (see ZerologLogger);
// tests capture output with TestLogger.
//
// Example usage:
//
//	logger := log.GetLoggerWithName("ensemble").With(
//	    log.ModelNameKey, "RandomForestMSE",
//	)
//	logger.Info("fit finished",
//	    log.OperationKey, log.OperationFit,
//	    log.SamplesKey, 1000,
//	    log.LossKey, 0.42,
//	)
package log

import (
	"context"
)

// Logger is a structured, leveled logger. Fields are alternating key/value pairs.
type Logger interface {
	// Debug logs detailed diagnostic information, e.g. per-member progress.
	Debug(msg string, fields ...any)

	// Info logs general operational information.
	Info(msg string, fields ...any)

	// Warn logs a condition that did not stop the operation.
	Warn(msg string, fields ...any)

	// Error logs a failure. Pass the error itself under the "error" key.
	Error(msg string, fields ...any)

	// With returns a logger that adds fields to every entry.
	With(fields ...any) Logger

	// Enabled reports whether entries at level would be written.
	Enabled(ctx context.Context, level Level) bool
}

// Level is a log severity, numerically compatible with slog.Level.
type Level int

const (
	LevelDebug Level = -4
	LevelInfo  Level = 0
	LevelWarn  Level = 4
	LevelError Level = 8
)

// String returns the upper-case level name.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// LoggerProvider hands out loggers that share one backend.
type LoggerProvider interface {
	// GetLogger returns the root logger.
	GetLogger() Logger

	// GetLoggerWithName returns a logger tagged with a component name.
	GetLoggerWithName(name string) Logger

	// SetLevel changes the minimum level of every logger from this provider.
	SetLevel(level Level)
}
