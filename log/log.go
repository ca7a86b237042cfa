// Package log provides leveled structured logging for the rvsim emulator.
// It wraps Go's log/slog with an extra Trace level below Debug, used for
// per-instruction execution records. The level is selected through the
// RVSIM_LOG environment variable (error, warn, info, debug, trace).
package log

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// LevelTrace sits below slog.LevelDebug and carries one record per
// executed instruction.
const LevelTrace = slog.Level(-8)

// EnvVar is the environment variable consulted for the default log level.
const EnvVar = "RVSIM_LOG"

// Logger wraps slog.Logger with emulator-specific context.
type Logger struct {
	inner *slog.Logger
}

// defaultLogger is the process-wide logger used by the package-level
// convenience functions.
var defaultLogger *Logger

func init() {
	defaultLogger = New(LevelFromEnv())
}

// LevelFromEnv parses the RVSIM_LOG environment variable. Unset or
// unrecognized values select Info.
func LevelFromEnv() slog.Level {
	return ParseLevel(os.Getenv(EnvVar))
}

// ParseLevel maps a level name to a slog.Level. Unrecognized names map to
// Info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "trace":
		return LevelTrace
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

// New creates a Logger that writes text to stderr at the given level.
func New(level slog.Level) *Logger {
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelTrace {
					a.Value = slog.StringValue("TRACE")
				}
			}
			return a
		},
	})
	return &Logger{inner: slog.New(h)}
}

// NewWithHandler creates a Logger backed by the supplied slog.Handler.
// Useful for testing or for writing to a custom destination.
func NewWithHandler(h slog.Handler) *Logger {
	return &Logger{inner: slog.New(h)}
}

// SetDefault replaces the package-level default logger.
func SetDefault(l *Logger) {
	if l != nil {
		defaultLogger = l
	}
}

// Default returns the current package-level default logger.
func Default() *Logger {
	return defaultLogger
}

// Module returns a child logger with an additional "module" attribute.
// Subsystems (loader, emu, syscall, ...) obtain their contextual logger
// this way.
func (l *Logger) Module(name string) *Logger {
	return &Logger{inner: l.inner.With("module", name)}
}

// With returns a child logger with additional key-value context.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{inner: l.inner.With(args...)}
}

// TraceEnabled reports whether Trace records are emitted. The executor
// checks this before formatting per-instruction records.
func (l *Logger) TraceEnabled() bool {
	return l.inner.Enabled(context.Background(), LevelTrace)
}

// Trace logs at LevelTrace.
func (l *Logger) Trace(msg string, args ...any) { l.inner.Log(context.Background(), LevelTrace, msg, args...) }

// Debug logs at LevelDebug.
func (l *Logger) Debug(msg string, args ...any) { l.inner.Debug(msg, args...) }

// Info logs at LevelInfo.
func (l *Logger) Info(msg string, args ...any) { l.inner.Info(msg, args...) }

// Warn logs at LevelWarn.
func (l *Logger) Warn(msg string, args ...any) { l.inner.Warn(msg, args...) }

// Error logs at LevelError.
func (l *Logger) Error(msg string, args ...any) { l.inner.Error(msg, args...) }

// Package-level convenience functions, delegating to the default logger.

// Trace logs at LevelTrace using the default logger.
func Trace(msg string, args ...any) { defaultLogger.Trace(msg, args...) }

// Debug logs at LevelDebug using the default logger.
func Debug(msg string, args ...any) { defaultLogger.Debug(msg, args...) }

// Info logs at LevelInfo using the default logger.
func Info(msg string, args ...any) { defaultLogger.Info(msg, args...) }

// Warn logs at LevelWarn using the default logger.
func Warn(msg string, args ...any) { defaultLogger.Warn(msg, args...) }

// Error logs at LevelError using the default logger.
func Error(msg string, args ...any) { defaultLogger.Error(msg, args...) }
