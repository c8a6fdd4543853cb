package logging

import (
	"log/slog"
	"sync/atomic"
)

var traceEnabled atomic.Bool

// SetTrace toggles per-sample trace logging (LOS profiles, cache lookups).
func SetTrace(on bool) { traceEnabled.Store(on) }

// TraceEnabled reports whether trace logging is on.
func TraceEnabled() bool { return traceEnabled.Load() }

// Trace logs a message at DEBUG level, but only if tracing is enabled.
// Hot loops call this so they pay a single atomic load when it is off.
func Trace(logger *slog.Logger, msg string, args ...any) {
	if traceEnabled.Load() {
		logger.Debug(msg, args...)
	}
}

// TraceDefault logs to the default logger if tracing is enabled.
func TraceDefault(msg string, args ...any) {
	if traceEnabled.Load() {
		slog.Debug(msg, args...)
	}
}
