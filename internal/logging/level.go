// ABOUTME: Log level parsing shared by the CLI and tests.
// ABOUTME: Adds a trace level below slog's debug for sequence correlation logs.

package logging

import (
	"log/slog"
	"strings"
)

// LevelTrace sits below slog.LevelDebug and is used for per-request correlation lines.
const LevelTrace = slog.Level(-8)

// ParseLevel converts a configured level name into a slog.Level.
// Unknown or empty names fall back to info.
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

// LevelName renders a level, naming LevelTrace explicitly.
func LevelName(level slog.Level) string {
	if level <= LevelTrace {
		return "TRACE"
	}
	return level.String()
}
