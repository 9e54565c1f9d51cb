package internal

import (
	"io"
	"log/slog"
	"strings"
)

// ServiceName tags every log line so sitewatch output can be picked out of a
// shared collector.
const ServiceName = "sitewatch"

// NewLogger builds the root logger. Development gets human-readable text
// with source locations at debug level; everything else gets JSON.
func NewLogger(w io.Writer, env string, level string) *slog.Logger {
	logLevel := ParseLogLevel(level)

	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: env == "development" && logLevel == slog.LevelDebug,
	}

	var handler slog.Handler
	if env == "development" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler).With("service", ServiceName, "env", env)
}

// ParseLogLevel maps a LOG_LEVEL value to a slog level. Unknown values fall
// back to info.
func ParseLogLevel(level string) slog.Level {
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
