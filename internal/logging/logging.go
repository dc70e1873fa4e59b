// Package logging configures the slog loggers used by bury.
package logging

import (
	"io"
	"log/slog"
	"strings"
)

// LevelSilent sits above every standard level and suppresses all records.
const LevelSilent = slog.Level(100)

// Options controls how a logger is built.
type Options struct {
	// Level is the minimum level emitted.
	Level slog.Level
	// JSON selects the JSON handler instead of the text handler.
	JSON bool
}

// New creates a logger writing to w.
func New(w io.Writer, opts Options) *slog.Logger {
	handlerOpts := &slog.HandlerOptions{Level: opts.Level}
	if opts.JSON {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: LevelSilent}))
}

// ParseLevel converts a level name to a slog.Level.
// Unrecognized names map to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "silent", "off", "none":
		return LevelSilent
	default:
		return slog.LevelInfo
	}
}

// LevelFromFlags maps CLI flags to a level:
// quiet silences, debug wins over verbose, the default is warn.
func LevelFromFlags(verbose, debug, quiet bool) slog.Level {
	switch {
	case quiet:
		return LevelSilent
	case debug:
		return slog.LevelDebug
	case verbose:
		return slog.LevelInfo
	default:
		return slog.LevelWarn
	}
}
