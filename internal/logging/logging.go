// Package logging configures slog and provides attribute helpers so every
// package logs calendars, events and errors under the same keys.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Common log attribute keys.
const (
	KeyCalendar  = "calendar"
	KeyEvent     = "event"
	KeyEventID   = "event_id"
	KeyStart     = "start"
	KeyOperation = "operation"
	KeyStore     = "store"
	KeyError     = "error"
)

// Setup returns a text logger writing to stderr at the given level.
func Setup(level string) *slog.Logger {
	return New(os.Stderr, level)
}

// New returns a text logger writing to w at the given level.
func New(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)}))
}

// ParseLevel maps debug, warn and error to their slog levels; anything else is info.
func ParseLevel(level string) slog.Level {
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

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// WithStore returns a logger with the store attribute set.
func WithStore(logger *slog.Logger, store string) *slog.Logger {
	return logger.With(slog.String(KeyStore, store))
}

// Calendar returns a slog attribute for a calendar ID.
func Calendar(id string) slog.Attr {
	return slog.String(KeyCalendar, id)
}

// Event returns a slog attribute for an event summary.
func Event(summary string) slog.Attr {
	return slog.String(KeyEvent, summary)
}

// EventID returns a slog attribute for a store event ID.
func EventID(id string) slog.Attr {
	return slog.String(KeyEventID, id)
}

// Start returns a slog attribute for an event start.
func Start(start string) slog.Attr {
	return slog.String(KeyStart, start)
}

// Operation returns a slog attribute for the operation name.
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// Err returns a slog attribute for an error.
// If err is nil, returns an empty Group attribute that slog omits from output.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Group("")
	}
	return slog.String(KeyError, err.Error())
}
