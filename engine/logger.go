package engine

import (
	"io"
	"log/slog"
)

// newLogger builds the engine's own logger. It never touches the global
// default, so engines keep isolated log streams.
func newLogger(level slog.Level, format string, out io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(out, opts))
	}
	return slog.New(slog.NewTextHandler(out, opts))
}
