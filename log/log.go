package log

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps a zerolog.Logger configured for the rootchain services.
type Logger struct {
	zerolog.Logger
}

// New creates a logger writing to stdout with the given level.
// Unknown levels fall back to info.
func New(level string, pretty bool) *Logger {
	return NewWithWriter(os.Stdout, level, pretty)
}

// NewWithWriter creates a logger writing to w.
func NewWithWriter(w io.Writer, level string, pretty bool) *Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	out := w
	if pretty {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	l := zerolog.New(out).
		Level(ParseLevel(level)).
		With().
		Timestamp().
		Str("service", "rootchain").
		Logger()

	return &Logger{Logger: l}
}

// ParseLevel converts a textual level into a zerolog level.
func ParseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}
