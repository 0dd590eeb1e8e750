package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// New builds a logger writing JSON lines, or human readable console output
// when format is "console". Unknown levels fall back to info.
func New(w io.Writer, level, format string) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	if format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// Setup installs the logger as the global zerolog logger and returns it
func Setup(level, format string) zerolog.Logger {
	logger := New(os.Stderr, level, format)
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = logger
	return logger
}
