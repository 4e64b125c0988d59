package config

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// InitLogger builds the root logger for the given level string. Unknown
// levels fall back to info. Output goes to stderr in human-readable form so
// stdout stays clean for command output.
func InitLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	console := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}

	return zerolog.New(console).
		Level(lvl).
		With().
		Timestamp().
		Logger()
}
