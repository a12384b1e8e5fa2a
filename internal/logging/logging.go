// Package logging configures the zerolog logger used for pool lifecycle
// events (connection growth, discards, retries, checkout timeouts).
package logging

import (
	"os"

	"github.com/rs/zerolog"
)

func init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
}

// New returns a logger tagged with the driver scheme it serves, writing
// structured JSON to stderr at info level by default.
func New(scheme string) zerolog.Logger {
	level := zerolog.InfoLevel
	if v := os.Getenv("DBPOOL_LOG_LEVEL"); v != "" {
		if parsed, err := zerolog.ParseLevel(v); err == nil {
			level = parsed
		}
	}
	return zerolog.New(os.Stderr).
		Level(level).
		With().
		Timestamp().
		Str("component", "dbpool").
		Str("scheme", scheme).
		Logger()
}
