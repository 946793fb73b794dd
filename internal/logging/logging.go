// Package logging constructs the structured logger every Blackhole
// process uses in place of the teacher's plain log.Printf calls.
package logging

import (
	"os"

	"github.com/rs/zerolog"
)

// New builds a zerolog.Logger writing human-readable output to stderr at
// the given level. An unrecognized level falls back to info rather than
// failing startup over a typo'd BLACKHOLE_LOG_LEVEL.
func New(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		Level(lvl).
		With().
		Timestamp().
		Logger()
}
