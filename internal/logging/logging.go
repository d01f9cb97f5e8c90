// Package logging configures the zerolog logger shared by every decoder
// package. Structured fields (domain, code, path) are attached at each
// call site rather than baked into the message string, matching the
// teacher's fmt.Errorf("%w: %w", ...) wrapping discipline but for events
// that are recovered locally and never surface as a Go error.
package logging

import (
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	once   sync.Once
	logger zerolog.Logger
)

// L returns the process-wide logger, initialized on first use with a
// JSON encoder writing to stderr. The
// level defaults to info; set PINNA_LOG_LEVEL to override ("debug",
// "warn", ...).
func L() *zerolog.Logger {
	once.Do(func() {
		level := zerolog.InfoLevel
		if lvl, err := zerolog.ParseLevel(os.Getenv("PINNA_LOG_LEVEL")); err == nil {
			level = lvl
		}

		logger = zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
	})

	return &logger
}

// Recovered logs a per-packet hiccup that the decode loop absorbed
// locally (spec's "recover locally" policy) at debug level: these are
// expected, not operator-actionable.
func Recovered(subsystem, kind string, err error) {
	L().Debug().Str("subsystem", subsystem).Str("kind", kind).Err(err).Msg("recovered decode hiccup")
}
