package avesync

import (
	"os"

	"github.com/rs/zerolog"
)

var defaultLogger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
	With().Timestamp().Str("component", "avesync").Logger()

var pkgLogger Logger = &defaultLogger

// Logger receives the package warnings and lifecycle traces. Both
// *zerolog.Logger and *log.Logger satisfy it.
//
// A *zerolog.Logger gets leveled events: warnings at warn level, traces at
// debug level. Any other logger gets plain Printf lines, warnings prefixed
// with "WARNING: ".
type Logger interface {
	Printf(format string, v ...any)
}

// SetLogger replaces the package logger. By default logs go to stderr
// through zerolog.
func SetLogger(logger Logger) {
	pkgLogger = logger
}

func warnf(format string, v ...any) {
	if zl, ok := pkgLogger.(*zerolog.Logger); ok {
		zl.Warn().Msgf(format, v...)
		return
	}
	pkgLogger.Printf("WARNING: "+format, v...)
}

func debugf(format string, v ...any) {
	if zl, ok := pkgLogger.(*zerolog.Logger); ok {
		zl.Debug().Msgf(format, v...)
		return
	}
	pkgLogger.Printf(format, v...)
}
