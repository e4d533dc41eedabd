// Package logger provides a lightweight, centralized logging facility
// with configurable verbosity levels.
//
// Design goals:
//   - Simple API (Errorf, Infof, Debugf, Tracef)
//   - Centralized verbosity control
//   - Zero formatting logic at call sites
//   - Structured output via zerolog, optional rotating file sink
//
// Verbosity levels (in increasing order):
//
//	Error < Info < Debug < Trace
//
// Example usage:
//
//	logger.SetVerbosity(2) // Debug
//	logger.Infof("starting engine")
//	logger.Debugf("spot=%f vol=%f", spot, vol)
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Level represents a logging verbosity level.
// Higher values mean more verbose logging.
type Level int

const (
	Error Level = iota // Error logs only critical failures.
	Info               // Info logs high-level application progress.
	Debug              // Debug logs detailed diagnostic information.
	Trace              // Trace logs very fine-grained execution details.
)

// log is the package-wide zerolog logger. It defaults to a console
// writer on stderr so logs stay separated from program output.
var log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
	With().Timestamp().Logger()

// current holds the active verbosity level.
// Only messages with level <= current are logged.
var current = Info

// SetVerbosity sets the global logging verbosity.
// Typically called once during application startup
// (e.g. after parsing CLI flags).
func SetVerbosity(v int) {
	current = Level(v)
	switch {
	case v <= 0:
		log = log.Level(zerolog.ErrorLevel)
	case v == 1:
		log = log.Level(zerolog.InfoLevel)
	case v == 2:
		log = log.Level(zerolog.DebugLevel)
	default:
		log = log.Level(zerolog.TraceLevel)
	}
}

// SetFile adds a rotating file sink alongside the console writer.
// maxSizeMB and maxBackups follow lumberjack semantics.
func SetFile(path string, maxSizeMB, maxBackups int) {
	if path == "" {
		return
	}
	fileWriter := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
	}
	multi := io.MultiWriter(
		zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339},
		fileWriter,
	)
	log = zerolog.New(multi).With().Timestamp().Logger().Level(log.GetLevel())
}

// Errorf logs an error-level message.
// Use this for failures that require attention.
func Errorf(format string, args ...any) {
	if current >= Error {
		log.Error().Msgf(format, args...)
	}
}

// Infof logs an informational message.
// Use this for major lifecycle events.
func Infof(format string, args ...any) {
	if current >= Info {
		log.Info().Msgf(format, args...)
	}
}

// Debugf logs debugging information.
// Use this for diagnostic output useful during development.
func Debugf(format string, args ...any) {
	if current >= Debug {
		log.Debug().Msgf(format, args...)
	}
}

// Tracef logs very detailed execution traces.
// Use this sparingly due to high volume.
func Tracef(format string, args ...any) {
	if current >= Trace {
		log.Trace().Msgf(format, args...)
	}
}
