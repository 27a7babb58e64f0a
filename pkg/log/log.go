// Package log provides Forge3D's structured logging on top of zerolog:
// a global component-tagged logger, plus a hook that mirrors every
// Warn-and-above record into errors.jsonl (spec.md section
// 6's append-only error log), separate from the primary stdout stream.
package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance. Init must run before any
// component logger is derived from it.
var Logger zerolog.Logger

// Level represents a logging verbosity threshold.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer

	// ErrorLogWriter, if set, receives a copy of every Warn-and-above
	// record as a JSON line — wired to errors.jsonl by cmd/forge3d-host.
	ErrorLogWriter io.Writer
}

// Init initializes the global logger.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case InfoLevel:
		level = zerolog.InfoLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	var base zerolog.Logger
	if cfg.JSONOutput {
		base = zerolog.New(output).With().Timestamp().Logger()
	} else {
		base = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}

	if cfg.ErrorLogWriter != nil {
		base = base.Hook(errorFileHook{w: cfg.ErrorLogWriter})
	}

	Logger = base
}

// errorFileHook appends a JSON line to a side file for every Warn-level
// and above record, implementing spec.md section 6's errors.jsonl.
type errorFileHook struct {
	w io.Writer
}

func (h errorFileHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	if level < zerolog.WarnLevel {
		return
	}
	line := zerolog.New(h.w).With().Timestamp().Logger()
	line.WithLevel(level).Msg(msg)
}

// WithComponent creates a child logger tagged with the owning component
// (store, bridge, scheduler, session, telemetry, api).
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithJobID creates a child logger tagged with a HistoryEntry ID.
func WithJobID(jobID string) zerolog.Logger {
	return Logger.With().Str("job_id", jobID).Logger()
}

// WithSessionID creates a child logger tagged with a Session ID.
func WithSessionID(sessionID string) zerolog.Logger {
	return Logger.With().Str("session_id", sessionID).Logger()
}

// WithCorrelationID creates a child logger tagged with an API
// correlation ID, matching the errorId surfaced to the caller.
func WithCorrelationID(id string) zerolog.Logger {
	return Logger.With().Str("error_id", id).Logger()
}

func Info(msg string)  { Logger.Info().Msg(msg) }
func Debug(msg string) { Logger.Debug().Msg(msg) }
func Warn(msg string)  { Logger.Warn().Msg(msg) }
func Error(msg string) { Logger.Error().Msg(msg) }

func Errorf(format string, err error) {
	Logger.Error().Err(err).Msg(format)
}

// Fatal logs at fatal level without exiting the process; callers on the
// Fatal-class error path (pkg/ferr.KindFatal) are expected to also write
// a crash report via pkg/crashreport and exit explicitly, matching
// spec.md section 7's "process aborts with a crash report" contract.
func Fatal(msg string) {
	Logger.Error().Str("class", "fatal").Msg(msg)
}
