package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide structured logger. The supervisor owns stdout
// redirection after the double fork, so this daemon never manages its own
// rotating log file the way a desktop app would.
var Logger zerolog.Logger

// LogLevel mirrors the handful of severities the daemon actually emits.
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

// LogConfig configures the process-wide logger.
type LogConfig struct {
	Level      LogLevel
	Console    bool
	TimeFormat string
}

// DefaultLogConfig returns the config used by the worker process.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:      LogLevelInfo,
		Console:    true,
		TimeFormat: time.RFC3339,
	}
}

// InitLogger (re)initializes the global Logger.
func InitLogger(config LogConfig) error {
	var level zerolog.Level
	switch config.Level {
	case LogLevelDebug:
		level = zerolog.DebugLevel
	case LogLevelInfo:
		level = zerolog.InfoLevel
	case LogLevelWarn:
		level = zerolog.WarnLevel
	case LogLevelError:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}

	var out zerolog.ConsoleWriter
	if config.Console {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: config.TimeFormat}
	} else {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: config.TimeFormat}
	}

	Logger = zerolog.New(out).Level(level).With().Timestamp().Logger()
	return nil
}

// LogDebug/LogInfo/LogWarn/LogError are convenience entry points tagged with
// the emitting module, mirroring the per-module loggers below.
func LogDebug(module string) *zerolog.Event { return Logger.Debug().Str("module", module) }
func LogInfo(module string) *zerolog.Event  { return Logger.Info().Str("module", module) }
func LogWarn(module string) *zerolog.Event  { return Logger.Warn().Str("module", module) }
func LogError(module string) *zerolog.Event { return Logger.Error().Str("module", module) }

// Module-specific loggers, one per component named in SPEC_FULL §2.
func SwitcherLog() *zerolog.Event   { return Logger.Info().Str("module", "switcher") }
func WatcherLog() *zerolog.Event    { return Logger.Info().Str("module", "watcher") }
func ForegroundLog() *zerolog.Event { return Logger.Info().Str("module", "foreground") }
func PowerLog() *zerolog.Event      { return Logger.Info().Str("module", "power") }
func FpsLog() *zerolog.Event        { return Logger.Info().Str("module", "fps") }
func ConfigLog() *zerolog.Event     { return Logger.Info().Str("module", "config") }
func RPCLog() *zerolog.Event        { return Logger.Info().Str("module", "rpc") }
func SupervisorLog() *zerolog.Event { return Logger.Info().Str("module", "supervisor") }

// OperationTimer times a slow operation and logs its duration on End/EndWithError,
// mirroring the teacher's operation-timing convenience wrapper.
type OperationTimer struct {
	module    string
	operation string
	start     time.Time
	details   map[string]interface{}
}

// StartOperation begins timing an operation under the given module tag.
func StartOperation(module, operation string) *OperationTimer {
	return &OperationTimer{module: module, operation: operation, start: time.Now(), details: map[string]interface{}{}}
}

// AddDetail attaches a structured field to be logged when the timer ends.
func (t *OperationTimer) AddDetail(key string, value interface{}) {
	t.details[key] = value
}

// End logs successful completion with elapsed duration.
func (t *OperationTimer) End() {
	evt := Logger.Info().Str("module", t.module).Str("operation", t.operation).
		Dur("elapsed", time.Since(t.start))
	for k, v := range t.details {
		evt = evt.Interface(k, v)
	}
	evt.Msg("operation completed")
}

// EndWithError logs a failed operation with elapsed duration and the error.
func (t *OperationTimer) EndWithError(err error) {
	evt := Logger.Error().Str("module", t.module).Str("operation", t.operation).
		Dur("elapsed", time.Since(t.start)).Err(err)
	for k, v := range t.details {
		evt = evt.Interface(k, v)
	}
	evt.Msg("operation failed")
}
