// ABOUTME: Structured logging for the storage engine
// ABOUTME: Wraps zerolog with component sub-loggers and an engine error-state flag

package tslog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger wraps zerolog with Tismet-specific sub-logger helpers.
type Logger struct {
	zlog zerolog.Logger
}

// Config holds logger configuration.
type Config struct {
	Level      string // debug, info, warn, error
	Pretty     bool   // pretty-print for development
	Output     io.Writer
	WithCaller bool
}

// New creates a new structured logger.
func New(cfg Config) *Logger {
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	zlog := zerolog.New(output).
		With().
		Timestamp().
		Str("service", "tismet").
		Logger()

	if cfg.WithCaller {
		zlog = zlog.With().Caller().Logger()
	}

	return &Logger{zlog: zlog}
}

// GetZerolog returns the underlying zerolog logger.
func (l *Logger) GetZerolog() *zerolog.Logger {
	return &l.zlog
}

func (l *Logger) Info(msg string) *zerolog.Event  { return l.zlog.Info().Str("msg", msg) }
func (l *Logger) Debug(msg string) *zerolog.Event { return l.zlog.Debug().Str("msg", msg) }
func (l *Logger) Warn(msg string) *zerolog.Event  { return l.zlog.Warn().Str("msg", msg) }
func (l *Logger) Error(msg string) *zerolog.Event { return l.zlog.Error().Str("msg", msg) }

// Fatal logs a fatal-severity invariant violation. Unlike zerolog's own
// Fatal, this never calls os.Exit — an embedded engine must not kill
// its host process — the caller is expected to also flip the engine's
// error-state flag surfaced through QueryStats.
func (l *Logger) Fatal(msg string) *zerolog.Event {
	return l.zlog.Error().Str("msg", msg).Bool("fatal", true)
}

// Component returns a sub-logger tagged with the given component name,
// mirroring the teacher's per-subsystem logger pattern (wal, pagecache,
// engine, recovery, checkpoint).
func (l *Logger) Component(name string) *Logger {
	return &Logger{zlog: l.zlog.With().Str("component", name).Logger()}
}

// LogOperation logs a named operation's outcome with duration, the same
// shape as the teacher's LogDbOperation/LogGrpcRequest helpers.
func (l *Logger) LogOperation(operation string, duration time.Duration, err error) {
	event := l.zlog.Debug().Str("operation", operation).Dur("duration_ms", duration)
	if err != nil {
		event = l.zlog.Error().Str("operation", operation).Dur("duration_ms", duration).Err(err)
	}
	event.Msg("operation completed")
}

func (l *Logger) LogEngineOpen(path string, instanceID string) {
	l.zlog.Info().
		Str("event", "engine_open").
		Str("path", path).
		Str("instance_id", instanceID).
		Msg("tismet engine opened")
}

func (l *Logger) LogEngineClose() {
	l.zlog.Info().Str("event", "engine_close").Msg("tismet engine closed")
}

func (l *Logger) LogCheckpoint(lsn uint64, duration time.Duration) {
	l.zlog.Info().
		Str("event", "checkpoint").
		Uint64("lsn", lsn).
		Dur("duration_ms", duration).
		Msg("checkpoint completed")
}

var globalLogger *Logger

// InitGlobal initializes the global logger and points zerolog's own
// package-level log.Logger at it, so libraries that log through
// rs/zerolog/log share the same sink.
func InitGlobal(cfg Config) {
	globalLogger = New(cfg)
	log.Logger = *globalLogger.GetZerolog()
}

func Global() *Logger {
	if globalLogger == nil {
		InitGlobal(Config{Level: "info", Pretty: true})
	}
	return globalLogger
}
