package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var (
	// Logger is the global logger instance
	Logger zerolog.Logger
)

// Level represents log level
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init initializes the global logger
func Init(cfg Config) {
	// Set log level
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

	// Configure output
	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	// Use JSON or console output
	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// WithComponent creates a child of the global Logger with a component
// field, for the one logger each long-lived collaborator (registry,
// dataplane service, ...) is constructed with.
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithTenant derives a child of base carrying a tenant field. Unlike
// WithComponent, this scopes a per-request logger handed to it by the
// caller rather than the package-global Logger, since the tenant is known
// only once a request arrives, not at component-construction time.
func WithTenant(base zerolog.Logger, tenant string) zerolog.Logger {
	return base.With().Str("tenant", tenant).Logger()
}

// WithRequestID derives a child of base carrying a request_id field, so
// every log line emitted while handling one request can be correlated.
func WithRequestID(base zerolog.Logger, requestID string) zerolog.Logger {
	return base.With().Str("request_id", requestID).Logger()
}

// WithObjectID derives a child of base carrying an object_id field, added
// once a request resolves the catalogue object it is operating on.
func WithObjectID(base zerolog.Logger, objectID string) zerolog.Logger {
	return base.With().Str("object_id", objectID).Logger()
}

// Helper functions for common logging patterns
func Info(msg string) {
	Logger.Info().Msg(msg)
}

func Debug(msg string) {
	Logger.Debug().Msg(msg)
}

func Warn(msg string) {
	Logger.Warn().Msg(msg)
}

func Error(msg string) {
	Logger.Error().Msg(msg)
}

func Errorf(format string, err error) {
	Logger.Error().Err(err).Msg(format)
}

func Fatal(msg string) {
	Logger.Fatal().Msg(msg)
}
