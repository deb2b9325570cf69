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

// WithComponent creates a child logger with component field
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithRepo creates a child logger with repo_uri field, for fetch/RRDP
// worker output.
func WithRepo(repoURI string) zerolog.Logger {
	return Logger.With().Str("repo_uri", repoURI).Logger()
}

// WithTAL creates a child logger with tal field, for parser/validator
// output tied to a trust anchor's provenance.
func WithTAL(tal string) zerolog.Logger {
	return Logger.With().Str("tal", tal).Logger()
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

// CryptoWarn logs a non-fatal object-validation failure (spec.md 7's
// cryptowarnx class): the offending object is discarded but the run
// continues. path identifies the object on disk.
func CryptoWarn(path string, err error) {
	Logger.Warn().Str("path", path).Err(err).Msg("object rejected")
}

// CryptoFatal logs spec.md 7's kind-6 fatal class (a child process exiting
// unexpectedly, or any other condition the run cannot recover from) and
// terminates the process, unlike CryptoWarn's discard-and-continue.
func CryptoFatal(path string, err error) {
	Logger.Fatal().Str("path", path).Err(err).Msg("unrecoverable failure")
}
