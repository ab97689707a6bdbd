// Package logging configures zerolog for the export pipeline.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	// Set global log level
	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	// Configure output
	var output io.Writer = cfg.Output
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: cfg.Output}
	}

	// Create logger with timestamp
	logger := zerolog.New(output).With().Timestamp().Logger()

	// Set as global logger
	log.Logger = logger

	return logger
}

// parseLevel converts LogLevel to zerolog.Level, defaulting to Info.
func parseLevel(level LogLevel) zerolog.Level {
	lvl, ok := ParseLevel(string(level))
	if !ok {
		return zerolog.InfoLevel
	}
	switch lvl {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// ParseLevel reports whether s names a supported level.
func ParseLevel(s string) (LogLevel, bool) {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug, true
	case "info":
		return LevelInfo, true
	case "warn", "warning":
		return LevelWarn, true
	case "error":
		return LevelError, true
	default:
		return "", false
	}
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Cache operations (hit/miss, TTL)
//   - Individual registry requests
//   - Per-chunk partitioning details
//
// Info: Normal operation events
//   - Chunk fetched and reconciled
//   - Run completion summary
//   - Output files written
//
// Warn: Conditions that drop data but do not stop the run
//   - Reconciliation misses
//   - Duplicate studies
//   - Skipped chunks (skip policy)
//   - Records skipped for excessive nesting or colliding paths
//   - Cache errors (fallback to direct request)
//
// Error: Conditions that stop the run
//   - Aborted fetch (abort policy)
//   - Unreadable input or unwritable output
//   - Configuration errors
//
// Context Fields:
//   - run_id: Pipeline run identifier
//   - chunk: Zero-based chunk index
//   - identifiers: Identifiers in a chunk (or their count)
//   - identifier: A single study identifier
//   - status: HTTP status code
//   - error_class: Error classification (client, server, network, decode)
//   - duration: Elapsed time
