// Package logging configures the process-wide zerolog logger used by the
// migrator and hands out per-component child loggers.
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
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// Component names attached to child loggers.
const (
	ComponentClient      = "pandascore-client"
	ComponentPagination  = "pagination"
	ComponentDownload    = "downloader"
	ComponentTransform   = "transformer"
	ComponentImages      = "image-resolver"
	ComponentUpload      = "upload-coordinator"
	ComponentBarrier     = "barrier"
	ComponentPipeline    = "pipeline"
	ComponentManifest    = "manifest"
	ComponentDestination = "destination"
	ComponentJournal     = "journal"
	ComponentCLI         = "cli"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output instead of JSON.
	Pretty bool

	// Output defaults to os.Stderr when nil.
	Output io.Writer
}

// DefaultConfig returns JSON logging at info level on stderr.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger and returns it.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(ParseLevel(string(cfg.Level)))

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out}
	}

	logger := zerolog.New(out).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

// ParseLevel converts a level name to a zerolog.Level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a child of the global logger tagged with component.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: page requests, cache hits, blob short-circuits, barrier polls
// Info:  collection fetched, record uploaded, manifest flushed, run summary
// Warn:  download retries, failed collection fetch, image left unresolved
// Error: document persist failures, retry exhaustion, bootstrap failures
//
// Context Fields:
//   - collection: destination collection / group name
//   - endpoint: PandaScore endpoint path
//   - page: page number being fetched
//   - record_id: id of the record being migrated
//   - path: destination blob path ({group}/{id}.{ext})
//   - attempt, backoff: download retry state
//   - run_id: journal run identifier
