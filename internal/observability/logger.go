package observability

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ServiceName is stamped on every log line.
const ServiceName = "slr-pipeline"

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	// Level is one of trace, debug, info, warn, error, fatal, panic.
	// Unknown values fall back to info.
	Level string

	// Format is json, or console/pretty for human-readable output.
	Format string

	// Output is stdout or stderr.
	Output string

	// AddSource adds the caller's file and line.
	AddSource bool

	// TimeFormat defaults to RFC3339.
	TimeFormat string
}

// DefaultLoggingConfig returns the settings used when none are configured.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:      "info",
		Format:     "json",
		Output:     "stdout",
		TimeFormat: time.RFC3339,
	}
}

// NewLogger builds the process logger. It also sets zerolog's global level
// and time format, which the Temporal bridge and package-level loggers share.
func NewLogger(cfg LoggingConfig) zerolog.Logger {
	timeFormat := cfg.TimeFormat
	if timeFormat == "" {
		timeFormat = time.RFC3339
	}
	zerolog.TimeFieldFormat = timeFormat

	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	lc := zerolog.New(writerFor(cfg, timeFormat)).
		Level(level).
		With().
		Timestamp().
		Str("service", ServiceName)
	if cfg.AddSource {
		lc = lc.Caller()
	}
	return lc.Logger()
}

func writerFor(cfg LoggingConfig, timeFormat string) io.Writer {
	var out io.Writer = os.Stdout
	if strings.EqualFold(cfg.Output, "stderr") {
		out = os.Stderr
	}

	switch strings.ToLower(cfg.Format) {
	case "console", "pretty":
		return zerolog.ConsoleWriter{Out: out, TimeFormat: timeFormat}
	default:
		return out
	}
}

func parseLevel(level string) zerolog.Level {
	s := strings.ToLower(strings.TrimSpace(level))
	if s == "warning" {
		s = "warn"
	}
	lvl, err := zerolog.ParseLevel(s)
	if err != nil || s == "" || lvl == zerolog.NoLevel || lvl == zerolog.Disabled {
		return zerolog.InfoLevel
	}
	return lvl
}

// WithSourceContext tags a logger with a bibliographic source and its query.
func WithSourceContext(logger zerolog.Logger, source, query string) zerolog.Logger {
	return logger.With().
		Str("source", source).
		Str("query", query).
		Logger()
}

// WithArticleContext tags a logger with the article and pipeline stage.
func WithArticleContext(logger zerolog.Logger, externalID, stage string) zerolog.Logger {
	return logger.With().
		Str("external_id", externalID).
		Str("stage", stage).
		Logger()
}

// WithJobContext tags a logger with a job and where it runs.
func WithJobContext(logger zerolog.Logger, jobID, jobType, queue string) zerolog.Logger {
	return logger.With().
		Str("job_id", jobID).
		Str("job_type", jobType).
		Str("queue", queue).
		Logger()
}
