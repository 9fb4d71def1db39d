package observability

import (
	"fmt"

	"github.com/rs/zerolog"
	"go.temporal.io/sdk/log"
)

var (
	_ log.Logger     = (*TemporalLogger)(nil)
	_ log.WithLogger = (*TemporalLogger)(nil)
)

// sdkFieldNames maps the keys the Temporal SDK logs with onto the names used
// by the rest of the pipeline's logs.
var sdkFieldNames = map[string]string{
	"Namespace":    "namespace",
	"TaskQueue":    "task_queue",
	"WorkflowType": "workflow_type",
	"WorkflowID":   "job_id",
	"RunID":        "run_id",
	"ActivityType": "activity_type",
	"ActivityID":   "activity_id",
	"Attempt":      "attempt",
	"Error":        zerolog.ErrorFieldName,
}

// TemporalLogger routes Temporal SDK logging through zerolog.
type TemporalLogger struct {
	logger zerolog.Logger
}

// NewTemporalLogger wraps logger and tags its entries with component=temporal-sdk.
func NewTemporalLogger(logger zerolog.Logger) *TemporalLogger {
	return &TemporalLogger{logger: logger.With().Str("component", "temporal-sdk").Logger()}
}

func (l *TemporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.emit(zerolog.DebugLevel, msg, keyvals)
}

func (l *TemporalLogger) Info(msg string, keyvals ...interface{}) {
	l.emit(zerolog.InfoLevel, msg, keyvals)
}

func (l *TemporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.emit(zerolog.WarnLevel, msg, keyvals)
}

func (l *TemporalLogger) Error(msg string, keyvals ...interface{}) {
	l.emit(zerolog.ErrorLevel, msg, keyvals)
}

// With returns a logger that always carries keyvals. The SDK uses it to
// attach workflow and activity identifiers.
func (l *TemporalLogger) With(keyvals ...interface{}) log.Logger {
	return &TemporalLogger{logger: l.logger.With().Fields(sdkFields(keyvals)).Logger()}
}

func (l *TemporalLogger) emit(level zerolog.Level, msg string, keyvals []interface{}) {
	l.logger.WithLevel(level).Fields(sdkFields(keyvals)).Msg(msg)
}

// sdkFields turns alternating key/value pairs into zerolog fields, renaming
// known SDK keys. Errors are stored by message. A trailing key without a
// value is dropped.
func sdkFields(keyvals []interface{}) map[string]interface{} {
	m := make(map[string]interface{}, len(keyvals)/2)
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			key = fmt.Sprint(keyvals[i])
		}
		if renamed, ok := sdkFieldNames[key]; ok {
			key = renamed
		}

		val := keyvals[i+1]
		if err, ok := val.(error); ok && err != nil {
			val = err.Error()
		}
		m[key] = val
	}
	return m
}
