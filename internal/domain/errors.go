package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common error conditions.
var (
	// ErrNotFound indicates that a requested entity was not found.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates that the input data is invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrRateLimited indicates that the request was rate limited.
	ErrRateLimited = errors.New("rate limited")

	// ErrServiceUnavailable indicates that an external service is unavailable.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrInternalError indicates an internal server error.
	ErrInternalError = errors.New("internal error")

	// ErrWorkflowFailed indicates that a Temporal workflow failed.
	ErrWorkflowFailed = errors.New("workflow failed")

	// ErrCancelled indicates that an operation was cancelled.
	ErrCancelled = errors.New("cancelled")

	// ErrSourceUnavailable indicates that a single source connector failed.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrAllSourcesFailed indicates that every queried source failed.
	ErrAllSourcesFailed = errors.New("all sources failed")

	// ErrInference indicates that an inference call or its JSON coercion failed.
	ErrInference = errors.New("inference failed")

	// ErrTaskTimeout indicates that a job exceeded its wall-clock budget.
	ErrTaskTimeout = errors.New("task timeout")
)

// ValidationError represents a validation error for a specific field.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// Unwrap returns ErrInvalidInput for use with errors.Is.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// NotFoundError provides details about a not found entity.
type NotFoundError struct {
	Entity string
	ID     string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// RateLimitError provides details about a rate limit error.
type RateLimitError struct {
	Source     string
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited by %s: retry after %s", e.Source, e.RetryAfter)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// ExternalAPIError provides details about an external API error.
type ExternalAPIError struct {
	Source     string
	StatusCode int
	Message    string
	Cause      error
}

// Error implements the error interface.
func (e *ExternalAPIError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Source, e.StatusCode, e.Message)
}

// Unwrap returns the underlying cause error.
func (e *ExternalAPIError) Unwrap() error {
	return e.Cause
}

// SourceUnavailableError reports that one connector failed. It is isolated at
// the source boundary and never fails a search on its own.
type SourceUnavailableError struct {
	Source SourceType
	Cause  error
}

// Error implements the error interface.
func (e *SourceUnavailableError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("source %s unavailable", e.Source)
	}
	return fmt.Sprintf("source %s unavailable: %v", e.Source, e.Cause)
}

// Is matches ErrSourceUnavailable.
func (e *SourceUnavailableError) Is(target error) bool {
	return target == ErrSourceUnavailable
}

// Unwrap returns the underlying cause.
func (e *SourceUnavailableError) Unwrap() error {
	return e.Cause
}

// InferenceStage says where an inference call gave up.
type InferenceStage string

const (
	InferenceStageTransport InferenceStage = "transport"
	InferenceStageDecode    InferenceStage = "decode"
	InferenceStageRepair    InferenceStage = "repair"
)

// InferenceError reports an inference call that failed after the transport
// retries and, in JSON mode, after the single repair attempt.
type InferenceError struct {
	Model string
	Stage InferenceStage
	// Raw is the last model output that could not be parsed, if any.
	Raw   string
	Cause error
}

// Error implements the error interface.
func (e *InferenceError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("inference %s failed for model %s", e.Stage, e.Model)
	}
	return fmt.Sprintf("inference %s failed for model %s: %v", e.Stage, e.Model, e.Cause)
}

// Is matches ErrInference.
func (e *InferenceError) Is(target error) bool {
	return target == ErrInference
}

// Unwrap returns the underlying cause.
func (e *InferenceError) Unwrap() error {
	return e.Cause
}

// TaskTimeoutError reports a job that exceeded its wall-clock budget.
type TaskTimeoutError struct {
	JobID   string
	Timeout time.Duration
}

// Error implements the error interface.
func (e *TaskTimeoutError) Error() string {
	if e.Timeout <= 0 {
		return fmt.Sprintf("job %s exceeded its time budget", e.JobID)
	}
	return fmt.Sprintf("job %s exceeded its time budget of %s", e.JobID, e.Timeout)
}

// Unwrap returns ErrTaskTimeout for use with errors.Is.
func (e *TaskTimeoutError) Unwrap() error {
	return ErrTaskTimeout
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{
		Entity: entity,
		ID:     id,
	}
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// NewRateLimitError creates a new RateLimitError.
func NewRateLimitError(source string, retryAfter time.Duration) *RateLimitError {
	return &RateLimitError{
		Source:     source,
		RetryAfter: retryAfter,
	}
}

// NewSourceUnavailableError creates a new SourceUnavailableError.
func NewSourceUnavailableError(source SourceType, cause error) *SourceUnavailableError {
	return &SourceUnavailableError{Source: source, Cause: cause}
}

// NewInferenceError creates a new InferenceError.
func NewInferenceError(model string, stage InferenceStage, raw string, cause error) *InferenceError {
	return &InferenceError{Model: model, Stage: stage, Raw: raw, Cause: cause}
}

// NewExternalAPIError creates a new ExternalAPIError.
func NewExternalAPIError(source string, statusCode int, message string, cause error) *ExternalAPIError {
	return &ExternalAPIError{
		Source:     source,
		StatusCode: statusCode,
		Message:    message,
		Cause:      cause,
	}
}
