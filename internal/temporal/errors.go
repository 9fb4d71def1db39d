package temporal

import (
	"context"
	"errors"
	"fmt"

	"go.temporal.io/api/serviceerror"
)

var (
	// ErrJobNotFound indicates no workflow execution exists for a job id.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobAlreadyExists indicates a workflow with the same id is running.
	ErrJobAlreadyExists = errors.New("job already exists")

	// ErrJobAlreadyClosed indicates the job reached a terminal state.
	ErrJobAlreadyClosed = errors.New("job already closed")

	// ErrClientClosed indicates the job client has been closed.
	ErrClientClosed = errors.New("client closed")

	// ErrConnectionFailed indicates the Temporal frontend could not be reached.
	ErrConnectionFailed = errors.New("connection failed")

	ErrNamespaceNotFound = errors.New("namespace not found")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrDeadlineExceeded  = errors.New("deadline exceeded")
)

// TemporalError wraps a Temporal SDK error with the operation and job it
// concerns. Kind is one of the sentinels above.
type TemporalError struct {
	Op         string
	Kind       error
	WorkflowID string
	RunID      string
	Err        error
}

// Error returns the error message.
func (e *TemporalError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.WorkflowID != "" {
		msg += fmt.Sprintf(" [workflowID=%s", e.WorkflowID)
		if e.RunID != "" {
			msg += fmt.Sprintf(", runID=%s", e.RunID)
		}
		msg += "]"
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *TemporalError) Unwrap() error {
	return e.Err
}

// Is reports whether target matches this error's Kind.
func (e *TemporalError) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// wrapTemporalError classifies a Temporal SDK error.
func wrapTemporalError(op string, err error, workflowID, runID string) error {
	if err == nil {
		return nil
	}

	te := &TemporalError{
		Op:         op,
		WorkflowID: workflowID,
		RunID:      runID,
		Err:        err,
	}

	var (
		notFound          *serviceerror.NotFound
		alreadyStarted    *serviceerror.WorkflowExecutionAlreadyStarted
		namespaceNotFound *serviceerror.NamespaceNotFound
		permissionDenied  *serviceerror.PermissionDenied
		invalidArgument   *serviceerror.InvalidArgument
		resourceExhausted *serviceerror.ResourceExhausted
		deadlineExceeded  *serviceerror.DeadlineExceeded
		unavailable       *serviceerror.Unavailable
	)

	switch {
	case errors.As(err, &notFound):
		te.Kind = ErrJobNotFound
	case errors.As(err, &alreadyStarted):
		te.Kind = ErrJobAlreadyExists
	case errors.As(err, &namespaceNotFound):
		te.Kind = ErrNamespaceNotFound
	case errors.As(err, &permissionDenied):
		te.Kind = ErrPermissionDenied
	case errors.As(err, &invalidArgument):
		te.Kind = ErrInvalidArgument
	case errors.As(err, &resourceExhausted):
		te.Kind = ErrResourceExhausted
	case errors.As(err, &deadlineExceeded):
		te.Kind = ErrDeadlineExceeded
	case errors.As(err, &unavailable):
		te.Kind = ErrConnectionFailed
	case errors.Is(err, context.DeadlineExceeded):
		te.Kind = ErrDeadlineExceeded
	case errors.Is(err, context.Canceled):
		te.Kind = ErrClientClosed
	default:
		te.Kind = ErrConnectionFailed
	}

	return te
}

// IsJobNotFound reports whether err means the job id is unknown.
func IsJobNotFound(err error) bool {
	return errors.Is(err, ErrJobNotFound)
}

// IsJobAlreadyClosed reports whether err means the job already ended.
func IsJobAlreadyClosed(err error) bool {
	return errors.Is(err, ErrJobAlreadyClosed)
}

// IsConnectionFailed reports whether err means Temporal was unreachable.
func IsConnectionFailed(err error) bool {
	return errors.Is(err, ErrConnectionFailed)
}
