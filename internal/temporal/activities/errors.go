package activities

import (
	"errors"

	"go.temporal.io/sdk/temporal"

	"github.com/helixir/slr-pipeline/internal/domain"
)

// Application error types attached to non-retryable failures.
const (
	ErrTypeValidation       = "ValidationError"
	ErrTypeNotFound         = "NotFoundError"
	ErrTypeInference        = "InferenceError"
	ErrTypeAllSourcesFailed = "AllSourcesFailedError"
)

// nonRetryable marks errors that cannot succeed on retry. Other errors are
// returned unchanged.
func nonRetryable(err error) error {
	if err == nil {
		return nil
	}

	var errType string
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		errType = ErrTypeValidation
	case errors.Is(err, domain.ErrNotFound):
		errType = ErrTypeNotFound
	case errors.Is(err, domain.ErrInference):
		errType = ErrTypeInference
	case errors.Is(err, domain.ErrAllSourcesFailed):
		errType = ErrTypeAllSourcesFailed
	default:
		return err
	}
	return temporal.NewNonRetryableApplicationError(err.Error(), errType, err)
}
