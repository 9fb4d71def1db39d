// Package workflows defines one Temporal workflow per job type.
//
// Each workflow receives a temporal.JobInput, drives the project status
// around the job's main activity and returns that activity's output as the
// job result. Workflows are registered under the names in package temporal
// so that clients start them by name.
package workflows

import (
	"errors"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/helixir/slr-pipeline/internal/domain"
	slrtemporal "github.com/helixir/slr-pipeline/internal/temporal"
	"github.com/helixir/slr-pipeline/internal/temporal/activities"
)

// Defaults for ActivityPolicy fields left zero.
const (
	DefaultHeartbeatTimeout    = 2 * time.Minute
	DefaultActivityMaxAttempts = 3
	DefaultLongActivityTimeout = 24 * time.Hour
)

// ActivityPolicy configures activity timeouts and retries.
type ActivityPolicy struct {
	// HeartbeatTimeout bounds silence from a long-running activity. It is
	// how cancellation and job timeouts reach a busy worker.
	HeartbeatTimeout time.Duration

	// MaxAttempts bounds retries of retryable activity errors.
	MaxAttempts int32
}

func (p ActivityPolicy) withDefaults() ActivityPolicy {
	if p.HeartbeatTimeout <= 0 {
		p.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultActivityMaxAttempts
	}
	return p
}

func (p ActivityPolicy) retryPolicy() *temporal.RetryPolicy {
	return &temporal.RetryPolicy{
		InitialInterval:    time.Second,
		BackoffCoefficient: 2.0,
		MaximumInterval:    time.Minute,
		MaximumAttempts:    p.MaxAttempts,
	}
}

// Registrar accepts named workflow registrations.
type Registrar interface {
	RegisterWorkflow(name string, fn interface{})
}

// Workflows holds the job workflows.
type Workflows struct {
	policy ActivityPolicy
}

// New creates the job workflows.
func New(policy ActivityPolicy) *Workflows {
	return &Workflows{policy: policy.withDefaults()}
}

// Register registers every workflow under its job-type name.
func (w *Workflows) Register(r Registrar) {
	r.RegisterWorkflow(slrtemporal.WorkflowSearch, w.Search)
	r.RegisterWorkflow(slrtemporal.WorkflowArticleBatch, w.ArticleBatch)
	r.RegisterWorkflow(slrtemporal.WorkflowScoring, w.Scoring)
	r.RegisterWorkflow(slrtemporal.WorkflowImport, w.Import)
}

// shortContext is for bookkeeping activities.
func (w *Workflows) shortContext(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    500 * time.Millisecond,
			BackoffCoefficient: 2.0,
			MaximumInterval:    10 * time.Second,
			MaximumAttempts:    5,
		},
	})
}

// workContext is for the job's main activity. It may run as long as the job
// itself and must heartbeat.
func (w *Workflows) workContext(ctx workflow.Context) workflow.Context {
	budget := workflow.GetInfo(ctx).WorkflowExecutionTimeout
	if budget <= 0 {
		budget = DefaultLongActivityTimeout
	}
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: budget,
		HeartbeatTimeout:    w.policy.HeartbeatTimeout,
		RetryPolicy:         w.policy.retryPolicy(),
	})
}

// searchContext is for the search activity. It does not heartbeat; the
// connectors' HTTP timeouts bound each call.
func (w *Workflows) searchContext(ctx workflow.Context) workflow.Context {
	budget := workflow.GetInfo(ctx).WorkflowExecutionTimeout
	if budget <= 0 || budget > 30*time.Minute {
		budget = 30 * time.Minute
	}
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: budget,
		RetryPolicy:         w.policy.retryPolicy(),
	})
}

// fail reports err for the job and returns it. Cancellation is reported by
// the job status alone.
func (w *Workflows) fail(ctx workflow.Context, input slrtemporal.JobInput, err error, markProjectFailed bool) error {
	if temporal.IsCanceledError(err) {
		return err
	}

	logger := workflow.GetLogger(ctx)
	var statusAct *activities.StatusActivities
	shortCtx := w.shortContext(ctx)

	if markProjectFailed {
		if serr := workflow.ExecuteActivity(shortCtx, statusAct.UpdateProjectStatus, activities.UpdateStatusInput{
			ProjectID: input.ProjectID,
			Status:    domain.ProjectStatusFailed,
		}).Get(ctx, nil); serr != nil {
			logger.Error("failed to mark project failed", "error", serr)
		}
	}

	if nerr := workflow.ExecuteActivity(shortCtx, statusAct.NotifyJobFailed, activities.JobFailedInput{
		ProjectID: input.ProjectID,
		JobID:     input.JobID,
		Error:     rootMessage(err),
	}).Get(ctx, nil); nerr != nil {
		logger.Warn("failed to publish job failure", "error", nerr)
	}
	return err
}

// hasErrorType reports whether err carries an application error of errType.
func hasErrorType(err error, errType string) bool {
	var appErr *temporal.ApplicationError
	for e := err; errors.As(e, &appErr); e = appErr.Unwrap() {
		if appErr.Type() == errType {
			return true
		}
	}
	return false
}

// rootMessage returns the message of the innermost application error, which
// is the activity's own error text.
func rootMessage(err error) string {
	msg := err.Error()
	var appErr *temporal.ApplicationError
	for e := err; errors.As(e, &appErr); e = appErr.Unwrap() {
		msg = appErr.Message()
	}
	return msg
}
