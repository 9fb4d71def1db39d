package activities

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"

	"github.com/helixir/slr-pipeline/internal/domain"
)

// StatusUpdater moves a project between lifecycle states.
type StatusUpdater interface {
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.ProjectStatus) error
}

// FailureNotifier announces failed jobs.
type FailureNotifier interface {
	TaskFailed(ctx context.Context, projectID uuid.UUID, jobID string, err error)
}

// StatusActivities updates project status and reports job failures.
type StatusActivities struct {
	projects StatusUpdater
	notifier FailureNotifier
}

// NewStatusActivities creates StatusActivities. notifier may be nil.
func NewStatusActivities(projects StatusUpdater, notifier FailureNotifier) *StatusActivities {
	return &StatusActivities{projects: projects, notifier: notifier}
}

// UpdateProjectStatus sets the project's status.
func (a *StatusActivities) UpdateProjectStatus(ctx context.Context, input UpdateStatusInput) error {
	logger := activity.GetLogger(ctx)
	logger.Info("updating project status", "projectID", input.ProjectID, "status", input.Status)

	if err := a.projects.UpdateStatus(ctx, input.ProjectID, input.Status); err != nil {
		logger.Error("failed to update project status",
			"projectID", input.ProjectID,
			"status", input.Status,
			"error", err,
		)
		return nonRetryable(fmt.Errorf("update project status to %s: %w", input.Status, err))
	}
	return nil
}

// NotifyJobFailed publishes a task-failed notification. Publishing never
// fails the activity.
func (a *StatusActivities) NotifyJobFailed(ctx context.Context, input JobFailedInput) error {
	if a.notifier == nil {
		return nil
	}
	a.notifier.TaskFailed(ctx, input.ProjectID, input.JobID, errors.New(input.Error))
	return nil
}
