package workflows

import (
	"fmt"

	"go.temporal.io/sdk/workflow"

	"github.com/helixir/slr-pipeline/internal/domain"
	slrtemporal "github.com/helixir/slr-pipeline/internal/temporal"
	"github.com/helixir/slr-pipeline/internal/temporal/activities"
)

// Search runs a search job: the project moves to searching, the sources are
// queried and the records stored, then the project moves to
// search_completed. If every source failed the project is marked failed.
func (w *Workflows) Search(ctx workflow.Context, input slrtemporal.JobInput) (*activities.SearchOutput, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("starting search job", "jobID", input.JobID, "projectID", input.ProjectID)

	var searchAct *activities.SearchActivities
	var statusAct *activities.StatusActivities
	shortCtx := w.shortContext(ctx)

	if err := w.setStatus(shortCtx, statusAct, input, domain.ProjectStatusSearching); err != nil {
		return nil, w.fail(ctx, input, err, false)
	}

	var out activities.SearchOutput
	if err := workflow.ExecuteActivity(w.searchContext(ctx), searchAct.SearchAndIngest, input).Get(ctx, &out); err != nil {
		allFailed := hasErrorType(err, activities.ErrTypeAllSourcesFailed)
		return nil, w.fail(ctx, input, fmt.Errorf("search: %w", err), allFailed)
	}

	if err := w.setStatus(shortCtx, statusAct, input, domain.ProjectStatusSearchCompleted); err != nil {
		return nil, w.fail(ctx, input, err, false)
	}

	logger.Info("search job completed", "jobID", input.JobID, "found", out.Total, "inserted", out.Inserted)
	return &out, nil
}

// ArticleBatch runs a screening or extraction job. The project moves to
// screening before the first article. A completed extraction batch moves it
// to completed, and a non-empty batch in which every article failed marks it
// failed.
func (w *Workflows) ArticleBatch(ctx workflow.Context, input slrtemporal.JobInput) (*activities.ArticleBatchOutput, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("starting article batch job", "jobID", input.JobID, "stage", input.Stage())

	var articleAct *activities.ArticleActivities
	var statusAct *activities.StatusActivities
	shortCtx := w.shortContext(ctx)

	if err := w.setStatus(shortCtx, statusAct, input, domain.ProjectStatusScreening); err != nil {
		return nil, w.fail(ctx, input, err, false)
	}

	var out activities.ArticleBatchOutput
	if err := workflow.ExecuteActivity(w.workContext(ctx), articleAct.ProcessArticles, input).Get(ctx, &out); err != nil {
		return nil, w.fail(ctx, input, fmt.Errorf("%s batch: %w", input.Stage(), err), false)
	}

	var next domain.ProjectStatus
	switch {
	case out.Total > 0 && out.Failed == out.Total:
		next = domain.ProjectStatusFailed
	case input.Stage() == domain.StageExtraction:
		next = domain.ProjectStatusCompleted
	}
	if next != "" {
		if err := w.setStatus(shortCtx, statusAct, input, next); err != nil {
			return nil, w.fail(ctx, input, err, false)
		}
	}

	logger.Info("article batch job completed",
		"jobID", input.JobID,
		"processed", out.Processed,
		"discarded", out.Discarded,
		"failed", out.Failed,
	)
	return &out, nil
}

// Scoring runs a scoring job. It does not change the project status.
func (w *Workflows) Scoring(ctx workflow.Context, input slrtemporal.JobInput) (*activities.ScoringOutput, error) {
	var scoringAct *activities.ScoringActivities

	var out activities.ScoringOutput
	if err := workflow.ExecuteActivity(w.workContext(ctx), scoringAct.ScoreProject, input).Get(ctx, &out); err != nil {
		return nil, w.fail(ctx, input, fmt.Errorf("scoring: %w", err), false)
	}
	return &out, nil
}

// Import runs a bulk import job. It does not change the project status.
func (w *Workflows) Import(ctx workflow.Context, input slrtemporal.JobInput) (*activities.ImportOutput, error) {
	logger := workflow.GetLogger(ctx)
	var importAct *activities.ImportActivities

	var out activities.ImportOutput
	if err := workflow.ExecuteActivity(w.workContext(ctx), importAct.ImportRecords, input).Get(ctx, &out); err != nil {
		return nil, w.fail(ctx, input, fmt.Errorf("import: %w", err), false)
	}

	logger.Info("import job completed", "jobID", input.JobID, "fetched", out.Fetched, "inserted", out.Inserted)
	return &out, nil
}

func (w *Workflows) setStatus(ctx workflow.Context, statusAct *activities.StatusActivities, input slrtemporal.JobInput, status domain.ProjectStatus) error {
	return workflow.ExecuteActivity(ctx, statusAct.UpdateProjectStatus, activities.UpdateStatusInput{
		ProjectID: input.ProjectID,
		Status:    status,
	}).Get(ctx, nil)
}
