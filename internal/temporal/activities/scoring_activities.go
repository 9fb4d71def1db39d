package activities

import (
	"context"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"

	"github.com/helixir/slr-pipeline/internal/scoring"
)

// Scorer computes and stores a project's analysis.
type Scorer interface {
	Run(ctx context.Context, projectID uuid.UUID) (*scoring.Summary, error)
}

// ScoringActivities runs scoring jobs.
type ScoringActivities struct {
	scorer Scorer
}

// NewScoringActivities creates ScoringActivities.
func NewScoringActivities(scorer Scorer) *ScoringActivities {
	return &ScoringActivities{scorer: scorer}
}

// ScoreProject runs the scoring engine over the project's extractions.
func (a *ScoringActivities) ScoreProject(ctx context.Context, input JobInput) (*ScoringOutput, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("scoring project", "jobID", input.JobID, "projectID", input.ProjectID)

	summary, err := a.scorer.Run(ctx, input.ProjectID)
	if err != nil {
		logger.Error("scoring failed", "jobID", input.JobID, "error", err)
		return nil, nonRetryable(err)
	}

	return &ScoringOutput{
		TotalArticles:     summary.TotalArticles,
		ScoredArticles:    summary.ScoredArticles,
		ExtractedArticles: summary.ExtractedArticles,
		AboveThreshold:    summary.AboveThreshold,
		MeanRelevance:     summary.MeanRelevance,
		TotalDomainScore:  summary.TotalDomainScore,
	}, nil
}
