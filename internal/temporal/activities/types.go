// Package activities holds the Temporal activities behind every job type.
//
// Inputs and outputs cross the Temporal serialization boundary, so every
// field is exported and JSON-tagged. Activities classify their errors with
// nonRetryable before returning: validation, not-found and inference errors
// fail the job immediately, everything else is retried by the workflow's
// retry policy.
package activities

import (
	"github.com/google/uuid"

	"github.com/helixir/slr-pipeline/internal/domain"
	"github.com/helixir/slr-pipeline/internal/temporal"
)

// SearchOutput summarises a search job.
type SearchOutput struct {
	Found         map[domain.SourceType]int    `json:"found"`
	FailedSources map[domain.SourceType]string `json:"failed_sources,omitempty"`
	Skipped       []domain.SourceType          `json:"skipped,omitempty"`
	Total         int                          `json:"total"`
	Inserted      int                          `json:"inserted"`
	RecordCount   int                          `json:"record_count"`
}

// ArticleBatchOutput summarises a screening or extraction job.
type ArticleBatchOutput struct {
	Stage     domain.Stage `json:"stage"`
	Total     int          `json:"total"`
	Processed int          `json:"processed"`
	Discarded int          `json:"discarded"`
	Failed    int          `json:"failed"`
	FailedIDs []string     `json:"failed_ids,omitempty"`
}

// ScoringOutput summarises a scoring job. The full per-article breakdown is
// stored as the project's analysis document.
type ScoringOutput struct {
	TotalArticles     int      `json:"total_articles"`
	ScoredArticles    int      `json:"scored_articles"`
	ExtractedArticles int      `json:"extracted_articles"`
	AboveThreshold    int      `json:"above_threshold"`
	MeanRelevance     *float64 `json:"mean_relevance"`
	TotalDomainScore  float64  `json:"total_domain_score"`
}

// ImportOutput summarises a bulk import job.
type ImportOutput struct {
	Source      domain.SourceType `json:"source"`
	Requested   int               `json:"requested"`
	Fetched     int               `json:"fetched"`
	Inserted    int               `json:"inserted"`
	RecordCount int               `json:"record_count"`
}

// UpdateStatusInput moves a project to a new status.
type UpdateStatusInput struct {
	ProjectID uuid.UUID            `json:"project_id"`
	Status    domain.ProjectStatus `json:"status"`
}

// JobFailedInput reports a job failure on the notification bus.
type JobFailedInput struct {
	ProjectID uuid.UUID `json:"project_id"`
	JobID     string    `json:"job_id"`
	Error     string    `json:"error"`
}

// JobInput is the workflow input, re-exported for activity signatures.
type JobInput = temporal.JobInput
