package temporal

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/helixir/slr-pipeline/internal/config"
	"github.com/helixir/slr-pipeline/internal/domain"
)

// Workflow type names. Workers register each workflow under its name and the
// job client starts workflows by name, so callers never import the workflows
// package.
const (
	WorkflowSearch       = "SearchWorkflow"
	WorkflowArticleBatch = "ArticleBatchWorkflow"
	WorkflowScoring      = "ScoringWorkflow"
	WorkflowImport       = "ImportWorkflow"
)

// Memo keys stored on every job execution.
const (
	memoJobType   = "job_type"
	memoProjectID = "project_id"
	memoQueue     = "queue"
)

// WorkflowName returns the workflow that runs jobs of type t.
func WorkflowName(t domain.JobType) string {
	switch t {
	case domain.JobTypeSearch:
		return WorkflowSearch
	case domain.JobTypeScreening, domain.JobTypeExtraction:
		return WorkflowArticleBatch
	case domain.JobTypeScoring:
		return WorkflowScoring
	case domain.JobTypeImport:
		return WorkflowImport
	default:
		return ""
	}
}

// SearchSpec carries the search parameters of a search job.
type SearchSpec struct {
	Query               string                       `json:"query,omitempty"`
	ExpertQueries       map[domain.SourceType]string `json:"expert_queries,omitempty"`
	Sources             []domain.SourceType          `json:"sources,omitempty"`
	MaxResultsPerSource int                          `json:"max_results_per_source,omitempty"`
}

// ImportSpec names the source-native ids a bulk import should fetch.
type ImportSpec struct {
	Source      domain.SourceType `json:"source"`
	ExternalIDs []string          `json:"external_ids"`
}

// JobRequest describes a job to enqueue.
type JobRequest struct {
	Type      domain.JobType `json:"type"`
	ProjectID uuid.UUID      `json:"project_id"`

	// Queue overrides the job type's default queue.
	Queue domain.Queue `json:"queue,omitempty"`

	Search *SearchSpec `json:"search,omitempty"`
	Import *ImportSpec `json:"import,omitempty"`

	// ExternalIDs limits a screening or extraction job to these records.
	ExternalIDs []string `json:"external_ids,omitempty"`

	// ResetProgress zeroes the project's processed count first.
	ResetProgress bool `json:"reset_progress,omitempty"`
}

// Validate checks that the request carries what its job type needs.
func (r JobRequest) Validate() error {
	if !r.Type.IsValid() {
		return domain.NewValidationError("type", fmt.Sprintf("unknown job type %q", r.Type))
	}
	if r.ProjectID == uuid.Nil {
		return domain.NewValidationError("project_id", "is required")
	}
	if r.Queue != "" && !r.Queue.IsValid() {
		return domain.NewValidationError("queue", fmt.Sprintf("unknown queue %q", r.Queue))
	}

	switch r.Type {
	case domain.JobTypeSearch:
		if r.Search == nil {
			return domain.NewValidationError("search", "is required for search jobs")
		}
		if r.Search.ExpertQueries == nil && strings.TrimSpace(r.Search.Query) == "" {
			return domain.NewValidationError("search.query", "is required")
		}
	case domain.JobTypeImport:
		if r.Import == nil || len(r.Import.ExternalIDs) == 0 {
			return domain.NewValidationError("import.external_ids", "is required for import jobs")
		}
		if !r.Import.Source.IsValid() {
			return domain.NewValidationError("import.source", fmt.Sprintf("unknown source %q", r.Import.Source))
		}
	}
	return nil
}

// ResolvedQueue returns the queue the job runs on.
func (r JobRequest) ResolvedQueue() domain.Queue {
	if r.Queue != "" {
		return r.Queue
	}
	return r.Type.DefaultQueue()
}

// Stage maps article job types to their pipeline stage.
func (r JobRequest) Stage() domain.Stage {
	if r.Type == domain.JobTypeExtraction {
		return domain.StageExtraction
	}
	return domain.StageScreening
}

// JobInput is the argument every job workflow receives.
type JobInput struct {
	JobID string `json:"job_id"`
	JobRequest
}

// TaskQueues maps each logical queue to its Temporal task queue name.
func TaskQueues(cfg config.QueuesConfig) map[domain.Queue]string {
	out := make(map[domain.Queue]string, 5)
	for _, q := range cfg.All() {
		out[domain.Queue(q.Name)] = q.TaskQueue
	}
	return out
}

// JobTimeouts maps each job type to its wall-clock budget.
func JobTimeouts(cfg config.JobTimeoutsConfig) map[domain.JobType]time.Duration {
	return map[domain.JobType]time.Duration{
		domain.JobTypeSearch:     cfg.Search,
		domain.JobTypeScreening:  cfg.Screening,
		domain.JobTypeExtraction: cfg.Extraction,
		domain.JobTypeScoring:    cfg.Scoring,
		domain.JobTypeImport:     cfg.Import,
	}
}
