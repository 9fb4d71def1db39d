package activities

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"

	"github.com/helixir/slr-pipeline/internal/domain"
	"github.com/helixir/slr-pipeline/internal/search"
)

// Searcher runs a search and stores its records.
type Searcher interface {
	SearchAndIngest(ctx context.Context, req search.Request) (*search.Result, error)
}

// RecordCounter refreshes a project's stored record count.
type RecordCounter interface {
	RefreshRecordCount(ctx context.Context, id uuid.UUID) (int, error)
}

// SearchNotifier announces finished searches.
type SearchNotifier interface {
	SearchCompleted(ctx context.Context, projectID uuid.UUID, found, inserted int, failedSources map[domain.SourceType]string)
}

// SearchActivities runs search jobs.
type SearchActivities struct {
	searcher Searcher
	counter  RecordCounter
	notifier SearchNotifier
}

// NewSearchActivities creates SearchActivities. notifier may be nil.
func NewSearchActivities(searcher Searcher, counter RecordCounter, notifier SearchNotifier) *SearchActivities {
	return &SearchActivities{
		searcher: searcher,
		counter:  counter,
		notifier: notifier,
	}
}

// SearchAndIngest fans the query out to the sources, stores the merged
// records and refreshes the project's record count. A search in which every
// queried source failed is not retried.
func (a *SearchActivities) SearchAndIngest(ctx context.Context, input JobInput) (*SearchOutput, error) {
	logger := activity.GetLogger(ctx)
	if input.Search == nil {
		return nil, nonRetryable(domain.NewValidationError("search", "is required for search jobs"))
	}

	logger.Info("starting search",
		"jobID", input.JobID,
		"projectID", input.ProjectID,
		"expert", input.Search.ExpertQueries != nil,
		"sources", len(input.Search.Sources),
	)

	result, err := a.searcher.SearchAndIngest(ctx, search.Request{
		ProjectID:           input.ProjectID,
		Query:               input.Search.Query,
		ExpertQueries:       input.Search.ExpertQueries,
		Sources:             input.Search.Sources,
		MaxResultsPerSource: input.Search.MaxResultsPerSource,
	})
	if err != nil {
		logger.Error("search failed", "jobID", input.JobID, "error", err)
		return nil, nonRetryable(err)
	}

	count, err := a.counter.RefreshRecordCount(ctx, input.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("refresh record count: %w", err)
	}

	if a.notifier != nil {
		a.notifier.SearchCompleted(ctx, input.ProjectID, result.Total(), result.Inserted, result.FailedSources)
	}

	logger.Info("search completed",
		"jobID", input.JobID,
		"found", result.Total(),
		"inserted", result.Inserted,
		"failedSources", len(result.FailedSources),
		"recordCount", count,
	)

	return &SearchOutput{
		Found:         result.Found,
		FailedSources: result.FailedSources,
		Skipped:       result.Skipped,
		Total:         result.Total(),
		Inserted:      result.Inserted,
		RecordCount:   count,
	}, nil
}
