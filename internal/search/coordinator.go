// Package search fans a query out to the configured bibliographic sources and
// hands the merged result to the record store.
package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/helixir/slr-pipeline/internal/domain"
	"github.com/helixir/slr-pipeline/internal/observability"
	"github.com/helixir/slr-pipeline/internal/papersources"
	"github.com/helixir/slr-pipeline/internal/repository"
)

// Request describes one search. Exactly one of Query and ExpertQueries is
// used: a non-nil ExpertQueries switches to expert mode.
type Request struct {
	ProjectID uuid.UUID `json:"project_id"`

	// Query is broadcast to every selected source.
	Query string `json:"query,omitempty"`

	// ExpertQueries maps a source to its own query. A source whose query is
	// blank is skipped without being contacted.
	ExpertQueries map[domain.SourceType]string `json:"expert_queries,omitempty"`

	// Sources restricts the search. Empty means every enabled source.
	Sources []domain.SourceType `json:"sources,omitempty"`

	// MaxResultsPerSource caps each connector; zero uses its default.
	MaxResultsPerSource int `json:"max_results_per_source,omitempty"`
}

// IsExpert reports whether the request uses per-source queries.
func (r Request) IsExpert() bool {
	return r.ExpertQueries != nil
}

// Result is the merged outcome of a search.
type Result struct {
	// Records holds every record found, grouped by source in source order.
	Records []domain.NormalizedRecord `json:"-"`

	// Found counts records per queried source that succeeded.
	Found map[domain.SourceType]int `json:"found"`

	// FailedSources maps each failed source to its error text.
	FailedSources map[domain.SourceType]string `json:"failed_sources,omitempty"`

	// Skipped lists expert-mode sources with a blank query.
	Skipped []domain.SourceType `json:"skipped,omitempty"`

	// Inserted is set by SearchAndIngest.
	Inserted int `json:"inserted"`
}

// Total returns the number of merged records.
func (r *Result) Total() int {
	return len(r.Records)
}

// AllSourcesFailedError is returned when every queried source failed.
type AllSourcesFailedError struct {
	Failed map[domain.SourceType]string
}

// Error implements the error interface.
func (e *AllSourcesFailedError) Error() string {
	parts := make([]string, 0, len(e.Failed))
	for _, src := range sortedSources(e.Failed) {
		parts = append(parts, fmt.Sprintf("%s: %s", src, e.Failed[src]))
	}
	return fmt.Sprintf("%s (%s)", domain.ErrAllSourcesFailed, strings.Join(parts, "; "))
}

// Is matches domain.ErrAllSourcesFailed.
func (e *AllSourcesFailedError) Is(target error) bool {
	return target == domain.ErrAllSourcesFailed
}

// Coordinator runs searches across the registry's connectors.
type Coordinator struct {
	registry *papersources.Registry
	store    repository.RecordStore
	logger   zerolog.Logger
	metrics  *observability.Metrics
}

// NewCoordinator creates a Coordinator. store may be nil when only Search is used.
func NewCoordinator(registry *papersources.Registry, store repository.RecordStore, logger zerolog.Logger, metrics *observability.Metrics) *Coordinator {
	return &Coordinator{
		registry: registry,
		store:    store,
		logger:   logger.With().Str("component", "search").Logger(),
		metrics:  metrics,
	}
}

type plannedQuery struct {
	connector papersources.Connector
	query     string
}

type sourceOutcome struct {
	records []domain.NormalizedRecord
	err     error
}

// Search queries the selected sources concurrently. A failing source is
// recorded in FailedSources and never affects the others; the call fails
// only when every queried source failed.
func (c *Coordinator) Search(ctx context.Context, req Request) (*Result, error) {
	result := &Result{
		Found:         make(map[domain.SourceType]int),
		FailedSources: make(map[domain.SourceType]string),
	}

	plan, err := c.plan(req, result)
	if err != nil {
		return nil, err
	}
	if len(plan) == 0 {
		if len(result.FailedSources) > 0 {
			return nil, &AllSourcesFailedError{Failed: result.FailedSources}
		}
		return result, nil
	}

	outcomes := make([]sourceOutcome, len(plan))
	var g errgroup.Group
	for i, p := range plan {
		g.Go(func() error {
			outcomes[i] = c.searchOne(ctx, p, req.MaxResultsPerSource)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for i, p := range plan {
		src := p.connector.SourceType()
		if outcomes[i].err != nil {
			result.FailedSources[src] = outcomes[i].err.Error()
			continue
		}
		result.Found[src] = len(outcomes[i].records)
		result.Records = append(result.Records, outcomes[i].records...)
	}

	if len(result.Found) == 0 {
		return nil, &AllSourcesFailedError{Failed: result.FailedSources}
	}

	c.logger.Info().
		Str("project_id", req.ProjectID.String()).
		Int("records", len(result.Records)).
		Int("failed_sources", len(result.FailedSources)).
		Int("skipped_sources", len(result.Skipped)).
		Msg("search completed")
	return result, nil
}

// SearchAndIngest searches, then stores the merged records for the project.
// Records already stored are ignored by the store, so Inserted counts only
// new ones.
func (c *Coordinator) SearchAndIngest(ctx context.Context, req Request) (*Result, error) {
	if c.store == nil {
		return nil, errors.New("search coordinator has no record store")
	}
	if req.ProjectID == uuid.Nil {
		return nil, domain.NewValidationError("project_id", "is required")
	}

	result, err := c.Search(ctx, req)
	if err != nil {
		return nil, err
	}

	inserted, err := c.store.UpsertBatch(ctx, req.ProjectID, result.Records)
	if err != nil {
		return nil, fmt.Errorf("failed to ingest search results: %w", err)
	}
	result.Inserted = inserted
	c.metrics.RecordRecordsIngested(inserted, len(result.Records)-inserted)

	c.logger.Info().
		Str("project_id", req.ProjectID.String()).
		Int("found", len(result.Records)).
		Int("inserted", inserted).
		Msg("search results ingested")
	return result, nil
}

// plan resolves which connectors to call and with what query. Unknown or
// disabled sources are recorded as failed; blank expert queries as skipped.
func (c *Coordinator) plan(req Request, result *Result) ([]plannedQuery, error) {
	if !req.IsExpert() && strings.TrimSpace(req.Query) == "" {
		return nil, domain.NewValidationError("query", "is required")
	}

	selected, unavailable := c.registry.Select(req.Sources)
	for _, src := range unavailable {
		result.FailedSources[src] = "source not configured or disabled"
	}

	plan := make([]plannedQuery, 0, len(selected))
	for _, conn := range selected {
		query := req.Query
		if req.IsExpert() {
			query = strings.TrimSpace(req.ExpertQueries[conn.SourceType()])
			if query == "" {
				result.Skipped = append(result.Skipped, conn.SourceType())
				c.metrics.RecordSearchSkipped(string(conn.SourceType()))
				continue
			}
		}
		plan = append(plan, plannedQuery{connector: conn, query: query})
	}

	if req.IsExpert() && len(plan) == 0 && len(result.FailedSources) == 0 {
		return nil, domain.NewValidationError("expert_queries", "every source query is blank")
	}
	return plan, nil
}

func (c *Coordinator) searchOne(ctx context.Context, p plannedQuery, maxResults int) sourceOutcome {
	src := string(p.connector.SourceType())
	logger := observability.WithSourceContext(c.logger, src, p.query)
	start := time.Now()
	c.metrics.RecordSearchStarted(src)

	records, err := p.connector.Search(ctx, p.query, maxResults)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		c.metrics.RecordSearchFailed(src, elapsed)
		logger.Warn().Err(err).Msg("source search failed")
		return sourceOutcome{err: err}
	}

	for i := range records {
		records[i].SourceTag = p.connector.SourceType()
	}
	c.metrics.RecordSearchCompleted(src, len(records), elapsed)
	logger.Debug().Int("records", len(records)).Dur("elapsed", time.Since(start)).Msg("source search completed")
	return sourceOutcome{records: records}
}

func sortedSources(m map[domain.SourceType]string) []domain.SourceType {
	out := make([]domain.SourceType, 0, len(m))
	for src := range m {
		out = append(out, src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
