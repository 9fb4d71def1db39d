package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/helixir/slr-pipeline/internal/domain"
	"github.com/helixir/slr-pipeline/internal/observability"
	"github.com/helixir/slr-pipeline/internal/repository"
)

// BatchRequest selects the articles of one stage run.
type BatchRequest struct {
	ProjectID uuid.UUID
	Stage     domain.Stage
	// ExternalIDs limits the batch. Empty means every record of the project.
	ExternalIDs []string
	// ResetProgress zeroes processed_count before the first article. It is
	// ignored when resuming.
	ResetProgress bool
	JobID         string
	// Resume is the progress of an earlier attempt of the same job. Its first
	// Done() articles are skipped and its counts carried into the result.
	Resume *BatchResult
}

// BatchResult counts the outcomes of a batch.
type BatchResult struct {
	Total     int      `json:"total"`
	Processed int      `json:"processed"`
	Discarded int      `json:"discarded"`
	Failed    int      `json:"failed"`
	FailedIDs []string `json:"failed_ids,omitempty"`
}

// Done returns the number of articles that reached a terminal outcome.
func (r *BatchResult) Done() int {
	return r.Processed + r.Discarded + r.Failed
}

func (r *BatchResult) add(out domain.Outcome) {
	switch out.Kind {
	case domain.OutcomeProcessed:
		r.Processed++
	case domain.OutcomeDiscarded:
		r.Discarded++
	default:
		r.Failed++
		r.FailedIDs = append(r.FailedIDs, out.ExternalID)
	}
}

// resumed returns a copy of r to continue counting from, or an empty result
// when there is nothing to resume.
func (r *BatchResult) resumed() BatchResult {
	if r == nil {
		return BatchResult{}
	}
	out := *r
	out.FailedIDs = append([]string(nil), r.FailedIDs...)
	return out
}

// Heartbeat is called after every article with the progress so far.
type Heartbeat func(progress BatchResult)

// RunBatch runs req.Stage over the selected articles in external_id order.
// Cancellation is checked before each article; on cancellation the partial
// result is returned with ctx.Err(). Every other failure is confined to its
// article, which gets a FAILED log row, and the batch moves on. A request
// with Resume set picks up after the articles that attempt already finished,
// so each article is logged and counted once per job.
func (p *Pipeline) RunBatch(ctx context.Context, req BatchRequest, heartbeat Heartbeat) (*BatchResult, error) {
	if !req.Stage.IsValid() {
		return nil, domain.NewValidationError("stage", fmt.Sprintf("unknown stage %q", req.Stage))
	}

	project, err := p.projects.Get(ctx, req.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load project: %w", err)
	}

	resume := req.Resume.resumed()
	if req.ResetProgress && resume.Done() == 0 {
		if err := p.projects.ResetProcessed(ctx, project.ID); err != nil {
			return nil, fmt.Errorf("failed to reset progress: %w", err)
		}
	}

	records, err := p.loadRecords(ctx, project.ID, req.ExternalIDs)
	if err != nil {
		return nil, err
	}

	total := project.PmidsCount
	if total < len(records) {
		total = len(records)
	}

	ctx = observability.WithJobID(observability.WithProjectID(ctx, project.ID.String()), req.JobID)
	logger := observability.LoggerFromContext(ctx, p.logger).With().
		Str("stage", string(req.Stage)).
		Logger()
	skip := min(resume.Done(), len(records))
	logger.Info().Int("articles", len(records)).Int("skipped", skip).Msg("batch started")

	result := &resume
	result.Total = len(records)
	for _, rec := range records[skip:] {
		if err := ctx.Err(); err != nil {
			logger.Info().Int("done", result.Done()).Msg("batch cancelled")
			return result, err
		}

		out := p.runStage(ctx, req.Stage, project, rec)
		if cancelled(ctx, out) {
			logger.Info().Int("done", result.Done()).Str("external_id", rec.ExternalID).Msg("batch cancelled mid-article")
			return result, ctx.Err()
		}

		result.add(out)
		p.record(ctx, project, req, out, total)

		if heartbeat != nil {
			heartbeat(*result)
		}
	}

	if p.notifier != nil {
		p.notifier.BatchCompleted(ctx, project.ID, req.Stage, result.Processed, result.Discarded, result.Failed)
	}
	logger.Info().
		Int("processed", result.Processed).
		Int("discarded", result.Discarded).
		Int("failed", result.Failed).
		Msg("batch completed")
	return result, nil
}

// record writes the audit row, bumps the project counter and notifies.
// Bookkeeping errors are logged; they never change the article outcome.
func (p *Pipeline) record(ctx context.Context, project *domain.Project, req BatchRequest, out domain.Outcome, total int) {
	logger := observability.WithArticleContext(
		observability.LoggerFromContext(ctx, p.logger), out.ExternalID, string(out.Stage))

	switch out.Kind {
	case domain.OutcomeFailed:
		logger.Warn().Err(out.Err).Msg("article failed")
	case domain.OutcomeDiscarded:
		logger.Info().Str("reason", out.Message).Msg("article discarded")
	default:
		logger.Debug().Str("state", string(out.State)).Msg("article processed")
	}
	p.metrics.RecordArticleOutcome(string(out.Stage), string(out.Kind))

	entry := &domain.ProcessingLog{
		ProjectID:  project.ID,
		ExternalID: out.ExternalID,
		Stage:      out.Stage,
		Status:     out.State,
		Message:    out.Message,
		JobID:      req.JobID,
	}
	if err := p.logs.Append(ctx, entry); err != nil {
		logger.Error().Err(err).Msg("failed to append processing log")
	}

	processed, err := p.projects.IncrementProcessed(ctx, project.ID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to increment processed count")
	}

	if p.notifier != nil {
		p.notifier.ArticleProcessed(ctx, project.ID, out, processed, total)
	}
}

// loadRecords pages through the project's records in external_id order.
func (p *Pipeline) loadRecords(ctx context.Context, projectID uuid.UUID, ids []string) ([]*domain.BibliographicRecord, error) {
	var all []*domain.BibliographicRecord
	for offset := 0; ; offset += repository.MaxPageSize {
		page, err := p.records.List(ctx, repository.RecordFilter{
			ProjectID:   projectID,
			ExternalIDs: ids,
			Limit:       repository.MaxPageSize,
			Offset:      offset,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to load records: %w", err)
		}
		all = append(all, page...)
		if len(page) < repository.MaxPageSize {
			return all, nil
		}
	}
}
