// Package pipeline runs the per-article screening and extraction stages.
//
// An article moves NEW -> SCREENED -> EXTRACTED, or ends DISCARDED or FAILED.
// Every step returns a domain.Outcome instead of an error; a batch keeps going
// past failed articles and only stops for cancellation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/slr-pipeline/internal/domain"
	"github.com/helixir/slr-pipeline/internal/inference"
	"github.com/helixir/slr-pipeline/internal/observability"
	"github.com/helixir/slr-pipeline/internal/repository"
)

// Config holds the pipeline settings.
type Config struct {
	ScreeningModel   string
	ExtractionModel  string
	MinContentLength int
}

// FullTextSource returns an article's full text. ok is false when there is none.
type FullTextSource interface {
	ForArticle(ctx context.Context, projectID uuid.UUID, externalID string) (text string, ok bool, err error)
}

// Notifier receives progress events. Implementations must not block.
type Notifier interface {
	ArticleProcessed(ctx context.Context, projectID uuid.UUID, outcome domain.Outcome, processed, total int)
	BatchCompleted(ctx context.Context, projectID uuid.UUID, stage domain.Stage, processed, discarded, failed int)
}

// Deps are the collaborators of a Pipeline. FullText and Notifier are optional.
type Deps struct {
	Completer   inference.Completer
	Records     repository.RecordStore
	Extractions repository.ExtractionRepository
	Logs        repository.ProcessingLogRepository
	Projects    repository.ProjectRepository
	FullText    FullTextSource
	Notifier    Notifier
	Logger      zerolog.Logger
	Metrics     *observability.Metrics
}

// Pipeline processes articles one at a time.
type Pipeline struct {
	config      Config
	completer   inference.Completer
	records     repository.RecordStore
	extractions repository.ExtractionRepository
	logs        repository.ProcessingLogRepository
	projects    repository.ProjectRepository
	fullText    FullTextSource
	notifier    Notifier
	logger      zerolog.Logger
	metrics     *observability.Metrics
}

// New creates a Pipeline.
func New(cfg Config, deps Deps) *Pipeline {
	return &Pipeline{
		config:      cfg,
		completer:   deps.Completer,
		records:     deps.Records,
		extractions: deps.Extractions,
		logs:        deps.Logs,
		projects:    deps.Projects,
		fullText:    deps.FullText,
		notifier:    deps.Notifier,
		logger:      deps.Logger.With().Str("component", "pipeline").Logger(),
		metrics:     deps.Metrics,
	}
}

// Screen rates one record. Content shorter than MinContentLength is
// discarded without calling the inference service.
func (p *Pipeline) Screen(ctx context.Context, project *domain.Project, rec *domain.BibliographicRecord) domain.Outcome {
	id := rec.ExternalID
	if n := contentLength(rec.ContentText()); n < p.config.MinContentLength {
		return domain.Discarded(domain.StageScreening, id,
			fmt.Sprintf("content length %d below minimum %d", n, p.config.MinContentLength))
	}

	completion, err := p.completer.Complete(ctx, BuildScreeningPrompt(rec.NormalizedRecord), p.config.ScreeningModel, inference.ModeJSON)
	if err != nil {
		return domain.Failed(domain.StageScreening, id, err)
	}

	result, err := ParseScreening(completion.Object)
	if err != nil {
		return domain.Failed(domain.StageScreening, id, err)
	}

	if err := p.extractions.SaveScreening(ctx, project.ID, id, result); err != nil {
		return domain.Failed(domain.StageScreening, id, err)
	}

	out := domain.Processed(domain.StageScreening, id, domain.ArticleStateScreened)
	out.Message = fmt.Sprintf("score %s, %s", strconv.FormatFloat(result.RelevanceScore, 'f', -1, 64), result.Decision)
	return out
}

// Extract fills the project grid for one record. Full text is preferred when
// it clears MinContentLength; otherwise the abstract is used.
func (p *Pipeline) Extract(ctx context.Context, project *domain.Project, rec *domain.BibliographicRecord) domain.Outcome {
	id := rec.ExternalID
	if len(project.Grid) == 0 {
		return domain.Failed(domain.StageExtraction, id, domain.NewValidationError("grid", "project has no extraction fields"))
	}

	text, source := p.extractionText(ctx, project.ID, rec)
	if n := contentLength(text); n < p.config.MinContentLength {
		return domain.Discarded(domain.StageExtraction, id,
			fmt.Sprintf("content length %d below minimum %d", n, p.config.MinContentLength))
	}

	completion, err := p.completer.Complete(ctx, BuildExtractionPrompt(project.Grid, text), p.config.ExtractionModel, inference.ModeJSON)
	if err != nil {
		return domain.Failed(domain.StageExtraction, id, err)
	}

	missing, unexpected := ValidateGrid(project.Grid, completion.Object)
	result := domain.ExtractionResult{
		Data:             completion.Object,
		Source:           source,
		MissingFields:    missing,
		UnexpectedFields: unexpected,
	}
	if err := p.extractions.SaveExtraction(ctx, project.ID, id, result); err != nil {
		return domain.Failed(domain.StageExtraction, id, err)
	}

	out := domain.Processed(domain.StageExtraction, id, domain.ArticleStateExtracted)
	out.Message = "from " + string(source)
	if result.GridMismatch() {
		out.Message += fmt.Sprintf("; grid mismatch (missing: %s; unexpected: %s)",
			strings.Join(missing, ","), strings.Join(unexpected, ","))
	}
	return out
}

func (p *Pipeline) extractionText(ctx context.Context, projectID uuid.UUID, rec *domain.BibliographicRecord) (string, domain.ExtractionSource) {
	if p.fullText != nil {
		text, ok, err := p.fullText.ForArticle(ctx, projectID, rec.ExternalID)
		switch {
		case err != nil:
			p.logger.Warn().Err(err).Str("external_id", rec.ExternalID).Msg("full text unavailable, using abstract")
		case ok && contentLength(text) >= p.config.MinContentLength:
			return text, domain.ExtractionSourcePDF
		}
	}
	return rec.ContentText(), domain.ExtractionSourceAbstract
}

// ParseScreening validates a screening reply.
func ParseScreening(obj map[string]interface{}) (domain.ScreeningResult, error) {
	var result domain.ScreeningResult

	score, ok := number(obj["relevance_score"])
	if !ok {
		return result, domain.NewValidationError("relevance_score", "missing or not a number")
	}
	if score < 0 || score > 10 {
		return result, domain.NewValidationError("relevance_score", fmt.Sprintf("%v outside 0-10", score))
	}

	raw, _ := obj["decision"].(string)
	decision := domain.ScreeningDecision(strings.ToLower(strings.TrimSpace(raw)))
	if !decision.IsValid() {
		return result, domain.NewValidationError("decision", fmt.Sprintf("unknown decision %q", raw))
	}

	justification, _ := obj["justification"].(string)
	return domain.ScreeningResult{
		RelevanceScore: score,
		Decision:       decision,
		Justification:  strings.TrimSpace(justification),
	}, nil
}

// ValidateGrid compares the reply keys with the grid. Both lists are sorted.
func ValidateGrid(grid domain.Grid, obj map[string]interface{}) (missing, unexpected []string) {
	missing = []string{}
	unexpected = []string{}
	for _, field := range grid {
		if _, ok := obj[field]; !ok {
			missing = append(missing, field)
		}
	}
	for key := range obj {
		if !grid.Contains(key) {
			unexpected = append(unexpected, key)
		}
	}
	sort.Strings(missing)
	sort.Strings(unexpected)
	return missing, unexpected
}

func number(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func contentLength(s string) int {
	return utf8.RuneCountInString(strings.TrimSpace(s))
}

// runStage executes one stage for one article and turns a panic into a
// Failed outcome.
func (p *Pipeline) runStage(ctx context.Context, stage domain.Stage, project *domain.Project, rec *domain.BibliographicRecord) (out domain.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().
				Str("external_id", rec.ExternalID).
				Str("stage", string(stage)).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("article processing panicked")
			out = domain.Failed(stage, rec.ExternalID, fmt.Errorf("panic: %v", r))
		}
	}()

	switch stage {
	case domain.StageScreening:
		return p.Screen(ctx, project, rec)
	case domain.StageExtraction:
		return p.Extract(ctx, project, rec)
	default:
		return domain.Failed(stage, rec.ExternalID, domain.NewValidationError("stage", "unknown stage "+string(stage)))
	}
}

func cancelled(ctx context.Context, out domain.Outcome) bool {
	if ctx.Err() == nil || out.Kind != domain.OutcomeFailed {
		return false
	}
	return errors.Is(out.Err, context.Canceled) || errors.Is(out.Err, context.DeadlineExceeded)
}
