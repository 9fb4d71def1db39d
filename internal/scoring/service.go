package scoring

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/slr-pipeline/internal/observability"
	"github.com/helixir/slr-pipeline/internal/repository"
)

// Service runs the engine over a project's stored extractions and overwrites
// the project's analysis document.
type Service struct {
	engine       *Engine
	extractions  repository.ExtractionRepository
	analyses     repository.AnalysisRepository
	analysisType string
	logger       zerolog.Logger
	metrics      *observability.Metrics
}

// NewService creates a Service storing results under analysisType.
func NewService(
	engine *Engine,
	extractions repository.ExtractionRepository,
	analyses repository.AnalysisRepository,
	analysisType string,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) *Service {
	return &Service{
		engine:       engine,
		extractions:  extractions,
		analyses:     analyses,
		analysisType: analysisType,
		logger:       logger.With().Str("component", "scoring").Logger(),
		metrics:      metrics,
	}
}

// Run scores the project and stores the result.
func (s *Service) Run(ctx context.Context, projectID uuid.UUID) (*Summary, error) {
	extractions, err := s.extractions.ListByProject(ctx, repository.ExtractionFilter{ProjectID: projectID})
	if err != nil {
		return nil, fmt.Errorf("failed to load extractions: %w", err)
	}

	summary := s.engine.Compute(extractions)
	doc, err := s.engine.Marshal(summary)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal analysis: %w", err)
	}

	if err := s.analyses.SaveResult(ctx, projectID, s.analysisType, doc); err != nil {
		return nil, fmt.Errorf("failed to save analysis: %w", err)
	}
	s.metrics.RecordScoringRun(s.analysisType)

	s.logger.Info().
		Str("project_id", projectID.String()).
		Str("analysis_type", s.analysisType).
		Int("articles", summary.TotalArticles).
		Float64("total_domain_score", summary.TotalDomainScore).
		Msg("scoring completed")
	return &summary, nil
}
