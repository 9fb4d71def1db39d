package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/helixir/slr-pipeline/internal/domain"
)

// AnalysisRepository stores one aggregate document per (project, analysis type).
type AnalysisRepository interface {
	// SaveResult replaces any previous result for the analysis type. There is
	// no merge.
	SaveResult(ctx context.Context, projectID uuid.UUID, analysisType string, result []byte) error
	GetResult(ctx context.Context, projectID uuid.UUID, analysisType string) (*domain.AnalysisResult, error)
}

var _ AnalysisRepository = (*PgAnalysisRepository)(nil)

// PgAnalysisRepository is the PostgreSQL AnalysisRepository.
type PgAnalysisRepository struct {
	db DBTX
}

// NewPgAnalysisRepository creates an analysis repository over db.
func NewPgAnalysisRepository(db DBTX) *PgAnalysisRepository {
	return &PgAnalysisRepository{db: db}
}

// SaveResult overwrites the stored document.
func (r *PgAnalysisRepository) SaveResult(ctx context.Context, projectID uuid.UUID, analysisType string, result []byte) error {
	if projectID == uuid.Nil {
		return domain.NewValidationError("project_id", "is required")
	}
	if strings.TrimSpace(analysisType) == "" {
		return domain.NewValidationError("analysis_type", "is required")
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO analysis_results (project_id, analysis_type, result)
		VALUES ($1, $2, $3)
		ON CONFLICT (project_id, analysis_type) DO UPDATE SET
			result = EXCLUDED.result,
			updated_at = NOW()`,
		projectID, analysisType, result,
	)
	if err != nil {
		return fmt.Errorf("failed to save analysis result: %w", err)
	}
	return nil
}

// GetResult returns the stored document or a NotFoundError.
func (r *PgAnalysisRepository) GetResult(ctx context.Context, projectID uuid.UUID, analysisType string) (*domain.AnalysisResult, error) {
	res := domain.AnalysisResult{ProjectID: projectID, AnalysisType: analysisType}
	err := r.db.QueryRow(ctx, `
		SELECT result, updated_at FROM analysis_results
		WHERE project_id = $1 AND analysis_type = $2`,
		projectID, analysisType,
	).Scan(&res.Result, &res.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("analysis result", projectID.String()+"/"+analysisType)
		}
		return nil, fmt.Errorf("failed to get analysis result: %w", err)
	}
	return &res, nil
}
