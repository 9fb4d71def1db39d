package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/helixir/slr-pipeline/internal/domain"
)

// ExtractionRepository stores the per-article AI results. Rows are created
// lazily by whichever write touches an article first.
type ExtractionRepository interface {
	// SaveScreening writes the screening columns, creating the row if needed.
	SaveScreening(ctx context.Context, projectID uuid.UUID, externalID string, result domain.ScreeningResult) error

	// SaveExtraction writes the extraction columns, creating the row if
	// needed. A rerun overwrites the previous extracted data.
	SaveExtraction(ctx context.Context, projectID uuid.UUID, externalID string, result domain.ExtractionResult) error

	// MergeValidation sets one evaluator's decision without touching other
	// evaluators' keys.
	MergeValidation(ctx context.Context, projectID uuid.UUID, externalID, evaluator, decision string) error

	// ListByProject returns extractions ordered by external_id.
	ListByProject(ctx context.Context, filter ExtractionFilter) ([]*domain.Extraction, error)
}

// ExtractionFilter narrows ListByProject.
type ExtractionFilter struct {
	ProjectID     uuid.UUID
	Decision      domain.ScreeningDecision
	OnlyExtracted bool
}

var _ ExtractionRepository = (*PgExtractionRepository)(nil)

// PgExtractionRepository is the PostgreSQL ExtractionRepository.
type PgExtractionRepository struct {
	db DBTX
}

// NewPgExtractionRepository creates an extraction repository over db.
func NewPgExtractionRepository(db DBTX) *PgExtractionRepository {
	return &PgExtractionRepository{db: db}
}

// SaveScreening upserts the screening result.
func (r *PgExtractionRepository) SaveScreening(ctx context.Context, projectID uuid.UUID, externalID string, result domain.ScreeningResult) error {
	if err := validateArticleKey(projectID, externalID); err != nil {
		return err
	}
	if !result.Decision.IsValid() {
		return domain.NewValidationError("decision", fmt.Sprintf("must be include or exclude, got %q", result.Decision))
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO extractions (project_id, external_id, relevance_score, decision, justification, screened_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (project_id, external_id) DO UPDATE SET
			relevance_score = EXCLUDED.relevance_score,
			decision = EXCLUDED.decision,
			justification = EXCLUDED.justification,
			screened_at = EXCLUDED.screened_at,
			updated_at = NOW()`,
		projectID, externalID, result.RelevanceScore, string(result.Decision), result.Justification,
	)
	if err != nil {
		return fmt.Errorf("failed to save screening: %w", err)
	}
	return nil
}

// SaveExtraction upserts the extraction result. The returned object is stored verbatim.
func (r *PgExtractionRepository) SaveExtraction(ctx context.Context, projectID uuid.UUID, externalID string, result domain.ExtractionResult) error {
	if err := validateArticleKey(projectID, externalID); err != nil {
		return err
	}
	data, err := json.Marshal(result.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal extracted data: %w", err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO extractions (
			project_id, external_id, extracted_data, extraction_source,
			grid_mismatch, missing_fields, unexpected_fields, extracted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (project_id, external_id) DO UPDATE SET
			extracted_data = EXCLUDED.extracted_data,
			extraction_source = EXCLUDED.extraction_source,
			grid_mismatch = EXCLUDED.grid_mismatch,
			missing_fields = EXCLUDED.missing_fields,
			unexpected_fields = EXCLUDED.unexpected_fields,
			extracted_at = EXCLUDED.extracted_at,
			updated_at = NOW()`,
		projectID, externalID, data, string(result.Source),
		result.GridMismatch(), nonNilStrings(result.MissingFields), nonNilStrings(result.UnexpectedFields),
	)
	if err != nil {
		return fmt.Errorf("failed to save extraction: %w", err)
	}
	return nil
}

// MergeValidation merges {evaluator: decision} into the validations map with
// jsonb concatenation. Last writer wins per key.
func (r *PgExtractionRepository) MergeValidation(ctx context.Context, projectID uuid.UUID, externalID, evaluator, decision string) error {
	if err := validateArticleKey(projectID, externalID); err != nil {
		return err
	}
	if strings.TrimSpace(evaluator) == "" {
		return domain.NewValidationError("evaluator", "is required")
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO extractions (project_id, external_id, validations)
		VALUES ($1, $2, jsonb_build_object($3::text, $4::text))
		ON CONFLICT (project_id, external_id) DO UPDATE SET
			validations = extractions.validations || EXCLUDED.validations,
			updated_at = NOW()`,
		projectID, externalID, evaluator, decision,
	)
	if err != nil {
		return fmt.Errorf("failed to merge validation: %w", err)
	}
	return nil
}

// ListByProject returns the project's extractions ordered by external_id.
func (r *PgExtractionRepository) ListByProject(ctx context.Context, filter ExtractionFilter) ([]*domain.Extraction, error) {
	if filter.ProjectID == uuid.Nil {
		return nil, domain.NewValidationError("project_id", "is required")
	}

	q := psql.Select(
		"id", "project_id", "external_id",
		"relevance_score", "COALESCE(decision, '')", "justification", "screened_at",
		"extracted_data", "COALESCE(extraction_source, '')", "grid_mismatch",
		"missing_fields", "unexpected_fields", "extracted_at",
		"validations", "created_at", "updated_at",
	).
		From("extractions").
		Where(sq.Eq{"project_id": filter.ProjectID})
	if filter.Decision != "" {
		q = q.Where(sq.Eq{"decision": string(filter.Decision)})
	}
	if filter.OnlyExtracted {
		q = q.Where(sq.NotEq{"extracted_data": nil})
	}
	query, args, err := q.OrderBy("external_id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build extraction query: %w", err)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list extractions: %w", err)
	}
	defer rows.Close()

	var out []*domain.Extraction
	for rows.Next() {
		var (
			e                            domain.Extraction
			decision, source             string
			extractedRaw, validationsRaw []byte
		)
		if err := rows.Scan(
			&e.ID, &e.ProjectID, &e.ExternalID,
			&e.RelevanceScore, &decision, &e.Justification, &e.ScreenedAt,
			&extractedRaw, &source, &e.GridMismatch,
			&e.MissingFields, &e.UnexpectedFields, &e.ExtractedAt,
			&validationsRaw, &e.CreatedAt, &e.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan extraction: %w", err)
		}
		e.Decision = domain.ScreeningDecision(decision)
		e.ExtractionSource = domain.ExtractionSource(source)
		if len(extractedRaw) > 0 {
			if err := json.Unmarshal(extractedRaw, &e.ExtractedData); err != nil {
				return nil, fmt.Errorf("failed to decode extracted data for %s: %w", e.ExternalID, err)
			}
		}
		if len(validationsRaw) > 0 {
			if err := json.Unmarshal(validationsRaw, &e.Validations); err != nil {
				return nil, fmt.Errorf("failed to decode validations for %s: %w", e.ExternalID, err)
			}
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate extractions: %w", err)
	}
	return out, nil
}

func validateArticleKey(projectID uuid.UUID, externalID string) error {
	if projectID == uuid.Nil {
		return domain.NewValidationError("project_id", "is required")
	}
	if strings.TrimSpace(externalID) == "" {
		return domain.NewValidationError("external_id", "is required")
	}
	return nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
