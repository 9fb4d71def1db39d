package repository

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/helixir/slr-pipeline/internal/domain"
)

// ProcessingLogRepository is the append-only audit trail of article outcomes.
// It has no update or delete.
type ProcessingLogRepository interface {
	Append(ctx context.Context, entry *domain.ProcessingLog) error
	List(ctx context.Context, filter LogFilter) ([]*domain.ProcessingLog, error)
}

// LogFilter narrows List.
type LogFilter struct {
	ProjectID  uuid.UUID
	ExternalID string
	Stage      domain.Stage
	Status     domain.ArticleState
	Since      *time.Time
	Limit      int
	Offset     int
}

var _ ProcessingLogRepository = (*PgProcessingLogRepository)(nil)

// PgProcessingLogRepository is the PostgreSQL ProcessingLogRepository.
type PgProcessingLogRepository struct {
	db DBTX
}

// NewPgProcessingLogRepository creates a processing log repository over db.
func NewPgProcessingLogRepository(db DBTX) *PgProcessingLogRepository {
	return &PgProcessingLogRepository{db: db}
}

// Append inserts one row and fills in its id and created_at.
func (r *PgProcessingLogRepository) Append(ctx context.Context, entry *domain.ProcessingLog) error {
	if entry == nil {
		return domain.NewValidationError("entry", "cannot be nil")
	}
	if err := validateArticleKey(entry.ProjectID, entry.ExternalID); err != nil {
		return err
	}

	err := r.db.QueryRow(ctx, `
		INSERT INTO processing_logs (project_id, external_id, stage, status, message, job_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`,
		entry.ProjectID, entry.ExternalID, string(entry.Stage), string(entry.Status), entry.Message, entry.JobID,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append processing log: %w", err)
	}
	return nil
}

// List returns log rows, oldest first.
func (r *PgProcessingLogRepository) List(ctx context.Context, filter LogFilter) ([]*domain.ProcessingLog, error) {
	if filter.ProjectID == uuid.Nil {
		return nil, domain.NewValidationError("project_id", "is required")
	}
	limit, offset := applyPaginationDefaults(filter.Limit, filter.Offset)

	q := psql.Select("id", "project_id", "external_id", "stage", "status", "message", "job_id", "created_at").
		From("processing_logs").
		Where(sq.Eq{"project_id": filter.ProjectID})
	if filter.ExternalID != "" {
		q = q.Where(sq.Eq{"external_id": filter.ExternalID})
	}
	if filter.Stage != "" {
		q = q.Where(sq.Eq{"stage": string(filter.Stage)})
	}
	if filter.Status != "" {
		q = q.Where(sq.Eq{"status": string(filter.Status)})
	}
	if filter.Since != nil {
		q = q.Where(sq.GtOrEq{"created_at": *filter.Since})
	}
	query, args, err := q.OrderBy("created_at", "id").
		Limit(uint64(limit)).
		Offset(uint64(offset)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build log query: %w", err)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list processing logs: %w", err)
	}
	defer rows.Close()

	var out []*domain.ProcessingLog
	for rows.Next() {
		var (
			l             domain.ProcessingLog
			stage, status string
		)
		if err := rows.Scan(&l.ID, &l.ProjectID, &l.ExternalID, &stage, &status, &l.Message, &l.JobID, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan processing log: %w", err)
		}
		l.Stage = domain.Stage(stage)
		l.Status = domain.ArticleState(status)
		out = append(out, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate processing logs: %w", err)
	}
	return out, nil
}
