package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/helixir/slr-pipeline/internal/domain"
)

// ProjectRepository reads projects and applies the status and counter
// mutations the pipeline owns. Every mutation bumps updated_at.
type ProjectRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Project, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.ProjectStatus) error
	// RefreshRecordCount sets pmids_count to the number of stored records and returns it.
	RefreshRecordCount(ctx context.Context, id uuid.UUID) (int, error)
	// IncrementProcessed adds one to processed_count and returns the new value.
	IncrementProcessed(ctx context.Context, id uuid.UUID) (int, error)
	// ResetProcessed sets processed_count to zero at the start of a stage run.
	ResetProcessed(ctx context.Context, id uuid.UUID) error
}

var _ ProjectRepository = (*PgProjectRepository)(nil)

// PgProjectRepository is the PostgreSQL ProjectRepository.
type PgProjectRepository struct {
	db DBTX
}

// NewPgProjectRepository creates a project repository over db.
func NewPgProjectRepository(db DBTX) *PgProjectRepository {
	return &PgProjectRepository{db: db}
}

// Get returns the project or a NotFoundError.
func (r *PgProjectRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Project, error) {
	var (
		p       domain.Project
		status  string
		gridRaw []byte
	)
	err := r.db.QueryRow(ctx, `
		SELECT id, name, status, grid, pmids_count, processed_count, created_at, updated_at
		FROM projects
		WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &status, &gridRaw, &p.PmidsCount, &p.ProcessedCount, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("project", id.String())
		}
		return nil, fmt.Errorf("failed to get project: %w", err)
	}

	p.Status = domain.ProjectStatus(status)
	if len(gridRaw) > 0 {
		if err := json.Unmarshal(gridRaw, &p.Grid); err != nil {
			return nil, fmt.Errorf("failed to decode project grid: %w", err)
		}
	}
	return &p, nil
}

// UpdateStatus moves the project to status.
func (r *PgProjectRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.ProjectStatus) error {
	if !status.IsValid() {
		return domain.NewValidationError("status", fmt.Sprintf("unknown project status %q", status))
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE projects SET status = $2, updated_at = NOW() WHERE id = $1`,
		id, string(status),
	)
	if err != nil {
		return fmt.Errorf("failed to update project status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("project", id.String())
	}
	return nil
}

// RefreshRecordCount recomputes pmids_count from bibliographic_records.
func (r *PgProjectRepository) RefreshRecordCount(ctx context.Context, id uuid.UUID) (int, error) {
	return r.returningCount(ctx, "refresh record count", `
		UPDATE projects
		SET pmids_count = (SELECT COUNT(*) FROM bibliographic_records WHERE project_id = $1),
			updated_at = NOW()
		WHERE id = $1
		RETURNING pmids_count`, id)
}

// IncrementProcessed is a single atomic UPDATE, so concurrent batches never
// lose increments.
func (r *PgProjectRepository) IncrementProcessed(ctx context.Context, id uuid.UUID) (int, error) {
	return r.returningCount(ctx, "increment processed count", `
		UPDATE projects
		SET processed_count = processed_count + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING processed_count`, id)
}

// ResetProcessed zeroes processed_count.
func (r *PgProjectRepository) ResetProcessed(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE projects SET processed_count = 0, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to reset processed count: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("project", id.String())
	}
	return nil
}

func (r *PgProjectRepository) returningCount(ctx context.Context, op, query string, id uuid.UUID) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, query, id).Scan(&n); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.NewNotFoundError("project", id.String())
		}
		return 0, fmt.Errorf("failed to %s: %w", op, err)
	}
	return n, nil
}
