package repository

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/helixir/slr-pipeline/internal/database"
	"github.com/helixir/slr-pipeline/internal/domain"
)

// RecordStore persists bibliographic records with conflict-safe deduplication
// keyed on (project_id, external_id).
type RecordStore interface {
	// UpsertBatch inserts records that do not exist yet and returns how many
	// rows were written. Existing rows are never modified.
	UpsertBatch(ctx context.Context, projectID uuid.UUID, records []domain.NormalizedRecord) (int, error)

	// List returns stored records ordered by external_id.
	List(ctx context.Context, filter RecordFilter) ([]*domain.BibliographicRecord, error)

	// Count returns the number of records stored for a project.
	Count(ctx context.Context, projectID uuid.UUID) (int, error)
}

// RecordFilter narrows List.
type RecordFilter struct {
	ProjectID uuid.UUID
	// ExternalIDs restricts the result to these ids when non-empty.
	ExternalIDs []string
	Limit       int
	Offset      int
}

var _ RecordStore = (*PgRecordStore)(nil)

// PgRecordStore is the PostgreSQL RecordStore.
type PgRecordStore struct {
	db DBTX
}

// NewPgRecordStore creates a record store over db.
func NewPgRecordStore(db DBTX) *PgRecordStore {
	return &PgRecordStore{db: db}
}

const insertRecordSQL = `
	INSERT INTO bibliographic_records (
		project_id, external_id, title, abstract, authors,
		publication_year, journal, doi, url, source_tag
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (project_id, external_id) DO NOTHING`

// UpsertBatch runs one insert-or-ignore per record inside a single
// transaction. The unique constraint arbitrates concurrent writers, so there
// is no read-then-write window. A duplicate inside the batch is ignored the
// same way as one already in the table.
func (s *PgRecordStore) UpsertBatch(ctx context.Context, projectID uuid.UUID, records []domain.NormalizedRecord) (int, error) {
	if projectID == uuid.Nil {
		return 0, domain.NewValidationError("project_id", "is required")
	}
	if len(records) == 0 {
		return 0, nil
	}
	for i := range records {
		if err := records[i].Validate(); err != nil {
			return 0, fmt.Errorf("record %d: %w", i, err)
		}
	}

	inserted := 0
	err := database.RunInTx(ctx, s.db, func(tx pgx.Tx) error {
		for _, rec := range records {
			tag, err := tx.Exec(ctx, insertRecordSQL,
				projectID,
				rec.ExternalID,
				rec.Title,
				rec.Abstract,
				rec.Authors,
				nullableInt(rec.PublicationYear),
				rec.Journal,
				rec.DOI,
				rec.URL,
				string(rec.SourceTag),
			)
			if err != nil {
				return fmt.Errorf("insert record %s: %w", rec.ExternalID, err)
			}
			inserted += int(tag.RowsAffected())
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to upsert records: %w", err)
	}

	return inserted, nil
}

// List returns stored records for a project.
func (s *PgRecordStore) List(ctx context.Context, filter RecordFilter) ([]*domain.BibliographicRecord, error) {
	if filter.ProjectID == uuid.Nil {
		return nil, domain.NewValidationError("project_id", "is required")
	}
	limit, offset := applyPaginationDefaults(filter.Limit, filter.Offset)

	q := psql.Select(
		"id", "project_id", "external_id", "title", "abstract", "authors",
		"COALESCE(publication_year, 0)", "journal", "doi", "url", "source_tag", "created_at",
	).
		From("bibliographic_records").
		Where(sq.Eq{"project_id": filter.ProjectID})
	if len(filter.ExternalIDs) > 0 {
		q = q.Where(sq.Eq{"external_id": filter.ExternalIDs})
	}
	query, args, err := q.OrderBy("external_id").
		Limit(uint64(limit)).
		Offset(uint64(offset)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build record query: %w", err)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var out []*domain.BibliographicRecord
	for rows.Next() {
		var (
			rec       domain.BibliographicRecord
			sourceTag string
		)
		if err := rows.Scan(
			&rec.ID, &rec.ProjectID, &rec.ExternalID, &rec.Title, &rec.Abstract, &rec.Authors,
			&rec.PublicationYear, &rec.Journal, &rec.DOI, &rec.URL, &sourceTag, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		rec.SourceTag = domain.SourceType(sourceTag)
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}
	return out, nil
}

// Count returns the number of records stored for a project.
func (s *PgRecordStore) Count(ctx context.Context, projectID uuid.UUID) (int, error) {
	var n int
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM bibliographic_records WHERE project_id = $1`, projectID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}
