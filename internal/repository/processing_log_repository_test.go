package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/slr-pipeline/internal/domain"
)

func TestPgProcessingLogRepository_Append(t *testing.T) {
	ctx := context.Background()
	projectID := uuid.New()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now().UTC()
	mock.ExpectQuery("INSERT INTO processing_logs").
		WithArgs(projectID, "111", "screening", "FAILED", "inference timeout", "job-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(int64(17), now))

	entry := &domain.ProcessingLog{
		ProjectID:  projectID,
		ExternalID: "111",
		Stage:      domain.StageScreening,
		Status:     domain.ArticleStateFailed,
		Message:    "inference timeout",
		JobID:      "job-1",
	}
	require.NoError(t, NewPgProcessingLogRepository(mock).Append(ctx, entry))
	assert.Equal(t, int64(17), entry.ID)
	assert.Equal(t, now, entry.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgProcessingLogRepository_Append_Invalid(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPgProcessingLogRepository(mock)
	assert.ErrorIs(t, repo.Append(context.Background(), nil), domain.ErrInvalidInput)
	assert.ErrorIs(t, repo.Append(context.Background(), &domain.ProcessingLog{ExternalID: "1"}), domain.ErrInvalidInput)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgProcessingLogRepository_List(t *testing.T) {
	ctx := context.Background()
	projectID := uuid.New()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now().UTC()
	mock.ExpectQuery(`FROM processing_logs WHERE project_id = \$1 AND stage = \$2 AND status = \$3 ORDER BY created_at, id LIMIT 10`).
		WithArgs(projectID, "extraction", "DISCARDED").
		WillReturnRows(pgxmock.NewRows([]string{"id", "project_id", "external_id", "stage", "status", "message", "job_id", "created_at"}).
			AddRow(int64(1), projectID, "222", "extraction", "DISCARDED", "content too short", "job-2", now))

	logs, err := NewPgProcessingLogRepository(mock).List(ctx, LogFilter{
		ProjectID: projectID,
		Stage:     domain.StageExtraction,
		Status:    domain.ArticleStateDiscarded,
		Limit:     10,
	})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, domain.StageExtraction, logs[0].Stage)
	assert.Equal(t, domain.ArticleStateDiscarded, logs[0].Status)
	assert.Equal(t, "job-2", logs[0].JobID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
