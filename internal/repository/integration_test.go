//go:build integration

package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/helixir/slr-pipeline/internal/database"
	"github.com/helixir/slr-pipeline/internal/domain"
)

// startPostgres runs a throwaway PostgreSQL with all migrations applied.
func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("slr_pipeline_test"),
		tcpostgres.WithUsername("slr"),
		tcpostgres.WithPassword("slr"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	migrationsPath, err := filepath.Abs("../../migrations")
	require.NoError(t, err)
	migrator, err := database.NewMigrator(pool, migrationsPath, zerolog.New(os.Stderr))
	require.NoError(t, err)
	require.NoError(t, migrator.Up())
	t.Cleanup(func() { _ = migrator.Close() })

	return pool
}

func createProject(t *testing.T, pool *pgxpool.Pool, grid []string) uuid.UUID {
	t.Helper()
	var id uuid.UUID
	err := pool.QueryRow(context.Background(),
		`INSERT INTO projects (name, grid) VALUES ($1, to_jsonb($2::text[])) RETURNING id`,
		"integration", grid,
	).Scan(&id)
	require.NoError(t, err)
	return id
}

func TestIntegration_RecordStoreDeduplication(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()
	projectID := createProject(t, pool, []string{"population"})
	store := NewPgRecordStore(pool)
	projects := NewPgProjectRepository(pool)

	first := []domain.NormalizedRecord{testRecord("111", "First"), testRecord("222", "Second")}
	inserted, err := store.UpsertBatch(ctx, projectID, first)
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)

	again, err := store.UpsertBatch(ctx, projectID, first)
	require.NoError(t, err)
	assert.Zero(t, again)

	changed := testRecord("222", "Second, retitled")
	inserted, err = store.UpsertBatch(ctx, projectID, []domain.NormalizedRecord{changed, testRecord("333", "Third")})
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)

	records, err := store.List(ctx, RecordFilter{ProjectID: projectID})
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "Second", records[1].Title, "existing rows are never overwritten")

	n, err := projects.RefreshRecordCount(ctx, projectID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestIntegration_ExtractionValidationsMerge(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()
	projectID := createProject(t, pool, []string{"population", "outcome"})
	repo := NewPgExtractionRepository(pool)

	require.NoError(t, repo.SaveScreening(ctx, projectID, "111", domain.ScreeningResult{
		RelevanceScore: 8,
		Decision:       domain.DecisionInclude,
		Justification:  "on topic",
	}))
	require.NoError(t, repo.MergeValidation(ctx, projectID, "111", "alice", "include"))
	require.NoError(t, repo.MergeValidation(ctx, projectID, "111", "bob", "exclude"))
	require.NoError(t, repo.MergeValidation(ctx, projectID, "111", "alice", "exclude"))
	require.NoError(t, repo.SaveExtraction(ctx, projectID, "111", domain.ExtractionResult{
		Data:          map[string]interface{}{"population": "adults"},
		Source:        domain.ExtractionSourceAbstract,
		MissingFields: []string{"outcome"},
	}))

	got, err := repo.ListByProject(ctx, ExtractionFilter{ProjectID: projectID, OnlyExtracted: true})
	require.NoError(t, err)
	require.Len(t, got, 1)

	e := got[0]
	assert.Equal(t, map[string]string{"alice": "exclude", "bob": "exclude"}, e.Validations)
	assert.Equal(t, domain.DecisionInclude, e.Decision)
	assert.True(t, e.GridMismatch)
	assert.Equal(t, []string{"outcome"}, e.MissingFields)
	assert.Equal(t, "adults", e.ExtractedData["population"])
}

func TestIntegration_ProcessingLogAndCounters(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()
	projectID := createProject(t, pool, nil)
	logs := NewPgProcessingLogRepository(pool)
	projects := NewPgProjectRepository(pool)

	for i := 0; i < 3; i++ {
		_, err := projects.IncrementProcessed(ctx, projectID)
		require.NoError(t, err)
	}
	p, err := projects.Get(ctx, projectID)
	require.NoError(t, err)
	assert.Equal(t, 3, p.ProcessedCount)
	assert.Equal(t, domain.ProjectStatusPending, p.Status)

	require.NoError(t, projects.UpdateStatus(ctx, projectID, domain.ProjectStatusScreening))
	require.NoError(t, projects.ResetProcessed(ctx, projectID))

	entry := &domain.ProcessingLog{
		ProjectID:  projectID,
		ExternalID: "111",
		Stage:      domain.StageScreening,
		Status:     domain.ArticleStateFailed,
		Message:    "timeout",
		JobID:      "job-1",
	}
	require.NoError(t, logs.Append(ctx, entry))
	assert.NotZero(t, entry.ID)

	rows, err := logs.List(ctx, LogFilter{ProjectID: projectID, Status: domain.ArticleStateFailed})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "timeout", rows[0].Message)
}
