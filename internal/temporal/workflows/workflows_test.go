package workflows

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
	"go.temporal.io/sdk/workflow"

	"github.com/helixir/slr-pipeline/internal/domain"
	slrtemporal "github.com/helixir/slr-pipeline/internal/temporal"
	"github.com/helixir/slr-pipeline/internal/temporal/activities"
)

// statusRecorder captures the bookkeeping activities of a workflow run.
type statusRecorder struct {
	mu       sync.Mutex
	statuses []domain.ProjectStatus
	failures []activities.JobFailedInput
}

func (r *statusRecorder) mock(env *testsuite.TestWorkflowEnvironment) {
	var statusAct *activities.StatusActivities
	env.OnActivity(statusAct.UpdateProjectStatus, mock.Anything, mock.Anything).Return(
		func(_ context.Context, in activities.UpdateStatusInput) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.statuses = append(r.statuses, in.Status)
			return nil
		})
	env.OnActivity(statusAct.NotifyJobFailed, mock.Anything, mock.Anything).Return(
		func(_ context.Context, in activities.JobFailedInput) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.failures = append(r.failures, in)
			return nil
		})
}

func newEnv(t *testing.T) (*testsuite.TestWorkflowEnvironment, *statusRecorder) {
	t.Helper()
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()

	New(ActivityPolicy{MaxAttempts: 2}).Register(registrar{env})

	rec := &statusRecorder{}
	rec.mock(env)
	return env, rec
}

type registrar struct {
	env *testsuite.TestWorkflowEnvironment
}

func (r registrar) RegisterWorkflow(name string, fn interface{}) {
	r.env.RegisterWorkflowWithOptions(fn, workflow.RegisterOptions{Name: name})
}

func searchInput() slrtemporal.JobInput {
	return slrtemporal.JobInput{
		JobID: "search-1",
		JobRequest: slrtemporal.JobRequest{
			Type:      domain.JobTypeSearch,
			ProjectID: uuid.New(),
			Search:    &slrtemporal.SearchSpec{Query: "sepsis"},
		},
	}
}

func TestSearchWorkflow(t *testing.T) {
	t.Run("moves the project through the search statuses", func(t *testing.T) {
		env, rec := newEnv(t)

		var searchAct *activities.SearchActivities
		env.OnActivity(searchAct.SearchAndIngest, mock.Anything, mock.Anything).
			Return(&activities.SearchOutput{Total: 3, Inserted: 2, RecordCount: 3}, nil)

		env.ExecuteWorkflow(slrtemporal.WorkflowSearch, searchInput())

		require.True(t, env.IsWorkflowCompleted())
		require.NoError(t, env.GetWorkflowError())

		var out activities.SearchOutput
		require.NoError(t, env.GetWorkflowResult(&out))
		assert.Equal(t, 3, out.Total)
		assert.Equal(t, 2, out.Inserted)

		assert.Equal(t, []domain.ProjectStatus{
			domain.ProjectStatusSearching,
			domain.ProjectStatusSearchCompleted,
		}, rec.statuses)
		assert.Empty(t, rec.failures)
	})

	t.Run("all sources failed marks the project failed", func(t *testing.T) {
		env, rec := newEnv(t)

		var searchAct *activities.SearchActivities
		env.OnActivity(searchAct.SearchAndIngest, mock.Anything, mock.Anything).
			Return(nil, temporal.NewNonRetryableApplicationError(
				"all sources failed (pubmed: timeout)", activities.ErrTypeAllSourcesFailed, nil))

		input := searchInput()
		env.ExecuteWorkflow(slrtemporal.WorkflowSearch, input)

		require.True(t, env.IsWorkflowCompleted())
		require.Error(t, env.GetWorkflowError())

		assert.Equal(t, []domain.ProjectStatus{
			domain.ProjectStatusSearching,
			domain.ProjectStatusFailed,
		}, rec.statuses)
		require.Len(t, rec.failures, 1)
		assert.Equal(t, input.JobID, rec.failures[0].JobID)
		assert.Equal(t, "all sources failed (pubmed: timeout)", rec.failures[0].Error)
	})

	t.Run("other failures leave the project status alone", func(t *testing.T) {
		env, rec := newEnv(t)

		var searchAct *activities.SearchActivities
		env.OnActivity(searchAct.SearchAndIngest, mock.Anything, mock.Anything).
			Return(nil, errors.New("db unavailable"))

		env.ExecuteWorkflow(slrtemporal.WorkflowSearch, searchInput())

		require.True(t, env.IsWorkflowCompleted())
		require.Error(t, env.GetWorkflowError())
		assert.Equal(t, []domain.ProjectStatus{domain.ProjectStatusSearching}, rec.statuses)
		require.Len(t, rec.failures, 1)
		assert.Contains(t, rec.failures[0].Error, "db unavailable")
	})
}

func TestArticleBatchWorkflow(t *testing.T) {
	articleInput := func(jobType domain.JobType) slrtemporal.JobInput {
		return slrtemporal.JobInput{
			JobID:      string(jobType) + "-1",
			JobRequest: slrtemporal.JobRequest{Type: jobType, ProjectID: uuid.New()},
		}
	}

	tests := []struct {
		name    string
		jobType domain.JobType
		out     activities.ArticleBatchOutput
		want    []domain.ProjectStatus
	}{
		{
			name:    "screening",
			jobType: domain.JobTypeScreening,
			out:     activities.ArticleBatchOutput{Total: 3, Processed: 2, Failed: 1},
			want:    []domain.ProjectStatus{domain.ProjectStatusScreening},
		},
		{
			name:    "extraction",
			jobType: domain.JobTypeExtraction,
			out:     activities.ArticleBatchOutput{Total: 3, Processed: 1, Discarded: 2},
			want:    []domain.ProjectStatus{domain.ProjectStatusScreening, domain.ProjectStatusCompleted},
		},
		{
			name:    "every article failed",
			jobType: domain.JobTypeScreening,
			out:     activities.ArticleBatchOutput{Total: 2, Failed: 2},
			want:    []domain.ProjectStatus{domain.ProjectStatusScreening, domain.ProjectStatusFailed},
		},
		{
			name:    "empty batch",
			jobType: domain.JobTypeScreening,
			out:     activities.ArticleBatchOutput{},
			want:    []domain.ProjectStatus{domain.ProjectStatusScreening},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, rec := newEnv(t)

			var articleAct *activities.ArticleActivities
			out := tt.out
			env.OnActivity(articleAct.ProcessArticles, mock.Anything, mock.Anything).Return(&out, nil)

			env.ExecuteWorkflow(slrtemporal.WorkflowArticleBatch, articleInput(tt.jobType))

			require.True(t, env.IsWorkflowCompleted())
			require.NoError(t, env.GetWorkflowError())
			assert.Equal(t, tt.want, rec.statuses)
		})
	}

	t.Run("status is set before the first article", func(t *testing.T) {
		env, rec := newEnv(t)

		var articleAct *activities.ArticleActivities
		env.OnActivity(articleAct.ProcessArticles, mock.Anything, mock.Anything).Return(
			func(context.Context, activities.JobInput) (*activities.ArticleBatchOutput, error) {
				rec.mu.Lock()
				defer rec.mu.Unlock()
				assert.Equal(t, []domain.ProjectStatus{domain.ProjectStatusScreening}, rec.statuses)
				return &activities.ArticleBatchOutput{Total: 1, Processed: 1}, nil
			})

		env.ExecuteWorkflow(slrtemporal.WorkflowArticleBatch, articleInput(domain.JobTypeExtraction))

		require.True(t, env.IsWorkflowCompleted())
		require.NoError(t, env.GetWorkflowError())
	})

	t.Run("batch failure is reported", func(t *testing.T) {
		env, rec := newEnv(t)

		var articleAct *activities.ArticleActivities
		env.OnActivity(articleAct.ProcessArticles, mock.Anything, mock.Anything).
			Return(nil, temporal.NewNonRetryableApplicationError("project not found", activities.ErrTypeNotFound, nil))

		env.ExecuteWorkflow(slrtemporal.WorkflowArticleBatch, articleInput(domain.JobTypeExtraction))

		require.True(t, env.IsWorkflowCompleted())
		require.Error(t, env.GetWorkflowError())
		assert.Equal(t, []domain.ProjectStatus{domain.ProjectStatusScreening}, rec.statuses)
		require.Len(t, rec.failures, 1)
		assert.Equal(t, "project not found", rec.failures[0].Error)
	})
}

func TestScoringWorkflow(t *testing.T) {
	env, rec := newEnv(t)

	var scoringAct *activities.ScoringActivities
	env.OnActivity(scoringAct.ScoreProject, mock.Anything, mock.Anything).
		Return(&activities.ScoringOutput{TotalArticles: 4, TotalDomainScore: 2.5}, nil)

	env.ExecuteWorkflow(slrtemporal.WorkflowScoring, slrtemporal.JobInput{
		JobID:      "scoring-1",
		JobRequest: slrtemporal.JobRequest{Type: domain.JobTypeScoring, ProjectID: uuid.New()},
	})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out activities.ScoringOutput
	require.NoError(t, env.GetWorkflowResult(&out))
	assert.Equal(t, 4, out.TotalArticles)
	assert.Empty(t, rec.statuses)
}

func TestImportWorkflow(t *testing.T) {
	input := slrtemporal.JobInput{
		JobID: "import-1",
		JobRequest: slrtemporal.JobRequest{
			Type:      domain.JobTypeImport,
			ProjectID: uuid.New(),
			Import:    &slrtemporal.ImportSpec{Source: domain.SourceTypeArXiv, ExternalIDs: []string{"2401.00001"}},
		},
	}

	t.Run("returns the import summary", func(t *testing.T) {
		env, _ := newEnv(t)

		var importAct *activities.ImportActivities
		env.OnActivity(importAct.ImportRecords, mock.Anything, mock.Anything).
			Return(&activities.ImportOutput{Source: domain.SourceTypeArXiv, Requested: 1, Fetched: 1, Inserted: 1}, nil)

		env.ExecuteWorkflow(slrtemporal.WorkflowImport, input)

		require.True(t, env.IsWorkflowCompleted())
		require.NoError(t, env.GetWorkflowError())

		var out activities.ImportOutput
		require.NoError(t, env.GetWorkflowResult(&out))
		assert.Equal(t, 1, out.Inserted)
	})

	t.Run("retries transient failures", func(t *testing.T) {
		env, _ := newEnv(t)

		var importAct *activities.ImportActivities
		env.OnActivity(importAct.ImportRecords, mock.Anything, mock.Anything).
			Return(nil, errors.New("connection reset")).Once()
		env.OnActivity(importAct.ImportRecords, mock.Anything, mock.Anything).
			Return(&activities.ImportOutput{Requested: 1, Fetched: 1}, nil).Once()

		env.ExecuteWorkflow(slrtemporal.WorkflowImport, input)

		require.True(t, env.IsWorkflowCompleted())
		require.NoError(t, env.GetWorkflowError())
	})
}

func TestHasErrorType(t *testing.T) {
	inner := temporal.NewNonRetryableApplicationError("boom", activities.ErrTypeInference, nil)
	assert.True(t, hasErrorType(inner, activities.ErrTypeInference))
	assert.False(t, hasErrorType(inner, activities.ErrTypeNotFound))
	assert.False(t, hasErrorType(errors.New("plain"), activities.ErrTypeInference))
}

func TestRootMessage(t *testing.T) {
	inner := temporal.NewApplicationError("inner text", "T")
	outer := temporal.NewApplicationErrorWithCause("outer text", "U", inner)
	assert.Equal(t, "inner text", rootMessage(outer))
	assert.Equal(t, "plain", rootMessage(errors.New("plain")))
}
