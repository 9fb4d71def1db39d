package pipeline

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/slr-pipeline/internal/domain"
	"github.com/helixir/slr-pipeline/internal/inference"
)

func TestRunBatch_IsolatesFailures(t *testing.T) {
	h := newHarness(t, article("111"), article("222"), shortArticle("333"), article("444"))
	h.completer.on(screeningModel, func(_ context.Context, prompt string) (*inference.Completion, error) {
		switch {
		case strings.Contains(prompt, "outcomes 222"):
			panic("nil map in prompt builder")
		case strings.Contains(prompt, "outcomes 444"):
			return nil, domain.NewInferenceError(screeningModel, domain.InferenceStageRepair, "", nil)
		default:
			return &inference.Completion{Object: validScreening}, nil
		}
	})

	var beats []int
	res, err := h.pipeline.RunBatch(context.Background(), BatchRequest{
		ProjectID: h.project.ID,
		Stage:     domain.StageScreening,
		JobID:     "job-1",
	}, func(progress BatchResult) { beats = append(beats, progress.Done()) })
	require.NoError(t, err)

	assert.Equal(t, 4, res.Total)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Discarded)
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, []string{"222", "444"}, res.FailedIDs)
	assert.Equal(t, []int{1, 2, 3, 4}, beats)

	assert.Equal(t, map[string]domain.ArticleState{
		"111": domain.ArticleStateScreened,
		"222": domain.ArticleStateFailed,
		"333": domain.ArticleStateDiscarded,
		"444": domain.ArticleStateFailed,
	}, h.logs.statuses())
	require.Len(t, h.logs.entries, 4, "one log row per article")
	for _, e := range h.logs.entries {
		assert.Equal(t, "job-1", e.JobID)
		assert.Equal(t, domain.StageScreening, e.Stage)
	}
	assert.Contains(t, h.logs.entries[1].Message, "panic: nil map in prompt builder")

	assert.Equal(t, 4, h.projects.increments, "processed_count moves once per article")
	assert.Zero(t, h.projects.resets)

	require.Len(t, h.notifier.articles, 4)
	last := h.notifier.articles[3]
	assert.Equal(t, 4, last.processed)
	assert.Equal(t, 4, last.total)
	assert.Equal(t, [][3]int{{1, 1, 2}}, h.notifier.batches)
}

func TestRunBatch_StopsBetweenArticlesOnCancel(t *testing.T) {
	h := newHarness(t, article("111"), article("222"), article("333"))
	h.completer.on(screeningModel, object(validScreening))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	res, err := h.pipeline.RunBatch(ctx, BatchRequest{ProjectID: h.project.ID, Stage: domain.StageScreening},
		func(progress BatchResult) {
			if progress.Done() == 1 {
				cancel()
			}
		})

	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.Equal(t, 1, res.Done())
	assert.Equal(t, 1, h.completer.calls(screeningModel))
	assert.Len(t, h.logs.entries, 1)
	assert.Equal(t, 1, h.projects.increments)
	assert.Empty(t, h.notifier.batches, "a cancelled batch does not report completion")
}

func TestRunBatch_CancelDuringArticleIsNotLogged(t *testing.T) {
	h := newHarness(t, article("111"), article("222"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.completer.on(screeningModel, func(ctx context.Context, prompt string) (*inference.Completion, error) {
		if strings.Contains(prompt, "outcomes 222") {
			cancel()
			return nil, ctx.Err()
		}
		return &inference.Completion{Object: validScreening}, nil
	})

	res, err := h.pipeline.RunBatch(ctx, BatchRequest{ProjectID: h.project.ID, Stage: domain.StageScreening}, nil)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, res.Processed)
	assert.Zero(t, res.Failed)
	assert.Len(t, h.logs.entries, 1)
	assert.Equal(t, 1, h.projects.increments)
}

func TestRunBatch_ExtractionSubsetWithReset(t *testing.T) {
	h := newHarness(t, article("111"), article("222"), article("333"))
	h.projects.processed = 3
	h.completer.on(extractionModel, object(map[string]interface{}{
		"population": "adults", "intervention": "statins", "outcome": "LDL",
	}))

	res, err := h.pipeline.RunBatch(context.Background(), BatchRequest{
		ProjectID:     h.project.ID,
		Stage:         domain.StageExtraction,
		ExternalIDs:   []string{"333", "111"},
		ResetProgress: true,
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 1, h.projects.resets)
	assert.Equal(t, 2, h.projects.processed)
	assert.Contains(t, h.extractions.extractions, "111")
	assert.Contains(t, h.extractions.extractions, "333")
	assert.NotContains(t, h.extractions.extractions, "222")

	require.Len(t, h.logs.entries, 2)
	assert.Equal(t, "111", h.logs.entries[0].ExternalID, "articles run in external_id order")
	assert.Equal(t, domain.ArticleStateExtracted, h.logs.entries[0].Status)
}

func TestRunBatch_ResumesAfterFinishedArticles(t *testing.T) {
	h := newHarness(t, article("111"), article("222"), article("333"), article("444"))
	h.completer.on(screeningModel, object(validScreening))

	var beats []BatchResult
	res, err := h.pipeline.RunBatch(context.Background(), BatchRequest{
		ProjectID:     h.project.ID,
		Stage:         domain.StageScreening,
		ResetProgress: true,
		Resume:        &BatchResult{Total: 4, Processed: 1, Failed: 1, FailedIDs: []string{"222"}},
	}, func(progress BatchResult) { beats = append(beats, progress) })
	require.NoError(t, err)

	assert.Equal(t, 2, h.completer.calls(screeningModel))
	assert.Equal(t, 2, h.projects.increments)
	assert.Zero(t, h.projects.resets, "a resumed attempt keeps the counter")
	require.Len(t, h.logs.entries, 2)
	assert.Equal(t, "333", h.logs.entries[0].ExternalID)
	assert.Equal(t, "444", h.logs.entries[1].ExternalID)

	assert.Equal(t, 4, res.Total)
	assert.Equal(t, 3, res.Processed)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, []string{"222"}, res.FailedIDs)
	require.Len(t, beats, 2)
	assert.Equal(t, 3, beats[0].Done())
	assert.Equal(t, 4, beats[1].Done())
}

func TestRunBatch_RetryAfterInterruptionCountsEachArticleOnce(t *testing.T) {
	h := newHarness(t, article("111"), article("222"), article("333"), article("444"))
	h.completer.on(screeningModel, object(validScreening))
	req := BatchRequest{ProjectID: h.project.ID, Stage: domain.StageScreening, ResetProgress: true}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var last BatchResult
	_, err := h.pipeline.RunBatch(ctx, req, func(progress BatchResult) {
		last = progress
		if progress.Done() == 2 {
			cancel()
		}
	})
	require.ErrorIs(t, err, context.Canceled)

	req.Resume = &last
	res, err := h.pipeline.RunBatch(context.Background(), req, nil)
	require.NoError(t, err)

	assert.Equal(t, 4, res.Processed)
	assert.Equal(t, 4, h.completer.calls(screeningModel))
	assert.Equal(t, 4, h.projects.increments)
	assert.Equal(t, 1, h.projects.resets)
	assert.Len(t, h.logs.entries, 4)
}

func TestRunBatch_ResumeBeyondRecordsFinishesImmediately(t *testing.T) {
	h := newHarness(t, article("111"))

	res, err := h.pipeline.RunBatch(context.Background(), BatchRequest{
		ProjectID: h.project.ID,
		Stage:     domain.StageScreening,
		Resume:    &BatchResult{Total: 3, Processed: 3},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Total)
	assert.Equal(t, 3, res.Processed)
	assert.Zero(t, h.completer.calls(screeningModel))
	assert.Empty(t, h.logs.entries)
}

func TestRunBatch_Errors(t *testing.T) {
	h := newHarness(t, article("111"))

	_, err := h.pipeline.RunBatch(context.Background(), BatchRequest{ProjectID: h.project.ID, Stage: "synthesis"}, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = h.pipeline.RunBatch(context.Background(), BatchRequest{Stage: domain.StageScreening}, nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRunBatch_Empty(t *testing.T) {
	h := newHarness(t)

	res, err := h.pipeline.RunBatch(context.Background(), BatchRequest{ProjectID: h.project.ID, Stage: domain.StageScreening}, nil)
	require.NoError(t, err)
	assert.Zero(t, res.Done())
	assert.Equal(t, [][3]int{{0, 0, 0}}, h.notifier.batches)
}
