package activities

import (
	"context"
	"sync"
	"time"

	"go.temporal.io/sdk/activity"

	"github.com/helixir/slr-pipeline/internal/pipeline"
)

// BatchRunner runs one pipeline stage over a project's articles.
type BatchRunner interface {
	RunBatch(ctx context.Context, req pipeline.BatchRequest, heartbeat pipeline.Heartbeat) (*pipeline.BatchResult, error)
}

// ArticleActivities runs screening and extraction jobs.
type ArticleActivities struct {
	runner BatchRunner
}

// NewArticleActivities creates ArticleActivities.
func NewArticleActivities(runner BatchRunner) *ArticleActivities {
	return &ArticleActivities{runner: runner}
}

// ProcessArticles runs the job's stage over its articles, heartbeating the
// batch progress after each one. Per-article failures are part of the output,
// not errors. When the job is cancelled or times out the heartbeat fails, the
// context is cancelled and the batch stops before its next article. A retried
// attempt resumes from the progress in the last heartbeat.
func (a *ArticleActivities) ProcessArticles(ctx context.Context, input JobInput) (*ArticleBatchOutput, error) {
	logger := activity.GetLogger(ctx)
	stage := input.Stage()

	var resume *pipeline.BatchResult
	resumeAfter := 0
	if activity.HasHeartbeatDetails(ctx) {
		var progress pipeline.BatchResult
		if err := activity.GetHeartbeatDetails(ctx, &progress); err == nil && progress.Done() > 0 {
			resume = &progress
			resumeAfter = progress.Done()
		}
	}

	logger.Info("starting article batch",
		"jobID", input.JobID,
		"projectID", input.ProjectID,
		"stage", stage,
		"subset", len(input.ExternalIDs),
		"resumeAfter", resumeAfter,
	)

	last := &lastProgress{}
	if resume != nil {
		last.set(*resume)
	}
	stop := keepAlive(ctx, last)
	defer stop()

	result, err := a.runner.RunBatch(ctx, pipeline.BatchRequest{
		ProjectID:     input.ProjectID,
		Stage:         stage,
		ExternalIDs:   input.ExternalIDs,
		ResetProgress: input.ResetProgress,
		JobID:         input.JobID,
		Resume:        resume,
	}, func(progress pipeline.BatchResult) {
		last.set(progress)
		activity.RecordHeartbeat(ctx, progress)
	})
	if err != nil {
		logger.Warn("article batch stopped", "jobID", input.JobID, "error", err)
		return nil, nonRetryable(err)
	}

	logger.Info("article batch completed",
		"jobID", input.JobID,
		"processed", result.Processed,
		"discarded", result.Discarded,
		"failed", result.Failed,
	)

	return &ArticleBatchOutput{
		Stage:     stage,
		Total:     result.Total,
		Processed: result.Processed,
		Discarded: result.Discarded,
		Failed:    result.Failed,
		FailedIDs: result.FailedIDs,
	}, nil
}

// lastProgress holds the most recent batch progress for keepAlive.
type lastProgress struct {
	mu       sync.Mutex
	progress pipeline.BatchResult
}

func (l *lastProgress) set(p pipeline.BatchResult) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.progress = p
}

func (l *lastProgress) get() pipeline.BatchResult {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.progress
}

// keepAlive re-sends the last progress at a third of the heartbeat timeout,
// so one slow article does not time the activity out. The returned func
// stops it.
func keepAlive(ctx context.Context, last *lastProgress) func() {
	timeout := activity.GetInfo(ctx).HeartbeatTimeout
	if timeout <= 0 {
		return func() {}
	}

	ctx, cancel := context.WithCancel(ctx)
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(timeout / 3)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				activity.RecordHeartbeat(ctx, last.get())
			}
		}
	}()
	return func() {
		cancel()
		<-stopped
	}
}
