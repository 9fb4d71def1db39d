// Package temporal is the job substrate of the review pipeline.
//
// Every unit of asynchronous work (a search, a screening or extraction batch,
// a scoring run, a bulk import) is one Temporal workflow execution. The job
// id is the workflow id, so job state lives in Temporal and nowhere else.
//
// # Queues
//
// Work is split across five task queues: fast (search), articles (screening
// and extraction), synthesis (scoring), import (bulk import) and external
// (jobs triggered from outside). WorkerManager runs one worker per enabled
// queue with its own concurrency limit.
//
// # Jobs
//
// JobClient enqueues jobs by workflow name, reports their status and
// cancels them:
//
//	jc := temporal.NewJobClient(c, temporal.JobClientConfig{
//	    TaskQueues: temporal.TaskQueues(cfg.Temporal.Queues),
//	    Timeouts:   temporal.JobTimeouts(cfg.Temporal.JobTimeouts),
//	}, metrics)
//
//	handle, err := jc.Enqueue(ctx, temporal.JobRequest{
//	    Type:      domain.JobTypeSearch,
//	    ProjectID: projectID,
//	    Search:    &temporal.SearchSpec{Query: "sepsis AND procalcitonin"},
//	})
//
// A running job is queued until its first workflow task starts. Cancelling
// a queued job terminates it; cancelling a started job requests cancellation,
// which reaches the running activity through its heartbeat.
//
// The workflows themselves live in the workflows subpackage and the
// activities they call in the activities subpackage.
package temporal
