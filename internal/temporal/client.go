package temporal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	commonpb "go.temporal.io/api/common/v1"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/converter"
	"go.temporal.io/sdk/log"
	"go.temporal.io/sdk/temporal"

	"github.com/helixir/slr-pipeline/internal/domain"
	"github.com/helixir/slr-pipeline/internal/observability"
)

// DefaultHealthCheckTimeout bounds a Health call.
const DefaultHealthCheckTimeout = 5 * time.Second

// ClientConfig contains configuration for the Temporal client.
type ClientConfig struct {
	// HostPort is the Temporal frontend address (e.g., "localhost:7233").
	HostPort string

	// Namespace is the Temporal namespace to use.
	Namespace string

	// Logger receives the SDK's own log lines. Nil keeps the SDK default.
	Logger log.Logger
}

// NewClient dials Temporal.
func NewClient(cfg ClientConfig) (client.Client, error) {
	options := client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
		Logger:    cfg.Logger,
	}

	c, err := client.Dial(options)
	if err != nil {
		return nil, fmt.Errorf("create Temporal client: %w", err)
	}
	return c, nil
}

// JobHandle identifies an enqueued job.
type JobHandle struct {
	ID    string         `json:"id"`
	RunID string         `json:"run_id"`
	Type  domain.JobType `json:"type"`
	Queue domain.Queue   `json:"queue"`
}

// CancelOutcome says what Cancel did to a job.
type CancelOutcome string

const (
	// CancelRemoved means the job was dropped before any workflow code ran.
	CancelRemoved CancelOutcome = "removed"
	// CancelRequested means a running job was asked to stop.
	CancelRequested CancelOutcome = "requested"
)

// JobClientConfig maps logical queues and job types onto Temporal settings.
type JobClientConfig struct {
	TaskQueues         map[domain.Queue]string
	Timeouts           map[domain.JobType]time.Duration
	HealthCheckTimeout time.Duration
}

// JobClient enqueues, inspects and cancels jobs. A job is one workflow
// execution whose workflow id is the job id.
type JobClient struct {
	mu                 sync.RWMutex
	client             client.Client
	taskQueues         map[domain.Queue]string
	timeouts           map[domain.JobType]time.Duration
	healthCheckTimeout time.Duration
	metrics            *observability.Metrics
	closed             bool

	newID func() string
}

// NewJobClient creates a JobClient. metrics may be nil.
func NewJobClient(c client.Client, cfg JobClientConfig, metrics *observability.Metrics) *JobClient {
	healthTimeout := cfg.HealthCheckTimeout
	if healthTimeout == 0 {
		healthTimeout = DefaultHealthCheckTimeout
	}
	return &JobClient{
		client:             c,
		taskQueues:         cfg.TaskQueues,
		timeouts:           cfg.Timeouts,
		healthCheckTimeout: healthTimeout,
		metrics:            metrics,
		newID:              func() string { return uuid.New().String() },
	}
}

// Close closes the underlying Temporal client connection.
func (c *JobClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil && !c.closed {
		c.client.Close()
		c.closed = true
	}
}

func (c *JobClient) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Health checks the connection to the Temporal frontend.
func (c *JobClient) Health(ctx context.Context) error {
	if c.isClosed() {
		return &TemporalError{Op: "Health", Kind: ErrClientClosed}
	}

	checkCtx, cancel := context.WithTimeout(ctx, c.healthCheckTimeout)
	defer cancel()

	if _, err := c.client.CheckHealth(checkCtx, &client.CheckHealthRequest{}); err != nil {
		return wrapTemporalError("Health", err, "", "")
	}
	return nil
}

// Enqueue starts the workflow for req and returns without waiting for it.
func (c *JobClient) Enqueue(ctx context.Context, req JobRequest) (JobHandle, error) {
	if c.isClosed() {
		return JobHandle{}, &TemporalError{Op: "Enqueue", Kind: ErrClientClosed}
	}
	if err := req.Validate(); err != nil {
		return JobHandle{}, err
	}

	queue := req.ResolvedQueue()
	taskQueue, ok := c.taskQueues[queue]
	if !ok || taskQueue == "" {
		return JobHandle{}, domain.NewValidationError("queue", fmt.Sprintf("queue %q has no task queue configured", queue))
	}

	jobID := fmt.Sprintf("%s-%s", req.Type, c.newID())
	options := client.StartWorkflowOptions{
		ID:                       jobID,
		TaskQueue:                taskQueue,
		WorkflowExecutionTimeout: c.timeouts[req.Type],
		Memo: map[string]interface{}{
			memoJobType:   string(req.Type),
			memoProjectID: req.ProjectID.String(),
			memoQueue:     string(queue),
		},
	}

	run, err := c.client.ExecuteWorkflow(ctx, options, WorkflowName(req.Type), JobInput{JobID: jobID, JobRequest: req})
	if err != nil {
		return JobHandle{}, wrapTemporalError("Enqueue", err, jobID, "")
	}

	c.metrics.RecordJobEnqueued(string(req.Type), string(queue))

	return JobHandle{
		ID:    jobID,
		RunID: run.GetRunID(),
		Type:  req.Type,
		Queue: queue,
	}, nil
}

// Status reports the current state of a job.
//
// A running job whose first workflow task has not started is queued. A
// completed job is finished and carries its result. Every other closed state
// is failed, with the error text; a timed-out job reports a TaskTimeoutError.
func (c *JobClient) Status(ctx context.Context, jobID string) (*domain.Job, error) {
	if c.isClosed() {
		return nil, &TemporalError{Op: "Status", Kind: ErrClientClosed, WorkflowID: jobID}
	}

	resp, err := c.client.DescribeWorkflowExecution(ctx, jobID, "")
	if err != nil {
		return nil, wrapTemporalError("Status", err, jobID, "")
	}
	info := resp.GetWorkflowExecutionInfo()
	if info == nil {
		return nil, &TemporalError{Op: "Status", Kind: ErrJobNotFound, WorkflowID: jobID}
	}

	job := &domain.Job{ID: jobID}
	c.applyMemo(job, info.GetMemo())
	if job.Queue == "" {
		job.Queue = c.queueFor(info.GetTaskQueue())
	}
	if ts := info.GetStartTime(); ts != nil {
		t := ts.AsTime()
		job.EnqueuedAt = &t
	}
	if ts := info.GetCloseTime(); ts != nil {
		t := ts.AsTime()
		job.EndedAt = &t
	}

	runID := info.GetExecution().GetRunId()
	started, err := c.firstTaskStarted(ctx, jobID, runID, info.GetHistoryLength())
	if err != nil {
		return nil, err
	}
	job.StartedAt = started

	switch info.GetStatus() {
	case enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING:
		if started == nil {
			job.Status = domain.JobStatusQueued
		} else {
			job.Status = domain.JobStatusStarted
		}
	case enumspb.WORKFLOW_EXECUTION_STATUS_COMPLETED:
		job.Status = domain.JobStatusFinished
		var result json.RawMessage
		if err := c.client.GetWorkflow(ctx, jobID, runID).Get(ctx, &result); err != nil {
			return nil, wrapTemporalError("Status", err, jobID, runID)
		}
		job.Result = result
	case enumspb.WORKFLOW_EXECUTION_STATUS_TIMED_OUT:
		job.Status = domain.JobStatusFailed
		job.Error = (&domain.TaskTimeoutError{JobID: jobID, Timeout: c.timeouts[job.Type]}).Error()
	case enumspb.WORKFLOW_EXECUTION_STATUS_CANCELED:
		job.Status = domain.JobStatusFailed
		job.Error = "job cancelled"
	case enumspb.WORKFLOW_EXECUTION_STATUS_TERMINATED:
		job.Status = domain.JobStatusFailed
		if started == nil {
			job.Error = "job removed before it started"
		} else {
			job.Error = "job terminated"
		}
	default:
		job.Status = domain.JobStatusFailed
		job.Error = c.failureText(ctx, job, runID)
	}

	return job, nil
}

// Cancel stops a job. A queued job is terminated, so none of its code runs;
// a started job receives a cancellation request that its activities observe
// through heartbeats.
func (c *JobClient) Cancel(ctx context.Context, jobID string) (CancelOutcome, error) {
	if c.isClosed() {
		return "", &TemporalError{Op: "Cancel", Kind: ErrClientClosed, WorkflowID: jobID}
	}

	resp, err := c.client.DescribeWorkflowExecution(ctx, jobID, "")
	if err != nil {
		return "", wrapTemporalError("Cancel", err, jobID, "")
	}
	info := resp.GetWorkflowExecutionInfo()
	runID := info.GetExecution().GetRunId()
	if info.GetStatus() != enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING {
		return "", &TemporalError{Op: "Cancel", Kind: ErrJobAlreadyClosed, WorkflowID: jobID, RunID: runID}
	}

	started, err := c.firstTaskStarted(ctx, jobID, runID, info.GetHistoryLength())
	if err != nil {
		return "", err
	}

	if started == nil {
		if err := c.client.TerminateWorkflow(ctx, jobID, runID, "cancelled before start"); err != nil {
			return "", wrapTemporalError("Cancel", err, jobID, runID)
		}
		c.metrics.RecordJobCancelled(string(CancelRemoved))
		return CancelRemoved, nil
	}

	if err := c.client.CancelWorkflow(ctx, jobID, runID); err != nil {
		return "", wrapTemporalError("Cancel", err, jobID, runID)
	}
	c.metrics.RecordJobCancelled(string(CancelRequested))
	return CancelRequested, nil
}

// firstTaskStarted returns the time the first workflow task started, or nil
// if none has. A history of two events (execution started, task scheduled)
// cannot contain one, so it is not fetched.
func (c *JobClient) firstTaskStarted(ctx context.Context, jobID, runID string, historyLength int64) (*time.Time, error) {
	if historyLength <= 2 {
		return nil, nil
	}

	iter := c.client.GetWorkflowHistory(ctx, jobID, runID, false, enumspb.HISTORY_EVENT_FILTER_TYPE_ALL_EVENT)
	for iter.HasNext() {
		event, err := iter.Next()
		if err != nil {
			return nil, wrapTemporalError("History", err, jobID, runID)
		}
		if event.GetEventType() == enumspb.EVENT_TYPE_WORKFLOW_TASK_STARTED {
			t := event.GetEventTime().AsTime()
			return &t, nil
		}
	}
	return nil, nil
}

// failureText extracts the error of a failed execution.
func (c *JobClient) failureText(ctx context.Context, job *domain.Job, runID string) string {
	err := c.client.GetWorkflow(ctx, job.ID, runID).Get(ctx, nil)
	if err == nil {
		return "job failed"
	}

	var timeoutErr *temporal.TimeoutError
	if errors.As(err, &timeoutErr) {
		return (&domain.TaskTimeoutError{JobID: job.ID, Timeout: c.timeouts[job.Type]}).Error()
	}

	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		return appErr.Error()
	}
	return err.Error()
}

func (c *JobClient) applyMemo(job *domain.Job, memo *commonpb.Memo) {
	fields := memo.GetFields()
	if len(fields) == 0 {
		return
	}
	dc := converter.GetDefaultDataConverter()
	var s string
	if p, ok := fields[memoJobType]; ok && dc.FromPayload(p, &s) == nil {
		job.Type = domain.JobType(s)
	}
	if p, ok := fields[memoProjectID]; ok && dc.FromPayload(p, &s) == nil {
		job.ProjectID = s
	}
	if p, ok := fields[memoQueue]; ok && dc.FromPayload(p, &s) == nil {
		job.Queue = domain.Queue(s)
	}
}

func (c *JobClient) queueFor(taskQueue string) domain.Queue {
	for q, name := range c.taskQueues {
		if name == taskQueue {
			return q
		}
	}
	return ""
}

