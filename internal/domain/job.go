package domain

import (
	"encoding/json"
	"time"
)

// JobType identifies a kind of asynchronous work.
type JobType string

const (
	JobTypeSearch     JobType = "search"
	JobTypeScreening  JobType = "screening"
	JobTypeExtraction JobType = "extraction"
	JobTypeScoring    JobType = "scoring"
	JobTypeImport     JobType = "import"
)

// IsValid reports whether t is a known job type.
func (t JobType) IsValid() bool {
	switch t {
	case JobTypeSearch, JobTypeScreening, JobTypeExtraction, JobTypeScoring, JobTypeImport:
		return true
	default:
		return false
	}
}

// Queue names a workload class. Each queue has its own worker pool.
type Queue string

const (
	QueueFast      Queue = "fast"
	QueueArticles  Queue = "articles"
	QueueSynthesis Queue = "synthesis"
	QueueImport    Queue = "import"
	QueueExternal  Queue = "external"
)

// AllQueues lists every queue in a stable order.
func AllQueues() []Queue {
	return []Queue{QueueFast, QueueArticles, QueueSynthesis, QueueImport, QueueExternal}
}

// IsValid reports whether q is a known queue.
func (q Queue) IsValid() bool {
	for _, known := range AllQueues() {
		if q == known {
			return true
		}
	}
	return false
}

// DefaultQueue returns the queue a job type runs on unless told otherwise.
func (t JobType) DefaultQueue() Queue {
	switch t {
	case JobTypeSearch:
		return QueueFast
	case JobTypeScreening, JobTypeExtraction:
		return QueueArticles
	case JobTypeScoring:
		return QueueSynthesis
	case JobTypeImport:
		return QueueImport
	default:
		return QueueFast
	}
}

// JobStatus is the externally visible state of a job.
type JobStatus string

const (
	JobStatusQueued   JobStatus = "queued"
	JobStatusStarted  JobStatus = "started"
	JobStatusFinished JobStatus = "finished"
	JobStatusFailed   JobStatus = "failed"
)

// IsTerminal reports whether the job will not change state again.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusFinished || s == JobStatusFailed
}

// Job is the status view of one unit of asynchronous work. It is derived from
// the queue backend and never stored relationally.
type Job struct {
	ID         string          `json:"id"`
	Type       JobType         `json:"type,omitempty"`
	Queue      Queue           `json:"queue,omitempty"`
	ProjectID  string          `json:"project_id,omitempty"`
	Status     JobStatus       `json:"status"`
	EnqueuedAt *time.Time      `json:"enqueued_at"`
	StartedAt  *time.Time      `json:"started_at"`
	EndedAt    *time.Time      `json:"ended_at"`
	Result     json.RawMessage `json:"result"`
	Error      string          `json:"error"`
}
