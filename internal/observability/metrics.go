package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains the Prometheus collectors for the pipeline. They are grouped
// by subsystem: searches and sources, record ingestion, inference, article
// processing, notifications, jobs and scoring. Collectors are registered with
// the default registry through promauto.
//
// All Record methods are safe to call on a nil *Metrics, which lets components
// run without metrics in tests and tools.
type Metrics struct {
	// SearchesStarted counts source searches initiated, labeled by source.
	SearchesStarted *prometheus.CounterVec

	// SearchesCompleted counts successful source searches, labeled by source.
	SearchesCompleted *prometheus.CounterVec

	// SearchesFailed counts failed source searches, labeled by source.
	SearchesFailed *prometheus.CounterVec

	// SearchesSkipped counts sources skipped because their expert query was blank.
	SearchesSkipped *prometheus.CounterVec

	// SearchDuration observes per-source search duration in seconds.
	SearchDuration *prometheus.HistogramVec

	// RecordsFound counts normalized records returned, labeled by source.
	RecordsFound *prometheus.CounterVec

	// RecordsInserted counts records newly written by the record store.
	RecordsInserted prometheus.Counter

	// RecordsDuplicate counts inserts that hit an existing (project, external id).
	RecordsDuplicate prometheus.Counter

	// RecordsMalformed counts records a connector skipped, labeled by source.
	RecordsMalformed *prometheus.CounterVec

	// SourceRequestsTotal counts HTTP requests to source APIs, labeled by source.
	SourceRequestsTotal *prometheus.CounterVec

	// SourceRequestsFailed counts failed source HTTP requests, labeled by source and status.
	SourceRequestsFailed *prometheus.CounterVec

	// SourceRetries counts transport retries, labeled by client name.
	SourceRetries *prometheus.CounterVec

	// InferenceRequests counts inference calls, labeled by model and mode.
	InferenceRequests *prometheus.CounterVec

	// InferenceFailures counts inference calls that ended in an InferenceError.
	InferenceFailures *prometheus.CounterVec

	// InferenceRepairs counts repair attempts, labeled by outcome.
	InferenceRepairs *prometheus.CounterVec

	// InferenceDuration observes inference call duration in seconds.
	InferenceDuration *prometheus.HistogramVec

	// ArticlesProcessed counts article outcomes, labeled by stage and outcome.
	ArticlesProcessed *prometheus.CounterVec

	// NotificationsPublished counts progress messages written to the bus.
	NotificationsPublished *prometheus.CounterVec

	// NotificationsFailed counts progress messages that could not be published.
	NotificationsFailed *prometheus.CounterVec

	// JobsEnqueued counts jobs submitted, labeled by type and queue.
	JobsEnqueued *prometheus.CounterVec

	// JobsCancelled counts cancellation requests, labeled by mode (removed, requested).
	JobsCancelled *prometheus.CounterVec

	// ScoringRuns counts scoring runs, labeled by analysis type.
	ScoringRuns *prometheus.CounterVec
}

// NewMetrics creates and registers all collectors under namespace.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		// Searches
		SearchesStarted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_started_total",
			Help:      "Total number of source searches started",
		}, []string{"source"}),
		SearchesCompleted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_completed_total",
			Help:      "Total number of source searches completed",
		}, []string{"source"}),
		SearchesFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_failed_total",
			Help:      "Total number of source searches failed",
		}, []string{"source"}),
		SearchesSkipped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_skipped_total",
			Help:      "Total number of selected sources skipped for a blank query",
		}, []string{"source"}),
		SearchDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Duration of source searches in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"source"}),

		// Records
		RecordsFound: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_found_total",
			Help:      "Total number of normalized records returned by sources",
		}, []string{"source"}),
		RecordsInserted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_inserted_total",
			Help:      "Total number of bibliographic records inserted",
		}),
		RecordsDuplicate: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_duplicate_total",
			Help:      "Total number of record inserts ignored as duplicates",
		}),
		RecordsMalformed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_malformed_total",
			Help:      "Total number of malformed records skipped by connectors",
		}, []string{"source"}),

		// Sources
		SourceRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_requests_total",
			Help:      "Total number of HTTP requests to external APIs",
		}, []string{"client"}),
		SourceRequestsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_requests_failed_total",
			Help:      "Total number of failed HTTP requests to external APIs",
		}, []string{"client", "status"}),
		SourceRetries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_retries_total",
			Help:      "Total number of HTTP retries to external APIs",
		}, []string{"client"}),

		// Inference
		InferenceRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inference_requests_total",
			Help:      "Total number of inference requests by model and mode",
		}, []string{"model", "mode"}),
		InferenceFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inference_failures_total",
			Help:      "Total number of inference requests that failed",
		}, []string{"model", "reason"}),
		InferenceRepairs: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inference_repairs_total",
			Help:      "Total number of JSON repair attempts by outcome",
		}, []string{"outcome"}),
		InferenceDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inference_duration_seconds",
			Help:      "Duration of inference requests in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"model"}),

		// Articles
		ArticlesProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "articles_processed_total",
			Help:      "Total number of articles processed by stage and outcome",
		}, []string{"stage", "outcome"}),

		// Notifications
		NotificationsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_published_total",
			Help:      "Total number of progress notifications published",
		}, []string{"type"}),
		NotificationsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_failed_total",
			Help:      "Total number of progress notifications that failed to publish",
		}, []string{"type"}),

		// Jobs
		JobsEnqueued: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_enqueued_total",
			Help:      "Total number of jobs enqueued by type and queue",
		}, []string{"type", "queue"}),
		JobsCancelled: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_cancelled_total",
			Help:      "Total number of job cancellations by mode",
		}, []string{"mode"}),

		// Scoring
		ScoringRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scoring_runs_total",
			Help:      "Total number of scoring runs by analysis type",
		}, []string{"analysis_type"}),
	}
}

// RecordSearchStarted records that a source search has started.
func (m *Metrics) RecordSearchStarted(source string) {
	if m == nil {
		return
	}
	m.SearchesStarted.WithLabelValues(source).Inc()
}

// RecordSearchCompleted records a successful source search.
func (m *Metrics) RecordSearchCompleted(source string, recordCount int, durationSeconds float64) {
	if m == nil {
		return
	}
	m.SearchesCompleted.WithLabelValues(source).Inc()
	m.SearchDuration.WithLabelValues(source).Observe(durationSeconds)
	m.RecordsFound.WithLabelValues(source).Add(float64(recordCount))
}

// RecordSearchFailed records a failed source search.
func (m *Metrics) RecordSearchFailed(source string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.SearchesFailed.WithLabelValues(source).Inc()
	m.SearchDuration.WithLabelValues(source).Observe(durationSeconds)
}

// RecordSearchSkipped records a selected source that was not queried.
func (m *Metrics) RecordSearchSkipped(source string) {
	if m == nil {
		return
	}
	m.SearchesSkipped.WithLabelValues(source).Inc()
}

// RecordRecordsIngested records the outcome of one upsert batch.
func (m *Metrics) RecordRecordsIngested(inserted, duplicates int) {
	if m == nil {
		return
	}
	m.RecordsInserted.Add(float64(inserted))
	m.RecordsDuplicate.Add(float64(duplicates))
}

// RecordMalformedRecord records a record skipped by a connector.
func (m *Metrics) RecordMalformedRecord(source string) {
	if m == nil {
		return
	}
	m.RecordsMalformed.WithLabelValues(source).Inc()
}

// RecordSourceRequest records an outbound HTTP request.
func (m *Metrics) RecordSourceRequest(client string) {
	if m == nil {
		return
	}
	m.SourceRequestsTotal.WithLabelValues(client).Inc()
}

// RecordSourceRequestFailed records a failed outbound HTTP request.
func (m *Metrics) RecordSourceRequestFailed(client, status string) {
	if m == nil {
		return
	}
	m.SourceRequestsFailed.WithLabelValues(client, status).Inc()
}

// RecordSourceRetry records one transport retry.
func (m *Metrics) RecordSourceRetry(client string) {
	if m == nil {
		return
	}
	m.SourceRetries.WithLabelValues(client).Inc()
}

// RecordInferenceRequest records one inference call.
func (m *Metrics) RecordInferenceRequest(model, mode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.InferenceRequests.WithLabelValues(model, mode).Inc()
	m.InferenceDuration.WithLabelValues(model).Observe(durationSeconds)
}

// RecordInferenceFailure records an inference call that returned an error.
func (m *Metrics) RecordInferenceFailure(model, reason string) {
	if m == nil {
		return
	}
	m.InferenceFailures.WithLabelValues(model, reason).Inc()
}

// RecordInferenceRepair records a JSON repair attempt.
func (m *Metrics) RecordInferenceRepair(succeeded bool) {
	if m == nil {
		return
	}
	outcome := "failed"
	if succeeded {
		outcome = "succeeded"
	}
	m.InferenceRepairs.WithLabelValues(outcome).Inc()
}

// RecordArticleOutcome records a terminal article outcome for a stage.
func (m *Metrics) RecordArticleOutcome(stage, outcome string) {
	if m == nil {
		return
	}
	m.ArticlesProcessed.WithLabelValues(stage, outcome).Inc()
}

// RecordNotification records a publish attempt.
func (m *Metrics) RecordNotification(notificationType string, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.NotificationsFailed.WithLabelValues(notificationType).Inc()
		return
	}
	m.NotificationsPublished.WithLabelValues(notificationType).Inc()
}

// RecordJobEnqueued records a submitted job.
func (m *Metrics) RecordJobEnqueued(jobType, queue string) {
	if m == nil {
		return
	}
	m.JobsEnqueued.WithLabelValues(jobType, queue).Inc()
}

// RecordJobCancelled records a cancellation; mode is "removed" or "requested".
func (m *Metrics) RecordJobCancelled(mode string) {
	if m == nil {
		return
	}
	m.JobsCancelled.WithLabelValues(mode).Inc()
}

// RecordScoringRun records a completed scoring run.
func (m *Metrics) RecordScoringRun(analysisType string) {
	if m == nil {
		return
	}
	m.ScoringRuns.WithLabelValues(analysisType).Inc()
}
