package notify

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/slr-pipeline/internal/domain"
	"github.com/helixir/slr-pipeline/internal/observability"
)

// Tracker turns pipeline events into notifications. Delivery is best
// effort: failures are logged and counted, never returned.
type Tracker struct {
	channel Channel
	topic   string
	logger  zerolog.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewTracker creates a Tracker publishing to topic over channel.
func NewTracker(channel Channel, topic string, logger zerolog.Logger, metrics *observability.Metrics) *Tracker {
	if channel == nil {
		channel = NopChannel{}
	}
	return &Tracker{
		channel: channel,
		topic:   topic,
		logger:  logger.With().Str("component", "tracker").Logger(),
		metrics: metrics,
		now:     time.Now,
	}
}

// SearchCompleted announces the end of a search.
func (t *Tracker) SearchCompleted(ctx context.Context, projectID uuid.UUID, found, inserted int, failedSources map[domain.SourceType]string) {
	failed := make([]string, 0, len(failedSources))
	for src := range failedSources {
		failed = append(failed, string(src))
	}
	sort.Strings(failed)

	t.emit(ctx, domain.Notification{
		ProjectID: projectID.String(),
		Type:      domain.NotificationSearchCompleted,
		Message:   "search completed",
		IsGlobal:  true,
		Extra: map[string]interface{}{
			"found":          found,
			"inserted":       inserted,
			"failed_sources": failed,
		},
	})
}

// ArticleProcessed announces one article outcome and the stage progress.
func (t *Tracker) ArticleProcessed(ctx context.Context, projectID uuid.UUID, outcome domain.Outcome, processed, total int) {
	extra := map[string]interface{}{
		"external_id": outcome.ExternalID,
		"stage":       outcome.Stage,
		"state":       outcome.State,
		"processed":   processed,
		"total":       total,
	}
	if total > 0 {
		extra["percent"] = float64(processed) / float64(total) * 100
	}

	t.emit(ctx, domain.Notification{
		ProjectID: projectID.String(),
		Type:      domain.NotificationArticleProcessed,
		Message:   outcome.Summary(),
		Extra:     extra,
	})
}

// BatchCompleted announces the end of a screening or extraction batch.
func (t *Tracker) BatchCompleted(ctx context.Context, projectID uuid.UUID, stage domain.Stage, processed, discarded, failed int) {
	t.emit(ctx, domain.Notification{
		ProjectID: projectID.String(),
		Type:      domain.NotificationBatchCompleted,
		Message:   string(stage) + " batch completed",
		IsGlobal:  true,
		Extra: map[string]interface{}{
			"stage":     stage,
			"processed": processed,
			"discarded": discarded,
			"failed":    failed,
		},
	})
}

// TaskFailed announces a failed job. Only the first line of err is sent.
func (t *Tracker) TaskFailed(ctx context.Context, projectID uuid.UUID, jobID string, err error) {
	msg := "task failed"
	if err != nil {
		if line := domain.FirstLine(err.Error()); line != "" {
			msg = line
		}
	}

	t.emit(ctx, domain.Notification{
		ProjectID: projectID.String(),
		Type:      domain.NotificationTaskFailed,
		Message:   msg,
		IsGlobal:  true,
		Extra:     map[string]interface{}{"job_id": jobID},
	})
}

func (t *Tracker) emit(ctx context.Context, n domain.Notification) {
	n.Timestamp = t.now().UTC()

	payload, err := json.Marshal(n)
	if err == nil {
		err = t.channel.Publish(ctx, t.topic, []byte(n.ProjectID), payload)
	}
	t.metrics.RecordNotification(string(n.Type), err)

	if err != nil {
		t.logger.Warn().
			Err(err).
			Str("project_id", n.ProjectID).
			Str("type", string(n.Type)).
			Msg("failed to publish notification")
	}
}
