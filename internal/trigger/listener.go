// Package trigger consumes job requests published by other systems on a
// Kafka topic and enqueues them onto the external queue.
package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/helixir/slr-pipeline/internal/domain"
	"github.com/helixir/slr-pipeline/internal/observability"
	slrtemporal "github.com/helixir/slr-pipeline/internal/temporal"
)

// Enqueuer submits jobs. *temporal.JobClient satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, req slrtemporal.JobRequest) (slrtemporal.JobHandle, error)
}

// MessageReader is the subset of *kafka.Reader the listener uses.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Config holds configuration for the trigger listener.
type Config struct {
	// Brokers is the list of Kafka broker addresses.
	Brokers []string
	// Topic carries JSON encoded job requests.
	Topic string
	// GroupID is the consumer group ID.
	GroupID string
}

// Listener reads job requests from Kafka and enqueues them.
type Listener struct {
	reader MessageReader
	jobs   Enqueuer
	logger zerolog.Logger
}

// NewListener creates a listener backed by a kafka.Reader.
func NewListener(cfg Config, jobs Enqueuer, logger zerolog.Logger) *Listener {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  3 * time.Second,
	})
	return newListener(reader, jobs, logger)
}

func newListener(reader MessageReader, jobs Enqueuer, logger zerolog.Logger) *Listener {
	return &Listener{
		reader: reader,
		jobs:   jobs,
		logger: logger.With().Str("component", "trigger_listener").Logger(),
	}
}

// Run consumes messages until ctx is cancelled. Malformed or invalid
// requests are logged and skipped so one bad message cannot stall the topic.
func (l *Listener) Run(ctx context.Context) error {
	l.logger.Info().Msg("starting trigger listener")

	for {
		msg, err := l.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				l.logger.Info().Msg("trigger listener stopped via context cancellation")
				return ctx.Err()
			}
			l.logger.Error().Err(err).Msg("failed to read message from Kafka")
			continue
		}

		l.logger.Debug().
			Int("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("received job request")

		if _, err := l.handle(ctx, msg.Value); err != nil {
			l.logger.Error().Err(err).
				Int("partition", msg.Partition).
				Int64("offset", msg.Offset).
				Msg("failed to enqueue job request")
		}
	}
}

// handle decodes one message and enqueues it on the external queue.
func (l *Listener) handle(ctx context.Context, value []byte) (slrtemporal.JobHandle, error) {
	var req slrtemporal.JobRequest
	if err := json.Unmarshal(value, &req); err != nil {
		return slrtemporal.JobHandle{}, domain.NewValidationError("message", "invalid job request: "+err.Error())
	}
	if req.Queue != "" && req.Queue != domain.QueueExternal {
		l.logger.Debug().
			Str("requested_queue", string(req.Queue)).
			Msg("overriding queue of externally triggered job")
	}
	req.Queue = domain.QueueExternal

	handle, err := l.jobs.Enqueue(ctx, req)
	if err != nil {
		var vErr *domain.ValidationError
		if errors.As(err, &vErr) {
			l.logger.Warn().
				Str("field", vErr.Field).
				Str("project_id", req.ProjectID.String()).
				Msg("dropping invalid job request")
		}
		return slrtemporal.JobHandle{}, err
	}

	jobLogger := observability.WithJobContext(l.logger, handle.ID, string(handle.Type), string(handle.Queue))
	jobLogger.Info().
		Str("project_id", req.ProjectID.String()).
		Msg("enqueued externally triggered job")
	return handle, nil
}

// Close closes the Kafka reader.
func (l *Listener) Close() error {
	l.logger.Info().Msg("closing trigger listener")
	return l.reader.Close()
}
