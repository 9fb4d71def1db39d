package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/helixir/slr-pipeline/internal/domain"
)

// MessageReader is the subset of *kafka.Reader the subscriber needs.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// SubscriberConfig configures a Subscriber.
type SubscriberConfig struct {
	Brokers []string
	Topic   string
}

// Subscriber streams notifications for one project. Every stream gets its
// own reader positioned at the end of the topic, so only new events are seen.
type Subscriber struct {
	newReader func() MessageReader
	logger    zerolog.Logger
}

// NewSubscriber creates a Subscriber reading cfg.Topic.
func NewSubscriber(cfg SubscriberConfig, logger zerolog.Logger) *Subscriber {
	return NewSubscriberWithReader(func() MessageReader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:     cfg.Brokers,
			Topic:       cfg.Topic,
			StartOffset: kafka.LastOffset,
			MinBytes:    1,
			MaxBytes:    10e6,
			MaxWait:     time.Second,
		})
	}, logger)
}

// NewSubscriberWithReader creates a Subscriber over a reader factory.
func NewSubscriberWithReader(newReader func() MessageReader, logger zerolog.Logger) *Subscriber {
	return &Subscriber{
		newReader: newReader,
		logger:    logger.With().Str("component", "notify_subscriber").Logger(),
	}
}

// Stream calls fn for every notification of projectID until ctx is done or
// fn returns an error. Undecodable messages are skipped.
func (s *Subscriber) Stream(ctx context.Context, projectID string, fn func(domain.Notification) error) error {
	reader := s.newReader()
	defer reader.Close()

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		var n domain.Notification
		if err := json.Unmarshal(msg.Value, &n); err != nil {
			s.logger.Debug().Err(err).Int64("offset", msg.Offset).Msg("skipping undecodable notification")
			continue
		}
		if n.ProjectID != projectID {
			continue
		}
		if err := fn(n); err != nil {
			return err
		}
	}
}
