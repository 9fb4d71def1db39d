// Package notify publishes best-effort progress notifications to a Kafka
// topic and streams them back for progress views.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// Channel delivers one payload to a topic.
type Channel interface {
	Publish(ctx context.Context, topic string, key, payload []byte) error
}

// MessageWriter is the subset of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// PublisherConfig configures a Publisher.
type PublisherConfig struct {
	Brokers      []string
	BatchTimeout time.Duration
	WriteTimeout time.Duration
}

// Publisher is a Channel backed by a Kafka writer. The writer is created on
// first use so a process that never publishes never dials the brokers.
type Publisher struct {
	config    PublisherConfig
	newWriter func() MessageWriter

	mu     sync.Mutex
	writer MessageWriter
	closed bool

	logger zerolog.Logger
}

var _ Channel = (*Publisher)(nil)

// ErrPublisherClosed is returned by Publish after Close.
var ErrPublisherClosed = errors.New("publisher closed")

// NewPublisher creates a Publisher for the given brokers.
func NewPublisher(cfg PublisherConfig, logger zerolog.Logger) *Publisher {
	p := &Publisher{
		config: cfg,
		logger: logger.With().Str("component", "notify_publisher").Logger(),
	}
	p.newWriter = p.kafkaWriter
	return p
}

// NewPublisherWithWriter creates a Publisher over an existing writer.
func NewPublisherWithWriter(w MessageWriter, logger zerolog.Logger) *Publisher {
	p := NewPublisher(PublisherConfig{}, logger)
	p.newWriter = func() MessageWriter { return w }
	return p
}

func (p *Publisher) kafkaWriter() MessageWriter {
	return &kafka.Writer{
		Addr:                   kafka.TCP(p.config.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           p.config.BatchTimeout,
		WriteTimeout:           p.config.WriteTimeout,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
}

// Publish writes payload to topic, keyed by key.
func (p *Publisher) Publish(ctx context.Context, topic string, key, payload []byte) error {
	w, err := p.getWriter()
	if err != nil {
		return err
	}

	if err := w.WriteMessages(ctx, kafka.Message{Topic: topic, Key: key, Value: payload}); err != nil {
		return fmt.Errorf("write to %s: %w", topic, err)
	}
	return nil
}

func (p *Publisher) getWriter() (MessageWriter, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPublisherClosed
	}
	if p.writer == nil {
		p.writer = p.newWriter()
		p.logger.Debug().Strs("brokers", p.config.Brokers).Msg("created kafka writer")
	}
	return p.writer, nil
}

// Close flushes and closes the writer, if one was created.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

// NopChannel discards every payload. It is used when Kafka is disabled.
type NopChannel struct{}

// Publish implements Channel.
func (NopChannel) Publish(context.Context, string, []byte, []byte) error { return nil }
