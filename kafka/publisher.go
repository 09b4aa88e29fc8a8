package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/kbukum/fanout/logger"
	"github.com/kbukum/fanout/orchestrator"
	"github.com/kbukum/fanout/resilience"
	"github.com/kbukum/fanout/run"
)

// EventRunFinalized is the event type of every published run.
const EventRunFinalized = "run.finalized"

// Event is the envelope written to the topic.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Source    string    `json:"source"`
	Subject   string    `json:"subject"`
	Timestamp time.Time `json:"timestamp"`
	Data      *run.Run  `json:"data"`
}

// NewRunEvent wraps a finalized run. Subject is the run ID.
func NewRunEvent(source string, r *run.Run, now time.Time) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      EventRunFinalized,
		Source:    source,
		Subject:   r.ID,
		Timestamp: now.UTC(),
		Data:      r,
	}
}

// Message encodes the event for topic, keyed by run ID.
func (e Event) Message(topic string) (kafkago.Message, error) {
	value, err := json.Marshal(e)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("marshal event: %w", err)
	}
	return kafkago.Message{
		Topic: topic,
		Key:   []byte(e.Subject),
		Value: value,
		Headers: []kafkago.Header{
			{Key: "event-id", Value: []byte(e.ID)},
			{Key: "event-type", Value: []byte(e.Type)},
			{Key: "event-source", Value: []byte(e.Source)},
			{Key: "content-type", Value: []byte("application/json")},
		},
		Time: e.Timestamp,
	}, nil
}

// writer is the part of *kafkago.Writer the publisher uses.
type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Stats() kafkago.WriterStats
	Close() error
}

// Publisher writes finalized runs to Kafka with retries.
type Publisher struct {
	cfg    Config
	source string
	log    *logger.Logger
	w      writer
	retry  resilience.RetryPolicy
	stats  counters

	mu     sync.RWMutex
	closed bool
}

var _ orchestrator.Publisher = (*Publisher)(nil)

// NewPublisher builds a Publisher backed by a kafka-go Writer. source names
// this service in every event.
func NewPublisher(cfg Config, source string, log *logger.Logger) (*Publisher, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("kafka publisher config: %w", err)
	}
	if log == nil {
		log = logger.Nop()
	}
	log = log.WithComponent("kafka.publisher")

	transport, err := newTransport(&cfg)
	if err != nil {
		return nil, fmt.Errorf("kafka publisher transport: %w", err)
	}
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.Brokers...),
		Transport:    transport,
		Balancer:     &kafkago.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: kafkago.RequiredAcks(cfg.RequiredAcks),
		Compression:  resolveCompression(cfg.Compression),
		WriteTimeout: cfg.WriteTimeout,
		ErrorLogger: kafkago.LoggerFunc(func(msg string, args ...interface{}) {
			log.Error("writer: "+fmt.Sprintf(msg, args...))
		}),
	}

	log.Info("Kafka publisher initialized", logger.Fields(
		"brokers", cfg.Brokers,
		"topic", cfg.Topic,
		"compression", cfg.Compression,
	))
	return newPublisher(cfg, source, log, w), nil
}

func newPublisher(cfg Config, source string, log *logger.Logger, w writer) *Publisher {
	return &Publisher{
		cfg:    cfg,
		source: source,
		log:    log,
		w:      w,
		retry: resilience.RetryPolicy{
			MaxAttempts: cfg.Retries,
			BaseBackoff: cfg.RetryBackoff,
			Multiplier:  2,
			JitterRatio: 0.2,
			MaxBackoff:  cfg.MaxRetryBackoff,
		},
	}
}

// PublishRun writes one run.finalized event. Retryable errors are retried
// up to Config.Retries attempts with jittered exponential backoff.
func (p *Publisher) PublishRun(ctx context.Context, r *run.Run) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return fmt.Errorf("kafka publisher is closed")
	}

	msg, err := NewRunEvent(p.source, r, time.Now()).Message(p.cfg.Topic)
	if err != nil {
		p.stats.failed.Add(1)
		return err
	}

	attempts := 0
	_, err = resilience.Retry(ctx, p.retry, IsRetryableError, func(ctx context.Context) (struct{}, error) {
		attempts++
		return struct{}{}, p.w.WriteMessages(ctx, msg)
	})
	if attempts > 1 {
		p.stats.retries.Add(int64(attempts - 1))
	}
	if err != nil {
		p.stats.failed.Add(1)
		fields := logger.ErrorFields("publish run", err)
		fields["run_id"] = r.ID
		fields["topic"] = p.cfg.Topic
		fields[logger.FieldAttempt] = attempts
		p.log.Warn("Kafka publish failed", fields)
		return fmt.Errorf("publish run %s to %s: %w", r.ID, p.cfg.Topic, err)
	}
	p.stats.published.Add(1)
	p.stats.bytes.Add(int64(len(msg.Value)))
	return nil
}

// Metrics returns cumulative publisher counters.
func (p *Publisher) Metrics() WriterMetrics {
	return p.stats.snapshot(p.cfg.Topic, p.w.Stats())
}

// Close flushes pending messages and closes the writer. It is idempotent.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.w.Close()
}
