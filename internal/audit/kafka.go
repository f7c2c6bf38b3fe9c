package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaConfig configures a KafkaSink.
type KafkaConfig struct {
	Brokers      []string      `json:"brokers" yaml:"brokers"`
	Topic        string        `json:"topic" yaml:"topic"`
	BatchTimeout time.Duration `json:"batch_timeout,omitempty" yaml:"batch_timeout,omitempty"`
	WriteTimeout time.Duration `json:"write_timeout,omitempty" yaml:"write_timeout,omitempty"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes audit events to a Kafka topic, keyed by escalation id
// so one escalation's events stay ordered within a partition.
type KafkaSink struct {
	writer messageWriter
	logger *slog.Logger
	mu     sync.Mutex
	closed bool
}

// NewKafkaSink creates a KafkaSink.
func NewKafkaSink(cfg KafkaConfig, logger *slog.Logger) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("audit: at least one Kafka broker is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("audit: Kafka topic is required")
	}
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = time.Second
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           batchTimeout,
		WriteTimeout:           writeTimeout,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: false,
	}
	logger.Info("kafka audit sink created", "brokers", cfg.Brokers, "topic", cfg.Topic)
	return newKafkaSink(w, logger), nil
}

func newKafkaSink(w messageWriter, logger *slog.Logger) *KafkaSink {
	return &KafkaSink{writer: w, logger: logger.With("component", "audit.kafka")}
}

func (s *KafkaSink) Write(ctx context.Context, event *Event) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return fmt.Errorf("audit: kafka sink is closed")
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("audit: marshal event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(event.EscalationID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(event.Type)},
			{Key: "timestamp", Value: []byte(event.Timestamp.Format(time.RFC3339))},
		},
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		s.logger.Warn("audit event dropped", "event_id", event.ID, "event_type", event.Type, "error", err)
		return fmt.Errorf("audit: kafka write: %w", err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.writer.Close()
}

func (s *KafkaSink) Name() string { return "kafka" }
