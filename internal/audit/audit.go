// Package audit records escalation lifecycle events.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// EventType names one escalation transition.
type EventType string

const (
	EventEscalationCreated  EventType = "escalation.created"
	EventEscalationResolved EventType = "escalation.resolved"
	EventEscalationExpired  EventType = "escalation.expired"
	EventKnowledgeLearned   EventType = "knowledge.learned"
)

// Event is one audit record.
type Event struct {
	ID           string    `json:"id"`
	Type         EventType `json:"type"`
	Timestamp    time.Time `json:"timestamp"`
	EscalationID string    `json:"escalation_id"`
	CallID       string    `json:"call_id,omitempty"`
	CustomerID   string    `json:"customer_id,omitempty"`
	Question     string    `json:"question,omitempty"`
	Answer       string    `json:"answer,omitempty"`
}

// NewEvent stamps an event with an id and the current time.
func NewEvent(t EventType, escalationID string) *Event {
	return &Event{
		ID:           uuid.NewString(),
		Type:         t,
		Timestamp:    time.Now().UTC(),
		EscalationID: escalationID,
	}
}

// Sink is an audit event destination.
type Sink interface {
	Write(ctx context.Context, event *Event) error
	Close() error
	Name() string
}

// LogSink writes audit events to the structured log.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With("component", "audit")}
}

func (s *LogSink) Write(ctx context.Context, event *Event) error {
	attrs := []any{
		"event_id", event.ID,
		"event_type", string(event.Type),
		"escalation_id", event.EscalationID,
	}
	if event.CallID != "" {
		attrs = append(attrs, "call_id", event.CallID)
	}
	if event.CustomerID != "" {
		attrs = append(attrs, "customer_id", event.CustomerID)
	}
	s.logger.InfoContext(ctx, "audit_event", attrs...)
	return nil
}

func (s *LogSink) Close() error { return nil }
func (s *LogSink) Name() string { return "log" }

// Multi writes every event to each sink and returns the first error.
type Multi []Sink

func (m Multi) Write(ctx context.Context, event *Event) error {
	var first error
	for _, s := range m {
		if err := s.Write(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m Multi) Close() error {
	var first error
	for _, s := range m {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m Multi) Name() string { return "multi" }
