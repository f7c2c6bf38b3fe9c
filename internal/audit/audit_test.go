package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed int
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed++
	return nil
}

func TestKafkaSink_Write(t *testing.T) {
	w := &fakeWriter{}
	s := newKafkaSink(w, slog.Default())

	ev := NewEvent(EventEscalationResolved, "esc-1")
	ev.Answer = "Yes"
	if err := s.Write(context.Background(), ev); err != nil {
		t.Fatalf("write: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "esc-1" {
		t.Errorf("key = %q", msg.Key)
	}
	var got Event
	if err := json.Unmarshal(msg.Value, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Type != EventEscalationResolved || got.Answer != "Yes" {
		t.Errorf("event = %+v", got)
	}
}

func TestKafkaSink_WriteError(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	s := newKafkaSink(w, slog.Default())
	if err := s.Write(context.Background(), NewEvent(EventEscalationCreated, "esc-1")); err == nil {
		t.Fatal("expected error")
	}
}

func TestKafkaSink_Close(t *testing.T) {
	w := &fakeWriter{}
	s := newKafkaSink(w, slog.Default())
	s.Close()
	s.Close()
	if w.closed != 1 {
		t.Errorf("writer closed %d times", w.closed)
	}
	if err := s.Write(context.Background(), NewEvent(EventEscalationCreated, "esc-1")); err == nil {
		t.Error("write after close should fail")
	}
}

func TestNewKafkaSink_Validation(t *testing.T) {
	if _, err := NewKafkaSink(KafkaConfig{Topic: "t"}, slog.Default()); err == nil {
		t.Error("expected error without brokers")
	}
	if _, err := NewKafkaSink(KafkaConfig{Brokers: []string{"localhost:9092"}}, slog.Default()); err == nil {
		t.Error("expected error without topic")
	}
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSink(slog.New(slog.NewJSONHandler(&buf, nil)))
	ev := NewEvent(EventEscalationExpired, "esc-9")
	ev.CallID = "call-1"
	s.Write(context.Background(), ev)

	out := buf.String()
	if !strings.Contains(out, `"event_type":"escalation.expired"`) || !strings.Contains(out, `"call_id":"call-1"`) {
		t.Errorf("log output = %s", out)
	}
}

func TestMulti(t *testing.T) {
	a, b := &fakeWriter{}, &fakeWriter{err: errors.New("down")}
	m := Multi{newKafkaSink(b, slog.Default()), newKafkaSink(a, slog.Default())}
	if err := m.Write(context.Background(), NewEvent(EventEscalationCreated, "esc-1")); err == nil {
		t.Error("expected first error")
	}
	if len(a.msgs) != 1 {
		t.Error("healthy sink should still receive the event")
	}
}
