// Package calls tracks phone calls and their transcripts.
package calls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/h1v3-io/frontdesk/internal/store"
	"github.com/h1v3-io/frontdesk/pkg/protocol"
)

// Ledger persists the lifecycle of calls. Writes to the same call are
// serialized so concurrent appends never drop transcript entries.
type Ledger struct {
	store  store.Store
	logger *slog.Logger
	now    func() time.Time
	locks  keyedMutex
}

// NewLedger creates a call ledger backed by s.
func NewLedger(s store.Store, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{store: s, logger: logger, now: time.Now}
}

// SetClock overrides the time source (tests).
func (l *Ledger) SetClock(now func() time.Time) { l.now = now }

// Start records a new in-progress call. Starting an id that already exists
// returns the stored call unchanged.
func (l *Ledger) Start(ctx context.Context, callID, customerID, contact string, direction protocol.CallDirection) (*protocol.Call, error) {
	if callID == "" {
		return nil, fmt.Errorf("calls: start: empty call id: %w", protocol.ErrMalformed)
	}
	if direction == "" {
		direction = protocol.CallInbound
	}
	unlock := l.locks.lock(callID)
	defer unlock()

	existing, err := l.get(ctx, callID)
	if err == nil {
		l.logger.Debug("call already started", "call_id", callID)
		return existing, nil
	}
	if !errors.Is(err, protocol.ErrNotFound) {
		return nil, fmt.Errorf("calls: start: %w", err)
	}

	c := &protocol.Call{
		ID:         callID,
		CustomerID: customerID,
		Contact:    contact,
		StartedAt:  l.now(),
		Status:     protocol.CallInProgress,
		Direction:  direction,
		Transcript: []protocol.TranscriptEntry{},
	}
	rec, err := store.EncodeCall(c)
	if err != nil {
		return nil, fmt.Errorf("calls: start: %w", err)
	}
	if err := l.store.Put(ctx, store.TableCalls, rec); err != nil {
		l.logger.Error("call write failed", "call_id", callID, "error", err)
		return nil, fmt.Errorf("calls: start: %w", err)
	}
	l.logger.Info("call started", "call_id", callID, "customer_id", customerID, "direction", direction)
	return c, nil
}

// AppendUtterance adds one line to the call transcript.
func (l *Ledger) AppendUtterance(ctx context.Context, callID string, speaker protocol.Speaker, text string) error {
	if !speaker.Valid() {
		return fmt.Errorf("calls: append: speaker %q: %w", speaker, protocol.ErrMalformed)
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("calls: append: empty text: %w", protocol.ErrMalformed)
	}
	unlock := l.locks.lock(callID)
	defer unlock()

	c, err := l.get(ctx, callID)
	if err != nil {
		return fmt.Errorf("calls: append: %w", err)
	}
	c.Transcript = append(c.Transcript, protocol.TranscriptEntry{
		Timestamp: l.now(),
		Speaker:   speaker,
		Text:      text,
	})
	transcript, err := store.EncodeTranscript(c.Transcript)
	if err != nil {
		return fmt.Errorf("calls: append: %w", err)
	}
	if err := l.store.Update(ctx, store.TableCalls, callID, store.Record{"transcript": transcript}); err != nil {
		l.logger.Error("transcript write failed", "call_id", callID, "error", err)
		return fmt.Errorf("calls: append: %w", err)
	}
	l.logger.Debug("utterance recorded", "call_id", callID, "speaker", speaker)
	return nil
}

// Complete marks the call finished. Completing twice overwrites the duration.
// Durations are kept to the millisecond; anything finer is truncated.
func (l *Ledger) Complete(ctx context.Context, callID string, duration time.Duration) error {
	if duration < 0 {
		return fmt.Errorf("calls: complete: negative duration: %w", protocol.ErrMalformed)
	}
	duration = duration.Truncate(time.Millisecond)
	unlock := l.locks.lock(callID)
	defer unlock()

	err := l.store.Update(ctx, store.TableCalls, callID, store.Record{
		"status":      string(protocol.CallCompleted),
		"duration_ms": int64(duration / time.Millisecond),
	})
	if err != nil {
		if !errors.Is(err, protocol.ErrNotFound) {
			l.logger.Error("call completion write failed", "call_id", callID, "error", err)
		}
		return fmt.Errorf("calls: complete: %w", err)
	}
	l.logger.Info("call completed", "call_id", callID, "duration", duration)
	return nil
}

// Get returns one call.
func (l *Ledger) Get(ctx context.Context, callID string) (*protocol.Call, error) {
	c, err := l.get(ctx, callID)
	if err != nil {
		return nil, fmt.Errorf("calls: get: %w", err)
	}
	return c, nil
}

// ListByCustomer returns a customer's calls, most recent first.
func (l *Ledger) ListByCustomer(ctx context.Context, customerID string, limit int) ([]*protocol.Call, error) {
	recs, err := l.store.Query(ctx, store.TableCalls, store.IndexCustomer, customerID, store.Descending, limit)
	if err != nil {
		return nil, fmt.Errorf("calls: list: %w", err)
	}
	out := make([]*protocol.Call, 0, len(recs))
	for _, rec := range recs {
		c, err := store.DecodeCall(rec)
		if err != nil {
			l.logger.Warn("skipping unreadable call", "error", err)
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (l *Ledger) get(ctx context.Context, callID string) (*protocol.Call, error) {
	rec, err := l.store.Get(ctx, store.TableCalls, callID)
	if err != nil {
		return nil, err
	}
	return store.DecodeCall(rec)
}
