package sweeper

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/h1v3-io/frontdesk/internal/escalation"
	"github.com/h1v3-io/frontdesk/internal/metrics"
	"github.com/h1v3-io/frontdesk/internal/store"
	"github.com/h1v3-io/frontdesk/pkg/protocol"
)

type quietNotifier struct{}

func (quietNotifier) NotifySupervisor(context.Context, string) bool { return true }
func (quietNotifier) NotifyCustomer(context.Context, string, string) bool { return true }

func newLedger(t *testing.T, now func() time.Time) *escalation.Ledger {
	t.Helper()
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	l := escalation.NewLedger(s, nil, quietNotifier{}, nil, escalation.WithClock(now))
	t.Cleanup(l.Wait)
	return l
}

func TestSweep_ExpiresTimedOut(t *testing.T) {
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ledger := newLedger(t, func() time.Time { return created })

	old, err := ledger.Create(ctx, "Do you offer student discounts?", "call-1", "15551234567", "+15551234567")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	m := metrics.New()
	s, err := New(ledger, Config{Timeout: 3600 * time.Second}, nil, m)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	s.now = func() time.Time { return created.Add(3500 * time.Second) }
	n, err := s.Sweep(ctx)
	if err != nil || n != 0 {
		t.Fatalf("early sweep = %d, %v", n, err)
	}

	s.now = func() time.Time { return created.Add(3700 * time.Second) }
	n, err = s.Sweep(ctx)
	if err != nil || n != 1 {
		t.Fatalf("sweep = %d, %v", n, err)
	}

	got, _ := ledger.Get(ctx, old.ID)
	if got.Status != protocol.EscalationUnresolved {
		t.Errorf("status = %s", got.Status)
	}
	if _, err := ledger.Resolve(ctx, old.ID, "Yes, 15% off"); !errors.Is(err, protocol.ErrConflict) {
		t.Errorf("resolve after expiry: %v", err)
	}

	// nothing left to do
	if n, _ := s.Sweep(ctx); n != 0 {
		t.Errorf("second sweep = %d", n)
	}
}

func TestSweep_SkipsResolved(t *testing.T) {
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ledger := newLedger(t, func() time.Time { return created })

	e, _ := ledger.Create(ctx, "Can I bring my dog?", "call-1", "1", "+1")
	if _, err := ledger.Resolve(ctx, e.ID, "Yes"); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	s, _ := New(ledger, Config{}, nil, nil)
	s.now = func() time.Time { return created.Add(48 * time.Hour) }
	if n, err := s.Sweep(ctx); err != nil || n != 0 {
		t.Errorf("sweep = %d, %v", n, err)
	}
}

type racingLedger struct {
	pending []*protocol.Escalation
	expired []string
	listErr error
}

func (r *racingLedger) ListByStatus(context.Context, protocol.EscalationStatus, int) ([]*protocol.Escalation, error) {
	return r.pending, r.listErr
}

func (r *racingLedger) Expire(_ context.Context, id string) error {
	switch id {
	case "settled":
		return protocol.ErrConflict
	case "broken":
		return protocol.ErrUnavailable
	}
	r.expired = append(r.expired, id)
	return nil
}

func TestSweep_ContinuesPastFailures(t *testing.T) {
	old := time.Now().Add(-2 * time.Hour)
	ledger := &racingLedger{pending: []*protocol.Escalation{
		{ID: "settled", Status: protocol.EscalationPending, CreatedAt: old},
		{ID: "broken", Status: protocol.EscalationPending, CreatedAt: old},
		{ID: "stale", Status: protocol.EscalationPending, CreatedAt: old},
		{ID: "fresh", Status: protocol.EscalationPending, CreatedAt: time.Now()},
	}}
	s, _ := New(ledger, Config{}, nil, nil)

	n, err := s.Sweep(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("sweep = %d, %v", n, err)
	}
	if len(ledger.expired) != 1 || ledger.expired[0] != "stale" {
		t.Errorf("expired = %v", ledger.expired)
	}

	ledger.listErr = protocol.ErrUnavailable
	if _, err := s.Sweep(context.Background()); !errors.Is(err, protocol.ErrUnavailable) {
		t.Errorf("list failure: %v", err)
	}
}

type countingLedger struct {
	calls atomic.Int32
}

func (c *countingLedger) ListByStatus(context.Context, protocol.EscalationStatus, int) ([]*protocol.Escalation, error) {
	if c.calls.Add(1) == 1 {
		panic("first tick blows up")
	}
	return nil, nil
}

func (c *countingLedger) Expire(context.Context, string) error { return nil }

func TestStart_KeepsFiringAfterPanic(t *testing.T) {
	ledger := &countingLedger{}
	s, err := New(ledger, Config{Interval: time.Second}, nil, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- s.Start(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for ledger.calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("start returned %v", err)
	}
	if ledger.calls.Load() < 2 {
		t.Errorf("ticks = %d, want at least 2", ledger.calls.Load())
	}
}
