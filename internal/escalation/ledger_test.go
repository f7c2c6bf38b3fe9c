package escalation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/h1v3-io/frontdesk/internal/audit"
	"github.com/h1v3-io/frontdesk/internal/knowledge"
	"github.com/h1v3-io/frontdesk/internal/store"
	"github.com/h1v3-io/frontdesk/pkg/protocol"
)

type recordingNotifier struct {
	mu         sync.Mutex
	supervisor []string
	customer   map[string][]string
	ok         bool
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{customer: make(map[string][]string), ok: true}
}

func (n *recordingNotifier) NotifySupervisor(_ context.Context, msg string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.supervisor = append(n.supervisor, msg)
	return n.ok
}

func (n *recordingNotifier) NotifyCustomer(_ context.Context, contact, msg string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.customer[contact] = append(n.customer[contact], msg)
	return n.ok
}

type fakeCalls map[string]*protocol.Call

func (f fakeCalls) Get(_ context.Context, id string) (*protocol.Call, error) {
	c, ok := f[id]
	if !ok {
		return nil, protocol.ErrNotFound
	}
	return c, nil
}

type fakeLive struct {
	mu        sync.Mutex
	delivered map[string]string
}

func (f *fakeLive) DeliverLive(_ context.Context, callID, text string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.delivered == nil {
		f.delivered = make(map[string]string)
	}
	f.delivered[callID] = text
	return true
}

type captureSink struct {
	mu     sync.Mutex
	events []audit.EventType
}

func (s *captureSink) Write(_ context.Context, ev *audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev.Type)
	return nil
}
func (s *captureSink) Close() error { return nil }
func (s *captureSink) Name() string { return "capture" }

type fixture struct {
	ledger    *Ledger
	knowledge *knowledge.Cache
	notifier  *recordingNotifier
	audit     *captureSink
	now       time.Time
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	s := store.NewMemoryStore()
	f := &fixture{
		knowledge: knowledge.New(s, nil),
		notifier:  newRecordingNotifier(),
		audit:     &captureSink{},
		now:       time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC),
	}
	opts = append([]Option{WithAudit(f.audit), WithClock(func() time.Time { return f.now })}, opts...)
	f.ledger = NewLedger(s, f.knowledge, f.notifier, nil, opts...)
	return f
}

func TestCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e, err := f.ledger.Create(ctx, "Do you offer student discounts?", "call-1", "15551234567", "+15551234567")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	f.ledger.Wait()

	if e.Status != protocol.EscalationPending || e.Answer != "" || e.ResolvedAt != nil {
		t.Errorf("new escalation = %+v", e)
	}
	want := `New help request: "Do you offer student discounts?" from customer +15551234567`
	if len(f.notifier.supervisor) != 1 || f.notifier.supervisor[0] != want {
		t.Errorf("supervisor messages = %q", f.notifier.supervisor)
	}

	pending, _ := f.ledger.ListByStatus(ctx, protocol.EscalationPending, 0)
	if len(pending) != 1 || pending[0].ID != e.ID {
		t.Errorf("pending = %+v", pending)
	}
}

func TestCreate_NotificationFailureDoesNotFail(t *testing.T) {
	f := newFixture(t)
	f.notifier.ok = false

	if _, err := f.ledger.Create(context.Background(), "q?", "call-1", "c", "+1"); err != nil {
		t.Fatalf("create: %v", err)
	}
	f.ledger.Wait()
}

func TestResolve_TeachesAndNotifies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e, _ := f.ledger.Create(ctx, "Do you offer student discounts?", "call-1", "15551234567", "+15551234567")
	f.now = f.now.Add(5 * time.Minute)

	got, err := f.ledger.Resolve(ctx, e.ID, "Yes, 15% off with student ID")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	f.ledger.Wait()

	if got.Status != protocol.EscalationResolved || got.ResolvedAt == nil || !got.ResolvedAt.Equal(f.now) {
		t.Errorf("resolved = %+v", got)
	}
	stored, _ := f.ledger.Get(ctx, e.ID)
	if stored.Answer != "Yes, 15% off with student ID" {
		t.Errorf("stored answer = %q", stored.Answer)
	}

	entries, _ := f.knowledge.All(ctx, 0)
	if len(entries) != 1 {
		t.Fatalf("expected 1 knowledge entry, got %d", len(entries))
	}
	if entries[0].Question != e.Question || entries[0].SourceEscalationID != e.ID || entries[0].Confidence != 1.0 {
		t.Errorf("entry = %+v", entries[0])
	}

	msgs := f.notifier.customer["+15551234567"]
	want := `Hello! You asked about "Do you offer student discounts?". Here's the answer: Yes, 15% off with student ID`
	if len(msgs) != 1 || msgs[0] != want {
		t.Errorf("customer messages = %q", msgs)
	}

	want2 := []audit.EventType{audit.EventEscalationCreated, audit.EventEscalationResolved, audit.EventKnowledgeLearned}
	if len(f.audit.events) != len(want2) {
		t.Fatalf("audit events = %v", f.audit.events)
	}
	for i := range want2 {
		if f.audit.events[i] != want2[i] {
			t.Errorf("audit[%d] = %s, want %s", i, f.audit.events[i], want2[i])
		}
	}
}

func TestResolve_LiveCall(t *testing.T) {
	live := &fakeLive{}
	calls := fakeCalls{"call-1": {ID: "call-1", Status: protocol.CallInProgress}}
	f := newFixture(t, WithCalls(calls))
	f.ledger.SetLiveDelivery(live)
	ctx := context.Background()

	e, _ := f.ledger.Create(ctx, "Is there parking?", "call-1", "1555", "+1555")
	f.ledger.Resolve(ctx, e.ID, "Yes, behind the salon")
	f.ledger.Wait()

	if live.delivered["call-1"] == "" {
		t.Error("expected live delivery")
	}
	if len(f.notifier.customer["+1555"]) != 0 {
		t.Error("customer should not also be messaged")
	}
}

func TestResolve_EndedCallFallsBackToMessage(t *testing.T) {
	live := &fakeLive{}
	d := time.Minute
	calls := fakeCalls{"call-1": {ID: "call-1", Status: protocol.CallCompleted, Duration: &d}}
	f := newFixture(t, WithCalls(calls))
	f.ledger.SetLiveDelivery(live)
	ctx := context.Background()

	e, _ := f.ledger.Create(ctx, "Is there parking?", "call-1", "1555", "+1555")
	f.ledger.Resolve(ctx, e.ID, "Yes")
	f.ledger.Wait()

	if len(live.delivered) != 0 {
		t.Error("ended call should not receive live delivery")
	}
	if len(f.notifier.customer["+1555"]) != 1 {
		t.Error("expected customer message")
	}
}

func TestResolve_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e, _ := f.ledger.Create(ctx, "q?", "call-1", "c", "+1")

	if _, err := f.ledger.Resolve(ctx, "missing", "a"); !errors.Is(err, protocol.ErrNotFound) {
		t.Errorf("unknown id: %v", err)
	}
	if _, err := f.ledger.Resolve(ctx, e.ID, "   "); !errors.Is(err, protocol.ErrMalformed) {
		t.Errorf("empty answer: %v", err)
	}
	if _, err := f.ledger.Resolve(ctx, e.ID, "a"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, err := f.ledger.Resolve(ctx, e.ID, "b"); !errors.Is(err, protocol.ErrConflict) {
		t.Errorf("second resolve: %v", err)
	}
	f.ledger.Wait()
}

func TestExpire_ThenResolveRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e, _ := f.ledger.Create(ctx, "q?", "call-1", "c", "+1")

	f.now = f.now.Add(3700 * time.Second)
	if !IsTimedOut(e, f.now, time.Hour) {
		t.Fatal("expected timeout")
	}
	if err := f.ledger.Expire(ctx, e.ID); err != nil {
		t.Fatalf("expire: %v", err)
	}
	got, _ := f.ledger.Get(ctx, e.ID)
	if got.Status != protocol.EscalationUnresolved || got.Answer != "" {
		t.Errorf("expired = %+v", got)
	}

	if _, err := f.ledger.Resolve(ctx, e.ID, "too late"); !errors.Is(err, protocol.ErrConflict) {
		t.Errorf("resolve after timeout: %v", err)
	}
	if err := f.ledger.Expire(ctx, e.ID); !errors.Is(err, protocol.ErrConflict) {
		t.Errorf("second expire: %v", err)
	}
	entries, _ := f.knowledge.All(ctx, 0)
	if len(entries) != 0 {
		t.Error("rejected resolve must not teach the cache")
	}
	f.ledger.Wait()
}

func TestIsTimedOut(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e := &protocol.Escalation{Status: protocol.EscalationPending, CreatedAt: created}

	if IsTimedOut(e, created.Add(time.Hour), time.Hour) {
		t.Error("exactly at the timeout is not yet timed out")
	}
	if !IsTimedOut(e, created.Add(time.Hour+time.Second), time.Hour) {
		t.Error("past the timeout should be timed out")
	}
	e.Status = protocol.EscalationResolved
	if IsTimedOut(e, created.Add(48*time.Hour), time.Hour) {
		t.Error("resolved escalations never time out")
	}
}

func TestListByStatus_Invalid(t *testing.T) {
	f := newFixture(t)
	if _, err := f.ledger.ListByStatus(context.Background(), "lost", 0); !errors.Is(err, protocol.ErrMalformed) {
		t.Errorf("expected ErrMalformed, got %v", err)
	}
}
