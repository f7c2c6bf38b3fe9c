// Package escalation tracks questions handed to a human supervisor.
//
// An escalation starts pending and ends either resolved (the supervisor
// answered) or unresolved (nobody answered in time). Both end states are
// final: resolving an expired escalation is rejected with protocol.ErrConflict.
package escalation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/h1v3-io/frontdesk/internal/audit"
	"github.com/h1v3-io/frontdesk/internal/metrics"
	"github.com/h1v3-io/frontdesk/internal/notify"
	"github.com/h1v3-io/frontdesk/internal/store"
	"github.com/h1v3-io/frontdesk/pkg/protocol"
)

// notifyTimeout bounds each background notification.
const notifyTimeout = 30 * time.Second

// KnowledgeWriter receives the question/answer pair of every resolution.
type KnowledgeWriter interface {
	Add(ctx context.Context, entry *protocol.KnowledgeEntry) (*protocol.KnowledgeEntry, error)
}

// CallLookup reports the current state of a call.
type CallLookup interface {
	Get(ctx context.Context, callID string) (*protocol.Call, error)
}

// LiveDelivery speaks an answer into a call that is still in progress.
type LiveDelivery interface {
	DeliverLive(ctx context.Context, callID, text string) bool
}

// Ledger persists escalations and runs their side effects.
type Ledger struct {
	store     store.Store
	knowledge KnowledgeWriter
	notifier  notify.Notifier
	calls     CallLookup
	live      LiveDelivery
	audit     audit.Sink
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time

	// mu serializes status transitions so resolve and expire cannot interleave.
	mu sync.Mutex
	wg sync.WaitGroup
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithCalls lets Resolve answer into a live call instead of messaging the customer.
func WithCalls(calls CallLookup) Option { return func(l *Ledger) { l.calls = calls } }

func WithAudit(sink audit.Sink) Option { return func(l *Ledger) { l.audit = sink } }

func WithMetrics(m *metrics.Metrics) Option { return func(l *Ledger) { l.metrics = m } }

func WithClock(now func() time.Time) Option { return func(l *Ledger) { l.now = now } }

// NewLedger creates an escalation ledger.
func NewLedger(s store.Store, knowledge KnowledgeWriter, notifier notify.Notifier, logger *slog.Logger, opts ...Option) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Ledger{
		store:     s,
		knowledge: knowledge,
		notifier:  notifier,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SetLiveDelivery installs the live-call channel. The engine that implements
// it depends on this ledger, so it is wired after construction.
func (l *Ledger) SetLiveDelivery(d LiveDelivery) { l.live = d }

// Wait blocks until every background notification has finished.
func (l *Ledger) Wait() { l.wg.Wait() }

// Create records a new pending escalation and alerts the supervisor in the
// background. A failed alert never fails the create.
func (l *Ledger) Create(ctx context.Context, question, callID, customerID, contact string) (*protocol.Escalation, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("escalation: create: empty question: %w", protocol.ErrMalformed)
	}
	e := &protocol.Escalation{
		ID:         uuid.NewString(),
		Question:   question,
		CallID:     callID,
		CustomerID: customerID,
		Contact:    contact,
		Status:     protocol.EscalationPending,
		CreatedAt:  l.now(),
	}
	if err := l.store.Put(ctx, store.TableEscalations, store.EncodeEscalation(e)); err != nil {
		l.logger.Error("escalation write failed", "call_id", callID, "error", err)
		return nil, fmt.Errorf("escalation: create: %w", err)
	}
	l.logger.Info("escalation created", "escalation_id", e.ID, "call_id", callID)
	l.metrics.Escalation("created")
	l.record(ctx, audit.EventEscalationCreated, e)

	msg := SupervisorMessage(e.Question, e.Contact)
	l.background(ctx, func(ctx context.Context) {
		if !l.notifier.NotifySupervisor(ctx, msg) {
			l.logger.Warn("supervisor notification failed", "escalation_id", e.ID)
		}
	})
	return e, nil
}

// Resolve records the supervisor's answer, teaches it to the knowledge cache
// and passes it on to the customer. Learning and notification failures are
// logged and do not fail the resolve.
func (l *Ledger) Resolve(ctx context.Context, id, answer string) (*protocol.Escalation, error) {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return nil, fmt.Errorf("escalation: resolve: empty answer: %w", protocol.ErrMalformed)
	}

	l.mu.Lock()
	e, err := l.get(ctx, id)
	if err != nil {
		l.mu.Unlock()
		return nil, fmt.Errorf("escalation: resolve: %w", err)
	}
	if e.Status != protocol.EscalationPending {
		l.mu.Unlock()
		return nil, fmt.Errorf("escalation: resolve %s: status is %s: %w", id, e.Status, protocol.ErrConflict)
	}
	now := l.now()
	err = l.store.Update(ctx, store.TableEscalations, id, store.Record{
		"status":      string(protocol.EscalationResolved),
		"answer":      answer,
		"resolved_at": now,
	})
	l.mu.Unlock()
	if err != nil {
		l.logger.Error("escalation resolve write failed", "escalation_id", id, "error", err)
		return nil, fmt.Errorf("escalation: resolve: %w", err)
	}
	e.Status = protocol.EscalationResolved
	e.Answer = answer
	e.ResolvedAt = &now

	l.logger.Info("escalation resolved", "escalation_id", id, "call_id", e.CallID)
	l.metrics.Escalation("resolved")
	l.record(ctx, audit.EventEscalationResolved, e)

	if l.knowledge != nil {
		entry, err := l.knowledge.Add(ctx, &protocol.KnowledgeEntry{
			Question:           e.Question,
			Answer:             answer,
			Confidence:         1.0,
			SourceEscalationID: id,
		})
		if err != nil {
			l.logger.Error("learning from resolution failed", "escalation_id", id, "error", err)
		} else {
			l.record(ctx, audit.EventKnowledgeLearned, e)
			l.logger.Debug("resolution learned", "escalation_id", id, "entry_id", entry.ID)
		}
	}

	resolved := *e
	l.background(ctx, func(ctx context.Context) { l.deliver(ctx, &resolved) })
	return e, nil
}

// deliver speaks the answer into the originating call when it is still live,
// otherwise messages the customer.
func (l *Ledger) deliver(ctx context.Context, e *protocol.Escalation) {
	msg := CustomerMessage(e.Question, e.Answer)
	if l.calls != nil && l.live != nil && e.CallID != "" {
		call, err := l.calls.Get(ctx, e.CallID)
		if err == nil && call.Active() && l.live.DeliverLive(ctx, e.CallID, msg) {
			l.logger.Info("answer delivered into live call", "escalation_id", e.ID, "call_id", e.CallID)
			return
		}
	}
	if !l.notifier.NotifyCustomer(ctx, e.Contact, msg) {
		l.logger.Warn("customer notification failed", "escalation_id", e.ID, "contact", e.Contact)
	}
}

// Expire moves a pending escalation to unresolved.
func (l *Ledger) Expire(ctx context.Context, id string) error {
	l.mu.Lock()
	e, err := l.get(ctx, id)
	if err != nil {
		l.mu.Unlock()
		return fmt.Errorf("escalation: expire: %w", err)
	}
	if e.Status != protocol.EscalationPending {
		l.mu.Unlock()
		return fmt.Errorf("escalation: expire %s: status is %s: %w", id, e.Status, protocol.ErrConflict)
	}
	err = l.store.Update(ctx, store.TableEscalations, id, store.Record{"status": string(protocol.EscalationUnresolved)})
	l.mu.Unlock()
	if err != nil {
		return fmt.Errorf("escalation: expire: %w", err)
	}
	e.Status = protocol.EscalationUnresolved

	l.logger.Info("escalation timed out", "escalation_id", id, "call_id", e.CallID)
	l.metrics.Escalation("expired")
	l.record(ctx, audit.EventEscalationExpired, e)
	return nil
}

// Get returns one escalation.
func (l *Ledger) Get(ctx context.Context, id string) (*protocol.Escalation, error) {
	e, err := l.get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("escalation: get: %w", err)
	}
	return e, nil
}

// ListByStatus returns escalations in the given status, most recent first.
func (l *Ledger) ListByStatus(ctx context.Context, status protocol.EscalationStatus, limit int) ([]*protocol.Escalation, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("escalation: list: status %q: %w", status, protocol.ErrMalformed)
	}
	recs, err := l.store.Query(ctx, store.TableEscalations, store.IndexStatus, string(status), store.Descending, limit)
	if err != nil {
		return nil, fmt.Errorf("escalation: list: %w", err)
	}
	out := make([]*protocol.Escalation, 0, len(recs))
	for _, rec := range recs {
		e, err := store.DecodeEscalation(rec)
		if err != nil {
			l.logger.Warn("skipping unreadable escalation", "error", err)
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// IsTimedOut reports whether e is still pending more than timeout after it was created.
func IsTimedOut(e *protocol.Escalation, now time.Time, timeout time.Duration) bool {
	return e.Status == protocol.EscalationPending && now.Sub(e.CreatedAt) > timeout
}

// SupervisorMessage is the alert text for a new escalation.
func SupervisorMessage(question, contact string) string {
	return fmt.Sprintf("New help request: \"%s\" from customer %s", question, contact)
}

// CustomerMessage is the text that carries a supervisor's answer back to the customer.
func CustomerMessage(question, answer string) string {
	return fmt.Sprintf("Hello! You asked about \"%s\". Here's the answer: %s", question, answer)
}

func (l *Ledger) get(ctx context.Context, id string) (*protocol.Escalation, error) {
	rec, err := l.store.Get(ctx, store.TableEscalations, id)
	if err != nil {
		return nil, err
	}
	return store.DecodeEscalation(rec)
}

func (l *Ledger) record(ctx context.Context, t audit.EventType, e *protocol.Escalation) {
	if l.audit == nil {
		return
	}
	ev := audit.NewEvent(t, e.ID)
	ev.CallID = e.CallID
	ev.CustomerID = e.CustomerID
	ev.Question = e.Question
	ev.Answer = e.Answer
	if err := l.audit.Write(ctx, ev); err != nil {
		l.logger.Warn("audit write failed", "escalation_id", e.ID, "event_type", t, "error", err)
	}
}

// background runs fn on its own goroutine, detached from the caller's
// cancellation but bounded by notifyTimeout.
func (l *Ledger) background(ctx context.Context, fn func(ctx context.Context)) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				l.logger.Error("notification panic recovered", "panic", r)
			}
		}()
		fn(ctx)
	}()
}
