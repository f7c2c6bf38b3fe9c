package knowledge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/h1v3-io/frontdesk/internal/store"
	"github.com/h1v3-io/frontdesk/pkg/protocol"
)

func newTestCache(t *testing.T, opts ...Option) *Cache {
	t.Helper()
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	clock := func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return New(store.NewMemoryStore(), nil, append([]Option{WithClock(clock)}, opts...)...)
}

func TestAdd_FillsDefaults(t *testing.T) {
	c := newTestCache(t)
	e, err := c.Add(context.Background(), &protocol.KnowledgeEntry{
		Question:           "Do you offer student discounts?",
		Answer:             "Yes, 15% off with student ID",
		SourceEscalationID: "esc-1",
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if e.ID == "" || e.CreatedAt.IsZero() {
		t.Errorf("id/created_at not assigned: %+v", e)
	}
	if e.Confidence != 1.0 {
		t.Errorf("confidence = %v, want 1.0", e.Confidence)
	}

	got, err := c.Get(context.Background(), e.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.SourceEscalationID != "esc-1" || got.Answer != e.Answer {
		t.Errorf("got %+v", got)
	}
}

func TestAdd_RejectsEmpty(t *testing.T) {
	c := newTestCache(t)
	_, err := c.Add(context.Background(), &protocol.KnowledgeEntry{Question: "q", Answer: "  "})
	if !errors.Is(err, protocol.ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestAdd_RejectsConfidenceOutOfRange(t *testing.T) {
	c := newTestCache(t)
	_, err := c.Add(context.Background(), &protocol.KnowledgeEntry{Question: "q", Answer: "a", Confidence: 1.5})
	if !errors.Is(err, protocol.ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestAdd_AppendOnly(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	if _, err := c.Add(ctx, &protocol.KnowledgeEntry{ID: "k-1", Question: "q", Answer: "a"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	_, err := c.Add(ctx, &protocol.KnowledgeEntry{ID: "k-1", Question: "q", Answer: "other"})
	if !errors.Is(err, protocol.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestGet_NotFound(t *testing.T) {
	c := newTestCache(t)
	_, err := c.Get(context.Background(), "missing")
	if !errors.Is(err, protocol.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAll_OldestFirst(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	for _, q := range []string{"first", "second", "third"} {
		c.Add(ctx, &protocol.KnowledgeEntry{Question: q, Answer: "a"})
	}
	all, err := c.All(ctx, 0)
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if len(all) != 3 || all[0].Question != "first" || all[2].Question != "third" {
		t.Errorf("unexpected order: %+v", all)
	}
}

func TestFindMatch(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	c.Add(ctx, &protocol.KnowledgeEntry{Question: "Do you offer student discounts?", Answer: "Yes, 15% off with student ID"})

	hit, err := c.FindMatch(ctx, "do you offer student discounts?")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if hit == nil || hit.Answer != "Yes, 15% off with student ID" {
		t.Fatalf("expected hit, got %+v", hit)
	}

	hit, _ = c.FindMatch(ctx, "Do you sell gift cards?")
	if hit != nil {
		t.Errorf("expected miss, got %+v", hit)
	}
}

func TestFindMatch_CustomMatcher(t *testing.T) {
	never := func(string, []*protocol.KnowledgeEntry) *protocol.KnowledgeEntry { return nil }
	c := newTestCache(t, WithMatcher(never))
	ctx := context.Background()
	c.Add(ctx, &protocol.KnowledgeEntry{Question: "parking", Answer: "Free parking behind the salon"})

	hit, _ := c.FindMatch(ctx, "parking")
	if hit != nil {
		t.Errorf("custom matcher ignored: %+v", hit)
	}
}

func TestFindSimilar(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	c.Add(ctx, &protocol.KnowledgeEntry{Question: "do you offer student discounts", Answer: "yes"})
	c.Add(ctx, &protocol.KnowledgeEntry{Question: "do you offer senior discounts", Answer: "no"})
	c.Add(ctx, &protocol.KnowledgeEntry{Question: "is there parking", Answer: "yes"})

	hits, err := c.FindSimilar(ctx, "Do you offer student discounts?", 0)
	if err != nil {
		t.Fatalf("find similar: %v", err)
	}
	// exact: 5/5 = 1.0; senior: 4/6 ≈ 0.67 falls below 0.7
	if len(hits) != 1 || hits[0].Score != 1.0 {
		t.Fatalf("hits = %+v", hits)
	}

	hits, _ = c.FindSimilar(ctx, "Do you offer student discounts?", 0.5)
	if len(hits) != 2 || hits[0].Entry.Answer != "yes" || hits[1].Entry.Answer != "no" {
		t.Errorf("hits at 0.5 = %+v", hits)
	}
}
