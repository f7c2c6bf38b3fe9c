// Package knowledge holds the question/answer pairs learned from supervisors.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/h1v3-io/frontdesk/internal/store"
	"github.com/h1v3-io/frontdesk/pkg/protocol"
)

// DefaultThreshold is the minimum Jaccard score FindSimilar reports by default.
const DefaultThreshold = 0.7

// Cache is an append-only store of learned answers. Lookups scan the whole
// table, so cost grows linearly with the number of entries.
type Cache struct {
	store  store.Store
	match  MatchFunc
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithMatcher replaces the live-call matcher used by FindMatch.
func WithMatcher(m MatchFunc) Option {
	return func(c *Cache) { c.match = m }
}

// WithClock overrides the time source used for created_at.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a cache backed by s.
func New(s store.Store, logger *slog.Logger, opts ...Option) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{
		store:  s,
		match:  SubstringMatch,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Add stores a new entry. Missing id, created_at and confidence are filled in;
// an id that already exists is rejected since entries are never rewritten.
func (c *Cache) Add(ctx context.Context, entry *protocol.KnowledgeEntry) (*protocol.KnowledgeEntry, error) {
	e := *entry
	e.Question = strings.TrimSpace(e.Question)
	e.Answer = strings.TrimSpace(e.Answer)
	if e.Question == "" || e.Answer == "" {
		return nil, fmt.Errorf("knowledge: add: question and answer are required: %w", protocol.ErrMalformed)
	}
	if e.Confidence == 0 {
		e.Confidence = 1.0
	}
	if e.Confidence < 0 || e.Confidence > 1 {
		return nil, fmt.Errorf("knowledge: add: confidence %v out of range: %w", e.Confidence, protocol.ErrMalformed)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	} else if _, err := c.store.Get(ctx, store.TableKnowledge, e.ID); err == nil {
		return nil, fmt.Errorf("knowledge: add: entry %s already exists: %w", e.ID, protocol.ErrConflict)
	} else if !errors.Is(err, protocol.ErrNotFound) {
		return nil, fmt.Errorf("knowledge: add: %w", err)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = c.now()
	}

	if err := c.store.Put(ctx, store.TableKnowledge, store.EncodeKnowledge(&e)); err != nil {
		c.logger.Error("knowledge write failed", "entry_id", e.ID, "error", err)
		return nil, fmt.Errorf("knowledge: add: %w", err)
	}
	c.logger.Info("knowledge entry added", "entry_id", e.ID, "source_escalation_id", e.SourceEscalationID)
	return &e, nil
}

// Get returns one entry by id.
func (c *Cache) Get(ctx context.Context, id string) (*protocol.KnowledgeEntry, error) {
	rec, err := c.store.Get(ctx, store.TableKnowledge, id)
	if err != nil {
		return nil, fmt.Errorf("knowledge: get: %w", err)
	}
	return store.DecodeKnowledge(rec)
}

// All returns entries oldest first. limit <= 0 returns everything.
func (c *Cache) All(ctx context.Context, limit int) ([]*protocol.KnowledgeEntry, error) {
	recs, err := c.store.Scan(ctx, store.TableKnowledge, limit)
	if err != nil {
		return nil, fmt.Errorf("knowledge: scan: %w", err)
	}
	out := make([]*protocol.KnowledgeEntry, 0, len(recs))
	for _, rec := range recs {
		e, err := store.DecodeKnowledge(rec)
		if err != nil {
			c.logger.Warn("skipping unreadable knowledge entry", "error", err)
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// FindMatch returns the entry the live-call matcher picks for question,
// or nil when nothing matches.
func (c *Cache) FindMatch(ctx context.Context, question string) (*protocol.KnowledgeEntry, error) {
	entries, err := c.All(ctx, 0)
	if err != nil {
		return nil, err
	}
	return c.match(question, entries), nil
}

// Scored is a search hit with its similarity score.
type Scored struct {
	Entry *protocol.KnowledgeEntry `json:"entry"`
	Score float64                  `json:"score"`
}

// FindSimilar returns entries whose token Jaccard similarity with question
// is at least threshold, best first. threshold <= 0 uses DefaultThreshold.
func (c *Cache) FindSimilar(ctx context.Context, question string, threshold float64) ([]Scored, error) {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	entries, err := c.All(ctx, 0)
	if err != nil {
		return nil, err
	}
	q := tokenSet(question)
	var out []Scored
	for _, e := range entries {
		score := Jaccard(q, tokenSet(e.Question))
		if score >= threshold {
			out = append(out, Scored{Entry: e, Score: score})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}
