package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/h1v3-io/frontdesk/pkg/protocol"
)

// MemoryStore implements Store in process memory. It is used by tests and
// by the daemon when no data directory is configured.
type MemoryStore struct {
	mu     sync.RWMutex
	tables map[string]Table
	rows   map[string]map[string]Record // table → key → record
}

// NewMemoryStore creates an empty store for the given tables (DefaultSchema if none).
func NewMemoryStore(tables ...Table) *MemoryStore {
	if len(tables) == 0 {
		tables = DefaultSchema()
	}
	s := &MemoryStore{
		tables: make(map[string]Table, len(tables)),
		rows:   make(map[string]map[string]Record, len(tables)),
	}
	for _, t := range tables {
		s.tables[t.Name] = t
		s.rows[t.Name] = make(map[string]Record)
	}
	return s
}

func (s *MemoryStore) table(name string) (Table, error) {
	t, ok := s.tables[name]
	if !ok {
		return Table{}, fmt.Errorf("store: unknown table %q: %w", name, protocol.ErrMalformed)
	}
	return t, nil
}

func (s *MemoryStore) Get(_ context.Context, table, key string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.table(table); err != nil {
		return nil, err
	}
	rec, ok := s.rows[table][key]
	if !ok {
		return nil, fmt.Errorf("store: %s %q: %w", table, key, protocol.ErrNotFound)
	}
	return rec.clone(), nil
}

func (s *MemoryStore) Put(_ context.Context, table string, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.table(table)
	if err != nil {
		return err
	}
	row, err := t.coerce(rec, false)
	if err != nil {
		return err
	}
	s.rows[table][row.String(t.Key)] = row
	return nil
}

func (s *MemoryStore) Query(_ context.Context, table, index, hashKey string, order Order, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, err := s.table(table)
	if err != nil {
		return nil, err
	}
	ix, ok := t.index(index)
	if !ok {
		return nil, fmt.Errorf("store: %s: unknown index %q: %w", table, index, protocol.ErrMalformed)
	}

	var out []Record
	for _, rec := range s.rows[table] {
		if rec.String(ix.HashKey) == hashKey {
			out = append(out, rec.clone())
		}
	}
	sortRecords(out, ix.RangeKey, t.Key, order)
	return truncate(out, limit), nil
}

func (s *MemoryStore) Scan(_ context.Context, table string, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, err := s.table(table)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(s.rows[table]))
	for _, rec := range s.rows[table] {
		out = append(out, rec.clone())
	}
	sortRecords(out, t.OrderBy, t.Key, Ascending)
	return truncate(out, limit), nil
}

func (s *MemoryStore) Update(_ context.Context, table, key string, fields Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.table(table)
	if err != nil {
		return err
	}
	if _, ok := fields[t.Key]; ok {
		return fmt.Errorf("store: %s: key column is immutable: %w", table, protocol.ErrMalformed)
	}
	patch, err := t.coerce(fields, true)
	if err != nil {
		return err
	}
	rec, ok := s.rows[table][key]
	if !ok {
		return fmt.Errorf("store: %s %q: %w", table, key, protocol.ErrNotFound)
	}
	updated := rec.clone()
	for k, v := range patch {
		updated[k] = v
	}
	s.rows[table][key] = updated
	return nil
}

func (s *MemoryStore) Close() error { return nil }

// sortRecords orders by col, breaking ties on the key so results are deterministic.
func sortRecords(recs []Record, col, key string, order Order) {
	sort.SliceStable(recs, func(i, j int) bool {
		c := compareValues(recs[i][col], recs[j][col])
		if c == 0 {
			c = compareValues(recs[i][key], recs[j][key])
			// keys always ascend so ties read the same in both directions
			return c < 0
		}
		if order == Descending {
			return c > 0
		}
		return c < 0
	})
}

func truncate(recs []Record, limit int) []Record {
	if limit > 0 && len(recs) > limit {
		return recs[:limit]
	}
	return recs
}
