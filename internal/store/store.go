// Package store is the record store adapter: keyed storage with one
// secondary index per table, backed by SQLite or by memory.
package store

import "context"

// Record is a single row keyed by its table's key column. Values are
// string, int64, float64, time.Time or nil once they have passed through a Store.
type Record map[string]any

// Order is the sort direction of an index query.
type Order int

const (
	Ascending Order = iota
	Descending
)

// Store is the persistence interface used by the ledgers and the knowledge cache.
type Store interface {
	// Get returns the record stored under key, or protocol.ErrNotFound.
	Get(ctx context.Context, table, key string) (Record, error)
	// Put creates or replaces a record.
	Put(ctx context.Context, table string, rec Record) error
	// Query returns records whose index hash column equals hashKey,
	// sorted by the index range column. limit <= 0 means no limit.
	Query(ctx context.Context, table, index, hashKey string, order Order, limit int) ([]Record, error)
	// Scan returns records in the table's natural order (oldest first).
	Scan(ctx context.Context, table string, limit int) ([]Record, error)
	// Update sets the given fields on an existing record, or returns protocol.ErrNotFound.
	Update(ctx context.Context, table, key string, fields Record) error
	// Close releases the underlying resources.
	Close() error
}

func (r Record) String(key string) string {
	s, _ := r[key].(string)
	return s
}

func (r Record) clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
