package store

import (
	"fmt"
	"time"

	"github.com/h1v3-io/frontdesk/pkg/protocol"
)

const (
	TableCalls       = "calls"
	TableEscalations = "escalations"
	TableKnowledge   = "knowledge"

	IndexCustomer = "customer_index"
	IndexStatus   = "status_index"
)

// ColumnType is the storage class of a column.
type ColumnType int

const (
	Text ColumnType = iota
	Integer
	Real
	Timestamp
)

// Column is one named, typed field of a table.
type Column struct {
	Name     string
	Type     ColumnType
	Nullable bool
}

// Index is a secondary index: equality on HashKey, ordering on RangeKey.
type Index struct {
	Name     string
	HashKey  string
	RangeKey string
}

// Table declares the explicit schema of one logical table.
type Table struct {
	Name    string
	Key     string
	OrderBy string // natural scan order
	Columns []Column
	Indexes []Index
}

// DefaultSchema returns the tables used by frontdesk.
func DefaultSchema() []Table {
	return []Table{
		{
			Name:    TableCalls,
			Key:     "call_id",
			OrderBy: "started_at",
			Columns: []Column{
				{Name: "call_id", Type: Text},
				{Name: "customer_id", Type: Text},
				{Name: "contact", Type: Text},
				{Name: "started_at", Type: Timestamp},
				{Name: "status", Type: Text},
				{Name: "direction", Type: Text},
				{Name: "duration_ms", Type: Integer, Nullable: true},
				{Name: "transcript", Type: Text},
			},
			Indexes: []Index{{Name: IndexCustomer, HashKey: "customer_id", RangeKey: "started_at"}},
		},
		{
			Name:    TableEscalations,
			Key:     "escalation_id",
			OrderBy: "created_at",
			Columns: []Column{
				{Name: "escalation_id", Type: Text},
				{Name: "question", Type: Text},
				{Name: "call_id", Type: Text},
				{Name: "customer_id", Type: Text},
				{Name: "contact", Type: Text},
				{Name: "status", Type: Text},
				{Name: "created_at", Type: Timestamp},
				{Name: "answer", Type: Text, Nullable: true},
				{Name: "resolved_at", Type: Timestamp, Nullable: true},
			},
			Indexes: []Index{{Name: IndexStatus, HashKey: "status", RangeKey: "created_at"}},
		},
		{
			Name:    TableKnowledge,
			Key:     "entry_id",
			OrderBy: "created_at",
			Columns: []Column{
				{Name: "entry_id", Type: Text},
				{Name: "question", Type: Text},
				{Name: "answer", Type: Text},
				{Name: "created_at", Type: Timestamp},
				{Name: "confidence", Type: Real},
				{Name: "source_escalation_id", Type: Text, Nullable: true},
			},
		},
	}
}

func (t Table) column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

func (t Table) index(name string) (Index, bool) {
	for _, ix := range t.Indexes {
		if ix.Name == name {
			return ix, true
		}
	}
	return Index{}, false
}

// coerce validates rec against the schema and converts every value to its
// canonical Go type. When partial is false, all non-nullable columns must be present.
func (t Table) coerce(rec Record, partial bool) (Record, error) {
	out := make(Record, len(rec))
	for k, v := range rec {
		col, ok := t.column(k)
		if !ok {
			return nil, fmt.Errorf("store: %s: unknown column %q: %w", t.Name, k, protocol.ErrMalformed)
		}
		cv, err := coerceValue(col, v)
		if err != nil {
			return nil, fmt.Errorf("store: %s.%s: %w", t.Name, k, err)
		}
		out[k] = cv
	}
	if partial {
		return out, nil
	}
	for _, col := range t.Columns {
		if col.Nullable {
			if _, ok := out[col.Name]; !ok {
				out[col.Name] = nil
			}
			continue
		}
		if out[col.Name] == nil {
			return nil, fmt.Errorf("store: %s: missing column %q: %w", t.Name, col.Name, protocol.ErrMalformed)
		}
	}
	if out.String(t.Key) == "" {
		return nil, fmt.Errorf("store: %s: empty key: %w", t.Name, protocol.ErrMalformed)
	}
	return out, nil
}

func coerceValue(col Column, v any) (any, error) {
	if v == nil {
		if !col.Nullable {
			return nil, fmt.Errorf("null value: %w", protocol.ErrMalformed)
		}
		return nil, nil
	}
	switch col.Type {
	case Text:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case Integer:
		switch n := v.(type) {
		case int64:
			return n, nil
		case int:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case float64:
			return int64(n), nil
		}
	case Real:
		switch n := v.(type) {
		case float64:
			return n, nil
		case float32:
			return float64(n), nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		}
	case Timestamp:
		switch ts := v.(type) {
		case time.Time:
			return ts.UTC(), nil
		case *time.Time:
			if ts == nil {
				if !col.Nullable {
					return nil, fmt.Errorf("null value: %w", protocol.ErrMalformed)
				}
				return nil, nil
			}
			return ts.UTC(), nil
		}
	}
	return nil, fmt.Errorf("unexpected %T: %w", v, protocol.ErrMalformed)
}

// compareValues orders two canonical values of the same column type.
func compareValues(a, b any) int {
	switch x := a.(type) {
	case time.Time:
		y, _ := b.(time.Time)
		return x.Compare(y)
	case int64:
		y, _ := b.(int64)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	case float64:
		y, _ := b.(float64)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	case string:
		y, _ := b.(string)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	}
	if a == nil && b != nil {
		return -1
	}
	if a != nil && b == nil {
		return 1
	}
	return 0
}
