package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/h1v3-io/frontdesk/pkg/protocol"
)

// SQLiteStore implements Store using SQLite. Each schema table maps to one
// SQL table; timestamps are stored as unix nanoseconds so they sort numerically.
type SQLiteStore struct {
	db     *sql.DB
	tables map[string]Table
}

// NewSQLiteStore opens (or creates) a SQLite database and runs migrations.
func NewSQLiteStore(path string, tables ...Table) (*SQLiteStore, error) {
	if len(tables) == 0 {
		tables = DefaultSchema()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	// Enable WAL mode for better concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: busy timeout: %w", err)
	}

	s := &SQLiteStore{db: db, tables: make(map[string]Table, len(tables))}
	for _, t := range tables {
		s.tables[t.Name] = t
	}
	if err := s.migrate(tables); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate(tables []Table) error {
	for _, t := range tables {
		var cols []string
		for _, c := range t.Columns {
			def := c.Name + " " + sqlType(c.Type)
			if !c.Nullable {
				def += " NOT NULL"
			}
			cols = append(cols, def)
		}
		cols = append(cols, fmt.Sprintf("PRIMARY KEY (%s)", t.Key))
		stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", t.Name, strings.Join(cols, ",\n\t"))
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("store: migrate %s: %w", t.Name, err)
		}
		for _, ix := range t.Indexes {
			stmt := fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s(%s, %s)",
				t.Name, ix.Name, t.Name, ix.HashKey, ix.RangeKey)
			if _, err := s.db.Exec(stmt); err != nil {
				return fmt.Errorf("store: migrate %s.%s: %w", t.Name, ix.Name, err)
			}
		}
		if t.OrderBy != "" {
			stmt := fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_order ON %s(%s)", t.Name, t.Name, t.OrderBy)
			if _, err := s.db.Exec(stmt); err != nil {
				return fmt.Errorf("store: migrate %s order: %w", t.Name, err)
			}
		}
	}
	return nil
}

func (s *SQLiteStore) table(name string) (Table, error) {
	t, ok := s.tables[name]
	if !ok {
		return Table{}, fmt.Errorf("store: unknown table %q: %w", name, protocol.ErrMalformed)
	}
	return t, nil
}

func (s *SQLiteStore) Get(ctx context.Context, table, key string) (Record, error) {
	t, err := s.table(table)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?", columnList(t), t.Name, t.Key)
	rec, err := scanRecord(t, s.db.QueryRowContext(ctx, query, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("store: %s %q: %w", table, key, protocol.ErrNotFound)
		}
		return nil, fmt.Errorf("store: get %s: %w: %w", table, protocol.ErrUnavailable, err)
	}
	return rec, nil
}

func (s *SQLiteStore) Put(ctx context.Context, table string, rec Record) error {
	t, err := s.table(table)
	if err != nil {
		return err
	}
	row, err := t.coerce(rec, false)
	if err != nil {
		return err
	}

	names := make([]string, len(t.Columns))
	marks := make([]string, len(t.Columns))
	args := make([]any, len(t.Columns))
	var sets []string
	for i, c := range t.Columns {
		names[i] = c.Name
		marks[i] = "?"
		args[i] = toSQL(row[c.Name])
		if c.Name != t.Key {
			sets = append(sets, fmt.Sprintf("%s=excluded.%s", c.Name, c.Name))
		}
	}

	stmt := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(%s) DO UPDATE SET %s`,
		t.Name, strings.Join(names, ", "), strings.Join(marks, ", "), t.Key, strings.Join(sets, ", "))
	if _, err := s.db.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("store: put %s: %w: %w", table, protocol.ErrUnavailable, err)
	}
	return nil
}

func (s *SQLiteStore) Query(ctx context.Context, table, index, hashKey string, order Order, limit int) ([]Record, error) {
	t, err := s.table(table)
	if err != nil {
		return nil, err
	}
	ix, ok := t.index(index)
	if !ok {
		return nil, fmt.Errorf("store: %s: unknown index %q: %w", table, index, protocol.ErrMalformed)
	}
	dir := "ASC"
	if order == Descending {
		dir = "DESC"
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ? ORDER BY %s %s, %s ASC",
		columnList(t), t.Name, ix.HashKey, ix.RangeKey, dir, t.Key)
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	return s.queryRecords(ctx, t, query, hashKey)
}

func (s *SQLiteStore) Scan(ctx context.Context, table string, limit int) ([]Record, error) {
	t, err := s.table(table)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s ASC, %s ASC", columnList(t), t.Name, t.OrderBy, t.Key)
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	return s.queryRecords(ctx, t, query)
}

func (s *SQLiteStore) Update(ctx context.Context, table, key string, fields Record) error {
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
	if len(patch) == 0 {
		return nil
	}

	var sets []string
	var args []any
	// iterate the schema so the statement text is stable
	for _, c := range t.Columns {
		v, ok := patch[c.Name]
		if !ok {
			continue
		}
		sets = append(sets, c.Name+" = ?")
		args = append(args, toSQL(v))
	}
	args = append(args, key)

	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?", t.Name, strings.Join(sets, ", "), t.Key)
	result, err := s.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("store: update %s: %w: %w", table, protocol.ErrUnavailable, err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("store: %s %q: %w", table, key, protocol.ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection (for testing or direct access).
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// --- helpers ---

func (s *SQLiteStore) queryRecords(ctx context.Context, t Table, query string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query %s: %w: %w", t.Name, protocol.ErrUnavailable, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(t, rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan %s: %w", t.Name, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: query %s: %w: %w", t.Name, protocol.ErrUnavailable, err)
	}
	return out, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRecord(t Table, row scannable) (Record, error) {
	dest := make([]any, len(t.Columns))
	for i, c := range t.Columns {
		switch c.Type {
		case Text:
			dest[i] = new(sql.NullString)
		case Real:
			dest[i] = new(sql.NullFloat64)
		default:
			dest[i] = new(sql.NullInt64)
		}
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	rec := make(Record, len(t.Columns))
	for i, c := range t.Columns {
		switch v := dest[i].(type) {
		case *sql.NullString:
			if v.Valid {
				rec[c.Name] = v.String
			} else {
				rec[c.Name] = nil
			}
		case *sql.NullFloat64:
			if v.Valid {
				rec[c.Name] = v.Float64
			} else {
				rec[c.Name] = nil
			}
		case *sql.NullInt64:
			switch {
			case !v.Valid:
				rec[c.Name] = nil
			case c.Type == Timestamp:
				rec[c.Name] = time.Unix(0, v.Int64).UTC()
			default:
				rec[c.Name] = v.Int64
			}
		}
	}
	return rec, nil
}

func columnList(t Table) string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return strings.Join(names, ", ")
}

func sqlType(ct ColumnType) string {
	switch ct {
	case Integer, Timestamp:
		return "INTEGER"
	case Real:
		return "REAL"
	default:
		return "TEXT"
	}
}

func toSQL(v any) any {
	if ts, ok := v.(time.Time); ok {
		return ts.UnixNano()
	}
	return v
}
