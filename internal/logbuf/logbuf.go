// Package logbuf keeps recent log records in memory so the API can show what
// happened on a call without shell access to the host.
package logbuf

import (
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Entry is a single log entry captured from slog.
type Entry struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// attr returns a string attribute, or "" when absent.
func (e Entry) attr(key string) string {
	s, _ := e.Attrs[key].(string)
	return s
}

// Filter selects entries. Zero fields match everything.
type Filter struct {
	Since     time.Time
	MinLevel  slog.Level
	CallID    string
	Component string
	// Limit keeps the newest matches. <= 0 keeps all.
	Limit int
}

func (f Filter) match(e Entry) bool {
	if !f.Since.IsZero() && e.Time.Before(f.Since) {
		return false
	}
	if ParseLevel(e.Level) < f.MinLevel {
		return false
	}
	if f.CallID != "" && e.attr("call_id") != f.CallID {
		return false
	}
	if f.Component != "" && e.attr("component") != f.Component {
		return false
	}
	return true
}

// Buffer is a thread-safe ring buffer for log entries.
type Buffer struct {
	mu      sync.Mutex
	entries []Entry
	size    int
	pos     int
	count   int
}

// New creates a new ring buffer that holds up to size entries.
func New(size int) *Buffer {
	if size <= 0 {
		size = 1
	}
	return &Buffer{
		entries: make([]Entry, size),
		size:    size,
	}
}

// Write appends an entry, overwriting the oldest when full.
func (b *Buffer) Write(e Entry) {
	b.mu.Lock()
	b.entries[b.pos] = e
	b.pos = (b.pos + 1) % b.size
	if b.count < b.size {
		b.count++
	}
	b.mu.Unlock()
}

// Query returns matching entries, oldest first.
func (b *Buffer) Query(f Filter) []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	start := 0
	if b.count == b.size {
		start = b.pos
	}
	var result []Entry
	for i := range b.count {
		e := b.entries[(start+i)%b.size]
		if f.match(e) {
			result = append(result, e)
		}
	}

	if f.Limit > 0 && len(result) > f.Limit {
		result = result[len(result)-f.Limit:]
	}
	return result
}

// ParseLevel converts a level name to slog.Level. Unknown names are INFO.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
