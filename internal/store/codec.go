package store

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/h1v3-io/frontdesk/pkg/protocol"
)

// This file is the only place where records become domain values and back.
// Older exports used different field names for the same column; they are
// folded into the canonical name before decoding.

var aliases = map[string]map[string]string{
	TableCalls: {
		"customer_phone": "contact",
		"phone_number":   "contact",
		"start_time":     "started_at",
		"timestamp":      "started_at",
	},
	TableEscalations: {
		"request_id":     "escalation_id",
		"customer_phone": "contact",
		"timestamp":      "created_at",
		"resolvedAt":     "resolved_at",
	},
	TableKnowledge: {
		"question_id":       "entry_id",
		"timestamp":         "created_at",
		"source_request_id": "source_escalation_id",
	},
}

// Normalize renames legacy field names to their canonical column names.
// A canonical field that is already present wins over its alias.
func Normalize(table string, rec Record) Record {
	out := make(Record, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	for alias, canonical := range aliases[table] {
		v, ok := out[alias]
		if !ok {
			continue
		}
		delete(out, alias)
		if _, exists := out[canonical]; !exists {
			out[canonical] = v
		}
	}
	return out
}

// --- calls ---

// EncodeCall converts a call to its stored record.
func EncodeCall(c *protocol.Call) (Record, error) {
	transcript, err := EncodeTranscript(c.Transcript)
	if err != nil {
		return nil, err
	}
	rec := Record{
		"call_id":     c.ID,
		"customer_id": c.CustomerID,
		"contact":     c.Contact,
		"started_at":  c.StartedAt,
		"status":      string(c.Status),
		"direction":   string(c.Direction),
		"duration_ms": nil,
		"transcript":  transcript,
	}
	if c.Duration != nil {
		rec["duration_ms"] = c.Duration.Milliseconds()
	}
	return rec, nil
}

// DecodeCall converts a stored (or legacy) record to a call.
func DecodeCall(rec Record) (*protocol.Call, error) {
	rec = Normalize(TableCalls, rec)
	c := &protocol.Call{
		ID:         rec.String("call_id"),
		CustomerID: rec.String("customer_id"),
		Contact:    rec.String("contact"),
		Status:     protocol.CallStatus(rec.String("status")),
		Direction:  protocol.CallDirection(rec.String("direction")),
	}
	if c.ID == "" {
		return nil, fmt.Errorf("store: decode call: missing call_id: %w", protocol.ErrMalformed)
	}
	if c.Status == "" {
		c.Status = protocol.CallInProgress
	}
	if c.Direction == "" {
		c.Direction = protocol.CallInbound
	}
	started, err := timeValue(rec["started_at"])
	if err != nil {
		return nil, fmt.Errorf("store: decode call %s: started_at: %w", c.ID, err)
	}
	c.StartedAt = started

	if ms, ok := intValue(rec["duration_ms"]); ok {
		d := time.Duration(ms) * time.Millisecond
		c.Duration = &d
	} else if secs, ok := intValue(rec["duration"]); ok {
		d := time.Duration(secs) * time.Second
		c.Duration = &d
	}
	// a completed call always carries a duration, nothing else does
	if c.Status != protocol.CallCompleted {
		c.Duration = nil
	} else if c.Duration == nil {
		var zero time.Duration
		c.Duration = &zero
	}

	c.Transcript, err = decodeTranscript(rec["transcript"])
	if err != nil {
		return nil, fmt.Errorf("store: decode call %s: transcript: %w", c.ID, err)
	}
	return c, nil
}

// EncodeTranscript serializes transcript entries for the transcript column.
func EncodeTranscript(entries []protocol.TranscriptEntry) (string, error) {
	if entries == nil {
		entries = []protocol.TranscriptEntry{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("store: encode transcript: %w", err)
	}
	return string(data), nil
}

type legacyTranscriptEntry struct {
	Timestamp json.RawMessage `json:"timestamp"`
	Speaker   string          `json:"speaker"`
	Text      string          `json:"text"`
}

func decodeTranscript(v any) ([]protocol.TranscriptEntry, error) {
	var raw []byte
	switch t := v.(type) {
	case nil:
		return []protocol.TranscriptEntry{}, nil
	case string:
		raw = []byte(t)
	case []byte:
		raw = t
	case []protocol.TranscriptEntry:
		return t, nil
	default:
		return nil, fmt.Errorf("unexpected %T: %w", v, protocol.ErrMalformed)
	}
	if len(raw) == 0 {
		return []protocol.TranscriptEntry{}, nil
	}

	var legacy []legacyTranscriptEntry
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrMalformed, err)
	}
	out := make([]protocol.TranscriptEntry, 0, len(legacy))
	for _, e := range legacy {
		var tsv any
		if len(e.Timestamp) > 0 {
			if err := json.Unmarshal(e.Timestamp, &tsv); err != nil {
				return nil, fmt.Errorf("%w: %v", protocol.ErrMalformed, err)
			}
		}
		ts, err := timeValue(tsv)
		if err != nil {
			return nil, err
		}
		speaker := protocol.Speaker(e.Speaker)
		if speaker == "ai" {
			speaker = protocol.SpeakerAssistant
		}
		out = append(out, protocol.TranscriptEntry{Timestamp: ts, Speaker: speaker, Text: e.Text})
	}
	return out, nil
}

// --- escalations ---

// EncodeEscalation converts an escalation to its stored record.
func EncodeEscalation(e *protocol.Escalation) Record {
	rec := Record{
		"escalation_id": e.ID,
		"question":      e.Question,
		"call_id":       e.CallID,
		"customer_id":   e.CustomerID,
		"contact":       e.Contact,
		"status":        string(e.Status),
		"created_at":    e.CreatedAt,
		"answer":        nil,
		"resolved_at":   nil,
	}
	if e.Answer != "" {
		rec["answer"] = e.Answer
	}
	if e.ResolvedAt != nil {
		rec["resolved_at"] = *e.ResolvedAt
	}
	return rec
}

// DecodeEscalation converts a stored (or legacy) record to an escalation.
func DecodeEscalation(rec Record) (*protocol.Escalation, error) {
	rec = Normalize(TableEscalations, rec)
	e := &protocol.Escalation{
		ID:         rec.String("escalation_id"),
		Question:   rec.String("question"),
		CallID:     rec.String("call_id"),
		CustomerID: rec.String("customer_id"),
		Contact:    rec.String("contact"),
		Status:     protocol.EscalationStatus(rec.String("status")),
		Answer:     rec.String("answer"),
	}
	if e.ID == "" {
		return nil, fmt.Errorf("store: decode escalation: missing escalation_id: %w", protocol.ErrMalformed)
	}
	if e.Status == "" {
		e.Status = protocol.EscalationPending
	}
	if !e.Status.Valid() {
		return nil, fmt.Errorf("store: decode escalation %s: status %q: %w", e.ID, e.Status, protocol.ErrMalformed)
	}
	created, err := timeValue(rec["created_at"])
	if err != nil {
		return nil, fmt.Errorf("store: decode escalation %s: created_at: %w", e.ID, err)
	}
	e.CreatedAt = created
	if v := rec["resolved_at"]; v != nil {
		ts, err := timeValue(v)
		if err != nil {
			return nil, fmt.Errorf("store: decode escalation %s: resolved_at: %w", e.ID, err)
		}
		e.ResolvedAt = &ts
	}
	return e, nil
}

// --- knowledge ---

// EncodeKnowledge converts a knowledge entry to its stored record.
func EncodeKnowledge(k *protocol.KnowledgeEntry) Record {
	rec := Record{
		"entry_id":             k.ID,
		"question":             k.Question,
		"answer":               k.Answer,
		"created_at":           k.CreatedAt,
		"confidence":           k.Confidence,
		"source_escalation_id": nil,
	}
	if k.SourceEscalationID != "" {
		rec["source_escalation_id"] = k.SourceEscalationID
	}
	return rec
}

// DecodeKnowledge converts a stored (or legacy) record to a knowledge entry.
func DecodeKnowledge(rec Record) (*protocol.KnowledgeEntry, error) {
	rec = Normalize(TableKnowledge, rec)
	k := &protocol.KnowledgeEntry{
		ID:                 rec.String("entry_id"),
		Question:           rec.String("question"),
		Answer:             rec.String("answer"),
		SourceEscalationID: rec.String("source_escalation_id"),
		Confidence:         1.0,
	}
	if k.ID == "" {
		return nil, fmt.Errorf("store: decode knowledge: missing entry_id: %w", protocol.ErrMalformed)
	}
	if f, ok := floatValue(rec["confidence"]); ok {
		k.Confidence = f
	}
	created, err := timeValue(rec["created_at"])
	if err != nil {
		return nil, fmt.Errorf("store: decode knowledge %s: created_at: %w", k.ID, err)
	}
	k.CreatedAt = created
	return k, nil
}

// --- scalar helpers ---

// timeValue accepts time.Time, unix seconds (int or float) or an RFC 3339 string.
func timeValue(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case *time.Time:
		if t != nil {
			return t.UTC(), nil
		}
	case int64:
		return time.Unix(t, 0).UTC(), nil
	case int:
		return time.Unix(int64(t), 0).UTC(), nil
	case float64:
		sec := int64(t)
		return time.Unix(sec, int64((t-float64(sec))*1e9)).UTC(), nil
	case string:
		if ts, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return ts.UTC(), nil
		}
		if n, err := strconv.ParseInt(t, 10, 64); err == nil {
			return time.Unix(n, 0).UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unusable time %v (%T): %w", v, v, protocol.ErrMalformed)
}

func intValue(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}

func floatValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}
