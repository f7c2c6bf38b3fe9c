package protocol

import "time"

// EscalationStatus represents the lifecycle state of an escalation.
type EscalationStatus string

const (
	EscalationPending    EscalationStatus = "pending"
	EscalationResolved   EscalationStatus = "resolved"
	EscalationUnresolved EscalationStatus = "unresolved"
)

// Valid reports whether s is a known status.
func (s EscalationStatus) Valid() bool {
	switch s {
	case EscalationPending, EscalationResolved, EscalationUnresolved:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are allowed out of s.
func (s EscalationStatus) Terminal() bool {
	return s == EscalationResolved || s == EscalationUnresolved
}

// Escalation is a customer question the assistant could not answer,
// waiting on a supervisor. Answer and ResolvedAt are set only when resolved.
type Escalation struct {
	ID         string           `json:"escalation_id"`
	Question   string           `json:"question"`
	CallID     string           `json:"call_id"`
	CustomerID string           `json:"customer_id"`
	Contact    string           `json:"contact"`
	Status     EscalationStatus `json:"status"`
	CreatedAt  time.Time        `json:"created_at"`
	Answer     string           `json:"answer,omitempty"`
	ResolvedAt *time.Time       `json:"resolved_at,omitempty"`
}
