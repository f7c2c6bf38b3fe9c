package protocol

import "time"

// KnowledgeEntry is a question/answer pair learned from a supervisor.
type KnowledgeEntry struct {
	ID                 string    `json:"entry_id"`
	Question           string    `json:"question"`
	Answer             string    `json:"answer"`
	CreatedAt          time.Time `json:"created_at"`
	Confidence         float64   `json:"confidence"`
	SourceEscalationID string    `json:"source_escalation_id,omitempty"`
}
