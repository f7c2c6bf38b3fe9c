package protocol

import "time"

// CallStatus represents the lifecycle state of a phone call.
type CallStatus string

const (
	CallInProgress CallStatus = "in_progress"
	CallCompleted  CallStatus = "completed"
)

// CallDirection tells whether the customer dialed in or we dialed out.
type CallDirection string

const (
	CallInbound  CallDirection = "inbound"
	CallOutbound CallDirection = "outbound"
)

// Speaker identifies who produced a transcript line.
type Speaker string

const (
	SpeakerCustomer  Speaker = "customer"
	SpeakerAssistant Speaker = "assistant"
)

// Valid reports whether s is a known speaker.
func (s Speaker) Valid() bool {
	return s == SpeakerCustomer || s == SpeakerAssistant
}

// TranscriptEntry is one utterance in a call.
type TranscriptEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
}

// Call is one phone conversation tracked end to end.
// Duration is non-nil only once Status is CallCompleted. It is stored
// with millisecond precision.
type Call struct {
	ID         string            `json:"call_id"`
	CustomerID string            `json:"customer_id"`
	Contact    string            `json:"contact"`
	StartedAt  time.Time         `json:"started_at"`
	Status     CallStatus        `json:"status"`
	Direction  CallDirection     `json:"direction"`
	Duration   *time.Duration    `json:"duration,omitempty"`
	Transcript []TranscriptEntry `json:"transcript"`
}

// Active reports whether the call is still in progress.
func (c *Call) Active() bool {
	return c.Status == CallInProgress
}
