package protocol

// Answer is the engine's reply to one customer question.
type Answer struct {
	Text      string `json:"answer"`
	NeedsHelp bool   `json:"needs_help"`
}
