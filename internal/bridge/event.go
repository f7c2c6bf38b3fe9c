package bridge

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType identifies what happened on the transport.
type EventType int

const (
	CallReceived EventType = iota + 1
	CallEnded
	AudioTrack
	AudioChunk
)

func (t EventType) String() string {
	switch t {
	case CallReceived:
		return "call_received"
	case CallEnded:
		return "call_ended"
	case AudioTrack:
		return "audio_track"
	case AudioChunk:
		return "audio_chunk"
	}
	return fmt.Sprintf("event(%d)", int(t))
}

// Event is what the bridge hands to the engine.
type Event struct {
	Type       EventType
	CallID     string
	CustomerID string
	Phone      string
	TrackSID   string
	Duration   time.Duration // CallEnded only
	Audio      []byte        // AudioChunk only
}

// inbound is one JSON message from the transport.
type inbound struct {
	Type        string       `json:"type"`
	Room        string       `json:"room,omitempty"`
	Participant *participant `json:"participant,omitempty"`
	Track       *track       `json:"track,omitempty"`
	Data        []byte       `json:"data,omitempty"` // base64 PCM for audio_data
}

type participant struct {
	Identity string          `json:"identity"`
	SID      string          `json:"sid,omitempty"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

type track struct {
	SID  string `json:"sid"`
	Type string `json:"type"`
}

// sipMetadata is the participant metadata the SIP gateway attaches to callers.
type sipMetadata struct {
	Type   string `json:"type"`
	CallID string `json:"callId"`
	From   string `json:"from"`
}

// parseMetadata decodes participant metadata, which arrives either as a JSON
// object or as a string holding one. ok is false when it is absent or unreadable.
func parseMetadata(raw json.RawMessage) (md sipMetadata, ok bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return md, false
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil || s == "" {
			return md, false
		}
		raw = json.RawMessage(s)
	}
	if err := json.Unmarshal(raw, &md); err != nil {
		return sipMetadata{}, false
	}
	return md, true
}

type presence struct {
	Type string `json:"type"`
	Role string `json:"role"`
}

type outboundAudio struct {
	Type        string `json:"type"`
	CallID      string `json:"callId"`
	Participant string `json:"participant"`
	Data        []byte `json:"data"`
}
