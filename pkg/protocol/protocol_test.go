package protocol

import "testing"

func TestEscalationStatus(t *testing.T) {
	tests := []struct {
		status   EscalationStatus
		valid    bool
		terminal bool
	}{
		{EscalationPending, true, false},
		{EscalationResolved, true, true},
		{EscalationUnresolved, true, true},
		{"expired", false, false},
		{"", false, false},
	}
	for _, tt := range tests {
		if got := tt.status.Valid(); got != tt.valid {
			t.Errorf("%q.Valid() = %v, want %v", tt.status, got, tt.valid)
		}
		if got := tt.status.Terminal(); got != tt.terminal {
			t.Errorf("%q.Terminal() = %v, want %v", tt.status, got, tt.terminal)
		}
	}
}

func TestSpeakerValid(t *testing.T) {
	if !SpeakerCustomer.Valid() || !SpeakerAssistant.Valid() {
		t.Error("known speakers should be valid")
	}
	if Speaker("supervisor").Valid() {
		t.Error("supervisor is not a transcript speaker")
	}
}

func TestCallActive(t *testing.T) {
	c := &Call{Status: CallInProgress}
	if !c.Active() {
		t.Error("in-progress call should be active")
	}
	c.Status = CallCompleted
	if c.Active() {
		t.Error("completed call should not be active")
	}
}
