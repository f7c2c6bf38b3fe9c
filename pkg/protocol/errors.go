package protocol

import "errors"

var (
	// ErrNotFound means the call, escalation or entry does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable means the record store could not be reached.
	ErrUnavailable = errors.New("store unavailable")
	// ErrMalformed means the input could not be used as given.
	ErrMalformed = errors.New("malformed input")
	// ErrConflict means the requested transition is not allowed from the current state.
	ErrConflict = errors.New("conflict")
)
