package session

import (
	"errors"
	"fmt"
)

var (
	ErrSessionClosed      = errors.New("session closed")
	ErrSessionNotFound    = errors.New("session not found")
	ErrNoRecordingSession = errors.New("no recording session")
	ErrRecordingExists    = errors.New("user already records in another session")
	ErrUserCapacity       = errors.New("user session limit reached")
	ErrConcurrencyLimit   = errors.New("browser concurrency limit reached")
	ErrNoPage             = errors.New("session has no open page")
)

// InitializationError reports that a browser could not be started within
// the launch attempt budget.
type InitializationError struct {
	Attempts int
	Err      error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("could not start browser after %d attempts: %v", e.Attempts, e.Err)
}

func (e *InitializationError) Unwrap() error { return e.Err }

// InterpretationError reports a failed replay together with its log.
type InterpretationError struct {
	Log []string
	Err error
}

func (e *InterpretationError) Error() string {
	return fmt.Sprintf("interpretation failed: %v", e.Err)
}

func (e *InterpretationError) Unwrap() error { return e.Err }
