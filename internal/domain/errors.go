package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned when a session id has no stored record.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionIncompatible means the stored session cannot be used by this
	// version of the service. Callers must discard it and start over.
	ErrSessionIncompatible = errors.New("session incompatible")

	// ErrInvalidStage is returned for empty or unknown stages.
	ErrInvalidStage = errors.New("invalid stage")
)

// IncompatibleError describes why a session was rejected.
type IncompatibleError struct {
	SessionID string
	Reason    string
}

func (e *IncompatibleError) Error() string {
	return fmt.Sprintf("session %s incompatible: %s", e.SessionID, e.Reason)
}

func (e *IncompatibleError) Unwrap() error {
	return ErrSessionIncompatible
}
