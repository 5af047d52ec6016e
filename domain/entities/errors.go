package entities

import (
	"errors"
	"fmt"
)

// ErrorKind is the error classification surfaced to session consumers
type ErrorKind string

const (
	ErrorKindNotEnoughPermissions ErrorKind = "NOT_ENOUGH_PERMISSIONS"
	// ErrorKindNotEnoughFunds is reserved for a broker-signaled quota or billing
	// failure. The HTTP broker never produces it.
	ErrorKindNotEnoughFunds ErrorKind = "NOT_ENOUGH_FUNDS"
	ErrorKindInternal       ErrorKind = "INTERNAL"
)

var (
	// ErrPermissionDenied is returned by a Microphone when the host refuses capture access
	ErrPermissionDenied = errors.New("microphone permission denied")
	// ErrNotEnoughFunds may be wrapped by a CredentialBroker to signal exhausted quota
	ErrNotEnoughFunds = errors.New("not enough funds")
	// ErrSessionAlreadyStarted is returned when Start is called on a session that already ran
	ErrSessionAlreadyStarted = errors.New("session already started")
)

// SessionError attaches an ErrorKind to an underlying cause
type SessionError struct {
	Kind ErrorKind
	Err  error
}

// NewSessionError wraps err with the given kind
func NewSessionError(kind ErrorKind, err error) *SessionError {
	return &SessionError{Kind: kind, Err: err}
}

func (e *SessionError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// KindOf classifies err. An explicit SessionError wins, then the known
// sentinels; everything else is INTERNAL.
func KindOf(err error) ErrorKind {
	var sessionErr *SessionError
	if errors.As(err, &sessionErr) {
		return sessionErr.Kind
	}

	switch {
	case errors.Is(err, ErrPermissionDenied):
		return ErrorKindNotEnoughPermissions
	case errors.Is(err, ErrNotEnoughFunds):
		return ErrorKindNotEnoughFunds
	default:
		return ErrorKindInternal
	}
}
