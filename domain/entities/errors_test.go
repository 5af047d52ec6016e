package entities

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"plain error", errors.New("boom"), ErrorKindInternal},
		{"permission sentinel", fmt.Errorf("open: %w", ErrPermissionDenied), ErrorKindNotEnoughPermissions},
		{"funds sentinel", fmt.Errorf("broker: %w", ErrNotEnoughFunds), ErrorKindNotEnoughFunds},
		{"explicit kind", NewSessionError(ErrorKindNotEnoughFunds, errors.New("quota")), ErrorKindNotEnoughFunds},
		{"wrapped session error", fmt.Errorf("wrap: %w", NewSessionError(ErrorKindInternal, ErrPermissionDenied)), ErrorKindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestSessionErrorUnwrap(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := NewSessionError(ErrorKindInternal, cause)

	if !errors.Is(err, cause) {
		t.Error("SessionError should unwrap to its cause")
	}
	if err.Error() != "INTERNAL: dial tcp: refused" {
		t.Errorf("unexpected message %q", err.Error())
	}
}
