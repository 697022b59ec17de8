package domain

import (
	"errors"
	"fmt"
)

// Error kinds returned by the session core. Wrap with fmt.Errorf and test
// with errors.Is.
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrInvalidState      = errors.New("invalid state")
	ErrConflict          = errors.New("conflict")
	ErrUnavailable       = errors.New("unavailable")
)

// InvalidInput wraps ErrInvalidInput with a message.
func InvalidInput(msg string) error {
	return fmt.Errorf("%s: %w", msg, ErrInvalidInput)
}

// Kind returns the sentinel error kind of err, or nil if err matches none.
func Kind(err error) error {
	for _, k := range []error{ErrNotFound, ErrInvalidInput, ErrInvalidTransition, ErrInvalidState, ErrConflict, ErrUnavailable} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
