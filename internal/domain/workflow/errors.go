package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is returned when a state transition is not allowed
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrRoleNotPermitted is returned when the transition exists but not for the acting role
	ErrRoleNotPermitted = errors.New("role not permitted for transition")

	// ErrGuardFailed is returned when a guard condition fails
	ErrGuardFailed = errors.New("guard condition failed")
)

// Error kinds surfaced to callers of the lifecycle. Every kind is a client error.
var (
	ErrValidation   = errors.New("validation error")
	ErrUnauthorized = errors.New("authorization error")
	ErrInvalidState = errors.New("invalid state")
	ErrNotFound     = errors.New("not found")
)

// Error is a classified lifecycle failure. errors.Is matches it against its Kind.
type Error struct {
	Kind    error
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// Is reports whether target is the error's kind
func (e *Error) Is(target error) bool {
	return e.Kind == target
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation creates a validation failure
func Validation(op, format string, args ...interface{}) *Error {
	return &Error{Kind: ErrValidation, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Unauthorized creates an authorization failure
func Unauthorized(op, format string, args ...interface{}) *Error {
	return &Error{Kind: ErrUnauthorized, Op: op, Message: fmt.Sprintf(format, args...)}
}

// InvalidState creates an invalid-state failure
func InvalidState(op, format string, args ...interface{}) *Error {
	return &Error{Kind: ErrInvalidState, Op: op, Message: fmt.Sprintf(format, args...)}
}

// NotFound creates a not-found failure
func NotFound(op, format string, args ...interface{}) *Error {
	return &Error{Kind: ErrNotFound, Op: op, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind sentinel of err, or nil for unclassified errors
func KindOf(err error) error {
	for _, kind := range []error{ErrValidation, ErrUnauthorized, ErrInvalidState, ErrNotFound} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

func invalidStateValue(v string) error {
	return &Error{Kind: ErrInvalidState, Message: fmt.Sprintf("unknown state %q", v)}
}
