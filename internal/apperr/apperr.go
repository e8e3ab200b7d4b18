// Package apperr defines the error kinds shared by every gameweaver component.
//
// Components wrap one of the sentinel errors below with a human-readable
// description using [New] or fmt.Errorf with %w. The boundary converts any
// error into a client-facing message with [Message] and classifies it with
// errors.Is.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrConflict is returned when an operation is invalid in the current
	// state, such as starting a battle while one is already active.
	ErrConflict = errors.New("conflict")

	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation is returned for malformed input.
	ErrValidation = errors.New("validation failed")

	// ErrNotReady is returned when a required background context is not
	// available yet.
	ErrNotReady = errors.New("not ready")

	// ErrInactiveBattle is returned when a battle mutation is attempted while
	// no battle is active.
	ErrInactiveBattle = errors.New("no active battle")

	// ErrExternalService is returned when the text-generation, voice or
	// persistence collaborator fails.
	ErrExternalService = errors.New("external service failed")

	// ErrAlreadyRunning is returned when a singleton task is started twice.
	ErrAlreadyRunning = errors.New("already running")
)

// Error pairs a sentinel kind with a user-facing message.
type Error struct {
	Kind error
	Msg  string
	Err  error
}

// New returns an [*Error] of the given kind. The message is what clients see.
func New(kind error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap is like [New] but also records the underlying cause.
func Wrap(kind error, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: cause}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// Message returns the text shown to clients for err. Errors created with
// [New] or [Wrap] anywhere in the chain contribute their message only, so
// package prefixes and low-level causes stay in the logs.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return err.Error()
}

// Kind reports which sentinel err belongs to, or nil when none matches.
func Kind(err error) error {
	for _, k := range []error{
		ErrConflict, ErrNotFound, ErrValidation, ErrNotReady,
		ErrInactiveBattle, ErrExternalService, ErrAlreadyRunning,
	} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
