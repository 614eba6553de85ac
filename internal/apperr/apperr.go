// Package apperr defines the error kinds shared by the REST layer and the
// realtime gateway.
package apperr

import (
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is.
var (
	ErrAuthentication = errors.New("authentication required")
	ErrValidation     = errors.New("validation failed")
	ErrNotFound       = errors.New("not found")
	ErrStore          = errors.New("store failure")
	ErrRateLimited    = errors.New("rate limited")
)

// Error carries a kind plus a message that is safe to show to clients.
// The wrapped cause, if any, is for logs only.
type Error struct {
	Kind    error
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is reports whether target is this error's kind.
func (e *Error) Is(target error) bool { return e.Kind == target }

func (e *Error) Unwrap() error { return e.Cause }

// Validation returns an ErrValidation error with the given client message.
func Validation(msg string) error {
	return &Error{Kind: ErrValidation, Message: msg}
}

// NotFound returns an ErrNotFound error with the given client message.
func NotFound(msg string) error {
	return &Error{Kind: ErrNotFound, Message: msg}
}

// Authentication returns an ErrAuthentication error.
func Authentication(msg string) error {
	return &Error{Kind: ErrAuthentication, Message: msg}
}

// RateLimited returns an ErrRateLimited error.
func RateLimited(msg string) error {
	return &Error{Kind: ErrRateLimited, Message: msg}
}

// Store wraps a persistence failure. The cause is not exposed to clients.
func Store(op string, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: ErrStore, Message: op + " failed", Cause: cause}
}

// Kind returns the kind of err, or ErrStore for anything unclassified.
func Kind(err error) error {
	for _, k := range []error{ErrAuthentication, ErrValidation, ErrNotFound, ErrRateLimited, ErrStore} {
		if errors.Is(err, k) {
			return k
		}
	}
	return ErrStore
}

// Message returns the client-safe text for err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal server error"
}

// Code returns the short wire name of err's kind, as sent in realtime
// error events.
func Code(err error) string {
	switch Kind(err) {
	case ErrAuthentication:
		return "authentication"
	case ErrValidation:
		return "validation"
	case ErrNotFound:
		return "not_found"
	case ErrRateLimited:
		return "rate_limited"
	}
	return "store"
}
