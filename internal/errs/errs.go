// Package errs defines the error taxonomy shared across the engine.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for retry and HTTP-mapping decisions
type Kind int

const (
	// KindSystem is an unexpected internal failure; campaigns hitting one
	// are marked failed and their lock released
	KindSystem Kind = iota
	// KindValidation is bad input, never retried
	KindValidation
	// KindConflict is a held lock or an illegal state transition
	KindConflict
	// KindExternal is a verification/send dependency failure, retried per
	// policy then degraded
	KindExternal
	// KindRateLimit is retryable with backoff
	KindRateLimit
	// KindReputationRisk forces a pause and is never retried
	KindReputationRisk
)

// Error carries a kind alongside a wrapped cause
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf creates a classified error with formatting
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf returns the kind of err, or KindSystem if it is unclassified
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindSystem
}

// IsConflict reports whether err is a conflict (lock held, bad transition)
func IsConflict(err error) bool {
	return err != nil && KindOf(err) == KindConflict
}

// IsValidation reports whether err is a validation failure
func IsValidation(err error) bool {
	return err != nil && KindOf(err) == KindValidation
}
