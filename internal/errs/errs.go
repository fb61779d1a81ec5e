// Package errs defines the tagged error kinds shared by the store,
// repositories, lifecycle engine and their HTTP/CLI adapters (§7).
package errs

import (
	"errors"
	"fmt"
)

// Kind is one of the five error kinds the spec defines. It is independent
// of any transport; internal/api and cmd/sparkq each translate it on their
// own terms.
type Kind int

const (
	// Internal is the zero value so an unwrapped error never accidentally
	// reads as a more specific, better-trusted kind.
	Internal Kind = iota
	Validation
	NotFound
	Conflict
	Busy
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "VALIDATION"
	case NotFound:
		return "NOT_FOUND"
	case Conflict:
		return "CONFLICT"
	case Busy:
		return "BUSY"
	default:
		return "INTERNAL"
	}
}

// Error carries a Kind, a machine-readable Code, a human Message and an
// optional wrapped cause. Modeled on dmitrymomot/forge's HTTPError, minus
// the HTTP-specific fields, so the CLI can map the same value to an exit
// code instead of a status code.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

func newf(kind Kind, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches Kind/Code to an existing error without discarding it.
func Wrap(kind Kind, code string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Code: code, Message: err.Error(), Err: err}
}

func Validationf(code, format string, args ...any) *Error { return newf(Validation, code, format, args...) }
func NotFoundf(code, format string, args ...any) *Error   { return newf(NotFound, code, format, args...) }
func Conflictf(code, format string, args ...any) *Error   { return newf(Conflict, code, format, args...) }
func Busyf(code, format string, args ...any) *Error       { return newf(Busy, code, format, args...) }
func Internalf(code, format string, args ...any) *Error   { return newf(Internal, code, format, args...) }

// KindOf extracts the Kind of err, defaulting to Internal for anything that
// isn't an *Error (so an un-tagged error never masquerades as retryable or
// user-caused).
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}
