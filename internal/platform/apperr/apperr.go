// Package apperr defines the error taxonomy shared by the scheduling core.
// Every error that crosses a service boundary carries a stable Kind so the
// HTTP layer can map it to a status code and envelope without string matching.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindCapacity
	KindState
	KindWindow
	KindTransient
	KindForbidden
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindCapacity:
		return "capacity"
	case KindState:
		return "state"
	case KindWindow:
		return "window"
	case KindTransient:
		return "transient"
	case KindForbidden:
		return "forbidden"
	default:
		return "internal"
	}
}

// Error is a typed business error. Code is the stable machine-readable name
// (e.g. "SlotExhausted"); Message is safe to show to the caller.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Code so that a sentinel compares equal to any error created
// from it with a different message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && t.Kind == e.Kind
}

// With returns a copy of the sentinel carrying a more specific message.
func (e *Error) With(format string, args ...interface{}) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns a copy of the sentinel wrapping cause.
func (e *Error) Wrap(cause error) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Message: e.Message, Err: cause}
}

var (
	ScheduleConflict = &Error{Kind: KindConflict, Code: "ScheduleConflict", Message: "an active schedule already exists for this doctor, date and section"}
	DuplicateBooking = &Error{Kind: KindConflict, Code: "DuplicateBooking", Message: "patient already holds a booking on this schedule"}

	SlotExhausted = &Error{Kind: KindCapacity, Code: "SlotExhausted", Message: "no remaining slots on this schedule"}
	QuotaExceeded = &Error{Kind: KindCapacity, Code: "QuotaExceeded", Message: "patient booking quota exceeded"}

	InvalidTransition = &Error{Kind: KindState, Code: "InvalidTransition", Message: "operation not allowed in the current state"}
	ScheduleSuspended = &Error{Kind: KindState, Code: "ScheduleSuspended", Message: "schedule is suspended"}

	CancellationWindowExpired = &Error{Kind: KindWindow, Code: "CancellationWindowExpired", Message: "cancellation window has closed"}

	Busy               = &Error{Kind: KindTransient, Code: "Busy", Message: "resource busy, retry later"}
	ConfigurationError = &Error{Kind: KindTransient, Code: "ConfigurationError", Message: "configuration lookup failed"}

	Forbidden = &Error{Kind: KindForbidden, Code: "Forbidden", Message: "caller may not act on this resource"}

	NotFound = &Error{Kind: KindNotFound, Code: "NotFound", Message: "resource not found"}
	Invalid  = &Error{Kind: KindValidation, Code: "ValidationError", Message: "invalid input"}
)

// Validation builds a ValidationError with the given message.
func Validation(format string, args ...interface{}) *Error {
	return Invalid.With(format, args...)
}

// NotFoundf builds a NotFound error naming the missing resource.
func NotFoundf(format string, args ...interface{}) *Error {
	return NotFound.With(format, args...)
}

// KindOf reports the Kind of err, KindInternal when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf reports the Code of err, "InternalError" when err is not an *Error.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "InternalError"
}
