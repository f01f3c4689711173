package diagnostics

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error is a coded, stack-carrying pass-failure value built on
// github.com/pkg/errors. There is no source position in this domain, so
// the code plus an optional underlying cause is the whole of it.
type Error struct {
	Code    string
	Message string
	cause   error
}

// New builds an Error with no underlying cause, capturing a stack trace at
// the call site via errors.New so a Failure result can be logged with
// context about where in the pass it originated.
func New(code, message string) *Error {
	return &Error{Code: code, Message: message, cause: errors.New(message)}
}

// Wrap attaches code and message to an existing error. errors.Wrap records
// a new stack trace at this call site; the original error, with any stack
// it already carried, stays reachable as the wrapped cause.
func Wrap(err error, code, message string) *Error {
	return &Error{Code: code, Message: message, cause: errors.Wrap(err, message)}
}

func (e *Error) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause to errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.cause }

// StackTrace delegates to the wrapped pkg/errors cause, if it carries one,
// for callers that want to print it.
func (e *Error) StackTrace() errors.StackTrace {
	type tracer interface{ StackTrace() errors.StackTrace }
	if t, ok := e.cause.(tracer); ok {
		return t.StackTrace()
	}
	return nil
}
