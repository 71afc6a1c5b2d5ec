package rpc

import "fmt"

// Error reports a remote invocation failure: a transport, marshaling, or
// dispatch problem, as opposed to a domain error raised by the invoked
// method itself. Domain errors travel through the wire protocol
// unchanged; everything else surfaces as an *Error.
type Error struct {
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf builds an invocation error from a format string.
func Errorf(format string, args ...any) *Error {
	return &Error{Message: fmt.Sprintf(format, args...)}
}

// WrapError builds an invocation error around an underlying cause.
func WrapError(message string, err error) *Error {
	return &Error{Message: message, Err: err}
}

// IsError reports whether err is a remote invocation failure.
func IsError(err error) bool {
	_, ok := err.(*Error)
	return ok
}
