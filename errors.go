package authx

import (
	"errors"
	"fmt"
)

// ErrEmptyCredentials reports a SASL credentials payload with no content at
// all, as opposed to a payload that decodes but lacks a required field. It is
// always wrapped in a *DecodeError; test with errors.Is.
var ErrEmptyCredentials = errors.New("credentials were not provided")

// UsageError reports an invalid use of the API, such as constructing a bind
// request without a required field. It is returned before any encoding or
// network activity takes place.
type UsageError struct {
	Message string
}

func (e *UsageError) Error() string {
	return "authx: " + e.Message
}

func usageErrorf(format string, args ...any) *UsageError {
	return &UsageError{Message: fmt.Sprintf(format, args...)}
}

// DecodeError reports malformed protocol data: credentials, extended
// operation values or control values that do not match the expected BER
// schema. No partially decoded value accompanies a DecodeError.
type DecodeError struct {
	// Message describes what was malformed, naming the offending field or
	// tag where one is known.
	Message string
	// Err is the underlying cause, if any.
	Err error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return "authx: " + e.Message + ": " + e.Err.Error()
	}
	return "authx: " + e.Message
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func decodeErrorf(format string, args ...any) *DecodeError {
	return &DecodeError{Message: fmt.Sprintf(format, args...)}
}

func decodeErrorWrap(err error, format string, args ...any) *DecodeError {
	return &DecodeError{Message: fmt.Sprintf(format, args...), Err: err}
}

// ConnectionError reports that an operation could not be sent or its response
// could not be read because the underlying connection failed or was closed.
type ConnectionError struct {
	// Op is the operation that was in flight, such as "bind" or "extended".
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("authx: connection failed during %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// NewConnectionError wraps a transport failure observed during op.
func NewConnectionError(op string, err error) *ConnectionError {
	return &ConnectionError{Op: op, Err: err}
}
