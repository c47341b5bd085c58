package common

import (
	"errors"
	"fmt"
)

// ValidationError reports malformed caller input. It is returned before any
// network I/O happens.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Msg
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Msg)
}

// RejectedError means the transport succeeded but the exchange declined the
// request. It carries the exchange's message and the HTTP status.
type RejectedError struct {
	HTTPStatus int
	Code       int
	Msg        string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("exchange rejected (http %d, code %d): %s", e.HTTPStatus, e.Code, e.Msg)
}

// TransportError wraps network, timeout, and non-JSON response failures.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// PersistenceError marks a durable-store write that failed after a successful
// exchange call. It is logged and swallowed: the exchange-side effect is the
// source of truth.
type PersistenceError struct {
	Table string
	Err   error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Table, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsRejected reports whether err is a RejectedError.
func IsRejected(err error) bool {
	var r *RejectedError
	return errors.As(err, &r)
}

// IsTransport reports whether err is a TransportError.
func IsTransport(err error) bool {
	var t *TransportError
	return errors.As(err, &t)
}
