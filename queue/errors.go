package queue

import (
	"errors"
	"fmt"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Error is a chainable sentinel error, mirroring the pg package's error
// type so callers can errors.Is against either package consistently.
type Error struct {
	sentinel error
	msg      string
}

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

var (
	ErrBadParameter   = &Error{sentinel: errors.New("bad parameter")}
	ErrNotFound       = &Error{sentinel: errors.New("not found")}
	ErrInProgress     = &Error{sentinel: errors.New("in progress")}
	ErrSuspended      = &Error{sentinel: errors.New("queue suspended")}
	ErrNoQueue        = &Error{sentinel: errors.New("no queue process running")}
	ErrNoReply        = &Error{sentinel: errors.New("job was not created with a reply address")}
	ErrWrongCaller    = &Error{sentinel: errors.New("yield called from a different caller than enqueued the job")}
	ErrInternalError  = &Error{sentinel: errors.New("internal error")}
	ErrNotImplemented = &Error{sentinel: errors.New("not implemented")}
)

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

func (e *Error) With(msg string) *Error {
	return &Error{sentinel: e.sentinel, msg: msg}
}

func (e *Error) Withf(format string, args ...any) *Error {
	return &Error{sentinel: e.sentinel, msg: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	if e.msg == "" {
		return e.sentinel.Error()
	}
	return e.sentinel.Error() + ": " + e.msg
}

func (e *Error) Unwrap() error {
	return e.sentinel
}

func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return t.sentinel == e.sentinel
	}
	return false
}
