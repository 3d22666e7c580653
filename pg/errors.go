package pg

import (
	"errors"
	"fmt"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Error is a chainable sentinel error. Withf/With attach a message without
// losing the sentinel for errors.Is comparisons.
type Error struct {
	sentinel error
	msg      string
}

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

var (
	ErrNotFound       = &Error{sentinel: errors.New("not found")}
	ErrBadParameter   = &Error{sentinel: errors.New("bad parameter")}
	ErrInternalError  = &Error{sentinel: errors.New("internal error")}
	ErrDuplicateEntry = &Error{sentinel: errors.New("duplicate entry")}
	ErrConflict       = &Error{sentinel: errors.New("conflict")}
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

// pgerror passes driver errors through unchanged; it does not map them
// onto the sentinels above.
func pgerror(err error) error {
	if err == nil {
		return nil
	}
	return err
}
