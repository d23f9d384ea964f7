package vdb

import (
	"errors"
	"fmt"
)

// ErrorKind classifies errors returned by the library so callers can react
// to a category of failure rather than to a message.
type ErrorKind uint8

const (
	UnknownError ErrorKind = iota
	ValueError
	TypeError
	LookupError
	IoError
	RuntimeError
	NotImplementedError
)

func (k ErrorKind) String() string {
	switch k {
	case ValueError:
		return "ValueError"
	case TypeError:
		return "TypeError"
	case LookupError:
		return "LookupError"
	case IoError:
		return "IoError"
	case RuntimeError:
		return "RuntimeError"
	case NotImplementedError:
		return "NotImplementedError"
	default:
		return "UnknownError"
	}
}

// Error is a classified error with an optional wrapped cause.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError returns an error of the given kind with a formatted message.
func NewError(kind ErrorKind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// WrapError classifies a cause.  A nil cause returns nil.
func WrapError(kind ErrorKind, err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return UnknownError
}

// IsKind returns true if err or any error it wraps is of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// Panicf logs at Critical level and panics with a RuntimeError.  Used for
// broken internal invariants.
func Panicf(format string, args ...interface{}) {
	err := NewError(RuntimeError, format, args...)
	Criticalf("%v\n", err)
	panic(err)
}
