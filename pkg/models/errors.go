package models

import (
	"errors"
	"fmt"
)

// ErrorKind is the stable machine-readable error classification surfaced to
// clients. Internal field names never leak through these.
type ErrorKind string

const (
	ErrInputInvalid        ErrorKind = "INPUT_INVALID"
	ErrConfigInvalid       ErrorKind = "CONFIG_INVALID"
	ErrUpstreamUnavailable ErrorKind = "UPSTREAM_UNAVAILABLE"
	ErrUpstreamTimeout     ErrorKind = "UPSTREAM_TIMEOUT"
	ErrDimensionMismatch   ErrorKind = "DIMENSION_MISMATCH"
	ErrSessionNotFound     ErrorKind = "SESSION_NOT_FOUND"
	ErrInternalInvariant   ErrorKind = "INTERNAL_INVARIANT_VIOLATED"
)

type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func WrapError(kind ErrorKind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the error kind from anywhere in the wrap chain.
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

func IsKind(err error, kind ErrorKind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
