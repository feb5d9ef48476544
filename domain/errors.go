package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures for propagation and HTTP mapping.
type ErrorKind string

const (
	// KindAuthentication: bad or missing webhook signature. Rejected, never retried.
	KindAuthentication ErrorKind = "AUTHENTICATION"
	// KindValidation: malformed payload or missing required fields. Rejected with 400.
	KindValidation ErrorKind = "VALIDATION"
	// KindUpstream: provider API failure. The cycle aborts; the next event retries.
	KindUpstream ErrorKind = "UPSTREAM"
	// KindConflict: subscription already exists upstream. Treated as success.
	KindConflict ErrorKind = "CONFLICT"
)

var (
	ErrChannelNotFound = errors.New("channel not found")
	ErrDuplicateEvent  = errors.New("duplicate event")
)

type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewError wraps err with a kind and operation name.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
