// Package apperrors defines the failure kinds shared by the report pipeline so
// callers can branch on what went wrong instead of matching message text.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

const (
	KindStorage     Kind = "storage"
	KindPersistence Kind = "persistence"
	KindValidation  Kind = "validation"
	KindGateway     Kind = "gateway"
	KindNotFound    Kind = "not-found"
	KindConflict    Kind = "conflict"
	KindUnknown     Kind = "unknown"
)

// Error wraps an underlying error with its kind and the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err with kind and op. A nil err yields nil.
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf builds an Error from a formatted message.
func Newf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func Storage(op string, err error) error     { return New(KindStorage, op, err) }
func Persistence(op string, err error) error { return New(KindPersistence, op, err) }
func Validation(op string, err error) error  { return New(KindValidation, op, err) }
func Gateway(op string, err error) error     { return New(KindGateway, op, err) }
func NotFound(op string, err error) error    { return New(KindNotFound, op, err) }

// KindOf returns the kind of the outermost *Error in err's chain, or
// KindUnknown when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
