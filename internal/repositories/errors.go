package repositories

import (
	"errors"
	"fmt"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// ErrSkipWrite is returned by a Mutate callback to abort without writing.
var ErrSkipWrite = errors.New("repositories: skip write")

// IsNotFound reports whether err carries not-found semantics.
func IsNotFound(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

// IsConflict reports whether err carries conflict semantics.
func IsConflict(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

// IsUnavailable reports whether err carries transient-outage semantics.
func IsUnavailable(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsUnavailable()
}

type errorKind int

const (
	kindNotFound errorKind = iota + 1
	kindConflict
	kindUnavailable
)

// Error is the RepositoryError used by the in-memory and relational stores.
type Error struct {
	Op   string
	Err  error
	kind errorKind
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error       { return e.Err }
func (e *Error) IsNotFound() bool    { return e.kind == kindNotFound }
func (e *Error) IsConflict() bool    { return e.kind == kindConflict }
func (e *Error) IsUnavailable() bool { return e.kind == kindUnavailable }

// NewNotFound builds a not-found error for op.
func NewNotFound(op, what string) error {
	return &Error{Op: op, Err: fmt.Errorf("%s not found", what), kind: kindNotFound}
}

// NewConflict builds a conflict error for op.
func NewConflict(op, what string) error {
	return &Error{Op: op, Err: fmt.Errorf("%s already exists", what), kind: kindConflict}
}

// NewUnavailable wraps a transient backend failure.
func NewUnavailable(op string, err error) error {
	return &Error{Op: op, Err: err, kind: kindUnavailable}
}

// ErrVoucherExhausted is returned when reserving or consuming a voucher would exceed its total
// or per-customer usage limit.
var ErrVoucherExhausted = errors.New("repositories: voucher usage limit reached")
