// Package errors defines the error taxonomy shared by the clipvault store,
// search engine and blob layer. Callers classify failures with Is and
// decide on retries with Retryable.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind identifies a class of store failure.
type Kind string

const (
	KindNotOpen             Kind = "NOT_OPEN"
	KindNotFound            Kind = "NOT_FOUND"
	KindQueryFailed         Kind = "QUERY_FAILED"
	KindInsertFailed        Kind = "INSERT_FAILED"
	KindUpdateFailed        Kind = "UPDATE_FAILED"
	KindDeleteFailed        Kind = "DELETE_FAILED"
	KindFileOperationFailed Kind = "FILE_OPERATION_FAILED"
	KindInvalidQuery        Kind = "INVALID_QUERY"
	KindTimeout             Kind = "TIMEOUT"
)

// Error is a classified store error. Op names the failing operation and Err
// carries the underlying engine or filesystem error, if any.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Op, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

func wrap(kind Kind, op string, err error) *Error {
	e := &Error{Kind: kind, Op: op, Err: err}
	if err != nil {
		e.Message = err.Error()
	}
	return e
}

// NewNotOpen reports an operation attempted before the store was opened or after it was closed.
func NewNotOpen(op string) *Error {
	return &Error{Kind: KindNotOpen, Op: op, Message: "store is not open"}
}

// NewNotFound reports a missing item.
func NewNotFound(id int64) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("item not found: %d", id)}
}

// NewQueryFailed wraps a failed read.
func NewQueryFailed(op string, err error) *Error {
	return wrap(KindQueryFailed, op, err)
}

// NewInsertFailed wraps a failed insert.
func NewInsertFailed(op string, err error) *Error {
	return wrap(KindInsertFailed, op, err)
}

// NewUpdateFailed wraps a failed update.
func NewUpdateFailed(op string, err error) *Error {
	return wrap(KindUpdateFailed, op, err)
}

// NewDeleteFailed wraps a failed delete.
func NewDeleteFailed(op string, err error) *Error {
	return wrap(KindDeleteFailed, op, err)
}

// NewFileOperationFailed wraps a blob read, write or path validation failure.
func NewFileOperationFailed(op string, err error) *Error {
	return wrap(KindFileOperationFailed, op, err)
}

// NewInvalidQuery reports malformed user input such as a bad regex.
func NewInvalidQuery(msg string) *Error {
	return &Error{Kind: KindInvalidQuery, Message: msg}
}

// NewTimeout reports a search that exceeded its budget.
func NewTimeout(op string, err error) *Error {
	e := wrap(KindTimeout, op, err)
	if e.Message == "" {
		e.Message = "operation timed out"
	}
	return e
}

// Is checks if err (or anything it wraps) is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf returns the kind of err, or "" when err is not classified.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Retryable reports whether the caller may retry the failed operation as-is.
func Retryable(err error) bool {
	return Is(err, KindTimeout)
}
