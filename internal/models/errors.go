package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures on the collaborator boundary. Translation to
// transport status codes is the caller's responsibility.
type ErrorKind string

const (
	ErrNotFound                 ErrorKind = "not_found"
	ErrAccessDenied             ErrorKind = "access_denied"
	ErrInvalidInput             ErrorKind = "invalid_input"
	ErrWorkspaceCreateFailed    ErrorKind = "workspace_create_failed"
	ErrStagingMaterializeFailed ErrorKind = "staging_materialize_failed"
	ErrGitFailed                ErrorKind = "git_failed"
	ErrCidxFailed               ErrorKind = "cidx_failed"
	ErrExecutionFailed          ErrorKind = "execution_failed"
	ErrTimeout                  ErrorKind = "timeout"
	ErrCancelled                ErrorKind = "cancelled"
	ErrInternal                 ErrorKind = "internal"
)

// Error carries an ErrorKind alongside the wrapped cause.
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

// NewError creates a classified error.
func NewError(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// WrapError classifies an underlying error.
func WrapError(kind ErrorKind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the ErrorKind from err, or ErrInternal when unclassified.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}
