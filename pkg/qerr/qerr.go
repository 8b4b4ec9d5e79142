// Package qerr defines the error taxonomy shared across quill packages.
package qerr

import (
	"errors"
	"fmt"
)

// Code represents a stable error category that callers can switch on.
type Code string

const (
	CodeUnknown Code = "unknown"

	// CodeInvalidReference marks a malformed project reference (empty URI,
	// directory traversal in a subdirectory segment). Never retried.
	CodeInvalidReference Code = "invalid_reference"

	// CodeExecution marks fatal setup-time conditions: unresolvable version,
	// missing subdirectory, missing environment manager, bad parameters,
	// malformed backend configuration. Never retried.
	CodeExecution Code = "execution"

	// CodeNetwork marks a transient network condition inside the HTTP retry
	// path. Escalated to CodeExecution once the retry budget is exhausted.
	CodeNetwork Code = "network"
)

// Error is a simple value type that carries a Code plus the underlying error.
type Error struct {
	Code Code
	err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.err == nil {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// New wraps an error with the provided code. If err is nil a nil is returned.
func New(code Code, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, err: err}
}

// Newf builds a coded error from a format string.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, err: fmt.Errorf(format, args...)}
}

// InvalidReferencef builds a CodeInvalidReference error.
func InvalidReferencef(format string, args ...any) error {
	return Newf(CodeInvalidReference, format, args...)
}

// Executionf builds a CodeExecution error.
func Executionf(format string, args ...any) error {
	return Newf(CodeExecution, format, args...)
}

// IsCode helps callers compare codes without type assertions. It walks the
// wrap chain so callers may annotate coded errors with fmt.Errorf("%w").
func IsCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
