// Package errors defines the categorized error type shared by the OCI
// directory packages.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCategory classifies a failure by how a caller is expected to react.
type ErrorCategory string

const (
	// CategoryFormat covers malformed digests, unsupported algorithms,
	// unexpected JSON and index shape violations.
	CategoryFormat ErrorCategory = "format"
	// CategoryIntegrity is a blob whose content does not match its name.
	CategoryIntegrity ErrorCategory = "integrity"
	// CategoryIO wraps failures of the underlying filesystem.
	CategoryIO ErrorCategory = "io"
	// CategoryMisuse is a programming error such as writing to a completed writer.
	CategoryMisuse ErrorCategory = "misuse"
)

// Sentinels for use with errors.Is.
var (
	ErrFormat    = &Error{Category: CategoryFormat}
	ErrIntegrity = &Error{Category: CategoryIntegrity}
	ErrIO        = &Error{Category: CategoryIO}
	ErrMisuse    = &Error{Category: CategoryMisuse}
)

// Error is a failure with its category and the operation that produced it.
type Error struct {
	Category  ErrorCategory
	Operation string
	// Digest is the offending digest, when one is known.
	Digest  string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Digest != "" {
		if msg == "" {
			msg = e.Digest
		} else {
			msg = fmt.Sprintf("%s (%s)", msg, e.Digest)
		}
	}
	switch {
	case msg == "" && e.Cause != nil:
		msg = e.Cause.Error()
	case e.Cause != nil:
		msg = msg + ": " + e.Cause.Error()
	}
	if e.Operation != "" {
		return e.Operation + ": " + msg
	}
	return msg
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches the category sentinels: an *Error target carrying only a
// category matches every error of that category.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Operation != "" || t.Message != "" || t.Digest != "" || t.Cause != nil {
		return e == t
	}
	return e.Category == t.Category
}

// Format returns a CategoryFormat error.
func Format(operation, digest, format string, args ...interface{}) *Error {
	return &Error{
		Category:  CategoryFormat,
		Operation: operation,
		Digest:    digest,
		Message:   fmt.Sprintf(format, args...),
	}
}

// FormatCause returns a CategoryFormat error wrapping cause.
func FormatCause(operation, digest string, cause error) *Error {
	return &Error{
		Category:  CategoryFormat,
		Operation: operation,
		Digest:    digest,
		Cause:     cause,
	}
}

// Integrity returns a CategoryIntegrity error.
func Integrity(operation, digest, format string, args ...interface{}) *Error {
	return &Error{
		Category:  CategoryIntegrity,
		Operation: operation,
		Digest:    digest,
		Message:   fmt.Sprintf(format, args...),
	}
}

// Misuse returns a CategoryMisuse error.
func Misuse(operation, format string, args ...interface{}) *Error {
	return &Error{
		Category:  CategoryMisuse,
		Operation: operation,
		Message:   fmt.Sprintf(format, args...),
	}
}

// Wrap annotates err with the operation that failed. Errors that already
// carry a category keep it and gain the operation as an outer frame; any
// other error is classified as CategoryIO. Wrap returns nil for a nil err.
func Wrap(operation string, err error) error {
	if err == nil {
		return nil
	}
	var ce *Error
	if stderrors.As(err, &ce) {
		return &Error{Category: ce.Category, Operation: operation, Cause: err}
	}
	return &Error{Category: CategoryIO, Operation: operation, Cause: err}
}

// CategoryOf returns the category of the first *Error in err's chain, or
// the empty string.
func CategoryOf(err error) ErrorCategory {
	var ce *Error
	if stderrors.As(err, &ce) {
		return ce.Category
	}
	return ""
}
