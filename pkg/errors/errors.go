// Package errors provides standardized error types for the federated
// query engine.
package errors

import (
	"errors"
	"fmt"
)

// Error codes, one per failure domain.
const (
	CodeValidationFailed  = "VALIDATION_FAILED"
	CodeConnectionFailed  = "CONNECTION_FAILED"
	CodeExecutionFailed   = "EXECUTION_FAILED"
	CodeDependencyFailed  = "DEPENDENCY_FAILED"
	CodeAggregationFailed = "AGGREGATION_FAILED"
	CodeInvalidPlan       = "INVALID_PLAN"
	CodeDeadlineExceeded  = "DEADLINE_EXCEEDED"
	CodeInternal          = "INTERNAL_ERROR"
)

// Error carries a code, a human-readable message and an optional cause.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Cause }

// Is compares errors by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates an Error with the given code and message.
func New(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error. Returns nil
// for a nil cause.
func Wrap(err error, code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Cause: err}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, code, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// GetCode extracts the code from an error chain, defaulting to
// INTERNAL_ERROR for foreign errors.
func GetCode(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// IsValidation reports whether the error is a validation rejection.
func IsValidation(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == CodeValidationFailed
}

// IsDependency reports whether the error is a missing step dependency.
func IsDependency(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == CodeDependencyFailed
}

// IsConnection reports whether the error is a backend connectivity
// failure.
func IsConnection(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == CodeConnectionFailed
}
