package rdo

import (
	"errors"
	"fmt"
)

// =====================================
// Error Handling
// =====================================

// Error represents a mapper error. Type classifies the failure so callers can
// tell a bad request from corrupt data or a failing backend.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
}

// Error implements the error interface
func (e Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e Error) Unwrap() error {
	return e.Cause
}

// Is checks if the error is of a specific type
func (e Error) Is(target error) bool {
	if t, ok := target.(Error); ok {
		return e.Type == t.Type
	}
	return false
}

// NewError creates a new Error
func NewError(errorType ErrorType, message string) Error {
	return Error{
		Type:    errorType,
		Message: message,
	}
}

// NewErrorWithCause creates a new Error with a cause
func NewErrorWithCause(errorType ErrorType, message string, cause error) Error {
	return Error{
		Type:    errorType,
		Message: message,
		Cause:   cause,
	}
}

func configErrorf(format string, args ...interface{}) Error {
	return NewError(ErrorTypeConfiguration, fmt.Sprintf(format, args...))
}

func requestErrorf(format string, args ...interface{}) Error {
	return NewError(ErrorTypeInvalidArgument, fmt.Sprintf(format, args...))
}

// wrapAdapterError wraps a failure raised by the adapter with the mapper
// operation that issued it. Errors that already carry a type keep it.
func wrapAdapterError(op string, err error) error {
	if err == nil {
		return nil
	}
	var rdoErr Error
	if errors.As(err, &rdoErr) {
		return NewErrorWithCause(rdoErr.Type, op, err)
	}
	return NewErrorWithCause(ErrorTypeDatabase, op, err)
}

// IsNotFound checks if an error is a "not found" error
func IsNotFound(err error) bool {
	return IsErrorType(err, ErrorTypeNotFound)
}

// IsConfiguration checks if an error is a "configuration" error
func IsConfiguration(err error) bool {
	return IsErrorType(err, ErrorTypeConfiguration)
}

// IsRequest checks if an error is an "invalid_argument" error
func IsRequest(err error) bool {
	return IsErrorType(err, ErrorTypeInvalidArgument)
}

// IsIntegrity checks if an error is an "integrity" error
func IsIntegrity(err error) bool {
	return IsErrorType(err, ErrorTypeIntegrity)
}

// IsDatabase checks if an error is a "database" error
func IsDatabase(err error) bool {
	return IsErrorType(err, ErrorTypeDatabase)
}

// IsConnection checks if an error is a "connection" error
func IsConnection(err error) bool {
	return IsErrorType(err, ErrorTypeConnection)
}

// IsErrorType checks if an error, or any error it wraps, is of a specific type
func IsErrorType(err error, errorType ErrorType) bool {
	var rdoErr Error
	if errors.As(err, &rdoErr) {
		return rdoErr.Type == errorType
	}
	return false
}
