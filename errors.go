package gem

import (
	"errors"
	"fmt"
)

// =====================================
// Error Handling
// =====================================

// Error represents a gem-specific error
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Code    string
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

// Is reports whether target is a gem Error of the same type
func (e Error) Is(target error) bool {
	if targetErr, ok := target.(Error); ok {
		return e.Type == targetErr.Type
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

// NewErrorWithCode creates a new Error with a code
func NewErrorWithCode(errorType ErrorType, message string, code string) Error {
	return Error{
		Type:    errorType,
		Message: message,
		Code:    code,
	}
}

func errorf(errorType ErrorType, format string, args ...interface{}) Error {
	return NewError(errorType, fmt.Sprintf(format, args...))
}

// IsErrorType checks if an error, or anything it wraps, is a gem Error of the given type
func IsErrorType(err error, errorType ErrorType) bool {
	var gemErr Error
	if errors.As(err, &gemErr) {
		return gemErr.Type == errorType
	}
	return false
}

// IsNotFound checks if an error is a "not found" error
func IsNotFound(err error) bool {
	return IsErrorType(err, ErrorTypeNotFound)
}

// IsInvalidArgument checks if an error is an "invalid argument" error
func IsInvalidArgument(err error) bool {
	return IsErrorType(err, ErrorTypeInvalidArgument)
}

// IsPrecondition checks if an error reports a lifecycle precondition violation
func IsPrecondition(err error) bool {
	return IsErrorType(err, ErrorTypePrecondition)
}

// IsTypeMismatch checks if an error is a "type mismatch" error
func IsTypeMismatch(err error) bool {
	return IsErrorType(err, ErrorTypeTypeMismatch)
}

// IsDuplicate checks if an error is a "duplicate" error
func IsDuplicate(err error) bool {
	return IsErrorType(err, ErrorTypeDuplicate)
}

// IsConnection checks if an error is a "connection" error
func IsConnection(err error) bool {
	return IsErrorType(err, ErrorTypeConnection)
}

// IsUnsupported checks if an error is an "unsupported" error
func IsUnsupported(err error) bool {
	return IsErrorType(err, ErrorTypeUnsupported)
}

// IsValidation checks if an error reports invalid configuration
func IsValidation(err error) bool {
	return IsErrorType(err, ErrorTypeValidation)
}
