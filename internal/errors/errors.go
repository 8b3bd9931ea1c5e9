// internal/errors/errors.go
package errors

import (
	"errors"
	"fmt"
)

// ErrorType classifies application errors.
type ErrorType string

const (
	ErrorTypeValidation  ErrorType = "validation_error"
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeError       ErrorType = "processing_error"
	ErrorTypeConflict    ErrorType = "conflict"
	ErrorTypeTimeout     ErrorType = "timeout"
	ErrorTypeUnsupported ErrorType = "unsupported"
)

// AppError is the application error structure carried across service
// boundaries. Code is a stable, user-facing error code.
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
	Code    string
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap supports errors.Is / errors.As chains.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates a new AppError.
func NewAppError(errType ErrorType, message string, originalError error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Err:     originalError,
		Code:    generateErrorCode(errType),
	}
}

// NewValidationError creates a validation error.
func NewValidationError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeValidation, message, originalError)
}

// NewNotFoundError creates a not-found error.
func NewNotFoundError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeNotFound, message, originalError)
}

// NewProcessingError creates a processing error.
func NewProcessingError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeError, message, originalError)
}

// NewConflictError creates a conflict error.
func NewConflictError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeConflict, message, originalError)
}

// NewTimeoutError creates a timeout error.
func NewTimeoutError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeTimeout, message, originalError)
}

// NewUnsupportedError creates an unsupported-capability error. This is a
// terminal condition for the feature that raised it, not a retryable one.
func NewUnsupportedError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeUnsupported, message, originalError)
}

// IsValidationError reports whether err is a validation error.
func IsValidationError(err error) bool {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Type == ErrorTypeValidation
	}
	return false
}

// IsNotFoundError reports whether err is a not-found error.
func IsNotFoundError(err error) bool {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Type == ErrorTypeNotFound
	}
	return false
}

// IsTimeoutError reports whether err is a timeout error.
func IsTimeoutError(err error) bool {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Type == ErrorTypeTimeout
	}
	return false
}

// IsUnsupportedError reports whether err is an unsupported-capability error.
func IsUnsupportedError(err error) bool {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Type == ErrorTypeUnsupported
	}
	return false
}

// TypeOf returns the ErrorType of err, or ErrorTypeError when err is not an
// AppError.
func TypeOf(err error) ErrorType {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Type
	}
	return ErrorTypeError
}

func generateErrorCode(errType ErrorType) string {
	switch errType {
	case ErrorTypeValidation:
		return "INVALID_REQUEST"
	case ErrorTypeNotFound:
		return "NOT_FOUND"
	case ErrorTypeConflict:
		return "CONFLICT"
	case ErrorTypeTimeout:
		return "TIMEOUT"
	case ErrorTypeUnsupported:
		return "UNSUPPORTED"
	default:
		return "INTERNAL_ERROR"
	}
}
