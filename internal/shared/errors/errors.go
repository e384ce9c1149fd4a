package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeNotFound indicates a region or resource was not found
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeValidation indicates a malformed coordinate, cell index or input
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeConflict indicates a uniqueness conflict with existing data
	ErrorTypeConflict ErrorType = "conflict"
	// ErrorTypeCountMismatch indicates a resolution that could not cover every requested cell
	ErrorTypeCountMismatch ErrorType = "count_mismatch"
	// ErrorTypeTransaction indicates a transactional operation that was rolled back
	ErrorTypeTransaction ErrorType = "transaction"
	// ErrorTypeTimeout indicates an operation exceeded its deadline
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeUnauthorized indicates authentication failure
	ErrorTypeUnauthorized ErrorType = "unauthorized"
	// ErrorTypeForbidden indicates an authenticated caller lacking a required role
	ErrorTypeForbidden ErrorType = "forbidden"
	// ErrorTypeInternal indicates an internal server error
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeMethodNotAllowed indicates an unsupported HTTP method
	ErrorTypeMethodNotAllowed ErrorType = "method_not_allowed"
)

// AppError is the base error type for application errors
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFoundf creates a not found error with formatting
func NotFoundf(format string, args ...interface{}) error {
	return &AppError{
		Type:    ErrorTypeNotFound,
		Message: fmt.Sprintf(format, args...),
	}
}

// WrapNotFound wraps an error as a not found error
func WrapNotFound(message string, err error) error {
	return &AppError{
		Type:    ErrorTypeNotFound,
		Message: message,
		Err:     err,
	}
}

// Validation creates a validation error
func Validation(message string) error {
	return &AppError{
		Type:    ErrorTypeValidation,
		Message: message,
	}
}

// Validationf creates a validation error with formatting
func Validationf(format string, args ...interface{}) error {
	return &AppError{
		Type:    ErrorTypeValidation,
		Message: fmt.Sprintf(format, args...),
	}
}

// WrapValidation wraps an error as a validation error
func WrapValidation(message string, err error) error {
	return &AppError{
		Type:    ErrorTypeValidation,
		Message: message,
		Err:     err,
	}
}

// Conflictf creates a conflict error with formatting
func Conflictf(format string, args ...interface{}) error {
	return &AppError{
		Type:    ErrorTypeConflict,
		Message: fmt.Sprintf(format, args...),
	}
}

// WrapConflict wraps an error as a conflict error
func WrapConflict(message string, err error) error {
	return &AppError{
		Type:    ErrorTypeConflict,
		Message: message,
		Err:     err,
	}
}

// CountMismatchf creates a count mismatch error with formatting
func CountMismatchf(format string, args ...interface{}) error {
	return &AppError{
		Type:    ErrorTypeCountMismatch,
		Message: fmt.Sprintf(format, args...),
	}
}

// WrapTransaction wraps the cause of a rolled back transaction
func WrapTransaction(message string, err error) error {
	return &AppError{
		Type:    ErrorTypeTransaction,
		Message: message,
		Err:     err,
	}
}

// WrapTimeout wraps an error as a timeout error
func WrapTimeout(message string, err error) error {
	return &AppError{
		Type:    ErrorTypeTimeout,
		Message: message,
		Err:     err,
	}
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return &AppError{
		Type:    ErrorTypeInternal,
		Message: message,
		Err:     err,
	}
}

// Unauthorized creates an unauthorized error
func Unauthorized(message string) error {
	return &AppError{
		Type:    ErrorTypeUnauthorized,
		Message: message,
	}
}

// Forbidden creates a forbidden error
func Forbidden(message string) error {
	return &AppError{
		Type:    ErrorTypeForbidden,
		Message: message,
	}
}

// MethodNotAllowed creates a method not allowed error
func MethodNotAllowed(method string) error {
	return &AppError{
		Type:    ErrorTypeMethodNotAllowed,
		Message: fmt.Sprintf("method %s not allowed", method),
	}
}

// GetType returns the error type of an error
func GetType(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeInternal
}

// Is reports whether the outermost application error in err's chain has the given type
func Is(err error, errorType ErrorType) bool {
	if err == nil {
		return false
	}
	return GetType(err) == errorType
}
