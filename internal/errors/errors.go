package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrTypeProvider represents a lookup-provider failure (network, 5xx, timeout)
	ErrTypeProvider ErrorType = "provider"
	// ErrTypeUnavailable represents a stream source whose underlying asset cannot be resolved
	ErrTypeUnavailable ErrorType = "unavailable"
	// ErrTypeTimeout represents a client-side deadline (file-list fetch, download polling ceiling)
	ErrTypeTimeout ErrorType = "timeout"
	// ErrTypeNetwork represents transport-level errors
	ErrTypeNetwork ErrorType = "network"
	// ErrTypeNotFound represents a missing resource
	ErrTypeNotFound ErrorType = "not_found"
	// ErrTypePersistence represents durable-store transaction failures
	ErrTypePersistence ErrorType = "persistence"
	// ErrTypeValidation represents invalid input (missing identity, no resolvable url)
	ErrTypeValidation ErrorType = "validation"
	// ErrTypeUnknown represents uncategorized errors
	ErrTypeUnknown ErrorType = "unknown"
)

// AppError represents an application error with context
type AppError struct {
	Type      ErrorType
	Message   string
	Retryable bool
	Cause     error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewProviderError creates a provider failure error
func NewProviderError(message string, cause error) *AppError {
	return &AppError{
		Type:      ErrTypeProvider,
		Message:   message,
		Retryable: true,
		Cause:     cause,
	}
}

// NewUnavailableError creates a resource-unavailable error. Unavailable
// sources are dead ends for the session: not retryable and never cached
// as success.
func NewUnavailableError(message string) *AppError {
	return &AppError{
		Type:      ErrTypeUnavailable,
		Message:   message,
		Retryable: false,
	}
}

// NewTimeoutError creates a client-side timeout error
func NewTimeoutError(message string, cause error) *AppError {
	return &AppError{
		Type:      ErrTypeTimeout,
		Message:   message,
		Retryable: true,
		Cause:     cause,
	}
}

// NewNetworkError creates a transport error
func NewNetworkError(message string, cause error) *AppError {
	return &AppError{
		Type:      ErrTypeNetwork,
		Message:   message,
		Retryable: true,
		Cause:     cause,
	}
}

// NewNotFoundError creates a missing-resource error
func NewNotFoundError(message string) *AppError {
	return &AppError{
		Type:      ErrTypeNotFound,
		Message:   message,
		Retryable: false,
	}
}

// NewPersistenceError creates a durable-store error
func NewPersistenceError(message string, cause error) *AppError {
	return &AppError{
		Type:      ErrTypePersistence,
		Message:   message,
		Retryable: false,
		Cause:     cause,
	}
}

// NewValidationError creates an invalid-input error
func NewValidationError(message string) *AppError {
	return &AppError{
		Type:      ErrTypeValidation,
		Message:   message,
		Retryable: false,
	}
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}

// GetErrorType returns the error type from an error
func GetErrorType(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrTypeUnknown
}

// IsUnavailable checks if an error marks a session-dead source
func IsUnavailable(err error) bool {
	return GetErrorType(err) == ErrTypeUnavailable
}

// IsTimeout checks if an error is a client-side timeout
func IsTimeout(err error) bool {
	return GetErrorType(err) == ErrTypeTimeout
}

// IsProviderError checks if an error is a lookup-provider failure
func IsProviderError(err error) bool {
	return GetErrorType(err) == ErrTypeProvider
}
