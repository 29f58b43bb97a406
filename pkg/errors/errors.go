// Package errors provides a structured error system for modelpool with
// error codes, categories, and context.
package errors

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ErrorCode represents a structured error code for residency operations.
type ErrorCode string

const (
	// Registration errors
	ErrCodeFileNotFound ErrorCode = "FILE_NOT_FOUND"
	ErrCodeHashMismatch ErrorCode = "HASH_MISMATCH"

	// Load errors
	ErrCodeEngineLoadFailed ErrorCode = "ENGINE_LOAD_FAILED"
	ErrCodeUnknownModel     ErrorCode = "UNKNOWN_MODEL"

	// Configuration errors
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"
	ErrCodeConfigLoad    ErrorCode = "CONFIG_LOAD"

	// State management errors
	ErrCodeAlreadyStarted ErrorCode = "ALREADY_STARTED"
	ErrCodeNotStarted     ErrorCode = "NOT_STARTED"

	// Internal errors
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryRegistry      ErrorCategory = "registry"
	CategoryLoad          ErrorCategory = "load"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryState         ErrorCategory = "state"
	CategoryInternal      ErrorCategory = "internal"
)

// ResidencyError represents a structured error with context and metadata.
type ResidencyError struct {
	Code     ErrorCode              `json:"code"`
	Category ErrorCategory          `json:"category"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`

	Cause     error     `json:"-"` // Not serialized to avoid circular refs
	Timestamp time.Time `json:"timestamp"`

	Component string `json:"component"`
	Operation string `json:"operation,omitempty"`

	Retryable  bool `json:"retryable"`
	HTTPStatus int  `json:"http_status,omitempty"`
}

// Error implements the error interface.
func (e *ResidencyError) Error() string {
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, e.Message)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error for error wrapping compatibility.
func (e *ResidencyError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target error (for errors.Is compatibility).
func (e *ResidencyError) Is(target error) bool {
	if residencyErr, ok := target.(*ResidencyError); ok {
		return e.Code == residencyErr.Code
	}
	return false
}

// String returns a detailed string representation for logging.
func (e *ResidencyError) String() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Code=%s", e.Code))
	parts = append(parts, fmt.Sprintf("Category=%s", e.Category))
	parts = append(parts, fmt.Sprintf("Message=%q", e.Message))

	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}

	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}

	if len(e.Details) > 0 {
		details, _ := json.Marshal(e.Details)
		parts = append(parts, fmt.Sprintf("Details=%s", details))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}

	return fmt.Sprintf("ResidencyError{%s}", strings.Join(parts, ", "))
}

// NewError creates a new residency error with default values.
func NewError(code ErrorCode, message string) *ResidencyError {
	return &ResidencyError{
		Code:       code,
		Category:   GetCategory(code),
		Message:    message,
		Timestamp:  time.Now(),
		Details:    make(map[string]interface{}),
		Retryable:  IsRetryableByDefault(code),
		HTTPStatus: GetDefaultHTTPStatus(code),
	}
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	switch code {
	case ErrCodeFileNotFound, ErrCodeHashMismatch:
		return CategoryRegistry
	case ErrCodeEngineLoadFailed, ErrCodeUnknownModel:
		return CategoryLoad
	case ErrCodeInvalidConfig, ErrCodeConfigLoad:
		return CategoryConfiguration
	case ErrCodeAlreadyStarted, ErrCodeNotStarted:
		return CategoryState
	default:
		return CategoryInternal
	}
}

// IsRetryableByDefault determines if an error is retryable by default.
// Retry policy for loader failures belongs to the caller, so
// ENGINE_LOAD_FAILED is marked retryable without this subsystem ever
// retrying it internally.
func IsRetryableByDefault(code ErrorCode) bool {
	retryableCodes := map[ErrorCode]bool{
		ErrCodeEngineLoadFailed: true,
		ErrCodeInternalError:    true,
	}
	return retryableCodes[code]
}

// GetDefaultHTTPStatus returns the default HTTP status for an error code,
// used by the external HTTP layer.
func GetDefaultHTTPStatus(code ErrorCode) int {
	statusMap := map[ErrorCode]int{
		ErrCodeFileNotFound:     404,
		ErrCodeUnknownModel:     404,
		ErrCodeHashMismatch:     409,
		ErrCodeAlreadyStarted:   409,
		ErrCodeInvalidConfig:    400,
		ErrCodeConfigLoad:       400,
		ErrCodeEngineLoadFailed: 502,
	}

	if status, ok := statusMap[code]; ok {
		return status
	}
	return 500
}

// WithDetail adds detailed information to an error
func (e *ResidencyError) WithDetail(key string, value interface{}) *ResidencyError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithComponent sets the component for an error
func (e *ResidencyError) WithComponent(component string) *ResidencyError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error
func (e *ResidencyError) WithOperation(operation string) *ResidencyError {
	e.Operation = operation
	return e
}

// WithCause sets the underlying cause
func (e *ResidencyError) WithCause(cause error) *ResidencyError {
	e.Cause = cause
	return e
}
