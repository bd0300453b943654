// Package errors provides a structured error system for assetcache with
// error codes, categories, and context.
package errors

import (
	"fmt"
	"strings"
	"time"
)

// ErrorCode represents a structured error code for asset-cache operations.
type ErrorCode string

const (
	// Configuration errors
	ErrCodeInvalidConfig    ErrorCode = "INVALID_CONFIG"
	ErrCodeConfigLoad       ErrorCode = "CONFIG_LOAD"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"

	// Network fetch errors
	ErrCodeFetchFailed  ErrorCode = "FETCH_FAILED"
	ErrCodeFetchTimeout ErrorCode = "FETCH_TIMEOUT"
	ErrCodeFetchStatus  ErrorCode = "FETCH_STATUS"
	ErrCodeOriginDown   ErrorCode = "FETCH_ORIGIN_DOWN"

	// Partition store errors
	ErrCodeStoreRead      ErrorCode = "STORE_READ"
	ErrCodeStoreWrite     ErrorCode = "STORE_WRITE"
	ErrCodeStoreDelete    ErrorCode = "STORE_DELETE"
	ErrCodeStoreCorrupt   ErrorCode = "STORE_CORRUPT"
	ErrCodeEntryNotFound  ErrorCode = "ENTRY_NOT_FOUND"
	ErrCodePartitionStale ErrorCode = "PARTITION_STALE"

	// Lifecycle errors
	ErrCodeInstallFailed  ErrorCode = "INSTALL_FAILED"
	ErrCodeActivateFailed ErrorCode = "ACTIVATE_FAILED"
	ErrCodeInvalidState   ErrorCode = "INVALID_STATE"

	// Control channel errors
	ErrCodeMalformedMessage ErrorCode = "MALFORMED_MESSAGE"
	ErrCodeUnknownMessage   ErrorCode = "UNKNOWN_MESSAGE"

	// Internal errors
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryFetch         ErrorCategory = "fetch"
	CategoryStore         ErrorCategory = "store"
	CategoryLifecycle     ErrorCategory = "lifecycle"
	CategoryControl       ErrorCategory = "control"
	CategoryInternal      ErrorCategory = "internal"
)

// AssetCacheError represents a structured error with context and metadata.
type AssetCacheError struct {
	Code     ErrorCode     `json:"code"`
	Category ErrorCategory `json:"category"`
	Message  string        `json:"message"`

	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"`
	Timestamp time.Time         `json:"timestamp"`

	Component string `json:"component,omitempty"`
	Operation string `json:"operation,omitempty"`

	Retryable bool `json:"retryable"`
}

// Error implements the error interface.
func (e *AssetCacheError) Error() string {
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, e.Message)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error.
func (e *AssetCacheError) Unwrap() error {
	return e.Cause
}

// Is matches target by error code.
func (e *AssetCacheError) Is(target error) bool {
	if other, ok := target.(*AssetCacheError); ok {
		return e.Code == other.Code
	}
	return false
}

// NewError creates a new asset-cache error with defaults derived from the
// code.
func NewError(code ErrorCode, message string) *AssetCacheError {
	return &AssetCacheError{
		Code:      code,
		Category:  GetCategory(code),
		Message:   message,
		Timestamp: time.Now(),
		Context:   make(map[string]string),
		Retryable: IsRetryableByDefault(code),
	}
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	codeStr := string(code)
	switch {
	case strings.HasPrefix(codeStr, "INVALID_CONFIG") || strings.HasPrefix(codeStr, "CONFIG_"):
		return CategoryConfiguration
	case strings.HasPrefix(codeStr, "FETCH_"):
		return CategoryFetch
	case strings.HasPrefix(codeStr, "STORE_") || strings.HasPrefix(codeStr, "ENTRY_") ||
		strings.HasPrefix(codeStr, "PARTITION_"):
		return CategoryStore
	case strings.HasPrefix(codeStr, "INSTALL_") || strings.HasPrefix(codeStr, "ACTIVATE_") ||
		strings.HasPrefix(codeStr, "INVALID_STATE"):
		return CategoryLifecycle
	case strings.HasPrefix(codeStr, "MALFORMED_") || strings.HasPrefix(codeStr, "UNKNOWN_"):
		return CategoryControl
	default:
		return CategoryInternal
	}
}

// IsRetryableByDefault determines if an error code is retryable by default.
func IsRetryableByDefault(code ErrorCode) bool {
	retryableCodes := map[ErrorCode]bool{
		ErrCodeFetchFailed:   true,
		ErrCodeFetchTimeout:  true,
		ErrCodeStoreRead:     true,
		ErrCodeStoreWrite:    true,
		ErrCodeInternalError: true,
	}
	return retryableCodes[code]
}

// GetCode extracts the error code from err, or ErrCodeInternalError when
// err is not an asset-cache error.
func GetCode(err error) ErrorCode {
	if acErr, ok := err.(*AssetCacheError); ok {
		return acErr.Code
	}
	return ErrCodeInternalError
}

// IsRetryable reports whether err carries a retryable asset-cache error.
func IsRetryable(err error) bool {
	if acErr, ok := err.(*AssetCacheError); ok {
		return acErr.Retryable
	}
	return false
}

// WithContext adds contextual information to an error.
func (e *AssetCacheError) WithContext(key, value string) *AssetCacheError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithComponent sets the component for an error.
func (e *AssetCacheError) WithComponent(component string) *AssetCacheError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error.
func (e *AssetCacheError) WithOperation(operation string) *AssetCacheError {
	e.Operation = operation
	return e
}

// WithCause sets the underlying cause.
func (e *AssetCacheError) WithCause(cause error) *AssetCacheError {
	e.Cause = cause
	return e
}

// Wrap wraps an existing error with an asset-cache code and message.
func Wrap(err error, code ErrorCode, message string) *AssetCacheError {
	return NewError(code, message).WithCause(err)
}
