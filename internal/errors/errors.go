// Package errors provides error code definitions for the offline core.
package errors

import "fmt"

// ErrorCode represents a unique error code surfaced to callers and logs.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrInvalid    ErrorCode = "INVALID_INPUT"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrDuplicate  ErrorCode = "DUPLICATE"
	ErrValidation ErrorCode = "VALIDATION_ERROR"

	// Storage errors
	ErrStorage       ErrorCode = "STORAGE_ERROR"
	ErrSchemaInit    ErrorCode = "SCHEMA_INIT_FAILED"
	ErrQuotaExceeded ErrorCode = "STORAGE_QUOTA_EXCEEDED"

	// Cache errors
	ErrCacheMiss    ErrorCode = "CACHE_MISS"
	ErrCacheWrite   ErrorCode = "CACHE_WRITE_FAILED"
	ErrOffline      ErrorCode = "OFFLINE"
	ErrAssetOffline ErrorCode = "ASSET_UNAVAILABLE_OFFLINE"

	// Sync queue errors
	ErrQueueFull        ErrorCode = "QUEUE_FULL"
	ErrSyncFailed       ErrorCode = "SYNC_FAILED"
	ErrSyncTimeout      ErrorCode = "SYNC_TIMEOUT"
	ErrSyncRejected     ErrorCode = "SYNC_REJECTED"
	ErrRetriesExhausted ErrorCode = "RETRIES_EXHAUSTED"
	ErrUnknownOpType    ErrorCode = "UNKNOWN_OPERATION_TYPE"

	// Notification errors
	ErrNotifyFailed       ErrorCode = "NOTIFY_FAILED"
	ErrPermissionDenied   ErrorCode = "PERMISSION_DENIED"
	ErrSubscriptionFailed ErrorCode = "SUBSCRIPTION_FAILED"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is checks if an error is of a specific code.
func Is(err error, code ErrorCode) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code == code
	}
	return false
}
