package errors

import (
	"fmt"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrTypeCorruptIndex represents unreadable or structurally invalid persisted JSON
	ErrTypeCorruptIndex ErrorType = "corrupt_index"
	// ErrTypeStorageWrite represents a failure to copy content into the store
	ErrTypeStorageWrite ErrorType = "storage_write"
	// ErrTypeLinkCreation represents a failure of every link strategy (symlink, hardlink, copy)
	ErrTypeLinkCreation ErrorType = "link_creation"
	// ErrTypeNotFound represents resource not found errors
	ErrTypeNotFound ErrorType = "not_found"
	// ErrTypeFetch represents playlist fetch errors
	ErrTypeFetch ErrorType = "fetch"
	// ErrTypeDownload represents external downloader errors
	ErrTypeDownload ErrorType = "download"
	// ErrTypeFileSystem represents file system errors
	ErrTypeFileSystem ErrorType = "filesystem"
	// ErrTypeValidation represents validation errors
	ErrTypeValidation ErrorType = "validation"
	// ErrTypeUnknown represents unknown errors
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

// NewCorruptIndexError creates a new corrupt index error.
// Callers are expected to recover by rebuilding the structure, not abort.
func NewCorruptIndexError(message string, cause error) *AppError {
	return &AppError{
		Type:      ErrTypeCorruptIndex,
		Message:   message,
		Retryable: false,
		Cause:     cause,
	}
}

// NewStorageWriteError creates a new storage write error.
// These propagate: the caller must not record the track as stored.
func NewStorageWriteError(message string, cause error) *AppError {
	return &AppError{
		Type:      ErrTypeStorageWrite,
		Message:   message,
		Retryable: true,
		Cause:     cause,
	}
}

// NewLinkCreationError creates a new link creation error
func NewLinkCreationError(message string, cause error) *AppError {
	return &AppError{
		Type:      ErrTypeLinkCreation,
		Message:   message,
		Retryable: false,
		Cause:     cause,
	}
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string) *AppError {
	return &AppError{
		Type:      ErrTypeNotFound,
		Message:   message,
		Retryable: false,
		Cause:     nil,
	}
}

// NewFetchError creates a new playlist fetch error.
// Fetch failures are soft: the sync attempt is aborted without mutating state.
func NewFetchError(message string, cause error) *AppError {
	return &AppError{
		Type:      ErrTypeFetch,
		Message:   message,
		Retryable: true,
		Cause:     cause,
	}
}

// NewDownloadError creates a new downloader error
func NewDownloadError(message string, cause error) *AppError {
	return &AppError{
		Type:      ErrTypeDownload,
		Message:   message,
		Retryable: true,
		Cause:     cause,
	}
}

// NewFileSystemError creates a new file system error
func NewFileSystemError(message string, cause error) *AppError {
	return &AppError{
		Type:      ErrTypeFileSystem,
		Message:   message,
		Retryable: true,
		Cause:     cause,
	}
}

// NewValidationError creates a new validation error
func NewValidationError(message string) *AppError {
	return &AppError{
		Type:      ErrTypeValidation,
		Message:   message,
		Retryable: false,
		Cause:     nil,
	}
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Retryable
	}
	return false
}

// GetErrorType returns the error type from an error
func GetErrorType(err error) ErrorType {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Type
	}
	return ErrTypeUnknown
}

// IsCorruptIndexError checks if an error is a corrupt index error
func IsCorruptIndexError(err error) bool {
	return GetErrorType(err) == ErrTypeCorruptIndex
}

// IsStorageWriteError checks if an error is a storage write error
func IsStorageWriteError(err error) bool {
	return GetErrorType(err) == ErrTypeStorageWrite
}

// IsFetchError checks if an error is a fetch error
func IsFetchError(err error) bool {
	return GetErrorType(err) == ErrTypeFetch
}

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	return GetErrorType(err) == ErrTypeNotFound
}
