package errors

import (
	"fmt"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		expected string
	}{
		{
			name: "error without cause",
			err: &AppError{
				Type:    ErrTypeStorageWrite,
				Message: "copy failed",
			},
			expected: "storage_write: copy failed",
		},
		{
			name: "error with cause",
			err: &AppError{
				Type:    ErrTypeStorageWrite,
				Message: "copy failed",
				Cause:   fmt.Errorf("disk full"),
			},
			expected: "storage_write: copy failed (caused by: disk full)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("underlying error")
	err := &AppError{
		Type:  ErrTypeFileSystem,
		Cause: cause,
	}

	if unwrapped := err.Unwrap(); unwrapped != cause {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, cause)
	}
}

func TestNewStorageWriteError(t *testing.T) {
	cause := fmt.Errorf("no space left on device")
	err := NewStorageWriteError("failed to copy into storage", cause)

	if err.Type != ErrTypeStorageWrite {
		t.Errorf("Type = %v, want %v", err.Type, ErrTypeStorageWrite)
	}
	if !err.Retryable {
		t.Error("Expected storage write error to be retryable")
	}
	if err.Cause != cause {
		t.Errorf("Cause = %v, want %v", err.Cause, cause)
	}
}

func TestNewCorruptIndexError(t *testing.T) {
	err := NewCorruptIndexError("index failed version check", nil)

	if err.Type != ErrTypeCorruptIndex {
		t.Errorf("Type = %v, want %v", err.Type, ErrTypeCorruptIndex)
	}
	if err.Retryable {
		t.Error("Expected corrupt index error to not be retryable")
	}
}

func TestNewFetchError(t *testing.T) {
	err := NewFetchError("playlist page unreachable", fmt.Errorf("timeout"))

	if err.Type != ErrTypeFetch {
		t.Errorf("Type = %v, want %v", err.Type, ErrTypeFetch)
	}
	if !err.Retryable {
		t.Error("Expected fetch error to be retryable")
	}
}

func TestGetErrorType(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorType
	}{
		{
			name:     "app error",
			err:      NewValidationError("bad playlist id"),
			expected: ErrTypeValidation,
		},
		{
			name:     "plain error",
			err:      fmt.Errorf("some error"),
			expected: ErrTypeUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetErrorType(tt.err); got != tt.expected {
				t.Errorf("GetErrorType() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	if IsRetryable(fmt.Errorf("plain")) {
		t.Error("plain errors should not be retryable")
	}
	if !IsRetryable(NewDownloadError("download failed", nil)) {
		t.Error("download errors should be retryable")
	}
	if IsRetryable(NewNotFoundError("no such hash")) {
		t.Error("not found errors should not be retryable")
	}
}

func TestTypePredicates(t *testing.T) {
	if !IsCorruptIndexError(NewCorruptIndexError("bad json", nil)) {
		t.Error("IsCorruptIndexError() = false, want true")
	}
	if !IsStorageWriteError(NewStorageWriteError("copy failed", nil)) {
		t.Error("IsStorageWriteError() = false, want true")
	}
	if !IsFetchError(NewFetchError("fetch failed", nil)) {
		t.Error("IsFetchError() = false, want true")
	}
	if !IsNotFoundError(NewNotFoundError("missing")) {
		t.Error("IsNotFoundError() = false, want true")
	}
	if IsFetchError(NewNotFoundError("missing")) {
		t.Error("IsFetchError() = true for not found error")
	}
}
