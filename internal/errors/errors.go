package errors

import (
	"errors"
	"fmt"
	"io/fs"
	"syscall"
)

// SyncError is the structured error type for vecsync.
// It carries enough context for logging, retry decisions and CLI output.
type SyncError struct {
	// Code is the unique error code (e.g., "ERR_207_FILE_UNREADABLE").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Network, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *SyncError) Error() string {
	if e.Cause != nil && e.Cause.Error() != e.Message {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *SyncError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a SyncError with the same code.
func (e *SyncError) Is(target error) bool {
	if t, ok := target.(*SyncError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *SyncError) WithDetail(key, value string) *SyncError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *SyncError) WithSuggestion(suggestion string) *SyncError {
	e.Suggestion = suggestion
	return e
}

// New creates a new SyncError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *SyncError {
	return &SyncError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a SyncError from an existing error.
func Wrap(code string, err error) *SyncError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigurationError reports a bad repository name, path, glob or strategy.
// Configuration errors abort a run before any work starts.
func ConfigurationError(message string, cause error) *SyncError {
	return New(ErrCodeInvalidRepository, message, cause)
}

// PatternError reports an invalid include or exclude glob.
func PatternError(pattern string, cause error) *SyncError {
	return New(ErrCodeInvalidPattern, fmt.Sprintf("invalid glob pattern %q", pattern), cause).
		WithDetail("pattern", pattern)
}

// EnumerationError reports a file that could not be read during a pass.
// Missing and permission-denied files get their own codes.
func EnumerationError(path string, cause error) *SyncError {
	code := ErrCodeFileUnreadable
	switch {
	case errors.Is(cause, fs.ErrNotExist):
		code = ErrCodeFileNotFound
	case errors.Is(cause, fs.ErrPermission):
		code = ErrCodeFilePermission
	}
	return New(code, fmt.Sprintf("cannot read %s", path), cause).
		WithDetail("path", path)
}

// FileTooLargeError reports a file skipped for exceeding the size limit.
func FileTooLargeError(path string, size, limit int64) *SyncError {
	return New(ErrCodeFileTooLarge, fmt.Sprintf("%s is %d bytes, over the %d byte limit", path, size, limit), nil).
		WithDetail("path", path).
		WithSuggestion("raise max_file_size or exclude the file")
}

// ConfigPermissionError reports a config file that cannot be accessed.
func ConfigPermissionError(path string, cause error) *SyncError {
	return New(ErrCodeConfigPermission, fmt.Sprintf("permission denied for config file %s", path), cause).
		WithDetail("path", path)
}

// DimensionMismatchError reports vectors that do not fit an existing collection.
func DimensionMismatchError(collection string, expected, got int, cause error) *SyncError {
	return New(ErrCodeDimensionMismatch,
		fmt.Sprintf("collection %s holds %d-dimensional vectors, got %d", collection, expected, got), cause).
		WithDetail("collection", collection).
		WithSuggestion("switch back to the original embedding model or purge the repository")
}

// EmbeddingError reports a failed embedding request for one chunk.
func EmbeddingError(message string, cause error) *SyncError {
	return New(ErrCodeEmbeddingFailed, message, cause)
}

// UpsertError reports a failed vector store upsert for one batch.
func UpsertError(collection string, points int, cause error) *SyncError {
	return New(ErrCodeUpsertFailed, fmt.Sprintf("upsert of %d points into %s failed", points, collection), cause).
		WithDetail("collection", collection)
}

// DeleteError reports a failed vector store delete.
func DeleteError(collection string, cause error) *SyncError {
	return New(ErrCodeDeleteFailed, fmt.Sprintf("delete from %s failed", collection), cause).
		WithDetail("collection", collection)
}

// LedgerIOError reports a ledger that could not be read or written.
// A full disk gets its own fatal code.
func LedgerIOError(message string, cause error) *SyncError {
	if errors.Is(cause, syscall.ENOSPC) {
		return New(ErrCodeDiskFull, message, cause).WithSuggestion("free disk space in the data directory")
	}
	return New(ErrCodeLedgerIO, message, cause)
}

// NetworkError creates a retryable network-related error.
func NetworkError(message string, cause error) *SyncError {
	return New(ErrCodeNetworkUnavailable, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *SyncError {
	return New(ErrCodeInvalidInput, message, cause)
}

// asSyncError finds the first SyncError in err's chain.
func asSyncError(err error) (*SyncError, bool) {
	var se *SyncError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if se, ok := asSyncError(err); ok {
		return se.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors should abort the current operation.
func IsFatal(err error) bool {
	if se, ok := asSyncError(err); ok {
		return se.Severity == SeverityFatal
	}
	return false
}

// IsConfiguration reports whether err is a configuration error.
func IsConfiguration(err error) bool {
	if se, ok := asSyncError(err); ok {
		return se.Category == CategoryConfig
	}
	return false
}

// GetCode extracts the error code from a SyncError.
// Returns empty string if not a SyncError.
func GetCode(err error) string {
	if se, ok := asSyncError(err); ok {
		return se.Code
	}
	return ""
}

// GetCategory extracts the category from a SyncError.
func GetCategory(err error) Category {
	if se, ok := asSyncError(err); ok {
		return se.Category
	}
	return ""
}
