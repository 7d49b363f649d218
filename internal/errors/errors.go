package errors

import (
	"errors"
	"fmt"
)

// KBError is the structured error type for kbsearch.
// It carries enough context for logging, MCP error mapping and CLI output.
type KBError struct {
	// Code is the unique error code (e.g., "ERR_401_INVALID_QUERY").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category derived from the code.
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

// Sentinels for errors.Is. Matching is by code only, so any KBError built
// with New(ErrCodeTimeout, ...) satisfies errors.Is(err, ErrTimeout).
var (
	ErrInvalidQuery       = &KBError{Code: ErrCodeInvalidQuery}
	ErrUnknownCollection  = &KBError{Code: ErrCodeUnknownCollection}
	ErrInvalidFeedback    = &KBError{Code: ErrCodeInvalidFeedback}
	ErrUnknownResult      = &KBError{Code: ErrCodeUnknownResult}
	ErrBackendUnavailable = &KBError{Code: ErrCodeBackendUnavailable}
	ErrAllBackendsFailed  = &KBError{Code: ErrCodeAllBackendsFailed}
	ErrRerankUnavailable  = &KBError{Code: ErrCodeRerankUnavailable}
	ErrCacheUnavailable   = &KBError{Code: ErrCodeCacheUnavailable}
	ErrTimeout            = &KBError{Code: ErrCodeTimeout}
	ErrNotFound           = &KBError{Code: ErrCodeNotFound}
)

// Error implements the error interface.
func (e *KBError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *KBError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a KBError with the same code.
func (e *KBError) Is(target error) bool {
	if t, ok := target.(*KBError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *KBError) WithDetail(key, value string) *KBError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *KBError) WithSuggestion(suggestion string) *KBError {
	e.Suggestion = suggestion
	return e
}

// New creates a KBError. Category, severity and the retryable flag are
// derived from the code.
func New(code string, message string, cause error) *KBError {
	return &KBError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Newf is New with a formatted message and no cause.
func Newf(code string, format string, args ...any) *KBError {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// Wrap creates a KBError from an existing error, reusing its message.
func Wrap(code string, err error) *KBError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// InvalidQuery creates a validation error for a rejected query.
func InvalidQuery(format string, args ...any) *KBError {
	return Newf(ErrCodeInvalidQuery, format, args...)
}

// UnknownCollection reports a collection id that is not registered.
func UnknownCollection(id string) *KBError {
	return Newf(ErrCodeUnknownCollection, "unknown collection %q", id).
		WithDetail("collection", id).
		WithSuggestion("run 'kbsearch collection list' to see registered collections")
}

// BackendUnavailable reports a failed or timed-out backend call.
func BackendUnavailable(backend string, cause error) *KBError {
	return New(ErrCodeBackendUnavailable, backend+" backend unavailable", cause).
		WithDetail("backend", backend)
}

// AllBackendsFailed reports that no backend produced candidates for a collection.
func AllBackendsFailed(collection string, cause error) *KBError {
	return New(ErrCodeAllBackendsFailed, "all backends failed for collection "+collection, cause).
		WithDetail("collection", collection)
}

// Timeout reports that the request deadline elapsed.
func Timeout(operation string, cause error) *KBError {
	return New(ErrCodeTimeout, operation+" timed out", cause).
		WithSuggestion("retry the request or raise search.request_timeout")
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *KBError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// StorageError creates a storage-related error.
func StorageError(message string, cause error) *KBError {
	return New(ErrCodeStorageUnavailable, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *KBError {
	return New(ErrCodeInternal, message, cause)
}

// As returns the first KBError in err's chain.
func As(err error) (*KBError, bool) {
	var ke *KBError
	if errors.As(err, &ke) {
		return ke, true
	}
	return nil, false
}

// IsRetryable checks if any KBError in the chain is retryable.
func IsRetryable(err error) bool {
	if ke, ok := As(err); ok {
		return ke.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	if ke, ok := As(err); ok {
		return ke.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code, or "" for foreign errors.
func GetCode(err error) string {
	if ke, ok := As(err); ok {
		return ke.Code
	}
	return ""
}

// GetCategory extracts the category, or "" for foreign errors.
func GetCategory(err error) Category {
	if ke, ok := As(err); ok {
		return ke.Category
	}
	return ""
}
