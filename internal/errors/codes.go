// Package errors provides structured error handling for kbsearch.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Storage errors (database, files)
//   - 3XX: Backend errors (retrieval, reranking, deadlines)
//   - 4XX: Validation errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryStorage indicates database and file errors.
	CategoryStorage Category = "STORAGE"
	// CategoryBackend indicates failures of retrieval or reranking backends.
	CategoryBackend Category = "BACKEND"
	// CategoryValidation indicates rejected input.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
	// SeverityInfo indicates informational only.
	SeverityInfo Severity = "INFO"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// Storage errors (200-299)
	ErrCodeStorageUnavailable = "ERR_201_STORAGE_UNAVAILABLE"
	ErrCodeStorageCorrupt     = "ERR_202_STORAGE_CORRUPT"
	ErrCodeNotFound           = "ERR_203_NOT_FOUND"

	// Backend errors (300-399)
	ErrCodeBackendUnavailable = "ERR_301_BACKEND_UNAVAILABLE"
	ErrCodeAllBackendsFailed  = "ERR_302_ALL_BACKENDS_FAILED"
	ErrCodeRerankUnavailable  = "ERR_303_RERANK_UNAVAILABLE"
	ErrCodeTimeout            = "ERR_304_TIMEOUT"

	// Validation errors (400-499)
	ErrCodeInvalidQuery      = "ERR_401_INVALID_QUERY"
	ErrCodeUnknownCollection = "ERR_402_UNKNOWN_COLLECTION"
	ErrCodeInvalidFeedback   = "ERR_403_INVALID_FEEDBACK"
	ErrCodeUnknownResult     = "ERR_404_UNKNOWN_RESULT"
	ErrCodeInvalidDocument   = "ERR_405_INVALID_DOCUMENT"

	// Internal errors (500-599)
	ErrCodeCacheUnavailable = "ERR_501_CACHE_UNAVAILABLE"
	ErrCodeInternal         = "ERR_502_INTERNAL"
	ErrCodeEmbeddingFailed  = "ERR_503_EMBEDDING_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	// "ERR_" prefix plus three digits.
	if len(code) < 7 {
		return CategoryInternal
	}

	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStorage
	case '3':
		return CategoryBackend
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeStorageCorrupt:
		return SeverityFatal
	case ErrCodeCacheUnavailable, ErrCodeRerankUnavailable:
		// Both are bypassed; the request still succeeds.
		return SeverityWarning
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeBackendUnavailable, ErrCodeRerankUnavailable, ErrCodeTimeout, ErrCodeStorageUnavailable:
		return true
	default:
		return false
	}
}
