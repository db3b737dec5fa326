package memory

import (
	"errors"
	"fmt"
)

// Sentinel errors for the ingestion and retrieval paths.
var (
	// ErrBackendUnavailable indicates the vector store or embedding service
	// is unreachable. Ingestion-path callers never see this as a failure;
	// the work is queued or deferred instead.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrProviderExhausted indicates every classification provider failed
	// or the circuit breaker is open. Reclassification is skipped and the
	// original type retained.
	ErrProviderExhausted = errors.New("classification providers exhausted")

	// ErrQueueCorruption indicates a persisted queue entry could not be
	// decoded. The entry is isolated; remaining entries still process.
	ErrQueueCorruption = errors.New("queue entry corrupt")

	// ErrNotFound indicates a record does not exist in the store.
	ErrNotFound = errors.New("record not found")
)

// ValidationError rejects malformed input synchronously. It is the only
// ingestion error surfaced to the caller.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// NewValidationError creates a ValidationError for the given field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// DuplicateError signals that content matched an existing live record,
// exactly (hash) or semantically (similarity above threshold). The
// duplicate is merged into the existing record, never inserted.
type DuplicateError struct {
	// ExistingID is the record the content merged into.
	ExistingID string

	// Exact is true for hash matches, false for semantic matches.
	Exact bool

	// Similarity is the cosine similarity for semantic matches.
	Similarity float64
}

func (e *DuplicateError) Error() string {
	if e.Exact {
		return fmt.Sprintf("duplicate content: exact hash match with record %s", e.ExistingID)
	}
	return fmt.Sprintf("duplicate content: %.2f similarity with record %s", e.Similarity, e.ExistingID)
}

// IsDuplicate reports whether err is a DuplicateError, returning it if so.
func IsDuplicate(err error) (*DuplicateError, bool) {
	var de *DuplicateError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}
