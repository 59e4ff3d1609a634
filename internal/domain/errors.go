package domain

import (
	"errors"
	"fmt"
)

// Common domain errors raised while processing and aggregating work items.
var (
	// ErrInvalidVerdict indicates that a judge reply did not start with
	// "yes" or "no".
	ErrInvalidVerdict = errors.New("invalid verdict")

	// ErrMalformedRecord indicates that a persisted record could not be
	// decoded or is missing required fields.
	ErrMalformedRecord = errors.New("malformed record")

	// ErrIndexOutOfRange indicates that a work item index is outside the
	// manifest.
	ErrIndexOutOfRange = errors.New("index out of range")

	// ErrEmptyResponse indicates that a model returned no usable text.
	ErrEmptyResponse = errors.New("empty model response")

	// ErrWorkerPanic indicates that a worker goroutine crashed.
	ErrWorkerPanic = errors.New("worker panic")

	// ErrInvalidConfiguration indicates that configuration is invalid or incomplete.
	ErrInvalidConfiguration = errors.New("invalid configuration")
)

// ItemError is a failure confined to one work item. It never aborts the
// chunk the item belongs to.
type ItemError struct {
	// Index is the work item that failed.
	Index int

	// Op names the step that failed, for example "generate" or "write".
	Op string

	// Err is the underlying failure.
	Err error
}

// Error implements the error interface for ItemError.
func (e *ItemError) Error() string {
	return fmt.Sprintf("item error: index=%d, op=%s, err=%v", e.Index, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *ItemError) Unwrap() error { return e.Err }

// NewItemError creates a new ItemError with the given details.
func NewItemError(index int, op string, err error) *ItemError {
	return &ItemError{Index: index, Op: op, Err: err}
}

// OrchestrationError is a failure of the pass machinery itself (listing the
// ledger, a crashed worker) rather than of an individual item.
type OrchestrationError struct {
	// Pass is the 1-based pass number during which the failure happened.
	Pass int

	// Err is the underlying failure.
	Err error
}

// Error implements the error interface for OrchestrationError.
func (e *OrchestrationError) Error() string {
	return fmt.Sprintf("orchestration error: pass=%d, err=%v", e.Pass, e.Err)
}

// Unwrap returns the underlying error.
func (e *OrchestrationError) Unwrap() error { return e.Err }

// NewOrchestrationError creates a new OrchestrationError.
func NewOrchestrationError(pass int, err error) *OrchestrationError {
	return &OrchestrationError{Pass: pass, Err: err}
}

// ValidationError represents an error that occurred during validation.
// It can contain multiple validation failures.
type ValidationError struct {
	// Entity is the name of the entity that failed validation.
	Entity string

	// Errors contains the list of validation error messages.
	Errors []string
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("validation error for %s: %s", e.Entity, e.Errors[0])
	}
	return fmt.Sprintf("validation errors for %s: %v", e.Entity, e.Errors)
}

// Unwrap lets callers match validation failures against ErrMalformedRecord.
func (e *ValidationError) Unwrap() error { return ErrMalformedRecord }

// AddError adds a new error message to the validation error.
func (e *ValidationError) AddError(msg string) { e.Errors = append(e.Errors, msg) }

// HasErrors returns true if there are any validation errors.
func (e *ValidationError) HasErrors() bool { return len(e.Errors) > 0 }

// NewValidationError creates a new ValidationError for the given entity.
func NewValidationError(entity string) *ValidationError {
	return &ValidationError{
		Entity: entity,
		Errors: make([]string, 0),
	}
}
