package ports

import (
	"errors"
	"fmt"
)

// Common infrastructure errors that can occur during external service
// interactions.
var (
	// ErrRecordNotFound indicates that a ledger has no record under a name.
	ErrRecordNotFound = errors.New("record not found")

	// ErrInvalidName indicates that a record name would escape the ledger
	// location or is otherwise unusable.
	ErrInvalidName = errors.New("invalid record name")

	// ErrImagesUnsupported indicates that a client cannot attach images to
	// a request.
	ErrImagesUnsupported = errors.New("images not supported")

	// ErrConfigNotFound indicates that required configuration is missing.
	ErrConfigNotFound = errors.New("configuration not found")
)

// LedgerError represents an error from a ledger operation.
// It includes the location, record name and operation that failed.
type LedgerError struct {
	// Op is the ledger operation that failed: "list", "read" or "write".
	Op string

	// Location is the ledger location, a directory or a bucket prefix.
	Location string

	// Name is the record involved, empty for list.
	Name string

	// Err is the underlying error that caused the operation to fail.
	Err error
}

// Error implements the error interface for LedgerError.
func (e *LedgerError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("ledger error: operation=%s, location=%s, err=%v", e.Op, e.Location, e.Err)
	}
	return fmt.Sprintf("ledger error: operation=%s, location=%s, name=%s, err=%v", e.Op, e.Location, e.Name, e.Err)
}

// Unwrap returns the underlying error.
func (e *LedgerError) Unwrap() error { return e.Err }

// NewLedgerError creates a new LedgerError with the given details.
func NewLedgerError(op, location, name string, err error) *LedgerError {
	return &LedgerError{
		Op:       op,
		Location: location,
		Name:     name,
		Err:      err,
	}
}

// ConfigError represents an error from configuration operations.
type ConfigError struct {
	// ConfigKey is the configuration key that was involved in the failed
	// operation.
	ConfigKey string

	// Err is the underlying error that caused the configuration operation
	// to fail.
	Err error
}

// Error implements the error interface for ConfigError.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: key=%s, err=%v", e.ConfigKey, e.Err)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error { return e.Err }

// NewConfigError creates a new ConfigError with the given details.
func NewConfigError(key string, err error) *ConfigError {
	return &ConfigError{
		ConfigKey: key,
		Err:       err,
	}
}
