package contracts

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across packages. Callers match with errors.Is.
var (
	// ErrCatalogUnavailable means the rule source could not be read
	ErrCatalogUnavailable = errors.New("rule catalog unavailable")
	// ErrInvalidWeights means the dimension weights are not a valid distribution
	ErrInvalidWeights = errors.New("invalid dimension weights")
	// ErrMissingThreshold means no active threshold exists for a bank
	ErrMissingThreshold = errors.New("missing quality threshold")
	// ErrEngineTimeout means the batch exceeded its wall-clock guard
	ErrEngineTimeout = errors.New("engine timeout")
	// ErrBatchCancelled means the caller cancelled the batch
	ErrBatchCancelled = errors.New("batch cancelled")
	// ErrConfiguration is the parent of every ConfigurationError
	ErrConfiguration = errors.New("configuration error")
	// ErrInvalidInput means a programmer passed nil or malformed arguments
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound means the requested record does not exist
	ErrNotFound = errors.New("not found")
	// ErrAlreadyProcessed means the batch already reached a terminal state
	ErrAlreadyProcessed = errors.New("batch already processed")
)

// ConfigurationError is a fatal problem with rules, parameters or weights
type ConfigurationError struct {
	Field   string
	Message string
}

func (e ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Unwrap lets errors.Is match ErrConfiguration
func (e ConfigurationError) Unwrap() error {
	return ErrConfiguration
}

// EngineTimeoutError carries the partial stats of a batch that ran out of time.
// The stats are for observability only.
type EngineTimeoutError struct {
	Stats ExecutionStats
}

func (e *EngineTimeoutError) Error() string {
	return fmt.Sprintf("engine timeout after %d exposures processed", e.Stats.ExposuresProcessed)
}

// Unwrap lets errors.Is match ErrEngineTimeout
func (e *EngineTimeoutError) Unwrap() error {
	return ErrEngineTimeout
}

// IsFatal reports whether err must abort a batch with no result
func IsFatal(err error) bool {
	return errors.Is(err, ErrConfiguration) ||
		errors.Is(err, ErrInvalidWeights) ||
		errors.Is(err, ErrCatalogUnavailable) ||
		errors.Is(err, ErrEngineTimeout) ||
		errors.Is(err, ErrBatchCancelled)
}
