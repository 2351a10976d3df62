package taskvault

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions
var (
	// Validation errors, surfaced synchronously to the mutation caller
	ErrDuplicateKey         = errors.New("unique key already owned by another entity")
	ErrDuplicateCombination = errors.New("key combination already exists")
	ErrNotFound             = errors.New("entity not found")
	ErrInvalidEntity        = errors.New("invalid entity")

	// Background errors, visible only through logs
	ErrPersistenceFailure = errors.New("snapshot write failed")
	ErrLoadFailure        = errors.New("data file unreadable")

	// Lifecycle errors
	ErrStoreClosed = errors.New("store is closed")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
)

// ErrorWithContext adds additional context to errors for better debugging and logging
type ErrorWithContext struct {
	Err     error
	Context map[string]interface{}
}

func (e *ErrorWithContext) Error() string {
	if len(e.Context) == 0 {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v (context: %+v)", e.Err, e.Context)
}

func (e *ErrorWithContext) Unwrap() error {
	return e.Err
}

// WithContext adds context to an error
func WithContext(err error, context map[string]interface{}) error {
	if err == nil {
		return nil
	}
	return &ErrorWithContext{
		Err:     err,
		Context: context,
	}
}

// Common error checking helpers

// IsNotFound checks if an error is a "not found" error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDuplicate checks if an error is a uniqueness violation of either kind
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicateKey) || errors.Is(err, ErrDuplicateCombination)
}

// IsValidation checks if an error is caller-correctable: the mutation was
// refused and no state changed
func IsValidation(err error) bool {
	return IsDuplicate(err) || errors.Is(err, ErrInvalidEntity)
}
