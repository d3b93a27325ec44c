package persist

import (
	"errors"
	"fmt"
)

// LazyInitializationError reports a reference or collection that cannot
// be loaded: its context was cleared or closed, or has no loader.
type LazyInitializationError struct {
	Target string
	Reason string
}

func (e *LazyInitializationError) Error() string {
	return fmt.Sprintf("could not initialize %s: %s", e.Target, e.Reason)
}

// EntityNotFoundError reports a reference whose target row does not exist.
type EntityNotFoundError struct {
	Key EntityKey
}

func (e *EntityNotFoundError) Error() string {
	return fmt.Sprintf("no row for %s", e.Key)
}

// IsLazyInitializationError reports whether err is or wraps a
// *LazyInitializationError.
func IsLazyInitializationError(err error) bool {
	var e *LazyInitializationError
	return errors.As(err, &e)
}

// IsEntityNotFoundError reports whether err is or wraps an
// *EntityNotFoundError.
func IsEntityNotFoundError(err error) bool {
	var e *EntityNotFoundError
	return errors.As(err, &e)
}
