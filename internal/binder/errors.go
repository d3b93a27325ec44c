package binder

import (
	"errors"
	"fmt"
)

// PathResolutionError reports a path, entity or column name that does not
// resolve against the metamodel or the query's ranges.
type PathResolutionError struct {
	Path    string
	Pos     int
	Message string
}

func (e *PathResolutionError) Error() string {
	return fmt.Sprintf("cannot resolve path '%s' at %d: %s", e.Path, e.Pos, e.Message)
}

// AmbiguousAliasError reports an alias declared twice in one query, or an
// unqualified name more than one range could supply.
type AmbiguousAliasError struct {
	Alias   string
	Pos     int
	Message string
}

func (e *AmbiguousAliasError) Error() string {
	return fmt.Sprintf("ambiguous alias '%s' at %d: %s", e.Alias, e.Pos, e.Message)
}

// TypeMismatchError reports operands of incompatible types.
type TypeMismatchError struct {
	Left    string
	Right   string
	Context string
	Pos     int
}

func (e *TypeMismatchError) Error() string {
	if e.Right == "" {
		return fmt.Sprintf("type mismatch at %d in %s: %s", e.Pos, e.Context, e.Left)
	}
	return fmt.Sprintf("type mismatch at %d in %s: %s vs %s", e.Pos, e.Context, e.Left, e.Right)
}

// IsPathResolutionError reports whether err is or wraps a *PathResolutionError.
func IsPathResolutionError(err error) bool {
	var e *PathResolutionError
	return errors.As(err, &e)
}

// IsAmbiguousAliasError reports whether err is or wraps an *AmbiguousAliasError.
func IsAmbiguousAliasError(err error) bool {
	var e *AmbiguousAliasError
	return errors.As(err, &e)
}

// IsTypeMismatchError reports whether err is or wraps a *TypeMismatchError.
func IsTypeMismatchError(err error) bool {
	var e *TypeMismatchError
	return errors.As(err, &e)
}
