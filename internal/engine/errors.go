package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/oql/internal/persist"
)

// QueryError represents misuse of the session or query API, detected
// before anything is sent to the database.
type QueryError struct {
	// Code identifies the error category.
	Code QueryErrorCode

	// Message is a human-readable description.
	Message string

	// Query is the query text, empty for criteria queries.
	Query string

	// Parameter is the offending parameter label, for parameter errors.
	Parameter string
}

// QueryErrorCode categorizes query errors.
type QueryErrorCode string

const (
	// ErrCodeUnknownParameter indicates a value for a parameter the query
	// does not declare.
	ErrCodeUnknownParameter QueryErrorCode = "UNKNOWN_PARAMETER"

	// ErrCodeMissingParameter indicates a declared parameter left unbound.
	ErrCodeMissingParameter QueryErrorCode = "MISSING_PARAMETER"

	// ErrCodeInvalidParameter indicates a value of the wrong shape, such as
	// a scalar for an in-list parameter.
	ErrCodeInvalidParameter QueryErrorCode = "INVALID_PARAMETER"

	// ErrCodeNonUniqueResult indicates SingleResult found several results.
	ErrCodeNonUniqueResult QueryErrorCode = "NON_UNIQUE_RESULT"

	// ErrCodeUnknownEntity indicates an entity name missing from the
	// metamodel.
	ErrCodeUnknownEntity QueryErrorCode = "UNKNOWN_ENTITY"

	// ErrCodeSessionClosed indicates use of a closed session.
	ErrCodeSessionClosed QueryErrorCode = "SESSION_CLOSED"
)

// Error implements the error interface.
func (e *QueryError) Error() string {
	if e.Parameter != "" {
		return fmt.Sprintf("%s: %s (parameter=%s)", e.Code, e.Message, e.Parameter)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func isQueryError(err error, codes ...QueryErrorCode) bool {
	var qe *QueryError
	if !errors.As(err, &qe) {
		return false
	}
	for _, c := range codes {
		if qe.Code == c {
			return true
		}
	}
	return false
}

// IsParameterError returns true if err reports an unknown, missing or
// invalid parameter value.
func IsParameterError(err error) bool {
	return isQueryError(err, ErrCodeUnknownParameter, ErrCodeMissingParameter, ErrCodeInvalidParameter)
}

// IsNonUniqueResultError returns true if SingleResult found several results.
func IsNonUniqueResultError(err error) bool {
	return isQueryError(err, ErrCodeNonUniqueResult)
}

// IsSessionClosedError returns true if err reports use of a closed session.
func IsSessionClosedError(err error) bool {
	return isQueryError(err, ErrCodeSessionClosed)
}

// IsUnknownEntityError returns true if err reports an unknown entity name.
func IsUnknownEntityError(err error) bool {
	return isQueryError(err, ErrCodeUnknownEntity)
}

// IllegalQueryOperationError reports an operation that does not fit the
// statement: reading rows from an update or delete, or executing a select
// or a read-only query as a mutation.
type IllegalQueryOperationError struct {
	Operation string
	Statement string
}

func (e *IllegalQueryOperationError) Error() string {
	return fmt.Sprintf("illegal query operation: %s on a %s statement", e.Operation, e.Statement)
}

// IsIllegalQueryOperationError returns true if err is or wraps an
// *IllegalQueryOperationError.
func IsIllegalQueryOperationError(err error) bool {
	var e *IllegalQueryOperationError
	return errors.As(err, &e)
}

// InconsistentAssociationState records a row whose owner carries a
// foreign key while the fetch joined target row is missing, typically a
// concurrent delete. The association keeps its last known value and the
// read continues; sessions collect these in Warnings.
type InconsistentAssociationState struct {
	Owner      persist.EntityKey
	Attribute  string
	ForeignKey []any
}

func (e *InconsistentAssociationState) Error() string {
	return fmt.Sprintf("inconsistent association state: %s.%s references %v but no target row was joined; kept last known value",
		e.Owner, e.Attribute, e.ForeignKey)
}
