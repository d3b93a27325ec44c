package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

// Phase names the step of a statement's life a failure happened in.
type Phase string

const (
	PhasePrepare Phase = "prepare"
	PhaseBind    Phase = "bind"
	PhaseExecute Phase = "execute"
	PhaseFetch   Phase = "fetch"
	PhaseClose   Phase = "close"
)

// StatementExecutionError wraps a database client failure.
type StatementExecutionError struct {
	Phase Phase
	SQL   string
	Err   error
}

func (e *StatementExecutionError) Error() string {
	return fmt.Sprintf("%s failed for [%s]: %v", e.Phase, e.SQL, e.Err)
}

func (e *StatementExecutionError) Unwrap() error { return e.Err }

// QueryTimeoutError reports a statement cancelled because it ran past its
// timeout. It is returned instead of a StatementExecutionError.
type QueryTimeoutError struct {
	SQL     string
	Timeout time.Duration
	Err     error
}

func (e *QueryTimeoutError) Error() string {
	if e.Timeout > 0 {
		return fmt.Sprintf("statement timed out after %s [%s]: %v", e.Timeout, e.SQL, e.Err)
	}
	return fmt.Sprintf("statement timed out [%s]: %v", e.SQL, e.Err)
}

func (e *QueryTimeoutError) Unwrap() error { return e.Err }

// IsStatementExecutionError reports whether err is or wraps a
// *StatementExecutionError.
func IsStatementExecutionError(err error) bool {
	var e *StatementExecutionError
	return errors.As(err, &e)
}

// IsQueryTimeoutError reports whether err is or wraps a *QueryTimeoutError.
func IsQueryTimeoutError(err error) bool {
	var e *QueryTimeoutError
	return errors.As(err, &e)
}

// MySQL server errors raised when a statement is interrupted by
// max_execution_time or KILL QUERY.
const (
	mysqlExecutionTimeExceeded = 3024
	mysqlQueryInterrupted      = 1317
	mysqlSortAborted           = 1028
)

// translateError wraps a client failure in the store's error types.
func translateError(phase Phase, sql string, timeout time.Duration, err error) error {
	if err == nil {
		return nil
	}
	if isTimeout(err) {
		return &QueryTimeoutError{SQL: sql, Timeout: timeout, Err: err}
	}
	return &StatementExecutionError{Phase: phase, SQL: sql, Err: err}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case mysqlExecutionTimeExceeded, mysqlQueryInterrupted, mysqlSortAborted:
			return true
		}
	}
	var se sqlite3.Error
	if errors.As(err, &se) && se.Code == sqlite3.ErrInterrupt {
		return true
	}
	var le *sqlite.Error
	if errors.As(err, &le) && le.Code()&0xff == sqlitelib.SQLITE_INTERRUPT {
		return true
	}
	return false
}
