package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
)

func TestTranslateError(t *testing.T) {
	testCases := []struct {
		name    string
		err     error
		timeout bool
	}{
		{"deadline", context.DeadlineExceeded, true},
		{"wrapped deadline", fmt.Errorf("driver: %w", context.DeadlineExceeded), true},
		{"mysql max execution time", &mysql.MySQLError{Number: 3024, Message: "maximum statement execution time exceeded"}, true},
		{"mysql query interrupted", &mysql.MySQLError{Number: 1317}, true},
		{"mysql sort aborted", &mysql.MySQLError{Number: 1028}, true},
		{"mysql duplicate key", &mysql.MySQLError{Number: 1062}, false},
		{"sqlite interrupt", sqlite3.Error{Code: sqlite3.ErrInterrupt}, true},
		{"sqlite constraint", sqlite3.Error{Code: sqlite3.ErrConstraint}, false},
		{"cancelled", context.Canceled, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := translateError(PhaseExecute, "select 1", 0, tc.err)
			assert.Equal(t, tc.timeout, IsQueryTimeoutError(err))
			assert.Equal(t, !tc.timeout, IsStatementExecutionError(err))
			assert.ErrorIs(t, err, tc.err, "the driver error stays reachable")
		})
	}

	assert.NoError(t, translateError(PhaseExecute, "select 1", 0, nil))
}

func TestStatementExecutionError_Message(t *testing.T) {
	err := &StatementExecutionError{Phase: PhasePrepare, SQL: "selec 1", Err: errors.New("syntax error")}
	assert.Equal(t, "prepare failed for [selec 1]: syntax error", err.Error())
}
