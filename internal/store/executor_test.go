package store_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/oql/internal/store"
	"github.com/roach88/oql/internal/testutil"
)

func newExecutor(client store.Client) *store.Executor {
	return store.NewExecutor(client, store.Schema{Schema: "app"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestExecutor_QueryStreamsAndCloses(t *testing.T) {
	client := testutil.NewFakeClient().On("select a from app.t where b = ?", testutil.FakeResult{
		Rows: [][]any{{int64(1)}, {int64(2)}},
	})
	exec := newExecutor(client)

	rows, err := exec.Query(context.Background(), "select a from {h-schema}t where b = ?", []any{"x"},
		store.Options{Timeout: time.Second, FetchSize: 50, MaxRows: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, exec.OpenStatements())

	var got []any
	for rows.Next() {
		got = append(got, rows.Row()[0])
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []any{int64(1), int64(2)}, got)
	assert.Zero(t, exec.OpenStatements(), "exhausted rows close their statement")
	assert.Empty(t, client.Unclosed())

	stmt := client.Statements()[0]
	assert.Equal(t, []any{"x"}, stmt.Args)
	assert.Equal(t, time.Second, stmt.Timeout)
	assert.Equal(t, 50, stmt.FetchSize)
	assert.Equal(t, 10, stmt.MaxRows)

	assert.NoError(t, rows.Close(), "close is idempotent")
}

func TestExecutor_AllClosesOnBreak(t *testing.T) {
	client := testutil.NewFakeClient().Otherwise(testutil.FakeResult{
		Rows: [][]any{{1}, {2}, {3}},
	})
	exec := newExecutor(client)

	rows, err := exec.Query(context.Background(), "select 1", nil, store.Options{})
	require.NoError(t, err)
	n := 0
	for row, err := range rows.All() {
		require.NoError(t, err)
		assert.Len(t, row, 1)
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)
	assert.Empty(t, client.Unclosed())
}

func TestExecutor_ClosesStatementOnEveryFailure(t *testing.T) {
	cause := errors.New("driver failure")
	testCases := []struct {
		name  string
		res   testutil.FakeResult
		phase store.Phase
		// iterate reports failures raised while reading rows.
		iterate bool
	}{
		{"prepare", testutil.FakeResult{PrepareErr: cause}, store.PhasePrepare, false},
		{"bind", testutil.FakeResult{BindErr: cause}, store.PhaseBind, false},
		{"execute", testutil.FakeResult{ExecErr: cause}, store.PhaseExecute, false},
		{"fetch", testutil.FakeResult{Rows: [][]any{{1}, {2}}, FetchErr: cause, FetchErrAfter: 1}, store.PhaseFetch, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			client := testutil.NewFakeClient().Otherwise(tc.res)
			exec := newExecutor(client)

			rows, err := exec.Query(context.Background(), "select x from t", []any{1}, store.Options{})
			if tc.iterate {
				require.NoError(t, err)
				for rows.Next() {
				}
				err = rows.Err()
			}
			require.Error(t, err)

			var se *store.StatementExecutionError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tc.phase, se.Phase)
			assert.Equal(t, "select x from t", se.SQL)
			assert.ErrorIs(t, err, cause)

			assert.Empty(t, client.Unclosed(), "statement left open after %s failure", tc.name)
			assert.Zero(t, exec.OpenStatements())
		})
	}
}

func TestExecutor_TimeoutIsDistinct(t *testing.T) {
	testCases := []struct {
		name string
		err  error
	}{
		{"deadline", context.DeadlineExceeded},
		{"mysql", &mysql.MySQLError{Number: 3024, Message: "maximum statement execution time exceeded"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			client := testutil.NewFakeClient().Otherwise(testutil.FakeResult{ExecErr: tc.err})
			exec := newExecutor(client)

			_, err := exec.Query(context.Background(), "select 1", nil, store.Options{Timeout: time.Millisecond})
			var te *store.QueryTimeoutError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, time.Millisecond, te.Timeout)
			assert.False(t, store.IsStatementExecutionError(err))
			assert.ErrorIs(t, err, tc.err)
			assert.Empty(t, client.Unclosed())
		})
	}
}

func TestExecutor_Update(t *testing.T) {
	client := testutil.NewFakeClient().On("delete from app.t", testutil.FakeResult{Affected: 3})
	exec := newExecutor(client)

	n, err := exec.Update(context.Background(), "delete from {h-schema}t", nil, store.Options{})
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	assert.Empty(t, client.Unclosed())

	client.On("delete from app.u", testutil.FakeResult{ExecErr: errors.New("locked")})
	_, err = exec.Update(context.Background(), "delete from {h-schema}u", nil, store.Options{})
	assert.True(t, store.IsStatementExecutionError(err))
	assert.Empty(t, client.Unclosed())
}

func TestExecutor_CloseFailureIsReported(t *testing.T) {
	client := testutil.NewFakeClient().Otherwise(testutil.FakeResult{CloseErr: errors.New("close failed")})
	exec := newExecutor(client)

	_, err := exec.Update(context.Background(), "delete from t", nil, store.Options{})
	var se *store.StatementExecutionError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, store.PhaseClose, se.Phase)
}

func TestExecutor_CloseReleasesAbandonedRows(t *testing.T) {
	client := testutil.NewFakeClient().Otherwise(testutil.FakeResult{Rows: [][]any{{1}, {2}}})
	exec := newExecutor(client)

	for range 3 {
		rows, err := exec.Query(context.Background(), "select 1", nil, store.Options{})
		require.NoError(t, err)
		require.True(t, rows.Next())
	}
	assert.Equal(t, 3, exec.OpenStatements())
	assert.Len(t, client.Unclosed(), 3)

	require.NoError(t, exec.Close())
	assert.Zero(t, exec.OpenStatements())
	assert.Empty(t, client.Unclosed())
}

func TestExecutor_SampleDatabase(t *testing.T) {
	db := testutil.OpenSampleDB(t, store.DriverSQLite)
	exec := newExecutor(db)

	rows, err := exec.Query(context.Background(), "select name from person where age > ? order by id", []any{int64(30)}, store.Options{})
	require.NoError(t, err)
	var names []any
	for row, err := range rows.All() {
		require.NoError(t, err)
		names = append(names, row[0])
	}
	assert.Equal(t, []any{"Ann", "Bob"}, names)

	n, err := exec.Update(context.Background(), "update person set age = age + 1 where employer_id = ?", []any{int64(1)}, store.Options{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}
