package cli

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/oql/internal/store"
)

// shopDB creates a file database loaded with the shop fixture and returns
// the flags pointing exec at it.
func shopDB(t *testing.T) []string {
	t.Helper()
	script, err := os.ReadFile(filepath.Join("testdata", "shop.sql"))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "shop.db")
	db, err := store.Open(store.DriverSQLite, path)
	require.NoError(t, err)
	require.NoError(t, db.ExecScript(context.Background(), string(script)))
	require.NoError(t, db.Close())

	return []string{"-m", shopModel, "--driver", store.DriverSQLite, "--dsn", path}
}

func execArgs(db []string, args ...string) []string {
	return append(append([]string{"exec"}, db...), args...)
}

func execJSON(t *testing.T, args ...string) ExecResult {
	t.Helper()
	out, err := execute(t, nil, append([]string{"--format", "json"}, args...)...)
	require.NoError(t, err, out)

	var resp struct {
		Status string     `json:"status"`
		Data   ExecResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Equal(t, "ok", resp.Status)
	return resp.Data
}

func TestExec_Select(t *testing.T) {
	db := shopDB(t)

	t.Run("entity result", func(t *testing.T) {
		out, err := execute(t, nil, execArgs(db, "-p", "name=Ann", "select c from Customer c where c.name = :name")...)
		require.NoError(t, err)
		assert.Contains(t, out, "Customer{")
		assert.Contains(t, out, "name=Ann")
		assert.Contains(t, out, "(1 results)")
	})

	t.Run("in-list parameter", func(t *testing.T) {
		res := execJSON(t, execArgs(db, "--param", "ids=2, 1", "select c.name from Customer c where c.id in :ids order by c.name")...)
		assert.Equal(t, "select", res.Kind)
		assert.Equal(t, [][]string{{"Ann"}, {"Bob"}}, res.Results)
		assert.Contains(t, res.SQL, "in (?, ?)")
	})

	t.Run("entity parameter by identifier", func(t *testing.T) {
		res := execJSON(t, execArgs(db, "-p", "c=1", "select o.id from Order o where o.customer = :c order by o.id")...)
		assert.Equal(t, [][]string{{"10"}, {"11"}}, res.Results)
	})

	t.Run("positional parameter and tuple", func(t *testing.T) {
		res := execJSON(t, execArgs(db, "-p", "1=2", "select c.name, c.email from Customer c where c.id = ?1")...)
		assert.Equal(t, [][]string{{"Bob", "bob@example.com"}}, res.Results)
	})

	t.Run("paging", func(t *testing.T) {
		res := execJSON(t, execArgs(db, "--first-result", "1", "--max-results", "1", "select c.name from Customer c order by c.name")...)
		assert.Equal(t, [][]string{{"Bob"}}, res.Results)
	})

	t.Run("subtype", func(t *testing.T) {
		res := execJSON(t, execArgs(db, "select r.priority from Rush r")...)
		assert.Equal(t, [][]string{{"2"}}, res.Results)
	})
}

func TestExec_Update(t *testing.T) {
	db := shopDB(t)

	out, err := execute(t, nil, execArgs(db, "-p", "n=Zed", "update Customer c set c.name = :n where c.id = 3")...)
	require.NoError(t, err)
	assert.Contains(t, out, "1 rows affected")

	res := execJSON(t, execArgs(db, "select c.name from Customer c where c.id = 3")...)
	assert.Equal(t, [][]string{{"Zed"}}, res.Results)

	res = execJSON(t, execArgs(db, "delete from Rush r where r.priority > 1")...)
	assert.Equal(t, "delete", res.Kind)
	require.NotNil(t, res.Affected)
	assert.Equal(t, int64(1), *res.Affected)

	res = execJSON(t, execArgs(db, "select o.id from Order o order by o.id")...)
	assert.Equal(t, [][]string{{"10"}, {"12"}}, res.Results)
}

func TestExec_Errors(t *testing.T) {
	db := shopDB(t)

	testCases := []struct {
		name     string
		args     []string
		code     string
		exitCode int
	}{
		{"missing parameter", execArgs(db, "select c from Customer c where c.name = :name"), ErrCodeParameter, ExitFailure},
		{"unknown parameter", execArgs(db, "-p", "nope=1", "select c from Customer c"), ErrCodeParameter, ExitFailure},
		{"malformed parameter", execArgs(db, "-p", "name", "select c from Customer c where c.name = :name"), ErrCodeParameter, ExitFailure},
		{"bad identifier", execArgs(db, "-p", "c=abc", "select o from Order o where o.customer = :c"), ErrCodeParameter, ExitFailure},
		{"bind error", execArgs(db, "select c.nickname from Customer c"), ErrCodeBind, ExitFailure},
		{"no dsn", []string{"exec", "-m", shopModel, "select c from Customer c"}, ErrCodeSettings, ExitCommandError},
		{"bad driver", execArgs(db, "--driver", "pgx", "select c from Customer c"), ErrCodeDatabase, ExitCommandError},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := execute(t, nil, tc.args...)
			require.Error(t, err)
			assert.Equal(t, tc.exitCode, GetExitCode(err))
			assert.Contains(t, out, "Error ["+tc.code+"]")
		})
	}
}
