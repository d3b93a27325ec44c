package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sqliteDrivers = []string{DriverSQLite3, DriverSQLite}

func openTestDB(t *testing.T, driver string) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(driver, path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	for _, driver := range sqliteDrivers {
		t.Run(driver, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "test.db")
			db, err := Open(driver, path)
			require.NoError(t, err)
			defer db.Close()

			_, err = os.Stat(path)
			assert.NoError(t, err, "database file was not created")
			assert.Equal(t, driver, db.Driver())
		})
	}
}

func TestOpen_AppliesPragmas(t *testing.T) {
	for _, driver := range sqliteDrivers {
		t.Run(driver, func(t *testing.T) {
			db := openTestDB(t, driver)
			for name, want := range map[string]string{
				"journal_mode": "wal",
				"synchronous":  "1",
				"busy_timeout": "5000",
				"foreign_keys": "1",
			} {
				got, err := db.pragma(name)
				require.NoError(t, err)
				assert.Equal(t, want, got, name)
			}
		})
	}
}

func TestOpen_Errors(t *testing.T) {
	testCases := []struct {
		name   string
		driver string
		dsn    string
		want   string
	}{
		{"unknown driver", "postgres", "x", "unknown driver"},
		{"mysql dsn without database", DriverMySQL, "localhost:3306", "invalid mysql dsn"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Open(tc.driver, tc.dsn)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}

	_, err := OpenMemory(DriverMySQL)
	assert.ErrorContains(t, err, "sqlite driver")
}

func TestDB_PrepareBindQuery(t *testing.T) {
	for _, driver := range sqliteDrivers {
		t.Run(driver, func(t *testing.T) {
			db := openTestDB(t, driver)
			ctx := context.Background()
			require.NoError(t, db.ExecScript(ctx, `
				CREATE TABLE item (id INTEGER PRIMARY KEY, name TEXT);
				INSERT INTO item VALUES (1, 'a'), (2, 'b'), (3, 'c')`))

			stmt, err := db.Prepare(ctx, "select id, name from item where id >= ? order by id")
			require.NoError(t, err)
			defer stmt.Close()
			require.NoError(t, stmt.Bind(1, int64(2)))
			stmt.SetMaxRows(1)

			cur, err := stmt.Query(ctx)
			require.NoError(t, err)
			defer cur.Close()

			var got [][]any
			for cur.Next() {
				got = append(got, []any{cur.Get(0), cur.Get(1)})
			}
			require.NoError(t, cur.Err())
			require.Len(t, got, 1, "max rows caps the cursor")
			assert.EqualValues(t, 2, got[0][0])
			assert.Equal(t, 2, cur.Columns())
		})
	}
}

func TestDB_Exec(t *testing.T) {
	db := openTestDB(t, DriverSQLite3)
	ctx := context.Background()
	require.NoError(t, db.ExecScript(ctx, `CREATE TABLE item (id INTEGER PRIMARY KEY, name TEXT);
		INSERT INTO item VALUES (1, 'a'), (2, 'b')`))

	stmt, err := db.Prepare(ctx, "update item set name = ?")
	require.NoError(t, err)
	defer stmt.Close()
	require.NoError(t, stmt.Bind(1, "z"))
	n, err := stmt.Exec(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	assert.Error(t, stmt.Bind(0, "x"), "ordinals start at 1")
}

func TestExecutor_TimeoutOnRealDatabase(t *testing.T) {
	const endless = "with recursive c(x) as (select 1 union all select x + 1 from c) select count(*) from c"
	for _, driver := range sqliteDrivers {
		t.Run(driver, func(t *testing.T) {
			db := openTestDB(t, driver)
			exec := NewExecutor(db, Schema{}, nil)

			rows, err := exec.Query(context.Background(), endless, nil, Options{Timeout: 50 * time.Millisecond})
			if err == nil {
				for rows.Next() {
				}
				err = rows.Err()
			}
			require.Error(t, err)
			assert.True(t, IsQueryTimeoutError(err), "got %v", err)
			assert.False(t, IsStatementExecutionError(err))
			assert.Zero(t, exec.OpenStatements())
		})
	}
}
