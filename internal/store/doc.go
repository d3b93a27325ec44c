// Package store executes rendered statements against a relational database.
//
// The engine talks to the database through the Client interface: prepare a
// statement, bind values by ordinal, apply timeout, fetch size and max rows,
// execute, walk a cursor, close. DB implements Client over database/sql for
// the sqlite3 (mattn/go-sqlite3), sqlite (modernc.org/sqlite) and mysql
// (go-sql-driver/mysql) drivers.
//
// Executor sits on top of a Client for one unit of work:
//
//   - schema placeholders ({h-schema}, {h-catalog}, {h-domain}) are replaced
//     before a statement is prepared
//   - every prepared statement is closed on every exit path, including
//     failures while binding, executing or iterating
//   - driver failures come back as *StatementExecutionError, or as
//     *QueryTimeoutError when the statement ran out of time; both unwrap to
//     the driver error
//   - open cursors are tracked so that Close releases whatever the caller
//     abandoned
//
// # Database Configuration
//
// SQLite connections are opened with:
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
