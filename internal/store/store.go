package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// Driver names accepted by Open.
const (
	DriverSQLite3 = "sqlite3" // github.com/mattn/go-sqlite3 (cgo)
	DriverSQLite  = "sqlite"  // modernc.org/sqlite (pure Go)
	DriverMySQL   = "mysql"   // github.com/go-sql-driver/mysql
)

// DB is a Client backed by a database/sql pool.
type DB struct {
	db     *sql.DB
	driver string
}

// Open connects to the database at dsn through driver.
//
// SQLite databases are configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// MySQL DSNs are parsed and reformatted with parseTime enabled so temporal
// columns scan as time.Time.
func Open(driver, dsn string) (*DB, error) {
	switch driver {
	case DriverSQLite3, DriverSQLite:
	case DriverMySQL:
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("invalid mysql dsn: %w", err)
		}
		cfg.ParseTime = true
		dsn = cfg.FormatDSN()
	default:
		return nil, fmt.Errorf("unknown driver %q (want %s, %s or %s)", driver, DriverSQLite3, DriverSQLite, DriverMySQL)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Verify connection works
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if isSQLite(driver) {
		// SQLite only supports one writer at a time, and an in-memory
		// database lives exactly as long as its connection.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		if err := applyPragmas(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply pragmas: %w", err)
		}
	}

	return &DB{db: db, driver: driver}, nil
}

// OpenMemory opens a private in-memory SQLite database.
func OpenMemory(driver string) (*DB, error) {
	if !isSQLite(driver) {
		return nil, fmt.Errorf("in-memory databases need a sqlite driver, got %q", driver)
	}
	return Open(driver, ":memory:")
}

func isSQLite(driver string) bool {
	return driver == DriverSQLite3 || driver == DriverSQLite
}

// Close closes the connection pool.
func (d *DB) Close() error {
	if d.db == nil {
		return nil
	}
	return d.db.Close()
}

// SQL returns the underlying pool for schema setup and fixtures.
// Statements of the engine go through Prepare.
func (d *DB) SQL() *sql.DB {
	return d.db
}

// Driver returns the driver name the database was opened with.
func (d *DB) Driver() string { return d.driver }

// ExecScript runs semicolon separated DDL or DML statements in order.
// Statements must not contain semicolons inside literals.
func (d *DB) ExecScript(ctx context.Context, script string) error {
	for _, stmt := range strings.Split(script, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute %q: %w", stmt, err)
		}
	}
	return nil
}

// Prepare implements Client.
func (d *DB) Prepare(ctx context.Context, text string) (Statement, error) {
	stmt, err := d.db.PrepareContext(ctx, text)
	if err != nil {
		return nil, err
	}
	return &sqlStatement{stmt: stmt}, nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// pragma reads a pragma's current value.
func (d *DB) pragma(name string) (string, error) {
	var value string
	if err := d.db.QueryRow("PRAGMA " + name).Scan(&value); err != nil {
		return "", fmt.Errorf("failed to query %s: %w", name, err)
	}
	return value, nil
}
