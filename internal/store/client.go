package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Client prepares statements. Connection lifetime belongs to the
// implementation.
type Client interface {
	Prepare(ctx context.Context, text string) (Statement, error)
}

// Statement is a prepared statement. Ordinals start at 1.
type Statement interface {
	Bind(ordinal int, value any) error
	SetTimeout(d time.Duration)
	SetFetchSize(n int)
	SetMaxRows(n int)
	Query(ctx context.Context) (Cursor, error)
	Exec(ctx context.Context) (int64, error)
	Close() error
}

// Cursor walks the rows of an executed query. Get reads column i
// (0-based) of the current row.
type Cursor interface {
	Next() bool
	Columns() int
	Get(i int) any
	Err() error
	Close() error
}

type sqlStatement struct {
	stmt      *sql.Stmt
	args      []any
	timeout   time.Duration
	fetchSize int
	maxRows   int
}

func (s *sqlStatement) Bind(ordinal int, value any) error {
	if ordinal < 1 {
		return fmt.Errorf("bind ordinal %d out of range", ordinal)
	}
	for len(s.args) < ordinal {
		s.args = append(s.args, nil)
	}
	s.args[ordinal-1] = value
	return nil
}

func (s *sqlStatement) SetTimeout(d time.Duration) { s.timeout = d }

// SetFetchSize records the hint. database/sql streams rows from the driver
// and offers no fetch size knob.
func (s *sqlStatement) SetFetchSize(n int) { s.fetchSize = n }

func (s *sqlStatement) SetMaxRows(n int) { s.maxRows = n }

func (s *sqlStatement) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout > 0 {
		return context.WithTimeout(ctx, s.timeout)
	}
	return context.WithCancel(ctx)
}

func (s *sqlStatement) Query(ctx context.Context) (Cursor, error) {
	ctx, cancel := s.withTimeout(ctx)
	rows, err := s.stmt.QueryContext(ctx, s.args...)
	if err != nil {
		cancel()
		return nil, withDeadline(ctx, err)
	}
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		cancel()
		return nil, err
	}
	return &sqlCursor{ctx: ctx, rows: rows, cancel: cancel, maxRows: s.maxRows, values: make([]any, len(cols))}, nil
}

func (s *sqlStatement) Exec(ctx context.Context) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	res, err := s.stmt.ExecContext(ctx, s.args...)
	if err != nil {
		return 0, withDeadline(ctx, err)
	}
	return res.RowsAffected()
}

func (s *sqlStatement) Close() error { return s.stmt.Close() }

// withDeadline attaches the context's deadline error to a driver error
// that does not report it, so timeouts are recognized whatever the driver
// returns on interruption.
func withDeadline(ctx context.Context, err error) error {
	if ctx.Err() == nil || errors.Is(err, ctx.Err()) {
		return err
	}
	return errors.Join(err, ctx.Err())
}

type sqlCursor struct {
	ctx     context.Context
	rows    *sql.Rows
	cancel  context.CancelFunc
	maxRows int
	read    int
	values  []any
	err     error
}

func (c *sqlCursor) Next() bool {
	if c.err != nil || (c.maxRows > 0 && c.read >= c.maxRows) {
		return false
	}
	if !c.rows.Next() {
		return false
	}
	ptrs := make([]any, len(c.values))
	for i := range c.values {
		c.values[i] = nil
		ptrs[i] = &c.values[i]
	}
	if err := c.rows.Scan(ptrs...); err != nil {
		c.err = err
		return false
	}
	c.read++
	return true
}

func (c *sqlCursor) Columns() int { return len(c.values) }

// Get returns column i. Byte slices are copied since the driver may reuse
// them on the next row.
func (c *sqlCursor) Get(i int) any {
	if b, ok := c.values[i].([]byte); ok {
		return append([]byte(nil), b...)
	}
	return c.values[i]
}

func (c *sqlCursor) Err() error {
	if c.err != nil {
		return withDeadline(c.ctx, c.err)
	}
	if err := c.rows.Err(); err != nil {
		return withDeadline(c.ctx, err)
	}
	return nil
}

func (c *sqlCursor) Close() error {
	defer c.cancel()
	return c.rows.Close()
}
