package store

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"time"
)

// Options are per-statement execution settings. Zero values leave the
// client defaults in place.
type Options struct {
	Timeout   time.Duration
	FetchSize int
	MaxRows   int
}

// Executor runs statements for one unit of work. It is not safe for
// concurrent use.
type Executor struct {
	client Client
	schema Schema
	logger *slog.Logger
	open   map[*Rows]struct{}
}

// NewExecutor returns an executor over client. A nil logger logs to
// slog.Default().
func NewExecutor(client Client, schema Schema, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		client: client,
		schema: schema,
		logger: logger,
		open:   make(map[*Rows]struct{}),
	}
}

// Query executes a select and returns its rows. The statement stays open
// until the rows are exhausted, fail or are closed.
func (e *Executor) Query(ctx context.Context, text string, args []any, opts Options) (*Rows, error) {
	sqlText := e.schema.Substitute(text)
	stmt, err := e.prepare(ctx, sqlText, args, opts)
	if err != nil {
		return nil, err
	}
	cur, err := stmt.Query(ctx)
	if err != nil {
		return nil, e.fail(PhaseExecute, sqlText, opts.Timeout, err, stmt.Close())
	}
	rows := &Rows{exec: e, sql: sqlText, timeout: opts.Timeout, stmt: stmt, cur: cur}
	e.open[rows] = struct{}{}
	return rows, nil
}

// Update executes an insert, update or delete and returns the number of
// affected rows. The statement is closed before Update returns.
func (e *Executor) Update(ctx context.Context, text string, args []any, opts Options) (n int64, err error) {
	sqlText := e.schema.Substitute(text)
	stmt, err := e.prepare(ctx, sqlText, args, opts)
	if err != nil {
		return 0, err
	}
	n, err = stmt.Exec(ctx)
	closeErr := stmt.Close()
	if err != nil {
		return 0, e.fail(PhaseExecute, sqlText, opts.Timeout, err, closeErr)
	}
	if closeErr != nil {
		return n, e.fail(PhaseClose, sqlText, opts.Timeout, closeErr, nil)
	}
	return n, nil
}

func (e *Executor) prepare(ctx context.Context, sqlText string, args []any, opts Options) (Statement, error) {
	e.logger.Debug("executing statement", "sql", sqlText, "bindings", len(args))
	stmt, err := e.client.Prepare(ctx, sqlText)
	if err != nil {
		return nil, e.fail(PhasePrepare, sqlText, opts.Timeout, err, nil)
	}
	for i, v := range args {
		if err := stmt.Bind(i+1, v); err != nil {
			return nil, e.fail(PhaseBind, sqlText, opts.Timeout, err, stmt.Close())
		}
	}
	if opts.Timeout > 0 {
		stmt.SetTimeout(opts.Timeout)
	}
	if opts.FetchSize > 0 {
		stmt.SetFetchSize(opts.FetchSize)
	}
	if opts.MaxRows > 0 {
		stmt.SetMaxRows(opts.MaxRows)
	}
	return stmt, nil
}

// fail translates err and logs it. A close failure on the way out is
// joined to the translated error.
func (e *Executor) fail(phase Phase, sqlText string, timeout time.Duration, err, closeErr error) error {
	out := translateError(phase, sqlText, timeout, err)
	if closeErr != nil {
		out = errors.Join(out, translateError(PhaseClose, sqlText, timeout, closeErr))
	}
	e.logger.Error("statement failed", "phase", phase, "sql", sqlText, "error", err)
	return out
}

// OpenStatements returns the number of statements whose rows are still
// open.
func (e *Executor) OpenStatements() int { return len(e.open) }

// Close closes every statement whose rows were not closed.
func (e *Executor) Close() error {
	var errs []error
	for rows := range e.open {
		errs = append(errs, rows.Close())
	}
	return errors.Join(errs...)
}

// Rows is the lazy result of Query.
type Rows struct {
	exec    *Executor
	sql     string
	timeout time.Duration
	stmt    Statement
	cur     Cursor
	row     []any
	err     error
	closed  bool
}

// SQL returns the executed text.
func (r *Rows) SQL() string { return r.sql }

// Next advances to the next row. It closes the rows when they are
// exhausted or fail.
func (r *Rows) Next() bool {
	if r.closed {
		return false
	}
	if r.cur.Next() {
		n := r.cur.Columns()
		if cap(r.row) < n {
			r.row = make([]any, n)
		}
		r.row = r.row[:n]
		for i := range r.row {
			r.row[i] = r.cur.Get(i)
		}
		return true
	}
	if err := r.cur.Err(); err != nil {
		r.err = translateError(PhaseFetch, r.sql, r.timeout, err)
		r.exec.logger.Error("statement failed", "phase", PhaseFetch, "sql", r.sql, "error", err)
	}
	if err := r.Close(); err != nil && r.err == nil {
		r.err = err
	}
	return false
}

// Row returns the current row. The slice is reused by Next.
func (r *Rows) Row() []any { return r.row }

// Err returns the error that ended iteration.
func (r *Rows) Err() error { return r.err }

// Close closes the cursor and its statement. It is idempotent.
func (r *Rows) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	delete(r.exec.open, r)
	curErr := r.cur.Close()
	stmtErr := r.stmt.Close()
	if err := errors.Join(curErr, stmtErr); err != nil {
		return translateError(PhaseClose, r.sql, r.timeout, err)
	}
	return nil
}

// All yields every remaining row. Breaking out of the loop closes the
// rows. Yielded slices are copies.
func (r *Rows) All() iter.Seq2[[]any, error] {
	return func(yield func([]any, error) bool) {
		defer r.Close()
		for r.Next() {
			if !yield(append([]any(nil), r.row...), nil) {
				return
			}
		}
		if r.err != nil {
			yield(nil, r.err)
		}
	}
}
