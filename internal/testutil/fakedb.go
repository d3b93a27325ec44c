package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/roach88/oql/internal/store"
)

// FakeResult is the canned outcome of one statement.
type FakeResult struct {
	Rows [][]any
	// Affected is returned by Exec.
	Affected int64
	// PrepareErr, BindErr and ExecErr fail the matching step.
	PrepareErr error
	BindErr    error
	ExecErr    error
	// FetchErr ends iteration after FetchErrAfter rows.
	FetchErr      error
	FetchErrAfter int
	// CloseErr is returned when the statement is closed.
	CloseErr error
}

// FakeClient is a store.Client that answers from canned results and
// records every statement it prepared.
//
// Thread-safety: safe for concurrent use via internal mutex.
type FakeClient struct {
	mu         sync.Mutex
	results    map[string]FakeResult
	fallback   FakeResult
	statements []*FakeStatement
}

// NewFakeClient returns a client answering every statement with no rows.
func NewFakeClient() *FakeClient {
	return &FakeClient{results: make(map[string]FakeResult)}
}

// On sets the result of statements with exactly this text.
func (c *FakeClient) On(sql string, res FakeResult) *FakeClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[sql] = res
	return c
}

// Otherwise sets the result of statements without a specific result.
func (c *FakeClient) Otherwise(res FakeResult) *FakeClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fallback = res
	return c
}

// Statements returns the statements prepared so far, in order. Failed
// prepares are recorded too.
func (c *FakeClient) Statements() []*FakeStatement {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*FakeStatement(nil), c.statements...)
}

// SQL returns the text of every prepared statement in order.
func (c *FakeClient) SQL() []string {
	var out []string
	for _, s := range c.Statements() {
		out = append(out, s.SQL)
	}
	return out
}

// Unclosed returns the successfully prepared statements not yet closed.
func (c *FakeClient) Unclosed() []*FakeStatement {
	var out []*FakeStatement
	for _, s := range c.Statements() {
		if s.Prepared && !s.isClosed() {
			out = append(out, s)
		}
	}
	return out
}

// Prepare implements store.Client.
func (c *FakeClient) Prepare(_ context.Context, sql string) (store.Statement, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	res, ok := c.results[sql]
	if !ok {
		res = c.fallback
	}
	s := &FakeStatement{SQL: sql, res: res}
	c.statements = append(c.statements, s)
	if res.PrepareErr != nil {
		return nil, res.PrepareErr
	}
	s.Prepared = true
	return s, nil
}

// FakeStatement records what was done to one prepared statement.
type FakeStatement struct {
	SQL       string
	Prepared  bool
	Args      []any
	Timeout   time.Duration
	FetchSize int
	MaxRows   int
	Executed  bool

	mu     sync.Mutex
	closed bool
	res    FakeResult
}

// Closed reports whether the statement was closed.
func (s *FakeStatement) Closed() bool { return s.isClosed() }

func (s *FakeStatement) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *FakeStatement) Bind(ordinal int, value any) error {
	if s.res.BindErr != nil {
		return s.res.BindErr
	}
	for len(s.Args) < ordinal {
		s.Args = append(s.Args, nil)
	}
	s.Args[ordinal-1] = value
	return nil
}

func (s *FakeStatement) SetTimeout(d time.Duration) { s.Timeout = d }
func (s *FakeStatement) SetFetchSize(n int)         { s.FetchSize = n }
func (s *FakeStatement) SetMaxRows(n int)           { s.MaxRows = n }

func (s *FakeStatement) Query(context.Context) (store.Cursor, error) {
	if err := s.use(); err != nil {
		return nil, err
	}
	if s.res.ExecErr != nil {
		return nil, s.res.ExecErr
	}
	rows := s.res.Rows
	if s.MaxRows > 0 && len(rows) > s.MaxRows {
		rows = rows[:s.MaxRows]
	}
	return &fakeCursor{stmt: s, rows: rows, pos: -1}, nil
}

func (s *FakeStatement) Exec(context.Context) (int64, error) {
	if err := s.use(); err != nil {
		return 0, err
	}
	if s.res.ExecErr != nil {
		return 0, s.res.ExecErr
	}
	return s.res.Affected, nil
}

func (s *FakeStatement) use() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("statement already closed")
	}
	s.Executed = true
	return nil
}

func (s *FakeStatement) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("statement closed twice")
	}
	s.closed = true
	return s.res.CloseErr
}

type fakeCursor struct {
	stmt *FakeStatement
	rows [][]any
	pos  int
	err  error
}

func (c *fakeCursor) Next() bool {
	if c.stmt.res.FetchErr != nil && c.pos+1 >= c.stmt.res.FetchErrAfter {
		c.err = c.stmt.res.FetchErr
		return false
	}
	if c.pos+1 >= len(c.rows) {
		return false
	}
	c.pos++
	return true
}

func (c *fakeCursor) Columns() int {
	if c.pos >= 0 && c.pos < len(c.rows) {
		return len(c.rows[c.pos])
	}
	return 0
}

func (c *fakeCursor) Get(i int) any { return c.rows[c.pos][i] }
func (c *fakeCursor) Err() error    { return c.err }
func (c *fakeCursor) Close() error  { return nil }
