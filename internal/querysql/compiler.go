// Package querysql lowers bound queries to relational statement trees and
// renders them as dialect-specific text.
//
// Lowering is deterministic: the same queryir tree, dialect and in-list
// cardinalities always produce the same tree, so rendered text can key the
// compiled-plan cache.
package querysql

import (
	"fmt"

	"github.com/roach88/oql/internal/dialect"
	"github.com/roach88/oql/internal/queryir"
	"github.com/roach88/oql/internal/sqlast"
)

// StatementKind tells reads from bulk mutations.
type StatementKind int

const (
	KindSelect StatementKind = iota
	KindUpdate
	KindDelete
)

func (k StatementKind) String() string {
	switch k {
	case KindUpdate:
		return "update"
	case KindDelete:
		return "delete"
	default:
		return "select"
	}
}

// Binding labels of the placeholders Options.FirstResult and
// Options.MaxResults add.
const (
	FirstResultParam = "#first"
	MaxResultsParam  = "#max"
)

// Options tunes one lowering.
type Options struct {
	// Cardinalities holds the element count of each multi-valued
	// parameter, keyed by slot label.
	Cardinalities map[string]int
	// FirstResult and MaxResults replace the statement's own offset and
	// limit with placeholders bound to FirstResultParam and
	// MaxResultsParam.
	FirstResult bool
	MaxResults  bool
}

// Plan is a compiled statement. Plans are immutable and shared.
type Plan struct {
	Kind      StatementKind
	Statement sqlast.Statement
	SQL       string
	Bindings  []sqlast.Binding
	// Shape is nil for updates and deletes.
	Shape *Shape
	// Source and Options are kept to derive subselect fetch statements.
	Source  queryir.Statement
	Options Options
	// Limit and Offset are set when paging has to be applied to
	// materialized roots instead of rows.
	Limit  *sqlast.Binding
	Offset *sqlast.Binding
}

// Compiler lowers and renders statements for one dialect.
type Compiler struct {
	dialect *dialect.Dialect
	padding bool
}

// NewCompiler returns a compiler for d. padding enables in-list parameter
// padding.
func NewCompiler(d *dialect.Dialect, padding bool) *Compiler {
	return &Compiler{dialect: d, padding: padding}
}

// Dialect returns the target dialect.
func (c *Compiler) Dialect() *dialect.Dialect { return c.dialect }

// Padding reports whether in-list padding is enabled.
func (c *Compiler) Padding() bool { return c.padding }

// Lower lowers stmt without rendering it.
func (c *Compiler) Lower(stmt queryir.Statement, cardinalities map[string]int) (*Plan, error) {
	return c.LowerWith(stmt, Options{Cardinalities: cardinalities})
}

// LowerWith is Lower with paging placeholders.
func (c *Compiler) LowerWith(stmt queryir.Statement, opts Options) (*Plan, error) {
	l := newLowerer(c, opts)
	l.assignAliases(stmt)
	plan := &Plan{Source: stmt, Options: opts}
	var err error
	switch s := stmt.(type) {
	case *queryir.SelectStatement:
		plan.Kind = KindSelect
		err = l.topSelect(s, plan)
	case *queryir.UpdateStatement:
		plan.Kind = KindUpdate
		plan.Statement, err = l.update(s)
	case *queryir.DeleteStatement:
		plan.Kind = KindDelete
		plan.Statement, err = l.delete(s)
	default:
		err = fmt.Errorf("lower: unsupported statement %T", stmt)
	}
	if err != nil {
		return nil, err
	}
	return plan, nil
}

// Compile lowers and renders stmt.
func (c *Compiler) Compile(stmt queryir.Statement, opts Options) (*Plan, error) {
	plan, err := c.LowerWith(stmt, opts)
	if err != nil {
		return nil, err
	}
	out, err := Render(plan.Statement, c.dialect)
	if err != nil {
		return nil, err
	}
	plan.SQL, plan.Bindings = out.SQL, out.Bindings
	return plan, nil
}

// InListSignature returns the placeholder group sizes a multi-valued
// parameter with k elements lowers to. Plans compiled for equal signatures
// are interchangeable.
func (c *Compiler) InListSignature(k int) []int {
	groups := c.inListGroups(k, c.padding)
	sizes := make([]int, len(groups))
	for i, g := range groups {
		sizes[i] = len(g)
	}
	return sizes
}

func (c *Compiler) inListGroups(k int, padding bool) [][]int {
	policy := c.dialect.InList
	if policy == nil {
		policy = dialect.PaddedInList{}
	}
	return policy.Groups(k, c.dialect.MaxInListSize, padding)
}
