package querysql

import (
	"github.com/roach88/oql/internal/ir"
	"github.com/roach88/oql/internal/metamodel"
	"github.com/roach88/oql/internal/queryir"
	"github.com/roach88/oql/internal/sqlast"
)

// searchSegmentWidth is the text width one search column is padded to in
// an emulated search path.
const searchSegmentWidth = 20

// cte lowers a with-clause entry. Search and cycle clauses render natively
// where the dialect has them and are emulated with extra columns
// otherwise.
func (l *lowerer) cte(c *queryir.CTE) (*sqlast.CTE, error) {
	if c.Recursive && !l.d.SupportsRecursiveCTE {
		return nil, &UnsupportedConstructError{Construct: "recursive common table expression", Dialect: l.d.Name}
	}
	query, _, err := l.selectStmt(c.Query, false)
	if err != nil {
		return nil, err
	}
	out := &sqlast.CTE{Name: c.Name, Query: query}
	for _, col := range c.Columns {
		out.Columns = append(out.Columns, col.Name)
	}
	if c.Search == nil && c.Cycle == nil {
		return out, nil
	}
	if l.d.SupportsSearchCycle {
		l.nativeSearchCycle(c, out)
		return out, nil
	}
	if err := l.emulateSearchCycle(c, out); err != nil {
		return nil, err
	}
	return out, nil
}

// cyclePathColumn is the column holding the visited path of a cycle
// clause without a using column.
func cyclePathColumn(cy *queryir.CycleSpec) string {
	if cy.UsingColumn != "" {
		return cy.UsingColumn
	}
	return cy.SetColumn + "_path"
}

func (l *lowerer) nativeSearchCycle(c *queryir.CTE, out *sqlast.CTE) {
	if s := c.Search; s != nil {
		search := &sqlast.Search{BreadthFirst: s.BreadthFirst, Set: s.SetColumn}
		for _, by := range s.By {
			search.By = append(search.By, c.Columns[by.Column].Name)
		}
		out.Search = search
	}
	if cy := c.Cycle; cy != nil {
		cycle := &sqlast.Cycle{
			Set:     cy.SetColumn,
			Mark:    &sqlast.Literal{Value: cy.Mark},
			Default: &sqlast.Literal{Value: cy.Default},
			Using:   cyclePathColumn(cy),
		}
		for _, i := range cy.Columns {
			cycle.Columns = append(cycle.Columns, c.Columns[i].Name)
		}
		out.Cycle = cycle
	}
}

// emulateSearchCycle adds bookkeeping columns to both members of a
// recursive CTE. Depth-first search orders by a path of zero-padded
// search values; breadth-first by the padded depth followed by the row's
// own values. Cycle detection keeps a '/'-delimited path of the cycle
// columns and stops expanding rows whose values were already on it. Values
// on the path are escaped so that they contain neither delimiter nor like
// wildcard.
func (l *lowerer) emulateSearchCycle(c *queryir.CTE, out *sqlast.CTE) error {
	op, ok := out.Query.Body.(*sqlast.SetOp)
	unsupported := &UnsupportedConstructError{Construct: "emulated search or cycle clause over " + c.Name, Dialect: l.d.Name}
	if !ok {
		return unsupported
	}
	anchor, aok := op.Left.(*sqlast.Core)
	rec, rok := op.Right.(*sqlast.Core)
	self := selfRange(c)
	if !aok || !rok || self == nil {
		return unsupported
	}
	prev := l.tableAlias(self, 0)
	segments := func(core *sqlast.Core, by []queryir.CTESort) []sqlast.Expr {
		var items []sqlast.Expr
		for _, s := range by {
			items = append(items, &sqlast.PadLeft{
				X:     &sqlast.Cast{X: core.Columns[s.Column].Expr, To: metamodel.TypeString},
				Width: searchSegmentWidth,
			})
		}
		return items
	}

	if s := c.Search; s != nil {
		if s.BreadthFirst {
			depth := s.SetColumn + "_depth"
			zero := &sqlast.Literal{Value: ir.IRInt(0)}
			next := &sqlast.Binary{Op: "+", Left: sqlast.Col(prev, depth), Right: &sqlast.Literal{Value: ir.IRInt(1)}}
			addColumn(anchor, &sqlast.Concat{Items: append([]sqlast.Expr{padDepth(zero)}, segments(anchor, s.By)...)})
			addColumn(rec, &sqlast.Concat{Items: append([]sqlast.Expr{padDepth(next)}, segments(rec, s.By)...)})
			addColumn(anchor, zero)
			addColumn(rec, next)
			out.Columns = append(out.Columns, s.SetColumn, depth)
		} else {
			addColumn(anchor, concatOrSingle(segments(anchor, s.By)))
			addColumn(rec, &sqlast.Concat{Items: append([]sqlast.Expr{sqlast.Col(prev, s.SetColumn)}, segments(rec, s.By)...)})
			out.Columns = append(out.Columns, s.SetColumn)
		}
	}

	if cy := c.Cycle; cy != nil {
		path := cyclePathColumn(cy)
		slash := &sqlast.Literal{Value: ir.IRString("/")}
		key := func(core *sqlast.Core) []sqlast.Expr {
			var items []sqlast.Expr
			for i, col := range cy.Columns {
				if i > 0 {
					items = append(items, &sqlast.Literal{Value: ir.IRString(",")})
				}
				items = append(items, escapeCycleKey(&sqlast.Cast{X: core.Columns[col].Expr, To: metamodel.TypeString}))
			}
			return items
		}
		seen := &sqlast.Like{
			X:       sqlast.Col(prev, path),
			Pattern: &sqlast.Concat{Items: append(append([]sqlast.Expr{&sqlast.Literal{Value: ir.IRString("%/")}}, key(rec)...), &sqlast.Literal{Value: ir.IRString("/%")})},
		}
		addColumn(anchor, &sqlast.Literal{Value: cy.Default})
		addColumn(rec, &sqlast.Case{
			Whens: []*sqlast.When{{Cond: seen, Result: &sqlast.Literal{Value: cy.Mark}}},
			Else:  &sqlast.Literal{Value: cy.Default},
		})
		addColumn(anchor, &sqlast.Concat{Items: append(append([]sqlast.Expr{slash}, key(anchor)...), slash)})
		addColumn(rec, &sqlast.Concat{Items: append(append([]sqlast.Expr{sqlast.Col(prev, path)}, key(rec)...), slash)})
		rec.Where = sqlast.Conj(rec.Where, &sqlast.Compare{Op: "=", Left: sqlast.Col(prev, cy.SetColumn), Right: &sqlast.Literal{Value: cy.Default}})
		out.Columns = append(out.Columns, cy.SetColumn, path)
	}
	return nil
}

// cycleKeyEscapes rewrite a value so '/' and ',' only occur as path
// delimiters and '%' and '_' never occur. '~' goes first to keep the
// encoding reversible.
var cycleKeyEscapes = [][2]string{
	{"~", "~~"},
	{"/", "~s"},
	{",", "~c"},
	{"%", "~p"},
	{"_", "~u"},
}

func escapeCycleKey(x sqlast.Expr) sqlast.Expr {
	for _, e := range cycleKeyEscapes {
		x = &sqlast.Func{Name: "replace", Args: []sqlast.Expr{
			x,
			&sqlast.Literal{Value: ir.IRString(e[0])},
			&sqlast.Literal{Value: ir.IRString(e[1])},
		}}
	}
	return x
}

func padDepth(x sqlast.Expr) sqlast.Expr {
	return &sqlast.PadLeft{X: &sqlast.Cast{X: x, To: metamodel.TypeString}, Width: searchSegmentWidth}
}

func concatOrSingle(items []sqlast.Expr) sqlast.Expr {
	if len(items) == 1 {
		return items[0]
	}
	return &sqlast.Concat{Items: items}
}

// selfRange finds the range through which the recursive member of c reads
// c itself.
func selfRange(c *queryir.CTE) *queryir.Range {
	op, ok := c.Query.Body.(*queryir.SetOperation)
	if !ok {
		return nil
	}
	var found *queryir.Range
	for _, r := range op.Right.FirstSpec().From {
		r.Walk(func(j *queryir.Range) {
			if found == nil && j.CTE == c {
				found = j
			}
		})
	}
	return found
}
