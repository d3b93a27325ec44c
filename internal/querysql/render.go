package querysql

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/oql/internal/dialect"
	"github.com/roach88/oql/internal/ir"
	"github.com/roach88/oql/internal/sqlast"
)

// Rendered is statement text plus the bindings of its placeholders in
// text order.
type Rendered struct {
	SQL      string
	Bindings []sqlast.Binding
}

// Render serializes stmt for d. Structurally identical trees always render
// identical text.
func Render(stmt sqlast.Statement, d *dialect.Dialect) (Rendered, error) {
	r := &renderer{d: d}
	switch s := stmt.(type) {
	case *sqlast.Select:
		r.selectStmt(s)
	case *sqlast.Update:
		r.update(s)
	case *sqlast.Delete:
		r.delete(s)
	default:
		return Rendered{}, fmt.Errorf("render: unsupported statement %T", stmt)
	}
	if r.err != nil {
		return Rendered{}, r.err
	}
	return Rendered{SQL: r.buf.String(), Bindings: r.bindings}, nil
}

type renderer struct {
	d        *dialect.Dialect
	buf      strings.Builder
	bindings []sqlast.Binding
	// derived counts synthetic derived-table aliases.
	derived int
	err     error
}

func (r *renderer) write(parts ...string) {
	for _, p := range parts {
		r.buf.WriteString(p)
	}
}

func (r *renderer) unsupported(construct string) {
	if r.err == nil {
		r.err = &UnsupportedConstructError{Construct: construct, Dialect: r.d.Name}
	}
}

func (r *renderer) selectStmt(s *sqlast.Select) {
	if len(s.With) > 0 {
		r.write("with ")
		if s.Recursive && r.d.RecursiveKeyword {
			r.write("recursive ")
		}
		for i, c := range s.With {
			if i > 0 {
				r.write(", ")
			}
			r.cte(c)
		}
		r.write(" ")
	}
	r.body(s.Body, false)
	hasOrder := len(s.OrderBy) > 0
	if hasOrder {
		r.write(" order by ")
		for i, o := range s.OrderBy {
			if i > 0 {
				r.write(", ")
			}
			r.orderItem(o)
		}
	}
	r.paging(s, hasOrder)
}

func (r *renderer) cte(c *sqlast.CTE) {
	r.write(c.Name)
	if len(c.Columns) > 0 {
		r.write(" (", strings.Join(c.Columns, ", "), ")")
	}
	r.write(" as (")
	r.selectStmt(c.Query)
	r.write(")")
	if c.Search != nil || c.Cycle != nil {
		if !r.d.SupportsSearchCycle {
			r.unsupported("search and cycle clauses")
			return
		}
	}
	if s := c.Search; s != nil {
		order := "depth"
		if s.BreadthFirst {
			order = "breadth"
		}
		r.write(" search ", order, " first by ", strings.Join(s.By, ", "), " set ", s.Set)
	}
	if cy := c.Cycle; cy != nil {
		r.write(" cycle ", strings.Join(cy.Columns, ", "), " set ", cy.Set)
		if cy.Mark != nil {
			r.write(" to ")
			r.literal(cy.Mark.Value)
			r.write(" default ")
			r.literal(cy.Default.Value)
		}
		r.write(" using ", cy.Using)
	}
}

func (r *renderer) body(b sqlast.Body, nested bool) {
	switch x := b.(type) {
	case *sqlast.Core:
		r.core(x)
	case *sqlast.SetOp:
		if nested {
			r.write("(")
		}
		r.body(x.Left, false)
		r.write(" ", x.Op)
		if x.All {
			r.write(" all")
		}
		r.write(" ")
		r.body(x.Right, true)
		if nested {
			r.write(")")
		}
	}
}

func (r *renderer) core(c *sqlast.Core) {
	r.write("select ")
	if c.Distinct {
		r.write("distinct ")
	}
	for i, col := range c.Columns {
		if i > 0 {
			r.write(", ")
		}
		r.expr(col.Expr)
		if col.Alias != "" {
			r.write(" ", col.Alias)
		}
	}
	if len(c.From) > 0 {
		r.write(" from ")
		for i, item := range c.From {
			if i > 0 {
				r.write(", ")
			}
			r.fromItem(item)
		}
	}
	if c.Where != nil {
		r.write(" where ")
		r.pred(c.Where, false)
	}
	if len(c.GroupBy) > 0 {
		r.write(" group by ")
		r.exprList(c.GroupBy)
	}
	if c.Having != nil {
		r.write(" having ")
		r.pred(c.Having, false)
	}
}

func (r *renderer) fromItem(item *sqlast.FromItem) {
	r.tableRef(item.Source)
	for _, j := range item.Joins {
		if j.Kind == sqlast.Full && !r.d.SupportsFullJoin {
			r.unsupported("full join")
		}
		r.write(" ", j.Kind.String(), " ")
		r.tableRef(j.Target)
		if j.Kind != sqlast.Cross {
			r.write(" on ")
			on := j.On
			if on == nil {
				on = &sqlast.Bool{Value: true}
			}
			r.pred(on, false)
		}
	}
}

func (r *renderer) tableRef(t sqlast.TableRef) {
	switch x := t.(type) {
	case *sqlast.Table:
		r.write(x.Name)
		if x.Alias != "" {
			r.write(" ", x.Alias)
		}
	case *sqlast.Derived:
		if x.Lateral {
			if !r.d.SupportsLateral {
				r.unsupported("lateral join")
			}
			r.write("lateral ")
		}
		r.write("(")
		r.selectStmt(x.Query)
		r.write(")")
		if x.Alias != "" {
			r.write(" ", x.Alias)
		}
	case *sqlast.Group:
		r.write("(")
		r.fromItem(x.Item)
		r.write(")")
	}
}

func (r *renderer) orderItem(o *sqlast.OrderItem) {
	if o.Nulls != "" && !r.d.SupportsNullsOrdering {
		first, last := "0", "1"
		if o.Nulls == "last" {
			first, last = "1", "0"
		}
		r.write("case when ")
		r.expr(o.Expr)
		r.write(" is null then ", first, " else ", last, " end, ")
	}
	r.expr(o.Expr)
	if o.Desc {
		r.write(" desc")
	}
	if o.Nulls != "" && r.d.SupportsNullsOrdering {
		r.write(" nulls ", o.Nulls)
	}
}

func (r *renderer) paging(s *sqlast.Select, hasOrder bool) {
	if s.Limit == nil && s.Offset == nil {
		return
	}
	switch r.d.Limit {
	case dialect.OffsetFetch:
		if !hasOrder {
			r.write(" order by (select 0)")
		}
		r.write(" offset ")
		if s.Offset != nil {
			r.expr(s.Offset)
		} else {
			r.write("0")
		}
		r.write(" rows")
		if s.Limit != nil {
			r.write(" fetch next ")
			r.expr(s.Limit)
			r.write(" rows only")
		}
	case dialect.LimitRequired:
		r.write(" limit ")
		if s.Limit != nil {
			r.expr(s.Limit)
		} else {
			r.write(r.d.NoLimit)
		}
		if s.Offset != nil {
			r.write(" offset ")
			r.expr(s.Offset)
		}
	default:
		if s.Limit != nil {
			r.write(" limit ")
			r.expr(s.Limit)
		}
		if s.Offset != nil {
			r.write(" offset ")
			r.expr(s.Offset)
		}
	}
}

func (r *renderer) update(u *sqlast.Update) {
	r.write("update ", u.Table, " set ")
	for i, a := range u.Set {
		if i > 0 {
			r.write(", ")
		}
		r.write(a.Column, " = ")
		r.expr(a.Value)
	}
	if u.Where != nil {
		r.write(" where ")
		r.pred(u.Where, false)
	}
}

func (r *renderer) delete(d *sqlast.Delete) {
	r.write("delete from ", d.Table)
	if d.Where != nil {
		r.write(" where ")
		r.pred(d.Where, false)
	}
}

func (r *renderer) exprList(list []sqlast.Expr) {
	for i, e := range list {
		if i > 0 {
			r.write(", ")
		}
		r.expr(e)
	}
}

// operand renders e, parenthesized when it is itself an operator.
func (r *renderer) operand(e sqlast.Expr) {
	switch e.(type) {
	case *sqlast.Binary, *sqlast.Concat:
		r.write("(")
		r.expr(e)
		r.write(")")
	default:
		r.expr(e)
	}
}

func (r *renderer) expr(e sqlast.Expr) {
	switch x := e.(type) {
	case *sqlast.ColumnRef:
		if x.Qualifier != "" {
			r.write(x.Qualifier, ".")
		}
		r.write(x.Name)
	case *sqlast.Param:
		r.bindings = append(r.bindings, x.Binding)
		r.write(r.d.Marker(len(r.bindings)))
	case *sqlast.Literal:
		r.literal(x.Value)
	case *sqlast.Binary:
		r.operand(x.Left)
		r.write(" ", x.Op, " ")
		r.operand(x.Right)
	case *sqlast.Concat:
		r.concat(x.Items)
	case *sqlast.Negate:
		r.write("-")
		r.operand(x.X)
	case *sqlast.Func:
		if x.Niladic {
			r.write(x.Name)
			return
		}
		r.write(x.Name, "(")
		if x.Star {
			r.write("*")
		} else {
			if x.Distinct {
				r.write("distinct ")
			}
			r.exprList(x.Args)
		}
		r.write(")")
	case *sqlast.Case:
		r.write("case")
		for _, w := range x.Whens {
			r.write(" when ")
			r.pred(w.Cond, false)
			r.write(" then ")
			r.expr(w.Result)
		}
		if x.Else != nil {
			r.write(" else ")
			r.expr(x.Else)
		}
		r.write(" end")
	case *sqlast.Cast:
		r.write("cast(")
		r.expr(x.X)
		r.write(" as ", r.d.CastType(x.To), ")")
	case *sqlast.PadLeft:
		r.padLeft(x)
	case *sqlast.Subquery:
		r.write("(")
		r.selectStmt(x.Query)
		r.write(")")
	case *sqlast.Tuple:
		r.write("(")
		r.exprList(x.Items)
		r.write(")")
	default:
		r.err = fmt.Errorf("render: unsupported expression %T", e)
	}
}

func (r *renderer) concat(items []sqlast.Expr) {
	switch r.d.Concat {
	case dialect.ConcatFunction:
		r.write("concat(")
		r.exprList(items)
		r.write(")")
	default:
		op := " || "
		if r.d.Concat == dialect.ConcatPlus {
			op = " + "
		}
		for i, it := range items {
			if i > 0 {
				r.write(op)
			}
			r.operand(it)
		}
	}
}

func (r *renderer) padLeft(p *sqlast.PadLeft) {
	width := strconv.Itoa(p.Width)
	switch r.d.Pad {
	case dialect.PadSubstr:
		r.write("substr('", strings.Repeat("0", p.Width), "' || ")
		r.operand(p.X)
		r.write(", -", width, ")")
	case dialect.PadRight:
		r.write("right(replicate('0', ", width, ") + ")
		r.operand(p.X)
		r.write(", ", width, ")")
	default:
		r.write("lpad(")
		r.expr(p.X)
		r.write(", ", width, ", '0')")
	}
}

// literal inlines a value known while lowering.
func (r *renderer) literal(v ir.IRValue) {
	switch x := v.(type) {
	case nil, ir.IRNull:
		r.write("null")
	case ir.IRString:
		r.write(quote(string(x)))
	case ir.IRInt:
		r.write(strconv.FormatInt(int64(x), 10))
	case ir.IRBool:
		switch {
		case r.d.BooleanLiterals && bool(x):
			r.write("true")
		case r.d.BooleanLiterals:
			r.write("false")
		case bool(x):
			r.write("1")
		default:
			r.write("0")
		}
	case ir.IRDecimal:
		r.write(x.D.String())
	case ir.IRTime:
		r.write(quote(x.T.UTC().Format("2006-01-02 15:04:05.999999")))
	default:
		r.err = fmt.Errorf("render: literal of kind %s cannot be inlined", ir.Kind(v))
	}
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// pred renders p. nested reports that p is an operand of a junction or
// negation, where a disjunction needs parentheses.
func (r *renderer) pred(p sqlast.Pred, nested bool) {
	switch x := p.(type) {
	case *sqlast.Compare:
		r.compare(x)
	case *sqlast.And:
		if len(x.Preds) == 0 {
			r.write("1=1")
			return
		}
		for i, c := range x.Preds {
			if i > 0 {
				r.write(" and ")
			}
			r.pred(c, true)
		}
	case *sqlast.Or:
		if len(x.Preds) == 0 {
			r.write("1=0")
			return
		}
		if nested {
			r.write("(")
		}
		for i, c := range x.Preds {
			if i > 0 {
				r.write(" or ")
			}
			r.pred(c, true)
		}
		if nested {
			r.write(")")
		}
	case *sqlast.Not:
		r.write("not (")
		r.pred(x.P, false)
		r.write(")")
	case *sqlast.IsNull:
		r.isNull(x, nested)
	case *sqlast.Between:
		r.expr(x.X)
		if x.Negated {
			r.write(" not")
		}
		r.write(" between ")
		r.expr(x.Low)
		r.write(" and ")
		r.expr(x.High)
	case *sqlast.Like:
		r.expr(x.X)
		if x.Negated {
			r.write(" not")
		}
		r.write(" like ")
		r.expr(x.Pattern)
		if x.Escape != nil {
			r.write(" escape ")
			r.expr(x.Escape)
		}
	case *sqlast.In:
		r.in(x, nested)
	case *sqlast.InQuery:
		r.inQuery(x)
	case *sqlast.Exists:
		if x.Negated {
			r.write("not ")
		}
		r.write("exists (")
		r.selectStmt(x.Query)
		r.write(")")
	case *sqlast.Bool:
		if x.Value {
			r.write("1=1")
		} else {
			r.write("1=0")
		}
	case *sqlast.Truth:
		r.expr(x.X)
		if !r.d.BooleanLiterals {
			r.write(" = 1")
		}
	default:
		r.err = fmt.Errorf("render: unsupported predicate %T", p)
	}
}

func tupleItems(e sqlast.Expr) ([]sqlast.Expr, bool) {
	if t, ok := e.(*sqlast.Tuple); ok {
		return t.Items, true
	}
	return nil, false
}

func (r *renderer) compare(c *sqlast.Compare) {
	l, lok := tupleItems(c.Left)
	rt, rok := tupleItems(c.Right)
	if lok && rok && (!r.d.SupportsRowValues || len(l) == 1) {
		preds := make([]sqlast.Pred, len(l))
		for i := range l {
			preds[i] = &sqlast.Compare{Op: c.Op, Left: l[i], Right: rt[i]}
		}
		if c.Op == "<>" {
			r.pred(&sqlast.Or{Preds: preds}, true)
		} else {
			r.pred(&sqlast.And{Preds: preds}, true)
		}
		return
	}
	r.expr(c.Left)
	r.write(" ", c.Op, " ")
	r.expr(c.Right)
}

func (r *renderer) isNull(n *sqlast.IsNull, nested bool) {
	if items, ok := tupleItems(n.X); ok {
		preds := make([]sqlast.Pred, len(items))
		for i, it := range items {
			preds[i] = &sqlast.IsNull{X: it, Negated: n.Negated}
		}
		r.pred(&sqlast.And{Preds: preds}, nested)
		return
	}
	r.expr(n.X)
	if n.Negated {
		r.write(" is not null")
	} else {
		r.write(" is null")
	}
}

func (r *renderer) in(in *sqlast.In, nested bool) {
	if len(in.Values) == 0 {
		r.pred(&sqlast.Bool{Value: in.Negated}, nested)
		return
	}
	if _, ok := tupleItems(in.X); ok && !r.d.SupportsRowValues {
		op := "="
		preds := make([]sqlast.Pred, len(in.Values))
		if in.Negated {
			op = "<>"
		}
		for i, v := range in.Values {
			preds[i] = &sqlast.Compare{Op: op, Left: in.X, Right: v}
		}
		if in.Negated {
			r.pred(&sqlast.And{Preds: preds}, nested)
		} else {
			r.pred(&sqlast.Or{Preds: preds}, nested)
		}
		return
	}
	r.expr(in.X)
	if in.Negated {
		r.write(" not")
	}
	r.write(" in (")
	r.exprList(in.Values)
	r.write(")")
}

// inQuery renders "x in (select ...)". A row value on a dialect without row
// value support becomes an exists over the subquery as a derived table
// with a column list.
func (r *renderer) inQuery(in *sqlast.InQuery) {
	items, ok := tupleItems(in.X)
	if !ok || r.d.SupportsRowValues {
		r.expr(in.X)
		if in.Negated {
			r.write(" not")
		}
		r.write(" in (")
		r.selectStmt(in.Query)
		r.write(")")
		return
	}
	r.derived++
	alias := "rv" + strconv.Itoa(r.derived) + "_"
	cols := make([]string, len(items))
	for i := range items {
		cols[i] = "c" + strconv.Itoa(i+1)
	}
	if in.Negated {
		r.write("not ")
	}
	r.write("exists (select 1 from (")
	r.selectStmt(in.Query)
	r.write(") ", alias, " (", strings.Join(cols, ", "), ") where ")
	r.pred(sqlast.Eq(sqlast.Cols(alias, cols), items), false)
	r.write(")")
}
