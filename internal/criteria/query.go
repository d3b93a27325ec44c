package criteria

import (
	"github.com/roach88/oql/internal/metamodel"
	"github.com/roach88/oql/internal/queryir"
)

// Query is a select under construction. Nested queries come from the same
// Builder so range ids stay unique.
type Query struct {
	b    *Builder
	spec *queryir.QuerySpec
	stmt *queryir.SelectStatement
}

// Select starts a query selecting items. With no items the from clause's
// explicit entity ranges are selected.
func (b *Builder) Select(items ...queryir.Expression) *Query {
	spec := &queryir.QuerySpec{}
	for _, e := range items {
		spec.Selection = append(spec.Selection, &queryir.SelectItem{Expr: e})
	}
	return &Query{b: b, spec: spec, stmt: &queryir.SelectStatement{Body: spec}}
}

// SelectAs adds an aliased item.
func (q *Query) SelectAs(e queryir.Expression, alias string) *Query {
	q.spec.Selection = append(q.spec.Selection, &queryir.SelectItem{Expr: e, Alias: alias})
	return q
}

// New adds a dynamic instantiation of target over args.
func (q *Query) New(target string, args ...queryir.Expression) *Query {
	inst := &queryir.Instantiation{Target: target}
	for _, a := range args {
		inst.Args = append(inst.Args, &queryir.SelectItem{Expr: a})
	}
	q.spec.Selection = append(q.spec.Selection, &queryir.SelectItem{Expr: inst})
	return q
}

// Distinct makes the query select distinct rows.
func (q *Query) Distinct() *Query {
	q.spec.Distinct = true
	return q
}

// From sets the roots of the from clause.
func (q *Query) From(roots ...*Path) *Query {
	for _, p := range roots {
		q.spec.From = append(q.spec.From, p.r)
	}
	return q
}

// Where conjoins preds to the where clause.
func (q *Query) Where(preds ...queryir.Predicate) *Query {
	q.spec.Where = queryir.And(append([]queryir.Predicate{q.spec.Where}, preds...)...)
	return q
}

// GroupBy adds grouping expressions.
func (q *Query) GroupBy(exprs ...queryir.Expression) *Query {
	q.spec.GroupBy = append(q.spec.GroupBy, exprs...)
	return q
}

// Having conjoins preds to the having clause.
func (q *Query) Having(preds ...queryir.Predicate) *Query {
	q.spec.Having = queryir.And(append([]queryir.Predicate{q.spec.Having}, preds...)...)
	return q
}

// OrderBy adds an ascending sort.
func (q *Query) OrderBy(e queryir.Expression) *Query {
	q.stmt.OrderBy = append(q.stmt.OrderBy, &queryir.SortSpec{Expr: e})
	return q
}

// OrderByDesc adds a descending sort.
func (q *Query) OrderByDesc(e queryir.Expression) *Query {
	q.stmt.OrderBy = append(q.stmt.OrderBy, &queryir.SortSpec{Expr: e, Desc: true})
	return q
}

// Limit caps the number of rows.
func (q *Query) Limit(e queryir.Expression) *Query {
	inferParam(e, queryir.BasicOf(metamodel.TypeInteger))
	q.stmt.Limit = e
	return q
}

// Offset skips rows.
func (q *Query) Offset(e queryir.Expression) *Query {
	inferParam(e, queryir.BasicOf(metamodel.TypeInteger))
	q.stmt.Offset = e
	return q
}

// Subquery returns q as a scalar subquery expression.
func (q *Query) Subquery() queryir.Expression {
	stmt := q.statement()
	var t queryir.Type
	if sel := stmt.Body.FirstSpec().Selection; len(sel) == 1 {
		t = sel[0].Expr.Type()
	}
	return &queryir.ScalarSubquery{Query: stmt, T: t}
}

func (q *Query) statement() *queryir.SelectStatement {
	if len(q.spec.Selection) == 0 {
		q.spec.ImplicitSelection = true
		for _, r := range q.spec.From {
			if r.IsEntity() && !r.Implicit {
				q.spec.Selection = append(q.spec.Selection, &queryir.SelectItem{Expr: &queryir.EntityRef{Range: r}})
			}
		}
	}
	return q.stmt
}

// Build finishes the top-level statement.
func (q *Query) Build() (*queryir.SelectStatement, error) {
	stmt := q.statement()
	stmt.Params = q.b.params
	if err := q.b.err; err != nil {
		return nil, err
	}
	if err := queryir.Validate(stmt); err != nil {
		return nil, err
	}
	return stmt, nil
}

// Update is a bulk update under construction.
type Update struct {
	b    *Builder
	stmt *queryir.UpdateStatement
}

// Update starts a bulk update of target's rows.
func (b *Builder) Update(target *Path) *Update {
	return &Update{b: b, stmt: &queryir.UpdateStatement{Target: target.r}}
}

// Set assigns value to the attribute or owning to-one at path.
func (u *Update) Set(value queryir.Expression, path ...string) *Update {
	target := (&Path{b: u.b, r: u.stmt.Target}).Get(path...)
	inferParam(value, target.Type())
	if fk, ok := target.(*queryir.FKRef); ok {
		value = u.b.entityKeyed(value, fk.Attribute.Target(), fk.Attribute.ReferencedKey())
	}
	u.stmt.Assignments = append(u.stmt.Assignments, &queryir.Assignment{Target: target, Value: value})
	return u
}

// Where conjoins preds to the condition.
func (u *Update) Where(preds ...queryir.Predicate) *Update {
	u.stmt.Where = queryir.And(append([]queryir.Predicate{u.stmt.Where}, preds...)...)
	return u
}

// Build finishes the statement.
func (u *Update) Build() (*queryir.UpdateStatement, error) {
	u.stmt.Params = u.b.params
	if err := u.b.err; err != nil {
		return nil, err
	}
	if err := queryir.Validate(u.stmt); err != nil {
		return nil, err
	}
	return u.stmt, nil
}

// Delete is a bulk delete under construction.
type Delete struct {
	b    *Builder
	stmt *queryir.DeleteStatement
}

// Delete starts a bulk delete of target's rows.
func (b *Builder) Delete(target *Path) *Delete {
	return &Delete{b: b, stmt: &queryir.DeleteStatement{Target: target.r}}
}

// Where conjoins preds to the condition.
func (d *Delete) Where(preds ...queryir.Predicate) *Delete {
	d.stmt.Where = queryir.And(append([]queryir.Predicate{d.stmt.Where}, preds...)...)
	return d
}

// Build finishes the statement.
func (d *Delete) Build() (*queryir.DeleteStatement, error) {
	d.stmt.Params = d.b.params
	if err := d.b.err; err != nil {
		return nil, err
	}
	if err := queryir.Validate(d.stmt); err != nil {
		return nil, err
	}
	return d.stmt, nil
}
