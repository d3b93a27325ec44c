package querysql

import (
	"fmt"

	"github.com/roach88/oql/internal/ir"
	"github.com/roach88/oql/internal/metamodel"
	"github.com/roach88/oql/internal/queryir"
	"github.com/roach88/oql/internal/sqlast"
)

// expr lowers a single-column expression.
func (l *lowerer) expr(e queryir.Expression) (sqlast.Expr, error) {
	exprs, err := l.exprs(e)
	if err != nil {
		return nil, err
	}
	if len(exprs) != 1 {
		return nil, &UnsupportedConstructError{Construct: fmt.Sprintf("%s value of %d columns in a single-value position", e.Type(), len(exprs)), Dialect: l.d.Name}
	}
	return exprs[0], nil
}

// exprs lowers e to its columns: one for scalars, the key columns for
// entity values and the leaf columns for embedded values.
func (l *lowerer) exprs(e queryir.Expression) ([]sqlast.Expr, error) {
	switch x := e.(type) {
	case *queryir.AttributeRef:
		return l.attributeCols(x), nil
	case *queryir.EntityRef:
		return l.idCols(x.Range), nil
	case *queryir.FKRef:
		return l.fkCols(x.Range, x.Attribute), nil
	case *queryir.KeyTuple:
		return l.keyTuple(x, -1)
	case *queryir.Parameter:
		return l.paramExprs(x.Slot, -1), nil
	case nil:
		return nil, nil
	}
	s, err := l.scalar(e)
	if err != nil {
		return nil, err
	}
	return []sqlast.Expr{s}, nil
}

// attributeCols are the columns of an attribute reference. A key read
// through a foreign key or a join table maps the key's columns onto the
// referencing ones.
func (l *lowerer) attributeCols(a *queryir.AttributeRef) []sqlast.Expr {
	r, attr := a.Range, a.Attribute()
	if a.Via != nil {
		return sqlast.Cols(l.qualifier(r, declaringEntity(a.Via)), mapColumns(a.Via.JoinColumns(), a.Path[0], attr))
	}
	if r.KeyOnly && a.Path[0] == r.Entity.ID() {
		return sqlast.Cols(l.jtAlias(r), mapColumns(r.Attribute.JoinTable().TargetColumns, a.Path[0], attr))
	}
	return sqlast.Cols(l.attributeQualifier(r, a.Path[0]), attr.Columns())
}

// mapColumns picks the entries of refs standing for the columns of member,
// a part of key; refs lists key's columns in order.
func mapColumns(refs []string, key, member *metamodel.Attribute) []string {
	want := member.Columns()
	all := key.Columns()
	for i, c := range all {
		if len(want) > 0 && c == want[0] && i+len(want) <= len(refs) {
			return refs[i : i+len(want)]
		}
	}
	return refs
}

func (l *lowerer) keyTuple(k *queryir.KeyTuple, element int) ([]sqlast.Expr, error) {
	switch s := k.Source.(type) {
	case *queryir.EntityRef:
		if k.Key == "" {
			return l.idCols(s.Range), nil
		}
		return l.ukCols(s.Range, k.Key), nil
	case *queryir.FKRef:
		return l.fkCols(s.Range, s.Attribute), nil
	case *queryir.Parameter:
		return l.paramExprs(s.Slot, element), nil
	case *queryir.Literal:
		entity := k.Type().Entity
		cols := entity.IDColumns()
		if k.Key != "" {
			cols = entity.UniqueKeyColumns(k.Key)
		}
		out := make([]sqlast.Expr, len(cols))
		for i := range out {
			out[i] = &sqlast.Literal{Value: ir.IRNull{}}
		}
		return out, nil
	default:
		return l.exprs(k.Source)
	}
}

// leafPaths lists the attribute paths from a down to each basic attribute
// it is made of. A to-one continues into its target's identifier.
func leafPaths(a *metamodel.Attribute) [][]*metamodel.Attribute {
	var members []*metamodel.Attribute
	switch a.Kind() {
	case metamodel.KindBasic:
		return [][]*metamodel.Attribute{{a}}
	case metamodel.KindEmbedded:
		members = a.Embeddable().Attributes()
	case metamodel.KindToOne:
		members = []*metamodel.Attribute{a.Target().ID()}
	}
	var out [][]*metamodel.Attribute
	for _, m := range members {
		for _, p := range leafPaths(m) {
			out = append(out, append([]*metamodel.Attribute{a}, p...))
		}
	}
	return out
}

// paramExprs binds a parameter. Entity values are decomposed into the
// slot's key attributes, embedded values into their members.
func (l *lowerer) paramExprs(slot *queryir.ParamSlot, element int) []sqlast.Expr {
	bind := func(path []*metamodel.Attribute, t metamodel.BasicType) sqlast.Expr {
		return &sqlast.Param{Binding: sqlast.Binding{Param: slot.Label(), Element: element, Key: path, Type: t}}
	}
	var roots []*metamodel.Attribute
	switch t := slot.Type; {
	case t.Entity != nil:
		roots = slot.Key
		if len(roots) == 0 {
			roots = []*metamodel.Attribute{t.Entity.ID()}
		}
	case t.Embedded != nil:
		roots = t.Embedded.Attributes()
	default:
		return []sqlast.Expr{bind(nil, t.Basic)}
	}
	var out []sqlast.Expr
	for _, r := range roots {
		for _, p := range leafPaths(r) {
			out = append(out, bind(p, p[len(p)-1].Type()))
		}
	}
	return out
}

var niladicNames = map[string]string{
	"current_date":      "current_date",
	"current_time":      "current_time",
	"current_timestamp": "current_timestamp",
	"local_date":        "current_date",
	"local_datetime":    "current_timestamp",
}

// scalar lowers expressions that always have exactly one column.
func (l *lowerer) scalar(e queryir.Expression) (sqlast.Expr, error) {
	switch x := e.(type) {
	case *queryir.Literal:
		if ir.IsNull(x.Value) {
			return &sqlast.Literal{Value: ir.IRNull{}}, nil
		}
		return &sqlast.Param{Binding: sqlast.Binding{Literal: x.Value, Element: -1, Type: x.T.Basic}}, nil
	case *queryir.Arithmetic:
		left, err := l.expr(x.Left)
		if err != nil {
			return nil, err
		}
		right, err := l.expr(x.Right)
		if err != nil {
			return nil, err
		}
		if x.Op == "||" {
			return &sqlast.Concat{Items: append(concatItems(left), concatItems(right)...)}, nil
		}
		return &sqlast.Binary{Op: x.Op, Left: left, Right: right}, nil
	case *queryir.Negate:
		v, err := l.expr(x.X)
		if err != nil {
			return nil, err
		}
		return &sqlast.Negate{X: v}, nil
	case *queryir.FuncCall:
		return l.funcCall(x)
	case *queryir.Cast:
		v, err := l.expr(x.X)
		if err != nil {
			return nil, err
		}
		return &sqlast.Cast{X: v, To: x.To}, nil
	case *queryir.CaseExpr:
		out := &sqlast.Case{}
		for _, w := range x.Whens {
			cond, err := l.pred(w.Cond)
			if err != nil {
				return nil, err
			}
			res, err := l.expr(w.Result)
			if err != nil {
				return nil, err
			}
			out.Whens = append(out.Whens, &sqlast.When{Cond: cond, Result: res})
		}
		if x.Else != nil {
			var err error
			if out.Else, err = l.expr(x.Else); err != nil {
				return nil, err
			}
		}
		return out, nil
	case *queryir.ScalarSubquery:
		sub, _, err := l.selectStmt(x.Query, false)
		if err != nil {
			return nil, err
		}
		return &sqlast.Subquery{Query: sub}, nil
	case *queryir.TypeOf:
		return l.discriminator(x.Range), nil
	case *queryir.DerivedRef:
		return sqlast.Col(l.tableAlias(x.Range, 0), x.Name()), nil
	case *queryir.EntityTypeLiteral:
		return nil, &UnsupportedConstructError{Construct: "entity name outside a type comparison", Dialect: l.d.Name}
	case *queryir.Instantiation:
		return nil, &UnsupportedConstructError{Construct: "instantiation outside the select clause", Dialect: l.d.Name}
	default:
		return nil, fmt.Errorf("lower: unsupported expression %T", e)
	}
}

func concatItems(e sqlast.Expr) []sqlast.Expr {
	if c, ok := e.(*sqlast.Concat); ok {
		return c.Items
	}
	return []sqlast.Expr{e}
}

func (l *lowerer) funcCall(f *queryir.FuncCall) (sqlast.Expr, error) {
	if name, ok := niladicNames[f.Name]; ok {
		return &sqlast.Func{Name: name, Niladic: true}, nil
	}
	if f.Star {
		return &sqlast.Func{Name: f.Name, Star: true}, nil
	}
	if f.Name == "str" && len(f.Args) == 1 {
		v, err := l.expr(f.Args[0])
		if err != nil {
			return nil, err
		}
		return &sqlast.Cast{X: v, To: metamodel.TypeString}, nil
	}
	out := &sqlast.Func{Name: f.Name, Distinct: f.Distinct}
	for _, a := range f.Args {
		cols, err := l.exprs(a)
		if err != nil {
			return nil, err
		}
		switch {
		case len(cols) == 1:
		case f.Name == "count" && !f.Distinct && len(cols) > 1:
			// counting rows of a composite key only needs one non-null column
			cols = cols[:1]
		default:
			return nil, &UnsupportedConstructError{Construct: fmt.Sprintf("%s() over a value of %d columns", f.Name, len(cols)), Dialect: l.d.Name}
		}
		out.Args = append(out.Args, cols[0])
	}
	return out, nil
}

// rowValue wraps several columns into a row value.
func rowValue(cols []sqlast.Expr) sqlast.Expr {
	if len(cols) == 1 {
		return cols[0]
	}
	return &sqlast.Tuple{Items: cols}
}

func (l *lowerer) pred(p queryir.Predicate) (sqlast.Pred, error) {
	switch x := p.(type) {
	case nil:
		return nil, nil
	case *queryir.Comparison:
		return l.comparison(x)
	case *queryir.Junction:
		preds := make([]sqlast.Pred, 0, len(x.Predicates))
		for _, c := range x.Predicates {
			lp, err := l.pred(c)
			if err != nil {
				return nil, err
			}
			preds = append(preds, lp)
		}
		if x.Or {
			if out := sqlast.Disj(preds...); out != nil {
				return out, nil
			}
			return &sqlast.Bool{Value: false}, nil
		}
		return sqlast.Conj(preds...), nil
	case *queryir.Negation:
		inner, err := l.pred(x.P)
		if err != nil {
			return nil, err
		}
		if inner == nil {
			return &sqlast.Bool{Value: false}, nil
		}
		return &sqlast.Not{P: inner}, nil
	case *queryir.NullCheck:
		cols, err := l.exprs(x.X)
		if err != nil {
			return nil, err
		}
		return &sqlast.IsNull{X: rowValue(cols), Negated: x.Negated}, nil
	case *queryir.Between:
		v, err := l.expr(x.X)
		if err != nil {
			return nil, err
		}
		lo, err := l.expr(x.Low)
		if err != nil {
			return nil, err
		}
		hi, err := l.expr(x.High)
		if err != nil {
			return nil, err
		}
		return &sqlast.Between{X: v, Low: lo, High: hi, Negated: x.Negated}, nil
	case *queryir.Like:
		out := &sqlast.Like{Negated: x.Negated}
		var err error
		if out.X, err = l.expr(x.X); err != nil {
			return nil, err
		}
		if out.Pattern, err = l.expr(x.Pattern); err != nil {
			return nil, err
		}
		if x.Escape != nil {
			if out.Escape, err = l.expr(x.Escape); err != nil {
				return nil, err
			}
		}
		return out, nil
	case *queryir.InList:
		return l.inList(x)
	case *queryir.InSubquery:
		cols, err := l.exprs(x.X)
		if err != nil {
			return nil, err
		}
		sub, _, err := l.selectStmt(x.Query, false)
		if err != nil {
			return nil, err
		}
		return &sqlast.InQuery{X: rowValue(cols), Query: sub, Negated: x.Negated}, nil
	case *queryir.Exists:
		sub, _, err := l.selectStmt(x.Query, false)
		if err != nil {
			return nil, err
		}
		return &sqlast.Exists{Query: sub, Negated: x.Negated}, nil
	case *queryir.TypeRestriction:
		return l.typeRestriction(x.Range, x.Types, x.Negated), nil
	case *queryir.BooleanExpression:
		v, err := l.expr(x.X)
		if err != nil {
			return nil, err
		}
		return &sqlast.Truth{X: v}, nil
	default:
		return nil, fmt.Errorf("lower: unsupported predicate %T", p)
	}
}

// comparison lowers "l op r". Multi-column values compare column-wise:
// equality of every column, or inequality of any.
func (l *lowerer) comparison(c *queryir.Comparison) (sqlast.Pred, error) {
	left, err := l.exprs(c.Left)
	if err != nil {
		return nil, err
	}
	right, err := l.exprs(c.Right)
	if err != nil {
		return nil, err
	}
	if len(left) != len(right) {
		return nil, fmt.Errorf("lower: comparison of %d and %d columns", len(left), len(right))
	}
	op := c.Op.String()
	if len(left) == 1 {
		return &sqlast.Compare{Op: op, Left: left[0], Right: right[0]}, nil
	}
	switch c.Op {
	case queryir.Eq:
		return sqlast.Eq(left, right), nil
	case queryir.Ne:
		preds := make([]sqlast.Pred, len(left))
		for i := range left {
			preds[i] = &sqlast.Compare{Op: "<>", Left: left[i], Right: right[i]}
		}
		return sqlast.Disj(preds...), nil
	default:
		return nil, &UnsupportedConstructError{Construct: "ordering comparison of multi-column values", Dialect: l.d.Name}
	}
}

// multiParam returns the slot of a multi-valued in-list parameter.
func multiParam(e queryir.Expression) (*queryir.ParamSlot, *queryir.KeyTuple) {
	switch x := e.(type) {
	case *queryir.Parameter:
		if x.Slot.Multi {
			return x.Slot, nil
		}
	case *queryir.KeyTuple:
		if p, ok := x.Source.(*queryir.Parameter); ok && p.Slot.Multi {
			return p.Slot, x
		}
	}
	return nil, nil
}

// inList lowers "x [not] in (...)". A multi-valued parameter gets one
// placeholder per element, grouped and padded by the dialect's in-list
// policy; each group is its own in-list, joined by or (and for not in).
func (l *lowerer) inList(in *queryir.InList) (sqlast.Pred, error) {
	cols, err := l.exprs(in.X)
	if err != nil {
		return nil, err
	}
	x := rowValue(cols)

	var groups [][]sqlast.Expr
	var static []sqlast.Expr
	for _, v := range in.Values {
		slot, key := multiParam(v)
		if slot == nil {
			vc, err := l.exprs(v)
			if err != nil {
				return nil, err
			}
			static = append(static, rowValue(vc))
			continue
		}
		k := l.cardinality(slot)
		for _, g := range l.c.inListGroups(k, l.c.padding) {
			group := make([]sqlast.Expr, len(g))
			for i, element := range g {
				var vc []sqlast.Expr
				if key != nil {
					if vc, err = l.keyTuple(key, element); err != nil {
						return nil, err
					}
				} else {
					vc = l.paramExprs(slot, element)
				}
				group[i] = rowValue(vc)
			}
			groups = append(groups, group)
		}
	}
	if len(static) > 0 {
		for _, g := range l.c.inListGroups(len(static), false) {
			group := make([]sqlast.Expr, len(g))
			for i, idx := range g {
				group[i] = static[idx]
			}
			groups = append(groups, group)
		}
	}

	if len(groups) == 0 {
		return &sqlast.In{X: x, Negated: in.Negated}, nil
	}
	preds := make([]sqlast.Pred, len(groups))
	for i, g := range groups {
		preds[i] = &sqlast.In{X: x, Values: g, Negated: in.Negated}
	}
	if in.Negated {
		return sqlast.Conj(preds...), nil
	}
	return sqlast.Disj(preds...), nil
}

// cardinality is the bound element count of a multi-valued parameter. A
// lowering without cardinalities assumes one element.
func (l *lowerer) cardinality(slot *queryir.ParamSlot) int {
	if k, ok := l.opts.Cardinalities[slot.Label()]; ok {
		return k
	}
	return 1
}
