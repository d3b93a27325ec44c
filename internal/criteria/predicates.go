package criteria

import (
	"github.com/roach88/oql/internal/ir"
	"github.com/roach88/oql/internal/metamodel"
	"github.com/roach88/oql/internal/queryir"
)

func inferParam(e queryir.Expression, t queryir.Type) {
	p, ok := e.(*queryir.Parameter)
	if !ok || p.Slot.Type != (queryir.Type{}) || t == (queryir.Type{}) {
		return
	}
	p.Slot.Type = t
}

func (b *Builder) compare(op queryir.ComparisonOp, l, r queryir.Expression) queryir.Predicate {
	inferParam(l, r.Type())
	inferParam(r, l.Type())
	if l.Type().IsEntity() || r.Type().IsEntity() {
		return b.entityComparison(op, l, r)
	}
	return &queryir.Comparison{Op: op, Left: l, Right: r}
}

func (b *Builder) Eq(l, r queryir.Expression) queryir.Predicate { return b.compare(queryir.Eq, l, r) }
func (b *Builder) Ne(l, r queryir.Expression) queryir.Predicate { return b.compare(queryir.Ne, l, r) }
func (b *Builder) Lt(l, r queryir.Expression) queryir.Predicate { return b.compare(queryir.Lt, l, r) }
func (b *Builder) Le(l, r queryir.Expression) queryir.Predicate { return b.compare(queryir.Le, l, r) }
func (b *Builder) Gt(l, r queryir.Expression) queryir.Predicate { return b.compare(queryir.Gt, l, r) }
func (b *Builder) Ge(l, r queryir.Expression) queryir.Predicate { return b.compare(queryir.Ge, l, r) }

// keyOf is the key an entity-valued expression is compared by: the
// referenced unique key of a foreign key, otherwise the primary key.
func keyOf(e queryir.Expression) string {
	if fk, ok := e.(*queryir.FKRef); ok {
		return fk.Attribute.ReferencedKey()
	}
	return ""
}

func keyAttributes(entity *metamodel.EntityType, key string) []*metamodel.Attribute {
	if key == "" {
		return []*metamodel.Attribute{entity.ID()}
	}
	return entity.UniqueKey(key)
}

// entityKeyed wraps an entity-valued operand in the key it is compared by.
func (b *Builder) entityKeyed(e queryir.Expression, entity *metamodel.EntityType, key string) queryir.Expression {
	switch x := e.(type) {
	case *queryir.Parameter:
		x.Slot.Type = queryir.EntityOf(entity)
		x.Slot.Key = keyAttributes(entity, key)
	case *queryir.EntityRef, *queryir.FKRef, *queryir.Literal:
	default:
		b.fail("%s is not an entity value", e.Type())
	}
	return &queryir.KeyTuple{Source: e, Key: key}
}

func (b *Builder) entityComparison(op queryir.ComparisonOp, l, r queryir.Expression) queryir.Predicate {
	if lit, ok := r.(*queryir.Literal); ok && ir.IsNull(lit.Value) {
		return &queryir.NullCheck{X: l, Negated: op == queryir.Ne}
	}
	if lit, ok := l.(*queryir.Literal); ok && ir.IsNull(lit.Value) {
		return &queryir.NullCheck{X: r, Negated: op == queryir.Ne}
	}
	if op != queryir.Eq && op != queryir.Ne {
		b.fail("entities compare with = and <> only, not '%s'", op)
	}
	entity := l.Type().Entity
	if entity == nil {
		entity = r.Type().Entity
	}
	lk, rk := keyOf(l), keyOf(r)
	_, lfk := l.(*queryir.FKRef)
	_, rfk := r.(*queryir.FKRef)
	if lfk && rfk && lk != rk {
		b.fail("foreign keys reference different keys %q and %q", lk, rk)
	}
	key := lk
	if rk != "" {
		key = rk
	}
	return &queryir.Comparison{Op: op, Left: b.entityKeyed(l, entity, key), Right: b.entityKeyed(r, entity, key)}
}

// IsNull is "x is null".
func (b *Builder) IsNull(x queryir.Expression) queryir.Predicate {
	return &queryir.NullCheck{X: x}
}

// IsNotNull is "x is not null".
func (b *Builder) IsNotNull(x queryir.Expression) queryir.Predicate {
	return &queryir.NullCheck{X: x, Negated: true}
}

// Like is "x like pattern".
func (b *Builder) Like(x, pattern queryir.Expression) queryir.Predicate {
	inferParam(pattern, queryir.BasicOf(metamodel.TypeString))
	return &queryir.Like{X: x, Pattern: pattern}
}

// Between is "x between lo and hi".
func (b *Builder) Between(x, lo, hi queryir.Expression) queryir.Predicate {
	inferParam(lo, x.Type())
	inferParam(hi, x.Type())
	return &queryir.Between{X: x, Low: lo, High: hi}
}

// In is "x in (values)". A single parameter is a multi-valued list bound
// to a slice.
func (b *Builder) In(x queryir.Expression, values ...queryir.Expression) queryir.Predicate {
	return b.in(x, values, false)
}

// NotIn is "x not in (values)".
func (b *Builder) NotIn(x queryir.Expression, values ...queryir.Expression) queryir.Predicate {
	return b.in(x, values, true)
}

func (b *Builder) in(x queryir.Expression, values []queryir.Expression, negated bool) queryir.Predicate {
	for _, v := range values {
		if p, ok := v.(*queryir.Parameter); ok && len(values) == 1 {
			p.Slot.Multi = true
		}
		inferParam(v, x.Type())
	}
	if entity := x.Type().Entity; entity != nil {
		key := keyOf(x)
		for i, v := range values {
			values[i] = b.entityKeyed(v, entity, key)
		}
		x = &queryir.KeyTuple{Source: x, Key: key}
	}
	return &queryir.InList{X: x, Values: values, Negated: negated}
}

// InQuery is "x in (select ...)".
func (b *Builder) InQuery(x queryir.Expression, sub *Query) queryir.Predicate {
	stmt := sub.statement()
	if sel := stmt.Body.FirstSpec().Selection; len(sel) == 1 {
		inferParam(x, sel[0].Expr.Type())
		if entity := x.Type().Entity; entity != nil {
			key := keyOf(x)
			x = &queryir.KeyTuple{Source: x, Key: key}
			sel[0].Expr = b.entityKeyed(sel[0].Expr, entity, key)
		}
	}
	return &queryir.InSubquery{X: x, Query: stmt}
}

// Exists is "exists (select ...)".
func (b *Builder) Exists(sub *Query) queryir.Predicate {
	return &queryir.Exists{Query: sub.statement()}
}

// TypeIn restricts p to the given concrete types.
func (b *Builder) TypeIn(p *Path, types ...*metamodel.EntityType) queryir.Predicate {
	return &queryir.TypeRestriction{Range: p.r, Types: types}
}

// And conjoins predicates.
func (b *Builder) And(preds ...queryir.Predicate) queryir.Predicate {
	return queryir.And(preds...)
}

// Or disjoins predicates.
func (b *Builder) Or(preds ...queryir.Predicate) queryir.Predicate {
	var out []queryir.Predicate
	for _, p := range preds {
		if p != nil {
			out = append(out, p)
		}
	}
	if len(out) == 1 {
		return out[0]
	}
	return &queryir.Junction{Or: true, Predicates: out}
}

// Not negates p.
func (b *Builder) Not(p queryir.Predicate) queryir.Predicate {
	return &queryir.Negation{P: p}
}
