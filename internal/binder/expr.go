package binder

import (
	"fmt"
	"slices"

	"github.com/roach88/oql/internal/hql"
	"github.com/roach88/oql/internal/ir"
	"github.com/roach88/oql/internal/metamodel"
	"github.com/roach88/oql/internal/queryir"
)

func modeFor(sc *scope) termMode {
	switch sc.clause {
	case clauseSelect:
		return termEntity
	case clauseGroup, clauseOrder:
		return termGroup
	default:
		return termKey
	}
}

func (b *binder) expr(e hql.Expr, sc *scope) (queryir.Expression, error) {
	return b.exprMode(e, sc, modeFor(sc))
}

func (b *binder) exprMode(e hql.Expr, sc *scope, mode termMode) (queryir.Expression, error) {
	switch x := e.(type) {
	case *hql.Path:
		return b.path(x, sc, mode)
	case *hql.Literal:
		return literal(x), nil
	case *hql.Param:
		return &queryir.Parameter{Slot: b.slot(x)}, nil
	case *hql.Binary:
		return b.arithmetic(x, sc)
	case *hql.Unary:
		v, err := b.expr(x.X, sc)
		if err != nil {
			return nil, err
		}
		if !arithmeticOperand(v.Type()) {
			return nil, &TypeMismatchError{Left: v.Type().String(), Context: "unary minus", Pos: x.Pos}
		}
		return &queryir.Negate{X: v}, nil
	case *hql.Func:
		return b.funcCall(x, sc)
	case *hql.Case:
		return b.caseExpr(x, sc)
	case *hql.Subquery:
		return b.scalarSubquery(x.Query, sc, x.Pos)
	case *hql.TypeOf:
		v, err := b.exprMode(x.X, sc, termJoin)
		if err != nil {
			return nil, err
		}
		ref, ok := v.(*queryir.EntityRef)
		if !ok {
			return nil, &TypeMismatchError{Left: v.Type().String(), Context: "type() requires an entity", Pos: x.Pos}
		}
		return &queryir.TypeOf{Range: ref.Range}, nil
	case *hql.Treat:
		return b.treat(x, sc, mode)
	case *hql.Element:
		return b.element(x, sc)
	case *hql.New:
		return nil, &TypeMismatchError{Left: "new " + x.Name, Context: "instantiation outside the select list", Pos: x.Pos}
	default:
		// a predicate used as a value
		p, err := b.predicate(e, sc)
		if err != nil {
			return nil, err
		}
		return &queryir.CaseExpr{
			Whens: []*queryir.CaseWhen{{Cond: p, Result: boolLiteral(true)}},
			Else:  boolLiteral(false),
			T:     queryir.BasicOf(metamodel.TypeBoolean),
		}, nil
	}
}

func literal(x *hql.Literal) *queryir.Literal {
	t := metamodel.TypeUnknown
	switch x.Kind {
	case hql.LitString:
		t = metamodel.TypeString
	case hql.LitInteger:
		t = metamodel.TypeInteger
	case hql.LitDecimal:
		t = metamodel.TypeDecimal
	case hql.LitBoolean:
		t = metamodel.TypeBoolean
	}
	return &queryir.Literal{Value: x.Value, T: queryir.BasicOf(t)}
}

func boolLiteral(v bool) *queryir.Literal {
	return &queryir.Literal{Value: ir.IRBool(v), T: queryir.BasicOf(metamodel.TypeBoolean)}
}

func toInt(x *hql.Literal) int64 {
	if v, ok := x.Value.(ir.IRInt); ok {
		return int64(v)
	}
	return 0
}

func isNullLiteral(e queryir.Expression) bool {
	l, ok := e.(*queryir.Literal)
	return ok && ir.IsNull(l.Value)
}

func (b *binder) slot(p *hql.Param) *queryir.ParamSlot {
	if p.Name != "" {
		return b.params.Named(p.Name)
	}
	return b.params.Ordinal(p.Ordinal)
}

// inferParam gives an untyped parameter the type of the expression it is
// used against.
func (b *binder) inferParam(e queryir.Expression, t queryir.Type) {
	p, ok := e.(*queryir.Parameter)
	if !ok || p.Slot.Type != (queryir.Type{}) || t == (queryir.Type{}) {
		return
	}
	p.Slot.Type = t
}

func arithmeticOperand(t queryir.Type) bool {
	if t.IsEntity() || t.IsEmbedded() || t.Discriminator {
		return false
	}
	return t.Basic == metamodel.TypeUnknown || t.Basic.IsNumeric()
}

func (b *binder) arithmetic(x *hql.Binary, sc *scope) (queryir.Expression, error) {
	l, err := b.expr(x.Left, sc)
	if err != nil {
		return nil, err
	}
	r, err := b.expr(x.Right, sc)
	if err != nil {
		return nil, err
	}
	if x.Op == "||" {
		str := queryir.BasicOf(metamodel.TypeString)
		b.inferParam(l, str)
		b.inferParam(r, str)
		return &queryir.Arithmetic{Op: "||", Left: l, Right: r, T: str}, nil
	}
	b.inferParam(l, r.Type())
	b.inferParam(r, l.Type())
	lt, rt := l.Type(), r.Type()
	if !arithmeticOperand(lt) || !arithmeticOperand(rt) {
		return nil, &TypeMismatchError{Left: lt.String(), Right: rt.String(), Context: fmt.Sprintf("arithmetic '%s'", x.Op), Pos: x.Pos}
	}
	return &queryir.Arithmetic{Op: x.Op, Left: l, Right: r, T: queryir.BasicOf(lt.Basic.Widen(rt.Basic))}, nil
}

func (b *binder) scalarSubquery(q *hql.Query, sc *scope, pos int) (queryir.Expression, error) {
	sub, err := b.query(q, sc)
	if err != nil {
		return nil, err
	}
	sel := sub.Body.FirstSpec().Selection
	if len(sel) != 1 {
		return nil, &TypeMismatchError{Left: fmt.Sprintf("%d selected items", len(sel)), Context: "scalar subquery", Pos: pos}
	}
	return &queryir.ScalarSubquery{Query: sub, T: sel[0].Expr.Type()}, nil
}

func (b *binder) predicate(e hql.Expr, sc *scope) (queryir.Predicate, error) {
	if e == nil {
		return nil, nil
	}
	switch x := e.(type) {
	case *hql.Logical:
		l, err := b.predicate(x.Left, sc)
		if err != nil {
			return nil, err
		}
		r, err := b.predicate(x.Right, sc)
		if err != nil {
			return nil, err
		}
		return junction(fold(x.Op) == "or", l, r), nil
	case *hql.Not:
		p, err := b.predicate(x.X, sc)
		if err != nil {
			return nil, err
		}
		return &queryir.Negation{P: p}, nil
	}

	mark := len(b.treats)
	p, err := b.leafPredicate(e, sc)
	if err != nil {
		return nil, err
	}
	if len(b.treats) > mark {
		restrictions := append([]queryir.Predicate(nil), b.treats[mark:]...)
		b.treats = b.treats[:mark]
		p = queryir.And(append(restrictions, p)...)
	}
	return p, nil
}

func junction(or bool, preds ...queryir.Predicate) *queryir.Junction {
	out := &queryir.Junction{Or: or}
	for _, p := range preds {
		if j, ok := p.(*queryir.Junction); ok && j.Or == or {
			out.Predicates = append(out.Predicates, j.Predicates...)
			continue
		}
		out.Predicates = append(out.Predicates, p)
	}
	return out
}

func (b *binder) leafPredicate(e hql.Expr, sc *scope) (queryir.Predicate, error) {
	switch x := e.(type) {
	case *hql.Compare:
		return b.comparison(x, sc)
	case *hql.IsNull:
		v, err := b.exprMode(x.X, sc, termNull)
		if err != nil {
			return nil, err
		}
		return &queryir.NullCheck{X: v, Negated: x.Negate}, nil
	case *hql.Between:
		return b.between(x, sc)
	case *hql.Like:
		return b.like(x, sc)
	case *hql.In:
		return b.inPredicate(x, sc)
	case *hql.Exists:
		sub, err := b.query(x.Query, sc)
		if err != nil {
			return nil, err
		}
		return &queryir.Exists{Query: sub, Negated: x.Negate}, nil
	default:
		v, err := b.expr(e, sc)
		if err != nil {
			return nil, err
		}
		b.inferParam(v, queryir.BasicOf(metamodel.TypeBoolean))
		if t := v.Type(); !isBoolean(t) {
			return nil, &TypeMismatchError{Left: t.String(), Right: "boolean", Context: "predicate", Pos: e.Position()}
		}
		return &queryir.BooleanExpression{X: v}, nil
	}
}

func isBoolean(t queryir.Type) bool {
	return !t.IsEntity() && !t.IsEmbedded() && !t.Discriminator &&
		(t.Basic == metamodel.TypeBoolean || t.Basic == metamodel.TypeUnknown)
}

func (b *binder) comparison(x *hql.Compare, sc *scope) (queryir.Predicate, error) {
	op, ok := queryir.ParseComparisonOp(x.Op)
	if !ok {
		return nil, fmt.Errorf("binder: unknown comparison operator %q", x.Op)
	}
	l, err := b.exprMode(x.Left, sc, termKey)
	if err != nil {
		return nil, err
	}
	r, err := b.exprMode(x.Right, sc, termKey)
	if err != nil {
		return nil, err
	}
	if l.Type().Discriminator || r.Type().Discriminator {
		return b.typeComparison(op, l, r, x.Pos)
	}
	b.inferParam(l, r.Type())
	b.inferParam(r, l.Type())
	lt, rt := l.Type(), r.Type()
	if lt.IsEntity() || rt.IsEntity() {
		return b.entityComparison(op, l, r, x.Pos)
	}
	if !assignable(lt, rt) {
		return nil, &TypeMismatchError{Left: lt.String(), Right: rt.String(), Context: fmt.Sprintf("comparison '%s'", x.Op), Pos: x.Pos}
	}
	if (lt.IsEmbedded() || rt.IsEmbedded()) && op != queryir.Eq && op != queryir.Ne {
		return nil, &TypeMismatchError{Left: lt.String(), Right: rt.String(), Context: fmt.Sprintf("embedded values compare with = and <> only, not '%s'", x.Op), Pos: x.Pos}
	}
	return &queryir.Comparison{Op: op, Left: l, Right: r}, nil
}

// typeComparison binds type(x) = Entity to a type restriction.
func (b *binder) typeComparison(op queryir.ComparisonOp, l, r queryir.Expression, pos int) (queryir.Predicate, error) {
	if op != queryir.Eq && op != queryir.Ne {
		return nil, &TypeMismatchError{Left: "entity type", Context: fmt.Sprintf("entity types compare with = and <> only, not '%s'", op), Pos: pos}
	}
	lt, lok := l.(*queryir.TypeOf)
	rt, rok := r.(*queryir.TypeOf)
	if lok && rok {
		return &queryir.Comparison{Op: op, Left: l, Right: r}, nil
	}
	t, other := lt, r
	if !lok {
		t, other = rt, l
	}
	if t == nil {
		return nil, &TypeMismatchError{Left: l.Type().String(), Right: r.Type().String(), Context: "type comparison", Pos: pos}
	}
	lit, ok := other.(*queryir.EntityTypeLiteral)
	if !ok {
		return nil, &TypeMismatchError{Left: "entity type", Right: other.Type().String(), Context: "type comparison", Pos: pos}
	}
	if !lit.Entity.IsSubtypeOf(t.Range.Entity) {
		return nil, &TypeMismatchError{Left: lit.Entity.Name(), Right: t.Range.Entity.Name(), Context: "type comparison outside the hierarchy", Pos: pos}
	}
	return &queryir.TypeRestriction{Range: t.Range, Types: []*metamodel.EntityType{lit.Entity}, Negated: op == queryir.Ne}, nil
}

// keyShape lists the keys an entity-valued expression can supply without
// another join. Parameters and literals supply any key.
type keyShape struct {
	any bool
	pk  bool
	uks []string
}

func keysOf(e queryir.Expression) (keyShape, bool) {
	switch x := e.(type) {
	case *queryir.EntityRef:
		if x.Range.KeyOnly {
			return keyShape{pk: true}, true
		}
		return keyShape{pk: true, uks: x.Range.Entity.UniqueKeyNames()}, true
	case *queryir.FKRef:
		if k := x.Attribute.ReferencedKey(); k != "" {
			return keyShape{uks: []string{k}}, true
		}
		return keyShape{pk: true}, true
	case *queryir.Parameter, *queryir.Literal:
		return keyShape{any: true}, true
	default:
		return keyShape{}, false
	}
}

// chooseKey picks the key both shapes supply: the primary key when
// possible, otherwise the first shared unique key.
func chooseKey(a, b keyShape) (string, bool) {
	switch {
	case a.any && b.any:
		return "", true
	case a.any:
		if b.pk {
			return "", true
		}
		return b.uks[0], true
	case b.any:
		if a.pk {
			return "", true
		}
		return a.uks[0], true
	case a.pk && b.pk:
		return "", true
	}
	for _, k := range a.uks {
		if slices.Contains(b.uks, k) {
			return k, true
		}
	}
	return "", false
}

// widen joins the target of a foreign key reference so its primary key is
// available.
func (b *binder) widen(e queryir.Expression) queryir.Expression {
	fk, ok := e.(*queryir.FKRef)
	if !ok {
		return e
	}
	return &queryir.EntityRef{Range: b.implicitJoin(fk.Range, fk.Attribute, b.owner[fk.Range], queryir.JoinInner)}
}

func keyAttributes(entity *metamodel.EntityType, key string) []*metamodel.Attribute {
	if key == "" {
		return []*metamodel.Attribute{entity.ID()}
	}
	return entity.UniqueKey(key)
}

// matchKeys settles the key two entity-valued expressions are compared by,
// widening the sides that lack the primary key when they share none.
func (b *binder) matchKeys(l, r queryir.Expression, pos int) (queryir.Expression, queryir.Expression, string, error) {
	lk, lok := keysOf(l)
	rk, rok := keysOf(r)
	if !lok || !rok {
		return nil, nil, "", &TypeMismatchError{Left: l.Type().String(), Right: r.Type().String(), Context: "entity comparison operand", Pos: pos}
	}
	key, ok := chooseKey(lk, rk)
	if !ok {
		if !lk.pk {
			l = b.widen(l)
		}
		if !rk.pk {
			r = b.widen(r)
		}
		key = ""
	}
	entity := l.Type().Entity
	if entity == nil {
		entity = r.Type().Entity
	}
	for _, side := range []queryir.Expression{l, r} {
		if p, ok := side.(*queryir.Parameter); ok {
			p.Slot.Type = queryir.EntityOf(entity)
			p.Slot.Key = keyAttributes(entity, key)
		}
	}
	return l, r, key, nil
}

func (b *binder) entityComparison(op queryir.ComparisonOp, l, r queryir.Expression, pos int) (queryir.Predicate, error) {
	switch {
	case isNullLiteral(r):
		return &queryir.NullCheck{X: l, Negated: op == queryir.Ne}, nil
	case isNullLiteral(l):
		return &queryir.NullCheck{X: r, Negated: op == queryir.Ne}, nil
	}
	lt, rt := l.Type(), r.Type()
	if op != queryir.Eq && op != queryir.Ne {
		return nil, &TypeMismatchError{Left: lt.String(), Right: rt.String(), Context: fmt.Sprintf("entities compare with = and <> only, not '%s'", op), Pos: pos}
	}
	if !assignable(lt, rt) {
		return nil, &TypeMismatchError{Left: lt.String(), Right: rt.String(), Context: "entity comparison", Pos: pos}
	}
	l, r, key, err := b.matchKeys(l, r, pos)
	if err != nil {
		return nil, err
	}
	return &queryir.Comparison{Op: op, Left: &queryir.KeyTuple{Source: l, Key: key}, Right: &queryir.KeyTuple{Source: r, Key: key}}, nil
}

func (b *binder) between(x *hql.Between, sc *scope) (queryir.Predicate, error) {
	v, err := b.expr(x.X, sc)
	if err != nil {
		return nil, err
	}
	lo, err := b.expr(x.Low, sc)
	if err != nil {
		return nil, err
	}
	hi, err := b.expr(x.High, sc)
	if err != nil {
		return nil, err
	}
	for _, bound := range []queryir.Expression{lo, hi} {
		b.inferParam(bound, v.Type())
		b.inferParam(v, bound.Type())
		if !assignable(v.Type(), bound.Type()) || v.Type().IsEntity() || v.Type().IsEmbedded() {
			return nil, &TypeMismatchError{Left: v.Type().String(), Right: bound.Type().String(), Context: "between", Pos: x.Pos}
		}
	}
	return &queryir.Between{X: v, Low: lo, High: hi, Negated: x.Negate}, nil
}

func (b *binder) like(x *hql.Like, sc *scope) (queryir.Predicate, error) {
	str := queryir.BasicOf(metamodel.TypeString)
	out := &queryir.Like{Negated: x.Negate}
	var err error
	if out.X, err = b.expr(x.X, sc); err != nil {
		return nil, err
	}
	if out.Pattern, err = b.expr(x.Pattern, sc); err != nil {
		return nil, err
	}
	if x.Escape != nil {
		if out.Escape, err = b.expr(x.Escape, sc); err != nil {
			return nil, err
		}
	}
	for _, e := range []queryir.Expression{out.X, out.Pattern, out.Escape} {
		if e == nil {
			continue
		}
		b.inferParam(e, str)
		if t := e.Type(); t.IsEntity() || t.IsEmbedded() || (t.Basic != metamodel.TypeString && t.Basic != metamodel.TypeUnknown) {
			return nil, &TypeMismatchError{Left: t.String(), Right: "string", Context: "like", Pos: x.Pos}
		}
	}
	return out, nil
}

func (b *binder) inPredicate(x *hql.In, sc *scope) (queryir.Predicate, error) {
	v, err := b.exprMode(x.X, sc, termKey)
	if err != nil {
		return nil, err
	}
	if x.Subquery != nil {
		return b.inSubquery(x, v, sc)
	}
	if t, ok := v.(*queryir.TypeOf); ok {
		return b.typeIn(x, t)
	}

	var values []queryir.Expression
	for _, item := range x.List {
		e, err := b.exprMode(item, sc, termKey)
		if err != nil {
			return nil, err
		}
		if p, ok := e.(*queryir.Parameter); ok && len(x.List) == 1 {
			p.Slot.Multi = true
		}
		b.inferParam(e, v.Type())
		b.inferParam(v, e.Type())
		if !assignable(v.Type(), e.Type()) && !isNullLiteral(e) {
			return nil, &TypeMismatchError{Left: v.Type().String(), Right: e.Type().String(), Context: "in list", Pos: x.Pos}
		}
		values = append(values, e)
	}

	if v.Type().IsEntity() {
		vk, ok := keysOf(v)
		if !ok {
			return nil, &TypeMismatchError{Left: v.Type().String(), Context: "entity in list", Pos: x.Pos}
		}
		key, _ := chooseKey(vk, keyShape{any: true})
		entity := v.Type().Entity
		for i, e := range values {
			switch p := e.(type) {
			case *queryir.Parameter:
				p.Slot.Type = queryir.EntityOf(entity)
				p.Slot.Key = keyAttributes(entity, key)
			case *queryir.Literal:
			default:
				return nil, &TypeMismatchError{Left: v.Type().String(), Right: e.Type().String(), Context: "entity in list accepts parameters only", Pos: x.Pos}
			}
			values[i] = &queryir.KeyTuple{Source: e, Key: key}
		}
		v = &queryir.KeyTuple{Source: v, Key: key}
	}
	return &queryir.InList{X: v, Values: values, Negated: x.Negate}, nil
}

func (b *binder) inSubquery(x *hql.In, v queryir.Expression, sc *scope) (queryir.Predicate, error) {
	sub, err := b.query(x.Subquery, sc)
	if err != nil {
		return nil, err
	}
	sel := sub.Body.FirstSpec().Selection
	if len(sel) != 1 {
		return nil, &TypeMismatchError{Left: fmt.Sprintf("%d selected items", len(sel)), Context: "in subquery", Pos: x.Pos}
	}
	item := sel[0]
	b.inferParam(v, item.Expr.Type())
	if !assignable(v.Type(), item.Expr.Type()) {
		return nil, &TypeMismatchError{Left: v.Type().String(), Right: item.Expr.Type().String(), Context: "in subquery", Pos: x.Pos}
	}
	if v.Type().IsEntity() {
		if _, ok := sub.Body.(*queryir.QuerySpec); !ok {
			return nil, &TypeMismatchError{Left: v.Type().String(), Context: "entity in set operation subquery", Pos: x.Pos}
		}
		l, r, key, err := b.matchKeys(v, item.Expr, x.Pos)
		if err != nil {
			return nil, err
		}
		v = &queryir.KeyTuple{Source: l, Key: key}
		item.Expr = &queryir.KeyTuple{Source: r, Key: key}
	}
	return &queryir.InSubquery{X: v, Query: sub, Negated: x.Negate}, nil
}

// typeIn binds type(x) in (A, B).
func (b *binder) typeIn(x *hql.In, t *queryir.TypeOf) (queryir.Predicate, error) {
	out := &queryir.TypeRestriction{Range: t.Range, Negated: x.Negate}
	for _, item := range x.List {
		p, ok := item.(*hql.Path)
		if !ok || len(p.Segments) != 1 {
			return nil, &TypeMismatchError{Left: "entity type", Context: "type() in list expects entity names", Pos: item.Position()}
		}
		e := b.meta.Entity(p.Segments[0])
		if e == nil {
			return nil, &PathResolutionError{Path: p.Segments[0], Pos: p.Pos, Message: "unknown entity"}
		}
		if !e.IsSubtypeOf(t.Range.Entity) {
			return nil, &TypeMismatchError{Left: e.Name(), Right: t.Range.Entity.Name(), Context: "type comparison outside the hierarchy", Pos: p.Pos}
		}
		out.Types = append(out.Types, e)
	}
	return out, nil
}

func (b *binder) funcCall(f *hql.Func, sc *scope) (queryir.Expression, error) {
	if f.Name == "cast" {
		return b.cast(f, sc)
	}
	call := &queryir.FuncCall{Name: f.Name, Distinct: f.Distinct, Star: f.Star}
	if f.Star && f.Name != "count" {
		return nil, &TypeMismatchError{Left: "*", Context: f.Name + "() argument", Pos: f.Pos}
	}
	for _, a := range f.Args {
		v, err := b.exprMode(a, sc, termKey)
		if err != nil {
			return nil, err
		}
		call.Args = append(call.Args, v)
	}
	t, err := b.functionType(call)
	if err != nil {
		return nil, &TypeMismatchError{Left: err.Error(), Context: f.Name + "()", Pos: f.Pos}
	}
	call.T = t
	return call, nil
}

func (b *binder) cast(f *hql.Func, sc *scope) (queryir.Expression, error) {
	x, err := b.expr(f.Args[0], sc)
	if err != nil {
		return nil, err
	}
	name, _ := f.Args[1].(*hql.Literal).Value.(ir.IRString)
	to, err := metamodel.ParseBasicType(string(name))
	if err != nil {
		return nil, &TypeMismatchError{Left: string(name), Context: "cast target", Pos: f.Pos}
	}
	if x.Type().IsEntity() || x.Type().IsEmbedded() {
		return nil, &TypeMismatchError{Left: x.Type().String(), Right: to.String(), Context: "cast", Pos: f.Pos}
	}
	return &queryir.Cast{X: x, To: to}, nil
}

var (
	stringFunctions  = []string{"lower", "upper", "trim", "concat", "substring", "replace", "left", "right", "str", "lpad", "rpad"}
	integerFunctions = []string{"length", "locate", "character_length", "mod", "year", "month", "day", "hour", "minute", "second"}
	doubleFunctions  = []string{"avg", "sqrt", "exp", "ln", "power"}
	sameTypeFuncs    = []string{"min", "max", "abs", "round", "floor", "ceiling"}
	firstTypedFuncs  = []string{"coalesce", "nullif", "ifnull"}
)

func (b *binder) functionType(f *queryir.FuncCall) (queryir.Type, error) {
	for _, a := range f.Args {
		if a.Type().IsEntity() && f.Name != "count" {
			return queryir.Type{}, fmt.Errorf("entity argument %s", a.Type())
		}
	}
	var first queryir.Type
	if len(f.Args) > 0 {
		first = f.Args[0].Type()
	}
	switch {
	case f.Name == "count":
		return queryir.BasicOf(metamodel.TypeInteger), nil
	case f.Name == "sum":
		if !arithmeticOperand(first) {
			return queryir.Type{}, fmt.Errorf("non-numeric argument %s", first)
		}
		return queryir.BasicOf(metamodel.TypeInteger.Widen(first.Basic)), nil
	case slices.Contains(doubleFunctions, f.Name):
		return queryir.BasicOf(metamodel.TypeDouble), nil
	case slices.Contains(stringFunctions, f.Name):
		return queryir.BasicOf(metamodel.TypeString), nil
	case slices.Contains(integerFunctions, f.Name):
		return queryir.BasicOf(metamodel.TypeInteger), nil
	case slices.Contains(sameTypeFuncs, f.Name):
		return first, nil
	case slices.Contains(firstTypedFuncs, f.Name):
		var t queryir.Type
		for _, a := range f.Args {
			if at := a.Type(); at != (queryir.Type{}) {
				t = at
				break
			}
		}
		for _, a := range f.Args {
			b.inferParam(a, t)
			if !assignable(t, a.Type()) {
				return queryir.Type{}, fmt.Errorf("mixed argument types %s and %s", t, a.Type())
			}
		}
		return t, nil
	case niladicFunctions[f.Name]:
		return queryir.BasicOf(metamodel.TypeTimestamp), nil
	default:
		return queryir.Type{}, nil
	}
}

func (b *binder) caseExpr(x *hql.Case, sc *scope) (queryir.Expression, error) {
	out := &queryir.CaseExpr{}
	var operand queryir.Expression
	if x.Operand != nil {
		var err error
		if operand, err = b.expr(x.Operand, sc); err != nil {
			return nil, err
		}
	}
	var results []queryir.Expression
	for _, w := range x.Whens {
		var cond queryir.Predicate
		if operand != nil {
			v, err := b.expr(w.Cond, sc)
			if err != nil {
				return nil, err
			}
			b.inferParam(v, operand.Type())
			if !assignable(operand.Type(), v.Type()) {
				return nil, &TypeMismatchError{Left: operand.Type().String(), Right: v.Type().String(), Context: "case operand", Pos: x.Pos}
			}
			cond = &queryir.Comparison{Op: queryir.Eq, Left: operand, Right: v}
		} else {
			var err error
			if cond, err = b.predicate(w.Cond, sc); err != nil {
				return nil, err
			}
		}
		res, err := b.expr(w.Result, sc)
		if err != nil {
			return nil, err
		}
		out.Whens = append(out.Whens, &queryir.CaseWhen{Cond: cond, Result: res})
		results = append(results, res)
	}
	if x.Else != nil {
		e, err := b.expr(x.Else, sc)
		if err != nil {
			return nil, err
		}
		out.Else = e
		results = append(results, e)
	}

	var t queryir.Type
	for _, r := range results {
		rt := r.Type()
		switch {
		case rt == (queryir.Type{}):
		case t == (queryir.Type{}):
			t = rt
		case !assignable(t, rt):
			return nil, &TypeMismatchError{Left: t.String(), Right: rt.String(), Context: "case results", Pos: x.Pos}
		case t.Entity == nil && t.Embedded == nil:
			t = queryir.BasicOf(t.Basic.Widen(rt.Basic))
		}
	}
	for _, r := range results {
		b.inferParam(r, t)
	}
	out.T = t
	return out, nil
}
