// Package binder resolves a parsed statement against the domain metamodel
// and produces a typed, alias-resolved queryir tree.
//
// Binding is single pass over the syntax tree with one scope per query
// block. Ranges get ids in the order they are created, so the same text
// always yields the same tree (and the same generated SQL aliases).
package binder

import (
	"fmt"
	"slices"

	"golang.org/x/text/cases"

	"github.com/roach88/oql/internal/hql"
	"github.com/roach88/oql/internal/metamodel"
	"github.com/roach88/oql/internal/queryir"
)

// Options tunes binding.
type Options struct {
	// Instantiations lists the targets "new X(...)" may name besides the
	// built-in list and map.
	Instantiations []string
}

// Bind resolves stmt against meta.
func Bind(stmt hql.Statement, meta *metamodel.Metamodel, opts Options) (queryir.Statement, error) {
	b := newBinder(meta, opts)
	switch s := stmt.(type) {
	case *hql.Query:
		q, err := b.query(s, nil)
		if err != nil {
			return nil, err
		}
		q.Params = b.params
		return q, nil
	case *hql.Update:
		return b.update(s)
	case *hql.Delete:
		return b.delete(s)
	default:
		return nil, fmt.Errorf("binder: unsupported statement %T", stmt)
	}
}

// BindText parses text and binds the result.
func BindText(text string, meta *metamodel.Metamodel, opts Options) (queryir.Statement, error) {
	stmt, err := hql.Parse(text)
	if err != nil {
		return nil, err
	}
	return Bind(stmt, meta, opts)
}

type binder struct {
	meta   *metamodel.Metamodel
	opts   Options
	params *queryir.ParameterTable
	nextID int
	// owner maps every range to the scope of the query block it renders in.
	owner map[*queryir.Range]*scope
	// treats collects type restrictions implied by treat() until the
	// enclosing predicate is complete.
	treats []queryir.Predicate
}

func newBinder(meta *metamodel.Metamodel, opts Options) *binder {
	return &binder{
		meta:   meta,
		opts:   opts,
		params: queryir.NewParameterTable(),
		owner:  make(map[*queryir.Range]*scope),
	}
}

type clause int

const (
	clauseFrom clause = iota
	clauseSelect
	clauseWhere
	clauseGroup
	clauseOrder
)

type implicitKey struct {
	parent *queryir.Range
	attr   *metamodel.Attribute
}

// scope is one query block's name space. CTE-only scopes (spec == nil)
// carry the with clause of a query.
type scope struct {
	parent   *scope
	spec     *queryir.QuerySpec
	aliases  map[string]*queryir.Range
	ranges   []*queryir.Range
	implicit map[implicitKey]*queryir.Range
	ctes     map[string]*queryir.CTE
	clause   clause
}

func newScope(parent *scope, spec *queryir.QuerySpec) *scope {
	return &scope{
		parent:   parent,
		spec:     spec,
		aliases:  make(map[string]*queryir.Range),
		implicit: make(map[implicitKey]*queryir.Range),
		ctes:     make(map[string]*queryir.CTE),
	}
}

func fold(s string) string { return cases.Fold().String(s) }

func (s *scope) lookupAlias(name string) *queryir.Range {
	key := fold(name)
	for sc := s; sc != nil; sc = sc.parent {
		if r, ok := sc.aliases[key]; ok {
			return r
		}
	}
	return nil
}

func (s *scope) lookupCTE(name string) *queryir.CTE {
	key := fold(name)
	for sc := s; sc != nil; sc = sc.parent {
		if c, ok := sc.ctes[key]; ok {
			return c
		}
	}
	return nil
}

func (b *binder) newRange(sc *scope, r *queryir.Range) *queryir.Range {
	r.ID = b.nextID
	b.nextID++
	b.owner[r] = sc
	return r
}

// declare makes an explicit range visible by alias and for unqualified
// attribute resolution.
func (b *binder) declare(sc *scope, r *queryir.Range, pos int) error {
	if r.Alias != "" {
		key := fold(r.Alias)
		if _, dup := sc.aliases[key]; dup {
			return &AmbiguousAliasError{Alias: r.Alias, Pos: pos, Message: "alias is already declared in this query"}
		}
		sc.aliases[key] = r
	}
	sc.ranges = append(sc.ranges, r)
	return nil
}

func (b *binder) query(q *hql.Query, parent *scope) (*queryir.SelectStatement, error) {
	sc := newScope(parent, nil)
	stmt := &queryir.SelectStatement{}
	for _, c := range q.With {
		cte, err := b.cte(c, q.Recursive, sc)
		if err != nil {
			return nil, err
		}
		key := fold(c.Name)
		if _, dup := sc.ctes[key]; dup {
			return nil, &AmbiguousAliasError{Alias: c.Name, Pos: c.Pos, Message: "common table expression is already declared"}
		}
		sc.ctes[key] = cte
		stmt.CTEs = append(stmt.CTEs, cte)
	}

	body, first, err := b.body(q.Body, sc)
	if err != nil {
		return nil, err
	}
	stmt.Body = body

	if len(q.OrderBy) > 0 {
		mark := len(b.treats)
		first.clause = clauseOrder
		for _, item := range q.OrderBy {
			e, err := b.sortExpr(item.Expr, first, body.FirstSpec().Selection)
			if err != nil {
				return nil, err
			}
			stmt.OrderBy = append(stmt.OrderBy, &queryir.SortSpec{Expr: e, Desc: item.Desc, Nulls: nullPrecedence(item.Nulls)})
		}
		b.treats = b.treats[:mark]
	}
	if stmt.Limit, err = b.pagingExpr(q.Limit, sc, "limit"); err != nil {
		return nil, err
	}
	if stmt.Offset, err = b.pagingExpr(q.Offset, sc, "offset"); err != nil {
		return nil, err
	}
	return stmt, nil
}

func nullPrecedence(s string) queryir.NullPrecedence {
	switch fold(s) {
	case "first":
		return queryir.NullsFirst
	case "last":
		return queryir.NullsLast
	default:
		return queryir.NullsDefault
	}
}

func (b *binder) pagingExpr(e hql.Expr, sc *scope, context string) (queryir.Expression, error) {
	if e == nil {
		return nil, nil
	}
	sc.clause = clauseWhere
	v, err := b.expr(e, sc)
	if err != nil {
		return nil, err
	}
	b.inferParam(v, queryir.BasicOf(metamodel.TypeInteger))
	if t := v.Type(); t.IsEntity() || (t.Basic != metamodel.TypeInteger && t.Basic != metamodel.TypeUnknown) {
		return nil, &TypeMismatchError{Left: t.String(), Right: "integer", Context: context, Pos: e.Position()}
	}
	return v, nil
}

// body binds a query body and returns the scope of its leftmost block, in
// which order by resolves.
func (b *binder) body(qb hql.QueryBody, sc *scope) (queryir.QueryPart, *scope, error) {
	switch x := qb.(type) {
	case *hql.QuerySpec:
		return b.spec(x, sc)
	case *hql.SetOperation:
		left, first, err := b.body(x.Left, sc)
		if err != nil {
			return nil, nil, err
		}
		right, _, err := b.body(x.Right, sc)
		if err != nil {
			return nil, nil, err
		}
		if err := checkSetOperands(x.Op.String(), left, right); err != nil {
			return nil, nil, err
		}
		return &queryir.SetOperation{Op: setOperator(x.Op), All: x.All, Left: left, Right: right}, first, nil
	default:
		return nil, nil, fmt.Errorf("binder: unsupported query body %T", qb)
	}
}

func setOperator(op hql.SetOperator) queryir.SetOperator {
	switch op {
	case hql.Intersect:
		return queryir.Intersect
	case hql.Except:
		return queryir.Except
	default:
		return queryir.Union
	}
}

func checkSetOperands(op string, left, right queryir.QueryPart) error {
	l, r := left.FirstSpec().Selection, right.FirstSpec().Selection
	if len(l) != len(r) {
		return &TypeMismatchError{
			Left:    fmt.Sprintf("%d selected items", len(l)),
			Right:   fmt.Sprintf("%d selected items", len(r)),
			Context: op,
		}
	}
	for i := range l {
		lt, rt := l[i].Expr.Type(), r[i].Expr.Type()
		if !assignable(lt, rt) {
			return &TypeMismatchError{Left: lt.String(), Right: rt.String(), Context: fmt.Sprintf("%s item %d", op, i+1)}
		}
	}
	return nil
}

// assignable reports whether a value of type got may fill a slot of type
// want: same entity hierarchy, same embeddable shape or comparable basics.
func assignable(want, got queryir.Type) bool {
	switch {
	case want.IsEntity() || got.IsEntity():
		return want.IsEntity() && got.IsEntity() && want.Entity.Root() == got.Entity.Root()
	case want.IsEmbedded() || got.IsEmbedded():
		return want.IsEmbedded() && got.IsEmbedded() &&
			len(want.Embedded.Attributes()) == len(got.Embedded.Attributes())
	case want.Discriminator || got.Discriminator:
		return want.Discriminator == got.Discriminator
	default:
		return want.Basic.Comparable(got.Basic)
	}
}

func (b *binder) spec(s *hql.QuerySpec, parent *scope) (*queryir.QuerySpec, *scope, error) {
	q := &queryir.QuerySpec{Distinct: s.Distinct}
	sc := newScope(parent, q)

	sc.clause = clauseFrom
	for _, item := range s.From {
		root, err := b.rootSource(item.Root, sc)
		if err != nil {
			return nil, nil, err
		}
		q.From = append(q.From, root)
		for _, j := range item.Joins {
			if err := b.join(j, root, sc); err != nil {
				return nil, nil, err
			}
		}
	}

	// treat() outside predicates does not restrict the rows
	mark := len(b.treats)
	sc.clause = clauseSelect
	if s.Select == nil {
		q.ImplicitSelection = true
		q.Selection = implicitSelection(q.From)
	} else {
		seen := map[string]bool{}
		for _, item := range s.Select {
			si, err := b.selectItem(item, sc)
			if err != nil {
				return nil, nil, err
			}
			if si.Alias != "" {
				key := fold(si.Alias)
				if seen[key] {
					return nil, nil, &AmbiguousAliasError{Alias: si.Alias, Pos: item.Expr.Position(), Message: "selection alias is used twice"}
				}
				seen[key] = true
			}
			q.Selection = append(q.Selection, si)
		}
	}
	b.treats = b.treats[:mark]

	var err error
	sc.clause = clauseWhere
	if q.Where, err = b.predicate(s.Where, sc); err != nil {
		return nil, nil, err
	}
	sc.clause = clauseGroup
	for _, g := range s.GroupBy {
		e, err := b.expr(g, sc)
		if err != nil {
			return nil, nil, err
		}
		q.GroupBy = append(q.GroupBy, e)
	}
	b.treats = b.treats[:mark]
	sc.clause = clauseWhere
	if q.Having, err = b.predicate(s.Having, sc); err != nil {
		return nil, nil, err
	}
	return q, sc, nil
}

// implicitSelection selects every root: entities whole, derived and CTE
// ranges column by column.
func implicitSelection(from []*queryir.Range) []*queryir.SelectItem {
	var out []*queryir.SelectItem
	for _, r := range from {
		if r.Implicit {
			continue
		}
		if r.IsEntity() {
			out = append(out, &queryir.SelectItem{Expr: &queryir.EntityRef{Range: r}})
			continue
		}
		for i, c := range r.Columns {
			out = append(out, &queryir.SelectItem{Expr: &queryir.DerivedRef{Range: r, Column: i}, Alias: c.Name})
		}
	}
	return out
}

func (b *binder) selectItem(item *hql.SelectItem, sc *scope) (*queryir.SelectItem, error) {
	if n, ok := item.Expr.(*hql.New); ok {
		inst, err := b.instantiation(n, sc)
		if err != nil {
			return nil, err
		}
		return &queryir.SelectItem{Expr: inst, Alias: item.Alias}, nil
	}
	e, err := b.expr(item.Expr, sc)
	if err != nil {
		return nil, err
	}
	return &queryir.SelectItem{Expr: e, Alias: item.Alias}, nil
}

func (b *binder) instantiation(n *hql.New, sc *scope) (*queryir.Instantiation, error) {
	target := n.Name
	switch fold(target) {
	case "list", "map":
		target = fold(target)
	default:
		if !slices.Contains(b.opts.Instantiations, target) {
			return nil, &PathResolutionError{Path: n.Name, Pos: n.Pos, Message: "unknown instantiation target"}
		}
	}
	inst := &queryir.Instantiation{Target: target}
	for _, a := range n.Args {
		si, err := b.selectItem(a, sc)
		if err != nil {
			return nil, err
		}
		inst.Args = append(inst.Args, si)
	}
	return inst, nil
}

// sortExpr resolves an order-by item: a selection alias, a 1-based
// selection position or an expression.
func (b *binder) sortExpr(e hql.Expr, sc *scope, selection []*queryir.SelectItem) (queryir.Expression, error) {
	switch x := e.(type) {
	case *hql.Path:
		if len(x.Segments) == 1 && sc.lookupAlias(x.Segments[0]) == nil {
			for _, item := range selection {
				if item.Alias != "" && fold(item.Alias) == fold(x.Segments[0]) {
					return item.Expr, nil
				}
			}
		}
	case *hql.Literal:
		if x.Kind == hql.LitInteger {
			n := int(toInt(x))
			if n < 1 || n > len(selection) {
				return nil, &PathResolutionError{Path: fmt.Sprint(n), Pos: x.Pos, Message: "order by position is out of range"}
			}
			return selection[n-1].Expr, nil
		}
	}
	return b.expr(e, sc)
}

func (b *binder) update(u *hql.Update) (*queryir.UpdateStatement, error) {
	sc, target, err := b.dmlTarget(u.Entity, u.Alias, u.Pos)
	if err != nil {
		return nil, err
	}
	stmt := &queryir.UpdateStatement{Target: target, Params: b.params}
	for _, a := range u.Assignments {
		assignment, err := b.assignment(a, target, sc)
		if err != nil {
			return nil, err
		}
		stmt.Assignments = append(stmt.Assignments, assignment)
	}
	if stmt.Where, err = b.predicate(u.Where, sc); err != nil {
		return nil, err
	}
	return stmt, nil
}

func (b *binder) delete(d *hql.Delete) (*queryir.DeleteStatement, error) {
	sc, target, err := b.dmlTarget(d.Entity, d.Alias, d.Pos)
	if err != nil {
		return nil, err
	}
	where, err := b.predicate(d.Where, sc)
	if err != nil {
		return nil, err
	}
	return &queryir.DeleteStatement{Target: target, Where: where, Params: b.params}, nil
}

func (b *binder) dmlTarget(name, alias string, pos int) (*scope, *queryir.Range, error) {
	entity := b.meta.Entity(name)
	if entity == nil {
		return nil, nil, &PathResolutionError{Path: name, Pos: pos, Message: "unknown entity"}
	}
	sc := newScope(nil, nil)
	sc.clause = clauseWhere
	target := b.newRange(sc, &queryir.Range{Kind: queryir.RangeRoot, Entity: entity, Alias: alias})
	if err := b.declare(sc, target, pos); err != nil {
		return nil, nil, err
	}
	return sc, target, nil
}

func (b *binder) assignment(a *hql.Assignment, target *queryir.Range, sc *scope) (*queryir.Assignment, error) {
	lhs, err := b.path(a.Path, sc, termKey)
	if err != nil {
		return nil, err
	}
	text := pathText(a.Path.Segments)
	switch t := lhs.(type) {
	case *queryir.AttributeRef:
		if t.Range != target || t.Via != nil {
			return nil, &PathResolutionError{Path: text, Pos: a.Path.Pos, Message: "only attributes of the updated entity can be assigned"}
		}
	case *queryir.FKRef:
		if t.Range != target {
			return nil, &PathResolutionError{Path: text, Pos: a.Path.Pos, Message: "only attributes of the updated entity can be assigned"}
		}
	default:
		return nil, &TypeMismatchError{Left: lhs.Type().String(), Context: "assignment to " + text, Pos: a.Path.Pos}
	}

	value, err := b.expr(a.Value, sc)
	if err != nil {
		return nil, err
	}
	b.inferParam(value, lhs.Type())
	if !assignable(lhs.Type(), value.Type()) && !isNullLiteral(value) {
		return nil, &TypeMismatchError{Left: lhs.Type().String(), Right: value.Type().String(), Context: "assignment to " + text, Pos: a.Path.Pos}
	}
	if fk, ok := lhs.(*queryir.FKRef); ok {
		key := fk.Attribute.ReferencedKey()
		switch v := value.(type) {
		case *queryir.Parameter:
			v.Slot.Key = keyAttributes(fk.Attribute.Target(), key)
		case *queryir.FKRef:
			if v.Attribute.ReferencedKey() != key {
				return nil, &TypeMismatchError{Left: "key " + keyName(key), Right: "key " + keyName(v.Attribute.ReferencedKey()), Context: "assignment to " + text, Pos: a.Path.Pos}
			}
		}
		if !isNullLiteral(value) {
			value = &queryir.KeyTuple{Source: value, Key: key}
		}
	}
	return &queryir.Assignment{Target: lhs, Value: value}, nil
}

func keyName(key string) string {
	if key == "" {
		return "primary key"
	}
	return key
}
