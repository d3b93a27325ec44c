package querysql

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/roach88/oql/internal/dialect"
	"github.com/roach88/oql/internal/ir"
	"github.com/roach88/oql/internal/metamodel"
	"github.com/roach88/oql/internal/queryir"
	"github.com/roach88/oql/internal/sqlast"
)

type lowerer struct {
	c    *Compiler
	d    *dialect.Dialect
	opts Options

	// bases holds the alias stem of every range; table aliases append
	// "_<index>" to it.
	bases   map[*queryir.Range]string
	jtBases map[*queryir.Range]string
	groups  map[*queryir.Range]*tableGroup
	// plain ranges are qualified by table name (bulk statement targets).
	plain map[*queryir.Range]bool
}

func newLowerer(c *Compiler, opts Options) *lowerer {
	return &lowerer{
		c:       c,
		d:       c.dialect,
		opts:    opts,
		bases:   make(map[*queryir.Range]string),
		jtBases: make(map[*queryir.Range]string),
		groups:  make(map[*queryir.Range]*tableGroup),
		plain:   make(map[*queryir.Range]bool),
	}
}

// assignAliases names every range of stmt in id order: the first letter of
// the entity, attribute or CTE name and a per-letter counter.
func (l *lowerer) assignAliases(stmt queryir.Statement) {
	var ranges []*queryir.Range
	queryir.Inspect(stmt, func(n any) bool {
		if r, ok := n.(*queryir.Range); ok {
			ranges = append(ranges, r)
		}
		return true
	})
	slices.SortStableFunc(ranges, func(a, b *queryir.Range) int { return a.ID - b.ID })
	counts := map[byte]int{}
	next := func(name string) string {
		c := byte('t')
		if name != "" {
			if ch := name[0] | 0x20; ch >= 'a' && ch <= 'z' {
				c = ch
			}
		}
		counts[c]++
		return string(c) + strconv.Itoa(counts[c])
	}
	for _, r := range ranges {
		if _, done := l.bases[r]; done {
			continue
		}
		var name string
		switch r.Kind {
		case queryir.RangeAssociation:
			name = r.Attribute.Name()
		case queryir.RangeDerived:
			name = "d"
		case queryir.RangeCTE:
			name = r.CTE.Name
		default:
			name = r.Entity.Name()
		}
		l.bases[r] = next(name)
		if r.Attribute != nil && r.Attribute.JoinTable() != nil {
			l.jtBases[r] = next(r.Attribute.JoinTable().Table)
		}
	}
}

// tableGroup is the set of tables an entity range may read: the static
// type's table, then the tables of its supertypes and of its descendants
// for joined hierarchies. Only used tables are joined.
type tableGroup struct {
	r     *queryir.Range
	types []*metamodel.EntityType
	used  []bool
}

func joinedHierarchy(e *metamodel.EntityType) bool {
	return e.Strategy() == metamodel.Joined && e.IsPolymorphic()
}

func (l *lowerer) group(r *queryir.Range) *tableGroup {
	if g, ok := l.groups[r]; ok {
		return g
	}
	g := &tableGroup{r: r, types: []*metamodel.EntityType{r.Entity}}
	if joinedHierarchy(r.Entity) {
		for s := r.Entity.Super(); s != nil; s = s.Super() {
			g.types = append(g.types, s)
		}
		g.types = append(g.types, r.Entity.Concrete()[1:]...)
	}
	g.used = make([]bool, len(g.types))
	l.groups[r] = g
	return g
}

func (g *tableGroup) index(e *metamodel.EntityType) int {
	for i, t := range g.types {
		if t == e {
			return i
		}
	}
	return 0
}

// tableAlias returns the alias of table i of r's group and marks it used.
func (l *lowerer) tableAlias(r *queryir.Range, i int) string {
	if r.IsEntity() {
		g := l.group(r)
		g.used[i] = true
		if l.plain[r] {
			return g.types[i].Table()
		}
	}
	return l.bases[r] + "_" + strconv.Itoa(i)
}

// qualifier returns the alias of the table of r holding attributes
// declared by declarer.
func (l *lowerer) qualifier(r *queryir.Range, declarer *metamodel.EntityType) string {
	if declarer == nil {
		return l.tableAlias(r, 0)
	}
	return l.tableAlias(r, l.group(r).index(declarer))
}

func (l *lowerer) jtAlias(r *queryir.Range) string {
	return l.jtBases[r] + "_0"
}

func declaringEntity(a *metamodel.Attribute) *metamodel.EntityType {
	e, _ := a.Declarer().(*metamodel.EntityType)
	return e
}

// attributeQualifier is the alias of the table holding attribute a of r.
// The identifier is read from the static type's own table.
func (l *lowerer) attributeQualifier(r *queryir.Range, a *metamodel.Attribute) string {
	if a == r.Entity.ID() {
		return l.tableAlias(r, 0)
	}
	return l.qualifier(r, declaringEntity(a))
}

// idCols are the primary key columns of r's rows. Key-only collection
// ranges read them from the join table.
func (l *lowerer) idCols(r *queryir.Range) []sqlast.Expr {
	if r.KeyOnly {
		return sqlast.Cols(l.jtAlias(r), r.Attribute.JoinTable().TargetColumns)
	}
	return l.targetIDCols(r)
}

func (l *lowerer) targetIDCols(r *queryir.Range) []sqlast.Expr {
	return sqlast.Cols(l.tableAlias(r, 0), r.Entity.IDColumns())
}

func (l *lowerer) fkCols(r *queryir.Range, a *metamodel.Attribute) []sqlast.Expr {
	return sqlast.Cols(l.qualifier(r, declaringEntity(a)), a.JoinColumns())
}

// ukCols are the columns of unique key key of r. Unique keys live on the
// hierarchy root.
func (l *lowerer) ukCols(r *queryir.Range, key string) []sqlast.Expr {
	return sqlast.Cols(l.qualifier(r, r.Entity.Root()), r.Entity.UniqueKeyColumns(key))
}

// refCols are the columns of r an owning to-one's foreign key references.
func (l *lowerer) refCols(r *queryir.Range, owning *metamodel.Attribute) []sqlast.Expr {
	if k := owning.ReferencedKey(); k != "" {
		return l.ukCols(r, k)
	}
	return l.targetIDCols(r)
}

// discriminator is the expression telling the concrete type of r's rows:
// the discriminator column of a single-table hierarchy, or for a joined
// one a case over the descendants' tables yielding the index of the type
// in the root's Concrete order.
func (l *lowerer) discriminator(r *queryir.Range) sqlast.Expr {
	e := r.Entity
	if !e.IsPolymorphic() {
		return &sqlast.Literal{Value: ir.IRInt(0)}
	}
	if !joinedHierarchy(e) {
		return sqlast.Col(l.tableAlias(r, 0), e.DiscriminatorColumn())
	}
	order := e.Root().Concrete()
	subs := e.Concrete()[1:]
	out := &sqlast.Case{Else: &sqlast.Literal{Value: ir.IRInt(int64(slices.Index(order, e)))}}
	for i := len(subs) - 1; i >= 0; i-- {
		sub := subs[i]
		out.Whens = append(out.Whens, &sqlast.When{
			Cond:   &sqlast.IsNull{X: sqlast.Col(l.qualifier(r, sub), sub.IDColumns()[0]), Negated: true},
			Result: &sqlast.Literal{Value: ir.IRInt(int64(slices.Index(order, sub)))},
		})
	}
	return out
}

// discriminatorValue is the literal the discriminator of r yields for t.
func discriminatorValue(r *queryir.Range, t *metamodel.EntityType) sqlast.Expr {
	if joinedHierarchy(r.Entity) {
		return &sqlast.Literal{Value: ir.IRInt(int64(slices.Index(r.Entity.Root().Concrete(), t)))}
	}
	return &sqlast.Literal{Value: ir.IRString(t.DiscriminatorValue())}
}

// typeRestriction limits r to rows of the given types.
func (l *lowerer) typeRestriction(r *queryir.Range, types []*metamodel.EntityType, negated bool) sqlast.Pred {
	values := make([]sqlast.Expr, len(types))
	for i, t := range types {
		values[i] = discriminatorValue(r, t)
	}
	return &sqlast.In{X: l.discriminator(r), Values: values, Negated: negated}
}

// subtypeRestriction limits a range over a single-table subtype to rows of
// that subtype and its descendants.
func (l *lowerer) subtypeRestriction(r *queryir.Range) sqlast.Pred {
	if !r.IsEntity() || r.KeyOnly || r.Entity.Super() == nil || joinedHierarchy(r.Entity) {
		return nil
	}
	return l.typeRestriction(r, r.Entity.Concrete(), false)
}

// topSelect lowers the top-level statement and its result shape.
func (l *lowerer) topSelect(s *queryir.SelectStatement, plan *Plan) error {
	out, shape, err := l.selectStmt(s, true)
	if err != nil {
		return err
	}
	if l.opts.FirstResult {
		out.Offset = &sqlast.Param{Binding: sqlast.Binding{Param: FirstResultParam, Element: -1, Type: metamodel.TypeInteger}}
	}
	if l.opts.MaxResults {
		out.Limit = &sqlast.Param{Binding: sqlast.Binding{Param: MaxResultsParam, Element: -1, Type: metamodel.TypeInteger}}
	}
	if shape.DistinctRoots && (out.Limit != nil || out.Offset != nil) {
		if p, ok := out.Limit.(*sqlast.Param); ok {
			plan.Limit = &p.Binding
		}
		if p, ok := out.Offset.(*sqlast.Param); ok {
			plan.Offset = &p.Binding
		}
		out.Limit, out.Offset = nil, nil
	}
	plan.Statement = out
	plan.Shape = shape
	return nil
}

// pendingSpec is a query block whose from clause is built once every
// expression that may touch its ranges has been lowered.
type pendingSpec struct {
	spec *queryir.QuerySpec
	core *sqlast.Core
}

// selectStmt lowers s. result requests full entity columns and a shape for
// the leftmost block.
func (l *lowerer) selectStmt(s *queryir.SelectStatement, result bool) (*sqlast.Select, *Shape, error) {
	out := &sqlast.Select{}
	for _, c := range s.CTEs {
		lc, err := l.cte(c)
		if err != nil {
			return nil, nil, err
		}
		out.With = append(out.With, lc)
		if c.Recursive {
			out.Recursive = true
		}
	}

	var pending []*pendingSpec
	var shape *Shape
	var itemCols [][]int
	body, err := l.body(s.Body, result, true, &pending, &shape, &itemCols)
	if err != nil {
		return nil, nil, err
	}
	out.Body = body

	_, setOp := s.Body.(*queryir.SetOperation)
	for _, sort := range s.OrderBy {
		var exprs []sqlast.Expr
		if setOp {
			exprs, err = l.positionalSort(sort.Expr, s.Body.FirstSpec(), itemCols)
		} else {
			exprs, err = l.sortExprs(sort.Expr)
		}
		if err != nil {
			return nil, nil, err
		}
		for _, e := range exprs {
			out.OrderBy = append(out.OrderBy, &sqlast.OrderItem{Expr: e, Desc: sort.Desc, Nulls: nullsKeyword(sort.Nulls)})
		}
	}
	if s.Limit != nil {
		if out.Limit, err = l.expr(s.Limit); err != nil {
			return nil, nil, err
		}
	}
	if s.Offset != nil {
		if out.Offset, err = l.expr(s.Offset); err != nil {
			return nil, nil, err
		}
	}

	for _, p := range pending {
		if err := l.finishSpec(p); err != nil {
			return nil, nil, err
		}
	}
	return out, shape, nil
}

func nullsKeyword(n queryir.NullPrecedence) string {
	switch n {
	case queryir.NullsFirst:
		return "first"
	case queryir.NullsLast:
		return "last"
	default:
		return ""
	}
}

// positionalSort orders a set operation by the 1-based positions of the
// columns of a selected expression.
func (l *lowerer) positionalSort(e queryir.Expression, first *queryir.QuerySpec, itemCols [][]int) ([]sqlast.Expr, error) {
	for i, item := range first.Selection {
		if item.Expr != e || i >= len(itemCols) {
			continue
		}
		out := make([]sqlast.Expr, len(itemCols[i]))
		for j, c := range itemCols[i] {
			out[j] = &sqlast.Literal{Value: ir.IRInt(int64(c + 1))}
		}
		return out, nil
	}
	return nil, &UnsupportedConstructError{Construct: "order by an expression a set operation does not select", Dialect: l.d.Name}
}

func (l *lowerer) body(part queryir.QueryPart, result, leftmost bool, pending *[]*pendingSpec, shape **Shape, itemCols *[][]int) (sqlast.Body, error) {
	switch p := part.(type) {
	case *queryir.QuerySpec:
		core, sh, cols, err := l.spec(p, result, leftmost)
		if err != nil {
			return nil, err
		}
		if leftmost {
			*shape, *itemCols = sh, cols
		}
		*pending = append(*pending, &pendingSpec{spec: p, core: core})
		return core, nil
	case *queryir.SetOperation:
		left, err := l.body(p.Left, result, leftmost, pending, shape, itemCols)
		if err != nil {
			return nil, err
		}
		right, err := l.body(p.Right, result, false, pending, shape, itemCols)
		if err != nil {
			return nil, err
		}
		if width(left) != width(right) {
			return nil, &UnsupportedConstructError{Construct: "set operation over entities of different types", Dialect: l.d.Name}
		}
		return &sqlast.SetOp{Op: p.Op.String(), All: p.All, Left: left, Right: right}, nil
	default:
		return nil, fmt.Errorf("lower: unsupported query part %T", part)
	}
}

func width(b sqlast.Body) int {
	switch x := b.(type) {
	case *sqlast.Core:
		return len(x.Columns)
	case *sqlast.SetOp:
		return width(x.Left)
	}
	return 0
}

func addColumn(core *sqlast.Core, e sqlast.Expr) int {
	core.Columns = append(core.Columns, &sqlast.Column{Expr: e})
	return len(core.Columns) - 1
}

// spec lowers a query block's select list, where, group by and having.
// The from clause is added by finishSpec.
func (l *lowerer) spec(q *queryir.QuerySpec, result, leftmost bool) (*sqlast.Core, *Shape, [][]int, error) {
	core := &sqlast.Core{Distinct: q.Distinct}
	var shape *Shape
	if result && leftmost {
		shape = &Shape{}
	}
	itemCols := make([][]int, 0, len(q.Selection))
	for _, item := range q.Selection {
		start := len(core.Columns)
		if result {
			ri, err := l.resultItem(core, item)
			if err != nil {
				return nil, nil, nil, err
			}
			if shape != nil {
				shape.Items = append(shape.Items, ri)
			}
		} else {
			exprs, err := l.exprs(item.Expr)
			if err != nil {
				return nil, nil, nil, err
			}
			for _, e := range exprs {
				addColumn(core, e)
			}
		}
		cols := make([]int, 0, len(core.Columns)-start)
		for c := start; c < len(core.Columns); c++ {
			cols = append(cols, c)
		}
		itemCols = append(itemCols, cols)
	}
	if shape != nil {
		shape.Width = len(core.Columns)
		if len(shape.Items) == 1 && shape.Items[0].Kind == ItemEntity && shape.Items[0].Entity.HasCollectionFetch() {
			shape.DistinctRoots = true
		}
	}

	var err error
	if core.Where, err = l.pred(q.Where); err != nil {
		return nil, nil, nil, err
	}
	for _, g := range q.GroupBy {
		exprs, err := l.groupExprs(g, q)
		if err != nil {
			return nil, nil, nil, err
		}
		core.GroupBy = append(core.GroupBy, exprs...)
	}
	if core.Having, err = l.pred(q.Having); err != nil {
		return nil, nil, nil, err
	}
	return core, shape, itemCols, nil
}

// groupExprs expands a grouping expression. An entity selected by the same
// block groups by every selected column of it, otherwise by its key.
func (l *lowerer) groupExprs(e queryir.Expression, q *queryir.QuerySpec) ([]sqlast.Expr, error) {
	ref, ok := e.(*queryir.EntityRef)
	if !ok {
		return l.exprs(e)
	}
	for _, item := range q.Selection {
		if sel, ok := item.Expr.(*queryir.EntityRef); ok && sel.Range == ref.Range {
			scratch := &sqlast.Core{}
			if _, err := l.entityColumns(scratch, ref.Range, false); err != nil {
				return nil, err
			}
			out := make([]sqlast.Expr, len(scratch.Columns))
			for i, c := range scratch.Columns {
				out[i] = c.Expr
			}
			return out, nil
		}
	}
	return l.idCols(ref.Range), nil
}

// sortExprs expands an order-by expression; entities sort by key.
func (l *lowerer) sortExprs(e queryir.Expression) ([]sqlast.Expr, error) {
	return l.exprs(e)
}

// finishSpec builds the from clause of a lowered block. Join conditions
// are lowered first so that every table they touch is known before the
// table groups are laid out.
func (l *lowerer) finishSpec(p *pendingSpec) error {
	f := newFromBuilder(l)
	for _, r := range p.spec.From {
		var err error
		r.Walk(func(j *queryir.Range) {
			if err == nil {
				err = f.prepare(j)
			}
		})
		if err != nil {
			return err
		}
	}
	var where []sqlast.Pred
	for _, r := range p.spec.From {
		item, extra := f.rootItem(r)
		p.core.From = append(p.core.From, item)
		where = append(where, extra...)
	}
	p.core.Where = sqlast.Conj(append(where, p.core.Where)...)
	return nil
}

type fromBuilder struct {
	l *lowerer
	// on holds each range's own join condition: its on/with condition and
	// subtype restrictions.
	on map[*queryir.Range]sqlast.Pred
	// link holds the condition tying an association range to its parent.
	// Join-table collections link the parent to the join table.
	link    map[*queryir.Range]sqlast.Pred
	derived map[*queryir.Range]*sqlast.Select
}

func newFromBuilder(l *lowerer) *fromBuilder {
	return &fromBuilder{
		l:       l,
		on:      map[*queryir.Range]sqlast.Pred{},
		link:    map[*queryir.Range]sqlast.Pred{},
		derived: map[*queryir.Range]*sqlast.Select{},
	}
}

func (f *fromBuilder) prepare(r *queryir.Range) error {
	l := f.l
	if r.Kind == queryir.RangeAssociation {
		f.link[r] = l.associationLink(r)
	}
	var preds []sqlast.Pred
	if r.Condition != nil {
		cond, err := l.pred(r.Condition)
		if err != nil {
			return err
		}
		preds = append(preds, cond)
	}
	preds = append(preds, l.subtypeRestriction(r))
	f.on[r] = sqlast.Conj(preds...)

	if r.Kind == queryir.RangeDerived {
		if r.Lateral && !l.d.SupportsLateral {
			return &UnsupportedConstructError{Construct: "subquery in from referencing an outer alias (lateral)", Dialect: l.d.Name}
		}
		sub, _, err := l.selectStmt(r.Query, false)
		if err != nil {
			return err
		}
		aliasColumns(sub, r.Columns)
		f.derived[r] = sub
	}
	return nil
}

// jtTargetLink joins the target of a join-table collection to the join
// table.
func (l *lowerer) jtTargetLink(r *queryir.Range) sqlast.Pred {
	return sqlast.Eq(l.targetIDCols(r), sqlast.Cols(l.jtAlias(r), r.Attribute.JoinTable().TargetColumns))
}

// aliasColumns names the select list of a derived table after its columns.
func aliasColumns(s *sqlast.Select, cols []*queryir.Column) {
	var core *sqlast.Core
	for b := s.Body; core == nil; {
		switch x := b.(type) {
		case *sqlast.Core:
			core = x
		case *sqlast.SetOp:
			b = x.Left
		}
	}
	for i, c := range core.Columns {
		if i < len(cols) {
			c.Alias = cols[i].Name
		}
	}
}

// associationLink is the condition joining association range r to its
// parent. Join-table collections link the parent to the join table.
func (l *lowerer) associationLink(r *queryir.Range) sqlast.Pred {
	p, attr := r.Parent, r.Attribute
	switch {
	case attr.JoinTable() != nil:
		return sqlast.Eq(sqlast.Cols(l.jtAlias(r), attr.JoinTable().OwnerColumns), l.targetIDCols(p))
	case attr.IsOwningToOne():
		return sqlast.Eq(l.fkCols(p, attr), l.refCols(r, attr))
	default:
		inv := attr.Inverse()
		return sqlast.Eq(l.fkCols(r, inv), l.refCols(p, inv))
	}
}

// rootItem builds the from item of a root range and returns conditions
// that belong in the where clause.
func (f *fromBuilder) rootItem(r *queryir.Range) (*sqlast.FromItem, []sqlast.Pred) {
	l := f.l
	item := &sqlast.FromItem{}
	var where []sqlast.Pred
	switch r.Kind {
	case queryir.RangeDerived:
		item.Source = &sqlast.Derived{Query: f.derived[r], Alias: l.tableAlias(r, 0), Lateral: r.Lateral}
	case queryir.RangeCTE:
		item.Source = &sqlast.Table{Name: r.CTE.Name, Alias: l.tableAlias(r, 0)}
	case queryir.RangeAssociation:
		// correlated: the link to the enclosing block goes to where
		where = append(where, f.link[r])
		if r.Attribute.JoinTable() != nil {
			item.Source = &sqlast.Table{Name: r.Attribute.JoinTable().Table, Alias: l.jtAlias(r)}
			if !r.KeyOnly {
				f.appendGroup(item, sqlast.Inner, r, l.jtTargetLink(r))
			}
		} else {
			item.Source = l.primaryTable(r)
			item.Joins = append(item.Joins, l.groupJoins(r)...)
		}
	default:
		item.Source = l.primaryTable(r)
		item.Joins = append(item.Joins, l.groupJoins(r)...)
	}
	where = append(where, f.on[r])
	f.appendJoins(item, r.Joins)
	return item, where
}

func (l *lowerer) primaryTable(r *queryir.Range) *sqlast.Table {
	name := r.Entity.Table()
	if l.plain[r] {
		return &sqlast.Table{Name: name}
	}
	return &sqlast.Table{Name: name, Alias: l.tableAlias(r, 0)}
}

// groupJoins joins the used secondary tables of r's group: supertypes
// inner, descendants left.
func (l *lowerer) groupJoins(r *queryir.Range) []*sqlast.Join {
	g := l.group(r)
	var out []*sqlast.Join
	for i := 1; i < len(g.types); i++ {
		if !g.used[i] {
			continue
		}
		t := g.types[i]
		kind := sqlast.Left
		if r.Entity.IsSubtypeOf(t) {
			kind = sqlast.Inner
		}
		alias := l.tableAlias(r, i)
		out = append(out, &sqlast.Join{
			Kind:   kind,
			Target: &sqlast.Table{Name: t.Table(), Alias: alias},
			On:     sqlast.Eq(sqlast.Cols(alias, t.IDColumns()), l.targetIDCols(r)),
		})
	}
	return out
}

func joinKind(j queryir.JoinType) sqlast.JoinKind {
	switch j {
	case queryir.JoinLeft:
		return sqlast.Left
	case queryir.JoinRight:
		return sqlast.Right
	case queryir.JoinFull:
		return sqlast.Full
	case queryir.JoinCross:
		return sqlast.Cross
	default:
		return sqlast.Inner
	}
}

// appendGroup joins r's table group. A group of several tables under an
// outer join is parenthesized so its inner joins do not drop rows.
func (f *fromBuilder) appendGroup(item *sqlast.FromItem, kind sqlast.JoinKind, r *queryir.Range, on sqlast.Pred) {
	l := f.l
	joins := l.groupJoins(r)
	if len(joins) > 0 && kind != sqlast.Inner && kind != sqlast.Cross {
		item.Joins = append(item.Joins, &sqlast.Join{
			Kind:   kind,
			Target: &sqlast.Group{Item: &sqlast.FromItem{Source: l.primaryTable(r), Joins: joins}},
			On:     on,
		})
		return
	}
	item.Joins = append(item.Joins, &sqlast.Join{Kind: kind, Target: l.primaryTable(r), On: on})
	item.Joins = append(item.Joins, joins...)
}

func (f *fromBuilder) appendJoins(item *sqlast.FromItem, joins []*queryir.Range) {
	l := f.l
	for _, j := range joins {
		if j.Correlated {
			continue
		}
		kind := joinKind(j.Join)
		on := f.on[j]
		if kind == sqlast.Cross && on != nil {
			// a restricted cross join keeps its restriction as an inner join
			kind = sqlast.Inner
		}
		switch j.Kind {
		case queryir.RangeAssociation:
			jt := j.Attribute.JoinTable()
			if jt == nil {
				f.appendGroup(item, kind, j, sqlast.Conj(f.link[j], on))
				break
			}
			if j.KeyOnly {
				item.Joins = append(item.Joins, &sqlast.Join{
					Kind:   kind,
					Target: &sqlast.Table{Name: jt.Table, Alias: l.jtAlias(j)},
					On:     sqlast.Conj(f.link[j], on),
				})
				break
			}
			item.Joins = append(item.Joins, &sqlast.Join{
				Kind:   kind,
				Target: &sqlast.Table{Name: jt.Table, Alias: l.jtAlias(j)},
				On:     f.link[j],
			})
			f.appendGroup(item, kind, j, sqlast.Conj(l.jtTargetLink(j), on))
		case queryir.RangeEntityJoin:
			f.appendGroup(item, kind, j, on)
		case queryir.RangeDerived:
			item.Joins = append(item.Joins, &sqlast.Join{
				Kind:   kind,
				Target: &sqlast.Derived{Query: f.derived[j], Alias: l.tableAlias(j, 0), Lateral: j.Lateral},
				On:     onOrTrue(kind, on),
			})
		case queryir.RangeCTE:
			item.Joins = append(item.Joins, &sqlast.Join{
				Kind:   kind,
				Target: &sqlast.Table{Name: j.CTE.Name, Alias: l.tableAlias(j, 0)},
				On:     onOrTrue(kind, on),
			})
		}
		f.appendJoins(item, j.Joins)
	}
}

func onOrTrue(kind sqlast.JoinKind, on sqlast.Pred) sqlast.Pred {
	if kind == sqlast.Cross || on != nil {
		return on
	}
	return &sqlast.Bool{Value: true}
}
