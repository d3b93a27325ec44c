package binder

import (
	"fmt"
	"strings"

	"github.com/roach88/oql/internal/hql"
	"github.com/roach88/oql/internal/metamodel"
	"github.com/roach88/oql/internal/queryir"
)

// termMode decides how a path ending in a to-one association is bound.
type termMode int

const (
	// termKey reads an owning to-one from its foreign key columns.
	termKey termMode = iota
	// termNull is termKey for null checks: inverse to-ones are left joined.
	termNull
	// termGroup reuses an existing implicit join, otherwise reads the key.
	termGroup
	// termEntity joins the target (left) so the whole entity is available.
	termEntity
	// termJoin joins the target with the clause's join type.
	termJoin
)

func pathText(segs []string) string { return strings.Join(segs, ".") }

// joinTypeFor is the join type of implicit joins created in sc's current
// clause: navigation in select, group by and order by must not drop rows.
func joinTypeFor(sc *scope) queryir.JoinType {
	switch sc.clause {
	case clauseSelect, clauseGroup, clauseOrder:
		return queryir.JoinLeft
	default:
		return queryir.JoinInner
	}
}

var niladicFunctions = map[string]bool{
	"current_date":      true,
	"current_time":      true,
	"current_timestamp": true,
	"local_date":        true,
	"local_datetime":    true,
}

func (b *binder) path(p *hql.Path, sc *scope, mode termMode) (queryir.Expression, error) {
	segs := p.Segments
	if len(segs) == 1 && niladicFunctions[fold(segs[0])] && sc.lookupAlias(segs[0]) == nil {
		return &queryir.FuncCall{Name: fold(segs[0]), T: queryir.BasicOf(metamodel.TypeTimestamp)}, nil
	}
	base, rest, err := b.pathBase(segs, sc, p.Pos)
	if err != nil {
		if len(segs) == 1 && IsPathResolutionError(err) {
			if e := b.meta.Entity(segs[0]); e != nil {
				return &queryir.EntityTypeLiteral{Entity: e}, nil
			}
		}
		return nil, err
	}
	return b.navigate(base, nil, rest, sc, mode, pathText(segs), p.Pos)
}

// pathBase finds the range a path starts from: an alias, or the single
// range in the nearest scope that has the first segment as an attribute.
func (b *binder) pathBase(segs []string, sc *scope, pos int) (*queryir.Range, []string, error) {
	if r := sc.lookupAlias(segs[0]); r != nil {
		return r, segs[1:], nil
	}
	for s := sc; s != nil; s = s.parent {
		var found *queryir.Range
		for _, r := range s.ranges {
			if !b.hasMember(r, segs[0]) {
				continue
			}
			if found != nil {
				return nil, nil, &AmbiguousAliasError{Alias: segs[0], Pos: pos,
					Message: fmt.Sprintf("unqualified name matches both %s and %s", found.Label(), r.Label())}
			}
			found = r
		}
		if found != nil {
			return found, segs, nil
		}
	}
	return nil, nil, &PathResolutionError{Path: pathText(segs), Pos: pos,
		Message: fmt.Sprintf("'%s' is neither an alias nor an attribute of a range in scope", segs[0])}
}

func (b *binder) hasMember(r *queryir.Range, name string) bool {
	if !r.IsEntity() {
		return r.ColumnIndex(name) >= 0
	}
	if r.Entity.Attribute(name) != nil {
		return true
	}
	return len(r.Entity.SubtypeAttributes(name)) > 0
}

// lookupAttribute finds name on entity or, polymorphically, on its
// subtypes. Subtypes declaring the name with different types are an error;
// otherwise the first declarer wins.
func (b *binder) lookupAttribute(entity *metamodel.EntityType, name, text string, pos int) (*metamodel.Attribute, error) {
	if a := entity.Attribute(name); a != nil {
		return a, nil
	}
	cands := entity.SubtypeAttributes(name)
	if len(cands) == 0 {
		return nil, &PathResolutionError{Path: text, Pos: pos,
			Message: fmt.Sprintf("%s has no attribute '%s'", entity.Name(), name)}
	}
	first := cands[0]
	for _, c := range cands[1:] {
		if c.Kind() != first.Kind() || c.Type() != first.Type() || c.Target() != first.Target() {
			return nil, &TypeMismatchError{
				Left:    describeAttribute(first),
				Right:   describeAttribute(c),
				Context: fmt.Sprintf("attribute '%s' of the subtypes of %s", name, entity.Name()),
				Pos:     pos,
			}
		}
	}
	return first, nil
}

func describeAttribute(a *metamodel.Attribute) string {
	t := a.Type().String()
	switch {
	case a.Kind().IsAssociation():
		t = a.Target().Name()
	case a.Kind() == metamodel.KindEmbedded:
		t = a.Embeddable().TypeName()
	}
	return fmt.Sprintf("%s.%s %s", a.Declarer().TypeName(), a.Name(), t)
}

// navigate follows rest from r. entity overrides r's static type after a
// treat.
func (b *binder) navigate(r *queryir.Range, entity *metamodel.EntityType, rest []string, sc *scope, mode termMode, text string, pos int) (queryir.Expression, error) {
	if len(rest) == 0 {
		if !r.IsEntity() {
			return nil, &PathResolutionError{Path: text, Pos: pos,
				Message: fmt.Sprintf("%s is a derived range; select its columns", r.Label())}
		}
		return &queryir.EntityRef{Range: r}, nil
	}
	if !r.IsEntity() {
		idx := r.ColumnIndex(rest[0])
		if idx < 0 {
			return nil, &PathResolutionError{Path: text, Pos: pos,
				Message: fmt.Sprintf("%s has no column '%s'", r.Label(), rest[0])}
		}
		if len(rest) > 1 {
			return nil, &PathResolutionError{Path: text, Pos: pos,
				Message: fmt.Sprintf("column '%s' cannot be dereferenced", rest[0])}
		}
		return &queryir.DerivedRef{Range: r, Column: idx}, nil
	}
	if entity == nil {
		entity = r.Entity
	}

	var embedded []*metamodel.Attribute
	for i, seg := range rest {
		last := i == len(rest)-1
		var attr *metamodel.Attribute
		if len(embedded) > 0 {
			owner := embedded[len(embedded)-1].Embeddable()
			if attr = owner.Attribute(seg); attr == nil {
				return nil, &PathResolutionError{Path: text, Pos: pos,
					Message: fmt.Sprintf("%s has no attribute '%s'", owner.TypeName(), seg)}
			}
		} else {
			var err error
			if attr, err = b.lookupAttribute(entity, seg, text, pos); err != nil {
				return nil, err
			}
		}

		switch attr.Kind() {
		case metamodel.KindBasic:
			if !last {
				return nil, &PathResolutionError{Path: text, Pos: pos,
					Message: fmt.Sprintf("basic attribute '%s' cannot be dereferenced", seg)}
			}
			return &queryir.AttributeRef{Range: r, Path: append(embedded, attr)}, nil
		case metamodel.KindEmbedded:
			embedded = append(embedded, attr)
			if last {
				return &queryir.AttributeRef{Range: r, Path: embedded}, nil
			}
		case metamodel.KindToOne:
			if last {
				return b.toOneTerminal(r, attr, sc, mode), nil
			}
			if ref := b.foreignKeyIdentifier(r, attr, rest[i+1:]); ref != nil {
				return ref, nil
			}
			r = b.implicitJoin(r, attr, sc, joinTypeFor(sc))
			entity = r.Entity
		case metamodel.KindToMany:
			if last {
				return &queryir.EntityRef{Range: b.implicitJoin(r, attr, sc, queryir.JoinInner)}, nil
			}
			r = b.implicitJoin(r, attr, sc, joinTypeFor(sc))
			entity = r.Entity
		}
	}
	return nil, &PathResolutionError{Path: text, Pos: pos, Message: "incomplete path"}
}

// foreignKeyIdentifier binds "x.assoc.id" to the foreign key columns of an
// owning to-one that references the target's simple primary key.
func (b *binder) foreignKeyIdentifier(r *queryir.Range, attr *metamodel.Attribute, rest []string) *queryir.AttributeRef {
	if len(rest) != 1 || !attr.IsOwningToOne() || attr.ReferencedKey() != "" {
		return nil
	}
	id := attr.Target().ID()
	if id.Kind() != metamodel.KindBasic || id.Name() != rest[0] || restrictedJoin(r, attr) != nil {
		return nil
	}
	return &queryir.AttributeRef{Range: r, Path: []*metamodel.Attribute{id}, Via: attr}
}

func (b *binder) toOneTerminal(r *queryir.Range, attr *metamodel.Attribute, sc *scope, mode termMode) queryir.Expression {
	switch mode {
	case termEntity:
		return &queryir.EntityRef{Range: b.implicitJoin(r, attr, sc, queryir.JoinLeft)}
	case termJoin:
		return &queryir.EntityRef{Range: b.implicitJoin(r, attr, sc, joinTypeFor(sc))}
	case termGroup:
		if j := b.cachedJoin(r, attr, sc); j != nil {
			return &queryir.EntityRef{Range: j}
		}
	}
	if j := restrictedJoin(r, attr); j != nil {
		return &queryir.EntityRef{Range: j}
	}
	if attr.IsOwningToOne() {
		return &queryir.FKRef{Range: r, Attribute: attr}
	}
	jt := joinTypeFor(sc)
	if mode == termNull {
		jt = queryir.JoinLeft
	}
	return &queryir.EntityRef{Range: b.implicitJoin(r, attr, sc, jt)}
}

// restrictedJoin returns an explicit join of attr below r narrowed by an
// on/with condition.
func restrictedJoin(r *queryir.Range, attr *metamodel.Attribute) *queryir.Range {
	for _, j := range r.Joins {
		if !j.Implicit && j.Restricted && j.Attribute == attr {
			return j
		}
	}
	return nil
}

func (b *binder) cachedJoin(parent *queryir.Range, attr *metamodel.Attribute, sc *scope) *queryir.Range {
	key := implicitKey{parent, attr}
	for s := sc; s != nil; s = s.parent {
		if j, ok := s.implicit[key]; ok {
			return j
		}
	}
	return nil
}

// implicitJoin returns the one implicit join of attr below parent visible
// from sc, creating it on first use. An inner request upgrades a left join
// created earlier in the same block.
func (b *binder) implicitJoin(parent *queryir.Range, attr *metamodel.Attribute, sc *scope, jt queryir.JoinType) *queryir.Range {
	key := implicitKey{parent, attr}
	for s := sc; s != nil; s = s.parent {
		if j, ok := s.implicit[key]; ok {
			if s == sc && jt == queryir.JoinInner && j.Join == queryir.JoinLeft {
				j.Join = queryir.JoinInner
			}
			return j
		}
	}
	j := b.newRange(sc, &queryir.Range{
		Kind:      queryir.RangeAssociation,
		Entity:    attr.Target(),
		Parent:    parent,
		Attribute: attr,
		Join:      jt,
		Implicit:  true,
	})
	b.attach(j, sc)
	sc.implicit[key] = j
	return j
}

// attach hangs j below its parent, or, when the parent belongs to an
// enclosing block, adds it to sc's from clause as a correlated range.
func (b *binder) attach(j *queryir.Range, sc *scope) {
	if b.owner[j.Parent] == sc || sc.spec == nil {
		j.Parent.Joins = append(j.Parent.Joins, j)
		return
	}
	j.Correlated = true
	j.Join = queryir.JoinInner
	sc.spec.From = append(sc.spec.From, j)
}

// navigateRange follows association segments from base, joining each with
// an implicit join of type jt, and returns the last range.
func (b *binder) navigateRange(base *queryir.Range, segs []string, sc *scope, jt queryir.JoinType, text string, pos int) (*queryir.Range, error) {
	r := base
	for _, seg := range segs {
		if !r.IsEntity() {
			return nil, &PathResolutionError{Path: text, Pos: pos,
				Message: fmt.Sprintf("%s is a derived range and has no associations", r.Label())}
		}
		attr, err := b.lookupAttribute(r.Entity, seg, text, pos)
		if err != nil {
			return nil, err
		}
		if !attr.Kind().IsAssociation() {
			return nil, &PathResolutionError{Path: text, Pos: pos,
				Message: fmt.Sprintf("'%s' is not an association", seg)}
		}
		r = b.implicitJoin(r, attr, sc, jt)
	}
	return r, nil
}

// associationTarget resolves every segment but the last to a range and the
// last one to an association of that range.
func (b *binder) associationTarget(p *hql.Path, sc *scope) (*queryir.Range, *metamodel.Attribute, error) {
	text := pathText(p.Segments)
	base, rest, err := b.pathBase(p.Segments, sc, p.Pos)
	if err != nil {
		return nil, nil, err
	}
	if len(rest) == 0 {
		return nil, nil, &PathResolutionError{Path: text, Pos: p.Pos, Message: "path must name an association"}
	}
	parent, err := b.navigateRange(base, rest[:len(rest)-1], sc, queryir.JoinInner, text, p.Pos)
	if err != nil {
		return nil, nil, err
	}
	if !parent.IsEntity() {
		return nil, nil, &PathResolutionError{Path: text, Pos: p.Pos,
			Message: fmt.Sprintf("%s is a derived range and has no associations", parent.Label())}
	}
	last := rest[len(rest)-1]
	attr, err := b.lookupAttribute(parent.Entity, last, text, p.Pos)
	if err != nil {
		return nil, nil, err
	}
	if !attr.Kind().IsAssociation() {
		return nil, nil, &PathResolutionError{Path: text, Pos: p.Pos,
			Message: fmt.Sprintf("'%s' is not an association", last)}
	}
	return parent, attr, nil
}

func (b *binder) rootSource(src hql.Source, sc *scope) (*queryir.Range, error) {
	switch s := src.(type) {
	case *hql.EntitySource:
		r, err := b.namedRange(s, sc)
		if err != nil {
			return nil, err
		}
		return r, b.declare(sc, r, s.Pos)
	case *hql.PathSource:
		// "from p.pets x" inside a subquery: a correlated association range.
		parent, attr, err := b.associationTarget(s.Path, sc)
		if err != nil {
			return nil, err
		}
		r := b.newRange(sc, &queryir.Range{
			Kind:       queryir.RangeAssociation,
			Alias:      s.Alias,
			Entity:     attr.Target(),
			Parent:     parent,
			Attribute:  attr,
			Correlated: true,
		})
		return r, b.declare(sc, r, s.Path.Pos)
	case *hql.SubquerySource:
		r, err := b.derived(s, sc)
		if err != nil {
			return nil, err
		}
		return r, b.declare(sc, r, s.Pos)
	default:
		return nil, fmt.Errorf("binder: unsupported source %T", src)
	}
}

// namedRange binds an entity or CTE name.
func (b *binder) namedRange(s *hql.EntitySource, sc *scope) (*queryir.Range, error) {
	if cte := sc.lookupCTE(s.Name); cte != nil {
		return b.newRange(sc, &queryir.Range{
			Kind:    queryir.RangeCTE,
			Alias:   s.Alias,
			CTE:     cte,
			Columns: cteRangeColumns(cte),
		}), nil
	}
	entity := b.meta.Entity(s.Name)
	if entity == nil {
		return nil, &PathResolutionError{Path: s.Name, Pos: s.Pos, Message: "unknown entity"}
	}
	return b.newRange(sc, &queryir.Range{Kind: queryir.RangeRoot, Alias: s.Alias, Entity: entity}), nil
}

// derived binds a from-clause subquery. It becomes lateral exactly when it
// references a range of the enclosing block.
func (b *binder) derived(s *hql.SubquerySource, sc *scope) (*queryir.Range, error) {
	sub, err := b.query(s.Query, sc)
	if err != nil {
		return nil, err
	}
	cols, err := b.selectionColumns(sub, nil, s.Alias, s.Pos)
	if err != nil {
		return nil, err
	}
	return b.newRange(sc, &queryir.Range{
		Kind:    queryir.RangeDerived,
		Alias:   s.Alias,
		Query:   sub,
		Lateral: queryir.IsCorrelated(sub),
		Columns: cols,
	}), nil
}

func joinType(k hql.JoinKind) queryir.JoinType {
	switch k {
	case hql.JoinLeft:
		return queryir.JoinLeft
	case hql.JoinRight:
		return queryir.JoinRight
	case hql.JoinFull:
		return queryir.JoinFull
	case hql.JoinCross:
		return queryir.JoinCross
	default:
		return queryir.JoinInner
	}
}

func (b *binder) join(j *hql.Join, root *queryir.Range, sc *scope) error {
	jt := joinType(j.Kind)
	var r *queryir.Range
	switch t := j.Target.(type) {
	case *hql.PathSource:
		parent, attr, err := b.associationTarget(t.Path, sc)
		if err != nil {
			return err
		}
		r = b.newRange(sc, &queryir.Range{
			Kind:      queryir.RangeAssociation,
			Alias:     t.Alias,
			Entity:    attr.Target(),
			Parent:    parent,
			Attribute: attr,
			Join:      jt,
			Fetch:     j.Fetch,
		})
		if b.owner[parent] == sc {
			parent.Joins = append(parent.Joins, r)
		} else {
			r.Correlated = true
			sc.spec.From = append(sc.spec.From, r)
		}
		if err := b.declare(sc, r, t.Path.Pos); err != nil {
			return err
		}
	case *hql.EntitySource:
		var err error
		if r, err = b.namedRange(t, sc); err != nil {
			return err
		}
		if r.Kind == queryir.RangeRoot {
			r.Kind = queryir.RangeEntityJoin
		}
		r.Join = jt
		root.Joins = append(root.Joins, r)
		if err := b.declare(sc, r, t.Pos); err != nil {
			return err
		}
	case *hql.SubquerySource:
		var err error
		if r, err = b.derived(t, sc); err != nil {
			return err
		}
		r.Join = jt
		root.Joins = append(root.Joins, r)
		if err := b.declare(sc, r, t.Pos); err != nil {
			return err
		}
	default:
		return fmt.Errorf("binder: unsupported join target %T", j.Target)
	}

	if j.Condition == nil {
		return nil
	}
	saved := sc.clause
	sc.clause = clauseWhere
	cond, err := b.predicate(j.Condition, sc)
	sc.clause = saved
	if err != nil {
		return err
	}
	r.Condition = cond
	r.Restricted = r.Kind == queryir.RangeAssociation
	return nil
}

// element binds element(path): a join of the collection's elements that is
// never reused. Outside the select clause a join-table collection needs
// only the join table.
func (b *binder) element(el *hql.Element, sc *scope) (queryir.Expression, error) {
	parent, attr, err := b.associationTarget(el.Path, sc)
	if err != nil {
		return nil, err
	}
	if attr.Kind() != metamodel.KindToMany {
		return nil, &TypeMismatchError{Left: describeAttribute(attr), Context: "element() requires a collection", Pos: el.Pos}
	}
	j := b.newRange(sc, &queryir.Range{
		Kind:      queryir.RangeAssociation,
		Entity:    attr.Target(),
		Parent:    parent,
		Attribute: attr,
		Join:      queryir.JoinInner,
		Implicit:  true,
		KeyOnly:   attr.JoinTable() != nil && sc.clause != clauseSelect,
	})
	b.attach(j, sc)
	return &queryir.EntityRef{Range: j}, nil
}

// treat binds treat(x as Sub)[.path]. In predicates the enclosing predicate
// is narrowed to rows of Sub.
func (b *binder) treat(t *hql.Treat, sc *scope, mode termMode) (queryir.Expression, error) {
	sub := b.meta.Entity(t.Entity)
	if sub == nil {
		return nil, &PathResolutionError{Path: t.Entity, Pos: t.Pos, Message: "unknown entity"}
	}
	x, err := b.exprMode(t.X, sc, termJoin)
	if err != nil {
		return nil, err
	}
	ref, ok := x.(*queryir.EntityRef)
	if !ok {
		return nil, &TypeMismatchError{Left: x.Type().String(), Context: "treat requires an entity path", Pos: t.Pos}
	}
	if !sub.IsSubtypeOf(ref.Range.Entity) {
		return nil, &TypeMismatchError{Left: sub.Name(), Right: ref.Range.Entity.Name(), Context: "treat to a type outside the hierarchy", Pos: t.Pos}
	}
	if sc.clause == clauseWhere {
		b.treats = append(b.treats, &queryir.TypeRestriction{Range: ref.Range, Types: sub.Concrete()})
	}
	if len(t.Segments) == 0 {
		return ref, nil
	}
	return b.navigate(ref.Range, sub, t.Segments, sc, mode, pathText(t.Segments), t.Pos)
}
