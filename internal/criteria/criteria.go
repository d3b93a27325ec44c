// Package criteria builds semantic query trees without query text.
//
// A Builder hands out ranges, parameters and statements for one top-level
// statement. Navigation and entity comparisons follow the same rules as
// text binding, so a criteria query and its textual equivalent lower to the
// same SQL:
//
//	b := criteria.New()
//	p := b.Root(person, "p")
//	stmt, err := b.Select(p.Entity()).
//		From(p).
//		Where(b.Eq(p.Get("company", "name"), b.Param("name"))).
//		Build()
//
// Paths navigated with Get join intermediate associations with inner
// joins, as navigation in a where clause does.
package criteria

import (
	"fmt"

	"github.com/roach88/oql/internal/ir"
	"github.com/roach88/oql/internal/metamodel"
	"github.com/roach88/oql/internal/queryir"
)

// Builder creates the nodes of one statement. Not safe for concurrent use.
type Builder struct {
	params   *queryir.ParameterTable
	nextID   int
	implicit map[implicitKey]*queryir.Range
	err      error
}

type implicitKey struct {
	parent *queryir.Range
	attr   *metamodel.Attribute
}

// New returns an empty builder.
func New() *Builder {
	return &Builder{
		params:   queryir.NewParameterTable(),
		implicit: make(map[implicitKey]*queryir.Range),
	}
}

// Extending returns a builder for a statement that embeds parts of stmt.
// It shares stmt's parameter table and numbers its ranges after stmt's.
func Extending(stmt queryir.Statement) *Builder {
	b := New()
	if t := stmt.Parameters(); t != nil {
		b.params = t
	}
	queryir.Inspect(stmt, func(n any) bool {
		if r, ok := n.(*queryir.Range); ok && r.ID >= b.nextID {
			b.nextID = r.ID + 1
		}
		return true
	})
	return b
}

// Err returns the first error recorded while building.
func (b *Builder) Err() error { return b.err }

func (b *Builder) fail(format string, args ...any) {
	if b.err == nil {
		b.err = &Error{Message: fmt.Sprintf(format, args...)}
	}
}

// Error reports a misuse of the builder: an unknown attribute, a type
// mismatch or a range used outside its statement.
type Error struct {
	Message string
}

func (e *Error) Error() string { return "criteria: " + e.Message }

func (b *Builder) newRange(r *queryir.Range) *queryir.Range {
	r.ID = b.nextID
	b.nextID++
	return r
}

// Root declares a root range over e.
func (b *Builder) Root(e *metamodel.EntityType, alias string) *Path {
	r := b.newRange(&queryir.Range{Kind: queryir.RangeRoot, Alias: alias, Entity: e})
	return &Path{b: b, r: r}
}

// Param returns the named parameter :name. Its type is inferred from the
// expression it is first compared with.
func (b *Builder) Param(name string) *queryir.Parameter {
	return &queryir.Parameter{Slot: b.params.Named(name)}
}

// Positional returns the ordinal parameter ?n.
func (b *Builder) Positional(n int) *queryir.Parameter {
	return &queryir.Parameter{Slot: b.params.Ordinal(n)}
}

// Literal wraps a Go value as a query literal. Literals are bound as
// parameters at execution.
func (b *Builder) Literal(v any) *queryir.Literal {
	iv, err := ir.FromGo(v)
	if err != nil {
		b.fail("literal %v: %v", v, err)
		return &queryir.Literal{Value: ir.IRNull{}}
	}
	return &queryir.Literal{Value: iv, T: queryir.BasicOf(literalType(iv))}
}

// Null is the null literal.
func (b *Builder) Null() *queryir.Literal {
	return &queryir.Literal{Value: ir.IRNull{}}
}

func literalType(v ir.IRValue) metamodel.BasicType {
	switch v.(type) {
	case ir.IRString:
		return metamodel.TypeString
	case ir.IRInt:
		return metamodel.TypeInteger
	case ir.IRDecimal:
		return metamodel.TypeDecimal
	case ir.IRBool:
		return metamodel.TypeBoolean
	case ir.IRTime:
		return metamodel.TypeTimestamp
	default:
		return metamodel.TypeUnknown
	}
}

// Path is a range of the statement being built.
type Path struct {
	b *Builder
	r *queryir.Range
}

// Range returns the underlying range.
func (p *Path) Range() *queryir.Range { return p.r }

// Entity is the entity value the range produces.
func (p *Path) Entity() queryir.Expression { return &queryir.EntityRef{Range: p.r} }

// TypeOf is type(alias).
func (p *Path) TypeOf() queryir.Expression { return &queryir.TypeOf{Range: p.r} }

func (p *Path) join(attr, alias string, jt queryir.JoinType, fetch bool) *Path {
	if !p.r.IsEntity() {
		p.b.fail("%s is not an entity range", p.r.Label())
		return p
	}
	a := lookup(p.r.Entity, attr)
	if a == nil || !a.Kind().IsAssociation() {
		p.b.fail("%s has no association '%s'", p.r.Entity.Name(), attr)
		return p
	}
	return p.JoinAttribute(a, alias, jt, fetch)
}

// JoinAttribute joins the association a, which may be declared by a
// subtype of the range's entity.
func (p *Path) JoinAttribute(a *metamodel.Attribute, alias string, jt queryir.JoinType, fetch bool) *Path {
	j := p.b.newRange(&queryir.Range{
		Kind:      queryir.RangeAssociation,
		Alias:     alias,
		Entity:    a.Target(),
		Parent:    p.r,
		Attribute: a,
		Join:      jt,
		Fetch:     fetch,
	})
	p.r.Joins = append(p.r.Joins, j)
	return &Path{b: p.b, r: j}
}

// Join inner joins the association attr.
func (p *Path) Join(attr, alias string) *Path {
	return p.join(attr, alias, queryir.JoinInner, false)
}

// LeftJoin left joins the association attr.
func (p *Path) LeftJoin(attr, alias string) *Path {
	return p.join(attr, alias, queryir.JoinLeft, false)
}

// JoinFetch joins attr and loads it with the owner.
func (p *Path) JoinFetch(attr string) *Path {
	return p.join(attr, "", queryir.JoinInner, true)
}

// LeftJoinFetch left joins attr and loads it with the owner.
func (p *Path) LeftJoinFetch(attr string) *Path {
	return p.join(attr, "", queryir.JoinLeft, true)
}

// On narrows an explicit join with a condition.
func (p *Path) On(cond queryir.Predicate) *Path {
	p.r.Condition = queryir.And(p.r.Condition, cond)
	p.r.Restricted = p.r.Kind == queryir.RangeAssociation
	return p
}

// JoinEntity joins a root of another entity on cond.
func (p *Path) JoinEntity(e *metamodel.EntityType, alias string, jt queryir.JoinType) *Path {
	j := p.b.newRange(&queryir.Range{Kind: queryir.RangeEntityJoin, Alias: alias, Entity: e, Join: jt})
	p.r.Joins = append(p.r.Joins, j)
	return &Path{b: p.b, r: j}
}

// lookup finds name on e or, polymorphically, on the first subtype
// declaring it.
func lookup(e *metamodel.EntityType, name string) *metamodel.Attribute {
	if a := e.Attribute(name); a != nil {
		return a
	}
	if subs := e.SubtypeAttributes(name); len(subs) > 0 {
		return subs[0]
	}
	return nil
}

// Get navigates path from the range. A terminal owning to-one is read from
// its foreign key and "assoc.id" from the foreign key columns; other
// associations on the way are joined implicitly.
func (p *Path) Get(path ...string) queryir.Expression {
	b := p.b
	r := p.r
	if len(path) == 0 {
		return p.Entity()
	}
	if !r.IsEntity() {
		idx := r.ColumnIndex(path[0])
		if idx < 0 || len(path) > 1 {
			b.fail("%s has no column '%s'", r.Label(), path[0])
			return b.Null()
		}
		return &queryir.DerivedRef{Range: r, Column: idx}
	}
	entity := r.Entity
	var embedded []*metamodel.Attribute
	for i, seg := range path {
		last := i == len(path)-1
		var attr *metamodel.Attribute
		if len(embedded) > 0 {
			attr = embedded[len(embedded)-1].Embeddable().Attribute(seg)
		} else {
			attr = lookup(entity, seg)
		}
		if attr == nil {
			b.fail("no attribute '%s' in path %v", seg, path)
			return b.Null()
		}
		switch attr.Kind() {
		case metamodel.KindBasic:
			if !last {
				b.fail("basic attribute '%s' cannot be dereferenced", seg)
				return b.Null()
			}
			return &queryir.AttributeRef{Range: r, Path: append(embedded, attr)}
		case metamodel.KindEmbedded:
			embedded = append(embedded, attr)
			if last {
				return &queryir.AttributeRef{Range: r, Path: embedded}
			}
		case metamodel.KindToOne:
			if last {
				if attr.IsOwningToOne() {
					return &queryir.FKRef{Range: r, Attribute: attr}
				}
				return &queryir.EntityRef{Range: b.implicitJoin(r, attr)}
			}
			if ref := fkIdentifier(r, attr, path[i+1:]); ref != nil {
				return ref
			}
			r = b.implicitJoin(r, attr)
			entity = r.Entity
		case metamodel.KindToMany:
			r = b.implicitJoin(r, attr)
			entity = r.Entity
			if last {
				return &queryir.EntityRef{Range: r}
			}
		}
	}
	b.fail("incomplete path %v", path)
	return b.Null()
}

func fkIdentifier(r *queryir.Range, attr *metamodel.Attribute, rest []string) *queryir.AttributeRef {
	if len(rest) != 1 || !attr.IsOwningToOne() || attr.ReferencedKey() != "" {
		return nil
	}
	id := attr.Target().ID()
	if id.Kind() != metamodel.KindBasic || id.Name() != rest[0] {
		return nil
	}
	return &queryir.AttributeRef{Range: r, Path: []*metamodel.Attribute{id}, Via: attr}
}

func (b *Builder) implicitJoin(parent *queryir.Range, attr *metamodel.Attribute) *queryir.Range {
	key := implicitKey{parent, attr}
	if j, ok := b.implicit[key]; ok {
		return j
	}
	j := b.newRange(&queryir.Range{
		Kind:      queryir.RangeAssociation,
		Entity:    attr.Target(),
		Parent:    parent,
		Attribute: attr,
		Join:      queryir.JoinInner,
		Implicit:  true,
	})
	parent.Joins = append(parent.Joins, j)
	b.implicit[key] = j
	return j
}
