package querysql

import (
	"github.com/roach88/oql/internal/metamodel"
	"github.com/roach88/oql/internal/queryir"
	"github.com/roach88/oql/internal/sqlast"
)

// resultItem adds the columns of one top-level select item and describes
// how to read them back.
func (l *lowerer) resultItem(core *sqlast.Core, item *queryir.SelectItem) (*ResultItem, error) {
	out := &ResultItem{Alias: item.Alias, Column: -1}
	switch x := item.Expr.(type) {
	case *queryir.EntityRef:
		es, err := l.entityColumns(core, x.Range, true)
		if err != nil {
			return nil, err
		}
		out.Kind, out.Entity = ItemEntity, es
	case *queryir.AttributeRef:
		if x.Attribute().Kind() != metamodel.KindEmbedded {
			return l.scalarItem(core, out, item.Expr)
		}
		out.Kind = ItemEmbedded
		out.Embedded = shapeOf(core, x.Attribute(), l.attributeCols(x))
	case *queryir.TypeOf:
		out.Kind = ItemEntityType
		out.Column = addColumn(core, l.discriminator(x.Range))
		out.Hierarchy = x.Range.Entity
	case *queryir.Instantiation:
		out.Kind, out.Target = ItemInstantiation, x.Target
		for _, a := range x.Args {
			arg, err := l.resultItem(core, a)
			if err != nil {
				return nil, err
			}
			out.Args = append(out.Args, arg)
		}
	default:
		return l.scalarItem(core, out, item.Expr)
	}
	return out, nil
}

func (l *lowerer) scalarItem(core *sqlast.Core, out *ResultItem, e queryir.Expression) (*ResultItem, error) {
	v, err := l.expr(e)
	if err != nil {
		return nil, err
	}
	out.Kind = ItemScalar
	out.Column = addColumn(core, v)
	out.Type = e.Type().Basic
	return out, nil
}

// entityColumns selects every column needed to materialize r's rows: the
// key, the discriminator of a type with subtypes, the attributes of the
// static type and its descendants, and with fetches the columns of fetch
// joined associations.
func (l *lowerer) entityColumns(core *sqlast.Core, r *queryir.Range, fetches bool) (*EntityShape, error) {
	e := r.Entity
	es := &EntityShape{Entity: e, Range: r, Discriminator: -1}
	es.ID = shapeOf(core, e.ID(), l.idCols(r))
	if len(e.Concrete()) > 1 {
		es.Discriminator = addColumn(core, l.discriminator(r))
	}
	for _, a := range entityAttributes(e) {
		var cols []sqlast.Expr
		switch {
		case a.Kind() == metamodel.KindBasic || a.Kind() == metamodel.KindEmbedded:
			cols = sqlast.Cols(l.attributeQualifier(r, a), a.Columns())
		case a.IsOwningToOne():
			cols = l.fkCols(r, a)
		}
		es.Attributes = append(es.Attributes, shapeOf(core, a, cols))
	}
	if !fetches {
		return es, nil
	}
	for _, j := range r.Joins {
		if !j.Fetch || j.Kind != queryir.RangeAssociation {
			continue
		}
		target, err := l.entityColumns(core, j, true)
		if err != nil {
			return nil, err
		}
		es.Fetches = append(es.Fetches, &FetchShape{Attribute: j.Attribute, Target: target})
	}
	return es, nil
}

// entityAttributes lists e's attributes without the identifier, followed
// by those its descendants declare.
func entityAttributes(e *metamodel.EntityType) []*metamodel.Attribute {
	var out []*metamodel.Attribute
	for _, a := range e.Attributes() {
		if a != e.ID() {
			out = append(out, a)
		}
	}
	for _, sub := range e.Concrete()[1:] {
		out = append(out, sub.DeclaredAttributes()...)
	}
	return out
}

// shapeOf selects cols, the columns of a in leaf order, and returns where
// each part of a landed.
func shapeOf(core *sqlast.Core, a *metamodel.Attribute, cols []sqlast.Expr) *AttributeShape {
	next := 0
	take := func() int {
		if next >= len(cols) {
			return -1
		}
		c := addColumn(core, cols[next])
		next++
		return c
	}
	var build func(a *metamodel.Attribute) *AttributeShape
	build = func(a *metamodel.Attribute) *AttributeShape {
		s := &AttributeShape{Attribute: a, Column: -1}
		switch a.Kind() {
		case metamodel.KindBasic:
			s.Column = take()
		case metamodel.KindEmbedded:
			for _, m := range a.Embeddable().Attributes() {
				s.Members = append(s.Members, build(m))
			}
		case metamodel.KindToOne:
			for range a.JoinColumns() {
				if c := take(); c >= 0 {
					s.Columns = append(s.Columns, c)
				}
			}
		}
		return s
	}
	return build(a)
}
