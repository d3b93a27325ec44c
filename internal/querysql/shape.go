package querysql

import (
	"github.com/roach88/oql/internal/metamodel"
	"github.com/roach88/oql/internal/queryir"
)

// ItemKind classifies one result item.
type ItemKind int

const (
	ItemScalar ItemKind = iota
	ItemEntity
	ItemEmbedded
	ItemEntityType
	ItemInstantiation
)

// Shape describes how the columns of a result row become result objects.
// Column numbers are 0-based positions in the select list.
type Shape struct {
	Items []*ResultItem
	// DistinctRoots reports a single selected entity with collection fetch
	// joins: rows repeat the root, the result holds each root once.
	DistinctRoots bool
	// Width is the number of selected columns.
	Width int
}

// ResultItem is one element of a result tuple.
type ResultItem struct {
	Kind  ItemKind
	Alias string

	// Column and Type describe a scalar or the discriminator of an
	// entity-type item.
	Column int
	Type   metamodel.BasicType

	// Entity describes an entity item; Hierarchy resolves an entity-type
	// item's discriminator.
	Entity    *EntityShape
	Hierarchy *metamodel.EntityType

	// Embedded describes an embedded item.
	Embedded *AttributeShape

	// Target and Args describe a dynamic instantiation.
	Target string
	Args   []*ResultItem
}

// EntityShape locates one entity's columns.
type EntityShape struct {
	Entity *metamodel.EntityType
	// Range is the source range, used to derive subselect fetch queries.
	Range *queryir.Range
	ID    *AttributeShape
	// Discriminator is the discriminator column or -1 for a type without
	// subtypes.
	Discriminator int
	// Attributes covers the static type's attributes and those declared by
	// its descendants, the identifier excluded.
	Attributes []*AttributeShape
	Fetches    []*FetchShape
}

// AttributeShape locates an attribute's columns: Column for a basic
// attribute, Members for an embedded one and Columns for the foreign key of
// an owning to-one. Associations without columns are listed with neither so
// that their lazy state can be created.
type AttributeShape struct {
	Attribute *metamodel.Attribute
	Column    int
	Members   []*AttributeShape
	Columns   []int
}

// FetchShape is an association loaded by a fetch join.
type FetchShape struct {
	Attribute *metamodel.Attribute
	Target    *EntityShape
}

// Concrete resolves a discriminator value read from a row to the concrete
// entity type. Single-table hierarchies store the discriminator string;
// joined hierarchies select the index of the type in the root's Concrete
// order.
func (s *EntityShape) Concrete(value any) *metamodel.EntityType {
	if s.Discriminator < 0 {
		return s.Entity
	}
	return resolveDiscriminator(s.Entity, value)
}

func resolveDiscriminator(e *metamodel.EntityType, value any) *metamodel.EntityType {
	types := e.Root().Concrete()
	if e.Strategy() == metamodel.Joined {
		n, err := metamodel.TypeInteger.Convert(value)
		if err != nil || n == nil {
			return e
		}
		if i := int(n.(int64)); i >= 0 && i < len(types) {
			return types[i]
		}
		return e
	}
	s, err := metamodel.TypeString.Convert(value)
	if err != nil || s == nil {
		return e
	}
	for _, t := range types {
		if t.DiscriminatorValue() == s.(string) {
			return t
		}
	}
	return e
}

// ResolveEntityType maps the discriminator of an entity-type item.
func (it *ResultItem) ResolveEntityType(value any) *metamodel.EntityType {
	return resolveDiscriminator(it.Hierarchy, value)
}

// HasCollectionFetch reports whether s fetch joins a to-many association at
// any depth.
func (s *EntityShape) HasCollectionFetch() bool {
	for _, f := range s.Fetches {
		if f.Attribute.Kind() == metamodel.KindToMany || f.Target.HasCollectionFetch() {
			return true
		}
	}
	return false
}
