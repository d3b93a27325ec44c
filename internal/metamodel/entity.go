package metamodel

import (
	"sort"

	"golang.org/x/text/cases"
)

// EntityType describes one mapped entity. Immutable after Build.
type EntityType struct {
	name     string
	table    string
	abstract bool

	super    *EntityType
	subtypes []*EntityType
	strategy InheritanceStrategy

	discriminatorColumn string
	discriminatorValue  string

	id         *Attribute
	declared   []*Attribute
	attributes []*Attribute // id first, then inherited, then declared
	byName     map[string]*Attribute

	uniqueKeys     map[string][]*Attribute
	uniqueKeyOrder []string

	instantiate func() any
}

func (e *EntityType) Name() string     { return e.name }
func (e *EntityType) TypeName() string { return e.name }
func (e *EntityType) Abstract() bool   { return e.abstract }
func (e *EntityType) Super() *EntityType {
	return e.super
}
func (e *EntityType) Subtypes() []*EntityType { return e.subtypes }
func (e *EntityType) Attributes() []*Attribute {
	return e.attributes
}
func (e *EntityType) DeclaredAttributes() []*Attribute { return e.declared }

// Table returns the table holding this type's declared attributes. For
// single-table hierarchies every type shares the root table.
func (e *EntityType) Table() string {
	if e.super != nil && e.Strategy() == SingleTable {
		return e.Root().table
	}
	return e.table
}

// Root returns the top of the hierarchy.
func (e *EntityType) Root() *EntityType {
	r := e
	for r.super != nil {
		r = r.super
	}
	return r
}

// Strategy returns the inheritance strategy of the hierarchy.
func (e *EntityType) Strategy() InheritanceStrategy {
	return e.Root().strategy
}

// IsPolymorphic reports whether the type takes part in a hierarchy.
func (e *EntityType) IsPolymorphic() bool {
	return e.super != nil || len(e.subtypes) > 0
}

// DiscriminatorColumn returns the single-table discriminator column.
func (e *EntityType) DiscriminatorColumn() string {
	return e.Root().discriminatorColumn
}

// DiscriminatorValue returns the value identifying this concrete type.
func (e *EntityType) DiscriminatorValue() string {
	return e.discriminatorValue
}

// ID returns the identifier attribute (basic, or embedded when composite).
func (e *EntityType) ID() *Attribute { return e.Root().id }

// IDColumns returns the primary key columns.
func (e *EntityType) IDColumns() []string { return e.ID().Columns() }

// Attribute looks up an attribute declared on this type or a supertype.
func (e *EntityType) Attribute(name string) *Attribute {
	return e.byName[name]
}

// SubtypeAttributes returns the attributes named name declared by proper
// descendants, each with the descendant declaring it.
func (e *EntityType) SubtypeAttributes(name string) []*Attribute {
	var out []*Attribute
	for _, s := range e.subtypes {
		if a := s.byNameDeclared(name); a != nil {
			out = append(out, a)
		}
		out = append(out, s.SubtypeAttributes(name)...)
	}
	return out
}

func (e *EntityType) byNameDeclared(name string) *Attribute {
	for _, a := range e.declared {
		if a.name == name {
			return a
		}
	}
	return nil
}

// UniqueKey returns the attributes of the named unique key.
func (e *EntityType) UniqueKey(name string) []*Attribute {
	return e.Root().uniqueKeys[name]
}

// UniqueKeyNames returns the declared unique key names in order.
func (e *EntityType) UniqueKeyNames() []string {
	return e.Root().uniqueKeyOrder
}

// UniqueKeyColumns returns the columns of the named unique key.
func (e *EntityType) UniqueKeyColumns(name string) []string {
	var cols []string
	for _, a := range e.UniqueKey(name) {
		cols = append(cols, a.Columns()...)
	}
	return cols
}

// IsSubtypeOf reports whether e is other or a descendant of it.
func (e *EntityType) IsSubtypeOf(other *EntityType) bool {
	for t := e; t != nil; t = t.super {
		if t == other {
			return true
		}
	}
	return false
}

// Concrete returns e and all of its descendants, depth first.
func (e *EntityType) Concrete() []*EntityType {
	out := []*EntityType{e}
	for _, s := range e.subtypes {
		out = append(out, s.Concrete()...)
	}
	return out
}

// New creates an empty instance of e.
func (e *EntityType) New() any { return e.instantiate() }

// Metamodel is the immutable table of entity types.
type Metamodel struct {
	entities map[string]*EntityType
	folded   map[string]*EntityType
	order    []string
}

// foldName case-folds an entity name. A Caser is stateful, so one is created
// per call rather than shared between goroutines.
func foldName(name string) string {
	return cases.Fold().String(name)
}

// Entity returns the entity named name. Lookup falls back to a Unicode
// case-folded match so "person" finds "Person".
func (m *Metamodel) Entity(name string) *EntityType {
	if e, ok := m.entities[name]; ok {
		return e
	}
	return m.folded[foldName(name)]
}

// Entities returns every entity type in definition order.
func (m *Metamodel) Entities() []*EntityType {
	out := make([]*EntityType, 0, len(m.order))
	for _, n := range m.order {
		out = append(out, m.entities[n])
	}
	return out
}

// Names returns the sorted entity names.
func (m *Metamodel) Names() []string {
	names := append([]string(nil), m.order...)
	sort.Strings(names)
	return names
}
