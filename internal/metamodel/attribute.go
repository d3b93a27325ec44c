package metamodel

// Accessor reads and writes one attribute of an instance.
// Both functions must tolerate the instance type produced by the owning
// type's factory.
type Accessor struct {
	Get func(instance any) any
	Set func(instance any, value any)
}

// JoinTable describes the association table of a many-to-many collection.
type JoinTable struct {
	Table         string
	OwnerColumns  []string // reference the owner's primary key
	TargetColumns []string // reference the target's primary key
}

// ManagedType is implemented by EntityType and Embeddable.
type ManagedType interface {
	TypeName() string
	Attributes() []*Attribute
	Attribute(name string) *Attribute
	New() any
}

// Attribute is one mapped attribute. Immutable after Build.
type Attribute struct {
	name     string
	kind     AttributeKind
	typ      BasicType
	column   string
	declarer ManagedType
	slot     int

	embeddable *Embeddable

	target        *EntityType
	joinColumns   []string
	referencedKey string
	mappedBy      string
	inverse       *Attribute
	joinTable     *JoinTable
	collection    CollectionKind
	fetch         FetchStrategy
	batchSize     int
	optional      bool

	accessor Accessor
}

func (a *Attribute) Name() string            { return a.name }
func (a *Attribute) Kind() AttributeKind     { return a.kind }
func (a *Attribute) Type() BasicType         { return a.typ }
func (a *Attribute) Column() string          { return a.column }
func (a *Attribute) Declarer() ManagedType   { return a.declarer }
func (a *Attribute) Embeddable() *Embeddable { return a.embeddable }
func (a *Attribute) Target() *EntityType     { return a.target }
func (a *Attribute) MappedBy() string        { return a.mappedBy }
func (a *Attribute) JoinTable() *JoinTable   { return a.joinTable }
func (a *Attribute) Collection() CollectionKind {
	return a.collection
}
func (a *Attribute) Fetch() FetchStrategy { return a.fetch }
func (a *Attribute) BatchSize() int       { return a.batchSize }
func (a *Attribute) Optional() bool       { return a.optional }
func (a *Attribute) Accessor() Accessor   { return a.accessor }

// Get reads the attribute from instance.
func (a *Attribute) Get(instance any) any { return a.accessor.Get(instance) }

// Set writes the attribute on instance.
func (a *Attribute) Set(instance, value any) { a.accessor.Set(instance, value) }

// JoinColumns returns the foreign key columns of an owning to-one.
func (a *Attribute) JoinColumns() []string { return a.joinColumns }

// ReferencedKey returns the unique key of the target the foreign key points
// at, or "" when it references the primary key.
func (a *Attribute) ReferencedKey() string { return a.referencedKey }

// Inverse returns the owning to-one on the target for a mapped-by
// association, nil otherwise.
func (a *Attribute) Inverse() *Attribute { return a.inverse }

// IsOwningToOne reports whether a is a to-one whose foreign key lives in the
// declaring table.
func (a *Attribute) IsOwningToOne() bool {
	return a.kind == KindToOne && len(a.joinColumns) > 0
}

// ReferencedColumns returns the target columns the foreign key of an owning
// to-one references.
func (a *Attribute) ReferencedColumns() []string {
	if a.target == nil {
		return nil
	}
	if a.referencedKey == "" {
		return a.target.IDColumns()
	}
	return a.target.UniqueKeyColumns(a.referencedKey)
}

// Columns returns the physical columns of a basic, embedded or owning
// to-one attribute in declaration order. Other kinds have none.
func (a *Attribute) Columns() []string {
	switch a.kind {
	case KindBasic:
		return []string{a.column}
	case KindEmbedded:
		var cols []string
		for _, m := range a.embeddable.attributes {
			cols = append(cols, m.Columns()...)
		}
		return cols
	case KindToOne:
		return a.joinColumns
	default:
		return nil
	}
}

// Leaves returns the basic attributes a basic or embedded attribute is made
// of, in column order.
func (a *Attribute) Leaves() []*Attribute {
	switch a.kind {
	case KindBasic:
		return []*Attribute{a}
	case KindEmbedded:
		var out []*Attribute
		for _, m := range a.embeddable.attributes {
			out = append(out, m.Leaves()...)
		}
		return out
	default:
		return nil
	}
}

// Role returns the collection role "Entity.attribute" of a to-many.
func (a *Attribute) Role() string {
	return a.declarer.TypeName() + "." + a.name
}

// Embeddable is the component type of an embedded attribute. Each embedded
// attribute owns its own Embeddable so column names stay attribute-specific.
type Embeddable struct {
	name        string
	attributes  []*Attribute
	byName      map[string]*Attribute
	instantiate func() any
}

func (e *Embeddable) TypeName() string          { return e.name }
func (e *Embeddable) Attributes() []*Attribute  { return e.attributes }
func (e *Embeddable) Attribute(n string) *Attribute {
	return e.byName[n]
}

// New creates an empty component instance.
func (e *Embeddable) New() any { return e.instantiate() }
