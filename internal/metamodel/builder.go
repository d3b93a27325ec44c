package metamodel

import (
	"errors"
	"fmt"
)

// EntityDef is the declarative definition of one entity type.
type EntityDef struct {
	Name     string
	Table    string
	Abstract bool

	// Extends names the supertype; empty for hierarchy roots.
	Extends string
	// Inheritance is read from hierarchy roots only.
	Inheritance InheritanceStrategy
	// DiscriminatorColumn is read from single-table roots; defaults to "dtype".
	DiscriminatorColumn string
	// DiscriminatorValue defaults to Name.
	DiscriminatorValue string

	// ID is required on hierarchy roots and forbidden on subtypes.
	ID         *AttributeDef
	Attributes []AttributeDef
	UniqueKeys []UniqueKeyDef

	// Instantiate overrides the default *Record factory.
	Instantiate func() any
}

// UniqueKeyDef names a set of basic attributes that is unique per row.
type UniqueKeyDef struct {
	Name       string
	Attributes []string
}

// AttributeDef is the declarative definition of one attribute.
type AttributeDef struct {
	Name   string
	Kind   AttributeKind
	Type   BasicType // basic
	Column string    // basic

	Members []AttributeDef // embedded

	Target        string   // associations
	JoinColumns   []string // owning to-one
	ReferencedKey string   // owning to-one by unique key
	MappedBy      string   // inverse to-one, one-to-many
	JoinTable     *JoinTable
	Collection    CollectionKind
	Fetch         FetchStrategy
	BatchSize     int
	Optional      bool

	// Get and Set override the default Record slot accessor.
	Get func(instance any) any
	Set func(instance any, value any)
}

// Basic defines a column-valued attribute.
func Basic(name, column string, t BasicType) AttributeDef {
	return AttributeDef{Name: name, Kind: KindBasic, Column: column, Type: t, Optional: true}
}

// Embedded defines a component attribute made of basic members.
func Embedded(name string, members ...AttributeDef) AttributeDef {
	return AttributeDef{Name: name, Kind: KindEmbedded, Members: members, Optional: true}
}

// ToOne defines an owning to-one association through foreign key columns.
func ToOne(name, target string, joinColumns ...string) AttributeDef {
	return AttributeDef{Name: name, Kind: KindToOne, Target: target, JoinColumns: joinColumns, Optional: true}
}

// InverseToOne defines a to-one whose foreign key lives on the target.
func InverseToOne(name, target, mappedBy string) AttributeDef {
	return AttributeDef{Name: name, Kind: KindToOne, Target: target, MappedBy: mappedBy, Optional: true}
}

// OneToMany defines a collection mapped by a to-one on the target.
func OneToMany(name, target, mappedBy string) AttributeDef {
	return AttributeDef{Name: name, Kind: KindToMany, Target: target, MappedBy: mappedBy}
}

// ManyToMany defines a collection stored in a join table.
func ManyToMany(name, target string, jt JoinTable) AttributeDef {
	return AttributeDef{Name: name, Kind: KindToMany, Target: target, JoinTable: &jt}
}

// WithFetch sets the fetch strategy.
func (d AttributeDef) WithFetch(f FetchStrategy) AttributeDef {
	d.Fetch = f
	return d
}

// WithBatchSize sets FetchBatch with the given batch size.
func (d AttributeDef) WithBatchSize(n int) AttributeDef {
	d.Fetch = FetchBatch
	d.BatchSize = n
	return d
}

// ByUniqueKey makes an owning to-one reference the target's named unique
// key instead of its primary key.
func (d AttributeDef) ByUniqueKey(key string) AttributeDef {
	d.ReferencedKey = key
	return d
}

// NotNull marks the attribute non-nullable.
func (d AttributeDef) NotNull() AttributeDef {
	d.Optional = false
	return d
}

// As sets the collection kind of a to-many.
func (d AttributeDef) As(kind CollectionKind) AttributeDef {
	d.Collection = kind
	return d
}

// BuildError reports an invalid definition.
type BuildError struct {
	Entity    string
	Attribute string
	Message   string
}

func (e *BuildError) Error() string {
	if e.Attribute != "" {
		return fmt.Sprintf("metamodel: %s.%s: %s", e.Entity, e.Attribute, e.Message)
	}
	return fmt.Sprintf("metamodel: %s: %s", e.Entity, e.Message)
}

// Builder accumulates definitions and produces an immutable Metamodel.
type Builder struct {
	defs []EntityDef
}

// NewBuilder creates an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Add appends an entity definition.
func (b *Builder) Add(def EntityDef) *Builder {
	b.defs = append(b.defs, def)
	return b
}

// Build validates all definitions and links them. All errors are reported
// together.
func (b *Builder) Build() (*Metamodel, error) {
	return Build(b.defs...)
}

// Build validates definitions and produces the immutable Metamodel.
func Build(defs ...EntityDef) (*Metamodel, error) {
	l := &linker{
		meta: &Metamodel{
			entities: make(map[string]*EntityType, len(defs)),
			folded:   make(map[string]*EntityType, len(defs)),
		},
		defs: make(map[string]*EntityDef, len(defs)),
	}
	l.run(defs)
	if len(l.errs) > 0 {
		return nil, errors.Join(l.errs...)
	}
	return l.meta, nil
}

type linker struct {
	meta *Metamodel
	defs map[string]*EntityDef
	errs []error
}

func (l *linker) fail(entity, attr, format string, args ...any) {
	l.errs = append(l.errs, &BuildError{Entity: entity, Attribute: attr, Message: fmt.Sprintf(format, args...)})
}

func (l *linker) run(defs []EntityDef) {
	// Pass 1: register types.
	for i := range defs {
		def := &defs[i]
		if def.Name == "" {
			l.fail("<unnamed>", "", "entity name is required")
			continue
		}
		if _, dup := l.meta.entities[def.Name]; dup {
			l.fail(def.Name, "", "duplicate entity")
			continue
		}
		e := &EntityType{
			name:                def.Name,
			table:               def.Table,
			abstract:            def.Abstract,
			strategy:            def.Inheritance,
			discriminatorColumn: def.DiscriminatorColumn,
			discriminatorValue:  def.DiscriminatorValue,
			byName:              make(map[string]*Attribute),
			uniqueKeys:          make(map[string][]*Attribute),
		}
		if e.discriminatorValue == "" {
			e.discriminatorValue = def.Name
		}
		l.meta.entities[def.Name] = e
		l.meta.folded[foldName(def.Name)] = e
		l.meta.order = append(l.meta.order, def.Name)
		l.defs[def.Name] = def
	}

	// Pass 2: hierarchy.
	for _, name := range l.meta.order {
		def, e := l.defs[name], l.meta.entities[name]
		if def.Extends == "" {
			if def.Table == "" {
				l.fail(name, "", "table is required")
			}
			continue
		}
		super := l.meta.entities[def.Extends]
		if super == nil {
			l.fail(name, "", "unknown supertype %q", def.Extends)
			continue
		}
		e.super = super
		super.subtypes = append(super.subtypes, e)
	}
	for _, name := range l.meta.order {
		e := l.meta.entities[name]
		seen := map[*EntityType]bool{}
		for t := e; t != nil; t = t.super {
			if seen[t] {
				l.fail(name, "", "inheritance cycle")
				e.super = nil
				break
			}
			seen[t] = true
		}
	}
	if len(l.errs) > 0 {
		return
	}

	// Pass 3: attributes, roots before subtypes.
	for _, e := range l.roots() {
		l.buildAttributes(e, nil)
	}
	if len(l.errs) > 0 {
		return
	}

	// Pass 4: associations.
	for _, name := range l.meta.order {
		e := l.meta.entities[name]
		for _, a := range e.declared {
			l.linkAssociation(e, a)
		}
	}
}

func (l *linker) roots() []*EntityType {
	var out []*EntityType
	for _, name := range l.meta.order {
		if e := l.meta.entities[name]; e.super == nil {
			out = append(out, e)
		}
	}
	return out
}

func (l *linker) buildAttributes(e *EntityType, inherited []*Attribute) {
	def := l.defs[e.name]
	attrs := append([]*Attribute(nil), inherited...)

	if e.super == nil {
		if def.ID == nil {
			l.fail(e.name, "", "identifier is required on hierarchy roots")
			return
		}
		if def.ID.Kind != KindBasic && def.ID.Kind != KindEmbedded {
			l.fail(e.name, def.ID.Name, "identifier must be basic or embedded")
			return
		}
		id := l.newAttribute(e, *def.ID, len(attrs))
		id.optional = false
		e.id = id
		attrs = append(attrs, id)
		if e.discriminatorColumn == "" && len(e.subtypes) > 0 && e.strategy == SingleTable {
			e.discriminatorColumn = "dtype"
		}
	} else if def.ID != nil {
		l.fail(e.name, def.ID.Name, "subtypes inherit the identifier of %s", e.Root().name)
	}
	if e.super != nil && e.Strategy() == Joined && def.Table == "" {
		l.fail(e.name, "", "joined subtypes require their own table")
	}

	for _, ad := range def.Attributes {
		if ad.Name == "" {
			l.fail(e.name, "", "attribute name is required")
			continue
		}
		dup := false
		for _, existing := range attrs {
			if existing.name == ad.Name {
				l.fail(e.name, ad.Name, "duplicate attribute")
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		a := l.newAttribute(e, ad, len(attrs))
		e.declared = append(e.declared, a)
		attrs = append(attrs, a)
	}
	e.attributes = attrs
	for _, a := range attrs {
		e.byName[a.name] = a
	}

	for _, uk := range def.UniqueKeys {
		if e.super != nil {
			l.fail(e.name, "", "unique key %q must be declared on the hierarchy root", uk.Name)
			continue
		}
		var members []*Attribute
		for _, n := range uk.Attributes {
			a := e.byName[n]
			if a == nil || (a.kind != KindBasic && a.kind != KindEmbedded) {
				l.fail(e.name, n, "unique key %q member must be a basic or embedded attribute", uk.Name)
				continue
			}
			members = append(members, a)
		}
		e.uniqueKeys[uk.Name] = members
		e.uniqueKeyOrder = append(e.uniqueKeyOrder, uk.Name)
	}

	slots := len(attrs)
	if def.Instantiate != nil {
		e.instantiate = def.Instantiate
	} else {
		e.instantiate = func() any { return newRecord(e, slots) }
	}

	for _, s := range e.subtypes {
		l.buildAttributes(s, attrs)
	}
}

func (l *linker) newAttribute(owner ManagedType, d AttributeDef, slot int) *Attribute {
	a := &Attribute{
		name:          d.Name,
		kind:          d.Kind,
		typ:           d.Type,
		column:        d.Column,
		declarer:      owner,
		slot:          slot,
		joinColumns:   d.JoinColumns,
		referencedKey: d.ReferencedKey,
		mappedBy:      d.MappedBy,
		joinTable:     d.JoinTable,
		collection:    d.Collection,
		fetch:         d.Fetch,
		batchSize:     d.BatchSize,
		optional:      d.Optional,
	}
	switch d.Kind {
	case KindBasic:
		if d.Column == "" {
			a.column = d.Name
		}
		if d.Type == TypeUnknown {
			l.fail(owner.TypeName(), d.Name, "basic attribute requires a type")
		}
	case KindEmbedded:
		if len(d.Members) == 0 {
			l.fail(owner.TypeName(), d.Name, "embedded attribute requires members")
		}
		emb := &Embeddable{
			name:   owner.TypeName() + "." + d.Name,
			byName: make(map[string]*Attribute, len(d.Members)),
		}
		for i, md := range d.Members {
			if md.Kind != KindBasic && md.Kind != KindEmbedded {
				l.fail(owner.TypeName(), d.Name+"."+md.Name, "embedded members must be basic or embedded")
				continue
			}
			m := l.newAttribute(emb, md, i)
			emb.attributes = append(emb.attributes, m)
			emb.byName[m.name] = m
		}
		n := len(emb.attributes)
		emb.instantiate = func() any { return newRecord(emb, n) }
		a.embeddable = emb
	case KindToOne, KindToMany:
		if d.Target == "" {
			l.fail(owner.TypeName(), d.Name, "association requires a target")
		}
		if d.Fetch == FetchBatch && d.BatchSize < 2 {
			a.batchSize = 0
		}
	}
	if d.Get != nil && d.Set != nil {
		a.accessor = Accessor{Get: d.Get, Set: d.Set}
	} else {
		a.accessor = slotAccessor(slot)
	}
	return a
}

func (l *linker) linkAssociation(e *EntityType, a *Attribute) {
	if !a.kind.IsAssociation() {
		return
	}
	def := l.defs[e.name]
	var d AttributeDef
	for _, ad := range def.Attributes {
		if ad.Name == a.name {
			d = ad
		}
	}
	target := l.meta.entities[d.Target]
	if target == nil {
		l.fail(e.name, a.name, "unknown target entity %q", d.Target)
		return
	}
	a.target = target

	switch a.kind {
	case KindToOne:
		switch {
		case len(a.joinColumns) > 0 && a.mappedBy != "":
			l.fail(e.name, a.name, "to-one cannot declare both join columns and mappedBy")
		case len(a.joinColumns) > 0:
			if a.referencedKey != "" && target.UniqueKey(a.referencedKey) == nil {
				l.fail(e.name, a.name, "target %s has no unique key %q", target.name, a.referencedKey)
				return
			}
			if got, want := len(a.joinColumns), len(a.ReferencedColumns()); got != want {
				l.fail(e.name, a.name, "%d join columns reference %d target columns", got, want)
			}
		case a.mappedBy != "":
			l.linkInverse(e, a, target)
		default:
			l.fail(e.name, a.name, "to-one requires join columns or mappedBy")
		}
		if a.fetch == FetchSubselect {
			l.fail(e.name, a.name, "subselect fetching applies to collections only")
		}
	case KindToMany:
		switch {
		case a.joinTable != nil && a.mappedBy != "":
			l.fail(e.name, a.name, "collection cannot declare both a join table and mappedBy")
		case a.joinTable != nil:
			jt := a.joinTable
			if jt.Table == "" || len(jt.OwnerColumns) != len(e.IDColumns()) || len(jt.TargetColumns) != len(target.IDColumns()) {
				l.fail(e.name, a.name, "join table columns must match owner and target identifiers")
			}
		case a.mappedBy != "":
			l.linkInverse(e, a, target)
		default:
			l.fail(e.name, a.name, "collection requires mappedBy or a join table")
		}
	}
}

// linkInverse resolves mappedBy to an owning to-one on the target that
// points back at e (or one of its supertypes).
func (l *linker) linkInverse(e *EntityType, a *Attribute, target *EntityType) {
	owning := target.Attribute(a.mappedBy)
	if owning == nil {
		l.fail(e.name, a.name, "mappedBy %q is not an attribute of %s", a.mappedBy, target.name)
		return
	}
	tdef := l.findDef(owning)
	if owning.kind != KindToOne || len(owning.joinColumns) == 0 {
		l.fail(e.name, a.name, "mappedBy %q must name an owning to-one", a.mappedBy)
		return
	}
	if tdef != nil && l.meta.entities[tdef.Target] != nil && !e.IsSubtypeOf(l.meta.entities[tdef.Target]) {
		l.fail(e.name, a.name, "mappedBy %q points at %s, not %s", a.mappedBy, tdef.Target, e.name)
		return
	}
	if owning.referencedKey != "" {
		l.fail(e.name, a.name, "mappedBy %q must reference the primary key", a.mappedBy)
		return
	}
	a.inverse = owning
}

func (l *linker) findDef(a *Attribute) *AttributeDef {
	def := l.defs[a.declarer.TypeName()]
	if def == nil {
		return nil
	}
	for i := range def.Attributes {
		if def.Attributes[i].Name == a.name {
			return &def.Attributes[i]
		}
	}
	return nil
}
