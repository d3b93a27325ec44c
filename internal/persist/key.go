package persist

import (
	"fmt"

	"github.com/roach88/oql/internal/ir"
	"github.com/roach88/oql/internal/metamodel"
)

// EntityKey identifies one entity instance within a Context. Keys are
// comparable and use the hierarchy root, so a Pet and a Dog with the same
// identifier are the same key.
type EntityKey struct {
	Root *metamodel.EntityType
	// Unique is empty for primary keys. Otherwise it names the unique key
	// ID encodes, or "~role" for the target of an inverse to-one keyed by
	// its owner.
	Unique string
	// ID is the canonical encoding of the key's leaf values.
	ID string
}

func (k EntityKey) String() string {
	name := "<nil>"
	if k.Root != nil {
		name = k.Root.Name()
	}
	if k.Unique != "" {
		name += "." + k.Unique
	}
	return name + "#" + k.ID
}

// IsPrimary reports whether k is a primary key.
func (k EntityKey) IsPrimary() bool { return k.Unique == "" }

// IsZero reports whether k is the zero key.
func (k EntityKey) IsZero() bool { return k.Root == nil }

// NewEntityKey builds the key of the e instance with identifier id. id is
// a basic value, or an instance of the identifier's embeddable for
// composite identifiers.
func NewEntityKey(e *metamodel.EntityType, id any) (EntityKey, error) {
	values, err := IdentifierValues(e.ID(), id)
	if err != nil {
		return EntityKey{}, fmt.Errorf("key of %s: %w", e.Name(), err)
	}
	for _, v := range values {
		if v == nil {
			return EntityKey{}, fmt.Errorf("key of %s: null identifier member", e.Name())
		}
	}
	s, err := ir.CanonicalKey(values...)
	if err != nil {
		return EntityKey{}, fmt.Errorf("key of %s: %w", e.Name(), err)
	}
	return EntityKey{Root: e.Root(), ID: s}, nil
}

// NewUniqueKey builds the key of the e instance whose unique key name has
// the given leaf values.
func NewUniqueKey(e *metamodel.EntityType, name string, values []any) (EntityKey, error) {
	var leaves []*metamodel.Attribute
	for _, a := range e.UniqueKey(name) {
		leaves = append(leaves, a.Leaves()...)
	}
	if len(leaves) == 0 || len(leaves) != len(values) {
		return EntityKey{}, fmt.Errorf("unique key %s.%s: %d values for %d columns", e.Name(), name, len(values), len(leaves))
	}
	conv := make([]any, len(values))
	for i, v := range values {
		c, err := leaves[i].Type().Convert(v)
		if err != nil {
			return EntityKey{}, fmt.Errorf("unique key %s.%s: %w", e.Name(), name, err)
		}
		conv[i] = c
	}
	s, err := ir.CanonicalKey(conv...)
	if err != nil {
		return EntityKey{}, fmt.Errorf("unique key %s.%s: %w", e.Name(), name, err)
	}
	return EntityKey{Root: e.Root(), Unique: name, ID: s}, nil
}

// InverseKey is the key of the target of the inverse to-one attr owned by
// the entity with key owner.
func InverseKey(attr *metamodel.Attribute, owner EntityKey) EntityKey {
	return EntityKey{Root: attr.Target().Root(), Unique: "~" + attr.Role(), ID: owner.ID}
}

// KeyOf reads the identifier of an e instance and builds its key.
func KeyOf(e *metamodel.EntityType, instance any) (EntityKey, error) {
	return NewEntityKey(e, e.ID().Get(instance))
}

// IdentifierValues returns the leaf values of id, the value of the basic or
// embedded attribute a, converted to their declared types.
func IdentifierValues(a *metamodel.Attribute, id any) ([]any, error) {
	if a.Kind() == metamodel.KindBasic {
		v, err := a.Type().Convert(id)
		if err != nil {
			return nil, err
		}
		return []any{v}, nil
	}
	if id == nil {
		return make([]any, len(a.Leaves())), nil
	}
	var out []any
	for _, m := range a.Embeddable().Attributes() {
		vs, err := IdentifierValues(m, m.Get(id))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", m.Name(), err)
		}
		out = append(out, vs...)
	}
	return out, nil
}

// CollectionKey identifies the collection of role owned by one entity.
type CollectionKey struct {
	Role  string
	Owner EntityKey
}

func (k CollectionKey) String() string { return k.Role + "(" + k.Owner.String() + ")" }
