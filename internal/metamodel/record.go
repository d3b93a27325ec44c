package metamodel

import (
	"fmt"
	"strings"
)

// Record is the default instance representation: a value slot per
// attribute of its managed type, addressed through the type's accessors.
type Record struct {
	typ    ManagedType
	values []any
}

func newRecord(t ManagedType, slots int) *Record {
	return &Record{typ: t, values: make([]any, slots)}
}

// Type returns the record's managed type (the concrete entity type for
// entity records).
func (r *Record) Type() ManagedType { return r.typ }

// Get returns the value of the named attribute, nil when unknown.
func (r *Record) Get(name string) any {
	a := r.typ.Attribute(name)
	if a == nil {
		return nil
	}
	return a.Get(r)
}

// Set assigns the named attribute. Unknown names are an error.
func (r *Record) Set(name string, value any) error {
	a := r.typ.Attribute(name)
	if a == nil {
		return fmt.Errorf("%s has no attribute %q", r.typ.TypeName(), name)
	}
	a.Set(r, value)
	return nil
}

// String renders basic attributes for debugging; associations are shown by
// name only so that cyclic graphs print finitely.
func (r *Record) String() string {
	var b strings.Builder
	b.WriteString(r.typ.TypeName())
	b.WriteByte('{')
	for i, a := range r.typ.Attributes() {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(a.name)
		b.WriteByte('=')
		if a.kind.IsAssociation() {
			b.WriteString("<" + a.kind.String() + ">")
			continue
		}
		fmt.Fprint(&b, a.Get(r))
	}
	b.WriteByte('}')
	return b.String()
}

// slotAccessor returns the default accessor for slot i of a Record.
func slotAccessor(i int) Accessor {
	return Accessor{
		Get: func(instance any) any {
			return instance.(*Record).values[i]
		},
		Set: func(instance any, value any) {
			instance.(*Record).values[i] = value
		},
	}
}
