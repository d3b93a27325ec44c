package metamodel

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"
)

// MappingError is a mapping definition error with source position.
type MappingError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *MappingError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// LoadCUE loads every entity mapping in the CUE package at dir.
//
// Mappings live under the top-level "entity" struct:
//
//	entity: Person: {
//		table: "person"
//		id: {name: "id", type: "long"}
//		attributes: {
//			name: {type: "string"}
//			employer: {target: "Company", joinColumns: ["employer_id"]}
//			pets: {target: "Pet", mappedBy: "owner", many: true, fetch: "subselect"}
//		}
//	}
func LoadCUE(dir string) (*Metamodel, error) {
	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("no CUE instances in %s", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, formatCUEError(inst.Err)
	}
	v := ctx.BuildInstance(inst)
	return compileMappings(v)
}

// LoadCUEString compiles mappings from CUE source text.
func LoadCUEString(src string) (*Metamodel, error) {
	ctx := cuecontext.New()
	return compileMappings(ctx.CompileString(src, cue.Filename("mapping.cue")))
}

func compileMappings(v cue.Value) (*Metamodel, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	entities := v.LookupPath(cue.ParsePath("entity"))
	if !entities.Exists() {
		return nil, &MappingError{Field: "entity", Message: "no entity mappings found", Pos: v.Pos()}
	}
	iter, err := entities.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var defs []EntityDef
	for iter.Next() {
		def, err := compileEntity(iter.Selector().Unquoted(), iter.Value())
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return Build(defs...)
}

type cueEntity struct {
	Table         string `json:"table"`
	Abstract      bool   `json:"abstract"`
	Extends       string `json:"extends"`
	Inheritance   string `json:"inheritance"`
	Discriminator struct {
		Column string `json:"column"`
		Value  string `json:"value"`
	} `json:"discriminator"`
	UniqueKeys map[string][]string `json:"uniqueKeys"`
}

type cueAttribute struct {
	Type          string     `json:"type"`
	Column        string     `json:"column"`
	Optional      *bool      `json:"optional"`
	Target        string     `json:"target"`
	JoinColumns   []string   `json:"joinColumns"`
	ReferencedKey string     `json:"referencedKey"`
	MappedBy      string     `json:"mappedBy"`
	Many          bool       `json:"many"`
	JoinTable     *JoinTable `json:"joinTable"`
	Collection    string     `json:"collection"`
	Fetch         string     `json:"fetch"`
	BatchSize     int        `json:"batchSize"`
}

func compileEntity(name string, v cue.Value) (EntityDef, error) {
	var raw cueEntity
	if err := v.Decode(&raw); err != nil {
		return EntityDef{}, formatCUEError(err)
	}
	strategy, err := ParseInheritanceStrategy(raw.Inheritance)
	if err != nil {
		return EntityDef{}, &MappingError{Field: name + ".inheritance", Message: err.Error(), Pos: v.Pos()}
	}
	def := EntityDef{
		Name:                name,
		Table:               raw.Table,
		Abstract:            raw.Abstract,
		Extends:             raw.Extends,
		Inheritance:         strategy,
		DiscriminatorColumn: raw.Discriminator.Column,
		DiscriminatorValue:  raw.Discriminator.Value,
	}

	if idVal := v.LookupPath(cue.ParsePath("id")); idVal.Exists() {
		idName, err := idVal.LookupPath(cue.ParsePath("name")).String()
		if err != nil {
			return def, &MappingError{Field: name + ".id.name", Message: "identifier name is required", Pos: idVal.Pos()}
		}
		id, err := compileAttribute(name, idName, idVal)
		if err != nil {
			return def, err
		}
		def.ID = &id
	}

	if attrs := v.LookupPath(cue.ParsePath("attributes")); attrs.Exists() {
		iter, err := attrs.Fields()
		if err != nil {
			return def, formatCUEError(err)
		}
		for iter.Next() {
			ad, err := compileAttribute(name, iter.Selector().Unquoted(), iter.Value())
			if err != nil {
				return def, err
			}
			def.Attributes = append(def.Attributes, ad)
		}
	}

	if uks := v.LookupPath(cue.ParsePath("uniqueKeys")); uks.Exists() {
		iter, err := uks.Fields()
		if err != nil {
			return def, formatCUEError(err)
		}
		for iter.Next() {
			def.UniqueKeys = append(def.UniqueKeys, UniqueKeyDef{
				Name:       iter.Selector().Unquoted(),
				Attributes: raw.UniqueKeys[iter.Selector().Unquoted()],
			})
		}
	}
	return def, nil
}

func compileAttribute(entity, name string, v cue.Value) (AttributeDef, error) {
	field := entity + "." + name
	if members := v.LookupPath(cue.ParsePath("members")); members.Exists() {
		iter, err := members.Fields()
		if err != nil {
			return AttributeDef{}, formatCUEError(err)
		}
		var ms []AttributeDef
		for iter.Next() {
			m, err := compileAttribute(field, iter.Selector().Unquoted(), iter.Value())
			if err != nil {
				return AttributeDef{}, err
			}
			ms = append(ms, m)
		}
		return Embedded(name, ms...), nil
	}

	var raw cueAttribute
	if err := v.Decode(&raw); err != nil {
		return AttributeDef{}, formatCUEError(err)
	}
	fetch, err := ParseFetchStrategy(raw.Fetch)
	if err != nil {
		return AttributeDef{}, &MappingError{Field: field + ".fetch", Message: err.Error(), Pos: v.Pos()}
	}
	coll, err := ParseCollectionKind(raw.Collection)
	if err != nil {
		return AttributeDef{}, &MappingError{Field: field + ".collection", Message: err.Error(), Pos: v.Pos()}
	}

	var d AttributeDef
	switch {
	case raw.Target == "":
		t, err := ParseBasicType(raw.Type)
		if err != nil {
			return AttributeDef{}, &MappingError{Field: field + ".type", Message: err.Error(), Pos: v.Pos()}
		}
		d = Basic(name, raw.Column, t)
	case raw.Many && raw.JoinTable != nil:
		d = ManyToMany(name, raw.Target, *raw.JoinTable)
	case raw.Many:
		d = OneToMany(name, raw.Target, raw.MappedBy)
	case raw.MappedBy != "":
		d = InverseToOne(name, raw.Target, raw.MappedBy)
	default:
		d = ToOne(name, raw.Target, raw.JoinColumns...)
		d.ReferencedKey = raw.ReferencedKey
	}
	d.Fetch = fetch
	d.BatchSize = raw.BatchSize
	d.Collection = coll
	if raw.Optional != nil {
		d.Optional = *raw.Optional
	}
	return d, nil
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &MappingError{Field: "cue", Message: first.Error(), Pos: positions[0]}
	}
	return err
}
