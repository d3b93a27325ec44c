package queryir

import (
	"strings"

	"github.com/roach88/oql/internal/ir"
	"github.com/roach88/oql/internal/metamodel"
)

// Type is the static type of an expression. At most one of Entity and
// Embedded is set; otherwise Basic holds the logical type (TypeUnknown for
// untyped parameters and null).
type Type struct {
	Basic    metamodel.BasicType
	Entity   *metamodel.EntityType
	Embedded *metamodel.Embeddable
	// Discriminator marks type(x) expressions, compared with entity names.
	Discriminator bool
}

// BasicOf returns a basic Type.
func BasicOf(t metamodel.BasicType) Type { return Type{Basic: t} }

// EntityOf returns an entity-valued Type.
func EntityOf(e *metamodel.EntityType) Type { return Type{Entity: e} }

func (t Type) IsEntity() bool   { return t.Entity != nil }
func (t Type) IsEmbedded() bool { return t.Embedded != nil }

func (t Type) String() string {
	switch {
	case t.Entity != nil:
		return t.Entity.Name()
	case t.Embedded != nil:
		return t.Embedded.TypeName()
	case t.Discriminator:
		return "entity type"
	default:
		return t.Basic.String()
	}
}

// Expression is a typed scalar, entity or embedded valued expression.
type Expression interface {
	expressionNode()
	Type() Type
}

// Predicate is a boolean condition.
type Predicate interface {
	predicateNode()
}

// AttributeRef reads a basic or embedded attribute of an entity range.
// Path starts at an attribute of the range's entity (or of a subtype) and
// descends through embedded attributes.
type AttributeRef struct {
	Range *Range
	Path  []*metamodel.Attribute
	// Via is set when Path is the identifier of an owning to-one's target
	// that references the primary key: the value is read from the owner's
	// foreign key columns and Range is the owner.
	Via *metamodel.Attribute
}

// Attribute returns the referenced (last) attribute.
func (a *AttributeRef) Attribute() *metamodel.Attribute { return a.Path[len(a.Path)-1] }

// Declarer returns the entity type whose table holds the attribute.
func (a *AttributeRef) Declarer() *metamodel.EntityType {
	if a.Via != nil {
		if e, ok := a.Via.Declarer().(*metamodel.EntityType); ok {
			return e
		}
	}
	if e, ok := a.Path[0].Declarer().(*metamodel.EntityType); ok {
		return e
	}
	return a.Range.Entity
}

// Columns returns the physical columns of the attribute.
func (a *AttributeRef) Columns() []string {
	if a.Via != nil {
		return a.Via.JoinColumns()
	}
	return a.Attribute().Columns()
}

// Name returns the dotted attribute path.
func (a *AttributeRef) Name() string {
	names := make([]string, len(a.Path))
	for i, p := range a.Path {
		names[i] = p.Name()
	}
	return strings.Join(names, ".")
}

func (a *AttributeRef) Type() Type {
	attr := a.Attribute()
	if attr.Kind() == metamodel.KindEmbedded {
		return Type{Embedded: attr.Embeddable()}
	}
	return Type{Basic: attr.Type()}
}

// EntityRef is the entity a range produces.
type EntityRef struct {
	Range *Range
}

func (e *EntityRef) Type() Type { return EntityOf(e.Range.Entity) }

// FKRef is an owning to-one read from the owner's foreign key columns,
// without joining the target.
type FKRef struct {
	Range     *Range
	Attribute *metamodel.Attribute
}

func (f *FKRef) Type() Type { return EntityOf(f.Attribute.Target()) }

// KeyTuple is one key of an entity-valued expression: the primary key when
// Key is empty, otherwise the named unique key. Source is an *EntityRef or
// *FKRef.
type KeyTuple struct {
	Source Expression
	Key    string
}

func (k *KeyTuple) Type() Type { return k.Source.Type() }

// Literal is a constant from the query text, bound at execution.
type Literal struct {
	Value ir.IRValue
	T     Type
}

func (l *Literal) Type() Type { return l.T }

// Parameter references a parameter slot.
type Parameter struct {
	Slot *ParamSlot
}

func (p *Parameter) Type() Type { return p.Slot.Type }

// Arithmetic is + - * / or || (concatenation).
type Arithmetic struct {
	Op    string
	Left  Expression
	Right Expression
	T     Type
}

func (a *Arithmetic) Type() Type { return a.T }

// Negate is unary minus.
type Negate struct {
	X Expression
}

func (n *Negate) Type() Type { return n.X.Type() }

// FuncCall is a function or aggregate. Star marks count(*).
type FuncCall struct {
	Name     string
	Args     []Expression
	Distinct bool
	Star     bool
	T        Type
}

func (f *FuncCall) Type() Type { return f.T }

// IsAggregate reports whether the function aggregates rows.
func (f *FuncCall) IsAggregate() bool {
	switch f.Name {
	case "count", "sum", "avg", "min", "max":
		return true
	}
	return false
}

// Cast converts X to a basic type.
type Cast struct {
	X  Expression
	To metamodel.BasicType
}

func (c *Cast) Type() Type { return BasicOf(c.To) }

// CaseWhen is one branch of a searched case.
type CaseWhen struct {
	Cond   Predicate
	Result Expression
}

// CaseExpr is a searched case; simple case forms are bound to this shape.
type CaseExpr struct {
	Whens []*CaseWhen
	Else  Expression
	T     Type
}

func (c *CaseExpr) Type() Type { return c.T }

// ScalarSubquery is a subquery used as a value.
type ScalarSubquery struct {
	Query *SelectStatement
	T     Type
}

func (s *ScalarSubquery) Type() Type { return s.T }

// TypeOf is the concrete entity type of a range's rows.
type TypeOf struct {
	Range *Range
}

func (t *TypeOf) Type() Type { return Type{Discriminator: true} }

// EntityTypeLiteral is an entity name compared with type(x).
type EntityTypeLiteral struct {
	Entity *metamodel.EntityType
}

func (e *EntityTypeLiteral) Type() Type { return Type{Discriminator: true} }

// DerivedRef reads a column of a derived table or CTE range.
type DerivedRef struct {
	Range  *Range
	Column int
}

func (d *DerivedRef) Type() Type { return d.Range.Columns[d.Column].Type }

// Name returns the column name.
func (d *DerivedRef) Name() string { return d.Range.Columns[d.Column].Name }

func (*AttributeRef) expressionNode()      {}
func (*EntityRef) expressionNode()         {}
func (*FKRef) expressionNode()             {}
func (*KeyTuple) expressionNode()          {}
func (*Literal) expressionNode()           {}
func (*Parameter) expressionNode()         {}
func (*Arithmetic) expressionNode()        {}
func (*Negate) expressionNode()            {}
func (*FuncCall) expressionNode()          {}
func (*Cast) expressionNode()              {}
func (*CaseExpr) expressionNode()          {}
func (*ScalarSubquery) expressionNode()    {}
func (*TypeOf) expressionNode()            {}
func (*EntityTypeLiteral) expressionNode() {}
func (*DerivedRef) expressionNode()        {}

// ComparisonOp is a binary comparison operator.
type ComparisonOp int

const (
	Eq ComparisonOp = iota
	Ne
	Lt
	Le
	Gt
	Ge
)

var comparisonSymbols = [...]string{"=", "<>", "<", "<=", ">", ">="}

func (o ComparisonOp) String() string { return comparisonSymbols[o] }

// ParseComparisonOp maps an operator symbol.
func ParseComparisonOp(s string) (ComparisonOp, bool) {
	if s == "!=" {
		return Ne, true
	}
	for i, sym := range comparisonSymbols {
		if sym == s {
			return ComparisonOp(i), true
		}
	}
	return Eq, false
}

// Comparison compares two expressions of compatible type.
type Comparison struct {
	Op    ComparisonOp
	Left  Expression
	Right Expression
}

// Junction is a conjunction, or a disjunction when Or is set.
type Junction struct {
	Or         bool
	Predicates []Predicate
}

// Negation is "not P".
type Negation struct {
	P Predicate
}

// NullCheck is "x is [not] null".
type NullCheck struct {
	X       Expression
	Negated bool
}

// Between is "x [not] between low and high".
type Between struct {
	X       Expression
	Low     Expression
	High    Expression
	Negated bool
}

// Like is "x [not] like pattern [escape e]".
type Like struct {
	X       Expression
	Pattern Expression
	Escape  Expression
	Negated bool
}

// InList is "x [not] in (values)". A multi-valued Parameter among Values
// expands to one placeholder per bound element.
type InList struct {
	X       Expression
	Values  []Expression
	Negated bool
}

// InSubquery is "x [not] in (select ...)".
type InSubquery struct {
	X       Expression
	Query   *SelectStatement
	Negated bool
}

// Exists is "[not] exists (select ...)".
type Exists struct {
	Query   *SelectStatement
	Negated bool
}

// TypeRestriction limits a polymorphic range to the given concrete types.
type TypeRestriction struct {
	Range   *Range
	Types   []*metamodel.EntityType
	Negated bool
}

// BooleanExpression uses a boolean-typed expression as a predicate.
type BooleanExpression struct {
	X Expression
}

func (*Comparison) predicateNode()        {}
func (*Junction) predicateNode()          {}
func (*Negation) predicateNode()          {}
func (*NullCheck) predicateNode()         {}
func (*Between) predicateNode()           {}
func (*Like) predicateNode()              {}
func (*InList) predicateNode()            {}
func (*InSubquery) predicateNode()        {}
func (*Exists) predicateNode()            {}
func (*TypeRestriction) predicateNode()   {}
func (*BooleanExpression) predicateNode() {}

// And conjoins predicates, dropping nils and flattening nested conjunctions.
// It returns nil when nothing remains.
func And(preds ...Predicate) Predicate {
	var out []Predicate
	for _, p := range preds {
		switch v := p.(type) {
		case nil:
		case *Junction:
			if !v.Or {
				out = append(out, v.Predicates...)
				continue
			}
			out = append(out, v)
		default:
			out = append(out, v)
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	default:
		return &Junction{Predicates: out}
	}
}
