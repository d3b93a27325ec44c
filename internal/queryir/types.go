package queryir

import (
	"fmt"
	"strconv"

	"github.com/roach88/oql/internal/ir"
	"github.com/roach88/oql/internal/metamodel"
)

// Statement is a bound statement: *SelectStatement, *UpdateStatement or
// *DeleteStatement.
type Statement interface {
	statementNode()
	Parameters() *ParameterTable
}

// QueryPart is the body of a select: *QuerySpec or *SetOperation.
type QueryPart interface {
	queryPartNode()
	// FirstSpec returns the leftmost query spec, whose selection defines the
	// result shape of a set operation.
	FirstSpec() *QuerySpec
}

// SelectStatement is a bound select, top level or nested.
type SelectStatement struct {
	CTEs    []*CTE
	Body    QueryPart
	OrderBy []*SortSpec
	Limit   Expression
	Offset  Expression
	// Params is set on the top-level statement only.
	Params *ParameterTable
}

// QuerySpec is one select/from/where block.
type QuerySpec struct {
	Distinct  bool
	From      []*Range
	Selection []*SelectItem
	// ImplicitSelection records that the select clause was omitted.
	ImplicitSelection bool
	Where             Predicate
	GroupBy           []Expression
	Having            Predicate
}

// SetOperator combines two query parts.
type SetOperator int

const (
	Union SetOperator = iota
	Intersect
	Except
)

func (o SetOperator) String() string {
	switch o {
	case Intersect:
		return "intersect"
	case Except:
		return "except"
	default:
		return "union"
	}
}

// SetOperation is "left op [all] right".
type SetOperation struct {
	Op    SetOperator
	All   bool
	Left  QueryPart
	Right QueryPart
}

// SortSpec is one order-by entry.
type SortSpec struct {
	Expr  Expression
	Desc  bool
	Nulls NullPrecedence
}

// NullPrecedence controls where nulls sort.
type NullPrecedence int

const (
	NullsDefault NullPrecedence = iota
	NullsFirst
	NullsLast
)

// UpdateStatement is a bulk update against one entity's table.
type UpdateStatement struct {
	Target      *Range
	Assignments []*Assignment
	Where       Predicate
	Params      *ParameterTable
}

// Assignment sets one basic attribute (*AttributeRef) or the foreign key of
// an owning to-one (*FKRef).
type Assignment struct {
	Target Expression
	Value  Expression
}

// DeleteStatement is a bulk delete against one entity's table.
type DeleteStatement struct {
	Target *Range
	Where  Predicate
	Params *ParameterTable
}

func (*SelectStatement) statementNode() {}
func (*UpdateStatement) statementNode() {}
func (*DeleteStatement) statementNode() {}

func (s *SelectStatement) Parameters() *ParameterTable { return s.Params }
func (s *UpdateStatement) Parameters() *ParameterTable { return s.Params }
func (s *DeleteStatement) Parameters() *ParameterTable { return s.Params }

func (*QuerySpec) queryPartNode()    {}
func (*SetOperation) queryPartNode() {}

func (q *QuerySpec) FirstSpec() *QuerySpec    { return q }
func (s *SetOperation) FirstSpec() *QuerySpec { return s.Left.FirstSpec() }

// CTE is a named common table expression.
type CTE struct {
	Name      string
	Columns   []*Column
	Query     *SelectStatement
	Recursive bool
	Search    *SearchSpec
	Cycle     *CycleSpec
}

// Column is a named, typed column of a CTE or derived table.
type Column struct {
	Name string
	Type Type
}

// ColumnIndex returns the index of the named column or -1.
func (c *CTE) ColumnIndex(name string) int {
	return columnIndex(c.Columns, name)
}

func columnIndex(cols []*Column, name string) int {
	for i, col := range cols {
		if col.Name == name {
			return i
		}
	}
	return -1
}

// SearchSpec is a recursive CTE's search clause. SetColumn is appended to
// the CTE's columns and holds the ordering value.
type SearchSpec struct {
	BreadthFirst bool
	By           []CTESort
	SetColumn    string
}

// CTESort orders a search clause by one CTE column.
type CTESort struct {
	Column int
	Desc   bool
}

// CycleSpec is a recursive CTE's cycle clause. SetColumn receives Mark on
// the row that revisits an already seen combination of Columns and Default
// otherwise; UsingColumn, when set, holds the visited path.
type CycleSpec struct {
	Columns     []int
	SetColumn   string
	Mark        ir.IRValue
	Default     ir.IRValue
	MarkType    metamodel.BasicType
	UsingColumn string
}

// RangeKind classifies a Range.
type RangeKind int

const (
	RangeRoot RangeKind = iota
	RangeAssociation
	RangeEntityJoin
	RangeDerived
	RangeCTE
)

func (k RangeKind) String() string {
	switch k {
	case RangeAssociation:
		return "association"
	case RangeEntityJoin:
		return "entity-join"
	case RangeDerived:
		return "derived"
	case RangeCTE:
		return "cte"
	default:
		return "root"
	}
}

// JoinType is the SQL join kind of a non-root range.
type JoinType int

const (
	JoinInner JoinType = iota
	JoinLeft
	JoinRight
	JoinFull
	JoinCross
)

func (j JoinType) String() string {
	switch j {
	case JoinLeft:
		return "left"
	case JoinRight:
		return "right"
	case JoinFull:
		return "full"
	case JoinCross:
		return "cross"
	default:
		return "inner"
	}
}

// Range is a from-clause source. Ranges are compared by identity.
type Range struct {
	// ID is unique within the top-level statement and drives alias
	// generation, so it must be assigned in a deterministic order.
	ID    int
	Alias string
	Kind  RangeKind

	// Entity is the static entity type of entity-valued ranges.
	Entity *metamodel.EntityType

	// Parent and Attribute describe an association join.
	Parent    *Range
	Attribute *metamodel.Attribute

	Join      JoinType
	Fetch     bool
	Implicit  bool
	Condition Predicate
	// Restricted marks an association join narrowed by an on/with condition.
	Restricted bool
	// KeyOnly marks a join-table collection range of which only the element
	// key is used, so the target table need not be joined.
	KeyOnly bool
	// Correlated marks an implicit join a subquery made from an outer range.
	// It is rendered in the subquery's from clause, joined by its where.
	Correlated bool

	// Query and Lateral describe a derived table.
	Query   *SelectStatement
	Lateral bool
	// CTE is the referenced common table expression.
	CTE *CTE
	// Columns are the columns of a derived or CTE range.
	Columns []*Column

	Joins []*Range
}

// IsEntity reports whether the range produces entity rows.
func (r *Range) IsEntity() bool {
	return r.Entity != nil
}

// ColumnIndex returns the index of a derived or CTE column or -1.
func (r *Range) ColumnIndex(name string) int {
	return columnIndex(r.Columns, name)
}

// Label returns the alias, or a synthetic name for anonymous ranges.
func (r *Range) Label() string {
	if r.Alias != "" {
		return r.Alias
	}
	if r.Attribute != nil && r.Parent != nil {
		return r.Parent.Label() + "." + r.Attribute.Name()
	}
	return "#" + strconv.Itoa(r.ID)
}

// Walk calls fn for r and every range joined below it, depth first.
func (r *Range) Walk(fn func(*Range)) {
	fn(r)
	for _, j := range r.Joins {
		j.Walk(fn)
	}
}

func (r *Range) String() string {
	switch r.Kind {
	case RangeAssociation:
		return fmt.Sprintf("%s join %s %s", r.Join, r.Label(), r.Entity.Name())
	case RangeDerived, RangeCTE:
		return fmt.Sprintf("%s %s", r.Kind, r.Label())
	default:
		return fmt.Sprintf("%s %s", r.Entity.Name(), r.Label())
	}
}

// SelectItem is one selected expression.
type SelectItem struct {
	Expr  Expression
	Alias string
}

// Instantiation is a dynamic instantiation "new Target(args)". It appears
// only as a select item. Target is "list", "map" or a registered name.
type Instantiation struct {
	Target string
	Args   []*SelectItem
}

func (*Instantiation) expressionNode() {}
func (*Instantiation) Type() Type      { return Type{} }

// ParamSlot is one named or ordinal parameter.
type ParamSlot struct {
	Name    string
	Ordinal int
	Type    Type
	// Multi marks a parameter used as an in-list ("x in :ids").
	Multi bool
	// Key lists the attributes a bound entity value is decomposed into,
	// for entity-valued parameters.
	Key []*metamodel.Attribute
}

// Label is the slot's display and lookup key: ":name" or "?n".
func (p *ParamSlot) Label() string {
	if p.Name != "" {
		return ":" + p.Name
	}
	return "?" + strconv.Itoa(p.Ordinal)
}

// ParameterTable holds a statement's parameters in first-use order.
type ParameterTable struct {
	Slots []*ParamSlot
	index map[string]*ParamSlot
}

// NewParameterTable creates an empty table.
func NewParameterTable() *ParameterTable {
	return &ParameterTable{index: make(map[string]*ParamSlot)}
}

// Named returns the slot for :name, creating it on first use.
func (t *ParameterTable) Named(name string) *ParamSlot {
	return t.slot(&ParamSlot{Name: name})
}

// Ordinal returns the slot for ?n, creating it on first use.
func (t *ParameterTable) Ordinal(n int) *ParamSlot {
	return t.slot(&ParamSlot{Ordinal: n})
}

func (t *ParameterTable) slot(p *ParamSlot) *ParamSlot {
	if t.index == nil {
		t.index = make(map[string]*ParamSlot)
	}
	if existing, ok := t.index[p.Label()]; ok {
		return existing
	}
	t.index[p.Label()] = p
	t.Slots = append(t.Slots, p)
	return p
}

// Lookup returns the slot with the given label (":name" or "?n").
func (t *ParameterTable) Lookup(label string) *ParamSlot {
	if t == nil {
		return nil
	}
	return t.index[label]
}

// HasOrdinals and HasNamed report the parameter styles in use.
func (t *ParameterTable) HasOrdinals() bool {
	for _, s := range t.Slots {
		if s.Name == "" {
			return true
		}
	}
	return false
}

func (t *ParameterTable) HasNamed() bool {
	for _, s := range t.Slots {
		if s.Name != "" {
			return true
		}
	}
	return false
}
