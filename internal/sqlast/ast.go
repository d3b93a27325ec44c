// Package sqlast is the relational statement tree: dialect-neutral select,
// update and delete nodes produced by lowering and serialized by the
// renderer.
//
// Node interfaces are sealed with marker methods. Trees are built once per
// compiled plan and never mutated afterwards, so they may be shared between
// goroutines.
package sqlast

import (
	"github.com/roach88/oql/internal/ir"
	"github.com/roach88/oql/internal/metamodel"
)

// Statement is *Select, *Update or *Delete.
type Statement interface {
	statementNode()
}

// Select is a full select statement, top level or nested.
type Select struct {
	With      []*CTE
	Recursive bool
	Body      Body
	OrderBy   []*OrderItem
	Limit     Expr
	Offset    Expr
}

// Body is *Core or *SetOp.
type Body interface {
	bodyNode()
}

// Core is one select/from/where block.
type Core struct {
	Distinct bool
	Columns  []*Column
	From     []*FromItem
	Where    Pred
	GroupBy  []Expr
	Having   Pred
}

// Column is one select-list entry. Alias is rendered when set.
type Column struct {
	Expr  Expr
	Alias string
}

// SetOp combines two bodies.
type SetOp struct {
	Op    string // union, intersect, except
	All   bool
	Left  Body
	Right Body
}

// OrderItem is one order-by entry.
type OrderItem struct {
	Expr  Expr
	Desc  bool
	Nulls string // "", "first" or "last"
}

// CTE is a with-clause entry. Search and Cycle are rendered natively; a
// dialect without native support has them emulated before rendering.
type CTE struct {
	Name    string
	Columns []string
	Query   *Select
	Search  *Search
	Cycle   *Cycle
}

// Search is a native "search depth|breadth first by ... set col" clause.
type Search struct {
	BreadthFirst bool
	By           []string
	Set          string
}

// Cycle is a native "cycle ... set col to mark default d using path" clause.
type Cycle struct {
	Columns []string
	Set     string
	Mark    *Literal
	Default *Literal
	Using   string
}

// FromItem is a table reference followed by the joins hanging off it.
type FromItem struct {
	Source TableRef
	Joins  []*Join
}

// JoinKind is the SQL join keyword.
type JoinKind int

const (
	Inner JoinKind = iota
	Left
	Right
	Full
	Cross
)

func (k JoinKind) String() string {
	switch k {
	case Left:
		return "left join"
	case Right:
		return "right join"
	case Full:
		return "full join"
	case Cross:
		return "cross join"
	default:
		return "join"
	}
}

// Join is one join clause. On is nil for cross joins.
type Join struct {
	Kind   JoinKind
	Target TableRef
	On     Pred
}

// TableRef is *Table, *Derived or *Group.
type TableRef interface {
	tableRefNode()
}

// Table is a named table or CTE reference.
type Table struct {
	Name  string
	Alias string
}

// Derived is a parenthesized subquery in the from clause.
type Derived struct {
	Query   *Select
	Alias   string
	Lateral bool
}

// Group is a parenthesized join group, used when an outer joined entity
// spans several tables.
type Group struct {
	Item *FromItem
}

// Update sets columns of one table.
type Update struct {
	Table string
	Set   []*Assignment
	Where Pred
}

// Assignment is "column = value".
type Assignment struct {
	Column string
	Value  Expr
}

// Delete removes rows of one table.
type Delete struct {
	Table string
	Where Pred
}

func (*Select) statementNode() {}
func (*Update) statementNode() {}
func (*Delete) statementNode() {}

func (*Core) bodyNode()  {}
func (*SetOp) bodyNode() {}

func (*Table) tableRefNode()   {}
func (*Derived) tableRefNode() {}
func (*Group) tableRefNode()   {}

// Expr is a value expression.
type Expr interface {
	exprNode()
}

// ColumnRef is "qualifier.name", or a bare name when Qualifier is empty.
type ColumnRef struct {
	Qualifier string
	Name      string
}

// Binding tells the executor what value a placeholder receives.
type Binding struct {
	// Param is the parameter label (":name" or "?n"); empty for literals.
	Param string
	// Element indexes a multi-valued parameter, -1 for single values.
	Element int
	// Key is the attribute path into an entity-valued parameter: the key
	// attribute, then embedded members down to one basic attribute.
	Key []*metamodel.Attribute
	// Literal is the value of a query-text literal.
	Literal ir.IRValue
	// Type is the expected basic type, TypeUnknown when not inferred.
	Type metamodel.BasicType
}

// Param is a placeholder.
type Param struct {
	Binding Binding
}

// Literal is a value rendered inline. Only values known while lowering
// (discriminators, cycle marks, constants) are inlined.
type Literal struct {
	Value ir.IRValue
}

// Binary is an arithmetic operator: + - * /.
type Binary struct {
	Op    string
	Left  Expr
	Right Expr
}

// Concat joins string values; rendered with the dialect's operator.
type Concat struct {
	Items []Expr
}

// Negate is unary minus.
type Negate struct {
	X Expr
}

// Func is a function call. Star renders count(*); Niladic renders the bare
// name (current_date).
type Func struct {
	Name     string
	Args     []Expr
	Distinct bool
	Star     bool
	Niladic  bool
}

// Case is a searched case expression.
type Case struct {
	Whens []*When
	Else  Expr
}

// When is one case branch.
type When struct {
	Cond   Pred
	Result Expr
}

// Cast converts X to a basic type; the dialect picks the type name.
type Cast struct {
	X  Expr
	To metamodel.BasicType
}

// PadLeft left-pads the text of X with zeros to Width characters.
type PadLeft struct {
	X     Expr
	Width int
}

// Subquery is a scalar subquery.
type Subquery struct {
	Query *Select
}

// Tuple is a row value "(a, b)".
type Tuple struct {
	Items []Expr
}

func (*ColumnRef) exprNode() {}
func (*Param) exprNode()     {}
func (*Literal) exprNode()   {}
func (*Binary) exprNode()    {}
func (*Concat) exprNode()    {}
func (*Negate) exprNode()    {}
func (*Func) exprNode()      {}
func (*Case) exprNode()      {}
func (*Cast) exprNode()      {}
func (*PadLeft) exprNode()   {}
func (*Subquery) exprNode()  {}
func (*Tuple) exprNode()     {}

// Pred is a boolean condition.
type Pred interface {
	predNode()
}

// Compare is "left op right".
type Compare struct {
	Op    string
	Left  Expr
	Right Expr
}

// And and Or are junctions; an empty And is true, an empty Or false.
type And struct {
	Preds []Pred
}

type Or struct {
	Preds []Pred
}

// Not negates P.
type Not struct {
	P Pred
}

// IsNull is "x is [not] null".
type IsNull struct {
	X       Expr
	Negated bool
}

// Between is "x [not] between low and high".
type Between struct {
	X       Expr
	Low     Expr
	High    Expr
	Negated bool
}

// Like is "x [not] like pattern [escape e]".
type Like struct {
	X       Expr
	Pattern Expr
	Escape  Expr
	Negated bool
}

// In is "x [not] in (values)". An empty list renders as a constant.
type In struct {
	X       Expr
	Values  []Expr
	Negated bool
}

// InQuery is "x [not] in (select ...)".
type InQuery struct {
	X       Expr
	Query   *Select
	Negated bool
}

// Exists is "[not] exists (select ...)".
type Exists struct {
	Query   *Select
	Negated bool
}

// Bool is a constant condition, rendered 1=1 or 1=0.
type Bool struct {
	Value bool
}

// Truth uses a boolean-valued expression as a condition.
type Truth struct {
	X Expr
}

func (*Compare) predNode() {}
func (*And) predNode()     {}
func (*Or) predNode()      {}
func (*Not) predNode()     {}
func (*IsNull) predNode()  {}
func (*Between) predNode() {}
func (*Like) predNode()    {}
func (*In) predNode()      {}
func (*InQuery) predNode() {}
func (*Exists) predNode()  {}
func (*Bool) predNode()    {}
func (*Truth) predNode()   {}

// Conj conjoins preds, dropping nils and flattening nested conjunctions.
// It returns nil when nothing remains.
func Conj(preds ...Pred) Pred {
	var out []Pred
	for _, p := range preds {
		switch v := p.(type) {
		case nil:
		case *And:
			out = append(out, v.Preds...)
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
		return &And{Preds: out}
	}
}

// Disj is Conj for disjunctions.
func Disj(preds ...Pred) Pred {
	var out []Pred
	for _, p := range preds {
		switch v := p.(type) {
		case nil:
		case *Or:
			out = append(out, v.Preds...)
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
		return &Or{Preds: out}
	}
}

// Col is shorthand for a qualified column reference.
func Col(qualifier, name string) *ColumnRef {
	return &ColumnRef{Qualifier: qualifier, Name: name}
}

// Cols pairs qualifier with each column name.
func Cols(qualifier string, names []string) []Expr {
	out := make([]Expr, len(names))
	for i, n := range names {
		out[i] = Col(qualifier, n)
	}
	return out
}

// Eq builds a column-wise equality of two equally long expression lists.
func Eq(left, right []Expr) Pred {
	preds := make([]Pred, len(left))
	for i := range left {
		preds[i] = &Compare{Op: "=", Left: left[i], Right: right[i]}
	}
	return Conj(preds...)
}
