package hql

import "github.com/roach88/oql/internal/ir"

// Statement is a parsed top-level statement: *Query, *Update or *Delete.
type Statement interface {
	statementNode()
}

// Expr is a syntax-level expression. Sealed to this package.
type Expr interface {
	exprNode()
	Position() int
}

// QueryBody is either a single *QuerySpec or a *SetOperation.
type QueryBody interface {
	bodyNode()
}

// Query is a select statement with its optional CTEs and paging.
type Query struct {
	With      []*CTE
	Recursive bool
	Body      QueryBody
	OrderBy   []*SortItem
	Limit     Expr
	Offset    Expr
	Pos       int
}

// QuerySpec is one select/from/where/group/having block.
type QuerySpec struct {
	Distinct bool
	// Select is nil when the clause is omitted ("from Person p").
	Select  []*SelectItem
	From    []*FromItem
	Where   Expr
	GroupBy []Expr
	Having  Expr
	Pos     int
}

// SetOperator joins two query bodies.
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

// SetOperation is "left union [all] right" and friends.
type SetOperation struct {
	Op    SetOperator
	All   bool
	Left  QueryBody
	Right QueryBody
}

// SelectItem is one selected expression with its optional alias.
type SelectItem struct {
	Expr  Expr
	Alias string
}

// FromItem is a root range plus the joins hanging off it.
type FromItem struct {
	Root  Source
	Joins []*Join
}

// Source is the target of a root range or join.
type Source interface {
	sourceNode()
}

// EntitySource names an entity (or CTE) with an optional alias.
type EntitySource struct {
	Name  string
	Alias string
	Pos   int
}

// PathSource is an association path "p.address.city" used as a join target.
type PathSource struct {
	Path  *Path
	Alias string
}

// SubquerySource is "(select ...) alias", lateral when prefixed so.
type SubquerySource struct {
	Query   *Query
	Alias   string
	Lateral bool
	Pos     int
}

// JoinKind enumerates explicit join types.
type JoinKind int

const (
	JoinInner JoinKind = iota
	JoinLeft
	JoinRight
	JoinFull
	JoinCross
)

func (k JoinKind) String() string {
	switch k {
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

// Join is an explicit join. Condition is introduced by "on" or "with".
type Join struct {
	Kind      JoinKind
	Fetch     bool
	Target    Source
	Condition Expr
	// With records that the condition used the "with" keyword, which only
	// restricts an association join.
	With bool
	Pos  int
}

// CTE is one "name(cols) as (query)" entry of a with clause.
type CTE struct {
	Name    string
	Columns []string
	Query   *Query
	Search  *SearchClause
	Cycle   *CycleClause
	Pos     int
}

// SearchClause is "search breadth|depth first by a [desc], ... set attr".
type SearchClause struct {
	BreadthFirst bool
	By           []*SortItem
	Set          string
	Pos          int
}

// CycleClause is "cycle a, b set mark [to v default d] [using path]".
type CycleClause struct {
	Attributes []string
	Set        string
	Mark       Expr
	Default    Expr
	Using      string
	Pos        int
}

// SortItem is one order-by entry.
type SortItem struct {
	Expr Expr
	Desc bool
	// Nulls is "", "first" or "last".
	Nulls string
}

// Update is "update Entity e set e.a = x, ... where ...".
type Update struct {
	Entity      string
	Alias       string
	Assignments []*Assignment
	Where       Expr
	Pos         int
}

// Assignment is one "path = value" pair of an update.
type Assignment struct {
	Path  *Path
	Value Expr
}

// Delete is "delete [from] Entity e where ...".
type Delete struct {
	Entity string
	Alias  string
	Where  Expr
	Pos    int
}

// Path is a dotted identifier chain; the binder decides whether the first
// segment is an alias, an entity name or an unqualified attribute.
type Path struct {
	Segments []string
	Pos      int
}

// LiteralKind classifies a literal.
type LiteralKind int

const (
	LitNull LiteralKind = iota
	LitString
	LitInteger
	LitDecimal
	LitBoolean
)

// Literal is a constant in the query text.
type Literal struct {
	Kind  LiteralKind
	Value ir.IRValue
	Pos   int
}

// Param is ":name" (Name set) or "?n" (Ordinal set).
type Param struct {
	Name    string
	Ordinal int
	Pos     int
}

// Binary is an arithmetic or concatenation operator: + - * / ||.
type Binary struct {
	Op    string
	Left  Expr
	Right Expr
	Pos   int
}

// Unary is "-x".
type Unary struct {
	Op  string
	X   Expr
	Pos int
}

// Compare is a comparison: = <> < <= > >=.
type Compare struct {
	Op    string
	Left  Expr
	Right Expr
	Pos   int
}

// Logical is "and" / "or".
type Logical struct {
	Op    string
	Left  Expr
	Right Expr
	Pos   int
}

// Not negates a predicate.
type Not struct {
	X   Expr
	Pos int
}

// IsNull is "x is [not] null".
type IsNull struct {
	X      Expr
	Negate bool
	Pos    int
}

// Between is "x [not] between lo and hi".
type Between struct {
	X      Expr
	Low    Expr
	High   Expr
	Negate bool
	Pos    int
}

// Like is "x [not] like pattern [escape e]".
type Like struct {
	X       Expr
	Pattern Expr
	Escape  Expr
	Negate  bool
	Pos     int
}

// In is "x [not] in (a, b)", "x in (select ...)" or "x in :list".
type In struct {
	X        Expr
	List     []Expr
	Subquery *Query
	Negate   bool
	Pos      int
}

// Exists is "[not] exists (select ...)".
type Exists struct {
	Query  *Query
	Negate bool
	Pos    int
}

// Subquery is a parenthesized query used as a scalar expression.
type Subquery struct {
	Query *Query
	Pos   int
}

// When is one branch of a case expression.
type When struct {
	Cond   Expr
	Result Expr
}

// Case is "case [operand] when ... then ... [else ...] end".
type Case struct {
	Operand Expr
	Whens   []*When
	Else    Expr
	Pos     int
}

// Func is a function call; Star marks "count(*)".
type Func struct {
	Name     string
	Args     []Expr
	Distinct bool
	Star     bool
	Pos      int
}

// New is dynamic instantiation "new Name(a, b as x)"; Name may be "list"
// or "map".
type New struct {
	Name string
	Args []*SelectItem
	Pos  int
}

// TypeOf is "type(alias)".
type TypeOf struct {
	X   Expr
	Pos int
}

// Treat is "treat(path as Entity)" optionally followed by ".attr".
type Treat struct {
	X        Expr
	Entity   string
	Segments []string
	Pos      int
}

// Element is "element(path)" or "elements(path)": the element of a to-many
// path as a joinable entity expression.
type Element struct {
	Path *Path
	Pos  int
}

func (*Query) statementNode()  {}
func (*Update) statementNode() {}
func (*Delete) statementNode() {}

func (*QuerySpec) bodyNode()    {}
func (*SetOperation) bodyNode() {}

func (*EntitySource) sourceNode()   {}
func (*PathSource) sourceNode()     {}
func (*SubquerySource) sourceNode() {}

func (*Path) exprNode()     {}
func (*Literal) exprNode()  {}
func (*Param) exprNode()    {}
func (*Binary) exprNode()   {}
func (*Unary) exprNode()    {}
func (*Compare) exprNode()  {}
func (*Logical) exprNode()  {}
func (*Not) exprNode()      {}
func (*IsNull) exprNode()   {}
func (*Between) exprNode()  {}
func (*Like) exprNode()     {}
func (*In) exprNode()       {}
func (*Exists) exprNode()   {}
func (*Subquery) exprNode() {}
func (*Case) exprNode()     {}
func (*Func) exprNode()     {}
func (*New) exprNode()      {}
func (*TypeOf) exprNode()   {}
func (*Treat) exprNode()    {}
func (*Element) exprNode()  {}

func (e *Path) Position() int     { return e.Pos }
func (e *Literal) Position() int  { return e.Pos }
func (e *Param) Position() int    { return e.Pos }
func (e *Binary) Position() int   { return e.Pos }
func (e *Unary) Position() int    { return e.Pos }
func (e *Compare) Position() int  { return e.Pos }
func (e *Logical) Position() int  { return e.Pos }
func (e *Not) Position() int      { return e.Pos }
func (e *IsNull) Position() int   { return e.Pos }
func (e *Between) Position() int  { return e.Pos }
func (e *Like) Position() int     { return e.Pos }
func (e *In) Position() int       { return e.Pos }
func (e *Exists) Position() int   { return e.Pos }
func (e *Subquery) Position() int { return e.Pos }
func (e *Case) Position() int     { return e.Pos }
func (e *Func) Position() int     { return e.Pos }
func (e *New) Position() int      { return e.Pos }
func (e *TypeOf) Position() int   { return e.Pos }
func (e *Treat) Position() int    { return e.Pos }
func (e *Element) Position() int  { return e.Pos }
