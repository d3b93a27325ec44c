package queryir

import (
	"fmt"
)

// Inspect traverses a tree depth first, calling fn for every node: statements,
// query parts, ranges, select items, sort specs, CTEs, expressions and
// predicates. When fn returns false the node's children are skipped.
func Inspect(node any, fn func(node any) bool) {
	if node == nil || !fn(node) {
		return
	}
	switch n := node.(type) {
	case *SelectStatement:
		for _, c := range n.CTEs {
			Inspect(c, fn)
		}
		Inspect(n.Body, fn)
		for _, s := range n.OrderBy {
			Inspect(s, fn)
		}
		inspectExpr(n.Limit, fn)
		inspectExpr(n.Offset, fn)
	case *UpdateStatement:
		Inspect(n.Target, fn)
		for _, a := range n.Assignments {
			inspectExpr(a.Target, fn)
			inspectExpr(a.Value, fn)
		}
		inspectPred(n.Where, fn)
	case *DeleteStatement:
		Inspect(n.Target, fn)
		inspectPred(n.Where, fn)
	case *CTE:
		Inspect(n.Query, fn)
	case *QuerySpec:
		for _, r := range n.From {
			Inspect(r, fn)
		}
		for _, item := range n.Selection {
			Inspect(item, fn)
		}
		inspectPred(n.Where, fn)
		for _, g := range n.GroupBy {
			inspectExpr(g, fn)
		}
		inspectPred(n.Having, fn)
	case *SetOperation:
		Inspect(n.Left, fn)
		Inspect(n.Right, fn)
	case *Range:
		inspectPred(n.Condition, fn)
		if n.Query != nil {
			Inspect(n.Query, fn)
		}
		for _, j := range n.Joins {
			Inspect(j, fn)
		}
	case *SelectItem:
		inspectExpr(n.Expr, fn)
	case *SortSpec:
		inspectExpr(n.Expr, fn)
	case *Instantiation:
		for _, a := range n.Args {
			Inspect(a, fn)
		}
	case *KeyTuple:
		inspectExpr(n.Source, fn)
	case *Arithmetic:
		inspectExpr(n.Left, fn)
		inspectExpr(n.Right, fn)
	case *Negate:
		inspectExpr(n.X, fn)
	case *FuncCall:
		for _, a := range n.Args {
			inspectExpr(a, fn)
		}
	case *Cast:
		inspectExpr(n.X, fn)
	case *CaseExpr:
		for _, w := range n.Whens {
			inspectPred(w.Cond, fn)
			inspectExpr(w.Result, fn)
		}
		inspectExpr(n.Else, fn)
	case *ScalarSubquery:
		Inspect(n.Query, fn)
	case *Comparison:
		inspectExpr(n.Left, fn)
		inspectExpr(n.Right, fn)
	case *Junction:
		for _, p := range n.Predicates {
			inspectPred(p, fn)
		}
	case *Negation:
		inspectPred(n.P, fn)
	case *NullCheck:
		inspectExpr(n.X, fn)
	case *Between:
		inspectExpr(n.X, fn)
		inspectExpr(n.Low, fn)
		inspectExpr(n.High, fn)
	case *Like:
		inspectExpr(n.X, fn)
		inspectExpr(n.Pattern, fn)
		inspectExpr(n.Escape, fn)
	case *InList:
		inspectExpr(n.X, fn)
		for _, v := range n.Values {
			inspectExpr(v, fn)
		}
	case *InSubquery:
		inspectExpr(n.X, fn)
		Inspect(n.Query, fn)
	case *Exists:
		Inspect(n.Query, fn)
	case *BooleanExpression:
		inspectExpr(n.X, fn)
	}
}

// inspectExpr and inspectPred skip nil interface values so callers need not
// check optional children.
func inspectExpr(e Expression, fn func(any) bool) {
	if e != nil {
		Inspect(e, fn)
	}
}

func inspectPred(p Predicate, fn func(any) bool) {
	if p != nil {
		Inspect(p, fn)
	}
}

// ReferencedRanges returns every range an expression inside node points at,
// in first-reference order.
func ReferencedRanges(node any) []*Range {
	var out []*Range
	seen := map[*Range]bool{}
	add := func(r *Range) {
		if r != nil && !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	Inspect(node, func(n any) bool {
		switch e := n.(type) {
		case *AttributeRef:
			add(e.Range)
		case *EntityRef:
			add(e.Range)
		case *FKRef:
			add(e.Range)
		case *TypeOf:
			add(e.Range)
		case *DerivedRef:
			add(e.Range)
		case *TypeRestriction:
			add(e.Range)
		case *Range:
			if e.Correlated {
				add(e.Parent)
			}
		}
		return true
	})
	return out
}

// DeclaredRanges returns the ranges a select statement introduces, including
// those of nested subqueries.
func DeclaredRanges(node any) map[*Range]bool {
	out := map[*Range]bool{}
	Inspect(node, func(n any) bool {
		if r, ok := n.(*Range); ok {
			out[r] = true
		}
		return true
	})
	return out
}

// IsCorrelated reports whether q references a range declared outside it.
func IsCorrelated(q *SelectStatement) bool {
	declared := DeclaredRanges(q)
	for _, r := range ReferencedRanges(q) {
		if !declared[r] {
			return true
		}
	}
	return false
}

// ValidationError reports a structurally invalid tree. It indicates a bug
// in the producer, not a user error.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return "invalid query tree: " + e.Message
}

// Validate checks structural invariants of a bound statement: every
// referenced range is in scope, every parameter belongs to the statement's
// table, set operation members select the same number of items and selections
// are non-empty.
func Validate(stmt Statement) error {
	if stmt == nil {
		return &ValidationError{Message: "nil statement"}
	}
	v := &validator{params: stmt.Parameters()}
	switch s := stmt.(type) {
	case *SelectStatement:
		v.selectStatement(s, nil)
	case *UpdateStatement:
		scope := map[*Range]bool{}
		s.Target.Walk(func(r *Range) { scope[r] = true })
		if len(s.Assignments) == 0 {
			v.fail("update without assignments")
		}
		for _, a := range s.Assignments {
			v.expr(a.Target, scope)
			v.expr(a.Value, scope)
		}
		v.pred(s.Where, scope)
	case *DeleteStatement:
		scope := map[*Range]bool{}
		s.Target.Walk(func(r *Range) { scope[r] = true })
		v.pred(s.Where, scope)
	}
	return v.err
}

type validator struct {
	params *ParameterTable
	err    error
}

func (v *validator) fail(format string, args ...any) {
	if v.err == nil {
		v.err = &ValidationError{Message: fmt.Sprintf(format, args...)}
	}
}

func (v *validator) selectStatement(s *SelectStatement, outer map[*Range]bool) {
	if s.Body == nil {
		v.fail("select without body")
		return
	}
	for _, c := range s.CTEs {
		v.selectStatement(c.Query, outer)
	}
	width := v.part(s.Body, outer)
	if width == 0 {
		v.fail("empty selection")
	}
	scope := copyScope(outer)
	for _, r := range s.Body.FirstSpec().From {
		r.Walk(func(r *Range) { scope[r] = true })
	}
	for _, o := range s.OrderBy {
		v.expr(o.Expr, scope)
	}
	v.expr(s.Limit, scope)
	v.expr(s.Offset, scope)
}

// part validates a query part and returns its selection width.
func (v *validator) part(p QueryPart, outer map[*Range]bool) int {
	switch q := p.(type) {
	case *QuerySpec:
		scope := copyScope(outer)
		for _, r := range q.From {
			r.Walk(func(r *Range) { scope[r] = true })
		}
		for _, r := range q.From {
			r.Walk(func(r *Range) {
				v.pred(r.Condition, scope)
				if r.Query != nil {
					inner := scope
					if !r.Lateral {
						inner = outer
					}
					v.selectStatement(r.Query, inner)
				}
			})
		}
		for _, item := range q.Selection {
			v.expr(item.Expr, scope)
		}
		v.pred(q.Where, scope)
		for _, g := range q.GroupBy {
			v.expr(g, scope)
		}
		v.pred(q.Having, scope)
		return len(q.Selection)
	case *SetOperation:
		l, r := v.part(q.Left, outer), v.part(q.Right, outer)
		if l != r {
			v.fail("%s members select %d and %d items", q.Op, l, r)
		}
		return l
	default:
		v.fail("unknown query part %T", p)
		return 0
	}
}

func (v *validator) expr(e Expression, scope map[*Range]bool) {
	if e == nil {
		return
	}
	v.node(e, scope)
}

func (v *validator) pred(p Predicate, scope map[*Range]bool) {
	if p == nil {
		return
	}
	v.node(p, scope)
}

func (v *validator) node(n any, scope map[*Range]bool) {
	Inspect(n, func(n any) bool {
		switch e := n.(type) {
		case *SelectStatement:
			v.selectStatement(e, scope)
			return false
		case *Parameter:
			if v.params == nil || v.params.Lookup(e.Slot.Label()) != e.Slot {
				v.fail("parameter %s is not in the statement's table", e.Slot.Label())
			}
		case *AttributeRef:
			v.inScope(e.Range, scope)
			if len(e.Path) == 0 {
				v.fail("attribute reference on %s without path", e.Range.Label())
			}
		case *EntityRef:
			v.inScope(e.Range, scope)
		case *FKRef:
			v.inScope(e.Range, scope)
			if !e.Attribute.IsOwningToOne() {
				v.fail("%s is not an owning to-one", e.Attribute.Role())
			}
		case *TypeOf:
			v.inScope(e.Range, scope)
		case *DerivedRef:
			v.inScope(e.Range, scope)
			if e.Column < 0 || e.Column >= len(e.Range.Columns) {
				v.fail("column %d out of range for %s", e.Column, e.Range.Label())
			}
		case *TypeRestriction:
			v.inScope(e.Range, scope)
		}
		return true
	})
}

func (v *validator) inScope(r *Range, scope map[*Range]bool) {
	if !scope[r] {
		v.fail("range %s referenced out of scope", r.Label())
	}
}

func copyScope(s map[*Range]bool) map[*Range]bool {
	out := make(map[*Range]bool, len(s))
	for k, val := range s {
		out[k] = val
	}
	return out
}
