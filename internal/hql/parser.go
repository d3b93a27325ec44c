package hql

import (
	"fmt"
	"strconv"

	"golang.org/x/text/cases"

	"github.com/roach88/oql/internal/ir"
)

// reserved words cannot be used as implicit aliases or start a path.
var reserved = map[string]bool{
	"select": true, "from": true, "where": true, "group": true, "order": true,
	"having": true, "limit": true, "offset": true, "join": true, "inner": true,
	"left": true, "right": true, "full": true, "cross": true, "outer": true,
	"fetch": true, "lateral": true, "on": true, "with": true, "as": true,
	"and": true, "or": true, "not": true, "is": true, "in": true, "union": true,
	"intersect": true, "except": true, "set": true, "search": true,
	"cycle": true, "when": true, "then": true, "else": true, "end": true,
	"like": true, "between": true, "escape": true, "by": true, "asc": true,
	"desc": true, "nulls": true, "using": true,
}

// Parser parses query text into a syntax tree. A Parser is single use.
type Parser struct {
	input   string
	lexer   *Lexer
	curr    Token
	peek    Token
	fold    cases.Caser
	ordinal int
}

// Parse parses one statement. Grammatical errors are returned as
// *ParseError; no names are resolved.
func Parse(input string) (Statement, error) {
	p := &Parser{input: input, lexer: NewLexer(input), fold: cases.Fold()}
	p.advance()
	p.advance()
	stmt, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	if p.curr.Type != TokenEOF {
		return nil, p.errorf("unexpected %s", p.describe())
	}
	return stmt, nil
}

// ParseQuery parses text that must be a select statement.
func ParseQuery(input string) (*Query, error) {
	stmt, err := Parse(input)
	if err != nil {
		return nil, err
	}
	q, ok := stmt.(*Query)
	if !ok {
		return nil, &ParseError{Pos: 0, Near: nearText(input, 0), Message: "expected a select statement"}
	}
	return q, nil
}

func (p *Parser) advance() {
	p.curr = p.peek
	p.peek = p.lexer.NextToken()
}

func (p *Parser) errorf(format string, args ...any) error {
	if p.curr.Type == TokenError {
		return &ParseError{Pos: p.curr.Pos, Near: nearText(p.input, p.curr.Pos), Message: "invalid token " + strconv.Quote(p.curr.Value)}
	}
	return &ParseError{Pos: p.curr.Pos, Near: nearText(p.input, p.curr.Pos), Message: fmt.Sprintf(format, args...)}
}

func (p *Parser) describe() string {
	if p.curr.Type == TokenIdent || p.curr.Type == TokenError {
		return strconv.Quote(p.curr.Value)
	}
	return p.curr.Type.String()
}

// is reports whether the current token is the keyword kw.
func (p *Parser) is(kw string) bool {
	return p.curr.Type == TokenIdent && p.fold.String(p.curr.Value) == kw
}

func (p *Parser) peekIs(kw string) bool {
	return p.peek.Type == TokenIdent && p.fold.String(p.peek.Value) == kw
}

// accept consumes the keyword kw if present.
func (p *Parser) accept(kw string) bool {
	if p.is(kw) {
		p.advance()
		return true
	}
	return false
}

func (p *Parser) expectKeyword(kw string) error {
	if !p.accept(kw) {
		return p.errorf("expected '%s', got %s", kw, p.describe())
	}
	return nil
}

func (p *Parser) expect(t TokenType) (Token, error) {
	tok := p.curr
	if tok.Type != t {
		return tok, p.errorf("expected %s, got %s", t, p.describe())
	}
	p.advance()
	return tok, nil
}

func (p *Parser) ident() (string, error) {
	tok, err := p.expect(TokenIdent)
	return tok.Value, err
}

// optionalAlias parses "[as] alias".
func (p *Parser) optionalAlias() (string, error) {
	if p.accept("as") {
		return p.ident()
	}
	if p.curr.Type == TokenIdent && !reserved[p.fold.String(p.curr.Value)] {
		name := p.curr.Value
		p.advance()
		return name, nil
	}
	return "", nil
}

func (p *Parser) startsQuery() bool {
	return p.is("select") || p.is("from") || p.is("with")
}

func (p *Parser) parseStatement() (Statement, error) {
	switch {
	case p.is("update"):
		return p.parseUpdate()
	case p.is("delete"):
		return p.parseDelete()
	case p.startsQuery():
		return p.parseQuery()
	default:
		return nil, p.errorf("expected select, from, with, update or delete, got %s", p.describe())
	}
}

func (p *Parser) parseQuery() (*Query, error) {
	q := &Query{Pos: p.curr.Pos}
	if p.accept("with") {
		q.Recursive = p.accept("recursive")
		for {
			cte, err := p.parseCTE()
			if err != nil {
				return nil, err
			}
			q.With = append(q.With, cte)
			if p.curr.Type != TokenComma {
				break
			}
			p.advance()
		}
	}

	body, err := p.parseUnion()
	if err != nil {
		return nil, err
	}
	q.Body = body

	if p.accept("order") {
		if err := p.expectKeyword("by"); err != nil {
			return nil, err
		}
		q.OrderBy, err = p.parseSortList()
		if err != nil {
			return nil, err
		}
	}
	if p.accept("limit") {
		if q.Limit, err = p.parseAdditive(); err != nil {
			return nil, err
		}
	}
	if p.accept("offset") {
		if q.Offset, err = p.parseAdditive(); err != nil {
			return nil, err
		}
		// "offset n rows fetch first m rows only"
		if p.accept("rows") || p.accept("row") {
			if p.accept("fetch") {
				if !p.accept("first") && !p.accept("next") {
					return nil, p.errorf("expected 'first' or 'next'")
				}
				if q.Limit, err = p.parseAdditive(); err != nil {
					return nil, err
				}
				if !p.accept("rows") && !p.accept("row") {
					return nil, p.errorf("expected 'rows'")
				}
				if err := p.expectKeyword("only"); err != nil {
					return nil, err
				}
			}
		}
	}
	return q, nil
}

func (p *Parser) parseCTE() (*CTE, error) {
	cte := &CTE{Pos: p.curr.Pos}
	var err error
	if cte.Name, err = p.ident(); err != nil {
		return nil, err
	}
	if p.curr.Type == TokenLParen {
		p.advance()
		for {
			col, err := p.ident()
			if err != nil {
				return nil, err
			}
			cte.Columns = append(cte.Columns, col)
			if p.curr.Type != TokenComma {
				break
			}
			p.advance()
		}
		if _, err := p.expect(TokenRParen); err != nil {
			return nil, err
		}
	}
	if err := p.expectKeyword("as"); err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenLParen); err != nil {
		return nil, err
	}
	if cte.Query, err = p.parseQuery(); err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenRParen); err != nil {
		return nil, err
	}

	if p.is("search") {
		s := &SearchClause{Pos: p.curr.Pos}
		p.advance()
		switch {
		case p.accept("breadth"):
			s.BreadthFirst = true
		case p.accept("depth"):
		default:
			return nil, p.errorf("expected 'breadth' or 'depth'")
		}
		if err := p.expectKeyword("first"); err != nil {
			return nil, err
		}
		if err := p.expectKeyword("by"); err != nil {
			return nil, err
		}
		if s.By, err = p.parseSortList(); err != nil {
			return nil, err
		}
		if err := p.expectKeyword("set"); err != nil {
			return nil, err
		}
		if s.Set, err = p.ident(); err != nil {
			return nil, err
		}
		cte.Search = s
	}

	if p.is("cycle") {
		c := &CycleClause{Pos: p.curr.Pos}
		p.advance()
		for {
			attr, err := p.ident()
			if err != nil {
				return nil, err
			}
			c.Attributes = append(c.Attributes, attr)
			if p.curr.Type != TokenComma {
				break
			}
			p.advance()
		}
		if err := p.expectKeyword("set"); err != nil {
			return nil, err
		}
		if c.Set, err = p.ident(); err != nil {
			return nil, err
		}
		if p.accept("to") {
			if c.Mark, err = p.parsePrimary(); err != nil {
				return nil, err
			}
			if err := p.expectKeyword("default"); err != nil {
				return nil, err
			}
			if c.Default, err = p.parsePrimary(); err != nil {
				return nil, err
			}
		}
		if p.accept("using") {
			if c.Using, err = p.ident(); err != nil {
				return nil, err
			}
		}
		cte.Cycle = c
	}
	return cte, nil
}

// parseUnion handles union/except, which bind looser than intersect.
func (p *Parser) parseUnion() (QueryBody, error) {
	left, err := p.parseIntersect()
	if err != nil {
		return nil, err
	}
	for p.is("union") || p.is("except") {
		op := Union
		if p.is("except") {
			op = Except
		}
		p.advance()
		all := p.accept("all")
		right, err := p.parseIntersect()
		if err != nil {
			return nil, err
		}
		left = &SetOperation{Op: op, All: all, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseIntersect() (QueryBody, error) {
	left, err := p.parseBodyPrimary()
	if err != nil {
		return nil, err
	}
	for p.accept("intersect") {
		all := p.accept("all")
		right, err := p.parseBodyPrimary()
		if err != nil {
			return nil, err
		}
		left = &SetOperation{Op: Intersect, All: all, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseBodyPrimary() (QueryBody, error) {
	if p.curr.Type == TokenLParen && (p.peekIs("select") || p.peekIs("from")) {
		p.advance()
		body, err := p.parseUnion()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenRParen); err != nil {
			return nil, err
		}
		return body, nil
	}
	return p.parseQuerySpec()
}

func (p *Parser) parseQuerySpec() (*QuerySpec, error) {
	spec := &QuerySpec{Pos: p.curr.Pos}
	var err error
	if p.accept("select") {
		spec.Distinct = p.accept("distinct")
		for {
			item, err := p.parseSelectItem()
			if err != nil {
				return nil, err
			}
			spec.Select = append(spec.Select, item)
			if p.curr.Type != TokenComma {
				break
			}
			p.advance()
		}
	}
	if p.accept("from") {
		for {
			item, err := p.parseFromItem()
			if err != nil {
				return nil, err
			}
			spec.From = append(spec.From, item)
			if p.curr.Type != TokenComma {
				break
			}
			p.advance()
		}
	} else if spec.Select == nil {
		return nil, p.errorf("expected 'select' or 'from', got %s", p.describe())
	}

	if p.accept("where") {
		if spec.Where, err = p.parseExpr(); err != nil {
			return nil, err
		}
	}
	if p.accept("group") {
		if err := p.expectKeyword("by"); err != nil {
			return nil, err
		}
		for {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			spec.GroupBy = append(spec.GroupBy, e)
			if p.curr.Type != TokenComma {
				break
			}
			p.advance()
		}
	}
	if p.accept("having") {
		if spec.Having, err = p.parseExpr(); err != nil {
			return nil, err
		}
	}
	return spec, nil
}

func (p *Parser) parseSelectItem() (*SelectItem, error) {
	e, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	alias, err := p.optionalAlias()
	if err != nil {
		return nil, err
	}
	return &SelectItem{Expr: e, Alias: alias}, nil
}

func (p *Parser) parseSortList() ([]*SortItem, error) {
	var items []*SortItem
	for {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		item := &SortItem{Expr: e}
		if p.accept("desc") || p.accept("descending") {
			item.Desc = true
		} else if !p.accept("asc") {
			p.accept("ascending")
		}
		if p.accept("nulls") {
			switch {
			case p.accept("first"):
				item.Nulls = "first"
			case p.accept("last"):
				item.Nulls = "last"
			default:
				return nil, p.errorf("expected 'first' or 'last'")
			}
		}
		items = append(items, item)
		if p.curr.Type != TokenComma {
			return items, nil
		}
		p.advance()
	}
}

func (p *Parser) parseFromItem() (*FromItem, error) {
	root, err := p.parseSource(false)
	if err != nil {
		return nil, err
	}
	item := &FromItem{Root: root}
	for {
		join, ok, err := p.parseJoin()
		if err != nil {
			return nil, err
		}
		if !ok {
			return item, nil
		}
		item.Joins = append(item.Joins, join)
	}
}

// parseSource parses an entity name, association path (joins only) or a
// parenthesized subquery, each with its alias.
func (p *Parser) parseSource(allowPath bool) (Source, error) {
	pos := p.curr.Pos
	lateral := p.accept("lateral")
	if p.curr.Type == TokenLParen {
		p.advance()
		q, err := p.parseQuery()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenRParen); err != nil {
			return nil, err
		}
		alias, err := p.optionalAlias()
		if err != nil {
			return nil, err
		}
		return &SubquerySource{Query: q, Alias: alias, Lateral: lateral, Pos: pos}, nil
	}
	if lateral {
		return nil, p.errorf("expected '(' after 'lateral'")
	}

	path, err := p.parsePath()
	if err != nil {
		return nil, err
	}
	alias, err := p.optionalAlias()
	if err != nil {
		return nil, err
	}
	if len(path.Segments) == 1 {
		return &EntitySource{Name: path.Segments[0], Alias: alias, Pos: pos}, nil
	}
	if !allowPath {
		return nil, &ParseError{Pos: pos, Near: nearText(p.input, pos), Message: "expected an entity name"}
	}
	return &PathSource{Path: path, Alias: alias}, nil
}

func (p *Parser) parseJoin() (*Join, bool, error) {
	pos := p.curr.Pos
	kind := JoinInner
	switch {
	case p.accept("inner"):
	case p.accept("left"):
		kind = JoinLeft
		p.accept("outer")
	case p.accept("right"):
		kind = JoinRight
		p.accept("outer")
	case p.accept("full"):
		kind = JoinFull
		p.accept("outer")
	case p.accept("cross"):
		kind = JoinCross
	case p.is("join"):
	default:
		return nil, false, nil
	}
	if err := p.expectKeyword("join"); err != nil {
		return nil, false, err
	}
	j := &Join{Kind: kind, Pos: pos}
	j.Fetch = p.accept("fetch")
	target, err := p.parseSource(true)
	if err != nil {
		return nil, false, err
	}
	j.Target = target
	switch {
	case p.accept("on"):
	case p.accept("with"):
		j.With = true
	default:
		return j, true, nil
	}
	if j.Condition, err = p.parseExpr(); err != nil {
		return nil, false, err
	}
	return j, true, nil
}

func (p *Parser) parseUpdate() (*Update, error) {
	u := &Update{Pos: p.curr.Pos}
	p.advance()
	var err error
	if u.Entity, err = p.ident(); err != nil {
		return nil, err
	}
	if u.Alias, err = p.optionalAlias(); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("set"); err != nil {
		return nil, err
	}
	for {
		path, err := p.parsePath()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenEq); err != nil {
			return nil, err
		}
		value, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		u.Assignments = append(u.Assignments, &Assignment{Path: path, Value: value})
		if p.curr.Type != TokenComma {
			break
		}
		p.advance()
	}
	if p.accept("where") {
		if u.Where, err = p.parseExpr(); err != nil {
			return nil, err
		}
	}
	return u, nil
}

func (p *Parser) parseDelete() (*Delete, error) {
	d := &Delete{Pos: p.curr.Pos}
	p.advance()
	p.accept("from")
	var err error
	if d.Entity, err = p.ident(); err != nil {
		return nil, err
	}
	if d.Alias, err = p.optionalAlias(); err != nil {
		return nil, err
	}
	if p.accept("where") {
		if d.Where, err = p.parseExpr(); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func (p *Parser) parsePath() (*Path, error) {
	path := &Path{Pos: p.curr.Pos}
	for {
		seg, err := p.ident()
		if err != nil {
			return nil, err
		}
		path.Segments = append(path.Segments, seg)
		if p.curr.Type != TokenDot {
			return path, nil
		}
		p.advance()
	}
}

func (p *Parser) parseExpr() (Expr, error) {
	return p.parseOr()
}

func (p *Parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.is("or") {
		pos := p.curr.Pos
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &Logical{Op: "or", Left: left, Right: right, Pos: pos}
	}
	return left, nil
}

func (p *Parser) parseAnd() (Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.is("and") {
		pos := p.curr.Pos
		p.advance()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &Logical{Op: "and", Left: left, Right: right, Pos: pos}
	}
	return left, nil
}

func (p *Parser) parseNot() (Expr, error) {
	if p.is("not") && !p.peekIs("exists") {
		pos := p.curr.Pos
		p.advance()
		x, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &Not{X: x, Pos: pos}, nil
	}
	return p.parsePredicate()
}

func (p *Parser) parsePredicate() (Expr, error) {
	pos := p.curr.Pos
	if p.is("exists") || (p.is("not") && p.peekIs("exists")) {
		negate := p.accept("not")
		p.advance()
		q, err := p.parseParenQuery()
		if err != nil {
			return nil, err
		}
		return &Exists{Query: q, Negate: negate, Pos: pos}, nil
	}

	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}

	if p.is("is") {
		pos := p.curr.Pos
		p.advance()
		negate := p.accept("not")
		if err := p.expectKeyword("null"); err != nil {
			return nil, err
		}
		return &IsNull{X: left, Negate: negate, Pos: pos}, nil
	}

	negate := false
	if p.is("not") && (p.peekIs("in") || p.peekIs("between") || p.peekIs("like")) {
		negate = true
		p.advance()
	}
	opPos := p.curr.Pos
	switch {
	case p.accept("between"):
		low, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		if err := p.expectKeyword("and"); err != nil {
			return nil, err
		}
		high, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return &Between{X: left, Low: low, High: high, Negate: negate, Pos: opPos}, nil
	case p.accept("like"):
		pattern, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		like := &Like{X: left, Pattern: pattern, Negate: negate, Pos: opPos}
		if p.accept("escape") {
			if like.Escape, err = p.parsePrimary(); err != nil {
				return nil, err
			}
		}
		return like, nil
	case p.accept("in"):
		return p.parseInTail(left, negate, opPos)
	}

	var op string
	switch p.curr.Type {
	case TokenEq:
		op = "="
	case TokenNe:
		op = "<>"
	case TokenLt:
		op = "<"
	case TokenLe:
		op = "<="
	case TokenGt:
		op = ">"
	case TokenGe:
		op = ">="
	default:
		return left, nil
	}
	p.advance()
	right, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	return &Compare{Op: op, Left: left, Right: right, Pos: opPos}, nil
}

func (p *Parser) parseInTail(left Expr, negate bool, pos int) (Expr, error) {
	in := &In{X: left, Negate: negate, Pos: pos}
	if p.curr.Type == TokenNamed || p.curr.Type == TokenOrdinal {
		param, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		in.List = []Expr{param}
		return in, nil
	}
	if _, err := p.expect(TokenLParen); err != nil {
		return nil, err
	}
	if p.startsQuery() {
		q, err := p.parseQuery()
		if err != nil {
			return nil, err
		}
		in.Subquery = q
	} else if p.curr.Type != TokenRParen {
		for {
			e, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			in.List = append(in.List, e)
			if p.curr.Type != TokenComma {
				break
			}
			p.advance()
		}
	}
	if _, err := p.expect(TokenRParen); err != nil {
		return nil, err
	}
	return in, nil
}

func (p *Parser) parseParenQuery() (*Query, error) {
	if _, err := p.expect(TokenLParen); err != nil {
		return nil, err
	}
	q, err := p.parseQuery()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenRParen); err != nil {
		return nil, err
	}
	return q, nil
}

func (p *Parser) parseAdditive() (Expr, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for {
		var op string
		switch p.curr.Type {
		case TokenPlus:
			op = "+"
		case TokenMinus:
			op = "-"
		case TokenConcat:
			op = "||"
		default:
			return left, nil
		}
		pos := p.curr.Pos
		p.advance()
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: op, Left: left, Right: right, Pos: pos}
	}
}

func (p *Parser) parseMultiplicative() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.curr.Type == TokenStar || p.curr.Type == TokenSlash {
		op, pos := p.curr.Value, p.curr.Pos
		p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: op, Left: left, Right: right, Pos: pos}
	}
	return left, nil
}

func (p *Parser) parseUnary() (Expr, error) {
	switch p.curr.Type {
	case TokenMinus:
		pos := p.curr.Pos
		p.advance()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if lit, ok := x.(*Literal); ok {
			switch v := lit.Value.(type) {
			case ir.IRInt:
				return &Literal{Kind: LitInteger, Value: -v, Pos: pos}, nil
			case ir.IRDecimal:
				return &Literal{Kind: LitDecimal, Value: ir.IRDecimal{D: v.D.Neg()}, Pos: pos}, nil
			}
		}
		return &Unary{Op: "-", X: x, Pos: pos}, nil
	case TokenPlus:
		p.advance()
		return p.parseUnary()
	}
	return p.parsePrimary()
}

func (p *Parser) parsePrimary() (Expr, error) {
	tok := p.curr
	switch tok.Type {
	case TokenString:
		p.advance()
		return &Literal{Kind: LitString, Value: ir.IRString(tok.Value), Pos: tok.Pos}, nil
	case TokenInteger:
		p.advance()
		n, err := strconv.ParseInt(tok.Value, 10, 64)
		if err != nil {
			return nil, &ParseError{Pos: tok.Pos, Near: tok.Value, Message: "integer literal out of range"}
		}
		return &Literal{Kind: LitInteger, Value: ir.IRInt(n), Pos: tok.Pos}, nil
	case TokenDecimal:
		p.advance()
		d, err := ir.NewIRDecimal(tok.Value)
		if err != nil {
			return nil, &ParseError{Pos: tok.Pos, Near: tok.Value, Message: err.Error()}
		}
		return &Literal{Kind: LitDecimal, Value: d, Pos: tok.Pos}, nil
	case TokenNamed:
		p.advance()
		return &Param{Name: tok.Value, Pos: tok.Pos}, nil
	case TokenOrdinal:
		p.advance()
		if tok.Value == "" {
			p.ordinal++
			return &Param{Ordinal: p.ordinal, Pos: tok.Pos}, nil
		}
		n, err := strconv.Atoi(tok.Value)
		if err != nil || n < 1 {
			return nil, &ParseError{Pos: tok.Pos, Near: "?" + tok.Value, Message: "ordinal parameters start at 1"}
		}
		return &Param{Ordinal: n, Pos: tok.Pos}, nil
	case TokenLParen:
		if p.peekIs("select") || p.peekIs("from") || p.peekIs("with") {
			q, err := p.parseParenQuery()
			if err != nil {
				return nil, err
			}
			return &Subquery{Query: q, Pos: tok.Pos}, nil
		}
		p.advance()
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenRParen); err != nil {
			return nil, err
		}
		return e, nil
	case TokenIdent:
		return p.parseIdentPrimary()
	default:
		return nil, p.errorf("unexpected %s", p.describe())
	}
}

func (p *Parser) parseIdentPrimary() (Expr, error) {
	tok := p.curr
	kw := p.fold.String(tok.Value)
	switch kw {
	case "true", "false":
		p.advance()
		return &Literal{Kind: LitBoolean, Value: ir.IRBool(kw == "true"), Pos: tok.Pos}, nil
	case "null":
		p.advance()
		return &Literal{Kind: LitNull, Value: ir.IRNull{}, Pos: tok.Pos}, nil
	case "case":
		return p.parseCase()
	case "new":
		if p.peek.Type == TokenIdent {
			return p.parseNew()
		}
	}

	if p.peek.Type != TokenLParen {
		if reserved[kw] {
			return nil, p.errorf("unexpected keyword %s", p.describe())
		}
		return p.parsePath()
	}

	switch kw {
	case "type":
		p.advance()
		p.advance()
		x, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenRParen); err != nil {
			return nil, err
		}
		return &TypeOf{X: x, Pos: tok.Pos}, nil
	case "treat":
		return p.parseTreat()
	case "element", "elements":
		p.advance()
		p.advance()
		path, err := p.parsePath()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenRParen); err != nil {
			return nil, err
		}
		return &Element{Path: path, Pos: tok.Pos}, nil
	case "cast":
		p.advance()
		p.advance()
		x, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectKeyword("as"); err != nil {
			return nil, err
		}
		typeTok, err := p.expect(TokenIdent)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenRParen); err != nil {
			return nil, err
		}
		target := &Literal{Kind: LitString, Value: ir.IRString(typeTok.Value), Pos: typeTok.Pos}
		return &Func{Name: "cast", Args: []Expr{x, target}, Pos: tok.Pos}, nil
	}
	return p.parseFunc()
}

func (p *Parser) parseFunc() (Expr, error) {
	f := &Func{Name: p.fold.String(p.curr.Value), Pos: p.curr.Pos}
	p.advance()
	p.advance()
	if p.curr.Type == TokenStar {
		f.Star = true
		p.advance()
	} else if p.curr.Type != TokenRParen {
		f.Distinct = p.accept("distinct")
		for {
			arg, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			f.Args = append(f.Args, arg)
			if p.curr.Type != TokenComma {
				break
			}
			p.advance()
		}
	}
	if _, err := p.expect(TokenRParen); err != nil {
		return nil, err
	}
	return f, nil
}

func (p *Parser) parseTreat() (Expr, error) {
	pos := p.curr.Pos
	p.advance()
	p.advance()
	x, err := p.parsePath()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("as"); err != nil {
		return nil, err
	}
	entity, err := p.ident()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenRParen); err != nil {
		return nil, err
	}
	t := &Treat{X: x, Entity: entity, Pos: pos}
	for p.curr.Type == TokenDot {
		p.advance()
		seg, err := p.ident()
		if err != nil {
			return nil, err
		}
		t.Segments = append(t.Segments, seg)
	}
	return t, nil
}

func (p *Parser) parseCase() (Expr, error) {
	c := &Case{Pos: p.curr.Pos}
	p.advance()
	var err error
	if !p.is("when") {
		if c.Operand, err = p.parseAdditive(); err != nil {
			return nil, err
		}
	}
	for p.accept("when") {
		var cond Expr
		if c.Operand != nil {
			cond, err = p.parseAdditive()
		} else {
			cond, err = p.parseExpr()
		}
		if err != nil {
			return nil, err
		}
		if err := p.expectKeyword("then"); err != nil {
			return nil, err
		}
		result, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		c.Whens = append(c.Whens, &When{Cond: cond, Result: result})
	}
	if len(c.Whens) == 0 {
		return nil, p.errorf("case requires at least one when")
	}
	if p.accept("else") {
		if c.Else, err = p.parseExpr(); err != nil {
			return nil, err
		}
	}
	if err := p.expectKeyword("end"); err != nil {
		return nil, err
	}
	return c, nil
}

func (p *Parser) parseNew() (Expr, error) {
	n := &New{Pos: p.curr.Pos}
	p.advance()
	path, err := p.parsePath()
	if err != nil {
		return nil, err
	}
	n.Name = path.Segments[len(path.Segments)-1]
	if _, err := p.expect(TokenLParen); err != nil {
		return nil, err
	}
	for {
		item, err := p.parseSelectItem()
		if err != nil {
			return nil, err
		}
		n.Args = append(n.Args, item)
		if p.curr.Type != TokenComma {
			break
		}
		p.advance()
	}
	if _, err := p.expect(TokenRParen); err != nil {
		return nil, err
	}
	return n, nil
}
