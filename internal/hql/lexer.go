package hql

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// TokenType represents the type of a lexer token.
type TokenType int

const (
	TokenEOF     TokenType = iota
	TokenIdent             // identifiers and keywords
	TokenString            // 'quoted'
	TokenInteger           // 42
	TokenDecimal           // 4.2
	TokenNamed             // :name
	TokenOrdinal           // ?1 or ?
	TokenLParen            // (
	TokenRParen            // )
	TokenComma             // ,
	TokenDot               // .
	TokenStar              // *
	TokenPlus              // +
	TokenMinus             // -
	TokenSlash             // /
	TokenConcat            // ||
	TokenEq                // =
	TokenNe                // <> or !=
	TokenLt                // <
	TokenLe                // <=
	TokenGt                // >
	TokenGe                // >=
	TokenError
)

var tokenNames = map[TokenType]string{
	TokenEOF:     "end of input",
	TokenIdent:   "identifier",
	TokenString:  "string",
	TokenInteger: "integer",
	TokenDecimal: "decimal",
	TokenNamed:   "named parameter",
	TokenOrdinal: "ordinal parameter",
	TokenLParen:  "'('",
	TokenRParen:  "')'",
	TokenComma:   "','",
	TokenDot:     "'.'",
	TokenStar:    "'*'",
	TokenPlus:    "'+'",
	TokenMinus:   "'-'",
	TokenSlash:   "'/'",
	TokenConcat:  "'||'",
	TokenEq:      "'='",
	TokenNe:      "'<>'",
	TokenLt:      "'<'",
	TokenLe:      "'<='",
	TokenGt:      "'>'",
	TokenGe:      "'>='",
	TokenError:   "invalid character",
}

func (t TokenType) String() string {
	if n, ok := tokenNames[t]; ok {
		return n
	}
	return "unknown"
}

// Token represents a lexer token. Pos is the byte offset in the input.
type Token struct {
	Type  TokenType
	Value string
	Pos   int
}

// Lexer tokenizes query text.
type Lexer struct {
	input string
	pos   int
}

// NewLexer creates a new lexer for the given input.
func NewLexer(input string) *Lexer {
	return &Lexer{input: input}
}

// NextToken returns the next token from the input.
func (l *Lexer) NextToken() Token {
	l.skipWhitespace()
	if l.pos >= len(l.input) {
		return Token{Type: TokenEOF, Pos: l.pos}
	}

	start := l.pos
	ch := l.input[l.pos]
	single := func(t TokenType) Token {
		l.pos++
		return Token{Type: t, Value: l.input[start:l.pos], Pos: start}
	}

	switch ch {
	case '(':
		return single(TokenLParen)
	case ')':
		return single(TokenRParen)
	case ',':
		return single(TokenComma)
	case '.':
		if l.pos+1 < len(l.input) && isDigit(l.input[l.pos+1]) {
			return l.scanNumber()
		}
		return single(TokenDot)
	case '*':
		return single(TokenStar)
	case '+':
		return single(TokenPlus)
	case '-':
		return single(TokenMinus)
	case '/':
		return single(TokenSlash)
	case '=':
		return single(TokenEq)
	case '|':
		if l.peekByte(1) == '|' {
			l.pos += 2
			return Token{Type: TokenConcat, Value: "||", Pos: start}
		}
		return single(TokenError)
	case '!':
		if l.peekByte(1) == '=' {
			l.pos += 2
			return Token{Type: TokenNe, Value: "!=", Pos: start}
		}
		return single(TokenError)
	case '<':
		switch l.peekByte(1) {
		case '>':
			l.pos += 2
			return Token{Type: TokenNe, Value: "<>", Pos: start}
		case '=':
			l.pos += 2
			return Token{Type: TokenLe, Value: "<=", Pos: start}
		}
		return single(TokenLt)
	case '>':
		if l.peekByte(1) == '=' {
			l.pos += 2
			return Token{Type: TokenGe, Value: ">=", Pos: start}
		}
		return single(TokenGt)
	case '\'':
		return l.scanString()
	case ':':
		l.pos++
		name := l.scanWord()
		if name == "" {
			return Token{Type: TokenError, Value: ":", Pos: start}
		}
		return Token{Type: TokenNamed, Value: name, Pos: start}
	case '?':
		l.pos++
		for l.pos < len(l.input) && isDigit(l.input[l.pos]) {
			l.pos++
		}
		return Token{Type: TokenOrdinal, Value: l.input[start+1 : l.pos], Pos: start}
	}

	if isDigit(ch) {
		return l.scanNumber()
	}
	if word := l.scanWord(); word != "" {
		return Token{Type: TokenIdent, Value: word, Pos: start}
	}
	_, size := utf8.DecodeRuneInString(l.input[l.pos:])
	l.pos += size
	return Token{Type: TokenError, Value: l.input[start:l.pos], Pos: start}
}

func (l *Lexer) peekByte(off int) byte {
	if l.pos+off < len(l.input) {
		return l.input[l.pos+off]
	}
	return 0
}

func (l *Lexer) skipWhitespace() {
	for l.pos < len(l.input) {
		r, size := utf8.DecodeRuneInString(l.input[l.pos:])
		if !unicode.IsSpace(r) {
			return
		}
		l.pos += size
	}
}

// scanWord consumes a letter or underscore followed by letters, digits,
// underscores or '$'.
func (l *Lexer) scanWord() string {
	start := l.pos
	for l.pos < len(l.input) {
		r, size := utf8.DecodeRuneInString(l.input[l.pos:])
		if l.pos == start && !(unicode.IsLetter(r) || r == '_') {
			break
		}
		if !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '$') {
			break
		}
		l.pos += size
	}
	return l.input[start:l.pos]
}

func (l *Lexer) scanNumber() Token {
	start := l.pos
	typ := TokenInteger
	for l.pos < len(l.input) && isDigit(l.input[l.pos]) {
		l.pos++
	}
	if l.pos < len(l.input) && l.input[l.pos] == '.' && l.pos+1 < len(l.input) && isDigit(l.input[l.pos+1]) {
		typ = TokenDecimal
		l.pos++
		for l.pos < len(l.input) && isDigit(l.input[l.pos]) {
			l.pos++
		}
	}
	// Integer-width suffixes are accepted and dropped.
	if typ == TokenInteger && l.pos < len(l.input) && (l.input[l.pos] == 'L' || l.input[l.pos] == 'l') {
		l.pos++
		return Token{Type: typ, Value: l.input[start : l.pos-1], Pos: start}
	}
	return Token{Type: typ, Value: l.input[start:l.pos], Pos: start}
}

// scanString consumes a single-quoted literal; '' is an escaped quote.
func (l *Lexer) scanString() Token {
	start := l.pos
	l.pos++
	var b strings.Builder
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		if ch == '\'' {
			if l.peekByte(1) == '\'' {
				b.WriteByte('\'')
				l.pos += 2
				continue
			}
			l.pos++
			return Token{Type: TokenString, Value: b.String(), Pos: start}
		}
		b.WriteByte(ch)
		l.pos++
	}
	return Token{Type: TokenError, Value: "unterminated string", Pos: start}
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}
