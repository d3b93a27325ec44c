package hql

import (
	"errors"
	"fmt"
)

// ParseError reports malformed query text. Pos is the byte offset of the
// offending token and Near is the text starting there.
type ParseError struct {
	Pos     int
	Near    string
	Message string
}

func (e *ParseError) Error() string {
	if e.Near == "" {
		return fmt.Sprintf("parse error at %d: %s", e.Pos, e.Message)
	}
	return fmt.Sprintf("parse error at %d near %q: %s", e.Pos, e.Near, e.Message)
}

// IsParseError reports whether err is or wraps a *ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// nearText returns up to 20 bytes of input starting at pos.
func nearText(input string, pos int) string {
	if pos >= len(input) {
		return ""
	}
	end := pos + 20
	if end > len(input) {
		end = len(input)
	}
	return input[pos:end]
}
