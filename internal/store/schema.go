package store

import "strings"

// Schema placeholders accepted in statement text.
const (
	PlaceholderSchema  = "{h-schema}"
	PlaceholderCatalog = "{h-catalog}"
	PlaceholderDomain  = "{h-domain}"
)

// Schema holds the default catalog and schema placeholders resolve to.
type Schema struct {
	Catalog string
	Schema  string
}

// Substitute replaces {h-schema} with "schema.", {h-catalog} with
// "catalog." and {h-domain} with the qualifier made of both, each empty when
// unset. "\{" and "\}" stand for literal braces. Other brace sequences are
// left as they are.
func (s Schema) Substitute(text string) string {
	if !strings.ContainsAny(text, `{\`) {
		return text
	}
	var b strings.Builder
	b.Grow(len(text))
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case c == '\\' && i+1 < len(text) && (text[i+1] == '{' || text[i+1] == '}'):
			b.WriteByte(text[i+1])
			i++
		case c == '{':
			rest := text[i:]
			switch {
			case strings.HasPrefix(rest, PlaceholderSchema):
				b.WriteString(qualifier(s.Schema))
				i += len(PlaceholderSchema) - 1
			case strings.HasPrefix(rest, PlaceholderCatalog):
				b.WriteString(qualifier(s.Catalog))
				i += len(PlaceholderCatalog) - 1
			case strings.HasPrefix(rest, PlaceholderDomain):
				b.WriteString(qualifier(s.Catalog) + qualifier(s.Schema))
				i += len(PlaceholderDomain) - 1
			default:
				b.WriteByte(c)
			}
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func qualifier(name string) string {
	if name == "" {
		return ""
	}
	return name + "."
}
