// Package dialect describes the SQL capabilities of the supported back ends.
// Lowering consults a Dialect for shape decisions (lateral joins, native
// search/cycle, in-list limits) and the renderer for spelling (placeholders,
// paging, concatenation, cast type names).
package dialect

import (
	"fmt"
	"sort"
	"strconv"

	"golang.org/x/text/cases"

	"github.com/roach88/oql/internal/metamodel"
)

// PlaceholderStyle is how bind markers are spelled.
type PlaceholderStyle int

const (
	// Question renders "?" for every marker.
	Question PlaceholderStyle = iota
	// Dollar renders "$1", "$2", ...
	Dollar
	// AtP renders "@p1", "@p2", ...
	AtP
)

// LimitStyle is how paging is spelled.
type LimitStyle int

const (
	// LimitOffset renders "limit n offset m"; offset alone is allowed.
	LimitOffset LimitStyle = iota
	// LimitRequired renders "limit n offset m" and needs a limit whenever an
	// offset is present; NoLimit is used as the unbounded limit.
	LimitRequired
	// OffsetFetch renders "offset m rows fetch next n rows only" and needs
	// an order by.
	OffsetFetch
)

// ConcatStyle is how string concatenation is spelled.
type ConcatStyle int

const (
	ConcatPipes ConcatStyle = iota
	ConcatFunction
	ConcatPlus
)

// PadStyle is how zero padding of text is spelled.
type PadStyle int

const (
	// PadLpad uses lpad(x, n, '0').
	PadLpad PadStyle = iota
	// PadSubstr uses substr('000…' || x, -n, n).
	PadSubstr
	// PadRight uses right(replicate('0', n) + x, n).
	PadRight
)

// Dialect is an immutable capability description. Use With* to derive a
// tuned copy.
type Dialect struct {
	Name string

	// MaxInListSize caps the placeholders of one in-list; 0 is unbounded.
	MaxInListSize int
	// InList splits and pads dynamic in-lists.
	InList InListPolicy

	SupportsLateral bool
	// RecursiveKeyword reports whether recursive CTEs need "with recursive".
	RecursiveKeyword bool
	SupportsRecursiveCTE bool
	// SupportsSearchCycle reports native search and cycle clauses.
	SupportsSearchCycle bool
	SupportsFullJoin    bool
	// SupportsRowValues reports "(a, b) = (c, d)" and "(a, b) in (select ...)".
	SupportsRowValues bool
	// DMLSubqueryNeedsDerived reports that a DML statement cannot read its
	// target table in a subquery unless the subquery is wrapped in a derived
	// table.
	DMLSubqueryNeedsDerived bool
	// BooleanLiterals reports true/false keywords; otherwise 1 and 0.
	BooleanLiterals bool
	// SupportsNullsOrdering reports "nulls first|last" in order by.
	SupportsNullsOrdering bool

	Placeholder PlaceholderStyle
	Limit       LimitStyle
	NoLimit     string
	Concat      ConcatStyle
	Pad         PadStyle

	castNames map[metamodel.BasicType]string
}

// CastType returns the type name a cast to t renders.
func (d *Dialect) CastType(t metamodel.BasicType) string {
	if n, ok := d.castNames[t]; ok {
		return n
	}
	return defaultCastNames[t]
}

// Marker returns the n-th (1-based) bind marker.
func (d *Dialect) Marker(n int) string {
	switch d.Placeholder {
	case Dollar:
		return "$" + strconv.Itoa(n)
	case AtP:
		return "@p" + strconv.Itoa(n)
	default:
		return "?"
	}
}

// WithMaxInListSize returns a copy with a different in-list cap.
func (d *Dialect) WithMaxInListSize(n int) *Dialect {
	c := *d
	c.MaxInListSize = n
	return &c
}

// WithInListPolicy returns a copy with a different in-list policy.
func (d *Dialect) WithInListPolicy(p InListPolicy) *Dialect {
	c := *d
	c.InList = p
	return &c
}

func (d *Dialect) String() string { return d.Name }

var defaultCastNames = map[metamodel.BasicType]string{
	metamodel.TypeString:    "varchar",
	metamodel.TypeInteger:   "bigint",
	metamodel.TypeDecimal:   "decimal(38,10)",
	metamodel.TypeDouble:    "double precision",
	metamodel.TypeBoolean:   "boolean",
	metamodel.TypeTimestamp: "timestamp",
}

// SQLite is SQLite 3.35 or later.
var SQLite = &Dialect{
	Name:                  "sqlite",
	MaxInListSize:         0,
	InList:                PaddedInList{},
	RecursiveKeyword:      true,
	SupportsRecursiveCTE:  true,
	SupportsFullJoin:      true,
	SupportsRowValues:     true,
	BooleanLiterals:       true,
	SupportsNullsOrdering: true,
	Limit:                 LimitRequired,
	NoLimit:               "-1",
	Concat:                ConcatPipes,
	Pad:                   PadSubstr,
	castNames: map[metamodel.BasicType]string{
		metamodel.TypeString:    "text",
		metamodel.TypeInteger:   "integer",
		metamodel.TypeDecimal:   "numeric",
		metamodel.TypeDouble:    "real",
		metamodel.TypeBoolean:   "integer",
		metamodel.TypeTimestamp: "text",
	},
}

// MySQL is MySQL 8.0.14 or later.
var MySQL = &Dialect{
	Name:                    "mysql",
	InList:                  PaddedInList{},
	SupportsLateral:         true,
	RecursiveKeyword:        true,
	SupportsRecursiveCTE:    true,
	SupportsRowValues:       true,
	DMLSubqueryNeedsDerived: true,
	BooleanLiterals:         true,
	Limit:                   LimitRequired,
	NoLimit:                 "18446744073709551615",
	Concat:                  ConcatFunction,
	Pad:                     PadLpad,
	castNames: map[metamodel.BasicType]string{
		metamodel.TypeString:    "char",
		metamodel.TypeInteger:   "signed",
		metamodel.TypeDouble:    "double",
		metamodel.TypeBoolean:   "unsigned",
		metamodel.TypeTimestamp: "datetime",
	},
}

// PostgreSQL is PostgreSQL 14 or later.
var PostgreSQL = &Dialect{
	Name:                  "postgresql",
	InList:                PaddedInList{},
	SupportsLateral:       true,
	RecursiveKeyword:      true,
	SupportsRecursiveCTE:  true,
	SupportsSearchCycle:   true,
	SupportsFullJoin:      true,
	SupportsRowValues:     true,
	BooleanLiterals:       true,
	SupportsNullsOrdering: true,
	Placeholder:           Dollar,
	Limit:                 LimitOffset,
	Concat:                ConcatPipes,
	Pad:                   PadLpad,
}

// H2 is H2 2.x.
var H2 = &Dialect{
	Name:                  "h2",
	InList:                PaddedInList{},
	SupportsLateral:       true,
	RecursiveKeyword:      true,
	SupportsRecursiveCTE:  true,
	SupportsFullJoin:      true,
	SupportsRowValues:     true,
	BooleanLiterals:       true,
	SupportsNullsOrdering: true,
	Limit:                 LimitOffset,
	Concat:                ConcatPipes,
	Pad:                   PadLpad,
}

// SQLServer is SQL Server 2017 or later.
var SQLServer = &Dialect{
	Name:                 "sqlserver",
	MaxInListSize:        2048,
	InList:               PaddedInList{},
	SupportsLateral:      false,
	SupportsRecursiveCTE: true,
	SupportsFullJoin:     true,
	Placeholder:          AtP,
	Limit:                OffsetFetch,
	Concat:               ConcatPlus,
	Pad:                  PadRight,
	castNames: map[metamodel.BasicType]string{
		metamodel.TypeString:    "varchar(max)",
		metamodel.TypeDouble:    "float",
		metamodel.TypeBoolean:   "bit",
		metamodel.TypeTimestamp: "datetime2",
	},
}

var registry = map[string]*Dialect{
	SQLite.Name:     SQLite,
	MySQL.Name:      MySQL,
	PostgreSQL.Name: PostgreSQL,
	H2.Name:         H2,
	SQLServer.Name:  SQLServer,
}

var aliases = map[string]string{
	"sqlite3":  "sqlite",
	"postgres": "postgresql",
	"pg":       "postgresql",
	"mssql":    "sqlserver",
}

// Lookup returns the named dialect. Names are case-insensitive.
func Lookup(name string) (*Dialect, error) {
	key := cases.Fold().String(name)
	if a, ok := aliases[key]; ok {
		key = a
	}
	if d, ok := registry[key]; ok {
		return d, nil
	}
	return nil, fmt.Errorf("unknown dialect %q (known: %v)", name, Names())
}

// Names lists the registered dialects in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
