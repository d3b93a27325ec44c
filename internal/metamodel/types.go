package metamodel

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// BasicType is the logical type of a basic (column-valued) attribute.
type BasicType int

const (
	TypeUnknown BasicType = iota
	TypeString
	TypeInteger
	TypeDecimal
	TypeDouble
	TypeBoolean
	TypeTimestamp
)

var basicTypeNames = map[BasicType]string{
	TypeUnknown:   "unknown",
	TypeString:    "string",
	TypeInteger:   "integer",
	TypeDecimal:   "decimal",
	TypeDouble:    "double",
	TypeBoolean:   "boolean",
	TypeTimestamp: "timestamp",
}

func (t BasicType) String() string {
	if n, ok := basicTypeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("BasicType(%d)", int(t))
}

// ParseBasicType maps a type name from a mapping definition to a BasicType.
func ParseBasicType(name string) (BasicType, error) {
	switch strings.ToLower(name) {
	case "string", "text", "varchar":
		return TypeString, nil
	case "long", "int", "integer", "short", "byte":
		return TypeInteger, nil
	case "decimal", "bigdecimal", "numeric":
		return TypeDecimal, nil
	case "double", "float", "real":
		return TypeDouble, nil
	case "boolean", "bool":
		return TypeBoolean, nil
	case "timestamp", "date", "datetime", "instant":
		return TypeTimestamp, nil
	default:
		return TypeUnknown, fmt.Errorf("unknown basic type %q", name)
	}
}

// IsNumeric reports whether values of t participate in arithmetic.
func (t BasicType) IsNumeric() bool {
	return t == TypeInteger || t == TypeDecimal || t == TypeDouble
}

// Comparable reports whether values of t and u may be compared with each
// other. Unknown types (untyped parameters, null) compare with anything.
func (t BasicType) Comparable(u BasicType) bool {
	if t == TypeUnknown || u == TypeUnknown || t == u {
		return true
	}
	return t.IsNumeric() && u.IsNumeric()
}

// Widen returns the type of an arithmetic expression combining t and u.
func (t BasicType) Widen(u BasicType) BasicType {
	switch {
	case t == u:
		return t
	case t == TypeUnknown:
		return u
	case u == TypeUnknown:
		return t
	case t == TypeDouble || u == TypeDouble:
		return TypeDouble
	case t == TypeDecimal || u == TypeDecimal:
		return TypeDecimal
	default:
		return t
	}
}

// timestampLayouts are the textual forms drivers without a native timestamp
// type (sqlite) hand back.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Convert coerces a raw driver value into the Go representation of t:
// string, int64, decimal.Decimal, float64, bool or time.Time. nil stays nil.
func (t BasicType) Convert(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case TypeString:
		switch val := v.(type) {
		case string:
			return val, nil
		case []byte:
			return string(val), nil
		default:
			return fmt.Sprint(val), nil
		}
	case TypeInteger:
		switch val := v.(type) {
		case int64:
			return val, nil
		case int:
			return int64(val), nil
		case int32:
			return int64(val), nil
		case float64:
			return int64(val), nil
		case bool:
			if val {
				return int64(1), nil
			}
			return int64(0), nil
		case []byte:
			return strconv.ParseInt(string(val), 10, 64)
		case string:
			return strconv.ParseInt(val, 10, 64)
		}
	case TypeDecimal:
		switch val := v.(type) {
		case decimal.Decimal:
			return val, nil
		case int64:
			return decimal.NewFromInt(val), nil
		case int:
			return decimal.NewFromInt(int64(val)), nil
		case float64:
			return decimal.NewFromFloat(val), nil
		case []byte:
			return decimal.NewFromString(string(val))
		case string:
			return decimal.NewFromString(val)
		}
	case TypeDouble:
		switch val := v.(type) {
		case float64:
			return val, nil
		case float32:
			return float64(val), nil
		case int64:
			return float64(val), nil
		case int:
			return float64(val), nil
		case []byte:
			return strconv.ParseFloat(string(val), 64)
		case string:
			return strconv.ParseFloat(val, 64)
		}
	case TypeBoolean:
		switch val := v.(type) {
		case bool:
			return val, nil
		case int64:
			return val != 0, nil
		case int:
			return val != 0, nil
		case []byte:
			return strconv.ParseBool(string(val))
		case string:
			return strconv.ParseBool(val)
		}
	case TypeTimestamp:
		switch val := v.(type) {
		case time.Time:
			return val, nil
		case []byte:
			return parseTimestamp(string(val))
		case string:
			return parseTimestamp(val)
		case int64:
			return time.Unix(val, 0).UTC(), nil
		}
	case TypeUnknown:
		return v, nil
	}
	return nil, fmt.Errorf("cannot convert %T to %s", v, t)
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// AttributeKind classifies an attribute.
type AttributeKind int

const (
	KindBasic AttributeKind = iota
	KindEmbedded
	KindToOne
	KindToMany
)

func (k AttributeKind) String() string {
	switch k {
	case KindEmbedded:
		return "embedded"
	case KindToOne:
		return "to-one"
	case KindToMany:
		return "to-many"
	default:
		return "basic"
	}
}

// IsAssociation reports whether k refers to another entity.
func (k AttributeKind) IsAssociation() bool {
	return k == KindToOne || k == KindToMany
}

// FetchStrategy controls when and how an association's data is loaded
// relative to its owner.
type FetchStrategy int

const (
	// FetchLazy defers loading until first access, one statement per owner.
	FetchLazy FetchStrategy = iota
	// FetchJoin loads the association in the owner's statement with a join.
	FetchJoin
	// FetchSubselect loads the collections of every owner returned by a
	// query with one statement that reuses the owning query as a subquery.
	FetchSubselect
	// FetchBatch defers loading and, on first access, loads up to BatchSize
	// pending owners with one in-list statement.
	FetchBatch
)

func (f FetchStrategy) String() string {
	switch f {
	case FetchJoin:
		return "join"
	case FetchSubselect:
		return "subselect"
	case FetchBatch:
		return "batch"
	default:
		return "lazy"
	}
}

// ParseFetchStrategy maps a fetch name from a mapping definition.
func ParseFetchStrategy(name string) (FetchStrategy, error) {
	switch strings.ToLower(name) {
	case "", "lazy", "select":
		return FetchLazy, nil
	case "join", "eager":
		return FetchJoin, nil
	case "subselect":
		return FetchSubselect, nil
	case "batch":
		return FetchBatch, nil
	default:
		return FetchLazy, fmt.Errorf("unknown fetch strategy %q", name)
	}
}

// CollectionKind is the semantic of a to-many attribute.
type CollectionKind int

const (
	CollectionBag CollectionKind = iota
	CollectionSet
	CollectionList
)

func (c CollectionKind) String() string {
	switch c {
	case CollectionSet:
		return "set"
	case CollectionList:
		return "list"
	default:
		return "bag"
	}
}

// ParseCollectionKind maps a collection name from a mapping definition.
func ParseCollectionKind(name string) (CollectionKind, error) {
	switch strings.ToLower(name) {
	case "", "bag":
		return CollectionBag, nil
	case "set":
		return CollectionSet, nil
	case "list":
		return CollectionList, nil
	default:
		return CollectionBag, fmt.Errorf("unknown collection kind %q", name)
	}
}

// InheritanceStrategy is how a hierarchy is laid out in tables.
type InheritanceStrategy int

const (
	// SingleTable stores the whole hierarchy in the root table and tells
	// subtypes apart with a discriminator column.
	SingleTable InheritanceStrategy = iota
	// Joined stores each subtype's declared attributes in its own table
	// sharing the root's primary key.
	Joined
)

func (s InheritanceStrategy) String() string {
	if s == Joined {
		return "joined"
	}
	return "single-table"
}

// ParseInheritanceStrategy maps an inheritance name from a mapping definition.
func ParseInheritanceStrategy(name string) (InheritanceStrategy, error) {
	switch strings.ToLower(name) {
	case "", "single-table", "single_table", "singletable":
		return SingleTable, nil
	case "joined":
		return Joined, nil
	default:
		return SingleTable, fmt.Errorf("unknown inheritance strategy %q", name)
	}
}
