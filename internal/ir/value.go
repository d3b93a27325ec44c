package ir

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// IRValue is a sealed interface representing constrained value types.
// Only IRNull, IRString, IRInt, IRBool, IRDecimal, IRTime and IRArray
// implement it.
type IRValue interface {
	irValue() // Sealed - only these types implement it
}

// IRNull represents SQL NULL.
type IRNull struct{}

func (IRNull) irValue() {}

// IRString represents a character value.
type IRString string

func (IRString) irValue() {}

// IRInt represents an integral value. Always int64.
type IRInt int64

func (IRInt) irValue() {}

// IRBool represents a boolean value.
type IRBool bool

func (IRBool) irValue() {}

// IRDecimal represents an exact numeric value. Floats read from a driver are
// converted through their shortest decimal representation.
type IRDecimal struct {
	D decimal.Decimal
}

func (IRDecimal) irValue() {}

// IRTime represents a timestamp. Stored in UTC.
type IRTime struct {
	T time.Time
}

func (IRTime) irValue() {}

// IRArray represents an ordered list of values, used for in-lists and
// composite identifiers.
type IRArray []IRValue

func (IRArray) irValue() {}

// NewIRDecimal parses an exact decimal literal.
func NewIRDecimal(s string) (IRDecimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return IRDecimal{}, fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	return IRDecimal{D: d}, nil
}

// IsNull reports whether v is nil or IRNull.
func IsNull(v IRValue) bool {
	if v == nil {
		return true
	}
	_, ok := v.(IRNull)
	return ok
}

// FromGo converts a Go value (caller parameter or driver column value) into
// an IRValue. Unsupported types are rejected rather than stringified.
func FromGo(v any) (IRValue, error) {
	switch val := v.(type) {
	case nil:
		return IRNull{}, nil
	case IRValue:
		return val, nil
	case string:
		return IRString(val), nil
	case []byte:
		return IRString(string(val)), nil
	case int:
		return IRInt(val), nil
	case int8:
		return IRInt(val), nil
	case int16:
		return IRInt(val), nil
	case int32:
		return IRInt(val), nil
	case int64:
		return IRInt(val), nil
	case uint8:
		return IRInt(val), nil
	case uint16:
		return IRInt(val), nil
	case uint32:
		return IRInt(val), nil
	case uint64:
		if val > math.MaxInt64 {
			return nil, fmt.Errorf("unsigned value %d overflows int64", val)
		}
		return IRInt(val), nil
	case bool:
		return IRBool(val), nil
	case float32:
		return IRDecimal{D: decimal.NewFromFloat32(val)}, nil
	case float64:
		return IRDecimal{D: decimal.NewFromFloat(val)}, nil
	case decimal.Decimal:
		return IRDecimal{D: val}, nil
	case time.Time:
		return IRTime{T: val.UTC()}, nil
	case []any:
		arr := make(IRArray, len(val))
		for i, elem := range val {
			e, err := FromGo(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			arr[i] = e
		}
		return arr, nil
	default:
		return nil, fmt.Errorf("unsupported value type: %T", v)
	}
}

// ToGo converts an IRValue into the value handed to a database driver.
// IRArray has no scalar driver form and is rejected.
func ToGo(v IRValue) (any, error) {
	switch val := v.(type) {
	case nil, IRNull:
		return nil, nil
	case IRString:
		return string(val), nil
	case IRInt:
		return int64(val), nil
	case IRBool:
		return bool(val), nil
	case IRDecimal:
		return val.D.String(), nil
	case IRTime:
		return val.T, nil
	case IRArray:
		return nil, fmt.Errorf("IRArray cannot be used as a SQL parameter directly")
	default:
		return nil, fmt.Errorf("unsupported IRValue type for SQL parameter: %T", v)
	}
}

// Kind returns a short name for the value's type, used in error messages.
func Kind(v IRValue) string {
	switch v.(type) {
	case nil, IRNull:
		return "null"
	case IRString:
		return "string"
	case IRInt:
		return "integer"
	case IRBool:
		return "boolean"
	case IRDecimal:
		return "decimal"
	case IRTime:
		return "timestamp"
	case IRArray:
		return "array"
	default:
		return fmt.Sprintf("%T", v)
	}
}
