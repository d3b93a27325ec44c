package ir

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIRValueSealed(t *testing.T) {
	var _ IRValue = IRNull{}
	var _ IRValue = IRString("test")
	var _ IRValue = IRInt(42)
	var _ IRValue = IRBool(true)
	var _ IRValue = IRDecimal{D: decimal.RequireFromString("1.5")}
	var _ IRValue = IRTime{T: time.Unix(0, 0)}
	var _ IRValue = IRArray{IRString("a"), IRInt(1)}
}

func TestFromGo(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.FixedZone("X", 3600))

	tests := []struct {
		name     string
		input    any
		expected IRValue
	}{
		{"nil", nil, IRNull{}},
		{"string", "abc", IRString("abc")},
		{"bytes", []byte("abc"), IRString("abc")},
		{"int", 7, IRInt(7)},
		{"int32", int32(7), IRInt(7)},
		{"int64", int64(-7), IRInt(-7)},
		{"bool", true, IRBool(true)},
		{"float64", 1.25, IRDecimal{D: decimal.NewFromFloat(1.25)}},
		{"time normalized to utc", ts, IRTime{T: ts.UTC()}},
		{"array", []any{1, "x"}, IRArray{IRInt(1), IRString("x")}},
		{"passthrough", IRInt(3), IRInt(3)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromGo(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestFromGo_Unsupported(t *testing.T) {
	_, err := FromGo(struct{}{})
	assert.Error(t, err)

	_, err = FromGo(uint64(1 << 63))
	assert.Error(t, err)
}

func TestToGo(t *testing.T) {
	v, err := ToGo(IRInt(5))
	require.NoError(t, err)
	assert.Equal(t, int64(5), v)

	v, err = ToGo(IRNull{})
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = ToGo(IRDecimal{D: decimal.RequireFromString("2.50")})
	require.NoError(t, err)
	assert.Equal(t, "2.5", v)

	_, err = ToGo(IRArray{IRInt(1)})
	assert.Error(t, err)
}

func TestIsNull(t *testing.T) {
	assert.True(t, IsNull(nil))
	assert.True(t, IsNull(IRNull{}))
	assert.False(t, IsNull(IRInt(0)))
}

func TestKind(t *testing.T) {
	assert.Equal(t, "integer", Kind(IRInt(1)))
	assert.Equal(t, "null", Kind(nil))
	assert.Equal(t, "array", Kind(IRArray{}))
}
