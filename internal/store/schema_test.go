package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSchema_Substitute(t *testing.T) {
	full := Schema{Catalog: "main", Schema: "app"}
	testCases := []struct {
		name   string
		schema Schema
		in     string
		want   string
	}{
		{"no placeholders", full, "select 1", "select 1"},
		{"schema", full, "select * from {h-schema}person", "select * from app.person"},
		{"catalog", full, "select * from {h-catalog}person", "select * from main.person"},
		{"domain", full, "select * from {h-domain}person", "select * from main.app.person"},
		{"unset", Schema{}, "select * from {h-domain}person", "select * from person"},
		{"schema only domain", Schema{Schema: "app"}, "{h-domain}t", "app.t"},
		{"escaped braces", full, `select '\{h-schema\}' from {h-schema}t`, "select '{h-schema}' from app.t"},
		{"unknown placeholder", full, "select '{x}' from t", "select '{x}' from t"},
		{"lone backslash", full, `select 'a\b'`, `select 'a\b'`},
		{"trailing brace", full, "select {", "select {"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.schema.Substitute(tc.in))
		})
	}
}
