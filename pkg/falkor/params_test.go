package falkor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderQueryNoParams(t *testing.T) {
	out, err := renderQuery("MATCH (n) RETURN n", nil)
	require.NoError(t, err)
	assert.Equal(t, "MATCH (n) RETURN n", out)
}

func TestRenderQueryPrependsSortedParams(t *testing.T) {
	out, err := renderQuery("MATCH (p:Person {id: $id}) SET p.name = $name", map[string]interface{}{
		"name": "Alice",
		"id":   "p1",
	})
	require.NoError(t, err)
	assert.Equal(t, `CYPHER id="p1" name="Alice" MATCH (p:Person {id: $id}) SET p.name = $name`, out)
}

func TestRenderQueryUnsupportedType(t *testing.T) {
	_, err := renderQuery("RETURN $x", map[string]interface{}{
		"x": struct{ A int }{A: 1},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `parameter "x"`)
}

func TestRenderValue(t *testing.T) {
	tests := []struct {
		name string
		in   interface{}
		want string
	}{
		{"nil", nil, "null"},
		{"bool", true, "true"},
		{"int", 42, "42"},
		{"int64", int64(-7), "-7"},
		{"float", 0.25, "0.25"},
		{"string", "plain", `"plain"`},
		{"string list", []string{"a", "b"}, `["a", "b"]`},
		{"mixed list", []interface{}{"a", 1, nil}, `["a", 1, null]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := renderValue(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestQuoteStringEscapes(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"quotes", `say "hi"`, `"say \"hi\""`},
		{"backslash", `a\b`, `"a\\b"`},
		{"newline", "line1\nline2", `"line1\nline2"`},
		{"carriage return", "a\rb", `"a\rb"`},
		{"unicode untouched", "café 名前", `"café 名前"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, quoteString(tt.in))
		})
	}
}

// Injection shape: a value that tries to close the string and smuggle
// a clause must come back fully quoted.
func TestQuoteStringNeutralizesInjection(t *testing.T) {
	out, err := renderValue(`x" MATCH (n) DETACH DELETE n //`)
	require.NoError(t, err)
	assert.Equal(t, `"x\" MATCH (n) DETACH DELETE n //"`, out)
}
