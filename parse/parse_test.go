package parse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObject(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		ok   bool
	}{
		{"plain", `{"a": 1}`, true},
		{"fenced", "```json\n{\"a\": 1}\n```", true},
		{"prose around", `Claro, aquí está: {"a": 1} espero que sirva`, true},
		{"two objects", `first {"a": 1} then {"b": 2}`, true},
		{"braces in string", `note {"a": 1, "s": "x } y"} end }`, true},
		{"invalid", `this is not json at all`, false},
		{"broken", `{"a": 1,`, false},
		{"empty", ``, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			obj, ok := Object(tc.raw)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				require.NotNil(t, obj)
				assert.EqualValues(t, 1, obj["a"])
			} else {
				assert.Nil(t, obj)
			}
		})
	}
}

func TestObjectBalancedScanAfterGreedyFailure(t *testing.T) {
	// The greedy span covers both objects and is not valid JSON; the scan
	// must still find the first balanced object.
	obj, ok := Object(`{"a": 1} and also {"b": 2}`)
	require.True(t, ok)
	assert.EqualValues(t, 1, obj["a"])
}

func TestStringArray(t *testing.T) {
	assert.Equal(t, []string{"x", "y"}, StringArray(`["x", " ", "y"]`))
	assert.Equal(t, []string{"x"}, StringArray("```json\n{\"inferences\": [\"x\"]}\n```"))
	assert.Equal(t, []string{}, StringArray(`{"answer": "nope"}`))
	assert.Equal(t, []string{}, StringArray(`nothing here`))
	assert.Equal(t, []string{}, StringArray(``))
}

func TestCoercion(t *testing.T) {
	assert.Equal(t, "3", String(float64(3)))
	assert.Equal(t, "2.5", String(2.5))
	assert.Equal(t, "gatos", String("  gatos "))
	assert.Equal(t, "", String(nil))
	assert.Equal(t, 0.7, Float("0.7", 0.1))
	assert.Equal(t, 0.1, Float("high", 0.1))
	assert.Equal(t, 0.1, Float(nil, 0.1))
	assert.True(t, Bool("true"))
	assert.False(t, Bool(1))
	assert.Equal(t, []any{}, List("not a list"))
	assert.Nil(t, Map([]any{}))
	assert.Equal(t, map[string]string{"rex": "perro", "n": "2"}, StringMap(map[string]any{"rex": "perro", "n": 2.0, "x": ""}))
	assert.Equal(t, "pets", OneOf("Pets", []string{"pets", "work"}, "other"))
	assert.Equal(t, "other", OneOf("cars", []string{"pets", "work"}, "other"))
}
