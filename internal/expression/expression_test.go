package expression

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateBool(t *testing.T) {
	e := New()

	tests := []struct {
		name string
		expr string
		vars map[string]any
		want bool
	}{
		{"int below", "foo < 5", map[string]any{"foo": 3}, true},
		{"int range miss", "foo >= 5 && foo < 10", map[string]any{"foo": 12}, false},
		{"int range hit", "foo >= 5 && foo < 10", map[string]any{"foo": 7}, true},
		{"decoded float", "foo >= 5 && foo < 10", map[string]any{"foo": 7.0}, true},
		{"string equality", `status == "open"`, map[string]any{"status": "open"}, true},
		{"nested", "order.total > 100", map[string]any{"order": map[string]any{"total": 150}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.EvaluateBool(tt.expr, tt.vars)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateBool_Errors(t *testing.T) {
	e := New()

	tests := []struct {
		name string
		expr string
		vars map[string]any
	}{
		{"missing variable", "foo < 5", nil},
		{"type mismatch", "foo < 5", map[string]any{"foo": "bar"}},
		{"not boolean", "foo + 1", map[string]any{"foo": 1}},
		{"syntax", "foo <", map[string]any{"foo": 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.EvaluateBool(tt.expr, tt.vars)
			require.Error(t, err)
			var evalErr *EvalError
			assert.ErrorAs(t, err, &evalErr)
			assert.Equal(t, tt.expr, evalErr.Expression)
		})
	}
}

func TestLookup(t *testing.T) {
	vars := map[string]any{
		"foo":   1,
		"order": map[string]any{"id": "o-1"},
	}

	v, err := Lookup(vars, "order.id")
	require.NoError(t, err)
	assert.Equal(t, "o-1", v)

	_, err = Lookup(vars, "bar")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoData))
	assert.Equal(t, "No data found for query bar.", err.Error())

	_, err = Lookup(vars, "foo.x")
	assert.ErrorIs(t, err, ErrNoData)
}

func TestLookupString(t *testing.T) {
	vars := map[string]any{"s": "abc", "n": 42.0, "i": 7, "obj": map[string]any{}}

	s, err := LookupString(vars, "s")
	require.NoError(t, err)
	assert.Equal(t, "abc", s)

	s, err = LookupString(vars, "n")
	require.NoError(t, err)
	assert.Equal(t, "42", s)

	s, err = LookupString(vars, "i")
	require.NoError(t, err)
	assert.Equal(t, "7", s)

	_, err = LookupString(vars, "obj")
	assert.Error(t, err)

	_, err = LookupString(vars, "missing")
	assert.ErrorIs(t, err, ErrNoData)
}
