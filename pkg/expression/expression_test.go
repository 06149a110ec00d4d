package expression

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender_PlainString(t *testing.T) {
	out, err := Render("no templating here", nil)
	require.NoError(t, err)
	assert.Equal(t, "no templating here", out)
}

func TestRender_Substitution(t *testing.T) {
	vars := map[string]any{
		"inputs": map[string]any{"name": "kestrel"},
	}

	out, err := Render("hello {{ inputs.name }}!", vars)
	require.NoError(t, err)
	assert.Equal(t, "hello kestrel!", out)
}

func TestRender_MultipleSegments(t *testing.T) {
	vars := map[string]any{"a": 1, "b": 2}

	out, err := Render("{{ a }} + {{ b }} = {{ a + b }}", vars)
	require.NoError(t, err)
	assert.Equal(t, "1 + 2 = 3", out)
}

func TestRender_EvaluationError(t *testing.T) {
	_, err := Render("{{ 1 + }}", nil)
	require.Error(t, err)

	var evalErr *EvaluationError
	assert.ErrorAs(t, err, &evalErr)
}

func TestRenderAny_NativeValue(t *testing.T) {
	vars := map[string]any{"items": []any{"a", "b"}}

	out, err := RenderAny("{{ items }}", vars)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, out)
}

func TestRenderBool(t *testing.T) {
	vars := map[string]any{"count": 3}

	ok, err := RenderBool("{{ count > 2 }}", vars)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = RenderBool("count > 5", vars)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = RenderBool("{{ count }}", vars)
	require.Error(t, err)
}

func TestRenderString(t *testing.T) {
	vars := map[string]any{"kind": "fast"}

	out, err := RenderString("{{ kind }}", vars)
	require.NoError(t, err)
	assert.Equal(t, "fast", out)
}

func TestRenderItems(t *testing.T) {
	vars := map[string]any{"items": []any{"x", "y", "z"}}

	items, err := RenderItems("{{ items }}", vars)
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y", "z"}, items)

	items, err = RenderItems(`["a", "b"]`, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, items)

	items, err = RenderItems("{{ '[\"a\", \"b\"]' }}", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, items)
}

func TestRenderItems_NotAList(t *testing.T) {
	_, err := RenderItems("{{ 42 }}", nil)
	require.Error(t, err)

	var evalErr *EvaluationError
	assert.ErrorAs(t, err, &evalErr)
}
