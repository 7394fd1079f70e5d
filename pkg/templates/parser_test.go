package templates

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderString_Substitution(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		src  string
		data map[string]any
		want string
	}{
		{
			name: "simple substitution",
			src:  "Hello {{name}}!",
			data: map[string]any{"name": "Ana"},
			want: "Hello Ana!",
		},
		{
			name: "dotted key resolves nested map",
			src:  "Hi {{user.firstName}}",
			data: map[string]any{"user": map[string]any{"firstName": "Ana"}},
			want: "Hi Ana",
		},
		{
			name: "flat key with dots wins over traversal",
			src:  "{{user.name}}",
			data: map[string]any{"user.name": "flat", "user": map[string]any{"name": "nested"}},
			want: "flat",
		},
		{
			name: "unresolved key stays literal",
			src:  "Value: {{missing}}",
			data: map[string]any{},
			want: "Value: {{missing}}",
		},
		{
			name: "number formatting",
			src:  "Score: {{score}}",
			data: map[string]any{"score": 42},
			want: "Score: 42",
		},
		{
			name: "unterminated tag stays literal",
			src:  "broken {{name",
			data: map[string]any{"name": "x"},
			want: "broken {{name",
		},
		{
			name: "no tags at all",
			src:  "plain text",
			data: nil,
			want: "plain text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := RenderString(tt.src, tt.data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRenderString_Conditionals(t *testing.T) {
	t.Parallel()

	const src = "Hi {{user.firstName}}, {{#if hasDiscount}}SAVE NOW{{/if}}"

	t.Run("falsy condition drops the block", func(t *testing.T) {
		t.Parallel()
		got, err := RenderString(src, map[string]any{
			"user":        map[string]any{"firstName": "Ana"},
			"hasDiscount": false,
		})
		require.NoError(t, err)
		assert.Equal(t, "Hi Ana, ", got)
	})

	t.Run("truthy condition keeps the block", func(t *testing.T) {
		t.Parallel()
		got, err := RenderString(src, map[string]any{
			"user":        map[string]any{"firstName": "Ana"},
			"hasDiscount": true,
		})
		require.NoError(t, err)
		assert.Equal(t, "Hi Ana, SAVE NOW", got)
	})

	t.Run("missing condition key is falsy", func(t *testing.T) {
		t.Parallel()
		got, err := RenderString("{{#if nope}}shown{{/if}}done", nil)
		require.NoError(t, err)
		assert.Equal(t, "done", got)
	})

	t.Run("unless inverts", func(t *testing.T) {
		t.Parallel()
		got, err := RenderString("{{#unless paid}}Payment pending.{{/unless}}", map[string]any{"paid": false})
		require.NoError(t, err)
		assert.Equal(t, "Payment pending.", got)

		got, err = RenderString("{{#unless paid}}Payment pending.{{/unless}}", map[string]any{"paid": true})
		require.NoError(t, err)
		assert.Equal(t, "", got)
	})

	t.Run("substitution inside block", func(t *testing.T) {
		t.Parallel()
		got, err := RenderString("{{#if due}}Due {{date}}{{/if}}", map[string]any{"due": true, "date": "Friday"})
		require.NoError(t, err)
		assert.Equal(t, "Due Friday", got)
	})
}

// Nested conditionals are supported: the AST parser tracks block
// boundaries explicitly, unlike a flat regex scan.
func TestRenderString_NestedBlocks(t *testing.T) {
	t.Parallel()

	const src = "{{#if enrolled}}Welcome{{#if trial}} (trial){{/if}}!{{/if}}"

	got, err := RenderString(src, map[string]any{"enrolled": true, "trial": true})
	require.NoError(t, err)
	assert.Equal(t, "Welcome (trial)!", got)

	got, err = RenderString(src, map[string]any{"enrolled": true, "trial": false})
	require.NoError(t, err)
	assert.Equal(t, "Welcome!", got)

	got, err = RenderString(src, map[string]any{"enrolled": false, "trial": true})
	require.NoError(t, err)
	assert.Equal(t, "", got)
}

func TestRenderString_Truthiness(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		value any
		want  bool
	}{
		{"true", true, true},
		{"false", false, false},
		{"nil", nil, false},
		{"empty string", "", false},
		{"non-empty string", "x", true},
		{"zero int", 0, false},
		{"non-zero int", 7, true},
		{"zero float", 0.0, false},
		{"non-zero float", 0.5, true},
		{"map value", map[string]any{"a": 1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := RenderString("{{#if v}}y{{/if}}", map[string]any{"v": tt.value})
			require.NoError(t, err)
			if tt.want {
				assert.Equal(t, "y", got)
			} else {
				assert.Equal(t, "", got)
			}
		})
	}
}

func TestParse_MalformedBlocks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		src  string
	}{
		{"unclosed if", "{{#if a}}body"},
		{"unclosed unless", "{{#unless a}}body"},
		{"stray closing if", "body{{/if}}"},
		{"mismatched closers", "{{#if a}}body{{/unless}}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse(tt.src)
			assert.ErrorIs(t, err, ErrMalformedTemplate)
		})
	}
}
