package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStableJSONBytes(t *testing.T) {
	t.Run("Should sort object keys recursively", func(t *testing.T) {
		a := StableJSONBytes(map[string]any{"b": 2, "a": map[string]any{"y": 1, "x": 0}})
		b := StableJSONBytes(map[string]any{"a": map[string]any{"x": 0, "y": 1}, "b": 2})
		assert.Equal(t, string(a), string(b))
		assert.Equal(t, `{"a":{"x":0,"y":1},"b":2}`, string(a))
	})

	t.Run("Should preserve array order", func(t *testing.T) {
		out := StableJSONBytes([]any{3, 1, 2})
		assert.Equal(t, "[3,1,2]", string(out))
	})
}

func TestHashComponents(t *testing.T) {
	t.Run("Should be deterministic", func(t *testing.T) {
		assert.Equal(t, HashComponents("a", "b"), HashComponents("a", "b"))
	})

	t.Run("Should distinguish component boundaries", func(t *testing.T) {
		assert.NotEqual(t, HashComponents("ab", "c"), HashComponents("a", "bc"))
	})

	t.Run("Should produce a hex sha256 digest", func(t *testing.T) {
		assert.Len(t, HashComponents("a"), 64)
	})
}
