package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmatic/flowmatic/engine/core"
)

func TestStepCache(t *testing.T) {
	t.Run("Should return stored outputs before expiry", func(t *testing.T) {
		c := New(10, time.Hour)
		c.Put("k", core.Output{"stdout": "ok"}, 0)
		got, ok := c.Get("k")
		require.True(t, ok)
		assert.Equal(t, "ok", got["stdout"])
	})

	t.Run("Should miss on unknown keys", func(t *testing.T) {
		c := New(10, time.Hour)
		_, ok := c.Get("missing")
		assert.False(t, ok)
	})

	t.Run("Should expire entries past their TTL", func(t *testing.T) {
		c := New(10, time.Hour)
		c.Put("k", core.Output{"stdout": "ok"}, time.Nanosecond)
		time.Sleep(2 * time.Millisecond)
		_, ok := c.Get("k")
		assert.False(t, ok)
		assert.Equal(t, 0, c.Len())
	})

	t.Run("Should redact secret-shaped values on write", func(t *testing.T) {
		c := New(10, time.Hour)
		c.Put("k", core.Output{"stdout": "api_key=sk-123456 rest"}, 0)
		got, ok := c.Get("k")
		require.True(t, ok)
		assert.NotContains(t, got["stdout"], "sk-123456")
		assert.Contains(t, got["stdout"], "[REDACTED]")
	})

	t.Run("Should evict the oldest entries when full", func(t *testing.T) {
		c := New(20, time.Hour)
		for i := 0; i < 20; i++ {
			c.Put(fmt.Sprintf("k%02d", i), core.Output{"n": i}, 0)
		}
		c.Put("overflow", core.Output{"n": 20}, 0)

		assert.Equal(t, 20-evictionBatch+1, c.Len())
		_, ok := c.Get("k00")
		assert.False(t, ok, "oldest entry should be evicted")
		_, ok = c.Get("k19")
		assert.True(t, ok, "newest entries should survive")
		_, ok = c.Get("overflow")
		assert.True(t, ok)
	})

	t.Run("Should not grow when overwriting an existing key", func(t *testing.T) {
		c := New(10, time.Hour)
		c.Put("k", core.Output{"n": 1}, 0)
		c.Put("k", core.Output{"n": 2}, 0)
		assert.Equal(t, 1, c.Len())
		got, _ := c.Get("k")
		assert.Equal(t, 2, got["n"])
	})

	t.Run("Should drop entries on invalidate and clear", func(t *testing.T) {
		c := New(10, time.Hour)
		c.Put("a", core.Output{}, 0)
		c.Put("b", core.Output{}, 0)
		c.Invalidate("a")
		assert.Equal(t, 1, c.Len())
		c.Clear()
		assert.Equal(t, 0, c.Len())
	})

	t.Run("Should sweep expired entries", func(t *testing.T) {
		c := New(10, time.Hour)
		c.Put("old", core.Output{}, time.Nanosecond)
		c.Put("fresh", core.Output{}, time.Hour)
		time.Sleep(2 * time.Millisecond)
		removed := c.sweepExpired()
		assert.Equal(t, 1, removed)
		assert.Equal(t, 1, c.Len())
	})
}
