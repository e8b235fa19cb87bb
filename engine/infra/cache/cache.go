package cache

import (
	"context"
	"sync"
	"time"

	"github.com/flowmatic/flowmatic/engine/core"
	"github.com/flowmatic/flowmatic/pkg/logger"
)

const evictionBatch = 10

type entry struct {
	key      string
	outputs  core.Output
	storedAt time.Time
	ttl      time.Duration
}

func (e *entry) expired(now time.Time) bool {
	return now.Sub(e.storedAt) > e.ttl
}

// StepCache stores redacted step outputs keyed by deterministic cache key.
// Entries expire after their TTL and the oldest entries by insertion time are
// evicted in batches once the cache is full. Safe for concurrent use.
type StepCache struct {
	mu         sync.Mutex
	entries    map[string]*entry
	order      []string
	maxEntries int
	defaultTTL time.Duration
}

// New builds a cache holding at most maxEntries results, each living for
// defaultTTL unless the caller overrides it per entry.
func New(maxEntries int, defaultTTL time.Duration) *StepCache {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	if defaultTTL <= 0 {
		defaultTTL = time.Hour
	}
	return &StepCache{
		entries:    make(map[string]*entry),
		maxEntries: maxEntries,
		defaultTTL: defaultTTL,
	}
}

// Get returns the cached outputs for key. Expired entries are removed on
// read and reported as misses.
func (c *StepCache) Get(key string) (core.Output, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if e.expired(time.Now()) {
		c.remove(key)
		return nil, false
	}
	return e.outputs, true
}

// Put stores outputs under key. Outputs are redacted before storage so
// secret-shaped values never sit in the cache. A non-positive ttl falls back
// to the cache default.
func (c *StepCache) Put(key string, outputs core.Output, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	redacted := core.Output(core.RedactMap(outputs))
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; !exists {
		if len(c.entries) >= c.maxEntries {
			c.evictOldest()
		}
		c.order = append(c.order, key)
	}
	c.entries[key] = &entry{key: key, outputs: redacted, storedAt: time.Now(), ttl: ttl}
}

// Invalidate drops a single entry.
func (c *StepCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remove(key)
}

// Clear drops every entry.
func (c *StepCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
	c.order = nil
}

// Len returns the number of live entries, counting expired ones not yet
// swept.
func (c *StepCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Sweep removes expired entries every interval until ctx is canceled.
// Intended to run as a background goroutine for long-lived engines.
func (c *StepCache) Sweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := c.sweepExpired(); removed > 0 {
				logger.FromContext(ctx).Debug("swept expired cache entries", "removed", removed)
			}
		}
	}
}

func (c *StepCache) sweepExpired() int {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for key, e := range c.entries {
		if e.expired(now) {
			c.remove(key)
			removed++
		}
	}
	return removed
}

// evictOldest drops a batch of the oldest entries by insertion time. Callers
// hold the mutex.
func (c *StepCache) evictOldest() {
	n := evictionBatch
	if n > len(c.order) {
		n = len(c.order)
	}
	for _, key := range c.order[:n] {
		delete(c.entries, key)
	}
	c.order = append([]string(nil), c.order[n:]...)
}

// remove drops one key. Callers hold the mutex.
func (c *StepCache) remove(key string) {
	if _, ok := c.entries[key]; !ok {
		return
	}
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}
