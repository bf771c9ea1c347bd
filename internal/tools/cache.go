package tools

import (
	"encoding/json"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"coil/internal/logging"
	"coil/internal/types"
)

// DefaultCacheTTL bounds how long a read result can be served without
// re-executing. Short enough that an approval pause does not cross it,
// long enough to absorb the repeated reads agent loops produce.
const DefaultCacheTTL = 5 * time.Second

// CacheKey builds the cache key for one invocation. Arguments serialize
// to key-sorted JSON; ok is false when the arguments cannot be
// serialized, which makes that invocation uncacheable.
func CacheKey(name string, args map[string]any) (string, bool) {
	if args == nil {
		return name + "::{}", true
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return "", false
	}
	return name + "::" + string(raw), true
}

type cacheEntry struct {
	value   types.ToolCallResponse
	expires time.Time
}

// Cache memoizes read-only tool results for a short TTL. Concurrent
// executions for the same key collapse into one via singleflight; values
// are deep-copied on every read so callers cannot corrupt stored entries.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]cacheEntry
	gen     uint64
	flight  singleflight.Group
}

// NewCache creates a cache. A non-positive ttl selects DefaultCacheTTL.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

// Get returns a deep copy of the entry for key. Expired entries are
// removed on access rather than by a sweeper.
func (c *Cache) Get(key string) (types.ToolCallResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return types.ToolCallResponse{}, false
	}
	if c.now().After(entry.expires) {
		delete(c.entries, key)
		return types.ToolCallResponse{}, false
	}
	return entry.value.Clone(), true
}

// Set stores a deep copy of value under key.
func (c *Cache) Set(key string, value types.ToolCallResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(key, value)
}

func (c *Cache) setLocked(key string, value types.ToolCallResponse) {
	c.entries[key] = cacheEntry{
		value:   value.Clone(),
		expires: c.now().Add(c.ttl),
	}
}

// Do returns the cached value for key, joins an in-flight execution of
// the same key, or runs fn. Successful results are cached; results with
// Err set are returned but never stored. A result computed before a
// Clear must not outlive it, so inserts are fenced on the generation
// observed at entry.
func (c *Cache) Do(key string, fn func() types.ToolCallResponse) types.ToolCallResponse {
	if v, ok := c.Get(key); ok {
		return v
	}

	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()

	v, _, shared := c.flight.Do(key, func() (any, error) {
		if cached, ok := c.Get(key); ok {
			return cached, nil
		}
		resp := fn()
		if !resp.IsError() {
			c.mu.Lock()
			if c.gen == gen {
				c.setLocked(key, resp)
			}
			c.mu.Unlock()
		}
		return resp, nil
	})
	if shared {
		logging.ToolsDebug("joined in-flight execution for %s", key)
	}
	return v.(types.ToolCallResponse).Clone()
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.entries)
	c.entries = make(map[string]cacheEntry)
	c.gen++
	if n > 0 {
		logging.ToolsDebug("cache cleared (%d entries)", n)
	}
}

// Len reports the live entry count, expiring stale entries as it goes.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for key, entry := range c.entries {
		if now.After(entry.expires) {
			delete(c.entries, key)
		}
	}
	return len(c.entries)
}
