package flipswitch

import (
	"sync"
	"time"

	"github.com/flipswitch/go-server-sdk/api"
)

const defaultCacheTTL = 60 * time.Second

type cacheEntry struct {
	value     interface{}
	writtenAt time.Time
}

func (e cacheEntry) expired(ttl time.Duration) bool {
	return time.Since(e.writtenAt) > ttl
}

// FlagCache holds the last-known flag values with a fixed TTL. Entries older
// than the TTL are treated as absent and evicted lazily on read. The cache is
// invalidated by decoded realtime events via ApplyEvent.
type FlagCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
}

// NewFlagCache creates a cache with the given TTL. A non-positive TTL falls
// back to 60 seconds.
func NewFlagCache(ttl time.Duration) *FlagCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &FlagCache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
	}
}

// Get returns the cached value for key. found is false when the key is absent
// or its entry has outlived the TTL; expired entries are evicted here.
func (c *FlagCache) Get(key string) (value interface{}, found bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if entry.expired(c.ttl) {
		delete(c.entries, key)
		return nil, false
	}
	return entry.value, true
}

func (c *FlagCache) Set(key string, value interface{}) {
	c.mu.Lock()
	c.entries[key] = cacheEntry{value: value, writtenAt: time.Now()}
	c.mu.Unlock()
}

// Invalidate removes a single entry.
func (c *FlagCache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// InvalidateAll clears every entry.
func (c *FlagCache) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()
}

// Len returns the number of entries currently held, expired or not.
func (c *FlagCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// ApplyEvent invalidates cached values affected by a realtime event. A flag
// change with an empty key and a bulk invalidation both clear the whole
// cache; key rotations and heartbeats leave the cache untouched.
func (c *FlagCache) ApplyEvent(event api.Event) {
	switch event.Kind {
	case api.EventKind_FlagChanged:
		if event.Key == "" {
			c.InvalidateAll()
			return
		}
		c.Invalidate(event.Key)
	case api.EventKind_BulkInvalidation:
		c.InvalidateAll()
	}
}
