package cache

import (
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Key prefixes for the logical resources the cache serves. Listing entries
// are invalidated on successful writes; aggregate entries only expire.
const (
	ListingPrefix   = "meetings:"
	StatsPrefix     = "stats:"
	CoveragePrefix  = "coverage:"
	DefaultCapacity = 1024
)

type entry struct {
	payload   interface{}
	writtenAt time.Time
	ttl       time.Duration
}

func (e entry) expired(now time.Time) bool {
	return now.Sub(e.writtenAt) >= e.ttl
}

// Cache is a read-through TTL cache. Each key carries its own TTL; entries
// leave only by expiry, invalidation, or capacity pressure.
type Cache struct {
	mu       sync.Mutex
	entries  map[string]entry
	capacity int

	// clock is swappable for tests
	clock func() time.Time
}

func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		entries:  make(map[string]entry),
		capacity: capacity,
		clock:    time.Now,
	}
}

// GetOrCompute serves a non-expired entry directly; on miss or expiry it
// invokes computeFn exactly once, stores the result with a fresh timestamp,
// and returns it. A computeFn error is returned without caching.
func (c *Cache) GetOrCompute(key string, ttl time.Duration, computeFn func() (interface{}, error)) (interface{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock()
	if e, ok := c.entries[key]; ok && !e.expired(now) {
		return e.payload, nil
	}

	payload, err := computeFn()
	if err != nil {
		return nil, err
	}

	c.store(key, payload, ttl, now)
	return payload, nil
}

// Invalidate drops every entry whose key starts with prefix. Unrelated
// entries keep their own expiry.
func (c *Cache) Invalidate(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
			removed++
		}
	}

	if removed > 0 {
		slog.Debug("Cache invalidated", "prefix", prefix, "entries", removed)
	}
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// store assumes the mutex is held.
func (c *Cache) store(key string, payload interface{}, ttl time.Duration, now time.Time) {
	if len(c.entries) >= c.capacity {
		c.evictOldest()
	}
	c.entries[key] = entry{payload: payload, writtenAt: now, ttl: ttl}
}

// evictOldest removes the entry with the oldest write timestamp. Assumes the
// mutex is held and the map is non-empty.
func (c *Cache) evictOldest() {
	var oldestKey string
	var oldestAt time.Time

	for key, e := range c.entries {
		if oldestKey == "" || e.writtenAt.Before(oldestAt) {
			oldestKey = key
			oldestAt = e.writtenAt
		}
	}

	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}
