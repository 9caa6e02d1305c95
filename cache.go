package talkbase

import (
	"strings"
	"sync"
	"time"
)

// ============================================================================
// TTL cache
// ============================================================================

// DefaultCacheTTL is applied when Set is called with a zero TTL.
const DefaultCacheTTL = 5 * time.Minute

// DefaultSweepInterval is how often the background sweep evicts expired
// entries regardless of read traffic.
const DefaultSweepInterval = 5 * time.Minute

// Cache is an in-memory key-value store with per-entry TTL. Expiry is lazy on
// read plus an optional periodic sweep; TTL is the only eviction policy (no
// size bound, no LRU).
//
// Keys follow the "<entity>_<scope>_<params>" convention so related entries
// can be invalidated in bulk with DeletePrefix.
//
// A single logical owner is assumed; the internal lock only makes individual
// operations safe, not read-modify-write sequences.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]cacheEntry
	defaultTTL time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
}

type cacheEntry struct {
	value     any
	expiresAt time.Time
}

// NewCache creates a cache with the given default TTL (DefaultCacheTTL when
// zero). The background sweep is not started; call StartSweeper for eager
// eviction.
func NewCache(defaultTTL time.Duration) *Cache {
	if defaultTTL <= 0 {
		defaultTTL = DefaultCacheTTL
	}
	return &Cache{
		entries:    make(map[string]cacheEntry),
		defaultTTL: defaultTTL,
		stopCh:     make(chan struct{}),
	}
}

// Set stores value under key with the given TTL (default TTL when zero).
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.mu.Lock()
	c.entries[key] = cacheEntry{value: value, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()
}

// Get returns the value for key. A read past the entry's expiry behaves as a
// miss and evicts the entry.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return e.value, true
}

// Has reports whether key holds an unexpired entry, evicting it if expired.
func (c *Cache) Has(key string) bool {
	_, ok := c.Get(key)
	return ok
}

// Delete removes key.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// DeletePrefix removes every key beginning with prefix and returns how many
// entries were evicted. Used for bulk invalidation after a write that affects
// a family of cached reads (e.g. "room_<uid>_").
func (c *Cache) DeletePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Clear removes all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()
}

// Len returns the number of entries, including any not yet swept.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Cleanup evicts every expired entry now.
func (c *Cache) Cleanup() {
	now := time.Now()
	c.mu.Lock()
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()
}

// StartSweeper runs Cleanup on the given interval (DefaultSweepInterval when
// zero) until Stop is called.
func (c *Cache) StartSweeper(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.Cleanup()
			}
		}
	}()
}

// Stop terminates the background sweep. Safe to call more than once.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}
