// Package cache implements CapabilityCache: a fixed-capacity LRU with
// per-entry TTL used to memoize CapabilityRegistry.Discover results for
// exact-match (non-partial) queries.
package cache

import (
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// Config configures a CapabilityCache.
type Config struct {
	MaxEntries int
	TTL        time.Duration
	TrackStats bool
}

// Stats holds hit/miss/eviction counters, populated only when
// Config.TrackStats is true.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// CapabilityCache is a fixed-capacity LRU with per-entry TTL over encoded
// agent-id lists. LRU position and TTL bookkeeping are delegated to
// hashicorp/golang-lru's expirable LRU, which keeps an internal doubly
// linked list separate from its hash table exactly as the design calls
// for; this type layers the registry's stats contract and explicit
// Put/Remove/Clear semantics on top.
//
// The cache is created once and owned by its registry; it must not be
// copied after construction.
type CapabilityCache struct {
	mu        sync.Mutex
	inner     *lru.LRU[string, []string]
	hits      uint64
	misses    uint64
	evictions atomic.Uint64
	track     bool
}

// New builds a CapabilityCache. A non-positive MaxEntries defaults to 1; a
// non-positive TTL defaults to 5 minutes.
func New(cfg Config) *CapabilityCache {
	maxEntries := cfg.MaxEntries
	if maxEntries <= 0 {
		maxEntries = 1
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	c := &CapabilityCache{track: cfg.TrackStats}
	c.inner = lru.NewLRU[string, []string](maxEntries, func(key string, value []string) {
		// Runs synchronously inside Add/Remove, which already hold c.mu;
		// count with an atomic instead of re-locking to avoid self-deadlock.
		if c.track {
			c.evictions.Add(1)
		}
	}, ttl)
	return c
}

// Get returns the cached value for key if present and unexpired, promoting
// it to most-recently-used.
func (c *CapabilityCache) Get(key string) ([]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	value, ok := c.inner.Get(key)
	if c.track {
		if ok {
			c.hits++
		} else {
			c.misses++
		}
	}
	if !ok {
		return nil, false
	}
	out := make([]string, len(value))
	copy(out, value)
	return out, true
}

// Put inserts or replaces the entry for key, resetting its TTL and
// promoting it to most-recently-used. If the cache is at capacity, the LRU
// entry is evicted.
func (c *CapabilityCache) Put(key string, value []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stored := make([]string, len(value))
	copy(stored, value)
	c.inner.Add(key, stored)
}

// Remove deletes the entry for key, returning whether it was present.
func (c *CapabilityCache) Remove(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inner.Remove(key)
}

// Clear empties the cache. The registry calls this on every mutation
// rather than attempting surgical invalidation.
func (c *CapabilityCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inner.Purge()
}

// Stats returns a snapshot of the hit/miss/eviction counters. Zero-valued
// if Config.TrackStats was false.
func (c *CapabilityCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions.Load(),
	}
}

// Len reports the current number of entries, including any not yet swept
// past expiry.
func (c *CapabilityCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inner.Len()
}
