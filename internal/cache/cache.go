// Package cache holds rendered API responses (stock status, plan lists,
// regions) keyed by route and region, with weak ETags for conditional GETs.
// Status entries are dropped by prefix when a stock event arrives.
package cache

import (
	"crypto/md5"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Default TTLs per response family.
const (
	TTLStatus  = 30 * time.Second // flips whenever a checker cycle lands
	TTLPlans   = 10 * time.Minute // changes on catalog sync or admin toggle
	TTLRegions = 24 * time.Hour

	sweepEvery = 5 * time.Minute
)

type entry struct {
	data      []byte
	etag      string
	expiresAt time.Time
}

// Cache maps keys to rendered bodies. A disabled Cache stores nothing but
// still computes ETags.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	enabled bool
	now     func() time.Time

	hits, misses, invalidated atomic.Int64

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a cache and, when enabled, its background sweeper.
func New(enabled bool) *Cache {
	c := &Cache{
		entries: make(map[string]entry),
		enabled: enabled,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	if enabled {
		go c.sweep()
	}
	return c
}

// Close stops the sweeper.
func (c *Cache) Close() {
	c.stopOnce.Do(func() {
		if c.stop != nil {
			close(c.stop)
		}
	})
}

func (c *Cache) Enabled() bool { return c.enabled }

// Get returns the body and ETag stored under key if it has not expired.
func (c *Cache) Get(key string) (data []byte, etag string, ok bool) {
	if !c.enabled {
		return nil, "", false
	}
	c.mu.RLock()
	e, exists := c.entries[key]
	c.mu.RUnlock()
	if !exists || c.now().After(e.expiresAt) {
		c.misses.Add(1)
		return nil, "", false
	}
	c.hits.Add(1)
	return e.data, e.etag, true
}

// Set stores data under key for ttl and returns its ETag.
func (c *Cache) Set(key string, data []byte, ttl time.Duration) string {
	etag := ComputeETag(data)
	if !c.enabled {
		return etag
	}
	c.mu.Lock()
	c.entries[key] = entry{data: data, etag: etag, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
	return etag
}

// InvalidatePrefix drops every entry whose key starts with prefix and
// returns how many were removed.
func (c *Cache) InvalidatePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
			n++
		}
	}
	c.invalidated.Add(int64(n))
	return n
}

// Stats is served by /health/cache.
func (c *Cache) Stats() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	live := 0
	now := c.now()
	for _, e := range c.entries {
		if now.Before(e.expiresAt) {
			live++
		}
	}
	return map[string]interface{}{
		"enabled":      c.enabled,
		"total_keys":   len(c.entries),
		"active_keys":  live,
		"expired_keys": len(c.entries) - live,
		"hits":         c.hits.Load(),
		"misses":       c.misses.Load(),
		"invalidated":  c.invalidated.Load(),
	}
}

func (c *Cache) sweep() {
	ticker := time.NewTicker(sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.evict()
		case <-c.stop:
			return
		}
	}
}

func (c *Cache) evict() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, key)
		}
	}
}

// ComputeETag returns a weak ETag over the first 8 bytes of the body's MD5.
func ComputeETag(data []byte) string {
	sum := md5.Sum(data)
	return fmt.Sprintf(`W/"%x"`, sum[:8])
}

// CheckETagMatch reports whether an If-None-Match header (single value,
// comma list or "*") covers etag.
func CheckETagMatch(ifNoneMatch, etag string) bool {
	for _, candidate := range strings.Split(ifNoneMatch, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate != "" && (candidate == "*" || candidate == etag) {
			return true
		}
	}
	return false
}
