// Package cache memoizes JSON-RPC responses keyed by method and
// canonical params, with a per-method TTL sourced from config.
package cache

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/you/eth-rpc-relay/internal/jsonrpc"
)

type entry struct {
	response json.RawMessage
	storedAt time.Time
	ttl      time.Duration
}

func (e entry) expired(now time.Time) bool {
	return now.Sub(e.storedAt) >= e.ttl
}

// key identifies a cache slot by method and canonical params.
type key struct {
	method string
	params string
}

// Cache is a method+params keyed TTL store. Entries are never evicted
// proactively; a stale entry is simply bypassed on Lookup and overwritten
// on the next Store for that key.
type Cache struct {
	mu      sync.RWMutex
	entries map[key]entry
	ttls    map[string]int // method -> seconds, the live cache_ttl config

	hits atomic.Uint64
}

// New builds an empty Cache with no cacheable methods; call SetTTLs once
// the config store has loaded.
func New() *Cache {
	return &Cache{entries: make(map[key]entry), ttls: make(map[string]int)}
}

// SetTTLs replaces the method->seconds map used to decide cacheability.
// If the new map is empty, the entire cache is cleared — an empty
// cache_ttl after reload disables caching outright, and previously stored
// entries must not survive to serve a method that is no longer cacheable
// under a reused key.
func (c *Cache) SetTTLs(ttls map[string]int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ttls = ttls
	if len(ttls) == 0 {
		c.entries = make(map[key]entry)
	}
}

// Cacheable reports whether method currently has a positive TTL
// configured.
func (c *Cache) Cacheable(method string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ttl, ok := c.ttls[method]
	return ok && ttl > 0
}

// Lookup returns a cached response for (method, params) with the given
// request id rewritten into its top-level id field, or ok=false on a
// miss, an expired entry, or an id-rewrite failure (treated the same as
// a miss — the caller falls through to a fresh upstream call).
func (c *Cache) Lookup(method string, params any, id json.RawMessage, now time.Time) (json.RawMessage, bool) {
	canon, err := jsonrpc.Canonicalize(params)
	if err != nil {
		return nil, false
	}
	k := key{method: method, params: string(canon)}

	c.mu.RLock()
	e, ok := c.entries[k]
	c.mu.RUnlock()
	if !ok || e.expired(now) {
		return nil, false
	}

	rewritten, err := jsonrpc.RewriteID(e.response, id)
	if err != nil {
		return nil, false
	}
	c.hits.Add(1)
	return rewritten, true
}

// Hits returns the number of lookups served from the cache since
// startup, for the dashboard's hit-rate banner.
func (c *Cache) Hits() uint64 {
	return c.hits.Load()
}

// Store records response as the cached value for (method, params), with
// stored_at = now and ttl read from the live cache_ttl map. A no-op if
// method is not currently cacheable.
func (c *Cache) Store(method string, params any, response json.RawMessage, now time.Time) {
	canon, err := jsonrpc.Canonicalize(params)
	if err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	seconds, ok := c.ttls[method]
	if !ok || seconds <= 0 {
		return
	}
	k := key{method: method, params: string(canon)}
	c.entries[k] = entry{
		response: response,
		storedAt: now,
		ttl:      time.Duration(seconds) * time.Second,
	}
}
