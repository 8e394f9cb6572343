package cache

import (
	"hash/fnv"
	"sync"
	"time"
)

const numShards = 16

// TTL is a sharded key/value cache whose entries expire after a fixed
// duration. Expired entries are treated as absent on read and overwritten
// by the next Set.
type TTL[V any] struct {
	ttl    time.Duration
	shards [numShards]*shard[V]
}

type shard[V any] struct {
	mu    sync.RWMutex
	items map[string]entry[V]
}

type entry[V any] struct {
	val       V
	updatedAt time.Time
}

// NewTTL creates a cache whose entries live for ttl.
func NewTTL[V any](ttl time.Duration) *TTL[V] {
	c := &TTL[V]{ttl: ttl}
	for i := 0; i < numShards; i++ {
		c.shards[i] = &shard[V]{items: make(map[string]entry[V])}
	}
	return c
}

func (c *TTL[V]) getShard(key string) *shard[V] {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%numShards]
}

// Set stores a value under key, resetting its age.
func (c *TTL[V]) Set(key string, val V) {
	sh := c.getShard(key)
	sh.mu.Lock()
	sh.items[key] = entry[V]{val: val, updatedAt: time.Now()}
	sh.mu.Unlock()
}

// Get returns the value for key if present and not expired.
func (c *TTL[V]) Get(key string) (V, bool) {
	sh := c.getShard(key)
	sh.mu.RLock()
	e, ok := sh.items[key]
	sh.mu.RUnlock()
	if !ok || time.Since(e.updatedAt) > c.ttl {
		var zero V
		return zero, false
	}
	return e.val, true
}

// Update applies fn to the cached value under key, if present and fresh.
// The entry's age is preserved.
func (c *TTL[V]) Update(key string, fn func(V) V) bool {
	sh := c.getShard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.items[key]
	if !ok || time.Since(e.updatedAt) > c.ttl {
		return false
	}
	e.val = fn(e.val)
	sh.items[key] = e
	return true
}

// Delete removes key from the cache.
func (c *TTL[V]) Delete(key string) {
	sh := c.getShard(key)
	sh.mu.Lock()
	delete(sh.items, key)
	sh.mu.Unlock()
}
