package cache

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

const (
	// ShardCount is the number of shards. It is a power of two so shard
	// selection is a mask.
	ShardCount = 16

	// DefaultCapacity is the default number of entries per shard.
	DefaultCapacity = 16

	shardMask = ShardCount - 1
)

// Hasher computes the shard-selection hash of a key.
type Hasher[K any] func(K) uint64

// StringHasher hashes a string key with xxHash64.
func StringHasher(s string) uint64 {
	return xxhash.Sum64String(s)
}

// CostFunc returns the cost of a value, typically its size in bytes.
type CostFunc[V any] func(V) int64

// ShardedCache is a thread-safe sharded LRU cache with optional cost
// accounting.
type ShardedCache[K comparable, V any] struct {
	shards   [ShardCount]*shard[K, V]
	hasher   Hasher[K]
	capacity int   // entries per shard
	maxCost  int64 // cost per shard, 0 = unbounded
	cost     CostFunc[V]

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

type shard[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]*entry[K, V]
	lru     lruList[K]
	cost    int64
}

type entry[K comparable, V any] struct {
	value V
	cost  int64
	node  *lruNode[K]
}

// NewSharded creates a cache holding up to capacity entries per shard.
// If capacity <= 0, DefaultCapacity is used.
func NewSharded[K comparable, V any](capacity int, hasher Hasher[K]) *ShardedCache[K, V] {
	return NewWeighted[K, V](capacity, 0, hasher, nil)
}

// NewWeighted is like NewSharded but also bounds the summed cost of the
// values, as reported by cost, to maxCost across all shards. The budget
// is split evenly between shards.
func NewWeighted[K comparable, V any](capacity int, maxCost int64, hasher Hasher[K], cost CostFunc[V]) *ShardedCache[K, V] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c := &ShardedCache[K, V]{
		hasher:   hasher,
		capacity: capacity,
		cost:     cost,
	}
	if cost != nil && maxCost > 0 {
		c.maxCost = max(maxCost/ShardCount, 1)
	}
	for i := range c.shards {
		c.shards[i] = &shard[K, V]{entries: make(map[K]*entry[K, V])}
	}
	return c
}

func (c *ShardedCache[K, V]) shardFor(key K) *shard[K, V] {
	return c.shards[c.hasher(key)&shardMask]
}

// Get returns the value for key and marks it most recently used.
func (c *ShardedCache[K, V]) Get(key K) (V, bool) {
	s := c.shardFor(key)

	s.mu.RLock()
	_, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		c.misses.Add(1)
		var zero V
		return zero, false
	}

	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		s.mu.Unlock()
		c.misses.Add(1)
		var zero V
		return zero, false
	}
	s.lru.MoveToFront(e.node)
	v := e.value
	s.mu.Unlock()

	c.hits.Add(1)
	return v, true
}

// Peek returns the value for key without touching recency or statistics.
func (c *ShardedCache[K, V]) Peek(key K) (V, bool) {
	s := c.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.entries[key]; ok {
		return e.value, true
	}
	var zero V
	return zero, false
}

// Set stores value under key, evicting least-recently-used entries of
// the shard until it fits. A value whose cost alone exceeds the shard
// budget is not stored and Set returns false.
func (c *ShardedCache[K, V]) Set(key K, value V) bool {
	var cost int64
	if c.cost != nil {
		cost = c.cost(value)
	}
	if c.maxCost > 0 && cost > c.maxCost {
		return false
	}

	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[key]; ok {
		s.cost += cost - e.cost
		e.value, e.cost = value, cost
		s.lru.MoveToFront(e.node)
		c.evictLocked(s, e.node)
		return true
	}

	s.entries[key] = &entry[K, V]{value: value, cost: cost, node: s.lru.PushFront(key)}
	s.cost += cost
	c.evictLocked(s, s.lru.head)
	return true
}

// evictLocked drops the oldest entries of s, never keep, until the
// shard fits its capacity and cost budget.
func (c *ShardedCache[K, V]) evictLocked(s *shard[K, V], keep *lruNode[K]) {
	for s.lru.Len() > c.capacity || (c.maxCost > 0 && s.cost > c.maxCost) {
		oldest := s.lru.tail
		if oldest == nil || oldest == keep {
			return
		}
		e := s.entries[oldest.key]
		s.lru.Remove(oldest)
		delete(s.entries, oldest.key)
		s.cost -= e.cost
		c.evictions.Add(1)
	}
}

// Delete removes key and reports whether it was present.
func (c *ShardedCache[K, V]) Delete(key K) bool {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return false
	}
	s.lru.Remove(e.node)
	delete(s.entries, key)
	s.cost -= e.cost
	return true
}

// DeleteFunc removes every entry for which del returns true and returns
// the number removed. del runs with the shard lock held.
func (c *ShardedCache[K, V]) DeleteFunc(del func(K, V) bool) int {
	n := 0
	for _, s := range c.shards {
		s.mu.Lock()
		for k, e := range s.entries {
			if del(k, e.value) {
				s.lru.Remove(e.node)
				delete(s.entries, k)
				s.cost -= e.cost
				n++
			}
		}
		s.mu.Unlock()
	}
	return n
}

// Clear removes all entries.
func (c *ShardedCache[K, V]) Clear() {
	for _, s := range c.shards {
		s.mu.Lock()
		clear(s.entries)
		s.lru.Clear()
		s.cost = 0
		s.mu.Unlock()
	}
}

// Len returns the number of entries across all shards.
func (c *ShardedCache[K, V]) Len() int {
	total := 0
	for _, s := range c.shards {
		s.mu.RLock()
		total += len(s.entries)
		s.mu.RUnlock()
	}
	return total
}

// Cost returns the summed cost of all entries.
func (c *ShardedCache[K, V]) Cost() int64 {
	var total int64
	for _, s := range c.shards {
		s.mu.RLock()
		total += s.cost
		s.mu.RUnlock()
	}
	return total
}

// Stats returns a snapshot of the cache counters.
func (c *ShardedCache[K, V]) Stats() Stats {
	hits, misses := c.hits.Load(), c.misses.Load()
	var rate float64
	if hits+misses > 0 {
		rate = float64(hits) / float64(hits+misses)
	}
	return Stats{
		Len:           c.Len(),
		Cost:          c.Cost(),
		TotalCapacity: c.capacity * ShardCount,
		Hits:          hits,
		Misses:        misses,
		HitRate:       rate,
		Evictions:     c.evictions.Load(),
	}
}

// ResetStats zeroes the hit, miss and eviction counters.
func (c *ShardedCache[K, V]) ResetStats() {
	c.hits.Store(0)
	c.misses.Store(0)
	c.evictions.Store(0)
}

// Stats contains cache statistics.
type Stats struct {
	Len           int
	Cost          int64
	TotalCapacity int
	Hits          uint64
	Misses        uint64
	HitRate       float64
	Evictions     uint64

	// Computes counts frames produced on a miss (FrameCache only).
	Computes uint64
	// Purged counts entries dropped by version advance or Purge
	// (FrameCache only).
	Purged uint64
}

func (s Stats) String() string {
	return fmt.Sprintf("entries=%d bytes=%d hits=%d misses=%d (%.1f%%) evictions=%d computes=%d purged=%d",
		s.Len, s.Cost, s.Hits, s.Misses, s.HitRate*100, s.Evictions, s.Computes, s.Purged)
}
