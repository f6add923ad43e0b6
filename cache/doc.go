// Package cache holds sampled frames between renders.
//
// # ShardedCache[K, V]
//
// A generic LRU cache split into 16 shards, each with its own RWMutex.
// Entries may carry a cost (bytes); a shard evicts least-recently-used
// entries until both its entry count and its cost fit.
//
//	c := cache.NewSharded[string, []byte](64, cache.StringHasher)
//	c.Set("key", data)
//	value, ok := c.Get("key")
//
// # FrameCache
//
// FrameCache stores immutable plot.Frame values keyed by series version,
// viewport bucket, mode and target density. When a series publishes a
// new version every entry of the older versions is dropped, and Purge
// drops everything on memory pressure. Readers never observe a partial
// frame: frames are complete values before they are inserted.
//
// # Thread Safety
//
// Both types are safe for concurrent use by the render goroutine and
// sampling workers. Neither may be copied after creation.
package cache
