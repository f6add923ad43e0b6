package cache

import (
	"encoding/binary"
	"math"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	"github.com/gogpu/plotlod/plot"
)

// FrameKey identifies one sampled frame.
type FrameKey struct {
	SeriesID string
	Version  uint64
	Bucket   plot.BucketKey
	Mode     plot.RenderMode
	Target   int
}

// KeyFor builds the key of the frame for s drawn into vp with the given
// mode and target. bucketSteps is passed to plot.Viewport.Bucket.
func KeyFor(s plot.Series, vp plot.Viewport, bucketSteps int, mode plot.RenderMode, target int) FrameKey {
	return FrameKey{
		SeriesID: s.ID(),
		Version:  s.Version(),
		Bucket:   vp.Bucket(bucketSteps),
		Mode:     mode,
		Target:   target,
	}
}

// HashFrameKey hashes every field of k with xxHash64.
func HashFrameKey(k FrameKey) uint64 {
	var buf [8 * 11]byte
	binary.LittleEndian.PutUint64(buf[0:], k.Version)
	binary.LittleEndian.PutUint64(buf[8:], math.Float64bits(k.Bucket.X0))
	binary.LittleEndian.PutUint64(buf[16:], math.Float64bits(k.Bucket.X1))
	binary.LittleEndian.PutUint64(buf[24:], math.Float64bits(k.Bucket.Y0))
	binary.LittleEndian.PutUint64(buf[32:], math.Float64bits(k.Bucket.Y1))
	binary.LittleEndian.PutUint64(buf[40:], math.Float64bits(k.Bucket.SpanX))
	binary.LittleEndian.PutUint64(buf[48:], math.Float64bits(k.Bucket.SpanY))
	binary.LittleEndian.PutUint64(buf[56:], uint64(k.Bucket.Width))  //nolint:gosec // G115: hashing only
	binary.LittleEndian.PutUint64(buf[64:], uint64(k.Bucket.Height)) //nolint:gosec // G115: hashing only
	binary.LittleEndian.PutUint64(buf[72:], uint64(k.Mode))          //nolint:gosec // G115: hashing only
	binary.LittleEndian.PutUint64(buf[80:], uint64(k.Target))        //nolint:gosec // G115: hashing only

	d := xxhash.New()
	_, _ = d.WriteString(k.SeriesID) // xxhash.Digest never returns an error
	_, _ = d.Write(buf[:])
	return d.Sum64()
}

// FrameCache is the process-wide store of sampled frames. It is created
// once per renderer and torn down with Close.
type FrameCache struct {
	entries *ShardedCache[FrameKey, plot.Frame]

	mu     sync.Mutex
	latest map[string]uint64 // newest version observed per series

	computes atomic.Uint64
	purged   atomic.Uint64
	hook     atomic.Pointer[func(FrameKey)]
}

// NewFrameCache creates a cache of at most entries frames using at most
// maxBytes of frame memory (plot.Frame.SizeBytes). maxBytes <= 0 means
// no byte bound.
func NewFrameCache(entries int, maxBytes int64) *FrameCache {
	perShard := max((entries+ShardCount-1)/ShardCount, 1)
	return &FrameCache{
		entries: NewWeighted[FrameKey, plot.Frame](perShard, maxBytes, HashFrameKey, frameCost),
		latest:  make(map[string]uint64),
	}
}

func frameCost(f plot.Frame) int64 { return int64(f.SizeBytes()) }

// SetComputeHook installs fn to be called every time GetOrCompute runs
// its compute function. Pass nil to remove it.
func (c *FrameCache) SetComputeHook(fn func(FrameKey)) {
	if fn == nil {
		c.hook.Store(nil)
		return
	}
	c.hook.Store(&fn)
}

// Get returns the cached frame for k.
func (c *FrameCache) Get(k FrameKey) (plot.Frame, bool) {
	return c.entries.Get(k)
}

// Put stores f under k. Frames of a version older than the newest one
// observed for the series are rejected, and Put returns false.
func (c *FrameCache) Put(k FrameKey, f plot.Frame) bool {
	stale, advanced := c.observe(k.SeriesID, k.Version)
	if stale {
		return false
	}
	if advanced {
		c.purgeOlder(k.SeriesID, k.Version)
	}
	return c.entries.Set(k, f)
}

// GetOrCompute returns the cached frame for k, or runs compute, stores
// its result and returns it. hit reports whether the cache served the
// frame. compute runs without any lock held, so concurrent misses on the
// same key may both compute; the second insert replaces the first with
// an identical frame.
func (c *FrameCache) GetOrCompute(k FrameKey, compute func() plot.Frame) (f plot.Frame, hit bool) {
	if f, ok := c.entries.Get(k); ok {
		return f, true
	}
	c.computes.Add(1)
	if h := c.hook.Load(); h != nil {
		(*h)(k)
	}
	f = compute()
	c.Put(k, f)
	return f, false
}

// Observe records that version is the current version of a series and
// drops every cached frame of older versions. It returns the number of
// frames dropped.
func (c *FrameCache) Observe(seriesID string, version uint64) int {
	stale, advanced := c.observe(seriesID, version)
	if stale || !advanced {
		return 0
	}
	return c.purgeOlder(seriesID, version)
}

// observe updates the newest known version of a series. It reports
// whether version is older than the newest one, and whether it replaced
// the newest one.
func (c *FrameCache) observe(seriesID string, version uint64) (stale, advanced bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.latest[seriesID]
	switch {
	case ok && version < cur:
		return true, false
	case ok && version == cur:
		return false, false
	}
	c.latest[seriesID] = version
	return false, true
}

func (c *FrameCache) purgeOlder(seriesID string, version uint64) int {
	n := c.entries.DeleteFunc(func(k FrameKey, _ plot.Frame) bool {
		return k.SeriesID == seriesID && k.Version < version
	})
	c.purged.Add(uint64(n)) //nolint:gosec // G115: n >= 0
	return n
}

// Forget drops every frame of a series and its version record.
func (c *FrameCache) Forget(seriesID string) int {
	c.mu.Lock()
	delete(c.latest, seriesID)
	c.mu.Unlock()
	n := c.entries.DeleteFunc(func(k FrameKey, _ plot.Frame) bool {
		return k.SeriesID == seriesID
	})
	c.purged.Add(uint64(n)) //nolint:gosec // G115: n >= 0
	return n
}

// Purge drops every cached frame. It is the response to a memory
// pressure signal; version records are kept.
func (c *FrameCache) Purge() int {
	n := c.entries.Len()
	c.entries.Clear()
	c.purged.Add(uint64(n)) //nolint:gosec // G115: n >= 0
	return n
}

// Len returns the number of cached frames.
func (c *FrameCache) Len() int { return c.entries.Len() }

// Stats returns cache statistics.
func (c *FrameCache) Stats() Stats {
	s := c.entries.Stats()
	s.Computes = c.computes.Load()
	s.Purged = c.purged.Load()
	return s
}

// Close drops all frames and version records.
func (c *FrameCache) Close() {
	c.entries.Clear()
	c.mu.Lock()
	clear(c.latest)
	c.mu.Unlock()
}
