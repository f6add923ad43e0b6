package gpu

import (
	"container/list"
	"fmt"

	"github.com/gogpu/plotlod/plot"
)

// DefaultBudgetBytes is the default device memory budget (256 MiB).
const DefaultBudgetBytes = 256 << 20

// allocation is one device buffer tracked by the pool. It is either live
// (handle != 0, refs > 0) or free in its size class list.
type allocation struct {
	handle Handle
	buf    Buffer
	class  uint64
	refs   int
	plotID string

	mode         plot.RenderMode
	count        int
	binsX, binsY uint32
	maxWeight    uint32
	mapped       bool // aggregated colors were mapped on the CPU

	evicted bool
	elem    *list.Element
}

func (a *allocation) live() bool { return a.handle != 0 }

// bufferPool tracks every device buffer with LRU order and a byte
// budget. Released buffers stay allocated in per-size-class free lists
// until reused or evicted. Callers hold the Manager lock.
type bufferPool struct {
	dev    Device
	budget uint64
	used   uint64

	free map[uint64][]*allocation
	lru  *list.List // front = most recently used

	allocations uint64
	reuses      uint64
	evictions   uint64
}

func newBufferPool(dev Device, budget uint64) *bufferPool {
	return &bufferPool{
		dev:    dev,
		budget: budget,
		free:   make(map[uint64][]*allocation),
		lru:    list.New(),
	}
}

// acquire returns a buffer of at least size bytes, reusing a free buffer
// of the same size class when one exists. visible reports whether a plot
// is on screen, for eviction order; keep is never evicted.
func (p *bufferPool) acquire(size uint64, label string, visible func(string) bool, keep *allocation) (*allocation, error) {
	class := sizeClass(size)

	if free := p.free[class]; len(free) > 0 {
		a := free[len(free)-1]
		p.free[class] = free[:len(free)-1]
		p.lru.MoveToFront(a.elem)
		p.reuses++
		return a, nil
	}

	if class > p.budget {
		return nil, fmt.Errorf("buffer of %d bytes exceeds the %d byte budget: %w",
			class, p.budget, plot.ErrOutOfMemory)
	}
	if !p.makeRoom(class, visible, keep) {
		return nil, fmt.Errorf("need %d bytes, %d of %d in use: %w",
			class, p.used, p.budget, plot.ErrOutOfMemory)
	}

	buf, err := p.dev.CreateBuffer(class, label)
	if err != nil {
		if !isOOM(err) {
			return nil, err
		}
		// The device ran out before the budget did: drop every idle buffer and retry.
		p.evictFree()
		if buf, err = p.dev.CreateBuffer(class, label); err != nil {
			return nil, err
		}
	}

	a := &allocation{buf: buf, class: class}
	a.elem = p.lru.PushFront(a)
	p.used += class
	p.allocations++
	return a, nil
}

// release returns a to its free list, then trims back to the budget.
func (p *bufferPool) release(a *allocation) {
	a.handle, a.refs, a.plotID = 0, 0, ""
	a.count, a.binsX, a.binsY, a.maxWeight, a.mapped = 0, 0, 0, 0, false
	if a.evicted {
		return
	}
	p.free[a.class] = append(p.free[a.class], a)
	p.lru.MoveToFront(a.elem)
	p.trim()
}

func (p *bufferPool) touch(a *allocation) {
	if a.elem != nil {
		p.lru.MoveToFront(a.elem)
	}
}

// makeRoom evicts until need more bytes fit in the budget. Victims are
// taken in order: free buffers, buffers of plots not on screen, then any
// buffer, each tier least recently used first.
func (p *bufferPool) makeRoom(need uint64, visible func(string) bool, keep *allocation) bool {
	tiers := []func(*allocation) bool{
		func(a *allocation) bool { return !a.live() },
		func(a *allocation) bool { return !visible(a.plotID) },
		func(*allocation) bool { return true },
	}
	for _, eligible := range tiers {
		for e := p.lru.Back(); e != nil && p.used+need > p.budget; {
			prev := e.Prev()
			if a := e.Value.(*allocation); a != keep && eligible(a) { //nolint:forcetypeassert // lru holds only *allocation
				p.evict(a)
			}
			e = prev
		}
	}
	return p.used+need <= p.budget
}

// trim evicts free buffers while over budget.
func (p *bufferPool) trim() {
	for e := p.lru.Back(); e != nil && p.used > p.budget; {
		prev := e.Prev()
		if a := e.Value.(*allocation); !a.live() { //nolint:forcetypeassert // lru holds only *allocation
			p.evict(a)
		}
		e = prev
	}
}

func (p *bufferPool) evictFree() {
	var victims []*allocation
	for _, free := range p.free {
		victims = append(victims, free...)
	}
	for _, a := range victims {
		p.evict(a)
	}
}

// evict destroys a's buffer. A live allocation stays registered under
// its handle, marked evicted, until released.
func (p *bufferPool) evict(a *allocation) {
	if a.evicted {
		return
	}
	if !a.live() {
		free := p.free[a.class]
		for i, f := range free {
			if f == a {
				p.free[a.class] = append(free[:i], free[i+1:]...)
				break
			}
		}
	}
	p.lru.Remove(a.elem)
	a.elem = nil
	p.dev.DestroyBuffer(a.buf)
	a.buf = nil
	a.evicted = true
	p.used -= a.class
	p.evictions++
	slogger().Debug("gpu: evicted buffer", "plot", a.plotID, "bytes", a.class, "live", a.live())
}

// reset forgets every buffer without destroying it, for a lost device.
func (p *bufferPool) reset() {
	for e := p.lru.Front(); e != nil; e = e.Next() {
		e.Value.(*allocation).evicted = true //nolint:forcetypeassert // lru holds only *allocation
	}
	p.free = make(map[uint64][]*allocation)
	p.lru.Init()
	p.used = 0
}

// destroyAll frees every buffer.
func (p *bufferPool) destroyAll() {
	for e := p.lru.Front(); e != nil; e = e.Next() {
		a := e.Value.(*allocation) //nolint:forcetypeassert // lru holds only *allocation
		p.dev.DestroyBuffer(a.buf)
		a.buf, a.evicted = nil, true
	}
	p.free = make(map[uint64][]*allocation)
	p.lru.Init()
	p.used = 0
}

func (p *bufferPool) pooled() (n int, bytes uint64) {
	for class, free := range p.free {
		n += len(free)
		bytes += class * uint64(len(free))
	}
	return n, bytes
}
