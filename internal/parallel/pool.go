// Package parallel runs sampling work off the render goroutine.
package parallel

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// WorkerPool is a fixed set of goroutines, each with its own queue.
// An idle worker steals from the other queues before blocking, so a
// long binning job does not hold up the jobs queued behind it.
//
// WorkerPool is safe for concurrent use.
type WorkerPool struct {
	workers int
	queues  []chan func()
	done    chan struct{}
	wg      sync.WaitGroup
	running atomic.Bool
	active  atomic.Int64
	busy    []atomic.Bool
}

// NewWorkerPool starts a pool of workers goroutines. If workers <= 0,
// GOMAXPROCS is used.
func NewWorkerPool(workers int) *WorkerPool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	queueSize := max(workers*4, 8)

	p := &WorkerPool{
		workers: workers,
		queues:  make([]chan func(), workers),
		done:    make(chan struct{}),
		busy:    make([]atomic.Bool, workers),
	}
	for i := range p.queues {
		p.queues[i] = make(chan func(), queueSize)
	}
	p.running.Store(true)

	p.wg.Add(workers)
	for i := range workers {
		go p.worker(i)
	}
	return p
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()
	own := p.queues[id]
	for {
		select {
		case <-p.done:
			p.drain(id)
			return
		case fn := <-own:
			p.run(id, fn)
			continue
		default:
		}

		if fn := p.steal(id); fn != nil {
			p.run(id, fn)
			continue
		}

		select {
		case <-p.done:
			p.drain(id)
			return
		case fn := <-own:
			p.run(id, fn)
		}
	}
}

func (p *WorkerPool) run(id int, fn func()) {
	if fn == nil {
		return
	}
	p.active.Add(1)
	p.busy[id].Store(true)
	defer func() {
		p.busy[id].Store(false)
		p.active.Add(-1)
	}()
	fn()
}

func (p *WorkerPool) drain(id int) {
	for {
		select {
		case fn := <-p.queues[id]:
			p.run(id, fn)
		default:
			return
		}
	}
}

func (p *WorkerPool) steal(id int) func() {
	for i := range p.workers {
		if i == id {
			continue
		}
		select {
		case fn := <-p.queues[i]:
			return fn
		default:
		}
	}
	return nil
}

// shortest returns the index of the least loaded worker, counting a
// running item as load so idle workers are preferred.
func (p *WorkerPool) shortest() int {
	idx, n := 0, p.load(0)
	for i := 1; i < p.workers; i++ {
		if l := p.load(i); l < n {
			idx, n = i, l
		}
	}
	return idx
}

func (p *WorkerPool) load(i int) int {
	n := len(p.queues[i])
	if p.busy[i].Load() {
		n++
	}
	return n
}

// Submit queues fn on the least loaded worker, blocking while that
// queue is full. It returns false if the pool is closed.
func (p *WorkerPool) Submit(fn func()) bool {
	if fn == nil || !p.running.Load() {
		return false
	}
	select {
	case p.queues[p.shortest()] <- fn:
		return true
	case <-p.done:
		return false
	}
}

// TrySubmit queues fn without blocking. It returns false if the pool is
// closed or every queue is full; the caller then runs the work itself.
func (p *WorkerPool) TrySubmit(fn func()) bool {
	if fn == nil || !p.running.Load() {
		return false
	}
	select {
	case p.queues[p.shortest()] <- fn:
		return true
	default:
		return false
	}
}

// Close stops accepting work, runs what is already queued and waits for
// the workers to exit. Close is safe to call more than once.
func (p *WorkerPool) Close() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.done)
	p.wg.Wait()
}

// Workers returns the number of workers.
func (p *WorkerPool) Workers() int { return p.workers }

// IsRunning reports whether the pool accepts work.
func (p *WorkerPool) IsRunning() bool { return p.running.Load() }

// Pending returns the number of queued and running work items. The
// value is approximate while work is being submitted.
func (p *WorkerPool) Pending() int {
	n := int(p.active.Load())
	for _, q := range p.queues {
		n += len(q)
	}
	return n
}
