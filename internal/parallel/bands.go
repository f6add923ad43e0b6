package parallel

import (
	"sync/atomic"
)

// ForRows splits [0, n) into bands of at least grain rows and calls fn
// once per band. Free pool workers pick up bands, and the calling
// goroutine claims bands too, so ForRows finishes even when every worker
// is busy or pool is nil. It returns after fn has returned for every band.
func ForRows(pool *WorkerPool, n, grain int, fn func(lo, hi int)) {
	if n <= 0 {
		return
	}
	grain = max(grain, 1)
	bands := (n + grain - 1) / grain
	if pool == nil || bands == 1 {
		fn(0, n)
		return
	}

	var next, finished atomic.Int64
	done := make(chan struct{})
	work := func() {
		for {
			b := int(next.Add(1) - 1)
			if b >= bands {
				return
			}
			lo := b * grain
			fn(lo, min(lo+grain, n))
			if finished.Add(1) == int64(bands) {
				close(done)
			}
		}
	}

	helpers := min(bands-1, pool.Workers())
	for range helpers {
		if !pool.TrySubmit(work) {
			break
		}
	}
	work()
	<-done
}
