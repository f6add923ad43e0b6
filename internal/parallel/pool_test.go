package parallel

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestWorkerPool_Create(t *testing.T) {
	pool := NewWorkerPool(4)
	defer pool.Close()

	if pool.Workers() != 4 {
		t.Errorf("Workers() = %d, want 4", pool.Workers())
	}
	if !pool.IsRunning() {
		t.Error("pool should be running after creation")
	}
}

func TestWorkerPool_DefaultWorkers(t *testing.T) {
	for _, n := range []int{0, -3} {
		pool := NewWorkerPool(n)
		if pool.Workers() != runtime.GOMAXPROCS(0) {
			t.Errorf("NewWorkerPool(%d).Workers() = %d, want GOMAXPROCS", n, pool.Workers())
		}
		pool.Close()
	}
}

func TestWorkerPool_Submit(t *testing.T) {
	pool := NewWorkerPool(4)
	defer pool.Close()

	var counter atomic.Int64
	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		if !pool.Submit(func() {
			defer wg.Done()
			counter.Add(1)
		}) {
			t.Fatal("Submit rejected work on a running pool")
		}
	}
	wg.Wait()

	if counter.Load() != 100 {
		t.Errorf("counter = %d, want 100", counter.Load())
	}
}

func TestWorkerPool_TrySubmitFull(t *testing.T) {
	pool := NewWorkerPool(1)
	defer pool.Close()

	block := make(chan struct{})
	started := make(chan struct{})
	pool.Submit(func() {
		close(started)
		<-block
	})
	<-started

	accepted := 0
	for range 100 {
		if pool.TrySubmit(func() {}) {
			accepted++
		}
	}
	close(block)

	if accepted != 8 {
		t.Errorf("TrySubmit accepted %d items into a queue of 8", accepted)
	}
}

func TestWorkerPool_Pending(t *testing.T) {
	pool := NewWorkerPool(2)
	defer pool.Close()

	block := make(chan struct{})
	for range 2 {
		pool.Submit(func() { <-block })
	}

	waitFor(t, func() bool { return pool.Pending() == 2 })
	close(block)
	waitFor(t, func() bool { return pool.Pending() == 0 })
}

func TestWorkerPool_PrefersIdleWorker(t *testing.T) {
	pool := NewWorkerPool(2)
	defer pool.Close()

	block := make(chan struct{})
	defer close(block)
	started := make(chan struct{})
	pool.Submit(func() {
		close(started)
		<-block
	})
	<-started

	ran := make(chan struct{})
	pool.Submit(func() { close(ran) })
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("second item waited behind a blocked worker")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestWorkerPool_CloseDrains(t *testing.T) {
	pool := NewWorkerPool(2)

	var counter atomic.Int64
	for range 10 {
		pool.Submit(func() {
			time.Sleep(time.Millisecond)
			counter.Add(1)
		})
	}
	pool.Close()

	if counter.Load() != 10 {
		t.Errorf("Close ran %d of 10 queued items", counter.Load())
	}
	if pool.IsRunning() {
		t.Error("pool running after Close")
	}
	if pool.Submit(func() {}) || pool.TrySubmit(func() {}) {
		t.Error("closed pool accepted work")
	}
	pool.Close() // second Close is a no-op
}

func TestForRowsCoversEveryRow(t *testing.T) {
	pool := NewWorkerPool(4)
	defer pool.Close()

	for _, tc := range []struct{ n, grain int }{{0, 8}, {1, 8}, {100, 7}, {1000, 1}, {64, 64}} {
		seen := make([]atomic.Int32, tc.n)
		ForRows(pool, tc.n, tc.grain, func(lo, hi int) {
			for i := lo; i < hi; i++ {
				seen[i].Add(1)
			}
		})
		for i := range seen {
			if c := seen[i].Load(); c != 1 {
				t.Fatalf("n=%d grain=%d: row %d visited %d times", tc.n, tc.grain, i, c)
			}
		}
	}
}

func TestForRowsWithBusyPool(t *testing.T) {
	pool := NewWorkerPool(1)
	defer pool.Close()

	block := make(chan struct{})
	pool.Submit(func() { <-block })
	defer close(block)

	var rows atomic.Int32
	ForRows(pool, 50, 5, func(lo, hi int) { rows.Add(int32(hi - lo)) })
	if rows.Load() != 50 {
		t.Errorf("rows = %d, want 50", rows.Load())
	}
}

func TestForRowsNilPool(t *testing.T) {
	calls := 0
	ForRows(nil, 10, 3, func(lo, hi int) {
		calls++
		if lo != 0 || hi != 10 {
			t.Errorf("band = [%d,%d)", lo, hi)
		}
	})
	if calls != 1 {
		t.Errorf("calls = %d", calls)
	}
}
