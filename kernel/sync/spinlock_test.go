package sync

import (
	"runtime"
	"sync"
	"testing"
	"time"
)

func TestSpinlock(t *testing.T) {
	defer func(orig func()) { yieldFn = orig }(yieldFn)
	yieldFn = runtime.Gosched

	var (
		sl         Spinlock
		wg         sync.WaitGroup
		numWorkers = 10
	)

	sl.Acquire()

	if sl.TryToAcquire() {
		t.Error("expected TryToAcquire to return false while the lock is held")
	}

	wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go func() {
			sl.Acquire()
			sl.Release()
			wg.Done()
		}()
	}

	<-time.After(100 * time.Millisecond)
	sl.Release()
	wg.Wait()
}
