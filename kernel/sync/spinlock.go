// Package sync provides the spinlock primitive every shared mutable
// structure in the core (the buddy allocator's free lists, the slab
// allocator's per-class caches, an AddressSpace's region list) serializes
// access through, per spec.md §2's "single shared spinlock" note on PMM/VMM.
//
// Grounded on gopher-os/kernel/sync/spinlock.go: same Acquire/TryToAcquire/
// Release API, same arch-specific busy-wait seam.
package sync

import "sync/atomic"

// yieldFn is called between failed acquire attempts. It is a no-op until a
// scheduler exists (spec.md §6 is out of scope for the core); tests
// substitute runtime.Gosched so goroutine-based callers make progress.
var yieldFn func()

// Spinlock is a lock where a task trying to acquire it busy-waits until the
// lock becomes available, rather than blocking. Appropriate for the short
// critical sections in the PMM, VMM and heap allocator, none of which may
// call into a scheduler that does not exist yet.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock can be acquired by the currently active
// task. Re-acquiring a lock already held by the current task deadlocks.
func (l *Spinlock) Acquire() {
	archAcquireSpinlock(&l.state, 1)
}

// TryToAcquire attempts to acquire the lock without blocking, returning true
// if it succeeded.
func (l *Spinlock) TryToAcquire() bool {
	return atomic.SwapUint32(&l.state, 1) == 0
}

// Release relinquishes a held lock. Calling Release on a free lock has no
// effect.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, 0)
}

// archAcquireSpinlock spins, issuing a PAUSE between attempts and calling
// yieldFn (if set) after every attemptsBeforeYielding failures, until it
// wins the exchange on state. Implemented in arch_amd64.s; arch_stub.go provides a
// portable fallback for other architectures.
func archAcquireSpinlock(state *uint32, attemptsBeforeYielding uint32)
