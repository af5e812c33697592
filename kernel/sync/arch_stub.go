//go:build !amd64

package sync

import "sync/atomic"

// archAcquireSpinlock is the portable fallback for architectures without a
// hand-written busy-wait primitive yet. It spins on a plain CAS with no
// PAUSE-equivalent hint.
func archAcquireSpinlock(state *uint32, attemptsBeforeYielding uint32) {
	for !atomic.CompareAndSwapUint32(state, 0, 1) {
		if yieldFn != nil {
			yieldFn()
		}
	}
}
