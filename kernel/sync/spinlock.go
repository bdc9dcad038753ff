// Package sync provides synchronization primitives that work without a
// scheduler.
package sync

import "sync/atomic"

// spinAttemptsBeforeYield is the number of times Acquire polls a held lock
// before invoking yieldFn.
const spinAttemptsBeforeYield = 1000

var (
	// yieldFn is invoked by Acquire while busy-waiting. It stays nil until
	// a scheduler exists; tests replace it with runtime.Gosched.
	yieldFn func()
)

// Spinlock implements a lock where each context trying to acquire it
// busy-waits till the lock becomes available. The zero value is an unlocked
// Spinlock.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock can be acquired by the currently active
// context. There is no timeout: any attempt to re-acquire a lock already held
// by the current context will cause a deadlock.
func (l *Spinlock) Acquire() {
	acquireSpinlock(&l.state, spinAttemptsBeforeYield)
}

// TryToAcquire attempts to acquire the lock and returns true if the lock could
// be acquired or false otherwise.
func (l *Spinlock) TryToAcquire() bool {
	return atomic.CompareAndSwapUint32(&l.state, 0, 1)
}

// Release relinquishes a held lock allowing other contexts to acquire it.
// Calling Release while the lock is free has no effect.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, 0)
}

// acquireSpinlock implements a test-and-test-and-set loop: the atomic swap is
// only retried after a plain atomic load observes the lock as free.
func acquireSpinlock(state *uint32, attemptsBeforeYielding uint32) {
	for {
		if atomic.SwapUint32(state, 1) == 0 {
			return
		}

		for attempts := attemptsBeforeYielding; atomic.LoadUint32(state) != 0; {
			if attempts--; attempts == 0 {
				if yieldFn != nil {
					yieldFn()
				}
				attempts = attemptsBeforeYielding
			}
		}
	}
}
