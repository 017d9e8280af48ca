// Package sync provides the primitives used to share state between interrupt
// handlers and the code they interrupt. The kernel runs on a single CPU so
// mutual exclusion is achieved by masking interrupts rather than spinning.
package sync

import (
	"pluggos/kernel"
	"pluggos/kernel/cpu"
	"sync/atomic"
)

var (
	// The following functions are mocked by tests and are automatically
	// inlined by the compiler.
	interruptsEnabledFn = cpu.InterruptsEnabled
	disableInterruptsFn = cpu.DisableInterrupts
	enableInterruptsFn  = cpu.EnableInterrupts

	errLockReentered = &kernel.Error{Module: "sync", Message: "IRQ lock acquired while already held"}
)

// InterruptState records whether maskable interrupts were enabled when a
// critical section was entered.
type InterruptState bool

// MaskInterrupts disables maskable interrupts and returns the previous
// interrupt state which must be passed to a matching RestoreInterrupts call.
// Masked sections may nest.
func MaskInterrupts() InterruptState {
	state := InterruptState(interruptsEnabledFn())
	if state {
		disableInterruptsFn()
	}
	return state
}

// RestoreInterrupts re-enables interrupts if they were enabled when the
// matching MaskInterrupts call was made.
func RestoreInterrupts(state InterruptState) {
	if state {
		enableInterruptsFn()
	}
}

// IRQLock guards state that is shared between an interrupt callback and the
// idle loop. Acquiring the lock masks interrupts for the duration of the
// critical section. Since there is a single CPU, finding the lock already held
// means that a handler interrupted a critical section of the same lock; this
// would deadlock on a real spinlock so it is reported as a fatal error.
type IRQLock struct {
	state uint32
	saved InterruptState
}

// Acquire masks interrupts and takes the lock.
func (l *IRQLock) Acquire() {
	saved := MaskInterrupts()
	if !atomic.CompareAndSwapUint32(&l.state, 0, 1) {
		panic(errLockReentered)
	}
	l.saved = saved
}

// Release drops the lock and restores the interrupt state captured by
// Acquire.
func (l *IRQLock) Release() {
	saved := l.saved
	atomic.StoreUint32(&l.state, 0)
	RestoreInterrupts(saved)
}

// ReleaseAndWait drops the lock without unmasking interrupts and calls wait,
// which must enable interrupts and halt as a single step (see
// cpu.WaitForInterrupt). An interrupt raised after the caller checked the
// guarded state therefore still wakes the CPU. The interrupt state captured
// by Acquire is restored once wait returns.
func (l *IRQLock) ReleaseAndWait(wait func()) {
	saved := l.saved
	atomic.StoreUint32(&l.state, 0)
	wait()
	if !saved {
		disableInterruptsFn()
	}
}

// Counter is a single-word counter that may be updated from interrupt
// context and read from anywhere without masking interrupts.
type Counter struct {
	value uint64
}

// Inc increments the counter and returns its new value.
func (c *Counter) Inc() uint64 {
	return atomic.AddUint64(&c.value, 1)
}

// Dec decrements the counter and returns its new value.
func (c *Counter) Dec() uint64 {
	return atomic.AddUint64(&c.value, ^uint64(0))
}

// Load returns the current counter value.
func (c *Counter) Load() uint64 {
	return atomic.LoadUint64(&c.value)
}

// StoreMax sets the counter to v if v is larger than the current value.
func (c *Counter) StoreMax(v uint64) {
	for {
		cur := atomic.LoadUint64(&c.value)
		if v <= cur || atomic.CompareAndSwapUint64(&c.value, cur, v) {
			return
		}
	}
}
