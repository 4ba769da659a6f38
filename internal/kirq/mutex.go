// Package kirq implements the kernel's interrupt-masking mutex: the single
// synchronization primitive spec.md §5 describes for a strictly
// cooperative, single-CPU kernel, where a critical section is protected by
// disabling interrupts rather than spinning or blocking.
package kirq

import "sync"

// InterruptController is the minimal CPU surface a Mutex needs to mask and
// restore interrupts; arch.CPU satisfies it.
type InterruptController interface {
	DisableInterrupts() (prev bool)
	RestoreInterrupts(prev bool)
}

// Mutex guards a critical section by disabling interrupts for its
// duration. Because the modeled kernel is single-CPU and cooperative, this
// is sufficient to exclude both other "threads" (which only run between
// ticks) and interrupt handlers (which cannot preempt a masked CPU).
//
// A host-side sync.Mutex additionally serializes Lock/Unlock so this type
// is safe to exercise from Go's concurrent test runner, where multiple
// goroutines may stand in for independent simulated CPUs; it is not
// reentrant, matching the kernel's own rule that nothing may call back
// into a held critical section.
type Mutex struct {
	cpu  InterruptController
	mu   sync.Mutex
	prev bool
}

// New creates a Mutex that masks interrupts on cpu.
func New(cpu InterruptController) *Mutex { return &Mutex{cpu: cpu} }

// Lock disables interrupts, remembering their prior state for Unlock.
func (m *Mutex) Lock() {
	m.mu.Lock()
	m.prev = m.cpu.DisableInterrupts()
}

// Unlock restores interrupts to their pre-Lock state.
func (m *Mutex) Unlock() {
	m.cpu.RestoreInterrupts(m.prev)
	m.mu.Unlock()
}

// Guarded runs fn with the mutex held, restoring interrupts even if fn
// panics.
func (m *Mutex) Guarded(fn func()) {
	m.Lock()
	defer m.Unlock()
	fn()
}
