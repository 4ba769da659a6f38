package sched

import (
	"runtime"

	"github.com/maestro-os/maestro/common"
	"github.com/maestro-os/maestro/errno"
	"github.com/maestro-os/maestro/internal/kirq"
)

// Interruptible extends Process with the one bit a wait queue needs from
// the signal layer: whether a signal is pending that would interrupt an
// interruptible sleep (spec.md §5, "Cancellation"). proc.Process
// implements this once the signal state is wired in; a Process that
// doesn't implement it is treated as never interruptible (kernel threads
// with no signal state).
type Interruptible interface {
	Process
	// HasDeliverableSignal reports a pending signal not in the blocked
	// mask, i.e. one that would unblock an interruptible wait with
	// EINTR.
	HasDeliverableSignal() bool
}

// WaitQueue implements spec.md §5's wait_until/wake_next/wake_all
// suspension points. Waiters are held in a FIFO, the same generic
// linked-list queue the teacher uses for ordered internal work elsewhere
// (common.Queue), reused here rather than reinvented.
type WaitQueue struct {
	lock    *kirq.Mutex
	sched   *Scheduler
	waiters common.Queue[Process]
}

// NewWaitQueue creates a wait queue whose predicate re-evaluation is
// guarded by lock and whose sleeping processes are rescheduled through
// sched.
func NewWaitQueue(sched *Scheduler, lock *kirq.Mutex) *WaitQueue {
	return &WaitQueue{lock: lock, sched: sched, waiters: common.NewLinkedListQueue[Process]()}
}

// WaitUntil atomically re-evaluates predicate under the queue's lock; if
// unsatisfied it marks p Sleeping, enqueues it, and yields via EndTick,
// looping on wake until predicate holds or an interruptible signal
// arrives (EINTR).
func (w *WaitQueue) WaitUntil(p Process, predicate func() bool) error {
	w.lock.Lock()
	if predicate() {
		w.lock.Unlock()
		return nil
	}
	p.SetState(Sleeping)
	w.waiters.Push(p)
	w.lock.Unlock()
	w.sched.UpdateTickRate()

	for {
		w.sched.EndTick()
		runtime.Gosched()

		if ip, ok := p.(Interruptible); ok && ip.HasDeliverableSignal() {
			w.removeWaiter(p)
			return errno.EINTR
		}

		if p.State() != Running {
			continue
		}

		w.lock.Lock()
		if predicate() {
			w.lock.Unlock()
			return nil
		}
		// Spurious wake (predicate still false): go back to sleep.
		p.SetState(Sleeping)
		w.waiters.Push(p)
		w.lock.Unlock()
		w.sched.UpdateTickRate()
	}
}

// WakeNext moves the longest-waiting process back to Running, if any.
func (w *WaitQueue) WakeNext() {
	w.lock.Lock()
	woken := w.wakeOneLocked()
	w.lock.Unlock()
	if woken {
		w.sched.UpdateTickRate()
	}
}

// WakeAll moves every waiting process back to Running.
func (w *WaitQueue) WakeAll() {
	w.lock.Lock()
	any := false
	for w.wakeOneLocked() {
		any = true
	}
	w.lock.Unlock()
	if any {
		w.sched.UpdateTickRate()
	}
}

func (w *WaitQueue) wakeOneLocked() bool {
	if w.waiters.IsEmpty() {
		return false
	}
	p := w.waiters.Pop()
	p.SetState(Running)
	return true
}

// removeWaiter drops p from the waiter queue after it was woken by signal
// rather than by WakeNext/WakeAll.
func (w *WaitQueue) removeWaiter(p Process) {
	w.lock.Lock()
	defer w.lock.Unlock()

	n := w.waiters.Len()
	for i := 0; i < n; i++ {
		cand := w.waiters.Pop()
		if cand.PID() == p.PID() {
			continue
		}
		w.waiters.Push(cand)
	}
}
