// Package sched implements the single-CPU cooperative round-robin
// scheduler described in spec.md §4.5: processes are kept in an ordered
// map keyed by PID, a timer tick picks the next Running process starting
// after the one that was interrupted, and the PIT's frequency adapts to
// the number of runnable processes. The locking discipline (one
// interrupt-masking mutex covering scheduler state) mirrors spec.md §5 and
// is built on internal/kirq; internal/kclock, the teacher's
// clock/simulated_clock.go analog, supplies the clock behind Uptime so it
// is deterministic in tests.
package sched

import (
	"sort"
	"time"

	"github.com/maestro-os/maestro/arch"
	"github.com/maestro-os/maestro/internal/kclock"
	"github.com/maestro-os/maestro/internal/kernlog"
	"github.com/maestro-os/maestro/internal/kirq"
	"github.com/maestro-os/maestro/internal/kmetrics"
)

// State is a process's scheduling state. It intentionally has no separate
// "ready" state: Running means runnable (whether or not it is the one
// presently executing), matching spec.md §4.5's use of "the first process
// in Running state that is ready".
type State int

const (
	Running State = iota
	Sleeping
	Stopped
	Zombie
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Sleeping:
		return "sleeping"
	case Stopped:
		return "stopped"
	case Zombie:
		return "zombie"
	default:
		return "unknown"
	}
}

// Process is the minimal surface the scheduler needs from a schedulable
// entity. proc.Process implements it; kernel threads with no address space
// implement it too.
type Process interface {
	PID() int32
	State() State
	SetState(State)
	// SaveFrame stashes the interrupted register frame, called on
	// preemption (spec.md §4.5 step 1).
	SaveFrame(*arch.Frame)
	// RestoreFrame returns the frame to install before iret (step 4). A
	// process that has never run returns nil and starts at its initial
	// entry frame instead (set up by whoever constructed it).
	RestoreFrame() *arch.Frame
}

// timerIRQ is the PIC line the PIT is wired to.
const timerIRQ = 0

// Scheduler owns the PID-ordered process table and the single
// interrupt-masking mutex serializing access to it.
type Scheduler struct {
	lock    *kirq.Mutex
	cpu     arch.CPU
	metrics *kmetrics.Registry
	log     *kernlog.Logger

	procs      map[int32]Process
	pids       []int32 // kept sorted ascending
	currentPID int32   // 0 means "no process currently selected"
	idle       func()

	clock  kclock.Clock
	bootAt time.Time
}

// New builds a Scheduler driving cpu's PIT and reporting through metrics.
// log may be nil: the scheduler stores it but does not write through it.
func New(cpu arch.CPU, metrics *kmetrics.Registry, log *kernlog.Logger) *Scheduler {
	var clock kclock.Clock = kclock.RealClock{}
	return &Scheduler{
		lock:    kirq.New(cpu),
		cpu:     cpu,
		metrics: metrics,
		log:     log,
		procs:   make(map[int32]Process),
		idle:    func() {},
		clock:   clock,
		bootAt:  clock.Now(),
	}
}

// Uptime reports how long this scheduler has been running, the way
// spec.md's kernel log line at boot vs. a later sysinfo(2) call would
// report elapsed time. Tests that need deterministic uptime construct
// their own Scheduler and drive it through NewWithClock instead.
func (s *Scheduler) Uptime() time.Duration { return s.clock.Now().Sub(s.bootAt) }

// NewWithClock is New but lets tests substitute a kclock.SimulatedClock so
// Uptime is deterministic instead of wall-clock-driven.
func NewWithClock(cpu arch.CPU, metrics *kmetrics.Registry, log *kernlog.Logger, clock kclock.Clock) *Scheduler {
	s := New(cpu, metrics, log)
	s.clock = clock
	s.bootAt = clock.Now()
	return s
}

// SetIdleFunc overrides the callback invoked when no process is runnable
// (spec.md §4.5 step 3, "switch to a per-CPU idle stack and halt").
func (s *Scheduler) SetIdleFunc(fn func()) { s.idle = fn }

// Add enrolls a process in the scheduler and recomputes the adaptive tick
// frequency.
func (s *Scheduler) Add(p Process) {
	s.lock.Lock()
	defer s.lock.Unlock()

	pid := p.PID()
	if _, exists := s.procs[pid]; exists {
		return
	}
	s.procs[pid] = p
	i := sort.Search(len(s.pids), func(i int) bool { return s.pids[i] >= pid })
	s.pids = append(s.pids, 0)
	copy(s.pids[i+1:], s.pids[i:])
	s.pids[i] = pid
	s.adaptFrequencyLocked()
}

// Remove drops a process (exited or reaped) from the scheduler.
func (s *Scheduler) Remove(pid int32) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if _, ok := s.procs[pid]; !ok {
		return
	}
	delete(s.procs, pid)
	for i, candidate := range s.pids {
		if candidate == pid {
			s.pids = append(s.pids[:i], s.pids[i+1:]...)
			break
		}
	}
	if s.currentPID == pid {
		s.currentPID = 0
	}
	s.adaptFrequencyLocked()
}

// Current returns the process the scheduler last switched to, or nil if
// none (idle).
func (s *Scheduler) Current() Process {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.procs[s.currentPID]
}

// UpdateTickRate recomputes the adaptive PIT frequency. Callers that
// change a process's State outside of Tick (wait-queue sleep/wake, signal
// delivery moving a process to Stopped/Zombie) must call this so the PIT
// reflects the new runnable count.
func (s *Scheduler) UpdateTickRate() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.adaptFrequencyLocked()
}

func (s *Scheduler) runnableCountLocked() int {
	count := 0
	for _, p := range s.procs {
		if p.State() == Running {
			count++
		}
	}
	return count
}

// adaptFrequencyLocked implements spec.md §4.5's adaptive tick rule: with
// >=2 runnable processes the PIT runs at 10*count Hz; with <=1 it is
// disabled, since a single process never yields involuntarily.
func (s *Scheduler) adaptFrequencyLocked() {
	count := s.runnableCountLocked()
	if s.metrics != nil {
		s.metrics.RunQueueDepth.Set(float64(count))
	}
	if count >= 2 {
		s.cpu.SetFrequency(uint32(10 * count))
	} else {
		s.cpu.SetFrequency(0)
	}
}

// Tick implements spec.md §4.5's tick(frame, ring) algorithm. frame is the
// interrupted register state; it is nil when called from a voluntary
// reschedule point (EndTick) that has no trapped user frame to save.
// Interrupts are already masked on entry (timer ISRs run with IF=0); Tick
// acknowledges the PIC before returning, matching "interrupts disabled
// during the switch and re-enabled after the PIC is acknowledged" — the
// caller's ISR epilogue restores IF once this returns.
func (s *Scheduler) Tick(frame *arch.Frame) {
	s.lock.Lock()
	defer s.lock.Unlock()

	// Step 1: save the interrupted frame into the current process.
	if frame != nil {
		if cur := s.procs[s.currentPID]; cur != nil {
			cur.SaveFrame(frame)
		}
	}

	// Steps 2-3: pick the next Running process in PID order after the
	// current one, wrapping around; idle if none is found.
	next := s.pickNextLocked()

	s.cpu.AcknowledgeIRQ(timerIRQ)

	if next == nil {
		s.currentPID = 0
		s.idle()
		return
	}

	switched := next.PID() != s.currentPID
	s.currentPID = next.PID()
	if switched && s.metrics != nil {
		s.metrics.ContextSwitches.Inc()
	}

	// Step 4: restore the chosen frame into the live interrupt frame so
	// the caller's iret resumes it.
	if frame != nil {
		if restored := next.RestoreFrame(); restored != nil {
			*frame = *restored
		}
	}
}

// EndTick forces an immediate reschedule from kernel code that is not
// itself inside a trap (e.g. a wait-queue going to sleep). Per spec.md
// §4.5, callers must not hold any lock that an interrupt handler might
// take, since in the real kernel this is a software interrupt that can
// itself be taken re-entrantly against the caller's own critical
// sections.
func (s *Scheduler) EndTick() {
	s.Tick(nil)
}

// pickNextLocked implements steps 2-3 of tick(): scan PID order starting
// just after the currently selected process, wrapping around once; return
// the first Running process found, or nil if none is runnable.
func (s *Scheduler) pickNextLocked() Process {
	n := len(s.pids)
	if n == 0 {
		return nil
	}

	start := 0
	if s.currentPID != 0 {
		for i, pid := range s.pids {
			if pid == s.currentPID {
				start = i + 1
				break
			}
		}
	}

	for i := 0; i < n; i++ {
		idx := (start + i) % n
		p := s.procs[s.pids[idx]]
		if p.State() == Running {
			return p
		}
	}
	return nil
}
