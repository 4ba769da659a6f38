package proc

import (
	"sync"

	"github.com/maestro-os/maestro/arch"
	"github.com/maestro-os/maestro/internal/kirq"
	"github.com/maestro-os/maestro/mm/vmspace"
	"github.com/maestro-os/maestro/sched"
	"github.com/maestro-os/maestro/signal"
)

// Table is the kernel's PID table: every live process, keyed by PID, kept
// in sync with the scheduler's own process set (spec.md §3's "PID table"
// and §4.5's PID-ordered process map are the same set of processes viewed
// from two angles).
type Table struct {
	mu      sync.Mutex
	byPID   map[int32]*Process
	nextPID int32

	sched *sched.Scheduler
	lock  *kirq.Mutex
}

// NewTable returns an empty table driving the given scheduler.
func NewTable(scheduler *sched.Scheduler, cpu arch.CPU) *Table {
	return &Table{
		byPID: make(map[int32]*Process),
		// PID 1 is reserved for NewInit; ordinary allocation starts at 2.
		nextPID: 2,
		sched:   scheduler,
		lock:    kirq.New(cpu),
	}
}

// childWaitQueue returns a wait queue a process can block its Wait(2) on.
// Every process gets its own queue instance since only its own children
// ever wake it.
func (t *Table) childWaitQueue() *sched.WaitQueue {
	return sched.NewWaitQueue(t.sched, t.lock)
}

func (t *Table) allocatePID() int32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	for {
		pid := t.nextPID
		t.nextPID++
		if t.nextPID < 0 { // wrapped past int32 max; restart the search
			t.nextPID = 2
		}
		if _, taken := t.byPID[pid]; !taken {
			return pid
		}
	}
}

// Get looks up a process by PID.
func (t *Table) Get(pid int32) (*Process, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.byPID[pid]
	return p, ok
}

// add registers p in both the PID table and the scheduler.
func (t *Table) add(p *Process) {
	t.mu.Lock()
	t.byPID[p.pid] = p
	t.mu.Unlock()
	t.sched.Add(p)
}

// Remove drops pid from both the PID table and the scheduler, once it has
// been reaped by its parent's Wait.
func (t *Table) Remove(pid int32) {
	t.mu.Lock()
	delete(t.byPID, pid)
	t.mu.Unlock()
	t.sched.Remove(pid)
}

// NewInit constructs PID 1, the ancestor of every other process: it has no
// parent (PPID 0) and leads its own session and process group, with a fresh
// FD table and signal state.
func (t *Table) NewInit(space *vmspace.Space) *Process {
	p := &Process{
		pid:       1,
		ppid:      0,
		state:     sched.Running,
		space:     space,
		fs:        FSState{Umask: 0o022},
		fds:       NewFDTable(),
		sig:       signal.NewState(),
		sessionID: 1,
		pgid:      1,
	}
	p.childWait = t.childWaitQueue()
	t.add(p)
	return p
}
