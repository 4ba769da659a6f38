// Package proc implements spec.md §3's Process data model and the
// PID table, parent/child bookkeeping, file-descriptor table ownership,
// and waitable zombie state machine spec.md §4.9 (component table row
// "Process/thread") describes. It ties together sched.Process (the
// scheduling surface), signal.State and signal.ProcessControl (per-process
// signal delivery), and mm/vmspace.Space (the address space), the same
// way the teacher's top-level mount.go wires together its independently
// testable subsystems into one running object.
package proc

import (
	"sync"

	"github.com/maestro-os/maestro/arch"
	"github.com/maestro-os/maestro/mm/vmspace"
	"github.com/maestro-os/maestro/sched"
	"github.com/maestro-os/maestro/signal"
)

// Credentials holds a process's real/effective/saved UID and GID plus
// supplementary groups, per spec.md §3.
type Credentials struct {
	UID, EUID, SUID uint32
	GID, EGID, SGID uint32
	Groups          []uint32
}

// FSState holds a process's working-directory context. Cwd and Chroot are
// `any` rather than *vfs.Entry: proc is built before vfs in the
// dependency order spec.md §2 lays out, the same forward-reference
// technique mm/vmspace.FileBacking.Node and mm/buddy.BackingRef.Node use
// for the node they point at.
type FSState struct {
	Cwd    any
	Chroot any
	Umask  uint32
}

var (
	_ sched.Process         = (*Process)(nil)
	_ signal.ProcessControl = (*Process)(nil)
)

// Process is one schedulable unit: PID/PPID, scheduling state, an
// optional address space (kernel threads have none), the saved interrupt
// frame, credentials, fs state, an owned or shared FD table, signal
// state, session/pgid, and exit status — exactly the field list spec.md
// §3 names for "Process".
type Process struct {
	mu sync.Mutex

	pid, ppid int32
	state     sched.State
	space     *vmspace.Space
	frame     *arch.Frame

	creds Credentials
	fs    FSState
	fds   *FDTable
	sig   *signal.State

	sessionID, pgid int32
	exitStatus      int32

	parent    *Process
	children  []int32
	childWait *sched.WaitQueue
}

func (p *Process) PID() int32  { return p.pid }
func (p *Process) PPID() int32 { return p.ppid }

func (p *Process) State() sched.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Process) SetState(s sched.State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = s
}

// SaveFrame implements sched.Process: stash the interrupted register
// frame on preemption.
func (p *Process) SaveFrame(f *arch.Frame) {
	p.mu.Lock()
	defer p.mu.Unlock()
	saved := *f
	p.frame = &saved
}

// RestoreFrame implements sched.Process: the frame to install before
// iret.
func (p *Process) RestoreFrame() *arch.Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frame
}

// Space returns the process's address space, or nil for a kernel thread.
func (p *Process) Space() *vmspace.Space { return p.space }

// Signals returns the process's signal state, for the syscall layer's
// sigaction/sigprocmask/kill implementations and the return-to-user-mode
// delivery call.
func (p *Process) Signals() *signal.State { return p.sig }

// Files returns the process's FD table.
func (p *Process) Files() *FDTable { return p.fds }

// Credentials returns a copy of the process's current credentials.
func (p *Process) Credentials() Credentials {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.creds
}

// SetCredentials overwrites the process's credentials (setuid/setgid
// family).
func (p *Process) SetCredentials(c Credentials) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.creds = c
}

// FS returns a copy of the process's fs state (cwd/chroot/umask).
func (p *Process) FS() FSState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fs
}

// SetFS overwrites the process's fs state.
func (p *Process) SetFS(fs FSState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fs = fs
}

// Session and ProcessGroup report the process's job-control identifiers.
func (p *Process) Session() int32      { return p.sessionID }
func (p *Process) ProcessGroup() int32 { return p.pgid }

// SetProcessGroup reassigns the process to a new process group (setpgid).
func (p *Process) SetProcessGroup(pgid int32) { p.pgid = pgid }

// Translate and Writable implement mm/usercopy.Space by delegating to the
// process's address space, so a *Process can be passed anywhere a
// usercopy.Space is expected. Both report false for a kernel thread with
// no address space.
func (p *Process) Translate(addr uintptr) (uintptr, bool) {
	if p.space == nil {
		return 0, false
	}
	return p.space.Translate(addr)
}

func (p *Process) Writable(addr uintptr) bool {
	if p.space == nil {
		return false
	}
	return p.space.Writable(addr)
}

// HasDeliverableSignal implements sched.Interruptible.
func (p *Process) HasDeliverableSignal() bool { return p.sig.HasDeliverableSignal() }
