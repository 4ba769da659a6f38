package proc

import (
	"github.com/maestro-os/maestro/errno"
	"github.com/maestro-os/maestro/sched"
	"github.com/maestro-os/maestro/signal"
)

// Exit status encoding matches the Linux wait(2) wire format spec.md §8's
// scenario 6 checks against (WIFSIGNALED/WTERMSIG), so a userspace libc's
// macros work unmodified against values this package produces.

func encodeExited(code int32) int32        { return (code & 0xff) << 8 }
func encodeSignaled(sig signal.Number) int32 { return int32(sig) & 0x7f }
func encodeStopped(sig signal.Number) int32  { return (int32(sig) << 8) | 0x7f }

func WIFEXITED(status int32) bool    { return status&0x7f == 0 }
func WEXITSTATUS(status int32) int32 { return (status >> 8) & 0xff }
func WIFSIGNALED(status int32) bool  { return (status&0x7f)+1>>1 > 0 && status&0x7f != 0x7f }
func WTERMSIG(status int32) int32    { return status & 0x7f }
func WIFSTOPPED(status int32) bool   { return status&0xff == 0x7f }
func WSTOPSIG(status int32) int32    { return (status >> 8) & 0xff }
func WIFCONTINUED(status int32) bool { return status == 0xffff }

// NotifyParent implements signal.ProcessControl: a default signal action
// on this process transitions its own state and wakes its parent's wait
// queue, per spec.md §4.6 ("notifies the parent").
func (p *Process) NotifyParent(termsig signal.Number, newState signal.ProcessState) {
	p.mu.Lock()
	switch newState {
	case signal.StateZombie:
		p.state = sched.Zombie
		p.exitStatus = encodeSignaled(termsig)
	case signal.StateStopped:
		p.state = sched.Stopped
		p.exitStatus = encodeStopped(termsig)
	case signal.StateRunning:
		p.state = sched.Running
	}
	parent := p.parent
	p.mu.Unlock()

	if parent != nil && parent.childWait != nil {
		parent.childWait.WakeAll()
	}
}

// Exit implements a normal (non-signal) process termination: moves the
// process to Zombie with an exit(2)-style status and wakes the parent.
func (p *Process) Exit(code int32) {
	p.mu.Lock()
	p.state = sched.Zombie
	p.exitStatus = encodeExited(code)
	parent := p.parent
	p.mu.Unlock()

	if parent != nil && parent.childWait != nil {
		parent.childWait.WakeAll()
	}
}

// Wait implements spec.md §3's "cleared by parent's wait": blocks until a
// child (wantPID, or any child when wantPID is 0) becomes Zombie, then
// reaps it from table and returns its pid and encoded status.
func (p *Process) Wait(table *Table, wantPID int32) (int32, int32, error) {
	for {
		if pid, status, ok := p.reapOneLocked(table, wantPID); ok {
			return pid, status, nil
		}

		p.mu.Lock()
		hasChildren := len(p.children) > 0
		p.mu.Unlock()
		if !hasChildren {
			return 0, 0, errno.ECHILD
		}

		err := p.childWait.WaitUntil(p, func() bool {
			return p.hasZombieChild(table, wantPID)
		})
		if err != nil {
			return 0, 0, err
		}
	}
}

func (p *Process) hasZombieChild(table *Table, wantPID int32) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, cid := range p.children {
		if wantPID != 0 && cid != wantPID {
			continue
		}
		if child, ok := table.Get(cid); ok && child.State() == sched.Zombie {
			return true
		}
	}
	return false
}

func (p *Process) reapOneLocked(table *Table, wantPID int32) (int32, int32, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, cid := range p.children {
		if wantPID != 0 && cid != wantPID {
			continue
		}
		child, ok := table.Get(cid)
		if !ok || child.State() != sched.Zombie {
			continue
		}
		status := child.exitStatus
		p.children = append(p.children[:i:i], p.children[i+1:]...)
		table.Remove(cid)
		return cid, status, true
	}
	return 0, 0, false
}
