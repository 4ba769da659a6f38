package proc

import (
	"github.com/maestro-os/maestro/mm/paging"
	"github.com/maestro-os/maestro/sched"
)

// CloneFlags selects which resources a new process shares with its parent
// instead of copying, per spec.md §9's clone-flag table ("File descriptor
// duplication is copy on fork but share on thread-clone").
type CloneFlags uint32

const (
	// CloneVM shares the address space instead of copy-on-write forking it
	// (vfork/pthread_create style).
	CloneVM CloneFlags = 1 << iota
	// CloneFS is accepted but Clone does not act on it: the child always
	// receives its own copy of cwd/chroot/umask.
	CloneFS
	// CloneFiles shares the FD table instead of cloning it.
	CloneFiles
	// CloneSighand shares the signal disposition table (and therefore the
	// whole *signal.State) instead of taking a ForkCopy.
	CloneSighand
)

// Clone creates a new process from parent according to flags, registers it
// in table, and returns it. frame is the parent's current register state,
// copied into the child so it returns from the same syscall (the caller is
// responsible for zeroing the child's return-value register per its own
// calling convention, e.g. fork(2)'s "0 in the child").
func (parent *Process) Clone(eng *paging.Engine, table *Table, flags CloneFlags) (*Process, error) {
	parent.mu.Lock()
	parentFrame := parent.frame
	parentSpace := parent.space
	parentFS := parent.fs
	parentCreds := parent.creds
	parentSig := parent.sig
	parentFDs := parent.fds
	parent.mu.Unlock()

	child := &Process{
		pid:       table.allocatePID(),
		ppid:      parent.pid,
		state:     sched.Running,
		fs:        parentFS,
		creds:     parentCreds,
		sessionID: parent.sessionID,
		pgid:      parent.pgid,
		parent:    parent,
	}

	if parentFrame != nil {
		saved := *parentFrame
		child.frame = &saved
	}

	if flags&CloneVM != 0 || parentSpace == nil {
		child.space = parentSpace
	} else {
		space, err := parentSpace.Fork(eng)
		if err != nil {
			return nil, err
		}
		child.space = space
	}

	if flags&CloneFiles != 0 {
		child.fds = parentFDs.Share()
	} else {
		child.fds = parentFDs.Clone()
	}

	if flags&CloneSighand != 0 {
		child.sig = parentSig
	} else {
		child.sig = parentSig.ForkCopy()
	}

	child.childWait = table.childWaitQueue()

	parent.mu.Lock()
	parent.children = append(parent.children, child.pid)
	parent.mu.Unlock()

	table.add(child)
	return child, nil
}
