package proc

import (
	"sync"
	"sync/atomic"

	"github.com/maestro-os/maestro/errno"
)

// OpenMax bounds the number of file descriptors a single table may hold,
// per spec.md §3's "IDs are unique and below OPEN_MAX" invariant.
const OpenMax = 1024

// FDFlags are the per-descriptor (not per-open-file) flags. FD_CLOEXEC is
// the only one spec.md §6 names.
type FDFlags uint32

const FDCloseOnExec FDFlags = 1

// OpenFile is spec.md §3's "Open file": a reference to a VFS entry (nil
// for a floating socket/pipe), a file-operations handle, open flags, and
// a current offset shared across every descriptor dup'd from it. Entry
// and Ops are `any` for the same forward-reference reason as
// FSState.Cwd: vfs.Entry/vfs.FileOps do not exist yet at this point in
// the dependency order.
type OpenFile struct {
	Entry any
	Ops   any
	Flags int32

	offset atomic.Int64
}

func (f *OpenFile) Offset() int64           { return f.offset.Load() }
func (f *OpenFile) SetOffset(v int64)       { f.offset.Store(v) }
func (f *OpenFile) AddOffset(d int64) int64 { return f.offset.Add(d) }

type descriptor struct {
	id    int
	flags FDFlags
	file  *OpenFile
}

// FDTable is the dense, sorted-by-id descriptor array spec.md §3
// describes, refcounted so clone-shared threads see the same table (the
// "share on thread-clone" half of spec.md §9's duplication rule).
type FDTable struct {
	mu      sync.Mutex
	entries []*descriptor // kept sorted by id
	refs    *int32
}

// NewFDTable returns an empty table with one reference.
func NewFDTable() *FDTable {
	refs := int32(1)
	return &FDTable{refs: &refs}
}

// Share returns the same table with its refcount incremented, for
// CLONE_FILES thread creation.
func (t *FDTable) Share() *FDTable {
	atomic.AddInt32(t.refs, 1)
	return t
}

// Release decrements the table's refcount and reports whether this was
// the last reference (the caller should then close every descriptor).
func (t *FDTable) Release() bool {
	return atomic.AddInt32(t.refs, -1) == 0
}

// Clone returns an independent copy of the table (new backing array, same
// *OpenFile pointers so the underlying open-file offset/flags are
// unaffected), for plain fork.
func (t *FDTable) Clone() *FDTable {
	t.mu.Lock()
	defer t.mu.Unlock()
	refs := int32(1)
	c := &FDTable{refs: &refs}
	for _, d := range t.entries {
		c.entries = append(c.entries, &descriptor{id: d.id, flags: d.flags, file: d.file})
	}
	return c
}

func (t *FDTable) indexOf(id int) int {
	lo, hi := 0, len(t.entries)
	for lo < hi {
		mid := (lo + hi) / 2
		if t.entries[mid].id < id {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// GetAvailableFD returns the lowest free id >= min, per spec.md §3.
func (t *FDTable) GetAvailableFD(min int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lowestFreeLocked(min)
}

func (t *FDTable) lowestFreeLocked(min int) int {
	candidate := min
	for _, d := range t.entries {
		if d.id < candidate {
			continue
		}
		if d.id == candidate {
			candidate++
			continue
		}
		break
	}
	return candidate
}

// Install assigns file the lowest free descriptor id >= min and returns
// it.
func (t *FDTable) Install(min int, file *OpenFile, flags FDFlags) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.lowestFreeLocked(min)
	if id >= OpenMax {
		return 0, errno.EMFILE
	}
	idx := t.indexOf(id)
	t.entries = append(t.entries, nil)
	copy(t.entries[idx+1:], t.entries[idx:])
	t.entries[idx] = &descriptor{id: id, flags: flags, file: file}
	return id, nil
}

// InstallAt installs file at an exact descriptor id, replacing and
// closing whatever was already there (dup2/dup3 semantics).
func (t *FDTable) InstallAt(id int, file *OpenFile, flags FDFlags) error {
	if id < 0 || id >= OpenMax {
		return errno.EBADF
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := t.indexOf(id)
	if idx < len(t.entries) && t.entries[idx].id == id {
		t.entries[idx] = &descriptor{id: id, flags: flags, file: file}
		return nil
	}
	t.entries = append(t.entries, nil)
	copy(t.entries[idx+1:], t.entries[idx:])
	t.entries[idx] = &descriptor{id: id, flags: flags, file: file}
	return nil
}

// Get returns the open file and flags bound to id.
func (t *FDTable) Get(id int) (*OpenFile, FDFlags, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := t.indexOf(id)
	if idx >= len(t.entries) || t.entries[idx].id != id {
		return nil, 0, false
	}
	d := t.entries[idx]
	return d.file, d.flags, true
}

// Close drops id from the table. The caller is responsible for invoking
// any deferred-unlink/last-close bookkeeping on the returned OpenFile.
func (t *FDTable) Close(id int) (*OpenFile, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := t.indexOf(id)
	if idx >= len(t.entries) || t.entries[idx].id != id {
		return nil, errno.EBADF
	}
	file := t.entries[idx].file
	t.entries = append(t.entries[:idx], t.entries[idx+1:]...)
	return file, nil
}

// Dup2 makes new refer to the same OpenFile (and therefore the same
// offset) as old, per spec.md §8's FD table property.
func (t *FDTable) Dup2(old, new int) error {
	t.mu.Lock()
	idx := t.indexOf(old)
	if idx >= len(t.entries) || t.entries[idx].id != old {
		t.mu.Unlock()
		return errno.EBADF
	}
	file := t.entries[idx].file
	t.mu.Unlock()
	if old == new {
		return nil
	}
	return t.InstallAt(new, file, 0)
}
