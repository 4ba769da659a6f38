package syscall

import (
	"github.com/maestro-os/maestro/errno"
	"github.com/maestro-os/maestro/proc"
	"github.com/maestro-os/maestro/signal"
	"github.com/maestro-os/maestro/vfs"
)

// ProcContext extends Context with the calling process and its VFS
// resolver, the pieces a real handler body needs beyond raw register
// decoding.
type ProcContext struct {
	*Context
	Process  *proc.Process
	Table    *proc.Table
	Resolver *vfs.Resolver
	Mounts   *vfs.Mounts
}

// Open-flag bits, per spec.md §6.
const (
	ORDONLY = 0
	OWRONLY = 1 << 0
	ORDWR   = 1 << 1
	OCREAT  = 1 << 6
	OEXCL   = 1 << 7
	OTRUNC  = 1 << 9
	OAPPEND = 1 << 10
)

// RegisterDefault installs the baseline syscall set this kernel exposes:
// process lifecycle (exit/waitpid/kill/getpid) and file I/O
// (open/read/write/close/unlink); fork is not registered. Each handler closes over pc so it can reach
// the process, its FD table, and the resolver — the same wiring a real
// dispatcher would thread through per-CPU/per-process state instead of a
// Context value.
func RegisterDefault(t *Table, pc func(ctx *Context) *ProcContext) {
	t.Register(1, "exit", func(ctx *Context) (uintptr, error) {
		p := pc(ctx)
		p.Process.Exit(int32(ctx.Number(0)))
		return 0, nil
	})

	t.Register(20, "getpid", func(ctx *Context) (uintptr, error) {
		p := pc(ctx)
		return uintptr(p.Process.PID()), nil
	})

	t.Register(62, "kill", func(ctx *Context) (uintptr, error) {
		p := pc(ctx)
		target, ok := p.Table.Get(int32(ctx.Number(0)))
		if !ok {
			return 0, errno.ESRCH
		}
		n := signal.Number(ctx.Number(1))
		target.Signals().Raise(n)
		return 0, nil
	})

	t.Register(7, "waitpid", func(ctx *Context) (uintptr, error) {
		p := pc(ctx)
		wantPID := int32(ctx.Number(0))
		pid, status, err := p.Process.Wait(p.Table, wantPID)
		if err != nil {
			return 0, err
		}
		if err := ctx.WritePtr(1, 4, encodeLE32(status)); err != nil {
			return 0, err
		}
		return uintptr(pid), nil
	})

	t.Register(2, "open", func(ctx *Context) (uintptr, error) {
		p := pc(ctx)
		path, err := ctx.ReadString(0, 4096)
		if err != nil {
			return 0, err
		}
		flags := ctx.Number(1)
		mode := uint32(ctx.Number(2))

		cwd, chroot := fsEntries(p.Process)
		res, err := p.Resolver.Resolve(path, vfs.Settings{
			Cwd:        cwd,
			Chroot:     chroot,
			FollowLink: true,
			Create:     flags&OCREAT != 0,
		})
		if err != nil {
			return 0, err
		}

		var entry *vfs.Entry
		if res.Missing != nil {
			entry, err = p.Mounts.CacheFor(res.Missing.Parent).Create(res.Missing.Parent, res.Missing.Name, vfs.KindRegular, mode, vfs.DeviceID{})
			if err != nil {
				return 0, err
			}
		} else {
			if flags&OEXCL != 0 {
				return 0, errno.EEXIST
			}
			entry = res.Found
		}
		entry.IncRef()

		ops := vfs.Open(entry.Node())
		of := &proc.OpenFile{Entry: entry, Ops: ops, Flags: int32(flags)}
		id, err := p.Process.Files().Install(0, of, 0)
		if err != nil {
			entry.DecRef(1)
			return 0, err
		}
		return uintptr(id), nil
	})

	t.Register(3, "read", func(ctx *Context) (uintptr, error) {
		p := pc(ctx)
		of, _, ok := p.Process.Files().Get(int(ctx.Number(0)))
		if !ok {
			return 0, errno.EBADF
		}
		n := int(ctx.Number(2))
		buf := make([]byte, n)
		entry := of.Entry.(*vfs.Entry)
		ops := of.Ops.(vfs.FileOps)
		got, err := ops.Read(entry.Node(), of.Offset(), buf)
		if err != nil {
			return 0, err
		}
		if err := ctx.WritePtr(1, got, buf[:got]); err != nil {
			return 0, err
		}
		of.AddOffset(int64(got))
		return uintptr(got), nil
	})

	t.Register(4, "write", func(ctx *Context) (uintptr, error) {
		p := pc(ctx)
		of, _, ok := p.Process.Files().Get(int(ctx.Number(0)))
		if !ok {
			return 0, errno.EBADF
		}
		n := int(ctx.Number(2))
		buf, err := ctx.ReadPtr(1, n)
		if err != nil {
			return 0, err
		}
		entry := of.Entry.(*vfs.Entry)
		ops := of.Ops.(vfs.FileOps)
		written, err := ops.Write(entry.Node(), of.Offset(), buf)
		if err != nil {
			return 0, err
		}
		of.AddOffset(int64(written))
		return uintptr(written), nil
	})

	t.Register(6, "close", func(ctx *Context) (uintptr, error) {
		p := pc(ctx)
		of, err := p.Process.Files().Close(int(ctx.Number(0)))
		if err != nil {
			return 0, err
		}
		entry := of.Entry.(*vfs.Entry)
		ops := of.Ops.(vfs.FileOps)
		if err := vfs.CloseRef(entry, ops); err != nil {
			return 0, err
		}
		return 0, nil
	})

	t.Register(10, "unlink", func(ctx *Context) (uintptr, error) {
		p := pc(ctx)
		path, err := ctx.ReadString(0, 4096)
		if err != nil {
			return 0, err
		}
		cwd, chroot := fsEntries(p.Process)
		res, err := p.Resolver.Resolve(path, vfs.Settings{
			Cwd:    cwd,
			Chroot: chroot,
		})
		if err != nil {
			return 0, err
		}
		parent := res.Found.Parent()
		if parent == nil {
			return 0, errno.EBUSY
		}
		if err := p.Mounts.CacheFor(parent).Unlink(parent, res.Found.Name()); err != nil {
			return 0, err
		}
		return 0, nil
	})
}

// Ptr arguments the handlers Write back use little-endian 32-bit words, a
// Context helper too narrow for a one-off caller to reuse.
func encodeLE32(v int32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

// fsEntries extracts a process's cwd/chroot as *vfs.Entry, tolerating an
// unset FSState (nil falls through to the resolver's own root default).
func fsEntries(p *proc.Process) (cwd, chroot *vfs.Entry) {
	fs := p.FS()
	cwd, _ = fs.Cwd.(*vfs.Entry)
	chroot, _ = fs.Chroot.(*vfs.Entry)
	return cwd, chroot
}
