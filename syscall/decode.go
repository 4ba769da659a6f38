// Package syscall implements spec.md §4.8's syscall surface: a dispatch
// table keyed by syscall number, register-to-argument decoding aware of
// pointer/length/number argument kinds and 32-bit-compat mode, and a
// single entry point the vector-0x80/SYSCALL trap handlers both call.
// Dispatch-table shape is grounded on
// _examples/httese-gvisor's pkg/sentry/syscalls/linux/vfs2/vfs2.go (`s.Table[N]
// = syscalls.Supported("name", Fn)`), adapted from gVisor's per-ABI table
// registration to a single flat map since this kernel has one ABI.
package syscall

import (
	"github.com/maestro-os/maestro/arch"
	"github.com/maestro-os/maestro/mm/usercopy"
)

// ArgKind tags what a raw register word means, per spec.md §4.8's "a trait
// that knows whether the word is a pointer, length, or number."
type ArgKind int

const (
	ArgNumber ArgKind = iota
	ArgPointer
	ArgLength
)

// Context is everything a syscall handler needs to decode arguments and
// perform checked user-memory access: the raw frame, the calling
// process's address space and backing memory, and whether it is running
// in 32-bit compat mode (affecting word width during decode).
type Context struct {
	Frame  *arch.Frame
	Space  usercopy.Space
	Memory usercopy.Memory
	Compat bool
}

// WordSize returns 4 in 32-bit compat mode, 8 otherwise — the width
// spec.md §4.8's ArgDecoder trait needs to interpret pointer-sized raw
// register words and iovec records.
func (c *Context) WordSize() int {
	if c.Compat {
		return 4
	}
	return 8
}

// Arg returns raw argument word i (0-5) from the captured frame.
func (c *Context) Arg(i int) uintptr {
	args := c.Frame.SyscallArgs()
	return args[i]
}

// Ptr decodes argument i as a UserPtr of the given byte size.
func (c *Context) Ptr(i int, size int) usercopy.UserPtr {
	return usercopy.UserPtr{Addr: c.Arg(i), Size: size}
}

// Slice decodes argument i as a UserSlice with count elements of elemSize
// bytes, where count itself comes from argument countArg.
func (c *Context) Slice(i int, countArg int, elemSize int) usercopy.UserSlice {
	return usercopy.UserSlice{Addr: c.Arg(i), Count: int(c.Arg(countArg)), Elem: elemSize}
}

// Str decodes argument i as a NUL-terminated user string bounded by maxLen.
func (c *Context) Str(i int, maxLen int) usercopy.UserString {
	return usercopy.UserString{Addr: c.Arg(i), MaxLen: maxLen}
}

// ReadString resolves a UserString argument through the checked-copy path.
func (c *Context) ReadString(i int, maxLen int) (string, error) {
	return usercopy.ReadString(c.Space, c.Memory, c.Str(i, maxLen))
}

// ReadPtr resolves a fixed-size UserPtr argument's bytes.
func (c *Context) ReadPtr(i int, size int) ([]byte, error) {
	return usercopy.ReadPtr(c.Space, c.Memory, c.Ptr(i, size))
}

// WritePtr writes data back to a UserPtr argument's address.
func (c *Context) WritePtr(i int, size int, data []byte) error {
	return usercopy.WritePtr(c.Space, c.Memory, c.Ptr(i, size), data)
}

// Number decodes argument i as a plain integer, compat-truncated.
func (c *Context) Number(i int) int64 {
	v := c.Arg(i)
	if c.Compat {
		return int64(int32(v))
	}
	return int64(v)
}
