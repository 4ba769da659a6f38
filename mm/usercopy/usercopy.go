// Package usercopy implements checked copies between kernel buffers and
// user-space memory: every access is validated against the calling
// process's address space before touching anything, replacing reliance on
// a hardware fault-landing-pad/SMAP-relax trick with an explicit
// translate-then-copy path that is exercised the same way in tests as it
// would run in the kernel.
package usercopy

import (
	"github.com/maestro-os/maestro/errno"
	"github.com/maestro-os/maestro/mm/buddy"
)

// Space is the minimal view of a process address space usercopy needs:
// translate a virtual address, and learn the VMA's protection so writes
// against read-only mappings are rejected the way a real page fault would.
type Space interface {
	Translate(addr uintptr) (uintptr, bool)
	Writable(addr uintptr) bool
}

// Memory is the backing physical-page byte store checked copies read
// from and write to, addressed by physical page base.
type Memory interface {
	ReadPage(phys uintptr) []byte
	WritePage(phys uintptr, data []byte)
}

// UserPtr is a tagged user-space virtual address of a single value of
// static size n bytes (e.g. an ABI struct).
type UserPtr struct {
	Addr uintptr
	Size int
}

// UserSlice is a tagged user-space virtual address of a runtime-known
// number of elements of a fixed element size.
type UserSlice struct {
	Addr  uintptr
	Count int
	Elem  int
}

func (s UserSlice) byteLen() int { return s.Count * s.Elem }

// UserString is a tagged NUL-terminated user-space string, with a maximum
// length the syscall layer enforces (spec.md's argument-decoding bound).
type UserString struct {
	Addr   uintptr
	MaxLen int
}

// UserArray is a tagged user-space array of fixed-size Count*Elem used for
// vectored I/O descriptor tables (e.g. iovec arrays) before their payload
// pointers are individually resolved.
type UserArray = UserSlice

// UserIOVec names one segment of a scatter/gather I/O vector: a user
// pointer and a length, as decoded from a struct iovec array.
type UserIOVec struct {
	Base UserPtr
	Len  int
}

func offsetOf(addr uintptr) uintptr { return addr & (buddy.PageSize - 1) }

// rawCopy walks [addr, addr+n) page by page, translating each page through
// sp and reading/writing through mem. It never assumes a contiguous
// physical run: every page boundary is re-translated, mirroring how a
// single user buffer can legitimately span multiple VMAs' worth of
// independently-faulted frames.
func rawCopy(sp Space, mem Memory, addr uintptr, n int, toUser bool, buf []byte) error {
	if n < 0 {
		return errno.EINVAL
	}
	remaining := n
	cursor := addr
	bufOff := 0
	for remaining > 0 {
		phys, ok := sp.Translate(cursor)
		if !ok {
			return errno.EFAULT
		}
		if toUser && !sp.Writable(cursor) {
			return errno.EFAULT
		}
		off := offsetOf(cursor)
		chunk := buddy.PageSize - int(off)
		if chunk > remaining {
			chunk = remaining
		}
		pageBase := phys &^ (buddy.PageSize - 1)
		pageBytes := mem.ReadPage(pageBase)
		if toUser {
			copy(pageBytes[off:int(off)+chunk], buf[bufOff:bufOff+chunk])
			mem.WritePage(pageBase, pageBytes)
		} else {
			copy(buf[bufOff:bufOff+chunk], pageBytes[off:int(off)+chunk])
		}
		cursor += uintptr(chunk)
		bufOff += chunk
		remaining -= chunk
	}
	return nil
}

// CopyFromUser reads n bytes starting at addr in the calling process's
// address space into a freshly allocated kernel buffer.
func CopyFromUser(sp Space, mem Memory, addr uintptr, n int) ([]byte, error) {
	buf := make([]byte, n)
	if err := rawCopy(sp, mem, addr, n, false, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// CopyToUser writes buf into the calling process's address space at addr.
func CopyToUser(sp Space, mem Memory, addr uintptr, buf []byte) error {
	return rawCopy(sp, mem, addr, len(buf), true, buf)
}

// ReadPtr resolves a UserPtr into a kernel-owned copy of its bytes.
func ReadPtr(sp Space, mem Memory, p UserPtr) ([]byte, error) {
	return CopyFromUser(sp, mem, p.Addr, p.Size)
}

// WritePtr writes data back to a UserPtr's address, truncated to p.Size to
// avoid overrunning the caller-declared struct size. Data shorter than
// p.Size is written as is, without padding.
func WritePtr(sp Space, mem Memory, p UserPtr, data []byte) error {
	if len(data) > p.Size {
		data = data[:p.Size]
	}
	return CopyToUser(sp, mem, p.Addr, data)
}

// ReadSlice resolves a UserSlice into its raw backing bytes.
func ReadSlice(sp Space, mem Memory, s UserSlice) ([]byte, error) {
	return CopyFromUser(sp, mem, s.Addr, s.byteLen())
}

// ReadString copies a NUL-terminated string from user space in 64-byte
// probes, stopping at the first NUL byte or at MaxLen, whichever comes first —
// returning errno.ENAMETOOLONG if no NUL is found within MaxLen.
func ReadString(sp Space, mem Memory, s UserString) (string, error) {
	const probe = 64
	var out []byte
	for len(out) < s.MaxLen {
		n := probe
		if len(out)+n > s.MaxLen {
			n = s.MaxLen - len(out)
		}
		chunk, err := CopyFromUser(sp, mem, s.Addr+uintptr(len(out)), n)
		if err != nil {
			return "", err
		}
		if idx := indexByte(chunk, 0); idx >= 0 {
			out = append(out, chunk[:idx]...)
			return string(out), nil
		}
		out = append(out, chunk...)
	}
	return "", errno.ENAMETOOLONG
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

// ReadIOVecs resolves a UserArray of struct iovec entries (each a UserPtr
// pair of base address and length, packed as two machine words) into
// UserIOVec descriptors, without yet touching the payload each points to.
func ReadIOVecs(sp Space, mem Memory, arr UserArray, wordSize int) ([]UserIOVec, error) {
	raw, err := ReadSlice(sp, mem, arr)
	if err != nil {
		return nil, err
	}
	out := make([]UserIOVec, 0, arr.Count)
	for i := 0; i < arr.Count; i++ {
		rec := raw[i*arr.Elem : (i+1)*arr.Elem]
		base := decodeWord(rec[0:wordSize], wordSize)
		length := decodeWord(rec[wordSize:2*wordSize], wordSize)
		out = append(out, UserIOVec{Base: UserPtr{Addr: uintptr(base), Size: int(length)}, Len: int(length)})
	}
	return out, nil
}

func decodeWord(b []byte, size int) uint64 {
	var v uint64
	for i := 0; i < size; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}
