// Package errno defines the POSIX error codes returned by every kernel
// operation and the syscall-boundary conversion to/from a negated return
// register value.
package errno

import "golang.org/x/sys/unix"

// Errno is the kernel-wide error type. Every fallible kernel operation
// returns (T, errno.Errno) rather than a generic error, so that the value
// can be written back as a negated syscall return without any translation
// table at the boundary.
type Errno = unix.Errno

// The classic POSIX set named in the external interface contract, plus
// EUCLEAN for detected filesystem corruption. These are aliases of the
// platform's own numbering (golang.org/x/sys/unix), which on Linux already
// matches the i386/x86-64 ABI the syscall surface exposes to userspace.
const (
	ENOENT       = unix.ENOENT
	EACCES       = unix.EACCES
	EFAULT       = unix.EFAULT
	EBADF        = unix.EBADF
	EINVAL       = unix.EINVAL
	EEXIST       = unix.EEXIST
	ENOTDIR      = unix.ENOTDIR
	EISDIR       = unix.EISDIR
	EMFILE       = unix.EMFILE
	ENFILE       = unix.ENFILE
	ENOSPC       = unix.ENOSPC
	EROFS        = unix.EROFS
	EPIPE        = unix.EPIPE
	EINTR        = unix.EINTR
	EAGAIN       = unix.EAGAIN
	ELOOP        = unix.ELOOP
	ENAMETOOLONG = unix.ENAMETOOLONG
	EOVERFLOW    = unix.EOVERFLOW
	ENODEV       = unix.ENODEV
	EBUSY        = unix.EBUSY
	EXDEV        = unix.EXDEV
	EPERM        = unix.EPERM
	ECHILD       = unix.ECHILD
	ESRCH        = unix.ESRCH
	EMLINK       = unix.EMLINK
	ENOTEMPTY    = unix.ENOTEMPTY
	ENOTTY       = unix.ENOTTY
	ENOMEM       = unix.ENOMEM
	EIO          = unix.EIO
	ESPIPE       = unix.ESPIPE
	EUCLEAN      = unix.EUCLEAN
	ENOSYS       = unix.ENOSYS
	EAFNOSUPPORT    = unix.EAFNOSUPPORT
	EPROTONOSUPPORT = unix.EPROTONOSUPPORT
	ENOTSOCK        = unix.ENOTSOCK
	ENOTCONN        = unix.ENOTCONN
)

// MaxErrno bounds the negative-return-value window the syscall ABI promises
// userspace: results in [-4095, -1] are errno values.
const MaxErrno = 4095

// ToReturnValue encodes a dispatch result as the raw register value written
// back to userspace: the non-negative usize result on success, or -errno on
// failure.
func ToReturnValue(result uintptr, err error) int64 {
	if err == nil {
		return int64(result)
	}
	var e Errno
	if as, ok := err.(Errno); ok {
		e = as
	} else {
		e = EINVAL
	}
	return -int64(e)
}
