package defs

import "golang.org/x/sys/unix"

// Err_t is the kernel's wire-level error type: negative on failure,
// non-negative on success, returned from both syscall registers and
// internal APIs (spec section 6, "Errno surface").
type Err_t int

// String renders the error using the standard errno text so that
// log lines and panics read the same as any other Go/unix error.
func (e Err_t) String() string {
	if e == 0 {
		return "ok"
	}
	return unix.Errno(-e).Error()
}

func (e Err_t) Error() string { return e.String() }

// The error taxonomy of spec section 7, grounded on real POSIX errno
// values via golang.org/x/sys/unix rather than invented constants.
var (
	ENOMEM  = Err_t(unix.ENOMEM)
	ENOHEAP = Err_t(unix.ENOMEM) // heap-specific exhaustion, same errno
	EINVAL  = Err_t(unix.EINVAL)
	EFAULT  = Err_t(unix.EFAULT)
	EPERM   = Err_t(unix.EPERM)
	EACCES  = Err_t(unix.EACCES)
	EEXIST  = Err_t(unix.EEXIST)
	ENOENT  = Err_t(unix.ENOENT)
	ENOTDIR = Err_t(unix.ENOTDIR)
	EISDIR  = Err_t(unix.EISDIR)
	ENOTSUP = Err_t(unix.ENOTSUP)
	ESRCH   = Err_t(unix.ESRCH)
	EAGAIN  = Err_t(unix.EAGAIN)
	EBUSY   = Err_t(unix.EBUSY)
	EMFILE  = Err_t(unix.EMFILE)
	EBADF   = Err_t(unix.EBADF)
	ENXIO   = Err_t(unix.ENXIO)
	ETIMEDOUT = Err_t(unix.ETIMEDOUT)
	EINTR   = Err_t(unix.EINTR)
	ENOSYS  = Err_t(unix.ENOSYS)
	E2BIG   = Err_t(unix.E2BIG)
	ENAMETOOLONG = Err_t(unix.ENAMETOOLONG)
	ELOOP   = Err_t(unix.ELOOP)
	ENOTEMPTY = Err_t(unix.ENOTEMPTY)
	EXDEV   = Err_t(unix.EXDEV)
	ERANGE  = Err_t(unix.ERANGE)
	ECHILD  = Err_t(unix.ECHILD)
	EIO     = Err_t(unix.EIO)
)

// Negate turns a positive unix.Errno-shaped int into the kernel's
// negative-errno convention; 0 passes through unchanged.
func Negate(errno int) Err_t {
	if errno == 0 {
		return 0
	}
	return Err_t(-errno)
}
