// Package fdops declares the vtable every open file description
// implements (spec section 4.C, "File Descriptor"): regular files,
// directories, pipes and device files all satisfy Fdops_i, so fd.Fd_t
// and vm's file-backed mappings never need to know which kind of node
// they're holding open.
package fdops

import (
	"github.com/fennix-project/kernel/defs"
	"github.com/fennix-project/kernel/mem"
	"github.com/fennix-project/kernel/stat"
)

// Pollmsg_t describes the set of events a caller is interested in for
// Pollone, mirroring poll(2)'s POLLIN/POLLOUT/POLLHUP bits.
type Pollmsg_t struct {
	Events int
}

// Fdwait_t is what Pollone returns: which of the requested events are
// currently ready.
type Fdwait_t struct {
	Readyevents int
}

// Userio_i abstracts a source or sink of bytes that may live in user
// memory, kernel memory, or a synthetic buffer (vm.Userbuf_t,
// vm.Fakeubuf_t, vm.Useriovec_t all implement it).
type Userio_i interface {
	Uioread(dst []uint8) (int, defs.Err_t)
	Uiowrite(src []uint8) (int, defs.Err_t)
	Remain() int
	Totalsz() int
}

// Fdops_i is the operations vtable every open file description
// implements. Every method takes no fd argument: implementations close
// over their own state (inode, offset, socket, pipe buffer...).
type Fdops_i interface {
	// Close releases one reference to the description. fd.Table_t
	// calls it every time a descriptor referring to it is closed; each
	// copied descriptor (dup, dup2, fork) took a Reopen first.
	Close() defs.Err_t

	// Fstat writes this description's metadata into st.
	Fstat(st *stat.Stat_t) defs.Err_t

	// Lseek repositions the description's offset per whence
	// (SEEK_SET/SEEK_CUR/SEEK_END) and returns the new offset.
	Lseek(off, whence int) (int, defs.Err_t)

	// Mmapi returns the physical pages backing [offset, offset+len)
	// for a VFILE mapping, allocating them in the cache if needed.
	Mmapi(offset, len int, inhibit bool) ([]mem.Mmapinfo_t, defs.Err_t)

	// Pathi returns the inode number backing this description, for
	// fstat-by-fd and for detecting "same file" in rename/link.
	Pathi() defs.Inum_t

	// Read copies into dst starting at the description's current
	// offset, advancing it.
	Read(dst Userio_i) (int, defs.Err_t)

	// Reopen increments the description's internal refcount; called
	// when a new fd is created referencing an already-open
	// description (dup, fork).
	Reopen() defs.Err_t

	// Write copies from src at the description's current offset,
	// advancing it (or always at EOF, for O_APPEND).
	Write(src Userio_i) (int, defs.Err_t)

	// Pollone reports which of msg's requested events are ready now.
	Pollone(msg Pollmsg_t) (Fdwait_t, defs.Err_t)

	// Fcntl services a subset of fcntl(2) commands (F_GETFL/F_SETFL).
	Fcntl(cmd, arg int) int

	// Unpin is called by the page cache when a page this description
	// mapped with Mmapi is evicted, letting a shared-mmap description
	// write it back first.
	Unpin(phys mem.Pa_t)
}
