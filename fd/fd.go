// Package fd implements the per-process file descriptor table (spec
// section 4.C, "File Descriptor Table"): a sparse array of open file
// descriptions, the close-on-exec bit each slot carries, and the
// current-working-directory handle every process keeps alongside it.
package fd

import (
	"sync"

	"github.com/fennix-project/kernel/bpath"
	"github.com/fennix-project/kernel/defs"
	"github.com/fennix-project/kernel/fdops"
	"github.com/fennix-project/kernel/ustr"
)

// File descriptor permission/flag bits.
const (
	FD_READ    = 0x1
	FD_WRITE   = 0x2
	FD_CLOEXEC = 0x4
)

// Fd_t represents an open file descriptor: a reference to a shared file
// description plus the permission bits this particular descriptor was
// opened with.
type Fd_t struct {
	// Fops is stored as an interface value (always a pointer receiver
	// underneath), so copying an Fd_t shares the description, not
	// duplicates it.
	Fops  fdops.Fdops_i
	Perms int
}

// Copyfd duplicates an open file descriptor by reopening its underlying
// description (dup/dup2/fork all go through this).
func Copyfd(fd *Fd_t) (*Fd_t, defs.Err_t) {
	nfd := &Fd_t{}
	*nfd = *fd
	if err := nfd.Fops.Reopen(); err != 0 {
		return nil, err
	}
	return nfd, 0
}

// Close_panic closes the descriptor and panics on failure; used at
// teardown points where failure to close indicates a kernel bug rather
// than a recoverable condition.
func Close_panic(f *Fd_t) {
	if f.Fops.Close() != 0 {
		panic("must succeed")
	}
}

// Cwd_t tracks the current working directory for a process.
type Cwd_t struct {
	sync.Mutex
	Fd   *Fd_t
	Path ustr.Ustr
}

// Fullpath joins cwd with p if p is not already absolute.
func (cwd *Cwd_t) Fullpath(p ustr.Ustr) ustr.Ustr {
	if p.IsAbsolute() {
		return p
	}
	full := append(append(ustr.Ustr{}, cwd.Path...), '/')
	return append(full, p...)
}

// Canonicalpath resolves path components relative to cwd into a clean
// absolute path.
func (cwd *Cwd_t) Canonicalpath(p ustr.Ustr) ustr.Ustr {
	return bpath.Canonicalize(cwd.Fullpath(p))
}

// MkRootCwd constructs a Cwd_t rooted at "/".
func MkRootCwd(fd *Fd_t) *Cwd_t {
	return &Cwd_t{Fd: fd, Path: ustr.MkUstrRoot()}
}

// Table_t is the per-process file descriptor table (spec section 4.C):
// a sparse, lock-protected array of *Fd_t indexed by the small integer
// returned to userspace as a fd. Automatic allocation starts at slot 0
// and always takes the lowest free slot.
type Table_t struct {
	sync.Mutex
	fds  []*Fd_t
	next int
}

// NewTable constructs an empty table.
func NewTable() *Table_t {
	return &Table_t{fds: make([]*Fd_t, 0, 16)}
}

// Install places fd at the lowest unused descriptor number, the
// behavior every one of open/pipe/socket/dup-without-a-target relies on.
func (t *Table_t) Install(fd *Fd_t) int {
	t.Lock()
	defer t.Unlock()
	return t.installLocked(fd)
}

func (t *Table_t) installLocked(fd *Fd_t) int {
	for i := t.next; i < len(t.fds); i++ {
		if t.fds[i] == nil {
			t.fds[i] = fd
			t.next = i + 1
			return i
		}
	}
	t.fds = append(t.fds, fd)
	t.next = len(t.fds)
	return len(t.fds) - 1
}

// Get returns the descriptor at fdn, or nil if it isn't open.
func (t *Table_t) Get(fdn int) *Fd_t {
	t.Lock()
	defer t.Unlock()
	if fdn < 0 || fdn >= len(t.fds) {
		return nil
	}
	return t.fds[fdn]
}

// Close removes fdn from the table and closes its underlying
// description, returning -EBADF if the slot is out of range or already
// closed.
func (t *Table_t) Close(fdn int) defs.Err_t {
	t.Lock()
	if fdn < 0 || fdn >= len(t.fds) || t.fds[fdn] == nil {
		t.Unlock()
		return -defs.EBADF
	}
	f := t.fds[fdn]
	t.fds[fdn] = nil
	if fdn < t.next {
		t.next = fdn
	}
	t.Unlock()
	return f.Fops.Close()
}

// Dup installs a copy of oldfd's description at the lowest free slot.
func (t *Table_t) Dup(oldfdn int) (int, defs.Err_t) {
	t.Lock()
	defer t.Unlock()
	if oldfdn < 0 || oldfdn >= len(t.fds) || t.fds[oldfdn] == nil {
		return -1, -defs.EBADF
	}
	nfd, err := Copyfd(t.fds[oldfdn])
	if err != 0 {
		return -1, err
	}
	nfd.Perms &^= FD_CLOEXEC
	return t.installLocked(nfd), 0
}

// Dup2 installs a copy of oldfd's description at exactly newfdn,
// closing whatever was there first (dup2(2)'s atomic replace).
func (t *Table_t) Dup2(oldfdn, newfdn int) defs.Err_t {
	t.Lock()
	if oldfdn < 0 || oldfdn >= len(t.fds) || t.fds[oldfdn] == nil {
		t.Unlock()
		return -defs.EBADF
	}
	if oldfdn == newfdn {
		t.Unlock()
		return 0
	}
	nfd, err := Copyfd(t.fds[oldfdn])
	if err != 0 {
		t.Unlock()
		return err
	}
	nfd.Perms &^= FD_CLOEXEC
	for newfdn >= len(t.fds) {
		t.fds = append(t.fds, nil)
	}
	old := t.fds[newfdn]
	t.fds[newfdn] = nfd
	t.Unlock()
	if old != nil {
		old.Fops.Close()
	}
	return 0
}

// SetCloexec toggles FD_CLOEXEC on fdn, the flag Exec consults below.
func (t *Table_t) SetCloexec(fdn int, on bool) defs.Err_t {
	t.Lock()
	defer t.Unlock()
	if fdn < 0 || fdn >= len(t.fds) || t.fds[fdn] == nil {
		return -defs.EBADF
	}
	if on {
		t.fds[fdn].Perms |= FD_CLOEXEC
	} else {
		t.fds[fdn].Perms &^= FD_CLOEXEC
	}
	return 0
}

// Exec closes every descriptor marked FD_CLOEXEC, per execve(2)'s
// contract (spec section 4.C, "close-on-exec").
func (t *Table_t) Exec() {
	t.Lock()
	defer t.Unlock()
	for i, f := range t.fds {
		if f == nil {
			continue
		}
		if f.Perms&FD_CLOEXEC != 0 {
			f.Fops.Close()
			t.fds[i] = nil
			if i < t.next {
				t.next = i
			}
		}
	}
}

// Fork duplicates every open descriptor into a child table (fork(2)'s
// contract: the child inherits the parent's open files, sharing each
// description's offset and refcount, not the tables themselves).
func (t *Table_t) Fork() (*Table_t, defs.Err_t) {
	t.Lock()
	defer t.Unlock()
	nt := &Table_t{fds: make([]*Fd_t, len(t.fds)), next: t.next}
	for i, f := range t.fds {
		if f == nil {
			continue
		}
		nf, err := Copyfd(f)
		if err != 0 {
			for j := 0; j < i; j++ {
				if nt.fds[j] != nil {
					nt.fds[j].Fops.Close()
				}
			}
			return nil, err
		}
		nt.fds[i] = nf
	}
	return nt, 0
}

// CloseAll closes every open descriptor, the last step of process exit.
func (t *Table_t) CloseAll() {
	t.Lock()
	defer t.Unlock()
	for i, f := range t.fds {
		if f != nil {
			f.Fops.Close()
			t.fds[i] = nil
		}
	}
	t.next = 0
}
