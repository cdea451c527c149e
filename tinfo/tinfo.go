package tinfo

import "sync"

import "github.com/fennix-project/kernel/defs"

/// Tnote_t stores per-thread state used by the scheduler.
type Tnote_t struct {
	// XXX "alive" should be "terminated"
	State    interface{}
	Alive    bool
	Killed   bool
	Isdoomed bool // XXX maybe don't need doomed, but can use killed?
	// protects killed, Killnaps.Cond and Kerr, and is a leaf lock
	sync.Mutex
	Killnaps struct {
		Killch chan bool
		Cond   *sync.Cond
		Kerr   defs.Err_t
	}
}

/// Doomed reports whether the thread is marked as doomed.
func (t *Tnote_t) Doomed() bool {
	return t.Isdoomed
}

// Threadinfo_t tracks every live thread note, keyed by tid. There is no
// hardware %gs-style per-CPU/per-thread register to stash the running
// thread's note behind, so callers carry their own Tid_t explicitly
// (through a context.Context or a plain argument) instead of reaching
// for an ambient "current thread" global.
type Threadinfo_t struct {
	Notes map[defs.Tid_t]*Tnote_t
	sync.Mutex
}

/// Init initializes the thread info map.
func (t *Threadinfo_t) Init() {
	t.Notes = make(map[defs.Tid_t]*Tnote_t)
}

// Current looks up the note for tid, panicking if it is not registered
// — the equivalent of dereferencing a null current-thread pointer.
func (t *Threadinfo_t) Current(tid defs.Tid_t) *Tnote_t {
	t.Lock()
	defer t.Unlock()
	n, ok := t.Notes[tid]
	if !ok {
		panic("nuts")
	}
	return n
}

// SetCurrent registers p as the note for tid.
func (t *Threadinfo_t) SetCurrent(tid defs.Tid_t, p *Tnote_t) {
	if p == nil {
		panic("nuts")
	}
	t.Lock()
	defer t.Unlock()
	if _, ok := t.Notes[tid]; ok {
		panic("nuts")
	}
	t.Notes[tid] = p
}

// ClearCurrent removes tid's note.
func (t *Threadinfo_t) ClearCurrent(tid defs.Tid_t) {
	t.Lock()
	defer t.Unlock()
	if _, ok := t.Notes[tid]; !ok {
		panic("nuts")
	}
	delete(t.Notes, tid)
}
