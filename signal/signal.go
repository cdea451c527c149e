// Package signal implements the per-process signal disposition table,
// pending queue and delivery decision named in spec section 4.D: what
// happens when send_signal is called, and what a thread about to
// return to user mode must do about it.
//
// Grounded on original_source/Kernel/tasking/signal.cpp for the
// default-disposition table and the terminate/exit-code conventions;
// expressed here without the C++ trampoline/PCB coupling, since the
// actual context switch back to a user trampoline is an architectural
// concern the kernel-core spec keeps out of scope (spec section 1).
package signal

import (
	"sync"

	"github.com/fennix-project/kernel/defs"
)

// Disposition_t is what happens to a process when a signal with no
// installed handler (or SIG_DFL restored) arrives.
type Disposition_t int

const (
	SIG_TERM Disposition_t = iota
	SIG_IGN
	SIG_CORE
	SIG_STOP
	SIG_CONT
)

// defaultDisposition is the fixed table spec section 4.D's set_action
// restores on SIG_DFL, grounded on original_source's SignalDisposition[].
var defaultDisposition = map[defs.Signal_t]Disposition_t{
	defs.SIGHUP:  SIG_TERM,
	defs.SIGINT:  SIG_TERM,
	defs.SIGQUIT: SIG_TERM,
	defs.SIGILL:  SIG_CORE,
	defs.SIGTRAP: SIG_CORE,
	defs.SIGABRT: SIG_CORE,
	defs.SIGBUS:  SIG_CORE,
	defs.SIGFPE:  SIG_CORE,
	defs.SIGKILL: SIG_TERM,
	defs.SIGUSR1: SIG_TERM,
	defs.SIGSEGV: SIG_CORE,
	defs.SIGUSR2: SIG_TERM,
	defs.SIGPIPE: SIG_TERM,
	defs.SIGALRM: SIG_TERM,
	defs.SIGTERM: SIG_TERM,
	defs.SIGCHLD: SIG_IGN,
	defs.SIGCONT: SIG_CONT,
	defs.SIGSTOP: SIG_STOP,
	defs.SIGTSTP: SIG_STOP,
}

// DefaultDisposition returns the tabulated disposition for sig, or
// SIG_TERM for any signal the table doesn't name (new/real-time-style
// signals default to terminate, same as the source table's fallthrough).
func DefaultDisposition(sig defs.Signal_t) Disposition_t {
	if d, ok := defaultDisposition[sig]; ok {
		return d
	}
	return SIG_TERM
}

// Action_t is one entry of a process's action table: the handler
// address (opaque to this package — it's interpreted by the
// architecture-specific trampoline setup, out of scope here), the
// signal mask to install while the handler runs, and flags.
type Action_t struct {
	Handler uintptr // 0 means SIG_DFL, 1 means SIG_IGN
	Mask    Set_t
	Flags   int
}

const (
	sigDfl uintptr = 0
	sigIgn uintptr = 1
)

// Set_t is a bitmask over signal numbers 1..NSIG-1.
type Set_t uint64

func (s Set_t) Has(sig defs.Signal_t) bool { return s&(1<<uint(sig)) != 0 }
func (s *Set_t) Add(sig defs.Signal_t)     { *s |= 1 << uint(sig) }
func (s *Set_t) Del(sig defs.Signal_t)     { *s &^= 1 << uint(sig) }

// Table_t is the per-process signal state: the action table, the
// process-wide blocked mask, and the pending queue. Spec section 5
// assigns it a single mutex ("Signals: per-PCB mutex around action
// table and queue").
type Table_t struct {
	sync.Mutex
	actions [defs.NSIG]Action_t
	blocked Set_t
	pending []Pending_t
	// handling is non-zero while the thread is inside a handler for
	// that signal; open question decision (SPEC_FULL.md section 4):
	// a signal already being handled is implicitly blocked until the
	// handler returns via sigreturn.
	handling Set_t
}

// Pending_t is one queued signal instance awaiting delivery.
type Pending_t struct {
	Sig    defs.Signal_t
	Val    int
	Target defs.Tid_t // NoTid means "any thread of the process"
}

func NewTable() *Table_t {
	return &Table_t{}
}

// SetAction records action for sig. SIG_IGN (Handler==1) discards any
// already-queued instances of sig, matching spec 4.D's set_action.
func (t *Table_t) SetAction(sig defs.Signal_t, action Action_t) defs.Err_t {
	if sig == defs.SIGKILL || sig == defs.SIGSTOP {
		return -defs.EINVAL
	}
	t.Lock()
	defer t.Unlock()
	t.actions[sig] = action
	if action.Handler == sigIgn {
		t.dropPendingLocked(sig)
	}
	return 0
}

// Default restores SIG_DFL for sig.
func (t *Table_t) Default(sig defs.Signal_t) {
	t.Lock()
	defer t.Unlock()
	t.actions[sig] = Action_t{Handler: sigDfl}
}

func (t *Table_t) dropPendingLocked(sig defs.Signal_t) {
	out := t.pending[:0]
	for _, p := range t.pending {
		if p.Sig != sig {
			out = append(out, p)
		}
	}
	t.pending = out
}

// Outcome_t is what Send decided should happen as a result of a
// default-disposition signal with no installed handler.
type Outcome_t int

const (
	OutcomeQueued Outcome_t = iota
	OutcomeIgnored
	OutcomeTerminate
	OutcomeCoreDump
	OutcomeStop
	OutcomeContinue
)

// Send implements spec 4.D's send_signal: if a user handler is
// installed, the signal is queued for delivery; otherwise the default
// disposition is applied immediately and reported via the returned
// Outcome_t, which the proc package turns into a state transition
// (Zombie/CoreDump/Terminated/Stopped/Running).
func (t *Table_t) Send(sig defs.Signal_t, val int, target defs.Tid_t) Outcome_t {
	t.Lock()
	defer t.Unlock()

	if sig == defs.SIGKILL {
		return OutcomeTerminate
	}
	if sig == defs.SIGSTOP {
		return OutcomeStop
	}

	a := t.actions[sig]
	if a.Handler == sigIgn {
		return OutcomeIgnored
	}
	if a.Handler != sigDfl {
		t.pending = append(t.pending, Pending_t{Sig: sig, Val: val, Target: target})
		return OutcomeQueued
	}

	switch DefaultDisposition(sig) {
	case SIG_IGN:
		return OutcomeIgnored
	case SIG_CORE:
		return OutcomeCoreDump
	case SIG_STOP:
		return OutcomeStop
	case SIG_CONT:
		return OutcomeContinue
	default:
		return OutcomeTerminate
	}
}

// Deliverable computes queue − blocked − handling (spec 4.D,
// "deliverable = queue - blocked_mask - global_mask") and pops the
// first deliverable pending signal, if any, marking it as being
// handled until EndHandler is called.
func (t *Table_t) Deliverable(tid defs.Tid_t) (Pending_t, Action_t, bool) {
	t.Lock()
	defer t.Unlock()
	for i, p := range t.pending {
		if p.Target != defs.NoTid && p.Target != tid {
			continue
		}
		if t.blocked.Has(p.Sig) || t.handling.Has(p.Sig) {
			continue
		}
		a := t.actions[p.Sig]
		if a.Handler == sigDfl || a.Handler == sigIgn {
			continue
		}
		t.pending = append(t.pending[:i], t.pending[i+1:]...)
		t.handling.Add(p.Sig)
		t.blocked |= a.Mask
		return p, a, true
	}
	return Pending_t{}, Action_t{}, false
}

// EndHandler is called from the sigreturn-equivalent syscall path:
// the handler for sig has returned, so it's no longer "handling" and
// the mask it installed is lifted.
func (t *Table_t) EndHandler(sig defs.Signal_t, maskLifted Set_t) {
	t.Lock()
	defer t.Unlock()
	t.handling.Del(sig)
	t.blocked &^= maskLifted
}

// SetBlocked replaces the process-wide blocked mask, refusing to
// block SIGKILL/SIGSTOP (spec 4.D, "not maskable").
func (t *Table_t) SetBlocked(mask Set_t) {
	mask.Del(defs.SIGKILL)
	mask.Del(defs.SIGSTOP)
	t.Lock()
	t.blocked = mask
	t.Unlock()
}

// MakeExitCode implements spec section 6's exit-code mapping: native
// builds exit 100+signal, Linux-compat builds exit 128+linux(signal).
func MakeExitCode(sig defs.Signal_t, linuxCompat bool, linuxNum int) int {
	if linuxCompat {
		return 128 + linuxNum
	}
	return 100 + int(sig)
}
