package proc

import (
	"github.com/fennix-project/kernel/defs"
	"github.com/fennix-project/kernel/mem"
)

// stackGuard bounds how far below the current stack bottom a fault
// address may fall and still count as "missing guard page, grow the
// stack" rather than a genuine out-of-bounds access; one page matches
// the smallest useful guard region.
const stackGuard = mem.PGSIZE

// HandleUserFault implements spec 4.E/4.D's decision order for a fault
// taken from user CS/SS ("try CoW, then stack expansion, then map the
// fault to a signal. Critical threads escalate to panic if
// unhandled."), grounded on
// original_source/Kernel/core/panic/user.cpp's UserModeExceptionHandler.
// It returns true if the fault was resolved in place (execution
// resumes at the same IP); false means the caller must deliver sig to
// the faulting thread, and — if the thread is Critical — escalate to
// the panic pipeline instead.
func (s *System_t) HandleUserFault(p *Pcb_t, t *Tcb_t, faultAddr, ecode uintptr, vector uint64, faultSignal func(vector uint64) defs.Signal_t) (resolved bool, sig defs.Signal_t) {
	if err := p.Vm.Pgfault(t.Tid, faultAddr, ecode); err == 0 {
		return true, 0
	}

	if p.growStack(faultAddr) {
		if err := p.Vm.Pgfault(t.Tid, faultAddr, ecode); err == 0 {
			return true, 0
		}
	}

	// Resolution failed outright; the caller delivers sig via
	// System_t.SendSignal rather than this method enqueuing it
	// directly, so a fault is never queued twice. SendSignal does not
	// look at Pcb_t.Critical; escalating a fault in a critical process
	// to a kernel panic is left to the caller.
	sig = faultSignal(vector)
	return false, sig
}

// growStack extends the process's stack region downward by one page
// if faultAddr falls within stackGuard bytes below the current
// StackLow, the guard-page-miss case spec 4.E's "stack expansion" step
// names. It reports whether it grew anything.
func (p *Pcb_t) growStack(faultAddr uintptr) bool {
	p.Lock()
	low := p.StackLow
	p.Unlock()
	if low == 0 {
		return false
	}
	addr := int(faultAddr)
	if addr >= low || addr < low-stackGuard {
		return false
	}
	newLow := (addr / mem.PGSIZE) * mem.PGSIZE
	p.Vm.Vmadd_anon(newLow, low-newLow, mem.Pa_t(mem.PTE_U|mem.PTE_W))
	p.Lock()
	p.StackLow = newLow
	p.Unlock()
	return true
}
