package diag

import (
	"context"

	"github.com/fennix-project/kernel/defs"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

// QuiesceSteps are the three independent actions the primary
// panicking core must complete before the post-mortem UI is safe to
// render, per spec 4.E: "halts all other cores via IPI, stops task
// dispatch, disables interrupt handlers, and forces-unlocks kernel
// spinlocks."
type QuiesceSteps struct {
	HaltOtherCores   func(context.Context) error
	StopTaskDispatch func(context.Context) error
	ForceUnlock      func(context.Context) error
}

// Quiesce runs the three steps concurrently as a single barrier: the
// UI must not render until every core has actually stopped and every
// lock has actually been forced open, so a half-finished quiesce never
// lets the post-mortem commands race live kernel state.
func Quiesce(ctx context.Context, steps QuiesceSteps) error {
	g, ctx := errgroup.WithContext(ctx)
	if steps.HaltOtherCores != nil {
		g.Go(func() error { return steps.HaltOtherCores(ctx) })
	}
	if steps.StopTaskDispatch != nil {
		g.Go(func() error { return steps.StopTaskDispatch(ctx) })
	}
	if steps.ForceUnlock != nil {
		g.Go(func() error { return steps.ForceUnlock(ctx) })
	}
	return g.Wait()
}

// faultSignal maps an x86 exception vector to the POSIX signal spec
// 4.E's "map the fault to a signal" userspace path delivers, grounded
// on real unix.SIG* values rather than inventing numbering.
var faultSignal = map[uint64]defs.Signal_t{
	0:  defs.Signal_t(unix.SIGFPE),  // divide error
	6:  defs.Signal_t(unix.SIGILL),  // invalid opcode
	7:  defs.Signal_t(unix.SIGSEGV), // device not available
	11: defs.Signal_t(unix.SIGSEGV), // segment not present
	12: defs.Signal_t(unix.SIGSEGV), // stack-segment fault
	13: defs.Signal_t(unix.SIGSEGV), // general protection
	14: defs.Signal_t(unix.SIGSEGV), // page fault
	16: defs.Signal_t(unix.SIGFPE),  // x87 FP exception
	17: defs.Signal_t(unix.SIGBUS),  // alignment check
	19: defs.Signal_t(unix.SIGFPE),  // SIMD FP exception
}

// FaultToSignal resolves an interrupt vector to the signal delivered
// to a faulting user thread, defaulting to SIGSEGV for vectors not in
// the table (spec 4.E names no exhaustive vector list, only the CoW
// -> stack-expansion -> signal decision order).
func FaultToSignal(vector uint64) defs.Signal_t {
	if sig, ok := faultSignal[vector]; ok {
		return sig
	}
	return defs.Signal_t(unix.SIGSEGV)
}
