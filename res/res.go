// Package res guards bounded-but-potentially-long-running kernel loops
// (user copy loops, recursive lookups, fork's region walk) against running
// the kernel out of stack/heap budget while a lock is held, the way the
// teacher's callers (e.g. vm.Userbuf_t._tx) expect a res.Resadd_noblock
// call before every iteration.
package res

import (
	"sync/atomic"

	"github.com/fennix-project/kernel/bounds"
)

// budget is the number of reservations that may be outstanding at once,
// counted across all call sites together; it models the fixed kernel
// stack the real kernel would run on.
const budget = 1 << 20

var outstanding int64

// Resadd_noblock reserves one unit of kernel-stack/heap budget without
// blocking; tag names the call site but is not used. It returns false,
// and the caller aborts with ENOHEAP, when the reservation would push
// the outstanding count past budget.
func Resadd_noblock(tag string) bool {
	n := atomic.AddInt64(&outstanding, 1)
	if n > budget {
		atomic.AddInt64(&outstanding, -1)
		return false
	}
	return true
}

// Resdel releases a reservation taken by Resadd_noblock.
func Resdel() {
	atomic.AddInt64(&outstanding, -1)
}

// Tag is a convenience wrapper so callers can pass a bounds.Bndid_t
// directly, matching the teacher's bounds.Bounds(...) call pattern.
func Tag(id bounds.Bndid_t) string {
	return bounds.Bounds(id)
}
