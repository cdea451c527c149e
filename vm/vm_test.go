package vm

import (
	"testing"

	"github.com/fennix-project/kernel/mem"
	"github.com/stretchr/testify/require"
)

func newAs(t *testing.T) *Vm_t {
	t.Helper()
	mem.Phys_init(0, 512, 0, 0)
	pmap, p_pmap, ok := mem.Physmem.Pmap_new()
	require.True(t, ok)
	return &Vm_t{Pmap: pmap, P_pmap: p_pmap}
}

func TestPgfaultResolvesFreshAnonPage(t *testing.T) {
	as := newAs(t)
	as.Vmadd_anon(mem.USERMIN, mem.PGSIZE, mem.Pa_t(PTE_U|PTE_W))

	err := as.Pgfault(1, uintptr(mem.USERMIN), uintptr(PTE_U))
	require.Equal(t, 0, int(err))
}

func TestPgfaultOutsideAnyRegionFaults(t *testing.T) {
	as := newAs(t)
	err := as.Pgfault(1, uintptr(mem.USERMIN), uintptr(PTE_U))
	require.NotEqual(t, 0, int(err))
}

func TestForkCopySharesThenBreaksCow(t *testing.T) {
	parent := newAs(t)
	parent.Vmadd_anon(mem.USERMIN, mem.PGSIZE, mem.Pa_t(PTE_U|PTE_W))

	// fault the page in for real before fork, so Fork_copy has a
	// present PTE to mark copy-on-write.
	require.Equal(t, 0, int(parent.Pgfault(1, uintptr(mem.USERMIN), uintptr(PTE_U|PTE_W))))

	childPmap, childPPmap, ok := mem.Physmem.Pmap_new()
	require.True(t, ok)
	child := &Vm_t{Pmap: childPmap, P_pmap: childPPmap}

	require.Equal(t, 0, int(parent.Fork_copy(child)))

	pvmi, ok := parent.Vmregion.Lookup(uintptr(mem.USERMIN))
	require.True(t, ok)
	ppte, ok := pvmi.Ptefor(parent.Pmap, uintptr(mem.USERMIN))
	require.True(t, ok)
	parentPhys := *ppte & PTE_ADDR
	require.NotZero(t, *ppte&PTE_COW)
	require.Equal(t, 2, mem.Physmem.Refcnt(parentPhys))

	cvmi, ok := child.Vmregion.Lookup(uintptr(mem.USERMIN))
	require.True(t, ok)
	cpte, ok := cvmi.Ptefor(child.Pmap, uintptr(mem.USERMIN))
	require.True(t, ok)
	require.Equal(t, parentPhys, *cpte&PTE_ADDR)

	// A write fault in the child now must copy rather than mutate the
	// page the parent still maps (spec section 8's CoW identity
	// property: a write by one address space is never visible to the
	// other).
	require.Equal(t, 0, int(child.Pgfault(1, uintptr(mem.USERMIN), uintptr(PTE_U|PTE_W))))
	cpte, _ = cvmi.Ptefor(child.Pmap, uintptr(mem.USERMIN))
	require.NotEqual(t, parentPhys, *cpte&PTE_ADDR)
	require.Zero(t, *cpte&PTE_COW)
}

func TestVmaddAnonThenRemoveClearsMapping(t *testing.T) {
	as := newAs(t)
	as.Vmadd_anon(mem.USERMIN, mem.PGSIZE, mem.Pa_t(PTE_U|PTE_W))
	require.Equal(t, 0, int(as.Pgfault(1, uintptr(mem.USERMIN), uintptr(PTE_U|PTE_W))))

	as.Lock_pmap()
	removed := as.Page_remove(mem.USERMIN)
	as.Unlock_pmap()
	require.True(t, removed)
}
