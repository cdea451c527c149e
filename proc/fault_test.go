package proc

import (
	"testing"

	"github.com/fennix-project/kernel/defs"
	"github.com/fennix-project/kernel/mem"
	"github.com/stretchr/testify/require"
)

func TestHandleUserFaultResolvesViaExistingMapping(t *testing.T) {
	initPhysmem(t)
	sys := NewSystem()
	p, _ := sys.CreateProcess(nil, "init", Native, false)
	th := sys.CreateThread(p)

	base := mem.USERMIN
	p.Vm.Vmadd_anon(base, mem.PGSIZE, mem.Pa_t(mem.PTE_U|mem.PTE_W))

	resolved, sig := sys.HandleUserFault(p, th, uintptr(base), uintptr(mem.PTE_U), 14, fakeFaultSignal)
	require.True(t, resolved)
	require.Equal(t, defs.Signal_t(0), sig)
}

func TestHandleUserFaultGrowsStackOnGuardMiss(t *testing.T) {
	initPhysmem(t)
	sys := NewSystem()
	p, _ := sys.CreateProcess(nil, "init", Native, false)
	th := sys.CreateThread(p)

	stackLow := mem.USERMIN + 16*mem.PGSIZE
	p.Vm.Vmadd_anon(stackLow, mem.PGSIZE, mem.Pa_t(mem.PTE_U|mem.PTE_W))
	p.StackLow = stackLow

	faultAddr := uintptr(stackLow - mem.PGSIZE/2)
	resolved, sig := sys.HandleUserFault(p, th, faultAddr, uintptr(mem.PTE_U|mem.PTE_W), 14, fakeFaultSignal)
	require.True(t, resolved)
	require.Equal(t, defs.Signal_t(0), sig)

	p.Lock()
	newLow := p.StackLow
	p.Unlock()
	require.Less(t, newLow, stackLow)
}

func TestHandleUserFaultUnmappedDeliversSignal(t *testing.T) {
	initPhysmem(t)
	sys := NewSystem()
	p, _ := sys.CreateProcess(nil, "init", Native, false)
	th := sys.CreateThread(p)

	resolved, sig := sys.HandleUserFault(p, th, uintptr(mem.USERMIN+100*mem.PGSIZE), uintptr(mem.PTE_U), 14, fakeFaultSignal)
	require.False(t, resolved)
	require.Equal(t, defs.SIGSEGV, sig)
}

func fakeFaultSignal(vector uint64) defs.Signal_t {
	return defs.SIGSEGV
}
