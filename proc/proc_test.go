package proc

import (
	"testing"

	"github.com/fennix-project/kernel/defs"
	"github.com/fennix-project/kernel/mem"
	"github.com/stretchr/testify/require"
)

// initPhysmem lays a small frame pool over the global mem.Physmem
// singleton, the same setup boot.Init performs for the real kernel,
// scaled down for process/thread tests that only need a handful of
// page-table and anonymous pages.
func initPhysmem(t *testing.T) {
	t.Helper()
	mem.Phys_init(0, 4096, 0, 0)
}

func TestCreateProcessFresh(t *testing.T) {
	initPhysmem(t)
	sys := NewSystem()
	p, err := sys.CreateProcess(nil, "init", Native, false)
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, defs.Pid_t(1), p.Pid)
	require.Equal(t, defs.NoPid, p.Ppid)
	require.Equal(t, p.Pid, p.Pgid)
	require.NotNil(t, p.Vm)
	require.NotNil(t, p.Fds)

	got, ok := sys.Get(p.Pid)
	require.True(t, ok)
	require.Same(t, p, got)
}

func TestForkInheritsPgidAndCreatesChildThread(t *testing.T) {
	initPhysmem(t)
	sys := NewSystem()
	parent, err := sys.CreateProcess(nil, "parent", Native, false)
	require.Equal(t, defs.Err_t(0), err)

	pt := sys.CreateThread(parent)
	pt.Tf[0] = 0xdead

	childPid, err := sys.Fork(parent, pt.Tid)
	require.Equal(t, defs.Err_t(0), err)
	require.NotEqual(t, parent.Pid, childPid)

	child, ok := sys.Get(childPid)
	require.True(t, ok)
	require.Equal(t, parent.Pid, child.Ppid)
	require.Equal(t, parent.Pgid, child.Pgid)
	require.Contains(t, parent.Children, childPid)

	require.Len(t, child.Threads, 1)
	for _, ct := range child.Threads {
		require.Equal(t, uintptr(0xdead), ct.Tf[0])
	}
}

func TestForkUnknownCallingThread(t *testing.T) {
	initPhysmem(t)
	sys := NewSystem()
	parent, _ := sys.CreateProcess(nil, "parent", Native, false)
	_, err := sys.Fork(parent, defs.Tid_t(999))
	require.Equal(t, -defs.ESRCH, err)
}

func TestBrkGrowsAndShrinksPageAligned(t *testing.T) {
	initPhysmem(t)
	sys := NewSystem()
	p, _ := sys.CreateProcess(nil, "init", Native, false)
	p.brk_start = mem.USERMIN
	p.brk_end = mem.USERMIN

	grown, err := p.Brk(mem.USERMIN + mem.PGSIZE + 1)
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, mem.USERMIN+2*mem.PGSIZE, grown)

	shrunk, err := p.Brk(mem.USERMIN)
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, mem.USERMIN, shrunk)
}

func TestBrkRejectsBelowStart(t *testing.T) {
	initPhysmem(t)
	sys := NewSystem()
	p, _ := sys.CreateProcess(nil, "init", Native, false)
	p.brk_start = mem.USERMIN
	p.brk_end = mem.USERMIN

	_, err := p.Brk(mem.USERMIN - mem.PGSIZE)
	require.Equal(t, -defs.EINVAL, err)
}

func TestExitMarksZombieAndNotifiesWaiter(t *testing.T) {
	initPhysmem(t)
	sys := NewSystem()
	p, _ := sys.CreateProcess(nil, "init", Native, false)
	th := sys.CreateThread(p)

	sys.Exit(p, 7)

	th.Lock()
	st := th.State
	th.Unlock()
	require.Equal(t, Zombie, st)

	ws := <-p.WaitCh
	require.Equal(t, 7, ws.ExitCode)
	require.False(t, ws.Signaled)
}

func TestSendSignalDefaultDispositionTerminates(t *testing.T) {
	initPhysmem(t)
	sys := NewSystem()
	p, _ := sys.CreateProcess(nil, "init", Native, false)
	th := sys.CreateThread(p)

	sys.SendSignal(p, defs.SIGSEGV, 0, defs.NoTid)

	th.Lock()
	st := th.State
	th.Unlock()
	require.Equal(t, CoreDump, st)

	ws := <-p.WaitCh
	require.True(t, ws.Signaled)
	require.Equal(t, defs.SIGSEGV, ws.Sig)
	require.Equal(t, 100+int(defs.SIGSEGV), ws.ExitCode)
}
