package fd

import (
	"testing"

	"github.com/fennix-project/kernel/defs"
	"github.com/fennix-project/kernel/fdops"
	"github.com/fennix-project/kernel/mem"
	"github.com/fennix-project/kernel/stat"
	"github.com/stretchr/testify/require"
)

// fakeFops is a minimal fdops.Fdops_i that counts closes and reopens,
// enough to exercise Table_t's refcount/close-on-exec contracts
// without a real file description behind it.
type fakeFops struct {
	closed  int
	reopens int
}

func (f *fakeFops) Close() defs.Err_t                       { f.closed++; return 0 }
func (f *fakeFops) Fstat(st *stat.Stat_t) defs.Err_t        { return 0 }
func (f *fakeFops) Lseek(off, whence int) (int, defs.Err_t) { return off, 0 }
func (f *fakeFops) Mmapi(offset, len int, inhibit bool) ([]mem.Mmapinfo_t, defs.Err_t) {
	return nil, -defs.EINVAL
}
func (f *fakeFops) Pathi() defs.Inum_t                         { return 1 }
func (f *fakeFops) Read(dst fdops.Userio_i) (int, defs.Err_t)  { return 0, 0 }
func (f *fakeFops) Reopen() defs.Err_t                         { f.reopens++; return 0 }
func (f *fakeFops) Write(src fdops.Userio_i) (int, defs.Err_t) { return 0, 0 }
func (f *fakeFops) Pollone(msg fdops.Pollmsg_t) (fdops.Fdwait_t, defs.Err_t) {
	return fdops.Fdwait_t{}, 0
}
func (f *fakeFops) Fcntl(cmd, arg int) int { return 0 }
func (f *fakeFops) Unpin(phys mem.Pa_t)    {}

var _ fdops.Fdops_i = (*fakeFops)(nil)

func TestInstallAssignsLowestFreeSlot(t *testing.T) {
	tbl := NewTable()
	a := tbl.Install(&Fd_t{Fops: &fakeFops{}, Perms: FD_READ})
	b := tbl.Install(&Fd_t{Fops: &fakeFops{}, Perms: FD_READ})
	require.Equal(t, 0, a)
	require.Equal(t, 1, b)

	require.Equal(t, defs.Err_t(0), tbl.Close(0))
	c := tbl.Install(&Fd_t{Fops: &fakeFops{}, Perms: FD_READ})
	require.Equal(t, 0, c)
}

func TestCloseUnopenedSlotFails(t *testing.T) {
	tbl := NewTable()
	require.Equal(t, -defs.EBADF, tbl.Close(3))
}

func TestDupClearsCloexecAndReopens(t *testing.T) {
	tbl := NewTable()
	ops := &fakeFops{}
	fdn := tbl.Install(&Fd_t{Fops: ops, Perms: FD_READ | FD_CLOEXEC})

	dupfdn, err := tbl.Dup(fdn)
	require.Equal(t, defs.Err_t(0), err)
	require.NotEqual(t, fdn, dupfdn)
	require.Equal(t, 1, ops.reopens)

	dup := tbl.Get(dupfdn)
	require.Zero(t, dup.Perms&FD_CLOEXEC)
}

func TestDup2ReplacesAndClosesOld(t *testing.T) {
	tbl := NewTable()
	src := &fakeFops{}
	oldAtTarget := &fakeFops{}
	srcFdn := tbl.Install(&Fd_t{Fops: src, Perms: FD_READ})
	targetFdn := tbl.Install(&Fd_t{Fops: oldAtTarget, Perms: FD_READ})

	require.Equal(t, defs.Err_t(0), tbl.Dup2(srcFdn, targetFdn))
	require.Equal(t, 1, oldAtTarget.closed)
	require.Equal(t, 1, src.reopens)
	require.Same(t, src, tbl.Get(targetFdn).Fops)
}

func TestExecClosesOnlyCloexecDescriptors(t *testing.T) {
	tbl := NewTable()
	keep := &fakeFops{}
	drop := &fakeFops{}
	keepFdn := tbl.Install(&Fd_t{Fops: keep, Perms: FD_READ})
	dropFdn := tbl.Install(&Fd_t{Fops: drop, Perms: FD_READ | FD_CLOEXEC})

	tbl.Exec()

	require.NotNil(t, tbl.Get(keepFdn))
	require.Nil(t, tbl.Get(dropFdn))
	require.Equal(t, 1, drop.closed)
	require.Equal(t, 0, keep.closed)
}

func TestForkInheritsAllDescriptorsIncludingCloexec(t *testing.T) {
	tbl := NewTable()
	ops := &fakeFops{}
	tbl.Install(&Fd_t{Fops: ops, Perms: FD_READ | FD_CLOEXEC})

	child, err := tbl.Fork()
	require.Equal(t, defs.Err_t(0), err)
	require.NotNil(t, child.Get(0))
	require.NotZero(t, child.Get(0).Perms&FD_CLOEXEC)
	require.Equal(t, 1, ops.reopens)
}

func TestCloseAllClosesEverything(t *testing.T) {
	tbl := NewTable()
	a := &fakeFops{}
	b := &fakeFops{}
	tbl.Install(&Fd_t{Fops: a, Perms: FD_READ})
	tbl.Install(&Fd_t{Fops: b, Perms: FD_READ})

	tbl.CloseAll()
	require.Equal(t, 1, a.closed)
	require.Equal(t, 1, b.closed)
	require.Nil(t, tbl.Get(0))
}
