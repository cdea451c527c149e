package signal

import (
	"testing"

	"github.com/fennix-project/kernel/defs"
	"github.com/stretchr/testify/require"
)

func TestDefaultDispositionKnownSignals(t *testing.T) {
	require.Equal(t, SIG_CORE, DefaultDisposition(defs.SIGSEGV))
	require.Equal(t, SIG_IGN, DefaultDisposition(defs.SIGCHLD))
	require.Equal(t, SIG_STOP, DefaultDisposition(defs.SIGSTOP))
	require.Equal(t, SIG_CONT, DefaultDisposition(defs.SIGCONT))
}

func TestDefaultDispositionUnknownDefaultsToTerm(t *testing.T) {
	require.Equal(t, SIG_TERM, DefaultDisposition(defs.Signal_t(63)))
}

func TestSendQueuesWhenHandlerInstalled(t *testing.T) {
	tbl := NewTable()
	require.Equal(t, defs.Err_t(0), tbl.SetAction(defs.SIGUSR1, Action_t{Handler: 0x1000}))
	out := tbl.Send(defs.SIGUSR1, 7, defs.NoTid)
	require.Equal(t, OutcomeQueued, out)

	p, a, ok := tbl.Deliverable(defs.Tid_t(1))
	require.True(t, ok)
	require.Equal(t, defs.SIGUSR1, p.Sig)
	require.Equal(t, 7, p.Val)
	require.Equal(t, uintptr(0x1000), a.Handler)
}

func TestSendDefaultDispositionWithNoHandler(t *testing.T) {
	tbl := NewTable()
	require.Equal(t, OutcomeCoreDump, tbl.Send(defs.SIGSEGV, 0, defs.NoTid))
	require.Equal(t, OutcomeIgnored, tbl.Send(defs.SIGCHLD, 0, defs.NoTid))
}

func TestSendSigkillAlwaysTerminates(t *testing.T) {
	tbl := NewTable()
	require.Equal(t, OutcomeTerminate, tbl.Send(defs.SIGKILL, 0, defs.NoTid))
}

func TestSetActionRejectsSigkillAndSigstop(t *testing.T) {
	tbl := NewTable()
	require.Equal(t, -defs.EINVAL, tbl.SetAction(defs.SIGKILL, Action_t{Handler: 0x1000}))
	require.Equal(t, -defs.EINVAL, tbl.SetAction(defs.SIGSTOP, Action_t{Handler: 0x1000}))
}

func TestSigIgnDropsAlreadyQueuedSignals(t *testing.T) {
	tbl := NewTable()
	require.Equal(t, defs.Err_t(0), tbl.SetAction(defs.SIGUSR2, Action_t{Handler: 0x2000}))
	tbl.Send(defs.SIGUSR2, 1, defs.NoTid)
	require.Equal(t, defs.Err_t(0), tbl.SetAction(defs.SIGUSR2, Action_t{Handler: 1}))
	_, _, ok := tbl.Deliverable(defs.Tid_t(1))
	require.False(t, ok)
}

func TestDeliverableBlocksWhileAlreadyHandling(t *testing.T) {
	tbl := NewTable()
	require.Equal(t, defs.Err_t(0), tbl.SetAction(defs.SIGUSR1, Action_t{Handler: 0x1000}))
	tbl.Send(defs.SIGUSR1, 1, defs.NoTid)
	_, a, ok := tbl.Deliverable(defs.Tid_t(1))
	require.True(t, ok)

	// A second instance arrives while the first is still being
	// handled; it must not be delivered again until EndHandler.
	tbl.Send(defs.SIGUSR1, 2, defs.NoTid)
	_, _, ok = tbl.Deliverable(defs.Tid_t(1))
	require.False(t, ok)

	tbl.EndHandler(defs.SIGUSR1, a.Mask)
	p, _, ok := tbl.Deliverable(defs.Tid_t(1))
	require.True(t, ok)
	require.Equal(t, 2, p.Val)
}

func TestSetBlockedCannotMaskKillOrStop(t *testing.T) {
	tbl := NewTable()
	var mask Set_t
	mask.Add(defs.SIGKILL)
	mask.Add(defs.SIGSTOP)
	mask.Add(defs.SIGUSR1)
	tbl.SetBlocked(mask)
	require.Equal(t, OutcomeTerminate, tbl.Send(defs.SIGKILL, 0, defs.NoTid))
}

func TestMakeExitCode(t *testing.T) {
	require.Equal(t, 100+int(defs.SIGSEGV), MakeExitCode(defs.SIGSEGV, false, 0))
	require.Equal(t, 128+11, MakeExitCode(defs.SIGSEGV, true, 11))
}
