package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type fakeFrames struct{ total, free, used, reserved uint32 }

func (f fakeFrames) Total() uint32    { return f.total }
func (f fakeFrames) Free() uint32     { return f.free }
func (f fakeFrames) Used() uint32     { return f.used }
func (f fakeFrames) Reserved() uint32 { return f.reserved }

type fakeSyscalls struct{ m map[string]SyscallTiming }

func (f fakeSyscalls) Snapshot() map[string]SyscallTiming { return f.m }

type fakeVFS struct{ n int }

func (f fakeVFS) CacheSize() int { return f.n }

func TestCollectorDescribe(t *testing.T) {
	c := &Collector{}
	ch := make(chan *prometheus.Desc, 16)
	c.Describe(ch)
	close(ch)
	var descs []*prometheus.Desc
	for d := range ch {
		descs = append(descs, d)
	}
	require.Len(t, descs, 7)
}

func TestCollectorCollectSkipsNilSources(t *testing.T) {
	c := &Collector{}
	require.NotPanics(t, func() {
		require.Equal(t, 0, testutil.CollectAndCount(c))
	})
}

func TestCollectorCollectReportsAllSources(t *testing.T) {
	c := &Collector{
		Frames:   fakeFrames{total: 100, free: 40, used: 55, reserved: 5},
		Syscalls: fakeSyscalls{m: map[string]SyscallTiming{"getpid": {Calls: 3, KernelNs: 900}}},
		VFS:      fakeVFS{n: 12},
	}
	require.Equal(t, 4+2+1, testutil.CollectAndCount(c))
}

var _ FrameSource = fakeFrames{}
var _ SyscallSource = fakeSyscalls{}
var _ VFSSource = fakeVFS{}
