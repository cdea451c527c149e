// Package metrics exposes a thin prometheus.Collector over the
// kernel's in-memory accounting types: frame-pool counters
// (mem.Physmem_t), per-syscall call counts and kernel time
// (stats.Counter_t/Cycles_t), and VFS cache size (fs.NodeCache_t).
//
// Grounded on containerd-nydus-snapshotter/pkg/metrics/types's
// Describe/Collect pair built from prometheus.Desc +
// prometheus.MustNewConstMetric — the hot accounting path
// (stats.Counter_t.Inc/Add) never touches a prometheus type directly;
// only Collect, called by the registry's periodic scrape, reads the
// counters and renders them.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// FrameSource is whatever can report the frame pool's current
// counters; mem.Physmem_t satisfies this already.
type FrameSource interface {
	Total() uint32
	Free() uint32
	Used() uint32
	Reserved() uint32
}

// SyscallSource reports per-syscall call counts and accumulated kernel
// time, keyed by syscall name, exported as counters.
type SyscallSource interface {
	// Snapshot returns a copy of the current per-syscall counters;
	// called once per scrape, never on the syscall hot path.
	Snapshot() map[string]SyscallTiming
}

// SyscallTiming is one syscall's accumulated time and call count.
type SyscallTiming struct {
	Calls     uint64
	KernelNs  uint64
}

// VFSSource reports the live node-cache size.
type VFSSource interface {
	CacheSize() int
}

var (
	frameTotalDesc    = prometheus.NewDesc("fennix_frames_total", "total physical frames", nil, nil)
	frameFreeDesc     = prometheus.NewDesc("fennix_frames_free", "free physical frames", nil, nil)
	frameUsedDesc     = prometheus.NewDesc("fennix_frames_used", "used physical frames", nil, nil)
	frameReservedDesc = prometheus.NewDesc("fennix_frames_reserved", "reserved physical frames", nil, nil)

	syscallCallsDesc = prometheus.NewDesc("fennix_syscall_calls_total", "syscall invocations", []string{"name"}, nil)
	syscallNsDesc    = prometheus.NewDesc("fennix_syscall_kernel_nanoseconds_total", "accumulated kernel time", []string{"name"}, nil)

	vfsCacheDesc = prometheus.NewDesc("fennix_vfs_cache_nodes", "live VFS node-cache entries", nil, nil)
)

// Collector implements prometheus.Collector over the three sources
// above. Any source left nil is simply skipped by Collect.
type Collector struct {
	Frames   FrameSource
	Syscalls SyscallSource
	VFS      VFSSource
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- frameTotalDesc
	ch <- frameFreeDesc
	ch <- frameUsedDesc
	ch <- frameReservedDesc
	ch <- syscallCallsDesc
	ch <- syscallNsDesc
	ch <- vfsCacheDesc
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.Frames != nil {
		ch <- prometheus.MustNewConstMetric(frameTotalDesc, prometheus.GaugeValue, float64(c.Frames.Total()))
		ch <- prometheus.MustNewConstMetric(frameFreeDesc, prometheus.GaugeValue, float64(c.Frames.Free()))
		ch <- prometheus.MustNewConstMetric(frameUsedDesc, prometheus.GaugeValue, float64(c.Frames.Used()))
		ch <- prometheus.MustNewConstMetric(frameReservedDesc, prometheus.GaugeValue, float64(c.Frames.Reserved()))
	}
	if c.Syscalls != nil {
		for name, t := range c.Syscalls.Snapshot() {
			ch <- prometheus.MustNewConstMetric(syscallCallsDesc, prometheus.CounterValue, float64(t.Calls), name)
			ch <- prometheus.MustNewConstMetric(syscallNsDesc, prometheus.CounterValue, float64(t.KernelNs), name)
		}
	}
	if c.VFS != nil {
		ch <- prometheus.MustNewConstMetric(vfsCacheDesc, prometheus.GaugeValue, float64(c.VFS.CacheSize()))
	}
}

var _ prometheus.Collector = (*Collector)(nil)
