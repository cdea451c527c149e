// Package mem implements the physical frame pool (spec section 4.A): a
// bitmap of physical page frames, the refcounts CoW mappings share, and
// the simulated direct map the rest of the kernel reads/writes pages
// through.
//
// Grounded on the teacher's biscuit/src/mem/mem.go for the Pa_t/Pg_t page
// vocabulary, the PTE_* flag bits and the Refcnt/Refup/Refdown contract;
// the allocator itself is rebuilt on the bitmap-first-fit shape of
// gopheros's kernel/mem/pmm/allocator/bitmap_allocator.go, which is what
// spec section 4.A's frame pool actually asks for (the teacher's own pmm
// uses a percpu refcounted freelist grown from a patched Go runtime that
// has no stock-Go equivalent).
package mem

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/sirupsen/logrus"
)

const PGSHIFT uint = 12
const PGSIZE int = 1 << PGSHIFT

const PGOFFSET Pa_t = 0xfff
const PGMASK Pa_t = ^(PGOFFSET)

// Page table entry flags. COW/WASCOW are software bits the hardware
// ignores; the fault handler in vm gives them meaning.
const (
	PTE_P      Pa_t = 1 << 0
	PTE_W      Pa_t = 1 << 1
	PTE_U      Pa_t = 1 << 2
	PTE_PCD    Pa_t = 1 << 4
	PTE_A      Pa_t = 1 << 5
	PTE_D      Pa_t = 1 << 6
	PTE_PS     Pa_t = 1 << 7
	PTE_G      Pa_t = 1 << 8
	PTE_COW    Pa_t = 1 << 9
	PTE_WASCOW Pa_t = 1 << 10

	PTE_ADDR Pa_t = PGMASK
)

// Pa_t is a physical address.
type Pa_t uintptr

// Pg_t is a page interpreted as 512 machine words, the unit Refpg_new
// hands callers.
type Pg_t [512]int

// Bytepg_t is a page interpreted as bytes.
type Bytepg_t [PGSIZE]uint8

// Pmap_t is a page-table page: 512 page-table entries.
type Pmap_t [512]Pa_t

// Unpin_i lets a shared file mapping be notified when a page backing it
// is evicted from the cache.
type Unpin_i interface {
	Unpin(Pa_t)
}

// Mmapinfo_t describes one page of an mmap'd region as handed back to a
// caller building page table entries for it.
type Mmapinfo_t struct {
	Pg   *Pg_t
	Phys Pa_t
}

// Page_i abstracts physical page allocation for callers that don't need
// the full Physmem_t surface (e.g. the fs block cache).
type Page_i interface {
	Refpg_new() (*Pg_t, Pa_t, bool)
	Refpg_new_nozero() (*Pg_t, Pa_t, bool)
	Refcnt(Pa_t) int
	Dmap(Pa_t) *Pg_t
	Refup(Pa_t)
	Refdown(Pa_t) bool
}

func Pg2bytes(pg *Pg_t) *Bytepg_t    { return (*Bytepg_t)(unsafe.Pointer(pg)) }
func Bytepg2pg(pg *Bytepg_t) *Pg_t   { return (*Pg_t)(unsafe.Pointer(pg)) }
func pg2pmap(pg *Pg_t) *Pmap_t       { return (*Pmap_t)(unsafe.Pointer(pg)) }

func pgn(p Pa_t) uint32 { return uint32(p >> PGSHIFT) }

// framePool tracks one contiguous run of physical frames with a bitmap
// and a parallel refcount array, the way gopheros's bitmapAllocator
// tracks one multiboot memory region.
type framePool struct {
	startFrame uint32
	nframes    uint32
	bitmap     []uint64
	refcnt     []int32
	cursor     uint32
	free       uint32
	reserved   uint32
}

func newFramePool(start, nframes uint32) *framePool {
	return &framePool{
		startFrame: start,
		nframes:    nframes,
		bitmap:     make([]uint64, (nframes+63)/64),
		refcnt:     make([]int32, nframes),
		free:       nframes,
	}
}

func (p *framePool) contains(f uint32) bool {
	return f >= p.startFrame && f < p.startFrame+p.nframes
}
func (p *framePool) bit(f uint32) (uint, uint64) {
	idx := f - p.startFrame
	return uint(idx / 64), 1 << (idx % 64)
}
func (p *framePool) isSet(f uint32) bool { w, m := p.bit(f); return p.bitmap[w]&m != 0 }
func (p *framePool) set(f uint32)        { w, m := p.bit(f); p.bitmap[w] |= m }
func (p *framePool) clear(f uint32)      { w, m := p.bit(f); p.bitmap[w] &^= m }

func (p *framePool) firstFit(n uint32) (uint32, bool) {
	run := uint32(0)
	var start uint32
	for i := uint32(0); i < p.nframes; i++ {
		idx := (p.cursor + i) % p.nframes
		if p.isSet(p.startFrame + idx) {
			run = 0
			continue
		}
		if run == 0 {
			start = idx
		}
		run++
		if run == n {
			return p.startFrame + start, true
		}
	}
	return 0, false
}

func (p *framePool) markUsed(f, n uint32) {
	for i := uint32(0); i < n; i++ {
		p.set(f + i)
	}
	p.free -= n
	p.cursor = f - p.startFrame + n
	if p.cursor >= p.nframes {
		p.cursor = 0
	}
}

// Physmem_t owns every frame pool plus the simulated physical memory
// arena they describe. Everything above mem reaches physical memory
// contents only through Dmap, never a raw pointer, standing in for the
// architectural direct map spec section 1 keeps out of scope.
type Physmem_t struct {
	sync.Mutex
	pools []*framePool
	arena []byte
	base  uint32 // frame number the arena's byte 0 corresponds to

	Dmapinit bool

	oom func(need int)
}

var Physmem = &Physmem_t{}

// Zeropg/P_zeropg are the shared, refcounted zero page every fresh
// anonymous VANON mapping faults in before it is ever written.
var Zeropg *Pg_t
var P_zeropg Pa_t

// USERMIN is the lowest virtual address user mappings may occupy.
const USERMIN int = 1 << 30

// SetOOMHandler installs the policy Phys_init's caller wants invoked on
// exhaustion (spec 4.A "Failure semantics": kill the faulting process,
// or panic from interrupt/kernel context where there is no process to
// kill).
func (m *Physmem_t) SetOOMHandler(f func(need int)) {
	m.Lock()
	m.oom = f
	m.Unlock()
}

// Phys_init lays one frame pool of totalFrames frames starting at base, reserves the
// [reserveStart, reserveEnd) range (kernel image, boot structures), and
// allocates the shared zero page (spec 4.A "Initialization").
func Phys_init(base Pa_t, totalFrames uint32, reserveStart, reserveEnd Pa_t) *Physmem_t {
	phys := Physmem
	phys.base = pgn(base)
	phys.pools = []*framePool{newFramePool(phys.base, totalFrames)}
	phys.arena = make([]byte, int(totalFrames)*PGSIZE)

	rs, re := pgn(reserveStart), pgn(reserveEnd)
	for f := rs; f < re; f++ {
		phys.reserveLocked(f)
	}
	phys.Dmapinit = true

	var ok bool
	Zeropg, P_zeropg, ok = phys._refpg_new(false)
	if !ok {
		panic("oom reserving zero page")
	}
	for i := range Zeropg {
		Zeropg[i] = 0
	}
	phys.Refup(P_zeropg)
	logrus.WithFields(logrus.Fields{
		"frames":   totalFrames,
		"reserved": re - rs,
	}).Info("mem: frame pool initialized")
	return phys
}

func (m *Physmem_t) poolFor(f uint32) *framePool {
	for _, p := range m.pools {
		if p.contains(f) {
			return p
		}
	}
	return nil
}

func (m *Physmem_t) reserveLocked(f uint32) {
	p := m.poolFor(f)
	if p == nil || p.isSet(f) {
		return
	}
	p.set(f)
	p.free--
	p.reserved++
}

// ReserveRange marks every frame in [start, end) reserved, beyond
// whatever Phys_init already reserved. Grounded on
// original_source/Kernel/core/memory/reserve_essentials.cpp's repeated
// ReservePages calls for the bitmap region, kernel symbol/string
// sections, module list, and RSDP/ACPI tables, each of which is a
// separate range Phys_init's single reserveStart/reserveEnd window
// doesn't need to cover by itself.
func (m *Physmem_t) ReserveRange(start, end Pa_t) {
	lo, hi := pgn(start), pgn(end)
	for f := lo; f < hi; f++ {
		m.reserveLocked(f)
	}
}

func (m *Physmem_t) unreserveLocked(f uint32) {
	p := m.poolFor(f)
	if p == nil || !p.isSet(f) {
		return
	}
	p.clear(f)
	p.free++
	p.reserved--
}

// UnreserveRange marks every frame in [start, end) free, the
// "unreserve the usable pages" half of reserve_essentials.cpp's
// reserve-everything-then-unreserve-usable algorithm boot.Init
// replays.
func (m *Physmem_t) UnreserveRange(start, end Pa_t) {
	lo, hi := pgn(start), pgn(end)
	for f := lo; f < hi; f++ {
		m.unreserveLocked(f)
	}
}

func (m *Physmem_t) _refpg_new(zero bool) (*Pg_t, Pa_t, bool) {
	m.Lock()
	var frame uint32
	var ok bool
	for _, p := range m.pools {
		if frame, ok = p.firstFit(1); ok {
			p.markUsed(frame, 1)
			break
		}
	}
	if !ok {
		if m.oom != nil {
			m.oom(1)
		}
		m.Unlock()
		return nil, 0, false
	}
	m.Unlock()
	p_pg := Pa_t(frame) << PGSHIFT
	pg := m.Dmap(p_pg)
	if zero {
		*pg = Pg_t{}
	}
	return pg, p_pg, true
}

// Refpg_new allocates a zero-filled page. Its refcount starts at zero;
// the caller is expected to Refup it once installed in a mapping.
func (m *Physmem_t) Refpg_new() (*Pg_t, Pa_t, bool) { return m._refpg_new(true) }

// Refpg_new_nozero allocates a page without clearing its contents, used
// when the caller is about to overwrite every byte (e.g. a CoW copy).
func (m *Physmem_t) Refpg_new_nozero() (*Pg_t, Pa_t, bool) { return m._refpg_new(false) }

// Pmap_new allocates a fresh, zeroed page-table page.
func (m *Physmem_t) Pmap_new() (*Pmap_t, Pa_t, bool) {
	pg, pa, ok := m._refpg_new(true)
	if !ok {
		return nil, 0, false
	}
	return pg2pmap(pg), pa, true
}

func (m *Physmem_t) frame(pa Pa_t) uint32 { return pgn(pa) }

// Refaddr exposes the refcount slot for pa directly, for the single-owner
// CoW fast path (spec 4.B "Copy-on-write": a page mapped exactly once can
// be claimed in place instead of copied).
func (m *Physmem_t) Refaddr(pa Pa_t) (*int32, uint32) {
	f := m.frame(pa)
	p := m.poolFor(f)
	if p == nil {
		panic(fmt.Sprintf("mem: Refaddr: frame %d out of range", f))
	}
	idx := f - p.startFrame
	return &p.refcnt[idx], idx
}

func (m *Physmem_t) Refcnt(pa Pa_t) int {
	ref, _ := m.Refaddr(pa)
	return int(atomic.LoadInt32(ref))
}

func (m *Physmem_t) Refup(pa Pa_t) {
	ref, _ := m.Refaddr(pa)
	if atomic.AddInt32(ref, 1) <= 0 {
		panic("mem: Refup on a freed page")
	}
}

// Refdown decrements pa's refcount, freeing the frame when it reaches
// zero, and reports whether it did. A page whose count is already zero
// (allocated but never Refup'd) is freed as well. Refdown on a frame
// that is already free logs a double-free warning and changes nothing.
func (m *Physmem_t) Refdown(pa Pa_t) bool {
	ref, _ := m.Refaddr(pa)
	c := atomic.AddInt32(ref, -1)
	if c > 0 {
		return false
	}
	if c < 0 {
		atomic.StoreInt32(ref, 0)
	}
	f := m.frame(pa)
	m.Lock()
	p := m.poolFor(f)
	if !p.isSet(f) {
		m.Unlock()
		logrus.WithField("frame", f).Warn("mem: double free")
		return false
	}
	p.clear(f)
	p.free++
	rel := f - p.startFrame
	if rel < p.cursor {
		p.cursor = rel
	}
	m.Unlock()
	return true
}

// Dec_pmap releases the reference a process held on its top-level page
// table, freeing it once no thread has it active (the teacher's percpu
// cr3-tracking simplifies here to a plain refcount: this simulation has
// no real per-CPU cr3 register to track).
func (m *Physmem_t) Dec_pmap(pa Pa_t) { m.Refdown(pa) }

// Dmap resolves pa to the live page it names. It is the only way
// anything above mem touches physical page contents.
func (m *Physmem_t) Dmap(pa Pa_t) *Pg_t {
	off := (int(pgn(pa)) - int(m.base)) * PGSIZE
	if off < 0 || off+PGSIZE > len(m.arena) {
		panic(fmt.Sprintf("mem: Dmap out of range: %#x", pa))
	}
	return (*Pg_t)(unsafe.Pointer(&m.arena[off]))
}

// DmapPmap is Dmap but for page-table pages: it resolves pa to the
// page-table page it names so pmap_walk can descend another level.
func (m *Physmem_t) DmapPmap(pa Pa_t) *Pmap_t {
	return pg2pmap(m.Dmap(pa))
}

// Dmap8 is Dmap but addressed and sliced at byte granularity.
func (m *Physmem_t) Dmap8(pa Pa_t) []uint8 {
	pg := m.Dmap(pa &^ PGOFFSET)
	return Pg2bytes(pg)[pa&PGOFFSET:]
}

// Total/Free/Reserved/Used report the frame-conservation invariant of
// spec section 8: Free()+Used()+Reserved() == Total() always.
func (m *Physmem_t) Total() uint32 {
	m.Lock()
	defer m.Unlock()
	var t uint32
	for _, p := range m.pools {
		t += p.nframes
	}
	return t
}

func (m *Physmem_t) Free() uint32 {
	m.Lock()
	defer m.Unlock()
	var f uint32
	for _, p := range m.pools {
		f += p.free
	}
	return f
}

func (m *Physmem_t) Reserved() uint32 {
	m.Lock()
	defer m.Unlock()
	var r uint32
	for _, p := range m.pools {
		r += p.reserved
	}
	return r
}

func (m *Physmem_t) Used() uint32 { return m.Total() - m.Free() - m.Reserved() }
