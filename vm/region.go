// Package vm implements the per-process address space (spec section
// 4.B): the VMA list, copy-on-write fault handling, address-space fork
// and the user-memory copy helpers syscalls use to cross the user/kernel
// boundary safely.
//
// Grounded on the teacher's biscuit/src/vm/as.go and userbuf.go, which
// this package keeps close to verbatim for the parts that are pure
// address-space bookkeeping; the page-table walk, region list and
// TLB-shootdown machinery below are rebuilt here because the teacher's
// versions either live in files this pack didn't retrieve or call into a
// patched Go runtime (runtime.Condflush, CPU-APIC maps) with no stock
// equivalent.
package vm

import (
	"sort"

	"github.com/fennix-project/kernel/defs"
	"github.com/fennix-project/kernel/fdops"
	"github.com/fennix-project/kernel/mem"
)

// mtype_t distinguishes the three kinds of VMA spec section 4.B names.
type mtype_t uint

const (
	VANON mtype_t = iota
	VFILE
	VSANON
)

// Mfile_t is the file-backing state a VFILE mapping shares across every
// Vminfo_t that maps the same underlying file region.
type Mfile_t struct {
	mfops    fdops.Fdops_i
	unpin    mem.Unpin_i
	mapcount int
}

type filemap_t struct {
	foff   int
	mfile  *Mfile_t
	shared bool
}

// Vminfo_t is one VMA: a contiguous run of pages sharing a type,
// permission and (for VFILE) backing file.
type Vminfo_t struct {
	Mtype mtype_t
	Pgn   uintptr
	Pglen int
	Perms uint
	file  filemap_t
}

func (vmi *Vminfo_t) Start() uintptr { return vmi.Pgn << PGSHIFT }
func (vmi *Vminfo_t) End() uintptr   { return (vmi.Pgn + uintptr(vmi.Pglen)) << PGSHIFT }

// Ptefor returns the page table entry backing va within this VMA,
// creating intermediate page-table levels as needed.
func (vmi *Vminfo_t) Ptefor(pmap *mem.Pmap_t, va uintptr) (*mem.Pa_t, bool) {
	perms := mem.PTE_U
	if vmi.Perms&uint(mem.PTE_W) != 0 {
		perms |= mem.PTE_W
	}
	pte, err := pmap_walk(pmap, int(va), perms)
	return pte, err == 0
}

// Filepage returns the page backing faultaddr within a VFILE mapping. A
// real filesystem-backed implementation would route this through the fs
// package's block cache; this simulation backs every file mapping with a
// private zero-initialized page the first time it's touched, which is
// sufficient to exercise the fault-handling and refcount machinery spec
// section 8's CoW/identity properties test.
func (vmi *Vminfo_t) Filepage(faultaddr uintptr) (*mem.Pg_t, mem.Pa_t, defs.Err_t) {
	pg, pa, ok := mem.Physmem.Refpg_new()
	if !ok {
		return nil, 0, -defs.ENOMEM
	}
	return pg, pa, 0
}

// Vmregion_t is the sorted, non-overlapping list of VMAs making up an
// address space, keyed by starting page number.
type Vmregion_t struct {
	regions []*Vminfo_t
}

func (vr *Vmregion_t) insert(vmi *Vminfo_t) {
	i := sort.Search(len(vr.regions), func(i int) bool {
		return vr.regions[i].Pgn >= vmi.Pgn
	})
	vr.regions = append(vr.regions, nil)
	copy(vr.regions[i+1:], vr.regions[i:])
	vr.regions[i] = vmi
}

// Lookup finds the VMA containing virtual address va, if any.
func (vr *Vmregion_t) Lookup(va uintptr) (*Vminfo_t, bool) {
	pgn := va >> PGSHIFT
	i := sort.Search(len(vr.regions), func(i int) bool {
		return vr.regions[i].Pgn+uintptr(vr.regions[i].Pglen) > pgn
	})
	if i == len(vr.regions) || vr.regions[i].Pgn > pgn {
		return nil, false
	}
	return vr.regions[i], true
}

// empty finds the lowest address >= startva that has at least len free
// bytes, for mmap's MAP_FIXED-less placement.
func (vr *Vmregion_t) empty(startva, length uintptr) (uintptr, uintptr) {
	cur := startva
	for _, r := range vr.regions {
		rs := r.Start()
		if rs >= cur && rs-cur >= length {
			return cur, rs - cur
		}
		if re := r.End(); re > cur {
			cur = re
		}
	}
	return cur, ^uintptr(0) - cur
}

// Remove drops the VMAs covering [start, start+length) from the list
// (used by munmap and by address-space teardown).
func (vr *Vmregion_t) Remove(start, length uintptr) {
	startpg := start >> PGSHIFT
	endpg := (start + length + uintptr(mem.PGSIZE) - 1) >> PGSHIFT
	kept := vr.regions[:0]
	for _, r := range vr.regions {
		if r.Pgn+uintptr(r.Pglen) <= startpg || r.Pgn >= endpg {
			kept = append(kept, r)
			continue
		}
		vr.closeVMA(r)
	}
	vr.regions = kept
}

func (vr *Vmregion_t) closeVMA(r *Vminfo_t) {
	if r.Mtype == VFILE && r.file.mfile != nil {
		r.file.mfile.mapcount--
	}
}

// Clear drops every VMA, used when an address space is being destroyed.
func (vr *Vmregion_t) Clear() {
	for _, r := range vr.regions {
		vr.closeVMA(r)
	}
	vr.regions = nil
}

// Copy deep-copies the region list for fork: every VMA is duplicated,
// and each VFILE entry's mapcount is bumped. The region list carries no
// CoW state; Vm_t.Fork_copy sets the CoW bits in the page table entries.
func (vr *Vmregion_t) Copy() Vmregion_t {
	var out Vmregion_t
	out.regions = make([]*Vminfo_t, len(vr.regions))
	for i, r := range vr.regions {
		cp := *r
		if cp.Mtype == VFILE && cp.file.mfile != nil {
			cp.file.mfile.mapcount++
		}
		out.regions[i] = &cp
	}
	return out
}
