package vm

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/fennix-project/kernel/bounds"
	"github.com/fennix-project/kernel/defs"
	"github.com/fennix-project/kernel/fdops"
	"github.com/fennix-project/kernel/mem"
	"github.com/fennix-project/kernel/res"
	"github.com/fennix-project/kernel/ustr"
	"github.com/fennix-project/kernel/util"
)

// Vm_t represents a process address space. The mutex protects
// modifications to Vmregion, Pmap, and P_pmap (spec section 4.B,
// "Address Space").
type Vm_t struct {
	sync.Mutex

	Vmregion Vmregion_t

	Pmap   *mem.Pmap_t
	P_pmap mem.Pa_t

	pgfltaken bool
}

// Lock_pmap acquires the address space mutex and marks that a page
// fault is being handled.
func (as *Vm_t) Lock_pmap() {
	as.Lock()
	as.pgfltaken = true
}

// Unlock_pmap releases the address space mutex after page table
// manipulation is complete.
func (as *Vm_t) Unlock_pmap() {
	as.pgfltaken = false
	as.Unlock()
}

// Lockassert_pmap panics if the address space mutex is not held.
func (as *Vm_t) Lockassert_pmap() {
	if !as.pgfltaken {
		panic("pgfl lock must be held")
	}
}

// Userdmap8_inner returns a slice mapping of the user address at va.
// When k2u is true the memory will be prepared for a kernel write
// (faulting in and breaking CoW as needed).
func (as *Vm_t) Userdmap8_inner(va int, k2u bool) ([]uint8, defs.Err_t) {
	as.Lockassert_pmap()

	voff := va & int(PGOFFSET)
	uva := uintptr(va)
	vmi, ok := as.Vmregion.Lookup(uva)
	if !ok {
		return nil, -defs.EFAULT
	}
	pte, ok := vmi.Ptefor(as.Pmap, uva)
	if !ok {
		return nil, -defs.ENOMEM
	}
	ecode := uintptr(PTE_U)
	needfault := true
	isp := *pte&PTE_P != 0
	if k2u {
		ecode |= uintptr(PTE_W)
		iscow := *pte&PTE_COW != 0
		if isp && !iscow {
			needfault = false
		}
	} else if isp {
		needfault = false
	}

	if needfault {
		if err := Sys_pgfault(as, vmi, uva, ecode); err != 0 {
			return nil, err
		}
	}

	pg := mem.Physmem.Dmap(*pte & PTE_ADDR)
	bpg := mem.Pg2bytes(pg)
	return bpg[voff:], 0
}

func (as *Vm_t) _userdmap8(va int, k2u bool) ([]uint8, defs.Err_t) {
	as.Lock_pmap()
	ret, err := as.Userdmap8_inner(va, k2u)
	as.Unlock_pmap()
	return ret, err
}

// Userdmap8r maps the user address for reading and returns the
// resulting slice or an error.
func (as *Vm_t) Userdmap8r(va int) ([]uint8, defs.Err_t) {
	return as._userdmap8(va, false)
}

func (as *Vm_t) usermapped(va, n int) bool {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	_, ok := as.Vmregion.Lookup(uintptr(va))
	return ok
}

// Userreadn reads n bytes from the user address va.
func (as *Vm_t) Userreadn(va, n int) (int, defs.Err_t) {
	as.Lock_pmap()
	a, b := as.userreadn_inner(va, n)
	as.Unlock_pmap()
	return a, b
}

func (as *Vm_t) userreadn_inner(va, n int) (int, defs.Err_t) {
	as.Lockassert_pmap()
	if n > 8 {
		panic("large n")
	}
	var ret int
	var src []uint8
	var err defs.Err_t
	for i := 0; i < n; i += len(src) {
		src, err = as.Userdmap8_inner(va+i, false)
		if err != 0 {
			return 0, err
		}
		l := n - i
		if len(src) < l {
			l = len(src)
		}
		v := util.Readn(src, l, 0)
		ret |= v << (8 * uint(i))
	}
	return ret, 0
}

// Userwriten writes n bytes of val to the user address va.
func (as *Vm_t) Userwriten(va, n, val int) defs.Err_t {
	if n > 8 {
		panic("large n")
	}
	as.Lock_pmap()
	defer as.Unlock_pmap()
	var dst []uint8
	for i := 0; i < n; i += len(dst) {
		v := val >> (8 * uint(i))
		t, err := as.Userdmap8_inner(va+i, true)
		dst = t
		if err != 0 {
			return err
		}
		util.Writen(dst, n-i, 0, v)
	}
	return 0
}

// Userstr copies a NUL terminated string from user space up to lenmax
// bytes.
func (as *Vm_t) Userstr(uva int, lenmax int) (ustr.Ustr, defs.Err_t) {
	if lenmax < 0 {
		return nil, 0
	}
	as.Lock_pmap()
	i := 0
	s := ustr.MkUstr()
	for {
		str, err := as.Userdmap8_inner(uva+i, false)
		if err != 0 {
			as.Unlock_pmap()
			return s, err
		}
		for j, c := range str {
			if c == 0 {
				s = append(s, str[:j]...)
				as.Unlock_pmap()
				return s, 0
			}
		}
		s = append(s, str...)
		i += len(str)
		if len(s) >= lenmax {
			as.Unlock_pmap()
			return nil, -defs.ENAMETOOLONG
		}
	}
}

// Usertimespec reads a timeval structure from user memory at va.
func (as *Vm_t) Usertimespec(va int) (time.Duration, time.Time, defs.Err_t) {
	var zt time.Time
	secs, err := as.Userreadn(va, 8)
	if err != 0 {
		return 0, zt, err
	}
	nsecs, err := as.Userreadn(va+8, 8)
	if err != 0 {
		return 0, zt, err
	}
	if secs < 0 || nsecs < 0 {
		return 0, zt, -defs.EINVAL
	}
	tot := time.Duration(secs)*time.Second + time.Duration(nsecs)*time.Nanosecond
	t := time.Unix(int64(secs), int64(nsecs))
	return tot, t, 0
}

// K2user copies src into the user virtual address space starting at
// uva. The copy may be partial if the region is not fully mapped.
func (as *Vm_t) K2user(src []uint8, uva int) defs.Err_t {
	as.Lock_pmap()
	ret := as.K2user_inner(src, uva)
	as.Unlock_pmap()
	return ret
}

func (as *Vm_t) K2user_inner(src []uint8, uva int) defs.Err_t {
	as.Lockassert_pmap()
	cnt := 0
	l := len(src)
	for cnt != l {
		gimme := bounds.Bounds(bounds.B_ASPACE_T_K2USER_INNER)
		if !res.Resadd_noblock(gimme) {
			return -defs.ENOHEAP
		}
		dst, err := as.Userdmap8_inner(uva+cnt, true)
		if err != 0 {
			return err
		}
		ub := len(src)
		if ub > len(dst) {
			ub = len(dst)
		}
		copy(dst, src)
		src = src[ub:]
		cnt += ub
	}
	return 0
}

// User2k copies len(dst) bytes from the user virtual address uva into
// dst.
func (as *Vm_t) User2k(dst []uint8, uva int) defs.Err_t {
	as.Lock_pmap()
	ret := as.User2k_inner(dst, uva)
	as.Unlock_pmap()
	return ret
}

func (as *Vm_t) User2k_inner(dst []uint8, uva int) defs.Err_t {
	as.Lockassert_pmap()
	cnt := 0
	for len(dst) != 0 {
		gimme := bounds.Bounds(bounds.B_ASPACE_T_USER2K_INNER)
		if !res.Resadd_noblock(gimme) {
			return -defs.ENOHEAP
		}
		src, err := as.Userdmap8_inner(uva+cnt, false)
		if err != 0 {
			return err
		}
		did := copy(dst, src)
		dst = dst[did:]
		cnt += did
	}
	return 0
}

// Unusedva_inner finds the lowest unused virtual address range of len
// bytes at or above startva.
func (as *Vm_t) Unusedva_inner(startva, length int) int {
	as.Lockassert_pmap()
	if length < 0 || length > 1<<48 {
		panic("weird len")
	}
	startva = util.Rounddown(startva, mem.PGSIZE)
	if startva < mem.USERMIN {
		startva = mem.USERMIN
	}
	_ret, _l := as.Vmregion.empty(uintptr(startva), uintptr(length))
	ret := int(_ret)
	l := int(_l)
	if startva > ret && startva < ret+l {
		ret = startva
	}
	return ret
}

// Tlbshoot invalidates pgcount pages starting at startva. This
// simulation runs every thread's user-memory access under as's single
// mutex, so there is never a second CPU with a stale TLB entry to
// shoot down; the call exists so pgfault/Page_insert read the way the
// teacher's do, against a real multi-CPU TLB.
func (as *Vm_t) Tlbshoot(startva uintptr, pgcount int) {
	if pgcount == 0 {
		return
	}
	as.Lockassert_pmap()
	tlb_shootdown(as.P_pmap, nil, startva, pgcount)
}

// faultResolution is what one of the three region-kind fault resolvers
// below hands back to Sys_pgfault: the physical page to map, the PTE
// permission bits to install, whether that page's refcount is already
// owned by the block cache (isblockpage, so Page_insert mustn't bump
// it again), and whether the PTE being replaced is known to be empty
// (isempty, the fast path _page_insert takes when there's nothing to
// tear down first).
type faultResolution struct {
	page       mem.Pa_t
	perms      mem.Pa_t
	isblockpage bool
	isempty    bool
}

// sharedFilePageFault resolves a fault against a shared (non-private)
// VFILE region: spec section 4.B draws the private/shared CoW
// distinction here — a shared mapping is never copy-on-write, so the
// page Filepage returns is mapped directly (writable if the region is),
// read or write alike, with no private-copy branch. Filepage allocates
// a fresh page on every call, so two faults on the same address do not
// end up sharing one page.
func sharedFilePageFault(vmi *Vminfo_t, faultaddr uintptr) (faultResolution, defs.Err_t) {
	_, p_pg, err := vmi.Filepage(faultaddr)
	if err != 0 {
		return faultResolution{}, err
	}
	perms := mem.Pa_t(PTE_U | PTE_P)
	if vmi.Perms&uint(PTE_W) != 0 {
		perms |= PTE_W
	}
	return faultResolution{page: p_pg, perms: perms, isblockpage: true, isempty: true}, 0
}

// privateWriteFault resolves a write fault against a private (VANON or
// VFILE) region: the region's own copy-on-write state, not just its
// Mtype, decides whether this is a break-in-place (the page is already
// privately owned) or a genuine copy of a shared source page.
func privateWriteFault(as *Vm_t, vmi *Vminfo_t, pte *mem.Pa_t, faultaddr uintptr) (faultResolution, bool, defs.Err_t) {
	if *pte&PTE_W != 0 {
		panic("bad state")
	}
	perms := mem.Pa_t(PTE_U | PTE_P)
	isempty := true

	var pgsrc *mem.Pg_t
	if *pte&PTE_COW != 0 {
		phys := *pte & PTE_ADDR
		ref, _ := mem.Physmem.Refaddr(phys)
		if vmi.Mtype == VANON && atomic.LoadInt32(ref) == 1 && phys != mem.P_zeropg {
			// sole owner of this private page left: break the CoW
			// mapping in place instead of copying, the private-region
			// fast path a shared mapping can never take.
			tmp := *pte &^ PTE_COW
			tmp |= PTE_W | PTE_WASCOW
			*pte = tmp
			as.Tlbshoot(faultaddr, 1)
			return faultResolution{}, true, 0
		}
		pgsrc = mem.Physmem.Dmap(phys)
		isempty = false
	} else {
		if *pte != 0 {
			panic("no")
		}
		switch vmi.Mtype {
		case VANON:
			pgsrc = mem.Zeropg
		case VFILE:
			var err defs.Err_t
			var p_bpg mem.Pa_t
			pgsrc, p_bpg, err = vmi.Filepage(faultaddr)
			if err != 0 {
				return faultResolution{}, false, err
			}
			defer mem.Physmem.Refdown(p_bpg)
		default:
			panic("wut")
		}
	}

	pg, p_pg, ok := mem.Physmem.Refpg_new_nozero()
	if !ok {
		return faultResolution{}, false, -defs.ENOMEM
	}
	*pg = *pgsrc
	perms |= PTE_WASCOW | PTE_W
	return faultResolution{page: p_pg, perms: perms, isempty: isempty}, false, 0
}

// privateReadFault resolves a first-touch read fault against a private
// region: VANON maps the shared zero page read-only, VFILE maps the
// block cache's page; both leave PTE_COW set on a writable region so a
// later write re-enters privateWriteFault above.
func privateReadFault(vmi *Vminfo_t, pte *mem.Pa_t, faultaddr uintptr) (faultResolution, defs.Err_t) {
	if *pte != 0 {
		panic("must be 0")
	}
	var p_pg mem.Pa_t
	isblockpage := false
	switch vmi.Mtype {
	case VANON:
		p_pg = mem.P_zeropg
	case VFILE:
		var err defs.Err_t
		_, p_pg, err = vmi.Filepage(faultaddr)
		if err != 0 {
			return faultResolution{}, err
		}
		isblockpage = true
	default:
		panic("wut")
	}
	perms := mem.Pa_t(PTE_U | PTE_P)
	if vmi.Perms&uint(PTE_W) != 0 {
		perms |= PTE_COW
	}
	return faultResolution{page: p_pg, perms: perms, isblockpage: isblockpage, isempty: true}, 0
}

// Sys_pgfault resolves a page fault for the address space as at the
// given fault address with the provided error code (spec section 4.B,
// "Copy-on-write"), dispatching to the shared or private resolver above
// depending on vmi's region kind.
func Sys_pgfault(as *Vm_t, vmi *Vminfo_t, faultaddr, ecode uintptr) defs.Err_t {
	isguard := vmi.Perms == 0
	iswrite := ecode&uintptr(PTE_W) != 0
	writeok := vmi.Perms&uint(PTE_W) != 0
	if isguard || (iswrite && !writeok) {
		return -defs.EFAULT
	}
	if ecode&uintptr(PTE_U) == 0 {
		panic("kernel page fault")
	}
	if vmi.Mtype == VSANON {
		// Vmadd_shareanon maps no pages; VSANON pages are only
		// installed by Fork_copy from an existing mapping, so any fault
		// on a VSANON region, including first touch after
		// Vmadd_shareanon, panics here.
		panic("shared anon pages should always be mapped")
	}

	pte, ok := vmi.Ptefor(as.Pmap, faultaddr)
	if !ok {
		return -defs.ENOMEM
	}
	if (iswrite && *pte&PTE_WASCOW != 0) || (!iswrite && *pte&PTE_P != 0) {
		// two threads simultaneously faulted on the same page
		return 0
	}

	shared := vmi.Mtype == VFILE && vmi.file.shared

	var res faultResolution
	var err defs.Err_t
	switch {
	case shared:
		res, err = sharedFilePageFault(vmi, faultaddr)
	case iswrite:
		var resolved bool
		res, resolved, err = privateWriteFault(as, vmi, pte, faultaddr)
		if resolved {
			return err
		}
	default:
		res, err = privateReadFault(vmi, pte, faultaddr)
	}
	if err != 0 {
		return err
	}

	perms := res.perms
	if perms&PTE_W != 0 {
		perms |= PTE_D
	}
	perms |= PTE_A

	var tshoot, pgok bool
	if res.isblockpage {
		tshoot, pgok = as.Blockpage_insert(int(faultaddr), res.page, perms, res.isempty, pte)
	} else {
		tshoot, pgok = as.Page_insert(int(faultaddr), res.page, perms, res.isempty, pte)
	}
	if !pgok {
		mem.Physmem.Refdown(res.page)
		return -defs.ENOMEM
	}
	if tshoot {
		as.Tlbshoot(faultaddr, 1)
	}
	return 0
}

// Page_insert maps the physical page p_pg at va with perms, bumping its
// refcount. The first return value reports whether a present mapping
// was replaced (needs a TLB flush); the second reports success.
func (as *Vm_t) Page_insert(va int, p_pg, perms mem.Pa_t, vempty bool, pte *mem.Pa_t) (bool, bool) {
	return as._page_insert(va, p_pg, perms, vempty, true, pte)
}

// Blockpage_insert is Page_insert for a page the cache already owns
// (its refcount isn't bumped again).
func (as *Vm_t) Blockpage_insert(va int, p_pg, perms mem.Pa_t, vempty bool, pte *mem.Pa_t) (bool, bool) {
	return as._page_insert(va, p_pg, perms, vempty, false, pte)
}

func (as *Vm_t) _page_insert(va int, p_pg, perms mem.Pa_t, vempty, refup bool, pte *mem.Pa_t) (bool, bool) {
	as.Lockassert_pmap()
	if refup {
		mem.Physmem.Refup(p_pg)
	}
	if pte == nil {
		var err defs.Err_t
		pte, err = pmap_walk(as.Pmap, va, PTE_U|PTE_W)
		if err != 0 {
			return false, false
		}
	}
	ninval := false
	var p_old mem.Pa_t
	if *pte&PTE_P != 0 {
		if vempty {
			panic("pte not empty")
		}
		if *pte&PTE_U == 0 {
			panic("replacing kernel page")
		}
		ninval = true
		p_old = *pte & PTE_ADDR
	}
	*pte = p_pg | perms | PTE_P
	if ninval {
		mem.Physmem.Refdown(p_old)
	}
	return ninval, true
}

// Page_remove unmaps the page at va from this address space.
func (as *Vm_t) Page_remove(va int) bool {
	as.Lockassert_pmap()
	remmed := false
	pte := Pmap_lookup(as.Pmap, va)
	if pte != nil && *pte&PTE_P != 0 {
		if *pte&PTE_U == 0 {
			panic("removing kernel page")
		}
		p_old := *pte & PTE_ADDR
		mem.Physmem.Refdown(p_old)
		*pte = 0
		remmed = true
	}
	return remmed
}

// Pgfault handles a page fault triggered by tid for the given fault
// address and error code.
func (as *Vm_t) Pgfault(tid defs.Tid_t, fa, ecode uintptr) defs.Err_t {
	as.Lock_pmap()
	vmi, ok := as.Vmregion.Lookup(fa)
	if !ok {
		as.Unlock_pmap()
		return -defs.EFAULT
	}
	ret := Sys_pgfault(as, vmi, fa, ecode)
	as.Unlock_pmap()
	return ret
}

// Uvmfree unmaps and releases every page mapped inside a VMA, drops
// every VMA, and releases this address space's reference on its
// top-level page table, the last step of exit/exec. Lower page-table
// levels are not released.
func (as *Vm_t) Uvmfree() {
	as.Lock_pmap()
	for _, r := range as.Vmregion.regions {
		for va := r.Start(); va < r.End(); va += uintptr(mem.PGSIZE) {
			as.Page_remove(int(va))
		}
	}
	as.Vmregion.Clear()
	as.Unlock_pmap()
	mem.Physmem.Dec_pmap(as.P_pmap)
}

// Vmadd_anon creates a private anonymous mapping (spec 4.B, VANON).
func (as *Vm_t) Vmadd_anon(start, length int, perms mem.Pa_t) {
	vmi := as._mkvmi(VANON, start, length, perms, 0, nil, nil)
	as.Vmregion.insert(vmi)
}

// Vmadd_file maps a region backed by fops, private unless later marked
// shared via Vmadd_sharefile.
func (as *Vm_t) Vmadd_file(start, length int, perms mem.Pa_t, fops fdops.Fdops_i, foff int) {
	vmi := as._mkvmi(VFILE, start, length, perms, foff, fops, nil)
	as.Vmregion.insert(vmi)
}

// Vmadd_shareanon inserts a shared anonymous mapping (VSANON).
func (as *Vm_t) Vmadd_shareanon(start, length int, perms mem.Pa_t) {
	vmi := as._mkvmi(VSANON, start, length, perms, 0, nil, nil)
	as.Vmregion.insert(vmi)
}

// Vmadd_sharefile creates a shared file-backed mapping.
func (as *Vm_t) Vmadd_sharefile(start, length int, perms mem.Pa_t, fops fdops.Fdops_i, foff int, unpin mem.Unpin_i) {
	vmi := as._mkvmi(VFILE, start, length, perms, foff, fops, unpin)
	vmi.file.shared = true
	as.Vmregion.insert(vmi)
}

// _mkvmi builds a Vminfo_t. perms should only carry PTE_U/PTE_W; the
// fault handler installs PTE_COW itself. perms == 0 means a guard page
// that never resolves a fault.
func (as *Vm_t) _mkvmi(mt mtype_t, start, length int, perms mem.Pa_t, foff int, fops fdops.Fdops_i, unpin mem.Unpin_i) *Vminfo_t {
	if length <= 0 {
		panic("bad vmi len")
	}
	if mem.Pa_t(start|length)&PGOFFSET != 0 {
		panic("start and len must be aligned")
	}
	pm := PTE_W | PTE_COW | PTE_WASCOW | PTE_PS | PTE_PCD | PTE_P | PTE_U
	if r := perms & pm; r != 0 && r != PTE_U && r != (PTE_W|PTE_U) {
		panic("bad perms")
	}
	ret := &Vminfo_t{}
	pgn := uintptr(start) >> PGSHIFT
	pglen := util.Roundup(length, mem.PGSIZE) >> PGSHIFT
	ret.Mtype = mt
	ret.Pgn = pgn
	ret.Pglen = pglen
	ret.Perms = uint(perms)
	if mt == VFILE {
		ret.file.foff = foff
		ret.file.mfile = &Mfile_t{mfops: fops, unpin: unpin, mapcount: pglen}
	}
	return ret
}

// Mkuserbuf allocates and initializes a Userbuf_t referencing user
// memory starting at userva.
func (as *Vm_t) Mkuserbuf(userva, length int) *Userbuf_t {
	ret := &Userbuf_t{}
	ret.ub_init(as, userva, length)
	return ret
}

// Fork_copy deep-copies this address space's page tables and VMA list
// into a child, installing copy-on-write on every writable private
// mapping (spec 4.B "fork"). The caller is responsible for allocating
// the child's top-level pmap via mem.Physmem.Pmap_new beforehand.
func (as *Vm_t) Fork_copy(child *Vm_t) defs.Err_t {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	child.pgfltaken = true
	defer func() { child.pgfltaken = false }()

	child.Vmregion = as.Vmregion.Copy()
	for _, r := range child.Vmregion.regions {
		for pgn := r.Pgn; pgn < r.Pgn+uintptr(r.Pglen); pgn++ {
			va := int(pgn << PGSHIFT)
			pte := Pmap_lookup(as.Pmap, va)
			if pte == nil || *pte&PTE_P == 0 {
				continue
			}
			phys := *pte & PTE_ADDR
			switch r.Mtype {
			case VSANON:
				// shared: child maps the same physical page, same perms.
				flags := *pte &^ PTE_ADDR
				if _, ok := child._page_insert(va, phys, flags, true, true, nil); !ok {
					return -defs.ENOMEM
				}
			default:
				cow := (*pte | PTE_COW) &^ (PTE_W | PTE_WASCOW)
				*pte = cow
				if _, ok := child._page_insert(va, phys, cow&^PTE_ADDR, true, true, nil); !ok {
					return -defs.ENOMEM
				}
			}
		}
	}
	return 0
}
