package proc

import (
	"github.com/fennix-project/kernel/defs"
	"github.com/fennix-project/kernel/fdops"
	"github.com/fennix-project/kernel/mem"
	"github.com/fennix-project/kernel/util"
)

// Mmap flags, the small subset spec 4.D's mmap operation names.
const (
	MAP_ANONYMOUS = 0x1
	MAP_SHARED    = 0x2
	MAP_FIXED     = 0x4
	PROT_WRITE    = 0x1
)

// Mmap implements spec 4.D's mmap: an anonymous private fixed-or-hint
// mapping allocates pages directly from the VMA; a file-backed private
// read-only mapping allocates an anonymous buffer and reads length
// bytes from fd at offset into it (shared file mappings are reserved,
// matching spec's "Shared mappings are reserved"). offset must be
// page-aligned; fd=-1 requires MAP_ANONYMOUS.
func (p *Pcb_t) Mmap(hint, length, prot, flags, fdn, offset int) (int, defs.Err_t) {
	if offset%mem.PGSIZE != 0 {
		return 0, -defs.EINVAL
	}
	if length <= 0 {
		return 0, -defs.EINVAL
	}
	if fdn == -1 && flags&MAP_ANONYMOUS == 0 {
		return 0, -defs.EINVAL
	}
	if flags&MAP_SHARED != 0 && flags&MAP_ANONYMOUS == 0 {
		// shared file-backed mappings are reserved, per spec 4.D.
		return 0, -defs.ENOTSUP
	}

	length = util.Roundup(length, mem.PGSIZE)

	p.Vm.Lock_pmap()
	var start int
	if flags&MAP_FIXED != 0 {
		start = util.Rounddown(hint, mem.PGSIZE)
	} else {
		start = p.Vm.Unusedva_inner(hint, length)
	}
	p.Vm.Unlock_pmap()

	perms := mem.Pa_t(mem.PTE_U)
	if prot&PROT_WRITE != 0 {
		perms |= mem.PTE_W
	}

	if flags&MAP_ANONYMOUS != 0 {
		p.Vm.Vmadd_anon(start, length, perms)
		return start, 0
	}

	f := p.Fds.Get(fdn)
	if f == nil {
		return 0, -defs.EBADF
	}
	buf := make([]uint8, length)
	uio := &kernelIO_t{buf: buf}
	if _, err := f.Fops.Read(uio); err != 0 {
		return 0, err
	}
	p.Vm.Vmadd_anon(start, length, perms&^mem.PTE_W)
	if err := p.Vm.K2user(buf, start); err != 0 {
		return 0, err
	}
	return start, 0
}

// kernelIO_t adapts a plain kernel-owned byte slice to fdops.Userio_i
// so Mmap can drive a read through the same Fdops_i.Read path a real
// user read syscall uses, without a user virtual address to fault on.
type kernelIO_t struct {
	buf []uint8
	off int
}

// Uioread copies data out of the kernel buffer into dst.
func (k *kernelIO_t) Uioread(dst []uint8) (int, defs.Err_t) {
	n := copy(dst, k.buf[k.off:])
	k.off += n
	return n, 0
}

// Uiowrite copies src into the kernel buffer.
func (k *kernelIO_t) Uiowrite(src []uint8) (int, defs.Err_t) {
	n := copy(k.buf[k.off:], src)
	k.off += n
	return n, 0
}

func (k *kernelIO_t) Remain() int  { return len(k.buf) - k.off }
func (k *kernelIO_t) Totalsz() int { return len(k.buf) }

var _ fdops.Userio_i = (*kernelIO_t)(nil)
