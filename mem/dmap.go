package mem

// The teacher's direct map is a hardware recursive-PML4-slot trick:
// physical memory is mapped 1:1 into a reserved kernel virtual region
// (VDIRECT) so the kernel can touch any physical page through a plain
// Go slice, and the PML4 recursive slot (VREC) lets it walk its own
// page tables as an ordinary array. Neither exists here — Physmem's
// arena (mem.go) already plays that role as a single backing []byte,
// addressed by frame number rather than by hardware virtual address.
// Dmaplen gives that arena the same "byte range at a physical address"
// access pattern the teacher's callers expect from the real direct map.

// Dmaplen returns a slice over the simulated arena starting at
// physical address p for l bytes.
func Dmaplen(p Pa_t, l int) []uint8 {
	return Physmem.Dmap8(p)[:l]
}
