// Package boot models the boot-info structure spec section 6 names
// ("A structure conveying: memory map ..., kernel physical base/size,
// kernel file base, symbol/string section descriptor, RSDP pointer,
// framebuffer descriptor(s), module list ..., EFI info, bootloader
// name, command line") and turns it into the arguments mem.Phys_init
// and the reservation pass it needs, per the order
// original_source/Kernel/core/memory/reserve_essentials.cpp lays out:
// reserve-universe, unreserve-usable, reserve-low-1MiB, then kernel
// image, kernel file+symbols, modules, and RSDP/ACPI in turn. The frame
// bitmap itself is Go memory outside the frame arena, so it has no
// range to reserve.
package boot

import "github.com/fennix-project/kernel/mem"

// MaxModules bounds the module list the same way
// original_source/Kernel/core/memory/reserve_essentials.cpp's
// MAX_MODULES constant does.
const MaxModules = 64

// EntryType classifies one memory-map entry, per spec section 6.
type EntryType int

const (
	Usable EntryType = iota
	Reserved
	ACPIReclaim
	ACPINVS
	BadMemory
	Unknown
)

func (t EntryType) String() string {
	switch t {
	case Usable:
		return "usable"
	case Reserved:
		return "reserved"
	case ACPIReclaim:
		return "acpi-reclaim"
	case ACPINVS:
		return "acpi-nvs"
	case BadMemory:
		return "bad"
	default:
		return "unknown"
	}
}

// MemoryEntry is one row of the bootloader-provided memory map.
type MemoryEntry struct {
	Base   mem.Pa_t
	Length uint64
	Type   EntryType
}

// Module is one boot module entry, spec section 6's
// "{addr, size, cmdline, path}".
type Module struct {
	Addr    mem.Pa_t
	Size    uint64
	Cmdline string
	Path    string
}

// SymbolSection describes the kernel's symbol/string table location in
// the loaded image, mirroring reserve_essentials.cpp's
// bInfo.Kernel.Symbols (a SHT_SYMTAB/SHT_STRTAB pair located via the
// ELF section header array at Sections).
type SymbolSection struct {
	Sections mem.Pa_t
	EntSize  uint64
	Num      uint64
}

// Framebuffer is one framebuffer descriptor spec section 6 names.
type Framebuffer struct {
	Addr          mem.Pa_t
	Width, Height uint32
	Pitch         uint32
	BPP           uint8
}

// EFIInfo carries whatever the bootloader's EFI handoff provides; a
// kernel not booted via EFI leaves this zero.
type EFIInfo struct {
	SystemTable mem.Pa_t
	Present     bool
}

// Info is the complete boot-info structure spec section 6 names.
type Info struct {
	Memory []MemoryEntry

	KernelPhysicalBase mem.Pa_t
	KernelSize         uint64
	KernelFileBase     mem.Pa_t
	Symbols            SymbolSection

	RSDP mem.Pa_t // 0 if absent

	Framebuffers []Framebuffer
	Modules      [MaxModules]Module

	EFI EFIInfo

	BootloaderName string
	CommandLine    string
}

// rsdpSize is sizeof(BootInfo::RSDPInfo) in the original; the ACPI 2.0
// RSDP structure this repo's RSDP pointer refers to.
const rsdpSize = 36

// Init lays the frame pool over Info's memory map and replays the
// reservation order reserve_essentials.cpp performs, then returns the
// ready-to-use Physmem_t. totalFrames spans from frame 0 through the
// highest memory-map entry's last frame, matching "reserve everything,
// then unreserve the usable pages" (everything below the lowest usable
// frame, and anything never marked usable, stays reserved).
func Init(bi Info) *mem.Physmem_t {
	var highest mem.Pa_t
	for _, e := range bi.Memory {
		end := e.Base + mem.Pa_t(e.Length)
		if end > highest {
			highest = end
		}
	}
	totalFrames := uint32(highest) / uint32(mem.PGSIZE)
	if uint32(highest)%uint32(mem.PGSIZE) != 0 {
		totalFrames++
	}

	// Phys_init allocates the shared zero page out of the pool, so the
	// universe is reserved only after it returns (reserving it first
	// would leave no frame for the zero page). Each Usable entry is then
	// unreserved; the part below 1 MiB is skipped because the low 1 MiB
	// is reserved again right after, and skipping it keeps the zero
	// page's frame marked used.
	phys := mem.Phys_init(0, totalFrames, 0, 0)
	phys.ReserveRange(0, highest)

	for _, e := range bi.Memory {
		if e.Type != Usable {
			continue
		}
		start, end := e.Base, e.Base+mem.Pa_t(e.Length)
		if start < 0x100000 {
			start = 0x100000
		}
		if end > start {
			phys.UnreserveRange(start, end)
		}
	}

	phys.ReserveRange(0, 0xFFFFF+1)
	phys.ReserveRange(bi.KernelPhysicalBase, bi.KernelPhysicalBase+mem.Pa_t(bi.KernelSize))
	if bi.KernelFileBase != 0 {
		phys.ReserveRange(bi.KernelFileBase, bi.KernelFileBase+mem.Pa_t(bi.KernelSize))
	}
	if bi.Symbols.Num != 0 && bi.Symbols.EntSize != 0 {
		phys.ReserveRange(bi.Symbols.Sections, bi.Symbols.Sections+mem.Pa_t(bi.Symbols.EntSize*bi.Symbols.Num))
	}
	for _, m := range bi.Modules {
		if m.Addr == 0 {
			continue
		}
		phys.ReserveRange(m.Addr, m.Addr+mem.Pa_t(m.Size))
	}
	if bi.RSDP != 0 {
		phys.ReserveRange(bi.RSDP, bi.RSDP+rsdpSize)
	}

	return phys
}
