package diag

import (
	"fmt"

	"github.com/google/pprof/profile"
	"github.com/ianlancetaylor/demangle"
	"golang.org/x/arch/x86/x86asm"
)

// SymbolEntry is one row of the kernel's static symbol table: a name
// and the address range it covers. cmd/kernel builds this table once
// from the symbol/string section boot info describes (spec section 6)
// and diag only ever reads it.
type SymbolEntry struct {
	Name string
	Addr uintptr
	Size uintptr
}

// SymbolTable resolves addresses to symbol names for the *stack*
// screen's frame walk and the *main* screen's faulting-function line.
type SymbolTable struct {
	entries []SymbolEntry // kept sorted by Addr
}

// NewSymbolTable sorts and wraps entries for lookup. Callers pass the
// table parsed from the boot-info symbol section already sorted;
// NewSymbolTable re-sorts defensively since a malformed boot table
// must not panic the resolver.
func NewSymbolTable(entries []SymbolEntry) *SymbolTable {
	sorted := append([]SymbolEntry(nil), entries...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1].Addr > sorted[j].Addr; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	return &SymbolTable{entries: sorted}
}

// Resolve finds the symbol containing addr, demangling its name via
// ianlancetaylor/demangle if it looks like a mangled C++ name (the
// original kernel this spec distills is written in C++, and any
// embedded debug symbols it left behind retain that mangling).
func (t *SymbolTable) Resolve(addr uintptr) string {
	lo, hi := 0, len(t.entries)
	for lo < hi {
		mid := (lo + hi) / 2
		if t.entries[mid].Addr <= addr {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo == 0 {
		return ""
	}
	e := t.entries[lo-1]
	if addr >= e.Addr+e.Size {
		return ""
	}
	return demangle.Filter(e.Name)
}

// WalkStack performs the best-effort {BP, IP} frame walk spec 4.E
// names ("best-effort frame walk using {BP/FP, IP} pairs, resolved via
// the kernel symbol table"). readWord reads one pointer-sized word
// from the (possibly-faulted) address space; it returns ok=false past
// the last mapped frame, ending the walk.
func WalkStack(bp, ip uintptr, sym *SymbolTable, readWord func(addr uintptr) (uintptr, bool), maxFrames int) []StackFrame {
	frames := []StackFrame{{IP: ip, Symbol: sym.Resolve(ip)}}
	for i := 0; i < maxFrames && bp != 0; i++ {
		savedBP, ok := readWord(bp)
		if !ok {
			break
		}
		retAddr, ok := readWord(bp + 8)
		if !ok {
			break
		}
		if retAddr == 0 {
			break
		}
		frames = append(frames, StackFrame{IP: retAddr, Symbol: sym.Resolve(retAddr)})
		bp = savedBP
	}
	return frames
}

// DecodeFaultingInstruction decodes the instruction at the fault IP
// from its captured bytes, shown on the *detail* screen next to the
// decoded page-fault error code (spec 4.E, SPEC_FULL.md section 2).
// mode64 selects 32- vs 64-bit decode mode.
func DecodeFaultingInstruction(code []byte, mode64 bool) string {
	mode := 32
	if mode64 {
		mode = 64
	}
	inst, err := x86asm.Decode(code, mode)
	if err != nil {
		return fmt.Sprintf("<undecodable: %v>", err)
	}
	return x86asm.GNUSyntax(inst, 0, nil)
}

// ToProfile renders a session's resolved stack as a single-sample
// pprof profile, the optional artifact SPEC_FULL.md section 2 names
// ("optionally emit a pprof-format profile alongside the raw .dmp
// file for the diag debugger command"). It never replaces the
// mandatory .dmp header/body from spec section 6.
func ToProfile(s *Session_t) *profile.Profile {
	p := &profile.Profile{
		SampleType: []*profile.ValueType{{Type: "panic", Unit: "count"}},
		PeriodType: &profile.ValueType{Type: "panic", Unit: "count"},
		Period:     1,
	}
	fn := &profile.Function{ID: 1, Name: s.ExName}
	p.Function = []*profile.Function{fn}

	var locs []*profile.Location
	for i, fr := range s.Stack {
		name := fr.Symbol
		if name == "" {
			name = fmt.Sprintf("0x%x", fr.IP)
		}
		f := &profile.Function{ID: uint64(i + 2), Name: name}
		p.Function = append(p.Function, f)
		loc := &profile.Location{
			ID:      uint64(i + 1),
			Address: uint64(fr.IP),
			Line:    []profile.Line{{Function: f}},
		}
		locs = append(locs, loc)
		p.Location = append(p.Location, loc)
	}
	p.Sample = []*profile.Sample{{Location: locs, Value: []int64{1}}}
	return p
}
