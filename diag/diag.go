// Package diag implements the panic pipeline (spec 4.E): quiescing a
// kernel exception, rendering the four-screen post-mortem UI, and
// writing the diagnostic dump file. Grounded on
// original_source/Kernel/core/panic/handler.cpp's ExceptionLock
// ("first core in wins, others print an 'inside exception' banner and
// halt") and ui.cpp's screen model, with stack symbolization pulled
// from the google/pprof + ianlancetaylor/demangle + x/arch/x86/x86asm
// stack this repo's SPEC_FULL.md commits to for panic diagnostics.
package diag

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Frame_t is the captured exception/register frame, the Go analogue of
// handler.cpp's CPU::ExceptionFrame: enough of the machine state to
// render the *detail* screen and attempt a stack walk.
type Frame_t struct {
	CPU            int
	InterruptNum   uint64
	ErrorCode      uint64
	IP, SP, BP     uintptr
	CR0, CR2, CR3, CR4 uintptr
	GPRegs         [16]uintptr // platform-ordered general registers
	UserMode       bool        // faulting CS/SS pointed at user segments
	CriticalThread bool
}

// exceptionLock is the single global spinlock spec section 5 names
// ("Panic: a single global spinlock; a second entry into it triggers
// the 'inside exception' path").
var exceptionLock int32

// Handling reports whether a core is already inside the panic path.
func Handling() bool { return atomic.LoadInt32(&exceptionLock) != 0 }

// Enter attempts to become the primary panicking core. ok is false
// when another core already holds it, meaning the caller took a
// nested/re-entrant exception and must render the "exception inside
// exception" banner instead of the full UI (handler.cpp's
// HandleExceptionInsideException).
func Enter() (ok bool) {
	return atomic.CompareAndSwapInt32(&exceptionLock, 0, 1)
}

// InsideExceptionBanner renders the short message handler.cpp prints
// when a second exception arrives while the first is still being
// handled, then the caller halts.
func InsideExceptionBanner(f Frame_t) string {
	return fmt.Sprintf("exception inside exception: %#x at ip=%#x", f.InterruptNum, f.IP)
}

// Screen_t identifies one of the four virtual screens spec 4.E names.
type Screen_t int

const (
	ScreenMain Screen_t = iota
	ScreenDetail
	ScreenStack
	ScreenProcess
)

func (s Screen_t) String() string {
	switch s {
	case ScreenMain:
		return "main"
	case ScreenDetail:
		return "detail"
	case ScreenStack:
		return "stack"
	case ScreenProcess:
		return "process"
	default:
		return "unknown"
	}
}

// ProcessRow is one line of the *process* screen: spec 4.E says it is
// "filtered to non-ready by default".
type ProcessRow struct {
	Pid, Tid int
	State    string
	Name     string
}

// StackFrame is one resolved entry of a best-effort {BP, IP} walk.
type StackFrame struct {
	IP     uintptr
	Symbol string // resolved via the symbol table; "" if unresolved
}

// Session_t holds everything the four screens render from, and the
// current screen selection the ←/→ line-editor commands move through.
type Session_t struct {
	Frame     Frame_t
	ExName    string
	FaultSym  string
	Stack     []StackFrame
	Processes []ProcessRow
	Screen    Screen_t
	Entered   time.Time
}

// NewSession starts quiescing on the current core and returns the
// session to render, or nil with a banner string if this core lost the
// race to an already-panicking core.
func NewSession(f Frame_t, exName, faultSym string) (*Session_t, string) {
	if !Enter() {
		return nil, InsideExceptionBanner(f)
	}
	return &Session_t{Frame: f, ExName: exName, FaultSym: faultSym, Entered: time.Now()}, ""
}

// Next and Prev implement the ←/→ screen-selection keys, wrapping
// across the four screens.
func (s *Session_t) Next() { s.Screen = (s.Screen + 1) % 4 }
func (s *Session_t) Prev() { s.Screen = (s.Screen + 3) % 4 }

// RenderMain renders the *main* screen: summary, exception name, and
// faulting function symbol.
func (s *Session_t) RenderMain() string {
	return fmt.Sprintf("PANIC: %s\nfaulting function: %s\ncpu=%d interrupt=%#x err=%#x",
		s.ExName, s.FaultSym, s.Frame.CPU, s.Frame.InterruptNum, s.Frame.ErrorCode)
}

// RenderDetail renders the *detail* screen: every captured register
// plus the decoded error code.
func (s *Session_t) RenderDetail() string {
	f := s.Frame
	out := fmt.Sprintf("IP=%#x SP=%#x BP=%#x\nCR0=%#x CR2=%#x CR3=%#x CR4=%#x\nerr=%#x (%s)\n",
		f.IP, f.SP, f.BP, f.CR0, f.CR2, f.CR3, f.CR4, f.ErrorCode, decodeErrorCode(f.ErrorCode))
	for i, r := range f.GPRegs {
		out += fmt.Sprintf("r%d=%#x ", i, r)
	}
	return out
}

func decodeErrorCode(code uint64) string {
	var bits []string
	if code&1 != 0 {
		bits = append(bits, "present")
	} else {
		bits = append(bits, "not-present")
	}
	if code&2 != 0 {
		bits = append(bits, "write")
	} else {
		bits = append(bits, "read")
	}
	if code&4 != 0 {
		bits = append(bits, "user")
	} else {
		bits = append(bits, "supervisor")
	}
	out := bits[0]
	for _, b := range bits[1:] {
		out += "," + b
	}
	return out
}

// RenderStack renders the *stack* screen from the best-effort {BP, IP}
// walk already resolved into s.Stack.
func (s *Session_t) RenderStack() string {
	out := "stack trace:\n"
	for _, fr := range s.Stack {
		sym := fr.Symbol
		if sym == "" {
			sym = "???"
		}
		out += fmt.Sprintf("  %#x %s\n", fr.IP, sym)
	}
	return out
}

// RenderProcess renders the *process* screen, non-ready threads only
// unless showAll is set (the line-editor's "mem"/"bitmap" commands
// don't toggle this; only an explicit future filter-all would).
func (s *Session_t) RenderProcess(showAll bool) string {
	out := "pid\ttid\tstate\tname\n"
	for _, r := range s.Processes {
		if !showAll && r.State == "Ready" {
			continue
		}
		out += fmt.Sprintf("%d\t%d\t%s\t%s\n", r.Pid, r.Tid, r.State, r.Name)
	}
	return out
}

// Render dispatches to whichever screen is currently selected.
func (s *Session_t) Render() string {
	switch s.Screen {
	case ScreenDetail:
		return s.RenderDetail()
	case ScreenStack:
		return s.RenderStack()
	case ScreenProcess:
		return s.RenderProcess(false)
	default:
		return s.RenderMain()
	}
}
