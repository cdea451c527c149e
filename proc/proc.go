// Package proc implements the multiprocess/multithread task substrate
// named in spec section 4.D: process/thread lifecycle, the fork/exec
// path, per-thread syscall dispatch tables, program break, and mmap.
//
// Grounded on original_source/Kernel/syscalls/process.cpp for the
// fork/exit/waitpid state machine and on
// original_source/Kernel/SystemCalls/{Native,Syscalls}.cpp for the
// three-compat-table dispatch shape; expressed without the C++
// PCB/TCB class hierarchy, using the vm/fd/signal/accnt packages this
// repo already built for the pieces those classes embedded.
package proc

import (
	"sync"

	"github.com/fennix-project/kernel/accnt"
	"github.com/fennix-project/kernel/defs"
	"github.com/fennix-project/kernel/fd"
	"github.com/fennix-project/kernel/mem"
	"github.com/fennix-project/kernel/signal"
	"github.com/fennix-project/kernel/vm"
)

// State_t enumerates the thread/process lifecycle states named in
// spec section 4.D.
type State_t int

const (
	Ready State_t = iota
	Running
	Sleeping
	Blocked
	Stopped
	Waiting
	Zombie
	CoreDump
	Terminated
	Frozen
)

func (s State_t) String() string {
	switch s {
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Sleeping:
		return "sleeping"
	case Blocked:
		return "blocked"
	case Stopped:
		return "stopped"
	case Waiting:
		return "waiting"
	case Zombie:
		return "zombie"
	case CoreDump:
		return "coredump"
	case Terminated:
		return "terminated"
	case Frozen:
		return "frozen"
	default:
		return "invalid"
	}
}

// Compat_t selects which syscall table a thread dispatches through.
type Compat_t int

const (
	Native Compat_t = iota
	Linux
	Windows
)

// Pcb_t is a process control block: an address space, an fd table, a
// signal table, accounting, and the thread/child bookkeeping spec
// section 4.D's create_process sets up.
type Pcb_t struct {
	sync.Mutex

	Pid  defs.Pid_t
	Ppid defs.Pid_t
	Pgid defs.Pid_t
	Sid  defs.Pid_t

	Name string

	Vm  *vm.Vm_t
	Fds *fd.Table_t
	Cwd *fd.Cwd_t
	Sig *signal.Table_t
	Acc accnt.Accnt_t

	Compat   Compat_t
	Critical bool

	brk_start int
	brk_end   int

	// StackLow is the lowest mapped address of the main thread's stack
	// region; HandleUserFault grows it downward on a guard-page miss
	// before falling back to signal delivery (spec 4.E/4.D's
	// CoW-then-stack-expansion-then-signal order).
	StackLow int

	Threads  map[defs.Tid_t]*Tcb_t
	Children []defs.Pid_t

	ExitCode int
	WaitCh   chan Wstatus_t
}

// Wstatus_t is what waitpid receives when a child transitions to
// Zombie/CoreDump/Terminated.
type Wstatus_t struct {
	Pid      defs.Pid_t
	ExitCode int
	Signaled bool
	Sig      defs.Signal_t
}

// Tcb_t is a thread control block: a saved register frame placeholder
// (Tf — the actual layout is architecture-specific and out of scope
// per spec section 1), FPU save area, and scheduling state.
type Tcb_t struct {
	sync.Mutex

	Tid   defs.Tid_t
	Pcb   *Pcb_t
	State State_t

	Tf    [32]uintptr // register frame, opaque beyond size here
	Fxbuf *[64]uintptr

	Ktime accnt.Accnt_t
}

// System owns every live process, mirroring spec section 5's "a
// thin accessor for kernel globals is acceptable but not pervasive":
// one explicit registry rather than ambient package-level process
// tables scattered across the kernel.
type System_t struct {
	sync.Mutex
	procs  map[defs.Pid_t]*Pcb_t
	nextpid defs.Pid_t
	nexttid defs.Tid_t
}

func NewSystem() *System_t {
	return &System_t{procs: make(map[defs.Pid_t]*Pcb_t), nextpid: 1, nexttid: 1}
}

func (s *System_t) allocPid() defs.Pid_t {
	s.Lock()
	defer s.Unlock()
	p := s.nextpid
	s.nextpid++
	return p
}

func (s *System_t) allocTid() defs.Tid_t {
	s.Lock()
	defer s.Unlock()
	t := s.nexttid
	s.nexttid++
	return t
}

// CreateProcess implements spec 4.D's create_process: a fresh VMA
// (forking the parent's page table when useParentPt and parent are
// given), a fresh FD table, a program-break tracker, and an entry in
// the process registry (standing in for the real kernel's /proc
// attachment, which is a VFS-layer concern).
func (s *System_t) CreateProcess(parent *Pcb_t, name string, compat Compat_t, useParentPt bool) (*Pcb_t, defs.Err_t) {
	pid := s.allocPid()
	p := &Pcb_t{
		Pid:     pid,
		Name:    name,
		Compat:  compat,
		Threads: make(map[defs.Tid_t]*Tcb_t),
		Sig:     signal.NewTable(),
		WaitCh:  make(chan Wstatus_t, 1),
	}

	if parent != nil {
		p.Ppid = parent.Pid
		p.Pgid = parent.Pgid
		p.Sid = parent.Sid
	} else {
		p.Ppid = defs.NoPid
		p.Pgid = pid
		p.Sid = pid
	}

	pmap, p_pmap, ok := mem.Physmem.Pmap_new()
	if !ok {
		return nil, -defs.ENOMEM
	}
	p.Vm = &vm.Vm_t{Pmap: pmap, P_pmap: p_pmap}

	if useParentPt && parent != nil {
		if err := parent.Vm.Fork_copy(p.Vm); err != 0 {
			return nil, err
		}
		p.Fds, _ = parent.Fds.Fork()
		if parent.Cwd != nil {
			p.Cwd = &fd.Cwd_t{Path: append(ustrCopy(parent.Cwd.Path)), Fd: parent.Cwd.Fd}
		}
		p.brk_start = parent.brk_start
		p.brk_end = parent.brk_end
	} else {
		p.Fds = fd.NewTable()
	}

	s.Lock()
	s.procs[pid] = p
	if parent != nil {
		parent.Children = append(parent.Children, pid)
	}
	s.Unlock()

	return p, 0
}

func ustrCopy(u []uint8) []uint8 {
	c := make([]uint8, len(u))
	copy(c, u)
	return c
}

// CreateThread implements spec 4.D's create_thread: a fresh Tcb_t in
// Ready state with a zeroed register frame and FPU buffer. The caller
// (exec/fork) is responsible for filling in the entry-point/stack
// contract before the thread is scheduled.
func (s *System_t) CreateThread(p *Pcb_t) *Tcb_t {
	tid := s.allocTid()
	t := &Tcb_t{Tid: tid, Pcb: p, State: Ready, Fxbuf: vm.Mkfxbuf()}
	p.Lock()
	p.Threads[tid] = t
	p.Unlock()
	return t
}

// Get returns the Pcb_t for pid, if it exists.
func (s *System_t) Get(pid defs.Pid_t) (*Pcb_t, bool) {
	s.Lock()
	defer s.Unlock()
	p, ok := s.procs[pid]
	return p, ok
}

// Remove drops pid from the registry (last step of reaping a zombie).
func (s *System_t) Remove(pid defs.Pid_t) {
	s.Lock()
	delete(s.procs, pid)
	s.Unlock()
}

// Fork implements spec 4.D's sys_fork: creates a child inheriting
// pgid/sid, forks the VMA with CoW replay, clones the FD table
// (honoring O_CLOEXEC only at exec time — fork itself inherits every
// fd per POSIX), clones cwd, and creates one thread cloning the
// calling thread's state including its FPU buffer. Returns the
// child's pid to the parent, per spec ("Parent returns child pid").
func (s *System_t) Fork(parent *Pcb_t, callingTid defs.Tid_t) (defs.Pid_t, defs.Err_t) {
	child, err := s.CreateProcess(parent, parent.Name, parent.Compat, true)
	if err != 0 {
		return 0, err
	}

	parent.Lock()
	callee := parent.Threads[callingTid]
	parent.Unlock()
	if callee == nil {
		return 0, -defs.ESRCH
	}

	ct := s.CreateThread(child)
	ct.Lock()
	ct.Tf = callee.Tf
	*ct.Fxbuf = *callee.Fxbuf
	ct.Unlock()

	return child.Pid, 0
}

// Exec implements spec 4.D's exec: the VMA contents are replaced by
// the caller (the ELF/PE loader is out of scope per spec section 1;
// Exec here only performs the process-level bookkeeping reset), open
// fds minus O_CLOEXEC survive, pid/ppid are preserved, and catchable
// signal handlers reset to default.
func (p *Pcb_t) Exec() {
	p.Fds.Exec()
	for sig := defs.Signal_t(1); sig < defs.NSIG; sig++ {
		if sig == defs.SIGKILL || sig == defs.SIGSTOP {
			continue
		}
		p.Sig.Default(sig)
	}
	p.Vm.Uvmfree()
}

// Brk implements spec 4.D's program break: brk(end) grows by mapping
// fresh anonymous user pages, shrinks by unmapping, and enforces
// page-aligned monotonic movement.
func (p *Pcb_t) Brk(end int) (int, defs.Err_t) {
	p.Lock()
	defer p.Unlock()

	if p.brk_start == 0 {
		return 0, -defs.EINVAL
	}
	aligned := roundup(end, mem.PGSIZE)
	if aligned < p.brk_start {
		return 0, -defs.EINVAL
	}
	old := p.brk_end
	if aligned == old {
		return old, 0
	}
	if aligned > old {
		p.Vm.Vmadd_anon(old, aligned-old, mem.Pa_t(0)|pteUW())
	} else {
		p.Vm.Lock_pmap()
		for va := aligned; va < old; va += mem.PGSIZE {
			p.Vm.Page_remove(va)
		}
		p.Vm.Unlock_pmap()
	}
	p.brk_end = aligned
	return aligned, 0
}

func pteUW() mem.Pa_t { return mem.Pa_t(mem.PTE_U | mem.PTE_W) }

func roundup(v, b int) int {
	return (v + b - 1) / b * b
}

// SendSignal implements spec 4.D's send_signal at the process level:
// it runs the signal table's disposition decision and applies the
// resulting state transition (terminate/core/stop/continue) to every
// thread of p; target only selects which thread a queued signal is
// delivered to.
func (s *System_t) SendSignal(p *Pcb_t, sig defs.Signal_t, val int, target defs.Tid_t) {
	outcome := p.Sig.Send(sig, val, target)
	switch outcome {
	case signal.OutcomeTerminate:
		s.terminate(p, sig, false)
	case signal.OutcomeCoreDump:
		s.terminate(p, sig, true)
	case signal.OutcomeStop:
		p.setAllThreads(Stopped)
	case signal.OutcomeContinue:
		p.setAllThreads(Running)
	}
}

func (s *System_t) terminate(p *Pcb_t, sig defs.Signal_t, core bool) {
	linuxCompat := p.Compat == Linux
	p.Lock()
	p.ExitCode = signal.MakeExitCode(sig, linuxCompat, int(sig))
	p.Unlock()
	state := Terminated
	if core {
		state = CoreDump
	}
	p.setAllThreads(state)
	select {
	case p.WaitCh <- Wstatus_t{Pid: p.Pid, ExitCode: p.ExitCode, Signaled: true, Sig: sig}:
	default:
	}
}

func (p *Pcb_t) setAllThreads(st State_t) {
	p.Lock()
	defer p.Unlock()
	for _, t := range p.Threads {
		t.Lock()
		t.State = st
		t.Unlock()
	}
}

// Exit implements the non-signal exit path: sets the exit code the
// caller passed to the exit syscall directly (spec section 6, "Normal:
// value passed to exit syscall"), tears down the address space and fd
// table, and notifies a waiting parent.
func (s *System_t) Exit(p *Pcb_t, code int) {
	p.Lock()
	p.ExitCode = code
	p.Unlock()
	p.setAllThreads(Zombie)
	p.Fds.CloseAll()
	p.Vm.Uvmfree()
	select {
	case p.WaitCh <- Wstatus_t{Pid: p.Pid, ExitCode: code}:
	default:
	}
}
