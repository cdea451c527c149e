package proc

import (
	"github.com/fennix-project/kernel/defs"
)

// Waitpid implements a blocking wait for one of parent's children to
// reach Zombie/CoreDump/Terminated, matching spec 4.D's transition
// table ("signals ... Zombie/CoreDump/Terminated on fatal"). Reaping
// (removing the child from the registry once its exit status has been
// consumed) is the caller's responsibility via Reap.
func (s *System_t) Waitpid(parent *Pcb_t, childPid defs.Pid_t) (Wstatus_t, defs.Err_t) {
	parent.Lock()
	found := false
	for _, c := range parent.Children {
		if c == childPid {
			found = true
			break
		}
	}
	parent.Unlock()
	if !found {
		return Wstatus_t{}, -defs.ECHILD
	}

	child, ok := s.Get(childPid)
	if !ok {
		return Wstatus_t{}, -defs.ECHILD
	}

	ws := <-child.WaitCh
	return ws, 0
}

// Reap removes a zombie child from the registry and its parent's
// child list, the step that lets the pid be reused.
func (s *System_t) Reap(parent *Pcb_t, childPid defs.Pid_t) {
	parent.Lock()
	for i, c := range parent.Children {
		if c == childPid {
			parent.Children = append(parent.Children[:i], parent.Children[i+1:]...)
			break
		}
	}
	parent.Unlock()
	s.Remove(childPid)
}
