// Package bounds names the call sites that must reserve heap budget
// before doing bounded, possibly-recursive work, matching the teacher's
// B_<TYPE>__<METHOD> tag convention (see vm.Userbuf_t._tx).
package bounds

// Bndid_t identifies a reservation call site.
type Bndid_t int

const (
	B_USERBUF_T__TX Bndid_t = iota
	B_USERIOVEC_T_IOV_INIT
	B_USERIOVEC_T__TX
	B_ASPACE_T_K2USER_INNER
	B_ASPACE_T_USER2K_INNER
	B_VMREGION_T__LOOKUP
	B_NODECACHE_T__LOOKUP
	B_FS_T__READ_DIRECTORY
	B_VM_T__FORK
	B_VIRTUAL_T__LOOKUP_PATH
	NBOUNDS
)

var names = [NBOUNDS]string{
	B_USERBUF_T__TX:          "userbuf_t._tx",
	B_USERIOVEC_T_IOV_INIT:   "useriovec_t.iov_init",
	B_USERIOVEC_T__TX:        "useriovec_t._tx",
	B_ASPACE_T_K2USER_INNER:  "vm_t.k2user_inner",
	B_ASPACE_T_USER2K_INNER:  "vm_t.user2k_inner",
	B_VMREGION_T__LOOKUP:     "vmregion_t.lookup",
	B_NODECACHE_T__LOOKUP:    "nodecache_t.lookup",
	B_FS_T__READ_DIRECTORY:   "fs_t.read_directory",
	B_VM_T__FORK:             "vm_t.fork",
	B_VIRTUAL_T__LOOKUP_PATH: "virtual_t.lookup_path",
}

// Bounds returns the human-readable name of a reservation tag, used in
// diagnostics when a reservation is denied.
func Bounds(id Bndid_t) string {
	if id < 0 || id >= NBOUNDS {
		return "unknown"
	}
	return names[id]
}
