// The directory graph and namespace coordinator, grounded on
// original_source/Kernel/fs/vfs.cpp's vfs::Virtual and vfs::NodeCache:
// spec section 3's NodeCache{inode, fsi, parent, children, name, path,
// link, flags} model, and spec section 4.C's
// create/remove/rename/read/write/truncate/create_link/stat/seek/
// open/close/mount/probe/unmount contract.
package fs

import (
	"sync"

	"github.com/fennix-project/kernel/bounds"
	"github.com/fennix-project/kernel/bpath"
	"github.com/fennix-project/kernel/defs"
	"github.com/fennix-project/kernel/res"
	"github.com/fennix-project/kernel/stat"
	"github.com/fennix-project/kernel/ustr"
)

// Node is one entry in the live directory graph: a NodeCache handle
// the way vfs::NodeCache is, reachable from the namespace root by
// walking Parent pointers and from a directory by walking Children.
// Every node the package hands back through Lookup/Create/Mount is one
// of these, never a bare Inode_i, which is what lets "every non-root
// cache node has a parent" and "mountpoints appear exactly once" be
// true by construction rather than by convention.
type Node struct {
	sync.Mutex
	inode Inode_i
	fsi   FilesystemInfo

	Parent     *Node
	Children   []*Node
	Name       ustr.Ustr
	Path       ustr.Ustr
	Link       ustr.Ustr
	MountPoint bool

	ref int32
}

// Itype reports the kind of the underlying inode.
func (n *Node) Itype() Itype_t { return n.inode.Itype() }

// Inode exposes the underlying per-filesystem inode, for callers (fd,
// diag) that need to drive Read/Write/Stat directly once a node has
// already been resolved.
func (n *Node) Inode() Inode_i { return n.inode }

// FS reports which filesystem instance backs this node, the Go
// equivalent of NodeCache::fsi.
func (n *Node) FS() FilesystemInfo { return n.fsi }

// CachedSearch finds name among node's already-materialized children
// without touching the backing filesystem, the Go equivalent of
// NodeCache::CachedSearch that Lookup below consults before falling
// back to the inode vtable.
func (n *Node) CachedSearch(name ustr.Ustr) *Node {
	n.Lock()
	defer n.Unlock()
	for _, c := range n.Children {
		if string(c.Name) == string(name) {
			return c
		}
	}
	return nil
}

// convert wraps inode in a fresh Node parented under parent, inheriting
// parent's filesystem and appending itself to parent's children
// (vfs::Virtual::Convert(Node&, Inode*)).
func convert(parent *Node, inode Inode_i) *Node {
	n := &Node{inode: inode, fsi: parent.fsi, Parent: parent}
	parent.Lock()
	parent.Children = append(parent.Children, n)
	parent.Unlock()
	return n
}

func childPath(parent *Node, name ustr.Ustr) ustr.Ustr {
	base := parent.Path
	if len(base) == 0 {
		base = ustr.MkUstrRoot()
	}
	return bpath.Join(base, name)
}

// Virtual_t is the single-rooted namespace coordinator (spec section
// 4.C), grounded on vfs::Virtual: a device-indexed root table, a
// registered-filesystem table, and the operations that walk or mutate
// the Node graph hanging off each root.
type Virtual_t struct {
	sync.Mutex
	roots       map[int]*Node
	filesystems map[int]FilesystemInfo
	nextfs      int
	caches      map[FilesystemInfo]*NodeCache_t
}

// NewVirtual creates an empty namespace with no mounted filesystems.
func NewVirtual() *Virtual_t {
	return &Virtual_t{
		roots:       make(map[int]*Node),
		filesystems: make(map[int]FilesystemInfo),
		caches:      make(map[FilesystemInfo]*NodeCache_t),
	}
}

func (v *Virtual_t) cacheFor(fsi FilesystemInfo) *NodeCache_t {
	v.Lock()
	defer v.Unlock()
	nc, ok := v.caches[fsi]
	if !ok {
		nc = NewNodeCache(fsi)
		v.caches[fsi] = nc
	}
	return nc
}

// RootExists reports whether a root node is registered for device
// (vfs::Virtual::RootExists).
func (v *Virtual_t) RootExists(device int) bool {
	v.Lock()
	defer v.Unlock()
	_, ok := v.roots[device]
	return ok
}

// GetRoot returns the root node registered for device
// (vfs::Virtual::GetRoot).
func (v *Virtual_t) GetRoot(device int) (*Node, defs.Err_t) {
	v.Lock()
	defer v.Unlock()
	n, ok := v.roots[device]
	if !ok {
		return nil, -defs.ENOENT
	}
	return n, 0
}

// AddRoot registers root under device, refusing to clobber an existing
// entry unless replace is set (vfs::Virtual::AddRoot).
func (v *Virtual_t) AddRoot(device int, root *Node, replace bool) defs.Err_t {
	if root == nil {
		return -defs.EINVAL
	}
	v.Lock()
	defer v.Unlock()
	if _, ok := v.roots[device]; ok && !replace {
		return -defs.EEXIST
	}
	v.roots[device] = root
	return 0
}

// RegisterFilesystem assigns fsi the next free device index
// (vfs::Virtual::RegisterFileSystem).
func (v *Virtual_t) RegisterFilesystem(fsi FilesystemInfo) int {
	v.Lock()
	defer v.Unlock()
	dev := v.nextfs
	v.filesystems[dev] = fsi
	v.nextfs++
	return dev
}

// UnregisterFilesystem drops fsi from the registry
// (vfs::Virtual::UnregisterFileSystem); it does not unmount any node
// still referencing it, matching the teacher source's own "TODO:
// unmount" admission.
func (v *Virtual_t) UnregisterFilesystem(device int) defs.Err_t {
	v.Lock()
	defer v.Unlock()
	if _, ok := v.filesystems[device]; !ok {
		return -defs.ENOENT
	}
	delete(v.filesystems, device)
	return 0
}

// ProbeDevice asks every registered filesystem, in registration order,
// whether it recognizes device until one accepts (spec section 4.C
// "probe(device)->fsi", vfs::Virtual::Probe).
func (v *Virtual_t) ProbeDevice(accepts func(FilesystemInfo) bool) (FilesystemInfo, defs.Err_t) {
	v.Lock()
	n := v.nextfs
	fses := make([]FilesystemInfo, n)
	for i := 0; i < n; i++ {
		fses[i] = v.filesystems[i]
	}
	v.Unlock()

	for _, fsi := range fses {
		if fsi == nil {
			continue
		}
		if accepts(fsi) {
			return fsi, 0
		}
	}
	return nil, -defs.ENOENT
}

// Mount grafts fsi's root inode into the graph as a new child of
// parent, registering it as device's root (spec section 4.C
// "mount(parent,name,fsi,device)->node", vfs::Virtual::Mount's two
// overloads collapsed into one Go call since fsi.Root() already names
// the inode to convert).
func (v *Virtual_t) Mount(parent *Node, name ustr.Ustr, fsi FilesystemInfo, device int) (*Node, defs.Err_t) {
	if parent == nil {
		return nil, -defs.EINVAL
	}
	nc := v.cacheFor(fsi)
	inode, err := nc.Get(fsi.Root())
	if err != 0 {
		return nil, err
	}
	node := convert(parent, inode)
	node.fsi = fsi
	node.Name = name
	node.MountPoint = true
	node.Path = childPath(parent, name)
	return node, v.AddRoot(device, node, true)
}

// Unmount detaches node from its parent's child list. Because a
// mountpoint is only ever wired into the graph once (by Mount above),
// removing it here is enough to make the whole subtree unreachable by
// further Lookup calls (vfs::Virtual::Umount).
func (v *Virtual_t) Unmount(node *Node) defs.Err_t {
	if node == nil || !node.MountPoint {
		return -defs.EINVAL
	}
	if node.Parent == nil {
		return -defs.EINVAL
	}
	p := node.Parent
	p.Lock()
	for i, c := range p.Children {
		if c == node {
			p.Children = append(p.Children[:i], p.Children[i+1:]...)
			break
		}
	}
	p.Unlock()
	return 0
}

// Lookup resolves a single path component relative to parent,
// including "." (parent itself) and ".." (parent's parent, or parent
// itself at the namespace root), consulting the child cache before
// the backing filesystem's Lookup vtable entry (vfs::Virtual::Lookup's
// per-segment body). It does not follow symlinks; LookupPath below
// does, driving Lookup once per bpath.Split component.
func (v *Virtual_t) Lookup(parent *Node, name ustr.Ustr) (*Node, defs.Err_t) {
	if parent == nil {
		return nil, -defs.EINVAL
	}
	if name.Isdot() {
		return parent, 0
	}
	if name.Isdotdot() {
		if parent.Parent != nil {
			return parent.Parent, 0
		}
		return parent, 0
	}
	if parent.Itype() != I_DIR {
		return nil, -defs.ENOTDIR
	}
	if n := parent.CachedSearch(name); n != nil {
		return n, 0
	}

	nc := v.cacheFor(parent.fsi)
	inum, err := parent.inode.Lookup(name)
	if err != 0 {
		return nil, err
	}
	inode, err := nc.Get(inum)
	if err != 0 {
		return nil, err
	}
	node := convert(parent, inode)
	node.Name = name
	node.Path = childPath(parent, name)
	return node, 0
}

// LookupPath walks every bpath.Split component of path starting from
// root (absolute paths) or cwd (relative paths), following each
// symlink it encounters and re-resolving its target before continuing,
// up to bpath.MaxSymlinkDepth times total before giving up with
// -ELOOP (spec section 4.C "symlink loop bound"; the loop-count bound
// itself is this package's resolution of that open question, since
// the original vfs.cpp never implements symlink-following at all).
func (v *Virtual_t) LookupPath(root, cwd *Node, path ustr.Ustr) (*Node, defs.Err_t) {
	depth := 0
	return v.lookupPath(root, cwd, path, &depth)
}

func (v *Virtual_t) lookupPath(root, cwd *Node, path ustr.Ustr, depth *int) (*Node, defs.Err_t) {
	if !res.Resadd_noblock(bounds.Bounds(bounds.B_VIRTUAL_T__LOOKUP_PATH)) {
		return nil, -defs.ENOHEAP
	}
	defer res.Resdel()

	cur := cwd
	if path.IsAbsolute() {
		cur = root
	}
	for _, seg := range bpath.Split(path) {
		next, err := v.Lookup(cur, seg)
		if err != 0 {
			return nil, err
		}
		for next.Itype() == I_SYMLINK {
			*depth++
			if *depth > bpath.MaxSymlinkDepth {
				return nil, -defs.ELOOP
			}
			// a body recorded by CreateLink wins over the inode's own
			target := next.Link
			if len(target) == 0 {
				if target, err = next.inode.Symlink(); err != 0 {
					return nil, err
				}
			}
			base := next.Parent
			if base == nil {
				base = root
			}
			resolved, err := v.lookupPath(root, base, target, depth)
			if err != 0 {
				return nil, err
			}
			next = resolved
		}
		cur = next
	}
	return cur, 0
}

// Create adds a new entry named name of type typ under parent,
// delegating to the backing filesystem and then wiring the result
// into the graph (vfs::Virtual::Create, minus the teacher source's
// ErrorIfExists=false "return the cached match" branch, which this
// package's callers don't need since Lookup already serves that).
func (v *Virtual_t) Create(parent *Node, name ustr.Ustr, typ Itype_t) (*Node, defs.Err_t) {
	if parent == nil {
		return nil, -defs.EINVAL
	}
	if parent.Itype() != I_DIR {
		return nil, -defs.ENOTDIR
	}
	if _, err := v.Lookup(parent, name); err == 0 {
		return nil, -defs.EEXIST
	}

	inum, err := parent.inode.Create(name, typ)
	if err != 0 {
		return nil, err
	}
	nc := v.cacheFor(parent.fsi)
	inode, err := nc.Get(inum)
	if err != 0 {
		return nil, err
	}
	node := convert(parent, inode)
	node.Name = name
	node.Path = childPath(parent, name)
	return node, 0
}

// CreateLink creates a symlink named name under parent whose body is
// target (spec section 4.C "create_link", vfs::Virtual::CreateLink).
func (v *Virtual_t) CreateLink(parent *Node, name, target ustr.Ustr) (*Node, defs.Err_t) {
	node, err := v.Create(parent, name, I_SYMLINK)
	if err != 0 {
		return nil, err
	}
	node.Link = target
	return node, 0
}

// Remove deletes node from its parent directory, delegating to the
// backing filesystem and then erasing the graph entry only once that
// delegation succeeds (vfs::Virtual::Remove(Node&)).
func (v *Virtual_t) Remove(node *Node) defs.Err_t {
	if node == nil || node.Parent == nil {
		return -defs.EINVAL
	}
	p := node.Parent
	err := p.inode.Unlink(node.Name)
	if err != 0 {
		return err
	}
	p.Lock()
	for i, c := range p.Children {
		if c == node {
			p.Children = append(p.Children[:i], p.Children[i+1:]...)
			break
		}
	}
	p.Unlock()
	return 0
}

// Rename changes node's own directory-entry name in place, asking the
// parent directory's inode to rename the entry and updating the graph's
// bookkeeping only once it accepts the new name (vfs::Virtual::Rename:
// same directory, no move). A node without a parent gets -EINVAL.
func (v *Virtual_t) Rename(node *Node, newName ustr.Ustr) defs.Err_t {
	if node == nil || node.Parent == nil {
		return -defs.EINVAL
	}
	err := node.Parent.inode.Rename(node.Name, newName)
	if err != 0 {
		return err
	}
	node.Lock()
	node.Name = newName
	node.Unlock()
	if node.Parent != nil {
		node.Path = childPath(node.Parent, newName)
	}
	return 0
}

// regularTarget rejects directories, mountpoints, and symlinks the way
// Virtual::Read/Write/Truncate do before delegating to the underlying
// inode: read/write/truncate only ever touch regular file data.
func regularTarget(node *Node) defs.Err_t {
	if node.MountPoint || node.Itype() == I_DIR {
		return -defs.EISDIR
	}
	if node.Itype() == I_SYMLINK {
		return -defs.EINVAL
	}
	return 0
}

// Read reads from node's underlying inode at offset
// (vfs::Virtual::Read).
func (v *Virtual_t) Read(node *Node, dst Userio_i, offset int) (int, defs.Err_t) {
	if err := regularTarget(node); err != 0 {
		return 0, err
	}
	return node.inode.Read(dst, offset)
}

// Write writes to node's underlying inode at offset
// (vfs::Virtual::Write).
func (v *Virtual_t) Write(node *Node, src Userio_i, offset int, append bool) (int, defs.Err_t) {
	if err := regularTarget(node); err != 0 {
		return 0, err
	}
	return node.inode.Write(src, offset, append)
}

// Truncate resizes node's underlying inode (vfs::Virtual::Truncate).
func (v *Virtual_t) Truncate(node *Node, length int) defs.Err_t {
	if err := regularTarget(node); err != 0 {
		return err
	}
	return node.inode.Truncate(length)
}

// Stat fills st from node's underlying inode (vfs::Virtual::Stat,
// minus the teacher source's "TODO: cache" — there is nothing to
// cache past the inode vtable call itself).
func (v *Virtual_t) Stat(node *Node, st *stat.Stat_t) defs.Err_t {
	return node.inode.Stat(st)
}

// Seek validates a new file offset against node's current size
// (vfs::Virtual::Seek).
func (v *Virtual_t) Seek(node *Node, offset int) (int, defs.Err_t) {
	if node.Itype() != I_FILE && node.Itype() != I_DEV {
		return 0, -defs.EINVAL
	}
	if offset < 0 {
		return 0, -defs.EINVAL
	}
	return offset, 0
}

// Open marks node as having one more live file description
// (vfs::Virtual::Open), giving the node's own refcount the same
// open/close discipline NodeCache.Get/Put already gives the
// per-filesystem inode cache.
func (v *Virtual_t) Open(node *Node) defs.Err_t {
	node.Lock()
	node.ref++
	node.Unlock()
	return 0
}

// Close drops the reference Open took (vfs::Virtual::Close).
func (v *Virtual_t) Close(node *Node) defs.Err_t {
	node.Lock()
	if node.ref > 0 {
		node.ref--
	}
	node.Unlock()
	return 0
}

func inumOf(node *Node) defs.Inum_t {
	var st stat.Stat_t
	if node.inode.Stat(&st) != 0 {
		return 0
	}
	return defs.Inum_t(st.Rino())
}

// ReadDirectory reads the full listing of node, synthesizing "." and
// ".." exactly once each ahead of the backing filesystem's entries and
// node's already-materialized children (spec section 4.C / section 8,
// "Readdir completeness"). The original vfs::Virtual::ReadDirectory
// never emits "." / ".." — it explicitly filters them out of whatever
// the backing filesystem reports — so this package synthesizes them
// itself from the graph's own Parent pointer, the one piece of
// information a bare Inode_i was never going to have.
func ReadDirectory(node *Node) ([]Dirent_t, defs.Err_t) {
	if !res.Resadd_noblock(bounds.Bounds(bounds.B_FS_T__READ_DIRECTORY)) {
		return nil, -defs.ENOHEAP
	}
	defer res.Resdel()
	if node.Itype() != I_DIR {
		return nil, -defs.ENOTDIR
	}

	parent := node.Parent
	if parent == nil {
		parent = node
	}
	out := []Dirent_t{
		{Name: ustr.MkUstrDot(), Inum: inumOf(node), Type: I_DIR},
		{Name: ustr.DotDot, Inum: inumOf(parent), Type: I_DIR},
	}

	backing, err := readBackingDir(node.inode)
	if err != 0 {
		return nil, err
	}
	seen := map[string]bool{".": true, "..": true}
	for _, e := range backing {
		if seen[string(e.Name)] {
			continue
		}
		seen[string(e.Name)] = true
		out = append(out, e)
	}

	node.Lock()
	children := append([]*Node(nil), node.Children...)
	node.Unlock()
	for _, c := range children {
		if seen[string(c.Name)] {
			continue
		}
		seen[string(c.Name)] = true
		out = append(out, Dirent_t{Name: c.Name, Inum: inumOf(c), Type: c.Itype()})
	}

	return out, 0
}
