package fs

import (
	"testing"

	"github.com/fennix-project/kernel/defs"
	"github.com/fennix-project/kernel/mem"
	"github.com/fennix-project/kernel/stat"
	"github.com/fennix-project/kernel/ustr"
	"github.com/stretchr/testify/require"
)

// fakeInode is a minimal in-memory Inode_i for exercising the node
// cache, directory graph, and mount table without a real block device.
type fakeInode struct {
	typ      Itype_t
	children []Dirent_t
	link     ustr.Ustr
	next     defs.Inum_t
	fs       *fakeFS
}

func (f *fakeInode) Itype() Itype_t                  { return f.typ }
func (f *fakeInode) Size() int                       { return 0 }
func (f *fakeInode) Stat(st *stat.Stat_t) defs.Err_t { return 0 }
func (f *fakeInode) Lookup(name ustr.Ustr) (defs.Inum_t, defs.Err_t) {
	for _, d := range f.children {
		if string(d.Name) == string(name) {
			return d.Inum, 0
		}
	}
	return 0, -defs.ENOENT
}
func (f *fakeInode) Readdir(cookie int) ([]Dirent_t, int, defs.Err_t) {
	if cookie >= len(f.children) {
		return nil, cookie, 0
	}
	// one entry per call, to exercise the resumable-cookie walk.
	return []Dirent_t{f.children[cookie]}, cookie + 1, 0
}
func (f *fakeInode) Create(name ustr.Ustr, typ Itype_t) (defs.Inum_t, defs.Err_t) {
	// inode numbers come from the owning fakeFS, which must be able to
	// Load the new inode for Virtual_t.Create to cache it.
	f.fs.next++
	inum := f.fs.next
	f.fs.nodes[inum] = &fakeInode{typ: typ, next: inum, fs: f.fs}
	f.children = append(f.children, Dirent_t{Name: name, Inum: inum, Type: typ})
	return inum, 0
}
func (f *fakeInode) Unlink(name ustr.Ustr) defs.Err_t {
	for i, d := range f.children {
		if string(d.Name) == string(name) {
			f.children = append(f.children[:i], f.children[i+1:]...)
			return 0
		}
	}
	return -defs.ENOENT
}
func (f *fakeInode) Rename(oldName, newName ustr.Ustr) defs.Err_t {
	for i, d := range f.children {
		if string(d.Name) == string(oldName) {
			f.children[i].Name = newName
			return 0
		}
	}
	return 0
}
func (f *fakeInode) Symlink() (ustr.Ustr, defs.Err_t) {
	if f.typ != I_SYMLINK {
		return nil, -defs.EINVAL
	}
	return f.link, 0
}
func (f *fakeInode) Read(dst Userio_i, offset int) (int, defs.Err_t) { return 0, 0 }
func (f *fakeInode) Write(src Userio_i, offset int, append bool) (int, defs.Err_t) {
	return src.Remain(), 0
}
func (f *fakeInode) Truncate(length int) defs.Err_t { return 0 }

var _ Inode_i = (*fakeInode)(nil)

type fakeFS struct {
	root  defs.Inum_t
	nodes map[defs.Inum_t]Inode_i
	next  defs.Inum_t
}

func (f *fakeFS) Name() string      { return "fakefs" }
func (f *fakeFS) Root() defs.Inum_t { return f.root }
func (f *fakeFS) Load(inum defs.Inum_t) (Inode_i, defs.Err_t) {
	n, ok := f.nodes[inum]
	if !ok {
		return nil, -defs.ENOENT
	}
	return n, 0
}

func newFakeFS() (*fakeFS, *fakeInode) {
	root := &fakeInode{typ: I_DIR, next: 1}
	fsi := &fakeFS{root: 1, nodes: map[defs.Inum_t]Inode_i{1: root}, next: 1}
	root.fs = fsi
	return fsi, root
}

// rootNode wires root directly into a Virtual_t as device 0's root,
// skipping Mount's own inode-creation path since the caller already
// has the concrete root inode handy.
func rootNode(v *Virtual_t, fsi *fakeFS, root Inode_i) *Node {
	n := &Node{inode: root, fsi: fsi, Path: ustr.MkUstrRoot()}
	v.AddRoot(0, n, true)
	return n
}

func TestNodeCacheGetPutRefcounts(t *testing.T) {
	fsi, _ := newFakeFS()
	nc := NewNodeCache(fsi)

	n1, err := nc.Get(1)
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, 1, nc.CacheSize())

	n2, err := nc.Get(1)
	require.Equal(t, defs.Err_t(0), err)
	require.Same(t, n1, n2)
	require.Equal(t, 1, nc.CacheSize())

	nc.Put(1)
	require.Equal(t, 1, nc.CacheSize())
	nc.Put(1)
	require.Equal(t, 0, nc.CacheSize())
}

func TestNodeCacheLookupRejectsNonDir(t *testing.T) {
	fsi, root := newFakeFS()
	nc := NewNodeCache(fsi)
	file := &fakeInode{typ: I_FILE}
	fsi.nodes[2] = file
	root.children = append(root.children, Dirent_t{Name: ustr.Ustr("f"), Inum: 2, Type: I_FILE})

	fnode, err := nc.Lookup(root, ustr.Ustr("f"))
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, I_FILE, fnode.Itype())

	_, err = nc.Lookup(file, ustr.Ustr("anything"))
	require.Equal(t, -defs.ENOTDIR, err)
}

func TestVirtualLookupEveryChildHasParent(t *testing.T) {
	v := NewVirtual()
	fsi, root := newFakeFS()
	rn := rootNode(v, fsi, root)

	file := &fakeInode{typ: I_FILE}
	fsi.nodes[2] = file
	root.children = append(root.children, Dirent_t{Name: ustr.Ustr("f"), Inum: 2, Type: I_FILE})

	fnode, err := v.Lookup(rn, ustr.Ustr("f"))
	require.Equal(t, defs.Err_t(0), err)
	require.Same(t, rn, fnode.Parent)
	require.Equal(t, "/f", string(fnode.Path))

	// a second lookup of the same name must return the identical Node,
	// not a fresh wrapper, since it's now cached as rn's child.
	again, err := v.Lookup(rn, ustr.Ustr("f"))
	require.Equal(t, defs.Err_t(0), err)
	require.Same(t, fnode, again)
}

func TestVirtualLookupDotAndDotdot(t *testing.T) {
	v := NewVirtual()
	fsi, root := newFakeFS()
	rn := rootNode(v, fsi, root)

	self, err := v.Lookup(rn, ustr.MkUstrDot())
	require.Equal(t, defs.Err_t(0), err)
	require.Same(t, rn, self)

	// root's ".." is itself, since it has no parent.
	up, err := v.Lookup(rn, ustr.DotDot)
	require.Equal(t, defs.Err_t(0), err)
	require.Same(t, rn, up)

	sub, err := v.Create(rn, ustr.Ustr("d"), I_DIR)
	require.Equal(t, defs.Err_t(0), err)
	fsi.nodes[sub.Inode().(*fakeInode).next] = sub.Inode()

	up, err = v.Lookup(sub, ustr.DotDot)
	require.Equal(t, defs.Err_t(0), err)
	require.Same(t, rn, up)
}

func TestVirtualCreateRejectsDuplicateAndRemoveDetaches(t *testing.T) {
	v := NewVirtual()
	fsi, root := newFakeFS()
	rn := rootNode(v, fsi, root)

	node, err := v.Create(rn, ustr.Ustr("a"), I_FILE)
	require.Equal(t, defs.Err_t(0), err)
	require.Len(t, rn.Children, 1)

	_, err = v.Create(rn, ustr.Ustr("a"), I_FILE)
	require.Equal(t, -defs.EEXIST, err)

	require.Equal(t, defs.Err_t(0), v.Remove(node))
	require.Len(t, rn.Children, 0)
	_, err = v.Lookup(rn, ustr.Ustr("a"))
	require.Equal(t, -defs.ENOENT, err)
}

func TestVirtualRenameUpdatesNodeAndBackingName(t *testing.T) {
	v := NewVirtual()
	fsi, root := newFakeFS()
	rn := rootNode(v, fsi, root)

	node, err := v.Create(rn, ustr.Ustr("old"), I_FILE)
	require.Equal(t, defs.Err_t(0), err)

	require.Equal(t, defs.Err_t(0), v.Rename(node, ustr.Ustr("new")))
	require.Equal(t, "new", string(node.Name))
	require.Equal(t, "/new", string(node.Path))

	_, err = v.Lookup(rn, ustr.Ustr("old"))
	require.Equal(t, -defs.ENOENT, err)
	again, err := v.Lookup(rn, ustr.Ustr("new"))
	require.Equal(t, defs.Err_t(0), err)
	require.Same(t, node, again)
}

func TestVirtualReadWriteTruncateRejectNonRegular(t *testing.T) {
	v := NewVirtual()
	fsi, root := newFakeFS()
	rn := rootNode(v, fsi, root)

	dir, err := v.Create(rn, ustr.Ustr("d"), I_DIR)
	require.Equal(t, defs.Err_t(0), err)
	_, err = v.Read(dir, nil, 0)
	require.Equal(t, -defs.EISDIR, err)
	require.Equal(t, -defs.EISDIR, v.Truncate(dir, 0))

	link, err := v.CreateLink(rn, ustr.Ustr("l"), ustr.Ustr("/d"))
	require.Equal(t, defs.Err_t(0), err)
	_, err = v.Write(link, nil, 0, false)
	require.Equal(t, -defs.EINVAL, err)
}

func TestVirtualLookupPathFollowsSymlinkWithinBound(t *testing.T) {
	v := NewVirtual()
	fsi, root := newFakeFS()
	rn := rootNode(v, fsi, root)

	target, err := v.Create(rn, ustr.Ustr("real"), I_FILE)
	require.Equal(t, defs.Err_t(0), err)
	_, err = v.CreateLink(rn, ustr.Ustr("link"), ustr.Ustr("/real"))
	require.Equal(t, defs.Err_t(0), err)

	got, err := v.LookupPath(rn, rn, ustr.Ustr("/link"))
	require.Equal(t, defs.Err_t(0), err)
	require.Same(t, target, got)
}

func TestVirtualLookupPathDetectsSymlinkLoop(t *testing.T) {
	v := NewVirtual()
	fsi, root := newFakeFS()
	rn := rootNode(v, fsi, root)

	// "a" -> "/b", "b" -> "/a": following either one from the root
	// never terminates, so LookupPath must give up once the bound is
	// exceeded rather than recursing forever.
	_, err := v.CreateLink(rn, ustr.Ustr("a"), ustr.Ustr("/b"))
	require.Equal(t, defs.Err_t(0), err)
	_, err = v.CreateLink(rn, ustr.Ustr("b"), ustr.Ustr("/a"))
	require.Equal(t, defs.Err_t(0), err)

	_, err = v.LookupPath(rn, rn, ustr.Ustr("/a"))
	require.Equal(t, -defs.ELOOP, err)
}

func TestReadDirectorySynthesizesDotAndDotdotOnce(t *testing.T) {
	v := NewVirtual()
	fsi, root := newFakeFS()
	rn := rootNode(v, fsi, root)
	root.children = []Dirent_t{
		{Name: ustr.Ustr("a"), Inum: 2, Type: I_FILE},
		{Name: ustr.Ustr("b"), Inum: 3, Type: I_FILE},
		{Name: ustr.Ustr("c"), Inum: 4, Type: I_FILE},
	}

	ents, err := ReadDirectory(rn)
	require.Equal(t, defs.Err_t(0), err)
	require.Len(t, ents, 5)
	require.Equal(t, ".", string(ents[0].Name))
	require.Equal(t, "..", string(ents[1].Name))
	require.Equal(t, "a", string(ents[2].Name))
	require.Equal(t, "c", string(ents[4].Name))

	dotCount, dotdotCount := 0, 0
	for _, e := range ents {
		switch string(e.Name) {
		case ".":
			dotCount++
		case "..":
			dotdotCount++
		}
	}
	require.Equal(t, 1, dotCount)
	require.Equal(t, 1, dotdotCount)
}

func TestReadDirectoryMergesLiveChildrenWithoutDuplicates(t *testing.T) {
	v := NewVirtual()
	fsi, root := newFakeFS()
	rn := rootNode(v, fsi, root)

	_, err := v.Create(rn, ustr.Ustr("seen"), I_FILE)
	require.Equal(t, defs.Err_t(0), err)

	ents, err := ReadDirectory(rn)
	require.Equal(t, defs.Err_t(0), err)
	// "." + ".." + "seen", appearing exactly once even though "seen"
	// is both in the backing inode's child list and already
	// materialized as a live graph Node.
	require.Len(t, ents, 3)
}

func TestMountGraftsFilesystemRootAsMountpoint(t *testing.T) {
	v := NewVirtual()
	rootfs, rootInode := newFakeFS()
	rn := rootNode(v, rootfs, rootInode)

	usbfs, _ := newFakeFS()
	mnt, err := v.Mount(rn, ustr.Ustr("usb"), usbfs, 1)
	require.Equal(t, defs.Err_t(0), err)
	require.True(t, mnt.MountPoint)
	require.Same(t, rn, mnt.Parent)
	require.Equal(t, "/usb", string(mnt.Path))

	got, err := v.GetRoot(1)
	require.Equal(t, defs.Err_t(0), err)
	require.Same(t, mnt, got)

	// the mountpoint appears exactly once in rn's children.
	count := 0
	for _, c := range rn.Children {
		if c == mnt {
			count++
		}
	}
	require.Equal(t, 1, count)

	require.Equal(t, defs.Err_t(0), v.Unmount(mnt))
	require.Len(t, rn.Children, 0)
}

func TestProbeDeviceReturnsFirstAcceptingFilesystem(t *testing.T) {
	v := NewVirtual()
	fsiA, _ := newFakeFS()
	fsiB, _ := newFakeFS()
	v.RegisterFilesystem(fsiA)
	devB := v.RegisterFilesystem(fsiB)

	got, err := v.ProbeDevice(func(fsi FilesystemInfo) bool {
		return fsi == fsiB
	})
	require.Equal(t, defs.Err_t(0), err)
	require.Same(t, fsiB, got)
	require.Equal(t, 1, devB)
}

func newSuperblock(loglen, iorphanblock, iorphanlen, freeblock, freeblocklen, lastblock int) *Superblock_t {
	sb := &Superblock_t{Data: &mem.Bytepg_t{}}
	sb.SetLoglen(loglen)
	sb.SetIorphanblock(iorphanblock)
	sb.SetIorphanlen(iorphanlen)
	sb.SetFreeblock(freeblock)
	sb.SetFreeblocklen(freeblocklen)
	sb.SetLastblock(lastblock)
	return sb
}

func TestProbeAcceptsNonOverlappingLayout(t *testing.T) {
	sb := newSuperblock(10, 10, 5, 15, 20, 100)
	require.Equal(t, defs.Err_t(0), Probe(sb, 200))
}

func TestProbeRejectsOverlappingRanges(t *testing.T) {
	sb := newSuperblock(10, 5, 10, 12, 20, 100)
	require.Equal(t, -defs.EINVAL, Probe(sb, 200))
}

func TestProbeRejectsOutOfRangeLastblock(t *testing.T) {
	sb := newSuperblock(10, 10, 5, 15, 20, 500)
	require.Equal(t, -defs.EINVAL, Probe(sb, 200))
}
