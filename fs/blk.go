package fs

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/fennix-project/kernel/mem"
)

// If you change this, every on-disk layout constant derived from it
// (inode-per-block counts, directory entries per block) must change too.
const BSIZE = 4096

// bdev_debug toggles the block-level read/write tracing the teacher's
// bdev layer prints; off by default, flippable from the kernel command
// line (see cmdline.Debug).
var bdev_debug = false

// SetDebug turns block tracing on or off.
func SetDebug(on bool) { bdev_debug = on }

// Blockmem_i abstracts page allocation for block buffers.
type Blockmem_i interface {
	Alloc() (mem.Pa_t, *mem.Bytepg_t, bool)
	Free(mem.Pa_t)
	Refup(mem.Pa_t)
}

// Block_cb_i is implemented by callers wanting release callbacks.
type Block_cb_i interface {
	Relse(*Bdev_block_t, string)
}

// blktype_t enumerates the types of blocks stored on disk.
type blktype_t int

const (
	DataBlk   blktype_t = 0
	CommitBlk blktype_t = -1
	RevokeBlk blktype_t = -2
)

// Objref_t is a simple refcounted handle shared by every Bdev_block_t
// referencing the same cache slot, so the cache can tell "one reader"
// from "several readers" without walking the whole block list.
type Objref_t struct {
	mu  sync.Mutex
	ref int32
}

// Incref bumps the refcount.
func (o *Objref_t) Incref() { o.mu.Lock(); o.ref++; o.mu.Unlock() }

// Decref drops the refcount and reports whether it reached zero.
func (o *Objref_t) Decref() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ref--
	if o.ref < 0 {
		panic("fs: Objref_t underflow")
	}
	return o.ref == 0
}

// Count reports the current refcount.
func (o *Objref_t) Count() int32 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ref
}

// Bdev_block_t represents a cached disk block.
type Bdev_block_t struct {
	sync.Mutex
	Block      int
	Type       blktype_t
	_try_evict bool
	Pa         mem.Pa_t
	Data       *mem.Bytepg_t
	Ref        *Objref_t
	Name       string
	Mem        Blockmem_i
	Disk       Disk_i
	Cb         Block_cb_i
}

// Bdevcmd_t enumerates disk request types.
type Bdevcmd_t uint

const (
	BDEV_WRITE Bdevcmd_t = 1
	BDEV_READ  Bdevcmd_t = 2
	BDEV_FLUSH Bdevcmd_t = 3
)

// BlkList_t wraps a list.List of block pointers.
type BlkList_t struct {
	l *list.List
	e *list.Element
}

func MkBlkList() *BlkList_t { return &BlkList_t{l: list.New()} }

func (bl *BlkList_t) Len() int { return bl.l.Len() }

func (bl *BlkList_t) PushBack(b *Bdev_block_t) { bl.l.PushBack(b) }

func (bl *BlkList_t) FrontBlock() *Bdev_block_t {
	if bl.l.Front() == nil {
		return nil
	}
	bl.e = bl.l.Front()
	return bl.e.Value.(*Bdev_block_t)
}

func (bl *BlkList_t) Back() *Bdev_block_t {
	if bl.l.Back() == nil {
		return nil
	}
	return bl.l.Back().Value.(*Bdev_block_t)
}

func (bl *BlkList_t) BackBlock() *Bdev_block_t {
	if bl.l.Back() == nil {
		panic("bl.Front")
	}
	return bl.l.Back().Value.(*Bdev_block_t)
}

func (bl *BlkList_t) RemoveBlock(block int) {
	var next *list.Element
	for e := bl.l.Front(); e != nil; e = next {
		next = e.Next()
		if e.Value.(*Bdev_block_t).Block == block {
			bl.l.Remove(e)
		}
	}
}

func (bl *BlkList_t) NextBlock() *Bdev_block_t {
	if bl.e == nil {
		return nil
	}
	bl.e = bl.e.Next()
	if bl.e == nil {
		return nil
	}
	return bl.e.Value.(*Bdev_block_t)
}

func (bl *BlkList_t) Apply(f func(*Bdev_block_t)) {
	for b := bl.FrontBlock(); b != nil; b = bl.NextBlock() {
		f(b)
	}
}

func (bl *BlkList_t) Print() {
	bl.Apply(func(b *Bdev_block_t) { fmt.Printf("b %v\n", b) })
}

func (bl *BlkList_t) Append(l *BlkList_t) {
	for b := l.FrontBlock(); b != nil; b = l.NextBlock() {
		bl.PushBack(b)
	}
}

func (bl *BlkList_t) Delete() {
	var next *list.Element
	for e := bl.l.Front(); e != nil; e = next {
		next = e.Next()
		bl.l.Remove(e)
	}
}

// Bdev_req_t describes a block device request.
type Bdev_req_t struct {
	Cmd   Bdevcmd_t
	Blks  *BlkList_t
	AckCh chan bool
	Sync  bool
}

func MkRequest(blks *BlkList_t, cmd Bdevcmd_t, sync bool) *Bdev_req_t {
	return &Bdev_req_t{Blks: blks, AckCh: make(chan bool), Cmd: cmd, Sync: sync}
}

// Disk_i represents a physical disk interface.
type Disk_i interface {
	Start(*Bdev_req_t) bool
	Stats() string
}

func (blk *Bdev_block_t) Key() int { return blk.Block }

func (blk *Bdev_block_t) EvictFromCache() {}

func (blk *Bdev_block_t) EvictDone() {
	if bdev_debug {
		fmt.Printf("fs: evict block %v %#x\n", blk.Block, blk.Pa)
	}
	blk.Mem.Free(blk.Pa)
}

func (blk *Bdev_block_t) Tryevict()      { blk._try_evict = true }
func (blk *Bdev_block_t) Evictnow() bool { return blk._try_evict }

func (blk *Bdev_block_t) Done(s string) {
	if blk.Cb == nil {
		panic("fs: block has no release callback")
	}
	blk.Cb.Relse(blk, s)
}

func (b *Bdev_block_t) Write() {
	if bdev_debug {
		fmt.Printf("fs: write block %v %v\n", b.Block, b.Name)
	}
	l := MkBlkList()
	l.PushBack(b)
	req := MkRequest(l, BDEV_WRITE, true)
	if b.Disk.Start(req) {
		<-req.AckCh
	}
}

func (b *Bdev_block_t) Write_async() {
	if bdev_debug {
		fmt.Printf("fs: write_async block %v %v\n", b.Block, b.Name)
	}
	l := MkBlkList()
	l.PushBack(b)
	b.Disk.Start(MkRequest(l, BDEV_WRITE, false))
}

func (b *Bdev_block_t) Read() {
	l := MkBlkList()
	l.PushBack(b)
	req := MkRequest(l, BDEV_READ, true)
	if b.Disk.Start(req) {
		<-req.AckCh
	}
	if bdev_debug {
		fmt.Printf("fs: read block %v %v %#x %#x\n", b.Block, b.Name, b.Data[0], b.Data[1])
	}
}

func (blk *Bdev_block_t) New_page() {
	pa, d, ok := blk.Mem.Alloc()
	if !ok {
		panic("oom during bdev.new_page")
	}
	blk.Pa = pa
	blk.Data = d
}

func MkBlock_newpage(block int, s string, m Blockmem_i, d Disk_i, cb Block_cb_i) *Bdev_block_t {
	b := MkBlock(block, s, m, d, cb)
	b.New_page()
	return b
}

func MkBlock(block int, s string, m Blockmem_i, d Disk_i, cb Block_cb_i) *Bdev_block_t {
	b := &Bdev_block_t{}
	b.Block = block
	b.Ref = &Objref_t{}
	b.Name = s
	b.Mem = m
	b.Disk = d
	b.Cb = cb
	return b
}

func (blk *Bdev_block_t) Free_page() { blk.Mem.Free(blk.Pa) }
