package fs

import (
	"github.com/fennix-project/kernel/mem"
	"github.com/fennix-project/kernel/util"
)

// fieldsz is the on-disk width of every superblock field.
const fieldsz = 8

func fieldr(data *mem.Bytepg_t, field int) int {
	b := mem.Pg2bytes(mem.Bytepg2pg(data))
	return util.Readn(b[:], fieldsz, field*fieldsz)
}

func fieldw(data *mem.Bytepg_t, field, val int) {
	b := mem.Pg2bytes(mem.Bytepg2pg(data))
	util.Writen(b[:], fieldsz, field*fieldsz, val)
}

// Superblock_t represents the on-disk super block of a filesystem (spec
// section 4.C, "Filesystem probe"): enough layout metadata to locate the
// log, the inode bitmap, the free block bitmap and the last valid block.
type Superblock_t struct {
	Data *mem.Bytepg_t
}

func (sb *Superblock_t) Loglen() int        { return fieldr(sb.Data, 0) }
func (sb *Superblock_t) Iorphanblock() int  { return fieldr(sb.Data, 1) }
func (sb *Superblock_t) Iorphanlen() int    { return fieldr(sb.Data, 2) }
func (sb *Superblock_t) Imaplen() int       { return fieldr(sb.Data, 3) }
func (sb *Superblock_t) Freeblock() int     { return fieldr(sb.Data, 4) }
func (sb *Superblock_t) Freeblocklen() int  { return fieldr(sb.Data, 5) }
func (sb *Superblock_t) Inodelen() int      { return fieldr(sb.Data, 6) }
func (sb *Superblock_t) Lastblock() int     { return fieldr(sb.Data, 7) }

func (sb *Superblock_t) SetLoglen(ll int)       { fieldw(sb.Data, 0, ll) }
func (sb *Superblock_t) SetIorphanblock(n int)  { fieldw(sb.Data, 1, n) }
func (sb *Superblock_t) SetIorphanlen(n int)    { fieldw(sb.Data, 2, n) }
func (sb *Superblock_t) SetImaplen(n int)       { fieldw(sb.Data, 3, n) }
func (sb *Superblock_t) SetFreeblock(n int)     { fieldw(sb.Data, 4, n) }
func (sb *Superblock_t) SetFreeblocklen(n int)  { fieldw(sb.Data, 5, n) }
func (sb *Superblock_t) SetInodelen(n int)      { fieldw(sb.Data, 6, n) }
func (sb *Superblock_t) SetLastblock(n int)     { fieldw(sb.Data, 7, n) }
