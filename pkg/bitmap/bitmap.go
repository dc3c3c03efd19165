// ABOUTME: Free-page bitmap allocator rooted from the master page
// ABOUTME: Allocation always prefers the lowest-numbered free page

package bitmap

import (
	"encoding/binary"

	"github.com/nainya/tismet/pkg/page"
	"github.com/nainya/tismet/pkg/wal"
)

// Tag values for the bitmap's own WAL records, per spec.md §6's
// "bit-init/set/reset/range" tag family. Chain linkage (a bitmap page's
// next pointer) is logged as a range update, reusing TagBitRange rather
// than adding a fifth tag, since it is the same "two u32 fields on this
// page" shape as the rest of the chain header.
const (
	TagBitInit  = wal.TagBitInit
	TagBitSet   = wal.TagBitSet
	TagBitReset = wal.TagBitReset
	TagBitRange = wal.TagBitRange
)

// bitsHeaderSize is the per-bitmap-page header after the common page
// header: the starting page number this page's bits cover (u32) and the
// next bitmap page in the chain, 0 if none (u32).
const bitsHeaderSize = 8

// Bitmap tracks free/in-use state for every page in the data file across
// one or more bitmap pages chained from the master page's bitmap root.
// It mirrors the teacher's FreeList in spirit (get/new/set callbacks into
// the host's page cache) but replaces the unrolled linked list with a
// bitmap-on-page per spec.md §3/§4.1, since lowest-free-first allocation
// over a bitmap is the allocator spec.md actually calls for.
type Bitmap struct {
	PageSize int

	Get  func(pgno uint32) page.Page
	Edit func(pgno uint32) page.Page
	Alloc func() uint32 // allocates a brand new page at EOF, returns its number

	// Append logs one WAL record for this mutation, the same injection
	// style as pkg/radix.Tree.Append, so redo can replay bitmap chain
	// growth and bit flips exactly like every other page mutation
	// (spec.md §4.3 step 2: "ask the page cache for an update pointer...
	// mutate according to the record type").
	Append func(txn uint64, r wal.Record) (uint64, error)
}

func (bm *Bitmap) appendRecord(txn uint64, tag wal.Tag, pgno uint32, data []byte) {
	if bm.Append == nil {
		return
	}
	_, _ = bm.Append(txn, wal.Record{Tag: tag, Page: pgno, Data: data})
}

func bitsPerPage(pageSize int) int {
	return (pageSize - page.HeaderSize - bitsHeaderSize) * 8
}

// startOf returns the bitmap page header fields.
func startOf(p page.Page) (start uint32, next uint32) {
	b := p.Body()
	return binary.LittleEndian.Uint32(b[0:4]), binary.LittleEndian.Uint32(b[4:8])
}

func setStart(p page.Page, start, next uint32) {
	b := p.Body()
	binary.LittleEndian.PutUint32(b[0:4], start)
	binary.LittleEndian.PutUint32(b[4:8], next)
}

func bits(p page.Page) []byte {
	return p.Body()[bitsHeaderSize:]
}

// pageFor walks the bitmap chain to find the page covering pgno,
// allocating new chain pages as needed via alloc. txn is only consulted
// when create is true and the chain must grow; the growth itself is
// WAL-logged (TagBitInit for the new page, TagBitRange to re-point the
// previous tail's next pointer) so recovery can redo it without ever
// calling Alloc again.
func (bm *Bitmap) pageFor(txn uint64, root uint32, pgno uint32, create bool) (uint32, bool) {
	perPage := uint32(bitsPerPage(bm.PageSize))
	cur := root
	for cur != 0 {
		p := bm.Get(cur)
		start, next := startOf(p)
		if pgno >= start && pgno < start+perPage {
			return cur, true
		}
		if next == 0 {
			break
		}
		cur = next
	}
	if !create {
		return 0, false
	}
	// Extend the chain with a freshly zeroed bitmap page covering the
	// range containing pgno.
	start := (pgno / perPage) * perPage
	newPgno := bm.Alloc()
	np := bm.Edit(newPgno)
	np.SetHeader(page.Header{Type: page.TypeBitmap, PageNo: newPgno, LSN: np.LSN()})
	setStart(np, start, 0)
	np.UpdateChecksum()
	bm.appendRecord(txn, TagBitInit, newPgno, encodeBitInit(start))

	if cur != 0 {
		tail := bm.Edit(cur)
		tstart, _ := startOf(tail)
		setStart(tail, tstart, newPgno)
		tail.UpdateChecksum()
		bm.appendRecord(txn, TagBitRange, cur, encodeBitRange(tstart, newPgno))
	}
	return newPgno, true
}

// MarkUsed clears the free bit for pgno (page is now in use).
func (bm *Bitmap) MarkUsed(txn uint64, root uint32, pgno uint32) {
	bm.setBit(txn, root, pgno, false)
}

// MarkFree sets the free bit for pgno (page may be reallocated).
func (bm *Bitmap) MarkFree(txn uint64, root uint32, pgno uint32) {
	bm.setBit(txn, root, pgno, true)
}

func (bm *Bitmap) setBit(txn uint64, root uint32, pgno uint32, free bool) {
	bpgno, _ := bm.pageFor(txn, root, pgno, true)
	p := bm.Edit(bpgno)
	start, _ := startOf(p)
	idx := pgno - start
	buf := bits(p)
	byteIdx, bitIdx := idx/8, idx%8
	if free {
		buf[byteIdx] |= 1 << bitIdx
		bm.appendRecord(txn, TagBitSet, bpgno, encodeBitPgno(pgno))
	} else {
		buf[byteIdx] &^= 1 << bitIdx
		bm.appendRecord(txn, TagBitReset, bpgno, encodeBitPgno(pgno))
	}
	p.UpdateChecksum()
}

func encodeBitInit(start uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, start)
	return b
}

func encodeBitRange(start, next uint32) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint32(b[0:4], start)
	binary.LittleEndian.PutUint32(b[4:8], next)
	return b
}

func encodeBitPgno(pgno uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, pgno)
	return b
}

// DecodeBitInit, DecodeBitRange, and DecodeBitPgno unpack the payloads
// above; exported so pkg/engine's recovery apply-table can decode them
// without this package exposing its internal page layout.
func DecodeBitInit(b []byte) (start uint32) {
	return binary.LittleEndian.Uint32(b)
}

func DecodeBitRange(b []byte) (start, next uint32) {
	return binary.LittleEndian.Uint32(b[0:4]), binary.LittleEndian.Uint32(b[4:8])
}

func DecodeBitPgno(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b)
}

// ApplyBitInit and ApplyBitRange replay bitmap chain-growth records
// directly onto a page the caller has already opened for edit (redo
// never calls Alloc; the page number is already fixed in the record).
func ApplyBitInit(p page.Page, pgno uint32, start uint32) {
	p.SetHeader(page.Header{Type: page.TypeBitmap, PageNo: pgno, LSN: p.LSN()})
	setStart(p, start, 0)
	p.UpdateChecksum()
}

func ApplyBitRange(p page.Page, start, next uint32) {
	setStart(p, start, next)
	p.UpdateChecksum()
}

// ApplyBitFlip replays a TagBitSet/TagBitReset record.
func ApplyBitFlip(p page.Page, pgno uint32, free bool) {
	start, _ := startOf(p)
	idx := pgno - start
	buf := bits(p)
	byteIdx, bitIdx := idx/8, idx%8
	if free {
		buf[byteIdx] |= 1 << bitIdx
	} else {
		buf[byteIdx] &^= 1 << bitIdx
	}
	p.UpdateChecksum()
}

// IsFree reports whether pgno is marked free.
func (bm *Bitmap) IsFree(root uint32, pgno uint32) bool {
	bpgno, ok := bm.pageFor(0, root, pgno, false)
	if !ok {
		return true // never allocated, implicitly free
	}
	p := bm.Get(bpgno)
	start, _ := startOf(p)
	idx := pgno - start
	buf := bits(p)
	return buf[idx/8]&(1<<(idx%8)) != 0
}

// AllocLowest scans from pgno 1 upward (page 0 is always the master,
// never free) across every bitmap page in the chain and returns the
// lowest free page number, marking it used. lastPage is the current
// high-water mark of pages ever allocated; if no free page is found
// below it, the caller must extend the file and allocate a new page at
// EOF instead.
func (bm *Bitmap) AllocLowest(txn uint64, root uint32, lastPage uint32) (uint32, bool) {
	cur := root
	for cur != 0 {
		p := bm.Get(cur)
		start, next := startOf(p)
		buf := bits(p)
		for byteIdx, b := range buf {
			if b == 0 {
				continue
			}
			for bit := 0; bit < 8; bit++ {
				if b&(1<<bit) == 0 {
					continue
				}
				pgno := start + uint32(byteIdx*8+bit)
				if pgno == 0 || pgno >= lastPage {
					continue
				}
				bm.MarkUsed(txn, root, pgno)
				return pgno, true
			}
		}
		cur = next
	}
	return 0, false
}
