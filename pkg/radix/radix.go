// ABOUTME: Page-reference radix tree keyed by a non-negative integer position
// ABOUTME: Height grows by promoting the root; Insert logs one WAL record per pointer it writes, so one insert can emit several

package radix

import (
	"encoding/binary"
	"fmt"

	"github.com/nainya/tismet/pkg/page"
	"github.com/nainya/tismet/pkg/wal"
)

// Root is the embedded radix root header stored inline inside its
// owner's page (the metric descriptor, or the standalone page 1 for the
// metric-info radix): a height and entriesPerRoot slots, holding data
// page numbers at height 0 and interior node page numbers above that.
//
// entriesPerRoot is deliberately smaller than entriesPerNode (per
// SPEC_FULL.md §C.1): the root lives inside another structure's page
// alongside other fields, while interior nodes are full standalone
// pages devoted entirely to child slots.
type Root struct {
	Height uint32
	Slots  []uint32 // entriesPerRoot slots, 0 = empty
}

const nodeEntriesOffset = page.HeaderSize

// EntriesPerNode returns how many 4-byte page-number slots fit in one
// standalone radix page after the common header.
func EntriesPerNode(pageSize int) int {
	return (pageSize - page.HeaderSize) / 4
}

func EncodeRoot(entriesPerRoot int) Root {
	return Root{Slots: make([]uint32, entriesPerRoot)}
}

// EntriesPerRootPage returns the slot count for a standalone root page
// (page 1, the metric-info radix root per spec.md §6), which carries
// its own height field and isn't embedded in another structure's page.
func EntriesPerRootPage(pageSize int) int {
	return (pageSize - page.HeaderSize - 4) / 4
}

// LoadRootPage decodes a standalone radix root page.
func LoadRootPage(p page.Page) Root {
	height := binary.LittleEndian.Uint32(p[page.HeaderSize : page.HeaderSize+4])
	n := EntriesPerRootPage(len(p))
	slots := make([]uint32, n)
	base := page.HeaderSize + 4
	for i := range slots {
		slots[i] = binary.LittleEndian.Uint32(p[base+i*4:])
	}
	return Root{Height: height, Slots: slots}
}

// StoreRootPage encodes a standalone radix root page.
func StoreRootPage(p page.Page, metricRadixPgno uint32, r Root) {
	p.SetHeader(page.Header{Type: page.TypeRadix, PageNo: metricRadixPgno, LSN: p.LSN()})
	binary.LittleEndian.PutUint32(p[page.HeaderSize:page.HeaderSize+4], r.Height)
	base := page.HeaderSize + 4
	for i, s := range r.Slots {
		binary.LittleEndian.PutUint32(p[base+i*4:], s)
	}
	p.UpdateChecksum()
}

func slotOf(p page.Page, i int) uint32 {
	off := nodeEntriesOffset + i*4
	return binary.LittleEndian.Uint32(p[off : off+4])
}

func setSlot(p page.Page, i int, v uint32) {
	off := nodeEntriesOffset + i*4
	binary.LittleEndian.PutUint32(p[off:off+4], v)
}

// Tree ties the in-memory Root header to the page cache and WAL it is
// backed by. Grounded on the teacher's pkg/btree node-with-fixed-fanout
// shape, but indexed by digit-of-position rather than byte comparison,
// and with page-number slots instead of inlined keys/values — spec.md
// §4.4 calls for a radix, not a B-tree.
type Tree struct {
	PageSize       int
	EntriesPerNode int

	Get   func(pgno uint32) (page.Page, error)
	Edit  func(pgno uint32) (page.Page, func(), error)
	Alloc func() (uint32, error)
	Free  func(pgno uint32)

	Append func(txn uint64, r wal.Record) (uint64, error)
}

// digits returns height+1 digits of pos, most significant first:
// digits[0] is the root digit (base entriesPerRoot, indexing
// root.Slots) and digits[1:] are the node digits (base EntriesPerNode)
// needed to descend `height` levels below the root. entriesPerRoot is
// deliberately a separate base from EntriesPerNode (see Root's doc
// comment), so the root digit can't be folded into the same loop as
// the rest.
func (t *Tree) digits(pos uint64, height uint32, entriesPerRoot int) []int {
	base := uint64(t.EntriesPerNode)
	d := make([]int, height+1)
	for i := int(height); i >= 1; i-- {
		d[i] = int(pos % base)
		pos /= base
	}
	d[0] = int(pos % uint64(entriesPerRoot))
	return d
}

// capacity returns how many positions are addressable at the given
// height and entriesPerRoot (positions 0 through capacity-1).
func capacity(entriesPerRoot, entriesPerNode int, height uint32) uint64 {
	cap64 := uint64(entriesPerRoot)
	for i := uint32(0); i < height; i++ {
		cap64 *= uint64(entriesPerNode)
	}
	return cap64
}

// Find walks the tree from root, returning (pgno, true) if pos resolves
// to a non-empty slot.
func (t *Tree) Find(root *Root, pos uint64) (uint32, bool, error) {
	if root.Height == 0 {
		idx := int(pos)
		if idx >= len(root.Slots) {
			return 0, false, nil
		}
		v := root.Slots[idx]
		return v, v != 0, nil
	}
	digits := t.digits(pos, root.Height, len(root.Slots))
	rootIdx := digits[0]
	if rootIdx >= len(root.Slots) {
		return 0, false, nil
	}
	cur := root.Slots[rootIdx]
	if cur == 0 {
		return 0, false, nil
	}
	for _, d := range digits[1:] {
		p, err := t.Get(cur)
		if err != nil {
			return 0, false, err
		}
		cur = slotOf(p, d)
		if cur == 0 {
			return 0, false, nil
		}
	}
	return cur, true, nil
}

// Insert walks the tree, allocating interior nodes as needed, growing
// height by promoting the root whenever pos exceeds current capacity.
// Emits one radix-update record per pointer it writes along the walk
// (one per freshly-linked interior node plus the final leaf-level
// slot), so redo can rebuild every hop, not just the deepest one —
// radix-init/-promote are emitted internally alongside them when a
// fresh node or a taller root is needed.
func (t *Tree) Insert(txn uint64, rootPgno uint32, root *Root, pos uint64, pgno uint32) error {
	entriesPerRoot := len(root.Slots)
	for capacity(entriesPerRoot, t.EntriesPerNode, root.Height) <= pos {
		if err := t.promote(txn, rootPgno, root); err != nil {
			return err
		}
	}

	if root.Height == 0 {
		root.Slots[pos] = pgno
		_, err := t.Append(txn, wal.Record{Tag: wal.TagRadixUpdate, Page: rootPgno, Data: encodeUpdate(uint32(pos), pgno)})
		return err
	}

	digits := t.digits(pos, root.Height, entriesPerRoot)
	rootIdx := digits[0]
	if rootIdx >= entriesPerRoot {
		return fmt.Errorf("radix: pos %d out of range at height %d", pos, root.Height)
	}
	cur := root.Slots[rootIdx]
	if cur == 0 {
		newPgno, err := t.Alloc()
		if err != nil {
			return err
		}
		if err := t.initNode(txn, newPgno); err != nil {
			return err
		}
		root.Slots[rootIdx] = newPgno
		cur = newPgno
		if _, err := t.Append(txn, wal.Record{Tag: wal.TagRadixUpdate, Page: rootPgno, Data: encodeUpdate(uint32(rootIdx), newPgno)}); err != nil {
			return err
		}
	}

	for i, d := range digits[1:] {
		last := i == len(digits)-2
		p, release, err := t.Edit(cur)
		if err != nil {
			return err
		}
		if last {
			setSlot(p, d, pgno)
			p.UpdateChecksum()
			release()
			_, err := t.Append(txn, wal.Record{Tag: wal.TagRadixUpdate, Page: cur, Data: encodeUpdate(uint32(d), pgno)})
			return err
		}
		next := slotOf(p, d)
		if next == 0 {
			newPgno, aerr := t.Alloc()
			if aerr != nil {
				release()
				return aerr
			}
			setSlot(p, d, newPgno)
			p.UpdateChecksum()
			thisNode := cur
			release()
			if err := t.initNode(txn, newPgno); err != nil {
				return err
			}
			if _, err := t.Append(txn, wal.Record{Tag: wal.TagRadixUpdate, Page: thisNode, Data: encodeUpdate(uint32(d), newPgno)}); err != nil {
				return err
			}
			next = newPgno
		} else {
			release()
		}
		cur = next
	}
	return nil
}

func (t *Tree) initNode(txn uint64, pgno uint32) error {
	p, release, err := t.Edit(pgno)
	if err != nil {
		return err
	}
	p.SetHeader(page.Header{Type: page.TypeRadix, PageNo: pgno, LSN: p.LSN()})
	p.UpdateChecksum()
	release()
	_, err = t.Append(txn, wal.Record{Tag: wal.TagRadixInit, Page: pgno})
	return err
}

// promote grows the tree by one level: a fresh node receives a copy of
// the root's current slots, and the root becomes a single-entry
// pointer at slot 0 to that node, per spec.md §4.4.
func (t *Tree) promote(txn uint64, rootPgno uint32, root *Root) error {
	newPgno, err := t.Alloc()
	if err != nil {
		return err
	}
	p, release, err := t.Edit(newPgno)
	if err != nil {
		return err
	}
	p.SetHeader(page.Header{Type: page.TypeRadix, PageNo: newPgno, LSN: p.LSN()})
	oldSlots := make([]uint32, len(root.Slots))
	for i, s := range root.Slots {
		setSlot(p, i, s)
		oldSlots[i] = s
	}
	p.UpdateChecksum()
	release()

	for i := range root.Slots {
		root.Slots[i] = 0
	}
	root.Slots[0] = newPgno
	root.Height++

	// The payload carries the copied-in slots, not just the new page
	// number: the new node's content never gets its own WAL record, so
	// redo must be able to rebuild it from this one.
	_, err = t.Append(txn, wal.Record{Tag: wal.TagRadixPromote, Page: rootPgno, Data: encodePromote(newPgno, oldSlots)})
	return err
}

// Erase clears every slot in [first, last] and frees the page each
// cleared slot referenced. Interior nodes left empty are not freed.
func (t *Tree) Erase(txn uint64, rootPgno uint32, root *Root, first, last uint64) error {
	for pos := first; pos <= last; pos++ {
		pgno, ok, err := t.Find(root, pos)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := t.clearSlot(txn, rootPgno, root, pos); err != nil {
			return err
		}
		t.Free(pgno)
	}
	_, err := t.Append(txn, wal.Record{Tag: wal.TagRadixErase, Page: rootPgno, Data: encodeRange(first, last)})
	return err
}

func (t *Tree) clearSlot(txn uint64, rootPgno uint32, root *Root, pos uint64) error {
	if root.Height == 0 {
		root.Slots[pos] = 0
		return nil
	}
	digits := t.digits(pos, root.Height, len(root.Slots))
	rootIdx := digits[0]
	if rootIdx >= len(root.Slots) {
		return nil
	}
	cur := root.Slots[rootIdx]
	if cur == 0 {
		return nil
	}
	for _, d := range digits[1 : len(digits)-1] {
		p, err := t.Get(cur)
		if err != nil {
			return err
		}
		next := slotOf(p, d)
		if next == 0 {
			return nil
		}
		cur = next
	}
	p, release, err := t.Edit(cur)
	if err != nil {
		return err
	}
	setSlot(p, digits[len(digits)-1], 0)
	p.UpdateChecksum()
	release()
	return nil
}

// Clear frees every page referenced by the tree and resets the root to
// empty, used by erase_metric to discard a descriptor's sample pages.
func (t *Tree) Clear(txn uint64, rootPgno uint32, root *Root) error {
	t.walkAndFree(root.Height, root.Slots)
	for i := range root.Slots {
		root.Slots[i] = 0
	}
	root.Height = 0
	_, err := t.Append(txn, wal.Record{Tag: wal.TagRadixInitList, Page: rootPgno})
	return err
}

func (t *Tree) walkAndFree(height uint32, slots []uint32) {
	if height == 0 {
		for _, s := range slots {
			if s != 0 {
				t.Free(s)
			}
		}
		return
	}
	for _, s := range slots {
		if s == 0 {
			continue
		}
		p, err := t.Get(s)
		if err == nil {
			children := make([]uint32, t.EntriesPerNode)
			for i := range children {
				children[i] = slotOf(p, i)
			}
			t.walkAndFree(height-1, children)
		}
		t.Free(s)
	}
}

func encodeUpdate(slot uint32, pgno uint32) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint32(b[0:4], slot)
	binary.LittleEndian.PutUint32(b[4:8], pgno)
	return b
}

func encodeRange(first, last uint64) []byte {
	b := make([]byte, 16)
	binary.LittleEndian.PutUint64(b[0:8], first)
	binary.LittleEndian.PutUint64(b[8:16], last)
	return b
}

func encodePromote(newPgno uint32, oldSlots []uint32) []byte {
	b := make([]byte, 4+len(oldSlots)*4)
	binary.LittleEndian.PutUint32(b[0:4], newPgno)
	for i, s := range oldSlots {
		binary.LittleEndian.PutUint32(b[4+i*4:], s)
	}
	return b
}

// DecodePromote unpacks a TagRadixPromote payload: the freshly
// allocated node's page number and the full slot array it was seeded
// with (a copy of the root's slots just before the root collapsed to a
// single pointer at slot 0).
func DecodePromote(b []byte) (newPgno uint32, oldSlots []uint32) {
	newPgno = binary.LittleEndian.Uint32(b[0:4])
	n := (len(b) - 4) / 4
	oldSlots = make([]uint32, n)
	for i := range oldSlots {
		oldSlots[i] = binary.LittleEndian.Uint32(b[4+i*4:])
	}
	return
}

// DecodeUpdate and DecodeRange unpack the payloads above, exported so
// pkg/engine's recovery apply-table can decode radix records without
// reimplementing this package's wire layout.
func DecodeUpdate(b []byte) (slot uint32, pgno uint32) {
	return binary.LittleEndian.Uint32(b[0:4]), binary.LittleEndian.Uint32(b[4:8])
}

func DecodeRange(b []byte) (first, last uint64) {
	return binary.LittleEndian.Uint64(b[0:8]), binary.LittleEndian.Uint64(b[8:16])
}

// ApplyNodeInit and ApplyNodeUpdate replay TagRadixInit/TagRadixUpdate
// records directly onto an interior node page the caller has already
// opened for edit — redo never calls Alloc, the page number is fixed
// in the record.
func ApplyNodeInit(p page.Page, pgno uint32) {
	p.SetHeader(page.Header{Type: page.TypeRadix, PageNo: pgno, LSN: p.LSN()})
	p.UpdateChecksum()
}

func ApplyNodeUpdate(p page.Page, slot int, pgno uint32) {
	setSlot(p, slot, pgno)
	p.UpdateChecksum()
}

// ApplyNodePromoteInit replays a TagRadixPromote record's node side:
// the freshly allocated page, seeded with the slots copied from the
// root it displaced.
func ApplyNodePromoteInit(p page.Page, pgno uint32, oldSlots []uint32) {
	p.SetHeader(page.Header{Type: page.TypeRadix, PageNo: pgno, LSN: p.LSN()})
	for i, s := range oldSlots {
		setSlot(p, i, s)
	}
	p.UpdateChecksum()
}

// ApplyRootUpdate, ApplyRootPromote, and ApplyRootClear replay
// TagRadixUpdate/TagRadixPromote/TagRadixInitList records against an
// in-memory Root header — used for both the descriptor-embedded root
// and the standalone page-1 root, whichever the record's target page
// resolves to. The caller persists the header back via StoreRootPage
// or WriteDescriptor.
func ApplyRootUpdate(root *Root, slot int, pgno uint32) {
	if slot >= 0 && slot < len(root.Slots) {
		root.Slots[slot] = pgno
	}
}

func ApplyRootPromote(root *Root, newNodePgno uint32) {
	for i := range root.Slots {
		root.Slots[i] = 0
	}
	if len(root.Slots) > 0 {
		root.Slots[0] = newNodePgno
	}
	root.Height++
}

func ApplyRootClear(root *Root) {
	for i := range root.Slots {
		root.Slots[i] = 0
	}
	root.Height = 0
}

// ApplyErase replays a TagRadixErase record by clearing every slot in
// [first, last], reusing Erase's own slot-clearing walk but without
// freeing pages or re-appending a record: redo never calls Alloc or
// writes to the WAL, and the pages this originally freed are redone
// independently as their own bitmap bit-set records.
func (t *Tree) ApplyErase(rootPgno uint32, root *Root, first, last uint64) error {
	for pos := first; pos <= last; pos++ {
		if err := t.clearSlot(0, rootPgno, root, pos); err != nil {
			return err
		}
	}
	return nil
}
