// ABOUTME: Crash-recovery redo table: one case per WAL tag, each replaying onto the exact page the record names
// ABOUTME: Each record's target page is edited through cache.EditForRedo, which skips pages already at or past the record's LSN
// ABOUTME: Interior radix nodes cleared while replaying an erase are edited through cache.Edit, which stamps the LSN unconditionally

package engine

import (
	"fmt"

	"github.com/nainya/tismet/pkg/bitmap"
	"github.com/nainya/tismet/pkg/metricstore"
	"github.com/nainya/tismet/pkg/page"
	"github.com/nainya/tismet/pkg/radix"
	"github.com/nainya/tismet/pkg/wal"
)

// radixOwner classifies which physical layout a radix WAL record's
// target page actually has, per spec.md §6: the metric-info radix root
// lives at a fixed page number, a metric's own sample-page radix root
// is embedded inside that metric's descriptor page, and everything
// else tagged as radix is a plain interior node devoted to slots.
type radixOwner int

const (
	ownerInterior radixOwner = iota
	ownerMetricRoot
	ownerDescriptor
)

func (eng *Engine) radixOwnerOf(pgno uint32) (radixOwner, error) {
	if pgno == metricRootPgno {
		return ownerMetricRoot, nil
	}
	p, err := eng.cache.Get(pgno)
	if err != nil {
		return ownerInterior, err
	}
	if p.Header().Type == page.TypeMetric {
		return ownerDescriptor, nil
	}
	return ownerInterior, nil
}

// redoTree is a Tree wired for replay only: Get/Edit read and write
// through the cache directly (no Alloc/Free — redo never allocates,
// every page number is already fixed in the record it's replaying).
func (eng *Engine) redoTree(lsn uint64) *radix.Tree {
	return &radix.Tree{
		PageSize:       eng.cfg.PageSize,
		EntriesPerNode: radix.EntriesPerNode(eng.cfg.PageSize),
		Get:            eng.cache.Get,
		Edit: func(pgno uint32) (page.Page, func(), error) {
			return eng.cache.Edit(pgno, lsn)
		},
	}
}

// applyRecord is the wal.Applier passed to wal.Recover. It never calls
// Alloc, never appends to the WAL, and mutates only the page number
// already recorded — exactly the "redo, don't redo-plus-replan"
// contract spec.md §4.3 describes for crash recovery.
func (eng *Engine) applyRecord(rec wal.Record, lsn uint64) error {
	switch rec.Tag {
	case wal.TagZeroInit, wal.TagTxnBegin, wal.TagTxnCommit, wal.TagCheckpointCommit:
		return nil

	case wal.TagPageFree:
		// The page's own content is redone by whatever record reset it
		// (a bit-set record marks it free in the bitmap); nothing to
		// do for the freed page itself.
		return nil

	case bitmap.TagBitInit:
		start := bitmap.DecodeBitInit(rec.Data)
		p, release, ok, err := eng.cache.EditForRedo(rec.Page, lsn)
		if err != nil || !ok {
			return err
		}
		bitmap.ApplyBitInit(p, rec.Page, start)
		release()
		return nil

	case bitmap.TagBitRange:
		start, next := bitmap.DecodeBitRange(rec.Data)
		p, release, ok, err := eng.cache.EditForRedo(rec.Page, lsn)
		if err != nil || !ok {
			return err
		}
		bitmap.ApplyBitRange(p, start, next)
		release()
		return nil

	case bitmap.TagBitSet:
		return eng.applyBitFlip(rec, lsn, true)
	case bitmap.TagBitReset:
		return eng.applyBitFlip(rec, lsn, false)

	case wal.TagRadixInit:
		p, release, ok, err := eng.cache.EditForRedo(rec.Page, lsn)
		if err != nil || !ok {
			return err
		}
		radix.ApplyNodeInit(p, rec.Page)
		release()
		return nil

	case wal.TagRadixUpdate:
		return eng.applyRadixUpdate(rec, lsn)
	case wal.TagRadixPromote:
		return eng.applyRadixPromote(rec, lsn)
	case wal.TagRadixErase:
		return eng.applyRadixErase(rec, lsn)
	case wal.TagRadixInitList:
		return eng.applyRadixClear(rec, lsn)

	case wal.TagMetricInit, wal.TagMetricUpdate:
		return eng.applyMetricWrite(rec, lsn)
	case wal.TagMetricClear:
		return eng.applyMetricClear(rec, lsn)
	case wal.TagMetricUpdatePos:
		return eng.applyMetricUpdatePos(rec, lsn)

	case wal.TagSampleInit, wal.TagSampleInitFill:
		return eng.applySampleInit(rec, lsn)
	case wal.TagSampleUpdate:
		return eng.applySampleUpdate(rec, lsn, false)
	case wal.TagSampleUpdateLast:
		return eng.applySampleUpdate(rec, lsn, true)

	default:
		// Unknown or deprecated tag: the stable-tag-table contract is
		// that replay skips what it doesn't recognize.
		return nil
	}
}

func (eng *Engine) applyBitFlip(rec wal.Record, lsn uint64, free bool) error {
	pgno := bitmap.DecodeBitPgno(rec.Data)
	p, release, ok, err := eng.cache.EditForRedo(rec.Page, lsn)
	if err != nil || !ok {
		return err
	}
	bitmap.ApplyBitFlip(p, pgno, free)
	release()
	return nil
}

func (eng *Engine) applyRadixUpdate(rec wal.Record, lsn uint64) error {
	slot, pgno := radix.DecodeUpdate(rec.Data)
	owner, err := eng.radixOwnerOf(rec.Page)
	if err != nil {
		return err
	}

	p, release, ok, err := eng.cache.EditForRedo(rec.Page, lsn)
	if err != nil || !ok {
		return err
	}
	defer release()

	switch owner {
	case ownerInterior:
		radix.ApplyNodeUpdate(p, int(slot), pgno)
	case ownerMetricRoot:
		root := radix.LoadRootPage(p)
		radix.ApplyRootUpdate(&root, int(slot), pgno)
		radix.StoreRootPage(p, rec.Page, root)
	case ownerDescriptor:
		d := metricstore.ReadDescriptor(p, eng.store.EntriesPerRoot)
		radix.ApplyRootUpdate(&d.Radix, int(slot), pgno)
		metricstore.WriteDescriptor(p, rec.Page, d.ID, d)
	}
	return nil
}

func (eng *Engine) applyRadixPromote(rec wal.Record, lsn uint64) error {
	newPgno, oldSlots := radix.DecodePromote(rec.Data)

	np, nrelease, ok, err := eng.cache.EditForRedo(newPgno, lsn)
	if err != nil {
		return err
	}
	if ok {
		radix.ApplyNodePromoteInit(np, newPgno, oldSlots)
		nrelease()
	}

	owner, err := eng.radixOwnerOf(rec.Page)
	if err != nil {
		return err
	}
	p, release, ok, err := eng.cache.EditForRedo(rec.Page, lsn)
	if err != nil || !ok {
		return err
	}
	defer release()

	switch owner {
	case ownerMetricRoot:
		root := radix.LoadRootPage(p)
		radix.ApplyRootPromote(&root, newPgno)
		radix.StoreRootPage(p, rec.Page, root)
	case ownerDescriptor:
		d := metricstore.ReadDescriptor(p, eng.store.EntriesPerRoot)
		radix.ApplyRootPromote(&d.Radix, newPgno)
		metricstore.WriteDescriptor(p, rec.Page, d.ID, d)
	default:
		return fmt.Errorf("engine: radix promote on unexpected page %d", rec.Page)
	}
	return nil
}

func (eng *Engine) applyRadixErase(rec wal.Record, lsn uint64) error {
	first, last := radix.DecodeRange(rec.Data)
	owner, err := eng.radixOwnerOf(rec.Page)
	if err != nil {
		return err
	}

	p, release, ok, err := eng.cache.EditForRedo(rec.Page, lsn)
	if err != nil || !ok {
		return err
	}
	defer release()

	tree := eng.redoTree(lsn)
	switch owner {
	case ownerMetricRoot:
		root := radix.LoadRootPage(p)
		if err := tree.ApplyErase(rec.Page, &root, first, last); err != nil {
			return err
		}
		radix.StoreRootPage(p, rec.Page, root)
	case ownerDescriptor:
		d := metricstore.ReadDescriptor(p, eng.store.EntriesPerRoot)
		if err := tree.ApplyErase(rec.Page, &d.Radix, first, last); err != nil {
			return err
		}
		metricstore.WriteDescriptor(p, rec.Page, d.ID, d)
	default:
		return fmt.Errorf("engine: radix erase on unexpected page %d", rec.Page)
	}
	return nil
}

func (eng *Engine) applyRadixClear(rec wal.Record, lsn uint64) error {
	owner, err := eng.radixOwnerOf(rec.Page)
	if err != nil {
		return err
	}

	p, release, ok, err := eng.cache.EditForRedo(rec.Page, lsn)
	if err != nil || !ok {
		return err
	}
	defer release()

	switch owner {
	case ownerMetricRoot:
		root := radix.LoadRootPage(p)
		radix.ApplyRootClear(&root)
		radix.StoreRootPage(p, rec.Page, root)
	case ownerDescriptor:
		d := metricstore.ReadDescriptor(p, eng.store.EntriesPerRoot)
		radix.ApplyRootClear(&d.Radix)
		metricstore.WriteDescriptor(p, rec.Page, d.ID, d)
	default:
		return fmt.Errorf("engine: radix clear on unexpected page %d", rec.Page)
	}
	return nil
}

func (eng *Engine) applyMetricWrite(rec wal.Record, lsn uint64) error {
	id, t, interval, retention, creation, name := metricstore.DecodeMetricInit(rec.Data)

	p, release, ok, err := eng.cache.EditForRedo(rec.Page, lsn)
	if err != nil || !ok {
		return err
	}
	defer release()

	// A descriptor rewrite (TagMetricUpdate, or a fresh TagMetricInit
	// replaying onto a page a later record already touched) must keep
	// whatever LastPage/LastPos/Radix state is already on the page
	// rather than reset it — those fields are owned by the sample and
	// radix records, not this one.
	d := metricstore.ReadDescriptor(p, eng.store.EntriesPerRoot)
	if d.ID != id {
		// First time this page is being populated during replay: seed
		// the fields this record doesn't carry with fresh-metric
		// defaults, including a correctly sized, empty radix root
		// (the page's stale bytes may belong to a previous occupant).
		d = metricstore.Descriptor{ID: id, LastPage: 0, LastPos: -1, Radix: radix.EncodeRoot(eng.store.EntriesPerRoot)}
	}
	d.Name = name
	d.Type = t
	d.Interval = interval
	d.Retention = retention
	d.Creation = creation
	metricstore.WriteDescriptor(p, rec.Page, id, d)
	return nil
}

func (eng *Engine) applyMetricClear(rec wal.Record, lsn uint64) error {
	p, release, ok, err := eng.cache.EditForRedo(rec.Page, lsn)
	if err != nil || !ok {
		return err
	}
	defer release()

	d := metricstore.ReadDescriptor(p, eng.store.EntriesPerRoot)
	d.LastPage = 0
	d.LastPos = -1
	d.LastPageFirstTime = 0
	metricstore.WriteDescriptor(p, rec.Page, d.ID, d)
	return nil
}

func (eng *Engine) applyMetricUpdatePos(rec wal.Record, lsn uint64) error {
	lastPage, lastPos, lastPageFirstTime := metricstore.DecodeMetricUpdatePos(rec.Data)
	p, release, ok, err := eng.cache.EditForRedo(rec.Page, lsn)
	if err != nil || !ok {
		return err
	}
	defer release()

	d := metricstore.ReadDescriptor(p, eng.store.EntriesPerRoot)
	d.LastPage = lastPage
	d.LastPos = lastPos
	d.LastPageFirstTime = lastPageFirstTime
	metricstore.WriteDescriptor(p, rec.Page, d.ID, d)
	return nil
}

func (eng *Engine) applySampleInit(rec wal.Record, lsn uint64) error {
	metricID, t, pageFirstTime, offset, v := metricstore.DecodeSampleInit(rec.Data)
	p, release, ok, err := eng.cache.EditForRedo(rec.Page, lsn)
	if err != nil || !ok {
		return err
	}
	defer release()

	metricstore.InitSamplePage(p, rec.Page, metricID, t, pageFirstTime)
	metricstore.SetSample(p, offset, v)
	metricstore.SetSamplePageLastPos(p, int32(offset))
	return nil
}

func (eng *Engine) applySampleUpdate(rec wal.Record, lsn uint64, last bool) error {
	offset, v := metricstore.DecodeSampleUpdate(rec.Data)
	p, release, ok, err := eng.cache.EditForRedo(rec.Page, lsn)
	if err != nil || !ok {
		return err
	}
	defer release()

	metricstore.SetSample(p, offset, v)
	if last {
		lp := metricstore.SamplePageLastPos(p)
		if int32(offset) > lp {
			metricstore.SetSamplePageLastPos(p, int32(offset))
		}
	}
	return nil
}
