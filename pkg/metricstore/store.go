// ABOUTME: Metric descriptor lifecycle and the write-sample/enum-samples ring-buffer logic
// ABOUTME: Mutations are logged to the WAL and route through the page cache

package metricstore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nainya/tismet/pkg/page"
	"github.com/nainya/tismet/pkg/radix"
	"github.com/nainya/tismet/pkg/txid"
	"github.com/nainya/tismet/pkg/wal"
)

var (
	ErrBadName     = errors.New("metricstore: invalid metric name")
	ErrNotFound    = errors.New("metricstore: metric not found")
	ErrOutOfPages  = errors.New("metricstore: out of pages")
)

// WriteOutcome reports what a WriteSample call actually did, so a
// stale or duplicate write is never mistaken for a failure — spec.md
// §7 treats both as non-errors.
type WriteOutcome int

const (
	OutcomeWritten WriteOutcome = iota
	OutcomeChanged
	OutcomeDuplicate
	OutcomeStale
)

// NameIndex is the subset of pkg/nameindex's surface metricstore needs;
// kept as an interface so the two packages don't import each other.
type NameIndex interface {
	Insert(id uint32, name string)
	Remove(id uint32)
}

// Counters are the perf counters spec.md §7/§8 calls for.
type Counters struct {
	Dup       uint64
	Old       uint64
	Changed   uint64
	Checkpoints uint64
}

func (c *Counters) addDup()     { atomic.AddUint64(&c.Dup, 1) }
func (c *Counters) addOld()     { atomic.AddUint64(&c.Old, 1) }
func (c *Counters) addChanged() { atomic.AddUint64(&c.Changed, 1) }

// Store implements §4.5's metric lifecycle and sample-write/enumerate
// logic. It is wired via callback fields into the page cache, the
// bitmap allocator, and the WAL, the same injection style as
// pkg/bitmap.Bitmap and pkg/radix.Tree, so this package never imports
// pagecache/pagestore/wal directly and stays unit-testable in memory.
type Store struct {
	PageSize       int
	EntriesPerRoot int // descriptor-embedded sample-page radix
	EntriesPerNode int

	Get    func(pgno uint32) (page.Page, error)
	Edit   func(pgno uint32) (page.Page, func(), error)
	Alloc  func() (uint32, error)
	Free   func(pgno uint32)
	Append func(txn uint64, r wal.Record) (uint64, error)

	MetricRadixRootPgno uint32 // page 1, per spec.md §6
	metricRadixRoot     radix.Root

	IDs   *txid.Pool
	Names NameIndex

	Counters Counters

	mu       sync.RWMutex
	descPgno map[uint32]uint32
	info     map[uint32]*Descriptor
}

func New() *Store {
	return &Store{
		descPgno: make(map[uint32]uint32),
		info:     make(map[uint32]*Descriptor),
	}
}

func (s *Store) sampleTree() *radix.Tree {
	return &radix.Tree{
		PageSize:       s.PageSize,
		EntriesPerNode: s.EntriesPerNode,
		Get:            s.Get,
		Edit:           s.Edit,
		Alloc:          s.Alloc,
		Free:           s.Free,
		Append:         s.Append,
	}
}

func (s *Store) metricTree() *radix.Tree {
	return s.sampleTree()
}

// LoadMetricRadixRoot reads page 1 into memory; called once at engine
// open, after fresh-init or WAL recovery has populated it.
func (s *Store) LoadMetricRadixRoot() error {
	p, err := s.Get(s.MetricRadixRootPgno)
	if err != nil {
		return err
	}
	s.metricRadixRoot = radix.LoadRootPage(p)
	return nil
}

func (s *Store) persistMetricRadixRoot() error {
	p, release, err := s.Edit(s.MetricRadixRootPgno)
	if err != nil {
		return err
	}
	radix.StoreRootPage(p, s.MetricRadixRootPgno, s.metricRadixRoot)
	release()
	return nil
}

// InsertMetric implements spec.md §4.5 "Insert metric."
func (s *Store) InsertMetric(txn uint64, name string, t SampleType, interval, retention time.Duration) (uint32, error) {
	if len(name) == 0 || len(name) >= MaxNameLen {
		return 0, ErrBadName
	}
	id64, err := s.IDs.Acquire()
	if err != nil {
		return 0, fmt.Errorf("metricstore: insert metric: %w", err)
	}
	id := id64

	descPgno, err := s.Alloc()
	if err != nil {
		s.IDs.Release(id)
		return 0, fmt.Errorf("metricstore: %w", ErrOutOfPages)
	}

	d := Descriptor{
		ID:        id,
		Name:      name,
		Type:      t,
		Interval:  interval,
		Retention: retention,
		Creation:  time.Now(),
		LastPage:  0,
		LastPos:   -1,
		Radix:     radix.EncodeRoot(s.EntriesPerRoot),
	}

	p, release, err := s.Edit(descPgno)
	if err != nil {
		return 0, err
	}
	WriteDescriptor(p, descPgno, id, d)
	release()

	if _, err := s.Append(txn, wal.Record{Tag: wal.TagMetricInit, Page: descPgno, Data: encodeMetricInit(d)}); err != nil {
		return 0, err
	}

	if err := s.metricTree().Insert(txn, s.MetricRadixRootPgno, &s.metricRadixRoot, uint64(id), descPgno); err != nil {
		return 0, err
	}
	if err := s.persistMetricRadixRoot(); err != nil {
		return 0, err
	}

	s.Names.Insert(id, name)

	s.mu.Lock()
	s.descPgno[id] = descPgno
	s.info[id] = &d
	s.mu.Unlock()

	return id, nil
}

// EraseMetric implements spec.md §4.5 "Erase metric."
func (s *Store) EraseMetric(txn uint64, id uint32) error {
	descPgno, d, err := s.resolve(id)
	if err != nil {
		return err
	}

	if err := s.sampleTree().Clear(txn, descPgno, &d.Radix); err != nil {
		return err
	}

	s.Free(descPgno)
	if _, err := s.Append(txn, wal.Record{Tag: wal.TagPageFree, Page: descPgno}); err != nil {
		return err
	}

	if err := s.metricTree().Erase(txn, s.MetricRadixRootPgno, &s.metricRadixRoot, uint64(id), uint64(id)); err != nil {
		return err
	}
	if err := s.persistMetricRadixRoot(); err != nil {
		return err
	}

	s.Names.Remove(id)
	s.IDs.Release(id)

	s.mu.Lock()
	delete(s.descPgno, id)
	delete(s.info, id)
	s.mu.Unlock()
	return nil
}

// UpdateMetric implements spec.md §4.5 "Update metric config."
func (s *Store) UpdateMetric(txn uint64, id uint32, t SampleType, interval, retention time.Duration) error {
	descPgno, d, err := s.resolve(id)
	if err != nil {
		return err
	}

	incompatible := t != d.Type || interval != d.Interval
	if incompatible {
		if err := s.sampleTree().Clear(txn, descPgno, &d.Radix); err != nil {
			return err
		}
		if _, err := s.Append(txn, wal.Record{Tag: wal.TagMetricClear, Page: descPgno}); err != nil {
			return err
		}
		d.LastPage = 0
		d.LastPos = -1
	}

	d.Type = t
	d.Interval = interval
	d.Retention = retention

	p, release, err := s.Edit(descPgno)
	if err != nil {
		return err
	}
	WriteDescriptor(p, descPgno, id, *d)
	release()

	_, err = s.Append(txn, wal.Record{Tag: wal.TagMetricUpdate, Page: descPgno, Data: encodeMetricInit(*d)})
	return err
}

// MetricRadixRoot returns the current in-memory metric-info radix root.
// Engine startup uses it to walk every descriptor reachable from it
// without re-deriving the tree's Get callback itself.
func (s *Store) MetricRadixRoot() radix.Root {
	return s.metricRadixRoot
}

// Adopt registers a descriptor discovered by walking the metric-info
// radix tree at open time, without re-allocating its id or page, and
// reserves the id in the pool so a later InsertMetric can never collide
// with it. Used when reopening an existing data file, after recovery
// has replayed any WAL records the last run hadn't checkpointed yet.
func (s *Store) Adopt(descPgno uint32, d Descriptor) {
	s.IDs.Adopt(d.ID)
	s.mu.Lock()
	s.descPgno[d.ID] = descPgno
	dd := d
	s.info[d.ID] = &dd
	s.mu.Unlock()
}

// Info returns a copy of the current descriptor for id, per spec.md
// §4.5's "get metric info." The copy's Radix field is safe to read but
// not to mutate through: callers never see the live descriptor pointer
// WriteSample updates under s.mu.
func (s *Store) Info(id uint32) (Descriptor, error) {
	_, d, err := s.resolve(id)
	if err != nil {
		return Descriptor{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *d, nil
}

func (s *Store) resolve(id uint32) (uint32, *Descriptor, error) {
	s.mu.RLock()
	pgno, ok := s.descPgno[id]
	d := s.info[id]
	s.mu.RUnlock()
	if !ok {
		return 0, nil, fmt.Errorf("metricstore: metric %d: %w", id, ErrNotFound)
	}
	return pgno, d, nil
}

// WriteSample implements spec.md §4.5 "Write sample (id, t, v)."
func (s *Store) WriteSample(txn uint64, id uint32, t time.Time, v float64) (WriteOutcome, error) {
	descPgno, d, err := s.resolve(id)
	if err != nil {
		return 0, err
	}

	samplesPerPage := SamplesPerPage(s.PageSize, d.Type)
	slot := int64(t.Unix() / int64(d.Interval/time.Second))
	pageIndex := slot / int64(samplesPerPage)
	offset := int(slot % int64(samplesPerPage))
	pageStartTime := pageIndex * int64(samplesPerPage) * int64(d.Interval/time.Second)

	mostRecent := d.LastPageFirstTime + int64(d.LastPos+1)*int64(d.Interval/time.Second)
	if d.LastPos < 0 {
		mostRecent = d.LastPageFirstTime
	}
	if t.Unix() < mostRecent-int64(d.Retention/time.Second) {
		s.Counters.addOld()
		return OutcomeStale, nil
	}

	lastPageIndex := int64(0)
	if d.LastPageFirstTime != 0 || d.LastPos >= 0 {
		lastPageIndex = d.LastPageFirstTime / (int64(samplesPerPage) * int64(d.Interval/time.Second))
	}

	tree := s.sampleTree()

	targetPgno, ok, err := tree.Find(&d.Radix, uint64(pageIndex))
	if err != nil {
		return 0, err
	}

	if !ok {
		newPgno, err := s.Alloc()
		if err != nil {
			return 0, fmt.Errorf("metricstore: %w", ErrOutOfPages)
		}
		p, release, err := s.Edit(newPgno)
		if err != nil {
			return 0, err
		}
		InitSamplePage(p, newPgno, id, d.Type, pageStartTime)
		SetSample(p, offset, v)
		SetSamplePageLastPos(p, int32(offset))
		release()

		if _, err := s.Append(txn, wal.Record{Tag: wal.TagSampleInitFill, Page: newPgno, Data: encodeSampleInit(id, d.Type, pageStartTime, offset, v)}); err != nil {
			return 0, err
		}
		if err := tree.Insert(txn, descPgno, &d.Radix, uint64(pageIndex), newPgno); err != nil {
			return 0, err
		}

		if pageIndex > lastPageIndex {
			d.LastPage = newPgno
			d.LastPageFirstTime = pageStartTime
			d.LastPos = int32(offset)
		}
		s.evictExpired(txn, descPgno, d, t)
		if err := s.persistDescriptor(txn, descPgno, d); err != nil {
			return 0, err
		}
		return OutcomeWritten, nil
	}

	p, release, err := s.Edit(targetPgno)
	if err != nil {
		return 0, err
	}
	defer release()

	if SameValue(p, offset, v) {
		s.Counters.addDup()
		return OutcomeDuplicate, nil
	}

	wasMissing := IsSampleMissing(p, offset)
	SetSample(p, offset, v)

	if pageIndex == lastPageIndex {
		last := SamplePageLastPos(p)
		if int32(offset) > last+1 {
			FillMissing(p, int(last)+1, offset)
		}
		if int32(offset) > last {
			SetSamplePageLastPos(p, int32(offset))
			d.LastPos = int32(offset)
		}
		if _, err := s.Append(txn, wal.Record{Tag: wal.TagSampleUpdateLast, Page: targetPgno, Data: encodeSampleUpdate(offset, v)}); err != nil {
			return 0, err
		}
	} else {
		if _, err := s.Append(txn, wal.Record{Tag: wal.TagSampleUpdate, Page: targetPgno, Data: encodeSampleUpdate(offset, v)}); err != nil {
			return 0, err
		}
	}

	if err := s.persistDescriptor(txn, descPgno, d); err != nil {
		return 0, err
	}
	if wasMissing {
		return OutcomeWritten, nil
	}
	s.Counters.addChanged()
	return OutcomeChanged, nil
}

// evictExpired frees sample pages that have fallen entirely out of
// retention once a new page is indexed, per spec.md §4.5's "if this
// pushes the metric past retention, free the oldest indexed page(s)".
func (s *Store) evictExpired(txn uint64, descPgno uint32, d *Descriptor, now time.Time) {
	if d.Retention <= 0 {
		return
	}
	samplesPerPage := SamplesPerPage(s.PageSize, d.Type)
	pageSpan := int64(samplesPerPage) * int64(d.Interval/time.Second)
	if pageSpan == 0 {
		return
	}
	cutoff := now.Unix() - int64(d.Retention/time.Second)
	oldestLive := (cutoff / pageSpan)
	if oldestLive <= 0 {
		return
	}
	_ = s.sampleTree().Erase(txn, descPgno, &d.Radix, 0, uint64(oldestLive-1))
}

// persistDescriptor writes the descriptor's most-recent-page bookkeeping
// back to its page and logs it via TagMetricUpdatePos, so redo can
// rebuild LastPage/LastPos/LastPageFirstTime exactly — fields nothing
// else in the WAL stream otherwise carries, since WriteSample's sample
// and radix records only describe the written sample page itself.
func (s *Store) persistDescriptor(txn uint64, descPgno uint32, d *Descriptor) error {
	p, release, err := s.Edit(descPgno)
	if err != nil {
		return err
	}
	WriteDescriptor(p, descPgno, d.ID, *d)
	release()
	_, err = s.Append(txn, wal.Record{Tag: wal.TagMetricUpdatePos, Page: descPgno, Data: encodeMetricUpdatePos(d.LastPage, d.LastPos, d.LastPageFirstTime)})
	return err
}

func encodeMetricUpdatePos(lastPage uint32, lastPos int32, lastPageFirstTime int64) []byte {
	b := make([]byte, 16)
	binary.LittleEndian.PutUint32(b[0:4], lastPage)
	binary.LittleEndian.PutUint32(b[4:8], uint32(lastPos))
	binary.LittleEndian.PutUint64(b[8:16], uint64(lastPageFirstTime))
	return b
}

// DecodeMetricUpdatePos unpacks a TagMetricUpdatePos payload.
func DecodeMetricUpdatePos(b []byte) (lastPage uint32, lastPos int32, lastPageFirstTime int64) {
	lastPage = binary.LittleEndian.Uint32(b[0:4])
	lastPos = int32(binary.LittleEndian.Uint32(b[4:8]))
	lastPageFirstTime = int64(binary.LittleEndian.Uint64(b[8:16]))
	return
}

// SampleNotifier receives samples from EnumSamples, per spec.md §4.8.
// OnSample returning false aborts the iteration early.
type SampleNotifier interface {
	OnSeriesStart(id uint32, name string, t SampleType, first, last time.Time, interval time.Duration)
	OnSample(id uint32, t time.Time, v float64) bool
	OnSeriesEnd()
}

// EnumSamples implements spec.md §4.8.
func (s *Store) EnumSamples(id uint32, first, last time.Time, name string, notify SampleNotifier) error {
	descPgno, d, err := s.resolve(id)
	if err != nil {
		return err
	}
	_ = descPgno

	notify.OnSeriesStart(id, name, d.Type, first, last, d.Interval)
	defer notify.OnSeriesEnd()

	intervalSec := int64(d.Interval / time.Second)
	samplesPerPage := SamplesPerPage(s.PageSize, d.Type)
	pageSpan := int64(samplesPerPage) * intervalSec

	firstSlot := first.Unix() / intervalSec
	lastSlot := last.Unix() / intervalSec
	firstPageIdx := firstSlot / int64(samplesPerPage)
	lastPageIdx := lastSlot / int64(samplesPerPage)

	tree := s.sampleTree()
	for pageIdx := firstPageIdx; pageIdx <= lastPageIdx; pageIdx++ {
		pgno, ok, err := tree.Find(&d.Radix, uint64(pageIdx))
		if err != nil {
			return err
		}
		if !ok {
			continue // gap policy: skip silently, per spec.md §4.8
		}
		p, err := s.Get(pgno)
		if err != nil {
			return err
		}
		pageFirstTime := SamplePageFirstTime(p)
		for off := 0; off < samplesPerPage; off++ {
			sampleTime := pageFirstTime + int64(off)*intervalSec
			if sampleTime < first.Unix() || sampleTime > last.Unix() {
				continue
			}
			if IsSampleMissing(p, off) {
				continue
			}
			v := GetSample(p, off)
			if !notify.OnSample(id, time.Unix(sampleTime, 0), v) {
				return nil
			}
		}
		_ = pageSpan
	}
	return nil
}

func encodeMetricInit(d Descriptor) []byte {
	// Compact payload: id(4) + type(1) + interval(8) + retention(8) + creation(8) + name.
	// id travels in the payload, not just the page header, since redo
	// may be seeding this descriptor page from scratch (a never-mapped
	// page has no header to read MetricID back out of yet).
	b := make([]byte, 29+len(d.Name))
	binary.LittleEndian.PutUint32(b[0:4], d.ID)
	b[4] = byte(d.Type)
	binary.LittleEndian.PutUint64(b[5:13], uint64(d.Interval/time.Second))
	binary.LittleEndian.PutUint64(b[13:21], uint64(d.Retention/time.Second))
	binary.LittleEndian.PutUint64(b[21:29], uint64(d.Creation.Unix()))
	copy(b[29:], d.Name)
	return b
}

// DecodeMetricInit unpacks a TagMetricInit/TagMetricUpdate payload,
// used by pkg/engine's recovery apply-table to redo metric-descriptor
// writes without re-running InsertMetric's id/page allocation.
func DecodeMetricInit(b []byte) (id uint32, t SampleType, interval, retention time.Duration, creation time.Time, name string) {
	id = binary.LittleEndian.Uint32(b[0:4])
	t = SampleType(b[4])
	interval = time.Duration(binary.LittleEndian.Uint64(b[5:13])) * time.Second
	retention = time.Duration(binary.LittleEndian.Uint64(b[13:21])) * time.Second
	creation = time.Unix(int64(binary.LittleEndian.Uint64(b[21:29])), 0)
	name = string(b[29:])
	return
}

func encodeSampleInit(metricID uint32, t SampleType, pageFirstTime int64, offset int, v float64) []byte {
	// metricID and the sample type travel in the payload, not just the
	// page header, since redo may be seeding this sample page from
	// scratch: a never-mapped page has no header or body to read either
	// one back out of before InitSamplePage needs them.
	b := make([]byte, 25)
	binary.LittleEndian.PutUint32(b[0:4], metricID)
	b[4] = byte(t)
	binary.LittleEndian.PutUint64(b[5:13], uint64(pageFirstTime))
	binary.LittleEndian.PutUint32(b[13:17], uint32(int32(offset)))
	binary.LittleEndian.PutUint64(b[17:25], math.Float64bits(v))
	return b
}

// DecodeSampleInit unpacks a TagSampleInit/TagSampleInitFill payload.
func DecodeSampleInit(b []byte) (metricID uint32, t SampleType, pageFirstTime int64, offset int, v float64) {
	metricID = binary.LittleEndian.Uint32(b[0:4])
	t = SampleType(b[4])
	pageFirstTime = int64(binary.LittleEndian.Uint64(b[5:13]))
	offset = int(int32(binary.LittleEndian.Uint32(b[13:17])))
	v = math.Float64frombits(binary.LittleEndian.Uint64(b[17:25]))
	return
}

func encodeSampleUpdate(offset int, v float64) []byte {
	b := make([]byte, 12)
	binary.LittleEndian.PutUint32(b[0:4], uint32(int32(offset)))
	binary.LittleEndian.PutUint64(b[4:12], math.Float64bits(v))
	return b
}

// DecodeSampleUpdate unpacks a TagSampleUpdate/TagSampleUpdateLast payload.
func DecodeSampleUpdate(b []byte) (offset int, v float64) {
	offset = int(int32(binary.LittleEndian.Uint32(b[0:4])))
	v = math.Float64frombits(binary.LittleEndian.Uint64(b[4:12]))
	return
}
