// ABOUTME: Holds mutable working copies of recently touched pages over a FileView
// ABOUTME: Tracks dirty pages by LSN and evicts clean ones on a background timer

package pagecache

import (
	"errors"
	"sync"
	"time"

	"github.com/nainya/tismet/pkg/page"
	"github.com/nainya/tismet/pkg/pagestore"
)

var ErrCorrupt = errors.New("pagecache: checksum mismatch")

// DefaultScanInterval and DefaultMaxAge match spec.md §4.2's eviction
// policy defaults (scan every minute, evict pages untouched for 30).
const (
	DefaultScanInterval = time.Minute
	DefaultMaxAge       = 30 * time.Minute
)

type entry struct {
	mu      sync.Mutex // held for the duration of an edit, per spec.md §4.2 concurrency
	data    page.Page
	dirty   bool
	touched time.Time
}

// Cache is the mutable layer in front of a pagestore.FileView, grounded
// on the teacher's KV transaction dirty-page set in pkg/storage/
// transaction.go generalized from "one txn's working set" to "the
// engine's whole resident set," since Tismet pages are edited in place
// rather than copy-on-write.
type Cache struct {
	view     *pagestore.FileView
	pageSize int

	mu      sync.RWMutex // guards the entries map itself, per spec's "global rw lock on dirty-set index"
	entries map[uint32]*entry

	stopScan chan struct{}
	scanOnce sync.Once

	ScanInterval time.Duration
	MaxAge       time.Duration

	evictions uint64
	evictMu   sync.Mutex
}

func New(view *pagestore.FileView) *Cache {
	return &Cache{
		view:         view,
		pageSize:     view.PageSize(),
		entries:      make(map[uint32]*entry),
		stopScan:     make(chan struct{}),
		ScanInterval: DefaultScanInterval,
		MaxAge:       DefaultMaxAge,
	}
}

// Get returns an immutable reference to the page's current content: the
// cache copy if resident, the file view otherwise.
func (c *Cache) Get(pgno uint32) (page.Page, error) {
	c.mu.RLock()
	e, ok := c.entries[pgno]
	c.mu.RUnlock()
	if ok {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.data, nil
	}
	v, err := c.view.View(pgno)
	if err != nil {
		return nil, err
	}
	if !v.VerifyChecksum() {
		return nil, ErrCorrupt
	}
	return v, nil
}

// Edit returns a mutable reference to pgno. On first edit since
// eviction the page is copied from the view into cache memory. Edit
// stamps the page with lsn; the caller mutates the returned slice
// directly and calls UpdateChecksum before calling the returned release.
func (c *Cache) Edit(pgno uint32, lsn uint64) (page.Page, func(), error) {
	c.mu.Lock()
	e, ok := c.entries[pgno]
	if !ok {
		e = &entry{}
		c.entries[pgno] = e
	}
	c.mu.Unlock()

	e.mu.Lock()
	if e.data == nil {
		if err := c.view.EnsureMapped(pgno); err != nil {
			e.mu.Unlock()
			return nil, nil, err
		}
		v, err := c.view.View(pgno)
		if err != nil {
			e.mu.Unlock()
			return nil, nil, err
		}
		cp := make(page.Page, c.pageSize)
		copy(cp, v)
		e.data = cp
	}
	e.dirty = true
	e.touched = time.Now()
	e.data.SetLSN(lsn)
	return e.data, e.mu.Unlock, nil
}

// EditForRedo is Edit's counterpart for WAL recovery: it never regresses
// a page to an older record's state. If the page's own lsn is already
// >= lsn, it returns ok=false without copying or mutating anything,
// implementing spec.md §4.3 step 2's "if the page's existing lsn < the
// record's lsn, mutate" exactly — unlike Edit, which always stamps the
// given lsn unconditionally for the forward-write path.
func (c *Cache) EditForRedo(pgno uint32, lsn uint64) (p page.Page, release func(), ok bool, err error) {
	c.mu.Lock()
	e, exists := c.entries[pgno]
	if !exists {
		e = &entry{}
		c.entries[pgno] = e
	}
	c.mu.Unlock()

	e.mu.Lock()
	if e.data == nil {
		if err := c.view.EnsureMapped(pgno); err != nil {
			e.mu.Unlock()
			return nil, nil, false, err
		}
		v, err := c.view.View(pgno)
		if err != nil {
			e.mu.Unlock()
			return nil, nil, false, err
		}
		cp := make(page.Page, c.pageSize)
		copy(cp, v)
		e.data = cp
	}
	if e.data.LSN() >= lsn {
		e.mu.Unlock()
		return nil, nil, false, nil
	}
	e.dirty = true
	e.touched = time.Now()
	e.data.SetLSN(lsn)
	return e.data, e.mu.Unlock, true, nil
}

// Free marks pgno evictable and drops its cache entry; the bitmap
// itself is updated by the caller (pkg/bitmap), this only forgets the
// working copy so a later read goes back to the file view.
func (c *Cache) Free(pgno uint32) {
	c.mu.Lock()
	delete(c.entries, pgno)
	c.mu.Unlock()
}

// Flush writes every dirty page whose lsn is <= uptoLSN back to the
// file view and clears their dirty bit, then fdatasyncs the data file,
// so the written pages are durable when it returns.
func (c *Cache) Flush(uptoLSN uint64) error {
	c.mu.RLock()
	var toFlush []*entry
	var pgnos []uint32
	for pgno, e := range c.entries {
		pgnos = append(pgnos, pgno)
		toFlush = append(toFlush, e)
	}
	c.mu.RUnlock()

	for i, e := range toFlush {
		e.mu.Lock()
		if e.dirty && e.data.LSN() <= uptoLSN {
			if err := c.view.WritePage(pgnos[i], e.data); err != nil {
				e.mu.Unlock()
				return err
			}
			e.dirty = false
			e.touched = time.Now()
		}
		e.mu.Unlock()
	}
	return c.view.Sync()
}

// StartEvictionScanner launches the background age-eviction loop
// described in spec.md §4.2. Call Stop to halt it on engine Close.
func (c *Cache) StartEvictionScanner() {
	go func() {
		t := time.NewTicker(c.ScanInterval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				c.evictStale()
			case <-c.stopScan:
				return
			}
		}
	}()
}

func (c *Cache) Stop() {
	c.scanOnce.Do(func() { close(c.stopScan) })
}

func (c *Cache) evictStale() {
	cutoff := time.Now().Add(-c.MaxAge)
	c.mu.Lock()
	defer c.mu.Unlock()
	var evicted uint64
	for pgno, e := range c.entries {
		if !e.mu.TryLock() {
			continue // currently held by an edit, skip per spec
		}
		if !e.dirty && e.touched.Before(cutoff) {
			delete(c.entries, pgno)
			evicted++
		}
		e.mu.Unlock()
	}
	if evicted > 0 {
		c.evictMu.Lock()
		c.evictions += evicted
		c.evictMu.Unlock()
	}
}

// Evictions reports the cumulative count of pages evicted by the
// background scanner.
func (c *Cache) Evictions() uint64 {
	c.evictMu.Lock()
	defer c.evictMu.Unlock()
	return c.evictions
}

// DirtyCount reports how many pages currently hold unflushed edits.
func (c *Cache) DirtyCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, e := range c.entries {
		if e.dirty {
			n++
		}
	}
	return n
}
