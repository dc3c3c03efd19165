// ABOUTME: Engine ties the page store, cache, WAL, bitmap, radix, and metric store into one facade
// ABOUTME: Open performs fresh-file init or WAL recovery; every public write op runs under one txn at a time

package engine

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nainya/tismet/internal/tslog"
	"github.com/nainya/tismet/internal/tsmetrics"
	"github.com/nainya/tismet/pkg/bitmap"
	"github.com/nainya/tismet/pkg/metricstore"
	"github.com/nainya/tismet/pkg/nameindex"
	"github.com/nainya/tismet/pkg/page"
	"github.com/nainya/tismet/pkg/pagecache"
	"github.com/nainya/tismet/pkg/pagestore"
	"github.com/nainya/tismet/pkg/radix"
	"github.com/nainya/tismet/pkg/txid"
	"github.com/nainya/tismet/pkg/wal"
)

// Fixed low page numbers, allocated once at fresh-file creation and
// never reused, per spec.md §6: page 0 is the master page, page 1 the
// standalone metric-info radix root, page 2 the free-page bitmap root.
const (
	masterPgno     = 0
	metricRootPgno = 1
	bitmapRootPgno = 2
)

// Engine is the storage engine facade: every exported method maps
// directly to one of spec.md §4.5/§4.7/§4.8's named operations. Grounded
// on the teacher's KV struct in pkg/storage/kv.go, which plays the same
// role (own the file, the in-memory indexes, and the durability
// pipeline behind one lock), generalized from a B-tree KV store to a
// time-series metric store.
type Engine struct {
	cfg Config
	id  uuid.UUID

	view  *pagestore.FileView
	cache *pagecache.Cache
	wal   *wal.WAL
	ckpt  *wal.Checkpointer

	bm    *bitmap.Bitmap
	store *metricstore.Store
	names *nameindex.Index

	metrics *tsmetrics.Metrics
	log     *tslog.Logger

	writeMu sync.Mutex
	curTxn  uint64

	recovery     wal.Stats
	recovered    bool
	errState     bool
	walBytesSeen uint64
	closed       bool
}

// Open creates a fresh engine at cfg's paths, or opens an existing one
// and replays its WAL, per spec.md §4.1/§4.3.
func Open(cfg Config, reg prometheus.Registerer, log *tslog.Logger) (*Engine, error) {
	cfg = cfg.withDefaults()
	if log == nil {
		log = tslog.Global()
	}
	eng := &Engine{
		cfg:     cfg,
		id:      uuid.New(),
		log:     log.Component("engine"),
		metrics: tsmetrics.New(reg),
		names:   nameindex.New(),
	}

	_, statErr := os.Stat(cfg.DataPath)
	fresh := os.IsNotExist(statErr)

	var view *pagestore.FileView
	var err error
	if fresh {
		view, err = pagestore.Create(cfg.DataPath, cfg.PageSize, cfg.SegmentSize)
	} else {
		view, err = pagestore.Open(cfg.DataPath, cfg.PageSize, cfg.SegmentSize)
	}
	if err != nil {
		return nil, fmt.Errorf("engine: open data file: %w", err)
	}
	if !fresh {
		// The page size is fixed when the file is created; a file written
		// with a different one is refused.
		if mp, verr := view.View(masterPgno); verr == nil {
			if md, ok := page.ReadMaster(mp); ok && int(md.PageSize) != cfg.PageSize {
				view.Close()
				return nil, fmt.Errorf("engine: data file page size %d, configured %d", md.PageSize, cfg.PageSize)
			}
		}
	}
	eng.view = view
	eng.cache = pagecache.New(view)
	eng.cache.ScanInterval = cfg.CacheScanInterval
	eng.cache.MaxAge = cfg.CacheMaxAge

	w, err := wal.OpenN(cfg.WALPath, cfg.PageSize, cfg.PageSize, cfg.WALBufferCount)
	if err != nil {
		view.Close()
		return nil, fmt.Errorf("engine: open wal: %w", err)
	}
	w.SetIdleTimeout(cfg.WALIdleTimeout)
	eng.wal = w

	eng.bm = &bitmap.Bitmap{
		PageSize: cfg.PageSize,
		Get:      eng.getPage,
		Edit:      eng.editPageUnsafe,
		Alloc:    eng.allocBare,
		Append:   eng.wal.Append,
	}

	eng.store = &metricstore.Store{
		PageSize:            cfg.PageSize,
		EntriesPerRoot:      metricstore.EntriesPerRoot(cfg.PageSize),
		EntriesPerNode:      radix.EntriesPerNode(cfg.PageSize),
		Get:                 eng.cache.Get,
		Edit:                eng.editPage,
		Alloc:               eng.alloc,
		Free:                eng.free,
		Append:              eng.wal.Append,
		MetricRadixRootPgno: metricRootPgno,
		IDs:                 txid.NewPool(cfg.MaxMetrics),
		Names:               eng.names,
	}

	if fresh {
		if err := eng.bootstrap(); err != nil {
			eng.view.Close()
			eng.wal.Close()
			return nil, err
		}
	} else {
		stats, err := wal.Recover(cfg.WALPath, cfg.PageSize, eng.applyRecord, false)
		if err != nil {
			eng.view.Close()
			eng.wal.Close()
			return nil, fmt.Errorf("engine: recovery: %w", err)
		}
		eng.recovery = stats
		eng.recovered = true
		if err := eng.cache.Flush(eng.wal.DurableLSN()); err != nil {
			eng.view.Close()
			eng.wal.Close()
			return nil, fmt.Errorf("engine: post-recovery flush: %w", err)
		}
		if err := eng.store.LoadMetricRadixRoot(); err != nil {
			eng.view.Close()
			eng.wal.Close()
			return nil, fmt.Errorf("engine: reload metric radix root: %w", err)
		}
		if err := eng.rebuildNameIndex(); err != nil {
			eng.view.Close()
			eng.wal.Close()
			return nil, fmt.Errorf("engine: rebuild name index: %w", err)
		}
	}

	eng.ckpt = wal.NewCheckpointer(eng.wal, eng.checkpointFlush)
	eng.ckpt.SetInterval(cfg.CheckpointInterval)
	eng.ckpt.Start()
	eng.cache.StartEvictionScanner()

	eng.metrics.MetricsIndexed.Set(float64(eng.names.Count()))
	eng.log.LogEngineOpen(cfg.DataPath, eng.id.String())
	return eng, nil
}

// bootstrap writes the master page, the empty metric-info radix root,
// and the first bitmap page directly (outside the WAL, the same
// non-logged bootstrap the teacher's KV.Create gives its own root page)
// since nothing can replay against a log that doesn't exist yet.
func (eng *Engine) bootstrap() error {
	if err := eng.view.EnsureMapped(bitmapRootPgno); err != nil {
		return err
	}

	mp, release, err := eng.cache.Edit(masterPgno, 0)
	if err != nil {
		return err
	}
	page.WriteMaster(mp, page.MasterData{
		PageSize:        uint32(eng.cfg.PageSize),
		SegmentSize:     uint32(eng.cfg.SegmentSize),
		MetricRadixRoot: metricRootPgno,
		BitmapRoot:      bitmapRootPgno,
	})
	release()

	rp, release, err := eng.cache.Edit(metricRootPgno, 0)
	if err != nil {
		return err
	}
	radix.StoreRootPage(rp, metricRootPgno, radix.EncodeRoot(radix.EntriesPerRootPage(eng.cfg.PageSize)))
	release()

	bp, release, err := eng.cache.Edit(bitmapRootPgno, 0)
	if err != nil {
		return err
	}
	bp.SetHeader(page.Header{Type: page.TypeBitmap, PageNo: bitmapRootPgno})
	release()

	if err := eng.cache.Flush(0); err != nil {
		return err
	}
	return eng.store.LoadMetricRadixRoot()
}

// rebuildNameIndex walks every live descriptor page reachable from the
// metric-info radix root and re-inserts it into the in-memory name
// index, since the index itself is never persisted (spec.md §4.7).
func (eng *Engine) rebuildNameIndex() error {
	tree := &radix.Tree{
		PageSize:       eng.cfg.PageSize,
		EntriesPerNode: radix.EntriesPerNode(eng.cfg.PageSize),
		Get:            eng.cache.Get,
	}
	root := eng.store.MetricRadixRoot()
	maxID := capacityOf(root, tree.EntriesPerNode)
	for pos := uint64(0); pos < maxID; pos++ {
		pgno, ok, err := tree.Find(&root, pos)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		p, err := eng.cache.Get(pgno)
		if err != nil {
			return err
		}
		d := metricstore.ReadDescriptor(p, eng.store.EntriesPerRoot)
		eng.store.Adopt(pgno, d)
		eng.names.Insert(d.ID, d.Name)
	}
	return nil
}

func capacityOf(root radix.Root, entriesPerNode int) uint64 {
	cap64 := uint64(len(root.Slots))
	for i := uint32(0); i < root.Height; i++ {
		cap64 *= uint64(entriesPerNode)
	}
	return cap64
}

// Close stops the background checkpointer and eviction scanner, flushes
// every dirty page, and closes the WAL and data file.
func (eng *Engine) Close() error {
	eng.writeMu.Lock()
	defer eng.writeMu.Unlock()
	if eng.closed {
		return nil
	}
	eng.cache.Stop()
	eng.ckpt.Stop()
	if err := eng.cache.Flush(eng.wal.DurableLSN()); err != nil {
		return err
	}
	if err := eng.wal.Close(); err != nil {
		return err
	}
	if err := eng.view.Close(); err != nil {
		return err
	}
	eng.closed = true
	eng.log.LogEngineClose()
	return nil
}

// Checkpoint forces an immediate checkpoint, honoring BlockCheckpoint.
func (eng *Engine) Checkpoint() error {
	start := time.Now()
	err := eng.ckpt.Checkpoint()
	eng.metrics.CheckpointDuration.Observe(time.Since(start).Seconds())
	if err == nil {
		eng.metrics.CheckpointsTotal.Inc()
		eng.metrics.DurableLSN.Set(float64(eng.wal.DurableLSN()))
	}
	return err
}

// BlockCheckpoint implements spec.md §5's block_checkpoint(bool).
func (eng *Engine) BlockCheckpoint(block bool) {
	eng.wal.BlockCheckpoint(block)
}

func (eng *Engine) checkpointFlush(uptoLSN uint64) error {
	err := eng.cache.Flush(uptoLSN)
	eng.metrics.DirtyPages.Set(float64(eng.cache.DirtyCount()))
	eng.metrics.PageCacheEvictionsTotal.Add(0) // touch collector so it's scraped even if never incremented yet
	return err
}

// --- page-cache/bitmap/allocator glue consumed by Store/Tree/Bitmap ---

func (eng *Engine) getPage(pgno uint32) page.Page {
	p, err := eng.cache.Get(pgno)
	if err != nil {
		eng.log.Error("bitmap page read failed").Uint32("pgno", pgno).Err(err).Send()
		return page.New(eng.cfg.PageSize)
	}
	return p
}

// editPageUnsafe backs bitmap.Bitmap.Edit, which (unlike
// metricstore.Store/radix.Tree) has no release-callback in its
// signature; the bitmap always finishes mutating and calling
// UpdateChecksum before the cache lock would otherwise be contended
// again, so releasing immediately after Edit returns is safe here.
func (eng *Engine) editPageUnsafe(pgno uint32) page.Page {
	p, release, err := eng.cache.Edit(pgno, eng.curTxnLSN())
	if err != nil {
		eng.log.Error("bitmap page edit failed").Uint32("pgno", pgno).Err(err).Send()
		return page.New(eng.cfg.PageSize)
	}
	release()
	return p
}

func (eng *Engine) editPage(pgno uint32) (page.Page, func(), error) {
	return eng.cache.Edit(pgno, eng.curTxnLSN())
}

// curTxnLSN previews the LSN the next record on the current txn will
// receive, so in-place edits stamp a page with the LSN its own WAL
// record will carry — matching spec.md §4.2's "pages carry the LSN of
// the last record applied to them."
func (eng *Engine) curTxnLSN() uint64 {
	return eng.wal.NextLSN()
}

func (eng *Engine) allocBare() uint32 {
	pgno, err := eng.alloc()
	if err != nil {
		eng.log.Error("bitmap alloc failed").Err(err).Send()
		return 0
	}
	return pgno
}

func (eng *Engine) alloc() (uint32, error) {
	if pgno, ok := eng.bm.AllocLowest(eng.curTxn, bitmapRootPgno, eng.view.NumPages()); ok {
		return pgno, nil
	}
	pgno := eng.view.NumPages()
	if err := eng.view.EnsureMapped(pgno); err != nil {
		return 0, err
	}
	eng.bm.MarkUsed(eng.curTxn, bitmapRootPgno, pgno)
	return pgno, nil
}

func (eng *Engine) free(pgno uint32) {
	eng.cache.Free(pgno)
	eng.bm.MarkFree(eng.curTxn, bitmapRootPgno, pgno)
}

// withTxn serializes one logical write operation: begins a txn, runs
// fn with it active, commits, and optionally waits for durability. This
// is the engine's single-writer discipline — spec.md never describes
// concurrent writers sharing one metric store, and it keeps Alloc/Free/
// Append closures free of an explicit txn parameter.
func (eng *Engine) withTxn(fn func(txn uint64) error) error {
	eng.writeMu.Lock()
	defer eng.writeMu.Unlock()

	if eng.closed {
		return ErrClosed
	}

	txn, err := eng.wal.BeginTxn()
	if err != nil {
		return fmt.Errorf("engine: begin txn: %w", err)
	}
	eng.curTxn = txn

	if err := fn(txn); err != nil {
		return err
	}

	lsn, err := eng.wal.Commit(txn)
	if err != nil {
		return fmt.Errorf("engine: commit txn: %w", err)
	}
	return eng.wal.WaitDurable(lsn)
}
