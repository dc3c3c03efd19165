package metricstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nainya/tismet/pkg/page"
	"github.com/nainya/tismet/pkg/radix"
	"github.com/nainya/tismet/pkg/txid"
	"github.com/nainya/tismet/pkg/wal"
)

const testPageSize = 4096

type memHost struct {
	pages  map[uint32]page.Page
	nextID uint32
}

func newMemHost() *memHost {
	h := &memHost{pages: make(map[uint32]page.Page), nextID: 2} // page 1 reserved for metric radix root
	h.pages[1] = page.New(testPageSize)
	return h
}

func (h *memHost) get(pgno uint32) (page.Page, error) { return h.pages[pgno], nil }

func (h *memHost) edit(pgno uint32) (page.Page, func(), error) {
	p, ok := h.pages[pgno]
	if !ok {
		p = page.New(testPageSize)
		h.pages[pgno] = p
	}
	return p, func() {}, nil
}

func (h *memHost) alloc() (uint32, error) {
	id := h.nextID
	h.nextID++
	return id, nil
}

func (h *memHost) free(pgno uint32) { delete(h.pages, pgno) }

type stubNames struct {
	byID map[uint32]string
}

func (s *stubNames) Insert(id uint32, name string) { s.byID[id] = name }
func (s *stubNames) Remove(id uint32)              { delete(s.byID, id) }

func newTestStore() (*Store, *memHost) {
	h := newMemHost()
	s := New()
	s.PageSize = testPageSize
	s.EntriesPerRoot = EntriesPerRoot(testPageSize)
	s.EntriesPerNode = radix.EntriesPerNode(testPageSize)
	s.Get = h.get
	s.Edit = h.edit
	s.Alloc = h.alloc
	s.Free = h.free
	s.Append = func(txn uint64, r wal.Record) (uint64, error) { return 0, nil }
	s.MetricRadixRootPgno = 1
	s.IDs = txid.NewPool(1 << 16)
	s.Names = &stubNames{byID: make(map[uint32]string)}
	if err := s.LoadMetricRadixRoot(); err != nil {
		panic(err)
	}
	return s, h
}

func TestInsertMetricThenWriteAndReadSample(t *testing.T) {
	s, _ := newTestStore()
	id, err := s.InsertMetric(0, "cpu.load", TypeF32, time.Second, 24*time.Hour)
	require.NoError(t, err)

	base := time.Unix(1_700_000_000, 0)
	outcome, err := s.WriteSample(0, id, base, 42.0)
	require.NoError(t, err)
	require.Equal(t, OutcomeWritten, outcome)

	var samples []float64
	notify := &captureNotifier{onSample: func(id uint32, t time.Time, v float64) bool {
		samples = append(samples, v)
		return true
	}}
	require.NoError(t, s.EnumSamples(id, base.Add(-time.Second), base.Add(time.Second), "cpu.load", notify))
	require.Equal(t, []float64{42.0}, samples)
}

func TestWriteSampleDuplicateIsNotAnError(t *testing.T) {
	s, _ := newTestStore()
	id, err := s.InsertMetric(0, "cpu.load", TypeF32, time.Second, 24*time.Hour)
	require.NoError(t, err)

	base := time.Unix(1_700_000_000, 0)
	_, err = s.WriteSample(0, id, base, 10.0)
	require.NoError(t, err)

	outcome, err := s.WriteSample(0, id, base, 10.0)
	require.NoError(t, err)
	require.Equal(t, OutcomeDuplicate, outcome)
	require.Equal(t, uint64(1), s.Counters.Dup)
}

func TestWriteSampleStaleBeforeRetentionIsDropped(t *testing.T) {
	s, _ := newTestStore()
	id, err := s.InsertMetric(0, "cpu.load", TypeF32, time.Second, time.Hour)
	require.NoError(t, err)

	base := time.Unix(1_700_010_000, 0)
	_, err = s.WriteSample(0, id, base, 1.0)
	require.NoError(t, err)

	stale := base.Add(-2 * time.Hour)
	outcome, err := s.WriteSample(0, id, stale, 2.0)
	require.NoError(t, err)
	require.Equal(t, OutcomeStale, outcome)
}

func TestEraseMetricFreesIDAndDescriptor(t *testing.T) {
	s, h := newTestStore()
	id, err := s.InsertMetric(0, "cpu.load", TypeF32, time.Second, 24*time.Hour)
	require.NoError(t, err)

	descPgno := s.descPgno[id]
	require.Contains(t, h.pages, descPgno)

	require.NoError(t, s.EraseMetric(0, id))
	require.NotContains(t, h.pages, descPgno)
	require.False(t, s.IDs.InUse(id))

	id2, err := s.InsertMetric(0, "cpu.load2", TypeF32, time.Second, 24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, id, id2) // lowest-id-first reuse
}

type captureNotifier struct {
	onSample func(id uint32, t time.Time, v float64) bool
}

func (c *captureNotifier) OnSeriesStart(id uint32, name string, t SampleType, first, last time.Time, interval time.Duration) {
}
func (c *captureNotifier) OnSample(id uint32, t time.Time, v float64) bool { return c.onSample(id, t, v) }
func (c *captureNotifier) OnSeriesEnd()                                   {}
