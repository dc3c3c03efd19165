// ABOUTME: Prometheus collectors for the storage engine's perf counters
// ABOUTME: Registered once per engine instance via promauto

package tsmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector the engine reports, per
// SPEC_FULL.md §B's wiring list.
type Metrics struct {
	SamplesDroppedTotal *prometheus.CounterVec // reason="stale|duplicate"
	SamplesChangedTotal prometheus.Counter
	SamplesWrittenTotal prometheus.Counter

	CheckpointsTotal    prometheus.Counter
	CheckpointDuration  prometheus.Histogram
	WALBytesTotal       prometheus.Counter

	PageCacheEvictionsTotal prometheus.Counter
	DurableLSN              prometheus.Gauge
	DirtyPages              prometheus.Gauge

	MetricsIndexed prometheus.Gauge
}

// New creates and registers every collector against reg. Passing a
// dedicated registry (rather than the global default) lets tests and
// multiple engine instances in one process avoid duplicate-registration
// panics, the same role a fresh prometheus.Registry plays in the
// teacher's own test setup.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{}

	m.SamplesDroppedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tismet_samples_dropped_total",
			Help: "Total number of sample writes dropped without error.",
		},
		[]string{"reason"},
	)

	m.SamplesChangedTotal = factory.NewCounter(prometheus.CounterOpts{
		Name: "tismet_samples_changed_total",
		Help: "Total number of sample writes that changed an existing value.",
	})

	m.SamplesWrittenTotal = factory.NewCounter(prometheus.CounterOpts{
		Name: "tismet_samples_written_total",
		Help: "Total number of sample writes that populated a previously empty slot.",
	})

	m.CheckpointsTotal = factory.NewCounter(prometheus.CounterOpts{
		Name: "tismet_checkpoints_total",
		Help: "Total number of checkpoints completed.",
	})

	m.CheckpointDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Name:    "tismet_checkpoint_duration_seconds",
		Help:    "Duration of checkpoint flush-and-commit.",
		Buckets: prometheus.DefBuckets,
	})

	m.WALBytesTotal = factory.NewCounter(prometheus.CounterOpts{
		Name: "tismet_wal_bytes_total",
		Help: "Total bytes appended to the write-ahead log.",
	})

	m.PageCacheEvictionsTotal = factory.NewCounter(prometheus.CounterOpts{
		Name: "tismet_page_cache_evictions_total",
		Help: "Total number of pages evicted from the page cache.",
	})

	m.DurableLSN = factory.NewGauge(prometheus.GaugeOpts{
		Name: "tismet_durable_lsn",
		Help: "Highest WAL LSN known to be durable.",
	})

	m.DirtyPages = factory.NewGauge(prometheus.GaugeOpts{
		Name: "tismet_dirty_pages",
		Help: "Number of pages in the cache with unflushed edits.",
	})

	m.MetricsIndexed = factory.NewGauge(prometheus.GaugeOpts{
		Name: "tismet_metrics_indexed",
		Help: "Number of metrics currently present in the name index.",
	})

	return m
}

// RecordDrop increments the dropped-sample counter for the given reason
// ("stale" or "duplicate").
func (m *Metrics) RecordDrop(reason string) {
	m.SamplesDroppedTotal.WithLabelValues(reason).Inc()
}
