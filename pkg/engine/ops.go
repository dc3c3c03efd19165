// ABOUTME: Engine facade operations: the insert/erase/update/find/get/write/enum surface spec.md §4.9 names
// ABOUTME: Each write op runs under withTxn; reads go straight to the store/name index, no txn needed

package engine

import (
	"fmt"
	"time"

	"github.com/nainya/tismet/pkg/metricstore"
)

// InsertMetric implements spec.md §4.9's insert_metric.
func (eng *Engine) InsertMetric(name string, t metricstore.SampleType, interval, retention time.Duration) (uint32, error) {
	var id uint32
	err := eng.withTxn(func(txn uint64) error {
		var err error
		id, err = eng.store.InsertMetric(txn, name, t, interval, retention)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("engine: insert metric %q: %w", name, err)
	}
	eng.metrics.MetricsIndexed.Set(float64(eng.names.Count()))
	return id, nil
}

// EraseMetric implements spec.md §4.9's erase_metric.
func (eng *Engine) EraseMetric(id uint32) error {
	err := eng.withTxn(func(txn uint64) error {
		return eng.store.EraseMetric(txn, id)
	})
	if err != nil {
		return fmt.Errorf("engine: erase metric %d: %w", id, err)
	}
	eng.metrics.MetricsIndexed.Set(float64(eng.names.Count()))
	return nil
}

// UpdateMetric implements spec.md §4.9's update_metric.
func (eng *Engine) UpdateMetric(id uint32, t metricstore.SampleType, interval, retention time.Duration) error {
	err := eng.withTxn(func(txn uint64) error {
		return eng.store.UpdateMetric(txn, id, t, interval, retention)
	})
	if err != nil {
		return fmt.Errorf("engine: update metric %d: %w", id, err)
	}
	return nil
}

// FindMetric implements spec.md §4.9's find_metric: the direct
// name->id lookup, no txn needed since the name index is read-locked
// internally.
func (eng *Engine) FindMetric(name string) (uint32, bool) {
	return eng.names.Find(name)
}

// FindMetrics implements spec.md §4.9's find_metrics glob search.
func (eng *Engine) FindMetrics(pattern string) ([]uint32, error) {
	ids, err := eng.names.FindMetrics(pattern)
	if err != nil {
		return nil, fmt.Errorf("engine: find metrics %q: %w", pattern, err)
	}
	return ids, nil
}

// FindBranches implements spec.md §4.9's find_branches.
func (eng *Engine) FindBranches(pattern string) ([]uint32, error) {
	ids, err := eng.names.FindBranches(pattern)
	if err != nil {
		return nil, fmt.Errorf("engine: find branches %q: %w", pattern, err)
	}
	return ids, nil
}

// GetMetricName implements spec.md §4.9's get_metric_name.
func (eng *Engine) GetMetricName(id uint32) (string, bool) {
	return eng.names.Name(id)
}

// GetMetricInfo implements spec.md §4.9's get_metric_info.
func (eng *Engine) GetMetricInfo(id uint32) (metricstore.Descriptor, error) {
	d, err := eng.store.Info(id)
	if err != nil {
		return metricstore.Descriptor{}, fmt.Errorf("engine: get metric info %d: %w", id, err)
	}
	return d, nil
}

// WriteSample implements spec.md §4.9's update_sample.
func (eng *Engine) WriteSample(id uint32, t time.Time, v float64) (metricstore.WriteOutcome, error) {
	var outcome metricstore.WriteOutcome
	err := eng.withTxn(func(txn uint64) error {
		var err error
		outcome, err = eng.store.WriteSample(txn, id, t, v)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("engine: write sample %d: %w", id, err)
	}
	switch outcome {
	case metricstore.OutcomeStale:
		eng.metrics.SamplesDroppedTotal.WithLabelValues("stale").Inc()
	case metricstore.OutcomeDuplicate:
		eng.metrics.SamplesDroppedTotal.WithLabelValues("duplicate").Inc()
	case metricstore.OutcomeChanged:
		eng.metrics.SamplesChangedTotal.Inc()
	case metricstore.OutcomeWritten:
		eng.metrics.SamplesWrittenTotal.Inc()
	}
	return outcome, nil
}

// EnumSamples implements spec.md §4.9's enum_samples. Reads never take
// writeMu: the store's own mutex protects descriptor lookups, and page
// reads go through the cache's own locking, so concurrent readers don't
// serialize behind in-flight writers the way the single-writer txn path
// does.
func (eng *Engine) EnumSamples(id uint32, first, last time.Time, name string, notify metricstore.SampleNotifier) error {
	if err := eng.store.EnumSamples(id, first, last, name, notify); err != nil {
		return fmt.Errorf("engine: enum samples %d: %w", id, err)
	}
	return nil
}
