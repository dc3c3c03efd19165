package engine

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/nainya/tismet/internal/tslog"
	"github.com/nainya/tismet/pkg/metricstore"
)

func testConfig(dir string) Config {
	return DefaultConfig(filepath.Join(dir, "data.tsm"), filepath.Join(dir, "wal.log"))
}

func openTest(t *testing.T, dir string) *Engine {
	t.Helper()
	eng, err := Open(testConfig(dir), prometheus.NewRegistry(), tslog.New(tslog.Config{Level: "error"}))
	require.NoError(t, err)
	return eng
}

func TestInsertAndReadBackSample(t *testing.T) {
	dir := t.TempDir()
	eng := openTest(t, dir)
	defer eng.Close()

	id, err := eng.InsertMetric("cpu.host1.user", metricstore.TypeF64, time.Second, time.Hour)
	require.NoError(t, err)

	ts := time.Unix(1_700_000_000, 0)
	outcome, err := eng.WriteSample(id, ts, 42.5)
	require.NoError(t, err)
	require.Equal(t, metricstore.OutcomeWritten, outcome)

	var got []float64
	err = eng.EnumSamples(id, ts.Add(-time.Second), ts.Add(time.Second), "cpu.host1.user", &collectNotifier{vals: &got})
	require.NoError(t, err)
	require.Equal(t, []float64{42.5}, got)
}

func TestDuplicateAndStaleWritesAreNotErrors(t *testing.T) {
	dir := t.TempDir()
	eng := openTest(t, dir)
	defer eng.Close()

	id, err := eng.InsertMetric("cpu.dup", metricstore.TypeF64, time.Second, time.Hour)
	require.NoError(t, err)

	ts := time.Unix(1_700_000_000, 0)
	_, err = eng.WriteSample(id, ts, 1)
	require.NoError(t, err)

	outcome, err := eng.WriteSample(id, ts, 1)
	require.NoError(t, err)
	require.Equal(t, metricstore.OutcomeDuplicate, outcome)

	outcome, err = eng.WriteSample(id, ts.Add(-2*time.Hour), 9)
	require.NoError(t, err)
	require.Equal(t, metricstore.OutcomeStale, outcome)
}

func TestFindMetricsWildcard(t *testing.T) {
	dir := t.TempDir()
	eng := openTest(t, dir)
	defer eng.Close()

	_, err := eng.InsertMetric("cpu.host1.user", metricstore.TypeF64, time.Second, time.Hour)
	require.NoError(t, err)
	_, err = eng.InsertMetric("cpu.host2.user", metricstore.TypeF64, time.Second, time.Hour)
	require.NoError(t, err)
	_, err = eng.InsertMetric("mem.host1.used", metricstore.TypeF64, time.Second, time.Hour)
	require.NoError(t, err)

	ids, err := eng.FindMetrics("cpu.*.user")
	require.NoError(t, err)
	require.Len(t, ids, 2)
}

func TestCheckpointThenReopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	eng := openTest(t, dir)

	id, err := eng.InsertMetric("cpu.host1.user", metricstore.TypeF64, time.Second, time.Hour)
	require.NoError(t, err)
	ts := time.Unix(1_700_000_000, 0)
	_, err = eng.WriteSample(id, ts, 7)
	require.NoError(t, err)

	require.NoError(t, eng.Checkpoint())
	require.NoError(t, eng.Close())

	eng2 := openTest(t, dir)
	defer eng2.Close()

	gotID, ok := eng2.FindMetric("cpu.host1.user")
	require.True(t, ok)
	require.Equal(t, id, gotID)

	var got []float64
	err = eng2.EnumSamples(gotID, ts.Add(-time.Second), ts.Add(time.Second), "cpu.host1.user", &collectNotifier{vals: &got})
	require.NoError(t, err)
	require.Equal(t, []float64{7}, got)
}

func TestCrashReplayWithoutCheckpoint(t *testing.T) {
	dir := t.TempDir()
	eng := openTest(t, dir)

	id, err := eng.InsertMetric("cpu.host1.user", metricstore.TypeF64, time.Second, time.Hour)
	require.NoError(t, err)
	ts := time.Unix(1_700_000_000, 0)
	_, err = eng.WriteSample(id, ts, 99)
	require.NoError(t, err)

	// Close flushes dirty pages but takes no checkpoint, so reopening
	// replays the whole WAL through recovery.
	require.NoError(t, eng.Close())

	eng2 := openTest(t, dir)
	defer eng2.Close()
	require.True(t, eng2.QueryStats().Recovered)

	gotID, ok := eng2.FindMetric("cpu.host1.user")
	require.True(t, ok)

	var got []float64
	err = eng2.EnumSamples(gotID, ts.Add(-time.Second), ts.Add(time.Second), "cpu.host1.user", &collectNotifier{vals: &got})
	require.NoError(t, err)
	require.Equal(t, []float64{99}, got)
}

func TestWriteDumpAndLoadDumpRoundTrip(t *testing.T) {
	dir := t.TempDir()
	eng := openTest(t, dir)
	defer eng.Close()

	id, err := eng.InsertMetric("cpu.host1.user", metricstore.TypeF64, time.Second, time.Hour)
	require.NoError(t, err)
	ts := time.Unix(1_700_000_000, 0)
	_, err = eng.WriteSample(id, ts, 3.5)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, eng.WriteDump(&buf))
	require.Contains(t, buf.String(), "Tismet Dump Version 2017.1")
	require.Contains(t, buf.String(), "cpu.host1.user 3.5")

	id2, err := eng.InsertMetric("cpu.host2.user", metricstore.TypeF64, time.Second, time.Hour)
	require.NoError(t, err)
	_ = id2

	dump := "Tismet Dump Version 2017.1\ncpu.host2.user 11 1700000000\n"
	require.NoError(t, eng.LoadDump(bytes.NewBufferString(dump)))

	var got []float64
	err = eng.EnumSamples(id2, ts.Add(-time.Second), ts.Add(time.Second), "cpu.host2.user", &collectNotifier{vals: &got})
	require.NoError(t, err)
	require.Equal(t, []float64{11}, got)
}

type collectNotifier struct {
	vals *[]float64
}

func (c *collectNotifier) OnSeriesStart(id uint32, name string, t metricstore.SampleType, first, last time.Time, interval time.Duration) {
}
func (c *collectNotifier) OnSample(id uint32, t time.Time, v float64) bool {
	*c.vals = append(*c.vals, v)
	return true
}
func (c *collectNotifier) OnSeriesEnd() {}
