// ABOUTME: Text dump/load per spec.md §6: "Tismet Dump Version 2017.1" header, one sample per line
// ABOUTME: write_dump/load_dump are the only CLI-facing engine operations; everything else is policy in cmd/tismet

package engine

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/nainya/tismet/pkg/metricstore"
)

const dumpHeader = "Tismet Dump Version 2017.1"

// sampleDumper implements metricstore.SampleNotifier, writing each
// sample straight out in dump form as EnumSamples walks the series.
type sampleDumper struct {
	w    *bufio.Writer
	name string
	err  error
}

func (d *sampleDumper) OnSeriesStart(id uint32, name string, t metricstore.SampleType, first, last time.Time, interval time.Duration) {
	d.name = name
}

func (d *sampleDumper) OnSample(id uint32, t time.Time, v float64) bool {
	if d.err != nil {
		return false
	}
	_, d.err = fmt.Fprintf(d.w, "%s %v %d\n", d.name, v, t.Unix())
	return d.err == nil
}

func (d *sampleDumper) OnSeriesEnd() {}

// WriteDump implements spec.md §4.9/§6's write_dump: every sample of
// every currently-indexed metric, oldest-recorded to now, in the
// "<name> <value> <epoch-seconds>" text form.
func (eng *Engine) WriteDump(w io.Writer) error {
	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintln(bw, dumpHeader); err != nil {
		return fmt.Errorf("engine: write dump header: %w", err)
	}

	now := time.Now()
	for _, id := range eng.names.All() {
		d, err := eng.store.Info(id)
		if err != nil {
			continue // erased between All() and Info(): skip, not an error
		}
		notify := &sampleDumper{w: bw, name: d.Name}
		first := time.Unix(0, 0)
		if d.LastPos >= 0 {
			// Every page still indexed starts no earlier than one page span
			// before the retention window that ends at the newest page.
			pageSpan := time.Duration(metricstore.SamplesPerPage(eng.cfg.PageSize, d.Type)) * d.Interval
			first = time.Unix(d.LastPageFirstTime, 0).Add(-d.Retention - pageSpan)
			if first.Unix() < 0 {
				first = time.Unix(0, 0)
			}
		}
		if err := eng.store.EnumSamples(id, first, now, d.Name, notify); err != nil {
			return fmt.Errorf("engine: dump metric %q: %w", d.Name, err)
		}
		if notify.err != nil {
			return fmt.Errorf("engine: dump metric %q: %w", d.Name, notify.err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("engine: flush dump: %w", err)
	}
	return nil
}

// LoadDump implements spec.md §4.9/§6's load_dump: replays
// "<name> <value> <epoch-seconds>" lines from an existing dump,
// skipping the version header and blank lines. A `-1` timestamp means
// "now", per §6. Metrics not already present (via insert_metric) are
// rejected rather than silently auto-created, since the dump format
// carries no sample-type/interval/retention to create one with.
func (eng *Engine) LoadDump(r io.Reader) error {
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if lineNo == 1 && strings.HasPrefix(line, "Tismet Dump Version") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			return fmt.Errorf("engine: load dump: line %d: want 3 fields, got %d", lineNo, len(fields))
		}
		name := fields[0]
		v, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return fmt.Errorf("engine: load dump: line %d: bad value: %w", lineNo, err)
		}
		epoch, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			return fmt.Errorf("engine: load dump: line %d: bad timestamp: %w", lineNo, err)
		}
		t := time.Unix(epoch, 0)
		if epoch == -1 {
			t = time.Now()
		}

		id, ok := eng.FindMetric(name)
		if !ok {
			return fmt.Errorf("engine: load dump: line %d: metric %q not found", lineNo, name)
		}
		if _, err := eng.WriteSample(id, t, v); err != nil {
			return fmt.Errorf("engine: load dump: line %d: %w", lineNo, err)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("engine: load dump: %w", err)
	}
	return nil
}
