// ABOUTME: QueryStats surfaces recovery results, the dup/old/changed perf counters, and the error-state flag
// ABOUTME: Implements spec.md §4.9's query_stats and §7's "error state surfaced through query_stats"

package engine

import "github.com/nainya/tismet/pkg/wal"

// Stats is the snapshot query_stats returns.
type Stats struct {
	InstanceID string

	// Recovered is true if this Open replayed a WAL instead of
	// bootstrapping a fresh data file.
	Recovered bool
	Recovery  wal.Stats

	// ErrState mirrors spec.md §7's fatal-invariant-violation flag: once
	// set, the engine keeps serving but every query_stats call reports
	// it so a host process can decide whether to restart.
	ErrState bool

	MetricsIndexed int
	DirtyPages     int
	DurableLSN     uint64

	Dup     uint64
	Old     uint64
	Changed uint64
}

// QueryStats implements spec.md §4.9's query_stats.
func (eng *Engine) QueryStats() Stats {
	return Stats{
		InstanceID:     eng.id.String(),
		Recovered:      eng.recovered,
		Recovery:       eng.recovery,
		ErrState:       eng.errState,
		MetricsIndexed: eng.names.Count(),
		DirtyPages:     eng.cache.DirtyCount(),
		DurableLSN:     eng.wal.DurableLSN(),
		Dup:            eng.store.Counters.Dup,
		Old:            eng.store.Counters.Old,
		Changed:        eng.store.Counters.Changed,
	}
}
