// ABOUTME: Process-memory name index rebuilt at open by scanning descriptor pages
// ABOUTME: Maintains name<->id maps plus segment-count and per-position-literal id sets

package nameindex

import (
	"strings"
	"sync"
)

type idSet map[uint32]struct{}

func (s idSet) clone() idSet {
	out := make(idSet, len(s))
	for id := range s {
		out[id] = struct{}{}
	}
	return out
}

func union(sets ...idSet) idSet {
	out := make(idSet)
	for _, s := range sets {
		for id := range s {
			out[id] = struct{}{}
		}
	}
	return out
}

func intersect(a, b idSet) idSet {
	out := make(idSet)
	small, big := a, b
	if len(b) < len(a) {
		small, big = b, a
	}
	for id := range small {
		if _, ok := big[id]; ok {
			out[id] = struct{}{}
		}
	}
	return out
}

// Index is the in-memory name index described in spec.md §4.7: a
// name<->id bijection plus the segment-count and position-literal
// candidate sets that let findMetrics narrow a glob to a small id set
// before reading any descriptor.
type Index struct {
	mu sync.RWMutex

	byName map[string]uint32
	byID   map[uint32]string

	bySegCount map[int]idSet

	// byPosLiteral[position][literal] = ids whose name's segment at
	// position equals literal exactly.
	byPosLiteral map[int]map[string]idSet
}

func New() *Index {
	return &Index{
		byName:       make(map[string]uint32),
		byID:         make(map[uint32]string),
		bySegCount:   make(map[int]idSet),
		byPosLiteral: make(map[int]map[string]idSet),
	}
}

func segments(name string) []string {
	return strings.Split(name, ".")
}

// Insert adds (id, name) to every index structure. Called at
// insert_metric and while rebuilding from descriptor pages at open.
func (idx *Index) Insert(id uint32, name string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.insertLocked(id, name)
}

func (idx *Index) insertLocked(id uint32, name string) {
	idx.byName[name] = id
	idx.byID[id] = name

	segs := segments(name)
	n := len(segs)
	if idx.bySegCount[n] == nil {
		idx.bySegCount[n] = make(idSet)
	}
	idx.bySegCount[n][id] = struct{}{}

	for pos, lit := range segs {
		if idx.byPosLiteral[pos] == nil {
			idx.byPosLiteral[pos] = make(map[string]idSet)
		}
		if idx.byPosLiteral[pos][lit] == nil {
			idx.byPosLiteral[pos][lit] = make(idSet)
		}
		idx.byPosLiteral[pos][lit][id] = struct{}{}
	}
}

// Remove deletes id from every index structure, used by erase_metric.
func (idx *Index) Remove(id uint32) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	name, ok := idx.byID[id]
	if !ok {
		return
	}
	delete(idx.byName, name)
	delete(idx.byID, id)

	segs := segments(name)
	n := len(segs)
	delete(idx.bySegCount[n], id)
	if len(idx.bySegCount[n]) == 0 {
		delete(idx.bySegCount, n)
	}
	for pos, lit := range segs {
		m := idx.byPosLiteral[pos]
		if m == nil {
			continue
		}
		delete(m[lit], id)
		if len(m[lit]) == 0 {
			delete(m, lit)
		}
	}
}

// Find is the direct hash lookup, spec.md §4.7's `find(name)`.
func (idx *Index) Find(name string) (uint32, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	id, ok := idx.byName[name]
	return id, ok
}

// Name returns the name for id, the `id→name` side of the bijection.
func (idx *Index) Name(id uint32) (string, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	n, ok := idx.byID[id]
	return n, ok
}

// FindMetrics implements spec.md §4.7's findMetrics algorithm.
func (idx *Index) FindMetrics(pattern string) ([]uint32, error) {
	p, err := Parse(pattern)
	if err != nil {
		return nil, err
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	fixed := p.fixedSegments()
	minSegs := len(fixed)

	var candidates idSet
	if p.trailingDynamic {
		var sets []idSet
		for n, set := range idx.bySegCount {
			if n >= minSegs {
				sets = append(sets, set)
			}
		}
		candidates = union(sets...)
	} else {
		candidates = idx.bySegCount[minSegs].clone()
	}

	for pos, seg := range fixed {
		if len(candidates) == 0 {
			break
		}
		switch seg.kind {
		case segExact:
			lits := idx.byPosLiteral[pos]
			candidates = intersect(candidates, lits[seg.literal])
		case segCondition:
			lits := idx.byPosLiteral[pos]
			var matchSets []idSet
			for lit, set := range lits {
				if seg.matches(lit) {
					matchSets = append(matchSets, set)
				}
			}
			candidates = intersect(candidates, union(matchSets...))
		case segAny:
			// No positional constraint; existence is already guaranteed
			// by the segment-count filter above.
		}
	}

	// Final per-segment confirmation pass (spec.md §4.7 step 4), a
	// safety net for any imprecision in the enumeration above and the
	// only check dynamic-any patterns get beyond the segment count.
	out := make([]uint32, 0, len(candidates))
	for id := range candidates {
		name := idx.byID[id]
		if p.matchName(segments(name)) {
			out = append(out, id)
		}
	}
	return out, nil
}

// FindBranches implements spec.md §4.7's findBranches: ids whose name
// is a strict dot-prefix of at least one name matching pattern.
func (idx *Index) FindBranches(pattern string) ([]uint32, error) {
	matched, err := idx.FindMetrics(pattern)
	if err != nil {
		return nil, err
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	matchedNames := make([]string, 0, len(matched))
	for _, id := range matched {
		matchedNames = append(matchedNames, idx.byID[id])
	}

	var out []uint32
	for id, name := range idx.byID {
		for _, mn := range matchedNames {
			if isStrictDotPrefix(name, mn) {
				out = append(out, id)
				break
			}
		}
	}
	return out, nil
}

func isStrictDotPrefix(prefix, full string) bool {
	if len(prefix) >= len(full) {
		return false
	}
	if !strings.HasPrefix(full, prefix) {
		return false
	}
	return full[len(prefix)] == '.'
}

// Count returns the number of metrics currently indexed.
func (idx *Index) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.byID)
}

// All returns every indexed id, unordered. Used by write_dump to walk
// the whole metric set rather than going through a glob pattern.
func (idx *Index) All() []uint32 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]uint32, 0, len(idx.byID))
	for id := range idx.byID {
		out = append(out, id)
	}
	return out
}
