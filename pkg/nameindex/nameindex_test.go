package nameindex

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func idsOf(t *testing.T, ids []uint32, err error) []uint32 {
	require.NoError(t, err)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func newPopulated() *Index {
	idx := New()
	idx.Insert(1, "app.cpu.load")
	idx.Insert(2, "app.cpu.idle")
	idx.Insert(3, "app.mem.used")
	idx.Insert(4, "db.conn.count")
	idx.Insert(5, "app")
	idx.Insert(6, "app.cpu")
	return idx
}

func TestFindExactName(t *testing.T) {
	idx := newPopulated()
	id, ok := idx.Find("app.cpu.load")
	require.True(t, ok)
	require.Equal(t, uint32(1), id)
}

func TestFindMetricsExactSegment(t *testing.T) {
	idx := newPopulated()
	ids, err := idx.FindMetrics("app.cpu.load")
	got := idsOf(t, ids, err)
	require.Equal(t, []uint32{1}, got)
}

func TestFindMetricsAnySegment(t *testing.T) {
	idx := newPopulated()
	ids, err := idx.FindMetrics("app.cpu.*")
	got := idsOf(t, ids, err)
	require.Equal(t, []uint32{1, 2}, got)
}

func TestFindMetricsAltCondition(t *testing.T) {
	idx := newPopulated()
	ids, err := idx.FindMetrics("app.{cpu,mem}.*")
	got := idsOf(t, ids, err)
	require.Equal(t, []uint32{1, 2, 3}, got)
}

func TestFindMetricsTrailingDynamicAny(t *testing.T) {
	idx := newPopulated()
	ids, err := idx.FindMetrics("app.**")
	got := idsOf(t, ids, err)
	require.Equal(t, []uint32{1, 2, 3, 5, 6}, got) // "**" matches zero or more trailing segments
}

func TestFindBranchesReturnsNamespacePrefixes(t *testing.T) {
	idx := newPopulated()
	ids, err := idx.FindBranches("app.cpu.*")
	got := idsOf(t, ids, err)
	require.Equal(t, []uint32{5, 6}, got)
}

func TestRemoveDropsFromAllStructures(t *testing.T) {
	idx := newPopulated()
	idx.Remove(1)
	_, ok := idx.Find("app.cpu.load")
	require.False(t, ok)
	ids, err := idx.FindMetrics("app.cpu.*")
	got := idsOf(t, ids, err)
	require.Equal(t, []uint32{2}, got)
	require.Equal(t, 5, idx.Count())
}
