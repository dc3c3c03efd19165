package radix

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nainya/tismet/pkg/page"
	"github.com/nainya/tismet/pkg/wal"
)

// memStore is a minimal in-memory page host for exercising Tree without
// pagestore/pagecache/wal plumbing.
type memStore struct {
	pages  map[uint32]page.Page
	nextID uint32
}

func newMemStore() *memStore {
	return &memStore{pages: make(map[uint32]page.Page), nextID: 1}
}

func (m *memStore) get(pgno uint32) (page.Page, error) {
	return m.pages[pgno], nil
}

func (m *memStore) edit(pgno uint32) (page.Page, func(), error) {
	p, ok := m.pages[pgno]
	if !ok {
		p = page.New(4096)
		m.pages[pgno] = p
	}
	return p, func() {}, nil
}

func (m *memStore) alloc() (uint32, error) {
	id := m.nextID
	m.nextID++
	return id, nil
}

func (m *memStore) free(pgno uint32) { delete(m.pages, pgno) }

func newTestTree() (*Tree, *memStore) {
	m := newMemStore()
	tr := &Tree{
		PageSize:       4096,
		EntriesPerNode: EntriesPerNode(4096),
		Get:            m.get,
		Edit:           m.edit,
		Alloc:          m.alloc,
		Free:           m.free,
		Append:         func(txn uint64, r wal.Record) (uint64, error) { return 0, nil },
	}
	return tr, m
}

func TestFindMissingReturnsFalse(t *testing.T) {
	tr, _ := newTestTree()
	root := EncodeRoot(4)
	_, ok, err := tr.Find(&root, 2)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestInsertThenFindWithinRoot(t *testing.T) {
	tr, _ := newTestTree()
	root := EncodeRoot(4)
	require.NoError(t, tr.Insert(0, 100, &root, 1, 55))
	got, ok, err := tr.Find(&root, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint32(55), got)
}

func TestInsertGrowsHeightBeyondRootCapacity(t *testing.T) {
	tr, _ := newTestTree()
	root := EncodeRoot(2)
	pos := uint64(5) // exceeds entriesPerRoot=2 at height 0
	require.NoError(t, tr.Insert(0, 100, &root, pos, 77))
	require.Greater(t, root.Height, uint32(0))
	got, ok, err := tr.Find(&root, pos)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint32(77), got)
}

func TestEraseClearsRangeAndFreesPages(t *testing.T) {
	tr, m := newTestTree()
	root := EncodeRoot(4)
	require.NoError(t, tr.Insert(0, 100, &root, 0, 11))
	require.NoError(t, tr.Insert(0, 100, &root, 1, 12))
	require.NoError(t, tr.Erase(0, 100, &root, 0, 1))

	_, ok, err := tr.Find(&root, 0)
	require.NoError(t, err)
	require.False(t, ok)
	_, ok, err = tr.Find(&root, 1)
	require.NoError(t, err)
	require.False(t, ok)
	require.NotContains(t, m.pages, uint32(11))
}

func TestClearResetsRoot(t *testing.T) {
	tr, _ := newTestTree()
	root := EncodeRoot(2)
	require.NoError(t, tr.Insert(0, 100, &root, 5, 77))
	require.NoError(t, tr.Clear(0, 100, &root))
	require.Equal(t, uint32(0), root.Height)
	for _, s := range root.Slots {
		require.Equal(t, uint32(0), s)
	}
}
