package wal

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecoverAppliesOnlyCommittedTxns(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.wal")

	w, err := Open(path, 4096, 4096)
	require.NoError(t, err)

	committed, err := w.BeginTxn()
	require.NoError(t, err)
	_, err = w.Append(committed, Record{Tag: TagMetricInit, Page: 1, Data: []byte("m1")})
	require.NoError(t, err)
	_, err = w.Commit(committed)
	require.NoError(t, err)

	uncommitted, err := w.BeginTxn()
	require.NoError(t, err)
	_, err = w.Append(uncommitted, Record{Tag: TagMetricInit, Page: 2, Data: []byte("m2")})
	require.NoError(t, err)
	// never committed — simulates a crash mid-transaction

	require.NoError(t, w.Close())

	var applied []uint32
	stats, err := Recover(path, 4096, func(rec Record, lsn uint64) error {
		applied = append(applied, rec.Page)
		return nil
	}, false)
	require.NoError(t, err)

	require.Equal(t, 1, stats.CommittedTxns)
	require.Equal(t, 1, stats.IncompleteTxns)
	require.Equal(t, []uint32{1}, applied)
}

func TestRecoverDumpIncompleteAppliesEverything(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.wal")

	w, err := Open(path, 4096, 4096)
	require.NoError(t, err)
	uncommitted, err := w.BeginTxn()
	require.NoError(t, err)
	_, err = w.Append(uncommitted, Record{Tag: TagMetricInit, Page: 9, Data: []byte("m9")})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	var applied []uint32
	_, err = Recover(path, 4096, func(rec Record, lsn uint64) error {
		applied = append(applied, rec.Page)
		return nil
	}, true)
	require.NoError(t, err)
	require.Equal(t, []uint32{9}, applied)
}

func TestRecoverSkipsUnknownTags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.wal")

	w, err := Open(path, 4096, 4096)
	require.NoError(t, err)
	txn, err := w.BeginTxn()
	require.NoError(t, err)
	_, err = w.Append(txn, Record{Tag: Tag(99), Page: 3})
	require.NoError(t, err)
	_, err = w.Commit(txn)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	stats, err := Recover(path, 4096, func(rec Record, lsn uint64) error {
		t.Fatalf("unexpected apply for unknown tag record page %d", rec.Page)
		return nil
	}, false)
	require.NoError(t, err)
	require.Equal(t, 0, stats.AppliedRecords)
}
