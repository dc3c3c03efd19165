package wal

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecordEncodeDecodeRoundTrip(t *testing.T) {
	r := Record{Tag: TagSampleUpdate, Page: 42, Txn: 7, Data: []byte("payload")}
	enc := r.Encode()
	got, n, err := DecodeRecord(enc)
	require.NoError(t, err)
	require.Equal(t, len(enc), n)
	require.Equal(t, r.Tag, got.Tag)
	require.Equal(t, r.Page, got.Page)
	require.Equal(t, r.Txn, got.Txn)
	require.Equal(t, r.Data, got.Data)
}

func TestDecodeRecordCorruption(t *testing.T) {
	r := Record{Tag: TagMetricInit, Page: 1, Data: []byte("abc")}
	enc := r.Encode()
	enc[len(enc)-1] ^= 0xFF
	_, _, err := DecodeRecord(enc)
	require.ErrorIs(t, err, ErrCorrupted)
}

func TestBeginAppendCommitAdvancesDurableLSN(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(filepath.Join(dir, "test.wal"), 4096, 4096)
	require.NoError(t, err)
	defer w.Close()

	txn, err := w.BeginTxn()
	require.NoError(t, err)

	_, err = w.Append(txn, Record{Tag: TagSampleUpdate, Page: 5, Data: []byte{1, 2, 3}})
	require.NoError(t, err)

	commitLSN, err := w.Commit(txn)
	require.NoError(t, err)

	require.NoError(t, w.Close())
	require.GreaterOrEqual(t, w.DurableLSN(), commitLSN)
}

func TestWaitDurableUnblocksAfterFlush(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(filepath.Join(dir, "test.wal"), 4096, 4096)
	require.NoError(t, err)
	defer w.Close()

	txn, err := w.BeginTxn()
	require.NoError(t, err)
	lsn, err := w.Commit(txn)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		_ = w.WaitDurable(lsn)
		close(done)
	}()

	require.NoError(t, w.Close())
	<-done
}

func TestReopenRecoversNextLSN(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.wal")

	w, err := Open(path, 4096, 4096)
	require.NoError(t, err)
	txn, err := w.BeginTxn()
	require.NoError(t, err)
	_, err = w.Append(txn, Record{Tag: TagMetricInit, Page: 1, Data: []byte("metric")})
	require.NoError(t, err)
	_, err = w.Commit(txn)
	require.NoError(t, err)
	lastLSN := w.NextLSN()
	require.NoError(t, w.Close())

	w2, err := Open(path, 4096, 4096)
	require.NoError(t, err)
	defer w2.Close()
	require.GreaterOrEqual(t, w2.NextLSN(), lastLSN)
}
