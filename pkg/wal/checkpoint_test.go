package wal

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCheckpointWritesCommitRecord(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(filepath.Join(dir, "test.wal"), 4096, 4096)
	require.NoError(t, err)
	defer w.Close()

	var flushed uint64
	cp := NewCheckpointer(w, func(uptoLSN uint64) error {
		flushed = uptoLSN
		return nil
	})

	txn, err := w.BeginTxn()
	require.NoError(t, err)
	_, err = w.Commit(txn)
	require.NoError(t, err)

	require.NoError(t, cp.Checkpoint())
	require.Equal(t, uint64(0), flushed)
}

func TestCheckpointNoOpWhileBlocked(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(filepath.Join(dir, "test.wal"), 4096, 4096)
	require.NoError(t, err)
	defer w.Close()

	calls := 0
	cp := NewCheckpointer(w, func(uptoLSN uint64) error {
		calls++
		return nil
	})

	w.BlockCheckpoint(true)
	require.NoError(t, cp.Checkpoint())
	require.Equal(t, 0, calls)

	w.BlockCheckpoint(false)
	require.NoError(t, cp.Checkpoint())
	require.Equal(t, 1, calls)
}

func TestCheckpointerStartStop(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(filepath.Join(dir, "test.wal"), 4096, 4096)
	require.NoError(t, err)
	defer w.Close()

	cp := NewCheckpointer(w, func(uptoLSN uint64) error { return nil })
	cp.SetInterval(10 * time.Millisecond)
	cp.Start()
	time.Sleep(30 * time.Millisecond)
	cp.Stop()
}
