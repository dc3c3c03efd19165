// ABOUTME: Periodic and explicit checkpoints: flush dirty pages, then record the new recovery start point
// ABOUTME: Honors block_checkpoint(true/false) nesting before starting a new checkpoint

package wal

import (
	"encoding/binary"
	"fmt"
	"time"
)

// DefaultCheckpointInterval is the period of the background checkpoint
// task. Checkpoints run on this timer or on an explicit Checkpoint call;
// the volume of WAL written does not trigger one.
const DefaultCheckpointInterval = 10 * time.Minute

// Checkpointer runs Checkpoint on a ticker, grounded on the teacher's
// pkg/wal/checkpoint.go Checkpointer.run() loop.
type Checkpointer struct {
	wal      *WAL
	interval time.Duration
	flush    func(uptoLSN uint64) error
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func NewCheckpointer(w *WAL, flush func(uptoLSN uint64) error) *Checkpointer {
	return &Checkpointer{
		wal:      w,
		interval: DefaultCheckpointInterval,
		flush:    flush,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

func (c *Checkpointer) SetInterval(d time.Duration) { c.interval = d }

func (c *Checkpointer) Start() { go c.run() }

func (c *Checkpointer) Stop() {
	close(c.stopCh)
	<-c.doneCh
}

func (c *Checkpointer) run() {
	defer close(c.doneCh)
	t := time.NewTicker(c.interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			_ = c.Checkpoint()
		case <-c.stopCh:
			return
		}
	}
}

// Checkpoint flushes dirty pages up to the current durable LSN and logs
// a checkpoint-commit record carrying that LSN as the new recovery
// start point. If a caller currently holds block_checkpoint(true), this
// is a no-op that returns nil — callers needing a guaranteed checkpoint
// should retry after releasing the block.
func (c *Checkpointer) Checkpoint() error {
	if c.wal.checkpointBlocked() {
		return nil
	}
	startLSN := c.wal.DurableLSN()
	if err := c.flush(startLSN); err != nil {
		return fmt.Errorf("wal: checkpoint flush: %w", err)
	}
	payload := make([]byte, 8)
	binary.LittleEndian.PutUint64(payload, startLSN)
	lsn, err := c.wal.appendRecord(Record{Tag: TagCheckpointCommit, Data: payload})
	if err != nil {
		return fmt.Errorf("wal: checkpoint record: %w", err)
	}
	return c.wal.WaitDurable(lsn)
}
