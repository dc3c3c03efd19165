// ABOUTME: Min-heap of goroutines waiting for durable_lsn to cross a target LSN
// ABOUTME: Released in LSN order as flushed writes advance durability

package wal

import (
	"container/heap"
	"hash/crc32"
)

func crc32Of(b []byte) uint32 { return crc32.ChecksumIEEE(b) }

type lsnWaiter struct {
	lsn  uint64
	done chan struct{}
}

type waiterHeap []*lsnWaiter

func (h waiterHeap) Len() int            { return len(h) }
func (h waiterHeap) Less(i, j int) bool  { return h[i].lsn < h[j].lsn }
func (h waiterHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *waiterHeap) Push(x interface{}) { *h = append(*h, x.(*lsnWaiter)) }
func (h *waiterHeap) Pop() interface{} {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

// waiterSet tracks tasks suspended on durability, per spec.md §4.3
// ("Tasks waiting for a specific LSN are stored in a min-heap and
// released as durable_lsn crosses their wait point").
type waiterSet struct {
	h waiterHeap
}

// add registers a waiter for lsn, returning a channel closed once
// durable_lsn reaches it.
func (w *waiterSet) add(lsn uint64) <-chan struct{} {
	ch := make(chan struct{})
	heap.Push(&w.h, &lsnWaiter{lsn: lsn, done: ch})
	return ch
}

// release closes every waiter whose target lsn has become durable.
// Caller holds the WAL's mutex.
func (w *waiterSet) release(durableLSN uint64) {
	for w.h.Len() > 0 && w.h[0].lsn <= durableLSN {
		top := heap.Pop(&w.h).(*lsnWaiter)
		close(top.done)
	}
}
