// ABOUTME: Reusable small-integer id pools, lowest-id-first reuse
// ABOUTME: Backs the WAL's local-txn tags and the engine's metric id allocator

package txid

import (
	"container/heap"
	"fmt"
)

// uint32Heap is a min-heap of released ids so Acquire always hands out
// the lowest available id, mirroring the teacher's FreeList lowest-
// free-first reuse discipline (pkg/storage/freelist.go) and
// original_source/lib/dim/include/dim/handle.h's generic handle table.
type uint32Heap []uint32

func (h uint32Heap) Len() int            { return len(h) }
func (h uint32Heap) Less(i, j int) bool  { return h[i] < h[j] }
func (h uint32Heap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *uint32Heap) Push(x interface{}) { *h = append(*h, x.(uint32)) }
func (h *uint32Heap) Pop() interface{} {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

// Pool hands out small integer ids in [0, max), reusing released ids
// before minting a new one, always returning the lowest available.
type Pool struct {
	max      uint32
	next     uint32
	free     uint32Heap
	inUse    map[uint32]bool
}

func NewPool(max uint32) *Pool {
	return &Pool{max: max, inUse: make(map[uint32]bool)}
}

var ErrExhausted = fmt.Errorf("txid: pool exhausted")

// Acquire returns the lowest available id.
func (p *Pool) Acquire() (uint32, error) {
	if len(p.free) > 0 {
		id := heap.Pop(&p.free).(uint32)
		p.inUse[id] = true
		return id, nil
	}
	if p.next >= p.max {
		return 0, ErrExhausted
	}
	id := p.next
	p.next++
	p.inUse[id] = true
	return id, nil
}

// Release returns id to the pool so a future Acquire may reuse it.
func (p *Pool) Release(id uint32) {
	if !p.inUse[id] {
		return
	}
	delete(p.inUse, id)
	heap.Push(&p.free, id)
}

// Adopt marks id as already in use without handing it out via Acquire,
// advancing next past it if needed. Used when the engine rebuilds a
// pool's state from ids discovered in existing descriptor pages at
// open, where the ids were minted by a prior process lifetime.
func (p *Pool) Adopt(id uint32) {
	if p.inUse[id] {
		return
	}
	p.inUse[id] = true
	if id >= p.next {
		p.next = id + 1
	}
}

// InUse reports whether id is currently held.
func (p *Pool) InUse(id uint32) bool { return p.inUse[id] }

// Count reports the number of ids currently acquired.
func (p *Pool) Count() int { return len(p.inUse) }
