// Package engine drives a compiled Plan to completion: a priority-ordered
// frontier of pending node dispatches, a run loop that executes them one
// at a time (only a parallel node's branches run concurrently), join
// barriers that gate fan-in
// nodes until every sibling has reported, and the execution-status FSM
// that ties the whole thing to a persisted, resumable record.
package engine

import (
	"container/heap"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/agentflow-run/agentflow/state"
)

// WorkItem is one pending node dispatch: the node to run, the payload
// delta it was sent with (set for parallel fan-out targets, nil
// otherwise), and the bookkeeping the scheduler needs to order it
// deterministically and to know which join barrier it feeds, if any.
type WorkItem struct {
	NodeID       string
	Payload      state.Delta
	OrderKey     uint64
	ParentNodeID string
}

// ComputeOrderKey derives a deterministic sort key for a dispatch from
// the edge that produced it, so that two sibling dispatches created in
// the same step always pop from the frontier in the same relative order
// regardless of goroutine scheduling — load-bearing for join barriers
// firing in a reproducible order and for step numbering in the audit
// trail, even though this engine makes no replay-determinism promise.
func ComputeOrderKey(parentNodeID string, edgeIndex int) uint64 {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(edgeIndex))
	h := sha256.New()
	h.Write([]byte(parentNodeID))
	h.Write(buf[:])
	sum := h.Sum(nil)
	return binary.BigEndian.Uint64(sum[:8])
}

// workHeap is a container/heap min-heap over WorkItem.OrderKey.
type workHeap []WorkItem

func (h workHeap) Len() int            { return len(h) }
func (h workHeap) Less(i, j int) bool  { return h[i].OrderKey < h[j].OrderKey }
func (h workHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *workHeap) Push(x any)         { *h = append(*h, x.(WorkItem)) }
func (h *workHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Frontier is the bounded, priority-ordered queue of pending dispatches
// for one execution. A heap keeps items sorted by OrderKey; a buffered
// channel alongside it caps how much work can be outstanding at once,
// so a pathological fan-out can't grow memory without bound — Enqueue
// blocks once the channel is full until a Dequeue drains it.
type Frontier struct {
	mu       sync.Mutex
	heap     workHeap
	queue    chan struct{}
	capacity int

	totalEnqueued atomic.Int64
	totalDequeued atomic.Int64
}

// NewFrontier returns an empty Frontier bounded to capacity pending items.
func NewFrontier(capacity int) *Frontier {
	f := &Frontier{queue: make(chan struct{}, capacity), capacity: capacity}
	heap.Init(&f.heap)
	return f
}

// Enqueue adds item to the frontier, blocking for capacity if the queue
// is full. Returns ctx.Err() if ctx is cancelled first.
func (f *Frontier) Enqueue(ctx context.Context, item WorkItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	heap.Push(&f.heap, item)
	f.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case f.queue <- struct{}{}:
		f.totalEnqueued.Add(1)
		return nil
	}
}

// Dequeue blocks until an item is available or ctx is cancelled, then
// returns the item with the smallest OrderKey.
func (f *Frontier) Dequeue(ctx context.Context) (WorkItem, error) {
	var zero WorkItem
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-f.queue:
		f.mu.Lock()
		defer f.mu.Unlock()
		item := heap.Pop(&f.heap).(WorkItem)
		f.totalDequeued.Add(1)
		return item, nil
	}
}

// Len reports the number of items currently queued.
func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.heap.Len()
}
