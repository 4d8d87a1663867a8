package scheduler

import (
	"container/heap"

	"github.com/fairsched/fairsched/executor"
)

// RunQueue is the ordered multiset of runnable executors keyed by virtual
// runtime (smallest first), with a stable secondary key so distinct
// executors never compare equal.
//
// RunQueue is not internally synchronized. The scheduler's design requires
// a single mutex to guard both the queue and the condition variables workers
// wait on, so the mutex lives on Scheduler and every method here must be
// called with it held.
type RunQueue struct {
	items        runQueueHeap
	nextSequence uint64
}

// NewRunQueue returns an empty RunQueue.
func NewRunQueue() *RunQueue {
	rq := &RunQueue{}
	heap.Init(&rq.items)
	return rq
}

// Insert adds an executor to the queue.
func (q *RunQueue) Insert(ex executor.Executor) {
	item := &runQueueItem{ex: ex, sequence: q.nextSequence}
	q.nextSequence++
	heap.Push(&q.items, item)
}

// PopMin removes and returns the executor with the smallest virtual
// runtime, or false if the queue is empty.
func (q *RunQueue) PopMin() (executor.Executor, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	item := heap.Pop(&q.items).(*runQueueItem)
	return item.ex, true
}

// Min returns the executor with the smallest virtual runtime without
// removing it.
func (q *RunQueue) Min() (executor.Executor, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	return q.items[0].ex, true
}

// Size returns the number of queued executors.
func (q *RunQueue) Size() int { return len(q.items) }

// IsEmpty reports whether the queue has no executors.
func (q *RunQueue) IsEmpty() bool { return len(q.items) == 0 }

// Clear drops every queued executor, releasing references. Used on
// scheduler stop, where pending executors will not run.
func (q *RunQueue) Clear() {
	clear(q.items)
	q.items = q.items[:0]
}

type runQueueItem struct {
	ex       executor.Executor
	sequence uint64
	index    int
}

// runQueueHeap implements heap.Interface. virtual_runtime is the primary
// key; insertion sequence is the tiebreak, matching the identity-hash
// tiebreak of a TreeSet-based implementation without needing one.
type runQueueHeap []*runQueueItem

func (h runQueueHeap) Len() int { return len(h) }

func (h runQueueHeap) Less(i, j int) bool {
	vi, vj := h[i].ex.VirtualRuntime(), h[j].ex.VirtualRuntime()
	if vi != vj {
		return vi < vj
	}
	return h[i].sequence < h[j].sequence
}

func (h runQueueHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *runQueueHeap) Push(x any) {
	item := x.(*runQueueItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *runQueueHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}
