package scheduler

import "sync"

// DeltaQueue is an in-memory DeltaSource. Producers push state updates at
// any rate; the scheduler drains the accumulated batch once per tick.
type DeltaQueue struct {
	mu      sync.Mutex
	pending []PendingDelta
}

// NewDeltaQueue creates an empty queue.
func NewDeltaQueue() *DeltaQueue {
	return &DeltaQueue{}
}

// Push enqueues one delta.
func (q *DeltaQueue) Push(pd PendingDelta) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, pd)
}

// Drain returns and clears all pending deltas in arrival order.
func (q *DeltaQueue) Drain() []PendingDelta {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.pending
	q.pending = nil
	return out
}

// Len reports the current queue depth.
func (q *DeltaQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
