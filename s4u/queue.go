package s4u

import (
	"container/heap"
	"time"
)

// messageHeap is a max-heap on PriorityScore with FIFO tie-breaking on
// Sequence. It implements container/heap.Interface.
type messageHeap []*QueuedMessage

func (h messageHeap) Len() int { return len(h) }

// Less reports whether i should be served before j.
func (h messageHeap) Less(i, j int) bool { return servedBefore(h[i], h[j]) }

func (h messageHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *messageHeap) Push(x any) { *h = append(*h, x.(*QueuedMessage)) }

func (h *messageHeap) Pop() any {
	old := *h
	n := len(old)
	m := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return m
}

// PriorityQueue orders admitted messages of one tier. It is not safe for
// concurrent use; the owning Session serializes access.
type PriorityQueue struct {
	h messageHeap
}

// Len returns the number of queued messages.
func (q *PriorityQueue) Len() int { return q.h.Len() }

// Push enqueues m.
func (q *PriorityQueue) Push(m *QueuedMessage) { heap.Push(&q.h, m) }

// Peek returns the message Pop would return, or nil.
func (q *PriorityQueue) Peek() *QueuedMessage {
	if q.h.Len() == 0 {
		return nil
	}
	return q.h[0]
}

// Pop removes and returns the highest-priority message, or nil.
func (q *PriorityQueue) Pop() *QueuedMessage {
	if q.h.Len() == 0 {
		return nil
	}
	return heap.Pop(&q.h).(*QueuedMessage)
}

// filter keeps messages for which keep returns true and returns how many
// were dropped.
func (q *PriorityQueue) filter(keep func(*QueuedMessage) bool) int {
	kept := q.h[:0]
	for _, m := range q.h {
		if keep(m) {
			kept = append(kept, m)
		}
	}
	dropped := len(q.h) - len(kept)
	for i := len(kept); i < len(q.h); i++ {
		q.h[i] = nil
	}
	q.h = kept
	if dropped > 0 {
		heap.Init(&q.h)
	}
	return dropped
}

// PruneStale drops messages whose sequence is not among the keep most
// recent sequence numbers handed out (counter is the last one assigned).
func (q *PriorityQueue) PruneStale(counter uint64, keep int) int {
	if keep <= 0 || counter <= uint64(keep) {
		return 0
	}
	floor := counter - uint64(keep)
	return q.filter(func(m *QueuedMessage) bool { return m.Sequence > floor })
}

// PruneExpired drops messages that arrived more than ttl before now.
func (q *PriorityQueue) PruneExpired(now time.Time, ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	return q.filter(func(m *QueuedMessage) bool { return now.Sub(m.ArrivedAt) <= ttl })
}

// Drain removes every message.
func (q *PriorityQueue) Drain() int {
	n := q.h.Len()
	q.h = nil
	return n
}

// servedBefore orders by descending score, then ascending sequence.
func servedBefore(a, b *QueuedMessage) bool {
	if a.PriorityScore != b.PriorityScore {
		return a.PriorityScore > b.PriorityScore
	}
	return a.Sequence < b.Sequence
}
