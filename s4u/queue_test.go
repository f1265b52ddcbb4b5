package s4u

import (
	"testing"
	"time"
)

func msg(seq uint64, score float64) *QueuedMessage {
	return &QueuedMessage{Sequence: seq, PriorityScore: score, SenderID: "u"}
}

func TestPriorityQueue_Order(t *testing.T) {
	tests := []struct {
		name string
		in   []*QueuedMessage
		want []uint64
	}{
		{"score descending", []*QueuedMessage{msg(1, 1.0), msg(2, 3.0), msg(3, 2.0)}, []uint64{2, 3, 1}},
		{"ties are fifo", []*QueuedMessage{msg(3, 1.0), msg(1, 1.0), msg(2, 1.0)}, []uint64{1, 2, 3}},
		{"mixed", []*QueuedMessage{msg(1, 0.5), msg(2, 2.0), msg(3, 2.0), msg(4, 0.9)}, []uint64{2, 3, 4, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var q PriorityQueue
			for _, m := range tt.in {
				q.Push(m)
			}
			if got := q.Peek(); got == nil || got.Sequence != tt.want[0] {
				t.Fatalf("peek = %+v, want seq %d", got, tt.want[0])
			}
			for i, want := range tt.want {
				got := q.Pop()
				if got == nil || got.Sequence != want {
					t.Fatalf("pop %d = %+v, want seq %d", i, got, want)
				}
			}
			if q.Pop() != nil || q.Peek() != nil {
				t.Fatalf("expected empty queue")
			}
		})
	}
}

func TestPriorityQueue_PruneStale(t *testing.T) {
	const keep = 6
	var q PriorityQueue
	for seq := uint64(1); seq <= keep+5; seq++ {
		q.Push(msg(seq, float64(seq%3)))
	}
	dropped := q.PruneStale(keep+5, keep)
	if dropped != 5 {
		t.Fatalf("dropped = %d, want 5", dropped)
	}
	if q.Len() != keep {
		t.Fatalf("len = %d, want %d", q.Len(), keep)
	}
	for q.Len() > 0 {
		if m := q.Pop(); m.Sequence <= 5 {
			t.Fatalf("stale message %d survived", m.Sequence)
		}
	}
}

func TestPriorityQueue_PruneStaleBelowKeep(t *testing.T) {
	var q PriorityQueue
	q.Push(msg(1, 1))
	q.Push(msg(2, 1))
	if n := q.PruneStale(2, 6); n != 0 {
		t.Fatalf("dropped %d with fewer messages than keep", n)
	}
}

func TestPriorityQueue_PruneExpired(t *testing.T) {
	now := time.Now()
	var q PriorityQueue
	old := msg(1, 5)
	old.ArrivedAt = now.Add(-3 * time.Minute)
	fresh := msg(2, 1)
	fresh.ArrivedAt = now.Add(-10 * time.Second)
	q.Push(old)
	q.Push(fresh)

	if n := q.PruneExpired(now, 0); n != 0 {
		t.Fatalf("ttl 0 must disable expiry, dropped %d", n)
	}
	if n := q.PruneExpired(now, 2*time.Minute); n != 1 {
		t.Fatalf("dropped = %d, want 1", n)
	}
	if m := q.Pop(); m.Sequence != 2 {
		t.Fatalf("survivor = %d, want 2", m.Sequence)
	}
}

func TestPriorityQueue_HeapStillValidAfterPrune(t *testing.T) {
	var q PriorityQueue
	for seq := uint64(1); seq <= 20; seq++ {
		q.Push(msg(seq, float64((seq*7)%5)))
	}
	q.PruneStale(20, 10)
	var prev *QueuedMessage
	for q.Len() > 0 {
		m := q.Pop()
		if prev != nil && servedBefore(m, prev) {
			t.Fatalf("out of order: %+v before %+v", prev, m)
		}
		prev = m
	}
}

func TestPriorityQueue_Drain(t *testing.T) {
	var q PriorityQueue
	q.Push(msg(1, 1))
	q.Push(msg(2, 1))
	if n := q.Drain(); n != 2 || q.Len() != 0 {
		t.Fatalf("drain = %d, len = %d", n, q.Len())
	}
}
