package s4u

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type batchSink struct {
	mu      sync.Mutex
	batches []GiftBatch
	ch      chan GiftBatch
}

func newBatchSink() *batchSink { return &batchSink{ch: make(chan GiftBatch, 16)} }

func (s *batchSink) emit(b GiftBatch) error {
	s.mu.Lock()
	s.batches = append(s.batches, b)
	s.mu.Unlock()
	s.ch <- b
	return nil
}

func (s *batchSink) next(t *testing.T, within time.Duration) GiftBatch {
	t.Helper()
	select {
	case b := <-s.ch:
		return b
	case <-time.After(within):
		t.Fatalf("no gift batch flushed within %v", within)
	}
	return GiftBatch{}
}

func gift(sender, kind string, count int) Event {
	return Event{ChatID: "room", SenderID: sender, Kind: EventGift, GiftKind: kind, Count: count}
}

func TestGiftAggregator_PassesThroughNonGifts(t *testing.T) {
	a := NewGiftAggregator(time.Second, nil)
	e := Event{ChatID: "room", SenderID: "u", Kind: EventText, Text: "hi"}
	got, ok := a.Submit(e)
	if !ok || got.Text != "hi" {
		t.Fatalf("text event not passed through: %+v %v", got, ok)
	}
	if a.Pending() != 0 {
		t.Fatalf("pending = %d", a.Pending())
	}
}

func TestGiftAggregator_MergesWithinWindow(t *testing.T) {
	sink := newBatchSink()
	a := NewGiftAggregator(80*time.Millisecond, sink.emit)
	defer a.Stop()

	if _, ok := a.Submit(gift("alice", "rose", 3)); ok {
		t.Fatalf("gift should be buffered")
	}
	time.Sleep(30 * time.Millisecond)
	a.Submit(gift("alice", "rose", 2))
	if a.Pending() != 1 {
		t.Fatalf("pending = %d, want 1", a.Pending())
	}

	b := sink.next(t, time.Second)
	if b.TotalCount != 5 || b.SenderID != "alice" || b.GiftKind != "rose" {
		t.Fatalf("batch = %+v", b)
	}
	if got := b.Event(); messageText(got) != "alice sent rose x5" {
		t.Fatalf("merged text = %q", messageText(got))
	}

	// a later gift outside the window starts a new batch
	a.Submit(gift("alice", "rose", 1))
	b = sink.next(t, time.Second)
	if b.TotalCount != 1 {
		t.Fatalf("second batch = %+v", b)
	}
}

func TestGiftAggregator_KeysBySenderAndKind(t *testing.T) {
	sink := newBatchSink()
	a := NewGiftAggregator(40*time.Millisecond, sink.emit)
	defer a.Stop()

	a.Submit(gift("alice", "rose", 1))
	a.Submit(gift("alice", "star", 1))
	a.Submit(gift("bob", "rose", 1))
	if a.Pending() != 3 {
		t.Fatalf("pending = %d, want 3", a.Pending())
	}
	seen := map[string]int{}
	for i := 0; i < 3; i++ {
		b := sink.next(t, time.Second)
		seen[b.SenderID+"/"+b.GiftKind] = b.TotalCount
	}
	if len(seen) != 3 {
		t.Fatalf("batches = %v", seen)
	}
}

func TestGiftAggregator_ResetPostponesFlush(t *testing.T) {
	sink := newBatchSink()
	a := NewGiftAggregator(60*time.Millisecond, sink.emit)
	defer a.Stop()

	for i := 0; i < 5; i++ {
		a.Submit(gift("alice", "rose", 1))
		time.Sleep(25 * time.Millisecond)
	}
	select {
	case b := <-sink.ch:
		t.Fatalf("flushed early: %+v", b)
	default:
	}
	if b := sink.next(t, time.Second); b.TotalCount != 5 {
		t.Fatalf("total = %d, want 5", b.TotalCount)
	}
}

func TestGiftAggregator_StaleTimerIsNoop(t *testing.T) {
	sink := newBatchSink()
	const window = 30 * time.Millisecond
	a := NewGiftAggregator(window, sink.emit)
	defer a.Stop()

	a.Submit(gift("alice", "rose", 3))

	// hold the lock past the first window so its timer fires and waits on
	// a.mu, then reset before releasing it
	key := giftKey{sender: "alice", giftKind: "rose"}
	a.mu.Lock()
	time.Sleep(window + 20*time.Millisecond)
	a.submitLocked(key, gift("alice", "rose", 2))
	reset := time.Now()
	a.mu.Unlock()

	b := sink.next(t, time.Second)
	if elapsed := time.Since(reset); elapsed < window-5*time.Millisecond {
		t.Fatalf("flushed %v after reset, want at least one window (%v)", elapsed, window)
	}
	if b.TotalCount != 5 {
		t.Fatalf("total = %d, want 5", b.TotalCount)
	}
	select {
	case extra := <-sink.ch:
		t.Fatalf("unexpected second flush %+v", extra)
	case <-time.After(2 * window):
	}
}

func TestGiftAggregator_FlushIgnoresOlderGeneration(t *testing.T) {
	sink := newBatchSink()
	a := NewGiftAggregator(time.Hour, sink.emit)
	defer a.Stop()

	a.Submit(gift("alice", "rose", 2))
	a.Submit(gift("alice", "rose", 1))
	key := giftKey{sender: "alice", giftKind: "rose"}
	a.mu.Lock()
	p := a.pending[key]
	gen := p.gen
	a.mu.Unlock()

	a.flush(key, p, gen-1)
	if a.Pending() != 1 {
		t.Fatalf("pending = %d, want 1", a.Pending())
	}
	a.flush(key, p, gen)
	if b := sink.next(t, time.Second); b.TotalCount != 3 {
		t.Fatalf("total = %d, want 3", b.TotalCount)
	}
}

func TestGiftAggregator_CallbackFailureIsContained(t *testing.T) {
	var calls int
	var mu sync.Mutex
	a := NewGiftAggregator(10*time.Millisecond, func(GiftBatch) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return errors.New("boom")
		}
		panic("callback panic")
	})
	defer a.Stop()

	a.Submit(gift("alice", "rose", 1))
	time.Sleep(60 * time.Millisecond)
	a.Submit(gift("bob", "rose", 1))
	time.Sleep(60 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
	if a.Pending() != 0 {
		t.Fatalf("pending = %d", a.Pending())
	}
}

func TestGiftAggregator_StopDropsPending(t *testing.T) {
	sink := newBatchSink()
	a := NewGiftAggregator(20*time.Millisecond, sink.emit)
	a.Submit(gift("alice", "rose", 1))
	if n := a.Stop(); n != 1 {
		t.Fatalf("stop dropped %d, want 1", n)
	}
	a.Submit(gift("alice", "rose", 1))
	time.Sleep(60 * time.Millisecond)
	select {
	case b := <-sink.ch:
		t.Fatalf("flushed after stop: %+v", b)
	default:
	}
}
