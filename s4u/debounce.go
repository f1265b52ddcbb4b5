package s4u

import (
	"log/slog"
	"sync"
	"time"
)

// GiftBatch is a flushed gift aggregate: every gift of one kind a sender
// sent inside a single debounce window.
type GiftBatch struct {
	ChatID     string
	SenderID   string
	SenderName string
	IsVIP      bool
	GiftKind   string
	TotalCount int
	FirstAt    time.Time
	Explicit   float64
}

// Event renders the batch as a gift event for admission.
func (b GiftBatch) Event() Event {
	return Event{
		ChatID:           b.ChatID,
		SenderID:         b.SenderID,
		SenderName:       b.SenderName,
		IsVIP:            b.IsVIP,
		ExplicitPriority: b.Explicit,
		Kind:             EventGift,
		GiftKind:         b.GiftKind,
		Count:            b.TotalCount,
		Timestamp:        b.FirstAt,
	}
}

type giftKey struct {
	sender   string
	giftKind string
}

type pendingGift struct {
	batch GiftBatch
	timer *time.Timer
	gen   uint64
}

// GiftAggregator debounces gift events per (sender, gift kind). Each new
// gift of a pending key restarts the window; when a window elapses with no
// further gifts the merged batch is handed to the emit callback.
type GiftAggregator struct {
	mu      sync.Mutex
	window  time.Duration
	pending map[giftKey]*pendingGift
	emit    func(GiftBatch) error
	stopped bool
}

// NewGiftAggregator returns an aggregator flushing through emit after window.
func NewGiftAggregator(window time.Duration, emit func(GiftBatch) error) *GiftAggregator {
	return &GiftAggregator{
		window:  window,
		pending: make(map[giftKey]*pendingGift),
		emit:    emit,
	}
}

// Submit buffers a gift event. Non-gift events are returned unchanged with
// ok=true for immediate admission; gifts return ok=false.
func (a *GiftAggregator) Submit(e Event) (Event, bool) {
	if e.Kind != EventGift {
		return e, true
	}
	key := giftKey{sender: e.SenderID, giftKind: e.GiftKind}

	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.stopped {
		a.submitLocked(key, e)
	}
	return Event{}, false
}

// submitLocked merges e into the aggregate for key and re-arms its timer.
// Callers hold a.mu.
func (a *GiftAggregator) submitLocked(key giftKey, e Event) {
	p, ok := a.pending[key]
	if ok {
		p.timer.Stop()
		p.gen++
		p.batch.TotalCount += e.Count
		if e.IsVIP {
			p.batch.IsVIP = true
		}
		if e.ExplicitPriority > p.batch.Explicit {
			p.batch.Explicit = e.ExplicitPriority
		}
	} else {
		first := e.Timestamp
		if first.IsZero() {
			first = time.Now()
		}
		p = &pendingGift{batch: GiftBatch{
			ChatID:     e.ChatID,
			SenderID:   e.SenderID,
			SenderName: e.displayName(),
			IsVIP:      e.IsVIP,
			GiftKind:   e.GiftKind,
			TotalCount: e.Count,
			FirstAt:    first,
			Explicit:   e.ExplicitPriority,
		}}
		a.pending[key] = p
	}
	// A timer whose Stop lost the race carries an older gen and does nothing.
	gen := p.gen
	p.timer = time.AfterFunc(a.window, func() { a.flush(key, p, gen) })
}

func (a *GiftAggregator) flush(key giftKey, p *pendingGift, gen uint64) {
	a.mu.Lock()
	cur, ok := a.pending[key]
	if !ok || cur != p || cur.gen != gen || a.stopped {
		a.mu.Unlock()
		return
	}
	delete(a.pending, key)
	batch := p.batch
	a.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("gift flush callback panicked", slog.String("chat_id", batch.ChatID), slog.String("sender", batch.SenderID), slog.Any("panic", r), slog.String("component", "s4u_debounce"))
		}
	}()
	if a.emit == nil {
		return
	}
	if err := a.emit(batch); err != nil {
		slog.Warn("gift flush callback failed", slog.String("chat_id", batch.ChatID), slog.String("sender", batch.SenderID), slog.String("gift", batch.GiftKind), slog.Any("err", err), slog.String("component", "s4u_debounce"))
	}
}

// Pending returns the number of open aggregates.
func (a *GiftAggregator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// Stop disarms every timer and drops open aggregates. Later submits are ignored.
func (a *GiftAggregator) Stop() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := len(a.pending)
	for k, p := range a.pending {
		p.timer.Stop()
		delete(a.pending, k)
	}
	a.stopped = true
	return n
}
