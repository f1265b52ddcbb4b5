package s4u

import (
	"context"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/onnwee/s4u-chat/backend/telemetry"
)

// Pacing decides how long the sender waits before each chunk.
type Pacing struct {
	Dynamic        bool
	CharsPerSecond float64
	Min            time.Duration
	Max            time.Duration
	Fixed          time.Duration
}

// Delay returns clamp(runes/CharsPerSecond, Min, Max), or Fixed when
// dynamic pacing is off.
func (p Pacing) Delay(chunk string) time.Duration {
	if !p.Dynamic || p.CharsPerSecond <= 0 {
		return p.Fixed
	}
	d := time.Duration(float64(utf8.RuneCountInString(chunk)) / p.CharsPerSecond * float64(time.Second))
	if d < p.Min {
		d = p.Min
	}
	if p.Max > 0 && d > p.Max {
		d = p.Max
	}
	return d
}

// TypingSender paces one task's chunks to a Transport in order.
// Push may be called while Run is active; Close marks the end of input.
// Once the Run context is cancelled no further chunk is dispatched; a Send
// already in flight completes.
type TypingSender struct {
	transport Transport
	chatID    string
	pacing    Pacing

	mu        sync.Mutex
	buf       []string
	closed    bool
	paused    bool
	delivered []string
	failed    int
	dropped   int

	signal chan struct{}
	done   chan struct{}
}

// NewTypingSender returns a sender for chatID. It does nothing until Run.
func NewTypingSender(t Transport, chatID string, pacing Pacing) *TypingSender {
	return &TypingSender{
		transport: t,
		chatID:    chatID,
		pacing:    pacing,
		signal:    make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

func (s *TypingSender) notify() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// Push appends a chunk. It returns false after Close.
func (s *TypingSender) Push(chunk string) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.buf = append(s.buf, chunk)
	s.mu.Unlock()
	s.notify()
	return true
}

// Close ends input; Run returns once the buffer is drained.
func (s *TypingSender) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.notify()
}

// Pause holds dispatch without discarding buffered chunks.
func (s *TypingSender) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
}

// Resume continues dispatch after Pause.
func (s *TypingSender) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
	s.notify()
}

func (s *TypingSender) isPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Done is closed when Run returns.
func (s *TypingSender) Done() <-chan struct{} { return s.done }

// Delivered returns the chunks the transport accepted, in order.
func (s *TypingSender) Delivered() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.delivered))
	copy(out, s.delivered)
	return out
}

// Dropped returns how many buffered chunks were discarded by cancellation.
func (s *TypingSender) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Failed returns how many chunks the transport rejected.
func (s *TypingSender) Failed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed
}

// Run dispatches chunks until input is closed and drained or ctx is done.
func (s *TypingSender) Run(ctx context.Context) {
	defer close(s.done)
	for {
		if ctx.Err() != nil {
			s.discard()
			return
		}
		chunk, state := s.head()
		switch state {
		case headFinished:
			return
		case headWait:
			select {
			case <-ctx.Done():
				s.discard()
				return
			case <-s.signal:
			}
			continue
		}

		if d := s.pacing.Delay(chunk); d > 0 {
			timer := time.NewTimer(d)
			select {
			case <-ctx.Done():
				timer.Stop()
				s.discard()
				return
			case <-timer.C:
			}
		}

		s.mu.Lock()
		if ctx.Err() != nil {
			s.mu.Unlock()
			s.discard()
			return
		}
		if s.paused {
			// keep the chunk at the head; it is re-paced after Resume
			s.mu.Unlock()
			continue
		}
		s.buf = s.buf[1:]
		s.mu.Unlock()

		err := s.transport.Send(context.WithoutCancel(ctx), s.chatID, chunk)
		telemetry.RecordChunk(err)
		s.mu.Lock()
		if err != nil {
			s.failed++
		} else {
			s.delivered = append(s.delivered, chunk)
		}
		s.mu.Unlock()
		if err != nil {
			telemetry.LoggerWithCorr(ctx).Warn("reply chunk send failed", slog.String("chat_id", s.chatID), slog.Any("err", err), slog.String("component", "s4u_sender"))
		}
	}
}

type headState int

const (
	headReady headState = iota
	headWait
	headFinished
)

func (s *TypingSender) head() (string, headState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused {
		return "", headWait
	}
	if len(s.buf) == 0 {
		if s.closed {
			return "", headFinished
		}
		return "", headWait
	}
	return s.buf[0], headReady
}

func (s *TypingSender) discard() {
	s.mu.Lock()
	s.dropped += len(s.buf)
	s.buf = nil
	s.closed = true
	s.mu.Unlock()
}
