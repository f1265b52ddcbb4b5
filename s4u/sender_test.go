package s4u

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type chunkLog struct {
	mu     sync.Mutex
	chunks []string
	fail   map[string]bool
}

func (l *chunkLog) Send(_ context.Context, _ string, chunk string) error {
	if l.fail[chunk] {
		return errors.New("transport down")
	}
	l.mu.Lock()
	l.chunks = append(l.chunks, chunk)
	l.mu.Unlock()
	return nil
}

func (l *chunkLog) got() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.chunks...)
}

func fixedPacing(d time.Duration) Pacing { return Pacing{Fixed: d} }

func TestPacing_Delay(t *testing.T) {
	p := Pacing{Dynamic: true, CharsPerSecond: 10, Min: 200 * time.Millisecond, Max: 2 * time.Second, Fixed: time.Second}
	tests := []struct {
		name  string
		p     Pacing
		chunk string
		want  time.Duration
	}{
		{"clamped to min", p, "hi", 200 * time.Millisecond},
		{"proportional", p, "0123456789", time.Second},
		{"runes not bytes", p, "こんにちは、世界です", time.Second},
		{"clamped to max", p, string(make([]byte, 100)), 2 * time.Second},
		{"fixed when static", Pacing{Fixed: 300 * time.Millisecond, CharsPerSecond: 10}, "long enough text", 300 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.p.Delay(tt.chunk); got != tt.want {
				t.Fatalf("Delay(%q) = %v, want %v", tt.chunk, got, tt.want)
			}
		})
	}
}

func TestTypingSender_DeliversInOrder(t *testing.T) {
	log := &chunkLog{}
	s := NewTypingSender(log, "room", fixedPacing(time.Millisecond))
	go s.Run(context.Background())
	for _, c := range []string{"a", "b", "c"} {
		if !s.Push(c) {
			t.Fatalf("push %q rejected", c)
		}
	}
	s.Close()
	<-s.Done()
	got := log.got()
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("delivered %v", got)
	}
	if s.Push("late") {
		t.Fatalf("push after close accepted")
	}
}

func TestTypingSender_FailureDoesNotStopLaterChunks(t *testing.T) {
	log := &chunkLog{fail: map[string]bool{"b": true}}
	s := NewTypingSender(log, "room", fixedPacing(0))
	go s.Run(context.Background())
	s.Push("a")
	s.Push("b")
	s.Push("c")
	s.Close()
	<-s.Done()
	if got := log.got(); len(got) != 2 || got[0] != "a" || got[1] != "c" {
		t.Fatalf("delivered %v", got)
	}
	if s.Failed() != 1 {
		t.Fatalf("failed = %d", s.Failed())
	}
}

func TestTypingSender_CancelStopsPromptly(t *testing.T) {
	log := &chunkLog{}
	s := NewTypingSender(log, "room", fixedPacing(time.Second))
	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	s.Push("never")
	s.Push("sent")

	time.Sleep(20 * time.Millisecond)
	start := time.Now()
	cancel()
	select {
	case <-s.Done():
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("sender did not stop after cancel")
	}
	if took := time.Since(start); took > 200*time.Millisecond {
		t.Fatalf("cancel latency %v", took)
	}
	if got := log.got(); len(got) != 0 {
		t.Fatalf("chunks sent after cancel: %v", got)
	}
	if s.Dropped() != 2 {
		t.Fatalf("dropped = %d, want 2", s.Dropped())
	}
}

func TestTypingSender_PauseHoldsOutput(t *testing.T) {
	log := &chunkLog{}
	s := NewTypingSender(log, "room", fixedPacing(5*time.Millisecond))
	s.Pause()
	go s.Run(context.Background())
	s.Push("held")
	time.Sleep(50 * time.Millisecond)
	if got := log.got(); len(got) != 0 {
		t.Fatalf("sent while paused: %v", got)
	}
	if !s.isPaused() {
		t.Fatalf("expected paused")
	}
	s.Resume()
	s.Close()
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatalf("sender did not finish after resume")
	}
	if got := log.got(); len(got) != 1 || got[0] != "held" {
		t.Fatalf("delivered %v", got)
	}
}
