package s4u

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

type sliceStream struct {
	chunks []string
	gap    time.Duration
	err    error
	block  bool

	i      int
	once   sync.Once
	closed chan struct{}
}

func (s *sliceStream) Recv() (string, error) {
	if s.i < len(s.chunks) {
		if s.gap > 0 {
			select {
			case <-time.After(s.gap):
			case <-s.closed:
				return "", io.ErrClosedPipe
			}
		}
		s.i++
		return s.chunks[s.i-1], nil
	}
	if s.block {
		<-s.closed
		return "", io.ErrClosedPipe
	}
	if s.err != nil {
		return "", s.err
	}
	return "", io.EOF
}

func (s *sliceStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

type streamGen struct {
	stream *sliceStream
	err    error
}

func (g streamGen) Generate(context.Context, Request) (Stream, error) {
	if g.err != nil {
		return nil, g.err
	}
	g.stream.closed = make(chan struct{})
	return g.stream, nil
}

func newTask(gen Generator, tr Transport, timeout time.Duration) *generationTask {
	return &generationTask{
		req:      Request{ChatID: "room", Message: QueuedMessage{SenderID: "u", Text: "hi"}},
		gen:      gen,
		sender:   NewTypingSender(tr, "room", fixedPacing(0)),
		timeout:  timeout,
		fallback: "sorry, brb",
	}
}

func TestGenerationTask_Outcomes(t *testing.T) {
	tests := []struct {
		name    string
		gen     Generator
		timeout time.Duration
		want    Outcome
		chunks  []string
	}{
		{"completed", streamGen{stream: &sliceStream{chunks: []string{"hel", "lo"}}}, time.Second, OutcomeCompleted, []string{"hel", "lo"}},
		{"blank chunks skipped", streamGen{stream: &sliceStream{chunks: []string{"a", "  ", "b"}}}, time.Second, OutcomeCompleted, []string{"a", "b"}},
		{"generate error", streamGen{err: errors.New("model offline")}, time.Second, OutcomeFallback, []string{"sorry, brb"}},
		{"stream error keeps partial", streamGen{stream: &sliceStream{chunks: []string{"par"}, err: errors.New("reset")}}, time.Second, OutcomeFallback, []string{"par", "sorry, brb"}},
		{"timeout", streamGen{stream: &sliceStream{block: true}}, 30 * time.Millisecond, OutcomeFallback, []string{"sorry, brb"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := &chunkLog{}
			res := newTask(tt.gen, log, tt.timeout).run(context.Background())
			if res.outcome != tt.want {
				t.Fatalf("outcome = %s, want %s (err %v)", res.outcome, tt.want, res.err)
			}
			got := log.got()
			if len(got) != len(tt.chunks) {
				t.Fatalf("chunks = %v, want %v", got, tt.chunks)
			}
			for i := range got {
				if got[i] != tt.chunks[i] {
					t.Fatalf("chunks = %v, want %v", got, tt.chunks)
				}
			}
		})
	}
}

func TestGenerationTask_InterruptedWithoutFallback(t *testing.T) {
	log := &chunkLog{}
	task := newTask(streamGen{stream: &sliceStream{chunks: []string{"one", "two", "three"}, gap: 40 * time.Millisecond}}, log, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(60*time.Millisecond, cancel)

	start := time.Now()
	res := task.run(ctx)
	if res.outcome != OutcomeInterrupted {
		t.Fatalf("outcome = %s", res.outcome)
	}
	if time.Since(start) > 300*time.Millisecond {
		t.Fatalf("interrupted task took %v", time.Since(start))
	}
	for _, c := range log.got() {
		if c == "sorry, brb" || c == "three" {
			t.Fatalf("unexpected chunk after interruption: %v", log.got())
		}
	}
}

func TestGenerationTask_IgnoresStuckGenerator(t *testing.T) {
	log := &chunkLog{}
	task := newTask(streamGen{stream: &sliceStream{block: true}}, log, 0)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	done := make(chan taskResult, 1)
	go func() { done <- task.run(ctx) }()
	select {
	case res := <-done:
		if res.outcome != OutcomeInterrupted {
			t.Fatalf("outcome = %s", res.outcome)
		}
	case <-time.After(time.Second):
		t.Fatalf("task blocked on a stuck generator")
	}
}

// hangGen blocks in Generate until released, whatever its ctx says.
type hangGen struct{ release chan struct{} }

func (g hangGen) Generate(context.Context, Request) (Stream, error) {
	<-g.release
	return nil, errors.New("released")
}

func TestGenerationTask_IgnoresGeneratorStuckInGenerate(t *testing.T) {
	gen := hangGen{release: make(chan struct{})}
	defer close(gen.release)
	task := newTask(gen, &chunkLog{}, 0)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	done := make(chan taskResult, 1)
	go func() { done <- task.run(ctx) }()
	select {
	case res := <-done:
		if res.outcome != OutcomeInterrupted {
			t.Fatalf("outcome = %s", res.outcome)
		}
	case <-time.After(time.Second):
		t.Fatalf("task blocked inside Generate")
	}
}

func TestGenerationTask_CancelAfterDeliveryIsCompleted(t *testing.T) {
	log := &chunkLog{}
	task := newTask(streamGen{stream: &sliceStream{chunks: []string{"done"}}}, log, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	res := task.run(ctx)
	cancel()
	if res.outcome != OutcomeCompleted {
		t.Fatalf("outcome = %s", res.outcome)
	}
}

type countingRecorder struct {
	n   int
	err error
}

func (c *countingRecorder) RecordTask(context.Context, TaskRecord) error {
	c.n++
	return c.err
}

func TestRecorders_AllSeeEveryRecord(t *testing.T) {
	a := &countingRecorder{}
	b := &countingRecorder{err: errors.New("redis down")}
	c := &countingRecorder{}
	err := Recorders(a, b, c).RecordTask(context.Background(), TaskRecord{ChatID: "x"})
	if err == nil || !strings.Contains(err.Error(), "redis down") {
		t.Fatalf("err = %v, want joined redis error", err)
	}
	if a.n != 1 || b.n != 1 || c.n != 1 {
		t.Fatalf("calls = %d %d %d, want 1 each", a.n, b.n, c.n)
	}
	if err := Recorders().RecordTask(context.Background(), TaskRecord{}); err != nil {
		t.Fatalf("empty Recorders: %v", err)
	}
}
