package testutil

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/onnwee/s4u-chat/backend/s4u"
)

// Sent is one chunk captured by RecordingTransport.
type Sent struct {
	ChatID string
	Chunk  string
	At     time.Time
}

// RecordingTransport captures every chunk sent. FailOn makes Send return
// an error for matching chunks.
type RecordingTransport struct {
	mu     sync.Mutex
	sent   []Sent
	FailOn func(chunk string) error
	notify chan struct{}
}

// NewRecordingTransport returns an empty recorder.
func NewRecordingTransport() *RecordingTransport {
	return &RecordingTransport{notify: make(chan struct{}, 1)}
}

// Send implements s4u.Transport.
func (r *RecordingTransport) Send(_ context.Context, chatID, chunk string) error {
	if r.FailOn != nil {
		if err := r.FailOn(chunk); err != nil {
			return err
		}
	}
	r.mu.Lock()
	r.sent = append(r.sent, Sent{ChatID: chatID, Chunk: chunk, At: time.Now()})
	r.mu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
	return nil
}

// Sent returns a copy of the captured chunks.
func (r *RecordingTransport) Sent() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Sent, len(r.sent))
	copy(out, r.sent)
	return out
}

// Chunks returns only the chunk texts.
func (r *RecordingTransport) Chunks() []string {
	var out []string
	for _, s := range r.Sent() {
		out = append(out, s.Chunk)
	}
	return out
}

// WaitFor blocks until at least n chunks were captured or timeout elapses.
func (r *RecordingTransport) WaitFor(n int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		r.mu.Lock()
		got := len(r.sent)
		r.mu.Unlock()
		if got >= n {
			return true
		}
		select {
		case <-r.notify:
		case <-time.After(5 * time.Millisecond):
		case <-deadline:
			return false
		}
	}
}

// Script is the reply a ScriptedGenerator streams for one request.
type Script struct {
	Chunks []string
	// Gap is the pause before each chunk.
	Gap time.Duration
	// Err is returned after the chunks instead of io.EOF.
	Err error
	// Block makes Recv hang after the chunks until the stream is closed.
	Block bool
}

// ScriptedGenerator replies to each request with the script chosen by For.
type ScriptedGenerator struct {
	For func(req s4u.Request) Script

	mu       sync.Mutex
	requests []s4u.Request
}

// Generate implements s4u.Generator.
func (g *ScriptedGenerator) Generate(_ context.Context, req s4u.Request) (s4u.Stream, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	g.mu.Unlock()
	var sc Script
	if g.For != nil {
		sc = g.For(req)
	}
	return &scriptedStream{script: sc, closed: make(chan struct{})}, nil
}

// Requests returns the requests seen so far.
func (g *ScriptedGenerator) Requests() []s4u.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]s4u.Request, len(g.requests))
	copy(out, g.requests)
	return out
}

type scriptedStream struct {
	script    Script
	next      int
	closeOnce sync.Once
	closed    chan struct{}
}

func (s *scriptedStream) Recv() (string, error) {
	if s.next < len(s.script.Chunks) {
		if s.script.Gap > 0 {
			select {
			case <-time.After(s.script.Gap):
			case <-s.closed:
				return "", io.ErrClosedPipe
			}
		}
		c := s.script.Chunks[s.next]
		s.next++
		return c, nil
	}
	if s.script.Block {
		<-s.closed
		return "", io.ErrClosedPipe
	}
	if s.script.Err != nil {
		return "", s.script.Err
	}
	return "", io.EOF
}

func (s *scriptedStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}
