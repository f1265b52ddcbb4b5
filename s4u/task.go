package s4u

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/s4u-chat/backend/telemetry"
)

// Request is what a Generator is asked to answer.
type Request struct {
	ChatID  string
	CorrID  string
	Message QueuedMessage
}

// Stream is a lazy sequence of reply chunks. Recv returns io.EOF after the
// last chunk. Close may be called while a Recv is blocked and should
// unblock it.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// Generator produces reply streams. It is external to the scheduler.
type Generator interface {
	Generate(ctx context.Context, req Request) (Stream, error)
}

// Outcome is how a generation task ended.
type Outcome string

const (
	OutcomeCompleted   Outcome = "completed"
	OutcomeInterrupted Outcome = "interrupted"
	OutcomeFallback    Outcome = "fallback"
)

// TaskRecord summarizes a finished task for a Recorder.
type TaskRecord struct {
	ChatID        string
	CorrID        string
	SenderID      string
	Tier          Tier
	Sequence      uint64
	PriorityScore float64
	Prompt        string
	Outcome       Outcome
	Reply         string
	ChunksSent    int
	ChunksDropped int
	ChunksFailed  int
	Err           string
	StartedAt     time.Time
	FinishedAt    time.Time
}

// Recorder receives task summaries. Errors are logged, never propagated.
type Recorder interface {
	RecordTask(ctx context.Context, rec TaskRecord) error
}

// Recorders combines several recorders. Every recorder sees every record;
// failures are joined.
func Recorders(rs ...Recorder) Recorder {
	return multiRecorder(rs)
}

type multiRecorder []Recorder

func (m multiRecorder) RecordTask(ctx context.Context, rec TaskRecord) error {
	var errs []error
	for _, r := range m {
		if err := r.RecordTask(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// generationTask drives one Generator stream into one TypingSender.
type generationTask struct {
	req      Request
	gen      Generator
	sender   *TypingSender
	timeout  time.Duration
	fallback string
}

type taskResult struct {
	outcome Outcome
	err     error
}

// run blocks until the reply has been delivered, replaced by the fallback,
// or abandoned because ctx was cancelled.
func (t *generationTask) run(ctx context.Context) taskResult {
	go t.sender.Run(ctx)

	genErr := t.pump(ctx)
	interrupted := ctx.Err() != nil

	switch {
	case interrupted && genErr != nil:
		// cancelled mid-generation; the sender has already stopped or will
		// stop at its next cancellation check
		t.sender.Close()
		<-t.sender.Done()
		return taskResult{outcome: OutcomeInterrupted}
	case genErr != nil:
		telemetry.LoggerWithCorr(ctx).Warn("reply generation failed; sending fallback",
			slog.String("chat_id", t.req.ChatID), slog.Any("err", genErr), slog.String("component", "s4u_task"))
		t.sender.Push(t.fallback)
		t.sender.Close()
		<-t.sender.Done()
		if t.sender.Dropped() > 0 {
			return taskResult{outcome: OutcomeInterrupted, err: genErr}
		}
		return taskResult{outcome: OutcomeFallback, err: genErr}
	}

	t.sender.Close()
	<-t.sender.Done()
	if t.sender.Dropped() > 0 {
		return taskResult{outcome: OutcomeInterrupted}
	}
	// a cancel that arrives after every chunk went out is a normal completion
	return taskResult{outcome: OutcomeCompleted}
}

type streamItem struct {
	chunk string
	err   error
}

// pump forwards generator chunks to the sender. It returns nil when the
// stream ends normally, the context error on timeout or cancellation, or
// the generator's error.
func (t *generationTask) pump(ctx context.Context) error {
	genCtx := ctx
	if t.timeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	// Generate and Recv both run on their own goroutine so a generator that
	// ignores ctx cannot hold the task past a cancellation.
	items := make(chan streamItem)
	go t.stream(genCtx, items)

	for {
		select {
		case <-genCtx.Done():
			return genCtx.Err()
		case it, ok := <-items:
			if !ok {
				return genCtx.Err()
			}
			if errors.Is(it.err, io.EOF) {
				if it.chunk != "" && ctx.Err() == nil {
					t.sender.Push(it.chunk)
				}
				return nil
			}
			if it.err != nil {
				if genCtx.Err() != nil {
					return genCtx.Err()
				}
				return it.err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if strings.TrimSpace(it.chunk) == "" {
				continue
			}
			t.sender.Push(it.chunk)
		}
	}
}

// stream opens the generator and feeds items until the stream ends or ctx
// is done. A cancelled ctx closes the stream to unblock a pending Recv.
func (t *generationTask) stream(ctx context.Context, items chan<- streamItem) {
	defer close(items)
	stream, err := t.gen.Generate(ctx, t.req)
	if err != nil {
		select {
		case items <- streamItem{err: err}:
		case <-ctx.Done():
		}
		return
	}
	closeStream := sync.OnceFunc(func() {
		if err := stream.Close(); err != nil {
			slog.Debug("reply stream close", slog.Any("err", err), slog.String("component", "s4u_task"))
		}
	})
	defer closeStream()
	stop := context.AfterFunc(ctx, closeStream)
	defer stop()

	for {
		chunk, err := stream.Recv()
		select {
		case items <- streamItem{chunk: chunk, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}
