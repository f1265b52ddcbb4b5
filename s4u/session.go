package s4u

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/s4u-chat/backend/config"
	"github.com/onnwee/s4u-chat/backend/telemetry"
)

// Options are the per-session scheduling knobs.
type Options struct {
	VIPQueuePriority          bool
	MessageTimeout            time.Duration
	RecentMessageKeepCount    int
	EnableOldMessageCleanup   bool
	EnableMessageInterruption bool
	DebounceTimeout           time.Duration
	InterestDecayFactor       float64
	Pacing                    Pacing
	GenerationTimeout         time.Duration
	FallbackReply             string
	SessionIdleTimeout        time.Duration
}

// OptionsFromConfig maps the loaded scheduler config.
func OptionsFromConfig(c config.Scheduler) Options {
	return Options{
		VIPQueuePriority:          c.VIPQueuePriority,
		MessageTimeout:            c.MessageTimeout,
		RecentMessageKeepCount:    c.RecentMessageKeepCount,
		EnableOldMessageCleanup:   c.EnableOldMessageCleanup,
		EnableMessageInterruption: c.EnableMessageInterruption,
		DebounceTimeout:           c.DebounceTimeout,
		InterestDecayFactor:       c.InterestDecayFactor,
		Pacing: Pacing{
			Dynamic:        c.EnableDynamicTypingDelay,
			CharsPerSecond: c.CharsPerSecond,
			Min:            c.MinTypingDelay,
			Max:            c.MaxTypingDelay,
			Fixed:          c.FixedTypingDelay,
		},
		GenerationTimeout:  c.GenerationTimeout,
		FallbackReply:      c.FallbackReply,
		SessionIdleTimeout: c.SessionIdleTimeout,
	}
}

// Deps are the collaborators a session talks to.
type Deps struct {
	Generator Generator
	Transport Transport
	Recorder  Recorder         // optional
	Now       func() time.Time // optional; defaults to time.Now
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// ActiveSnapshot describes the task in flight.
type ActiveSnapshot struct {
	CorrID        string    `json:"corr_id"`
	SenderID      string    `json:"sender_id"`
	Tier          string    `json:"tier"`
	Sequence      uint64    `json:"sequence"`
	PriorityScore float64   `json:"priority_score"`
	StartedAt     time.Time `json:"started_at"`
}

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	ChatID         string          `json:"chat_id"`
	VIPQueued      int             `json:"vip_queued"`
	NormalQueued   int             `json:"normal_queued"`
	PendingGifts   int             `json:"pending_gifts"`
	TrackedSenders int             `json:"tracked_senders"`
	Sequence       uint64          `json:"sequence"`
	Paused         bool            `json:"paused"`
	LastActivity   time.Time       `json:"last_activity"`
	Active         *ActiveSnapshot `json:"active,omitempty"`
}

type activeTask struct {
	msg           *QueuedMessage
	corrID        string
	cancel        context.CancelFunc
	sender        *TypingSender
	startedAt     time.Time
	interruptedAt time.Time
}

// Session schedules replies for one chat. Submit is safe for concurrent
// callers; queue pops, evictions and the active task slot are only changed
// by the session's own loop goroutine.
type Session struct {
	id   string
	opts Options
	deps Deps

	interest *InterestTracker
	gifts    *GiftAggregator

	mu           sync.Mutex
	vip          PriorityQueue
	normal       PriorityQueue
	counter      uint64
	active       *activeTask
	paused       bool
	closed       bool
	lastActivity time.Time

	wake   chan struct{}
	stop   context.CancelFunc
	done   chan struct{}
	logger *slog.Logger
}

// NewSession starts a session loop bound to ctx. Close stops it.
func NewSession(ctx context.Context, id string, opts Options, deps Deps) *Session {
	loopCtx, stop := context.WithCancel(ctx)
	s := &Session{
		id:           id,
		opts:         opts,
		deps:         deps,
		interest:     NewInterestTracker(opts.InterestDecayFactor),
		wake:         make(chan struct{}, 1),
		stop:         stop,
		done:         make(chan struct{}),
		lastActivity: deps.now(),
		logger:       slog.Default().With(slog.String("chat_id", id), slog.String("component", "s4u_session")),
	}
	s.gifts = NewGiftAggregator(opts.DebounceTimeout, s.admitGift)
	go s.run(loopCtx)
	return s
}

// ID returns the chat id.
func (s *Session) ID() string { return s.id }

// Submit ingests one event. Gifts are debounced; everything else is
// admitted immediately. Malformed events return an *AdmissionError.
func (s *Session) Submit(e Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.lastActivity = s.deps.now()
	s.mu.Unlock()

	switch e.Kind {
	case EventGift:
		s.gifts.Submit(e)
		return nil
	case EventSuperchat:
		s.interest.Bump(e.SenderID, 0.1*e.Price)
	}
	return s.admit(e)
}

// admitGift is the debounce flush callback.
func (s *Session) admitGift(b GiftBatch) error {
	telemetry.IncGiftBatches()
	s.interest.Bump(b.SenderID, 0.1*float64(b.TotalCount))
	return s.admit(b.Event())
}

func (s *Session) admit(e Event) error {
	now := s.deps.now()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.interest.Touch(e.SenderID)
	s.interest.DecayAll()
	s.counter++
	m := &QueuedMessage{
		ChatID:           s.id,
		SenderID:         e.SenderID,
		SenderName:       e.displayName(),
		Kind:             e.Kind,
		ExplicitPriority: e.ExplicitPriority,
		PriorityScore:    e.ExplicitPriority + s.interest.Get(e.SenderID),
		Sequence:         s.counter,
		ArrivedAt:        now,
		Text:             messageText(e),
	}
	if e.IsVIP {
		m.Tier = TierVIP
		s.vip.Push(m)
	} else {
		s.normal.Push(m)
	}
	s.lastActivity = now
	s.maybeInterruptLocked(m, now)
	s.publishDepthLocked()
	s.mu.Unlock()

	telemetry.IncAdmitted(m.Tier.String())
	s.logger.Debug("message admitted", slog.String("sender", m.SenderID), slog.String("tier", m.Tier.String()),
		slog.Uint64("seq", m.Sequence), slog.Float64("priority", m.PriorityScore))
	s.signal()
	return nil
}

// shouldInterrupt applies the interruption matrix to the active message
// and a newly admitted one.
func shouldInterrupt(cur, next *QueuedMessage) bool {
	switch {
	case cur.Tier == TierVIP:
		return false
	case next.Tier == TierVIP:
		return true
	case next.PriorityScore > cur.PriorityScore:
		return true
	case next.SenderID == cur.SenderID && next.PriorityScore >= cur.PriorityScore:
		return true
	}
	return false
}

func (s *Session) maybeInterruptLocked(m *QueuedMessage, now time.Time) {
	a := s.active
	if a == nil || !s.opts.EnableMessageInterruption || !a.interruptedAt.IsZero() {
		return
	}
	if !shouldInterrupt(a.msg, m) {
		return
	}
	a.interruptedAt = now
	a.cancel()
	telemetry.IncInterruptions()
	s.logger.Info("active reply interrupted",
		slog.String("active_sender", a.msg.SenderID), slog.Uint64("active_seq", a.msg.Sequence),
		slog.String("new_sender", m.SenderID), slog.Uint64("new_seq", m.Sequence), slog.String("new_tier", m.Tier.String()))
}

func (s *Session) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Session) publishDepthLocked() {
	telemetry.SetQueueDepth(s.id, "vip", s.vip.Len())
	telemetry.SetQueueDepth(s.id, "normal", s.normal.Len())
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	for {
		a, taskCtx := s.next(ctx)
		if a == nil {
			select {
			case <-ctx.Done():
				return
			case <-s.wake:
			}
			continue
		}
		s.serve(taskCtx, a)
		if ctx.Err() != nil {
			return
		}
	}
}

// next evicts stale and expired entries, pops the message to serve and
// claims the active slot for it in the same critical section, so an
// arrival after the pop is always checked against the new task.
func (s *Session) next(ctx context.Context) (*activeTask, context.Context) {
	now := s.deps.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(now)
	m := s.popLocked()
	s.publishDepthLocked()
	if m == nil {
		return nil, nil
	}
	corrID := uuid.NewString()
	taskCtx, cancel := context.WithCancel(telemetry.WithCorrelation(ctx, corrID))
	a := &activeTask{
		msg:       m,
		corrID:    corrID,
		cancel:    cancel,
		sender:    NewTypingSender(s.deps.Transport, s.id, s.opts.Pacing),
		startedAt: now,
	}
	if s.paused {
		a.sender.Pause()
	}
	s.active = a
	return a, taskCtx
}

func (s *Session) popLocked() *QueuedMessage {
	if s.opts.VIPQueuePriority {
		if m := s.vip.Pop(); m != nil {
			return m
		}
		return s.normal.Pop()
	}
	v, n := s.vip.Peek(), s.normal.Peek()
	switch {
	case v == nil:
		return s.normal.Pop()
	case n == nil || servedBefore(v, n):
		return s.vip.Pop()
	}
	return s.normal.Pop()
}

func (s *Session) pruneLocked(now time.Time) {
	stale := s.normal.PruneStale(s.counter, s.opts.RecentMessageKeepCount)
	telemetry.AddEvicted("stale", stale)
	if s.opts.EnableOldMessageCleanup {
		expired := s.vip.PruneExpired(now, s.opts.MessageTimeout) + s.normal.PruneExpired(now, s.opts.MessageTimeout)
		telemetry.AddEvicted("expired", expired)
		stale += expired
	}
	if stale > 0 {
		s.logger.Debug("queued messages evicted", slog.Int("count", stale))
	}
}

// serve runs the claimed task to completion or interruption.
func (s *Session) serve(taskCtx context.Context, a *activeTask) {
	defer a.cancel()
	m, corrID, sender, started := a.msg, a.corrID, a.sender, a.startedAt

	telemetry.Observe(telemetry.QueueWaitDuration, started.Sub(m.ArrivedAt))
	spanCtx, span := telemetry.StartSpan(taskCtx, "s4u", "generation_task",
		telemetry.ChatIDAttr(s.id), telemetry.SenderAttr(m.SenderID), telemetry.TierAttr(m.Tier.String()))

	task := &generationTask{
		req:      Request{ChatID: s.id, CorrID: corrID, Message: *m},
		gen:      s.deps.Generator,
		sender:   sender,
		timeout:  s.opts.GenerationTimeout,
		fallback: s.opts.FallbackReply,
	}
	res := task.run(spanCtx)
	finished := s.deps.now()

	if res.err != nil {
		telemetry.RecordError(span, res.err)
	} else {
		telemetry.SetSpanSuccess(span)
	}
	span.End()

	s.mu.Lock()
	interruptedAt := a.interruptedAt
	s.active = nil
	s.lastActivity = finished
	s.mu.Unlock()

	telemetry.IncTaskOutcome(string(res.outcome))
	telemetry.Observe(telemetry.TaskDuration, finished.Sub(started))
	if res.outcome == OutcomeInterrupted && !interruptedAt.IsZero() {
		telemetry.Observe(telemetry.CancelLatency, finished.Sub(interruptedAt))
	}
	telemetry.LoggerWithCorr(taskCtx).Info("reply task finished",
		slog.String("chat_id", s.id), slog.String("sender", m.SenderID), slog.Uint64("seq", m.Sequence),
		slog.String("outcome", string(res.outcome)), slog.Int("chunks", len(sender.Delivered())), slog.Int("failed", sender.Failed()),
		slog.Duration("took", finished.Sub(started)), slog.String("component", "s4u_session"))

	if s.deps.Recorder != nil {
		delivered := sender.Delivered()
		rec := TaskRecord{
			ChatID:        s.id,
			CorrID:        corrID,
			SenderID:      m.SenderID,
			Tier:          m.Tier,
			Sequence:      m.Sequence,
			PriorityScore: m.PriorityScore,
			Prompt:        m.Text,
			Outcome:       res.outcome,
			Reply:         strings.Join(delivered, ""),
			ChunksSent:    len(delivered),
			ChunksDropped: sender.Dropped(),
			ChunksFailed:  sender.Failed(),
			StartedAt:     started,
			FinishedAt:    finished,
		}
		if res.err != nil {
			rec.Err = res.err.Error()
		}
		recCtx, recCancel := context.WithTimeout(context.WithoutCancel(taskCtx), 5*time.Second)
		if err := s.deps.Recorder.RecordTask(recCtx, rec); err != nil {
			s.logger.Warn("task record failed", slog.Any("err", err), slog.String("corr", corrID))
		}
		recCancel()
	}
}

// Pause holds output of the active task and of tasks started while paused.
func (s *Session) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
	if s.active != nil {
		s.active.sender.Pause()
	}
}

// Resume releases output held by Pause.
func (s *Session) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
	if s.active != nil {
		s.active.sender.Resume()
	}
}

// Interest returns the sender's current interest score.
func (s *Session) Interest(sender string) float64 { return s.interest.Get(sender) }

// Snapshot returns the session's current state.
func (s *Session) Snapshot() Snapshot {
	pending := s.gifts.Pending()
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		ChatID:         s.id,
		VIPQueued:      s.vip.Len(),
		NormalQueued:   s.normal.Len(),
		PendingGifts:   pending,
		TrackedSenders: s.interest.Len(),
		Sequence:       s.counter,
		Paused:         s.paused,
		LastActivity:   s.lastActivity,
	}
	if a := s.active; a != nil {
		snap.Active = &ActiveSnapshot{
			CorrID:        a.corrID,
			SenderID:      a.msg.SenderID,
			Tier:          a.msg.Tier.String(),
			Sequence:      a.msg.Sequence,
			PriorityScore: a.msg.PriorityScore,
			StartedAt:     a.startedAt,
		}
	}
	return snap
}

// markClosedIfIdle closes the session for new input when it has been
// quiet for at least idle. The caller must then call shutdown.
func (s *Session) markClosedIfIdle(now time.Time, idle time.Duration) bool {
	pending := s.gifts.Pending()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.active != nil || s.vip.Len() > 0 || s.normal.Len() > 0 || pending > 0 {
		return false
	}
	if now.Sub(s.lastActivity) < idle {
		return false
	}
	s.closed = true
	return true
}

// Close stops the loop, cancels the active task and drops queued messages.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.shutdown()
}

func (s *Session) shutdown() {
	s.gifts.Stop()
	s.mu.Lock()
	if s.active != nil {
		s.active.cancel()
	}
	s.mu.Unlock()
	s.stop()
	<-s.done
	s.mu.Lock()
	dropped := s.vip.Drain() + s.normal.Drain()
	s.mu.Unlock()
	telemetry.DeleteQueueDepth(s.id)
	s.logger.Info("session closed", slog.Int("dropped_messages", dropped))
}
