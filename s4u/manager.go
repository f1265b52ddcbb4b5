package s4u

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/onnwee/s4u-chat/backend/telemetry"
)

// Manager is the registry of chat sessions. Sessions are created on the
// first event for a chat id and live until Close or idle reaping.
type Manager struct {
	ctx  context.Context
	opts Options
	deps Deps

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

// NewManager returns an empty registry. Session loops are bound to ctx.
func NewManager(ctx context.Context, opts Options, deps Deps) *Manager {
	return &Manager{
		ctx:      ctx,
		opts:     opts,
		deps:     deps,
		sessions: make(map[string]*Session),
	}
}

// Submit routes e to its chat session, creating the session if needed.
// Malformed events are counted, logged and returned as *AdmissionError.
func (m *Manager) Submit(ctx context.Context, e Event) error {
	if err := e.Validate(); err != nil {
		telemetry.IncRejected()
		telemetry.LoggerWithCorr(ctx).Warn("event rejected", slog.String("chat_id", e.ChatID), slog.String("sender", e.SenderID),
			slog.String("kind", e.Kind.String()), slog.Any("err", err), slog.String("component", "s4u_manager"))
		return err
	}
	// A reaped session refuses input; retry once against a fresh one.
	for attempt := 0; attempt < 2; attempt++ {
		s, err := m.session(e.ChatID, true)
		if err != nil {
			return err
		}
		err = s.Submit(e)
		if !errors.Is(err, ErrSessionClosed) {
			return err
		}
		m.forget(s)
	}
	return ErrSessionClosed
}

func (m *Manager) session(id string, create bool) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrSessionClosed
	}
	if s, ok := m.sessions[id]; ok {
		return s, nil
	}
	if !create {
		return nil, nil
	}
	s := NewSession(m.ctx, id, m.opts, m.deps)
	m.sessions[id] = s
	telemetry.SetActiveSessions(len(m.sessions))
	slog.Info("chat session created", slog.String("chat_id", id), slog.String("component", "s4u_manager"))
	return s, nil
}

func (m *Manager) forget(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.sessions[s.id]; ok && cur == s {
		delete(m.sessions, s.id)
		telemetry.SetActiveSessions(len(m.sessions))
	}
}

// Session returns the session for id, or nil.
func (m *Manager) Session(id string) *Session {
	s, _ := m.session(id, false)
	return s
}

// Snapshots returns every session's snapshot ordered by chat id.
func (m *Manager) Snapshots() []Snapshot {
	m.mu.Lock()
	list := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	m.mu.Unlock()

	out := make([]Snapshot, 0, len(list))
	for _, s := range list {
		out = append(out, s.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChatID < out[j].ChatID })
	return out
}

// Pause holds reply output for chatID. It reports whether the session exists.
func (m *Manager) Pause(chatID string) bool {
	s := m.Session(chatID)
	if s == nil {
		return false
	}
	s.Pause()
	return true
}

// Resume releases output held by Pause.
func (m *Manager) Resume(chatID string) bool {
	s := m.Session(chatID)
	if s == nil {
		return false
	}
	s.Resume()
	return true
}

// Reap closes sessions that have been idle for at least the configured
// timeout and returns how many were removed. It is a no-op when idle
// eviction is disabled.
func (m *Manager) Reap(now time.Time) int {
	idle := m.opts.SessionIdleTimeout
	if idle <= 0 {
		return 0
	}
	m.mu.Lock()
	var victims []*Session
	for id, s := range m.sessions {
		if s.markClosedIfIdle(now, idle) {
			delete(m.sessions, id)
			victims = append(victims, s)
		}
	}
	telemetry.SetActiveSessions(len(m.sessions))
	m.mu.Unlock()

	for _, s := range victims {
		s.shutdown()
		slog.Info("idle chat session reaped", slog.String("chat_id", s.id), slog.String("component", "s4u_manager"))
	}
	return len(victims)
}

// StartReaper runs Reap on a ticker until ctx is done. It returns
// immediately when idle eviction is disabled.
func (m *Manager) StartReaper(ctx context.Context) {
	idle := m.opts.SessionIdleTimeout
	if idle <= 0 {
		return
	}
	interval := idle / 2
	if interval < time.Second {
		interval = time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Reap(m.deps.now())
			}
		}
	}()
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close shuts every session down. Later submits fail with ErrSessionClosed.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	list := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		list = append(list, s)
		delete(m.sessions, id)
	}
	telemetry.SetActiveSessions(0)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range list {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.Close()
		}(s)
	}
	wg.Wait()
}
