package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/s4u-chat/backend/bus"
	"github.com/onnwee/s4u-chat/backend/telemetry"
)

// Hub fans outgoing reply chunks out to live SSE subscribers. It implements
// s4u.Transport; a chat with no subscribers still accepts chunks.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[chan bus.ReplyChunk]struct{}
	buffer int
}

// NewHub returns an empty hub. Each subscriber buffers up to buffer chunks;
// a subscriber that falls further behind misses chunks.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{subs: make(map[string]map[chan bus.ReplyChunk]struct{}), buffer: buffer}
}

// Subscribe registers a listener for chatID. The returned cancel func must be called.
func (h *Hub) Subscribe(chatID string) (<-chan bus.ReplyChunk, func()) {
	ch := make(chan bus.ReplyChunk, h.buffer)
	h.mu.Lock()
	if h.subs[chatID] == nil {
		h.subs[chatID] = make(map[chan bus.ReplyChunk]struct{})
	}
	h.subs[chatID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[chatID], ch)
			if len(h.subs[chatID]) == 0 {
				delete(h.subs, chatID)
			}
			h.mu.Unlock()
		})
	}
}

// Subscribers returns the number of listeners for chatID.
func (h *Hub) Subscribers(chatID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[chatID])
}

// Send implements s4u.Transport.
func (h *Hub) Send(ctx context.Context, chatID, chunk string) error {
	msg := bus.ReplyChunk{ChatID: chatID, Chunk: chunk, CorrID: telemetry.GetCorrelation(ctx), SentAt: time.Now().UTC()}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[chatID] {
		select {
		case ch <- msg:
		default:
			slog.Debug("sse subscriber lagging; chunk skipped", slog.String("chat_id", chatID), slog.String("component", "http_sse"))
		}
	}
	return nil
}
