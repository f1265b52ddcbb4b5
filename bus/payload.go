package bus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/onnwee/s4u-chat/backend/s4u"
)

// EventPayload is the JSON shape of an inbound chat event. The HTTP admin
// endpoint accepts the same document.
type EventPayload struct {
	ChatID     string    `json:"chat_id"`
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name,omitempty"`
	VIP        bool      `json:"vip,omitempty"`
	Priority   float64   `json:"priority,omitempty"`
	Kind       string    `json:"kind,omitempty"` // text (default), gift, superchat
	Text       string    `json:"text,omitempty"`
	GiftKind   string    `json:"gift_kind,omitempty"`
	Count      int       `json:"count,omitempty"`
	Price      float64   `json:"price,omitempty"`
	Timestamp  time.Time `json:"ts,omitempty"`
}

// Event converts the payload. Field validation is left to the scheduler.
func (p EventPayload) Event() (s4u.Event, error) {
	kind, err := s4u.ParseEventKind(p.Kind)
	if err != nil {
		return s4u.Event{}, &s4u.AdmissionError{ChatID: p.ChatID, Reason: err.Error()}
	}
	return s4u.Event{
		ChatID:           p.ChatID,
		SenderID:         p.SenderID,
		SenderName:       p.SenderName,
		IsVIP:            p.VIP,
		ExplicitPriority: p.Priority,
		Kind:             kind,
		Text:             p.Text,
		GiftKind:         p.GiftKind,
		Count:            p.Count,
		Price:            p.Price,
		Timestamp:        p.Timestamp,
	}, nil
}

// DecodeEvent parses one JSON event.
func DecodeEvent(data []byte) (s4u.Event, error) {
	var p EventPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return s4u.Event{}, fmt.Errorf("decode event: %w", err)
	}
	return p.Event()
}

// ReplyChunk is the JSON shape of an outbound reply chunk.
type ReplyChunk struct {
	ChatID string    `json:"chat_id"`
	Chunk  string    `json:"chunk"`
	CorrID string    `json:"corr_id,omitempty"`
	SentAt time.Time `json:"sent_at"`
}
