package bus

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/onnwee/s4u-chat/backend/s4u"
)

func TestDecodeEvent(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr bool
		admit   bool // passes s4u validation
		kind    s4u.EventKind
	}{
		{"text default kind", `{"chat_id":"room","sender_id":"u1","text":"hi"}`, false, true, s4u.EventText},
		{"gift", `{"chat_id":"room","sender_id":"u1","kind":"gift","gift_kind":"rose","count":3}`, false, true, s4u.EventGift},
		{"superchat", `{"chat_id":"room","sender_id":"u1","kind":"SuperChat","text":"yo","price":5}`, false, true, s4u.EventSuperchat},
		{"gift without count", `{"chat_id":"room","sender_id":"u1","kind":"gift","gift_kind":"rose"}`, false, false, s4u.EventGift},
		{"unknown kind", `{"chat_id":"room","sender_id":"u1","kind":"sticker"}`, true, false, 0},
		{"not json", `{`, true, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := DecodeEvent([]byte(tt.data))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if e.Kind != tt.kind {
				t.Fatalf("kind = %v, want %v", e.Kind, tt.kind)
			}
			if got := e.Validate() == nil; got != tt.admit {
				t.Fatalf("validate ok = %v, want %v", got, tt.admit)
			}
		})
	}
}

func TestDecodeEvent_UnknownKindIsAdmissionError(t *testing.T) {
	_, err := DecodeEvent([]byte(`{"chat_id":"room","sender_id":"u","kind":"emote"}`))
	if !s4u.IsAdmissionError(err) {
		t.Fatalf("err = %v, want admission error", err)
	}
}

type captureSink struct{ events []s4u.Event }

func (c *captureSink) Submit(_ context.Context, e s4u.Event) error {
	c.events = append(c.events, e)
	return nil
}

func TestSubscriber_HandleSkipsBadPayloads(t *testing.T) {
	sink := &captureSink{}
	s := NewSubscriber(nil, "s4u.events", "", sink)
	s.handle(context.Background(), []byte(`garbage`))
	s.handle(context.Background(), []byte(`{"chat_id":"room","sender_id":"u","text":"hello"}`))
	if len(sink.events) != 1 || sink.events[0].Text != "hello" {
		t.Fatalf("events = %+v", sink.events)
	}
}

func TestPublisher_Subject(t *testing.T) {
	p := NewPublisher(nil, "s4u.replies")
	if got := p.Subject("streamer"); got != "s4u.replies.streamer" {
		t.Fatalf("subject = %q", got)
	}
}

// TestPublisher_RoundTrip needs a NATS server: TEST_NATS_URL=nats://localhost:4222
func TestPublisher_RoundTrip(t *testing.T) {
	url := os.Getenv("TEST_NATS_URL")
	if url == "" {
		t.Skip("TEST_NATS_URL not set")
	}
	c, err := Connect(url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()

	sub, err := c.Conn().SubscribeSync("s4u.test.replies.room")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	p := NewPublisher(c.Conn(), "s4u.test.replies")
	if err := p.Send(context.Background(), "room", "hello"); err != nil {
		t.Fatalf("send: %v", err)
	}
	msg, err := sub.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("next msg: %v", err)
	}
	var got ReplyChunk
	if err := json.Unmarshal(msg.Data, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Chunk != "hello" || got.ChatID != "room" {
		t.Fatalf("chunk = %+v", got)
	}
}
