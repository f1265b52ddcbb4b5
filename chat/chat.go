package chat

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/s4u-chat/backend/s4u"
)

// Sink receives mapped chat events.
type Sink interface {
	Submit(ctx context.Context, e s4u.Event) error
}

// ircClient is the subset of *twitch.Client the relay uses.
type ircClient interface {
	OnPrivateMessage(func(twitch.PrivateMessage))
	OnUserNoticeMessage(func(twitch.UserNoticeMessage))
	OnConnect(func())
	Join(channels ...string)
	Say(channel, text string)
	Connect() error
	Disconnect() error
}

// vipBadges mark senders that go to the VIP queue.
var vipBadges = []string{"broadcaster", "moderator", "vip"}

// giftNotices are the USERNOTICE msg-ids that carry gifted subs.
var giftNotices = map[string]bool{"subgift": true, "submysterygift": true, "anonsubgift": true}

// Relay is one IRC connection used for both reading and replying.
type Relay struct {
	channels []string
	client   ircClient

	mu        sync.Mutex
	connected bool
}

// NewRelay returns a relay for channels authenticated as username.
func NewRelay(username, oauthToken string, channels []string) *Relay {
	return newRelay(twitch.NewClient(username, oauthToken), channels)
}

func newRelay(c ircClient, channels []string) *Relay {
	return &Relay{channels: channels, client: c}
}

// Connected reports whether the IRC connection is currently up.
func (r *Relay) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

func (r *Relay) setConnected(v bool) {
	r.mu.Lock()
	r.connected = v
	r.mu.Unlock()
}

// Run connects, forwards events to sink and blocks until ctx is done or the
// connection drops. It returns nil after a ctx-driven disconnect.
func (r *Relay) Run(ctx context.Context, sink Sink) error {
	forward := func(e s4u.Event) {
		if err := sink.Submit(ctx, e); err != nil {
			slog.Debug("chat event not admitted", slog.String("chat_id", e.ChatID), slog.String("sender", e.SenderID), slog.Any("err", err), slog.String("component", "chat"))
		}
	}
	r.client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		if e, ok := FromPrivateMessage(msg); ok {
			forward(e)
		}
	})
	r.client.OnUserNoticeMessage(func(msg twitch.UserNoticeMessage) {
		if e, ok := FromUserNotice(msg); ok {
			forward(e)
		}
	})

	// Handle context cancellation by closing the client
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = r.client.Disconnect()
		case <-stop:
		}
	}()

	r.client.OnConnect(func() {
		r.setConnected(true)
		slog.Info("twitch chat connected", slog.Any("channels", r.channels), slog.String("component", "chat"))
	})

	r.client.Join(r.channels...)
	slog.Info("twitch chat connecting", slog.Any("channels", r.channels), slog.String("component", "chat"))
	err := r.client.Connect()
	r.setConnected(false)
	if ctx.Err() != nil || errors.Is(err, twitch.ErrClientDisconnected) {
		return nil
	}
	return err
}

// Send implements s4u.Transport. chatID is the channel name.
func (r *Relay) Send(_ context.Context, chatID, chunk string) error {
	if !r.Connected() {
		return errors.New("twitch chat not connected")
	}
	r.client.Say(chatID, chunk)
	return nil
}

// FromPrivateMessage maps a PRIVMSG. Cheers become superchats priced in bits.
func FromPrivateMessage(msg twitch.PrivateMessage) (s4u.Event, bool) {
	text := strings.TrimSpace(msg.Message)
	if text == "" || msg.User.Name == "" {
		return s4u.Event{}, false
	}
	e := s4u.Event{
		ChatID:     strings.ToLower(msg.Channel),
		SenderID:   senderID(msg.User),
		SenderName: msg.User.DisplayName,
		IsVIP:      isVIP(msg.User.Badges),
		Kind:       s4u.EventText,
		Text:       text,
		Timestamp:  eventTime(msg.Time),
	}
	if msg.Bits > 0 {
		e.Kind = s4u.EventSuperchat
		e.Price = float64(msg.Bits)
	}
	return e, true
}

// FromUserNotice maps gifted-sub notices to gift events; other notices are ignored.
func FromUserNotice(msg twitch.UserNoticeMessage) (s4u.Event, bool) {
	if !giftNotices[msg.MsgID] {
		return s4u.Event{}, false
	}
	count := 1
	if msg.MsgID == "submysterygift" {
		if n, err := strconv.Atoi(msg.MsgParams["msg-param-mass-gift-count"]); err == nil && n > 0 {
			count = n
		}
	}
	user := msg.User
	if user.Name == "" {
		user.Name = "anonymous"
	}
	return s4u.Event{
		ChatID:     strings.ToLower(msg.Channel),
		SenderID:   senderID(user),
		SenderName: user.DisplayName,
		IsVIP:      isVIP(user.Badges),
		Kind:       s4u.EventGift,
		GiftKind:   "sub",
		Count:      count,
		Timestamp:  eventTime(msg.Time),
	}, true
}

func senderID(u twitch.User) string {
	if u.ID != "" {
		return u.ID
	}
	return strings.ToLower(u.Name)
}

func isVIP(badges map[string]int) bool {
	for _, b := range vipBadges {
		if badges[b] > 0 {
			return true
		}
	}
	return false
}

func eventTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
