package s4u

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// EventKind tags what an ingested Event carries.
type EventKind int

const (
	EventText EventKind = iota
	EventGift
	EventSuperchat
)

func (k EventKind) String() string {
	switch k {
	case EventText:
		return "text"
	case EventGift:
		return "gift"
	case EventSuperchat:
		return "superchat"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseEventKind maps the wire names used by the HTTP and NATS adapters.
func ParseEventKind(s string) (EventKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text":
		return EventText, nil
	case "gift":
		return EventGift, nil
	case "superchat":
		return EventSuperchat, nil
	}
	return 0, fmt.Errorf("unknown event kind %q", s)
}

// Event is one item delivered by an ingestion adapter.
// GiftKind and Count apply to EventGift; Price applies to EventSuperchat.
type Event struct {
	ChatID           string
	SenderID         string
	SenderName       string
	IsVIP            bool
	ExplicitPriority float64
	Kind             EventKind
	Text             string
	GiftKind         string
	Count            int
	Price            float64
	Timestamp        time.Time
}

// displayName falls back to the sender id when the platform gave no name.
func (e Event) displayName() string {
	if e.SenderName != "" {
		return e.SenderName
	}
	return e.SenderID
}

// AdmissionError reports a malformed event. Such events are dropped.
type AdmissionError struct {
	ChatID string
	Reason string
}

func (e *AdmissionError) Error() string {
	if e.ChatID == "" {
		return "admission: " + e.Reason
	}
	return fmt.Sprintf("admission (chat %s): %s", e.ChatID, e.Reason)
}

// IsAdmissionError reports whether err is (or wraps) an AdmissionError.
func IsAdmissionError(err error) bool {
	var ae *AdmissionError
	return errors.As(err, &ae)
}

// ErrSessionClosed is returned when submitting to a session that has shut down.
var ErrSessionClosed = errors.New("s4u: session closed")

// Validate checks the fields required by the event's kind.
func (e Event) Validate() error {
	reject := func(reason string) error { return &AdmissionError{ChatID: e.ChatID, Reason: reason} }
	if strings.TrimSpace(e.ChatID) == "" {
		return reject("missing chat id")
	}
	if strings.TrimSpace(e.SenderID) == "" {
		return reject("missing sender id")
	}
	switch e.Kind {
	case EventText:
		if strings.TrimSpace(e.Text) == "" {
			return reject("empty text")
		}
	case EventGift:
		if strings.TrimSpace(e.GiftKind) == "" {
			return reject("gift without gift kind")
		}
		if e.Count <= 0 {
			return reject(fmt.Sprintf("gift count must be positive, got %d", e.Count))
		}
	case EventSuperchat:
		if e.Price < 0 {
			return reject(fmt.Sprintf("negative superchat price %v", e.Price))
		}
		if strings.TrimSpace(e.Text) == "" {
			return reject("empty superchat text")
		}
	default:
		return reject("unknown event kind " + e.Kind.String())
	}
	return nil
}

// Tier is the queue a message is admitted to.
type Tier int

const (
	TierNormal Tier = iota
	TierVIP
)

func (t Tier) String() string {
	if t == TierVIP {
		return "vip"
	}
	return "normal"
}

// QueuedMessage is an admitted message waiting for (or under) service.
// PriorityScore and Sequence are assigned at admission and never change.
type QueuedMessage struct {
	ChatID           string
	SenderID         string
	SenderName       string
	Tier             Tier
	Kind             EventKind
	ExplicitPriority float64
	PriorityScore    float64
	Sequence         uint64
	ArrivedAt        time.Time
	Text             string
}

// messageText renders the payload the generator sees for an event.
func messageText(e Event) string {
	switch e.Kind {
	case EventSuperchat:
		return fmt.Sprintf("[SuperChat %.2f] %s", e.Price, e.Text)
	case EventGift:
		return giftText(e.displayName(), e.GiftKind, e.Count)
	default:
		return e.Text
	}
}

func giftText(sender, giftKind string, count int) string {
	return fmt.Sprintf("%s sent %s x%d", sender, giftKind, count)
}
