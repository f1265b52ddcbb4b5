package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/onnwee/s4u-chat/backend/telemetry"
)

// Publisher implements s4u.Transport by publishing each chunk to
// <prefix>.<chatID>.
type Publisher struct {
	nc     *nats.Conn
	prefix string
	now    func() time.Time
}

// NewPublisher returns a publisher for subjects under prefix.
func NewPublisher(nc *nats.Conn, prefix string) *Publisher {
	return &Publisher{nc: nc, prefix: prefix, now: time.Now}
}

// Subject returns the reply subject for chatID.
func (p *Publisher) Subject(chatID string) string {
	return p.prefix + "." + chatID
}

// Send implements s4u.Transport.
func (p *Publisher) Send(ctx context.Context, chatID, chunk string) error {
	data, err := encodeChunk(ReplyChunk{ChatID: chatID, Chunk: chunk, CorrID: telemetry.GetCorrelation(ctx), SentAt: p.now().UTC()})
	if err != nil {
		return err
	}
	if err := p.nc.Publish(p.Subject(chatID), data); err != nil {
		return fmt.Errorf("publish reply chunk: %w", err)
	}
	return nil
}

func encodeChunk(c ReplyChunk) ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode reply chunk: %w", err)
	}
	return data, nil
}
