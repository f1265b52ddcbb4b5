package bus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/onnwee/s4u-chat/backend/s4u"
	"github.com/onnwee/s4u-chat/backend/telemetry"
)

// Sink receives decoded events.
type Sink interface {
	Submit(ctx context.Context, e s4u.Event) error
}

// Subscriber feeds events published on one subject into a Sink. A single
// worker preserves publish order per chat.
type Subscriber struct {
	nc         *nats.Conn
	subject    string
	queueGroup string
	bufferSize int
	sink       Sink

	sub     *nats.Subscription
	msgChan chan *nats.Msg
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewSubscriber returns a subscriber for subject. An empty queueGroup makes
// every replica receive every event.
func NewSubscriber(nc *nats.Conn, subject, queueGroup string, sink Sink) *Subscriber {
	return &Subscriber{nc: nc, subject: subject, queueGroup: queueGroup, bufferSize: 4096, sink: sink}
}

// Start subscribes and starts the worker.
func (s *Subscriber) Start(ctx context.Context) error {
	s.msgChan = make(chan *nats.Msg, s.bufferSize)
	workerCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	handler := func(msg *nats.Msg) {
		select {
		case s.msgChan <- msg:
		default:
			slog.Warn("event buffer full, dropping event", slog.Int("buffer", s.bufferSize), slog.String("component", "bus"))
		}
	}
	var (
		sub *nats.Subscription
		err error
	)
	if s.queueGroup != "" {
		sub, err = s.nc.QueueSubscribe(s.subject, s.queueGroup, handler)
	} else {
		sub, err = s.nc.Subscribe(s.subject, handler)
	}
	if err != nil {
		cancel()
		return err
	}
	s.sub = sub

	s.wg.Add(1)
	go s.worker(workerCtx)
	slog.Info("nats event subscriber started", slog.String("subject", s.subject), slog.String("component", "bus"))
	return nil
}

func (s *Subscriber) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-s.msgChan:
			s.handle(ctx, msg.Data)
		}
	}
}

func (s *Subscriber) handle(ctx context.Context, data []byte) {
	e, err := DecodeEvent(data)
	if err != nil {
		telemetry.IncRejected()
		slog.Warn("invalid event on bus", slog.Any("err", err), slog.String("subject", s.subject), slog.String("component", "bus"))
		return
	}
	if err := s.sink.Submit(ctx, e); err != nil {
		slog.Debug("bus event not admitted", slog.String("chat_id", e.ChatID), slog.Any("err", err), slog.String("component", "bus"))
	}
}

// Stop unsubscribes and waits for the worker.
func (s *Subscriber) Stop() {
	if s.sub != nil {
		if err := s.sub.Unsubscribe(); err != nil {
			slog.Debug("nats unsubscribe", slog.Any("err", err), slog.String("component", "bus"))
		}
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}
