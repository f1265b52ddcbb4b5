package s4u

import (
	"context"
	"errors"
)

// Transport delivers one reply chunk to a chat. Retries are the
// transport's business; the sender logs a failure and moves on.
type Transport interface {
	Send(ctx context.Context, chatID, chunk string) error
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, chatID, chunk string) error

func (f TransportFunc) Send(ctx context.Context, chatID, chunk string) error {
	return f(ctx, chatID, chunk)
}

// Fanout sends every chunk to each transport in order. A chunk counts as
// delivered when at least one transport accepted it; otherwise the joined
// errors are returned.
func Fanout(ts ...Transport) Transport {
	return TransportFunc(func(ctx context.Context, chatID, chunk string) error {
		var errs []error
		for _, t := range ts {
			if err := t.Send(ctx, chatID, chunk); err != nil {
				errs = append(errs, err)
			}
		}
		if len(errs) == len(ts) && len(errs) > 0 {
			return errors.Join(errs...)
		}
		return nil
	})
}
