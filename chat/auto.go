package chat

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Supervise runs the relay and reconnects with exponential backoff until ctx
// is done.
// Env knobs:
//
//	CHAT_RECONNECT_MIN (default 2s)
//	CHAT_RECONNECT_MAX (default 2m)
func Supervise(ctx context.Context, r *Relay, sink Sink) {
	minWait := envDuration("CHAT_RECONNECT_MIN", 2*time.Second)
	maxWait := envDuration("CHAT_RECONNECT_MAX", 2*time.Minute)
	wait := minWait
	for {
		started := time.Now()
		err := r.Run(ctx, sink)
		if ctx.Err() != nil {
			return
		}
		// a connection that stayed up for a while resets the backoff
		if time.Since(started) > maxWait {
			wait = minWait
		}
		slog.Warn("twitch chat disconnected; reconnecting", slog.Any("err", err), slog.Duration("backoff", wait), slog.String("component", "chat"))
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		wait = nextBackoff(wait, maxWait)
	}
}

func nextBackoff(cur, limit time.Duration) time.Duration {
	next := cur * 2
	if next > limit {
		return limit
	}
	return next
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}
