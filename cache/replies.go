// Package cache keeps a short rolling window of recent replies per chat in
// Redis, so reply history survives restarts without a database.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/onnwee/s4u-chat/backend/db"
	"github.com/onnwee/s4u-chat/backend/s4u"
)

const keyPrefix = "s4u:replies:"

// Options configures RecentReplies.
type Options struct {
	Addr     string
	Password string
	DB       int
	Keep     int           // replies kept per chat; default 200
	TTL      time.Duration // list expiry after the last write; default 24h
}

// RecentReplies is a Redis-backed reply log. It implements s4u.Recorder and
// the reply listing the HTTP API needs.
type RecentReplies struct {
	rdb  *redis.Client
	keep int
	ttl  time.Duration
}

// New connects to Redis. The connection is lazy; use Ping to verify it.
func New(opts Options) *RecentReplies {
	if opts.Keep <= 0 {
		opts.Keep = 200
	}
	if opts.TTL <= 0 {
		opts.TTL = 24 * time.Hour
	}
	return &RecentReplies{
		rdb: redis.NewClient(&redis.Options{
			Addr:     opts.Addr,
			Password: opts.Password,
			DB:       opts.DB,
		}),
		keep: opts.Keep,
		ttl:  opts.TTL,
	}
}

func replyKey(chatID string) string { return keyPrefix + chatID }

// RecordTask pushes the task onto the chat's list and trims it.
func (c *RecentReplies) RecordTask(ctx context.Context, rec s4u.TaskRecord) error {
	data, err := json.Marshal(db.ReplyFromRecord(rec))
	if err != nil {
		return fmt.Errorf("marshal reply: %w", err)
	}
	key := replyKey(rec.ChatID)
	pipe := c.rdb.Pipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, int64(c.keep-1))
	pipe.Expire(ctx, key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record reply in redis: %w", err)
	}
	return nil
}

// ListReplies returns up to limit replies for chatID, newest first.
// Entries that fail to decode are skipped.
func (c *RecentReplies) ListReplies(ctx context.Context, chatID string, limit int) ([]db.Reply, error) {
	if limit <= 0 || limit > c.keep {
		limit = c.keep
	}
	raw, err := c.rdb.LRange(ctx, replyKey(chatID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list replies from redis: %w", err)
	}
	out := make([]db.Reply, 0, len(raw))
	for _, item := range raw {
		var r db.Reply
		if err := json.Unmarshal([]byte(item), &r); err != nil {
			slog.Warn("skipping undecodable cached reply", slog.String("chat_id", chatID), slog.Any("err", err), slog.String("component", "cache"))
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// Ping checks the connection. It doubles as a readiness check.
func (c *RecentReplies) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close releases the connection pool.
func (c *RecentReplies) Close() error {
	return c.rdb.Close()
}
