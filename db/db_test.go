package db

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/onnwee/s4u-chat/backend/s4u"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set; skipping postgres test")
	}
	db, err := Connect(dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestConnect_EmptyDSN(t *testing.T) {
	if _, err := Connect(""); err == nil {
		t.Fatalf("expected error for empty dsn")
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := Migrate(ctx, db); err != nil {
			t.Fatalf("migrate run %d: %v", i+1, err)
		}
	}
}

func TestReplyStore_RecordAndList(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	if err := Migrate(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	chatID := "test_reply_store"
	t.Cleanup(func() {
		_, _ = db.ExecContext(context.Background(), `DELETE FROM chat_replies WHERE chat_id=$1`, chatID)
	})

	store := &ReplyStore{DB: db}
	base := time.Date(2024, 10, 15, 14, 30, 0, 0, time.UTC)
	records := []s4u.TaskRecord{
		{ChatID: chatID, CorrID: "c1", SenderID: "bob", Tier: s4u.TierNormal, Sequence: 1, PriorityScore: 0.95, Prompt: "hi", Outcome: s4u.OutcomeInterrupted, Reply: "hel", ChunksSent: 1, ChunksDropped: 2, StartedAt: base, FinishedAt: base.Add(time.Second)},
		{ChatID: chatID, CorrID: "c2", SenderID: "vip", Tier: s4u.TierVIP, Sequence: 2, PriorityScore: 0.95, Prompt: "yo", Outcome: s4u.OutcomeCompleted, Reply: "hey there", ChunksSent: 2, StartedAt: base.Add(time.Second), FinishedAt: base.Add(3 * time.Second)},
		{ChatID: chatID, CorrID: "c3", SenderID: "bob", Tier: s4u.TierNormal, Sequence: 3, PriorityScore: 0.9, Prompt: "again", Outcome: s4u.OutcomeFallback, Reply: "sorry", ChunksSent: 1, Err: "timeout", StartedAt: base.Add(3 * time.Second), FinishedAt: base.Add(5 * time.Second)},
	}
	for _, r := range records {
		if err := store.RecordTask(ctx, r); err != nil {
			t.Fatalf("record %s: %v", r.CorrID, err)
		}
	}

	got, err := store.ListReplies(ctx, chatID, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].CorrID != "c3" || got[1].CorrID != "c2" {
		t.Fatalf("replies = %+v", got)
	}
	if got[0].Error != "timeout" || got[1].Tier != "vip" {
		t.Fatalf("fields not round-tripped: %+v", got)
	}

	counts, err := store.OutcomeCounts(ctx, chatID)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts["completed"] != 1 || counts["interrupted"] != 1 || counts["fallback"] != 1 {
		t.Fatalf("counts = %v", counts)
	}
}

func TestReplyFromRecord(t *testing.T) {
	at := time.Date(2024, 10, 15, 14, 30, 0, 0, time.UTC)
	r := ReplyFromRecord(s4u.TaskRecord{
		ChatID: "room", CorrID: "c9", SenderID: "amy", Tier: s4u.TierVIP, Sequence: 7,
		PriorityScore: 1.5, Outcome: s4u.OutcomeFallback, Reply: "sorry", Err: "timeout",
		ChunksSent: 1, StartedAt: at, FinishedAt: at.Add(time.Second),
	})
	if r.ID != 0 || r.Tier != "vip" || r.Sequence != 7 || r.Outcome != "fallback" || r.Error != "timeout" {
		t.Fatalf("reply = %+v", r)
	}
	if !r.FinishedAt.Equal(at.Add(time.Second)) {
		t.Fatalf("FinishedAt = %v", r.FinishedAt)
	}
}
