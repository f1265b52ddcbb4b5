package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/onnwee/s4u-chat/backend/s4u"
)

// Reply is one row of the reply audit log.
type Reply struct {
	ID            int64     `json:"id"`
	ChatID        string    `json:"chat_id"`
	CorrID        string    `json:"corr_id"`
	SenderID      string    `json:"sender_id"`
	Tier          string    `json:"tier"`
	Sequence      int64     `json:"sequence"`
	PriorityScore float64   `json:"priority_score"`
	Prompt        string    `json:"prompt"`
	Outcome       string    `json:"outcome"`
	Reply         string    `json:"reply"`
	ChunksSent    int       `json:"chunks_sent"`
	ChunksDropped int       `json:"chunks_dropped"`
	Error         string    `json:"error,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
}

// ReplyFromRecord converts a finished task into an audit row. ID is left zero.
func ReplyFromRecord(rec s4u.TaskRecord) Reply {
	return Reply{
		ChatID:        rec.ChatID,
		CorrID:        rec.CorrID,
		SenderID:      rec.SenderID,
		Tier:          rec.Tier.String(),
		Sequence:      int64(rec.Sequence),
		PriorityScore: rec.PriorityScore,
		Prompt:        rec.Prompt,
		Outcome:       string(rec.Outcome),
		Reply:         rec.Reply,
		ChunksSent:    rec.ChunksSent,
		ChunksDropped: rec.ChunksDropped,
		Error:         rec.Err,
		StartedAt:     rec.StartedAt,
		FinishedAt:    rec.FinishedAt,
	}
}

// ReplyStore persists finished generation tasks. It implements s4u.Recorder.
type ReplyStore struct {
	DB *sql.DB
}

// RecordTask inserts one audit row.
func (s *ReplyStore) RecordTask(ctx context.Context, rec s4u.TaskRecord) error {
	r := ReplyFromRecord(rec)
	var errText sql.NullString
	if r.Error != "" {
		errText = sql.NullString{String: r.Error, Valid: true}
	}
	_, err := s.DB.ExecContext(ctx, `INSERT INTO chat_replies
		(chat_id, corr_id, sender_id, tier, sequence, priority_score, prompt, outcome, reply, chunks_sent, chunks_dropped, error, started_at, finished_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		r.ChatID, r.CorrID, r.SenderID, r.Tier, r.Sequence, r.PriorityScore, r.Prompt,
		r.Outcome, r.Reply, r.ChunksSent, r.ChunksDropped, errText, r.StartedAt, r.FinishedAt)
	if err != nil {
		return fmt.Errorf("insert chat reply: %w", err)
	}
	return nil
}

// ListReplies returns the newest replies for chatID, at most limit rows
// (default 50, max 500).
func (s *ReplyStore) ListReplies(ctx context.Context, chatID string, limit int) ([]Reply, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT id, chat_id, corr_id, sender_id, tier, sequence, priority_score, prompt, outcome, reply,
		chunks_sent, chunks_dropped, COALESCE(error, ''), started_at, finished_at
		FROM chat_replies WHERE chat_id=$1 ORDER BY finished_at DESC, id DESC LIMIT $2`, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("query chat replies: %w", err)
	}
	defer rows.Close()
	out := []Reply{}
	for rows.Next() {
		var r Reply
		if err := rows.Scan(&r.ID, &r.ChatID, &r.CorrID, &r.SenderID, &r.Tier, &r.Sequence, &r.PriorityScore, &r.Prompt, &r.Outcome, &r.Reply,
			&r.ChunksSent, &r.ChunksDropped, &r.Error, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan chat reply: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// OutcomeCounts returns how many tasks ended with each outcome for chatID.
func (s *ReplyStore) OutcomeCounts(ctx context.Context, chatID string) (map[string]int, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT outcome, COUNT(*) FROM chat_replies WHERE chat_id=$1 GROUP BY outcome`, chatID)
	if err != nil {
		return nil, fmt.Errorf("query outcome counts: %w", err)
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, err
		}
		out[outcome] = n
	}
	return out, rows.Err()
}
