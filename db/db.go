// Package db provides database connection helpers, schema migration, and the reply audit log.
package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'
)

// Connect opens a Postgres connection pool for dsn.
func Connect(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("db: empty DSN")
	}
	return sql.Open("pgx", dsn)
}

// Migrate applies idempotent schema changes without versioning. It is the
// fallback used when versioned migrations cannot run.
func Migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chat_replies (
			id BIGSERIAL PRIMARY KEY,
			chat_id TEXT NOT NULL,
			corr_id TEXT NOT NULL,
			sender_id TEXT NOT NULL,
			tier TEXT NOT NULL,
			sequence BIGINT NOT NULL,
			priority_score DOUBLE PRECISION NOT NULL,
			prompt TEXT NOT NULL,
			outcome TEXT NOT NULL,
			reply TEXT NOT NULL DEFAULT '',
			chunks_sent INTEGER NOT NULL DEFAULT 0,
			chunks_dropped INTEGER NOT NULL DEFAULT 0,
			error TEXT,
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_replies_chat_finished ON chat_replies(chat_id, finished_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_replies_outcome ON chat_replies(outcome)`,
	}
	for i, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("postgres migrate step %d failed: %w", i, err)
		}
	}
	return nil
}
