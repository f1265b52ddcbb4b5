// Package server exposes the HTTP API handlers.
package server

import (
	"context"
	"database/sql"

	"github.com/onnwee/s4u-chat/backend/config"
	"github.com/onnwee/s4u-chat/backend/db"
	"github.com/onnwee/s4u-chat/backend/s4u"
)

// ReplyLister reads the reply audit log.
type ReplyLister interface {
	ListReplies(ctx context.Context, chatID string, limit int) ([]db.Reply, error)
}

// Check is a named readiness probe.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Deps are the collaborators the HTTP API serves.
type Deps struct {
	Manager   *s4u.Manager
	Hub       *Hub
	DB        *sql.DB     // optional
	Replies   ReplyLister // optional; nil when no database is configured
	Scheduler config.Scheduler
	Checks    []Check // extra readiness checks (ingestion sources)
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	ctx  context.Context
	deps Deps
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(ctx context.Context, deps Deps) *Handlers {
	return &Handlers{ctx: ctx, deps: deps}
}
