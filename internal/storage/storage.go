// Package storage persists conversation transcripts. Documents and vectors
// are never stored; they live only in session memory.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/hyperjump/kaiwa/internal/models"
)

// ErrSessionNotFound is returned for an unknown session ID.
var ErrSessionNotFound = errors.New("session not found")

// SessionRecord is a stored session.
type SessionRecord struct {
	ID          string     `db:"id" json:"id"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	ProcessedAt *time.Time `db:"processed_at" json:"processed_at,omitempty"`
	ChunkCount  int        `db:"chunk_count" json:"chunk_count"`
}

// TurnRecord is a stored conversation turn. Seq starts at 1 per session.
type TurnRecord struct {
	SessionID string      `db:"session_id" json:"session_id"`
	Seq       int         `db:"seq" json:"seq"`
	Role      models.Role `db:"role" json:"role"`
	Message   string      `db:"message" json:"message"`
	CreatedAt time.Time   `db:"created_at" json:"created_at"`
}

// TranscriptStore records sessions and their committed turns.
type TranscriptStore interface {
	CreateSession(ctx context.Context, id string) error
	// MarkProcessed records a successful Process run. The session's
	// transcript restarts, so earlier turns are removed.
	MarkProcessed(ctx context.Context, id string, chunkCount int) error
	AppendTurns(ctx context.Context, sessionID string, turns ...models.Turn) error
	Session(ctx context.Context, id string) (*SessionRecord, error)
	Turns(ctx context.Context, sessionID string) ([]TurnRecord, error)
	DeleteSession(ctx context.Context, id string) error
	Close() error
}
