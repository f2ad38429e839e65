package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/kaiwa/internal/models"
)

// SQLiteStore implements TranscriptStore using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

var _ TranscriptStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sqlx.Connect("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func initSchema(db *sqlx.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		created_at TIMESTAMP NOT NULL,
		processed_at TIMESTAMP,
		chunk_count INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS turns (
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		role TEXT NOT NULL,
		message TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (session_id, seq),
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);
	`
	_, err := db.Exec(schema)
	return err
}

// CreateSession inserts a session. Creating an existing session is a no-op.
func (s *SQLiteStore) CreateSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, created_at) VALUES (?, ?) ON CONFLICT(id) DO NOTHING`,
		id, time.Now().UTC(),
	)
	return err
}

// MarkProcessed sets the processing time and chunk count and clears the turns.
func (s *SQLiteStore) MarkProcessed(ctx context.Context, id string, chunkCount int) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE sessions SET processed_at = ?, chunk_count = ? WHERE id = ?`,
		time.Now().UTC(), chunkCount, id,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM turns WHERE session_id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// AppendTurns stores turns after the session's last turn, in one transaction.
func (s *SQLiteStore) AppendTurns(ctx context.Context, sessionID string, turns ...models.Turn) error {
	if len(turns) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var last int
	if err := tx.GetContext(ctx, &last, `SELECT COALESCE(MAX(seq), 0) FROM turns WHERE session_id = ?`, sessionID); err != nil {
		return err
	}
	now := time.Now().UTC()
	for i, t := range turns {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO turns (session_id, seq, role, message, created_at) VALUES (?, ?, ?, ?, ?)`,
			sessionID, last+i+1, string(t.Role), t.Message, now,
		); err != nil {
			return fmt.Errorf("insert turn: %w", err)
		}
	}
	return tx.Commit()
}

// Session returns a session by ID.
func (s *SQLiteStore) Session(ctx context.Context, id string) (*SessionRecord, error) {
	var rec SessionRecord
	err := s.db.GetContext(ctx, &rec,
		`SELECT id, created_at, processed_at, chunk_count FROM sessions WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Turns returns a session's turns in order.
func (s *SQLiteStore) Turns(ctx context.Context, sessionID string) ([]TurnRecord, error) {
	var turns []TurnRecord
	err := s.db.SelectContext(ctx, &turns,
		`SELECT session_id, seq, role, message, created_at FROM turns WHERE session_id = ? ORDER BY seq`,
		sessionID)
	if err != nil {
		return nil, err
	}
	return turns, nil
}

// DeleteSession removes a session and its turns.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
