// Package sqlite provides a file-backed chat history store for single-node
// deployments, using the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/cory-johannsen/relay/internal/history"
)

const schema = `
CREATE TABLE IF NOT EXISTS friend_chats (
	id              TEXT    PRIMARY KEY,
	conversation_id TEXT    NOT NULL,
	sender_id       TEXT    NOT NULL,
	sender_name     TEXT    NOT NULL DEFAULT '',
	recipient_id    TEXT    NOT NULL,
	recipient_name  TEXT    NOT NULL DEFAULT '',
	message         TEXT    NOT NULL,
	sent_at_ms      INTEGER NOT NULL,
	read            INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_friend_chats_conversation ON friend_chats (conversation_id, sent_at_ms DESC);
`

// Store is a history.Store backed by a SQLite database file.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and ensures the schema exists.
//
// Postcondition: Returns a ready Store or a non-nil error.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open db: %w", err)
	}
	// One connection serializes writers and keeps ":memory:" databases coherent.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Health pings the database within timeout.
func (s *Store) Health(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

// Append inserts rec under a new UUID. Timestamps are stored with millisecond precision.
func (s *Store) Append(ctx context.Context, rec history.Record) (history.Record, error) {
	rec.ID = uuid.NewString()
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	rec.Timestamp = time.UnixMilli(rec.Timestamp.UnixMilli()).UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO friend_chats
		   (id, conversation_id, sender_id, sender_name, recipient_id, recipient_name, message, sent_at_ms, read)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ConversationID, rec.SenderID, rec.SenderName,
		rec.RecipientID, rec.RecipientName, rec.Message, rec.Timestamp.UnixMilli(), rec.Read,
	)
	if err != nil {
		return history.Record{}, fmt.Errorf("sqlite: insert chat message: %w", err)
	}
	return rec, nil
}

// RangeByConversation returns up to limit messages newest first.
func (s *Store) RangeByConversation(ctx context.Context, conversationID string, limit int, before *time.Time) ([]history.Record, error) {
	query := `SELECT id, conversation_id, sender_id, sender_name, recipient_id, recipient_name, message, sent_at_ms, read
		 FROM friend_chats WHERE conversation_id = ?`
	args := []any{conversationID}
	if before != nil {
		query += ` AND sent_at_ms < ?`
		args = append(args, before.UnixMilli())
	}
	query += ` ORDER BY sent_at_ms DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query chat messages: %w", err)
	}
	defer rows.Close()

	recs := make([]history.Record, 0)
	for rows.Next() {
		var (
			rec    history.Record
			sentMs int64
		)
		if err := rows.Scan(
			&rec.ID, &rec.ConversationID, &rec.SenderID, &rec.SenderName,
			&rec.RecipientID, &rec.RecipientName, &rec.Message, &sentMs, &rec.Read,
		); err != nil {
			return nil, fmt.Errorf("sqlite: scan chat message: %w", err)
		}
		rec.Timestamp = time.UnixMilli(sentMs).UTC()
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate chat messages: %w", err)
	}
	return recs, nil
}

// MarkRead flags unread messages addressed to recipientID as read.
func (s *Store) MarkRead(ctx context.Context, conversationID, recipientID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE friend_chats SET read = 1
		 WHERE conversation_id = ? AND recipient_id = ? AND read = 0`,
		conversationID, recipientID,
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: mark read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: rows affected: %w", err)
	}
	return n, nil
}
