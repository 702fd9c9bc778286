package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/relay/internal/history"
)

// ChatRepository persists friend-chat history in the friend_chats table.
// It implements history.Store.
type ChatRepository struct {
	db *pgxpool.Pool
}

// NewChatRepository creates a ChatRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewChatRepository(db *pgxpool.Pool) *ChatRepository {
	return &ChatRepository{db: db}
}

// Append inserts rec under a new UUID.
//
// Postcondition: Returns the stored record with ID and Timestamp set.
func (r *ChatRepository) Append(ctx context.Context, rec history.Record) (history.Record, error) {
	rec.ID = uuid.NewString()
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	// Postgres stores microseconds; truncate so the returned record matches a later read.
	rec.Timestamp = rec.Timestamp.Truncate(time.Microsecond)

	_, err := r.db.Exec(ctx,
		`INSERT INTO friend_chats
		   (id, conversation_id, sender_id, sender_name, recipient_id, recipient_name, message, sent_at, read)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID, rec.ConversationID, rec.SenderID, rec.SenderName,
		rec.RecipientID, rec.RecipientName, rec.Message, rec.Timestamp, rec.Read,
	)
	if err != nil {
		return history.Record{}, fmt.Errorf("inserting chat message: %w", err)
	}
	return rec, nil
}

// RangeByConversation returns up to limit messages newest first, optionally
// restricted to messages sent strictly before the cursor.
func (r *ChatRepository) RangeByConversation(ctx context.Context, conversationID string, limit int, before *time.Time) ([]history.Record, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, conversation_id, sender_id, sender_name, recipient_id, recipient_name, message, sent_at, read
		 FROM friend_chats
		 WHERE conversation_id = $1 AND ($2::timestamptz IS NULL OR sent_at < $2)
		 ORDER BY sent_at DESC, id DESC
		 LIMIT $3`,
		conversationID, before, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying chat messages: %w", err)
	}
	defer rows.Close()

	recs := make([]history.Record, 0)
	for rows.Next() {
		var rec history.Record
		if err := rows.Scan(
			&rec.ID, &rec.ConversationID, &rec.SenderID, &rec.SenderName,
			&rec.RecipientID, &rec.RecipientName, &rec.Message, &rec.Timestamp, &rec.Read,
		); err != nil {
			return nil, fmt.Errorf("scanning chat message: %w", err)
		}
		rec.Timestamp = rec.Timestamp.UTC()
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chat messages: %w", err)
	}
	return recs, nil
}

// MarkRead flags unread messages addressed to recipientID as read.
//
// Postcondition: Returns the number of rows updated.
func (r *ChatRepository) MarkRead(ctx context.Context, conversationID, recipientID string) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE friend_chats SET read = TRUE
		 WHERE conversation_id = $1 AND recipient_id = $2 AND NOT read`,
		conversationID, recipientID,
	)
	if err != nil {
		return 0, fmt.Errorf("marking messages read: %w", err)
	}
	return tag.RowsAffected(), nil
}
