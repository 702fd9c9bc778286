// Package history defines the friend-chat history collaborator: the store
// contract, conversation identifiers and a fire-and-forget write service.
package history

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"
)

// ConversationSeparator joins the two user ids of a conversation identifier.
// Ids are not escaped, so ids containing the separator can collide:
// ("a_b", "c") and ("a", "b_c") both map to "a_b_c". Stored identifiers keep
// this format so existing history stays readable.
const ConversationSeparator = "_"

var (
	// ErrHistoryUnavailable is returned by query operations when no store is configured.
	ErrHistoryUnavailable = errors.New("history store not configured")
	// ErrInvalidQuery is returned when a query is missing a participant.
	ErrInvalidQuery = errors.New("userId and friendId are required")
)

// Record is one persisted friend-chat message.
type Record struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	SenderName     string    `json:"senderName"`
	RecipientID    string    `json:"recipientId"`
	// RecipientName is "" when the recipient was offline at send time.
	RecipientName  string    `json:"recipientName"`
	Message        string    `json:"message"`
	Timestamp      time.Time `json:"timestamp"`
	Read           bool      `json:"read"`
}

// Store persists chat history.
type Store interface {
	// Append stores rec. The store assigns ID, and Timestamp when it is zero.
	Append(ctx context.Context, rec Record) (Record, error)
	// RangeByConversation returns up to limit records newest first. When before
	// is non-nil only records strictly older than it are returned.
	RangeByConversation(ctx context.Context, conversationID string, limit int, before *time.Time) ([]Record, error)
	// MarkRead flags every unread record addressed to recipientID in the
	// conversation as read and returns how many were updated.
	MarkRead(ctx context.Context, conversationID, recipientID string) (int64, error)
}

// ConversationID returns the order-independent identifier for a two-party conversation.
//
// Postcondition: ConversationID(a, b) == ConversationID(b, a). Distinct pairs
// collide only when an id contains ConversationSeparator.
func ConversationID(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, ConversationSeparator)
}
