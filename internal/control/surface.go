// Package control is the operator-facing surface of the relay: push
// notifications from external game servers, presence stats and chat history
// queries, plus their HTTP binding.
package control

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/relay/internal/history"
	"github.com/cory-johannsen/relay/internal/relay"
	"github.com/cory-johannsen/relay/internal/relay/payload"
	"github.com/cory-johannsen/relay/internal/relay/session"
)

// Surface exposes control operations over a running router.
type Surface struct {
	router  *relay.Router
	history *history.Service
	logger  *zap.Logger
}

// NewSurface creates a Surface.
//
// Precondition: router and logger must be non-nil; hist may be nil.
func NewSurface(router *relay.Router, hist *history.Service, logger *zap.Logger) *Surface {
	return &Surface{router: router, history: hist, logger: logger}
}

// SendNotification pushes a notification to each of userIDs.
func (s *Surface) SendNotification(userIDs []string, notificationType string, body json.RawMessage) payload.Result {
	return s.router.Notification.Notify(userIDs, notificationType, body)
}

// BroadcastNotification pushes a notification to every connected user.
func (s *Surface) BroadcastNotification(notificationType string, body json.RawMessage) payload.Result {
	return s.router.Notification.Broadcast(notificationType, body)
}

// Stats returns the current session and lobby counts.
func (s *Surface) Stats() session.Stats {
	return s.router.Sessions().Stats()
}

// HistoryEnabled reports whether chat history queries can be served.
func (s *Surface) HistoryEnabled() bool {
	return s.history.Enabled()
}

// ChatHistory returns one page of the conversation between userID and friendID,
// newest first.
//
// Postcondition: Returns history.ErrHistoryUnavailable when no store is configured.
func (s *Surface) ChatHistory(ctx context.Context, userID, friendID string, limit int, before *time.Time) ([]history.Record, error) {
	return s.history.Conversation(ctx, userID, friendID, limit, before)
}

// MarkRead marks every message friendID sent to userID as read.
//
// Postcondition: Returns history.ErrHistoryUnavailable when no store is configured.
func (s *Surface) MarkRead(ctx context.Context, userID, friendID string) (int64, error) {
	return s.history.MarkRead(ctx, userID, friendID)
}
