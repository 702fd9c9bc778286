package history

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/relay/internal/observability"
)

// Service fronts an optional Store. A Service built with a nil Store is
// disabled: writes are dropped and queries return ErrHistoryUnavailable.
type Service struct {
	store        Store
	logger       *zap.Logger
	metrics      *observability.Metrics
	writeTimeout time.Duration
	defaultLimit int
	now          func() time.Time
	wg           sync.WaitGroup
}

// NewService creates a Service.
//
// Precondition: logger must be non-nil; store and metrics may be nil.
// writeTimeout <= 0 disables the per-write deadline; defaultLimit < 1 means 50.
func NewService(store Store, logger *zap.Logger, metrics *observability.Metrics, writeTimeout time.Duration, defaultLimit int) *Service {
	if defaultLimit < 1 {
		defaultLimit = 50
	}
	return &Service{
		store:        store,
		logger:       logger,
		metrics:      metrics,
		writeTimeout: writeTimeout,
		defaultLimit: defaultLimit,
		now:          time.Now,
	}
}

// Enabled reports whether a Store is configured.
func (s *Service) Enabled() bool {
	return s != nil && s.store != nil
}

// RecordAsync persists a friend-chat message in the background. Failures are
// logged and counted; they never reach the caller.
func (s *Service) RecordAsync(senderID, senderName, recipientID, recipientName, message string) {
	if !s.Enabled() {
		return
	}
	rec := Record{
		ConversationID: ConversationID(senderID, recipientID),
		SenderID:       senderID,
		SenderName:     senderName,
		RecipientID:    recipientID,
		RecipientName:  recipientName,
		Message:        message,
		Timestamp:      s.now().UTC(),
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx := context.Background()
		if s.writeTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.writeTimeout)
			defer cancel()
		}

		_, err := s.store.Append(ctx, rec)
		s.metrics.HistoryWrite(err)
		if err != nil {
			s.logger.Error("saving chat history",
				zap.String("conversation_id", rec.ConversationID),
				zap.String("sender_id", rec.SenderID),
				zap.Error(err),
			)
		}
	}()
}

// Wait blocks until every pending background write has finished.
func (s *Service) Wait() {
	if s == nil {
		return
	}
	s.wg.Wait()
}

// Conversation returns up to limit messages between userID and friendID, newest
// first. limit < 1 uses the configured default. A non-nil before restricts the
// page to messages strictly older than it.
func (s *Service) Conversation(ctx context.Context, userID, friendID string, limit int, before *time.Time) ([]Record, error) {
	if !s.Enabled() {
		return nil, ErrHistoryUnavailable
	}
	if userID == "" || friendID == "" {
		return nil, ErrInvalidQuery
	}
	if limit < 1 {
		limit = s.defaultLimit
	}
	recs, err := s.store.RangeByConversation(ctx, ConversationID(userID, friendID), limit, before)
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	return recs, nil
}

// MarkRead flags every unread message sent to userID by friendID as read.
//
// Postcondition: Returns the number of records updated.
func (s *Service) MarkRead(ctx context.Context, userID, friendID string) (int64, error) {
	if !s.Enabled() {
		return 0, ErrHistoryUnavailable
	}
	if userID == "" || friendID == "" {
		return 0, ErrInvalidQuery
	}
	n, err := s.store.MarkRead(ctx, ConversationID(userID, friendID), userID)
	if err != nil {
		return 0, fmt.Errorf("marking conversation read: %w", err)
	}
	return n, nil
}
