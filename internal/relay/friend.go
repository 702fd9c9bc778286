package relay

import (
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/relay/internal/history"
	"github.com/cory-johannsen/relay/internal/observability"
	"github.com/cory-johannsen/relay/internal/relay/delivery"
	"github.com/cory-johannsen/relay/internal/relay/payload"
	"github.com/cory-johannsen/relay/internal/relay/session"
)

// FriendHandler delivers direct messages and records them in history.
type FriendHandler struct {
	sessions *session.Registry
	engine   *delivery.Engine
	history  *history.Service
	logger   *zap.Logger
	now      func() time.Time
}

// Send delivers message to recipientID if online and echoes it to the sender.
// The message is recorded in history whether or not the recipient is online.
//
// Postcondition: On success Delivered reports whether the recipient received it.
func (h *FriendHandler) Send(senderID, recipientID, message string) payload.Result {
	if recipientID == "" {
		return payload.Fail(ErrRecipientIDRequired)
	}
	if blank(message) {
		return payload.Fail(ErrMessageEmpty)
	}

	sender, senderOnline := h.sessions.GetSession(senderID)
	recipient, recipientOnline := h.sessions.GetSession(recipientID)
	sname := session.DefaultDisplayName
	if senderOnline {
		sname = sender.DisplayName
	}
	// Offline recipients have no known display name.
	var rname string
	if recipientOnline {
		rname = recipient.DisplayName
	}

	msg := payload.FriendChat{
		SenderID:      senderID,
		SenderName:    sname,
		RecipientID:   recipientID,
		RecipientName: rname,
		Message:       message,
		Timestamp:     payload.FormatTime(h.now()),
	}

	h.history.RecordAsync(senderID, sname, recipientID, rname, message)

	outcome, err := h.engine.DeliverOne(msg, delivery.Target{UserID: recipientID, Conn: recipient.Conn})
	if err != nil {
		h.logger.Error("friend chat", zap.String("sender_id", senderID), zap.Error(err))
		return payload.Fail(ErrDeliveryFailed)
	}
	delivered := outcome == observability.OutcomeDelivered
	if !delivered {
		h.logger.Debug("friend chat recipient unavailable",
			zap.String("recipient_id", recipientID),
			zap.String("outcome", outcome),
		)
	}

	if _, err := h.engine.DeliverOne(payload.FriendChatSent(msg), delivery.Target{UserID: senderID, Conn: sender.Conn}); err != nil {
		h.logger.Error("friend chat echo", zap.String("sender_id", senderID), zap.Error(err))
	}

	return payload.OK().WithDelivered(delivered)
}
