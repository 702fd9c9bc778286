package relay

import (
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/relay/internal/relay/delivery"
	"github.com/cory-johannsen/relay/internal/relay/payload"
	"github.com/cory-johannsen/relay/internal/relay/session"
)

// GlobalHandler broadcasts chat to every connected user.
type GlobalHandler struct {
	sessions *session.Registry
	engine   *delivery.Engine
	logger   *zap.Logger
	now      func() time.Time
}

// Send broadcasts message from senderID to all sessions, the sender included.
//
// Postcondition: On success Recipients is the number of sessions the message
// was handed to.
func (h *GlobalHandler) Send(senderID, message string) payload.Result {
	if blank(message) {
		return payload.Fail(ErrMessageEmpty)
	}

	name := senderName(h.sessions, senderID)
	report, err := h.engine.Deliver(payload.GlobalChat{
		SenderID:   senderID,
		SenderName: name,
		Message:    message,
		Timestamp:  payload.FormatTime(h.now()),
	}, delivery.TargetsOf(h.sessions.ListSessions()))
	if err != nil {
		h.logger.Error("global chat", zap.String("sender_id", senderID), zap.Error(err))
		return payload.Fail(ErrDeliveryFailed)
	}

	h.logger.Debug("global chat broadcast",
		zap.String("sender_id", senderID),
		zap.String("sender_name", name),
		zap.Int("recipients", report.DeliveredCount()),
	)
	return payload.OK().WithRecipients(report.DeliveredCount())
}
