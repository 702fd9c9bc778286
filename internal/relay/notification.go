package relay

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/relay/internal/relay/delivery"
	"github.com/cory-johannsen/relay/internal/relay/payload"
	"github.com/cory-johannsen/relay/internal/relay/session"
)

// NotificationHandler pushes system notifications on behalf of external servers.
type NotificationHandler struct {
	sessions *session.Registry
	engine   *delivery.Engine
	logger   *zap.Logger
	now      func() time.Time
}

// Notify sends a notification to each of userIDs.
//
// Postcondition: On success every entry of userIDs is reported as exactly one
// of sent, offline or failed. A nil or JSON null body becomes {}.
func (h *NotificationHandler) Notify(userIDs []string, notificationType string, body json.RawMessage) payload.Result {
	if len(userIDs) == 0 {
		return payload.Fail(ErrUserIDsRequired)
	}
	if notificationType == "" {
		return payload.Fail(ErrNotificationTypeEmpty)
	}

	targets := make([]delivery.Target, 0, len(userIDs))
	for _, id := range userIDs {
		t := delivery.Target{UserID: id}
		if s, ok := h.sessions.GetSession(id); ok {
			t.Conn = s.Conn
		}
		targets = append(targets, t)
	}

	report, err := h.engine.Deliver(h.build(notificationType, body), targets)
	if err != nil {
		h.logger.Error("notification", zap.String("notification_type", notificationType), zap.Error(err))
		return payload.Fail(ErrDeliveryFailed)
	}
	h.logger.Info("notification sent",
		zap.String("notification_type", notificationType),
		zap.Int("sent", len(report.Delivered)),
		zap.Int("offline", len(report.Offline)),
		zap.Int("failed", len(report.Failed)),
	)
	return payload.OK().WithDetails(report.Details())
}

// Broadcast sends a notification to every connected user.
//
// Postcondition: On success Recipients is the delivered count.
func (h *NotificationHandler) Broadcast(notificationType string, body json.RawMessage) payload.Result {
	if notificationType == "" {
		return payload.Fail(ErrNotificationTypeEmpty)
	}
	report, err := h.engine.Deliver(h.build(notificationType, body), delivery.TargetsOf(h.sessions.ListSessions()))
	if err != nil {
		h.logger.Error("broadcast notification", zap.String("notification_type", notificationType), zap.Error(err))
		return payload.Fail(ErrDeliveryFailed)
	}
	h.logger.Info("notification broadcast",
		zap.String("notification_type", notificationType),
		zap.Int("recipients", report.DeliveredCount()),
	)
	return payload.OK().WithRecipients(report.DeliveredCount())
}

func (h *NotificationHandler) build(notificationType string, body json.RawMessage) payload.Notification {
	return payload.Notification{
		NotificationType: notificationType,
		Payload:          payload.NormalizeRaw(body),
		Timestamp:        payload.FormatTime(h.now()),
	}
}
