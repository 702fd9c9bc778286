package relay

import (
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/relay/internal/relay/delivery"
	"github.com/cory-johannsen/relay/internal/relay/payload"
	"github.com/cory-johannsen/relay/internal/relay/session"
)

// LobbyHandler manages lobby membership and lobby-scoped chat.
type LobbyHandler struct {
	sessions *session.Registry
	engine   *delivery.Engine
	logger   *zap.Logger
	now      func() time.Time
}

// Subscribe moves userID into lobbyID, leaving any current lobby.
func (h *LobbyHandler) Subscribe(userID, lobbyID string) payload.Result {
	if lobbyID == "" {
		return payload.Fail(ErrLobbyIDRequired)
	}
	if !h.sessions.SubscribeToLobby(userID, lobbyID) {
		return payload.Fail(ErrLobbySubscribeFailed)
	}
	h.logger.Debug("lobby subscribe", zap.String("user_id", userID), zap.String("lobby_id", lobbyID))
	return payload.OK().WithLobby(lobbyID)
}

// Unsubscribe removes userID from its lobby. It always succeeds; the lobby
// left, if any, is reported.
func (h *LobbyHandler) Unsubscribe(userID string) payload.Result {
	left := h.sessions.UnsubscribeFromLobby(userID)
	if left != "" {
		h.logger.Debug("lobby unsubscribe", zap.String("user_id", userID), zap.String("lobby_id", left))
	}
	return payload.OK().WithLobby(left)
}

// Send delivers message to every member of lobbyID, the sender included.
//
// Precondition: the sender must currently be subscribed to lobbyID.
func (h *LobbyHandler) Send(senderID, lobbyID, message string) payload.Result {
	if lobbyID == "" {
		return payload.Fail(ErrLobbyIDRequired)
	}
	if blank(message) {
		return payload.Fail(ErrMessageEmpty)
	}
	sender, ok := h.sessions.GetSession(senderID)
	if !ok || sender.LobbyID != lobbyID {
		return payload.Fail(ErrNotInLobby)
	}

	report, err := h.engine.Deliver(payload.LobbyChat{
		LobbyID:    lobbyID,
		SenderID:   senderID,
		SenderName: sender.DisplayName,
		Message:    message,
		Timestamp:  payload.FormatTime(h.now()),
	}, delivery.TargetsOf(h.sessions.ListLobbyMembers(lobbyID)))
	if err != nil {
		h.logger.Error("lobby chat", zap.String("lobby_id", lobbyID), zap.Error(err))
		return payload.Fail(ErrDeliveryFailed)
	}
	return payload.OK().WithRecipients(report.DeliveredCount())
}
