package relay

import (
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/relay/internal/observability"
	"github.com/cory-johannsen/relay/internal/relay/delivery"
	"github.com/cory-johannsen/relay/internal/relay/payload"
	"github.com/cory-johannsen/relay/internal/relay/session"
)

const (
	// DefaultLobbyName is used when an invite omits the lobby name.
	DefaultLobbyName = "Game Lobby"
	// DefaultInviteTTL is how long an invite stays valid when no expiry is given.
	DefaultInviteTTL = 5 * time.Minute
)

// InviteHandler relays lobby invites and their responses between two users.
type InviteHandler struct {
	sessions *session.Registry
	engine   *delivery.Engine
	logger   *zap.Logger
	now      func() time.Time
}

// Invite sends a lobby invite from senderID to recipientID.
func (h *InviteHandler) Invite(senderID, recipientID, lobbyCode, lobbyName, expiresAt string) payload.Result {
	if recipientID == "" {
		return payload.Fail(ErrRecipientIDRequired)
	}
	if lobbyCode == "" {
		return payload.Fail(ErrLobbyCodeRequired)
	}

	now := h.now()
	if lobbyName == "" {
		lobbyName = DefaultLobbyName
	}
	if expiresAt == "" {
		expiresAt = payload.FormatTime(now.Add(DefaultInviteTTL))
	}

	invite := payload.LobbyInvite{
		SenderID:   senderID,
		SenderName: senderName(h.sessions, senderID),
		LobbyCode:  lobbyCode,
		LobbyName:  lobbyName,
		ExpiresAt:  expiresAt,
		Timestamp:  payload.FormatTime(now),
	}
	result := h.deliverDirect(invite, recipientID, ErrRecipientOffline, ErrRecipientNotReady, ErrInviteSendFailed)
	if result.Success {
		h.logger.Debug("lobby invite",
			zap.String("sender_id", senderID),
			zap.String("recipient_id", recipientID),
			zap.String("lobby_code", lobbyCode),
		)
	}
	return result
}

// Respond relays responderID's answer to an invite back to the original sender.
func (h *InviteHandler) Respond(responderID, senderID, lobbyCode string, accepted bool) payload.Result {
	if senderID == "" {
		return payload.Fail(ErrSenderIDRequired)
	}
	if lobbyCode == "" {
		return payload.Fail(ErrLobbyCodeRequired)
	}

	resp := payload.LobbyInviteResponse{
		ResponderID:   responderID,
		ResponderName: senderName(h.sessions, responderID),
		LobbyCode:     lobbyCode,
		Accepted:      accepted,
		Timestamp:     payload.FormatTime(h.now()),
	}
	result := h.deliverDirect(resp, senderID, ErrSenderOffline, ErrSenderNotReady, ErrResponseSendFailed)
	if result.Success {
		h.logger.Debug("lobby invite response",
			zap.String("responder_id", responderID),
			zap.String("sender_id", senderID),
			zap.Bool("accepted", accepted),
		)
	}
	return result
}

// deliverDirect sends p to userID and maps each failure mode to its reason.
func (h *InviteHandler) deliverDirect(p payload.Payload, userID, offline, notReady, failed string) payload.Result {
	target, ok := h.sessions.GetSession(userID)
	if !ok {
		return payload.Fail(offline).WithDelivered(false)
	}
	outcome, err := h.engine.DeliverOne(p, delivery.Target{UserID: userID, Conn: target.Conn})
	if err != nil {
		h.logger.Error("direct delivery", zap.String("user_id", userID), zap.Error(err))
		return payload.Fail(failed).WithDelivered(false)
	}
	switch outcome {
	case observability.OutcomeDelivered:
		return payload.OK().WithDelivered(true)
	case observability.OutcomeOffline:
		return payload.Fail(notReady).WithDelivered(false)
	default:
		return payload.Fail(failed).WithDelivered(false)
	}
}
