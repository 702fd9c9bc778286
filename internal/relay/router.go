// Package relay routes inbound client actions to their audience: everyone,
// one lobby, or a single user. It owns the per-connection protocol state
// machine and the handlers behind each action.
package relay

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/relay/internal/config"
	"github.com/cory-johannsen/relay/internal/history"
	"github.com/cory-johannsen/relay/internal/observability"
	"github.com/cory-johannsen/relay/internal/relay/delivery"
	"github.com/cory-johannsen/relay/internal/relay/payload"
	"github.com/cory-johannsen/relay/internal/relay/session"
)

// Validation and routing failure reasons reported to clients.
const (
	ErrMessageEmpty          = "Message cannot be empty"
	ErrLobbyIDRequired       = "Lobby ID is required"
	ErrLobbySubscribeFailed  = "Failed to subscribe to lobby"
	ErrNotInLobby            = "You are not subscribed to this lobby"
	ErrRecipientIDRequired   = "Recipient ID is required"
	ErrLobbyCodeRequired     = "Lobby code is required"
	ErrRecipientOffline      = "Recipient is offline"
	ErrRecipientNotReady     = "Recipient connection not ready"
	ErrInviteSendFailed      = "Failed to send invite"
	ErrSenderIDRequired      = "Sender ID is required"
	ErrSenderOffline         = "Original sender is offline"
	ErrSenderNotReady        = "Sender connection not ready"
	ErrResponseSendFailed    = "Failed to send response"
	ErrUserIDsRequired       = "userIds array is required"
	ErrNotificationTypeEmpty = "notificationType is required"
	ErrDeliveryFailed        = "Failed to deliver message"
)

// Router dispatches authenticated actions to the handler for each channel.
type Router struct {
	sessions      *session.Registry
	engine        *delivery.Engine
	logger        *zap.Logger
	metrics       *observability.Metrics
	duplicateAuth string
	now           func() time.Time

	Global       *GlobalHandler
	Lobby        *LobbyHandler
	Friend       *FriendHandler
	Invite       *InviteHandler
	Notification *NotificationHandler
}

// NewRouter wires the handlers around a shared registry and delivery engine.
//
// Precondition: sessions, engine and logger must be non-nil. hist and metrics
// may be nil. duplicateAuth is config.DuplicateAuthReplace or config.DuplicateAuthReject.
func NewRouter(
	sessions *session.Registry,
	engine *delivery.Engine,
	hist *history.Service,
	logger *zap.Logger,
	metrics *observability.Metrics,
	duplicateAuth string,
) *Router {
	return newRouter(sessions, engine, hist, logger, metrics, duplicateAuth, time.Now)
}

func newRouter(
	sessions *session.Registry,
	engine *delivery.Engine,
	hist *history.Service,
	logger *zap.Logger,
	metrics *observability.Metrics,
	duplicateAuth string,
	now func() time.Time,
) *Router {
	if duplicateAuth == "" {
		duplicateAuth = config.DuplicateAuthReplace
	}
	return &Router{
		sessions:      sessions,
		engine:        engine,
		logger:        logger,
		metrics:       metrics,
		duplicateAuth: duplicateAuth,
		now:           now,
		Global:        &GlobalHandler{sessions: sessions, engine: engine, logger: logger, now: now},
		Lobby:         &LobbyHandler{sessions: sessions, engine: engine, logger: logger, now: now},
		Friend:        &FriendHandler{sessions: sessions, engine: engine, history: hist, logger: logger, now: now},
		Invite:        &InviteHandler{sessions: sessions, engine: engine, logger: logger, now: now},
		Notification:  &NotificationHandler{sessions: sessions, engine: engine, logger: logger, now: now},
	}
}

// Sessions returns the registry the router routes over.
func (r *Router) Sessions() *session.Registry {
	return r.sessions
}

// Dispatch runs one authenticated action for userID.
//
// Precondition: userID must be authenticated on the originating connection.
// Postcondition: Returns the action's result; unknown actions fail with
// "Unknown action: <action>".
func (r *Router) Dispatch(userID string, env payload.Envelope) payload.Result {
	var result payload.Result
	switch env.Action {
	case payload.ActionGlobalChat:
		result = r.Global.Send(userID, env.Message)
	case payload.ActionFriendChat:
		result = r.Friend.Send(userID, env.RecipientID, env.Message)
	case payload.ActionLobbySubscribe:
		result = r.Lobby.Subscribe(userID, env.LobbyID)
	case payload.ActionLobbyUnsubscribe:
		result = r.Lobby.Unsubscribe(userID)
	case payload.ActionLobbyChat:
		result = r.Lobby.Send(userID, env.LobbyID, env.Message)
	case payload.ActionLobbyInvite:
		result = r.Invite.Invite(userID, env.RecipientID, env.LobbyCode, env.LobbyName, env.ExpiresAt)
	case payload.ActionLobbyInviteResponse:
		result = r.Invite.Respond(userID, env.SenderID, env.LobbyCode, env.IsAccepted())
	default:
		result = payload.Fail("Unknown action: " + env.Action)
	}
	r.metrics.ActionHandled(env.Action, result.Success)
	return result
}

// senderName returns the display name of userID, or session.DefaultDisplayName.
func senderName(sessions *session.Registry, userID string) string {
	if s, ok := sessions.GetSession(userID); ok {
		return s.DisplayName
	}
	return session.DefaultDisplayName
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}
