package relay

import (
	"sync"

	"go.uber.org/zap"

	"github.com/cory-johannsen/relay/internal/config"
	"github.com/cory-johannsen/relay/internal/relay/delivery"
	"github.com/cory-johannsen/relay/internal/relay/payload"
	"github.com/cory-johannsen/relay/internal/relay/session"
)

// Connection-level error messages.
const (
	ErrNotAuthenticated = "Not authenticated. Send auth message first."
	ErrUserIDRequired   = "userId is required for authentication"
	ErrAlreadyConnected = "User already connected"
)

// Bridge is the protocol state machine for one client connection. Frames must
// be fed to HandleFrame sequentially by the connection's read loop.
type Bridge struct {
	router *Router
	conn   session.Conn

	mu     sync.Mutex
	userID string
	closed bool

	once sync.Once
}

// NewBridge binds a new unauthenticated bridge to conn.
//
// Precondition: conn must be non-nil.
func (r *Router) NewBridge(conn session.Conn) *Bridge {
	return &Bridge{router: r, conn: conn}
}

// UserID returns the authenticated identity, or "" before authentication.
func (b *Bridge) UserID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.userID
}

// HandleFrame processes one inbound frame. Every outcome, including malformed
// input, is answered on the connection; nothing here closes it.
func (b *Bridge) HandleFrame(data []byte) {
	b.mu.Lock()
	closed := b.closed
	userID := b.userID
	b.mu.Unlock()
	if closed {
		return
	}

	env, err := payload.Decode(data)
	if err != nil {
		b.reply(userID, payload.Error{Error: err.Error()})
		return
	}

	if env.Action == payload.ActionAuth {
		b.authenticate(env)
		return
	}
	if userID != "" && !b.router.sessions.BoundTo(userID, b.conn) {
		// Replaced by a newer connection; this one no longer speaks for userID.
		b.mu.Lock()
		if b.userID == userID {
			b.userID = ""
		}
		b.mu.Unlock()
		b.router.logger.Debug("frame on superseded connection", zap.String("user_id", userID))
		userID = ""
	}
	if userID == "" {
		b.reply("", payload.Error{Error: ErrNotAuthenticated})
		return
	}

	if env.Action == payload.ActionPing {
		b.router.metrics.ActionHandled(env.Action, true)
		b.reply(userID, payload.Pong{Timestamp: payload.FormatTime(b.router.now())})
		return
	}

	result := b.router.Dispatch(userID, env)
	b.reply(userID, payload.Ack{Action: env.Action, Result: result})
}

func (b *Bridge) authenticate(env payload.Envelope) {
	r := b.router
	if env.UserID == "" {
		r.metrics.ActionHandled(payload.ActionAuth, false)
		b.reply(b.UserID(), payload.Error{Error: ErrUserIDRequired})
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	if r.duplicateAuth == config.DuplicateAuthReject {
		if !r.sessions.AddSessionExclusive(b.conn, env.UserID, env.DisplayName) {
			r.metrics.ActionHandled(payload.ActionAuth, false)
			r.logger.Info("duplicate auth rejected", zap.String("user_id", env.UserID))
			b.reply(b.userID, payload.Error{Error: ErrAlreadyConnected})
			return
		}
	} else if replaced := r.sessions.AddSession(b.conn, env.UserID, env.DisplayName); replaced != nil && replaced.Conn != b.conn {
		r.logger.Info("session replaced", zap.String("user_id", env.UserID))
		if err := replaced.Conn.Close(); err != nil {
			r.logger.Debug("closing replaced connection", zap.String("user_id", env.UserID), zap.Error(err))
		}
	}

	// Re-auth under a new identity releases the old one.
	if b.userID != "" && b.userID != env.UserID {
		r.sessions.RemoveSessionIf(b.userID, b.conn)
	}

	r.sessions.SetFriendList(env.UserID, env.FriendIDs)
	b.userID = env.UserID

	r.metrics.ActionHandled(payload.ActionAuth, true)
	r.logger.Info("user authenticated", zap.String("user_id", env.UserID))
	b.reply(env.UserID, payload.AuthSuccess{UserID: env.UserID, Timestamp: payload.FormatTime(r.now())})
}

// Disconnect releases the bridge's session. It is safe to call more than once
// and from any goroutine; cleanup runs exactly once.
func (b *Bridge) Disconnect() {
	b.once.Do(func() {
		b.mu.Lock()
		b.closed = true
		userID := b.userID
		b.mu.Unlock()

		if userID == "" {
			return
		}
		if b.router.sessions.RemoveSessionIf(userID, b.conn) {
			b.router.logger.Info("user disconnected", zap.String("user_id", userID))
		}
	})
}

func (b *Bridge) reply(userID string, p payload.Payload) {
	if _, err := b.router.engine.DeliverOne(p, delivery.Target{UserID: userID, Conn: b.conn}); err != nil {
		b.router.logger.Error("encoding reply", zap.String("user_id", userID), zap.Error(err))
	}
}
