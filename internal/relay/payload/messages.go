package payload

import "encoding/json"

// AuthSuccess confirms a connection's authentication.
type AuthSuccess struct {
	UserID    string `json:"userId"`
	Timestamp string `json:"timestamp"`
}

// GlobalChat is a message broadcast to every connected user.
type GlobalChat struct {
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName"`
	Message    string `json:"message"`
	Timestamp  string `json:"timestamp"`
}

// FriendChat is a direct message delivered to its recipient.
type FriendChat struct {
	SenderID      string `json:"senderId"`
	SenderName    string `json:"senderName"`
	RecipientID   string `json:"recipientId"`
	RecipientName string `json:"recipientName,omitempty"`
	Message       string `json:"message"`
	Timestamp     string `json:"timestamp"`
}

// FriendChatSent echoes a FriendChat back to its sender.
type FriendChatSent FriendChat

// LobbyChat is a message delivered to the members of one lobby.
type LobbyChat struct {
	LobbyID    string `json:"lobbyId"`
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName"`
	Message    string `json:"message"`
	Timestamp  string `json:"timestamp"`
}

// LobbyInvite invites the recipient to join the sender's game lobby.
type LobbyInvite struct {
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName"`
	LobbyCode  string `json:"lobbyCode"`
	LobbyName  string `json:"lobbyName"`
	ExpiresAt  string `json:"expiresAt"`
	Timestamp  string `json:"timestamp"`
}

// LobbyInviteResponse carries an accept/decline back to the inviter.
type LobbyInviteResponse struct {
	ResponderID   string `json:"responderId"`
	ResponderName string `json:"responderName"`
	LobbyCode     string `json:"lobbyCode"`
	Accepted      bool   `json:"accepted"`
	Timestamp     string `json:"timestamp"`
}

// Notification is pushed by the control surface on behalf of an external system.
type Notification struct {
	NotificationType string          `json:"notificationType"`
	Payload          json.RawMessage `json:"payload"`
	Timestamp        string          `json:"timestamp"`
}

// Error reports a connection-level failure.
type Error struct {
	Error string `json:"error"`
}

// Ack echoes the result of an action back to its originator.
type Ack struct {
	Action string `json:"action"`
	Result
}

// Pong answers a ping.
type Pong struct {
	Timestamp string `json:"timestamp"`
}

func (AuthSuccess) Kind() Kind         { return KindAuthSuccess }
func (GlobalChat) Kind() Kind          { return KindGlobalChat }
func (FriendChat) Kind() Kind          { return KindFriendChat }
func (FriendChatSent) Kind() Kind      { return KindFriendChatSent }
func (LobbyChat) Kind() Kind           { return KindLobbyChat }
func (LobbyInvite) Kind() Kind         { return KindLobbyInvite }
func (LobbyInviteResponse) Kind() Kind { return KindLobbyInviteResponse }
func (Notification) Kind() Kind        { return KindNotification }
func (Error) Kind() Kind               { return KindError }
func (Ack) Kind() Kind                 { return KindAck }
func (Pong) Kind() Kind                { return KindPong }

func (AuthSuccess) sealed()         {}
func (GlobalChat) sealed()          {}
func (FriendChat) sealed()          {}
func (FriendChatSent) sealed()      {}
func (LobbyChat) sealed()           {}
func (LobbyInvite) sealed()         {}
func (LobbyInviteResponse) sealed() {}
func (Notification) sealed()        {}
func (Error) sealed()               {}
func (Ack) sealed()                 {}
func (Pong) sealed()                {}

// NormalizeRaw returns raw, or an empty JSON object when raw is absent or null.
func NormalizeRaw(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || string(raw) == "null" {
		return json.RawMessage("{}")
	}
	return raw
}
