package payload

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Inbound actions.
const (
	ActionAuth                = "auth"
	ActionGlobalChat          = "global_chat"
	ActionFriendChat          = "friend_chat"
	ActionLobbySubscribe      = "lobby_subscribe"
	ActionLobbyUnsubscribe    = "lobby_unsubscribe"
	ActionLobbyChat           = "lobby_chat"
	ActionLobbyInvite         = "lobby_invite"
	ActionLobbyInviteResponse = "lobby_invite_response"
	ActionPing                = "ping"
)

// Envelope is an inbound client document. Only the fields relevant to Action are read.
type Envelope struct {
	Action      string          `json:"action"`
	UserID      string          `json:"userId,omitempty"`
	DisplayName string          `json:"displayName,omitempty"`
	FriendIDs   []string        `json:"friendIds,omitempty"`
	Message     string          `json:"message,omitempty"`
	RecipientID string          `json:"recipientId,omitempty"`
	LobbyID     string          `json:"lobbyId,omitempty"`
	LobbyCode   string          `json:"lobbyCode,omitempty"`
	LobbyName   string          `json:"lobbyName,omitempty"`
	ExpiresAt   string          `json:"expiresAt,omitempty"`
	SenderID    string          `json:"senderId,omitempty"`
	Accepted    json.RawMessage `json:"accepted,omitempty"`
}

// Decode parses one inbound document.
//
// Postcondition: Returns the envelope, or an error if data is not a JSON object
// matching the envelope field types.
func Decode(data []byte) (Envelope, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Envelope{}, fmt.Errorf("invalid message: expected a JSON object")
	}
	var env Envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return Envelope{}, fmt.Errorf("invalid message: %w", err)
	}
	return env, nil
}

// IsAccepted reports whether the accepted field is the JSON literal true.
// Any other value, including "true" as a string, counts as declined.
func (e Envelope) IsAccepted() bool {
	return bytes.Equal(bytes.TrimSpace(e.Accepted), []byte("true"))
}
