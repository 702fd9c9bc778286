// Package payload defines the relay wire protocol: the inbound action envelope
// and the closed set of outbound payload kinds.
package payload

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// TimeFormat is the ISO-8601 layout used for every timestamp on the wire.
const TimeFormat = "2006-01-02T15:04:05.000Z"

// FormatTime renders t in UTC using TimeFormat.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// Kind is the "type" discriminator of an outbound payload.
type Kind string

// Outbound payload kinds.
const (
	KindAuthSuccess         Kind = "auth_success"
	KindGlobalChat          Kind = "global_chat"
	KindFriendChat          Kind = "friend_chat"
	KindFriendChatSent      Kind = "friend_chat_sent"
	KindLobbyChat           Kind = "lobby_chat"
	KindLobbyInvite         Kind = "lobby_invite"
	KindLobbyInviteResponse Kind = "lobby_invite_response"
	KindNotification        Kind = "notification"
	KindError               Kind = "error"
	KindAck                 Kind = "ack"
	KindPong                Kind = "pong"
)

// Valid reports whether k is one of the known outbound kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindAuthSuccess, KindGlobalChat, KindFriendChat, KindFriendChatSent,
		KindLobbyChat, KindLobbyInvite, KindLobbyInviteResponse, KindNotification,
		KindError, KindAck, KindPong:
		return true
	}
	return false
}

var (
	// ErrUnknownKind is returned when encoding a payload whose kind is not recognised.
	ErrUnknownKind = errors.New("unknown payload kind")
	// ErrNotObject is returned when a payload does not marshal to a JSON object.
	ErrNotObject = errors.New("payload is not a JSON object")
)

// Payload is an outbound message. The set of implementations is closed to this package.
type Payload interface {
	Kind() Kind
	sealed()
}

// Encode serializes p as a JSON object whose first member is the "type" discriminator.
//
// Postcondition: Returns the encoded bytes, or ErrUnknownKind / ErrNotObject / a marshal error.
func Encode(p Payload) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("encoding nil payload: %w", ErrUnknownKind)
	}
	k := p.Kind()
	if !k.Valid() {
		return nil, fmt.Errorf("encoding %q: %w", k, ErrUnknownKind)
	}
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshalling %s payload: %w", k, err)
	}
	if len(body) < 2 || body[0] != '{' || body[len(body)-1] != '}' {
		return nil, fmt.Errorf("encoding %s: %w", k, ErrNotObject)
	}

	out := make([]byte, 0, len(body)+len(k)+12)
	out = append(out, `{"type":`...)
	out = strconv.AppendQuote(out, string(k))
	if len(body) > 2 {
		out = append(out, ',')
	}
	out = append(out, body[1:]...)
	return out, nil
}
