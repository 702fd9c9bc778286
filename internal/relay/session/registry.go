package session

import (
	"sort"
	"sync"
	"time"
)

// DefaultDisplayName is used when a session is registered without a display name.
const DefaultDisplayName = "Unknown"

// Session is a read-only snapshot of a connected user's registry entry.
type Session struct {
	// UserID is the identity key.
	UserID string
	// Conn is the handle owned by the session.
	Conn Conn
	// DisplayName is the user's display name, or DefaultDisplayName.
	DisplayName string
	// FriendIDs is the user's friend set, sorted.
	FriendIDs []string
	// LobbyID is the current lobby, or empty when not subscribed.
	LobbyID string
	// ConnectedAt is when the session was registered.
	ConnectedAt time.Time
}

type entry struct {
	userID      string
	conn        Conn
	displayName string
	friends     map[string]struct{}
	lobbyID     string
	connectedAt time.Time
}

func (e *entry) snapshot() Session {
	friends := make([]string, 0, len(e.friends))
	for id := range e.friends {
		friends = append(friends, id)
	}
	sort.Strings(friends)
	return Session{
		UserID:      e.userID,
		Conn:        e.conn,
		DisplayName: e.displayName,
		FriendIDs:   friends,
		LobbyID:     e.lobbyID,
		ConnectedAt: e.connectedAt,
	}
}

// Stats is a point-in-time count of sessions and lobbies.
type Stats struct {
	TotalClients int       `json:"totalClients"`
	TotalLobbies int       `json:"totalLobbies"`
	Timestamp    time.Time `json:"timestamp"`
}

// Registry tracks all live sessions and lobby memberships.
// All methods are safe for concurrent use; every mutation holds the write lock
// for its full duration so routing reads never observe a half-applied change.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*entry              // userID → session
	lobbies map[string]map[string]struct{} // lobbyID → set of userIDs
	now     func() time.Time
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return NewRegistryWithClock(time.Now)
}

// NewRegistryWithClock creates an empty Registry that stamps sessions using now.
//
// Precondition: now must be non-nil.
func NewRegistryWithClock(now func() time.Time) *Registry {
	return &Registry{
		clients: make(map[string]*entry),
		lobbies: make(map[string]map[string]struct{}),
		now:     now,
	}
}

// AddSession registers the session for userID, replacing any prior one.
// A replaced session is first removed from its lobby.
//
// Precondition: conn must be non-nil; userID must be non-empty.
// Postcondition: Returns a snapshot of the replaced session, or nil. The caller
// owns the replaced session's Conn and decides whether to close it.
func (r *Registry) AddSession(conn Conn, userID, displayName string) *Session {
	if displayName == "" {
		displayName = DefaultDisplayName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var replaced *Session
	if old, ok := r.clients[userID]; ok {
		r.leaveLobbyLocked(old)
		snap := old.snapshot()
		replaced = &snap
	}

	r.clients[userID] = &entry{
		userID:      userID,
		conn:        conn,
		displayName: displayName,
		friends:     make(map[string]struct{}),
		connectedAt: r.now(),
	}
	return replaced
}

// AddSessionExclusive registers the session for userID unless another
// connection already holds it. Re-registering on the same conn replaces the
// entry as AddSession does.
//
// Postcondition: Returns false, leaving the registry unchanged, when userID is
// bound to a different conn.
func (r *Registry) AddSessionExclusive(conn Conn, userID, displayName string) bool {
	if displayName == "" {
		displayName = DefaultDisplayName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.clients[userID]; ok {
		if old.conn != conn {
			return false
		}
		r.leaveLobbyLocked(old)
	}
	r.clients[userID] = &entry{
		userID:      userID,
		conn:        conn,
		displayName: displayName,
		friends:     make(map[string]struct{}),
		connectedAt: r.now(),
	}
	return true
}

// RemoveSession removes the session for userID, leaving its lobby first.
//
// Postcondition: Returns true if a session was removed; false if none existed.
func (r *Registry) RemoveSession(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.clients[userID]
	if !ok {
		return false
	}
	r.leaveLobbyLocked(e)
	delete(r.clients, userID)
	return true
}

// RemoveSessionIf removes the session for userID only if it is still bound to conn.
// Disconnect cleanup uses this so a connection that was replaced cannot tear down
// its successor.
//
// Postcondition: Returns true if a session was removed.
func (r *Registry) RemoveSessionIf(userID string, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.clients[userID]
	if !ok || e.conn != conn {
		return false
	}
	r.leaveLobbyLocked(e)
	delete(r.clients, userID)
	return true
}

// BoundTo reports whether the session for userID is still held by conn.
func (r *Registry) BoundTo(userID string, conn Conn) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.clients[userID]
	return ok && e.conn == conn
}

// SetFriendList replaces the friend set for userID. Unknown users are ignored.
func (r *Registry) SetFriendList(userID string, friendIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.clients[userID]
	if !ok {
		return
	}
	friends := make(map[string]struct{}, len(friendIDs))
	for _, id := range friendIDs {
		friends[id] = struct{}{}
	}
	e.friends = friends
}

// SubscribeToLobby moves userID into lobbyID, leaving any current lobby first.
//
// Postcondition: Returns false if no session exists for userID; otherwise the
// user is a member of exactly lobbyID.
func (r *Registry) SubscribeToLobby(userID, lobbyID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.clients[userID]
	if !ok {
		return false
	}
	if e.lobbyID != "" {
		r.leaveLobbyLocked(e)
	}

	members, ok := r.lobbies[lobbyID]
	if !ok {
		members = make(map[string]struct{})
		r.lobbies[lobbyID] = members
	}
	members[userID] = struct{}{}
	e.lobbyID = lobbyID
	return true
}

// UnsubscribeFromLobby removes userID from its current lobby.
//
// Postcondition: Returns the lobby left, or "" if the user had no session or no lobby.
func (r *Registry) UnsubscribeFromLobby(userID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.clients[userID]
	if !ok {
		return ""
	}
	return r.leaveLobbyLocked(e)
}

// leaveLobbyLocked removes e from its lobby, deleting the lobby when it empties.
// The caller must hold r.mu for writing.
func (r *Registry) leaveLobbyLocked(e *entry) string {
	lobbyID := e.lobbyID
	if lobbyID == "" {
		return ""
	}
	if members, ok := r.lobbies[lobbyID]; ok {
		delete(members, e.userID)
		if len(members) == 0 {
			delete(r.lobbies, lobbyID)
		}
	}
	e.lobbyID = ""
	return lobbyID
}

// GetSession returns a snapshot of the session for userID.
//
// Postcondition: Returns (session, true) if found, or (Session{}, false) otherwise.
func (r *Registry) GetSession(userID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.clients[userID]
	if !ok {
		return Session{}, false
	}
	return e.snapshot(), true
}

// ListSessions returns snapshots of every registered session, ordered by user ID.
func (r *Registry) ListSessions() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Session, 0, len(r.clients))
	for _, e := range r.clients {
		out = append(out, e.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// ListLobbyMembers returns snapshots of the members of lobbyID, ordered by user ID.
//
// Postcondition: Returns an empty slice for an unknown lobby.
func (r *Registry) ListLobbyMembers(lobbyID string) []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.lobbies[lobbyID]
	out := make([]Session, 0, len(members))
	for uid := range members {
		if e, ok := r.clients[uid]; ok {
			out = append(out, e.snapshot())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// OnlineFriendsOf returns the sorted subset of userID's friends that have a live session.
//
// Postcondition: Returns an empty slice when userID has no session.
func (r *Registry) OnlineFriendsOf(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.clients[userID]
	if !ok {
		return []string{}
	}
	online := make([]string, 0, len(e.friends))
	for id := range e.friends {
		if _, ok := r.clients[id]; ok {
			online = append(online, id)
		}
	}
	sort.Strings(online)
	return online
}

// Stats returns the current session and lobby counts.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{
		TotalClients: len(r.clients),
		TotalLobbies: len(r.lobbies),
		Timestamp:    r.now(),
	}
}

// Counts returns the session and lobby counts without a timestamp.
func (r *Registry) Counts() (sessions, lobbies int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients), len(r.lobbies)
}
