package session

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestQueueConn_Send(t *testing.T) {
	c := NewQueueConn("test", 4)
	require.NoError(t, c.Send([]byte("hello")))

	data := <-c.Frames()
	assert.Equal(t, []byte("hello"), data)
	assert.Equal(t, "test", c.ID())
}

func TestQueueConn_SendClosed(t *testing.T) {
	c := NewQueueConn("test", 4)
	require.NoError(t, c.Close())
	assert.False(t, c.IsOpen())

	err := c.Send([]byte("fail"))
	assert.ErrorIs(t, err, ErrConnClosed)
}

func TestQueueConn_SendFull(t *testing.T) {
	c := NewQueueConn("test", 1)
	require.NoError(t, c.Send([]byte("first")))
	err := c.Send([]byte("overflow"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "buffer full")
}

func TestQueueConn_CloseIdempotent(t *testing.T) {
	c := NewQueueConn("test", 4)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.False(t, c.IsOpen())
}

func TestRegistry_AddSession(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r := NewRegistryWithClock(func() time.Time { return fixed })
	conn := NewQueueConn("c1", 4)

	replaced := r.AddSession(conn, "u1", "Alice")
	assert.Nil(t, replaced)

	sess, ok := r.GetSession("u1")
	require.True(t, ok)
	assert.Equal(t, "Alice", sess.DisplayName)
	assert.Equal(t, fixed, sess.ConnectedAt)
	assert.Empty(t, sess.LobbyID)
	assert.Empty(t, sess.FriendIDs)
	assert.Same(t, conn, sess.Conn)
}

func TestRegistry_AddSessionDefaultsDisplayName(t *testing.T) {
	r := NewRegistry()
	r.AddSession(NewQueueConn("c1", 4), "u1", "")

	sess, ok := r.GetSession("u1")
	require.True(t, ok)
	assert.Equal(t, DefaultDisplayName, sess.DisplayName)
}

func TestRegistry_AddSessionReplacesAndLeavesLobby(t *testing.T) {
	r := NewRegistry()
	oldConn := NewQueueConn("old", 4)
	newConn := NewQueueConn("new", 4)

	r.AddSession(oldConn, "u1", "Alice")
	r.SetFriendList("u1", []string{"u2"})
	require.True(t, r.SubscribeToLobby("u1", "L1"))

	replaced := r.AddSession(newConn, "u1", "Alice")
	require.NotNil(t, replaced)
	assert.Same(t, oldConn, replaced.Conn)
	assert.Equal(t, "L1", replaced.LobbyID)

	sess, ok := r.GetSession("u1")
	require.True(t, ok)
	assert.Same(t, newConn, sess.Conn)
	assert.Empty(t, sess.LobbyID)
	assert.Empty(t, sess.FriendIDs, "a replacement session starts with an empty friend set")
	assert.Empty(t, r.ListLobbyMembers("L1"))
	assert.Equal(t, 0, r.Stats().TotalLobbies)
}

func TestRegistry_RemoveSession(t *testing.T) {
	r := NewRegistry()
	r.AddSession(NewQueueConn("c1", 4), "u1", "Alice")
	require.True(t, r.SubscribeToLobby("u1", "L1"))

	assert.True(t, r.RemoveSession("u1"))
	_, ok := r.GetSession("u1")
	assert.False(t, ok)
	assert.Empty(t, r.ListLobbyMembers("L1"))

	stats := r.Stats()
	assert.Equal(t, 0, stats.TotalClients)
	assert.Equal(t, 0, stats.TotalLobbies)
}

func TestRegistry_RemoveSessionNotFound(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.RemoveSession("unknown"))
}

func TestRegistry_RemoveSessionIf(t *testing.T) {
	r := NewRegistry()
	oldConn := NewQueueConn("old", 4)
	newConn := NewQueueConn("new", 4)

	r.AddSession(oldConn, "u1", "Alice")
	r.AddSession(newConn, "u1", "Alice")

	assert.False(t, r.RemoveSessionIf("u1", oldConn), "stale handle must not remove the successor")
	_, ok := r.GetSession("u1")
	assert.True(t, ok)

	assert.True(t, r.RemoveSessionIf("u1", newConn))
	_, ok = r.GetSession("u1")
	assert.False(t, ok)
}

func TestRegistry_BoundTo(t *testing.T) {
	r := NewRegistry()
	oldConn := NewQueueConn("old", 4)
	newConn := NewQueueConn("new", 4)

	assert.False(t, r.BoundTo("u1", oldConn))
	r.AddSession(oldConn, "u1", "Alice")
	assert.True(t, r.BoundTo("u1", oldConn))

	r.AddSession(newConn, "u1", "Alice")
	assert.False(t, r.BoundTo("u1", oldConn))
	assert.True(t, r.BoundTo("u1", newConn))

	r.RemoveSession("u1")
	assert.False(t, r.BoundTo("u1", newConn))
}

func TestRegistry_AddSessionExclusive(t *testing.T) {
	r := NewRegistry()
	first := NewQueueConn("first", 4)
	second := NewQueueConn("second", 4)

	require.True(t, r.AddSessionExclusive(first, "u1", "Alice"))
	require.True(t, r.SubscribeToLobby("u1", "L"))

	assert.False(t, r.AddSessionExclusive(second, "u1", "Mallory"))
	s, ok := r.GetSession("u1")
	require.True(t, ok)
	assert.Same(t, first, s.Conn)
	assert.Equal(t, "Alice", s.DisplayName)
	assert.Equal(t, "L", s.LobbyID)

	assert.True(t, r.AddSessionExclusive(first, "u1", "Alice"), "same conn may re-register")
	s, _ = r.GetSession("u1")
	assert.Empty(t, s.LobbyID)
	assert.Equal(t, 0, r.Stats().TotalLobbies)
}

func TestRegistry_SetFriendList(t *testing.T) {
	r := NewRegistry()
	r.AddSession(NewQueueConn("c1", 4), "u1", "Alice")

	r.SetFriendList("u1", []string{"u3", "u2"})
	sess, _ := r.GetSession("u1")
	assert.Equal(t, []string{"u2", "u3"}, sess.FriendIDs)

	r.SetFriendList("u1", []string{"u4"})
	sess, _ = r.GetSession("u1")
	assert.Equal(t, []string{"u4"}, sess.FriendIDs, "friend list is replaced wholesale")
}

func TestRegistry_SetFriendListUnknownIgnored(t *testing.T) {
	r := NewRegistry()
	assert.NotPanics(t, func() { r.SetFriendList("ghost", []string{"u1"}) })
	_, ok := r.GetSession("ghost")
	assert.False(t, ok)
}

func TestRegistry_SubscribeRequiresSession(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.SubscribeToLobby("ghost", "L1"))
	assert.Empty(t, r.ListLobbyMembers("L1"))
}

func TestRegistry_SubscribeSwitchesLobby(t *testing.T) {
	r := NewRegistry()
	r.AddSession(NewQueueConn("c1", 4), "u1", "Alice")
	r.AddSession(NewQueueConn("c2", 4), "u2", "Bob")

	require.True(t, r.SubscribeToLobby("u1", "L1"))
	require.True(t, r.SubscribeToLobby("u2", "L1"))
	require.True(t, r.SubscribeToLobby("u1", "L2"))

	l1 := r.ListLobbyMembers("L1")
	require.Len(t, l1, 1)
	assert.Equal(t, "u2", l1[0].UserID)

	l2 := r.ListLobbyMembers("L2")
	require.Len(t, l2, 1)
	assert.Equal(t, "u1", l2[0].UserID)

	sess, _ := r.GetSession("u1")
	assert.Equal(t, "L2", sess.LobbyID)
}

func TestRegistry_UnsubscribeTearsDownEmptyLobby(t *testing.T) {
	r := NewRegistry()
	r.AddSession(NewQueueConn("c1", 4), "u1", "Alice")
	require.True(t, r.SubscribeToLobby("u1", "L1"))
	assert.Equal(t, 1, r.Stats().TotalLobbies)

	assert.Equal(t, "L1", r.UnsubscribeFromLobby("u1"))
	assert.Empty(t, r.ListLobbyMembers("L1"))
	assert.Equal(t, 0, r.Stats().TotalLobbies)

	sess, _ := r.GetSession("u1")
	assert.Empty(t, sess.LobbyID)
}

func TestRegistry_UnsubscribeNoop(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, "", r.UnsubscribeFromLobby("ghost"))

	r.AddSession(NewQueueConn("c1", 4), "u1", "Alice")
	assert.Equal(t, "", r.UnsubscribeFromLobby("u1"))
}

func TestRegistry_ListLobbyMembersUnknown(t *testing.T) {
	r := NewRegistry()
	members := r.ListLobbyMembers("nope")
	assert.NotNil(t, members)
	assert.Empty(t, members)
}

func TestRegistry_ListSessionsSorted(t *testing.T) {
	r := NewRegistry()
	r.AddSession(NewQueueConn("c3", 4), "u3", "")
	r.AddSession(NewQueueConn("c1", 4), "u1", "")
	r.AddSession(NewQueueConn("c2", 4), "u2", "")

	var ids []string
	for _, s := range r.ListSessions() {
		ids = append(ids, s.UserID)
	}
	assert.Equal(t, []string{"u1", "u2", "u3"}, ids)
}

func TestRegistry_OnlineFriendsOf(t *testing.T) {
	r := NewRegistry()
	r.AddSession(NewQueueConn("c1", 4), "u1", "Alice")
	r.AddSession(NewQueueConn("c2", 4), "u2", "Bob")
	r.SetFriendList("u1", []string{"u2", "u3"})

	assert.Equal(t, []string{"u2"}, r.OnlineFriendsOf("u1"))
	assert.Empty(t, r.OnlineFriendsOf("ghost"))

	r.RemoveSession("u2")
	assert.Empty(t, r.OnlineFriendsOf("u1"))
}

func TestRegistry_SnapshotIsolation(t *testing.T) {
	r := NewRegistry()
	r.AddSession(NewQueueConn("c1", 4), "u1", "Alice")
	r.SetFriendList("u1", []string{"u2"})

	sess, _ := r.GetSession("u1")
	sess.FriendIDs[0] = "mutated"
	sess.LobbyID = "mutated"

	again, _ := r.GetSession("u1")
	assert.Equal(t, []string{"u2"}, again.FriendIDs)
	assert.Empty(t, again.LobbyID)
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			uid := fmt.Sprintf("u%d", n)
			conn := NewQueueConn(uid, 4)
			r.AddSession(conn, uid, uid)
			r.SubscribeToLobby(uid, fmt.Sprintf("L%d", n%3))
			r.SubscribeToLobby(uid, fmt.Sprintf("L%d", (n+1)%3))
			_ = r.ListLobbyMembers("L0")
			r.RemoveSessionIf(uid, conn)
		}(i)
	}
	wg.Wait()

	stats := r.Stats()
	assert.Equal(t, 0, stats.TotalClients)
	assert.Equal(t, 0, stats.TotalLobbies)
}

// Property-based tests

// lobbyMembership counts the lobbies listing uid among their members.
func lobbyMembership(r *Registry, uid string, lobbies []string) []string {
	var in []string
	for _, l := range lobbies {
		for _, m := range r.ListLobbyMembers(l) {
			if m.UserID == uid {
				in = append(in, l)
			}
		}
	}
	return in
}

func TestPropertyExclusiveLobbyMembership(t *testing.T) {
	lobbies := []string{"L1", "L2", "L3", "L4"}
	rapid.Check(t, func(t *rapid.T) {
		r := NewRegistry()
		r.AddSession(NewQueueConn("c1", 4), "u1", "Alice")

		n := rapid.IntRange(1, 30).Draw(t, "n")
		for i := 0; i < n; i++ {
			target := rapid.SampledFrom(lobbies).Draw(t, "lobby")
			if !r.SubscribeToLobby("u1", target) {
				t.Fatalf("subscribe to %s failed", target)
			}
			in := lobbyMembership(r, "u1", lobbies)
			if len(in) != 1 || in[0] != target {
				t.Fatalf("after subscribing to %s user is in %v", target, in)
			}
			sess, _ := r.GetSession("u1")
			if sess.LobbyID != target {
				t.Fatalf("session lobby %q, want %q", sess.LobbyID, target)
			}
		}
	})
}

func TestPropertyLobbyCountMatchesNonEmptyLobbies(t *testing.T) {
	lobbies := []string{"L1", "L2", "L3"}
	users := []string{"u1", "u2", "u3", "u4"}
	rapid.Check(t, func(t *rapid.T) {
		r := NewRegistry()
		for _, u := range users {
			r.AddSession(NewQueueConn(u, 4), u, u)
		}

		steps := rapid.IntRange(1, 40).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			u := rapid.SampledFrom(users).Draw(t, "user")
			switch rapid.IntRange(0, 2).Draw(t, "op") {
			case 0:
				r.SubscribeToLobby(u, rapid.SampledFrom(lobbies).Draw(t, "lobby"))
			case 1:
				r.UnsubscribeFromLobby(u)
			case 2:
				r.RemoveSession(u)
				r.AddSession(NewQueueConn(u, 4), u, u)
			}

			nonEmpty := 0
			for _, l := range lobbies {
				if len(r.ListLobbyMembers(l)) > 0 {
					nonEmpty++
				}
			}
			if got := r.Stats().TotalLobbies; got != nonEmpty {
				t.Fatalf("TotalLobbies=%d, non-empty lobbies=%d", got, nonEmpty)
			}
			for _, uu := range users {
				if in := lobbyMembership(r, uu, lobbies); len(in) > 1 {
					t.Fatalf("user %s in multiple lobbies: %v", uu, in)
				}
			}
		}
	})
}
