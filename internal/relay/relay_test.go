package relay

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/relay/internal/config"
	"github.com/cory-johannsen/relay/internal/history"
	"github.com/cory-johannsen/relay/internal/observability"
	"github.com/cory-johannsen/relay/internal/relay/delivery"
	"github.com/cory-johannsen/relay/internal/relay/session"
	"github.com/cory-johannsen/relay/internal/testutil"
)

var fixedNow = time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

type fixture struct {
	router   *Router
	sessions *session.Registry
	history  *history.Service
	store    *history.MemoryStore
	metrics  *observability.Metrics
}

func newFixture(t *testing.T, policy string) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	clock := func() time.Time { return fixedNow }
	metrics := observability.NewMetrics()
	reg := session.NewRegistryWithClock(clock)
	store := history.NewMemoryStore()
	hist := history.NewService(store, logger, metrics, time.Second, 50)
	r := newRouter(reg, delivery.NewEngine(logger, metrics), hist, logger, metrics, policy, clock)
	return &fixture{router: r, sessions: reg, history: hist, store: store, metrics: metrics}
}

func newReplaceFixture(t *testing.T) *fixture {
	return newFixture(t, config.DuplicateAuthReplace)
}

func frame(t *testing.T, v map[string]interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

// connect authenticates userID on a fresh connection and clears the auth reply.
func (f *fixture) connect(t *testing.T, userID string, friendIDs ...string) (*Bridge, *testutil.RecordingConn) {
	t.Helper()
	conn := testutil.NewRecordingConn()
	b := f.router.NewBridge(conn)
	msg := map[string]interface{}{"action": "auth", "userId": userID, "displayName": "name-" + userID}
	if len(friendIDs) > 0 {
		msg["friendIds"] = friendIDs
	}
	b.HandleFrame(frame(t, msg))
	require.Equal(t, "auth_success", conn.Last(t)["type"])
	conn.Reset()
	return b, conn
}

// do sends one action and returns the ack the sender received.
func do(t *testing.T, b *Bridge, conn *testutil.RecordingConn, msg map[string]interface{}) map[string]interface{} {
	t.Helper()
	b.HandleFrame(frame(t, msg))
	acks := conn.OfType(t, "ack")
	require.NotEmpty(t, acks, "no ack for %v", msg)
	return acks[len(acks)-1]
}
