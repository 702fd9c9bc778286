package control

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	"github.com/cory-johannsen/relay/internal/config"
	"github.com/cory-johannsen/relay/internal/history"
	"github.com/cory-johannsen/relay/internal/observability"
	"github.com/cory-johannsen/relay/internal/relay"
	"github.com/cory-johannsen/relay/internal/relay/delivery"
	"github.com/cory-johannsen/relay/internal/relay/session"
	"github.com/cory-johannsen/relay/internal/testutil"
)

type harness struct {
	handler  http.Handler
	sessions *session.Registry
	history  *history.Service
}

func newHarness(t *testing.T, store history.Store, apiKeyHash string) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	metrics := observability.NewMetrics()
	reg := session.NewRegistry()
	metrics.TrackPresence(reg.Counts)
	hist := history.NewService(store, logger, metrics, time.Second, 50)
	router := relay.NewRouter(reg, delivery.NewEngine(logger, metrics), hist, logger, metrics, config.DuplicateAuthReplace)
	srv := NewServer(config.ControlConfig{APIKeyHash: apiKeyHash}, NewSurface(router, hist, logger), metrics, logger)
	return &harness{handler: srv.Handler(), sessions: reg, history: hist}
}

func (h *harness) do(t *testing.T, method, target, body string, header ...string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	var m map[string]interface{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	}
	return rec.Code, m
}

func TestHealthAndStats(t *testing.T) {
	h := newHarness(t, nil, "")
	h.sessions.AddSession(testutil.NewRecordingConn(), "A", "")
	h.sessions.SubscribeToLobby("A", "L1")

	code, body := h.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, 1.0, body["totalClients"])
	assert.Equal(t, 1.0, body["totalLobbies"])
	assert.NotEmpty(t, body["timestamp"])

	code, body = h.do(t, http.MethodGet, "/api/stats", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1.0, body["totalClients"])
	_, hasStatus := body["status"]
	assert.False(t, hasStatus)
}

func TestScenario_SendNotification(t *testing.T) {
	h := newHarness(t, nil, "")
	conn := testutil.NewRecordingConn()
	h.sessions.AddSession(conn, "A", "")

	code, body := h.do(t, http.MethodPost, "/api/notification",
		`{"userIds":["A","Z"],"notificationType":"t","payload":{}}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, 1.0, body["sent"])
	assert.Equal(t, 1.0, body["offline"])
	assert.Equal(t, 0.0, body["failed"])
	details := body["details"].(map[string]interface{})
	assert.Equal(t, []interface{}{"A"}, details["sent"])
	assert.Equal(t, []interface{}{"Z"}, details["offline"])
	assert.Equal(t, []interface{}{}, details["failed"])

	assert.Equal(t, "notification", conn.Last(t)["type"])
}

func TestSendNotification_Validation(t *testing.T) {
	h := newHarness(t, nil, "")

	cases := map[string]string{
		`{"notificationType":"t"}`:                relay.ErrUserIDsRequired,
		`{"userIds":"A","notificationType":"t"}`:  relay.ErrUserIDsRequired,
		`{"userIds":[],"notificationType":"t"}`:   relay.ErrUserIDsRequired,
		`{"userIds":["A"]}`:                       relay.ErrNotificationTypeEmpty,
		`{"userIds":["A"],"notificationType":""}`: relay.ErrNotificationTypeEmpty,
		`not json`:                                errInvalidBody,
	}
	for in, want := range cases {
		code, body := h.do(t, http.MethodPost, "/api/notification", in)
		assert.Equal(t, http.StatusBadRequest, code, in)
		assert.Equal(t, false, body["success"], in)
		assert.Equal(t, want, body["error"], in)
	}
}

func TestBroadcastNotification(t *testing.T) {
	h := newHarness(t, nil, "")
	a := testutil.NewRecordingConn()
	b := testutil.NewRecordingConn()
	h.sessions.AddSession(a, "A", "")
	h.sessions.AddSession(b, "B", "")

	code, body := h.do(t, http.MethodPost, "/api/notification/broadcast", `{"notificationType":"maintenance"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 2.0, body["recipients"])
	assert.Equal(t, map[string]interface{}{}, b.Last(t)["payload"])

	code, body = h.do(t, http.MethodPost, "/api/notification/broadcast", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, relay.ErrNotificationTypeEmpty, body["error"])
}

func TestHistory_Unavailable(t *testing.T) {
	h := newHarness(t, nil, "")

	code, body := h.do(t, http.MethodGet, "/api/friend-chat/history?userId=A&friendId=B", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, history.ErrHistoryUnavailable.Error(), body["error"])

	code, _ = h.do(t, http.MethodPost, "/api/friend-chat/mark-read", `{"userId":"A","friendId":"B"}`)
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestHistory_QueryAndMarkRead(t *testing.T) {
	h := newHarness(t, history.NewMemoryStore(), "")
	h.history.RecordAsync("B", "Bob", "A", "Alice", "one")
	h.history.Wait()
	h.history.RecordAsync("A", "Alice", "B", "Bob", "two")
	h.history.Wait()

	code, body := h.do(t, http.MethodGet, "/api/friend-chat/history?userId=A&friendId=B", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, 2.0, body["count"])
	msgs := body["messages"].([]interface{})
	first := msgs[0].(map[string]interface{})
	assert.NotEmpty(t, first["id"])
	assert.Equal(t, false, first["read"])
	assert.Regexp(t, `^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{3}Z$`, first["timestamp"])

	code, body = h.do(t, http.MethodGet, "/api/friend-chat/history?userId=A&friendId=B&limit=1", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1.0, body["count"])

	code, body = h.do(t, http.MethodPost, "/api/friend-chat/mark-read", `{"userId":"A","friendId":"B"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, 1.0, body["updated"])
}

func TestHistory_BadRequests(t *testing.T) {
	h := newHarness(t, history.NewMemoryStore(), "")

	for _, target := range []string{
		"/api/friend-chat/history",
		"/api/friend-chat/history?userId=A",
		"/api/friend-chat/history?userId=A&friendId=B&limit=zero",
		"/api/friend-chat/history?userId=A&friendId=B&limit=-1",
		"/api/friend-chat/history?userId=A&friendId=B&startAfter=yesterday",
	} {
		code, body := h.do(t, http.MethodGet, target, "")
		assert.Equal(t, http.StatusBadRequest, code, target)
		assert.NotEmpty(t, body["error"], target)
	}

	code, _ := h.do(t, http.MethodPost, "/api/friend-chat/mark-read", `{"userId":"A"}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestHistory_StartAfterCursor(t *testing.T) {
	store := history.NewMemoryStore()
	h := newHarness(t, store, "")
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, err := store.Append(t.Context(), history.Record{
			ConversationID: history.ConversationID("A", "B"),
			SenderID:       "A", RecipientID: "B",
			Message:   string(rune('a' + i)),
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	code, body := h.do(t, http.MethodGet, "/api/friend-chat/history?userId=B&friendId=A&startAfter=2026-01-01T00:02:00.000Z", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 2.0, body["count"])
	first := body["messages"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "b", first["message"])
}

func TestAPIKeyAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	h := newHarness(t, nil, string(hash))

	code, _ := h.do(t, http.MethodGet, "/api/stats", "")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = h.do(t, http.MethodGet, "/api/stats", "", "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = h.do(t, http.MethodGet, "/api/stats", "", "Authorization", "Bearer s3cret")
	assert.Equal(t, http.StatusOK, code)

	code, _ = h.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, code, "health stays open")
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t, nil, "")
	h.sessions.AddSession(testutil.NewRecordingConn(), "A", "")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "relay_sessions 1")
}

func TestCORSPreflight(t *testing.T) {
	h := newHarness(t, nil, "")
	req := httptest.NewRequest(http.MethodOptions, "/api/notification", nil)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMethodNotAllowed(t *testing.T) {
	h := newHarness(t, nil, "")
	code, _ := h.do(t, http.MethodGet, "/api/notification", "")
	assert.Equal(t, http.StatusMethodNotAllowed, code)
}

func newListeningServer(t *testing.T) *Server {
	t.Helper()
	logger := zaptest.NewLogger(t)
	reg := session.NewRegistry()
	hist := history.NewService(nil, logger, nil, time.Second, 50)
	router := relay.NewRouter(reg, delivery.NewEngine(logger, nil), hist, logger, nil, config.DuplicateAuthReplace)
	return NewServer(config.ControlConfig{Host: "127.0.0.1", Port: 0}, NewSurface(router, hist, logger), nil, logger)
}

func TestServer_ListenAndStop(t *testing.T) {
	srv := newListeningServer(t)
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe() }()

	require.Eventually(t, srv.IsRunning, 2*time.Second, 10*time.Millisecond)
	resp, err := http.Get("http://" + srv.Addr() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	srv.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("ListenAndServe did not return after Stop")
	}
	assert.False(t, srv.IsRunning())
	srv.Stop()
}

func TestServer_StopBeforeListen(t *testing.T) {
	srv := newListeningServer(t)
	srv.Stop()

	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe() }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		srv.mu.Lock()
		server := srv.server
		srv.mu.Unlock()
		if server != nil {
			_ = server.Close()
		}
		t.Fatal("ListenAndServe kept serving after Stop")
	}
	assert.False(t, srv.IsRunning())
	assert.Empty(t, srv.Addr())
}
