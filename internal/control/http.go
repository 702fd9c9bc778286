package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/cory-johannsen/relay/internal/config"
	"github.com/cory-johannsen/relay/internal/history"
	"github.com/cory-johannsen/relay/internal/observability"
	"github.com/cory-johannsen/relay/internal/relay/payload"
)

const (
	errInvalidBody  = "invalid JSON body"
	errInvalidLimit = "limit must be a positive integer"
	errInvalidStart = "startAfter must be an ISO-8601 timestamp"
	errUnauthorized = "unauthorized"
)

// Server binds a Surface to HTTP.
type Server struct {
	cfg     config.ControlConfig
	surface *Surface
	metrics *observability.Metrics
	logger  *zap.Logger

	server   *http.Server
	listener net.Listener
	mu       sync.Mutex
	running  bool
	stopped  bool
}

// NewServer creates the control HTTP server.
//
// Precondition: surface and logger must be non-nil; metrics may be nil.
func NewServer(cfg config.ControlConfig, surface *Surface, metrics *observability.Metrics, logger *zap.Logger) *Server {
	return &Server{cfg: cfg, surface: surface, metrics: metrics, logger: logger}
}

// Handler returns the routed HTTP handler. Routes under /api require the
// configured bearer token when one is set.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/stats", s.authorized(s.handleStats))
	mux.HandleFunc("POST /api/notification", s.authorized(s.handleNotify))
	mux.HandleFunc("POST /api/notification/broadcast", s.authorized(s.handleBroadcast))
	mux.HandleFunc("GET /api/friend-chat/history", s.authorized(s.handleHistory))
	mux.HandleFunc("POST /api/friend-chat/mark-read", s.authorized(s.handleMarkRead))
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	return cors(mux)
}

// ListenAndServe serves the control API until Stop is called.
//
// Postcondition: Returns nil after Stop, or the listen/serve error.
func (s *Server) ListenAndServe() error {
	listener, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Addr(), err)
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		_ = listener.Close()
		return nil
	}
	s.listener = listener
	s.server = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	s.running = true
	server := s.server
	s.mu.Unlock()

	s.logger.Info("control server listening",
		zap.String("addr", listener.Addr().String()),
		zap.Bool("auth", s.cfg.APIKeyHash != ""),
		zap.Bool("history", s.surface.HistoryEnabled()),
	)

	if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving control API: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down. A Stop that lands before
// ListenAndServe makes the later ListenAndServe return nil without serving.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.running = false
	server := s.server
	s.mu.Unlock()

	if server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		s.logger.Warn("control server shutdown", zap.Error(err))
	}
	s.logger.Info("control server stopped")
}

// Addr returns the actual listening address, or empty string if not yet listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// IsRunning returns whether the server is accepting requests.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// authorized checks the bearer token against the configured bcrypt hash.
func (s *Server) authorized(next http.HandlerFunc) http.HandlerFunc {
	if s.cfg.APIKeyHash == "" {
		return next
	}
	hash := []byte(s.cfg.APIKeyHash)
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || bcrypt.CompareHashAndPassword(hash, []byte(token)) != nil {
			s.logger.Warn("control request unauthorized",
				zap.String("path", r.URL.Path),
				zap.String("remote_addr", r.RemoteAddr),
			)
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: errUnauthorized})
			return
		}
		next(w, r)
	}
}

type statsBody struct {
	Status       string `json:"status,omitempty"`
	TotalClients int    `json:"totalClients"`
	TotalLobbies int    `json:"totalLobbies"`
	Timestamp    string `json:"timestamp"`
}

func (s *Server) stats() statsBody {
	st := s.surface.Stats()
	return statsBody{
		TotalClients: st.TotalClients,
		TotalLobbies: st.TotalLobbies,
		Timestamp:    payload.FormatTime(st.Timestamp),
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := s.stats()
	body.Status = "ok"
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.stats())
}

type notifyRequest struct {
	UserIDs          json.RawMessage `json:"userIds"`
	NotificationType string          `json:"notificationType"`
	Payload          json.RawMessage `json:"payload"`
}

// userIDs returns the request's user ids, or nil when the field is absent or
// not an array of strings.
func (n notifyRequest) userIDs() []string {
	var ids []string
	if err := json.Unmarshal(n.UserIDs, &ids); err != nil {
		return nil
	}
	return ids
}

func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	var req notifyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	writeResult(w, s.surface.SendNotification(req.userIDs(), req.NotificationType, req.Payload))
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req notifyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	writeResult(w, s.surface.BroadcastNotification(req.NotificationType, req.Payload))
}

type messageBody struct {
	ID            string `json:"id"`
	SenderID      string `json:"senderId"`
	SenderName    string `json:"senderName"`
	RecipientID   string `json:"recipientId"`
	RecipientName string `json:"recipientName"`
	Message       string `json:"message"`
	Timestamp     string `json:"timestamp"`
	Read          bool   `json:"read"`
}

type historyBody struct {
	Success  bool          `json:"success"`
	Messages []messageBody `json:"messages"`
	Count    int           `json:"count"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID, friendID := q.Get("userId"), q.Get("friendId")
	if userID == "" || friendID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: history.ErrInvalidQuery.Error()})
		return
	}

	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: errInvalidLimit})
			return
		}
		limit = n
	}

	var before *time.Time
	if raw := q.Get("startAfter"); raw != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: errInvalidStart})
			return
		}
		before = &ts
	}

	recs, err := s.surface.ChatHistory(r.Context(), userID, friendID, limit, before)
	if err != nil {
		s.writeHistoryError(w, err)
		return
	}

	msgs := make([]messageBody, 0, len(recs))
	for _, rec := range recs {
		msgs = append(msgs, messageBody{
			ID:            rec.ID,
			SenderID:      rec.SenderID,
			SenderName:    rec.SenderName,
			RecipientID:   rec.RecipientID,
			RecipientName: rec.RecipientName,
			Message:       rec.Message,
			Timestamp:     payload.FormatTime(rec.Timestamp),
			Read:          rec.Read,
		})
	}
	writeJSON(w, http.StatusOK, historyBody{Success: true, Messages: msgs, Count: len(msgs)})
}

type markReadRequest struct {
	UserID   string `json:"userId"`
	FriendID string `json:"friendId"`
}

type markReadBody struct {
	Success bool  `json:"success"`
	Updated int64 `json:"updated"`
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	var req markReadRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.UserID == "" || req.FriendID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: history.ErrInvalidQuery.Error()})
		return
	}
	n, err := s.surface.MarkRead(r.Context(), req.UserID, req.FriendID)
	if err != nil {
		s.writeHistoryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, markReadBody{Success: true, Updated: n})
}

func (s *Server) writeHistoryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, history.ErrHistoryUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: err.Error()})
	case errors.Is(err, history.ErrInvalidQuery):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	default:
		s.logger.Error("history query", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
	}
}

type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: errInvalidBody})
		return false
	}
	return true
}

func writeResult(w http.ResponseWriter, res payload.Result) {
	status := http.StatusOK
	if !res.Success {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// cors allows browser-based tools on any origin to call the API.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
