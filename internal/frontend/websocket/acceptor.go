// Package websocket accepts client WebSocket connections and pumps frames
// between the wire and a per-connection protocol handler.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	gws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/relay/internal/config"
	"github.com/cory-johannsen/relay/internal/observability"
	"github.com/cory-johannsen/relay/internal/relay/session"
)

// FrameHandler consumes the inbound frames of one connection.
type FrameHandler interface {
	// HandleFrame is called sequentially for each text frame.
	HandleFrame(data []byte)
	// Disconnect is called once after the read loop ends.
	Disconnect()
}

// OpenFunc binds a FrameHandler to a newly accepted connection.
type OpenFunc func(conn session.Conn) FrameHandler

// Acceptor listens for WebSocket upgrades on the configured path and runs one
// read loop and one writer goroutine per connection.
type Acceptor struct {
	cfg      config.WebSocketConfig
	open     OpenFunc
	logger   *zap.Logger
	metrics  *observability.Metrics
	upgrader gws.Upgrader

	server   *http.Server
	listener net.Listener
	conns    map[*session.QueueConn]struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
	stopped  bool
}

// NewAcceptor creates a WebSocket acceptor with the given configuration.
//
// Precondition: open and logger must be non-nil; metrics may be nil.
// Postcondition: Returns an Acceptor ready to be started with ListenAndServe.
func NewAcceptor(cfg config.WebSocketConfig, open OpenFunc, logger *zap.Logger, metrics *observability.Metrics) *Acceptor {
	return &Acceptor{
		cfg:     cfg,
		open:    open,
		logger:  logger,
		metrics: metrics,
		upgrader: gws.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Game clients connect from arbitrary origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[*session.QueueConn]struct{}),
	}
}

// ListenAndServe starts the listener and serves upgrades until Stop is called.
// This method blocks until the acceptor is stopped.
//
// Postcondition: Returns nil after Stop, or the listen/serve error.
func (a *Acceptor) ListenAndServe() error {
	start := time.Now()

	listener, err := net.Listen("tcp", a.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", a.cfg.Addr(), err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(a.cfg.Path, a.serveWS)

	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		_ = listener.Close()
		return nil
	}
	a.listener = listener
	a.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	a.running = true
	server := a.server
	a.mu.Unlock()

	a.logger.Info("websocket acceptor listening",
		zap.String("addr", listener.Addr().String()),
		zap.String("path", a.cfg.Path),
		zap.Duration("startup", time.Since(start)),
	)

	if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving websocket: %w", err)
	}
	return nil
}

func (a *Acceptor) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Debug("websocket upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}

	qc := session.NewQueueConn(uuid.NewString(), a.cfg.SendBuffer)
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		_ = ws.Close()
		return
	}
	a.conns[qc] = struct{}{}
	a.wg.Add(1)
	a.mu.Unlock()

	a.metrics.ConnectionAccepted()
	a.handleConn(ws, qc, r.RemoteAddr)
}

// handleConn runs the read loop for one connection until the peer leaves or
// the handle is closed.
func (a *Acceptor) handleConn(ws *gws.Conn, qc *session.QueueConn, addr string) {
	defer a.wg.Done()
	start := time.Now()
	logger := a.logger.With(zap.String("conn_id", qc.ID()), zap.String("remote_addr", addr))
	logger.Info("client connected")

	ws.SetReadLimit(a.cfg.MaxMessageBytes)
	a.extendReadDeadline(ws)
	ws.SetPongHandler(func(string) error {
		a.extendReadDeadline(ws)
		return nil
	})

	handler := a.open(qc)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		a.writeLoop(ws, qc, logger)
	}()

	var readErr error
	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			readErr = err
			break
		}
		a.extendReadDeadline(ws)
		if msgType != gws.TextMessage && msgType != gws.BinaryMessage {
			continue
		}
		handler.HandleFrame(data)
	}

	handler.Disconnect()
	_ = qc.Close()
	<-writerDone
	_ = ws.Close()

	a.mu.Lock()
	delete(a.conns, qc)
	a.mu.Unlock()

	if gws.IsUnexpectedCloseError(readErr, gws.CloseNormalClosure, gws.CloseGoingAway, gws.CloseNoStatusReceived) {
		logger.Debug("session ended", zap.Error(readErr), zap.Duration("duration", time.Since(start)))
	} else {
		logger.Info("session ended cleanly", zap.Duration("duration", time.Since(start)))
	}
}

// writeLoop drains the outbound queue to the wire. When the queue closes it
// sends a close frame and closes the socket, which also ends the read loop.
func (a *Acceptor) writeLoop(ws *gws.Conn, qc *session.QueueConn, logger *zap.Logger) {
	var ping <-chan time.Time
	if a.cfg.ReadTimeout > 0 {
		ticker := time.NewTicker(a.cfg.ReadTimeout * 9 / 10)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case frame, ok := <-qc.Frames():
			if !ok {
				_ = ws.WriteControl(gws.CloseMessage,
					gws.FormatCloseMessage(gws.CloseNormalClosure, ""),
					time.Now().Add(a.writeTimeout()))
				_ = ws.Close()
				return
			}
			_ = ws.SetWriteDeadline(time.Now().Add(a.writeTimeout()))
			if err := ws.WriteMessage(gws.TextMessage, frame); err != nil {
				logger.Debug("write failed", zap.Error(err))
				_ = qc.Close()
				_ = ws.Close()
				a.drain(qc)
				return
			}
		case <-ping:
			if err := ws.WriteControl(gws.PingMessage, nil, time.Now().Add(a.writeTimeout())); err != nil {
				logger.Debug("ping failed", zap.Error(err))
				_ = qc.Close()
				_ = ws.Close()
				a.drain(qc)
				return
			}
		}
	}
}

// drain discards frames queued before the handle was closed.
func (a *Acceptor) drain(qc *session.QueueConn) {
	for range qc.Frames() {
	}
}

func (a *Acceptor) extendReadDeadline(ws *gws.Conn) {
	if a.cfg.ReadTimeout > 0 {
		_ = ws.SetReadDeadline(time.Now().Add(a.cfg.ReadTimeout))
	}
}

func (a *Acceptor) writeTimeout() time.Duration {
	if a.cfg.WriteTimeout > 0 {
		return a.cfg.WriteTimeout
	}
	return 10 * time.Second
}

// Stop closes the listener, closes every live connection and waits for their
// goroutines to finish.
//
// Postcondition: All connections are closed and goroutines have exited.
func (a *Acceptor) Stop() {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}
	a.stopped = true
	a.running = false
	server := a.server
	conns := make([]*session.QueueConn, 0, len(a.conns))
	for qc := range a.conns {
		conns = append(conns, qc)
	}
	a.mu.Unlock()

	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := server.Shutdown(ctx); err != nil {
			a.logger.Warn("websocket server shutdown", zap.Error(err))
		}
		cancel()
	}
	for _, qc := range conns {
		_ = qc.Close()
	}
	a.wg.Wait()

	a.logger.Info("websocket acceptor stopped")
}

// Addr returns the actual listening address, or empty string if not yet listening.
func (a *Acceptor) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener != nil {
		return a.listener.Addr().String()
	}
	return ""
}

// IsRunning returns whether the acceptor is currently accepting connections.
func (a *Acceptor) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}
