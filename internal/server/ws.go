package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/tiergate/tiergate/internal/domain/event"
	"github.com/tiergate/tiergate/internal/domain/model"
	"github.com/tiergate/tiergate/internal/metrics"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsMaxMessage = 16 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Clients are native apps and embedded web views, not browsers with a
	// fixed origin. Access control happens at the network edge.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleClientSocket upgrades the connection and runs the persistent
// per-client channel: telemetry frames in, decision frames out.
func (s *Server) handleClientSocket(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		http.Error(w, `{"error":"client_id query parameter is required"}`, http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "client_id", clientID, "error", err)
		return
	}

	metrics.WSConnectsTotal.Inc()
	logger := s.logger.With("client_id", clientID)
	logger.Info("client connected")

	subID, events := s.broker.SubscribeClient(clientID)

	done := make(chan struct{})
	go s.writeLoop(conn, clientID, events, done, logger)
	s.readLoop(r, conn, clientID, logger)

	close(done)
	s.broker.Unsubscribe(subID)
	conn.Close()

	// A dropped channel leaves the session in place so a reconnect resumes
	// with its history; only the operator removes sessions.
	s.registry.MarkInactive(clientID)
	metrics.WSDisconnectsTotal.Inc()
	logger.Info("client disconnected")
}

func (s *Server) readLoop(r *http.Request, conn *websocket.Conn, clientID string, logger *slog.Logger) {
	conn.SetReadLimit(wsMaxMessage)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	limiter := rate.NewLimiter(rate.Limit(s.cfg.IngestRatePerSec), s.cfg.IngestBurst)

	for {
		var snap model.TelemetrySnapshot
		if err := conn.ReadJSON(&snap); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("websocket read failed", "error", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(wsPongWait))

		if !limiter.Allow() {
			metrics.TelemetryThrottledTotal.Inc()
			continue
		}

		s.engine.OnTelemetry(r.Context(), clientID, snap)
	}
}

func (s *Server) writeLoop(conn *websocket.Conn, clientID string, events <-chan event.Envelope, done <-chan struct{}, logger *slog.Logger) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	// Replay the latest decision so a reconnecting client picks up its
	// current tier without waiting for the next telemetry update.
	if sess, ok := s.registry.Get(clientID); ok {
		if last, ok := sess.History.Latest(); ok {
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(event.Decision(last)); err != nil {
				return
			}
		}
	}

	for {
		select {
		case env, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(env); err != nil {
				logger.Warn("websocket write failed", "error", err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
