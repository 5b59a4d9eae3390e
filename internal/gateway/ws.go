package gateway

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/LanfordCai/allnads/internal/stream"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The gateway binds to loopback by default; browser clients connecting
	// through it are trusted.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const writeTimeout = 10 * time.Second

// chatRequest is one inbound WebSocket frame. An empty session id starts a
// fresh session; the generated id is returned on every event.
type chatRequest struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

// wsSink streams conversation events onto a WebSocket connection. Delivery
// is fire-and-forget: a write failure marks the sink dead and subsequent
// events are dropped, while the conversation keeps running to completion so
// the transcript stays consistent.
type wsSink struct {
	conn *websocket.Conn
	mu   sync.Mutex
	dead bool
}

func (s *wsSink) Emit(event stream.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dead {
		return
	}

	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.conn.WriteJSON(event); err != nil {
		s.dead = true
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sink := &wsSink{conn: conn}
	s.logger.Info("websocket client connected", "remote", conn.RemoteAddr())

	for {
		var req chatRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("websocket read failed", "error", err)
			}
			return
		}

		switch req.Type {
		case "chat":
			if req.Message == "" {
				sink.Emit(stream.Error(req.SessionID, "message is required"))
				continue
			}
			sessionID := req.SessionID
			if sessionID == "" {
				sessionID = uuid.NewString()
			}

			if err := s.loop.Run(r.Context(), sessionID, req.Message, sink); err != nil {
				s.logger.Error("conversation failed", "session", sessionID, "error", err)
			}
		case "ping":
			sink.Emit(stream.Event{Type: "pong", SessionID: req.SessionID, Timestamp: time.Now()})
		default:
			sink.Emit(stream.Error(req.SessionID, "unknown request type: "+req.Type))
		}
	}
}
