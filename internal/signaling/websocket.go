package signaling

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"wakeline/pkg/models"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	writeWait  = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// CallLookup is the registry view the live session needs.
type CallLookup interface {
	GetStatus(ctx context.Context, callUUID string) (models.PendingCall, bool, error)
}

type ControlMessage struct {
	Type      string `json:"type"`
	CallUUID  string `json:"callUUID,omitempty"`
	UserID    string `json:"userId,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Success   bool   `json:"success,omitempty"`
	Error     string `json:"error,omitempty"`
}

type Session struct {
	ID        string
	CallUUID  string
	UserID    string
	StartedAt time.Time

	conn         *conn
	lastActivity time.Time
	mu           sync.RWMutex
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *Session) idle(now time.Time) time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return now.Sub(s.lastActivity)
}

// conn serializes writes; gorilla allows one concurrent writer.
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) send(msg ControlMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(msg)
}

func (c *conn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// SignalingServer hosts live call sessions. A device joins with the callUUID
// it was woken for once the user answered.
type SignalingServer struct {
	calls       CallLookup
	sessions    sync.Map
	idleTimeout time.Duration
	log         *slog.Logger
}

func NewSignalingServer(calls CallLookup, idleTimeout time.Duration, log *slog.Logger) *SignalingServer {
	if idleTimeout <= 0 {
		idleTimeout = 30 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &SignalingServer{
		calls:       calls,
		idleTimeout: idleTimeout,
		log:         log.With(slog.String("component", "signaling")),
	}
}

func (s *SignalingServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}
	c := &conn{ws: ws}
	defer ws.Close()

	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := c.ping(); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	var current *Session
	for {
		messageType, message, err := ws.ReadMessage()
		if err != nil {
			break
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))

		switch messageType {
		case websocket.TextMessage:
			current = s.handleControlMessage(r.Context(), c, message, current)
		case websocket.BinaryMessage:
			if current != nil {
				current.touch()
			}
		}
	}

	if current != nil {
		s.cleanupSession(current.ID, "disconnected")
	}
}

func (s *SignalingServer) handleControlMessage(ctx context.Context, c *conn, message []byte, current *Session) *Session {
	var msg ControlMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		_ = c.send(ControlMessage{Type: "error", Error: "invalid message"})
		return current
	}
	if current != nil {
		current.touch()
	}

	switch msg.Type {
	case "join":
		if current != nil {
			_ = c.send(ControlMessage{Type: "error", Error: "already in a session"})
			return current
		}
		session, reason := s.join(ctx, c, msg)
		if session == nil {
			_ = c.send(ControlMessage{Type: "error", CallUUID: msg.CallUUID, Error: reason})
			return nil
		}
		_ = c.send(ControlMessage{
			Type:      "session_created",
			CallUUID:  session.CallUUID,
			SessionID: session.ID,
			Success:   true,
		})
		return session

	case "hangup":
		if current != nil {
			s.cleanupSession(current.ID, "hangup")
			_ = c.send(ControlMessage{Type: "session_ended", SessionID: current.ID, Success: true})
		}
		return nil

	case "ping":
		_ = c.send(ControlMessage{Type: "pong"})
		return current

	default:
		return current
	}
}

func (s *SignalingServer) join(ctx context.Context, c *conn, msg ControlMessage) (*Session, string) {
	if msg.CallUUID == "" || msg.UserID == "" {
		return nil, "callUUID and userId are required"
	}
	call, found, err := s.calls.GetStatus(ctx, msg.CallUUID)
	if err != nil {
		s.log.Error("call lookup failed", slog.String("callUUID", msg.CallUUID), slog.Any("error", err))
		return nil, "lookup failed"
	}
	if !found || call.UserID != msg.UserID {
		return nil, "unknown call"
	}
	if call.Terminal && !call.Acknowledged {
		return nil, "call expired"
	}

	now := time.Now()
	session := &Session{
		ID:           uuid.NewString(),
		CallUUID:     call.CallUUID,
		UserID:       call.UserID,
		StartedAt:    now,
		conn:         c,
		lastActivity: now,
	}
	s.sessions.Store(session.ID, session)
	s.log.Info("session created",
		slog.String("sessionId", session.ID),
		slog.String("callUUID", session.CallUUID),
		slog.String("userId", session.UserID),
	)
	return session, ""
}

func (s *SignalingServer) cleanupSession(sessionID, reason string) {
	val, ok := s.sessions.LoadAndDelete(sessionID)
	if !ok {
		return
	}
	session := val.(*Session)
	s.log.Info("session ended",
		slog.String("sessionId", sessionID),
		slog.String("callUUID", session.CallUUID),
		slog.String("reason", reason),
		slog.Duration("duration", time.Since(session.StartedAt)),
	)
}

// ActiveCount is the number of live sessions.
func (s *SignalingServer) ActiveCount() int {
	n := 0
	s.sessions.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// SweepIdle ends sessions with no traffic for longer than the idle timeout
// and closes their connections.
func (s *SignalingServer) SweepIdle(now time.Time) int {
	var stale []*Session
	s.sessions.Range(func(_, value any) bool {
		session := value.(*Session)
		if session.idle(now) > s.idleTimeout {
			stale = append(stale, session)
		}
		return true
	})
	for _, session := range stale {
		s.cleanupSession(session.ID, "idle")
		_ = session.conn.ws.Close()
	}
	return len(stale)
}

// Worker adapter so the sweep runs under the worker manager.

func (s *SignalingServer) Name() string { return "session-sweeper" }

func (s *SignalingServer) Interval() time.Duration { return 5 * time.Minute }

func (s *SignalingServer) Run(context.Context) error {
	if n := s.SweepIdle(time.Now()); n > 0 {
		s.log.Info("idle sessions closed", slog.Int("count", n))
	}
	return nil
}
