package device

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"wakeline/internal/signaling"
)

// WSConnector opens live sessions on the server's /wss endpoint.
type WSConnector struct {
	url    string
	dialer *websocket.Dialer
}

// NewWSConnector derives the websocket URL from the server base URL.
func NewWSConnector(baseURL string) (*WSConnector, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path += "/wss"
	return &WSConnector{
		url:    u.String(),
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}, nil
}

func (c *WSConnector) Connect(ctx context.Context, callUUID, userID string) (Session, error) {
	ws, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial session: %w", err)
	}

	join := signaling.ControlMessage{Type: "join", CallUUID: callUUID, UserID: userID}
	if err := ws.WriteJSON(join); err != nil {
		ws.Close()
		return nil, fmt.Errorf("send join: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = ws.SetReadDeadline(deadline)
	} else {
		_ = ws.SetReadDeadline(time.Now().Add(15 * time.Second))
	}
	var reply signaling.ControlMessage
	if err := ws.ReadJSON(&reply); err != nil {
		ws.Close()
		return nil, fmt.Errorf("await session: %w", err)
	}
	if reply.Type != "session_created" {
		ws.Close()
		return nil, fmt.Errorf("join refused: %s", reply.Error)
	}
	_ = ws.SetReadDeadline(time.Time{})

	s := &wsSession{id: reply.SessionID, ws: ws, done: make(chan struct{})}
	go s.readLoop()
	return s, nil
}

type wsSession struct {
	id   string
	ws   *websocket.Conn
	done chan struct{}

	once   sync.Once
	mu     sync.Mutex
	closed bool
}

func (s *wsSession) ID() string            { return s.id }
func (s *wsSession) Token() string         { return s.id }
func (s *wsSession) Done() <-chan struct{} { return s.done }

func (s *wsSession) readLoop() {
	defer s.once.Do(func() { close(s.done) })
	for {
		var msg signaling.ControlMessage
		if err := s.ws.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Type == "session_ended" {
			return
		}
	}
}

// Close sends a hangup and closes the connection. Safe to call more than once.
func (s *wsSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	_ = s.ws.SetWriteDeadline(time.Now().Add(time.Second))
	_ = s.ws.WriteJSON(signaling.ControlMessage{Type: "hangup", SessionID: s.id})
	_ = s.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return s.ws.Close()
}
