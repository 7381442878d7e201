// Package relay is the server side of the presence protocol: the hub owns
// live websocket sessions and the router arbitrates the ping lifecycle.
package relay

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Bharat-Ride-org/Bharat-Ride/internal/models"
)

var ErrNoSession = errors.New("relay: no live session")

const writeGrace = time.Second

// envelope is the wire frame. Both directions use the same shape.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Inbound receives frames read off a client session.
type Inbound interface {
	HandleFrame(userID string, role models.Role, event string, data json.RawMessage)
	HandleGone(userID string, role models.Role)
}

type session struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (s *session) send(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(envelope{Event: event, Data: data})
}

// Hub keys live sessions by user id. One session per user: a new connection
// for the same id displaces the old one.
type Hub struct {
	log     *slog.Logger
	inbound Inbound
	mu      sync.RWMutex
	clients map[string]*session
}

func NewHub(log *slog.Logger, inbound Inbound) *Hub {
	return &Hub{log: log, inbound: inbound, clients: make(map[string]*session)}
}

// Attach registers the connection and blocks reading frames until the peer
// goes away. The http handler calls this after the upgrade.
func (h *Hub) Attach(conn *websocket.Conn, userID string, role models.Role) {
	s := &session{conn: conn}

	h.mu.Lock()
	if prev, ok := h.clients[userID]; ok {
		prev.conn.Close()
	}
	h.clients[userID] = s
	h.mu.Unlock()

	h.log.Info("session attached", "user_id", userID, "role", role)
	h.readLoop(s, userID, role)
}

func (h *Hub) readLoop(s *session, userID string, role models.Role) {
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			h.detach(s, userID, role)
			return
		}
		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
			h.log.Warn("dropping malformed frame", "user_id", userID, "err", err)
			continue
		}
		h.inbound.HandleFrame(userID, role, env.Event, env.Data)
	}
}

func (h *Hub) detach(s *session, userID string, role models.Role) {
	h.mu.Lock()
	// only remove if this session is still the registered one; a newer
	// connection for the same id must not be torn down
	if cur, ok := h.clients[userID]; ok && cur == s {
		delete(h.clients, userID)
	} else {
		h.mu.Unlock()
		s.conn.Close()
		return
	}
	h.mu.Unlock()

	s.conn.Close()
	h.log.Info("session gone", "user_id", userID, "role", role)
	h.inbound.HandleGone(userID, role)
}

// SendEvent delivers one event to the user's live session.
func (h *Hub) SendEvent(userID, event string, payload any) error {
	h.mu.RLock()
	s, ok := h.clients[userID]
	h.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	return s.send(event, payload)
}

// Connected reports whether the user has a live session.
func (h *Hub) Connected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[userID]
	return ok
}

// Close drops every session, used during shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, s := range h.clients {
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeGrace))
		s.writeMu.Unlock()
		s.conn.Close()
		delete(h.clients, id)
	}
}
