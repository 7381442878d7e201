package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Bharat-Ride-org/Bharat-Ride/internal/models"
)

// Handler consumes one named inbound event. Handlers for a channel run on a
// single goroutine, in receipt order, never concurrently with each other.
type Handler func(data json.RawMessage)

// Envelope is the wire framing for every event on the channel.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Channel is one user's bidirectional event stream to the relay. It is owned
// by the caller; there is no package-level singleton. The handler set is
// fixed once the first Connect happens, so repeated connect/disconnect
// cycles cannot leak duplicate registrations.
type Channel struct {
	baseURL string
	log     *slog.Logger
	dialer  *websocket.Dialer

	mu        sync.Mutex
	handlers  map[string]Handler
	sealed    bool
	conn      *websocket.Conn
	connected bool
	// closing marks a deliberate teardown so the read loop does not
	// surface it as a disconnect event.
	closing bool

	writeMu sync.Mutex
}

// NewChannel builds a channel that will dial baseURL (ws:// or wss://).
func NewChannel(baseURL string, log *slog.Logger) *Channel {
	return &Channel{
		baseURL:  baseURL,
		log:      log,
		dialer:   websocket.DefaultDialer,
		handlers: make(map[string]Handler),
	}
}

// On binds a handler for a named event. All handlers must be bound before
// the first Connect; later calls are ignored and logged.
func (c *Channel) On(event string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sealed {
		c.log.Warn("handler registration after connect ignored", "event", event)
		return
	}
	c.handlers[event] = h
}

// Connect establishes the live connection. It is idempotent: if a live
// connection already exists it is returned unchanged.
func (c *Channel) Connect(ctx context.Context, userID string, role models.Role) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.sealed = true
	c.closing = false
	c.mu.Unlock()

	u, err := url.Parse(c.baseURL + "/ws")
	if err != nil {
		return fmt.Errorf("presence: bad ws url: %w", err)
	}
	q := u.Query()
	q.Set("id", userID)
	q.Set("role", string(role))
	u.RawQuery = q.Encode()

	conn, _, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("presence: connect: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	c.log.Info("presence connected", "user_id", userID, "role", role)
	go c.readLoop(conn)
	return nil
}

// Disconnect tears the connection down. Safe to call with no live connection
// and safe to call re-entrantly from inside an event handler.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	was := c.connected
	c.closing = true
	c.connected = false
	c.conn = nil
	c.mu.Unlock()

	if !was || conn == nil {
		return
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	_ = conn.Close()
	c.log.Info("presence disconnected")
}

// Emit sends a named event, fire-and-forget. When there is no live
// connection the event is dropped and logged; callers must not assume
// delivery.
func (c *Channel) Emit(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		c.log.Error("presence emit marshal failed", "event", event, "err", err)
		return
	}

	c.mu.Lock()
	conn := c.conn
	live := c.connected
	c.mu.Unlock()
	if !live || conn == nil {
		c.log.Warn("presence emit dropped, not connected", "event", event)
		return
	}

	c.writeMu.Lock()
	err = conn.WriteJSON(Envelope{Event: event, Data: data})
	c.writeMu.Unlock()
	if err != nil {
		c.log.Warn("presence emit failed", "event", event, "err", err)
	}
}

// Connected reports whether a live connection exists.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// readLoop is the channel's single logical event thread. One bad frame is
// logged and skipped; it must never take the loop down.
func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			deliberate := c.closing
			c.connected = false
			if c.conn == conn {
				c.conn = nil
			}
			c.mu.Unlock()

			if !deliberate {
				c.log.Warn("presence connection lost", "err", err)
				c.dispatch(models.EventDisconnect, nil)
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.log.Warn("presence bad frame dropped", "err", err)
			continue
		}
		c.dispatch(env.Event, env.Data)
	}
}

func (c *Channel) dispatch(event string, data json.RawMessage) {
	c.mu.Lock()
	h := c.handlers[event]
	c.mu.Unlock()
	if h == nil {
		c.log.Debug("presence event without handler", "event", event)
		return
	}
	h(data)
}
