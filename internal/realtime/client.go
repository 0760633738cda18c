package realtime

import (
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
)

// clientIDCounter hands out monotonically increasing IDs so that delivery
// and shutdown order are stable within a process run.
var clientIDCounter atomic.Uint64

// Client pairs one websocket connection with its hub-side send buffer.
// UserID is empty for anonymous connections.
type Client struct {
	id     uint64
	hub    *Hub
	conn   *websocket.Conn
	send   chan Event
	UserID string
}

// NewClient wraps an upgraded websocket connection. The caller must Register
// it with the hub before calling Start.
func NewClient(hub *Hub, conn *websocket.Conn, userID string) *Client {
	return &Client{
		id:     clientIDCounter.Add(1),
		hub:    hub,
		conn:   conn,
		send:   make(chan Event, 64),
		UserID: userID,
	}
}

// ID returns the client's unique identifier.
func (c *Client) ID() uint64 {
	return c.id
}

// CanJoin reports whether this connection is allowed to join the topic.
// Public topics are open to everyone; a personal topic only to its owner.
func (c *Client) CanJoin(topic string) bool {
	if IsPublicTopic(topic) {
		return true
	}
	if strings.HasPrefix(topic, "user:") {
		return c.UserID != "" && topic == "user:"+c.UserID
	}
	return false
}

// controlMessage is what subscribers send to manage their topic set.
type controlMessage struct {
	Action string `json:"action"` // "subscribe" or "unsubscribe"
	Topic  string `json:"topic"`
}

// readPump consumes subscribe/unsubscribe messages until the connection
// drops, then unregisters the client.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		log.Printf("Realtime client %d: failed to set read deadline: %v", c.id, err)
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg controlMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Printf("Realtime client %d: unexpected close: %v", c.id, err)
			}
			return
		}

		switch msg.Action {
		case "subscribe":
			if !c.CanJoin(msg.Topic) {
				log.Printf("Realtime client %d denied topic %q", c.id, msg.Topic)
				continue
			}
			c.hub.Join(c, msg.Topic)
		case "unsubscribe":
			c.hub.Leave(c, msg.Topic)
		default:
			// Unknown actions are ignored rather than fatal.
		}
	}
}

// writePump drains the send buffer to the connection and keeps it alive
// with periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				// The hub closed the channel.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(event); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Start launches the read and write pumps.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}
