// Package notify pushes post status changes to live observers over
// websockets. Delivery is best-effort and fire-and-forget: the pipeline's
// correctness never depends on a notification arriving.
package notify

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Event is a post status change pushed to the owning user's room.
type Event struct {
	ItemID         string    `json:"itemId"`
	Status         string    `json:"status"`
	PlatformPostID string    `json:"platformPostId,omitempty"`
	Error          string    `json:"error,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type client struct {
	conn   *websocket.Conn
	send   chan []byte
	userID uint
}

// Hub maintains the set of connected observers, grouped into rooms keyed by
// owning user id.
type Hub struct {
	rooms      map[uint]map[*client]bool
	register   chan *client
	unregister chan *client
	logger     *logrus.Logger
	mutex      sync.RWMutex
	done       chan struct{}
}

// NewHub creates a notification hub.
func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		rooms:      make(map[uint]map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		logger:     logger,
		done:       make(chan struct{}),
	}
}

// Run processes connection lifecycle events until Close is called.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mutex.Lock()
			if h.rooms[c.userID] == nil {
				h.rooms[c.userID] = make(map[*client]bool)
			}
			h.rooms[c.userID][c] = true
			h.mutex.Unlock()
			h.logger.WithField("user_id", c.userID).Debug("observer connected")

		case c := <-h.unregister:
			h.mutex.Lock()
			if room, ok := h.rooms[c.userID]; ok {
				if _, ok := room[c]; ok {
					delete(room, c)
					close(c.send)
					if len(room) == 0 {
						delete(h.rooms, c.userID)
					}
				}
			}
			h.mutex.Unlock()
			h.logger.WithField("user_id", c.userID).Debug("observer disconnected")

		case <-h.done:
			return
		}
	}
}

// Close stops the hub loop and drops all connections.
func (h *Hub) Close() {
	close(h.done)
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for userID, room := range h.rooms {
		for c := range room {
			close(c.send)
			c.conn.Close()
		}
		delete(h.rooms, userID)
	}
}

// Broadcast pushes an event to every observer in the user's room. Slow
// consumers are skipped rather than blocked on; failures are logged only.
func (h *Hub) Broadcast(userID uint, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.WithError(err).Error("failed to marshal notification event")
		return
	}

	h.mutex.RLock()
	defer h.mutex.RUnlock()
	for c := range h.rooms[userID] {
		select {
		case c.send <- data:
		default:
			h.logger.WithField("user_id", userID).Warn("dropping notification for slow observer")
		}
	}
}

// ServeWS upgrades the request and joins the observer to the user's room.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID uint) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("websocket upgrade failed")
		return
	}

	c := &client{
		conn:   conn,
		send:   make(chan []byte, 16),
		userID: userID,
	}
	h.register <- c

	go c.writePump(h)
	go c.readPump(h)
}

func (c *client) writePump(h *Hub) {
	defer c.conn.Close()
	for data := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// readPump drains the connection so pings and close frames are processed;
// observers never send application messages.
func (c *client) readPump(h *Hub) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
