package notify

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mmynk/eventsync/internal/wire"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

// EventIDParam is the query parameter naming the aggregate a websocket
// subscribes to.
const EventIDParam = "event_id"

// Authenticator identifies the user behind a websocket upgrade request.
type Authenticator func(r *http.Request) (string, error)

// client is one websocket subscriber.
type client struct {
	conn    *websocket.Conn
	eventID string
	user    string
	send    chan []byte
}

type message struct {
	eventID string
	data    []byte
}

// Hub maintains websocket subscribers per event and fans out snapshots to
// them. It implements Publisher and http.Handler.
type Hub struct {
	clients    map[string]map[*client]bool
	register   chan *client
	unregister chan *client
	broadcast  chan message
	done       chan struct{}

	upgrader websocket.Upgrader
	auth     Authenticator
}

var _ Publisher = (*Hub)(nil)

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithAuthenticator rejects upgrades that auth refuses.
func WithAuthenticator(auth Authenticator) HubOption {
	return func(h *Hub) {
		h.auth = auth
	}
}

// NewHub creates a Hub. Call Run before serving.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		clients:    make(map[string]map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan message),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run owns the subscriber table until ctx ends, then disconnects everyone.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case c := <-h.register:
			if h.clients[c.eventID] == nil {
				h.clients[c.eventID] = make(map[*client]bool)
			}
			h.clients[c.eventID][c] = true
			slog.Debug("Subscriber registered", "event_id", c.eventID, "user", c.user, "subscribers", len(h.clients[c.eventID]))
		case c := <-h.unregister:
			h.drop(c)
		case msg := <-h.broadcast:
			for c := range h.clients[msg.eventID] {
				select {
				case c.send <- msg.data:
				default:
					slog.Warn("Dropping slow subscriber", "event_id", c.eventID, "user", c.user)
					h.drop(c)
				}
			}
		case <-ctx.Done():
			for _, subs := range h.clients {
				for c := range subs {
					h.drop(c)
				}
			}
			return
		}
	}
}

func (h *Hub) drop(c *client) {
	subs, ok := h.clients[c.eventID]
	if !ok || !subs[c] {
		return
	}
	delete(subs, c)
	if len(subs) == 0 {
		delete(h.clients, c.eventID)
	}
	close(c.send)
	slog.Debug("Subscriber unregistered", "event_id", c.eventID, "user", c.user)
}

// Publish implements Publisher.
func (h *Hub) Publish(ctx context.Context, n *wire.Notification) error {
	id, err := eventID(n)
	if err != nil {
		return err
	}
	data, err := wire.EncodeNotification(n)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- message{eventID: id, data: data}:
		return nil
	case <-h.done:
		return context.Canceled
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ServeHTTP upgrades a subscriber connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get(EventIDParam)
	if id == "" {
		http.Error(w, EventIDParam+" is required", http.StatusBadRequest)
		return
	}
	var user string
	if h.auth != nil {
		var err error
		if user, err = h.auth(r); err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("Failed to upgrade websocket", "error", err)
		return
	}
	c := &client{conn: conn, eventID: id, user: user, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	go h.writePump(c)
	go h.readPump(c)
}

// readPump discards inbound messages; it only detects disconnects and
// keeps the read deadline fresh.
func (h *Hub) readPump(c *client) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
