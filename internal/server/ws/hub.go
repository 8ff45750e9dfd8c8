// Package ws streams auction events to WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// subscribeMsg is the control frame a client sends, e.g.
//
//	{"action":"subscribe","items":["item-1","item-2"]}
//
// An empty item list with action "subscribe" follows every item.
type subscribeMsg struct {
	Action string   `json:"action"`
	Items  []string `json:"items"`
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu    sync.RWMutex
	all   bool
	items map[string]bool
}

func (c *client) wants(itemID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.all || c.items[itemID]
}

// Hub fans auction events from the signal bus out to connected clients.
// Clients start subscribed to every item and can narrow the set.
type Hub struct {
	bus        domain.SignalBus
	clients    map[*client]bool
	broadcast  chan domain.AuctionEvent
	register   chan *client
	unregister chan *client
	mu         sync.RWMutex
	startedAt  time.Time
	logger     *slog.Logger
}

func NewHub(bus domain.SignalBus, logger *slog.Logger) *Hub {
	return &Hub{
		bus:        bus,
		clients:    make(map[*client]bool),
		broadcast:  make(chan domain.AuctionEvent, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		startedAt:  time.Now().UTC(),
		logger:     logger.With(slog.String("component", "ws_hub")),
	}
}

// Run subscribes to every auction channel and serves the client registry
// until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	events, err := h.bus.Subscribe(ctx, domain.AuctionChannelPattern)
	if err != nil {
		return err
	}
	h.logger.InfoContext(ctx, "subscribed", slog.String("pattern", domain.AuctionChannelPattern))
	go h.pump(ctx, events)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("client connected", slog.Int("total_clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("client disconnected", slog.Int("total_clients", n))

		case ev := <-h.broadcast:
			h.deliver(ev)
		}
	}
}

// pump decodes bus payloads and hands them to the registry loop.
func (h *Hub) pump(ctx context.Context, events <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-events:
			if !ok {
				h.logger.Warn("auction subscription closed")
				return
			}
			var ev domain.AuctionEvent
			if err := json.Unmarshal(data, &ev); err != nil || ev.ItemID == "" {
				h.logger.Warn("dropping malformed auction event")
				continue
			}
			select {
			case h.broadcast <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (h *Hub) deliver(ev domain.AuctionEvent) {
	data, err := json.Marshal(map[string]any{"type": ev.Type, "payload": ev})
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(ev.ItemID) {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.logger.Warn("dropping event for slow client", slog.String("item_id", ev.ItemID))
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS upgrades the request and registers the client.
// GET /ws?items=item-1,item-2
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:   h,
		conn:  conn,
		send:  make(chan []byte, sendBufferSize),
		all:   true,
		items: make(map[string]bool),
	}
	if q := r.URL.Query().Get("items"); q != "" {
		c.applySubscription(subscribeMsg{Action: "subscribe", Items: strings.Split(q, ",")})
	}

	h.register <- c
	c.sendHello()

	go c.writePump()
	go c.readPump()
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var sub subscribeMsg
		if json.Unmarshal(message, &sub) == nil && sub.Action != "" {
			c.applySubscription(sub)
		}
	}
}

// applySubscription narrows or widens the item set. Subscribing to specific
// items drops the follow-everything default.
func (c *client) applySubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var ids []string
	for _, id := range msg.Items {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}

	switch msg.Action {
	case "subscribe":
		if len(ids) == 0 {
			c.all = true
			return
		}
		c.all = false
		for _, id := range ids {
			c.items[id] = true
		}
	case "unsubscribe":
		if len(ids) == 0 {
			c.all = false
			clear(c.items)
			return
		}
		for _, id := range ids {
			delete(c.items, id)
		}
	}
}

func (c *client) sendHello() {
	msg, err := json.Marshal(map[string]any{
		"type": "hello",
		"payload": map[string]any{
			"uptime_seconds": int64(max(time.Since(c.hub.startedAt).Seconds(), 0)),
		},
	})
	if err != nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
