package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/tradefeed/internal/domain"
	"github.com/gorilla/websocket"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 256
)

const (
	// ChannelQuotes receives every published quote.
	ChannelQuotes = "quotes"
	// symbolChannelPrefix scopes per-symbol quote channels, e.g.
	// "quotes:AAPL".
	symbolChannelPrefix = "quotes:"
	// symbolChannelPattern is the bus pattern covering all per-symbol
	// channels.
	symbolChannelPattern = "quotes:*"
)

// SymbolChannel returns the bus channel carrying quotes for one symbol.
func SymbolChannel(symbol string) string {
	return symbolChannelPrefix + strings.ToUpper(strings.TrimSpace(symbol))
}

// upgrader configures the WebSocket upgrade parameters.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins. In production, restrict this to known origins.
		return true
	},
}

// client represents a single WebSocket connection.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	subs map[string]bool // subscribed bus channels
	mu   sync.RWMutex
}

// controlMsg is the JSON message a client sends to manage its symbol
// subscriptions: {"action":"subscribe","symbols":["AAPL","MSFT"]}.
type controlMsg struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
}

// Hub fans quote messages from the signal bus out to connected WebSocket
// clients. Every client gets the global quotes channel by default and may
// narrow or widen its view per symbol. Delivery is at-most-once: a client
// whose send buffer is full has the message dropped rather than stalling
// the broadcast loop.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	bus        domain.SignalBus
	mu         sync.RWMutex
	logger     *slog.Logger
	mode       string
	startedAt  time.Time
}

// broadcastMsg carries a message along with its source channel so the hub
// can route it only to clients subscribed to that channel.
type broadcastMsg struct {
	channel string
	data    []byte
}

// Config captures runtime metadata reported to clients on connect.
type Config struct {
	Mode      string
	StartedAt time.Time
}

// NewHub creates a hub bridging the signal bus to WebSocket clients.
func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	mode := strings.TrimSpace(strings.ToLower(cfg.Mode))
	if mode == "" {
		mode = "unknown"
	}
	startedAt := cfg.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}

	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		bus:        bus,
		logger:     logger,
		mode:       mode,
		startedAt:  startedAt,
	}
}

// Run starts the hub's main event loop. It handles client registration,
// unregistration, and message broadcasting. The loop exits when the
// provided context is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	go h.pumpBus(ctx, func(c context.Context) (<-chan domain.Message, error) {
		return h.bus.Subscribe(c, ChannelQuotes)
	})
	go h.pumpBus(ctx, func(c context.Context) (<-chan domain.Message, error) {
		return h.bus.PSubscribe(c, symbolChannelPattern)
	})

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
			h.mu.Unlock()
			h.logger.Info("ws: client connected",
				slog.Int("total_clients", h.clientCount()),
			)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected",
				slog.Int("total_clients", h.clientCount()),
			)

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if c.isSubscribed(msg.channel) {
					select {
					case c.send <- msg.data:
					default:
						// Client's send buffer is full; drop the message.
						h.logger.Warn("ws: dropping message for slow client")
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// pumpBus forwards one bus subscription into the broadcast loop.
func (h *Hub) pumpBus(ctx context.Context, subscribe func(context.Context) (<-chan domain.Message, error)) {
	msgCh, err := subscribe(ctx)
	if err != nil {
		h.logger.Error("ws: bus subscribe failed", slog.String("error", err.Error()))
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgCh:
			if !ok {
				h.logger.Warn("ws: bus subscription closed")
				return
			}
			h.broadcast <- broadcastMsg{channel: msg.Channel, data: msg.Payload}
		}
	}
}

// HandleWS upgrades an HTTP request to a WebSocket connection and registers
// the client with the hub.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: map[string]bool{ChannelQuotes: true},
	}

	h.register <- c
	c.sendConnectionEstablished()

	go c.writePump()
	go c.readPump()
}

// clientCount returns the number of currently connected clients.
func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// readPump reads subscription management frames from the client.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error",
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var msg controlMsg
		if jsonErr := json.Unmarshal(message, &msg); jsonErr == nil && msg.Action != "" {
			c.handleControl(msg)
		}
	}
}

// handleControl processes subscribe/unsubscribe requests from the client.
// Unknown actions are ignored.
func (c *client) handleControl(msg controlMsg) {
	switch msg.Action {
	case "subscribe":
		confirmed := make([]string, 0, len(msg.Symbols))
		c.mu.Lock()
		for _, sym := range msg.Symbols {
			ch := SymbolChannel(sym)
			if ch == symbolChannelPrefix {
				continue
			}
			c.subs[ch] = true
			confirmed = append(confirmed, strings.ToUpper(strings.TrimSpace(sym)))
		}
		c.mu.Unlock()
		if len(confirmed) > 0 {
			c.sendEnvelope("subscription_confirmed", map[string]any{"symbols": confirmed})
		}
	case "unsubscribe":
		c.mu.Lock()
		for _, sym := range msg.Symbols {
			delete(c.subs, SymbolChannel(sym))
		}
		c.mu.Unlock()
	}
}

// sendConnectionEstablished pushes a small JSON envelope so clients can
// mark the connection healthy before the first quote arrives.
func (c *client) sendConnectionEstablished() {
	uptime := int64(time.Since(c.hub.startedAt).Seconds())
	if uptime < 0 {
		uptime = 0
	}
	c.sendEnvelope("connection_established", map[string]any{
		"mode":           c.hub.mode,
		"uptime_seconds": uptime,
	})
}

func (c *client) sendEnvelope(msgType string, payload map[string]any) {
	msg, err := json.Marshal(map[string]any{
		"type":    msgType,
		"payload": payload,
	})
	if err != nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

// isSubscribed checks whether the client is subscribed to the given bus
// channel.
func (c *client) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subs[channel]
}

// writePump pumps messages from the hub to the WebSocket connection as JSON
// text frames, with periodic ping frames for keepalive.
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
				// The hub closed the channel.
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
