// Package ws streams pipeline events from the signal bus to WebSocket
// dashboards. Clients may ask for the durable event history to catch up
// after a reconnect.
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

	"github.com/alanyoungcy/retropick/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 4096
	clientBuffer   = 256
	defaultReplay  = 100
	broadcastQueue = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are enforced by the CORS layer in front of the hub.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Config describes what the hub relays.
type Config struct {
	// Channels are signal bus channels (glob patterns allowed) relayed to
	// clients. New clients are subscribed to all of them.
	Channels []string
	// Stream is the durable event stream served on replay requests. Empty
	// disables replay.
	Stream string
	// ReplayLimit caps the entries returned by one replay request.
	ReplayLimit int
	ReplicaID   string
	StartedAt   time.Time
}

// command is a client frame, e.g. {"action":"subscribe","channels":["events"]}
// or {"action":"replay","after":"1700000000000-0","count":50}.
type command struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels,omitempty"`
	After    string   `json:"after,omitempty"`
	Count    int      `json:"count,omitempty"`
}

// frame is a server message that is not a raw relayed event.
type frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type event struct {
	channel string
	data    []byte
}

// Hub bridges a SignalBus to connected WebSocket clients.
type Hub struct {
	bus    domain.SignalBus
	cfg    Config
	logger *slog.Logger

	events chan event
	join   chan *conn
	leave  chan *conn
	done   chan struct{}

	mu    sync.RWMutex
	conns map[*conn]struct{}
}

// NewHub creates a Hub.
func NewHub(bus domain.SignalBus, cfg Config, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if len(cfg.Channels) == 0 {
		cfg.Channels = []string{"events"}
	}
	if cfg.ReplayLimit <= 0 {
		cfg.ReplayLimit = defaultReplay
	}
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = time.Now().UTC()
	}
	return &Hub{
		bus:    bus,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "ws_hub")),
		events: make(chan event, broadcastQueue),
		join:   make(chan *conn),
		leave:  make(chan *conn),
		done:   make(chan struct{}),
		conns:  make(map[*conn]struct{}),
	}
}

// Run relays the configured channels until ctx is cancelled, then closes
// every connection.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for _, ch := range h.cfg.Channels {
		go h.relay(ctx, ch)
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.conns {
				c.shut()
				delete(h.conns, c)
			}
			h.mu.Unlock()
			return nil

		case c := <-h.join:
			h.mu.Lock()
			h.conns[c] = struct{}{}
			n := len(h.conns)
			h.mu.Unlock()
			h.logger.Info("client connected", slog.Int("clients", n))

		case c := <-h.leave:
			h.mu.Lock()
			if _, ok := h.conns[c]; ok {
				delete(h.conns, c)
				c.shut()
			}
			n := len(h.conns)
			h.mu.Unlock()
			h.logger.Info("client disconnected", slog.Int("clients", n))

		case ev := <-h.events:
			h.fanOut(ev)
		}
	}
}

func (h *Hub) fanOut(ev event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.conns {
		if c.wants(ev.channel) && !c.offer(ev.data) {
			h.logger.Warn("dropping event for slow client", slog.String("channel", ev.channel))
		}
	}
}

func (h *Hub) relay(ctx context.Context, channel string) {
	msgs, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		h.logger.Error("subscribe failed", slog.String("channel", channel), slog.String("error", err.Error()))
		return
	}
	h.logger.Info("relaying channel", slog.String("channel", channel))

	for data := range msgs {
		select {
		case h.events <- event{channel: channel, data: data}:
		case <-ctx.Done():
			return
		}
	}
	if ctx.Err() == nil {
		h.logger.Warn("subscription closed", slog.String("channel", channel))
	}
}

// HandleWS upgrades the request and registers the connection.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &conn{hub: h, ws: ws, out: make(chan []byte, clientBuffer), subs: make(map[string]bool)}
	for _, ch := range h.cfg.Channels {
		c.subs[ch] = true
	}

	select {
	case h.join <- c:
	case <-h.done:
		_ = ws.Close()
		return
	}
	c.sendFrame(frame{Type: "hello", Payload: h.hello()})

	go c.writeLoop()
	go c.readLoop()
}

func (h *Hub) hello() json.RawMessage {
	raw, _ := json.Marshal(map[string]any{
		"replica_id":     h.cfg.ReplicaID,
		"channels":       h.cfg.Channels,
		"replay":         h.cfg.Stream != "",
		"uptime_seconds": max(int64(time.Since(h.cfg.StartedAt).Seconds()), 0),
	})
	return raw
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// history reads up to count stream entries after the given id.
func (h *Hub) history(after string, count int) ([]domain.StreamMessage, error) {
	if after == "" {
		after = "0"
	}
	if count <= 0 || count > h.cfg.ReplayLimit {
		count = h.cfg.ReplayLimit
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	return h.bus.StreamRead(ctx, h.cfg.Stream, after, count)
}

type conn struct {
	hub *Hub
	ws  *websocket.Conn
	out chan []byte

	mu     sync.RWMutex
	subs   map[string]bool
	closed bool
}

// shut closes the outbound queue once; writeLoop then sends a close frame.
func (c *conn) shut() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.out)
	}
}

// offer queues data without blocking and reports whether it fit.
func (c *conn) offer(data []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.out <- data:
		return true
	default:
		return false
	}
}

func (c *conn) sendFrame(f frame) {
	if data, err := json.Marshal(f); err == nil {
		c.offer(data)
	}
}

// wants matches exact names and trailing-* prefixes.
func (c *conn) wants(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.subs[channel] {
		return true
	}
	for sub := range c.subs {
		if prefix, ok := strings.CutSuffix(sub, "*"); ok && strings.HasPrefix(channel, prefix) {
			return true
		}
	}
	return false
}

func (c *conn) handle(cmd command) {
	switch cmd.Action {
	case "subscribe", "unsubscribe":
		c.mu.Lock()
		for _, ch := range cmd.Channels {
			if cmd.Action == "subscribe" {
				c.subs[ch] = true
			} else {
				delete(c.subs, ch)
			}
		}
		c.mu.Unlock()
	case "replay":
		c.replay(cmd)
	}
}

func (c *conn) replay(cmd command) {
	if c.hub.cfg.Stream == "" {
		c.sendFrame(frame{Type: "error", Payload: json.RawMessage(`"replay disabled"`)})
		return
	}
	msgs, err := c.hub.history(cmd.After, cmd.Count)
	if err != nil {
		c.hub.logger.Warn("replay failed", slog.String("error", err.Error()))
		c.sendFrame(frame{Type: "error", Payload: json.RawMessage(`"replay failed"`)})
		return
	}
	for _, m := range msgs {
		if json.Valid(m.Payload) {
			c.sendFrame(frame{Type: "replay", ID: m.ID, Payload: m.Payload})
		}
	}
	c.sendFrame(frame{Type: "replay_done"})
}

func (c *conn) readLoop() {
	defer func() {
		select {
		case c.hub.leave <- c:
		case <-c.hub.done:
		}
		_ = c.ws.Close()
	}()

	c.ws.SetReadLimit(maxFrameSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var cmd command
		if json.Unmarshal(data, &cmd) == nil && cmd.Action != "" {
			c.handle(cmd)
		}
	}
}

func (c *conn) writeLoop() {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case data, ok := <-c.out:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ping.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
