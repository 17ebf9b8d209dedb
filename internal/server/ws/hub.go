// Package ws serves the live past-positions view over WebSocket. Every
// connection owns a portfolio tracker: the client sends query messages and
// receives each state the tracker publishes.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/syport/internal/domain"
	"github.com/alanyoungcy/syport/internal/portfolio"
	"github.com/alanyoungcy/syport/internal/view"
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
	sendBufferSize = 32
)

// Message types.
const (
	TypeHello     = "hello"
	TypeQuery     = "query"
	TypePortfolio = "portfolio"
	TypeError     = "error"
)

// PoolRegistry is what the hub needs from the pool registry.
type PoolRegistry interface {
	portfolio.PoolSet
	Ready() <-chan struct{}
}

// Config carries the hub settings.
type Config struct {
	Explorer       string
	AllowedOrigins []string // empty allows all origins
	StartedAt      time.Time
	// PageSize applies to queries that do not name one.
	PageSize int
}

// envelope is every server to client message.
type envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
}

// queryMsg is the client to server message selecting the view.
type queryMsg struct {
	Type       string `json:"type"`
	Account    string `json:"account"`
	Page       int    `json:"page"`
	PageSize   int    `json:"pageSize"`
	Originator string `json:"originator"`
	Token      string `json:"token"`
}

// portfolioPayload is a tracker state plus its rendered cards.
type portfolioPayload struct {
	portfolio.State
	Cards []view.Card `json:"cards"`
}

// Hub tracks connected clients and gives each one its own tracker.
type Hub struct {
	asm      *portfolio.Assembler
	pools    PoolRegistry
	cfg      Config
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

// NewHub creates a Hub.
func NewHub(asm *portfolio.Assembler, pools PoolRegistry, cfg Config, logger *slog.Logger) *Hub {
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = time.Now().UTC()
	}
	h := &Hub{
		asm:     asm,
		pools:   pools,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "ws_hub")),
		clients: make(map[*client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Run blocks until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) error {
	<-ctx.Done()

	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.cancel()
	}
	return ctx.Err()
}

// HandleWS upgrades the request and starts the client's pumps.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &client{
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		ctx:     ctx,
		cancel:  cancel,
		tracker: portfolio.NewTracker(h.asm, h.pools, h.logger),
	}

	if !h.register(c) {
		cancel()
		conn.Close()
		return
	}

	c.enqueue(envelope{Type: TypeHello, Payload: map[string]any{
		"poolsReady": h.pools.Len() > 0,
		"startedAt":  h.cfg.StartedAt,
	}})

	states, unsubscribe := c.tracker.Subscribe()

	go c.writePump()
	go c.forwardStates(states, unsubscribe)
	go c.watchRegistry()
	go c.readPump()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.logger.Info("ws: client connected", slog.Int("total_clients", len(h.clients)))
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		h.logger.Info("ws: client disconnected", slog.Int("total_clients", len(h.clients)))
	}
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, o := range h.cfg.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// client is a single WebSocket connection.
type client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	ctx     context.Context
	cancel  context.CancelFunc
	tracker *portfolio.Tracker
}

// readPump reads query messages until the connection fails, then tears the
// client down.
func (c *client) readPump() {
	defer func() {
		c.cancel()
		c.tracker.Close()
		c.hub.unregister(c)
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
				c.hub.logger.Warn("ws: unexpected close error", slog.String("error", err.Error()))
			}
			return
		}
		c.handleMessage(message)
	}
}

func (c *client) handleMessage(message []byte) {
	var msg queryMsg
	if err := json.Unmarshal(message, &msg); err != nil {
		c.enqueue(envelope{Type: TypeError, Error: "malformed message"})
		return
	}
	if msg.Type != TypeQuery {
		c.enqueue(envelope{Type: TypeError, Error: "unknown message type"})
		return
	}

	q, err := msg.query(c.hub.cfg.PageSize)
	if err != nil {
		c.enqueue(envelope{Type: TypeError, Error: err.Error()})
		return
	}
	c.tracker.SetQuery(c.ctx, q)
}

// query converts msg to a redemption query. A missing page size falls back
// to defaultSize; any size is capped at 100.
func (msg queryMsg) query(defaultSize int) (domain.RedeemQuery, error) {
	size := msg.PageSize
	if size <= 0 {
		size = defaultSize
	}
	q := domain.RedeemQuery{
		Page:       msg.Page,
		PageSize:   min(size, 100),
		Originator: msg.Originator,
		Token:      msg.Token,
	}
	if msg.Account != "" {
		account, err := domain.NormalizeAddress(msg.Account)
		if err != nil {
			return domain.RedeemQuery{}, err
		}
		q.Account = account
	}
	return q, nil
}

// forwardStates pushes every published tracker state to the client.
func (c *client) forwardStates(states <-chan portfolio.State, unsubscribe func()) {
	defer unsubscribe()

	for {
		select {
		case <-c.ctx.Done():
			return
		case st, ok := <-states:
			if !ok {
				return
			}
			c.enqueue(envelope{Type: TypePortfolio, Payload: portfolioPayload{
				State: st,
				Cards: view.NewCards(st.Data, c.hub.cfg.Explorer),
			}})
		}
	}
}

// watchRegistry tells the tracker when the pool registry is first populated.
func (c *client) watchRegistry() {
	select {
	case <-c.ctx.Done():
	case <-c.hub.pools.Ready():
		c.tracker.PoolsChanged(c.ctx)
	}
}

// enqueue marshals msg and queues it for writing, dropping it when the
// client is too slow.
func (c *client) enqueue(msg envelope) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.hub.logger.Error("ws: marshal message", slog.String("error", err.Error()))
		return
	}
	select {
	case c.send <- data:
	case <-c.ctx.Done():
	default:
		c.hub.logger.Warn("ws: dropping message for slow client", slog.String("type", msg.Type))
	}
}

// writePump writes queued messages and keepalive pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.cancel()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.cancel()
				return
			}
		}
	}
}
