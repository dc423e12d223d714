package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"afggram/internal/metrics"
	"afggram/internal/util"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxFrameBytes  = 4096
	sendBuffer     = 64
	maxSubsPerConn = 32
)

// Session is the credential a socket was opened with.
type Session struct {
	UserID    string
	TokenID   string
	ExpiresAt time.Time
	// Valid re-checks the credential while the socket is open. Nil skips re-checks.
	Valid func() bool
}

type HubConfig struct {
	Broker         Broker
	Policy         Policy
	AllowedOrigins []string
	// FrameRate and FrameBurst bound inbound client frames per connection.
	FrameRate  float64
	FrameBurst int
	// SessionCheck is how often open sockets re-check their credential, which
	// bounds how long a socket outlives a revocation made on another instance.
	SessionCheck time.Duration
}

// Hub serves WebSocket subscribers and fans broker events out to them.
type Hub struct {
	broker   Broker
	policy   Policy
	upgrader websocket.Upgrader
	limit    rate.Limit
	burst    int
	recheck  time.Duration

	mu      sync.RWMutex
	clients map[*client]struct{}
}

func NewHub(cfg HubConfig) (*Hub, error) {
	if cfg.Broker == nil {
		return nil, errors.New("realtime broker required")
	}
	if cfg.Policy.Private == nil && cfg.Policy.Public == nil {
		cfg.Policy = DefaultPolicy()
	}
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = 5
	}
	if cfg.FrameBurst <= 0 {
		cfg.FrameBurst = 20
	}
	if cfg.SessionCheck <= 0 {
		cfg.SessionCheck = 30 * time.Second
	}
	h := &Hub{
		broker:  cfg.Broker,
		policy:  cfg.Policy,
		limit:   rate.Limit(cfg.FrameRate),
		burst:   cfg.FrameBurst,
		recheck: cfg.SessionCheck,
		clients: make(map[*client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	return h, nil
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(strings.TrimSpace(o), "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// Publish forwards to the broker so writers only need the hub.
func (h *Hub) Publish(ctx context.Context, ev Event) error {
	return h.broker.Publish(ctx, ev)
}

// Run pumps broker events to local clients until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	return h.broker.Subscribe(ctx, h.dispatch)
}

func (h *Hub) dispatch(ev Event) {
	metrics.RealtimeEvent(ev.Table, string(ev.Type))
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.deliver(ev)
	}
}

// Connections reports how many sockets are attached.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// DisconnectUser closes every socket opened by userID and reports how many.
func (h *Hub) DisconnectUser(userID string) int {
	return h.disconnect("session revoked", func(s Session) bool { return s.UserID == userID })
}

// DisconnectToken closes the sockets opened with one access token.
func (h *Hub) DisconnectToken(tokenID string) int {
	if tokenID == "" {
		return 0
	}
	return h.disconnect("session revoked", func(s Session) bool { return s.TokenID == tokenID })
}

func (h *Hub) disconnect(reason string, match func(Session) bool) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for c := range h.clients {
		if match(c.session) {
			c.kick(reason)
			n++
		}
	}
	return n
}

// ServeWS upgrades the request and serves the session's user until the
// socket closes or the session ends.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, sess Session) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	logger := util.LoggerFromContext(r.Context()).With("user_id", sess.UserID)
	c := &client{
		hub:     h,
		conn:    conn,
		userID:  sess.UserID,
		session: sess,
		kicked:  make(chan string, 1),
		send:    make(chan []byte, sendBuffer),
		subs:    make(map[string]Subscription),
		limiter: rate.NewLimiter(h.limit, h.burst),
		logger:  logger,
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	metrics.RealtimeConnectionOpened()
	logger.Info("realtime_connected")

	go c.writePump()
	c.readPump()

	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
	metrics.RealtimeConnectionClosed()
	logger.Info("realtime_disconnected")
}

type clientFrame struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Table  string `json:"table,omitempty"`
	Event  string `json:"event,omitempty"`
	Filter string `json:"filter,omitempty"`
}

type serverFrame struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Message string `json:"message,omitempty"`
	Event   *Event `json:"payload,omitempty"`
}

type client struct {
	hub     *Hub
	conn    *websocket.Conn
	userID  string
	session Session
	kicked  chan string
	send    chan []byte
	limiter *rate.Limiter
	logger  *slog.Logger

	mu      sync.Mutex
	subs    map[string]Subscription
	closed  bool
	revoked bool
}

func (c *client) readPump() {
	c.conn.SetReadLimit(maxFrameBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var frame clientFrame
		if err := c.conn.ReadJSON(&frame); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				c.reply(serverFrame{Type: "error", Message: "malformed frame"})
				continue
			}
			return
		}
		if !c.limiter.Allow() {
			c.reply(serverFrame{Type: "error", ID: frame.ID, Message: "too many frames"})
			continue
		}
		c.handle(frame)
	}
}

func (c *client) handle(frame clientFrame) {
	switch frame.Type {
	case "subscribe":
		sub, err := c.subscribe(frame)
		if err != nil {
			c.reply(serverFrame{Type: "error", ID: frame.ID, Message: err.Error()})
			return
		}
		c.logger.Debug("realtime_subscribed", "table", sub.Table, "filter", sub.Filter.String())
		c.reply(serverFrame{Type: "ack", ID: sub.ID})
	case "unsubscribe":
		c.mu.Lock()
		_, ok := c.subs[frame.ID]
		delete(c.subs, frame.ID)
		c.mu.Unlock()
		if !ok {
			c.reply(serverFrame{Type: "error", ID: frame.ID, Message: "unknown subscription"})
			return
		}
		c.reply(serverFrame{Type: "ack", ID: frame.ID})
	case "ping":
		c.reply(serverFrame{Type: "pong", ID: frame.ID})
	default:
		c.reply(serverFrame{Type: "error", ID: frame.ID, Message: "unknown frame type"})
	}
}

func (c *client) subscribe(frame clientFrame) (Subscription, error) {
	id := strings.TrimSpace(frame.ID)
	if id == "" {
		return Subscription{}, errors.New("subscription id required")
	}
	evType, err := ParseEventType(frame.Event)
	if err != nil {
		return Subscription{}, err
	}
	filter, err := ParseFilter(frame.Filter)
	if err != nil {
		return Subscription{}, err
	}
	sub := Subscription{ID: id, Table: strings.TrimSpace(frame.Table), Event: evType, Filter: filter}
	if err := c.hub.policy.Authorize(c.userID, sub); err != nil {
		return Subscription{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.revoked {
		return Subscription{}, errors.New("session revoked")
	}
	if _, exists := c.subs[id]; !exists && len(c.subs) >= maxSubsPerConn {
		return Subscription{}, errors.New("too many subscriptions")
	}
	c.subs[id] = sub
	return sub, nil
}

func (c *client) deliver(ev Event) {
	c.mu.Lock()
	var ids []string
	for id, sub := range c.subs {
		if sub.Matches(ev) {
			ids = append(ids, id)
		}
	}
	c.mu.Unlock()
	for _, id := range ids {
		c.reply(serverFrame{Type: "event", ID: id, Event: &ev})
	}
}

// reply queues a frame; a client that cannot keep up is disconnected.
func (c *client) reply(frame serverFrame) {
	raw, err := json.Marshal(frame)
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- raw:
	default:
		c.logger.Warn("realtime_slow_consumer")
		c.closed = true
		close(c.send)
	}
}

// kick drops every subscription at once and asks the write pump to close
// the socket with reason.
func (c *client) kick(reason string) {
	c.mu.Lock()
	c.subs = make(map[string]Subscription)
	c.revoked = true
	c.mu.Unlock()
	select {
	case c.kicked <- reason:
	default:
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	var expired <-chan time.Time
	if !c.session.ExpiresAt.IsZero() {
		timer := time.NewTimer(time.Until(c.session.ExpiresAt))
		defer timer.Stop()
		expired = timer.C
	}
	var recheck <-chan time.Time
	if c.session.Valid != nil {
		check := time.NewTicker(c.hub.recheck)
		defer check.Stop()
		recheck = check.C
	}
	for {
		select {
		case reason := <-c.kicked:
			c.closeSession(reason)
			return
		case <-expired:
			c.closeSession("session expired")
			return
		case <-recheck:
			if !c.session.Valid() {
				c.closeSession("session revoked")
				return
			}
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) closeSession(reason string) {
	c.logger.Info("realtime_session_closed", "reason", reason)
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason))
}
