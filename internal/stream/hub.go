// Package stream pushes bus events and session warnings to websocket clients.
package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/tjfontaine/revintel-gateway/internal/core/domain"
	"github.com/tjfontaine/revintel-gateway/internal/core/ports"
	"github.com/tjfontaine/revintel-gateway/internal/eventbus"
	"github.com/tjfontaine/revintel-gateway/internal/session"
)

// Client actions.
const (
	ActionSubscribe      = "subscribe"
	ActionUnsubscribe    = "unsubscribe"
	ActionRefreshSession = "refresh_session"
	ActionDismissWarning = "dismiss_warning"
)

// Server-only message types.
const (
	TypeError           = "error"
	TypeReady           = "ready"
	TypeSubscribed      = "subscribed"
	TypeUnsubscribed    = "unsubscribed"
	TypeRefreshRequired = "session.refresh_required"
)

// RefreshEndpoint is where clients refresh their session cookies.
const RefreshEndpoint = "/api/session/refresh"

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

// ClientMessage is a request from a connected client.
type ClientMessage struct {
	Action     string   `json:"action"`
	EventTypes []string `json:"eventTypes,omitempty"`
}

// Message is pushed to clients.
type Message struct {
	Type      string         `json:"type"`
	ID        string         `json:"id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// SourceFunc builds the session source monitored for a connection. It returns
// nil when the caller has no hosted session (legacy tokens).
type SourceFunc func(r *http.Request, user domain.AuthUser) ports.SessionSource

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the hub logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithSessions enables a per-connection session monitor.
func WithSessions(fn SourceFunc, cfg session.Config) Option {
	return func(h *Hub) {
		h.sources = fn
		h.sessionCfg = cfg
	}
}

// WithClock sets the clock driving session monitors.
func WithClock(c clockwork.Clock) Option {
	return func(h *Hub) {
		h.clock = c
	}
}

// WithCheckOrigin overrides the websocket origin check.
func WithCheckOrigin(fn func(*http.Request) bool) Option {
	return func(h *Hub) {
		h.upgrader.CheckOrigin = fn
	}
}

// Hub fans bus events out to websocket clients scoped to their customer.
type Hub struct {
	bus        *eventbus.Bus
	logger     *slog.Logger
	clock      clockwork.Clock
	upgrader   websocket.Upgrader
	sources    SourceFunc
	sessionCfg session.Config

	unsubscribe func()

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

// NewHub subscribes to every event on bus.
func NewHub(bus *eventbus.Bus, opts ...Option) *Hub {
	h := &Hub{
		bus:     bus,
		logger:  slog.Default(),
		clock:   clockwork.NewRealClock(),
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     sameOrigin,
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	h.unsubscribe = bus.On(eventbus.Wildcard, h.broadcast)
	return h
}

// Serve upgrades the request and runs the connection. It has the signature of
// server.AuthedHandler.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, user domain.AuthUser) {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	// Cookies rotated while resolving the caller ride on the handshake
	// response; Upgrade ignores w.Header().
	var header http.Header
	if cookies := w.Header().Values("Set-Cookie"); len(cookies) > 0 {
		header = http.Header{"Set-Cookie": cookies}
	}
	conn, err := h.upgrader.Upgrade(w, r, header)
	if err != nil {
		h.logger.WarnContext(r.Context(), "websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	// The request context ends with the handler; the connection outlives it.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	c := &client{
		hub:      h,
		conn:     conn,
		user:     user,
		types:    make(map[string]struct{}),
		excluded: make(map[string]struct{}),
		send:     make(chan Message, sendBuffer),
		ctx:      ctx,
		cancel:   cancel,
	}

	if h.sources != nil {
		if src := h.sources(r, user); src != nil {
			c.monitor = session.NewMonitor(src, h.sessionCfg,
				session.WithClock(h.clock),
				session.WithLogger(h.logger),
				session.WithBus(h.bus),
				session.OnWarning(c.onWarning),
				session.OnExpired(c.onExpired),
			)
		}
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	h.logger.Info("event stream connected",
		slog.String("user_id", user.ID),
		slog.String("customer_id", user.CustomerID),
		slog.Bool("session_monitor", c.monitor != nil),
	)

	c.enqueue(Message{Type: TypeReady, Payload: map[string]any{"userId": user.ID}, Timestamp: h.clock.Now().UTC()})
	if c.monitor != nil {
		c.monitor.Start(ctx)
	}

	go c.writePump()
	c.readPump()
}

// broadcast runs synchronously inside Emit and never blocks.
func (h *Hub) broadcast(ev domain.Event) error {
	// Session events are delivered by each connection's own monitor.
	if strings.HasPrefix(string(ev.Type), "session.") {
		return nil
	}

	msg := Message{Type: string(ev.Type), ID: ev.ID, Payload: ev.Payload, Timestamp: ev.Timestamp}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.wants(ev) {
			c.enqueue(msg)
		}
	}
	return nil
}

// SessionRotated hands a pair refreshed over HTTP to every connection still
// holding previousRefreshToken and tells those clients. It returns the number
// of connections updated.
func (h *Hub) SessionRotated(previousRefreshToken string, next domain.Session) int {
	h.mu.RLock()
	monitored := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		if c.monitor != nil {
			monitored = append(monitored, c)
		}
	}
	h.mu.RUnlock()

	updated := 0
	for _, c := range monitored {
		if !c.monitor.Rotate(previousRefreshToken, next) {
			continue
		}
		s, _ := c.monitor.Session()
		c.enqueue(Message{
			Type:      string(domain.EventSessionRefreshed),
			Payload:   map[string]any{"expiresAt": s.ExpiresAt},
			Timestamp: h.clock.Now().UTC(),
		})
		updated++
	}
	return updated
}

// Len reports the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and detaches from the bus.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	h.unsubscribe()
	for _, c := range clients {
		c.requestClose(websocket.CloseGoingAway, "server shutting down")
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// visible reports whether user may see ev.
func visible(user domain.AuthUser, ev domain.Event) bool {
	if user.IsAdmin {
		return true
	}
	if cid, _ := ev.Payload[domain.PayloadCustomerID].(string); cid != "" {
		return cid == user.CustomerID
	}
	if uid, _ := ev.Payload["userId"].(string); uid != "" {
		return uid == user.ID
	}
	return false
}

func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	host := origin
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	return strings.EqualFold(host, r.Host)
}

func decodeClientMessage(data []byte) (ClientMessage, error) {
	var msg ClientMessage
	err := json.Unmarshal(data, &msg)
	return msg, err
}
