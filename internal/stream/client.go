package stream

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tjfontaine/revintel-gateway/internal/core/domain"
	"github.com/tjfontaine/revintel-gateway/internal/session"
)

type client struct {
	hub     *Hub
	conn    *websocket.Conn
	user    domain.AuthUser
	monitor *session.Monitor

	mu         sync.RWMutex
	subscribed bool

	// all selects every type except excluded; otherwise only types.
	all      bool
	types    map[string]struct{}
	excluded map[string]struct{}

	send   chan Message
	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	closeMu   sync.Mutex
	closeCode int
	closeText string
}

func (c *client) wants(ev domain.Event) bool {
	c.mu.RLock()
	var selected bool
	if c.all {
		_, skip := c.excluded[string(ev.Type)]
		selected = !skip
	} else {
		_, selected = c.types[string(ev.Type)]
	}
	subscribed := c.subscribed
	c.mu.RUnlock()

	return subscribed && selected && visible(c.user, ev)
}

// enqueue drops the message when the client is not keeping up.
func (c *client) enqueue(msg Message) {
	select {
	case <-c.ctx.Done():
		return
	default:
	}
	select {
	case c.send <- msg:
	default:
		c.hub.logger.Warn("event stream backpressure, dropping message",
			slog.String("user_id", c.user.ID),
			slog.String("type", msg.Type),
		)
	}
}

func (c *client) readPump() {
	defer c.teardown()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("event stream read failed", slog.String("error", err.Error()))
			}
			return
		}

		msg, err := decodeClientMessage(data)
		if err != nil {
			c.sendError("invalid message format")
			continue
		}
		c.handle(msg)
	}
}

func (c *client) handle(msg ClientMessage) {
	switch msg.Action {
	case ActionSubscribe:
		c.mu.Lock()
		switch {
		case len(msg.EventTypes) == 0:
			c.all = true
			c.types = make(map[string]struct{})
			c.excluded = make(map[string]struct{})
		case c.all:
			for _, t := range msg.EventTypes {
				delete(c.excluded, t)
			}
		default:
			for _, t := range msg.EventTypes {
				c.types[t] = struct{}{}
			}
		}
		c.subscribed = true
		payload := c.subscriptionLocked()
		c.mu.Unlock()
		c.ack(TypeSubscribed, payload)

	case ActionUnsubscribe:
		c.mu.Lock()
		switch {
		case len(msg.EventTypes) == 0:
			c.subscribed = false
			c.all = false
			c.types = make(map[string]struct{})
			c.excluded = make(map[string]struct{})
		case c.all:
			for _, t := range msg.EventTypes {
				c.excluded[t] = struct{}{}
			}
		default:
			for _, t := range msg.EventTypes {
				delete(c.types, t)
			}
			if len(c.types) == 0 {
				c.subscribed = false
			}
		}
		payload := c.subscriptionLocked()
		c.mu.Unlock()
		c.ack(TypeUnsubscribed, payload)

	case ActionRefreshSession:
		// Refreshing spends the refresh token, so it happens over HTTP where
		// the rotated cookies reach the browser. The hub then hands the new
		// pair to this connection.
		if c.monitor == nil {
			c.sendError("no session to refresh")
			return
		}
		c.enqueue(Message{
			Type: TypeRefreshRequired,
			Payload: map[string]any{
				"method":   http.MethodPost,
				"endpoint": RefreshEndpoint,
			},
			Timestamp: c.hub.clock.Now().UTC(),
		})

	case ActionDismissWarning:
		if c.monitor != nil {
			c.monitor.DismissWarning()
		}

	default:
		c.sendError("unknown action: " + msg.Action)
	}
}

// subscriptionLocked describes the current selection. c.mu must be held.
func (c *client) subscriptionLocked() map[string]any {
	payload := map[string]any{
		"all":        c.subscribed && c.all,
		"eventTypes": sortedKeys(c.types),
	}
	if c.all && len(c.excluded) > 0 {
		payload["excludedTypes"] = sortedKeys(c.excluded)
	}
	return payload
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (c *client) ack(kind string, payload map[string]any) {
	c.enqueue(Message{Type: kind, Payload: payload, Timestamp: c.hub.clock.Now().UTC()})
}

func (c *client) sendError(message string) {
	c.enqueue(Message{Type: TypeError, Payload: map[string]any{"message": message}, Timestamp: c.hub.clock.Now().UTC()})
}

func (c *client) onWarning(w domain.SessionWarning) {
	c.enqueue(Message{
		Type: string(domain.EventSessionWarning),
		Payload: map[string]any{
			"message":         w.Message,
			"timeUntilExpiry": w.TimeUntilExpiry.Milliseconds(),
		},
		Timestamp: c.hub.clock.Now().UTC(),
	})
}

// onExpired runs on the monitor goroutine, so it only queues the close.
func (c *client) onExpired() {
	c.enqueue(Message{
		Type:      string(domain.EventSessionExpired),
		Payload:   map[string]any{"message": "Your session has expired. Please sign in again."},
		Timestamp: c.hub.clock.Now().UTC(),
	})
	c.requestClose(websocket.ClosePolicyViolation, "session expired")
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.cancel()
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.cancel()
				return
			}

		case <-c.ctx.Done():
			c.flush()
			c.closeMu.Lock()
			code, text := c.closeCode, c.closeText
			c.closeMu.Unlock()
			if code == 0 {
				code = websocket.CloseNormalClosure
			}
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(code, text), time.Now().Add(writeWait))
			// Unblocks readPump.
			_ = c.conn.Close()
			return
		}
	}
}

// flush writes whatever was queued before the close was requested.
func (c *client) flush() {
	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *client) requestClose(code int, text string) {
	c.closeMu.Lock()
	if c.closeCode == 0 {
		c.closeCode, c.closeText = code, text
	}
	c.closeMu.Unlock()
	c.cancel()
}

func (c *client) teardown() {
	c.closeOnce.Do(func() {
		c.cancel()
		if c.monitor != nil {
			c.monitor.Stop()
		}
		c.hub.remove(c)
		c.hub.logger.Info("event stream disconnected", slog.String("user_id", c.user.ID))
	})
}
