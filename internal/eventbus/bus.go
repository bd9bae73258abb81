// Package eventbus is the in-process publish/subscribe channel for domain
// events. A Bus is an explicitly constructed value; there is no package-level
// instance.
package eventbus

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/tjfontaine/revintel-gateway/internal/core/domain"
	"github.com/tjfontaine/revintel-gateway/internal/pkg/metrics"
)

// Wildcard subscribes a handler to every event.
const Wildcard domain.EventType = "*"

// Handler processes one event. Handlers must not mutate the event payload.
type Handler func(domain.Event) error

// Bus fans events out to registered handlers, synchronously and in
// registration order.
type Bus struct {
	mu       sync.RWMutex
	handlers []registration
	nextID   uint64

	logger *slog.Logger
	clock  clockwork.Clock
}

type registration struct {
	id      uint64
	name    domain.EventType
	handler Handler
}

// Option configures a Bus.
type Option func(*Bus)

// WithClock sets the clock used to timestamp events.
func WithClock(c clockwork.Clock) Option {
	return func(b *Bus) {
		b.clock = c
	}
}

// New creates an empty bus.
func New(logger *slog.Logger, opts ...Option) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bus{
		logger: logger,
		clock:  clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// On registers handler for name (or Wildcard). The returned func removes
// exactly this registration; calling it again is a no-op.
func (b *Bus) On(name domain.EventType, handler Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.handlers = append(b.handlers, registration{id: id, name: name, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, h := range b.handlers {
				if h.id == id {
					b.handlers = append(b.handlers[:i:i], b.handlers[i+1:]...)
					return
				}
			}
		})
	}
}

// Emit builds an event and delivers it to every handler currently registered
// for name. A failing handler is logged and counted; the rest still run.
func (b *Bus) Emit(name domain.EventType, payload map[string]any) domain.Event {
	event := domain.Event{
		ID:        uuid.NewString(),
		Type:      name,
		Payload:   clonePayload(payload),
		Timestamp: b.clock.Now().UTC(),
	}

	b.mu.RLock()
	targets := make([]registration, 0, len(b.handlers))
	for _, h := range b.handlers {
		if h.name == name || h.name == Wildcard {
			targets = append(targets, h)
		}
	}
	b.mu.RUnlock()

	metrics.RecordEvent(string(name))

	for _, h := range targets {
		if err := b.invoke(h.handler, event); err != nil {
			metrics.RecordHandlerFailure(string(name))
			b.logger.Error("event handler failed",
				slog.String("event", string(name)),
				slog.String("event_id", event.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	return event
}

// HandlerCount reports the number of live registrations.
func (b *Bus) HandlerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}

func (b *Bus) invoke(h Handler, event domain.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(event)
}

func clonePayload(payload map[string]any) map[string]any {
	if payload == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = v
	}
	return out
}
