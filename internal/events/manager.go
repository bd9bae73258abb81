// Package events owns the lifecycle of the event system: it records bus
// traffic into a bounded history, forwards it to the configured publisher,
// and derives timelines, health metrics and status from that history.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/tjfontaine/revintel-gateway/internal/core/domain"
	"github.com/tjfontaine/revintel-gateway/internal/core/ports"
	"github.com/tjfontaine/revintel-gateway/internal/eventbus"
)

const publishTimeout = 5 * time.Second

// TimelineStatus summarizes where a resource is in its generation lifecycle.
type TimelineStatus string

const (
	StatusUnknown    TimelineStatus = "unknown"
	StatusGenerating TimelineStatus = "generating"
	StatusCompleted  TimelineStatus = "completed"
	StatusFailed     TimelineStatus = "failed"
)

// TimelineEntry is one event in a resource timeline.
type TimelineEntry struct {
	Event     domain.EventType `json:"event"`
	Payload   map[string]any   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
}

// ResourceTimeline is the ordered event history of one resource.
type ResourceTimeline struct {
	ResourceID string          `json:"resourceId"`
	Status     TimelineStatus  `json:"status"`
	Events     []TimelineEntry `json:"events"`
}

// HealthMetrics is a snapshot computed over the trailing metrics window.
type HealthMetrics struct {
	Healthy             bool    `json:"healthy"`
	EventProcessingRate float64 `json:"eventProcessingRate"` // events per minute
	AverageEventLatency float64 `json:"averageEventLatency"` // milliseconds
	ErrorRate           float64 `json:"errorRate"`
	RecentActivity      int     `json:"recentActivity"` // events in the last minute
}

// EventStats counts recorded events.
type EventStats struct {
	Total    int64                      `json:"total"`
	Retained int                        `json:"retained"`
	ByType   map[domain.EventType]int64 `json:"byType"`
}

// Status describes the manager itself.
type Status struct {
	Initialized    bool       `json:"initialized"`
	Uptime         float64    `json:"uptime"` // seconds
	EventStats     EventStats `json:"eventStats"`
	ActiveHandlers int        `json:"activeHandlers"`
}

// Config tunes the manager.
type Config struct {
	HistorySize        int
	MetricsWindow      time.Duration
	ErrorRateThreshold float64
}

// Option configures a Manager.
type Option func(*Manager)

// WithStore hydrates history from store on Initialize and serves timelines
// for resources no longer in memory.
func WithStore(store ports.EventStore) Option {
	return func(m *Manager) {
		m.store = store
	}
}

// WithPublisher forwards every recorded event.
func WithPublisher(p ports.EventPublisher) Option {
	return func(m *Manager) {
		m.publisher = p
	}
}

// WithClock sets the clock used for latency, windows and uptime.
func WithClock(c clockwork.Clock) Option {
	return func(m *Manager) {
		m.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// Manager records bus events and derives views from them.
type Manager struct {
	bus       *eventbus.Bus
	store     ports.EventStore
	publisher ports.EventPublisher
	clock     clockwork.Clock
	logger    *slog.Logger
	cfg       Config

	mu          sync.RWMutex
	initialized bool
	startedAt   time.Time
	history     *ring
	total       int64
	byType      map[domain.EventType]int64
	unsubscribe func()
}

// NewManager creates a manager bound to bus. It records nothing until
// Initialize succeeds.
func NewManager(bus *eventbus.Bus, cfg Config, opts ...Option) *Manager {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 1000
	}
	if cfg.MetricsWindow <= 0 {
		cfg.MetricsWindow = 5 * time.Minute
	}
	if cfg.ErrorRateThreshold <= 0 {
		cfg.ErrorRateThreshold = 0.1
	}

	m := &Manager{
		bus:     bus,
		cfg:     cfg,
		clock:   clockwork.NewRealClock(),
		logger:  slog.Default(),
		history: newRing(cfg.HistorySize),
		byType:  make(map[domain.EventType]int64),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Initialize subscribes to the bus and hydrates persisted history. It is
// idempotent. On error the manager stays not ready.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return nil
	}
	if m.bus == nil {
		return fmt.Errorf("event bus required")
	}

	// A manager re-initialized after Shutdown hydrates from scratch.
	m.history.clear()
	if m.store != nil {
		persisted, err := m.store.RecentEvents(ctx, m.cfg.HistorySize)
		if err != nil {
			m.logger.Error("event manager initialization failed", slog.String("error", err.Error()))
			return fmt.Errorf("hydrate event history: %w", err)
		}
		for _, e := range persisted {
			m.history.push(record{event: e, processedAt: e.Timestamp})
		}
		if len(persisted) > 0 {
			m.logger.Info("event history hydrated", slog.Int("events", len(persisted)))
		}
	}

	m.unsubscribe = m.bus.On(eventbus.Wildcard, m.record)
	m.startedAt = m.clock.Now()
	m.initialized = true

	m.logger.Info("event manager initialized",
		slog.Int("history_size", m.cfg.HistorySize),
		slog.Bool("persistent", m.store != nil),
		slog.Bool("publishing", m.publisher != nil),
	)
	return nil
}

// Shutdown releases the bus subscription. It is safe when not initialized.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
	if m.initialized {
		m.logger.Info("event manager shut down", slog.Int64("events_recorded", m.total))
	}
	m.initialized = false
}

// Ready reports whether Initialize has succeeded.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.initialized
}

func (m *Manager) record(e domain.Event) error {
	m.mu.Lock()
	if !m.initialized {
		m.mu.Unlock()
		return nil
	}
	m.history.push(record{event: e, processedAt: m.clock.Now()})
	m.total++
	m.byType[e.Type]++
	publisher := m.publisher
	m.mu.Unlock()

	if publisher == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := publisher.Publish(ctx, e); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Timeline replays retained events for a customer's resource in emission
// order. When nothing is retained in memory the persistent store is
// consulted. An empty customerID matches events of any customer.
func (m *Manager) Timeline(ctx context.Context, customerID, resourceID string) ResourceTimeline {
	tl := ResourceTimeline{ResourceID: resourceID, Status: StatusUnknown, Events: []TimelineEntry{}}

	m.mu.RLock()
	if !m.initialized {
		m.mu.RUnlock()
		return tl
	}
	var matched []domain.Event
	m.history.each(func(r record) bool {
		if r.event.ResourceID() == resourceID && ownedBy(r.event, customerID) {
			matched = append(matched, r.event)
		}
		return true
	})
	store := m.store
	m.mu.RUnlock()

	if len(matched) == 0 && store != nil {
		persisted, err := store.ResourceEvents(ctx, resourceID)
		if err != nil {
			m.logger.Warn("timeline lookup failed",
				slog.String("resource_id", resourceID),
				slog.String("error", err.Error()),
			)
		}
		for _, e := range persisted {
			if ownedBy(e, customerID) {
				matched = append(matched, e)
			}
		}
	}

	for _, e := range matched {
		tl.Events = append(tl.Events, TimelineEntry{Event: e.Type, Payload: e.Payload, Timestamp: e.Timestamp})
		switch e.Type {
		case domain.EventGenerationStarted, domain.EventGenerationProgress:
			tl.Status = StatusGenerating
		case domain.EventGenerationCompleted:
			tl.Status = StatusCompleted
		case domain.EventGenerationFailed:
			tl.Status = StatusFailed
		}
	}
	return tl
}

// ownedBy reports whether e belongs to customerID. An empty customerID
// matches every event.
func ownedBy(e domain.Event, customerID string) bool {
	if customerID == "" {
		return true
	}
	owner, _ := e.Payload[domain.PayloadCustomerID].(string)
	return owner == customerID
}

// HealthMetrics computes a snapshot over the trailing window. A manager that
// is not ready reports zero values and unhealthy.
func (m *Manager) HealthMetrics() HealthMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.initialized {
		return HealthMetrics{}
	}

	now := m.clock.Now()
	windowStart := now.Add(-m.cfg.MetricsWindow)
	lastMinute := now.Add(-time.Minute)

	var (
		inWindow     int
		failed       int
		recent       int
		latencyTotal time.Duration
	)
	m.history.each(func(r record) bool {
		if r.event.Timestamp.Before(windowStart) {
			return true
		}
		inWindow++
		if isFailure(r.event.Type) {
			failed++
		}
		if !r.event.Timestamp.Before(lastMinute) {
			recent++
		}
		if lat := r.processedAt.Sub(r.event.Timestamp); lat > 0 {
			latencyTotal += lat
		}
		return true
	})

	hm := HealthMetrics{RecentActivity: recent}
	if inWindow > 0 {
		hm.EventProcessingRate = float64(inWindow) / m.cfg.MetricsWindow.Minutes()
		hm.AverageEventLatency = float64(latencyTotal) / float64(inWindow) / float64(time.Millisecond)
		hm.ErrorRate = float64(failed) / float64(inWindow)
	}
	hm.Healthy = hm.ErrorRate < m.cfg.ErrorRateThreshold
	return hm
}

// Status reports lifecycle and counters.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := Status{
		Initialized: m.initialized,
		EventStats:  EventStats{ByType: map[domain.EventType]int64{}},
	}
	if !m.initialized {
		return st
	}

	st.Uptime = m.clock.Since(m.startedAt).Seconds()
	st.EventStats.Total = m.total
	st.EventStats.Retained = m.history.len()
	for k, v := range m.byType {
		st.EventStats.ByType[k] = v
	}
	st.ActiveHandlers = m.bus.HandlerCount()
	return st
}

// Recent returns up to n retained events, oldest first.
func (m *Manager) Recent(n int) []domain.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.initialized {
		return nil
	}
	recs := m.history.recent(n)
	out := make([]domain.Event, len(recs))
	for i, r := range recs {
		out[i] = r.event
	}
	return out
}

func isFailure(t domain.EventType) bool {
	return strings.HasSuffix(string(t), ".failed")
}
