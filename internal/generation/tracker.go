// Package generation runs resource generation against the backend and tracks
// its progress from bus events.
package generation

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/tjfontaine/revintel-gateway/internal/core/domain"
	"github.com/tjfontaine/revintel-gateway/internal/eventbus"
)

// Payload keys used by generation events.
const (
	payloadProgress     = "progress"
	payloadStep         = "currentStep"
	payloadError        = "error"
	payloadResource     = "resource"
	payloadResourceType = "resourceType"
	payloadMCPServices  = "mcpServicesUsed"
)

// resourceKey scopes a resource ID to the customer that owns it. Two
// customers may use the same resource ID without sharing state.
type resourceKey struct {
	customerID string
	resourceID string
}

func keyOf(e domain.Event) resourceKey {
	customerID, _ := e.Payload[domain.PayloadCustomerID].(string)
	return resourceKey{customerID: customerID, resourceID: e.ResourceID()}
}

// Tracker keeps per-resource generation state, driven by bus events. A
// resource has at most one of a generation state or a generated resource.
type Tracker struct {
	clock      clockwork.Clock
	clearDelay time.Duration
	logger     *slog.Logger

	mu        sync.RWMutex
	states    map[resourceKey]domain.GenerationState
	resources map[resourceKey]domain.GeneratedResource
	timers    map[resourceKey]clockwork.Timer
	// epoch increases on every state change so a stale clear timer is a no-op.
	epoch map[resourceKey]uint64

	unsubscribe []func()
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithTrackerClock sets the clock that schedules failure clearing.
func WithTrackerClock(c clockwork.Clock) TrackerOption {
	return func(t *Tracker) {
		t.clock = c
	}
}

// WithTrackerLogger sets the logger.
func WithTrackerLogger(l *slog.Logger) TrackerOption {
	return func(t *Tracker) {
		t.logger = l
	}
}

// NewTracker subscribes to generation events on bus. Failed states are
// removed clearDelay after the failure.
func NewTracker(bus *eventbus.Bus, clearDelay time.Duration, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		clock:      clockwork.NewRealClock(),
		clearDelay: clearDelay,
		logger:     slog.Default(),
		states:     make(map[resourceKey]domain.GenerationState),
		resources:  make(map[resourceKey]domain.GeneratedResource),
		timers:     make(map[resourceKey]clockwork.Timer),
		epoch:      make(map[resourceKey]uint64),
	}
	for _, opt := range opts {
		opt(t)
	}

	t.unsubscribe = []func(){
		bus.On(domain.EventGenerationStarted, t.onStarted),
		bus.On(domain.EventGenerationProgress, t.onProgress),
		bus.On(domain.EventGenerationCompleted, t.onCompleted),
		bus.On(domain.EventGenerationFailed, t.onFailed),
	}
	return t
}

// Close unsubscribes from the bus and stops pending clear timers.
func (t *Tracker) Close() {
	for _, unsub := range t.unsubscribe {
		unsub()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for id, timer := range t.timers {
		timer.Stop()
		delete(t.timers, id)
	}
}

func (t *Tracker) onStarted(e domain.Event) error {
	id := keyOf(e)
	if id.resourceID == "" {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// Regeneration replaces the previous result.
	delete(t.resources, id)
	t.setStateLocked(id, stateFromEvent(e, domain.GenerationState{}))
	return nil
}

func (t *Tracker) onProgress(e domain.Event) error {
	id := keyOf(e)
	if id.resourceID == "" {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.resources, id)
	t.setStateLocked(id, stateFromEvent(e, t.states[id]))
	return nil
}

func (t *Tracker) onCompleted(e domain.Event) error {
	id := keyOf(e)
	if id.resourceID == "" {
		return nil
	}

	res := resourceFromEvent(e)
	res.ID = id.resourceID
	res.CustomerID = id.customerID

	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopTimerLocked(id)
	t.epoch[id]++
	delete(t.states, id)
	t.resources[id] = res
	return nil
}

func (t *Tracker) onFailed(e domain.Event) error {
	id := keyOf(e)
	if id.resourceID == "" {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	prev := t.states[id]
	state := stateFromEvent(e, prev)
	state.IsGenerating = false
	state.Progress = prev.Progress
	if msg, _ := e.Payload[payloadError].(string); msg != "" {
		state.Error = msg
	} else {
		state.Error = "generation failed"
	}

	delete(t.resources, id)
	t.setStateLocked(id, state)

	token := t.epoch[id]
	t.timers[id] = t.clock.AfterFunc(t.clearDelay, func() {
		t.clearFailed(id, token)
	})
	return nil
}

func (t *Tracker) clearFailed(id resourceKey, token uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.epoch[id] != token {
		return
	}
	delete(t.states, id)
	delete(t.timers, id)
	t.logger.Debug("cleared failed generation state",
		slog.String("customer_id", id.customerID),
		slog.String("resource_id", id.resourceID))
}

func (t *Tracker) setStateLocked(id resourceKey, s domain.GenerationState) {
	t.stopTimerLocked(id)
	t.epoch[id]++
	s.ResourceID = id.resourceID
	s.CustomerID = id.customerID
	t.states[id] = s
}

func (t *Tracker) stopTimerLocked(id resourceKey) {
	if timer, ok := t.timers[id]; ok {
		timer.Stop()
		delete(t.timers, id)
	}
}

// State returns the generation state of a customer's resource.
func (t *Tracker) State(customerID, resourceID string) (domain.GenerationState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.states[resourceKey{customerID, resourceID}]
	return cloneState(s), ok
}

// Resource returns the generated resource, if generation completed.
func (t *Tracker) Resource(customerID, resourceID string) (domain.GeneratedResource, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.resources[resourceKey{customerID, resourceID}]
	return r, ok
}

// IsGenerating reports whether a generation for the resource is in flight.
func (t *Tracker) IsGenerating(customerID, resourceID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.states[resourceKey{customerID, resourceID}].IsGenerating
}

// IsGenerated reports whether the resource has a generated result.
func (t *Tracker) IsGenerated(customerID, resourceID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.resources[resourceKey{customerID, resourceID}]
	return ok
}

// States returns all generation states sorted by customer, then resource ID.
func (t *Tracker) States() []domain.GenerationState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]domain.GenerationState, 0, len(t.states))
	for _, s := range t.states {
		out = append(out, cloneState(s))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CustomerID != out[j].CustomerID {
			return out[i].CustomerID < out[j].CustomerID
		}
		return out[i].ResourceID < out[j].ResourceID
	})
	return out
}

// Resources returns all generated resources sorted by customer, then ID.
func (t *Tracker) Resources() []domain.GeneratedResource {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]domain.GeneratedResource, 0, len(t.resources))
	for _, r := range t.resources {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CustomerID != out[j].CustomerID {
			return out[i].CustomerID < out[j].CustomerID
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func stateFromEvent(e domain.Event, prev domain.GenerationState) domain.GenerationState {
	s := domain.GenerationState{
		IsGenerating:    true,
		Progress:        prev.Progress,
		CurrentStep:     prev.CurrentStep,
		MCPServicesUsed: prev.MCPServicesUsed,
	}
	if p, ok := intValue(e.Payload[payloadProgress]); ok {
		s.Progress = clampProgress(p)
	}
	if step, ok := e.Payload[payloadStep].(string); ok {
		s.CurrentStep = step
	}
	if services := stringSlice(e.Payload[payloadMCPServices]); services != nil {
		s.MCPServicesUsed = services
	}
	return s
}

func resourceFromEvent(e domain.Event) domain.GeneratedResource {
	switch r := e.Payload[payloadResource].(type) {
	case domain.GeneratedResource:
		return r
	case *domain.GeneratedResource:
		if r != nil {
			return *r
		}
	}
	return domain.GeneratedResource{GeneratedAt: e.Timestamp}
}

func cloneState(s domain.GenerationState) domain.GenerationState {
	if s.MCPServicesUsed != nil {
		s.MCPServicesUsed = append([]string(nil), s.MCPServicesUsed...)
	}
	return s
}

func clampProgress(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

func stringSlice(v any) []string {
	switch s := v.(type) {
	case []string:
		return append([]string(nil), s...)
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}
