package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tjfontaine/revintel-gateway/internal/core/domain"
	"github.com/tjfontaine/revintel-gateway/internal/eventbus"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeStore struct {
	recent     []domain.Event
	byResource map[string][]domain.Event
	err        error
}

func (s *fakeStore) AppendEvent(ctx context.Context, e domain.Event) error { return nil }

func (s *fakeStore) RecentEvents(ctx context.Context, limit int) ([]domain.Event, error) {
	return s.recent, s.err
}

func (s *fakeStore) ResourceEvents(ctx context.Context, id string) ([]domain.Event, error) {
	return s.byResource[id], s.err
}

func (s *fakeStore) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (s *fakeStore) Close() error { return nil }

type fakePublisher struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (p *fakePublisher) Publish(ctx context.Context, e domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *fakePublisher) Close() error { return nil }

func newTestManager(t *testing.T, opts ...Option) (*Manager, *eventbus.Bus, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	bus := eventbus.New(discard, eventbus.WithClock(clock))
	opts = append([]Option{WithClock(clock), WithLogger(discard)}, opts...)
	m := NewManager(bus, Config{HistorySize: 50, MetricsWindow: 5 * time.Minute, ErrorRateThreshold: 0.1}, opts...)
	return m, bus, clock
}

func resource(id string) map[string]any {
	return map[string]any{domain.PayloadResourceID: id}
}

func TestManager_NotReadyDefaults(t *testing.T) {
	m, bus, _ := newTestManager(t)

	bus.Emit(domain.EventGenerationStarted, resource("r1"))

	tl := m.Timeline(context.Background(), "", "r1")
	assert.Equal(t, StatusUnknown, tl.Status)
	assert.Empty(t, tl.Events)
	assert.Equal(t, HealthMetrics{}, m.HealthMetrics())
	assert.False(t, m.Status().Initialized)
	assert.Nil(t, m.Recent(10))

	// Shutdown before Initialize is a no-op.
	m.Shutdown(context.Background())
}

func TestManager_InitializeIsIdempotent(t *testing.T) {
	m, bus, _ := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Initialize(ctx))
	require.NoError(t, m.Initialize(ctx))
	assert.Equal(t, 1, bus.HandlerCount())

	bus.Emit(domain.EventGenerationStarted, resource("r1"))
	assert.Equal(t, int64(1), m.Status().EventStats.Total)

	m.Shutdown(ctx)
	assert.Equal(t, 0, bus.HandlerCount())
	assert.False(t, m.Ready())
}

func TestManager_InitializeFailureStaysNotReady(t *testing.T) {
	store := &fakeStore{err: errors.New("disk on fire")}
	m, bus, _ := newTestManager(t, WithStore(store))

	err := m.Initialize(context.Background())
	require.Error(t, err)
	assert.False(t, m.Ready())
	assert.Equal(t, 0, bus.HandlerCount())
	assert.Equal(t, StatusUnknown, m.Timeline(context.Background(), "", "r1").Status)
}

func TestManager_Timeline(t *testing.T) {
	m, bus, clock := newTestManager(t)
	require.NoError(t, m.Initialize(context.Background()))

	bus.Emit(domain.EventGenerationStarted, map[string]any{domain.PayloadResourceID: "r1", "progress": 0})
	clock.Advance(time.Second)
	bus.Emit(domain.EventGenerationProgress, map[string]any{domain.PayloadResourceID: "r1", "progress": 50})
	bus.Emit(domain.EventGenerationStarted, resource("r2"))
	clock.Advance(time.Second)

	tl := m.Timeline(context.Background(), "", "r1")
	assert.Equal(t, StatusGenerating, tl.Status)
	require.Len(t, tl.Events, 2)
	assert.Equal(t, domain.EventGenerationStarted, tl.Events[0].Event)
	assert.Equal(t, domain.EventGenerationProgress, tl.Events[1].Event)
	assert.True(t, tl.Events[0].Timestamp.Before(tl.Events[1].Timestamp))

	bus.Emit(domain.EventGenerationCompleted, resource("r1"))
	assert.Equal(t, StatusCompleted, m.Timeline(context.Background(), "", "r1").Status)

	bus.Emit(domain.EventGenerationFailed, resource("r2"))
	assert.Equal(t, StatusFailed, m.Timeline(context.Background(), "", "r2").Status)

	assert.Equal(t, StatusUnknown, m.Timeline(context.Background(), "", "missing").Status)
}

func TestManager_TimelineFallsBackToStore(t *testing.T) {
	ts := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{byResource: map[string][]domain.Event{
		"old": {
			{ID: "1", Type: domain.EventGenerationStarted, Payload: resource("old"), Timestamp: ts},
			{ID: "2", Type: domain.EventGenerationCompleted, Payload: resource("old"), Timestamp: ts.Add(time.Minute)},
		},
	}}
	m, _, _ := newTestManager(t, WithStore(store))
	require.NoError(t, m.Initialize(context.Background()))

	tl := m.Timeline(context.Background(), "", "old")
	assert.Equal(t, StatusCompleted, tl.Status)
	assert.Len(t, tl.Events, 2)
}

func TestManager_HydratesHistory(t *testing.T) {
	ts := time.Date(2026, 3, 1, 11, 59, 0, 0, time.UTC)
	store := &fakeStore{recent: []domain.Event{
		{ID: "1", Type: domain.EventGenerationStarted, Payload: resource("r9"), Timestamp: ts},
	}}
	m, _, _ := newTestManager(t, WithStore(store))
	require.NoError(t, m.Initialize(context.Background()))

	assert.Len(t, m.Recent(10), 1)
	assert.Equal(t, StatusGenerating, m.Timeline(context.Background(), "", "r9").Status)
}

func TestManager_ReinitializeDoesNotDuplicateHistory(t *testing.T) {
	ts := time.Date(2026, 3, 1, 11, 59, 0, 0, time.UTC)
	store := &fakeStore{recent: []domain.Event{
		{ID: "1", Type: domain.EventGenerationStarted, Payload: resource("r9"), Timestamp: ts},
		{ID: "2", Type: domain.EventGenerationProgress, Payload: resource("r9"), Timestamp: ts},
	}}
	m, _, _ := newTestManager(t, WithStore(store))
	ctx := context.Background()

	require.NoError(t, m.Initialize(ctx))
	m.Shutdown(ctx)
	require.NoError(t, m.Initialize(ctx))

	assert.Len(t, m.Recent(10), 2)
	assert.Len(t, m.Timeline(ctx, "", "r9").Events, 2)
}

func TestManager_TimelineScopedByCustomer(t *testing.T) {
	ts := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	owned := func(customerID string) map[string]any {
		return map[string]any{domain.PayloadResourceID: "r1", domain.PayloadCustomerID: customerID}
	}
	store := &fakeStore{byResource: map[string][]domain.Event{
		"old": {
			{ID: "1", Type: domain.EventGenerationCompleted, Payload: map[string]any{domain.PayloadResourceID: "old", domain.PayloadCustomerID: "cust-2"}, Timestamp: ts},
		},
	}}
	m, bus, _ := newTestManager(t, WithStore(store))
	ctx := context.Background()
	require.NoError(t, m.Initialize(ctx))

	bus.Emit(domain.EventGenerationStarted, owned("cust-1"))
	bus.Emit(domain.EventGenerationCompleted, owned("cust-1"))
	bus.Emit(domain.EventGenerationStarted, owned("cust-2"))

	mine := m.Timeline(ctx, "cust-1", "r1")
	assert.Equal(t, StatusCompleted, mine.Status)
	assert.Len(t, mine.Events, 2)

	theirs := m.Timeline(ctx, "cust-2", "r1")
	assert.Equal(t, StatusGenerating, theirs.Status)
	assert.Len(t, theirs.Events, 1)

	assert.Len(t, m.Timeline(ctx, "", "r1").Events, 3)

	assert.Equal(t, StatusUnknown, m.Timeline(ctx, "cust-1", "old").Status, "persisted events are scoped too")
	assert.Equal(t, StatusCompleted, m.Timeline(ctx, "cust-2", "old").Status)
}

func TestManager_HealthMetrics(t *testing.T) {
	m, bus, clock := newTestManager(t)
	require.NoError(t, m.Initialize(context.Background()))

	// Outside the 5 minute window once the clock moves on.
	bus.Emit(domain.EventGenerationFailed, resource("old"))
	clock.Advance(10 * time.Minute)

	for i := 0; i < 9; i++ {
		bus.Emit(domain.EventGenerationProgress, resource("r1"))
	}
	clock.Advance(2 * time.Minute)
	bus.Emit(domain.EventGenerationFailed, resource("r1"))

	hm := m.HealthMetrics()
	assert.InDelta(t, 10.0/5.0, hm.EventProcessingRate, 0.0001)
	assert.InDelta(t, 0.1, hm.ErrorRate, 0.0001)
	assert.Equal(t, 1, hm.RecentActivity)
	assert.False(t, hm.Healthy, "error rate at threshold is unhealthy")

	for i := 0; i < 10; i++ {
		bus.Emit(domain.EventGenerationProgress, resource("r2"))
	}
	hm = m.HealthMetrics()
	assert.InDelta(t, 0.05, hm.ErrorRate, 0.0001)
	assert.True(t, hm.Healthy)
}

func TestManager_HealthLatency(t *testing.T) {
	m, bus, _ := newTestManager(t)
	require.NoError(t, m.Initialize(context.Background()))

	bus.Emit(domain.EventGenerationProgress, resource("r1"))
	// Events are recorded in the same instant they are emitted on a fake clock.
	assert.Equal(t, 0.0, m.HealthMetrics().AverageEventLatency)
}

func TestManager_StatusAndPublisher(t *testing.T) {
	pub := &fakePublisher{}
	m, bus, clock := newTestManager(t, WithPublisher(pub))
	require.NoError(t, m.Initialize(context.Background()))

	bus.On(domain.EventSessionWarning, func(domain.Event) error { return nil })
	bus.Emit(domain.EventGenerationStarted, resource("r1"))
	bus.Emit(domain.EventGenerationStarted, resource("r2"))
	bus.Emit(domain.EventSessionWarning, nil)
	clock.Advance(90 * time.Second)

	st := m.Status()
	assert.True(t, st.Initialized)
	assert.Equal(t, 90.0, st.Uptime)
	assert.Equal(t, int64(3), st.EventStats.Total)
	assert.Equal(t, 3, st.EventStats.Retained)
	assert.Equal(t, int64(2), st.EventStats.ByType[domain.EventGenerationStarted])
	assert.Equal(t, 2, st.ActiveHandlers)

	assert.Len(t, pub.events, 3)
}

func TestManager_PublisherFailureDoesNotDropHistory(t *testing.T) {
	pub := &fakePublisher{err: errors.New("nats down")}
	m, bus, _ := newTestManager(t, WithPublisher(pub))
	require.NoError(t, m.Initialize(context.Background()))

	bus.Emit(domain.EventGenerationStarted, resource("r1"))
	assert.Len(t, m.Recent(10), 1)
}
