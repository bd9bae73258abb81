package session

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

type fakeSource struct {
	mu           sync.Mutex
	expiresAt    time.Time
	refreshToken string
	sessionErr   error
	calls        int
}

func (f *fakeSource) Session(ctx context.Context) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.sessionErr != nil {
		return nil, f.sessionErr
	}
	return &domain.Session{UserID: "u1", ExpiresAt: f.expiresAt}, nil
}

func (f *fakeSource) Rotate(previous string, next domain.Session) (*domain.Session, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if previous != f.refreshToken {
		return nil, false
	}
	f.expiresAt = next.ExpiresAt
	f.refreshToken = next.RefreshToken
	return &domain.Session{UserID: "u1", ExpiresAt: f.expiresAt, RefreshToken: f.refreshToken}, true
}

// renewed is the pair an HTTP refresh of rt-1 hands back.
func renewed(clock clockwork.Clock) domain.Session {
	return domain.Session{AccessToken: "at-2", RefreshToken: "rt-2", ExpiresAt: clock.Now().Add(10 * time.Minute)}
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recorder struct {
	mu       sync.Mutex
	warnings []domain.SessionWarning
	expired  int
}

func (r *recorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.warnings), r.expired
}

func newTestMonitor(t *testing.T, expiresIn time.Duration, opts ...Option) (*Monitor, *fakeSource, *clockwork.FakeClock, *recorder) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	src := &fakeSource{expiresAt: clock.Now().Add(expiresIn), refreshToken: "rt-1"}
	rec := &recorder{}

	base := []Option{
		WithClock(clock),
		WithLogger(discard),
		OnWarning(func(w domain.SessionWarning) {
			rec.mu.Lock()
			rec.warnings = append(rec.warnings, w)
			rec.mu.Unlock()
		}),
		OnExpired(func() {
			rec.mu.Lock()
			rec.expired++
			rec.mu.Unlock()
		}),
	}
	m := NewMonitor(src, Config{CheckInterval: 30 * time.Second, WarningThreshold: 5 * time.Minute}, append(base, opts...)...)
	t.Cleanup(m.Stop)
	return m, src, clock, rec
}

func TestMonitor_WarnsOncePerCrossing(t *testing.T) {
	m, _, clock, rec := newTestMonitor(t, 10*time.Minute)
	ctx := context.Background()

	m.check(ctx)
	w, _ := rec.counts()
	assert.Equal(t, 0, w)

	clock.Advance(6 * time.Minute)
	m.check(ctx)
	clock.Advance(30 * time.Second)
	m.check(ctx)
	clock.Advance(30 * time.Second)
	m.check(ctx)

	w, e := rec.counts()
	assert.Equal(t, 1, w, "warning fires once, not per tick")
	assert.Equal(t, 0, e)
	assert.Equal(t, 4*time.Minute, rec.warnings[0].TimeUntilExpiry)
	assert.Contains(t, rec.warnings[0].Message, "4 minutes")

	warning, ok := m.Warning()
	require.True(t, ok)
	assert.Equal(t, rec.warnings[0].Message, warning.Message)

	// Rotation resets the detector and clears the warning.
	require.True(t, m.Rotate("rt-1", renewed(clock)))
	_, ok = m.Warning()
	assert.False(t, ok)

	clock.Advance(6 * time.Minute)
	m.check(ctx)
	w, _ = rec.counts()
	assert.Equal(t, 2, w, "a new crossing after refresh warns again")
}

func TestMonitor_ExpiresExactlyOnce(t *testing.T) {
	m, _, clock, rec := newTestMonitor(t, 2*time.Minute)
	ctx := context.Background()

	m.check(ctx) // warns: already under the threshold
	clock.Advance(2 * time.Minute)
	assert.True(t, m.check(ctx))
	assert.True(t, m.check(ctx))
	clock.Advance(time.Minute)
	m.check(ctx)

	w, e := rec.counts()
	assert.Equal(t, 1, w)
	assert.Equal(t, 1, e)
	assert.True(t, m.Expired())

	// Expiry is terminal.
	assert.False(t, m.Rotate("rt-1", renewed(clock)))
}

func TestMonitor_RevokedSessionExpires(t *testing.T) {
	m, src, _, rec := newTestMonitor(t, time.Hour)
	src.sessionErr = domain.ErrSessionInvalid

	m.check(context.Background())
	m.check(context.Background())

	_, e := rec.counts()
	assert.Equal(t, 1, e)
}

func TestMonitor_TransientErrorKeepsWatching(t *testing.T) {
	m, src, _, rec := newTestMonitor(t, time.Hour)
	src.sessionErr = errors.New("connection reset")

	assert.False(t, m.check(context.Background()))
	_, e := rec.counts()
	assert.Equal(t, 0, e)
	assert.False(t, m.Expired())
}

func TestMonitor_RotateIgnoresOtherSessions(t *testing.T) {
	m, src, clock, _ := newTestMonitor(t, 3*time.Minute)
	m.check(context.Background())

	assert.False(t, m.Rotate("rt-other", renewed(clock)))
	_, ok := m.Warning()
	assert.True(t, ok, "a refresh of another session leaves the warning up")
	assert.Equal(t, "rt-1", src.refreshToken)

	require.True(t, m.Rotate("rt-1", renewed(clock)))
	s, ok := m.Session()
	require.True(t, ok)
	assert.Equal(t, "rt-2", s.RefreshToken)
	assert.False(t, m.Rotate("rt-1", renewed(clock)), "the spent token no longer matches")
}

func TestMonitor_DismissWarning(t *testing.T) {
	m, _, _, rec := newTestMonitor(t, time.Minute)
	m.check(context.Background())

	_, ok := m.Warning()
	require.True(t, ok)
	assert.Contains(t, rec.warnings[0].Message, "less than a minute")

	m.DismissWarning()
	_, ok = m.Warning()
	assert.False(t, ok)

	m.check(context.Background())
	w, _ := rec.counts()
	assert.Equal(t, 1, w, "dismissing does not re-arm the warning")
}

func TestMonitor_ExternalExtensionRearms(t *testing.T) {
	m, src, clock, rec := newTestMonitor(t, 4*time.Minute)
	ctx := context.Background()

	m.check(ctx)
	src.mu.Lock()
	src.expiresAt = clock.Now().Add(time.Hour)
	src.mu.Unlock()
	m.check(ctx)
	_, ok := m.Warning()
	assert.False(t, ok)

	clock.Advance(56 * time.Minute)
	m.check(ctx)
	w, _ := rec.counts()
	assert.Equal(t, 2, w)
}

func TestMonitor_TimerDrivenChecks(t *testing.T) {
	m, src, clock, rec := newTestMonitor(t, 6*time.Minute)

	m.Start(context.Background())
	clock.BlockUntil(1)
	assert.Eventually(t, func() bool { return src.callCount() >= 1 }, time.Second, time.Millisecond)

	clock.Advance(30 * time.Second)
	assert.Eventually(t, func() bool { return src.callCount() >= 2 }, time.Second, time.Millisecond)

	clock.Advance(30 * time.Second)
	assert.Eventually(t, func() bool {
		w, _ := rec.counts()
		return w == 1
	}, time.Second, time.Millisecond)
}

func TestMonitor_NoCallbacksAfterStop(t *testing.T) {
	m, src, clock, rec := newTestMonitor(t, 10*time.Minute)

	m.Start(context.Background())
	clock.BlockUntil(1)
	assert.Eventually(t, func() bool { return src.callCount() >= 1 }, time.Second, time.Millisecond)

	m.Stop()
	clock.Advance(20 * time.Minute)
	time.Sleep(10 * time.Millisecond)

	w, e := rec.counts()
	assert.Equal(t, 0, w)
	assert.Equal(t, 0, e)
	assert.False(t, m.Rotate("rt-1", renewed(clock)))
}

func TestMonitor_EmitsBusEvents(t *testing.T) {
	bus := eventbus.New(discard)
	var types []domain.EventType
	bus.On(eventbus.Wildcard, func(e domain.Event) error {
		types = append(types, e.Type)
		assert.Equal(t, "u1", e.Payload["userId"])
		return nil
	})

	m, _, clock, _ := newTestMonitor(t, 4*time.Minute, WithBus(bus))
	ctx := context.Background()

	m.check(ctx)
	require.True(t, m.Rotate("rt-1", renewed(clock)))
	clock.Advance(11 * time.Minute)
	m.check(ctx)

	assert.Equal(t, []domain.EventType{
		domain.EventSessionWarning,
		domain.EventSessionRefreshed,
		domain.EventSessionExpired,
	}, types)
}

func TestWarningFor(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	w, ok := WarningFor(now.Add(3*time.Minute), now, 5*time.Minute)
	assert.True(t, ok)
	assert.Equal(t, 3*time.Minute, w.TimeUntilExpiry)
	assert.Contains(t, w.Message, "3 minutes")

	_, ok = WarningFor(now.Add(10*time.Minute), now, 5*time.Minute)
	assert.False(t, ok)

	_, ok = WarningFor(now.Add(-time.Second), now, 5*time.Minute)
	assert.False(t, ok)
}
