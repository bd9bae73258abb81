// Package session watches one hosted-auth session and warns before it lapses.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/tjfontaine/revintel-gateway/internal/core/domain"
	"github.com/tjfontaine/revintel-gateway/internal/core/ports"
	"github.com/tjfontaine/revintel-gateway/internal/eventbus"
)

// Config tunes the monitor.
type Config struct {
	CheckInterval    time.Duration
	WarningThreshold time.Duration
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock sets the clock that drives checks.
func WithClock(c clockwork.Clock) Option {
	return func(m *Monitor) {
		m.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) {
		m.logger = l
	}
}

// OnWarning is called once each time remaining time crosses the threshold.
func OnWarning(fn func(domain.SessionWarning)) Option {
	return func(m *Monitor) {
		m.onWarning = fn
	}
}

// OnExpired is called exactly once when the session lapses or is revoked.
func OnExpired(fn func()) Option {
	return func(m *Monitor) {
		m.onExpired = fn
	}
}

// WithBus also emits session.* events on bus.
func WithBus(bus *eventbus.Bus) Option {
	return func(m *Monitor) {
		m.bus = bus
	}
}

// Monitor runs a recurring expiry check against a SessionSource. Callbacks
// run on the monitor's goroutine (or the caller of Rotate) and must not
// call Stop.
type Monitor struct {
	source    ports.SessionSource
	cfg       Config
	clock     clockwork.Clock
	logger    *slog.Logger
	bus       *eventbus.Bus
	onWarning func(domain.SessionWarning)
	onExpired func()

	mu      sync.Mutex
	session *domain.Session
	warning *domain.SessionWarning
	warned  bool
	expired bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}

	// cbMu serializes callbacks so Stop can wait out one in progress.
	cbMu sync.Mutex
}

// NewMonitor creates a stopped monitor for source.
func NewMonitor(source ports.SessionSource, cfg Config, opts ...Option) *Monitor {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	if cfg.WarningThreshold <= 0 {
		cfg.WarningThreshold = 5 * time.Minute
	}
	m := &Monitor{
		source: source,
		cfg:    cfg,
		clock:  clockwork.NewRealClock(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start checks immediately and then every CheckInterval until ctx is done,
// Stop is called, or the session expires.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.done != nil || m.stopped {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	go func() {
		defer close(done)

		ticker := m.clock.NewTicker(m.cfg.CheckInterval)
		defer ticker.Stop()

		if m.check(ctx) {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				if m.check(ctx) {
					return
				}
			}
		}
	}()
}

// Stop stops the timer. No callback runs after Stop returns.
func (m *Monitor) Stop() {
	m.mu.Lock()
	m.stopped = true
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	// Wait out a callback started by Rotate.
	m.cbMu.Lock()
	m.cbMu.Unlock()
}

// check runs one expiry check and reports whether the session is terminal.
func (m *Monitor) check(ctx context.Context) bool {
	m.mu.Lock()
	if m.expired || m.stopped {
		m.mu.Unlock()
		return true
	}
	m.mu.Unlock()

	s, err := m.source.Session(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrSessionInvalid) {
			m.expire("session was revoked")
			return true
		}
		if ctx.Err() == nil {
			m.logger.Warn("session check failed", slog.String("error", err.Error()))
		}
		return false
	}

	remaining := s.ExpiresAt.Sub(m.clock.Now())
	if remaining <= 0 {
		m.expire("session reached its expiry time")
		return true
	}

	m.mu.Lock()
	m.session = s
	switch {
	case remaining <= m.cfg.WarningThreshold && !m.warned:
		m.warned = true
		w := domain.SessionWarning{Message: warningMessage(remaining), TimeUntilExpiry: remaining}
		m.warning = &w
		m.mu.Unlock()

		m.logger.Info("session expiring soon",
			slog.String("user_id", s.UserID),
			slog.Duration("time_until_expiry", remaining),
		)
		m.fire(func() {
			if m.onWarning != nil {
				m.onWarning(w)
			}
			m.emit(domain.EventSessionWarning, s.UserID, map[string]any{
				"message":         w.Message,
				"timeUntilExpiry": remaining.Seconds(),
			})
		})
		return false

	case remaining > m.cfg.WarningThreshold && m.warned:
		// Extended elsewhere (another tab refreshed); treat as a refresh.
		m.warned = false
		m.warning = nil
	}
	m.mu.Unlock()
	return false
}

func (m *Monitor) expire(reason string) {
	m.mu.Lock()
	if m.expired {
		m.mu.Unlock()
		return
	}
	m.expired = true
	m.warning = &domain.SessionWarning{Message: "Your session has expired. Please sign in again."}
	userID := ""
	if m.session != nil {
		userID = m.session.UserID
	}
	m.mu.Unlock()

	m.logger.Info("session expired", slog.String("user_id", userID), slog.String("reason", reason))
	m.fire(func() {
		if m.onExpired != nil {
			m.onExpired()
		}
		m.emit(domain.EventSessionExpired, userID, map[string]any{"reason": reason})
	})
}

// Rotate adopts tokens refreshed over HTTP when the source still holds
// previousRefreshToken. On success the pending warning is cleared and the
// threshold detector reset. It reports whether the tokens were adopted; an
// expired or stopped monitor adopts nothing.
func (m *Monitor) Rotate(previousRefreshToken string, next domain.Session) bool {
	m.mu.Lock()
	if m.expired || m.stopped {
		m.mu.Unlock()
		return false
	}
	m.mu.Unlock()

	s, ok := m.source.Rotate(previousRefreshToken, next)
	if !ok {
		return false
	}

	m.mu.Lock()
	if m.expired || m.stopped {
		m.mu.Unlock()
		return false
	}
	m.session = s
	m.warned = false
	m.warning = nil
	m.mu.Unlock()

	m.logger.Info("session refreshed", slog.String("user_id", s.UserID), slog.Time("expires_at", s.ExpiresAt))
	m.fire(func() {
		m.emit(domain.EventSessionRefreshed, s.UserID, map[string]any{"expiresAt": s.ExpiresAt})
	})
	return true
}

// Warning returns the current warning, if one is showing.
func (m *Monitor) Warning() (domain.SessionWarning, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.warning == nil {
		return domain.SessionWarning{}, false
	}
	return *m.warning, true
}

// DismissWarning hides the current warning without resetting the detector.
func (m *Monitor) DismissWarning() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warning = nil
}

// Expired reports whether the session has lapsed.
func (m *Monitor) Expired() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expired
}

// Session returns the last observed session.
func (m *Monitor) Session() (domain.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return domain.Session{}, false
	}
	return *m.session, true
}

func (m *Monitor) fire(fn func()) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()

	m.mu.Lock()
	stopped := m.stopped
	m.mu.Unlock()
	if stopped {
		return
	}
	fn()
}

func (m *Monitor) emit(t domain.EventType, userID string, payload map[string]any) {
	if m.bus == nil {
		return
	}
	payload["userId"] = userID
	m.bus.Emit(t, payload)
}

func warningMessage(remaining time.Duration) string {
	minutes := int(math.Ceil(remaining.Minutes()))
	if minutes <= 1 {
		return "Your session will expire in less than a minute. Refresh to stay signed in."
	}
	return fmt.Sprintf("Your session will expire in %d minutes. Refresh to stay signed in.", minutes)
}

// WarningFor returns the warning a monitor would show for a session expiring
// at expiresAt, or false when it is outside the threshold or already expired.
func WarningFor(expiresAt, now time.Time, threshold time.Duration) (domain.SessionWarning, bool) {
	remaining := expiresAt.Sub(now)
	if remaining <= 0 || remaining > threshold {
		return domain.SessionWarning{}, false
	}
	return domain.SessionWarning{Message: warningMessage(remaining), TimeUntilExpiry: remaining}, true
}
