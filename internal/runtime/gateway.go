// Package runtime provides the Gateway struct and lifecycle management for
// the revenue intelligence gateway.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"

	"github.com/tjfontaine/revintel-gateway/internal/adapters/auth/legacy"
	"github.com/tjfontaine/revintel-gateway/internal/adapters/auth/supabase"
	"github.com/tjfontaine/revintel-gateway/internal/adapters/events/fanout"
	"github.com/tjfontaine/revintel-gateway/internal/adapters/policy/basic"
	"github.com/tjfontaine/revintel-gateway/internal/adapters/policy/ratelimit"
	"github.com/tjfontaine/revintel-gateway/internal/api"
	"github.com/tjfontaine/revintel-gateway/internal/auth"
	"github.com/tjfontaine/revintel-gateway/internal/backend"
	"github.com/tjfontaine/revintel-gateway/internal/core/domain"
	"github.com/tjfontaine/revintel-gateway/internal/core/ports"
	"github.com/tjfontaine/revintel-gateway/internal/eventbus"
	"github.com/tjfontaine/revintel-gateway/internal/events"
	"github.com/tjfontaine/revintel-gateway/internal/generation"
	"github.com/tjfontaine/revintel-gateway/internal/pkg/config"
	"github.com/tjfontaine/revintel-gateway/internal/server"
	"github.com/tjfontaine/revintel-gateway/internal/session"
	"github.com/tjfontaine/revintel-gateway/internal/stream"
	"github.com/tjfontaine/revintel-gateway/internal/telemetry"
)

// Gateway is the main entry point for running the gateway.
// It manages configuration, upstream clients, the event system and the HTTP
// server lifecycle. Gateway can be embedded in larger applications or run
// standalone.
type Gateway struct {
	// Dependencies (injected via options)
	config     ports.ConfigProvider
	hosted     ports.HostedAuth
	creds      ports.CredentialStore
	store      ports.EventStore
	publishers []ports.EventPublisher
	policy     ports.QualityPolicy
	backend    ports.GenerationBackend
	clock      clockwork.Clock
	logger     *slog.Logger

	// directEvents is set once a publisher writes to store.
	directEvents bool

	// Built in Start
	cfg       *config.Config
	publisher ports.EventPublisher
	bus       *eventbus.Bus
	manager   *events.Manager
	tracker   *generation.Tracker
	bridge    *auth.Bridge
	hub       *stream.Hub
	server    *server.Server
	scheduler *cron.Cron
	tracing   func(context.Context) error

	// Lifecycle management
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.RWMutex
	started bool
}

// New creates a new Gateway with the given options. Dependencies not given
// as options are built from configuration in Start.
func New(opts ...Option) (*Gateway, error) {
	gw := &Gateway{
		logger: slog.Default(),
		clock:  clockwork.NewRealClock(),
	}

	// Apply options
	for _, opt := range opts {
		if err := opt(gw); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	// Validate required dependencies
	if gw.config == nil {
		return nil, fmt.Errorf("config provider required (use WithFileConfig or WithConfigProvider)")
	}

	return gw, nil
}

// Start loads configuration, wires every component and starts serving.
func (g *Gateway) Start(ctx context.Context) error {
	if err := g.Build(ctx); err != nil {
		return err
	}

	g.mu.RLock()
	srv, port := g.server, g.cfg.Server.Port
	g.mu.RUnlock()

	go func() {
		if err := srv.Start(); err != nil {
			g.logger.Error("server error", slog.String("error", err.Error()))
		}
	}()

	// Watch for config changes
	go g.watchConfig()

	g.logger.Info("gateway started",
		slog.Int("port", port),
		slog.Bool("hosted_auth", g.hosted != nil),
		slog.Bool("persistent_events", g.store != nil),
	)
	return nil
}

// Build wires every component without listening. Start calls it; tests use
// it with Handler.
func (g *Gateway) Build(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.started {
		return fmt.Errorf("gateway already started")
	}

	g.ctx, g.cancel = context.WithCancel(ctx)

	// Load initial config
	cfg, err := g.config.Load(g.ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	g.cfg = cfg

	if err := g.initDependencies(cfg); err != nil {
		return fmt.Errorf("init dependencies: %w", err)
	}

	shutdown, err := telemetry.InitTracer(telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		ServiceName: cfg.Telemetry.ServiceName,
		SampleRatio: cfg.Telemetry.SampleRatio,
	}, g.logger)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	g.tracing = shutdown

	g.initEvents(cfg)
	if err := g.initServer(cfg); err != nil {
		return fmt.Errorf("init server: %w", err)
	}
	if err := g.initRetention(cfg); err != nil {
		return fmt.Errorf("init retention: %w", err)
	}

	g.started = true
	return nil
}

// Handler returns the HTTP handler after Build or Start.
func (g *Gateway) Handler() http.Handler {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.server == nil {
		return nil
	}
	return g.server.Router
}

// Bus returns the event bus after Build or Start.
func (g *Gateway) Bus() *eventbus.Bus {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.bus
}

// Shutdown gracefully stops the gateway.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.logger.Info("shutting down gateway")

	if g.cancel != nil {
		g.cancel()
	}

	var errs []error

	// Stop HTTP server
	if g.server != nil {
		if err := g.server.Shutdown(ctx); err != nil {
			g.logger.Error("failed to shutdown server", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if g.hub != nil {
		g.hub.Close()
	}

	if g.scheduler != nil {
		select {
		case <-g.scheduler.Stop().Done():
		case <-ctx.Done():
		}
	}

	if g.tracker != nil {
		g.tracker.Close()
	}
	if g.manager != nil {
		g.manager.Shutdown(ctx)
	}

	// Close resources
	if g.publisher != nil {
		if err := g.publisher.Close(); err != nil {
			g.logger.Error("failed to close events", slog.String("error", err.Error()))
		}
	}

	if g.store != nil {
		if err := g.store.Close(); err != nil {
			g.logger.Error("failed to close storage", slog.String("error", err.Error()))
		}
	}

	if g.config != nil {
		if err := g.config.Close(); err != nil {
			g.logger.Error("failed to close config", slog.String("error", err.Error()))
		}
	}

	if g.tracing != nil {
		if err := g.tracing(ctx); err != nil {
			g.logger.Error("failed to flush traces", slog.String("error", err.Error()))
		}
	}

	g.logger.Info("gateway shutdown complete")
	return errors.Join(errs...)
}

// watchConfig watches for config changes and reloads.
func (g *Gateway) watchConfig() {
	onChange := func(newCfg *config.Config) {
		g.logger.Info("config changed, reloading")
		if err := g.reload(newCfg); err != nil {
			g.logger.Error("failed to reload", slog.String("error", err.Error()))
		}
	}

	if err := g.config.Watch(g.ctx, onChange); err != nil {
		if !errors.Is(err, context.Canceled) {
			g.logger.Error("config watch failed", slog.String("error", err.Error()))
		}
	}
}

// reload applies the settings that can change without a restart: legacy
// credentials and identity resolution (admin list and role).
func (g *Gateway) reload(cfg *config.Config) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if reloader, ok := g.creds.(interface{ ReloadFromConfig(*config.Config) error }); ok {
		if err := reloader.ReloadFromConfig(cfg); err != nil {
			return fmt.Errorf("reload legacy credentials: %w", err)
		}
	}
	if g.bridge != nil {
		g.bridge.UpdateConfig(bridgeConfig(cfg))
	}
	g.cfg = cfg

	g.logger.Info("reload complete",
		slog.Int("legacy_credentials", len(cfg.Auth.LegacyCredentials)),
		slog.Int("admin_emails", len(cfg.Auth.AdminEmails)))
	return nil
}

// initDependencies builds the dependencies no option provided.
func (g *Gateway) initDependencies(cfg *config.Config) error {
	if g.store == nil && cfg.Storage.Type == "sqlite" {
		if err := WithSQLite(cfg.Storage.SQLite.Path)(g); err != nil {
			return err
		}
	}
	if g.store != nil && !g.directEvents {
		if err := WithDirectEvents()(g); err != nil {
			return err
		}
	}
	if cfg.Events.NATS.URL != "" {
		if err := WithNATSEvents(cfg.Events.NATS.URL, cfg.Events.NATS.SubjectPrefix)(g); err != nil {
			return err
		}
	}
	if fan := fanout.New(g.publishers...); fan.Len() > 0 {
		g.publisher = fan
	}

	if g.policy == nil {
		if rl := cfg.Generation.RateLimit; rl.RequestsPerMinute > 0 {
			policy, err := ratelimit.NewPolicy(rl.RequestsPerMinute, rl.Burst)
			if err != nil {
				return fmt.Errorf("create rate limit policy: %w", err)
			}
			g.policy = policy
		} else {
			g.logger.Info("no quality policy specified, using basic policy (no rate limiting)")
			g.policy = basic.NewPolicy()
		}
	}

	if g.hosted == nil && cfg.Supabase.URL != "" {
		client, err := supabase.New(supabase.Config{
			ProjectURL: cfg.Supabase.URL,
			AnonKey:    cfg.Supabase.AnonKey,
			Timeout:    cfg.Supabase.Timeout,
		})
		if err != nil {
			return fmt.Errorf("create hosted auth client: %w", err)
		}
		g.hosted = client
	}
	if g.hosted == nil {
		g.logger.Warn("no hosted auth configured, only legacy tokens will resolve")
	}

	if g.creds == nil {
		provider, err := legacy.NewProvider(cfg)
		if err != nil {
			return fmt.Errorf("create legacy credential store: %w", err)
		}
		g.creds = provider
	}

	if g.backend == nil {
		client, err := backend.NewClient(cfg.Backend.URL, backend.WithTimeout(cfg.Backend.Timeout))
		if err != nil {
			return fmt.Errorf("create backend client: %w", err)
		}
		g.backend = client
	}
	return nil
}

func (g *Gateway) initEvents(cfg *config.Config) {
	g.bus = eventbus.New(g.logger, eventbus.WithClock(g.clock))

	opts := []events.Option{events.WithClock(g.clock), events.WithLogger(g.logger)}
	if g.store != nil {
		opts = append(opts, events.WithStore(g.store))
	}
	if g.publisher != nil {
		opts = append(opts, events.WithPublisher(g.publisher))
	}
	g.manager = events.NewManager(g.bus, events.Config{
		HistorySize:        cfg.Events.HistorySize,
		MetricsWindow:      cfg.Events.MetricsWindow,
		ErrorRateThreshold: cfg.Events.ErrorRateThreshold,
	}, opts...)

	// A failed initialization leaves the manager not ready; the gateway
	// still serves and reports degraded health.
	if err := g.manager.Initialize(g.ctx); err != nil {
		g.logger.Error("event manager not ready", slog.String("error", err.Error()))
	}

	g.tracker = generation.NewTracker(g.bus, cfg.Generation.FailureClearDelay,
		generation.WithTrackerClock(g.clock),
		generation.WithTrackerLogger(g.logger),
	)
}

func (g *Gateway) initServer(cfg *config.Config) error {
	g.bridge = auth.NewBridge(g.hosted, g.creds, bridgeConfig(cfg), g.logger)

	generator := generation.NewGenerator(g.bus, g.backend,
		generation.WithPolicy(g.policy),
		generation.WithGeneratorClock(g.clock),
		generation.WithGeneratorLogger(g.logger),
	)

	sessionCfg := session.Config{
		CheckInterval:    cfg.Session.CheckInterval,
		WarningThreshold: cfg.Session.WarningThreshold,
	}
	g.hub = stream.NewHub(g.bus,
		stream.WithLogger(g.logger),
		stream.WithClock(g.clock),
		stream.WithSessions(g.sessionSource, sessionCfg),
	)

	proxy, err := backend.NewProxy(cfg.Backend.URL, nil, proxyAuth, g.logger)
	if err != nil {
		return fmt.Errorf("create backend proxy: %w", err)
	}

	g.server = server.New(cfg.Server.Port, g.logger)
	api.NewServer(api.Config{
		Bridge:           g.bridge,
		Generator:        generator,
		Tracker:          g.tracker,
		Events:           g.manager,
		Stream:           g.hub,
		Proxy:            proxy,
		RequestTimeout:   cfg.Server.RequestTimeout,
		WarningThreshold: cfg.Session.WarningThreshold,
		Clock:            g.clock,
		Logger:           g.logger,
	}).Routes(g.server.Router)

	return nil
}

// initRetention schedules the purge of persisted events older than the
// retention period.
func (g *Gateway) initRetention(cfg *config.Config) error {
	if g.store == nil || cfg.Storage.Retention <= 0 || cfg.Storage.PurgeSchedule == "" {
		return nil
	}

	g.scheduler = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	retention := cfg.Storage.Retention
	if _, err := g.scheduler.AddFunc(cfg.Storage.PurgeSchedule, func() {
		if _, err := g.purge(g.ctx, retention); err != nil {
			g.logger.Error("event purge failed", slog.String("error", err.Error()))
		}
	}); err != nil {
		return fmt.Errorf("invalid purge schedule %q: %w", cfg.Storage.PurgeSchedule, err)
	}
	g.scheduler.Start()

	g.logger.Info("event retention scheduled",
		slog.String("schedule", cfg.Storage.PurgeSchedule),
		slog.Duration("retention", retention))
	return nil
}

func (g *Gateway) purge(ctx context.Context, retention time.Duration) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	n, err := g.store.PurgeBefore(ctx, g.clock.Now().Add(-retention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		g.logger.Info("purged old events", slog.Int64("count", n))
	}
	return n, nil
}

// sessionSource builds the session monitored for a websocket connection.
func (g *Gateway) sessionSource(r *http.Request, user domain.AuthUser) ports.SessionSource {
	if g.hosted == nil || user.Method != domain.AuthMethodSession {
		return nil
	}
	res, ok := auth.ResolutionFromContext(r.Context())
	if !ok {
		return nil
	}
	refresh := ""
	if c, err := r.Cookie(auth.RefreshTokenCookie); err == nil {
		refresh = c.Value
	}
	if res.Rotated != nil {
		refresh = res.Rotated.RefreshToken
	}

	src, err := session.NewTokenSource(g.hosted, user.ID, res.AccessToken, refresh)
	if err != nil {
		g.logger.Warn("session monitor disabled for connection",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()))
		return nil
	}
	return src
}

func proxyAuth(r *http.Request) ports.BackendAuth {
	ba := ports.BackendAuth{RequestID: server.GetRequestID(r.Context())}
	if res, ok := auth.ResolutionFromContext(r.Context()); ok {
		ba.CustomerID = res.User.CustomerID
		if res.User.Method == domain.AuthMethodSession {
			ba.Token = res.AccessToken
		}
	}
	return ba
}

func bridgeConfig(cfg *config.Config) auth.Config {
	return auth.Config{
		AdminEmails:           cfg.Auth.AdminEmails,
		AdminRole:             cfg.Auth.AdminRole,
		CustomerSegmentOffset: cfg.Auth.CustomerSegmentOffset,
		JWTSecret:             cfg.Supabase.JWTSecret,
		SecureCookies:         cfg.Auth.SecureCookies,
	}
}
