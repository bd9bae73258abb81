// Package api wires the gateway's HTTP routes.
package api

import (
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"

	"github.com/tjfontaine/revintel-gateway/internal/auth"
	"github.com/tjfontaine/revintel-gateway/internal/events"
	"github.com/tjfontaine/revintel-gateway/internal/generation"
	"github.com/tjfontaine/revintel-gateway/internal/pkg/metrics"
	"github.com/tjfontaine/revintel-gateway/internal/server"
	"github.com/tjfontaine/revintel-gateway/internal/stream"
)

// Config holds the API's collaborators. Stream and Proxy are optional.
type Config struct {
	Bridge    *auth.Bridge
	Generator *generation.Generator
	Tracker   *generation.Tracker
	Events    *events.Manager
	Stream    *stream.Hub
	Proxy     http.Handler

	RequestTimeout   time.Duration
	WarningThreshold time.Duration
	Clock            clockwork.Clock
	Logger           *slog.Logger
}

type Server struct {
	cfg       Config
	startTime time.Time
}

func NewServer(cfg Config) *Server {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if cfg.WarningThreshold <= 0 {
		cfg.WarningThreshold = 5 * time.Minute
	}
	return &Server{cfg: cfg, startTime: cfg.Clock.Now()}
}

// Routes registers every endpoint on r.
func (s *Server) Routes(r chi.Router) {
	b := s.cfg.Bridge

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", metrics.Handler())

	// Generation and the event stream outlive the request timeout; the
	// backend client and the websocket pumps bound them instead.
	r.Post("/api/resources/generate", server.WithAuth(b, s.handleGenerate))
	if s.cfg.Stream != nil {
		r.Get("/api/events/stream", server.WithAuth(b, s.cfg.Stream.Serve))
	}

	r.Group(func(r chi.Router) {
		r.Use(server.TimeoutMiddleware(s.cfg.RequestTimeout))

		r.Get("/api/resources/{resourceId}", server.WithAuth(b, s.handleResource))
		r.Get("/api/events/resources/{resourceId}/timeline", server.WithAuth(b, s.handleTimeline))

		r.Group(func(r chi.Router) {
			r.Use(server.AuthMiddleware(b), server.RequireAdmin)
			r.Get("/api/events/health", s.handleEventHealth)
			r.Get("/api/events/status", s.handleEventStatus)
			r.Get("/api/events/recent", s.handleRecentEvents)
			r.Get("/api/stats", s.handleStats)
		})

		r.Get("/api/session", server.WithAuth(b, s.handleSession))
		r.Post("/api/session/refresh", s.handleSessionRefresh)
		r.Post("/api/session/logout", s.handleSessionLogout)
	})

	if s.cfg.Proxy != nil {
		r.Route("/api/customers/{customerId}", func(r chi.Router) {
			r.Use(server.AuthMiddleware(b))
			r.Use(server.RequireCustomerAccess("customerId", chi.URLParam))
			r.Handle("/", s.cfg.Proxy)
			r.Handle("/*", s.cfg.Proxy)
		})
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	status := "ok"
	if s.cfg.Events != nil && !s.cfg.Events.Ready() {
		status = "degraded"
	}
	server.WriteJSON(w, http.StatusOK, map[string]string{"status": status})
}

type StatsResponse struct {
	Uptime       string      `json:"uptime"`
	GoVersion    string      `json:"goVersion"`
	NumGoroutine int         `json:"numGoroutine"`
	Memory       MemoryStats `json:"memory"`
	Streams      int         `json:"streams"`
	Generating   int         `json:"generating"`
	Generated    int         `json:"generated"`
}

type MemoryStats struct {
	Alloc      uint64 `json:"alloc"`
	TotalAlloc uint64 `json:"totalAlloc"`
	Sys        uint64 `json:"sys"`
	NumGC      uint32 `json:"numGc"`
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	stats := StatsResponse{
		Uptime:       s.cfg.Clock.Since(s.startTime).Round(time.Second).String(),
		GoVersion:    runtime.Version(),
		NumGoroutine: runtime.NumGoroutine(),
		Memory: MemoryStats{
			Alloc:      m.Alloc,
			TotalAlloc: m.TotalAlloc,
			Sys:        m.Sys,
			NumGC:      m.NumGC,
		},
	}
	if s.cfg.Stream != nil {
		stats.Streams = s.cfg.Stream.Len()
	}
	if s.cfg.Tracker != nil {
		stats.Generating = len(s.cfg.Tracker.States())
		stats.Generated = len(s.cfg.Tracker.Resources())
	}

	server.WriteJSON(w, http.StatusOK, stats)
}
