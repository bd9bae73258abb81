package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/revintel-gateway/internal/core/domain"
	"github.com/tjfontaine/revintel-gateway/internal/server"
)

const defaultRecentLimit = 50

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request, user domain.AuthUser) {
	customerID, err := resourceScope(r, user)
	if err != nil {
		server.WriteError(w, r, err)
		return
	}
	timeline := s.cfg.Events.Timeline(r.Context(), customerID, chi.URLParam(r, "resourceId"))
	server.WriteJSON(w, http.StatusOK, timeline)
}

func (s *Server) handleEventHealth(w http.ResponseWriter, _ *http.Request) {
	server.WriteJSON(w, http.StatusOK, s.cfg.Events.HealthMetrics())
}

func (s *Server) handleEventStatus(w http.ResponseWriter, _ *http.Request) {
	server.WriteJSON(w, http.StatusOK, s.cfg.Events.Status())
}

func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecentLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			server.WriteError(w, r, domain.ErrInvalidRequest("limit must be a positive integer"))
			return
		}
		limit = n
	}
	server.WriteJSON(w, http.StatusOK, map[string]any{"events": s.cfg.Events.Recent(limit)})
}
