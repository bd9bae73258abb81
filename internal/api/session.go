package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/tjfontaine/revintel-gateway/internal/auth"
	"github.com/tjfontaine/revintel-gateway/internal/core/domain"
	"github.com/tjfontaine/revintel-gateway/internal/server"
	"github.com/tjfontaine/revintel-gateway/internal/session"
)

// SessionResponse describes the caller's identity and session lifetime.
type SessionResponse struct {
	User      domain.AuthUser        `json:"user"`
	ExpiresAt *time.Time             `json:"expiresAt,omitempty"`
	Warning   *domain.SessionWarning `json:"warning,omitempty"`
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request, user domain.AuthUser) {
	resp := SessionResponse{User: user}

	if res, ok := auth.ResolutionFromContext(r.Context()); ok && user.Method == domain.AuthMethodSession {
		if exp, err := session.TokenExpiry(res.AccessToken); err == nil {
			resp.ExpiresAt = &exp
			if warn, ok := session.WarningFor(exp, s.cfg.Clock.Now(), s.cfg.WarningThreshold); ok {
				resp.Warning = &warn
			}
		}
	}
	server.WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSessionRefresh(w http.ResponseWriter, r *http.Request) {
	var previous string
	if c, err := r.Cookie(auth.RefreshTokenCookie); err == nil {
		previous = c.Value
	}

	next, err := s.cfg.Bridge.Refresh(r.Context(), r)
	if err != nil {
		if apiErr := domain.AsAPIError(err); apiErr.Code == domain.ErrorCodeSessionExpired {
			auth.ClearSessionCookies(w, s.cfg.Bridge.Config().SecureCookies)
		}
		server.WriteError(w, r, err)
		return
	}

	auth.SetSessionCookies(w, next, s.cfg.Bridge.Config().SecureCookies)
	server.AddLogField(r.Context(), "user_id", next.UserID)

	// Open event streams watching the spent token switch to the new pair.
	if s.cfg.Stream != nil {
		if n := s.cfg.Stream.SessionRotated(previous, *next); n > 0 {
			server.AddLogField(r.Context(), "streams_rotated", strconv.Itoa(n))
		}
	}
	server.WriteJSON(w, http.StatusOK, next)
}

func (s *Server) handleSessionLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(auth.AccessTokenCookie); err == nil {
		s.cfg.Bridge.SignOut(r.Context(), c.Value)
	}
	auth.ClearSessionCookies(w, s.cfg.Bridge.Config().SecureCookies)
	w.WriteHeader(http.StatusNoContent)
}
