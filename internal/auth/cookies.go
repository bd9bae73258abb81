package auth

import (
	"net/http"
	"time"

	"github.com/tjfontaine/revintel-gateway/internal/core/domain"
)

// refreshCookieTTL matches the hosted service's default refresh token lifetime.
const refreshCookieTTL = 30 * 24 * time.Hour

// SetSessionCookies writes the rotated cookie pair.
func SetSessionCookies(w http.ResponseWriter, s *domain.Session, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     AccessTokenCookie,
		Value:    s.AccessToken,
		Path:     "/",
		Expires:  s.ExpiresAt,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
	if s.RefreshToken != "" {
		http.SetCookie(w, &http.Cookie{
			Name:     RefreshTokenCookie,
			Value:    s.RefreshToken,
			Path:     "/",
			MaxAge:   int(refreshCookieTTL.Seconds()),
			HttpOnly: true,
			Secure:   secure,
			SameSite: http.SameSiteLaxMode,
		})
	}
}

// ClearSessionCookies expires both session cookies.
func ClearSessionCookies(w http.ResponseWriter, secure bool) {
	for _, name := range []string{AccessTokenCookie, RefreshTokenCookie} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   secure,
			SameSite: http.SameSiteLaxMode,
		})
	}
}
