package server

import (
	"net/http"

	"github.com/tjfontaine/revintel-gateway/internal/auth"
	"github.com/tjfontaine/revintel-gateway/internal/core/domain"
)

// AuthedHandler is a handler that receives the caller's resolved identity.
type AuthedHandler func(w http.ResponseWriter, r *http.Request, user domain.AuthUser)

// WithAuth resolves the caller before invoking h. Unresolved requests get the
// error JSON and h never runs. Rotated sessions have their cookies re-set.
func WithAuth(bridge *auth.Bridge, h AuthedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if res, ok := auth.ResolutionFromContext(r.Context()); ok {
			h(w, r, res.User)
			return
		}

		res, err := bridge.Resolve(r.Context(), r)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		if res.Rotated != nil {
			auth.SetSessionCookies(w, res.Rotated, bridge.Config().SecureCookies)
		}

		AddLogField(r.Context(), "user_id", res.User.ID)
		AddLogField(r.Context(), "auth_method", string(res.User.Method))

		h(w, r.WithContext(auth.WithResolution(r.Context(), res)), res.User)
	}
}

// AuthMiddleware is WithAuth for routers that compose plain handlers.
// Downstream handlers read the identity with auth.UserFromContext.
func AuthMiddleware(bridge *auth.Bridge) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return WithAuth(bridge, func(w http.ResponseWriter, r *http.Request, _ domain.AuthUser) {
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin rejects non-admin callers with 403. It must run after AuthMiddleware.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.UserFromContext(r.Context())
		if !ok {
			WriteError(w, r, domain.ErrAuthenticationRequired("authentication required"))
			return
		}
		if !user.IsAdmin {
			WriteError(w, r, domain.NewAPIError(domain.ErrorTypePermission, "admin access required").
				WithCode(domain.ErrorCodeAdminRequired))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireCustomerAccess rejects callers outside the customer named by the
// param route parameter. It must run after AuthMiddleware.
func RequireCustomerAccess(param string, customerID func(*http.Request, string) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := auth.UserFromContext(r.Context())
			if !ok {
				WriteError(w, r, domain.ErrAuthenticationRequired("authentication required"))
				return
			}
			if !auth.VerifyCustomerAccess(user, customerID(r, param)) {
				WriteError(w, r, domain.ErrAuthorizationDenied("access to this customer is not allowed"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
