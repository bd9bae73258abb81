// Package auth resolves request credentials to a normalized identity.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tjfontaine/revintel-gateway/internal/core/domain"
	"github.com/tjfontaine/revintel-gateway/internal/core/ports"
	"github.com/tjfontaine/revintel-gateway/internal/pkg/metrics"
)

// Config controls identity resolution. It can be swapped at runtime with
// Bridge.UpdateConfig.
type Config struct {
	AdminEmails           []string
	AdminRole             string
	CustomerSegmentOffset int
	// JWTSecret enables local HS256 verification of access tokens.
	JWTSecret     string
	SecureCookies bool
}

// Resolution is the outcome of a successful resolve.
type Resolution struct {
	User        domain.AuthUser
	AccessToken string
	// Rotated is set when the access token was refreshed during resolution
	// and the cookies must be re-set on the response.
	Rotated *domain.Session
}

// Bridge resolves requests to domain.AuthUser from either credential scheme.
type Bridge struct {
	hosted ports.HostedAuth
	creds  ports.CredentialStore
	logger *slog.Logger

	mu     sync.RWMutex
	cfg    Config
	admins map[string]struct{}
}

// NewBridge creates a bridge. hosted may be nil when only legacy tokens are
// accepted; creds may be nil when only sessions are accepted.
func NewBridge(hosted ports.HostedAuth, creds ports.CredentialStore, cfg Config, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bridge{hosted: hosted, creds: creds, logger: logger}
	b.UpdateConfig(cfg)
	return b
}

// UpdateConfig replaces the resolution settings.
func (b *Bridge) UpdateConfig(cfg Config) {
	admins := make(map[string]struct{}, len(cfg.AdminEmails))
	for _, e := range cfg.AdminEmails {
		if e = normalizeEmail(e); e != "" {
			admins[e] = struct{}{}
		}
	}

	b.mu.Lock()
	b.cfg = cfg
	b.admins = admins
	b.mu.Unlock()
}

// Config returns the current settings.
func (b *Bridge) Config() Config {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cfg
}

// Resolve extracts credentials from r and resolves the first that succeeds.
// The returned error is always a *domain.APIError.
func (b *Bridge) Resolve(ctx context.Context, r *http.Request) (res *Resolution, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			b.logger.ErrorContext(ctx, "panic during identity resolution", slog.Any("panic", rec))
			metrics.RecordAuth("unknown", "error")
			res, err = nil, domain.ErrServer("authentication failed")
		}
	}()

	cfg := b.Config()
	creds := ExtractCredentials(r, cfg.CustomerSegmentOffset)
	if len(creds) == 0 {
		metrics.RecordAuth("none", "missing")
		return nil, domain.ErrAuthenticationRequired("authentication required").
			WithCode(domain.ErrorCodeMissingCredentials)
	}

	var upstreamErr error
	for _, c := range creds {
		switch c := c.(type) {
		case domain.SessionCredential:
			res, err := b.resolveSession(ctx, c)
			if err == nil {
				metrics.RecordAuth(string(domain.AuthMethodSession), "ok")
				return res, nil
			}
			if !errors.Is(err, domain.ErrSessionInvalid) {
				upstreamErr = err
			}
			metrics.RecordAuth(string(domain.AuthMethodSession), "rejected")
		case domain.LegacyCredential:
			res, err := b.resolveLegacy(ctx, c)
			if err == nil {
				metrics.RecordAuth(string(domain.AuthMethodLegacy), "ok")
				return res, nil
			}
			if !errors.Is(err, domain.ErrCredentialNotFound) {
				b.logger.ErrorContext(ctx, "credential store lookup failed", slog.String("error", err.Error()))
				metrics.RecordAuth(string(domain.AuthMethodLegacy), "error")
				return nil, domain.ErrServer("authentication failed").WithCause(err)
			}
			metrics.RecordAuth(string(domain.AuthMethodLegacy), "rejected")
		}
	}

	if upstreamErr != nil {
		b.logger.WarnContext(ctx, "hosted auth unavailable", slog.String("error", upstreamErr.Error()))
		return nil, domain.ErrUpstream("authentication service unavailable").WithCause(upstreamErr)
	}
	return nil, domain.ErrAuthenticationRequired("invalid or expired credentials").
		WithCode(domain.ErrorCodeInvalidCredentials)
}

// resolveSession returns domain.ErrSessionInvalid when the hosted service
// rejects both tokens; any other error means the service could not answer.
func (b *Bridge) resolveSession(ctx context.Context, c domain.SessionCredential) (*Resolution, error) {
	if c.AccessToken != "" {
		user, err := b.verifyAccessToken(ctx, c.AccessToken)
		if err == nil {
			return &Resolution{User: user, AccessToken: c.AccessToken}, nil
		}
		if !errors.Is(err, domain.ErrSessionInvalid) {
			return nil, err
		}
	}

	if c.RefreshToken == "" || b.hosted == nil {
		return nil, domain.ErrSessionInvalid
	}

	session, err := b.hosted.Refresh(ctx, c.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("refresh session: %w", err)
	}
	user, err := b.verifyAccessToken(ctx, session.AccessToken)
	if err != nil {
		return nil, err
	}
	b.logger.DebugContext(ctx, "session refreshed during resolution", slog.String("user_id", user.ID))
	return &Resolution{User: user, AccessToken: session.AccessToken, Rotated: session}, nil
}

func (b *Bridge) verifyAccessToken(ctx context.Context, token string) (domain.AuthUser, error) {
	cfg := b.Config()
	if cfg.JWTSecret != "" {
		return b.verifyLocal(token, cfg)
	}
	if b.hosted == nil {
		return domain.AuthUser{}, domain.ErrSessionInvalid
	}

	hu, err := b.hosted.GetUser(ctx, token)
	if err != nil {
		return domain.AuthUser{}, err
	}
	return b.sessionUser(hu.ID, hu.Email, hu.Role, cfg), nil
}

// sessionClaims are the claims the hosted service puts in access tokens.
type sessionClaims struct {
	Email       string `json:"email"`
	AppMetadata struct {
		Role string `json:"role"`
	} `json:"app_metadata"`
	jwt.RegisteredClaims
}

func (b *Bridge) verifyLocal(token string, cfg Config) (domain.AuthUser, error) {
	var claims sessionClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return []byte(cfg.JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return domain.AuthUser{}, fmt.Errorf("%w: %v", domain.ErrSessionInvalid, err)
	}
	if claims.Subject == "" {
		return domain.AuthUser{}, fmt.Errorf("%w: token has no subject", domain.ErrSessionInvalid)
	}
	return b.sessionUser(claims.Subject, claims.Email, claims.AppMetadata.Role, cfg), nil
}

func (b *Bridge) sessionUser(id, email, role string, cfg Config) domain.AuthUser {
	return domain.AuthUser{
		ID:         id,
		Email:      email,
		CustomerID: id,
		IsAdmin:    b.isAdmin(email, role, cfg),
		Method:     domain.AuthMethodSession,
	}
}

func (b *Bridge) isAdmin(email, role string, cfg Config) bool {
	if role != "" && cfg.AdminRole != "" && role == cfg.AdminRole {
		return true
	}
	b.mu.RLock()
	_, ok := b.admins[normalizeEmail(email)]
	b.mu.RUnlock()
	return ok
}

func (b *Bridge) resolveLegacy(ctx context.Context, c domain.LegacyCredential) (*Resolution, error) {
	if b.creds == nil {
		return nil, domain.ErrCredentialNotFound
	}
	account, err := b.creds.Lookup(ctx, c.Token, c.CustomerID)
	if err != nil {
		return nil, err
	}
	return &Resolution{
		User: domain.AuthUser{
			ID:         account.CustomerID,
			Email:      account.Email,
			CustomerID: account.CustomerID,
			IsAdmin:    account.IsAdmin,
			Method:     domain.AuthMethodLegacy,
		},
		AccessToken: c.Token,
	}, nil
}

// Refresh exchanges the request's refresh cookie for a new session.
func (b *Bridge) Refresh(ctx context.Context, r *http.Request) (*domain.Session, error) {
	refresh := cookieValue(r, RefreshTokenCookie)
	if refresh == "" {
		return nil, domain.ErrAuthenticationRequired("refresh token required").
			WithCode(domain.ErrorCodeMissingCredentials)
	}
	if b.hosted == nil {
		return nil, domain.ErrUpstream("session refresh is not configured")
	}

	session, err := b.hosted.Refresh(ctx, refresh)
	switch {
	case errors.Is(err, domain.ErrSessionInvalid):
		return nil, domain.ErrAuthenticationRequired("session expired").
			WithCode(domain.ErrorCodeSessionExpired).WithCause(err)
	case err != nil:
		return nil, domain.ErrUpstream("authentication service unavailable").WithCause(err)
	}
	return session, nil
}

// SignOut revokes the access token at the hosted service. Failures are logged.
func (b *Bridge) SignOut(ctx context.Context, accessToken string) {
	if b.hosted == nil || accessToken == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := b.hosted.SignOut(ctx, accessToken); err != nil {
		b.logger.WarnContext(ctx, "sign out failed", slog.String("error", err.Error()))
	}
}

// VerifyCustomerAccess reports whether user may act on customerID.
func VerifyCustomerAccess(user domain.AuthUser, customerID string) bool {
	if user.IsAdmin {
		return true
	}
	return customerID != "" && user.CustomerID == customerID
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
