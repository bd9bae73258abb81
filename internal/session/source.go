package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tjfontaine/revintel-gateway/internal/core/domain"
	"github.com/tjfontaine/revintel-gateway/internal/core/ports"
)

// TokenExpiry reads the exp claim of an access token without verifying it.
// Verification is the hosted auth service's job.
func TokenExpiry(accessToken string) (time.Time, error) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, &claims); err != nil {
		return time.Time{}, fmt.Errorf("parse access token: %w", err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, errors.New("access token has no expiry")
	}
	return claims.ExpiresAt.Time, nil
}

// TokenSource is a ports.SessionSource for one cookie pair, validated through
// the hosted auth service. It never spends the refresh token itself; the
// browser refreshes over HTTP and the new pair is handed over with Rotate.
type TokenSource struct {
	auth ports.HostedAuth

	mu      sync.Mutex
	session domain.Session
}

var _ ports.SessionSource = (*TokenSource)(nil)

// NewTokenSource builds a source from the session's tokens.
func NewTokenSource(auth ports.HostedAuth, userID, accessToken, refreshToken string) (*TokenSource, error) {
	exp, err := TokenExpiry(accessToken)
	if err != nil {
		return nil, err
	}
	return &TokenSource{
		auth: auth,
		session: domain.Session{
			UserID:       userID,
			AccessToken:  accessToken,
			RefreshToken: refreshToken,
			ExpiresAt:    exp,
		},
	}, nil
}

// Session confirms the access token is still accepted and returns the
// session. A revoked token yields domain.ErrSessionInvalid.
func (s *TokenSource) Session(ctx context.Context) (*domain.Session, error) {
	s.mu.Lock()
	current := s.session
	s.mu.Unlock()

	if _, err := s.auth.GetUser(ctx, current.AccessToken); err != nil {
		if errors.Is(err, domain.ErrSessionInvalid) {
			return nil, domain.ErrSessionInvalid
		}
		return nil, err
	}
	return &current, nil
}

// Rotate swaps in tokens from an HTTP refresh that spent
// previousRefreshToken. Sources holding a different refresh token are left
// alone.
func (s *TokenSource) Rotate(previousRefreshToken string, next domain.Session) (*domain.Session, bool) {
	if previousRefreshToken == "" || next.AccessToken == "" {
		return nil, false
	}
	if next.ExpiresAt.IsZero() {
		if exp, err := TokenExpiry(next.AccessToken); err == nil {
			next.ExpiresAt = exp
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session.RefreshToken != previousRefreshToken {
		return nil, false
	}
	if next.UserID == "" {
		next.UserID = s.session.UserID
	}
	if next.RefreshToken == "" {
		next.RefreshToken = previousRefreshToken
	}
	s.session = next

	out := next
	return &out, true
}
