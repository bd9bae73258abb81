package ports

import (
	"context"
	"time"

	"github.com/tjfontaine/revintel-gateway/internal/core/domain"
	"github.com/tjfontaine/revintel-gateway/internal/pkg/config"
)

// ConfigProvider loads and manages configuration.
// Implementations: file-based (default).
type ConfigProvider interface {
	Load(ctx context.Context) (*config.Config, error)
	Watch(ctx context.Context, onChange func(*config.Config)) error
	Close() error
}

// HostedAuth is the hosted authentication service that owns sessions.
// Implementations: Supabase GoTrue.
type HostedAuth interface {
	GetUser(ctx context.Context, accessToken string) (*HostedUser, error)
	Refresh(ctx context.Context, refreshToken string) (*domain.Session, error)
	SignOut(ctx context.Context, accessToken string) error
}

// HostedUser is the subset of the hosted auth user record the gateway needs.
type HostedUser struct {
	ID    string
	Email string
	Role  string
}

// CredentialStore resolves legacy static tokens.
// Lookup returns domain.ErrCredentialNotFound when the pair does not match.
type CredentialStore interface {
	Lookup(ctx context.Context, token, customerID string) (*LegacyAccount, error)
}

// LegacyAccount is the account a legacy token maps to.
type LegacyAccount struct {
	CustomerID  string
	Email       string
	IsAdmin     bool
	Description string
}

// SessionSource reports the current session of one connection.
// Session returns domain.ErrSessionInvalid when the session was revoked.
type SessionSource interface {
	Session(ctx context.Context) (*domain.Session, error)
	// Rotate adopts tokens refreshed elsewhere when the source still holds
	// previousRefreshToken, and returns the adopted session.
	Rotate(previousRefreshToken string, next domain.Session) (*domain.Session, bool)
}

// EventPublisher forwards bus events outside the process.
// Implementations: direct storage (default), NATS.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.Event) error
	Close() error
}

// GenerationBackend performs resource generation.
// Implementations: the Express backend HTTP client.
type GenerationBackend interface {
	Generate(ctx context.Context, req domain.GenerateRequest, auth BackendAuth) (*domain.GeneratedResource, error)
}

// BackendAuth carries the caller's credentials to the backend.
type BackendAuth struct {
	Token      string
	CustomerID string
	RequestID  string
}

// QualityPolicy enforces rate limits on expensive operations.
// Implementations: basic (no limits), per-customer rate limiter.
type QualityPolicy interface {
	CheckRequest(ctx context.Context, req *PolicyRequest) (*PolicyDecision, error)
}

// PolicyRequest contains request context for policy checks.
type PolicyRequest struct {
	CustomerID   string
	UserID       string
	ResourceType string
}

// PolicyDecision is the result of a policy check.
type PolicyDecision struct {
	Allow      bool
	Reason     string
	RetryAfter time.Duration
}
