// Package supabase is a client for the hosted auth service (GoTrue API).
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/revintel-gateway/internal/core/domain"
	"github.com/tjfontaine/revintel-gateway/internal/core/ports"
)

// Config configures the client.
type Config struct {
	ProjectURL string
	AnonKey    string
	Timeout    time.Duration
	// HTTPClient overrides the default instrumented client (tests use a VCR transport).
	HTTPClient *http.Client
}

// Client implements ports.HostedAuth against /auth/v1.
type Client struct {
	authURL    string
	anonKey    string
	httpClient *http.Client
}

// User is the GoTrue user record.
type User struct {
	ID           string         `json:"id"`
	Aud          string         `json:"aud"`
	Role         string         `json:"role"`
	Email        string         `json:"email"`
	AppMetadata  map[string]any `json:"app_metadata,omitempty"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
}

// Session is the GoTrue token response.
type Session struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
	RefreshToken string `json:"refresh_token"`
	User         *User  `json:"user,omitempty"`
}

// Error is a non-2xx response from the auth service.
type Error struct {
	Code       string
	Message    string
	StatusCode int
}

func (e *Error) Error() string {
	return fmt.Sprintf("supabase auth %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// Is reports rejected credentials as domain.ErrSessionInvalid.
func (e *Error) Is(target error) bool {
	if target != domain.ErrSessionInvalid {
		return false
	}
	switch e.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return true
	case http.StatusBadRequest:
		// Refresh with a revoked or reused token answers 400 invalid_grant.
		return e.Code == "invalid_grant" || strings.Contains(strings.ToLower(e.Message), "refresh token")
	}
	return false
}

// New creates a client for the project at cfg.ProjectURL.
func New(cfg Config) (*Client, error) {
	if cfg.ProjectURL == "" {
		return nil, fmt.Errorf("project URL is required")
	}
	if cfg.AnonKey == "" {
		return nil, fmt.Errorf("anon key is required")
	}

	baseURL := strings.TrimRight(cfg.ProjectURL, "/")
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid project URL: %w", err)
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	return &Client{
		authURL:    baseURL + "/auth/v1",
		anonKey:    cfg.AnonKey,
		httpClient: httpClient,
	}, nil
}

// User retrieves the user owning accessToken.
func (c *Client) User(ctx context.Context, accessToken string) (*User, error) {
	respBody, statusCode, err := c.request(ctx, http.MethodGet, c.authURL+"/user", nil, accessToken)
	if err != nil {
		return nil, err
	}

	if statusCode >= 400 {
		return nil, parseError(respBody, statusCode)
	}

	var user User
	if err := json.Unmarshal(respBody, &user); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	return &user, nil
}

// RefreshToken exchanges a refresh token for a new session.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*Session, error) {
	body, err := json.Marshal(map[string]string{
		"refresh_token": refreshToken,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	respBody, statusCode, err := c.request(ctx, http.MethodPost, c.authURL+"/token?grant_type=refresh_token", body, "")
	if err != nil {
		return nil, err
	}

	if statusCode >= 400 {
		return nil, parseError(respBody, statusCode)
	}

	var session Session
	if err := json.Unmarshal(respBody, &session); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	return &session, nil
}

// GetUser implements ports.HostedAuth.
func (c *Client) GetUser(ctx context.Context, accessToken string) (*ports.HostedUser, error) {
	user, err := c.User(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	return toHostedUser(user), nil
}

// Refresh implements ports.HostedAuth.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*domain.Session, error) {
	s, err := c.RefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, err
	}

	out := &domain.Session{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
	}
	switch {
	case s.ExpiresAt > 0:
		out.ExpiresAt = time.Unix(s.ExpiresAt, 0)
	case s.ExpiresIn > 0:
		out.ExpiresAt = time.Now().Add(time.Duration(s.ExpiresIn) * time.Second)
	}
	if s.User != nil {
		out.UserID = s.User.ID
		out.Email = s.User.Email
	}
	return out, nil
}

// SignOut revokes the session owning accessToken.
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	respBody, statusCode, err := c.request(ctx, http.MethodPost, c.authURL+"/logout", nil, accessToken)
	if err != nil {
		return err
	}

	if statusCode >= 400 {
		return parseError(respBody, statusCode)
	}

	return nil
}

// request performs an HTTP request with the anon key and, when set, the user's token.
func (c *Client) request(ctx context.Context, method, urlPath string, body []byte, accessToken string) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, urlPath, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}

	return respBody, resp.StatusCode, nil
}

func parseError(body []byte, statusCode int) error {
	var errResp struct {
		Code             any    `json:"code"`
		ErrorCode        string `json:"error_code"`
		Message          string `json:"message"`
		Msg              string `json:"msg"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}

	if err := json.Unmarshal(body, &errResp); err != nil {
		return &Error{
			Code:       "unknown",
			Message:    string(body),
			StatusCode: statusCode,
		}
	}

	msg := firstNonEmpty(errResp.Message, errResp.Msg, errResp.ErrorDescription, errResp.Error)
	if msg == "" {
		msg = http.StatusText(statusCode)
	}

	code := firstNonEmpty(errResp.ErrorCode, errResp.Error)
	if s, ok := errResp.Code.(string); ok && code == "" {
		code = s
	}

	return &Error{
		Code:       code,
		Message:    msg,
		StatusCode: statusCode,
	}
}

func toHostedUser(u *User) *ports.HostedUser {
	role := ""
	if u.AppMetadata != nil {
		role, _ = u.AppMetadata["role"].(string)
	}
	return &ports.HostedUser{
		ID:    u.ID,
		Email: u.Email,
		Role:  role,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

var _ ports.HostedAuth = (*Client)(nil)
