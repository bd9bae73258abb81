// Package backend talks to the Express backend that performs resource
// generation and owns customer data.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/revintel-gateway/internal/core/domain"
	"github.com/tjfontaine/revintel-gateway/internal/core/ports"
)

const defaultTimeout = 5 * time.Minute

// maxErrorBody caps how much of an error response is read.
const maxErrorBody = 64 << 10

// ClientOption configures the client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeout sets the timeout of the default HTTP client.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// Client calls the backend's resource API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

var _ ports.GenerationBackend = (*Client)(nil)

// Error is a non-2xx answer from the backend.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Message)
}

// NewClient creates a client for the backend at baseURL.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("backend URL is required")
	}
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Generate asks the backend to generate a resource. Cancelling ctx aborts the call.
func (c *Client) Generate(ctx context.Context, req domain.GenerateRequest, auth ports.BackendAuth) (*domain.GeneratedResource, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/resources/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	SetAuthHeaders(httpReq.Header, auth)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &Error{StatusCode: resp.StatusCode, Message: errorMessage(data, resp.StatusCode)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return parseResource(data, req.ResourceID)
}

// SetAuthHeaders attaches the caller's credentials for the backend.
func SetAuthHeaders(h http.Header, auth ports.BackendAuth) {
	if auth.Token != "" {
		h.Set("Authorization", "Bearer "+auth.Token)
	}
	if auth.CustomerID != "" {
		h.Set("X-Customer-ID", auth.CustomerID)
	}
	if auth.RequestID != "" {
		h.Set("X-Request-ID", auth.RequestID)
	}
}

// parseResource accepts either {"data": {...}} or a flat resource object.
func parseResource(data []byte, resourceID string) (*domain.GeneratedResource, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("backend returned invalid JSON")
	}

	root := gjson.ParseBytes(data)
	if root.Get("success").Exists() && !root.Get("success").Bool() {
		return nil, &Error{StatusCode: http.StatusBadGateway, Message: errorMessage(data, http.StatusBadGateway)}
	}
	if d := root.Get("data"); d.IsObject() {
		root = d
	}

	res := &domain.GeneratedResource{
		ID:               firstString(root.Get("id").String(), resourceID),
		CustomerID:       root.Get("customerId").String(),
		Quality:          root.Get("quality").Float(),
		GenerationMethod: firstString(root.Get("generationMethod").String(), "backend"),
		Cost:             root.Get("cost").Float(),
		Duration:         time.Duration(root.Get("duration").Int()) * time.Millisecond,
		Confidence:       root.Get("confidence").Float(),
	}

	if content := root.Get("content"); content.Exists() {
		if err := json.Unmarshal([]byte(content.Raw), &res.Content); err != nil {
			return nil, fmt.Errorf("failed to decode content: %w", err)
		}
	}

	for _, s := range root.Get("sources").Array() {
		res.Sources = append(res.Sources, s.String())
	}

	if ts := root.Get("generatedAt").String(); ts != "" {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			res.GeneratedAt = t
		}
	}

	return res, nil
}

// errorMessage extracts {error:{message}}, {error:"..."} or {message}.
func errorMessage(data []byte, status int) string {
	if gjson.ValidBytes(data) {
		root := gjson.ParseBytes(data)
		for _, path := range []string{"error.message", "message"} {
			if v := root.Get(path); v.Type == gjson.String && v.String() != "" {
				return v.String()
			}
		}
		if v := root.Get("error"); v.Type == gjson.String && v.String() != "" {
			return v.String()
		}
	}
	if s := strings.TrimSpace(string(data)); s != "" && len(s) <= 200 {
		return s
	}
	return http.StatusText(status)
}

func firstString(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
