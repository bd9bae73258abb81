package backend

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tjfontaine/revintel-gateway/internal/core/ports"
)

func TestProxy_ReplacesCredentials(t *testing.T) {
	var got *http.Request
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(r.Context())
		io.WriteString(w, `{"ok":true}`)
	}))
	defer upstream.Close()

	proxy, err := NewProxy(upstream.URL, nil, func(r *http.Request) ports.BackendAuth {
		return ports.BackendAuth{Token: "session-token", CustomerID: "cust-1", RequestID: "req-9"}
	}, nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/customers/cust-1/accounts?token=legacy&limit=5", nil)
	req.Header.Set("Cookie", "sb-access-token=secret")
	req.Header.Set("Authorization", "Bearer inbound")
	rec := httptest.NewRecorder()

	proxy.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, got)
	assert.Equal(t, "/api/customers/cust-1/accounts", got.URL.Path)
	assert.Equal(t, "limit=5", got.URL.RawQuery)
	assert.Empty(t, got.Header.Get("Cookie"))
	assert.Equal(t, "Bearer session-token", got.Header.Get("Authorization"))
	assert.Equal(t, "cust-1", got.Header.Get("X-Customer-ID"))
	assert.Equal(t, "req-9", got.Header.Get("X-Request-ID"))
}

func TestProxy_UpstreamDown(t *testing.T) {
	proxy, err := NewProxy("http://127.0.0.1:1", nil, func(*http.Request) ports.BackendAuth {
		return ports.BackendAuth{}
	}, nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	proxy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/customers/c/x", nil))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.JSONEq(t, `{"error":{"type":"upstream","message":"backend unavailable"}}`, rec.Body.String())
}
