package backend

import (
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/tjfontaine/revintel-gateway/internal/core/ports"
)

// AuthFunc returns the backend credentials for an inbound request.
type AuthFunc func(r *http.Request) ports.BackendAuth

// NewProxy forwards requests to the backend unchanged except for auth
// headers: inbound cookies and Authorization are replaced with the
// credentials auth returns.
func NewProxy(baseURL string, transport http.RoundTripper, auth AuthFunc, logger *slog.Logger) (*httputil.ReverseProxy, error) {
	target, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	if transport == nil {
		transport = http.DefaultTransport
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &httputil.ReverseProxy{
		Transport: transport,
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			pr.Out.Host = target.Host
			pr.Out.Header.Del("Cookie")
			pr.Out.Header.Del("Authorization")

			// The legacy token travels as a query parameter; never forward it.
			q := pr.Out.URL.Query()
			if q.Has("token") {
				q.Del("token")
				pr.Out.URL.RawQuery = q.Encode()
			}

			SetAuthHeaders(pr.Out.Header, auth(pr.In))
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Error("backend proxy failed",
				slog.String("path", r.URL.Path),
				slog.String("error", err.Error()),
			)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte(`{"error":{"type":"upstream","message":"backend unavailable"}}`))
		},
	}, nil
}
