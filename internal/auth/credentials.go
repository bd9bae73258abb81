package auth

import (
	"net/http"
	"strings"

	"github.com/tjfontaine/revintel-gateway/internal/core/domain"
)

// Cookie and query parameter names of the two credential schemes.
const (
	AccessTokenCookie  = "sb-access-token"
	RefreshTokenCookie = "sb-refresh-token"
	TokenQueryParam    = "token"
)

// ExtractCredentials reads every credential present on r, session first.
// offset is the number of path segments after "api" holding the customer ID.
func ExtractCredentials(r *http.Request, offset int) []domain.Credential {
	var creds []domain.Credential

	access := cookieValue(r, AccessTokenCookie)
	refresh := cookieValue(r, RefreshTokenCookie)
	if access != "" || refresh != "" {
		creds = append(creds, domain.SessionCredential{AccessToken: access, RefreshToken: refresh})
	}

	if token := r.URL.Query().Get(TokenQueryParam); token != "" {
		creds = append(creds, domain.LegacyCredential{
			Token:      token,
			CustomerID: CustomerSegment(r.URL.Path, offset),
		})
	}

	return creds
}

// CustomerSegment returns the path segment offset positions after "api",
// e.g. offset 2 on /api/customers/acme/accounts yields "acme".
func CustomerSegment(path string, offset int) string {
	if offset <= 0 {
		return ""
	}
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for i, seg := range segments {
		if seg != "api" {
			continue
		}
		if idx := i + offset; idx < len(segments) {
			return segments[idx]
		}
		return ""
	}
	return ""
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
