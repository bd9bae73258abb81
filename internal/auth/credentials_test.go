package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tjfontaine/revintel-gateway/internal/core/domain"
)

func TestExtractCredentials(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/customers/acme/deals?token=legacy", nil)
	r.AddCookie(&http.Cookie{Name: AccessTokenCookie, Value: "a"})
	r.AddCookie(&http.Cookie{Name: RefreshTokenCookie, Value: "r"})

	got := ExtractCredentials(r, 2)
	assert.Equal(t, []domain.Credential{
		domain.SessionCredential{AccessToken: "a", RefreshToken: "r"},
		domain.LegacyCredential{Token: "legacy", CustomerID: "acme"},
	}, got)

	assert.Empty(t, ExtractCredentials(httptest.NewRequest(http.MethodGet, "/api/session", nil), 2))
}

func TestCustomerSegment(t *testing.T) {
	tests := []struct {
		path   string
		offset int
		want   string
	}{
		{"/api/customers/acme/deals", 2, "acme"},
		{"/api/customers/acme", 2, "acme"},
		{"/api/customers", 2, ""},
		{"/prefix/api/acme", 1, "acme"},
		{"/customers/acme", 2, ""},
		{"/api/customers/acme", 0, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CustomerSegment(tt.path, tt.offset), tt.path)
	}
}

func TestSessionCookies(t *testing.T) {
	rec := httptest.NewRecorder()
	SetSessionCookies(rec, &domain.Session{AccessToken: "a2", RefreshToken: "r2"}, true)

	cookies := rec.Result().Cookies()
	if assert.Len(t, cookies, 2) {
		assert.Equal(t, AccessTokenCookie, cookies[0].Name)
		assert.Equal(t, "a2", cookies[0].Value)
		assert.True(t, cookies[0].HttpOnly)
		assert.True(t, cookies[0].Secure)
		assert.Equal(t, RefreshTokenCookie, cookies[1].Name)
	}

	rec = httptest.NewRecorder()
	ClearSessionCookies(rec, false)
	for _, c := range rec.Result().Cookies() {
		assert.Empty(t, c.Value)
		assert.Less(t, c.MaxAge, 0)
	}
}
