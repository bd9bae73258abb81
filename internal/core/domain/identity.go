package domain

// AuthMethod records which credential scheme produced an identity.
type AuthMethod string

const (
	AuthMethodSession AuthMethod = "session"
	AuthMethodLegacy  AuthMethod = "legacy_token"
)

// AuthUser is the normalized identity of the caller. It is built fresh for
// every request and never persisted.
type AuthUser struct {
	ID         string     `json:"id"`
	Email      string     `json:"email"`
	CustomerID string     `json:"customerId"`
	IsAdmin    bool       `json:"isAdmin"`
	Method     AuthMethod `json:"method"`
}

// Credential is one of SessionCredential or LegacyCredential.
type Credential interface {
	credential()
}

// SessionCredential carries the hosted-auth cookie pair.
type SessionCredential struct {
	AccessToken  string
	RefreshToken string
}

// LegacyCredential carries a static token and the customer it claims.
type LegacyCredential struct {
	Token      string
	CustomerID string
}

func (SessionCredential) credential() {}
func (LegacyCredential) credential()  {}
