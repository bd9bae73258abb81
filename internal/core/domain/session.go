package domain

import "time"

// Session describes the lifetime of a hosted-auth session.
type Session struct {
	UserID       string    `json:"userId"`
	Email        string    `json:"email,omitempty"`
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// SessionWarning is transient state shown before a session lapses.
type SessionWarning struct {
	Message         string        `json:"message"`
	TimeUntilExpiry time.Duration `json:"timeUntilExpiry"`
}
