// Package legacy provides the static-token credential store.
package legacy

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/tjfontaine/revintel-gateway/internal/core/domain"
	"github.com/tjfontaine/revintel-gateway/internal/core/ports"
	"github.com/tjfontaine/revintel-gateway/internal/pkg/config"
)

// Provider implements ports.CredentialStore from configured token hashes.
type Provider struct {
	mu      sync.RWMutex
	entries map[string]config.LegacyCredentialConfig // keyHash -> entry
}

// NewProvider creates a credential store from configuration.
func NewProvider(cfg *config.Config) (*Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config required")
	}

	p := &Provider{}
	if err := p.ReloadFromConfig(cfg); err != nil {
		return nil, err
	}
	return p, nil
}

// Lookup resolves a token and the customer it is presented for.
func (p *Provider) Lookup(ctx context.Context, token, customerID string) (*ports.LegacyAccount, error) {
	if token == "" || customerID == "" {
		return nil, domain.ErrCredentialNotFound
	}

	keyHash := HashToken(token)

	p.mu.RLock()
	entry, ok := p.entries[keyHash]
	p.mu.RUnlock()
	if !ok {
		return nil, domain.ErrCredentialNotFound
	}

	if subtle.ConstantTimeCompare([]byte(keyHash), []byte(entry.TokenHash)) != 1 {
		return nil, domain.ErrCredentialNotFound
	}
	if entry.CustomerID != customerID {
		return nil, domain.ErrCredentialNotFound
	}

	return &ports.LegacyAccount{
		CustomerID:  entry.CustomerID,
		Email:       entry.Email,
		IsAdmin:     entry.Admin,
		Description: entry.Description,
	}, nil
}

// Len reports how many credentials are loaded.
func (p *Provider) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}

// ReloadFromConfig replaces the loaded credentials.
// This is called by the gateway when config changes.
func (p *Provider) ReloadFromConfig(cfg *config.Config) error {
	entries := make(map[string]config.LegacyCredentialConfig, len(cfg.Auth.LegacyCredentials))
	for i, c := range cfg.Auth.LegacyCredentials {
		if c.TokenHash == "" || c.CustomerID == "" {
			return fmt.Errorf("legacy credential %d: token_hash and customer_id are required", i)
		}
		if _, dup := entries[c.TokenHash]; dup {
			return fmt.Errorf("legacy credential %d: duplicate token_hash", i)
		}
		entries[c.TokenHash] = c
	}

	p.mu.Lock()
	p.entries = entries
	p.mu.Unlock()

	return nil
}

// HashToken creates a SHA-256 hash of a legacy token for storage.
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

var _ ports.CredentialStore = (*Provider)(nil)
