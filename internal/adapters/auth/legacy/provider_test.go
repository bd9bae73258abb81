package legacy

import (
	"context"
	"errors"
	"testing"

	"github.com/tjfontaine/revintel-gateway/internal/core/domain"
	"github.com/tjfontaine/revintel-gateway/internal/pkg/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Auth: config.AuthConfig{
			LegacyCredentials: []config.LegacyCredentialConfig{
				{TokenHash: HashToken("admin-token"), CustomerID: "cust-admin", Email: "ops@example.com", Admin: true},
				{TokenHash: HashToken("demo-token"), CustomerID: "cust-demo"},
			},
		},
	}
}

func TestLookup(t *testing.T) {
	p, err := NewProvider(testConfig())
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}

	tests := []struct {
		name       string
		token      string
		customerID string
		wantAdmin  bool
		wantErr    bool
	}{
		{name: "admin pair", token: "admin-token", customerID: "cust-admin", wantAdmin: true},
		{name: "non-admin pair", token: "demo-token", customerID: "cust-demo"},
		{name: "token for another customer", token: "demo-token", customerID: "cust-admin", wantErr: true},
		{name: "unknown token", token: "nope", customerID: "cust-demo", wantErr: true},
		{name: "empty token", token: "", customerID: "cust-demo", wantErr: true},
		{name: "empty customer", token: "demo-token", customerID: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acct, err := p.Lookup(context.Background(), tt.token, tt.customerID)
			if tt.wantErr {
				if !errors.Is(err, domain.ErrCredentialNotFound) {
					t.Fatalf("Lookup() error = %v, want ErrCredentialNotFound", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Lookup() error = %v", err)
			}
			if acct.CustomerID != tt.customerID {
				t.Errorf("CustomerID = %q, want %q", acct.CustomerID, tt.customerID)
			}
			if acct.IsAdmin != tt.wantAdmin {
				t.Errorf("IsAdmin = %v, want %v", acct.IsAdmin, tt.wantAdmin)
			}
		})
	}
}

func TestReloadFromConfig(t *testing.T) {
	p, err := NewProvider(testConfig())
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	if p.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", p.Len())
	}

	err = p.ReloadFromConfig(&config.Config{})
	if err != nil {
		t.Fatalf("ReloadFromConfig() error = %v", err)
	}
	if p.Len() != 0 {
		t.Errorf("Len() after reload = %d, want 0", p.Len())
	}
	if _, err := p.Lookup(context.Background(), "admin-token", "cust-admin"); err == nil {
		t.Error("expected revoked credential to stop resolving")
	}
}

func TestReloadFromConfig_Invalid(t *testing.T) {
	p, _ := NewProvider(testConfig())

	bad := &config.Config{Auth: config.AuthConfig{LegacyCredentials: []config.LegacyCredentialConfig{{TokenHash: "x"}}}}
	if err := p.ReloadFromConfig(bad); err == nil {
		t.Fatal("expected error for missing customer_id")
	}
	if p.Len() != 2 {
		t.Errorf("failed reload must keep previous credentials, Len() = %d", p.Len())
	}

	dup := &config.Config{Auth: config.AuthConfig{LegacyCredentials: []config.LegacyCredentialConfig{
		{TokenHash: "x", CustomerID: "a"},
		{TokenHash: "x", CustomerID: "b"},
	}}}
	if err := p.ReloadFromConfig(dup); err == nil {
		t.Fatal("expected error for duplicate token hash")
	}
}

func TestNewProvider_NilConfig(t *testing.T) {
	if _, err := NewProvider(nil); err == nil {
		t.Fatal("expected error for nil config")
	}
}

func TestHashToken(t *testing.T) {
	// sha256("abc")
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := HashToken("abc"); got != want {
		t.Errorf("HashToken() = %s, want %s", got, want)
	}
}
