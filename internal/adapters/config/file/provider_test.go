package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tjfontaine/revintel-gateway/internal/pkg/config"
)

func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func TestNewProvider_EmptyPath(t *testing.T) {
	_, err := NewProvider("", nil)
	require.Error(t, err)
}

func TestProvider_Load(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "server:\n  port: 9191\n")

	p, err := NewProvider(path, nil)
	require.NoError(t, err)
	defer p.Close()

	assert.Nil(t, p.Current())

	cfg, err := p.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Same(t, cfg, p.Current())
}

func TestProvider_WatchReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "auth:\n  admin_emails: [a@example.com]\n")

	p, err := NewProvider(path, nil)
	require.NoError(t, err)
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err = p.Load(ctx)
	require.NoError(t, err)

	changed := make(chan *config.Config, 4)
	require.NoError(t, p.Watch(ctx, func(cfg *config.Config) {
		select {
		case changed <- cfg:
		default:
		}
	}))

	writeConfig(t, path, "auth:\n  admin_emails: [b@example.com]\n")

	// A write may be observed while the file is still truncated, so wait for
	// the reload that carries the new content.
	deadline := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-changed:
			if len(cfg.Auth.AdminEmails) == 1 && cfg.Auth.AdminEmails[0] == "b@example.com" {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for config reload")
		}
	}
}

func TestProvider_WatchSeesAtomicRename(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfig(t, path, "server:\n  port: 8080\n")

	p, err := NewProvider(path, nil)
	require.NoError(t, err)
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, err = p.Load(ctx)
	require.NoError(t, err)

	changed := make(chan *config.Config, 4)
	require.NoError(t, p.Watch(ctx, func(cfg *config.Config) { changed <- cfg }))

	tmp := filepath.Join(dir, ".config.yaml.tmp")
	writeConfig(t, tmp, "server:\n  port: 9090\n")
	require.NoError(t, os.Rename(tmp, path))

	select {
	case cfg := <-changed:
		assert.Equal(t, 9090, cfg.Server.Port)
		assert.Same(t, cfg, p.Current())
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}

func TestProvider_InvalidReloadKeepsPrevious(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfig(t, path, "server:\n  port: 8080\n")

	p, err := NewProvider(path, nil)
	require.NoError(t, err)
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loaded, err := p.Load(ctx)
	require.NoError(t, err)

	changed := make(chan *config.Config, 4)
	require.NoError(t, p.Watch(ctx, func(cfg *config.Config) { changed <- cfg }))

	writeConfig(t, path, "server: [unterminated\n")

	select {
	case cfg := <-changed:
		t.Fatalf("unexpected reload: %+v", cfg)
	case <-time.After(500 * time.Millisecond):
	}
	assert.Same(t, loaded, p.Current())
}
