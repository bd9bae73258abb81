package runtime

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jonboulle/clockwork"

	"github.com/tjfontaine/revintel-gateway/internal/adapters/config/file"
	"github.com/tjfontaine/revintel-gateway/internal/adapters/events/direct"
	"github.com/tjfontaine/revintel-gateway/internal/adapters/events/nats"
	"github.com/tjfontaine/revintel-gateway/internal/adapters/policy/basic"
	"github.com/tjfontaine/revintel-gateway/internal/adapters/policy/ratelimit"
	"github.com/tjfontaine/revintel-gateway/internal/adapters/storage/sqlite"
	"github.com/tjfontaine/revintel-gateway/internal/core/ports"
)

// Option is a functional option for configuring a Gateway.
type Option func(*Gateway) error

// WithFileConfig uses file-based configuration with hot-reload (default).
// The path should point to a config.yaml file that will be watched for changes.
func WithFileConfig(path string) Option {
	return func(g *Gateway) error {
		provider, err := file.NewProvider(path, g.logger)
		if err != nil {
			return fmt.Errorf("create file config provider: %w", err)
		}
		g.config = provider
		return nil
	}
}

// WithSQLite persists bus events to SQLite.
func WithSQLite(path string) Option {
	return func(g *Gateway) error {
		if dir := filepath.Dir(path); dir != "." && path != ":memory:" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create storage directory: %w", err)
			}
		}
		store, err := sqlite.NewProvider(path)
		if err != nil {
			return fmt.Errorf("create sqlite storage: %w", err)
		}
		g.store = store
		return nil
	}
}

// WithDirectEvents writes events synchronously to the event store.
func WithDirectEvents() Option {
	return func(g *Gateway) error {
		if g.store == nil {
			return fmt.Errorf("event store must be set before event publisher")
		}
		publisher, err := direct.NewPublisher(g.store)
		if err != nil {
			return fmt.Errorf("create direct event publisher: %w", err)
		}
		g.publishers = append(g.publishers, publisher)
		g.directEvents = true
		return nil
	}
}

// WithNATSEvents also publishes every event to NATS under subjectPrefix.
func WithNATSEvents(url, subjectPrefix string) Option {
	return func(g *Gateway) error {
		publisher, err := nats.NewPublisher(nats.Config{URL: url, SubjectPrefix: subjectPrefix}, g.logger)
		if err != nil {
			return fmt.Errorf("create NATS event publisher: %w", err)
		}
		g.publishers = append(g.publishers, publisher)
		return nil
	}
}

// WithBasicPolicy uses the basic quality policy (no rate limiting).
func WithBasicPolicy() Option {
	return func(g *Gateway) error {
		g.policy = basic.NewPolicy()
		return nil
	}
}

// WithRateLimitPolicy limits generation per customer.
func WithRateLimitPolicy(requestsPerMinute, burst int) Option {
	return func(g *Gateway) error {
		policy, err := ratelimit.NewPolicy(requestsPerMinute, burst)
		if err != nil {
			return fmt.Errorf("create rate limit policy: %w", err)
		}
		g.policy = policy
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) error {
		g.logger = logger
		return nil
	}
}

// WithClock sets the clock used by timers (tests use a fake clock).
func WithClock(clock clockwork.Clock) Option {
	return func(g *Gateway) error {
		g.clock = clock
		return nil
	}
}

// WithConfigProvider sets a custom config provider.
// For advanced use cases where you need full control over config loading.
func WithConfigProvider(provider ports.ConfigProvider) Option {
	return func(g *Gateway) error {
		g.config = provider
		return nil
	}
}

// WithHostedAuth sets the hosted auth service instead of building one from config.
func WithHostedAuth(hosted ports.HostedAuth) Option {
	return func(g *Gateway) error {
		g.hosted = hosted
		return nil
	}
}

// WithCredentialStore sets the legacy token store instead of building one from config.
func WithCredentialStore(store ports.CredentialStore) Option {
	return func(g *Gateway) error {
		g.creds = store
		return nil
	}
}

// WithEventStore sets a custom event store.
func WithEventStore(store ports.EventStore) Option {
	return func(g *Gateway) error {
		g.store = store
		return nil
	}
}

// WithEventPublisher adds a custom event publisher.
func WithEventPublisher(publisher ports.EventPublisher) Option {
	return func(g *Gateway) error {
		g.publishers = append(g.publishers, publisher)
		return nil
	}
}

// WithQualityPolicy sets a custom quality policy.
func WithQualityPolicy(policy ports.QualityPolicy) Option {
	return func(g *Gateway) error {
		g.policy = policy
		return nil
	}
}

// WithGenerationBackend sets the generation backend instead of the HTTP client.
func WithGenerationBackend(backend ports.GenerationBackend) Option {
	return func(g *Gateway) error {
		g.backend = backend
		return nil
	}
}
