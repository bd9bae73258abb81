// Package nats publishes bus events to NATS so other instances and services
// can observe generation progress.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/tjfontaine/revintel-gateway/internal/core/domain"
	"github.com/tjfontaine/revintel-gateway/internal/core/ports"
)

// Config configures the NATS connection.
type Config struct {
	// URL is the NATS server URL
	URL string

	// SubjectPrefix is prepended to the event type: <prefix>.<type>
	SubjectPrefix string

	ConnectTimeout time.Duration
}

// Publisher implements ports.EventPublisher over a NATS connection.
type Publisher struct {
	conn   *nats.Conn
	prefix string
}

var _ ports.EventPublisher = (*Publisher)(nil)

// NewPublisher connects to NATS. The connection retries in the background,
// so a server that is down at startup does not fail the gateway.
func NewPublisher(cfg Config, logger *slog.Logger) (*Publisher, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("NATS URL is required")
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "revintel.events"
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name("revintel-gateway"),
		nats.Timeout(cfg.ConnectTimeout),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", slog.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	return &Publisher{
		conn:   conn,
		prefix: cfg.SubjectPrefix,
	}, nil
}

// Publish sends the event as JSON on <prefix>.<type>.
func (p *Publisher) Publish(ctx context.Context, event domain.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := p.conn.Publish(Subject(p.prefix, event.Type), data); err != nil {
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	return nil
}

// Close drains pending messages and closes the connection.
func (p *Publisher) Close() error {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
	return nil
}

// Subject returns the subject an event type is published on.
func Subject(prefix string, t domain.EventType) string {
	return prefix + "." + string(t)
}
