// Package direct persists bus events synchronously into the event store.
package direct

import (
	"context"
	"fmt"

	"github.com/tjfontaine/revintel-gateway/internal/core/domain"
	"github.com/tjfontaine/revintel-gateway/internal/core/ports"
)

// Publisher appends every event to a ports.EventStore. Used for
// single-instance deployments; the store outlives the publisher.
type Publisher struct {
	store ports.EventStore
}

func NewPublisher(store ports.EventStore) (*Publisher, error) {
	if store == nil {
		return nil, fmt.Errorf("event store required")
	}
	return &Publisher{store: store}, nil
}

func (p *Publisher) Publish(ctx context.Context, event domain.Event) error {
	if err := p.store.AppendEvent(ctx, event); err != nil {
		return fmt.Errorf("persist %s event %s: %w", event.Type, event.ID, err)
	}
	return nil
}

// Close leaves the store open.
func (p *Publisher) Close() error {
	return nil
}

var _ ports.EventPublisher = (*Publisher)(nil)
