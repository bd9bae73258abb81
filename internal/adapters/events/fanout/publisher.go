// Package fanout combines several event publishers into one.
package fanout

import (
	"context"
	"errors"

	"github.com/tjfontaine/revintel-gateway/internal/core/domain"
	"github.com/tjfontaine/revintel-gateway/internal/core/ports"
)

// Publisher forwards each event to every wrapped publisher.
type Publisher struct {
	publishers []ports.EventPublisher
}

var _ ports.EventPublisher = (*Publisher)(nil)

// New returns a publisher over the non-nil publishers given.
func New(publishers ...ports.EventPublisher) *Publisher {
	p := &Publisher{}
	for _, pub := range publishers {
		if pub != nil {
			p.publishers = append(p.publishers, pub)
		}
	}
	return p
}

// Publish delivers to all publishers, joining their errors.
func (p *Publisher) Publish(ctx context.Context, event domain.Event) error {
	var errs []error
	for _, pub := range p.publishers {
		if err := pub.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes all publishers, joining their errors.
func (p *Publisher) Close() error {
	var errs []error
	for _, pub := range p.publishers {
		if err := pub.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len reports how many publishers are wrapped.
func (p *Publisher) Len() int {
	return len(p.publishers)
}
