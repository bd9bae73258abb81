// Package sqlite adapts the SQLite event log to ports.EventStore and records
// per-operation latency.
package sqlite

import (
	"context"
	"time"

	"github.com/tjfontaine/revintel-gateway/internal/core/domain"
	"github.com/tjfontaine/revintel-gateway/internal/core/ports"
	"github.com/tjfontaine/revintel-gateway/internal/pkg/metrics"
	"github.com/tjfontaine/revintel-gateway/internal/storage/sqlite"
)

// Provider implements ports.EventStore using SQLite.
type Provider struct {
	store *sqlite.Store
}

// NewProvider opens (and migrates) the database at path. ":memory:" is
// accepted for tests.
func NewProvider(path string) (*Provider, error) {
	store, err := sqlite.New(path)
	if err != nil {
		return nil, err
	}
	return &Provider{store: store}, nil
}

func (p *Provider) AppendEvent(ctx context.Context, event domain.Event) error {
	start := time.Now()
	err := p.store.AppendEvent(ctx, event)
	metrics.RecordStoreOp("append", err, time.Since(start))
	return err
}

func (p *Provider) RecentEvents(ctx context.Context, limit int) ([]domain.Event, error) {
	start := time.Now()
	events, err := p.store.RecentEvents(ctx, limit)
	metrics.RecordStoreOp("recent", err, time.Since(start))
	return events, err
}

func (p *Provider) ResourceEvents(ctx context.Context, resourceID string) ([]domain.Event, error) {
	start := time.Now()
	events, err := p.store.ResourceEvents(ctx, resourceID)
	metrics.RecordStoreOp("resource", err, time.Since(start))
	return events, err
}

func (p *Provider) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	start := time.Now()
	n, err := p.store.PurgeBefore(ctx, cutoff)
	metrics.RecordStoreOp("purge", err, time.Since(start))
	return n, err
}

func (p *Provider) Close() error {
	return p.store.Close()
}

var _ ports.EventStore = (*Provider)(nil)
