package ports

import (
	"context"
	"time"

	"github.com/tjfontaine/revintel-gateway/internal/core/domain"
)

// EventStore persists bus events.
// Implementations: SQLite (default).
type EventStore interface {
	// AppendEvent stores a single event.
	AppendEvent(ctx context.Context, event domain.Event) error

	// RecentEvents returns up to limit events, oldest first.
	RecentEvents(ctx context.Context, limit int) ([]domain.Event, error)

	// ResourceEvents returns all stored events for a resource, oldest first.
	ResourceEvents(ctx context.Context, resourceID string) ([]domain.Event, error)

	// PurgeBefore deletes events older than the cutoff and reports how many were removed.
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)

	Close() error
}
