// Package sqlite persists bus events in SQLite.
package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/tjfontaine/revintel-gateway/internal/core/domain"
	"github.com/tjfontaine/revintel-gateway/internal/core/ports"
)

// Store is a SQLite implementation of ports.EventStore.
type Store struct {
	db *sqlx.DB
}

var _ ports.EventStore = (*Store)(nil)

type eventRow struct {
	ID         string `db:"id"`
	Type       string `db:"type"`
	ResourceID string `db:"resource_id"`
	CustomerID string `db:"customer_id"`
	Payload    string `db:"payload"`
	CreatedAt  int64  `db:"created_at"` // unix nanoseconds
}

// New opens (or creates) the database at dbPath.
func New(dbPath string) (*Store, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// A single connection keeps :memory: databases coherent.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// newWithDB wraps an already-open database without touching the schema.
func newWithDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			resource_id TEXT NOT NULL DEFAULT '',
			customer_id TEXT NOT NULL DEFAULT '',
			payload TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_resource ON events(resource_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_events_created ON events(created_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

// AppendEvent stores a single event. Re-appending an ID is ignored.
func (s *Store) AppendEvent(ctx context.Context, event domain.Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	customerID, _ := event.Payload[domain.PayloadCustomerID].(string)

	query := `INSERT OR IGNORE INTO events (id, type, resource_id, customer_id, payload, created_at)
	          VALUES (?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		event.ID, string(event.Type), event.ResourceID(), customerID, string(payload), event.Timestamp.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	return nil
}

// RecentEvents returns up to limit events, oldest first.
func (s *Store) RecentEvents(ctx context.Context, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		return nil, nil
	}

	query := `SELECT id, type, resource_id, customer_id, payload, created_at
	          FROM events ORDER BY created_at DESC, rowid DESC LIMIT ?`

	var rows []eventRow
	if err := s.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("failed to query recent events: %w", err)
	}

	events := make([]domain.Event, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		e, err := rows[i].toEvent()
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, nil
}

// ResourceEvents returns every stored event for resourceID, oldest first.
func (s *Store) ResourceEvents(ctx context.Context, resourceID string) ([]domain.Event, error) {
	query := `SELECT id, type, resource_id, customer_id, payload, created_at
	          FROM events WHERE resource_id = ?
	          ORDER BY created_at ASC, rowid ASC`

	var rows []eventRow
	if err := s.db.SelectContext(ctx, &rows, query, resourceID); err != nil {
		return nil, fmt.Errorf("failed to query resource events: %w", err)
	}

	events := make([]domain.Event, 0, len(rows))
	for _, r := range rows {
		e, err := r.toEvent()
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, nil
}

// PurgeBefore deletes events older than cutoff.
func (s *Store) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE created_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to purge events: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (r eventRow) toEvent() (domain.Event, error) {
	e := domain.Event{
		ID:        r.ID,
		Type:      domain.EventType(r.Type),
		Timestamp: time.Unix(0, r.CreatedAt).UTC(),
	}
	if err := json.Unmarshal([]byte(r.Payload), &e.Payload); err != nil {
		return domain.Event{}, fmt.Errorf("failed to unmarshal payload for event %s: %w", r.ID, err)
	}
	return e, nil
}
