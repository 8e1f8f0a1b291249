package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Elliptic-DAO/elp-protocol/internal/event"
)

// PostgresStore persists the append-only event log. Append is synchronous:
// the caller only mutates in-memory state after the row is durably written,
// so replay can never see a mutation the log does not.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Append writes one event. Sequence numbers are assigned by the database
// and strictly increasing; they are not reused after a failed append.
func (s *PostgresStore) Append(ctx context.Context, e event.Event) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("append: %w", err)
	}
	payload, err := e.Encode()
	if err != nil {
		return fmt.Errorf("append: encode: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO event_log.events (event_type, payload, recorded_at) VALUES ($1, $2, $3)`,
		string(e.Type), payload, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("append: %w", err)
	}
	return nil
}

// LoadAll reads the full log in sequence order for replay at startup.
func (s *PostgresStore) LoadAll(ctx context.Context) ([]event.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM event_log.events ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e, err := event.Decode(payload)
		if err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Iterate reads a page of the log in sequence order, skipping the first
// skip events and returning at most limit.
func (s *PostgresStore) Iterate(ctx context.Context, skip, limit uint64) ([]event.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM event_log.events ORDER BY seq ASC OFFSET $1 LIMIT $2`,
		skip, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e, err := event.Decode(payload)
		if err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Count returns the number of events in the log.
func (s *PostgresStore) Count(ctx context.Context) (uint64, error) {
	var n uint64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM event_log.events`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}
