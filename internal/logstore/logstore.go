// Package logstore keeps the durable conversation audit trail in Postgres:
// every accepted inbound event and every terminal delivery receipt.
package logstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/anclora/whatsapp-pipeline/internal/event"
	"github.com/anclora/whatsapp-pipeline/internal/queue"
)

const schema = `
CREATE TABLE IF NOT EXISTS message_log (
	event_id   TEXT NOT NULL,
	contact_id TEXT NOT NULL,
	direction  TEXT NOT NULL,
	kind       TEXT NOT NULL,
	payload    JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (event_id, direction)
)
`

const insertEntry = `
INSERT INTO message_log (event_id, contact_id, direction, kind, payload)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (event_id, direction) DO NOTHING
`

const selectHistory = `
SELECT event_id, direction, kind, payload, created_at
FROM message_log
WHERE contact_id = $1
ORDER BY created_at DESC
LIMIT $2
`

// Store writes the message log through a pgx pool. Re-logging the same event
// id is a no-op, so webhook re-deliveries never duplicate rows.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate creates the log table when it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate message_log: %w", err)
	}
	return nil
}

// LogEvent records one accepted inbound event.
func (s *Store) LogEvent(ctx context.Context, ev event.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", ev.ID, err)
	}
	kind := string(ev.Type)
	if ev.Message != nil {
		kind = string(ev.Message.Kind)
	}
	if _, err := s.pool.Exec(ctx, insertEntry, ev.ID, ev.ContactID, "inbound", kind, payload); err != nil {
		return fmt.Errorf("log event %s: %w", ev.ID, err)
	}
	return nil
}

// LogReceipt records one terminal delivery receipt.
func (s *Store) LogReceipt(ctx context.Context, r queue.Receipt) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode receipt %s: %w", r.JobID, err)
	}
	if _, err := s.pool.Exec(ctx, insertEntry, r.JobID, r.ContactID, "outbound", string(r.Outcome), payload); err != nil {
		return fmt.Errorf("log receipt %s: %w", r.JobID, err)
	}
	return nil
}

// Entry is one row of a contact's history.
type Entry struct {
	EventID   string          `json:"event_id"`
	Direction string          `json:"direction"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// History returns a contact's most recent log entries, newest first.
func (s *Store) History(ctx context.Context, contactID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, selectHistory, contactID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history for %s: %w", contactID, err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.EventID, &e.Direction, &e.Kind, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
