package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/XeroHax/accountability-app/billing"
)

const schema = `
CREATE TABLE IF NOT EXISTS checkout_sessions (
	session_id     TEXT PRIMARY KEY,
	price_id       TEXT NOT NULL,
	user_id        TEXT NOT NULL,
	price_per_day  TEXT NOT NULL,
	monthly_amount BIGINT NOT NULL,
	timezone       TEXT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS checkout_sessions_user_id_idx ON checkout_sessions (user_id);
CREATE TABLE IF NOT EXISTS webhook_events (
	event_id     TEXT PRIMARY KEY,
	event_type   TEXT NOT NULL,
	processed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`

// Ledger implements billing.Ledger on Postgres.
type Ledger struct {
	db *sql.DB
}

var _ billing.Ledger = (*Ledger)(nil)

func NewLedger(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// Migrate creates the ledger tables if they do not exist.
func (l *Ledger) Migrate(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("error migrating ledger: %w", err)
	}
	return nil
}

func (l *Ledger) RecordCheckoutSession(ctx context.Context, rec billing.CheckoutRecord) error {
	query := `
		INSERT INTO checkout_sessions (session_id, price_id, user_id, price_per_day, monthly_amount, timezone, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (session_id) DO NOTHING
	`
	_, err := l.db.ExecContext(ctx, query,
		rec.SessionID, rec.PriceID, rec.UserID, rec.PricePerDay, rec.MonthlyAmount, rec.Timezone, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("error recording checkout session %s: %w", rec.SessionID, err)
	}
	return nil
}

func (l *Ledger) EventSeen(ctx context.Context, eventID string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM webhook_events WHERE event_id = $1)`
	var seen bool
	if err := l.db.QueryRowContext(ctx, query, eventID).Scan(&seen); err != nil {
		return false, fmt.Errorf("error checking webhook event %s: %w", eventID, err)
	}
	return seen, nil
}

func (l *Ledger) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	query := `
		INSERT INTO webhook_events (event_id, event_type)
		VALUES ($1, $2)
		ON CONFLICT (event_id) DO NOTHING
	`
	if _, err := l.db.ExecContext(ctx, query, eventID, eventType); err != nil {
		return fmt.Errorf("error recording webhook event %s: %w", eventID, err)
	}
	return nil
}
