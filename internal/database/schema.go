package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema is the idempotent DDL for the ticketing tables, one statement per
// entry because the extended query protocol executes a single command at a
// time. The CHECK on ticket_tiers is a backstop: the ledger enforces
// 0 <= sold <= quantity before any write, and the database refuses
// anything that slips past it.
var schema = []string{`
CREATE TABLE IF NOT EXISTS events (
	id                  UUID PRIMARY KEY,
	name                TEXT NOT NULL,
	description         TEXT NOT NULL DEFAULT '',
	venue               TEXT NOT NULL DEFAULT '',
	starts_at           TIMESTAMPTZ,
	organizer_id        TEXT NOT NULL DEFAULT '',
	total_tickets_sold  INT NOT NULL DEFAULT 0,
	total_revenue_cents BIGINT NOT NULL DEFAULT 0,
	views               BIGINT NOT NULL DEFAULT 0,
	created_at          TIMESTAMPTZ NOT NULL
);
`, `
CREATE TABLE IF NOT EXISTS ticket_tiers (
	event_id    UUID NOT NULL REFERENCES events(id) ON DELETE CASCADE,
	name        TEXT NOT NULL,
	price_cents BIGINT NOT NULL CHECK (price_cents >= 0),
	quantity    INT NOT NULL CHECK (quantity > 0),
	sold        INT NOT NULL DEFAULT 0 CHECK (sold >= 0 AND sold <= quantity),
	position    INT NOT NULL,
	PRIMARY KEY (event_id, name)
);
`, `
CREATE TABLE IF NOT EXISTS registrations (
	id                 UUID PRIMARY KEY,
	event_id           UUID NOT NULL REFERENCES events(id),
	user_id            TEXT NOT NULL,
	total_amount_cents BIGINT NOT NULL,
	payment_status     TEXT NOT NULL,
	status             TEXT NOT NULL,
	payment_intent_id  TEXT NOT NULL DEFAULT '',
	transaction_id     TEXT NOT NULL DEFAULT '',
	created_at         TIMESTAMPTZ NOT NULL,
	confirmed_at       TIMESTAMPTZ,
	cancelled_at       TIMESTAMPTZ
);
`, `
CREATE INDEX IF NOT EXISTS registrations_event_id_idx ON registrations (event_id);
`, `
CREATE TABLE IF NOT EXISTS registration_lines (
	registration_id  UUID NOT NULL REFERENCES registrations(id) ON DELETE CASCADE,
	position         INT NOT NULL,
	ticket_type      TEXT NOT NULL,
	unit_price_cents BIGINT NOT NULL,
	quantity         INT NOT NULL CHECK (quantity > 0),
	PRIMARY KEY (registration_id, position)
);
`, `
CREATE TABLE IF NOT EXISTS event_attendees (
	event_id        UUID NOT NULL REFERENCES events(id),
	registration_id UUID NOT NULL REFERENCES registrations(id),
	user_id         TEXT NOT NULL,
	PRIMARY KEY (event_id, registration_id)
);
`}

// Migrate applies the schema statements in order. Safe to run on every
// startup.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
