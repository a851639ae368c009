// Package repository implements all database access for the ticketing
// system. It uses pgx directly (no ORM); the ledger invariants are applied
// inside explicit transactions with row-level locks.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stagepass/stagepass/internal/ledger"
	"github.com/stagepass/stagepass/internal/model"
)

// isRetryableTxError reports whether the transaction lost a serialization
// or deadlock race and can be retried against fresh state.
func isRetryableTxError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	// 40001 serialization_failure, 40P01 deadlock_detected.
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

// wrapTxError maps retryable transaction failures to ledger.ErrConflict so
// callers can retry, and passes everything else through.
func wrapTxError(op string, err error) error {
	if isRetryableTxError(err) {
		return fmt.Errorf("%s: %w", op, ledger.ErrConflict)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// EventRepository handles persistence for events and their ticket tiers.
type EventRepository struct {
	db *pgxpool.Pool
}

// NewEventRepository constructs an EventRepository.
func NewEventRepository(db *pgxpool.Pool) *EventRepository {
	return &EventRepository{db: db}
}

// Create inserts a new event with its tiers and returns it with a
// generated UUID.
func (r *EventRepository) Create(ctx context.Context, req model.CreateEventRequest) (*model.Event, error) {
	event := &model.Event{
		ID:          uuid.New().String(),
		Name:        req.Name,
		Description: req.Description,
		Venue:       req.Venue,
		StartsAt:    req.StartsAt,
		OrganizerID: req.OrganizerID,
		CreatedAt:   time.Now().UTC(),
	}
	for _, t := range req.Tiers {
		event.Tiers = append(event.Tiers, model.TicketTier{
			Name:       t.Name,
			PriceCents: t.PriceCents,
			Quantity:   t.Quantity,
		})
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	_, err = tx.Exec(ctx,
		`INSERT INTO events (id, name, description, venue, starts_at, organizer_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		event.ID, event.Name, event.Description, event.Venue, event.StartsAt, event.OrganizerID, event.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert event: %w", err)
	}

	for i, tier := range event.Tiers {
		_, err = tx.Exec(ctx,
			`INSERT INTO ticket_tiers (event_id, name, price_cents, quantity, sold, position)
			 VALUES ($1, $2, $3, $4, 0, $5)`,
			event.ID, tier.Name, tier.PriceCents, tier.Quantity, i,
		)
		if err != nil {
			return nil, fmt.Errorf("insert tier %q: %w", tier.Name, err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return event, nil
}

// List returns all events with their tiers, newest first.
func (r *EventRepository) List(ctx context.Context) ([]model.Event, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, name, description, venue, starts_at, organizer_id,
		        total_tickets_sold, total_revenue_cents, views, created_at
		 FROM events
		 ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	index := map[string]int{}
	for rows.Next() {
		var e model.Event
		if err := rows.Scan(&e.ID, &e.Name, &e.Description, &e.Venue, &e.StartsAt, &e.OrganizerID,
			&e.Analytics.TotalTicketsSold, &e.Analytics.TotalRevenueCents, &e.Analytics.Views, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		index[e.ID] = len(events)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return events, nil
	}

	tierRows, err := r.db.Query(ctx,
		`SELECT event_id, name, price_cents, quantity, sold
		 FROM ticket_tiers
		 ORDER BY event_id, position`,
	)
	if err != nil {
		return nil, fmt.Errorf("list tiers: %w", err)
	}
	defer tierRows.Close()

	for tierRows.Next() {
		var eventID string
		var t model.TicketTier
		if err := tierRows.Scan(&eventID, &t.Name, &t.PriceCents, &t.Quantity, &t.Sold); err != nil {
			return nil, fmt.Errorf("scan tier: %w", err)
		}
		if i, ok := index[eventID]; ok {
			events[i].Tiers = append(events[i].Tiers, t)
		}
	}
	return events, tierRows.Err()
}

// GetByID returns a single event with its tiers, or ledger.ErrNotFound.
func (r *EventRepository) GetByID(ctx context.Context, id string) (*model.Event, error) {
	var e model.Event
	err := r.db.QueryRow(ctx,
		`SELECT id, name, description, venue, starts_at, organizer_id,
		        total_tickets_sold, total_revenue_cents, views, created_at
		 FROM events WHERE id = $1`,
		id,
	).Scan(&e.ID, &e.Name, &e.Description, &e.Venue, &e.StartsAt, &e.OrganizerID,
		&e.Analytics.TotalTicketsSold, &e.Analytics.TotalRevenueCents, &e.Analytics.Views, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ledger.ErrNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}

	rows, err := r.db.Query(ctx,
		`SELECT name, price_cents, quantity, sold
		 FROM ticket_tiers WHERE event_id = $1 ORDER BY position`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("get tiers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t model.TicketTier
		if err := rows.Scan(&t.Name, &t.PriceCents, &t.Quantity, &t.Sold); err != nil {
			return nil, fmt.Errorf("scan tier: %w", err)
		}
		e.Tiers = append(e.Tiers, t)
	}
	return &e, rows.Err()
}

// IncrementViews bumps the denormalized views counter. A single-row update,
// no read-modify-write involved.
func (r *EventRepository) IncrementViews(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `UPDATE events SET views = views + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("increment views: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

// ListAttendees returns the user ids and registration ids currently
// counted as attending (committed, not released).
func (r *EventRepository) ListAttendees(ctx context.Context, eventID string) ([]model.Attendee, error) {
	rows, err := r.db.Query(ctx,
		`SELECT registration_id, user_id FROM event_attendees WHERE event_id = $1`,
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("list attendees: %w", err)
	}
	defer rows.Close()

	var attendees []model.Attendee
	for rows.Next() {
		var a model.Attendee
		if err := rows.Scan(&a.RegistrationID, &a.UserID); err != nil {
			return nil, fmt.Errorf("scan attendee: %w", err)
		}
		attendees = append(attendees, a)
	}
	return attendees, rows.Err()
}
