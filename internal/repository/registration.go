package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stagepass/stagepass/internal/ledger"
	"github.com/stagepass/stagepass/internal/model"
)

// RegistrationRepository handles persistence for registrations and the
// two-record ledger operations (commit, release) that must update the
// Event and the Registration together.
type RegistrationRepository struct {
	db *pgxpool.Pool
}

// NewRegistrationRepository constructs a RegistrationRepository.
func NewRegistrationRepository(db *pgxpool.Pool) *RegistrationRepository {
	return &RegistrationRepository{db: db}
}

// CreatePending inserts a registration in pending payment state. No
// inventory moves here: reserve-and-price is validation only, a pending
// registration that is never paid leaves the ledger untouched.
func (r *RegistrationRepository) CreatePending(ctx context.Context, reg *model.Registration) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	_, err = tx.Exec(ctx,
		`INSERT INTO registrations
		   (id, event_id, user_id, total_amount_cents, payment_status, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		reg.ID, reg.EventID, reg.UserID, reg.TotalAmountCents, reg.PaymentStatus, reg.Status, reg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert registration: %w", err)
	}

	for i, line := range reg.Lines {
		_, err = tx.Exec(ctx,
			`INSERT INTO registration_lines
			   (registration_id, position, ticket_type, unit_price_cents, quantity)
			 VALUES ($1, $2, $3, $4, $5)`,
			reg.ID, i, line.TicketType, line.UnitPriceCents, line.Quantity,
		)
		if err != nil {
			return fmt.Errorf("insert registration line %d: %w", i, err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// GetByID returns a single registration with its lines, or
// ledger.ErrNotFound.
func (r *RegistrationRepository) GetByID(ctx context.Context, id string) (*model.Registration, error) {
	reg, err := scanRegistration(ctx, r.db, id, false)
	if err != nil {
		return nil, err
	}
	if err := loadLines(ctx, r.db, reg); err != nil {
		return nil, err
	}
	return reg, nil
}

// ListByEvent returns all registrations for an event, oldest first.
func (r *RegistrationRepository) ListByEvent(ctx context.Context, eventID string) ([]model.Registration, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, event_id, user_id, total_amount_cents, payment_status, status,
		        payment_intent_id, transaction_id, created_at, confirmed_at, cancelled_at
		 FROM registrations
		 WHERE event_id = $1
		 ORDER BY created_at ASC`,
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	defer rows.Close()

	var regs []model.Registration
	index := map[string]int{}
	for rows.Next() {
		var reg model.Registration
		if err := rows.Scan(&reg.ID, &reg.EventID, &reg.UserID, &reg.TotalAmountCents,
			&reg.PaymentStatus, &reg.Status, &reg.PaymentIntentID, &reg.TransactionID,
			&reg.CreatedAt, &reg.ConfirmedAt, &reg.CancelledAt); err != nil {
			return nil, fmt.Errorf("scan registration: %w", err)
		}
		index[reg.ID] = len(regs)
		regs = append(regs, reg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(regs) == 0 {
		return regs, nil
	}

	lineRows, err := r.db.Query(ctx,
		`SELECT l.registration_id, l.ticket_type, l.unit_price_cents, l.quantity
		 FROM registration_lines l
		 JOIN registrations g ON g.id = l.registration_id
		 WHERE g.event_id = $1
		 ORDER BY l.registration_id, l.position`,
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("list registration lines: %w", err)
	}
	defer lineRows.Close()

	for lineRows.Next() {
		var regID string
		var line model.RegistrationLine
		if err := lineRows.Scan(&regID, &line.TicketType, &line.UnitPriceCents, &line.Quantity); err != nil {
			return nil, fmt.Errorf("scan registration line: %w", err)
		}
		if i, ok := index[regID]; ok {
			regs[i].Lines = append(regs[i].Lines, line)
		}
	}
	return regs, lineRows.Err()
}

// Commit applies payment confirmation as one atomic unit: tier sold
// counts, event analytics, the attendee set and the registration's payment
// status all change inside a single transaction, or none of them do.
//
// Lock order is always event row, then tier rows (by name), then
// registration row. Concurrent commits against the same event serialize on
// the event row lock, so two registrations racing for the last ticket are
// decided one after the other: the loser re-checks availability against
// the winner's committed counts and fails with ErrInsufficientInventory
// instead of overselling.
func (r *RegistrationRepository) Commit(ctx context.Context, regID, paymentIntentID, transactionID string) (*model.Registration, error) {
	var committed *model.Registration
	err := r.inTx(ctx, "commit registration", func(tx pgx.Tx) error {
		eventID, err := registrationEventID(ctx, tx, regID)
		if err != nil {
			return err
		}
		event, err := lockEvent(ctx, tx, eventID)
		if err != nil {
			return err
		}
		reg, err := scanRegistration(ctx, tx, regID, true)
		if err != nil {
			return err
		}
		if err := loadLines(ctx, tx, reg); err != nil {
			return err
		}

		if err := ledger.ApplyCommit(event, reg, paymentIntentID, transactionID, time.Now().UTC()); err != nil {
			return err
		}

		if err := writeTierCounts(ctx, tx, event, reg.Lines); err != nil {
			return err
		}
		if err := writeAnalytics(ctx, tx, event); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO event_attendees (event_id, registration_id, user_id) VALUES ($1, $2, $3)`,
			event.ID, reg.ID, reg.UserID,
		); err != nil {
			return fmt.Errorf("insert attendee: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE registrations
			 SET payment_status = $1, payment_intent_id = $2, transaction_id = $3, confirmed_at = $4
			 WHERE id = $5`,
			reg.PaymentStatus, reg.PaymentIntentID, reg.TransactionID, reg.ConfirmedAt, reg.ID,
		); err != nil {
			return fmt.Errorf("update registration: %w", err)
		}
		committed = reg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return committed, nil
}

// Release cancels a registration. When its payment had completed the
// inventory commit is reversed in the same transaction; otherwise only the
// registration's status changes.
func (r *RegistrationRepository) Release(ctx context.Context, regID string) (*model.Registration, bool, error) {
	var (
		released *model.Registration
		reversed bool
	)
	err := r.inTx(ctx, "release registration", func(tx pgx.Tx) error {
		eventID, err := registrationEventID(ctx, tx, regID)
		if err != nil {
			return err
		}
		event, err := lockEvent(ctx, tx, eventID)
		if err != nil {
			return err
		}
		reg, err := scanRegistration(ctx, tx, regID, true)
		if err != nil {
			return err
		}
		if err := loadLines(ctx, tx, reg); err != nil {
			return err
		}

		reversed, err = ledger.ApplyRelease(event, reg, time.Now().UTC())
		if err != nil {
			return err
		}

		if reversed {
			if err := writeTierCounts(ctx, tx, event, reg.Lines); err != nil {
				return err
			}
			if err := writeAnalytics(ctx, tx, event); err != nil {
				return err
			}
			if _, err := tx.Exec(ctx,
				`DELETE FROM event_attendees WHERE event_id = $1 AND registration_id = $2`,
				event.ID, reg.ID,
			); err != nil {
				return fmt.Errorf("delete attendee: %w", err)
			}
		}
		if _, err := tx.Exec(ctx,
			`UPDATE registrations SET status = $1, cancelled_at = $2 WHERE id = $3`,
			reg.Status, reg.CancelledAt, reg.ID,
		); err != nil {
			return fmt.Errorf("update registration: %w", err)
		}
		released = reg
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return released, reversed, nil
}

// inTx runs fn inside a transaction, rolling back on error and mapping
// serialization failures to ledger.ErrConflict.
func (r *RegistrationRepository) inTx(ctx context.Context, op string, fn func(tx pgx.Tx) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		if errors.Is(err, ledger.ErrNotFound) ||
			errors.Is(err, ledger.ErrUnknownTicketType) ||
			errors.Is(err, ledger.ErrInsufficientInventory) ||
			errors.Is(err, ledger.ErrAlreadyCompleted) ||
			errors.Is(err, ledger.ErrAlreadyCancelled) {
			return err
		}
		return wrapTxError(op, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapTxError(op, err)
	}
	return nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// registrationEventID resolves the event a registration belongs to before
// any lock is taken, so locks are always acquired in event-first order.
func registrationEventID(ctx context.Context, q querier, regID string) (string, error) {
	var eventID string
	err := q.QueryRow(ctx, `SELECT event_id FROM registrations WHERE id = $1`, regID).Scan(&eventID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ledger.ErrNotFound
		}
		return "", fmt.Errorf("resolve registration event: %w", err)
	}
	return eventID, nil
}

// lockEvent reads the event's analytics row and tier rows under FOR UPDATE
// so concurrent commits and releases against the same event serialize.
func lockEvent(ctx context.Context, q querier, eventID string) (*model.Event, error) {
	var e model.Event
	err := q.QueryRow(ctx,
		`SELECT id, total_tickets_sold, total_revenue_cents
		 FROM events WHERE id = $1
		 FOR UPDATE`,
		eventID,
	).Scan(&e.ID, &e.Analytics.TotalTicketsSold, &e.Analytics.TotalRevenueCents)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ledger.ErrNotFound
		}
		return nil, fmt.Errorf("lock event row: %w", err)
	}

	rows, err := q.Query(ctx,
		`SELECT name, price_cents, quantity, sold
		 FROM ticket_tiers WHERE event_id = $1
		 ORDER BY name
		 FOR UPDATE`,
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("lock tier rows: %w", err)
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

func scanRegistration(ctx context.Context, q querier, regID string, forUpdate bool) (*model.Registration, error) {
	query := `SELECT id, event_id, user_id, total_amount_cents, payment_status, status,
	                 payment_intent_id, transaction_id, created_at, confirmed_at, cancelled_at
	          FROM registrations WHERE id = $1`
	if forUpdate {
		query += " FOR UPDATE"
	}
	var reg model.Registration
	err := q.QueryRow(ctx, query, regID).Scan(&reg.ID, &reg.EventID, &reg.UserID,
		&reg.TotalAmountCents, &reg.PaymentStatus, &reg.Status,
		&reg.PaymentIntentID, &reg.TransactionID,
		&reg.CreatedAt, &reg.ConfirmedAt, &reg.CancelledAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ledger.ErrNotFound
		}
		return nil, fmt.Errorf("get registration: %w", err)
	}
	return &reg, nil
}

func loadLines(ctx context.Context, q querier, reg *model.Registration) error {
	rows, err := q.Query(ctx,
		`SELECT ticket_type, unit_price_cents, quantity
		 FROM registration_lines WHERE registration_id = $1 ORDER BY position`,
		reg.ID,
	)
	if err != nil {
		return fmt.Errorf("get registration lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var line model.RegistrationLine
		if err := rows.Scan(&line.TicketType, &line.UnitPriceCents, &line.Quantity); err != nil {
			return fmt.Errorf("scan registration line: %w", err)
		}
		reg.Lines = append(reg.Lines, line)
	}
	return rows.Err()
}

// writeTierCounts persists the sold counters the ledger computed on the
// locked tier rows.
func writeTierCounts(ctx context.Context, tx pgx.Tx, event *model.Event, lines []model.RegistrationLine) error {
	for _, line := range lines {
		tier := event.Tier(line.TicketType)
		if tier == nil {
			return fmt.Errorf("ticket type %q: %w", line.TicketType, ledger.ErrUnknownTicketType)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE ticket_tiers SET sold = $1 WHERE event_id = $2 AND name = $3`,
			tier.Sold, event.ID, tier.Name,
		); err != nil {
			return fmt.Errorf("update tier %q: %w", tier.Name, err)
		}
	}
	return nil
}

func writeAnalytics(ctx context.Context, tx pgx.Tx, event *model.Event) error {
	if _, err := tx.Exec(ctx,
		`UPDATE events SET total_tickets_sold = $1, total_revenue_cents = $2 WHERE id = $3`,
		event.Analytics.TotalTicketsSold, event.Analytics.TotalRevenueCents, event.ID,
	); err != nil {
		return fmt.Errorf("update analytics: %w", err)
	}
	return nil
}
