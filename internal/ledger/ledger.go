// Package ledger keeps per-tier sold counts and event-level analytics
// consistent with the set of completed, non-cancelled registrations.
//
// The functions here are pure: they operate on in-memory Event and
// Registration values. The repository layer loads and row-locks the
// affected rows inside a transaction, applies these functions, and writes
// the results back, so a commit or release either lands entirely or not at
// all. Because every function recomputes from the state it is handed,
// retrying after a persistence conflict is safe: re-read, re-check,
// reapply.
package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/stagepass/stagepass/internal/model"
)

// ErrUnknownTicketType is returned when a requested tier does not exist
// on the event.
var ErrUnknownTicketType = errors.New("unknown ticket type")

// ErrInsufficientInventory is returned when a tier has fewer unsold
// tickets than requested.
var ErrInsufficientInventory = errors.New("insufficient inventory")

// ErrAlreadyCompleted is returned when commit is invoked on a registration
// whose payment already completed.
var ErrAlreadyCompleted = errors.New("registration already completed")

// ErrAlreadyCancelled is returned when release is invoked on a
// registration that is already cancelled.
var ErrAlreadyCancelled = errors.New("registration already cancelled")

// ErrNotFound is returned when a requested event or registration does not
// exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a transaction loses a serialization or
// deadlock race. Callers retry a bounded number of times; the operation is
// idempotent-by-recomputation.
var ErrConflict = errors.New("persistence conflict")

// ErrInvalidRequest marks request validation failures so the transport
// layer can map them to a client error instead of an internal one.
var ErrInvalidRequest = errors.New("invalid request")

// Quote validates the requested lines against current availability and
// returns the priced snapshot plus the order total. It never mutates the
// event: no inventory is held for a pending registration.
func Quote(event *model.Event, requests []model.TicketRequest) ([]model.RegistrationLine, int64, error) {
	lines := make([]model.RegistrationLine, 0, len(requests))
	var total int64
	requested := map[string]int{}
	for _, req := range requests {
		if req.Quantity <= 0 {
			return nil, 0, fmt.Errorf("%w: ticket type %q: quantity must be positive", ErrInvalidRequest, req.TicketType)
		}
		tier := event.Tier(req.TicketType)
		if tier == nil {
			return nil, 0, fmt.Errorf("ticket type %q: %w", req.TicketType, ErrUnknownTicketType)
		}
		// Availability is checked against the summed demand per tier, so
		// two lines naming the same tier cannot each pass alone while
		// jointly exceeding capacity.
		requested[req.TicketType] += req.Quantity
		if tier.Remaining() < requested[req.TicketType] {
			return nil, 0, fmt.Errorf("ticket type %q has %d remaining, %d requested: %w",
				req.TicketType, tier.Remaining(), requested[req.TicketType], ErrInsufficientInventory)
		}
		lines = append(lines, model.RegistrationLine{
			TicketType:     tier.Name,
			UnitPriceCents: tier.PriceCents,
			Quantity:       req.Quantity,
		})
		total += tier.PriceCents * int64(req.Quantity)
	}
	return lines, total, nil
}

// ApplyCommit converts a pending registration into counted inventory
// consumption: tier sold counts, totalTicketsSold and totalRevenueCents
// move by the registration's snapshotted lines, and the registration is
// marked completed.
//
// Availability is re-checked against the event state passed in, not the
// state seen at quote time, so a commit retried after a conflict validates
// against fresh counters. Exactly-once: an already-completed registration
// is rejected before any counter moves.
func ApplyCommit(event *model.Event, reg *model.Registration, paymentIntentID, transactionID string, now time.Time) error {
	if reg.PaymentStatus == model.PaymentCompleted {
		return ErrAlreadyCompleted
	}
	if reg.Status == model.RegistrationCancelled {
		return ErrAlreadyCancelled
	}
	if reg.PaymentStatus != model.PaymentPending {
		return fmt.Errorf("%w: registration %s payment is %s, want pending", ErrInvalidRequest, reg.ID, reg.PaymentStatus)
	}

	// Validate every line before mutating anything, so a failure leaves
	// all counters untouched. Demand is summed per tier; lines that repeat
	// a tier are validated against their combined quantity.
	needed := map[string]int{}
	for _, line := range reg.Lines {
		tier := event.Tier(line.TicketType)
		if tier == nil {
			return fmt.Errorf("ticket type %q: %w", line.TicketType, ErrUnknownTicketType)
		}
		needed[line.TicketType] += line.Quantity
		if tier.Remaining() < needed[line.TicketType] {
			return fmt.Errorf("ticket type %q has %d remaining, %d requested: %w",
				line.TicketType, tier.Remaining(), needed[line.TicketType], ErrInsufficientInventory)
		}
	}

	for _, line := range reg.Lines {
		event.Tier(line.TicketType).Sold += line.Quantity
	}
	event.Analytics.TotalTicketsSold += reg.TicketCount()
	event.Analytics.TotalRevenueCents += reg.TotalAmountCents

	reg.PaymentStatus = model.PaymentCompleted
	reg.PaymentIntentID = paymentIntentID
	reg.TransactionID = transactionID
	confirmed := now
	reg.ConfirmedAt = &confirmed
	return nil
}

// ApplyRelease cancels a registration. If its payment had completed, the
// inventory commit is reversed exactly: sold counts, totalTicketsSold and
// totalRevenueCents return to their pre-commit values for this
// registration's lines. If payment never completed no inventory was ever
// consumed, so counters stay put. The registration is marked cancelled
// either way.
//
// The returned bool reports whether counters moved, so callers know
// whether to propagate the reversal to derived stores.
func ApplyRelease(event *model.Event, reg *model.Registration, now time.Time) (bool, error) {
	if reg.Status == model.RegistrationCancelled {
		return false, ErrAlreadyCancelled
	}

	reversed := false
	if reg.PaymentStatus == model.PaymentCompleted {
		releasing := map[string]int{}
		for _, line := range reg.Lines {
			tier := event.Tier(line.TicketType)
			if tier == nil {
				return false, fmt.Errorf("ticket type %q: %w", line.TicketType, ErrUnknownTicketType)
			}
			releasing[line.TicketType] += line.Quantity
			if tier.Sold < releasing[line.TicketType] {
				return false, fmt.Errorf("ticket type %q sold=%d below committed quantity %d",
					line.TicketType, tier.Sold, releasing[line.TicketType])
			}
		}
		for _, line := range reg.Lines {
			event.Tier(line.TicketType).Sold -= line.Quantity
		}
		event.Analytics.TotalTicketsSold -= reg.TicketCount()
		event.Analytics.TotalRevenueCents -= reg.TotalAmountCents
		reversed = true
	}

	reg.Status = model.RegistrationCancelled
	cancelled := now
	reg.CancelledAt = &cancelled
	return reversed, nil
}
