// Package model defines the core domain types for the ticketing system.
package model

import "time"

// PaymentStatus tracks whether a registration's payment has settled.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	// PaymentRefunded exists in the schema but no operation transitions
	// to it yet.
	PaymentRefunded PaymentStatus = "refunded"
)

// RegistrationStatus tracks the business state of a registration.
type RegistrationStatus string

const (
	RegistrationActive      RegistrationStatus = "active"
	RegistrationCancelled   RegistrationStatus = "cancelled"
	RegistrationTransferred RegistrationStatus = "transferred"
)

// TicketTier is a named ticket category with a price and a capacity.
type TicketTier struct {
	Name       string `json:"name"`
	PriceCents int64  `json:"price_cents"`
	Quantity   int    `json:"quantity"`
	Sold       int    `json:"sold"`
}

// Remaining returns the number of unsold tickets in the tier.
func (t *TicketTier) Remaining() int {
	return t.Quantity - t.Sold
}

// Analytics holds denormalized per-event counters. TotalTicketsSold and
// TotalRevenueCents reflect completed, non-cancelled registrations only.
type Analytics struct {
	TotalTicketsSold  int   `json:"total_tickets_sold"`
	TotalRevenueCents int64 `json:"total_revenue_cents"`
	Views             int64 `json:"views"`
}

// Event represents a ticketed event created by an organizer.
type Event struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Venue       string       `json:"venue"`
	StartsAt    *time.Time   `json:"starts_at,omitempty"`
	OrganizerID string       `json:"organizer_id"`
	Tiers       []TicketTier `json:"tiers"`
	Analytics   Analytics    `json:"analytics"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Tier returns the tier with the given name, or nil.
func (e *Event) Tier(name string) *TicketTier {
	for i := range e.Tiers {
		if e.Tiers[i].Name == name {
			return &e.Tiers[i]
		}
	}
	return nil
}

// RegistrationLine is an immutable snapshot of one purchased tier: the
// price it carried at purchase time survives later tier edits.
type RegistrationLine struct {
	TicketType     string `json:"ticket_type"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	Quantity       int    `json:"quantity"`
}

// Registration represents a user's (possibly multi-tier) ticket order for
// one event. TotalAmountCents is computed once at creation and never
// recomputed.
type Registration struct {
	ID               string             `json:"id"`
	EventID          string             `json:"event_id"`
	UserID           string             `json:"user_id"`
	Lines            []RegistrationLine `json:"lines"`
	TotalAmountCents int64              `json:"total_amount_cents"`
	PaymentStatus    PaymentStatus      `json:"payment_status"`
	Status           RegistrationStatus `json:"status"`
	PaymentIntentID  string             `json:"payment_intent_id,omitempty"`
	TransactionID    string             `json:"transaction_id,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	ConfirmedAt      *time.Time         `json:"confirmed_at,omitempty"`
	CancelledAt      *time.Time         `json:"cancelled_at,omitempty"`
}

// TicketCount returns the total number of tickets across all lines.
func (r *Registration) TicketCount() int {
	n := 0
	for _, l := range r.Lines {
		n += l.Quantity
	}
	return n
}

// Attendee is one entry in an event's committed attendee set.
type Attendee struct {
	RegistrationID string `json:"registration_id"`
	UserID         string `json:"user_id"`
}

// TierAvailability is one row of the availability report.
type TierAvailability struct {
	Name       string `json:"name"`
	PriceCents int64  `json:"price_cents"`
	Quantity   int    `json:"quantity"`
	Sold       int    `json:"sold"`
	Remaining  int    `json:"remaining"`
}

// EventAvailability summarises sellable inventory for one event.
type EventAvailability struct {
	EventID           string             `json:"event_id"`
	Tiers             []TierAvailability `json:"tiers"`
	TotalTicketsSold  int                `json:"total_tickets_sold"`
	TotalRevenueCents int64              `json:"total_revenue_cents"`
}

// CreateTierRequest is one tier definition in an event-creation payload.
type CreateTierRequest struct {
	Name       string `json:"name"`
	PriceCents int64  `json:"price_cents"`
	Quantity   int    `json:"quantity"`
}

// CreateEventRequest is the payload for creating a new event.
type CreateEventRequest struct {
	Name        string              `json:"name"`
	Description string              `json:"description"`
	Venue       string              `json:"venue"`
	StartsAt    *time.Time          `json:"starts_at,omitempty"`
	OrganizerID string              `json:"organizer_id"`
	Tiers       []CreateTierRequest `json:"tiers"`
}

// TicketRequest is one requested line in a registration payload.
type TicketRequest struct {
	TicketType string `json:"ticket_type"`
	Quantity   int    `json:"quantity"`
}

// RegisterRequest is the payload for registering for an event.
type RegisterRequest struct {
	UserID  string          `json:"user_id"`
	Tickets []TicketRequest `json:"tickets"`
}

// ConfirmPaymentRequest carries the opaque payment signal. The caller has
// already validated the charge; the ledger does not verify payment itself.
type ConfirmPaymentRequest struct {
	PaymentIntentID string `json:"payment_intent_id"`
	TransactionID   string `json:"transaction_id"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}

// CommitResult summarises the outcome of a single concurrent commit
// attempt. Used in the concurrent test harness.
type CommitResult struct {
	RegistrationID string
	Success        bool
	Err            error
}
