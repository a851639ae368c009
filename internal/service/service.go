// Package service implements business logic, validation, and orchestration
// between HTTP handlers and the repository layer.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stagepass/stagepass/internal/cache"
	"github.com/stagepass/stagepass/internal/ledger"
	"github.com/stagepass/stagepass/internal/metrics"
	"github.com/stagepass/stagepass/internal/model"
	"github.com/stagepass/stagepass/internal/ticket"
)

// maxConflictRetries bounds how often a commit or release is replayed
// after losing a serialization race. Each retry re-reads current counters
// and re-validates, so replaying is safe.
const maxConflictRetries = 3

const maxTiersPerEvent = 20

// EventStore is the persistence surface the service needs for events.
type EventStore interface {
	Create(ctx context.Context, req model.CreateEventRequest) (*model.Event, error)
	List(ctx context.Context) ([]model.Event, error)
	GetByID(ctx context.Context, id string) (*model.Event, error)
	IncrementViews(ctx context.Context, id string) error
	ListAttendees(ctx context.Context, eventID string) ([]model.Attendee, error)
}

// RegistrationStore is the persistence surface for registrations and the
// two-record ledger transactions.
type RegistrationStore interface {
	CreatePending(ctx context.Context, reg *model.Registration) error
	GetByID(ctx context.Context, id string) (*model.Registration, error)
	ListByEvent(ctx context.Context, eventID string) ([]model.Registration, error)
	Commit(ctx context.Context, regID, paymentIntentID, transactionID string) (*model.Registration, error)
	Release(ctx context.Context, regID string) (*model.Registration, bool, error)
}

// TicketingService orchestrates event and registration operations.
type TicketingService struct {
	events        EventStore
	registrations RegistrationStore
	stats         *cache.StatsCache // nil disables caching
	tickets       *ticket.Issuer    // nil disables QR issuance
}

// NewTicketingService constructs a TicketingService with its dependencies.
// stats and tickets may be nil.
func NewTicketingService(
	events EventStore,
	registrations RegistrationStore,
	stats *cache.StatsCache,
	tickets *ticket.Issuer,
) *TicketingService {
	return &TicketingService{
		events:        events,
		registrations: registrations,
		stats:         stats,
		tickets:       tickets,
	}
}

// CreateEvent validates the request and delegates to the repository.
func (s *TicketingService) CreateEvent(ctx context.Context, req model.CreateEventRequest) (*model.Event, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return nil, fmt.Errorf("%w: event name is required", ledger.ErrInvalidRequest)
	}
	if len(req.Tiers) == 0 {
		return nil, fmt.Errorf("%w: at least one ticket tier is required", ledger.ErrInvalidRequest)
	}
	if len(req.Tiers) > maxTiersPerEvent {
		return nil, fmt.Errorf("%w: at most %d ticket tiers allowed", ledger.ErrInvalidRequest, maxTiersPerEvent)
	}
	seen := map[string]bool{}
	for i := range req.Tiers {
		tier := &req.Tiers[i]
		tier.Name = strings.TrimSpace(tier.Name)
		if tier.Name == "" {
			return nil, fmt.Errorf("%w: tier name is required", ledger.ErrInvalidRequest)
		}
		if seen[tier.Name] {
			return nil, fmt.Errorf("%w: duplicate tier name %q", ledger.ErrInvalidRequest, tier.Name)
		}
		seen[tier.Name] = true
		if tier.PriceCents < 0 {
			return nil, fmt.Errorf("%w: tier %q: price cannot be negative", ledger.ErrInvalidRequest, tier.Name)
		}
		if tier.Quantity <= 0 {
			return nil, fmt.Errorf("%w: tier %q: quantity must be a positive integer", ledger.ErrInvalidRequest, tier.Name)
		}
		if tier.Quantity > 100_000 {
			return nil, fmt.Errorf("%w: tier %q: quantity cannot exceed 100,000", ledger.ErrInvalidRequest, tier.Name)
		}
	}
	return s.events.Create(ctx, req)
}

// ListEvents returns all events.
func (s *TicketingService) ListEvents(ctx context.Context) ([]model.Event, error) {
	return s.events.List(ctx)
}

// GetEvent returns a single event by ID and bumps its views counter.
func (s *TicketingService) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: event id is required", ledger.ErrInvalidRequest)
	}
	event, err := s.events.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, ledger.ErrNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	// Views is a best-effort counter; a failed bump never fails the read.
	if err := s.events.IncrementViews(ctx, id); err != nil {
		log.Printf("increment views for event %s: %v", id, err)
	} else {
		event.Analytics.Views++
	}
	return event, nil
}

// GetAvailability reports per-tier remaining inventory, served from the
// Redis stats cache when warm and primed from Postgres on a miss.
func (s *TicketingService) GetAvailability(ctx context.Context, eventID string) (*model.EventAvailability, error) {
	if avail, ok, err := s.stats.GetAvailability(ctx, eventID); err == nil && ok {
		return avail, nil
	} else if err != nil {
		log.Printf("availability cache read for event %s: %v", eventID, err)
	}

	event, err := s.events.GetByID(ctx, eventID)
	if err != nil {
		return nil, err
	}
	avail := availabilityOf(event)
	if err := s.stats.Prime(ctx, avail); err != nil {
		log.Printf("prime availability cache for event %s: %v", eventID, err)
	}
	return avail, nil
}

func availabilityOf(event *model.Event) *model.EventAvailability {
	avail := &model.EventAvailability{
		EventID:           event.ID,
		TotalTicketsSold:  event.Analytics.TotalTicketsSold,
		TotalRevenueCents: event.Analytics.TotalRevenueCents,
	}
	for _, tier := range event.Tiers {
		avail.Tiers = append(avail.Tiers, model.TierAvailability{
			Name:       tier.Name,
			PriceCents: tier.PriceCents,
			Quantity:   tier.Quantity,
			Sold:       tier.Sold,
			Remaining:  tier.Remaining(),
		})
	}
	return avail
}

// Register performs reserve-and-price: it validates availability, snapshots
// current tier prices into an immutable order, and persists a pending
// registration. No inventory is held; a pending registration that never
// pays leaves the ledger untouched.
func (s *TicketingService) Register(ctx context.Context, eventID string, req model.RegisterRequest) (*model.Registration, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ledger.ErrInvalidRequest)
	}
	if eventID == "" {
		return nil, fmt.Errorf("%w: event id is required", ledger.ErrInvalidRequest)
	}
	if len(req.Tickets) == 0 {
		return nil, fmt.Errorf("%w: at least one ticket line is required", ledger.ErrInvalidRequest)
	}

	event, err := s.events.GetByID(ctx, eventID)
	if err != nil {
		return nil, err
	}

	lines, total, err := ledger.Quote(event, req.Tickets)
	if err != nil {
		return nil, err
	}

	reg := &model.Registration{
		ID:               uuid.New().String(),
		EventID:          event.ID,
		UserID:           req.UserID,
		Lines:            lines,
		TotalAmountCents: total,
		PaymentStatus:    model.PaymentPending,
		Status:           model.RegistrationActive,
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.registrations.CreatePending(ctx, reg); err != nil {
		return nil, fmt.Errorf("create registration: %w", err)
	}
	return reg, nil
}

// ConfirmPayment commits a registration's inventory after the caller has
// validated the charge. Retries bounded times on persistence conflicts.
func (s *TicketingService) ConfirmPayment(ctx context.Context, regID string, req model.ConfirmPaymentRequest) (*model.Registration, error) {
	if regID == "" {
		return nil, fmt.Errorf("%w: registration id is required", ledger.ErrInvalidRequest)
	}
	if strings.TrimSpace(req.PaymentIntentID) == "" {
		return nil, fmt.Errorf("%w: payment_intent_id is required", ledger.ErrInvalidRequest)
	}

	var (
		reg *model.Registration
		err error
	)
	for attempt := 0; ; attempt++ {
		reg, err = s.registrations.Commit(ctx, regID, req.PaymentIntentID, req.TransactionID)
		if err == nil || !errors.Is(err, ledger.ErrConflict) || attempt >= maxConflictRetries {
			break
		}
		metrics.ConflictRetries.Inc()
		log.Printf("commit conflict for registration %s, retrying (%d/%d)", regID, attempt+1, maxConflictRetries)
	}
	if err != nil {
		metrics.RegistrationOutcomes.WithLabelValues("commit", outcomeLabel(err)).Inc()
		return nil, err
	}

	metrics.RegistrationOutcomes.WithLabelValues("commit", "ok").Inc()
	metrics.TicketsCommitted.Add(float64(reg.TicketCount()))
	metrics.RevenueCommittedCents.Add(float64(reg.TotalAmountCents))

	// Post-commit side effects are best-effort: the transaction already
	// landed, so failures here are logged, not surfaced.
	if err := s.stats.ApplyCommit(ctx, reg); err != nil {
		log.Printf("availability cache update for event %s: %v", reg.EventID, err)
	}
	if s.tickets != nil {
		if err := s.tickets.Issue(ctx, reg); err != nil {
			log.Printf("issue ticket for registration %s: %v", reg.ID, err)
		}
	}
	return reg, nil
}

// Cancel releases a registration. Inventory and analytics reverse only if
// payment had completed; the registration is marked cancelled either way.
func (s *TicketingService) Cancel(ctx context.Context, regID string) (*model.Registration, error) {
	if regID == "" {
		return nil, fmt.Errorf("%w: registration id is required", ledger.ErrInvalidRequest)
	}

	var (
		reg      *model.Registration
		reversed bool
		err      error
	)
	for attempt := 0; ; attempt++ {
		reg, reversed, err = s.registrations.Release(ctx, regID)
		if err == nil || !errors.Is(err, ledger.ErrConflict) || attempt >= maxConflictRetries {
			break
		}
		metrics.ConflictRetries.Inc()
		log.Printf("release conflict for registration %s, retrying (%d/%d)", regID, attempt+1, maxConflictRetries)
	}
	if err != nil {
		metrics.RegistrationOutcomes.WithLabelValues("release", outcomeLabel(err)).Inc()
		return nil, err
	}

	metrics.RegistrationOutcomes.WithLabelValues("release", "ok").Inc()
	if reversed {
		metrics.TicketsReleased.Add(float64(reg.TicketCount()))
		metrics.RevenueReleasedCents.Add(float64(reg.TotalAmountCents))
		if err := s.stats.ApplyRelease(ctx, reg); err != nil {
			log.Printf("availability cache update for event %s: %v", reg.EventID, err)
		}
		if s.tickets != nil {
			if err := s.tickets.Revoke(ctx, reg.ID); err != nil {
				log.Printf("revoke ticket for registration %s: %v", reg.ID, err)
			}
		}
	}
	return reg, nil
}

// GetRegistration returns a single registration by ID.
func (s *TicketingService) GetRegistration(ctx context.Context, id string) (*model.Registration, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: registration id is required", ledger.ErrInvalidRequest)
	}
	return s.registrations.GetByID(ctx, id)
}

// ListRegistrations returns all registrations for an event.
func (s *TicketingService) ListRegistrations(ctx context.Context, eventID string) ([]model.Registration, error) {
	if _, err := s.events.GetByID(ctx, eventID); err != nil {
		return nil, ledger.ErrNotFound
	}
	return s.registrations.ListByEvent(ctx, eventID)
}

// ListAttendees returns the committed attendee set for an event.
func (s *TicketingService) ListAttendees(ctx context.Context, eventID string) ([]model.Attendee, error) {
	if _, err := s.events.GetByID(ctx, eventID); err != nil {
		return nil, ledger.ErrNotFound
	}
	return s.events.ListAttendees(ctx, eventID)
}

// FetchTicket returns the QR ticket PNG for a completed registration.
func (s *TicketingService) FetchTicket(ctx context.Context, regID string) ([]byte, string, error) {
	if s.tickets == nil {
		return nil, "", ledger.ErrNotFound
	}
	return s.tickets.Fetch(ctx, regID)
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, ledger.ErrInsufficientInventory):
		return "insufficient_inventory"
	case errors.Is(err, ledger.ErrUnknownTicketType):
		return "unknown_ticket_type"
	case errors.Is(err, ledger.ErrAlreadyCompleted):
		return "already_completed"
	case errors.Is(err, ledger.ErrAlreadyCancelled):
		return "already_cancelled"
	case errors.Is(err, ledger.ErrNotFound):
		return "not_found"
	case errors.Is(err, ledger.ErrConflict):
		return "conflict"
	default:
		return "error"
	}
}
