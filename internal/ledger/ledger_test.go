package ledger

import (
	"errors"
	"testing"
	"time"

	"github.com/stagepass/stagepass/internal/model"
)

func testEvent() *model.Event {
	return &model.Event{
		ID:   "evt-1",
		Name: "GopherCon",
		Tiers: []model.TicketTier{
			{Name: "general", PriceCents: 5000, Quantity: 10, Sold: 0},
			{Name: "vip", PriceCents: 20000, Quantity: 2, Sold: 0},
		},
	}
}

func pendingRegistration(lines ...model.RegistrationLine) *model.Registration {
	var total int64
	for _, l := range lines {
		total += l.UnitPriceCents * int64(l.Quantity)
	}
	return &model.Registration{
		ID:               "reg-1",
		EventID:          "evt-1",
		UserID:           "user-1",
		Lines:            lines,
		TotalAmountCents: total,
		PaymentStatus:    model.PaymentPending,
		Status:           model.RegistrationActive,
		CreatedAt:        time.Now().UTC(),
	}
}

func assertInvariants(t *testing.T, event *model.Event) {
	t.Helper()
	for _, tier := range event.Tiers {
		if tier.Sold < 0 || tier.Sold > tier.Quantity {
			t.Fatalf("tier %q violates 0 <= sold <= quantity: sold=%d quantity=%d",
				tier.Name, tier.Sold, tier.Quantity)
		}
	}
}

func TestQuote(t *testing.T) {
	tests := []struct {
		name      string
		requests  []model.TicketRequest
		wantTotal int64
		wantErr   error
	}{
		{
			name:      "single line",
			requests:  []model.TicketRequest{{TicketType: "general", Quantity: 3}},
			wantTotal: 15000,
		},
		{
			name: "multi line",
			requests: []model.TicketRequest{
				{TicketType: "general", Quantity: 2},
				{TicketType: "vip", Quantity: 1},
			},
			wantTotal: 30000,
		},
		{
			name:     "unknown tier",
			requests: []model.TicketRequest{{TicketType: "backstage", Quantity: 1}},
			wantErr:  ErrUnknownTicketType,
		},
		{
			name:     "over capacity",
			requests: []model.TicketRequest{{TicketType: "vip", Quantity: 3}},
			wantErr:  ErrInsufficientInventory,
		},
		{
			name:     "zero quantity",
			requests: []model.TicketRequest{{TicketType: "general", Quantity: 0}},
			wantErr:  ErrInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := testEvent()
			lines, total, err := Quote(event, tt.requests)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Quote error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Quote: %v", err)
			}
			if total != tt.wantTotal {
				t.Errorf("total = %d, want %d", total, tt.wantTotal)
			}
			if len(lines) != len(tt.requests) {
				t.Errorf("got %d lines, want %d", len(lines), len(tt.requests))
			}
			// Reserve-and-price is validation only.
			for _, tier := range event.Tiers {
				if tier.Sold != 0 {
					t.Errorf("tier %q sold = %d after quote, want 0", tier.Name, tier.Sold)
				}
			}
		})
	}
}

func TestQuoteSumsDuplicateTierLines(t *testing.T) {
	event := testEvent()

	// Each line fits alone but the pair exceeds capacity 10.
	_, _, err := Quote(event, []model.TicketRequest{
		{TicketType: "general", Quantity: 6},
		{TicketType: "general", Quantity: 6},
	})
	if !errors.Is(err, ErrInsufficientInventory) {
		t.Fatalf("Quote error = %v, want ErrInsufficientInventory", err)
	}

	// Duplicates that jointly fit still price normally.
	lines, total, err := Quote(event, []model.TicketRequest{
		{TicketType: "general", Quantity: 6},
		{TicketType: "general", Quantity: 4},
	})
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if len(lines) != 2 || total != 50000 {
		t.Errorf("lines = %d, total = %d; want 2 lines / 50000", len(lines), total)
	}
}

func TestCommitSumsDuplicateTierLines(t *testing.T) {
	event := testEvent()
	reg := pendingRegistration(
		model.RegistrationLine{TicketType: "general", UnitPriceCents: 5000, Quantity: 6},
		model.RegistrationLine{TicketType: "general", UnitPriceCents: 5000, Quantity: 6},
	)

	err := ApplyCommit(event, reg, "pi_1", "txn_1", time.Now().UTC())
	if !errors.Is(err, ErrInsufficientInventory) {
		t.Fatalf("commit error = %v, want ErrInsufficientInventory", err)
	}
	if event.Tier("general").Sold != 0 {
		t.Errorf("sold = %d after failed commit, want 0", event.Tier("general").Sold)
	}
	if reg.PaymentStatus != model.PaymentPending {
		t.Errorf("paymentStatus = %s after failed commit, want pending", reg.PaymentStatus)
	}
	assertInvariants(t, event)
}

func TestCommitDuplicateTierLinesWithinCapacity(t *testing.T) {
	event := testEvent()
	now := time.Now().UTC()
	reg := pendingRegistration(
		model.RegistrationLine{TicketType: "general", UnitPriceCents: 5000, Quantity: 6},
		model.RegistrationLine{TicketType: "general", UnitPriceCents: 5000, Quantity: 4},
	)

	if err := ApplyCommit(event, reg, "pi_1", "txn_1", now); err != nil {
		t.Fatalf("ApplyCommit: %v", err)
	}
	if got := event.Tier("general").Sold; got != 10 {
		t.Errorf("sold = %d, want 10", got)
	}
	assertInvariants(t, event)

	if _, err := ApplyRelease(event, reg, now); err != nil {
		t.Fatalf("ApplyRelease: %v", err)
	}
	if got := event.Tier("general").Sold; got != 0 {
		t.Errorf("sold = %d after release, want 0", got)
	}
	assertInvariants(t, event)
}

func TestQuoteSnapshotsCurrentPrice(t *testing.T) {
	event := testEvent()
	lines, _, err := Quote(event, []model.TicketRequest{{TicketType: "general", Quantity: 1}})
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}

	// A later price edit must not affect the snapshot.
	event.Tiers[0].PriceCents = 9999
	if lines[0].UnitPriceCents != 5000 {
		t.Errorf("line price = %d, want purchase-time price 5000", lines[0].UnitPriceCents)
	}
}

func TestCommitReleaseRoundTrip(t *testing.T) {
	event := testEvent()
	now := time.Now().UTC()

	lines, total, err := Quote(event, []model.TicketRequest{{TicketType: "general", Quantity: 3}})
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	reg := pendingRegistration(lines...)
	if total != 15000 || reg.TotalAmountCents != 15000 {
		t.Fatalf("total = %d, want 15000", total)
	}

	if err := ApplyCommit(event, reg, "pi_1", "txn_1", now); err != nil {
		t.Fatalf("ApplyCommit: %v", err)
	}
	assertInvariants(t, event)
	if got := event.Tier("general").Sold; got != 3 {
		t.Errorf("sold = %d after commit, want 3", got)
	}
	if event.Analytics.TotalTicketsSold != 3 {
		t.Errorf("totalTicketsSold = %d, want 3", event.Analytics.TotalTicketsSold)
	}
	if event.Analytics.TotalRevenueCents != 15000 {
		t.Errorf("totalRevenueCents = %d, want 15000", event.Analytics.TotalRevenueCents)
	}
	if reg.PaymentStatus != model.PaymentCompleted {
		t.Errorf("paymentStatus = %s, want completed", reg.PaymentStatus)
	}
	if reg.ConfirmedAt == nil {
		t.Error("ConfirmedAt not set")
	}

	reversed, err := ApplyRelease(event, reg, now)
	if err != nil {
		t.Fatalf("ApplyRelease: %v", err)
	}
	if !reversed {
		t.Error("release of a completed registration should reverse counters")
	}
	assertInvariants(t, event)
	if got := event.Tier("general").Sold; got != 0 {
		t.Errorf("sold = %d after release, want 0", got)
	}
	if event.Analytics.TotalTicketsSold != 0 {
		t.Errorf("totalTicketsSold = %d after release, want 0", event.Analytics.TotalTicketsSold)
	}
	if event.Analytics.TotalRevenueCents != 0 {
		t.Errorf("totalRevenueCents = %d after release, want 0", event.Analytics.TotalRevenueCents)
	}
	if reg.Status != model.RegistrationCancelled {
		t.Errorf("status = %s, want cancelled", reg.Status)
	}
}

func TestCommitExactlyOnce(t *testing.T) {
	event := testEvent()
	now := time.Now().UTC()
	reg := pendingRegistration(model.RegistrationLine{TicketType: "general", UnitPriceCents: 5000, Quantity: 2})

	if err := ApplyCommit(event, reg, "pi_1", "txn_1", now); err != nil {
		t.Fatalf("first commit: %v", err)
	}

	err := ApplyCommit(event, reg, "pi_1", "txn_1", now)
	if !errors.Is(err, ErrAlreadyCompleted) {
		t.Fatalf("second commit error = %v, want ErrAlreadyCompleted", err)
	}
	// Counters must not double-increment.
	if got := event.Tier("general").Sold; got != 2 {
		t.Errorf("sold = %d, want 2", got)
	}
	if event.Analytics.TotalTicketsSold != 2 {
		t.Errorf("totalTicketsSold = %d, want 2", event.Analytics.TotalTicketsSold)
	}
	if event.Analytics.TotalRevenueCents != 10000 {
		t.Errorf("totalRevenueCents = %d, want 10000", event.Analytics.TotalRevenueCents)
	}
}

func TestCommitRejectsCancelled(t *testing.T) {
	event := testEvent()
	reg := pendingRegistration(model.RegistrationLine{TicketType: "general", UnitPriceCents: 5000, Quantity: 1})
	reg.Status = model.RegistrationCancelled

	err := ApplyCommit(event, reg, "pi_1", "txn_1", time.Now().UTC())
	if !errors.Is(err, ErrAlreadyCancelled) {
		t.Fatalf("commit of cancelled registration error = %v, want ErrAlreadyCancelled", err)
	}
	if event.Tier("general").Sold != 0 {
		t.Error("cancelled commit must not move counters")
	}
}

func TestCommitRechecksAvailability(t *testing.T) {
	event := testEvent()
	// Another registration consumed the whole vip tier between quote and
	// commit.
	event.Tier("vip").Sold = 2

	reg := pendingRegistration(model.RegistrationLine{TicketType: "vip", UnitPriceCents: 20000, Quantity: 1})
	err := ApplyCommit(event, reg, "pi_1", "txn_1", time.Now().UTC())
	if !errors.Is(err, ErrInsufficientInventory) {
		t.Fatalf("commit error = %v, want ErrInsufficientInventory", err)
	}
	if reg.PaymentStatus != model.PaymentPending {
		t.Errorf("paymentStatus = %s after failed commit, want pending", reg.PaymentStatus)
	}
	assertInvariants(t, event)
}

func TestCommitPartialValidationLeavesCountersUntouched(t *testing.T) {
	event := testEvent()
	// First line fits, second does not. Nothing may move.
	reg := pendingRegistration(
		model.RegistrationLine{TicketType: "general", UnitPriceCents: 5000, Quantity: 1},
		model.RegistrationLine{TicketType: "vip", UnitPriceCents: 20000, Quantity: 3},
	)

	err := ApplyCommit(event, reg, "pi_1", "txn_1", time.Now().UTC())
	if !errors.Is(err, ErrInsufficientInventory) {
		t.Fatalf("commit error = %v, want ErrInsufficientInventory", err)
	}
	if event.Tier("general").Sold != 0 || event.Tier("vip").Sold != 0 {
		t.Error("failed commit moved counters")
	}
	if event.Analytics.TotalTicketsSold != 0 || event.Analytics.TotalRevenueCents != 0 {
		t.Error("failed commit moved analytics")
	}
}

func TestReleasePendingIsNoOpOnCounters(t *testing.T) {
	event := testEvent()
	reg := pendingRegistration(model.RegistrationLine{TicketType: "general", UnitPriceCents: 5000, Quantity: 4})

	reversed, err := ApplyRelease(event, reg, time.Now().UTC())
	if err != nil {
		t.Fatalf("ApplyRelease: %v", err)
	}
	if reversed {
		t.Error("release of a pending registration must not reverse counters")
	}
	if event.Tier("general").Sold != 0 {
		t.Errorf("sold = %d, want 0", event.Tier("general").Sold)
	}
	if reg.Status != model.RegistrationCancelled {
		t.Errorf("status = %s, want cancelled", reg.Status)
	}
	if reg.CancelledAt == nil {
		t.Error("CancelledAt not set")
	}
}

func TestReleaseIdempotency(t *testing.T) {
	event := testEvent()
	now := time.Now().UTC()
	reg := pendingRegistration(model.RegistrationLine{TicketType: "general", UnitPriceCents: 5000, Quantity: 2})

	if err := ApplyCommit(event, reg, "pi_1", "txn_1", now); err != nil {
		t.Fatalf("ApplyCommit: %v", err)
	}
	if _, err := ApplyRelease(event, reg, now); err != nil {
		t.Fatalf("first release: %v", err)
	}

	_, err := ApplyRelease(event, reg, now)
	if !errors.Is(err, ErrAlreadyCancelled) {
		t.Fatalf("second release error = %v, want ErrAlreadyCancelled", err)
	}
	// No double reversal.
	if got := event.Tier("general").Sold; got != 0 {
		t.Errorf("sold = %d after double release, want 0", got)
	}
	if event.Analytics.TotalTicketsSold != 0 {
		t.Errorf("totalTicketsSold = %d, want 0", event.Analytics.TotalTicketsSold)
	}
	assertInvariants(t, event)
}

func TestScenarioReserveCommitRelease(t *testing.T) {
	// Tier {quantity:10, sold:0}: reserve 3 validates without mutating,
	// commit moves sold to 3 and revenue by price*3, release restores all.
	event := &model.Event{
		ID:    "evt-s",
		Tiers: []model.TicketTier{{Name: "general", PriceCents: 2500, Quantity: 10, Sold: 0}},
	}
	now := time.Now().UTC()

	lines, total, err := Quote(event, []model.TicketRequest{{TicketType: "general", Quantity: 3}})
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if event.Tier("general").Sold != 0 {
		t.Fatal("quote mutated sold")
	}
	if total != 7500 {
		t.Fatalf("total = %d, want 7500", total)
	}

	reg := pendingRegistration(lines...)
	if err := ApplyCommit(event, reg, "pi", "txn", now); err != nil {
		t.Fatalf("ApplyCommit: %v", err)
	}
	if event.Tier("general").Sold != 3 ||
		event.Analytics.TotalTicketsSold != 3 ||
		event.Analytics.TotalRevenueCents != 7500 {
		t.Fatalf("after commit: sold=%d ticketsSold=%d revenue=%d",
			event.Tier("general").Sold, event.Analytics.TotalTicketsSold, event.Analytics.TotalRevenueCents)
	}

	if _, err := ApplyRelease(event, reg, now); err != nil {
		t.Fatalf("ApplyRelease: %v", err)
	}
	if event.Tier("general").Sold != 0 ||
		event.Analytics.TotalTicketsSold != 0 ||
		event.Analytics.TotalRevenueCents != 0 {
		t.Fatalf("after release: sold=%d ticketsSold=%d revenue=%d",
			event.Tier("general").Sold, event.Analytics.TotalTicketsSold, event.Analytics.TotalRevenueCents)
	}
}
