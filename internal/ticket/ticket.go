// Package ticket issues QR-code ticket artifacts for completed
// registrations and serves them back from the blob store.
package ticket

import (
	"context"
	"fmt"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/stagepass/stagepass/internal/blob"
	"github.com/stagepass/stagepass/internal/model"
)

const pngSize = 256

// Issuer renders and stores ticket QR codes.
type Issuer struct {
	store blob.Store
}

// NewIssuer constructs an Issuer backed by the given blob store.
func NewIssuer(store blob.Store) *Issuer {
	return &Issuer{store: store}
}

func key(registrationID string) string {
	return fmt.Sprintf("tickets/%s.png", registrationID)
}

// payload is what venue scanners read: enough to look the registration up
// and cross-check the event without another payload format.
func payload(reg *model.Registration) string {
	return fmt.Sprintf("stagepass:v1:%s:%s:%s", reg.EventID, reg.ID, reg.UserID)
}

// Issue renders the QR ticket for a committed registration and stores it.
// Re-issuing overwrites the previous artifact, so a retried confirmation
// converges on the same object.
func (i *Issuer) Issue(ctx context.Context, reg *model.Registration) error {
	png, err := qrcode.Encode(payload(reg), qrcode.Medium, pngSize)
	if err != nil {
		return fmt.Errorf("encode ticket qr: %w", err)
	}
	if err := i.store.Put(ctx, key(reg.ID), png, "image/png"); err != nil {
		return fmt.Errorf("store ticket: %w", err)
	}
	return nil
}

// Fetch returns the stored ticket PNG, or blob.ErrNotFound if no ticket
// was issued (payment never completed, or the ticket was revoked).
func (i *Issuer) Fetch(ctx context.Context, registrationID string) ([]byte, string, error) {
	return i.store.Get(ctx, key(registrationID))
}

// Revoke removes the ticket artifact after a cancellation.
func (i *Issuer) Revoke(ctx context.Context, registrationID string) error {
	return i.store.Delete(ctx, key(registrationID))
}
