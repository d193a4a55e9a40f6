// Package sending runs campaign deliveries: it personalizes content per
// recipient, injects tracking, hands each message to a mail transport and
// records the outcome. Processing is sequential within a run.
package sending

import (
	"context"
	"time"

	"github.com/sendquill/sendquill/internal/domain"
)

// Transport delivers one fully composed message. Implementations return an
// error wrapping ErrAuthExpired when the provider rejects the credentials.
type Transport interface {
	Send(ctx context.Context, msg *domain.EmailMessage, accessToken string) (*domain.SendResult, error)
	Kind() domain.TransportKind
}

// Store is the persistence the sender needs. Every write is independent; no
// transaction spans a run, so a crash leaves partial progress visible and a
// re-run picks up where it stopped.
type Store interface {
	// LoadCampaign returns the campaign with its template, recipients (in creation
	// order) and their contacts. Returns ErrNotFound if it doesn't exist.
	LoadCampaign(ctx context.Context, campaignID string) (*domain.Campaign, error)

	MarkRecipientSent(ctx context.Context, recipientID, messageID string, at time.Time) error
	MarkRecipientFailed(ctx context.Context, recipientID, reason string) error

	// SetCampaignStatus moves the campaign to status if its current state
	// allows it.
	SetCampaignStatus(ctx context.Context, campaignID string, status domain.CampaignStatus) error
}
