package campaign

import (
	"context"
	"time"

	"github.com/sendquill/sendquill/internal/domain"
)

// Repository defines the data access contract for campaigns.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Get returns a single campaign with its list ids. Returns ErrNotFound if
	// it doesn't exist.
	Get(ctx context.Context, id string) (*domain.Campaign, error)

	// List returns a user's campaigns matching the filter, newest first.
	List(ctx context.Context, userID string, filter ListFilter) ([]domain.Campaign, int, error)

	Create(ctx context.Context, c *domain.Campaign) error

	// Update applies the non-nil fields. Only DRAFT and SCHEDULED campaigns
	// are updated; anything else returns ErrNotEditable.
	Update(ctx context.Context, id string, u UpdateFields) error

	// Delete removes a DRAFT campaign.
	Delete(ctx context.Context, id string) error

	// Schedule sets scheduled_at and moves a DRAFT (or already SCHEDULED)
	// campaign to SCHEDULED.
	Schedule(ctx context.Context, id string, at time.Time) error

	// Unschedule moves a SCHEDULED campaign back to DRAFT.
	Unschedule(ctx context.Context, id string) error

	// StartSending moves a DRAFT or SCHEDULED campaign to SENDING and sets
	// sent_at unless it is already set. Returns ErrInvalidTransition when
	// the campaign is in any other state.
	StartSending(ctx context.Context, id string) error

	// SetStatus moves the campaign to status if a predecessor state allows it.
	SetStatus(ctx context.Context, id string, status domain.CampaignStatus) error

	// EnqueueRecipients creates one PENDING recipient per contact of the
	// campaign's lists, skipping contacts that already have one. Returns
	// the number of rows created.
	EnqueueRecipients(ctx context.Context, campaignID string) (int, error)

	CountRecipientsByStatus(ctx context.Context, campaignID string) (map[domain.RecipientStatus]int, error)
	EventCounts(ctx context.Context, campaignID string) (*EventCounts, error)

	// DueScheduled returns SCHEDULED campaigns whose time has come, oldest first.
	DueScheduled(ctx context.Context, now time.Time, limit int) ([]domain.Campaign, error)

	// ListOwners maps each existing list id to its owner. Unknown ids are
	// absent from the result.
	ListOwners(ctx context.Context, listIDs []string) (map[string]string, error)

	// TemplateOwner returns the owner of a template, or ErrUnknownReference.
	TemplateOwner(ctx context.Context, templateID string) (string, error)
}

// ListFilter controls pagination and filtering for campaign lists.
type ListFilter struct {
	Status string
	Limit  int
	Offset int
}

// UpdateFields holds the mutable fields for a campaign update.
// Nil fields are not applied.
type UpdateFields struct {
	Name       *string   `json:"name" validate:"omitempty,min=1,max=200"`
	Subject    *string   `json:"subject" validate:"omitempty,min=1,max=998"`
	Content    *string   `json:"content"`
	TemplateID *string   `json:"template_id" validate:"omitempty,uuid"`
	ListIDs    *[]string `json:"list_ids" validate:"omitempty,dive,uuid"`
}

// EventCounts aggregates tracking events for a campaign.
type EventCounts struct {
	Opens        int
	UniqueOpens  int
	Clicks       int
	UniqueClicks int
}
