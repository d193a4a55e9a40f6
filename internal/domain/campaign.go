package domain

import (
	"fmt"
	"strings"
	"time"
)

// CampaignStatus enumerates the lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignDraft         CampaignStatus = "DRAFT"
	CampaignScheduled     CampaignStatus = "SCHEDULED"
	CampaignSending       CampaignStatus = "SENDING"
	CampaignSent          CampaignStatus = "SENT"
	CampaignFailed        CampaignStatus = "FAILED"
	CampaignPartiallySent CampaignStatus = "PARTIALLY_SENT"
)

var campaignStatuses = []CampaignStatus{
	CampaignDraft, CampaignScheduled, CampaignSending,
	CampaignSent, CampaignFailed, CampaignPartiallySent,
}

// ParseCampaignStatus maps any casing of a known status ("sending",
// "Partially_Sent") to its canonical value.
func ParseCampaignStatus(s string) (CampaignStatus, error) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	for _, st := range campaignStatuses {
		if string(st) == norm {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown campaign status %q", s)
}

// campaignTransitions lists the allowed next states for each state. FAILED and
// PARTIALLY_SENT may only move again through re-derivation after a resend.
var campaignTransitions = map[CampaignStatus][]CampaignStatus{
	CampaignDraft:         {CampaignScheduled, CampaignSending},
	CampaignScheduled:     {CampaignDraft, CampaignSending},
	CampaignSending:       {CampaignSent, CampaignFailed, CampaignPartiallySent},
	CampaignFailed:        {CampaignFailed, CampaignPartiallySent, CampaignSent},
	CampaignPartiallySent: {CampaignPartiallySent, CampaignSent},
}

// CanTransition reports whether a campaign may move from one status to another.
func CanTransition(from, to CampaignStatus) bool {
	for _, next := range campaignTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// PredecessorsOf returns every status that may transition into to.
func PredecessorsOf(to CampaignStatus) []CampaignStatus {
	var out []CampaignStatus
	for _, from := range campaignStatuses {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// DeriveCampaignStatus computes the aggregate status from recipient outcomes.
// A campaign with nothing left to deliver and no failures counts as SENT.
func DeriveCampaignStatus(sent, failed int) CampaignStatus {
	switch {
	case failed == 0:
		return CampaignSent
	case sent == 0:
		return CampaignFailed
	default:
		return CampaignPartiallySent
	}
}

// Campaign is a single bulk-send job targeting one or more contact lists.
type Campaign struct {
	ID          string         `json:"id" db:"id"`
	UserID      string         `json:"user_id" db:"user_id"`
	Name        string         `json:"name" db:"name"`
	Subject     string         `json:"subject" db:"subject"`
	Content     string         `json:"content" db:"content"`
	Status      CampaignStatus `json:"status" db:"status"`
	TemplateID  *string        `json:"template_id" db:"template_id"`
	ListIDs     []string       `json:"list_ids"`
	ScheduledAt *time.Time     `json:"scheduled_at" db:"scheduled_at"`
	SentAt      *time.Time     `json:"sent_at" db:"sent_at"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at" db:"updated_at"`

	// Populated only by full loads for sending.
	Template   *Template   `json:"template,omitempty"`
	Recipients []Recipient `json:"recipients,omitempty"`
}

// IsTerminal returns true once a send run has produced an aggregate result.
func (c *Campaign) IsTerminal() bool {
	return c.Status == CampaignSent || c.Status == CampaignFailed || c.Status == CampaignPartiallySent
}

// IsEditable returns true while the campaign has not started sending.
func (c *Campaign) IsEditable() bool {
	return c.Status == CampaignDraft || c.Status == CampaignScheduled
}

// Template is reusable HTML content a campaign can fall back to.
type Template struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Name      string    `json:"name" db:"name"`
	Subject   string    `json:"subject" db:"subject"`
	Content   string    `json:"content" db:"content"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// RecipientStatus enumerates the delivery state of one recipient.
type RecipientStatus string

const (
	RecipientPending RecipientStatus = "PENDING"
	RecipientSent    RecipientStatus = "SENT"
	RecipientFailed  RecipientStatus = "FAILED"
)

// ParseRecipientStatus maps any casing of a known status to its canonical value.
func ParseRecipientStatus(s string) (RecipientStatus, error) {
	switch RecipientStatus(strings.ToUpper(strings.TrimSpace(s))) {
	case RecipientPending:
		return RecipientPending, nil
	case RecipientSent:
		return RecipientSent, nil
	case RecipientFailed:
		return RecipientFailed, nil
	}
	return "", fmt.Errorf("unknown recipient status %q", s)
}

// Recipient joins one campaign to one contact and tracks its delivery.
type Recipient struct {
	ID         string          `json:"id" db:"id"`
	CampaignID string          `json:"campaign_id" db:"campaign_id"`
	ContactID  string          `json:"contact_id" db:"contact_id"`
	Status     RecipientStatus `json:"status" db:"status"`
	SentAt     *time.Time      `json:"sent_at" db:"sent_at"`
	MessageID  string          `json:"message_id,omitempty" db:"message_id"`
	LastError  string          `json:"last_error,omitempty" db:"last_error"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`

	Contact *Contact `json:"contact,omitempty"`
}

// Email returns the contact address, or "" when the contact is not loaded.
func (r *Recipient) Email() string {
	if r.Contact == nil {
		return ""
	}
	return r.Contact.Email
}

// CampaignStats summarizes delivery and engagement for one campaign.
type CampaignStats struct {
	CampaignID   string         `json:"campaign_id"`
	Status       CampaignStatus `json:"status"`
	Total        int            `json:"total"`
	Pending      int            `json:"pending"`
	Sent         int            `json:"sent"`
	Failed       int            `json:"failed"`
	Opens        int            `json:"opens"`
	UniqueOpens  int            `json:"unique_opens"`
	Clicks       int            `json:"clicks"`
	UniqueClicks int            `json:"unique_clicks"`
}
