package api

import (
	"context"
	"time"

	"github.com/sendquill/sendquill/internal/domain"
	"github.com/sendquill/sendquill/internal/service/campaign"
	"github.com/sendquill/sendquill/internal/service/contact"
	"github.com/sendquill/sendquill/internal/service/sending"
	"github.com/sendquill/sendquill/internal/service/template"
)

// CampaignService is the campaign lifecycle surface the handlers use.
type CampaignService interface {
	Get(ctx context.Context, userID, id string) (*domain.Campaign, error)
	List(ctx context.Context, userID string, f campaign.ListFilter) ([]domain.Campaign, int, error)
	Create(ctx context.Context, userID string, in campaign.CreateInput) (*domain.Campaign, error)
	Update(ctx context.Context, userID, id string, u campaign.UpdateFields) (*domain.Campaign, error)
	Delete(ctx context.Context, userID, id string) error
	Schedule(ctx context.Context, userID, id string, at time.Time) (*domain.Campaign, error)
	Unschedule(ctx context.Context, userID, id string) (*domain.Campaign, error)
	Start(ctx context.Context, userID, id string) (int, error)
	Stats(ctx context.Context, userID, id string) (*domain.CampaignStats, error)
}

// ContactService manages lists and their contacts.
type ContactService interface {
	CreateList(ctx context.Context, userID string, in contact.CreateListInput) (*domain.ContactList, error)
	ListLists(ctx context.Context, userID string) ([]domain.ContactList, error)
	AddContacts(ctx context.Context, userID, listID string, in contact.AddContactsInput) (*contact.AddResult, error)
	ListContacts(ctx context.Context, userID, listID string, limit, offset int) ([]domain.Contact, int, error)
}

// TemplateService manages reusable content templates.
type TemplateService interface {
	Create(ctx context.Context, userID string, in template.CreateInput) (*domain.Template, error)
	Get(ctx context.Context, userID, id string) (*domain.Template, error)
	List(ctx context.Context, userID string) ([]domain.Template, error)
}

// CampaignSender runs delivery for a SENDING or finished campaign.
type CampaignSender interface {
	Process(ctx context.Context, userID, campaignID, accessToken string) (*sending.Result, error)
	Resend(ctx context.Context, userID, campaignID, recipientID, accessToken string) (*sending.Result, error)
	ResendFailed(ctx context.Context, userID, campaignID, accessToken string) (*sending.Result, error)
}

// TokenSource yields the mail provider access token for a user.
type TokenSource interface {
	AccessToken(ctx context.Context, userID string) (string, error)
}

var (
	_ CampaignService = (*campaign.Service)(nil)
	_ ContactService  = (*contact.Service)(nil)
	_ TemplateService = (*template.Service)(nil)
	_ CampaignSender  = (*sending.Sender)(nil)
)
