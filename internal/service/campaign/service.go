package campaign

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/sendquill/sendquill/internal/domain"
	"github.com/sendquill/sendquill/internal/pkg/logger"
)

// Service implements campaign business logic. All user-facing methods check
// that the acting user owns the campaign.
type Service struct {
	repo     Repository
	validate *validator.Validate
	now      func() time.Time
}

// NewService creates a campaign service backed by the given repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, validate: validator.New(), now: time.Now}
}

// CreateInput holds the fields for creating a new campaign.
type CreateInput struct {
	Name       string   `json:"name" validate:"required,min=1,max=200"`
	Subject    string   `json:"subject" validate:"required,min=1,max=998"`
	Content    string   `json:"content"`
	TemplateID string   `json:"template_id" validate:"omitempty,uuid"`
	ListIDs    []string `json:"list_ids" validate:"omitempty,dive,uuid"`
}

// Get returns a campaign owned by userID.
func (s *Service) Get(ctx context.Context, userID, id string) (*domain.Campaign, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.UserID != userID {
		return nil, ErrForbidden
	}
	return c, nil
}

// List returns the user's campaigns matching the filter.
func (s *Service) List(ctx context.Context, userID string, f ListFilter) ([]domain.Campaign, int, error) {
	if f.Status != "" {
		st, err := domain.ParseCampaignStatus(f.Status)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		f.Status = string(st)
	}
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return s.repo.List(ctx, userID, f)
}

// Create validates and persists a new campaign in DRAFT status.
func (s *Service) Create(ctx context.Context, userID string, input CreateInput) (*domain.Campaign, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	var templateID *string
	if input.TemplateID != "" {
		templateID = &input.TemplateID
	}
	if err := s.checkReferences(ctx, userID, templateID, input.ListIDs); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	c := &domain.Campaign{
		ID:        uuid.New().String(),
		UserID:    userID,
		Name:      input.Name,
		Subject:   input.Subject,
		Content:   input.Content,
		Status:     domain.CampaignDraft,
		TemplateID: templateID,
		ListIDs:    input.ListIDs,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.repo.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Update modifies mutable fields of a DRAFT or SCHEDULED campaign.
func (s *Service) Update(ctx context.Context, userID, id string, u UpdateFields) (*domain.Campaign, error) {
	if err := s.validate.Struct(u); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	c, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if !c.IsEditable() {
		return nil, ErrNotEditable
	}
	var listIDs []string
	if u.ListIDs != nil {
		listIDs = *u.ListIDs
	}
	var templateID *string
	if u.TemplateID != nil && *u.TemplateID != "" {
		templateID = u.TemplateID
	}
	if err := s.checkReferences(ctx, userID, templateID, listIDs); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, id, u); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

// checkReferences requires the template and every list to belong to userID.
func (s *Service) checkReferences(ctx context.Context, userID string, templateID *string, listIDs []string) error {
	if templateID != nil {
		owner, err := s.repo.TemplateOwner(ctx, *templateID)
		if err != nil {
			if errors.Is(err, ErrUnknownReference) {
				return fmt.Errorf("template %s: %w", *templateID, err)
			}
			return fmt.Errorf("look up template: %w", err)
		}
		if owner != userID {
			return fmt.Errorf("template %s: %w", *templateID, ErrForbidden)
		}
	}
	if len(listIDs) == 0 {
		return nil
	}
	owners, err := s.repo.ListOwners(ctx, listIDs)
	if err != nil {
		return fmt.Errorf("look up lists: %w", err)
	}
	for _, id := range listIDs {
		owner, ok := owners[id]
		if !ok {
			return fmt.Errorf("list %s: %w", id, ErrUnknownReference)
		}
		if owner != userID {
			return fmt.Errorf("list %s: %w", id, ErrForbidden)
		}
	}
	return nil
}

// Delete removes a DRAFT campaign.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	c, err := s.Get(ctx, userID, id)
	if err != nil {
		return err
	}
	if c.Status != domain.CampaignDraft {
		return ErrNotEditable
	}
	return s.repo.Delete(ctx, id)
}

// Schedule sets a future send time.
func (s *Service) Schedule(ctx context.Context, userID, id string, at time.Time) (*domain.Campaign, error) {
	c, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if !at.After(s.now()) {
		return nil, ErrScheduleInPast
	}
	if !c.IsEditable() {
		return nil, fmt.Errorf("schedule %s campaign: %w", c.Status, ErrInvalidTransition)
	}
	if len(c.ListIDs) == 0 {
		return nil, ErrMissingList
	}
	if err := s.repo.Schedule(ctx, id, at.UTC()); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

// Unschedule returns a SCHEDULED campaign to DRAFT.
func (s *Service) Unschedule(ctx context.Context, userID, id string) (*domain.Campaign, error) {
	c, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if !domain.CanTransition(c.Status, domain.CampaignDraft) {
		return nil, fmt.Errorf("unschedule %s campaign: %w", c.Status, ErrInvalidTransition)
	}
	if err := s.repo.Unschedule(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

// Start moves a campaign into SENDING and creates its recipients. Returns
// the number of recipients enqueued.
func (s *Service) Start(ctx context.Context, userID, id string) (int, error) {
	c, err := s.Get(ctx, userID, id)
	if err != nil {
		return 0, err
	}
	if !domain.CanTransition(c.Status, domain.CampaignSending) {
		return 0, fmt.Errorf("start %s campaign: %w", c.Status, ErrInvalidTransition)
	}
	if len(c.ListIDs) == 0 {
		return 0, ErrMissingList
	}

	if err := s.repo.StartSending(ctx, id); err != nil {
		return 0, fmt.Errorf("transition to sending: %w", err)
	}

	n, err := s.repo.EnqueueRecipients(ctx, id)
	if err != nil {
		if rbErr := s.repo.SetStatus(ctx, id, domain.CampaignFailed); rbErr != nil {
			logger.Error("rollback to FAILED failed", "campaign_id", id, "error", rbErr)
		}
		return 0, fmt.Errorf("enqueue recipients: %w", err)
	}

	logger.Info("campaign started", "campaign_id", id, "recipients", n)
	return n, nil
}

// Stats reports delivery counts and engagement for a campaign.
func (s *Service) Stats(ctx context.Context, userID, id string) (*domain.CampaignStats, error) {
	c, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	counts, err := s.repo.CountRecipientsByStatus(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("count recipients: %w", err)
	}
	events, err := s.repo.EventCounts(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}

	st := &domain.CampaignStats{
		CampaignID:   id,
		Status:       c.Status,
		Pending:      counts[domain.RecipientPending],
		Sent:         counts[domain.RecipientSent],
		Failed:       counts[domain.RecipientFailed],
		Opens:        events.Opens,
		UniqueOpens:  events.UniqueOpens,
		Clicks:       events.Clicks,
		UniqueClicks: events.UniqueClicks,
	}
	st.Total = st.Pending + st.Sent + st.Failed
	return st, nil
}

// DueScheduled lists SCHEDULED campaigns whose send time has passed.
func (s *Service) DueScheduled(ctx context.Context, limit int) ([]domain.Campaign, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.repo.DueScheduled(ctx, s.now().UTC(), limit)
}

// IsInvalidInput reports whether err came from request validation.
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrScheduleInPast) ||
		errors.Is(err, ErrUnknownReference)
}
