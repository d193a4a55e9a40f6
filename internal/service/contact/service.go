package contact

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/sendquill/sendquill/internal/domain"
)

// Service implements list and contact management.
type Service struct {
	repo     Repository
	validate *validator.Validate
}

// NewService creates a contact service backed by repo.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, validate: validator.New()}
}

// CreateListInput holds the fields for a new list.
type CreateListInput struct {
	Name string `json:"name" validate:"required,min=1,max=200"`
}

// ContactInput is one contact to add. Fields is the personalization bag.
type ContactInput struct {
	Email  string         `json:"email" validate:"required,email"`
	Fields map[string]any `json:"fields"`
}

// AddContactsInput is a batch of contacts for one list.
type AddContactsInput struct {
	Contacts []ContactInput `json:"contacts" validate:"required,min=1,max=5000,dive"`
}

// AddResult reports how many contacts were stored and how many were
// dropped as duplicates.
type AddResult struct {
	Added   int `json:"added"`
	Skipped int `json:"skipped"`
}

// CreateList creates an empty list.
func (s *Service) CreateList(ctx context.Context, userID string, in CreateListInput) (*domain.ContactList, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	l := &domain.ContactList{
		ID:        uuid.New().String(),
		UserID:    userID,
		Name:      strings.TrimSpace(in.Name),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.CreateList(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}

// ListLists returns the user's lists with contact counts.
func (s *Service) ListLists(ctx context.Context, userID string) ([]domain.ContactList, error) {
	return s.repo.ListLists(ctx, userID)
}

// GetList returns a list owned by userID.
func (s *Service) GetList(ctx context.Context, userID, id string) (*domain.ContactList, error) {
	l, err := s.repo.GetList(ctx, id)
	if err != nil {
		return nil, err
	}
	if l.UserID != userID {
		return nil, ErrForbidden
	}
	return l, nil
}

// AddContacts stores contacts in a list. Duplicate emails within the batch
// or already in the list are skipped.
func (s *Service) AddContacts(ctx context.Context, userID, listID string, in AddContactsInput) (*AddResult, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if _, err := s.GetList(ctx, userID, listID); err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(in.Contacts))
	now := time.Now().UTC()
	var batch []domain.Contact
	for _, ci := range in.Contacts {
		email := strings.TrimSpace(ci.Email)
		key := strings.ToLower(email)
		if seen[key] {
			continue
		}
		seen[key] = true

		fields := ci.Fields
		if fields == nil {
			fields = map[string]any{}
		}
		raw, err := json.Marshal(fields)
		if err != nil {
			return nil, fmt.Errorf("%w: fields for %s: %v", ErrInvalidInput, email, err)
		}
		batch = append(batch, domain.Contact{
			ID:        uuid.New().String(),
			ListID:    listID,
			Email:     email,
			Fields:    raw,
			CreatedAt: now,
		})
	}

	n, err := s.repo.AddContacts(ctx, listID, batch)
	if err != nil {
		return nil, err
	}
	return &AddResult{Added: n, Skipped: len(in.Contacts) - n}, nil
}

// ListContacts pages through a list's contacts.
func (s *Service) ListContacts(ctx context.Context, userID, listID string, limit, offset int) ([]domain.Contact, int, error) {
	if _, err := s.GetList(ctx, userID, listID); err != nil {
		return nil, 0, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListContacts(ctx, listID, limit, offset)
}
